package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Defaults for the aggressive reconnection phase.
const (
	// DefaultJitter is the maximum symmetric jitter as a fraction of the
	// base delay.
	DefaultJitter = 0.15

	// DefaultMaxAttempts bounds the aggressive phase by attempt count.
	DefaultMaxAttempts = 8

	// DefaultWindow bounds the aggressive phase by wall-clock time,
	// measured from the first attempt.
	DefaultWindow = 90 * time.Second
)

// DefaultSchedule returns the base delay table for aggressive reconnection.
// Attempts beyond the table reuse the last entry.
func DefaultSchedule() []time.Duration {
	return []time.Duration{
		0,
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
	}
}

// Config customizes the schedule. Zero values fall back to defaults.
type Config struct {
	Schedule    []time.Duration
	Jitter      float64
	MaxAttempts int
	Window      time.Duration
}

// DefaultConfig returns the standard aggressive-phase configuration.
func DefaultConfig() Config {
	return Config{
		Schedule:    DefaultSchedule(),
		Jitter:      DefaultJitter,
		MaxAttempts: DefaultMaxAttempts,
		Window:      DefaultWindow,
	}
}

// Backoff hands out table-based reconnection delays with jitter.
type Backoff struct {
	mu sync.Mutex

	schedule    []time.Duration
	jitter      float64
	maxAttempts int
	window      time.Duration

	attempts    int
	windowStart time.Time

	rng *rand.Rand
}

// New creates a backoff with the default schedule.
func New() *Backoff {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a backoff with custom settings.
func NewWithConfig(cfg Config) *Backoff {
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = DefaultSchedule()
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Backoff{
		schedule:    cfg.Schedule,
		jitter:      cfg.Jitter,
		maxAttempts: cfg.MaxAttempts,
		window:      cfg.Window,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the jittered delay for the current attempt and advances the
// attempt counter. The first call starts the wall-clock window. Returns
// false once the phase is exhausted by either bound.
func (b *Backoff) Next() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.exhaustedLocked() {
		return 0, false
	}
	if b.windowStart.IsZero() {
		b.windowStart = time.Now()
	}

	delay := b.addJitter(b.baseDelayLocked(b.attempts))
	b.attempts++
	return delay, true
}

// Peek returns the jittered delay the next Next call would hand out,
// without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addJitter(b.baseDelayLocked(b.attempts))
}

// BaseDelay returns the unjittered table entry for an attempt number.
func (b *Backoff) BaseDelay(attempt int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.baseDelayLocked(attempt)
}

// Reset clears the attempt counter and the wall-clock window. Call after a
// connection has proven stable.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
	b.windowStart = time.Time{}
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Exhausted reports whether the aggressive phase is over: the attempt cap
// was reached or the window elapsed.
func (b *Backoff) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exhaustedLocked()
}

// WindowStart returns the start of the current aggressive window, zero if
// no attempt was made since the last reset.
func (b *Backoff) WindowStart() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.windowStart
}

func (b *Backoff) exhaustedLocked() bool {
	if b.attempts >= b.maxAttempts {
		return true
	}
	if !b.windowStart.IsZero() && time.Since(b.windowStart) >= b.window {
		return true
	}
	return false
}

func (b *Backoff) baseDelayLocked(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(b.schedule) {
		attempt = len(b.schedule) - 1
	}
	return b.schedule[attempt]
}

// addJitter applies symmetric jitter: d ± d*jitter.
func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 || d <= 0 {
		return d
	}
	offset := float64(d) * b.jitter * (2*b.rng.Float64() - 1)
	return d + time.Duration(offset)
}
