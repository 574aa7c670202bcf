package netmon

import (
	"sync"
	"time"
)

// PathStatus describes the current network path.
type PathStatus struct {
	// Usable reports whether the network can carry traffic at all.
	Usable bool

	// Interface names the active interface ("wifi", "cellular", "en0").
	// Empty when no interface is active.
	Interface string
}

// Event is delivered whenever the path status changes.
type Event struct {
	// Status is the path status after the change.
	Status PathStatus

	// InterfaceChanged reports whether the active interface differs from
	// the previous status. A pure usability flap keeps it false.
	InterfaceChanged bool

	// At is when the change was observed.
	At time.Time
}

// Monitor exposes the current network path and a stream of changes.
type Monitor interface {
	// Status returns the most recently observed path status.
	Status() PathStatus

	// Events returns a channel of path changes. Each call registers a new
	// subscriber; slow subscribers miss events rather than block the
	// monitor.
	Events() <-chan Event
}

// eventChanCapacity bounds per-subscriber buffering. Subscribers that fall
// further behind than this lose events.
const eventChanCapacity = 16

// StaticMonitor is a Monitor whose status is set programmatically.
//
// The embedding application forwards its platform reachability callbacks into
// Set; tests drive it directly.
type StaticMonitor struct {
	mu     sync.Mutex
	status PathStatus
	subs   []chan Event
	closed bool
}

var _ Monitor = (*StaticMonitor)(nil)

// NewStaticMonitor creates a monitor with the given initial status.
func NewStaticMonitor(initial PathStatus) *StaticMonitor {
	return &StaticMonitor{status: initial}
}

// Status returns the current path status.
func (m *StaticMonitor) Status() PathStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Events registers a new subscriber.
func (m *StaticMonitor) Events() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Event, eventChanCapacity)
	if m.closed {
		close(ch)
		return ch
	}
	m.subs = append(m.subs, ch)
	return ch
}

// Set updates the path status and notifies subscribers of the change.
// Setting an identical status is a no-op.
func (m *StaticMonitor) Set(status PathStatus) {
	m.mu.Lock()
	if m.closed || status == m.status {
		m.mu.Unlock()
		return
	}
	prev := m.status
	m.status = status
	subs := make([]chan Event, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	ev := Event{
		Status:           status,
		InterfaceChanged: status.Interface != prev.Interface,
		At:               time.Now(),
	}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop rather than block.
		}
	}
}

// Close closes all subscriber channels. Subsequent Set calls are no-ops.
func (m *StaticMonitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}
