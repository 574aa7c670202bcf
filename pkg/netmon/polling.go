package netmon

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPollInterval is how often the polling monitor samples the
// interface table.
const DefaultPollInterval = 5 * time.Second

// PollingMonitor derives a coarse path status from the host's interface
// table at a fixed interval.
//
// It cannot distinguish Wi-Fi from cellular the way a platform framework
// can, but interface-name changes (en0 to pdp_ip0, wlan0 to rmnet0) still
// surface as InterfaceChanged events.
type PollingMonitor struct {
	inner    *StaticMonitor
	interval time.Duration
	probe    func() PathStatus

	startOnce sync.Once
	started   atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}
	done      chan struct{}
}

var _ Monitor = (*PollingMonitor)(nil)

// NewPollingMonitor creates a polling monitor. A zero interval uses
// DefaultPollInterval.
func NewPollingMonitor(interval time.Duration) *PollingMonitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	m := &PollingMonitor{
		interval: interval,
		probe:    probeSystem,
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.inner = NewStaticMonitor(m.probe())
	return m
}

// Status returns the most recently sampled path status.
func (m *PollingMonitor) Status() PathStatus {
	return m.inner.Status()
}

// Events registers a new subscriber.
func (m *PollingMonitor) Events() <-chan Event {
	return m.inner.Events()
}

// Start begins sampling. It returns immediately.
func (m *PollingMonitor) Start() {
	m.startOnce.Do(func() {
		m.started.Store(true)
		go m.loop()
	})
}

// Close stops sampling and closes all subscriber channels.
func (m *PollingMonitor) Close() {
	m.closeOnce.Do(func() {
		close(m.closeCh)
	})
	if m.started.Load() {
		<-m.done
	}
	m.inner.Close()
}

func (m *PollingMonitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.inner.Set(m.probe())
		case <-m.closeCh:
			return
		}
	}
}

// ifaceInfo is the subset of interface state the picker needs.
type ifaceInfo struct {
	name     string
	up       bool
	loopback bool
	hasAddr  bool
}

// pickInterface selects the active interface from the table. Preference
// order is wired, then wireless, then anything else that is up with an
// address.
func pickInterface(ifaces []ifaceInfo) (string, bool) {
	best := ""
	bestRank := -1
	for _, ifc := range ifaces {
		if !ifc.up || ifc.loopback || !ifc.hasAddr {
			continue
		}
		rank := interfaceRank(ifc.name)
		if rank > bestRank {
			best = ifc.name
			bestRank = rank
		}
	}
	return best, best != ""
}

func interfaceRank(name string) int {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "eth"), strings.HasPrefix(lower, "en"):
		return 3
	case strings.HasPrefix(lower, "wlan"), strings.HasPrefix(lower, "wl"), strings.HasPrefix(lower, "wifi"):
		return 2
	case strings.HasPrefix(lower, "pdp"), strings.HasPrefix(lower, "rmnet"), strings.HasPrefix(lower, "wwan"):
		return 1
	default:
		return 0
	}
}

func probeSystem() PathStatus {
	sysIfaces, err := net.Interfaces()
	if err != nil {
		return PathStatus{}
	}

	infos := make([]ifaceInfo, 0, len(sysIfaces))
	for _, ifc := range sysIfaces {
		info := ifaceInfo{
			name:     ifc.Name,
			up:       ifc.Flags&net.FlagUp != 0,
			loopback: ifc.Flags&net.FlagLoopback != 0,
		}
		if addrs, err := ifc.Addrs(); err == nil && len(addrs) > 0 {
			info.hasAddr = true
		}
		infos = append(infos, info)
	}

	name, usable := pickInterface(infos)
	return PathStatus{Usable: usable, Interface: name}
}
