package relay

import (
	"fmt"
	"time"

	"github.com/relink-protocol/relink-go/pkg/log"
	"github.com/relink-protocol/relink-go/pkg/wire"
)

// touchInbound records that a frame of any kind arrived. The watchdog only
// cares about transport activity, not about what the frame contained.
func (c *Client) touchInbound() {
	c.lastInbound.Store(time.Now().UnixNano())
}

// startLivenessLocked spawns the heartbeat and watchdog loop for the
// current transport. Callers must hold c.mu.
func (c *Client) startLivenessLocked() {
	c.stopLivenessLocked()
	stop := make(chan struct{})
	c.livenessStop = stop
	c.lastInbound.Store(time.Now().UnixNano())
	go c.livenessLoop(stop)
}

// stopLivenessLocked stops the liveness loop if running. Callers must hold
// c.mu.
func (c *Client) stopLivenessLocked() {
	if c.livenessStop != nil {
		close(c.livenessStop)
		c.livenessStop = nil
	}
}

func (c *Client) livenessLoop(stop <-chan struct{}) {
	heartbeat := time.NewTicker(c.config.HeartbeatInterval)
	defer heartbeat.Stop()
	watchdog := time.NewTicker(c.config.WatchdogInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-heartbeat.C:
			c.sendHeartbeat()
		case <-watchdog.C:
			silence := time.Since(time.Unix(0, c.lastInbound.Load()))
			if silence <= c.config.SilenceThreshold {
				continue
			}
			err := fmt.Errorf("%w: no inbound traffic for %s", ErrNetwork, silence.Round(time.Second))
			c.logger.Warn("watchdog detected dead connection",
				"peer", c.config.PeerID,
				"silence", silence.Round(time.Second))
			c.logError(log.LayerSession, err.Error(), "", "watchdog")
			c.handleTransportFailure(err)
			return
		case <-stop:
			return
		}
	}
}

func (c *Client) sendHeartbeat() {
	env := wire.Heartbeat()
	data, err := wire.Encode(env)
	if err != nil {
		return
	}
	c.logEnvelope(log.DirectionOut, env, len(data))
	if err := c.deliver(env, data); err != nil {
		c.logger.Debug("heartbeat send failed",
			"peer", c.config.PeerID,
			"error", err)
	}
}
