package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relink-protocol/relink-go/pkg/log"
	"github.com/relink-protocol/relink-go/pkg/wire"
)

// callResponseBuffer is the per-call response channel capacity. A consumer
// this far behind loses intermediate responses rather than stalling the
// read pump.
const callResponseBuffer = 32

// mutatingPrefixes mark methods that change state on the peer. Such calls
// get an idempotency key so the peer can deduplicate retried deliveries.
var mutatingPrefixes = []string{"create", "update", "delete", "set", "sync", "kill", "start"}

func isMutatingMethod(method string) bool {
	m := strings.ToLower(method)
	for _, p := range mutatingPrefixes {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	return false
}

// pendingCall tracks one in-flight relayed call. Delivery and termination
// are serialized by the client's pending-call lock; the terminal error is
// published by closing the responses channel.
type pendingCall struct {
	correlationID string
	method        string
	startedAt     time.Time
	requestBytes  int

	responses chan *wire.RPCResponse
	timer     *time.Timer

	responseCount int
	responseBytes int
	termErr       error
}

// CallStream is the response stream of an Invoke. Streams are finite: the
// peer's final response, the call timeout, a connection loss or Close ends
// the stream, after which Next keeps returning the terminal error.
type CallStream struct {
	client *Client
	pc     *pendingCall
}

// CorrelationID returns the identifier linking this call's responses.
func (s *CallStream) CorrelationID() string {
	return s.pc.correlationID
}

// Method returns the RPC method of the call.
func (s *CallStream) Method() string {
	return s.pc.method
}

// Next returns the next response. It returns io.EOF after the final
// response has been consumed or the stream was closed, ErrTimeout when the
// call deadline expired, and ErrDisconnected when the connection dropped
// mid-call.
func (s *CallStream) Next(ctx context.Context) (*wire.RPCResponse, error) {
	select {
	case resp, ok := <-s.pc.responses:
		if !ok {
			return nil, s.pc.termErr
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close cancels the call and releases its correlation slot. Responses
// arriving after Close are discarded. Close is idempotent.
func (s *CallStream) Close() error {
	s.client.cancelCall(s.pc.correlationID)
	return nil
}

// Invoke sends an RPC request to the peer and returns the response stream.
// A zero timeout uses the configured default. Invoke waits a bounded time
// for the connection to become usable; an empty correlation id is filled in,
// and methods with a mutating prefix get a fresh idempotency key.
func (c *Client) Invoke(ctx context.Context, req wire.RPCRequest, timeout time.Duration) (*CallStream, error) {
	if req.Method == "" {
		return nil, fmt.Errorf("%w: missing method", ErrEncoding)
	}
	if timeout <= 0 {
		timeout = c.config.CallTimeout
	}

	if err := c.waitUsable(ctx); err != nil {
		return nil, err
	}

	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	if req.IdempotencyKey == "" && isMutatingMethod(req.Method) {
		req.IdempotencyKey = uuid.NewString()
	}

	env, err := wire.NewRelay(wire.RelayPayload{
		TargetDeviceID: c.config.PeerID,
		Request:        req,
		UserID:         c.currentUserID(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	data, err := wire.Encode(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	pc := &pendingCall{
		correlationID: req.CorrelationID,
		method:        req.Method,
		startedAt:     time.Now(),
		requestBytes:  len(data),
		responses:     make(chan *wire.RPCResponse, callResponseBuffer),
	}
	c.pendingMu.Lock()
	c.pending[pc.correlationID] = pc
	c.pendingMu.Unlock()
	pc.timer = time.AfterFunc(timeout, func() {
		c.expireCall(pc.correlationID)
	})

	c.logEnvelope(log.DirectionOut, env, len(data))
	// A send failure here tears the transport down; the call then fails
	// through the disconnect path rather than an Invoke error.
	if err := c.deliver(env, data); err != nil {
		c.logger.Debug("call send failed",
			"peer", c.config.PeerID,
			"method", req.Method,
			"error", err)
	}

	return &CallStream{client: c, pc: pc}, nil
}

// Call sends a request and waits for its final response. Intermediate
// responses of streaming calls are discarded. A final response carrying an
// RPC error is returned along with that error.
func (c *Client) Call(ctx context.Context, method string, params any, timeout time.Duration) (*wire.RPCResponse, error) {
	stream, err := c.Invoke(ctx, wire.RPCRequest{Method: method, Params: params}, timeout)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	for {
		resp, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if !resp.IsFinal {
			continue
		}
		if resp.Error != nil {
			return resp, resp.Error
		}
		return resp, nil
	}
}

// handleRelayResponse routes one response to its pending call. Responses
// with no matching call (typically arriving after the call expired) are
// dropped.
func (c *Client) handleRelayResponse(resp *wire.RPCResponse, frameSize int) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	pc, ok := c.pending[resp.CorrelationID]
	if !ok {
		c.logger.Debug("response without pending call",
			"peer", c.config.PeerID,
			"correlation_id", resp.CorrelationID)
		return
	}

	select {
	case pc.responses <- resp:
		pc.responseCount++
		pc.responseBytes += frameSize
	default:
		c.logError(log.LayerSession, "response dropped, stream buffer full", "", pc.method)
	}

	if resp.IsFinal {
		outcome := log.CallOutcomeResult
		if resp.Error != nil {
			outcome = log.CallOutcomeError
		}
		c.finishCallLocked(pc, outcome, io.EOF)
	}
}

// expireCall fails a call whose deadline passed.
func (c *Client) expireCall(correlationID string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	pc, ok := c.pending[correlationID]
	if !ok {
		return
	}
	c.finishCallLocked(pc, log.CallOutcomeTimeout, ErrTimeout)
}

// cancelCall releases a call slot on behalf of the caller.
func (c *Client) cancelCall(correlationID string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	pc, ok := c.pending[correlationID]
	if !ok {
		return
	}
	c.finishCallLocked(pc, log.CallOutcomeCancelled, io.EOF)
}

// failPendingCalls terminates every in-flight call with err.
func (c *Client) failPendingCalls(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for _, pc := range c.pending {
		c.finishCallLocked(pc, log.CallOutcomeDisconnected, err)
	}
}

// finishCallLocked removes the call from the pending set, records its
// terminal error and closes the stream. Callers must hold pendingMu, which
// serializes termination against response delivery.
func (c *Client) finishCallLocked(pc *pendingCall, outcome log.CallOutcome, termErr error) {
	delete(c.pending, pc.correlationID)
	if pc.timer != nil {
		pc.timer.Stop()
	}
	pc.termErr = termErr
	close(pc.responses)

	duration := time.Since(pc.startedAt)
	c.logger.Debug("call finished",
		"peer", c.config.PeerID,
		"method", pc.method,
		"outcome", outcome.String(),
		"duration", duration,
		"responses", pc.responseCount)
	c.plogEvent(log.Event{
		Direction: log.DirectionIn,
		Layer:     log.LayerSession,
		Category:  log.CategoryCall,
		Call: &log.CallEvent{
			CorrelationID: pc.correlationID,
			Method:        pc.method,
			Outcome:       outcome,
			Duration:      duration,
			RequestBytes:  pc.requestBytes,
			ResponseBytes: pc.responseBytes,
			Responses:     pc.responseCount,
		},
	})
}

// PendingCalls returns the number of calls awaiting responses.
func (c *Client) PendingCalls() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}
