// Package correlator matches engine responses to the requests that produced them.
package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	tally "github.com/uber-go/tally/v4"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"github.com/uber/lsp-bridge/src/bridge/internal/framing"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

const _firstRequestID = 1

// Result is the outcome of a single engine request.
type Result struct {
	Value json.RawMessage
	Err   error
}

// Handler receives engine-initiated messages that are not responses.
type Handler interface {
	HandleNotification(ctx context.Context, n *jsonrpc2.Notification)
	HandleCall(ctx context.Context, c *jsonrpc2.Call)
}

type pending struct {
	method   string
	issuedAt time.Time
	deadline time.Time
	slot     chan Result
}

// Correlator tracks in-flight requests for one engine session.
type Correlator struct {
	mu      sync.Mutex
	pending map[jsonrpc2.ID]*pending
	nextID  int32
	closed  error

	logger *zap.SugaredLogger
	stats  tally.Scope
}

// New creates an empty Correlator. Request ids start at 1 and increase by one per Register.
func New(logger *zap.SugaredLogger, stats tally.Scope) *Correlator {
	return &Correlator{
		pending: make(map[jsonrpc2.ID]*pending),
		nextID:  _firstRequestID,
		logger:  logger,
		stats:   stats,
	}
}

// Register assigns a fresh id to a request and returns the slot its result will be delivered on.
func (c *Correlator) Register(method string, deadline time.Time) (jsonrpc2.ID, <-chan Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed != nil {
		return jsonrpc2.ID{}, nil, c.closed
	}

	id := jsonrpc2.NewNumberID(c.nextID)
	c.nextID++

	p := &pending{
		method:   method,
		issuedAt: time.Now(),
		deadline: deadline,
		slot:     make(chan Result, 1),
	}
	c.pending[id] = p
	c.updateGauge()
	return id, p.slot, nil
}

// Resolve delivers a result to the waiter for id. It reports false when no such request is outstanding.
func (c *Correlator) Resolve(id jsonrpc2.ID, res Result) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		c.updateGauge()
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	c.stats.Timer("request_latency").Record(time.Since(p.issuedAt))
	p.slot <- res
	return true
}

// Remove forgets the request for id without delivering anything.
func (c *Correlator) Remove(id jsonrpc2.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	c.updateGauge()
	return true
}

// FailAll delivers err to every outstanding request and rejects later registrations with the same error.
// It returns the number of requests that were failed.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed == nil {
		c.closed = err
	}
	n := len(c.pending)
	for id, p := range c.pending {
		p.slot <- Result{Err: err}
		delete(c.pending, id)
	}
	c.updateGauge()
	return n
}

// Len returns the number of outstanding requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Method returns the method of an outstanding request.
func (c *Correlator) Method(id jsonrpc2.ID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return "", false
	}
	return p.method, true
}

// Await blocks until the result for id arrives, the timeout passes or ctx is done.
// A request that times out is removed, so a later response for it is dropped.
func (c *Correlator) Await(ctx context.Context, id jsonrpc2.ID, slot <-chan Result, timeout time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-slot:
		return res.Value, res.Err
	case <-timer.C:
		if c.Remove(id) {
			c.stats.Counter("request_timeouts").Inc(1)
			return nil, bridgeerrors.New(bridgeerrors.KindEngineTimeout, "request %v timed out after %s", id, timeout)
		}
	case <-ctx.Done():
		if c.Remove(id) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				c.stats.Counter("request_timeouts").Inc(1)
				return nil, bridgeerrors.Wrap(bridgeerrors.KindEngineTimeout, ctx.Err(), "request %v", id)
			}
			return nil, bridgeerrors.Wrap(bridgeerrors.KindInternal, ctx.Err(), "request %v abandoned", id)
		}
	}

	// Resolved concurrently with the timeout; the slot already holds the value.
	res := <-slot
	return res.Value, res.Err
}

// Serve reads messages until the stream fails and routes each one.
// It returns io.EOF when the engine closes its output between frames.
func (c *Correlator) Serve(ctx context.Context, r *framing.Reader, h Handler) error {
	for {
		msg, err := r.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warnf("engine stream failed: %v", err)
			}
			return err
		}
		c.Route(ctx, msg, h)
	}
}

// Route handles a single decoded engine message.
func (c *Correlator) Route(ctx context.Context, msg jsonrpc2.Message, h Handler) {
	switch m := msg.(type) {
	case *jsonrpc2.Response:
		res := Result{Value: m.Result()}
		if m.Err() != nil {
			res.Err = toEngineError(m.Err())
		}
		if !c.Resolve(m.ID(), res) {
			c.stats.Counter("orphan_responses").Inc(1)
			c.logger.Warnf("dropping response for unknown request %v", m.ID())
		}
	case *jsonrpc2.Notification:
		h.HandleNotification(ctx, m)
	case *jsonrpc2.Call:
		h.HandleCall(ctx, m)
	}
}

func (c *Correlator) updateGauge() {
	c.stats.Gauge("pending_requests").Update(float64(len(c.pending)))
}

func toEngineError(err error) error {
	var wireErr *jsonrpc2.Error
	if errors.As(err, &wireErr) {
		return &bridgeerrors.BridgeError{
			Kind:    bridgeerrors.KindEngineError,
			Code:    int64(wireErr.Code),
			Message: wireErr.Message,
		}
	}
	return &bridgeerrors.BridgeError{
		Kind:    bridgeerrors.KindEngineError,
		Code:    int64(jsonrpc2.UnknownError),
		Message: err.Error(),
	}
}
