// Package api is the client for the Dailymotion REST API. Calls are
// collected into batches of up to ten and sent in a single round trip; each
// caller's callback is invoked exactly once with its own result.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/raine/dailymotion-go/auth"
	"github.com/raine/dailymotion-go/diag"
	"github.com/raine/dailymotion-go/metrics"
	"github.com/raine/dailymotion-go/session"
)

// MaxBatchSize is the most calls the batch endpoint accepts at once.
const MaxBatchSize = 10

// Callback receives the result of a call. err is an *Error for server and
// transport errors.
type Callback func(result json.RawMessage, err error)

// SessionSource gives the session to authenticate calls with.
type SessionSource interface {
	Peek() *session.Session
}

// Refresher renews an expired session before it is used.
type Refresher interface {
	Valid(ctx context.Context, sess *session.Session) (auth.RefreshResult, error)
}

type ClientOpts struct {
	Selector   *Selector
	Sessions   SessionSource
	Refresher  Refresher
	FlushDelay time.Duration
	Diag       *diag.Diag
}

type call struct {
	req Request
	cb  Callback
}

type Client struct {
	mu      sync.Mutex
	pending []call
	timer   *time.Timer
	closed  bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	selector   *Selector
	sessions   SessionSource
	refresher  Refresher
	flushDelay time.Duration
	diag       *diag.Diag
}

func NewClient(opts ClientOpts) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ctx:        ctx,
		cancel:     cancel,
		selector:   opts.Selector,
		sessions:   opts.Sessions,
		refresher:  opts.Refresher,
		flushDelay: opts.FlushDelay,
		diag:       opts.Diag,
	}
}

func validMethod(method string) bool {
	switch method {
	case "get", "post", "delete":
		return true
	}
	return false
}

// Enqueue schedules a call. An unknown method is reported on the diagnostic
// channel and the call is dropped without calling cb. Malformed fields or
// subrequests parameters return ErrInvalidArgument. With immediate the call
// skips batching and is sent on its own right away.
func (c *Client) Enqueue(path, method string, params Params, cb Callback, immediate bool) error {
	method = strings.ToLower(method)
	if !validMethod(method) {
		metrics.DroppedCallsTotal.WithLabelValues("invalid_method").Inc()
		c.diag.Errorf("invalid method passed to api: %q", method)
		return nil
	}
	path = strings.TrimPrefix(path, "/")

	formatted, err := formatParams(params)
	if err != nil {
		metrics.DroppedCallsTotal.WithLabelValues("invalid_argument").Inc()
		return err
	}
	req := Request{Path: path, Method: method, Params: formatted}

	if immediate {
		if t, ok := c.selector.Selected(); ok {
			if err := t.Check(req, c.currentToken()); err != nil {
				metrics.DroppedCallsTotal.WithLabelValues("invalid_argument").Inc()
				return err
			}
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if immediate {
		c.wg.Add(1)
		c.mu.Unlock()
		metrics.CallsTotal.WithLabelValues(method, "immediate").Inc()
		go func() {
			defer c.wg.Done()
			c.performSimpleCall(req, cb)
		}()
		return nil
	}

	metrics.CallsTotal.WithLabelValues(method, "batched").Inc()
	c.pending = append(c.pending, call{req: req, cb: cb})
	if len(c.pending) >= MaxBatchSize {
		batch := c.takeLocked()
		c.wg.Add(1)
		c.mu.Unlock()
		go c.send(batch)
		return nil
	}
	if c.timer == nil {
		c.timer = time.AfterFunc(c.flushDelay, c.flush)
	}
	c.mu.Unlock()
	return nil
}

// Call enqueues a call and waits for its result.
func (c *Client) Call(ctx context.Context, path, method string, params Params) (json.RawMessage, error) {
	if !validMethod(strings.ToLower(method)) {
		return nil, fmt.Errorf("%w: method %q", ErrInvalidArgument, method)
	}

	done := make(chan Outcome, 1)
	err := c.Enqueue(path, method, params, func(result json.RawMessage, err error) {
		done <- Outcome{Result: result, Err: err}
	}, false)
	if err != nil {
		return nil, err
	}

	select {
	case o := <-done:
		return o.Result, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of calls waiting for the next flush.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops the client. Calls still waiting for a flush and calls in flight
// receive a transport error. Close waits for every callback to return.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	batch := c.takeLocked()
	c.mu.Unlock()

	c.cancel()
	for _, pc := range batch {
		c.deliver(pc.cb, Outcome{Err: transportError("client closed")})
	}
	c.wg.Wait()
}

func (c *Client) flush() {
	c.mu.Lock()
	batch := c.takeLocked()
	if len(batch) == 0 {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	c.send(batch)
}

// takeLocked swaps out the pending batch and stops its timer.
func (c *Client) takeLocked() []call {
	batch := c.pending
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return batch
}

func (c *Client) send(batch []call) {
	defer c.wg.Done()

	token, err := c.token(c.ctx)
	if err != nil {
		for _, pc := range batch {
			c.deliver(pc.cb, Outcome{Err: transportError("session refresh: %v", err)})
		}
		return
	}

	t := c.selector.Transport(c.ctx)
	metrics.BatchesTotal.WithLabelValues(t.Name()).Inc()
	metrics.BatchSize.Observe(float64(len(batch)))

	reqs := make([]Request, len(batch))
	for i, pc := range batch {
		reqs[i] = pc.req
	}
	outcomes := t.Batch(c.ctx, reqs, token)
	for i, pc := range batch {
		c.deliver(pc.cb, outcomes[i])
	}
}

func (c *Client) performSimpleCall(req Request, cb Callback) {
	token, err := c.token(c.ctx)
	if err != nil {
		c.deliver(cb, Outcome{Err: transportError("session refresh: %v", err)})
		return
	}
	c.deliver(cb, c.selector.Transport(c.ctx).Simple(c.ctx, req, token))
}

// token returns the access token to send, refreshing an expired session
// first. A flush started during a refresh waits for it.
func (c *Client) token(ctx context.Context) (string, error) {
	if c.sessions == nil {
		return "", nil
	}
	sess := c.sessions.Peek()
	if sess == nil {
		return "", nil
	}
	if c.refresher != nil {
		r, err := c.refresher.Valid(ctx, sess)
		if err != nil {
			return "", err
		}
		if r.Err != nil {
			c.diag.Errorf("session refresh failed, sending without a token: %v", r.Err)
		}
		sess = r.Session
	}
	if sess == nil {
		return "", nil
	}
	return sess.AccessToken, nil
}

func (c *Client) currentToken() string {
	if c.sessions == nil {
		return ""
	}
	if sess := c.sessions.Peek(); sess != nil {
		return sess.AccessToken
	}
	return ""
}

func (c *Client) deliver(cb Callback, o Outcome) {
	if o.Err != nil {
		kind := "server"
		switch {
		case IsTransportError(o.Err):
			kind = "transport"
		case errors.Is(o.Err, ErrInvalidArgument):
			kind = "invalid_argument"
		}
		metrics.ResponseErrorsTotal.WithLabelValues(kind).Inc()
	}
	if cb != nil {
		cb(o.Result, o.Err)
	}
}
