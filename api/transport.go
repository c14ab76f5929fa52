package api

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/raine/dailymotion-go/config"
	"github.com/raine/dailymotion-go/diag"
	"github.com/raine/dailymotion-go/metrics"
)

const UserAgent = "dailymotion-go/1.0"

// Request is a single API call with its parameters already formatted.
type Request struct {
	Path   string
	Method string
	Params map[string]any
}

// Outcome is the result delivered for one call: the decoded JSON result, or
// an error (*Error for server and transport errors).
type Outcome struct {
	Result json.RawMessage
	Err    error
}

// Transport sends API calls. Batch returns one outcome per request, in the
// same order.
type Transport interface {
	Name() string
	Simple(ctx context.Context, req Request, token string) Outcome
	Batch(ctx context.Context, reqs []Request, token string) []Outcome
	// Check reports requests the transport can never send.
	Check(req Request, token string) error
}

// Selector decides once which transport the client uses. In auto mode the
// decision is made at first use by calling the echo endpoint through the
// batch transport: success selects it, failure falls back to script.
type Selector struct {
	mode   string
	batch  Transport
	script Transport
	diag   *diag.Diag

	once   sync.Once
	mu     sync.Mutex
	chosen Transport
}

func NewSelector(mode string, batch, script Transport, d *diag.Diag) *Selector {
	s := &Selector{mode: mode, batch: batch, script: script, diag: d}
	switch mode {
	case config.TransportBatch:
		s.choose(batch)
	case config.TransportScript:
		s.choose(script)
	}
	return s
}

// Transport returns the selected transport, probing first when needed.
func (s *Selector) Transport(ctx context.Context) Transport {
	s.once.Do(func() {
		if _, ok := s.Selected(); !ok {
			s.choose(s.probe(ctx))
		}
	})
	t, _ := s.Selected()
	return t
}

// Selected returns the transport if the choice has been made.
func (s *Selector) Selected() (Transport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chosen, s.chosen != nil
}

func (s *Selector) choose(t Transport) {
	s.mu.Lock()
	s.chosen = t
	s.mu.Unlock()
	metrics.TransportSelected.WithLabelValues(t.Name()).Set(1)
}

func (s *Selector) probe(ctx context.Context) Transport {
	out := s.batch.Simple(ctx, Request{
		Path:   "echo",
		Method: "get",
		Params: map[string]any{"message": "ping"},
	}, "")
	if out.Err != nil {
		s.diag.Logf("batch transport unavailable, using script transport: %v", out.Err)
		return s.script
	}
	s.diag.Log("using batch transport")
	return s.batch
}
