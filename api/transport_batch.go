package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/raine/dailymotion-go/diag"
	"github.com/raine/dailymotion-go/metrics"
	"github.com/raine/dailymotion-go/qs"
)

// BatchTransport talks to the API over plain HTTP. Batches are POSTed to the
// API root as a JSON array of calls.
type BatchTransport struct {
	httpClient *resty.Client
	diag       *diag.Diag
}

type batchEntry struct {
	Call string         `json:"call"`
	Args map[string]any `json:"args"`
	ID   int            `json:"id"`
}

type batchResponse struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// NewBatchTransport creates a transport for the API at apiRoot. client may be
// nil.
func NewBatchTransport(apiRoot string, client *http.Client, d *diag.Diag) *BatchTransport {
	return &BatchTransport{
		httpClient: newResty(client).SetBaseURL(strings.TrimSuffix(apiRoot, "/")),
		diag:       d,
	}
}

func newResty(client *http.Client) *resty.Client {
	r := resty.New()
	if client != nil {
		r = resty.NewWithClient(client)
	}
	return r.
		SetDebug(false).
		SetHeaders(map[string]string{
			"Accept":     "application/json",
			"User-Agent": UserAgent,
		})
}

func (t *BatchTransport) Name() string { return "batch" }

func (t *BatchTransport) Check(Request, string) error { return nil }

func (t *BatchTransport) Simple(ctx context.Context, req Request, token string) Outcome {
	params := withToken(req.Params, token)

	res, err := t.httpClient.R().
		SetContext(ctx).
		SetQueryString(qs.Encode(params)).
		Execute(strings.ToUpper(req.Method), "/"+req.Path)
	if err != nil {
		return Outcome{Err: transportError("%s /%s: %v", strings.ToUpper(req.Method), req.Path, err)}
	}
	_, statusErr := handleError(res, nil)
	return singleOutcome(res.Body(), statusErr)
}

func (t *BatchTransport) Batch(ctx context.Context, reqs []Request, token string) []Outcome {
	entries := make([]batchEntry, len(reqs))
	for i, req := range reqs {
		entries[i] = batchEntry{
			Call: strings.ToUpper(req.Method) + " /" + req.Path,
			Args: req.Params,
			ID:   i,
		}
	}

	r := t.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(entries)
	if token != "" {
		r.SetQueryParam("access_token", token)
	}

	res, err := r.Post("/")
	if err != nil {
		return fill(len(reqs), Outcome{Err: transportError("batch request failed: %v", err)})
	}
	_, statusErr := handleError(res, nil)
	return demux(res.Body(), statusErr, len(reqs), t.diag)
}

// demux matches the entries of a batch response to the n calls that produced
// it. Every call gets exactly one outcome: unknown or repeated ids are
// skipped, and calls the response never mentions get a transport error.
func demux(body []byte, statusErr error, n int, d *diag.Diag) []Outcome {
	var entries []batchResponse
	if err := json.Unmarshal(body, &entries); err != nil {
		var global map[string]json.RawMessage
		if json.Unmarshal(body, &global) == nil {
			if raw, ok := global["error"]; ok {
				return fill(n, Outcome{Err: parseError(raw)})
			}
		}
		if statusErr != nil {
			return fill(n, Outcome{Err: transportError("%v", statusErr)})
		}
		d.Errorf("unparsable batch response: %v", err)
		return fill(n, Outcome{Err: transportError("invalid batch response")})
	}

	out := make([]Outcome, n)
	seen := make([]bool, n)
	for _, entry := range entries {
		if entry.ID == nil || *entry.ID < 0 || *entry.ID >= n {
			metrics.ResponseErrorsTotal.WithLabelValues("protocol").Inc()
			d.Error("batch response entry with an unknown id")
			continue
		}
		id := *entry.ID
		if seen[id] {
			metrics.ResponseErrorsTotal.WithLabelValues("protocol").Inc()
			d.Errorf("batch response entry %d received twice", id)
			continue
		}
		seen[id] = true

		switch {
		case entry.Error != nil:
			out[id] = Outcome{Err: parseError(entry.Error)}
		case entry.Result != nil:
			out[id] = Outcome{Result: entry.Result}
		default:
			d.Errorf("batch response entry %d has neither result nor error", id)
			out[id] = Outcome{Err: transportError("response has neither result nor error")}
		}
	}

	for id := range out {
		if !seen[id] {
			metrics.ResponseErrorsTotal.WithLabelValues("protocol").Inc()
			d.Errorf("batch response has no entry for call %d", id)
			out[id] = Outcome{Err: transportError("no response for call %d", id)}
		}
	}
	return out
}

// singleOutcome decodes the response to a single call.
func singleOutcome(body []byte, statusErr error) Outcome {
	if !json.Valid(body) {
		if statusErr != nil {
			return Outcome{Err: transportError("%v", statusErr)}
		}
		return Outcome{Err: transportError("invalid JSON response")}
	}

	var obj map[string]json.RawMessage
	if json.Unmarshal(body, &obj) == nil {
		if raw, ok := obj["error"]; ok {
			return Outcome{Err: parseError(raw)}
		}
	}
	if statusErr != nil {
		return Outcome{Err: transportError("%v", statusErr)}
	}
	return Outcome{Result: json.RawMessage(body)}
}

// handleError is a generic error handler for failing response (>399 status
// code). Without this, failing responses would have nil error.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, err
	}
	if res.IsError() {
		return res, fmt.Errorf("request failed: %s %s (status: %d)", res.Request.Method, res.Request.URL, res.StatusCode())
	}
	return res, nil
}

func withToken(params map[string]any, token string) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	if _, ok := out["access_token"]; !ok && token != "" {
		out["access_token"] = token
	}
	return out
}

func fill(n int, o Outcome) []Outcome {
	out := make([]Outcome, n)
	for i := range out {
		out[i] = o
	}
	return out
}
