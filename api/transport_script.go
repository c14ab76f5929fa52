package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/raine/dailymotion-go/diag"
	"github.com/raine/dailymotion-go/qs"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxScriptURLLength is the longest URL the script transport may request.
	MaxScriptURLLength = 2000

	DefaultScriptTimeout = 5 * time.Second

	callbackPrefix = "DM.ApiServer._callbacks."

	// maxScriptFanOut bounds concurrent requests when a batch is sent as
	// individual script calls.
	maxScriptFanOut = 4
)

// ScriptTransport is the fallback for environments where the batch endpoint
// cannot be reached. Every call is a GET carrying the method as a parameter,
// and the JSON response comes back wrapped in a call to a named callback.
type ScriptTransport struct {
	httpClient *resty.Client
	root       string
	timeout    time.Duration
	diag       *diag.Diag
}

type ScriptOption func(*ScriptTransport)

func WithScriptTimeout(d time.Duration) ScriptOption {
	return func(t *ScriptTransport) {
		t.timeout = d
	}
}

func NewScriptTransport(apiRoot string, client *http.Client, d *diag.Diag, opts ...ScriptOption) *ScriptTransport {
	t := &ScriptTransport{
		httpClient: newResty(client),
		root:       strings.TrimSuffix(apiRoot, "/") + "/",
		timeout:    DefaultScriptTimeout,
		diag:       d,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *ScriptTransport) Name() string { return "script" }

// Check rejects requests whose URL would exceed MaxScriptURLLength.
func (t *ScriptTransport) Check(req Request, token string) error {
	_, err := t.url(req, token, callbackName())
	return err
}

func (t *ScriptTransport) url(req Request, token, callback string) (string, error) {
	params := qs.Flatten(withToken(req.Params, token))
	params["method"] = req.Method
	params["callback"] = callback

	sep := "?"
	if strings.Contains(req.Path, "?") {
		sep = "&"
	}
	u := t.root + req.Path + sep + qs.Encode(params)
	if len(u) > MaxScriptURLLength {
		return "", fmt.Errorf("%w: script transport supports at most %d bytes of url, got %d",
			ErrInvalidArgument, MaxScriptURLLength, len(u))
	}
	return u, nil
}

func (t *ScriptTransport) Simple(ctx context.Context, req Request, token string) Outcome {
	callback := callbackName()
	u, err := t.url(req, token, callback)
	if err != nil {
		return Outcome{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	res, err := t.httpClient.R().
		SetContext(ctx).
		SetHeader("Accept", "application/javascript").
		Get(u)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Outcome{Err: transportError("script request timed out after %s", t.timeout)}
		}
		return Outcome{Err: transportError("script request failed: %v", err)}
	}

	body, ok := unwrapCallback(res.Body(), callback)
	if !ok {
		t.diag.Errorf("script response for %s is not wrapped in its callback", req.Path)
		_, statusErr := handleError(res, nil)
		if statusErr != nil {
			return Outcome{Err: transportError("%v", statusErr)}
		}
		return Outcome{Err: transportError("invalid script response")}
	}
	return singleOutcome(body, nil)
}

// Batch sends each request as its own script call.
func (t *ScriptTransport) Batch(ctx context.Context, reqs []Request, token string) []Outcome {
	out := make([]Outcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(maxScriptFanOut)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			out[i] = t.Simple(ctx, req, token)
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func unwrapCallback(body []byte, callback string) ([]byte, bool) {
	body = bytes.TrimSpace(body)
	body = bytes.TrimSuffix(body, []byte(";"))
	body = bytes.TrimSpace(body)

	prefix := []byte(callback + "(")
	if !bytes.HasPrefix(body, prefix) || !bytes.HasSuffix(body, []byte(")")) {
		return nil, false
	}
	return body[len(prefix) : len(body)-1], true
}

func callbackName() string {
	return callbackPrefix + "f" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
