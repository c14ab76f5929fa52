package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/raine/dailymotion-go/diag"
	"github.com/raine/dailymotion-go/metrics"
	"github.com/raine/dailymotion-go/session"
	"golang.org/x/oauth2"
)

// RefreshResult is what every waiter of a refresh receives. Session is the
// session to use afterwards: the renewed one, nil after a failed refresh, or
// the original one when no refresh could be attempted. Raw is the token
// endpoint's response when an exchange took place.
type RefreshResult struct {
	Session *session.Session
	Raw     map[string]any
	Err     error
}

// Coordinator renews expired sessions with the refresh_token grant. However
// many callers find the session expired at once, a single token request is
// in flight and all of them receive its result.
type Coordinator struct {
	mu       sync.Mutex
	inFlight bool
	waiters  []func(RefreshResult)

	store      *session.Store
	oauth      *oauth2.Config
	httpClient *http.Client
	ctx        context.Context
	diag       *diag.Diag
}

type CoordinatorOption func(*Coordinator)

func WithHTTPClient(client *http.Client) CoordinatorOption {
	return func(c *Coordinator) {
		c.httpClient = client
	}
}

// WithContext sets the context token requests run under.
func WithContext(ctx context.Context) CoordinatorOption {
	return func(c *Coordinator) {
		c.ctx = ctx
	}
}

func WithCoordinatorDiag(d *diag.Diag) CoordinatorOption {
	return func(c *Coordinator) {
		c.diag = d
	}
}

// NewCoordinator creates a coordinator exchanging refresh tokens at tokenURL
// with the application's key and secret.
func NewCoordinator(store *session.Store, clientID, clientSecret, tokenURL string, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store: store,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		ctx: context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureValid calls cb with a usable session. A session that has not expired
// is passed straight through on the calling goroutine. Otherwise cb waits for
// the refresh in flight, starting one if needed.
func (c *Coordinator) EnsureValid(sess *session.Session, cb func(RefreshResult)) {
	if !session.IsExpired(sess, c.store.Now()) {
		cb(RefreshResult{Session: sess})
		return
	}

	c.mu.Lock()
	c.waiters = append(c.waiters, cb)
	if c.inFlight {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	c.mu.Unlock()

	if c.oauth.ClientID == "" || c.oauth.ClientSecret == "" || sess == nil || sess.RefreshToken == "" {
		c.resolve(RefreshResult{Session: sess}, "skipped")
		return
	}

	go c.refresh(sess)
}

// Valid is the blocking form of EnsureValid.
func (c *Coordinator) Valid(ctx context.Context, sess *session.Session) (RefreshResult, error) {
	ch := make(chan RefreshResult, 1)
	c.EnsureValid(sess, func(r RefreshResult) { ch <- r })
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	}
}

// InFlight reports whether a refresh request is outstanding.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *Coordinator) refresh(prev *session.Session) {
	ctx := c.ctx
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	c.diag.Log("refreshing expired session")
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: prev.RefreshToken}).Token()
	if err != nil {
		c.diag.Errorf("session refresh failed: %v", err)
		c.store.SetSession(nil, session.StatusNotConnected)
		c.resolve(RefreshResult{Raw: errorBody(err), Err: err}, "failure")
		return
	}

	next := sessionFromToken(tok, prev)
	c.store.SetSession(next, session.StatusConnected)
	c.resolve(RefreshResult{Session: c.store.Peek(), Raw: rawToken(tok)}, "success")
}

// resolve hands result to every waiter, most recent first. The in-flight flag
// is cleared together with taking the waiter list, so a waiter that finds the
// session expired again starts a fresh refresh instead of queueing on a
// finished one.
func (c *Coordinator) resolve(result RefreshResult, outcome string) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.inFlight = false
	c.mu.Unlock()

	metrics.RefreshTotal.WithLabelValues(outcome).Inc()
	metrics.RefreshWaiters.Observe(float64(len(waiters)))

	for i := len(waiters) - 1; i >= 0; i-- {
		waiters[i](result)
	}
}

func sessionFromToken(tok *oauth2.Token, prev *session.Session) *session.Session {
	next := &session.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        prev.Scope,
		UID:          prev.UID,
		BaseDomain:   prev.BaseDomain,
	}
	if !tok.Expiry.IsZero() {
		next.Expires = tok.Expiry.Unix()
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		next.Scope = scope
	}
	if uid, ok := tok.Extra("uid").(string); ok && uid != "" {
		next.UID = uid
	}
	return next
}

func rawToken(tok *oauth2.Token) map[string]any {
	raw := map[string]any{
		"access_token": tok.AccessToken,
		"token_type":   tok.TokenType,
	}
	if tok.RefreshToken != "" {
		raw["refresh_token"] = tok.RefreshToken
	}
	for _, key := range []string{"expires_in", "scope", "uid"} {
		if v := tok.Extra(key); v != nil {
			raw[key] = v
		}
	}
	return raw
}

func errorBody(err error) map[string]any {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return nil
	}
	var body map[string]any
	if json.Unmarshal(re.Body, &body) != nil {
		return nil
	}
	return body
}
