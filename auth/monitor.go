// Package auth implements the OAuth2 implicit-flow login and the renewal of
// expired sessions.
//
// A login opens the authorize URL in a popup Window and registers an attempt
// keyed by a random state token. The authorization server redirects back with
// the session (or an error) in the URL fragment; CaptureRedirect forwards it to
// the Monitor, whose poller installs the session and calls the login callback.
// A popup closed before any response resolves the attempt as access_denied.
package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raine/dailymotion-go/diag"
	"github.com/raine/dailymotion-go/metrics"
	"github.com/raine/dailymotion-go/qs"
	"github.com/raine/dailymotion-go/session"
)

const (
	// WindowName names the login popup. A redirect landing in a window with
	// this name is forwarded to its opener.
	WindowName = "dmauth"

	DefaultPollInterval = 100 * time.Millisecond

	DisplayPopup = "popup"
	DisplayPage  = "page"
)

var (
	ErrMissingState  = errors.New("auth response has no state")
	ErrInactiveState = errors.New("auth response for an inactive login")
	ErrNoOpener      = errors.New("no window opener configured")
	ErrClosed        = errors.New("monitor closed")
)

// Window is an open authorization popup.
type Window interface {
	Closed() bool
	Close() error
}

// Opener shows the authorize URL to the user, either in a popup or by
// replacing the current page.
type Opener interface {
	Open(authURL, name string) (Window, error)
	Navigate(authURL string) error
}

// SessionReceiver accepts an authorization response correlated by state.
type SessionReceiver interface {
	ReceiveSession(response url.Values) error
}

// LoginCallback receives the outcome of a login exactly once.
type LoginCallback func(session.Response)

// LoginOptions override the authorize request parameters. Zero fields keep
// the defaults.
type LoginOptions struct {
	Scope        string
	RedirectURI  string
	Display      string
	State        string
	ResponseType string
	Extra        map[string]string
}

type MonitorConfig struct {
	ClientID     string
	AuthorizeURL string
	RedirectURI  string
	Scope        string
}

type attempt struct {
	state    string
	cb       LoginCallback
	win      Window
	response url.Values
}

// Monitor tracks login attempts until each one resolves.
type Monitor struct {
	mu       sync.Mutex
	active   map[string]*attempt
	received []url.Values
	polling  bool
	stop     chan struct{}
	closed   bool
	wg       sync.WaitGroup

	cfg      MonitorConfig
	store    *session.Store
	opener   Opener
	interval time.Duration
	newState func() string
	diag     *diag.Diag
}

type MonitorOption func(*Monitor)

func WithPollInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.interval = d
	}
}

func WithStateGenerator(gen func() string) MonitorOption {
	return func(m *Monitor) {
		m.newState = gen
	}
}

func WithMonitorDiag(d *diag.Diag) MonitorOption {
	return func(m *Monitor) {
		m.diag = d
	}
}

func NewMonitor(store *session.Store, opener Opener, cfg MonitorConfig, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		active:   make(map[string]*attempt),
		cfg:      cfg,
		store:    store,
		opener:   opener,
		interval: DefaultPollInterval,
		newState: NewState,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewState generates a login correlation token.
func NewState() string {
	return "f" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SetOpener replaces the window opener.
func (m *Monitor) SetOpener(o Opener) {
	m.mu.Lock()
	m.opener = o
	m.mu.Unlock()
}

// Login starts an authorization. With the popup display the attempt is
// tracked and cb is called once it resolves; any other display navigates away
// and the session is picked up by the next Init. Returns the state token.
func (m *Monitor) Login(cb LoginCallback, opts LoginOptions) (string, error) {
	m.mu.Lock()
	opener, closed := m.opener, m.closed
	m.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	if opener == nil {
		return "", ErrNoOpener
	}

	params := map[string]any{
		"client_id":     m.cfg.ClientID,
		"response_type": "token",
		"display":       DisplayPopup,
		"scope":         m.cfg.Scope,
		"redirect_uri":  m.cfg.RedirectURI,
		"state":         m.newState(),
	}
	for key, val := range opts.Extra {
		params[key] = val
	}
	override(params, "scope", opts.Scope)
	override(params, "redirect_uri", opts.RedirectURI)
	override(params, "display", opts.Display)
	override(params, "state", opts.State)
	override(params, "response_type", opts.ResponseType)

	state := params["state"].(string)
	authURL := m.cfg.AuthorizeURL + "?" + qs.Encode(params)

	if params["display"] != DisplayPopup {
		if err := opener.Navigate(authURL); err != nil {
			return "", fmt.Errorf("failed to navigate to authorize url: %w", err)
		}
		return state, nil
	}

	win, err := opener.Open(authURL, WindowName)
	if err != nil {
		return "", fmt.Errorf("failed to open login window: %w", err)
	}
	if cb == nil {
		return state, nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = win.Close()
		return "", ErrClosed
	}
	m.active[state] = &attempt{state: state, cb: cb, win: win}
	metrics.ActiveLogins.Inc()
	m.startPollerLocked()
	m.mu.Unlock()

	return state, nil
}

func override(params map[string]any, key, val string) {
	if val != "" {
		params[key] = val
	}
}

// ReceiveSession stores an authorization response for the attempt named by
// its state. The poller finishes the attempt on its next pass.
func (m *Monitor) ReceiveSession(response url.Values) error {
	if response.Has("error") {
		m.diag.Errorf("received auth error `%s': %s", response.Get("error"), response.Get("error_description"))
	}

	state := response.Get("state")
	if state == "" {
		m.diag.Error("received a session with no `state' field")
		return ErrMissingState
	}

	m.mu.Lock()
	a, ok := m.active[state]
	if ok {
		a.response = response
	}
	m.mu.Unlock()

	if !ok {
		m.diag.Error("received a session from an inactive window")
		return ErrInactiveState
	}
	return nil
}

// CaptureRedirect inspects a page URL for an authorization response in its
// fragment. In the login popup (windowName is WindowName and opener is set)
// the response is forwarded to the opener; otherwise it is kept for
// TakeReceived. The returned URL has the fragment removed. handled is false
// when the fragment holds no authorization response.
func (m *Monitor) CaptureRedirect(u *url.URL, windowName string, opener SessionReceiver) (stripped *url.URL, handled bool) {
	fragment := u.EscapedFragment()
	if !strings.Contains(fragment, "access_token=") && !strings.Contains(fragment, "error=") {
		return u, false
	}

	response := qs.Decode(fragment)
	if opener != nil && windowName == WindowName {
		// Errors are already reported on the diagnostic channel.
		_ = opener.ReceiveSession(response)
	} else {
		m.mu.Lock()
		m.received = append(m.received, response)
		m.mu.Unlock()
	}

	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	return &clean, true
}

// TakeReceived returns the session of the last authorization response captured
// by a redirect in this window and forgets all captured responses. Returns nil
// when none was captured or the response was an error.
func (m *Monitor) TakeReceived() *session.Session {
	m.mu.Lock()
	received := m.received
	m.received = nil
	m.mu.Unlock()

	if len(received) == 0 {
		return nil
	}
	return session.FromValues(received[len(received)-1], m.store.Now())
}

// Cancel abandons the attempt for state and closes its window. The callback
// is not called. Reports whether the attempt was still active.
func (m *Monitor) Cancel(state string) bool {
	m.mu.Lock()
	a, ok := m.active[state]
	if ok {
		delete(m.active, state)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	metrics.ActiveLogins.Dec()
	metrics.LoginsTotal.WithLabelValues("canceled").Inc()
	if a.win != nil {
		if err := a.win.Close(); err != nil {
			m.diag.Logf("failed to close login window: %v", err)
		}
	}
	return true
}

// Active returns the number of unresolved login attempts.
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Polling reports whether the poller goroutine is running.
func (m *Monitor) Polling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polling
}

// Close stops the poller. Unresolved attempts are abandoned.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	if m.polling {
		close(m.stop)
		m.polling = false
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) startPollerLocked() {
	if m.polling || len(m.active) == 0 {
		return
	}
	m.polling = true
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.poll(m.stop)
}

func (m *Monitor) poll(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.check(stop) {
				return
			}
		}
	}
}

// check runs one monitoring pass and reports whether attempts remain.
func (m *Monitor) check(stop <-chan struct{}) bool {
	m.mu.Lock()
	select {
	case <-stop:
		m.mu.Unlock()
		return false
	default:
	}

	var finished []*attempt
	for state, a := range m.active {
		if a.win != nil && a.response == nil && a.win.Closed() {
			a.win = nil
			a.response = url.Values{
				"error":             {"access_denied"},
				"error_description": {"Client closed the window"},
				"state":             {state},
			}
		}
		if a.response != nil {
			delete(m.active, state)
			finished = append(finished, a)
		}
	}
	remaining := len(m.active) > 0
	if !remaining {
		m.polling = false
	}
	m.mu.Unlock()

	for _, a := range finished {
		m.finish(a)
	}
	return remaining
}

func (m *Monitor) finish(a *attempt) {
	metrics.ActiveLogins.Dec()

	sess := session.FromValues(a.response, m.store.Now())
	switch {
	case sess != nil:
		m.store.SetSession(sess, session.StatusConnected)
		metrics.LoginsTotal.WithLabelValues("connected").Inc()
	case a.response.Get("error") == "access_denied":
		m.diag.Log("login denied: " + a.response.Get("error_description"))
		m.store.SetSession(nil, session.StatusNotConnected)
		metrics.LoginsTotal.WithLabelValues("denied").Inc()
	default:
		m.store.SetSession(nil, session.StatusNotConnected)
		metrics.LoginsTotal.WithLabelValues("error").Inc()
	}

	if a.win != nil {
		if err := a.win.Close(); err != nil {
			m.diag.Logf("failed to close login window: %v", err)
		}
	}

	if a.cb != nil {
		a.cb(m.store.LoginStatus())
	}
}
