// Package dailymotion is a client SDK for the Dailymotion platform: OAuth2
// login with refresh, a batching REST API client and embedded player control.
//
// An SDK value holds everything the components share. Create one with New,
// call Init to pick up an existing session, then use API, Login and Player.
package dailymotion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/raine/dailymotion-go/api"
	"github.com/raine/dailymotion-go/auth"
	"github.com/raine/dailymotion-go/config"
	"github.com/raine/dailymotion-go/diag"
	"github.com/raine/dailymotion-go/event"
	"github.com/raine/dailymotion-go/player"
	"github.com/raine/dailymotion-go/qs"
	"github.com/raine/dailymotion-go/session"
	"github.com/raine/dailymotion-go/storage"
)

type SDK struct {
	cfg config.Config

	bus      *event.Bus
	diag     *diag.Diag
	store    *session.Store
	refresh  *auth.Coordinator
	monitor  *auth.Monitor
	selector *api.Selector
	client   *api.Client
	bridge   *player.Bridge
	db       *storage.SQLiteStore

	ctx    context.Context
	cancel context.CancelFunc
}

type options struct {
	opener       auth.Opener
	persister    session.Persister
	jar          http.CookieJar
	httpClient   *http.Client
	now          func() time.Time
	pollInterval time.Duration
}

type Option func(*options)

// WithOpener sets how login windows are shown.
func WithOpener(o auth.Opener) Option {
	return func(opts *options) {
		opts.opener = o
	}
}

// WithPersister sets where the session is persisted, overriding
// Config.SessionDB and WithCookieJar.
func WithPersister(p session.Persister) Option {
	return func(opts *options) {
		opts.persister = p
	}
}

// WithCookieJar persists the session as a cookie for the www root in jar.
func WithCookieJar(jar http.CookieJar) Option {
	return func(opts *options) {
		opts.jar = jar
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}

func WithClock(now func() time.Time) Option {
	return func(opts *options) {
		opts.now = now
	}
}

// WithPollInterval sets how often login windows are checked.
func WithPollInterval(d time.Duration) Option {
	return func(opts *options) {
		opts.pollInterval = d
	}
}

// New wires the SDK components for cfg. The session starts out unknown until
// Init is called.
func New(cfg config.Config, opts ...Option) (*SDK, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SDK{cfg: cfg, bus: event.NewBus(), ctx: ctx, cancel: cancel}
	s.diag = diag.New(s.bus, cfg.Logging)

	persister, persist, err := s.persister(o)
	if err != nil {
		cancel()
		return nil, err
	}

	s.store = session.NewStore(s.bus,
		session.WithPersister(persister, persist),
		session.WithClock(o.now),
		session.WithDiag(s.diag.With("session")),
	)

	s.refresh = auth.NewCoordinator(s.store, cfg.APIKey, cfg.APISecret, cfg.TokenURL,
		auth.WithHTTPClient(o.httpClient),
		auth.WithContext(ctx),
		auth.WithCoordinatorDiag(s.diag.With("auth")),
	)

	monitorOpts := []auth.MonitorOption{auth.WithMonitorDiag(s.diag.With("auth"))}
	if o.pollInterval > 0 {
		monitorOpts = append(monitorOpts, auth.WithPollInterval(o.pollInterval))
	}
	s.monitor = auth.NewMonitor(s.store, o.opener, auth.MonitorConfig{
		ClientID:     cfg.APIKey,
		AuthorizeURL: cfg.AuthorizeURL,
		RedirectURI:  cfg.RedirectURI,
		Scope:        cfg.Scope,
	}, monitorOpts...)

	apiDiag := s.diag.With("api")
	s.selector = api.NewSelector(cfg.Transport,
		api.NewBatchTransport(cfg.APIRoot, o.httpClient, apiDiag),
		api.NewScriptTransport(cfg.APIRoot, o.httpClient, apiDiag),
		apiDiag,
	)
	s.client = api.NewClient(api.ClientOpts{
		Selector:   s.selector,
		Sessions:   s.store,
		Refresher:  s.refresh,
		FlushDelay: cfg.FlushDelay,
		Diag:       apiDiag,
	})

	s.bridge = player.NewBridge(cfg.WWWRoot, s.diag.With("player"))
	return s, nil
}

func (s *SDK) persister(o options) (session.Persister, bool, error) {
	switch {
	case o.persister != nil:
		return o.persister, true, nil
	case s.cfg.SessionDB != "":
		key, err := storage.DeriveKey(s.cfg.TokenKey)
		if err != nil {
			return nil, false, fmt.Errorf("failed to derive session key: %w", err)
		}
		db, err := storage.NewSQLiteStore(s.cfg.SessionDB, key)
		if err != nil {
			return nil, false, fmt.Errorf("failed to open session database: %w", err)
		}
		s.db = db
		return db.Persister(s.cfg.APIKey), true, nil
	case o.jar != nil:
		site, err := url.Parse(s.cfg.WWWRoot)
		if err != nil {
			return nil, false, fmt.Errorf("invalid www root: %w", err)
		}
		return session.NewCookiePersister(o.jar, site, s.cfg.APIKey), s.cfg.Cookie, nil
	}
	return nil, false, nil
}

// InitOptions seed the session. Zero values fall back to a session captured
// from a login redirect, then to the persisted one.
type InitOptions struct {
	Session *session.Session
	Status  session.Status
}

// Init installs the initial session and status. The status defaults to
// connected when a session was found and unknown otherwise.
func (s *SDK) Init(opts InitOptions) session.Response {
	sess := opts.Session
	if sess == nil {
		sess = s.monitor.TakeReceived()
	}
	if sess == nil {
		loaded, err := s.store.Load()
		if err != nil {
			s.diag.Errorf("failed to load persisted session: %v", err)
		}
		sess = loaded
	}

	status := opts.Status
	if status == "" {
		status = session.StatusUnknown
		if sess != nil {
			status = session.StatusConnected
		}
	}
	return s.store.SetSession(sess, status)
}

func (s *SDK) Config() config.Config { return s.cfg }

// API returns the REST client.
func (s *SDK) API() *api.Client { return s.client }

// Call performs one API call and waits for its result.
func (s *SDK) Call(ctx context.Context, path, method string, params api.Params) (json.RawMessage, error) {
	return s.client.Call(ctx, path, method, params)
}

// Events is the bus the auth.* and dm.* events are fired on.
func (s *SDK) Events() *event.Bus { return s.bus }

// Subscribe registers handler for an event and returns the unsubscribe
// function.
func (s *SDK) Subscribe(name string, handler event.Handler) func() {
	return s.bus.Subscribe(name, handler)
}

// Session returns the current session, nil once it has expired.
func (s *SDK) Session() *session.Session { return s.store.Session() }

func (s *SDK) LoginStatus() session.Response { return s.store.LoginStatus() }

// SetLogging toggles the debug diagnostics.
func (s *SDK) SetLogging(enabled bool) { s.diag.SetEnabled(enabled) }

// Login starts a login and calls cb once it resolves. It returns the state
// token of the attempt.
func (s *SDK) Login(cb auth.LoginCallback, opts auth.LoginOptions) (string, error) {
	return s.monitor.Login(cb, opts)
}

// LoginContext is the blocking form of Login. When ctx ends first the
// attempt is abandoned and its window closed.
func (s *SDK) LoginContext(ctx context.Context, opts auth.LoginOptions) (session.Response, error) {
	done := make(chan session.Response, 1)
	state, err := s.monitor.Login(func(r session.Response) { done <- r }, opts)
	if err != nil {
		return session.Response{}, err
	}
	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
		s.monitor.Cancel(state)
		return session.Response{}, ctx.Err()
	}
}

// SetOpener replaces the login window opener.
func (s *SDK) SetOpener(o auth.Opener) { s.monitor.SetOpener(o) }

// Monitor exposes the login monitor, e.g. to start a loopback opener on it.
func (s *SDK) Monitor() *auth.Monitor { return s.monitor }

// CaptureRedirect handles a page load that may carry a login response in its
// fragment. See auth.Monitor.CaptureRedirect.
func (s *SDK) CaptureRedirect(u *url.URL, windowName string, opener auth.SessionReceiver) (*url.URL, bool) {
	return s.monitor.CaptureRedirect(u, windowName, opener)
}

// Logout revokes the session server side and clears it locally. The local
// session is cleared even when the server call fails.
func (s *SDK) Logout(ctx context.Context) (session.Response, error) {
	var err error
	if s.store.Peek() != nil {
		err = s.client.Logout(ctx)
	}
	return s.store.SetSession(nil, session.StatusNotConnected), err
}

// LogoutURL is the page that ends the browser session on the site and then
// returns to redirectURI.
func (s *SDK) LogoutURL(redirectURI string) string {
	params := map[string]any{"client_id": s.cfg.APIKey}
	if redirectURI != "" {
		params["redirect_uri"] = redirectURI
	}
	return s.cfg.LogoutURL + "?" + qs.Encode(params)
}

// Player creates a player for the www root and registers it with the bridge.
func (s *SDK) Player(opts player.Options) *player.Player {
	if opts.WWWRoot == "" {
		opts.WWWRoot = s.cfg.WWWRoot
	}
	if opts.APIKey == "" {
		opts.APIKey = s.cfg.APIKey
	}
	p := player.New(opts)
	s.bridge.Register(p)
	return p
}

// Bridge routes messages from embeds to the players created by Player.
func (s *SDK) Bridge() *player.Bridge { return s.bridge }

// Close stops the login monitor and the API client and closes the session
// database.
func (s *SDK) Close() error {
	s.monitor.Close()
	s.client.Close()
	s.cancel()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
