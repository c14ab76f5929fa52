package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/dedent"
	"github.com/rs/zerolog/log"
)

const (
	CallbackPath = "/callback"
	CapturePath  = "/capture"

	DefaultLoopbackTimeout = 5 * time.Minute
)

var ErrLoopbackNotStarted = errors.New("loopback server not started")

var callbackPage = strings.TrimSpace(dedent.Dedent(`
	<!DOCTYPE html>
	<html>
	<head><meta charset="utf-8"><title>Dailymotion login</title></head>
	<body>
	<p id="msg">Completing login...</p>
	<script>
	fetch("` + CapturePath + `", {method: "POST", body: window.location.hash.substring(1)})
	  .then(function (r) {
	    document.getElementById("msg").textContent = r.ok
	      ? "Login complete. You can close this window."
	      : "Login failed. You can close this window.";
	    history.replaceState(null, "", window.location.pathname);
	  });
	</script>
	</body>
	</html>
`))

// LoopbackOpener plays the role of the login popup for programs without a
// browser window of their own. It serves the redirect URI on 127.0.0.1; the
// page at that URI posts its fragment back to the server, which hands it to
// the Monitor as if the popup had captured the redirect.
type LoopbackOpener struct {
	mu      sync.Mutex
	server  *http.Server
	addr    string
	monitor *Monitor
	windows []*loopbackWindow
	done    chan struct{}
	wg      sync.WaitGroup

	launch  func(authURL string) error
	timeout time.Duration
}

// NewLoopbackOpener creates an opener that shows authorize URLs with launch
// (typically by starting a browser or printing the URL). Windows report closed
// once timeout has passed.
func NewLoopbackOpener(launch func(authURL string) error, timeout time.Duration) *LoopbackOpener {
	if timeout <= 0 {
		timeout = DefaultLoopbackTimeout
	}
	return &LoopbackOpener{launch: launch, timeout: timeout}
}

// Start listens on a random 127.0.0.1 port and returns the redirect URI to
// register in login requests.
func (l *LoopbackOpener) Start(m *Monitor) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to listen on loopback: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, l.handleCallback)
	mux.HandleFunc(CapturePath, l.handleCapture)

	l.mu.Lock()
	l.monitor = m
	l.addr = ln.Addr().String()
	l.done = make(chan struct{})
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	server := l.server
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("loopback server failed")
		}
	}()

	log.Debug().Str("addr", l.addr).Msg("loopback server started")
	return l.RedirectURI(), nil
}

// RedirectURI returns the callback URL served by the loopback server.
func (l *LoopbackOpener) RedirectURI() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.addr == "" {
		return ""
	}
	return "http://" + l.addr + CallbackPath
}

func (l *LoopbackOpener) Open(authURL, name string) (Window, error) {
	l.mu.Lock()
	started := l.server != nil
	done := l.done
	l.mu.Unlock()
	if !started {
		return nil, ErrLoopbackNotStarted
	}

	if err := l.launch(authURL); err != nil {
		return nil, err
	}

	w := &loopbackWindow{name: name, deadline: time.Now().Add(l.timeout), done: done}
	l.mu.Lock()
	l.windows = append(l.windows, w)
	l.mu.Unlock()
	return w, nil
}

func (l *LoopbackOpener) Navigate(authURL string) error {
	return l.launch(authURL)
}

// Shutdown stops the server. Open windows report closed afterwards.
func (l *LoopbackOpener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	server := l.server
	l.server = nil
	if l.done != nil {
		close(l.done)
		l.done = nil
	}
	l.mu.Unlock()

	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	l.wg.Wait()
	return err
}

func (l *LoopbackOpener) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, callbackPage)
}

func (l *LoopbackOpener) handleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	l.mu.Lock()
	m := l.monitor
	l.mu.Unlock()

	u, err := url.Parse(l.RedirectURI())
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	u.RawFragment = string(body)
	u.Fragment, _ = url.PathUnescape(string(body))

	if _, handled := m.CaptureRedirect(u, WindowName, m); !handled {
		http.Error(w, "no authorization response", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type loopbackWindow struct {
	mu       sync.Mutex
	name     string
	deadline time.Time
	done     <-chan struct{}
	closed   bool
}

func (w *loopbackWindow) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || time.Now().After(w.deadline) {
		return true
	}
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *loopbackWindow) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}
