package auth

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/raine/dailymotion-go/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// browser follows the authorize URL the way the authorization server would:
// it loads the redirect page and posts the fragment back.
func browser(t *testing.T, fragment func(state string) string) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		redirect := u.Query().Get("redirect_uri")
		state := u.Query().Get("state")
		client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
		go func() {
			resp, err := client.Get(redirect)
			if err != nil {
				t.Errorf("load callback page: %v", err)
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			capture := strings.TrimSuffix(redirect, CallbackPath) + CapturePath
			resp, err = client.Post(capture, "text/plain", strings.NewReader(fragment(state)))
			if err != nil {
				t.Errorf("post capture: %v", err)
				return
			}
			resp.Body.Close()
		}()
		return nil
	}
}

func TestLoopback_Login(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	lb := NewLoopbackOpener(browser(t, func(state string) string {
		return "access_token=tok&refresh_token=r&expires_in=3600&state=" + state
	}), time.Minute)
	store := newTestStore()
	m := NewMonitor(store, lb, testMonitorConfig, WithPollInterval(5*time.Millisecond))

	redirect, err := lb.Start(m)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(redirect, "http://127.0.0.1:"))
	assert.True(t, strings.HasSuffix(redirect, CallbackPath))

	got := make(chan session.Response, 1)
	_, err = m.Login(func(r session.Response) { got <- r }, LoginOptions{RedirectURI: redirect})
	require.NoError(t, err)

	r := waitResponse(t, got)
	require.NotNil(t, r.Session)
	assert.Equal(t, "tok", r.Session.AccessToken)
	assert.Equal(t, "r", r.Session.RefreshToken)
	assert.Equal(t, session.StatusConnected, r.Status)

	m.Close()
	require.NoError(t, lb.Shutdown(context.Background()))
}

func TestLoopback_CallbackPage(t *testing.T) {
	lb := NewLoopbackOpener(func(string) error { return nil }, time.Minute)
	m := NewMonitor(newTestStore(), lb, testMonitorConfig)
	redirect, err := lb.Start(m)
	require.NoError(t, err)
	defer lb.Shutdown(context.Background())

	resp, err := http.Get(redirect)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), `fetch("/capture"`)
	assert.True(t, strings.HasPrefix(string(body), "<!DOCTYPE html>"))
}

func TestLoopback_CaptureRejectsNonAuthFragment(t *testing.T) {
	lb := NewLoopbackOpener(func(string) error { return nil }, time.Minute)
	m := NewMonitor(newTestStore(), lb, testMonitorConfig)
	redirect, err := lb.Start(m)
	require.NoError(t, err)
	defer lb.Shutdown(context.Background())

	capture := strings.TrimSuffix(redirect, CallbackPath) + CapturePath
	resp, err := http.Post(capture, "text/plain", strings.NewReader("nothing=here"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoopback_WindowClosesAtDeadline(t *testing.T) {
	lb := NewLoopbackOpener(func(string) error { return nil }, 20*time.Millisecond)
	_, err := lb.Open("https://example.com", WindowName)
	assert.ErrorIs(t, err, ErrLoopbackNotStarted)

	_, err = lb.Start(NewMonitor(newTestStore(), lb, testMonitorConfig))
	require.NoError(t, err)

	w, err := lb.Open("https://example.com", WindowName)
	require.NoError(t, err)
	assert.False(t, w.Closed())
	assert.Eventually(t, w.Closed, time.Second, 5*time.Millisecond)

	w2, err := lb.Open("https://example.com", WindowName)
	require.NoError(t, err)
	require.NoError(t, lb.Shutdown(context.Background()))
	assert.True(t, w2.Closed())
}
