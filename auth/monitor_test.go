package auth

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/raine/dailymotion-go/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeWindow struct {
	mu     sync.Mutex
	closed bool
	closes int
}

func (w *fakeWindow) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *fakeWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.closes++
	return nil
}

func (w *fakeWindow) userClose() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

type fakeOpener struct {
	mu        sync.Mutex
	opened    []string
	names     []string
	navigated []string
	windows   []*fakeWindow
}

func (o *fakeOpener) Open(authURL, name string) (Window, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := &fakeWindow{}
	o.opened = append(o.opened, authURL)
	o.names = append(o.names, name)
	o.windows = append(o.windows, w)
	return w, nil
}

func (o *fakeOpener) Navigate(authURL string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.navigated = append(o.navigated, authURL)
	return nil
}

func (o *fakeOpener) window(i int) *fakeWindow {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.windows[i]
}

var testMonitorConfig = MonitorConfig{
	ClientID:     "key",
	AuthorizeURL: "https://www.example.com/oauth/authorize",
	RedirectURI:  "https://app.example.com/xd",
	Scope:        "read",
}

func newTestMonitor(t *testing.T, store *session.Store, opener Opener) *Monitor {
	t.Helper()
	m := NewMonitor(store, opener, testMonitorConfig,
		WithPollInterval(5*time.Millisecond),
		WithStateGenerator(func() string { return "s1" }),
	)
	t.Cleanup(m.Close)
	return m
}

func waitResponse(t *testing.T, ch <-chan session.Response) session.Response {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("login callback never called")
		return session.Response{}
	}
}

func TestLogin_BuildsAuthorizeURL(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestMonitor(t, newTestStore(), opener)

	state, err := m.Login(func(session.Response) {}, LoginOptions{Scope: "read write", Extra: map[string]string{"locale": "fi"}})
	require.NoError(t, err)
	assert.Equal(t, "s1", state)

	require.Len(t, opener.opened, 1)
	assert.Equal(t, WindowName, opener.names[0])
	u, err := url.Parse(opener.opened[0])
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "key", q.Get("client_id"))
	assert.Equal(t, "token", q.Get("response_type"))
	assert.Equal(t, "popup", q.Get("display"))
	assert.Equal(t, "read write", q.Get("scope"))
	assert.Equal(t, "https://app.example.com/xd", q.Get("redirect_uri"))
	assert.Equal(t, "s1", q.Get("state"))
	assert.Equal(t, "fi", q.Get("locale"))
	assert.Equal(t, 1, m.Active())
}

func TestLogin_PageDisplayNavigates(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestMonitor(t, newTestStore(), opener)

	_, err := m.Login(func(session.Response) {}, LoginOptions{Display: DisplayPage})
	require.NoError(t, err)

	assert.Empty(t, opener.opened)
	require.Len(t, opener.navigated, 1)
	assert.Contains(t, opener.navigated[0], "display=page")
	assert.Equal(t, 0, m.Active())
	assert.False(t, m.Polling())
}

func TestLogin_NoOpener(t *testing.T) {
	m := NewMonitor(newTestStore(), nil, testMonitorConfig)
	_, err := m.Login(nil, LoginOptions{})
	assert.ErrorIs(t, err, ErrNoOpener)
}

func TestLogin_ClosedWindowIsAccessDenied(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	opener := &fakeOpener{}
	store := newTestStore()
	m := NewMonitor(store, opener, testMonitorConfig, WithPollInterval(5*time.Millisecond))

	got := make(chan session.Response, 1)
	_, err := m.Login(func(r session.Response) { got <- r }, LoginOptions{})
	require.NoError(t, err)

	opener.window(0).userClose()
	r := waitResponse(t, got)

	assert.Nil(t, r.Session)
	assert.Equal(t, session.StatusNotConnected, r.Status)
	assert.Equal(t, session.StatusNotConnected, store.Status())
	assert.Equal(t, 0, m.Active())
	assert.Equal(t, 0, opener.window(0).closes)

	m.Close()
}

func TestReceiveSession_InstallsSessionAndClosesWindow(t *testing.T) {
	opener := &fakeOpener{}
	store := newTestStore()
	m := newTestMonitor(t, store, opener)

	got := make(chan session.Response, 1)
	state, err := m.Login(func(r session.Response) { got <- r }, LoginOptions{})
	require.NoError(t, err)

	err = m.ReceiveSession(url.Values{
		"access_token": {"tok"},
		"expires_in":   {"3600"},
		"scope":        {"read"},
		"state":        {state},
	})
	require.NoError(t, err)

	r := waitResponse(t, got)
	require.NotNil(t, r.Session)
	assert.Equal(t, "tok", r.Session.AccessToken)
	assert.Equal(t, fixedNow.Unix()+3600, r.Session.Expires)
	assert.Equal(t, session.StatusConnected, r.Status)
	assert.Equal(t, "read", r.Perms)
	assert.Equal(t, 1, opener.window(0).closes)

	// The attempt is gone; a late duplicate is discarded.
	assert.ErrorIs(t, m.ReceiveSession(url.Values{"access_token": {"x"}, "state": {state}}), ErrInactiveState)
}

func TestReceiveSession_ErrorResponse(t *testing.T) {
	opener := &fakeOpener{}
	store := newTestStore()
	m := newTestMonitor(t, store, opener)

	got := make(chan session.Response, 1)
	state, err := m.Login(func(r session.Response) { got <- r }, LoginOptions{})
	require.NoError(t, err)

	require.NoError(t, m.ReceiveSession(url.Values{"error": {"server_error"}, "state": {state}}))
	r := waitResponse(t, got)
	assert.Nil(t, r.Session)
	assert.Equal(t, session.StatusNotConnected, r.Status)
}

func TestReceiveSession_RejectsUnknownState(t *testing.T) {
	m := newTestMonitor(t, newTestStore(), &fakeOpener{})

	assert.ErrorIs(t, m.ReceiveSession(url.Values{"access_token": {"x"}}), ErrMissingState)
	assert.ErrorIs(t, m.ReceiveSession(url.Values{"access_token": {"x"}, "state": {"nope"}}), ErrInactiveState)
}

func TestPoller_StopsWhenNoAttemptsRemain(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	opener := &fakeOpener{}
	m := NewMonitor(newTestStore(), opener, testMonitorConfig, WithPollInterval(5*time.Millisecond))

	got := make(chan session.Response, 1)
	_, err := m.Login(func(r session.Response) { got <- r }, LoginOptions{})
	require.NoError(t, err)
	assert.True(t, m.Polling())

	opener.window(0).userClose()
	waitResponse(t, got)

	assert.Eventually(t, func() bool { return !m.Polling() }, time.Second, 5*time.Millisecond)
	m.Close()
}

func TestCaptureRedirect_ForwardsFromPopup(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestMonitor(t, newTestStore(), opener)

	got := make(chan session.Response, 1)
	state, err := m.Login(func(r session.Response) { got <- r }, LoginOptions{})
	require.NoError(t, err)

	u, _ := url.Parse("https://app.example.com/xd?x=1#access_token=tok&state=" + state)
	stripped, handled := m.CaptureRedirect(u, WindowName, m)
	require.True(t, handled)
	assert.Equal(t, "https://app.example.com/xd?x=1", stripped.String())

	r := waitResponse(t, got)
	require.NotNil(t, r.Session)
	assert.Equal(t, "tok", r.Session.AccessToken)
	assert.Nil(t, m.TakeReceived())
}

func TestCaptureRedirect_StoresForInit(t *testing.T) {
	m := newTestMonitor(t, newTestStore(), &fakeOpener{})

	first, _ := url.Parse("https://app.example.com/#access_token=one&state=a")
	second, _ := url.Parse("https://app.example.com/#access_token=two&expires_in=60&state=b")

	_, handled := m.CaptureRedirect(first, "", nil)
	require.True(t, handled)
	_, handled = m.CaptureRedirect(second, WindowName, nil)
	require.True(t, handled)

	sess := m.TakeReceived()
	require.NotNil(t, sess)
	assert.Equal(t, "two", sess.AccessToken)
	assert.Equal(t, fixedNow.Unix()+60, sess.Expires)
	assert.Nil(t, m.TakeReceived())
}

func TestCaptureRedirect_IgnoresOtherFragments(t *testing.T) {
	m := newTestMonitor(t, newTestStore(), &fakeOpener{})

	u, _ := url.Parse("https://app.example.com/page#section-2")
	stripped, handled := m.CaptureRedirect(u, "", nil)
	assert.False(t, handled)
	assert.Equal(t, u, stripped)
}

func TestNewState(t *testing.T) {
	a, b := NewState(), NewState()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 33)
	assert.Equal(t, byte('f'), a[0])
	assert.NotContains(t, a, "-")
}

func TestLogin_AfterClose(t *testing.T) {
	m := NewMonitor(newTestStore(), &fakeOpener{}, testMonitorConfig)
	m.Close()
	_, err := m.Login(nil, LoginOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCancel_DropsAttemptAndClosesWindow(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := session.NewStore(nil)
	opener := &fakeOpener{}
	m := newTestMonitor(t, store, opener)

	called := make(chan session.Response, 1)
	state, err := m.Login(func(r session.Response) { called <- r }, LoginOptions{})
	require.NoError(t, err)

	assert.True(t, m.Cancel(state))
	assert.False(t, m.Cancel(state))
	assert.Equal(t, 0, m.Active())
	assert.True(t, opener.window(0).Closed())
	assert.Eventually(t, func() bool { return !m.Polling() }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, m.ReceiveSession(url.Values{"access_token": {"tok"}, "state": {state}}), ErrInactiveState)
	select {
	case <-called:
		t.Fatal("callback called for a canceled login")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, session.StatusUnknown, store.Status())
}
