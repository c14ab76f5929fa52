package session

import (
	"net/http/cookiejar"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersister(t *testing.T) *CookiePersister {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	site, _ := url.Parse("https://example.com/")
	return NewCookiePersister(jar, site, "fakeapikey")
}

func TestCookiePersister_LoadMissing(t *testing.T) {
	p := newTestPersister(t)
	s, err := p.Load()
	assert.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, "dms_fakeapikey", p.Name())
}

func TestCookiePersister_SaveLoadClear(t *testing.T) {
	p := newTestPersister(t)
	expires := time.Now().Add(time.Hour).Unix()
	want := &Session{AccessToken: "tok/+=", RefreshToken: "ref", Expires: expires, Scope: "read write"}

	require.NoError(t, p.Save(want))

	got, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, p.Clear())
	got, err = p.Load()
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestCookiePersister_SaveNilClears(t *testing.T) {
	p := newTestPersister(t)
	require.NoError(t, p.Save(&Session{AccessToken: "a"}))
	require.NoError(t, p.Save(nil))

	got, err := p.Load()
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestCookiePersister_BaseDomain(t *testing.T) {
	p := newTestPersister(t)
	require.NoError(t, p.Save(&Session{AccessToken: "a", BaseDomain: "example.com"}))

	got, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, "example.com", got.BaseDomain)

	require.NoError(t, p.Clear())
	got, _ = p.Load()
	assert.Nil(t, got)
}
