package session

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsExpired(t *testing.T) {
	now := time.Unix(1000, 0)

	assert.True(t, IsExpired(nil, now))
	assert.True(t, IsExpired(&Session{AccessToken: "a", Expires: 999}, now))
	assert.False(t, IsExpired(&Session{AccessToken: "a", Expires: 1000}, now))
	assert.False(t, IsExpired(&Session{AccessToken: "a", Expires: 1001}, now))
	assert.False(t, IsExpired(&Session{AccessToken: "a"}, now))
}

func TestFromValues_ConvertsExpiresIn(t *testing.T) {
	now := time.Unix(1000, 0)
	v := url.Values{
		"access_token":  {"tok"},
		"refresh_token": {"ref"},
		"expires_in":    {"3600"},
		"scope":         {"read write"},
		"state":         {"f123"},
	}

	s := FromValues(v, now)
	require.NotNil(t, s)
	assert.Equal(t, &Session{
		AccessToken:  "tok",
		RefreshToken: "ref",
		Expires:      4600,
		Scope:        "read write",
	}, s)
}

func TestFromValues_AbsoluteExpires(t *testing.T) {
	s := FromValues(url.Values{"access_token": {"tok"}, "expires": {"1234"}}, time.Now())
	require.NotNil(t, s)
	assert.Equal(t, int64(1234), s.Expires)
}

func TestFromValues_NoAccessToken(t *testing.T) {
	assert.Nil(t, FromValues(url.Values{"error": {"access_denied"}}, time.Now()))
}

func TestValues_OmitsEmptyFields(t *testing.T) {
	v := (&Session{AccessToken: "tok", Expires: 10}).Values()
	assert.Equal(t, map[string]any{"access_token": "tok", "expires": int64(10)}, v)
}
