// Package session holds the authenticated session and user status, fires the
// auth.* change events and persists the session through a Persister.
package session

import (
	"net/url"
	"strconv"
	"time"
)

// Status is the coarse authentication state of the user.
type Status string

const (
	StatusUnknown      Status = "unknown"
	StatusNotConnected Status = "notConnected"
	StatusConnected    Status = "connected"
)

// Session is an access/refresh token pair. Expires is an absolute unix
// timestamp in seconds, zero when the server did not give one.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Expires      int64  `json:"expires,omitempty"`
	Scope        string `json:"scope,omitempty"`
	UID          string `json:"uid,omitempty"`
	BaseDomain   string `json:"base_domain,omitempty"`
}

// FromValues builds a session out of an OAuth redirect fragment or a decoded
// cookie. A relative expires_in is converted to an absolute Expires here and
// nowhere else. Returns nil when there is no access token.
func FromValues(v url.Values, now time.Time) *Session {
	if v.Get("access_token") == "" {
		return nil
	}
	s := &Session{
		AccessToken:  v.Get("access_token"),
		RefreshToken: v.Get("refresh_token"),
		Scope:        v.Get("scope"),
		UID:          v.Get("uid"),
		BaseDomain:   v.Get("base_domain"),
	}
	if in, err := strconv.ParseInt(v.Get("expires_in"), 10, 64); err == nil {
		s.Expires = now.Unix() + in
	} else if exp, err := strconv.ParseInt(v.Get("expires"), 10, 64); err == nil {
		s.Expires = exp
	}
	return s
}

// Values returns the session as query-string parameters.
func (s *Session) Values() map[string]any {
	v := map[string]any{"access_token": s.AccessToken}
	if s.RefreshToken != "" {
		v["refresh_token"] = s.RefreshToken
	}
	if s.Expires != 0 {
		v["expires"] = s.Expires
	}
	if s.Scope != "" {
		v["scope"] = s.Scope
	}
	if s.UID != "" {
		v["uid"] = s.UID
	}
	if s.BaseDomain != "" {
		v["base_domain"] = s.BaseDomain
	}
	return v
}

// Clone returns a copy of s, or nil.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// IsExpired reports whether s is absent or past its expiry at now.
func IsExpired(s *Session, now time.Time) bool {
	return s == nil || (s.Expires != 0 && now.Unix() > s.Expires)
}
