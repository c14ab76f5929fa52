package session

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/raine/dailymotion-go/qs"
)

// CookiePersister keeps the session in a "dms_<apiKey>" cookie whose value is
// the query-string encoded session.
type CookiePersister struct {
	jar    http.CookieJar
	site   *url.URL
	name string
	now  func() time.Time

	mu     sync.Mutex
	domain string
}

// NewCookiePersister stores the session cookie for site in jar.
func NewCookiePersister(jar http.CookieJar, site *url.URL, apiKey string) *CookiePersister {
	return &CookiePersister{
		jar:  jar,
		site: site,
		name: "dms_" + apiKey,
		now:  time.Now,
	}
}

// Name is the cookie name.
func (p *CookiePersister) Name() string {
	return p.name
}

func (p *CookiePersister) Load() (*Session, error) {
	for _, c := range p.jar.Cookies(p.site) {
		if c.Name != p.name || c.Value == "" {
			continue
		}
		values := qs.Decode(strings.Trim(c.Value, `"`))
		sess := FromValues(values, p.now())
		if sess != nil {
			p.setDomain(sess.BaseDomain)
		}
		return sess, nil
	}
	return nil, nil
}

func (p *CookiePersister) Save(s *Session) error {
	if s == nil {
		return p.Clear()
	}
	c := &http.Cookie{
		Name:  p.name,
		Value: qs.Encode(s.Values()),
		Path:  "/",
	}
	if s.Expires != 0 {
		c.Expires = time.Unix(s.Expires, 0)
	}
	if s.BaseDomain != "" {
		c.Domain = "." + s.BaseDomain
	}
	p.jar.SetCookies(p.site, []*http.Cookie{c})
	p.setDomain(s.BaseDomain)
	return nil
}

func (p *CookiePersister) Clear() error {
	c := &http.Cookie{
		Name:   p.name,
		Path:   "/",
		MaxAge: -1,
	}
	p.mu.Lock()
	domain := p.domain
	p.mu.Unlock()
	if domain != "" {
		c.Domain = "." + domain
	}
	p.jar.SetCookies(p.site, []*http.Cookie{c})
	return nil
}

func (p *CookiePersister) setDomain(domain string) {
	p.mu.Lock()
	p.domain = domain
	p.mu.Unlock()
}

var _ Persister = (*CookiePersister)(nil)
