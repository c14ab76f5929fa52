package session

import (
	"sync"
	"time"

	"github.com/raine/dailymotion-go/diag"
	"github.com/raine/dailymotion-go/event"
)

// Events fired by Store, in this order when several apply.
const (
	EventStatusChange  = "auth.statusChange"
	EventLogout        = "auth.logout"
	EventLogin         = "auth.login"
	EventSessionChange = "auth.sessionChange"
)

// Response is the payload of the auth.* events and of login callbacks. Perms
// is only filled for login and login-status callbacks.
type Response struct {
	Session *Session
	Status  Status
	Perms   string
}

// Persister stores a single session blob.
type Persister interface {
	Load() (*Session, error)
	Save(s *Session) error
	Clear() error
}

// Store owns the current session and status.
type Store struct {
	mu      sync.Mutex
	session *Session
	status  Status
	persist bool

	// writeMu serializes transitions so the persister always holds the
	// stored session.
	writeMu sync.Mutex

	eventMu sync.Mutex
	queue   []queuedEvent
	firing  bool

	bus       *event.Bus
	persister Persister
	diag      *diag.Diag
	now       func() time.Time
}

type queuedEvent struct {
	name     string
	response Response
}

type StoreOption func(*Store)

// WithPersister sets where sessions are written. Writing only happens while
// enabled is true; Load works either way.
func WithPersister(p Persister, enabled bool) StoreOption {
	return func(s *Store) {
		s.persister = p
		s.persist = enabled
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func WithDiag(d *diag.Diag) StoreOption {
	return func(s *Store) {
		s.diag = d
	}
}

// NewStore creates a store with status unknown and no session.
func NewStore(bus *event.Bus, opts ...StoreOption) *Store {
	s := &Store{
		status: StatusUnknown,
		bus:    bus,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSession installs sess with status and fires the change events. The
// persister is written before any event so subscribers always observe a
// durable session. Events of concurrent transitions are fired in the order
// the transitions were applied; a handler may call SetSession again.
func (s *Store) SetSession(sess *Session, status Status) Response {
	r, _ := s.transition(sess.Clone(), status, nil)
	return r
}

// transition applies sess and status unless expect is non-nil and the stored
// session is no longer expect.
func (s *Store) transition(sess *Session, status Status, expect *Session) (Response, bool) {
	s.writeMu.Lock()

	s.mu.Lock()
	prev := s.session
	if expect != nil && prev != expect {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return Response{}, false
	}
	login := prev == nil && sess != nil
	logout := prev != nil && sess == nil
	sessionChange := login || logout || (prev != nil && sess != nil && prev.AccessToken != sess.AccessToken)
	statusChange := status != s.status

	s.session = sess
	s.status = status
	persist := s.persist && s.persister != nil
	s.mu.Unlock()

	if sessionChange && persist {
		s.write(sess)
	}

	response := Response{Session: sess.Clone(), Status: status}
	var events []queuedEvent
	if statusChange {
		events = append(events, queuedEvent{EventStatusChange, response})
	}
	if logout {
		events = append(events, queuedEvent{EventLogout, response})
	}
	if login {
		events = append(events, queuedEvent{EventLogin, response})
	}
	if sessionChange {
		events = append(events, queuedEvent{EventSessionChange, response})
	}
	s.eventMu.Lock()
	s.queue = append(s.queue, events...)
	s.eventMu.Unlock()

	s.writeMu.Unlock()

	s.fireQueued()
	return response, true
}

// fireQueued fires queued events until the queue is empty. A caller that
// finds another goroutine (or an outer handler) already firing leaves its
// events to that one.
func (s *Store) fireQueued() {
	s.eventMu.Lock()
	if s.firing {
		s.eventMu.Unlock()
		return
	}
	s.firing = true
	for len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.eventMu.Unlock()
		s.bus.Fire(ev.name, ev.response)
		s.eventMu.Lock()
	}
	s.firing = false
	s.eventMu.Unlock()
}

func (s *Store) write(sess *Session) {
	var err error
	if sess == nil {
		err = s.persister.Clear()
	} else {
		err = s.persister.Save(sess)
	}
	if err != nil {
		s.diag.Errorf("failed to persist session: %v", err)
	}
}

// Session returns the current session. An expired session is dropped as a
// side effect of the read and nil is returned.
func (s *Store) Session() *Session {
	for {
		s.mu.Lock()
		sess := s.session
		expired := sess != nil && sess.Expires != 0 && s.now().Unix() > sess.Expires
		s.mu.Unlock()

		if !expired {
			return sess.Clone()
		}
		if s.expire(sess) {
			return nil
		}
	}
}

// expire drops sess if it is still the stored session. It reports false when
// another session was installed in the meantime.
func (s *Store) expire(sess *Session) bool {
	_, ok := s.transition(nil, StatusNotConnected, sess)
	return ok
}

// Peek returns the stored session without the expiry check, so an expired
// session's refresh token stays reachable.
func (s *Store) Peek() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LoginStatus returns the current status and session along with the granted
// scope.
func (s *Store) LoginStatus() Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := Response{Session: s.session.Clone(), Status: s.status}
	if s.session != nil {
		r.Perms = s.session.Scope
	}
	return r
}

// SetPersistEnabled toggles writing to the persister.
func (s *Store) SetPersistEnabled(enabled bool) {
	s.mu.Lock()
	s.persist = enabled
	s.mu.Unlock()
}

// Load reads a previously persisted session. Returns nil, nil when there is
// no persister or nothing stored.
func (s *Store) Load() (*Session, error) {
	if s.persister == nil {
		return nil, nil
	}
	return s.persister.Load()
}

// Now is the store's clock.
func (s *Store) Now() time.Time {
	return s.now()
}
