// Package session provides the in-memory state container for the
// dashboard backend: the authenticated session and the broker
// connection status, with pub/sub for status changes.
//
// The store is an explicit dependency passed to its consumers; there is
// no package-level instance.
package session

import (
	"sync"
	"time"

	"github.com/nisargdongare/ProfitPulse/internal/domain"
)

// Cause identifies what drove a connection-status change.
type Cause string

const (
	// CauseLinkMessage marks transitions applied from a child-window
	// completion message.
	CauseLinkMessage Cause = "link-message"
	// CauseProfileFetch marks transitions applied from a profile fetch
	// outcome.
	CauseProfileFetch Cause = "profile-fetch"
	// CauseReset marks the explicit reset performed by logout.
	CauseReset Cause = "reset"
)

// StatusEvent is emitted to subscribers when the connection status
// actually changes value. Same-value writes are not emitted.
type StatusEvent struct {
	Status domain.ConnectionStatus
	Cause  Cause
	At     time.Time
}

// Store holds the session and connection status. Both are owned here so
// logout can reset them atomically under a single lock.
type Store struct {
	mu          sync.RWMutex
	session     *domain.Session
	status      domain.ConnectionStatus
	lastUpdated time.Time

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan StatusEvent
}

// NewStore creates an empty store with status NotConnected.
func NewStore() *Store {
	return &Store{
		subs: make(map[int]chan StatusEvent),
	}
}

// SetSession installs the session produced by a successful login.
func (s *Store) SetSession(sess *domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
}

// Session returns a copy of the current session, or nil when logged out.
func (s *Store) Session() *domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	sess := *s.session
	return &sess
}

// Token returns the current bearer token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.Token
}

// LoggedIn reports whether a session is present.
func (s *Store) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session != nil
}

// SetStatus writes the connection status and returns whether the value
// changed. Subscribers are notified only on an actual change; re-applying
// the current status is a no-op, which is what keeps the
// fetch-on-change loop bounded. The dispatch happens under the status
// lock, so events arrive in the order the changes were applied; sends
// are non-blocking, so holding the lock never stalls on a slow
// subscriber.
func (s *Store) SetStatus(status domain.ConnectionStatus, cause Cause) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == status {
		return false
	}
	s.status = status
	now := time.Now()
	s.lastUpdated = now
	s.notify(StatusEvent{Status: status, Cause: cause, At: now})
	return true
}

// Status returns the current connection status.
func (s *Store) Status() domain.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastUpdated returns when the status last changed (zero if never).
func (s *Store) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdated
}

// Logout clears the session and resets the status to NotConnected under
// one lock, so no reader can observe a logged-out session with a stale
// Connected status.
func (s *Store) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	if s.status == domain.NotConnected {
		return
	}
	s.status = domain.NotConnected
	now := time.Now()
	s.lastUpdated = now
	s.notify(StatusEvent{Status: domain.NotConnected, Cause: CauseReset, At: now})
}

// notify delivers an event to all subscribers (non-blocking send).
func (s *Store) notify(evt StatusEvent) {
	s.subsMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop event.
		}
	}
	s.subsMu.Unlock()
}

// Subscribe creates a new subscription channel for status events.
func (s *Store) Subscribe(bufSize int) (id int, ch <-chan StatusEvent) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id = s.nextSubID
	s.nextSubID++
	c := make(chan StatusEvent, bufSize)
	s.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}
