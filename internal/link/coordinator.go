package link

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nisargdongare/ProfitPulse/internal/cache"
	"github.com/nisargdongare/ProfitPulse/internal/domain"
	"github.com/nisargdongare/ProfitPulse/internal/gateway"
	"github.com/nisargdongare/ProfitPulse/internal/session"
)

var (
	// ErrNotAuthenticated is returned when a link is opened without a
	// logged-in session; the user id is needed for the login URL.
	ErrNotAuthenticated = errors.New("link: not authenticated")
	// ErrPopupBlocked is returned when the child browsing context could
	// not be opened.
	ErrPopupBlocked = errors.New("link: popup blocked")
)

// Gateway is the slice of the gateway client the coordinator needs.
type Gateway interface {
	Profile(ctx context.Context) (*domain.BrokerProfile, error)
	LoginURL(apiKey, apiSecret, userID string) string
}

// Publisher receives link events for external consumers. events.Nop
// satisfies it when publishing is disabled.
type Publisher interface {
	StatusChanged(status domain.ConnectionStatus, cause string)
	MessageDropped(origin string)
}

// Auditor persists the link audit trail. The SQLite cache satisfies it.
type Auditor interface {
	RecordLinkEvent(ctx context.Context, kind, detail string) error
}

// Opener opens the child browsing context for the broker login flow.
type Opener interface {
	Open(url string) error
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(url string) error

// Open implements Opener.
func (f OpenerFunc) Open(url string) error { return f(url) }

// NopOpener is used when the frontend opens the popup itself; the
// coordinator then only hands out the URL.
var NopOpener = OpenerFunc(func(string) error { return nil })

// Attempt is one broker login handshake in flight.
type Attempt struct {
	ID        string    `json:"attempt_id"`
	LoginURL  string    `json:"login_url"`
	StartedAt time.Time `json:"started_at"`
	concluded bool
}

// Config holds the coordinator's settings.
type Config struct {
	// TrustedOrigins is the explicit allow-list for completion
	// messages. Messages from any other origin are dropped.
	TrustedOrigins []string
	// HandshakeTimeout bounds the wait for a completion message. When
	// it elapses the attempt is abandoned and the status forced to
	// NotConnectedExplicit. Zero means wait forever.
	HandshakeTimeout time.Duration
}

// Coordinator drives the credential-link handshake. All message and
// status handling runs sequentially: messages apply transitions in
// receipt order, and the fetch loop processes one status change at a
// time.
type Coordinator struct {
	cfg      Config
	sessions *session.Store
	gw       Gateway
	events   Publisher
	audit    Auditor
	opener   Opener
	log      *slog.Logger

	dropped atomic.Uint64

	mu          sync.Mutex
	attempt     *Attempt
	profile     *domain.BrokerProfile
	accessToken string
	fetchErr    string
	watchdog    *time.Timer

	subID int
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewCoordinator wires a coordinator. Call Start to begin processing
// status changes and Close to detach.
func NewCoordinator(
	cfg Config,
	sessions *session.Store,
	gw Gateway,
	events Publisher,
	audit Auditor,
	opener Opener,
	log *slog.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		sessions: sessions,
		gw:       gw,
		events:   events,
		audit:    audit,
		opener:   opener,
		log:      log,
		subID:    -1,
		done:     make(chan struct{}),
	}
}

// Start subscribes to status changes and launches the fetch loop.
func (c *Coordinator) Start() {
	id, ch := c.sessions.Subscribe(16)
	c.subID = id
	c.wg.Add(1)
	go c.run(ch)
}

// Close detaches the status subscription and stops the fetch loop. An
// already-open child window is not closed; it simply becomes
// unreachable.
func (c *Coordinator) Close() {
	close(c.done)
	if c.subID >= 0 {
		c.sessions.Unsubscribe(c.subID)
	}
	c.wg.Wait()

	c.mu.Lock()
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	c.mu.Unlock()
}

// OpenLink starts a broker login handshake for the current session. It
// builds the child-window URL, asks the opener to open it, and arms the
// handshake watchdog when one is configured.
func (c *Coordinator) OpenLink(apiKey, apiSecret string) (*Attempt, error) {
	sess := c.sessions.Session()
	if sess == nil {
		return nil, ErrNotAuthenticated
	}

	url := c.gw.LoginURL(apiKey, apiSecret, sess.UserID)
	if err := c.opener.Open(url); err != nil {
		c.log.Warn("child window open failed", "err", err)
		return nil, errors.Join(ErrPopupBlocked, err)
	}

	attempt := &Attempt{
		ID:        uuid.NewString(),
		LoginURL:  url,
		StartedAt: time.Now(),
	}

	c.mu.Lock()
	c.attempt = attempt
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	if c.cfg.HandshakeTimeout > 0 {
		id := attempt.ID
		c.watchdog = time.AfterFunc(c.cfg.HandshakeTimeout, func() { c.expire(id) })
	}
	c.mu.Unlock()

	c.log.Info("link handshake opened", "attemptID", attempt.ID)
	return &Attempt{ID: attempt.ID, LoginURL: attempt.LoginURL, StartedAt: attempt.StartedAt}, nil
}

// HandleMessage processes one completion message from a child window.
// Untrusted origins are dropped (counted, logged, and published, but
// never surfaced to the sender). Unrecognized payloads are ignored.
func (c *Coordinator) HandleMessage(origin string, raw []byte) {
	if !c.trusted(origin) {
		n := c.dropped.Add(1)
		c.log.Warn("dropped message from untrusted origin", "origin", origin, "dropped", n)
		if err := c.audit.RecordLinkEvent(context.Background(), cache.EventDroppedOrigin, origin); err != nil {
			c.log.Error("recording dropped-origin event", "err", err)
		}
		c.events.MessageDropped(origin)
		return
	}

	msg, err := DecodeMessage(raw)
	if err != nil {
		c.log.Debug("ignoring unrecognized link message", "origin", origin)
		return
	}

	switch m := msg.(type) {
	case SuccessMessage:
		c.concludeAttempt("")
		c.setStatus(domain.Connected)
	case TokenMessage:
		c.concludeAttempt(m.AccessToken)
		c.setStatus(domain.Connected)
	case FailureMessage:
		c.concludeAttempt("")
		c.setStatus(domain.NotConnectedExplicit)
	case ErrorMessage:
		c.log.Info("link handshake reported error", "reason", m.Reason)
		c.concludeAttempt("")
		c.setStatus(domain.NotConnectedExplicit)
	}
}

// DroppedCount returns how many untrusted-origin messages were dropped.
func (c *Coordinator) DroppedCount() uint64 {
	return c.dropped.Load()
}

// Profile returns the latest fetched profile snapshot and the captured
// message of the last failed fetch, if any.
func (c *Coordinator) Profile() (*domain.BrokerProfile, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile == nil {
		return nil, c.fetchErr
	}
	p := *c.profile
	return &p, c.fetchErr
}

// AccessToken returns the broker access token delivered by the child
// window, or "" when none has arrived.
func (c *Coordinator) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// run reacts to connection-status changes. Every actual change triggers
// exactly one profile fetch, whatever the new value is. The explicit
// logout reset is the one exception; it tears state down instead.
func (c *Coordinator) run(ch <-chan session.StatusEvent) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			c.recordStatus(evt)
			if evt.Cause == session.CauseReset {
				c.resetState()
				continue
			}
			c.fetchProfile()
		}
	}
}

// recordStatus audits and publishes one status change.
func (c *Coordinator) recordStatus(evt session.StatusEvent) {
	if err := c.audit.RecordLinkEvent(context.Background(), cache.EventStatusChange, evt.Status.String()); err != nil {
		c.log.Error("recording status-change event", "err", err)
	}
	c.events.StatusChanged(evt.Status, string(evt.Cause))
	c.log.Info("connection status changed", "status", evt.Status.String(), "cause", evt.Cause)
}

// fetchProfile performs the single attempt-once profile read and folds
// its outcome back into the status. Failures never propagate; they
// become the captured fetch error plus a forced NotConnectedExplicit.
func (c *Coordinator) fetchProfile() {
	profile, err := c.gw.Profile(context.Background())
	if err != nil {
		c.mu.Lock()
		c.profile = nil
		c.fetchErr = err.Error()
		c.mu.Unlock()

		// A 403 has already logged the session out atomically; the
		// reset must not be overridden with NotConnectedExplicit.
		if errors.Is(err, gateway.ErrSessionExpired) {
			c.log.Warn("profile fetch hit expired session")
			return
		}
		c.log.Warn("profile fetch failed", "err", err)
		if c.sessions.LoggedIn() {
			c.setStatusCause(domain.NotConnectedExplicit, session.CauseProfileFetch)
		}
		return
	}

	c.mu.Lock()
	c.profile = profile
	c.fetchErr = ""
	c.mu.Unlock()

	c.log.Info("profile fetched", "brokerUserID", profile.UserID)
	// A logout racing the fetch wins; a stale result must not revive
	// the status.
	if c.sessions.LoggedIn() {
		c.setStatusCause(domain.Connected, session.CauseProfileFetch)
	}
}

// expire abandons a handshake whose completion message never arrived.
func (c *Coordinator) expire(attemptID string) {
	c.mu.Lock()
	if c.attempt == nil || c.attempt.ID != attemptID || c.attempt.concluded {
		c.mu.Unlock()
		return
	}
	c.attempt.concluded = true
	c.mu.Unlock()

	c.log.Warn("link handshake timed out", "attemptID", attemptID)
	c.setStatus(domain.NotConnectedExplicit)
}

func (c *Coordinator) concludeAttempt(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != nil {
		c.attempt.concluded = true
	}
	if accessToken != "" {
		c.accessToken = accessToken
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}

func (c *Coordinator) resetState() {
	c.mu.Lock()
	c.attempt = nil
	c.profile = nil
	c.accessToken = ""
	c.fetchErr = ""
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	c.mu.Unlock()
}

func (c *Coordinator) setStatus(status domain.ConnectionStatus) {
	c.setStatusCause(status, session.CauseLinkMessage)
}

func (c *Coordinator) setStatusCause(status domain.ConnectionStatus, cause session.Cause) {
	c.sessions.SetStatus(status, cause)
}

func (c *Coordinator) trusted(origin string) bool {
	for _, o := range c.cfg.TrustedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}
