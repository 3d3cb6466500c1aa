// Package domain defines the core types shared across the ProfitPulse
// dashboard backend: sessions, broker link state, and broker profiles.
package domain

// ConnectionStatus is the tri-state flag describing whether the user's
// broker account is currently linked.
type ConnectionStatus int

const (
	// NotConnected is the initial state: no link attempt has concluded.
	NotConnected ConnectionStatus = iota
	// Connected means the broker handshake completed successfully or a
	// profile fetch confirmed the link.
	Connected
	// NotConnectedExplicit means a link attempt or profile fetch failed.
	// Distinct from NotConnected so the dashboard can tell "never tried"
	// from "tried and failed".
	NotConnectedExplicit
)

// String renders the labels used on the wire and in the dashboard UI.
func (s ConnectionStatus) String() string {
	switch s {
	case Connected:
		return "Service Connected"
	case NotConnectedExplicit:
		return "Service Not Connected"
	default:
		return "Not Connected"
	}
}

// Session is an authenticated identity returned by the gateway login.
type Session struct {
	UserID    string `json:"userId,omitempty"`
	Email     string `json:"EMAIL"`
	Role      string `json:"role,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Token     string `json:"token"`
}

// LoginDetails is the persisted mirror of a session, stored under the
// "LoginDetails" key in the local cache so a restart can rehydrate the
// session without a fresh login.
type LoginDetails struct {
	Email     string `json:"EMAIL"`
	Password  string `json:"PASSWORD"`
	UserID    string `json:"userId,omitempty"`
	Role      string `json:"role,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Token     string `json:"token"`
}

// Session converts persisted login details back into a live session.
func (d *LoginDetails) Session() *Session {
	return &Session{
		UserID:    d.UserID,
		Email:     d.Email,
		Role:      d.Role,
		FirstName: d.FirstName,
		LastName:  d.LastName,
		Token:     d.Token,
	}
}

// BrokerCredentials is the API key/secret pair the user enters on the
// credential screen. Held in memory only; never persisted.
type BrokerCredentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// ProfileMeta carries broker account metadata flags.
type ProfileMeta struct {
	DematConsent string `json:"demat_consent"`
}

// BrokerProfile is the read-only account snapshot returned by the
// gateway's /zerodha/profile endpoint after a successful link.
type BrokerProfile struct {
	UserID     string      `json:"user_id"`
	UserType   string      `json:"user_type"`
	Email      string      `json:"email"`
	UserName   string      `json:"user_name"`
	Broker     string      `json:"broker"`
	Exchanges  []string    `json:"exchanges"`
	Products   []string    `json:"products"`
	OrderTypes []string    `json:"order_types"`
	Meta       ProfileMeta `json:"meta"`
}
