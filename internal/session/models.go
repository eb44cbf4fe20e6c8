package session

import "time"

// Session is the vendor authorization context. It is only ever replaced
// whole; readers hold immutable snapshots.
type Session struct {
	PhoneNumber  string    `json:"phone_number"`
	DeviceID     string    `json:"device_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	SSOToken     string    `json:"sso_token"`
	JToken       string    `json:"j_token,omitempty"`
	UserID       string    `json:"user_id"`
	UniqueID     string    `json:"unique_id"`
	SubscriberID string    `json:"subscriber_id"`
	CRMID        string    `json:"crm_id"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether s carries everything needed to authorize a call.
func (s *Session) Valid() bool {
	return s != nil &&
		s.DeviceID != "" &&
		s.AccessToken != "" &&
		s.RefreshToken != "" &&
		s.SSOToken != ""
}

// Expired reports whether s has passed its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// State is the Manager's position in the login lifecycle.
type State int

const (
	StateLoggedOut State = iota
	StateAuthenticating
	StateAuthenticated
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}
