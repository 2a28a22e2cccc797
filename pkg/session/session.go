package session

import (
	"time"
)

// Session is an authenticated account session. Values are immutable once
// returned by the Manager; a refresh yields a new value that keeps ID.
type Session struct {
	// ID identifies the session lineage: the login and every refresh that
	// followed it share one ID.
	ID string `json:"id"`

	// Service is the endpoint authenticated calls go to, normally the
	// account's PDS.
	Service string `json:"service"`

	// Identifier is the handle or email used at login.
	Identifier string `json:"identifier,omitempty"`

	DID    string `json:"did"`
	Handle string `json:"handle"`

	AccessToken  string `json:"accessJwt"`
	RefreshToken string `json:"refreshJwt"`

	// ExpiresAt is when the access token must be refreshed. It is set a
	// little before the token's real expiry.
	ExpiresAt time.Time `json:"expiresAt"`
}

// ExpiredAt reports whether the access token should be treated as expired
// at t.
func (s *Session) ExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// State is the authentication state of a session lineage.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
	// StateExpired is terminal: only a fresh login leaves it.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}
