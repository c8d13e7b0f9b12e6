package session

import (
	"context"
	"errors"
	"time"
)

// Credentials is one cached token pair tied to a user. A refresh replaces
// the pair in place; the logical session survives.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
}

// Valid reports whether the access token is nominally unexpired at now.
func (c *Credentials) Valid(now time.Time) bool {
	return c != nil && now.Before(c.ExpiresAt)
}

// ExpiringSoon reports whether the credential is inside the proactive
// refresh window.
func (c *Credentials) ExpiringSoon(now time.Time, skew time.Duration) bool {
	return c != nil && c.ExpiresAt.Sub(now) < skew
}

// Provider is the external identity provider seam: exchange a refresh token
// for a fresh pair, or revoke one.
type Provider interface {
	// Refresh returns a new credential pair for the same logical session.
	// It returns ErrRefreshRejected when the refresh token is invalid or
	// expired; any other error is treated as transient.
	Refresh(ctx context.Context, refreshToken string) (*Credentials, error)

	// Revoke invalidates the pair on the provider side. Best effort.
	Revoke(ctx context.Context, refreshToken string) error
}

// Verifier validates a bearer access token and yields the stable user id.
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (string, error)
}

var (
	// ErrNoCredential means no usable credential is cached.
	ErrNoCredential = errors.New("no session credential")

	// ErrRefreshRejected is the terminal refresh failure: the refresh token
	// itself is invalid or expired. The session is destroyed.
	ErrRefreshRejected = errors.New("refresh token rejected")

	// ErrRefreshTransient wraps network/timeout failures during refresh.
	ErrRefreshTransient = errors.New("transient refresh failure")

	// ErrUnauthorized is the signal consumers return from Manager.Do when a
	// downstream call was rejected with an authorization failure.
	ErrUnauthorized = errors.New("request unauthorized")

	// ErrInvalidToken is returned by verifiers for unknown/expired tokens.
	ErrInvalidToken = errors.New("invalid access token")
)

// EventType classifies session transitions published to subscribers.
type EventType string

const (
	EventRefreshed EventType = "refreshed"
	EventSignedOut EventType = "signed-out"
)

// Event is one session transition.
type Event struct {
	Type        EventType
	Credentials *Credentials
}
