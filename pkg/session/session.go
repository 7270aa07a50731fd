// Package session holds the client's credentials and wraps outbound calls
// with transparent token renewal. Sessions are injectable objects with an
// explicit lifecycle so tests construct isolated instances instead of
// sharing process-global token state.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ErrExpired is returned when the session cannot be renewed: the refresh
// call failed, or a request was rejected again right after renewal.
var ErrExpired = errors.New("session expired")

// Credentials is the current access/refresh token pair.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Session is the process-wide credential store. Created at login, mutated by
// the Guard on renewal, destroyed at logout or irrecoverable renewal failure.
type Session struct {
	mu        sync.RWMutex
	creds     Credentials
	expiresAt time.Time
	logger    *slog.Logger
}

// New constructs an empty (logged-out) session.
func New(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{logger: logger}
}

// SetCredentials installs a token pair. The access token's exp claim is read
// without verification for logging only; expiry is authoritative on the
// server and discovered through 401 responses.
func (s *Session) SetCredentials(c Credentials) {
	expiresAt := tokenExpiry(c.AccessToken)
	s.mu.Lock()
	s.creds = c
	s.expiresAt = expiresAt
	s.mu.Unlock()
	if !expiresAt.IsZero() {
		s.logger.Debug("session credentials set", "expiresAt", expiresAt)
	}
}

// Clear drops the credentials (logout).
func (s *Session) Clear() {
	s.mu.Lock()
	s.creds = Credentials{}
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

// AccessToken returns the current access token, empty when logged out.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken
}

// RefreshToken returns the current refresh token, empty when logged out.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.RefreshToken
}

// Active reports whether the session holds credentials.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken != ""
}

// ExpiresAt returns the access token's claimed expiry, zero when unknown.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
