package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"doctrack/pkg/backend"
)

// RenewFunc exchanges a refresh token for a new access/refresh pair.
type RenewFunc func(ctx context.Context, refreshToken string) (access, refresh string, err error)

// Guard wraps outbound calls with the current access token and recovers from
// an expired token exactly once per call. Concurrent 401s share one renewal
// (single-flight); a second 401 after renewal, or a failed renewal, tears the
// session down.
type Guard struct {
	session *Session
	renew   RenewFunc
	group   singleflight.Group
	logger  *slog.Logger

	mu         sync.Mutex
	onTeardown []func()
}

// NewGuard wires a guard to a session and a renewal function.
func NewGuard(session *Session, renew RenewFunc, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{session: session, renew: renew, logger: logger}
}

// OnTeardown registers a hook run when the session is torn down (pollers are
// halted this way, since no authenticated call can succeed afterward).
func (g *Guard) OnTeardown(fn func()) {
	g.mu.Lock()
	g.onTeardown = append(g.onTeardown, fn)
	g.mu.Unlock()
}

// Call invokes fn with the current access token. On an authorization failure
// it renews once and retries once; any other error passes through unchanged.
func (g *Guard) Call(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	token := g.session.AccessToken()
	err := fn(ctx, token)
	if err == nil || !backend.IsAuthError(err) {
		return err
	}

	newToken, renewErr := g.renewToken(ctx, token)
	if renewErr != nil {
		g.logger.Warn("session renewal failed", "error", renewErr)
		g.teardown()
		return fmt.Errorf("%w: %v", ErrExpired, renewErr)
	}

	err = fn(ctx, newToken)
	if err != nil && backend.IsAuthError(err) {
		g.logger.Warn("request rejected again after renewal")
		g.teardown()
		return fmt.Errorf("%w: request rejected after renewal", ErrExpired)
	}
	return err
}

// renewToken returns a token that is newer than usedToken. If another caller
// already renewed while our request was in flight, the fresh token is reused;
// otherwise all concurrent callers join a single refresh call.
func (g *Guard) renewToken(ctx context.Context, usedToken string) (string, error) {
	if cur := g.session.AccessToken(); cur != "" && cur != usedToken {
		return cur, nil
	}
	v, err, _ := g.group.Do("renew", func() (any, error) {
		refreshToken := g.session.RefreshToken()
		if refreshToken == "" {
			return nil, errors.New("no refresh token")
		}
		access, refresh, err := g.renew(ctx, refreshToken)
		if err != nil {
			return nil, fmt.Errorf("refresh token: %w", err)
		}
		g.session.SetCredentials(Credentials{AccessToken: access, RefreshToken: refresh})
		g.logger.Info("session renewed")
		return access, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (g *Guard) teardown() {
	g.session.Clear()
	g.mu.Lock()
	hooks := make([]func(), len(g.onTeardown))
	copy(hooks, g.onTeardown)
	g.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
