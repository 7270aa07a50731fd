package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"doctrack/pkg/backend"
)

func authErr() error {
	return &backend.APIError{Status: http.StatusUnauthorized, Message: "token expired"}
}

func TestCallRetriesOnceAfterRenewal(t *testing.T) {
	sess := New(nil)
	sess.SetCredentials(Credentials{AccessToken: "old", RefreshToken: "refresh-1"})

	var renewCalls int32
	guard := NewGuard(sess, func(ctx context.Context, refreshToken string) (string, string, error) {
		atomic.AddInt32(&renewCalls, 1)
		if refreshToken != "refresh-1" {
			t.Errorf("unexpected refresh token %q", refreshToken)
		}
		return "new", "refresh-2", nil
	}, nil)

	var calls []string
	err := guard.Call(context.Background(), func(ctx context.Context, token string) error {
		calls = append(calls, token)
		if token == "old" {
			return authErr()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if atomic.LoadInt32(&renewCalls) != 1 {
		t.Fatalf("want 1 renewal, got %d", renewCalls)
	}
	if len(calls) != 2 || calls[0] != "old" || calls[1] != "new" {
		t.Fatalf("unexpected call sequence: %v", calls)
	}
	if sess.RefreshToken() != "refresh-2" {
		t.Fatalf("refresh token not rotated")
	}
}

func TestConcurrent401sShareOneRenewal(t *testing.T) {
	sess := New(nil)
	sess.SetCredentials(Credentials{AccessToken: "old", RefreshToken: "refresh-1"})

	var renewCalls int32
	guard := NewGuard(sess, func(ctx context.Context, refreshToken string) (string, string, error) {
		atomic.AddInt32(&renewCalls, 1)
		time.Sleep(30 * time.Millisecond) // hold the flight open so callers pile up
		return "new", "refresh-2", nil
	}, nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = guard.Call(context.Background(), func(ctx context.Context, token string) error {
				if token == "old" {
					return authErr()
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d failed: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&renewCalls); got != 1 {
		t.Fatalf("want exactly 1 refresh call, got %d", got)
	}
}

func TestRenewalFailureTearsDown(t *testing.T) {
	sess := New(nil)
	sess.SetCredentials(Credentials{AccessToken: "old", RefreshToken: "refresh-1"})

	guard := NewGuard(sess, func(ctx context.Context, refreshToken string) (string, string, error) {
		return "", "", errors.New("refresh rejected")
	}, nil)
	var tornDown atomic.Bool
	guard.OnTeardown(func() { tornDown.Store(true) })

	err := guard.Call(context.Background(), func(ctx context.Context, token string) error {
		return authErr()
	})
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
	if !tornDown.Load() {
		t.Fatalf("teardown hook not called")
	}
	if sess.Active() {
		t.Fatalf("session should be cleared")
	}
}

func TestSecond401AfterRenewalTearsDown(t *testing.T) {
	sess := New(nil)
	sess.SetCredentials(Credentials{AccessToken: "old", RefreshToken: "refresh-1"})

	var renewCalls int32
	guard := NewGuard(sess, func(ctx context.Context, refreshToken string) (string, string, error) {
		atomic.AddInt32(&renewCalls, 1)
		return "new", "refresh-2", nil
	}, nil)
	var tornDown atomic.Bool
	guard.OnTeardown(func() { tornDown.Store(true) })

	err := guard.Call(context.Background(), func(ctx context.Context, token string) error {
		return authErr() // rejected regardless of token
	})
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
	if got := atomic.LoadInt32(&renewCalls); got != 1 {
		t.Fatalf("renewal must not loop, got %d calls", got)
	}
	if !tornDown.Load() {
		t.Fatalf("teardown hook not called")
	}
}

func TestNonAuthErrorsPassThrough(t *testing.T) {
	sess := New(nil)
	sess.SetCredentials(Credentials{AccessToken: "tok", RefreshToken: "refresh-1"})

	guard := NewGuard(sess, func(ctx context.Context, refreshToken string) (string, string, error) {
		t.Fatal("renewal must not run for non-auth errors")
		return "", "", nil
	}, nil)

	wantErr := errors.New("connection refused")
	err := guard.Call(context.Background(), func(ctx context.Context, token string) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("want passthrough error, got %v", err)
	}
}
