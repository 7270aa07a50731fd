package session

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestSessionLifecycle(t *testing.T) {
	s := New(nil)
	if s.Active() {
		t.Fatalf("fresh session should be inactive")
	}

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	s.SetCredentials(Credentials{AccessToken: mintToken(t, exp), RefreshToken: "refresh-1"})
	if !s.Active() {
		t.Fatalf("session should be active after login")
	}
	if got := s.ExpiresAt(); !got.Equal(exp) {
		t.Fatalf("expiry from claims: got %v, want %v", got, exp)
	}
	if s.RefreshToken() != "refresh-1" {
		t.Fatalf("refresh token not stored")
	}

	s.Clear()
	if s.Active() || s.AccessToken() != "" || s.RefreshToken() != "" {
		t.Fatalf("clear did not drop credentials")
	}
}

func TestSetCredentialsToleratesOpaqueTokens(t *testing.T) {
	s := New(nil)
	s.SetCredentials(Credentials{AccessToken: "not-a-jwt", RefreshToken: "r"})
	if !s.Active() {
		t.Fatalf("opaque tokens are still valid credentials")
	}
	if !s.ExpiresAt().IsZero() {
		t.Fatalf("expiry should be unknown for opaque tokens")
	}
}
