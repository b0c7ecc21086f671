package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/wirerelay-server/internal/store/sqlite"
)

func newTestAuthService(t *testing.T) *Service {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return NewService(st, jwtConfig)
}

func TestSignUp_RejectsInvalidIdentity(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "   ", "", "password123"); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
	if _, err := svc.SignUp(ctx, strings.Repeat("9", 65), "", "password123"); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity for long identity, got %v", err)
	}
}

func TestSignUp_RejectsInvalidPassword(t *testing.T) {
	svc := newTestAuthService(t)

	if _, err := svc.SignUp(context.Background(), "+15550001", "", "12345"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestSignUp_TrimsIdentityAndRejectsDuplicate(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	token, err := svc.SignUp(ctx, " +15550001 ", "Alice", "password123")
	if err != nil {
		t.Fatalf("expected sign up success, got %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.Identity() != "+15550001" || claims.DisplayName != "Alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := svc.SignUp(ctx, "+15550001", "", "password123"); !errors.Is(err, ErrIdentityExists) {
		t.Fatalf("expected ErrIdentityExists, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "alice", "", "password123"); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	if _, err := svc.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown identity, got %v", err)
	}

	token, err := svc.Login(ctx, " alice", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	identity, err := svc.Authenticate(token)
	if err != nil || identity != "alice" {
		t.Fatalf("Authenticate = %q, %v", identity, err)
	}
}

func TestValidateToken_RejectsForeignTokens(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("one"), Issuer: "wirerelay", Audience: "clients", TTL: time.Hour}

	token, err := GenerateToken(cfg, "alice", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	tests := []struct {
		name string
		cfg  *JWTConfig
	}{
		{name: "wrong secret", cfg: &JWTConfig{Secret: []byte("two"), Issuer: "wirerelay", Audience: "clients"}},
		{name: "wrong issuer", cfg: &JWTConfig{Secret: []byte("one"), Issuer: "other", Audience: "clients"}},
		{name: "wrong audience", cfg: &JWTConfig{Secret: []byte("one"), Issuer: "wirerelay", Audience: "admins"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateToken(tt.cfg, token); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	expired := &JWTConfig{Secret: []byte("one"), TTL: -time.Minute}
	old, err := GenerateToken(expired, "alice", "")
	if err != nil {
		t.Fatalf("generate expired: %v", err)
	}
	if _, err := ValidateToken(expired, old); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
