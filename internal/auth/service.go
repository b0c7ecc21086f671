package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/vovakirdan/wirerelay-server/internal/core"
	"github.com/vovakirdan/wirerelay-server/internal/store"
)

const (
	minPasswordLen    = 6
	maxDisplayNameLen = 64
)

var (
	// ErrInvalidCredentials is returned when identity/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrIdentityExists is returned when signing up an identity that already has a profile.
	ErrIdentityExists = errors.New("identity already exists")
	// ErrInvalidIdentity is returned when the identity doesn't meet constraints.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Service provides authentication operations on top of the profile store.
type Service struct {
	store     store.ProfileStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(profiles store.ProfileStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     profiles,
		jwtConfig: jwtConfig,
	}
}

// SignUp creates a profile with a hashed password and returns a JWT token.
func (s *Service) SignUp(ctx context.Context, identity, displayName, password string) (string, error) {
	identity, err := core.NormalizeIdentity(identity)
	if err != nil {
		return "", ErrInvalidIdentity
	}
	if len(password) < minPasswordLen {
		return "", ErrInvalidPassword
	}
	if len(displayName) > maxDisplayNameLen {
		displayName = displayName[:maxDisplayNameLen]
	}

	_, err = s.store.GetProfile(ctx, identity)
	switch {
	case err == nil:
		return "", ErrIdentityExists
	case !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("get profile: %w", err)
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return "", err
	}

	profile, err := s.store.CreateProfile(ctx, identity, displayName, hashedPassword)
	if err != nil {
		return "", fmt.Errorf("create profile: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, profile.Identity, profile.DisplayName)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// Login validates credentials and returns a JWT token.
func (s *Service) Login(ctx context.Context, identity, password string) (string, error) {
	identity, err := core.NormalizeIdentity(identity)
	if err != nil {
		return "", ErrInvalidCredentials
	}

	profile, err := s.store.GetProfile(ctx, identity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("get profile: %w", err)
	}
	if profile.PasswordHash == "" {
		return "", ErrInvalidCredentials
	}
	if errPwd := ComparePassword(profile.PasswordHash, password); errPwd != nil {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, profile.Identity, profile.DisplayName)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// Authenticate resolves a token to its identity. It satisfies core.Authenticator.
func (s *Service) Authenticate(token string) (string, error) {
	claims, err := s.ValidateToken(token)
	if err != nil {
		return "", err
	}
	return claims.Identity(), nil
}
