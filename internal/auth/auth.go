// Package auth obtains bearer tokens for the storage endpoint.
package auth

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"

	"github.com/tdu-cpslab/volp/internal/fault"
)

// DriveFileScope grants access to files created by the recorder
const DriveFileScope = "https://www.googleapis.com/auth/drive.file"

// TokenSource issues access tokens for the given scopes
type TokenSource interface {
	Token(ctx context.Context, scopes ...string) (string, error)
}

// ServiceAccount exchanges a signed JWT for an access token.
// A fresh token is requested on every call.
type ServiceAccount struct {
	key []byte
}

// LoadServiceAccount reads a Google service-account JSON key
func LoadServiceAccount(path string) (*ServiceAccount, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.New(fault.AuthFailure, "auth.load", fmt.Errorf("failed to read credential file: %w", err))
	}
	return NewServiceAccount(key)
}

// NewServiceAccount wraps an in-memory service-account key
func NewServiceAccount(key []byte) (*ServiceAccount, error) {
	if _, err := google.JWTConfigFromJSON(key); err != nil {
		return nil, fault.New(fault.AuthFailure, "auth.load", fmt.Errorf("invalid service account key: %w", err))
	}
	return &ServiceAccount{key: key}, nil
}

// Token implements TokenSource
func (s *ServiceAccount) Token(ctx context.Context, scopes ...string) (string, error) {
	conf, err := google.JWTConfigFromJSON(s.key, scopes...)
	if err != nil {
		return "", fault.New(fault.AuthFailure, "auth.token", err)
	}

	tok, err := conf.TokenSource(ctx).Token()
	if err != nil {
		return "", fault.New(fault.AuthFailure, "auth.token", fmt.Errorf("token exchange failed: %w", err))
	}
	if tok.AccessToken == "" {
		return "", fault.Errorf(fault.AuthFailure, "auth.token", "token endpoint returned an empty access token")
	}
	return tok.AccessToken, nil
}

// Static is a TokenSource returning a fixed token
type Static string

// Token implements TokenSource
func (s Static) Token(ctx context.Context, scopes ...string) (string, error) {
	if s == "" {
		return "", fault.Errorf(fault.AuthFailure, "auth.token", "no token configured")
	}
	return string(s), nil
}
