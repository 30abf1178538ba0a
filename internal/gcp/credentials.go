package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CloudPlatformScope is the OAuth2 scope Document AI requires.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// TokenSource hands out bearer tokens from Application Default Credentials.
// The underlying oauth2 source caches the token and refreshes it before expiry,
// and is safe for concurrent use.
type TokenSource struct {
	src oauth2.TokenSource
}

// NewDefaultTokenSource builds a TokenSource from Application Default Credentials.
func NewDefaultTokenSource(ctx context.Context) (*TokenSource, error) {
	src, err := google.DefaultTokenSource(ctx, CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("failed to find default credentials: %w", err)
	}
	return &TokenSource{src: src}, nil
}

// NewTokenSource wraps an existing oauth2.TokenSource.
func NewTokenSource(src oauth2.TokenSource) *TokenSource {
	return &TokenSource{src: src}
}

// Token returns a valid access token, refreshing it when needed.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := t.src.Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh access token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("credential provider returned an empty access token")
	}
	slog.Debug("Access token ready.", "expiry", tok.Expiry)
	return tok.AccessToken, nil
}

// StaticToken is a fixed bearer token, used for local runs via DOCAI_ACCESS_TOKEN.
type StaticToken string

// Token returns the fixed token.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("static access token is empty")
	}
	return string(s), nil
}
