package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccountIDPrefix is prepended to the uid to form the stable account key.
const AccountIDPrefix = "firebase_"

// Credential is an identity token presented when announcing a connection.
type Credential struct {
	IDToken   string
	UID       string
	ExpiresAt time.Time
}

// AccountID returns the stable account key of the credential, or "" when it has no uid.
func (c *Credential) AccountID() string {
	if c == nil || c.UID == "" {
		return ""
	}
	return AccountIDPrefix + c.UID
}

// Expired reports whether the credential expires within leeway of now.
func (c *Credential) Expired(now time.Time, leeway time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(c.ExpiresAt)
}

// CredentialProvider acquires a credential. It is invoked once per connect attempt.
type CredentialProvider interface {
	Credential(ctx context.Context) (*Credential, error)
}

// TokenClaims are the claims read from a Firebase id token.
type TokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UID returns the subject of the token, falling back to the user_id claim.
func (c *TokenClaims) UID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

// ParseIDToken reads the claims of an id token without verifying its
// signature. Verification is the server's job; the client only needs the
// uid and the expiry.
func ParseIDToken(idToken string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse id token: %w", err)
	}
	return claims, nil
}

// NewCredential builds a credential from an id token.
func NewCredential(idToken string) (*Credential, error) {
	claims, err := ParseIDToken(idToken)
	if err != nil {
		return nil, err
	}
	cred := &Credential{
		IDToken: idToken,
		UID:     claims.UID(),
	}
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}
	return cred, nil
}

// StaticProvider always returns the same token.
type StaticProvider struct {
	IDToken string
}

func (p *StaticProvider) Credential(ctx context.Context) (*Credential, error) {
	if p.IDToken == "" {
		return nil, fmt.Errorf("no id token configured")
	}
	return NewCredential(p.IDToken)
}

// ProviderFunc adapts a function to CredentialProvider.
type ProviderFunc func(ctx context.Context) (*Credential, error)

func (f ProviderFunc) Credential(ctx context.Context) (*Credential, error) {
	return f(ctx)
}
