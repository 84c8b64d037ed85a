package session

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated backend user for a session, recovered from
// the stored access token.
type Identity struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// LoadIdentity reads the session's access token file and extracts the user
// id from its claims. The token is issued and signed by the backend; the
// daemon only carries it, so the signature is not verified locally.
func LoadIdentity(name string) (*Identity, error) {
	raw, err := os.ReadFile(TokenPath(name))
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	return ParseIdentity(strings.TrimSpace(string(raw)))
}

// ParseIdentity extracts the user id and expiry from a raw access token.
func ParseIdentity(token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("empty access token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("token has no subject claim")
	}

	id := &Identity{UserID: sub, Token: token}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

// Expired reports whether the token carries an expiry in the past.
func (i *Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && i.ExpiresAt.Before(now)
}

// SaveToken writes an access token for the session with tight permissions.
func SaveToken(name, token string) error {
	if err := EnsureDir(name); err != nil {
		return err
	}
	return os.WriteFile(TokenPath(name), []byte(token+"\n"), 0600)
}
