package services

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	developerTokenAudience = "appstoreconnect-v1"
	developerTokenLifetime = 20 * time.Minute
	developerTokenLeeway   = time.Minute
)

// DeveloperTokenSource signs App Store Connect API tokens with the team's
// private key and reuses each one until shortly before it expires.
type DeveloperTokenSource struct {
	issuerID string
	keyID    string
	bundleID string
	key      *ecdsa.PrivateKey

	mutex     sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

// NewDeveloperTokenSource parses privateKeyPEM. It returns a nil source and no
// error when any credential is missing, so callers fall back to anonymous requests.
func NewDeveloperTokenSource(issuerID, keyID, bundleID, privateKeyPEM string) (*DeveloperTokenSource, error) {
	if issuerID == "" || keyID == "" || privateKeyPEM == "" {
		return nil, nil
	}
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse App Store private key: %w", err)
	}
	return &DeveloperTokenSource{
		issuerID: issuerID,
		keyID:    keyID,
		bundleID: bundleID,
		key:      key,
		now:      time.Now,
	}, nil
}

// Token returns a valid ES256 token, signing a new one when needed.
func (s *DeveloperTokenSource) Token(ctx context.Context) (string, error) {
	if s == nil {
		return "", nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now().UTC()
	if s.token != "" && now.Before(s.expiresAt.Add(-developerTokenLeeway)) {
		return s.token, nil
	}

	expiresAt := now.Add(developerTokenLifetime)
	claims := jwt.MapClaims{
		"iss": s.issuerID,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
		"aud": developerTokenAudience,
	}
	if s.bundleID != "" {
		claims["bid"] = s.bundleID
	}
	t := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	t.Header["kid"] = s.keyID

	signed, err := t.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign developer token: %w", err)
	}
	s.token = signed
	s.expiresAt = expiresAt
	return signed, nil
}
