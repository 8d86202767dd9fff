package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPrivateKeyPEM(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func TestDeveloperTokenSource_MissingCredentials(t *testing.T) {
	source, err := NewDeveloperTokenSource("", "KEY", "com.example", "pem")
	require.NoError(t, err)
	assert.Nil(t, source)

	token, err := source.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestDeveloperTokenSource_BadKey(t *testing.T) {
	_, err := NewDeveloperTokenSource("issuer", "KEY", "com.example", "not a pem")
	assert.Error(t, err)
}

func TestDeveloperTokenSource_Claims(t *testing.T) {
	key, keyPEM := newTestPrivateKeyPEM(t)
	source, err := NewDeveloperTokenSource("issuer-1", "KEY123", "com.example.app", keyPEM)
	require.NoError(t, err)

	token, err := source.Token(context.Background())
	require.NoError(t, err)

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithAudience("appstoreconnect-v1"), jwt.WithIssuer("issuer-1"))
	require.NoError(t, err)

	assert.Equal(t, "KEY123", parsed.Header["kid"])
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "com.example.app", claims["bid"])

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	iat, err := claims.GetIssuedAt()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, exp.Sub(iat.Time))
}

func TestDeveloperTokenSource_Caches(t *testing.T) {
	_, keyPEM := newTestPrivateKeyPEM(t)
	source, err := NewDeveloperTokenSource("issuer-1", "KEY123", "", keyPEM)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	source.now = func() time.Time { return now }

	first, err := source.Token(context.Background())
	require.NoError(t, err)

	now = now.Add(18 * time.Minute)
	second, err := source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	now = now.Add(2 * time.Minute)
	third, err := source.Token(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}
