package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signingKey struct {
	id  string
	key *ecdsa.PrivateKey
}

func newSigningKey(t *testing.T, id string) signingKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return signingKey{id: id, key: key}
}

func (k signingKey) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = k.id
	signed, err := token.SignedString(k.key)
	require.NoError(t, err)
	return signed
}

// keyServer serves a JWKS document that tests can swap at runtime.
type keyServer struct {
	server *httptest.Server
	calls  atomic.Int32
	status atomic.Int32

	mu   sync.Mutex
	keys []signingKey
	auth string
}

func newKeyServer(t *testing.T, keys ...signingKey) *keyServer {
	t.Helper()
	s := &keyServer{keys: keys}
	s.status.Store(http.StatusOK)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		s.mu.Lock()
		s.auth = r.Header.Get("Authorization")
		keys := append([]signingKey{}, s.keys...)
		s.mu.Unlock()

		if status := int(s.status.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		doc := struct {
			Keys []jose.JSONWebKey `json:"keys"`
		}{}
		for _, k := range keys {
			doc.Keys = append(doc.Keys, jose.JSONWebKey{
				Key:       &k.key.PublicKey,
				KeyID:     k.id,
				Algorithm: "ES256",
				Use:       "sig",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *keyServer) setKeys(keys ...signingKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

func (s *keyServer) lastAuth() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }

func TestSignatureVerifier_Valid(t *testing.T) {
	key := newSigningKey(t, "k1")
	keys := newKeyServer(t, key)
	verifier := NewSignatureVerifier(SignatureVerifierConfig{ProductionJWKSURL: keys.server.URL})

	token := key.sign(t, jwt.MapClaims{"notificationType": "TEST"})

	require.NoError(t, verifier.Verify(context.Background(), token))
	require.NoError(t, verifier.Verify(context.Background(), token))
	assert.Equal(t, int32(1), keys.calls.Load(), "second verify should use the cached key set")
}

func TestSignatureVerifier_TamperedPayload(t *testing.T) {
	key := newSigningKey(t, "k1")
	keys := newKeyServer(t, key)
	verifier := NewSignatureVerifier(SignatureVerifierConfig{ProductionJWKSURL: keys.server.URL})

	token := key.sign(t, jwt.MapClaims{"notificationType": "DID_RENEW"})
	other := key.sign(t, jwt.MapClaims{"notificationType": "REFUND"})
	parts := strings.Split(token, ".")
	parts[1] = strings.Split(other, ".")[1]

	err := verifier.Verify(context.Background(), strings.Join(parts, "."))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestSignatureVerifier_UnknownKey(t *testing.T) {
	published := newSigningKey(t, "k1")
	attacker := newSigningKey(t, "k1")
	keys := newKeyServer(t, published)
	verifier := NewSignatureVerifier(SignatureVerifierConfig{ProductionJWKSURL: keys.server.URL})

	err := verifier.Verify(context.Background(), attacker.sign(t, jwt.MapClaims{"a": 1}))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestSignatureVerifier_SandboxFallback(t *testing.T) {
	production := newKeyServer(t, newSigningKey(t, "prod"))
	sandboxKey := newSigningKey(t, "sandbox")
	sandbox := newKeyServer(t, sandboxKey)

	verifier := NewSignatureVerifier(SignatureVerifierConfig{
		ProductionJWKSURL: production.server.URL,
		SandboxJWKSURL:    sandbox.server.URL,
	})

	require.NoError(t, verifier.Verify(context.Background(), sandboxKey.sign(t, jwt.MapClaims{"a": 1})))
	assert.Equal(t, int32(1), production.calls.Load())
	assert.Equal(t, int32(1), sandbox.calls.Load())
}

func TestSignatureVerifier_RejectsAlgorithm(t *testing.T) {
	keys := newKeyServer(t, newSigningKey(t, "k1"))
	verifier := NewSignatureVerifier(SignatureVerifierConfig{ProductionJWKSURL: keys.server.URL})

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"a": 1})
	token, err := hs.SignedString([]byte("secret"))
	require.NoError(t, err)

	err = verifier.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	assert.Equal(t, int32(0), keys.calls.Load())
}

func TestSignatureVerifier_Malformed(t *testing.T) {
	verifier := NewSignatureVerifier(SignatureVerifierConfig{ProductionJWKSURL: "http://127.0.0.1:1"})

	for _, token := range []string{"", "a.b", "not-base64!.x.y"} {
		assert.ErrorIs(t, verifier.Verify(context.Background(), token), ErrSignatureInvalid, token)
	}
}

func TestSignatureVerifier_KeysUnavailable(t *testing.T) {
	key := newSigningKey(t, "k1")
	keys := newKeyServer(t, key)
	keys.status.Store(http.StatusServiceUnavailable)
	verifier := NewSignatureVerifier(SignatureVerifierConfig{ProductionJWKSURL: keys.server.URL})

	err := verifier.Verify(context.Background(), key.sign(t, jwt.MapClaims{"a": 1}))
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, ErrSignatureInvalid)
}

func TestSignatureVerifier_RefreshesAfterRotation(t *testing.T) {
	oldKey := newSigningKey(t, "old")
	newKey := newSigningKey(t, "new")
	keys := newKeyServer(t, oldKey)
	verifier := NewSignatureVerifier(SignatureVerifierConfig{ProductionJWKSURL: keys.server.URL})

	require.NoError(t, verifier.Verify(context.Background(), oldKey.sign(t, jwt.MapClaims{"a": 1})))

	keys.setKeys(newKey)
	require.NoError(t, verifier.Verify(context.Background(), newKey.sign(t, jwt.MapClaims{"a": 2})))
	assert.Equal(t, int32(2), keys.calls.Load())
}

func TestSignatureVerifier_SendsDeveloperToken(t *testing.T) {
	key := newSigningKey(t, "k1")
	keys := newKeyServer(t, key)
	verifier := NewSignatureVerifier(SignatureVerifierConfig{
		ProductionJWKSURL: keys.server.URL,
		Tokens:            staticTokens("dev-token"),
	})

	require.NoError(t, verifier.Verify(context.Background(), key.sign(t, jwt.MapClaims{"a": 1})))
	assert.Equal(t, "Bearer dev-token", keys.lastAuth())
}

func TestDecodePayload(t *testing.T) {
	key := newSigningKey(t, "k1")
	token := key.sign(t, jwt.MapClaims{"notificationType": "DID_RENEW", "notificationUUID": "abc"})

	var payload struct {
		NotificationType string `json:"notificationType"`
		NotificationUUID string `json:"notificationUUID"`
	}
	require.NoError(t, DecodePayload(token, &payload))
	assert.Equal(t, "DID_RENEW", payload.NotificationType)
	assert.Equal(t, "abc", payload.NotificationUUID)

	assert.Error(t, DecodePayload("only.two", &payload))
}
