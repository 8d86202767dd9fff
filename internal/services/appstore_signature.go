package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"entitlement-api/pkg/logging"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Algorithms accepted on App Store signed payloads. Anything else is rejected
// before key lookup.
var allowedSigningAlgs = map[string]bool{
	"ES256": true,
	"RS256": true,
}

var segmentParser = jwt.NewParser()

// TokenSource supplies the bearer token sent with key set requests.
// An empty token means the request goes out unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// SignatureVerifierConfig configures the JWS verifier
type SignatureVerifierConfig struct {
	ProductionJWKSURL string
	SandboxJWKSURL    string
	CacheTTL          time.Duration
	Timeout           time.Duration
	Tokens            TokenSource
}

type cachedKeySet struct {
	keys      []jose.JSONWebKey
	fetchedAt time.Time
}

// SignatureVerifier App Store 签名验证器
// Verifies compact JWS values against Apple's published key sets, production first.
type SignatureVerifier struct {
	client   *resty.Client
	urls     []string
	cacheTTL time.Duration
	tokens   TokenSource

	mutex sync.RWMutex
	cache map[string]cachedKeySet
	now   func() time.Time
}

// NewSignatureVerifier 创建新的签名验证器
func NewSignatureVerifier(cfg SignatureVerifierConfig) *SignatureVerifier {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	urls := make([]string, 0, 2)
	for _, u := range []string{cfg.ProductionJWKSURL, cfg.SandboxJWKSURL} {
		if u != "" {
			urls = append(urls, u)
		}
	}

	return &SignatureVerifier{
		client:   resty.New().SetTimeout(cfg.Timeout),
		urls:     urls,
		cacheTTL: cfg.CacheTTL,
		tokens:   cfg.Tokens,
		cache:    make(map[string]cachedKeySet),
		now:      time.Now,
	}
}

type jwsHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// Verify checks a compact JWS. It returns an ErrSignatureInvalid error when no
// key validates it and ErrUpstreamUnavailable when no key set could be fetched.
func (v *SignatureVerifier) Verify(ctx context.Context, token string) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return newError(ErrSignatureInvalid, "Invalid signature", fmt.Errorf("expected 3 segments, got %d", len(parts)))
	}

	var header jwsHeader
	if err := DecodeSegment(parts[0], &header); err != nil {
		return newError(ErrSignatureInvalid, "Invalid signature", fmt.Errorf("bad header: %w", err))
	}
	if !allowedSigningAlgs[header.Alg] {
		return newError(ErrSignatureInvalid, "Invalid signature", fmt.Errorf("algorithm %q not allowed", header.Alg))
	}
	method := jwt.GetSigningMethod(header.Alg)
	if method == nil {
		return newError(ErrSignatureInvalid, "Invalid signature", fmt.Errorf("unknown algorithm %q", header.Alg))
	}

	signature, err := segmentParser.DecodeSegment(parts[2])
	if err != nil {
		return newError(ErrSignatureInvalid, "Invalid signature", fmt.Errorf("bad signature segment: %w", err))
	}
	signingString := parts[0] + "." + parts[1]

	fetched := 0
	var lastFetchErr error
	for _, url := range v.urls {
		keys, fromCache, err := v.keySet(ctx, url, false)
		if err != nil {
			lastFetchErr = err
			continue
		}
		fetched++
		if verifyWithKeys(method, signingString, signature, header.Kid, keys) {
			return nil
		}
		if !fromCache {
			continue
		}
		// Apple may have rotated keys since the cache was filled.
		keys, _, err = v.keySet(ctx, url, true)
		if err != nil {
			lastFetchErr = err
			continue
		}
		if verifyWithKeys(method, signingString, signature, header.Kid, keys) {
			return nil
		}
	}

	if fetched == 0 {
		return newError(ErrUpstreamUnavailable, "Signature keys unavailable", lastFetchErr)
	}
	return newError(ErrSignatureInvalid, "Invalid signature", nil)
}

func verifyWithKeys(method jwt.SigningMethod, signingString string, signature []byte, kid string, keys []jose.JSONWebKey) bool {
	for _, key := range keys {
		if kid != "" && key.KeyID != kid {
			continue
		}
		if err := method.Verify(signingString, signature, key.Key); err == nil {
			return true
		}
	}
	return false
}

// keySet returns the key set for url, from cache unless expired or forced.
func (v *SignatureVerifier) keySet(ctx context.Context, url string, force bool) ([]jose.JSONWebKey, bool, error) {
	if !force {
		v.mutex.RLock()
		cached, ok := v.cache[url]
		v.mutex.RUnlock()
		if ok && v.now().Sub(cached.fetchedAt) < v.cacheTTL {
			return cached.keys, true, nil
		}
	}

	keys, err := v.fetchKeySet(ctx, url)
	if err != nil {
		logging.Warnf("Failed to fetch key set - url: %s, error: %v", url, err)
		return nil, false, err
	}

	v.mutex.Lock()
	v.cache[url] = cachedKeySet{keys: keys, fetchedAt: v.now()}
	v.mutex.Unlock()
	return keys, false, nil
}

func (v *SignatureVerifier) fetchKeySet(ctx context.Context, url string) ([]jose.JSONWebKey, error) {
	req := v.client.R().SetContext(ctx).SetHeader("Accept", "application/json")
	if v.tokens != nil {
		token, err := v.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create developer token: %w", err)
		}
		if token != "" {
			req.SetAuthToken(token)
		}
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("key set endpoint returned HTTP %d", resp.StatusCode())
	}

	var raw struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse key set: %w", err)
	}

	keys := make([]jose.JSONWebKey, 0, len(raw.Keys))
	for _, entry := range raw.Keys {
		var key jose.JSONWebKey
		if err := key.UnmarshalJSON(entry); err != nil {
			logging.Debugf("Skipping unusable key in %s: %v", url, err)
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("key set at %s has no usable keys", url)
	}
	return keys, nil
}

// DecodeSegment decodes one base64url JWS segment into v.
func DecodeSegment(segment string, v interface{}) error {
	data, err := segmentParser.DecodeSegment(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// DecodePayload decodes the payload of a compact JWS without verifying it.
func DecodePayload(token string, v interface{}) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("expected 3 segments, got %d", len(parts))
	}
	return DecodeSegment(parts[1], v)
}
