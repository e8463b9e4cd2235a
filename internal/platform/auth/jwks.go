package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnknownKID is returned when a token names a key the identity provider
// does not publish.
var ErrUnknownKID = errors.New("signing key not published by identity provider")

// JWK is the subset of a JSON Web Key needed to verify RS256 tokens.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySet holds the identity provider's RSA verification keys. Keys are
// reloaded after ttl, and at most once per minRefresh however many unknown
// kids arrive. Concurrent reloads share one request.
type KeySet struct {
	issuer     string
	ttl        time.Duration
	minRefresh time.Duration
	client     *http.Client
	now        func() time.Time

	// url is resolved lazily from the issuer's discovery document and only
	// touched by the goroutine running a reload.
	url string

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	loadedAt    time.Time
	lastAttempt time.Time
	inflight    chan struct{}
	lastErr     error
}

// NewKeySet returns a KeySet reading jwksURL, or the jwks_uri advertised by
// issuer when jwksURL is empty.
func NewKeySet(jwksURL, issuer string, ttl time.Duration) *KeySet {
	return &KeySet{
		issuer:     issuer,
		url:        jwksURL,
		ttl:        ttl,
		minRefresh: 30 * time.Second,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
		keys:       map[string]*rsa.PublicKey{},
	}
}

// Key returns the verification key for kid.
func (s *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	key, ok := s.keys[kid]
	fresh := !s.loadedAt.IsZero() && s.now().Sub(s.loadedAt) < s.ttl
	throttled := !s.lastAttempt.IsZero() && s.now().Sub(s.lastAttempt) < s.minRefresh
	lastErr := s.lastErr
	s.mu.Unlock()

	switch {
	case ok && (fresh || throttled):
		return key, nil
	case throttled && lastErr != nil:
		return nil, lastErr
	case throttled:
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKID, kid)
	}

	if err := s.reload(ctx); err != nil {
		if ok {
			// Keep verifying with the stale key while the provider is down.
			return key, nil
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok = s.keys[kid]; !ok {
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKID, kid)
	}
	return key, nil
}

func (s *KeySet) reload(ctx context.Context) error {
	s.mu.Lock()
	if wait := s.inflight; wait != nil {
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.lastErr
	}
	done := make(chan struct{})
	s.inflight = done
	s.lastAttempt = s.now()
	s.mu.Unlock()

	keys, err := s.load(ctx)

	s.mu.Lock()
	if err == nil {
		s.keys = keys
		s.loadedAt = s.now()
	}
	s.lastErr = err
	s.inflight = nil
	close(done)
	s.mu.Unlock()
	return err
}

func (s *KeySet) load(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	if s.url == "" {
		if s.issuer == "" {
			return nil, errors.New("no JWKS URL or issuer configured")
		}
		u, err := discoverJWKSURL(ctx, s.client, s.issuer)
		if err != nil {
			return nil, fmt.Errorf("discover JWKS URL: %w", err)
		}
		s.url = u
	}

	var doc struct {
		Keys []JWK `json:"keys"`
	}
	if err := getJSON(ctx, s.client, s.url, &doc); err != nil {
		return nil, fmt.Errorf("load JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") || k.Kid == "" {
			continue
		}
		pub, err := k.rsaKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

func (k JWK) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if len(n) == 0 || !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("kid %q: malformed RSA parameters", k.Kid)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}

// keyFunc adapts the set to jwt.Keyfunc for one request.
func (s *KeySet) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header carries no kid")
		}
		return s.Key(ctx, kid)
	}
}

func discoverJWKSURL(ctx context.Context, client *http.Client, issuer string) (string, error) {
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := getJSON(ctx, client, strings.TrimSuffix(issuer, "/")+"/.well-known/openid-configuration", &doc); err != nil {
		return "", err
	}
	if doc.JWKSURI == "" {
		return "", errors.New("discovery document has no jwks_uri")
	}
	return doc.JWKSURI, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
