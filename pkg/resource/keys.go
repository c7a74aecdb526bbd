package resource

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultKeyFetchTimeout    = 5 * time.Second
	DefaultMinRefreshInterval = 30 * time.Second
)

var (
	ErrKeyNotFound = errors.New("verification key not found")
	ErrKeySource   = errors.New("key source unavailable")
)

// KeySource returns the public key a token with the given key id was signed
// with.
type KeySource interface {
	Key(ctx context.Context, keyID string) (crypto.PublicKey, error)
}

// StaticKeySource serves a single key regardless of key id.
type StaticKeySource struct {
	key crypto.PublicKey
}

func NewStaticKeySource(key crypto.PublicKey) *StaticKeySource {
	return &StaticKeySource{key: key}
}

func (s *StaticKeySource) Key(context.Context, string) (crypto.PublicKey, error) {
	if s.key == nil {
		return nil, ErrKeyNotFound
	}
	return s.key, nil
}

// JWKSKeySource finds the issuer's key set through OIDC discovery and keeps
// it in a refreshing cache. An unknown key id forces a refresh, which picks
// up rotated keys, but no more than once per minimum refresh interval.
type JWKSKeySource struct {
	jwksURL    string
	timeout    time.Duration
	minRefresh time.Duration
	cache      *jwk.Cache
	now        func() time.Time

	mu          sync.Mutex
	registered  bool
	lastRefresh time.Time
}

type KeySourceOption func(*JWKSKeySource)

// WithMinRefreshInterval bounds how often unknown key ids may force a fetch
// of the key set.
func WithMinRefreshInterval(interval time.Duration) KeySourceOption {
	return func(s *JWKSKeySource) {
		if interval > 0 {
			s.minRefresh = interval
		}
	}
}

func NewJWKSKeySource(
	ctx context.Context,
	issuer string,
	httpClient *http.Client,
	timeout time.Duration,
	opts ...KeySourceOption,
) (
	*JWKSKeySource,
	error,
) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultKeyFetchTimeout
	}

	discoverCtx, cancel := context.WithTimeout(oidc.ClientContext(ctx, httpClient), timeout)
	defer cancel()
	provider, err := oidc.NewProvider(discoverCtx, strings.TrimSuffix(issuer, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: discovery: %v", ErrKeySource, err)
	}
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&doc); err != nil || doc.JWKSURI == "" {
		return nil, fmt.Errorf("%w: discovery document has no jwks_uri", ErrKeySource)
	}

	cache, err := jwk.NewCache(ctx, httprc.NewClient(httprc.WithHTTPClient(httpClient)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySource, err)
	}
	s := &JWKSKeySource{
		jwksURL:    doc.JWKSURI,
		timeout:    timeout,
		minRefresh: DefaultMinRefreshInterval,
		cache:      cache,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *JWKSKeySource) JWKSURL() string {
	return s.jwksURL
}

func (s *JWKSKeySource) Key(
	ctx context.Context,
	keyID string,
) (
	crypto.PublicKey,
	error,
) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.register(ctx); err != nil {
		return nil, err
	}
	set, err := s.cache.Lookup(ctx, s.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySource, err)
	}
	key, ok := set.LookupKeyID(keyID)
	if !ok {
		if !s.reserveRefresh() {
			return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, keyID)
		}
		log.WithField("kid", keyID).Debug("unknown key id, refreshing key set")
		set, err = s.cache.Refresh(ctx, s.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeySource, err)
		}
		if key, ok = set.LookupKeyID(keyID); !ok {
			return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, keyID)
		}
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("%w: export: %v", ErrKeySource, err)
	}
	return raw, nil
}

// Close stops the cache's background refresh.
func (s *JWKSKeySource) Close(ctx context.Context) error {
	return s.cache.Shutdown(ctx)
}

func (s *JWKSKeySource) register(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registered {
		return nil
	}
	if err := s.cache.Register(ctx, s.jwksURL); err != nil {
		return fmt.Errorf("%w: register %s: %v", ErrKeySource, s.jwksURL, err)
	}
	s.registered = true
	return nil
}

// reserveRefresh reports whether a forced refresh may run now, and if so
// claims the slot so concurrent misses do not fetch as well.
func (s *JWKSKeySource) reserveRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.lastRefresh.IsZero() && now.Sub(s.lastRefresh) < s.minRefresh {
		return false
	}
	s.lastRefresh = now
	return true
}
