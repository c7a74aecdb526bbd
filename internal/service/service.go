// Package service implements the authority's business logic: credential
// checks, role-gated grant issuance, authorization codes and the token
// exchange that materializes role claims.
package service

import (
	"errors"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/rolepass/pkg/ephemeral"
	"git.sr.ht/~jakintosh/rolepass/pkg/roles"
	"git.sr.ht/~jakintosh/rolepass/pkg/tokens"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotFound    = errors.New("account not found")
	ErrClientNotFound     = errors.New("client not found")
	ErrInvalidRedirect    = errors.New("redirect uri not registered")
	ErrInvalidRequest     = errors.New("invalid authorization request")
	ErrInteractionExpired = errors.New("interaction expired or invalid")
	ErrAccessDenied       = errors.New("access denied")
	ErrGrantNotFound      = errors.New("grant not found")
	ErrGrantConflict      = errors.New("grant already exists for account and client")
	ErrInvalidGrant       = errors.New("invalid grant")
	ErrInternal           = errors.New("internal error")
	ErrHandleExists       = errors.New("handle already exists")
	ErrInvalidHandle      = errors.New("invalid handle")
)

const (
	DefaultInteractionTTL = 10 * time.Minute
	DefaultCodeTTL        = 60 * time.Second
	DefaultTokenLifetime  = time.Hour
)

// PasswordMode controls bcrypt cost for password hashing.
// Use PasswordModeProduction for real deployments and PasswordModeTesting only in tests.
type PasswordMode int

const (
	// PasswordModeProduction uses bcrypt.DefaultCost (10) for secure password hashing.
	PasswordModeProduction PasswordMode = iota
	// PasswordModeTesting uses bcrypt.MinCost (4) for fast test execution.
	// WARNING: This mode will panic if used outside of go test.
	PasswordModeTesting
)

// Cost returns the bcrypt cost for this mode.
// Panics if PasswordModeTesting is used outside of a test binary.
func (m PasswordMode) Cost() int {
	switch m {
	case PasswordModeTesting:
		if !testing.Testing() {
			panic("service: PasswordModeTesting used outside of test environment")
		}
		log.Debug("using insecure password hashing (testing mode)")
		return bcrypt.MinCost
	default:
		return bcrypt.DefaultCost
	}
}

// TokenIssuer mints the tokens returned from the token endpoint.
type TokenIssuer interface {
	IssueIDToken(
		identity tokens.Identity,
		clientID string,
		nonce string,
		lifetime time.Duration,
	) (*tokens.Token, error)
	IssueAccessToken(
		identity tokens.Identity,
		clientID string,
		nonce string,
		scopes []string,
		lifetime time.Duration,
	) (*tokens.Token, error)
}

// Config wires a Service to its collaborators. Zero durations fall back to
// the package defaults.
type Config struct {
	Identities     IdentityStore
	Grants         GrantStore
	Roles          roles.Resolver
	Catalog        *ClientCatalog
	Issuer         TokenIssuer
	Interactions   ephemeral.Store[Interaction]
	Codes          ephemeral.Store[AuthorizationCode]
	PasswordMode   PasswordMode
	InteractionTTL time.Duration
	CodeTTL        time.Duration
	TokenLifetime  time.Duration
}

// Service coordinates login, grant issuance and code exchange. It depends on
// storage interfaces and delegates to them for persistence.
type Service struct {
	identities     IdentityStore
	grants         GrantStore
	roles          roles.Resolver
	catalog        *ClientCatalog
	issuer         TokenIssuer
	interactions   ephemeral.Store[Interaction]
	codes          ephemeral.Store[AuthorizationCode]
	passwordMode   PasswordMode
	interactionTTL time.Duration
	codeTTL        time.Duration
	tokenLifetime  time.Duration
	now            func() time.Time
}

func New(cfg Config) *Service {
	s := &Service{
		identities:     cfg.Identities,
		grants:         cfg.Grants,
		roles:          cfg.Roles,
		catalog:        cfg.Catalog,
		issuer:         cfg.Issuer,
		interactions:   cfg.Interactions,
		codes:          cfg.Codes,
		passwordMode:   cfg.PasswordMode,
		interactionTTL: orDefault(cfg.InteractionTTL, DefaultInteractionTTL),
		codeTTL:        orDefault(cfg.CodeTTL, DefaultCodeTTL),
		tokenLifetime:  orDefault(cfg.TokenLifetime, DefaultTokenLifetime),
		now:            time.Now,
	}
	if s.interactions == nil {
		s.interactions = ephemeral.NewMemoryStore[Interaction]("interactions")
	}
	if s.codes == nil {
		s.codes = ephemeral.NewMemoryStore[AuthorizationCode]("codes")
	}
	return s
}

func (s *Service) Catalog() *ClientCatalog {
	return s.catalog
}

func orDefault(d time.Duration, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
