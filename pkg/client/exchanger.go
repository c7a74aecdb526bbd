package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"git.sr.ht/~jakintosh/rolepass/pkg/tokens"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const DefaultExchangeTimeout = 10 * time.Second

var ErrExchangeFailed = errors.New("code exchange failed")

// ExchangeRequest carries what the gateway knows about a callback when it
// redeems the code.
type ExchangeRequest struct {
	ClientID    string
	Code        string
	Verifier    string
	RedirectURI string
	State       string
}

// TokenSet is the result of a successful exchange.
type TokenSet struct {
	IDToken     string         `json:"id_token"`
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Claims      *tokens.Claims `json:"claims"`
}

// Exchanger redeems an authorization code. Claims must only be populated
// from a verified ID token.
type Exchanger interface {
	Exchange(ctx context.Context, req ExchangeRequest) (*TokenSet, error)
}

// AuthorityExchanger redeems codes at a rolepass authority and verifies the
// returned ID token against the authority's published keys.
type AuthorityExchanger struct {
	issuer     string
	endpoint   oauth2.Endpoint
	httpClient *http.Client
	keySet     *oidc.RemoteKeySet
	timeout    time.Duration
}

func NewAuthorityExchanger(
	issuer string,
	httpClient *http.Client,
	timeout time.Duration,
) *AuthorityExchanger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	base := strings.TrimSuffix(issuer, "/")
	keyCtx := oidc.ClientContext(context.Background(), httpClient)
	return &AuthorityExchanger{
		issuer:     issuer,
		endpoint:   authorityEndpoint(base),
		httpClient: httpClient,
		keySet:     oidc.NewRemoteKeySet(keyCtx, base+"/.well-known/jwks.json"),
		timeout:    timeout,
	}
}

func authorityEndpoint(base string) oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   base + "/authorize",
		TokenURL:  base + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

func (e *AuthorityExchanger) Exchange(
	ctx context.Context,
	req ExchangeRequest,
) (
	*TokenSet,
	error,
) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)

	cfg := oauth2.Config{
		ClientID:    req.ClientID,
		Endpoint:    e.endpoint,
		RedirectURL: req.RedirectURI,
	}
	token, err := cfg.Exchange(
		ctx,
		req.Code,
		oauth2.VerifierOption(req.Verifier),
		oauth2.SetAuthURLParam("state", req.State),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: response has no id_token", ErrExchangeFailed)
	}

	verifier := oidc.NewVerifier(e.issuer, e.keySet, &oidc.Config{
		ClientID:             req.ClientID,
		SupportedSigningAlgs: []string{oidc.ES256},
	})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: id token verification: %w", ErrExchangeFailed, err)
	}

	claims := &tokens.Claims{}
	if err := idToken.Claims(claims); err != nil {
		return nil, fmt.Errorf("%w: id token claims: %w", ErrExchangeFailed, err)
	}

	return &TokenSet{
		IDToken:     rawIDToken,
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresAt:   token.Expiry,
		Claims:      claims,
	}, nil
}
