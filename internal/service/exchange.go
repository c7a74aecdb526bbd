package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"git.sr.ht/~jakintosh/rolepass/pkg/tokens"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const GrantTypeAuthorizationCode = "authorization_code"

// OAuth error codes returned from the token endpoint.
const (
	OAuthInvalidRequest       = "invalid_request"
	OAuthInvalidClient        = "invalid_client"
	OAuthInvalidGrant         = "invalid_grant"
	OAuthUnsupportedGrantType = "unsupported_grant_type"
	OAuthAccessDenied         = "access_denied"
	OAuthServerError          = "server_error"
)

// OAuthError is a token endpoint failure in the shape RFC 6749 expects.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	cause       error
}

func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func (e *OAuthError) Unwrap() error {
	return e.cause
}

// Status is the HTTP status the token endpoint answers with.
func (e *OAuthError) Status() int {
	switch e.Code {
	case OAuthInvalidClient:
		return http.StatusUnauthorized
	case OAuthServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func oauthError(
	code string,
	cause error,
	description string,
) *OAuthError {
	return &OAuthError{Code: code, Description: description, cause: cause}
}

// CodeExchange is a token endpoint request for the authorization_code grant.
type CodeExchange struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	CodeVerifier string
	State        string
}

// TokenResponse is the token endpoint's success body.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// ExchangeCode redeems an authorization code for an ID token and an access
// token. The code is consumed before anything else is checked, so a code
// presented with a wrong verifier cannot be retried. Every failure is an
// *OAuthError.
func (s *Service) ExchangeCode(
	ctx context.Context,
	req CodeExchange,
) (
	*TokenResponse,
	error,
) {
	if req.GrantType != GrantTypeAuthorizationCode {
		return nil, oauthError(OAuthUnsupportedGrantType, ErrInvalidRequest, "only authorization_code is supported")
	}
	switch {
	case req.Code == "":
		return nil, oauthError(OAuthInvalidRequest, ErrInvalidRequest, "code is required")
	case req.ClientID == "":
		return nil, oauthError(OAuthInvalidRequest, ErrInvalidRequest, "client_id is required")
	case req.CodeVerifier == "":
		return nil, oauthError(OAuthInvalidRequest, ErrInvalidRequest, "code_verifier is required")
	}

	code, ok, err := s.codes.TakeOnce(ctx, req.Code)
	if err != nil {
		return nil, oauthError(OAuthServerError, fmt.Errorf("%w: %v", ErrInternal, err), "")
	}
	if !ok {
		return nil, oauthError(OAuthInvalidGrant, ErrInvalidGrant, "authorization code is invalid, expired, or already used")
	}

	if _, err := s.catalog.GetClient(req.ClientID); err != nil {
		return nil, oauthError(OAuthInvalidClient, err, "unknown client")
	}
	switch {
	case code.ClientID != req.ClientID:
		return nil, oauthError(OAuthInvalidGrant, ErrInvalidGrant, "code was issued to another client")
	case code.RedirectURI != req.RedirectURI:
		return nil, oauthError(OAuthInvalidGrant, ErrInvalidGrant, "redirect_uri does not match")
	case req.State != "" && req.State != code.State:
		return nil, oauthError(OAuthInvalidGrant, ErrInvalidGrant, "state does not match")
	case !verifyPKCE(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod):
		return nil, oauthError(OAuthInvalidGrant, ErrInvalidGrant, "PKCE verification failed")
	}

	account, err := s.identities.GetAccount(ctx, code.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, oauthError(OAuthInvalidGrant, err, "account no longer exists")
		}
		return nil, oauthError(OAuthServerError, fmt.Errorf("%w: %v", ErrInternal, err), "")
	}

	grant, err := s.grants.GetGrant(ctx, code.GrantID)
	if err != nil && !errors.Is(err, ErrGrantNotFound) {
		return nil, oauthError(OAuthServerError, fmt.Errorf("%w: %v", ErrInternal, err), "")
	}

	identity, err := s.materializeIdentity(ctx, account, grant, code.ClientID)
	if err != nil {
		return nil, oauthError(OAuthServerError, err, "")
	}

	idToken, err := s.issuer.IssueIDToken(identity, code.ClientID, code.Nonce, s.tokenLifetime)
	if err != nil {
		return nil, oauthError(OAuthServerError, fmt.Errorf("%w: failed to issue id token: %v", ErrInternal, err), "")
	}
	accessToken, err := s.issuer.IssueAccessToken(identity, code.ClientID, code.Nonce, code.Scopes, s.tokenLifetime)
	if err != nil {
		return nil, oauthError(OAuthServerError, fmt.Errorf("%w: failed to issue access token: %v", ErrInternal, err), "")
	}

	log.WithFields(log.Fields{
		"client":   code.ClientID,
		"subject":  identity.Subject,
		"has_role": identity.Role != nil,
	}).Info("tokens issued")

	return &TokenResponse{
		AccessToken: accessToken.Encoded,
		IDToken:     idToken.Encoded,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokenLifetime.Seconds()),
		Scope:       strings.Join(code.Scopes, " "),
	}, nil
}

// materializeIdentity builds the claims for a token. The role comes from the
// grant's entry for the client, then from the resolver, and is left nil when
// neither knows one.
func (s *Service) materializeIdentity(
	ctx context.Context,
	account *Account,
	grant *Grant,
	clientID string,
) (
	tokens.Identity,
	error,
) {
	identity := tokens.Identity{
		Subject: account.Handle,
		Name:    account.Name,
		Email:   account.Email,
	}
	if grant != nil {
		if role, ok := grant.Role(clientID); ok {
			identity.Role = tokens.StringPtr(role)
			return identity, nil
		}
	}

	role, ok, err := s.roles.Resolve(ctx, account.Handle, clientID)
	if err != nil {
		return identity, fmt.Errorf("%w: failed to resolve role: %v", ErrInternal, err)
	}
	if ok {
		identity.Role = tokens.StringPtr(role)
	}
	return identity, nil
}

// verifyPKCE checks a verifier against the stored S256 challenge.
func verifyPKCE(
	verifier string,
	challenge string,
	method string,
) bool {
	if method != PKCEChallengeMethodS256 {
		return false
	}
	if n := len(verifier); n < 43 || n > 128 {
		return false
	}
	computed := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
