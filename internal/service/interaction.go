package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	ResponseTypeCode        = "code"
	PKCEChallengeMethodS256 = "S256"
)

// AuthorizationRequest carries the query parameters of an authorize call.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ParseAuthorizationRequest reads an AuthorizationRequest from query values.
func ParseAuthorizationRequest(q url.Values) AuthorizationRequest {
	return AuthorizationRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}
}

// Interaction is an authorization request the user has not finished
// logging in for yet.
type Interaction struct {
	ID                  string    `json:"id"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scopes              []string  `json:"scopes"`
	State               string    `json:"state"`
	Nonce               string    `json:"nonce"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	CreatedAt           time.Time `json:"created_at"`
}

// BeginInteraction validates an authorization request and stores it as a
// pending interaction.
//
// ErrClientNotFound and ErrInvalidRedirect mean the redirect target cannot be
// trusted and the error must be shown to the user directly. ErrInvalidRequest
// may be reported back to the client with ErrorRedirect.
func (s *Service) BeginInteraction(
	ctx context.Context,
	req AuthorizationRequest,
) (
	*Interaction,
	error,
) {
	client, err := s.catalog.GetClient(req.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.AllowsRedirect(req.RedirectURI) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRedirect, req.RedirectURI)
	}

	switch {
	case req.ResponseType != ResponseTypeCode:
		return nil, fmt.Errorf("%w: response_type must be 'code'", ErrInvalidRequest)
	case req.CodeChallenge == "":
		return nil, fmt.Errorf("%w: code_challenge is required", ErrInvalidRequest)
	case req.CodeChallengeMethod != PKCEChallengeMethodS256:
		return nil, fmt.Errorf("%w: code_challenge_method must be S256", ErrInvalidRequest)
	case req.Nonce == "":
		return nil, fmt.Errorf("%w: nonce is required", ErrInvalidRequest)
	}

	scopes := strings.Fields(req.Scope)
	if len(scopes) == 0 {
		scopes = []string{"openid"}
	}

	interaction := &Interaction{
		ID:                  uuid.NewString(),
		ClientID:            client.ID,
		RedirectURI:         req.RedirectURI,
		Scopes:              scopes,
		State:               req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:           s.now(),
	}
	if err := s.interactions.Put(ctx, interaction.ID, *interaction, s.interactionTTL); err != nil {
		return nil, fmt.Errorf("%w: failed to store interaction: %v", ErrInternal, err)
	}

	log.WithFields(log.Fields{
		"interaction": interaction.ID,
		"client":      client.ID,
	}).Debug("interaction started")
	return interaction, nil
}

// LookupInteraction returns a pending interaction and its client without
// consuming it.
func (s *Service) LookupInteraction(
	ctx context.Context,
	id string,
) (
	*Interaction,
	*ClientDefinition,
	error,
) {
	if id == "" {
		return nil, nil, ErrInteractionExpired
	}
	interaction, ok, err := s.interactions.Get(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if !ok {
		return nil, nil, ErrInteractionExpired
	}
	client, err := s.catalog.GetClient(interaction.ClientID)
	if err != nil {
		return nil, nil, err
	}
	return &interaction, client, nil
}

// ErrorRedirect builds the redirect that reports an OAuth error back to the
// client, echoing state when one was sent.
func ErrorRedirect(
	redirectURI string,
	state string,
	code string,
	description string,
) (
	*url.URL,
	error,
) {
	redirect, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("%w: bad redirect uri: %v", ErrInternal, err)
	}
	q := redirect.Query()
	q.Set("error", code)
	if description != "" {
		q.Set("error_description", description)
	}
	if state != "" {
		q.Set("state", state)
	}
	redirect.RawQuery = q.Encode()
	return redirect, nil
}

// RequestErrorDescription strips the sentinel prefix from a BeginInteraction
// error so it can be sent to the client.
func RequestErrorDescription(err error) string {
	if !errors.Is(err, ErrInvalidRequest) {
		return ""
	}
	return strings.TrimPrefix(err.Error(), ErrInvalidRequest.Error()+": ")
}

func (s *Service) takeInteraction(
	ctx context.Context,
	id string,
) (
	*Interaction,
	error,
) {
	interaction, ok, err := s.interactions.TakeOnce(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if !ok {
		return nil, ErrInteractionExpired
	}
	return &interaction, nil
}
