package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// LoginState is a step of the login attempt made against an interaction.
type LoginState int

const (
	StateAwaitingCredentials LoginState = iota
	StateRejected
	StateCheckingAccess
	StateAccessDenied
	StateGranting
	StateConsentAutoApproved
	StateCompleted
)

func (s LoginState) String() string {
	switch s {
	case StateAwaitingCredentials:
		return "awaiting_credentials"
	case StateRejected:
		return "rejected"
	case StateCheckingAccess:
		return "checking_access"
	case StateAccessDenied:
		return "access_denied"
	case StateGranting:
		return "granting"
	case StateConsentAutoApproved:
		return "consent_auto_approved"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("login_state(%d)", int(s))
	}
}

// Terminal reports whether no further transition leaves s.
func (s LoginState) Terminal() bool {
	return len(loginTransitions[s]) == 0
}

var loginTransitions = map[LoginState][]LoginState{
	StateAwaitingCredentials: {StateRejected, StateCheckingAccess},
	StateCheckingAccess:      {StateAccessDenied, StateGranting},
	StateGranting:            {StateConsentAutoApproved},
	StateConsentAutoApproved: {StateCompleted},
}

// LoginAttempt records the path one credential submission took.
type LoginAttempt struct {
	Interaction *Interaction
	Account     *Account
	Role        string
	Grant       *Grant
	State       LoginState
	History     []LoginState

	// Redirect is set once the attempt completes.
	Redirect *url.URL
}

func (a *LoginAttempt) transition(
	to LoginState,
) error {
	if !slices.Contains(loginTransitions[a.State], to) {
		return fmt.Errorf("%w: illegal login transition %s -> %s", ErrInternal, a.State, to)
	}
	log.WithFields(log.Fields{
		"interaction": a.Interaction.ID,
		"from":        a.State.String(),
		"to":          to.String(),
	}).Debug("login transition")
	a.State = to
	a.History = append(a.History, to)
	return nil
}

// AuthorizationCode is the single-use code handed to the client after a
// successful login.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	GrantID             string    `json:"grant_id"`
	AccountID           string    `json:"account_id"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scopes              []string  `json:"scopes"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	Nonce               string    `json:"nonce"`
	State               string    `json:"state"`
	IssuedAt            time.Time `json:"issued_at"`
}

// Authorize runs a credential submission for a pending interaction.
//
// Bad credentials return ErrInvalidCredentials or ErrAccountNotFound and
// leave the interaction pending so the user can retry. An account without a
// role for the requesting client returns ErrAccessDenied before any grant is
// written. On success the interaction is consumed and the returned attempt
// carries the redirect back to the client with a fresh authorization code.
func (s *Service) Authorize(
	ctx context.Context,
	interactionID string,
	handle string,
	secret string,
) (
	*LoginAttempt,
	error,
) {
	interaction, _, err := s.LookupInteraction(ctx, interactionID)
	if err != nil {
		return nil, err
	}

	attempt := &LoginAttempt{
		Interaction: interaction,
		State:       StateAwaitingCredentials,
		History:     []LoginState{StateAwaitingCredentials},
	}
	for !attempt.State.Terminal() {
		var next LoginState
		switch attempt.State {
		case StateAwaitingCredentials:
			next, err = s.checkCredentials(ctx, attempt, handle, secret)
		case StateCheckingAccess:
			next, err = s.checkAccess(ctx, attempt)
		case StateGranting:
			next, err = s.grantAccess(ctx, attempt)
		case StateConsentAutoApproved:
			next, err = s.completeLogin(ctx, attempt)
		}
		if next == attempt.State {
			return attempt, err
		}
		if terr := attempt.transition(next); terr != nil {
			return attempt, terr
		}
		if err != nil {
			return attempt, err
		}
	}
	return attempt, nil
}

// VerifyCredentials checks a handle and secret against the identity store.
func (s *Service) VerifyCredentials(
	ctx context.Context,
	handle string,
	secret string,
) (
	*Account,
	error,
) {
	hash, err := s.identities.GetSecret(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, handle)
		}
		return nil, fmt.Errorf("%w: failed to retrieve secret: %v", ErrInternal, err)
	}

	err = bcrypt.CompareHashAndPassword(hash, []byte(secret))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	account, err := s.identities.GetAccount(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load account: %v", ErrInternal, err)
	}
	return account, nil
}

func (s *Service) checkCredentials(
	ctx context.Context,
	attempt *LoginAttempt,
	handle string,
	secret string,
) (
	LoginState,
	error,
) {
	account, err := s.VerifyCredentials(ctx, handle, secret)
	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountNotFound):
		return StateRejected, err
	case err != nil:
		return attempt.State, err
	}
	attempt.Account = account
	return StateCheckingAccess, nil
}

func (s *Service) checkAccess(
	ctx context.Context,
	attempt *LoginAttempt,
) (
	LoginState,
	error,
) {
	clientID := attempt.Interaction.ClientID
	role, ok, err := s.roles.Resolve(ctx, attempt.Account.Handle, clientID)
	if err != nil {
		return attempt.State, fmt.Errorf("%w: failed to resolve role: %v", ErrInternal, err)
	}
	if !ok {
		return StateAccessDenied, fmt.Errorf("%w: %s has no role for %s", ErrAccessDenied, attempt.Account.Handle, clientID)
	}
	attempt.Role = role
	return StateGranting, nil
}

func (s *Service) grantAccess(
	ctx context.Context,
	attempt *LoginAttempt,
) (
	LoginState,
	error,
) {
	account := attempt.Account
	interaction := attempt.Interaction

	grant, err := s.saveGrant(ctx, account, interaction, attempt.Role)
	if errors.Is(err, ErrGrantConflict) {
		// a concurrent login created the grant first; merge into it
		grant, err = s.saveGrant(ctx, account, interaction, attempt.Role)
	}
	if err != nil {
		return attempt.State, err
	}
	attempt.Grant = grant
	return StateConsentAutoApproved, nil
}

func (s *Service) saveGrant(
	ctx context.Context,
	account *Account,
	interaction *Interaction,
	role string,
) (
	*Grant,
	error,
) {
	now := s.now()
	grant, err := s.grants.FindGrant(ctx, account.Handle, interaction.ClientID)
	switch {
	case errors.Is(err, ErrGrantNotFound):
		grant = NewGrant(account.Handle, interaction.ClientID, now)
	case err != nil:
		return nil, fmt.Errorf("%w: failed to load grant: %v", ErrInternal, err)
	}
	grant.AddScopes(interaction.Scopes...)
	grant.AddClaims(claimsForScopes(interaction.Scopes)...)
	grant.SetRole(interaction.ClientID, role)
	grant.UpdatedAt = now

	err = s.grants.SaveGrant(ctx, grant)
	if errors.Is(err, ErrGrantConflict) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to save grant: %v", ErrInternal, err)
	}
	return grant, nil
}

func (s *Service) completeLogin(
	ctx context.Context,
	attempt *LoginAttempt,
) (
	LoginState,
	error,
) {
	// consuming the interaction first keeps a concurrent second submission
	// from minting another code
	interaction, err := s.takeInteraction(ctx, attempt.Interaction.ID)
	if err != nil {
		return attempt.State, err
	}

	value, err := generateCode()
	if err != nil {
		return attempt.State, fmt.Errorf("%w: failed to generate code: %v", ErrInternal, err)
	}
	code := AuthorizationCode{
		Code:                value,
		GrantID:             attempt.Grant.ID,
		AccountID:           attempt.Account.Handle,
		ClientID:            interaction.ClientID,
		RedirectURI:         interaction.RedirectURI,
		Scopes:              interaction.Scopes,
		CodeChallenge:       interaction.CodeChallenge,
		CodeChallengeMethod: interaction.CodeChallengeMethod,
		Nonce:               interaction.Nonce,
		State:               interaction.State,
		IssuedAt:            s.now(),
	}
	if err := s.codes.Put(ctx, code.Code, code, s.codeTTL); err != nil {
		return attempt.State, fmt.Errorf("%w: failed to store code: %v", ErrInternal, err)
	}

	redirect, err := buildRedirectURL(interaction.RedirectURI, code.Code, interaction.State)
	if err != nil {
		return attempt.State, err
	}
	attempt.Redirect = redirect
	return StateCompleted, nil
}

// claimsForScopes lists the identity claims a set of scopes releases. The
// role claim is always released.
func claimsForScopes(scopes []string) []string {
	claims := []string{"sub"}
	if slices.Contains(scopes, "profile") {
		claims = append(claims, "name")
	}
	if slices.Contains(scopes, "email") {
		claims = append(claims, "email", "email_verified")
	}
	return append(claims, "role")
}

func generateCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func buildRedirectURL(
	redirectURI string,
	code string,
	state string,
) (
	*url.URL,
	error,
) {
	redirect, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("%w: bad redirect uri: %v", ErrInternal, err)
	}
	q := redirect.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	redirect.RawQuery = q.Encode()
	return redirect, nil
}
