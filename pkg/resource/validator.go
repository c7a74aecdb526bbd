package resource

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"git.sr.ht/~jakintosh/rolepass/pkg/tokens"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidConfig = errors.New("invalid validator config")

// Validation stages, in the order they run.
const (
	StageHeader    = "header"
	StageShape     = "shape"
	StageClaims    = "claims"
	StageSignature = "signature"
	StageReplay    = "replay"
)

// Identity is the caller behind a validated token.
type Identity struct {
	Subject string  `json:"sub"`
	Name    string  `json:"name,omitempty"`
	Email   string  `json:"email,omitempty"`
	Role    *string `json:"role"`
}

func (i *Identity) RoleValue() string {
	if i.Role == nil {
		return ""
	}
	return *i.Role
}

type Config struct {
	Issuer   string
	Audience string
	Keys     KeySource

	// Replay defaults to a token-reuse guard over an in-memory store.
	Replay *ReplayGuard
	Leeway time.Duration

	// Observer is told each stage as it starts.
	Observer func(stage string)
	// Outcome is told how every validation ended: "ok", a rejection code,
	// or "error".
	Outcome func(outcome string)
}

type Validator struct {
	issuer   string
	audience string
	keys     KeySource
	replay   *ReplayGuard
	leeway   time.Duration
	observer func(stage string)
	outcome  func(outcome string)
}

func NewValidator(
	cfg Config,
) (
	*Validator,
	error,
) {
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, fmt.Errorf("%w: issuer and audience are required", ErrInvalidConfig)
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("%w: a key source is required", ErrInvalidConfig)
	}
	replay := cfg.Replay
	if replay == nil {
		replay = NewReplayGuard(nil, ReplayPolicyTokenReuse)
	}
	return &Validator{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		keys:     cfg.Keys,
		replay:   replay,
		leeway:   cfg.Leeway,
		observer: cfg.Observer,
		outcome:  cfg.Outcome,
	}, nil
}

// Validate checks the Authorization header of a request. A refused token
// returns a *Rejection; any other error is a failure of the replay store.
func (v *Validator) Validate(
	ctx context.Context,
	header string,
) (
	*Identity,
	error,
) {
	identity, err := v.validate(ctx, header)
	var rejection *Rejection
	switch {
	case err == nil:
		v.report("ok")
	case errors.As(err, &rejection):
		v.report(rejection.Code())
	default:
		v.report("error")
	}
	return identity, err
}

func (v *Validator) validate(
	ctx context.Context,
	header string,
) (
	*Identity,
	error,
) {
	v.stage(StageHeader)
	scheme, raw, found := strings.Cut(strings.TrimSpace(header), " ")
	raw = strings.TrimSpace(raw)
	if !found || !strings.EqualFold(scheme, "Bearer") || raw == "" {
		return nil, reject(RejectUnauthorized, nil)
	}

	v.stage(StageShape)
	segments := strings.Split(raw, ".")
	if len(segments) != 3 || slices.Contains(segments, "") {
		return nil, reject(RejectInvalidToken, nil)
	}

	// unverified, so only used to turn tokens away before fetching keys
	v.stage(StageClaims)
	unverified := &tokens.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, unverified); err != nil {
		return nil, reject(RejectInvalidToken, err)
	}
	if unverified.Issuer != v.issuer {
		return nil, reject(RejectInvalidIssuer, fmt.Errorf("issuer %q", unverified.Issuer))
	}
	if !slices.Contains(unverified.Audience, v.audience) {
		return nil, reject(RejectInvalidAudience, fmt.Errorf("audience %v", []string(unverified.Audience)))
	}

	v.stage(StageSignature)
	claims := &tokens.Claims{}
	_, err := jwt.ParseWithClaims(
		raw,
		claims,
		func(token *jwt.Token) (any, error) {
			kid, _ := token.Header["kid"].(string)
			key, err := v.keys.Key(ctx, kid)
			if err != nil {
				return nil, err
			}
			return key, nil
		},
		tokens.ParserOptions(v.issuer, v.audience, v.leeway)...,
	)
	if err != nil {
		return nil, reject(RejectInvalidSignature, err)
	}

	v.stage(StageReplay)
	if claims.Nonce == "" {
		return nil, reject(RejectInvalidNonce, nil)
	}
	if err := v.replay.Check(ctx, claims); err != nil {
		if errors.Is(err, ErrReplayDetected) {
			return nil, reject(RejectReplayDetected, err)
		}
		return nil, err
	}

	return &Identity{
		Subject: claims.Subject,
		Name:    claims.Name,
		Email:   claims.Email,
		Role:    claims.Role,
	}, nil
}

func (v *Validator) stage(name string) {
	if v.observer != nil {
		v.observer(name)
	}
}

func (v *Validator) report(outcome string) {
	if v.outcome != nil {
		v.outcome(outcome)
	}
}
