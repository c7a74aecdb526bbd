package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"git.sr.ht/~jakintosh/rolepass/pkg/ephemeral"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	DefaultCorrelationTTL = 10 * time.Minute
	DefaultSessionTTL     = 2 * time.Minute

	beginAttempts = 3
)

var (
	ErrUnknownApplication = errors.New("unknown application")
	ErrInvalidConfig      = errors.New("invalid gateway config")
	ErrInternal           = errors.New("internal gateway error")
)

// RedirectMode selects how a finished login is handed to the application.
type RedirectMode string

const (
	RedirectModeSession RedirectMode = "session"
	RedirectModeToken   RedirectMode = "token"
)

func ParseRedirectMode(s string) (RedirectMode, error) {
	switch mode := RedirectMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case RedirectModeSession, RedirectModeToken:
		return mode, nil
	case "":
		return RedirectModeSession, nil
	default:
		return "", fmt.Errorf("%w: unknown redirect mode %q", ErrInvalidConfig, s)
	}
}

// Application is a client registered with the gateway.
type Application struct {
	ClientID        string
	PostLoginTarget string
	Scopes          []string
}

// PendingAuthorization ties a callback back to the login that started it.
// It is written once by Begin and consumed once by HandleCallback.
type PendingAuthorization struct {
	State           string    `json:"state"`
	CodeVerifier    string    `json:"code_verifier"`
	Nonce           string    `json:"nonce"`
	ClientID        string    `json:"client_id"`
	PostLoginTarget string    `json:"post_login_target"`
	CreatedAt       time.Time `json:"created_at"`
}

type Config struct {
	AuthorityURL    string
	CallbackURL     string
	Applications    []Application
	DefaultClientID string
	Mode            RedirectMode
	CorrelationTTL  time.Duration
	SessionTTL      time.Duration

	// Correlations and Sessions default to in-memory stores.
	Correlations ephemeral.Store[PendingAuthorization]
	Sessions     ephemeral.Store[TokenSet]

	// Exchanger defaults to an AuthorityExchanger for AuthorityURL.
	Exchanger Exchanger

	// Observer, when set, is told the outcome of every callback.
	Observer func(outcome string)
}

type Gateway struct {
	applications    map[string]Application
	defaultClientID string
	callbackURL     string
	endpoint        oauth2.Endpoint
	mode            RedirectMode
	correlationTTL  time.Duration
	sessionTTL      time.Duration
	correlations    ephemeral.Store[PendingAuthorization]
	sessions        ephemeral.Store[TokenSet]
	exchanger       Exchanger
	observer        func(outcome string)
	now             func() time.Time
}

func New(
	cfg Config,
) (
	*Gateway,
	error,
) {
	if cfg.AuthorityURL == "" || cfg.CallbackURL == "" {
		return nil, fmt.Errorf("%w: authority and callback urls are required", ErrInvalidConfig)
	}
	if len(cfg.Applications) == 0 {
		return nil, fmt.Errorf("%w: at least one application is required", ErrInvalidConfig)
	}
	mode := cfg.Mode
	if mode == "" {
		mode = RedirectModeSession
	}
	if mode != RedirectModeSession && mode != RedirectModeToken {
		return nil, fmt.Errorf("%w: unknown redirect mode %q", ErrInvalidConfig, mode)
	}

	apps := make(map[string]Application, len(cfg.Applications))
	for _, app := range cfg.Applications {
		if app.ClientID == "" {
			return nil, fmt.Errorf("%w: application without client id", ErrInvalidConfig)
		}
		if _, err := url.Parse(app.PostLoginTarget); err != nil || app.PostLoginTarget == "" {
			return nil, fmt.Errorf("%w: bad post-login target for %s", ErrInvalidConfig, app.ClientID)
		}
		if len(app.Scopes) == 0 {
			app.Scopes = []string{"openid"}
		}
		apps[app.ClientID] = app
	}
	defaultClientID := cfg.DefaultClientID
	if defaultClientID == "" {
		defaultClientID = cfg.Applications[0].ClientID
	}
	if _, ok := apps[defaultClientID]; !ok {
		return nil, fmt.Errorf("%w: default client %s is not registered", ErrInvalidConfig, defaultClientID)
	}

	g := &Gateway{
		applications:    apps,
		defaultClientID: defaultClientID,
		callbackURL:     cfg.CallbackURL,
		endpoint:        authorityEndpoint(strings.TrimSuffix(cfg.AuthorityURL, "/")),
		mode:            mode,
		correlationTTL:  orDefault(cfg.CorrelationTTL, DefaultCorrelationTTL),
		sessionTTL:      orDefault(cfg.SessionTTL, DefaultSessionTTL),
		correlations:    cfg.Correlations,
		sessions:        cfg.Sessions,
		exchanger:       cfg.Exchanger,
		observer:        cfg.Observer,
		now:             time.Now,
	}
	if g.correlations == nil {
		g.correlations = ephemeral.NewMemoryStore[PendingAuthorization]("correlations")
	}
	if g.sessions == nil {
		g.sessions = ephemeral.NewMemoryStore[TokenSet]("sessions")
	}
	if g.exchanger == nil {
		g.exchanger = NewAuthorityExchanger(cfg.AuthorityURL, nil, DefaultExchangeTimeout)
	}
	return g, nil
}

func (g *Gateway) Mode() RedirectMode {
	return g.mode
}

/*
Begin starts an authorization code flow for clientID. It records a
correlation entry under a fresh state and returns the authority URL the
browser should be sent to.
*/
func (g *Gateway) Begin(
	ctx context.Context,
	clientID string,
) (
	*url.URL,
	error,
) {
	app, ok := g.applications[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApplication, clientID)
	}

	nonce, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	pending := PendingAuthorization{
		CodeVerifier:    oauth2.GenerateVerifier(),
		Nonce:           nonce,
		ClientID:        clientID,
		PostLoginTarget: app.PostLoginTarget,
		CreatedAt:       g.now(),
	}

	for attempt := 0; ; attempt++ {
		pending.State, err = randomToken()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		err = g.correlations.Put(ctx, pending.State, pending, g.correlationTTL)
		if err == nil {
			break
		}
		if !errors.Is(err, ephemeral.ErrExists) || attempt+1 >= beginAttempts {
			return nil, fmt.Errorf("%w: failed to store correlation: %v", ErrInternal, err)
		}
		log.Warn("state collision, retrying")
	}

	cfg := g.oauthConfig(app)
	authURL := cfg.AuthCodeURL(
		pending.State,
		oauth2.S256ChallengeOption(pending.CodeVerifier),
		oauth2.SetAuthURLParam("nonce", pending.Nonce),
	)
	redirect, err := url.Parse(authURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	log.WithField("client", clientID).Debug("login started")
	return redirect, nil
}

/*
HandleCallback finishes a flow from the query of the authority's redirect.
On success it returns where the browser goes next. Every failure is a
*CallbackError.
*/
func (g *Gateway) HandleCallback(
	ctx context.Context,
	query url.Values,
) (
	*url.URL,
	error,
) {
	state := query.Get("state")
	if state == "" {
		return nil, g.fail(newCallbackError(CallbackMissingState, "", nil))
	}

	pending, ok, err := g.correlations.TakeOnce(ctx, state)
	if err != nil {
		return nil, g.fail(newCallbackError(CallbackInternal, "", err))
	}
	if !ok {
		return nil, g.fail(newCallbackError(CallbackUnknownOrExpiredState, "", nil))
	}
	clientID := pending.ClientID

	if authErr := query.Get("error"); authErr != "" {
		cbErr := newCallbackError(CallbackAuthorityError, clientID, nil)
		cbErr.AuthorityCode = authErr
		cbErr.AuthorityDescription = query.Get("error_description")
		return nil, g.fail(cbErr)
	}

	code := query.Get("code")
	if code == "" {
		return nil, g.fail(newCallbackError(CallbackMissingCode, clientID, nil))
	}

	tokenSet, err := g.exchanger.Exchange(ctx, ExchangeRequest{
		ClientID:    clientID,
		Code:        code,
		Verifier:    pending.CodeVerifier,
		RedirectURI: g.callbackURL,
		State:       state,
	})
	if err != nil {
		return nil, g.fail(newCallbackError(CallbackExchangeFailed, clientID, err))
	}
	if tokenSet.Claims == nil || tokenSet.Claims.Nonce != pending.Nonce {
		err := fmt.Errorf("%w: nonce mismatch", ErrExchangeFailed)
		return nil, g.fail(newCallbackError(CallbackExchangeFailed, clientID, err))
	}
	if tokenSet.Claims.Subject == "" {
		return nil, g.fail(newCallbackError(CallbackMissingSubject, clientID, nil))
	}

	target, err := g.publish(ctx, pending.PostLoginTarget, tokenSet)
	if err != nil {
		return nil, g.fail(newCallbackError(CallbackInternal, clientID, err))
	}
	g.observe("ok")
	log.WithFields(log.Fields{
		"client":  clientID,
		"subject": tokenSet.Claims.Subject,
		"mode":    string(g.mode),
	}).Info("login handed off")
	return target, nil
}

// Session returns the token set stored under a session id without removing
// it.
func (g *Gateway) Session(
	ctx context.Context,
	sessionID string,
) (
	*TokenSet,
	bool,
	error,
) {
	if sessionID == "" {
		return nil, false, nil
	}
	tokenSet, ok, err := g.sessions.Get(ctx, sessionID)
	if err != nil || !ok {
		return nil, false, err
	}
	return &tokenSet, true, nil
}

// EndSession removes a session. Removing a missing session is not an error.
func (g *Gateway) EndSession(
	ctx context.Context,
	sessionID string,
) error {
	if sessionID == "" {
		return nil
	}
	return g.sessions.Delete(ctx, sessionID)
}

// TryAgainURL is the restart link shown on callback error pages.
func (g *Gateway) TryAgainURL(clientID string) string {
	if _, ok := g.applications[clientID]; !ok {
		clientID = g.defaultClientID
	}
	return "/login?client_id=" + url.QueryEscape(clientID)
}

func (g *Gateway) publish(
	ctx context.Context,
	postLoginTarget string,
	tokenSet *TokenSet,
) (
	*url.URL,
	error,
) {
	target, err := url.Parse(postLoginTarget)
	if err != nil {
		return nil, err
	}
	q := target.Query()

	switch g.mode {
	case RedirectModeToken:
		q.Set("token", tokenSet.IDToken)
	default:
		var sessionID string
		for attempt := 0; ; attempt++ {
			sessionID, err = randomToken()
			if err != nil {
				return nil, err
			}
			err = g.sessions.Put(ctx, sessionID, *tokenSet, g.sessionTTL)
			if err == nil {
				break
			}
			if !errors.Is(err, ephemeral.ErrExists) || attempt+1 >= beginAttempts {
				return nil, fmt.Errorf("failed to store session: %w", err)
			}
		}
		q.Set("session", sessionID)
	}
	target.RawQuery = q.Encode()
	return target, nil
}

func (g *Gateway) oauthConfig(app Application) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    app.ClientID,
		Endpoint:    g.endpoint,
		RedirectURL: g.callbackURL,
		Scopes:      app.Scopes,
	}
}

func (g *Gateway) fail(err *CallbackError) *CallbackError {
	g.observe(err.Kind.Code())
	entry := log.WithFields(log.Fields{
		"kind":   err.Kind.Code(),
		"client": err.ClientID,
	})
	if err.cause != nil {
		entry = entry.WithError(err.cause)
	}
	entry.Warn("callback failed")
	return err
}

func (g *Gateway) observe(outcome string) {
	if g.observer != nil {
		g.observer(outcome)
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func orDefault(d time.Duration, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
