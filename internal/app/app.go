// Package app serves the authority's browser-facing pages: the authorize
// entry point and the login form.
package app

import (
	"errors"
	"fmt"
	"net/http"

	"git.sr.ht/~jakintosh/rolepass/internal/metrics"
	"git.sr.ht/~jakintosh/rolepass/internal/service"
	log "github.com/sirupsen/logrus"
)

type App struct {
	service *service.Service
	pages   *Pages
	metrics *metrics.Metrics
}

func New(
	svc *service.Service,
	pages *Pages,
	m *metrics.Metrics,
) *App {
	return &App{
		service: svc,
		pages:   pages,
		metrics: m,
	}
}

type loginPage struct {
	ClientName    string
	InteractionID string
	Handle        string
	Error         string
}

type deniedPage struct {
	ClientName    string
	InteractionID string
	Handle        string
	ReturnURL     string
}

type errorPage struct {
	Title    string
	Message  string
	Link     string
	LinkText string
}

// Authorize validates an authorization request, starts an interaction for
// it and sends the browser on to the login form.
func (a *App) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := service.ParseAuthorizationRequest(r.URL.Query())
		interaction, err := a.service.BeginInteraction(r.Context(), req)
		switch {
		case err == nil:
			http.Redirect(w, r, "/login?interaction="+interaction.ID, http.StatusSeeOther)

		case errors.Is(err, service.ErrClientNotFound), errors.Is(err, service.ErrInvalidRedirect):
			logAppErr(r, err.Error())
			a.render(w, r, http.StatusBadRequest, "error.html", errorPage{
				Title:   "Unknown application",
				Message: "This sign-in request came from an application that is not registered here.",
			})

		case errors.Is(err, service.ErrInvalidRequest):
			logAppErr(r, err.Error())
			redirect, rerr := service.ErrorRedirect(
				req.RedirectURI,
				req.State,
				service.OAuthInvalidRequest,
				service.RequestErrorDescription(err),
			)
			if rerr != nil {
				a.serverError(w, r, rerr)
				return
			}
			http.Redirect(w, r, redirect.String(), http.StatusSeeOther)

		default:
			a.serverError(w, r, err)
		}
	}
}

// LoginPage renders the login form for a pending interaction.
func (a *App) LoginPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("interaction")
		interaction, client, err := a.service.LookupInteraction(r.Context(), id)
		if err != nil {
			a.interactionError(w, r, err)
			return
		}
		a.render(w, r, http.StatusOK, "login.html", loginPage{
			ClientName:    displayName(client),
			InteractionID: interaction.ID,
		})
	}
}

// Login handles a credential submission from the login form.
func (a *App) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			logAppErr(r, fmt.Sprintf("bad form: %v", err))
			a.render(w, r, http.StatusBadRequest, "error.html", errorPage{
				Title:   "Bad request",
				Message: "The sign-in form could not be read.",
			})
			return
		}
		id := r.PostForm.Get("interaction")
		handle := r.PostForm.Get("handle")
		secret := r.PostForm.Get("secret")

		attempt, err := a.service.Authorize(r.Context(), id, handle, secret)
		if attempt != nil {
			a.metrics.LoginAttempt(attempt.State.String())
		}
		switch {
		case err == nil:
			http.Redirect(w, r, attempt.Redirect.String(), http.StatusSeeOther)

		case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrAccountNotFound):
			logAppErr(r, fmt.Sprintf("'%s' failed to authenticate: %v", handle, err))
			_, client, lerr := a.service.LookupInteraction(r.Context(), id)
			if lerr != nil {
				a.interactionError(w, r, lerr)
				return
			}
			a.render(w, r, http.StatusUnauthorized, "login.html", loginPage{
				ClientName:    displayName(client),
				InteractionID: id,
				Handle:        handle,
				Error:         "Incorrect handle or password.",
			})

		case errors.Is(err, service.ErrAccessDenied):
			logAppErr(r, err.Error())
			interaction := attempt.Interaction
			page := deniedPage{
				ClientName:    interaction.ClientID,
				InteractionID: interaction.ID,
				Handle:        handle,
			}
			if client, cerr := a.service.Catalog().GetClient(interaction.ClientID); cerr == nil {
				page.ClientName = displayName(client)
			}
			returnURL, rerr := service.ErrorRedirect(
				interaction.RedirectURI,
				interaction.State,
				service.OAuthAccessDenied,
				"account has no role for this application",
			)
			if rerr == nil {
				page.ReturnURL = returnURL.String()
			}
			a.render(w, r, http.StatusForbidden, "denied.html", page)

		default:
			a.interactionError(w, r, err)
		}
	}
}

func (a *App) interactionError(
	w http.ResponseWriter,
	r *http.Request,
	err error,
) {
	switch {
	case errors.Is(err, service.ErrInteractionExpired):
		logAppErr(r, "interaction expired or unknown")
		a.render(w, r, http.StatusGone, "error.html", errorPage{
			Title:   "Sign-in expired",
			Message: "This sign-in took too long or was already used. Go back to the application and start again.",
		})
	case errors.Is(err, service.ErrClientNotFound):
		logAppErr(r, err.Error())
		a.render(w, r, http.StatusBadRequest, "error.html", errorPage{
			Title:   "Unknown application",
			Message: "The application behind this sign-in is no longer registered.",
		})
	default:
		a.serverError(w, r, err)
	}
}

func (a *App) serverError(
	w http.ResponseWriter,
	r *http.Request,
	err error,
) {
	logAppErr(r, fmt.Sprintf("internal error: %v", err))
	a.render(w, r, http.StatusInternalServerError, "error.html", errorPage{
		Title:   "Something went wrong",
		Message: "The sign-in service hit an unexpected error. Please try again.",
	})
}

func (a *App) render(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	name string,
	data any,
) {
	if err := a.pages.Render(w, status, name, data); err != nil {
		logAppErr(r, err.Error())
	}
}

func displayName(client *service.ClientDefinition) string {
	if client.Display != "" {
		return client.Display
	}
	return client.ID
}

func logAppErr(r *http.Request, msg string) {
	log.WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Warn(msg)
}
