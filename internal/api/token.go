package api

import (
	"errors"
	"fmt"
	"net/http"

	"git.sr.ht/~jakintosh/rolepass/internal/service"
)

// Token serves the authorization_code grant.
func (a *API) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			logApiErr(r, fmt.Sprintf("bad form: %v", err))
			writeError(w, http.StatusBadRequest, service.OAuthInvalidRequest, "malformed form body")
			a.metrics.CodeExchange(service.OAuthInvalidRequest)
			return
		}

		req := service.CodeExchange{
			GrantType:    r.PostForm.Get("grant_type"),
			Code:         r.PostForm.Get("code"),
			RedirectURI:  r.PostForm.Get("redirect_uri"),
			ClientID:     r.PostForm.Get("client_id"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
			State:        r.PostForm.Get("state"),
		}
		if id, _, ok := r.BasicAuth(); ok && req.ClientID == "" {
			req.ClientID = id
		}

		response, err := a.service.ExchangeCode(r.Context(), req)
		if err != nil {
			var oauthErr *service.OAuthError
			if !errors.As(err, &oauthErr) {
				oauthErr = &service.OAuthError{Code: service.OAuthServerError}
			}
			logApiErr(r, fmt.Sprintf("code exchange for '%s' failed: %v", req.ClientID, err))
			a.metrics.CodeExchange(oauthErr.Code)

			description := oauthErr.Description
			if oauthErr.Code == service.OAuthServerError {
				description = ""
			}
			writeError(w, oauthErr.Status(), oauthErr.Code, description)
			return
		}

		a.metrics.CodeExchange("ok")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		returnJson(response, w)
	}
}
