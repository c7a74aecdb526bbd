package api

import (
	"errors"
	"fmt"
	"net/http"

	"git.sr.ht/~jakintosh/rolepass/internal/service"
)

type RegistrationRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

func (a *API) Register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegistrationRequest
		if ok := decodeRequest(&req, w, r); !ok {
			return
		}

		account := service.Account{
			Handle: req.Handle,
			Name:   req.Name,
			Email:  req.Email,
		}
		err := a.service.Register(r.Context(), account, req.Password)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusCreated)
		case errors.Is(err, service.ErrHandleExists):
			logApiErr(r, fmt.Sprintf("handle '%s' taken", req.Handle))
			writeError(w, http.StatusConflict, "handle_exists", "handle is already registered")
		case errors.Is(err, service.ErrInvalidHandle), errors.Is(err, service.ErrInvalidCredentials):
			logApiErr(r, err.Error())
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			logApiErr(r, fmt.Sprintf("failed to register: %v", err))
			writeError(w, http.StatusInternalServerError, "server_error", "")
		}
	}
}
