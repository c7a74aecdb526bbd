package client

import (
	"fmt"
	"net/http"
)

// CallbackErrorKind says which check a callback failed.
type CallbackErrorKind int

const (
	CallbackMissingState CallbackErrorKind = iota
	CallbackUnknownOrExpiredState
	CallbackAuthorityError
	CallbackMissingCode
	CallbackExchangeFailed
	CallbackMissingSubject
	CallbackInternal
)

// Code is the machine-readable name of the kind.
func (k CallbackErrorKind) Code() string {
	switch k {
	case CallbackMissingState:
		return "missing_state"
	case CallbackUnknownOrExpiredState:
		return "unknown_or_expired_state"
	case CallbackAuthorityError:
		return "authority_error"
	case CallbackMissingCode:
		return "missing_code"
	case CallbackExchangeFailed:
		return "exchange_failed"
	case CallbackMissingSubject:
		return "missing_subject"
	default:
		return "internal_error"
	}
}

func (k CallbackErrorKind) String() string {
	return k.Code()
}

// CallbackError is a failed callback. ClientID is empty when the
// correlation entry could not be found.
type CallbackError struct {
	Kind                 CallbackErrorKind
	ClientID             string
	AuthorityCode        string
	AuthorityDescription string
	cause                error
}

func newCallbackError(
	kind CallbackErrorKind,
	clientID string,
	cause error,
) *CallbackError {
	return &CallbackError{Kind: kind, ClientID: clientID, cause: cause}
}

func (e *CallbackError) Error() string {
	msg := "callback failed: " + e.Kind.Code()
	if e.AuthorityCode != "" {
		msg += fmt.Sprintf(" (%s)", e.AuthorityCode)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *CallbackError) Unwrap() error {
	return e.cause
}

// Status is the HTTP status of the error page.
func (e *CallbackError) Status() int {
	switch e.Kind {
	case CallbackAuthorityError:
		if e.AuthorityCode == "access_denied" {
			return http.StatusForbidden
		}
		return http.StatusBadRequest
	case CallbackExchangeFailed, CallbackMissingSubject:
		return http.StatusBadGateway
	case CallbackInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func (e *CallbackError) title() string {
	switch e.Kind {
	case CallbackMissingState:
		return "Sign-in response incomplete"
	case CallbackUnknownOrExpiredState:
		return "Sign-in expired"
	case CallbackAuthorityError:
		if e.AuthorityCode == "access_denied" {
			return "Access denied"
		}
		return "Sign-in refused"
	case CallbackMissingCode:
		return "Sign-in response incomplete"
	case CallbackExchangeFailed:
		return "Could not complete sign-in"
	case CallbackMissingSubject:
		return "Sign-in returned no identity"
	default:
		return "Something went wrong"
	}
}

func (e *CallbackError) message() string {
	switch e.Kind {
	case CallbackMissingState:
		return "The response from the sign-in service did not say which login it belongs to."
	case CallbackUnknownOrExpiredState:
		return "This sign-in took too long, or was already completed in another tab."
	case CallbackAuthorityError:
		if e.AuthorityDescription != "" {
			return "The sign-in service said: " + e.AuthorityDescription
		}
		return "The sign-in service did not approve this login."
	case CallbackMissingCode:
		return "The response from the sign-in service carried no authorization code."
	case CallbackExchangeFailed:
		return "The sign-in service could not confirm this login."
	case CallbackMissingSubject:
		return "The sign-in service did not say who signed in."
	default:
		return "The gateway hit an unexpected error."
	}
}
