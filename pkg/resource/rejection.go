package resource

import "fmt"

// RejectionKind names the check a token failed.
type RejectionKind int

const (
	RejectUnauthorized RejectionKind = iota
	RejectInvalidToken
	RejectInvalidIssuer
	RejectInvalidAudience
	RejectInvalidSignature
	RejectInvalidNonce
	RejectReplayDetected
)

func (k RejectionKind) Code() string {
	switch k {
	case RejectUnauthorized:
		return "unauthorized"
	case RejectInvalidToken:
		return "invalid_token"
	case RejectInvalidIssuer:
		return "invalid_issuer"
	case RejectInvalidAudience:
		return "invalid_audience"
	case RejectInvalidSignature:
		return "invalid_signature"
	case RejectInvalidNonce:
		return "invalid_nonce"
	case RejectReplayDetected:
		return "replay_detected"
	default:
		return fmt.Sprintf("rejection(%d)", int(k))
	}
}

func (k RejectionKind) String() string {
	return k.Code()
}

func (k RejectionKind) description() string {
	switch k {
	case RejectUnauthorized:
		return "a bearer token is required"
	case RejectInvalidToken:
		return "the token is not a well-formed JWT"
	case RejectInvalidIssuer:
		return "the token was issued by an untrusted authority"
	case RejectInvalidAudience:
		return "the token was issued for another application"
	case RejectInvalidSignature:
		return "the token failed verification"
	case RejectInvalidNonce:
		return "the token carries no nonce"
	case RejectReplayDetected:
		return "the token's nonce was already used by another token"
	default:
		return "the token was rejected"
	}
}

// Rejection is the error Validate returns for a token it refuses.
type Rejection struct {
	Kind  RejectionKind
	cause error
}

func reject(kind RejectionKind, cause error) *Rejection {
	return &Rejection{Kind: kind, cause: cause}
}

func (r *Rejection) Error() string {
	if r.cause != nil {
		return fmt.Sprintf("token rejected: %s: %v", r.Kind.Code(), r.cause)
	}
	return "token rejected: " + r.Kind.Code()
}

func (r *Rejection) Unwrap() error {
	return r.cause
}

func (r *Rejection) Code() string {
	return r.Kind.Code()
}

// Reauthenticate reports whether the caller should be sent through login
// again. A replayed nonce is not fixed by signing in.
func (r *Rejection) Reauthenticate() bool {
	return r.Kind != RejectReplayDetected
}
