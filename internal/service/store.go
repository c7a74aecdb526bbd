package service

import "context"

// Account is the profile the authority holds for a handle.
type Account struct {
	Handle string
	Name   string
	Email  string
}

// IdentityStore handles persistence of user identity data
type IdentityStore interface {
	InsertIdentity(ctx context.Context, account Account, secret []byte) error
	GetSecret(ctx context.Context, handle string) ([]byte, error)
	GetAccount(ctx context.Context, handle string) (*Account, error)
}

// GrantStore handles persistence of grants and their per-client roles
type GrantStore interface {
	FindGrant(ctx context.Context, accountID string, clientID string) (*Grant, error)
	GetGrant(ctx context.Context, grantID string) (*Grant, error)
	SaveGrant(ctx context.Context, grant *Grant) error
}
