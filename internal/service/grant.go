package service

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Grant records what an account has authorized a client to access. Roles is
// keyed by client id, so a grant consulted on behalf of several clients
// never mixes their roles up.
type Grant struct {
	ID        string
	AccountID string
	ClientID  string
	Scopes    []string
	Claims    []string
	Roles     map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewGrant(
	accountID string,
	clientID string,
	now time.Time,
) *Grant {
	return &Grant{
		ID:        uuid.NewString(),
		AccountID: accountID,
		ClientID:  clientID,
		Roles:     map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddScopes appends scopes not already granted, keeping first-seen order.
func (g *Grant) AddScopes(scopes ...string) {
	g.Scopes = union(g.Scopes, scopes)
}

// AddClaims appends claim names not already granted, keeping first-seen order.
func (g *Grant) AddClaims(claims ...string) {
	g.Claims = union(g.Claims, claims)
}

func (g *Grant) SetRole(
	clientID string,
	role string,
) {
	if g.Roles == nil {
		g.Roles = map[string]string{}
	}
	g.Roles[clientID] = role
}

func (g *Grant) Role(clientID string) (string, bool) {
	role, ok := g.Roles[clientID]
	return role, ok && role != ""
}

func union(existing []string, add []string) []string {
	for _, v := range add {
		if v != "" && !slices.Contains(existing, v) {
			existing = append(existing, v)
		}
	}
	return existing
}
