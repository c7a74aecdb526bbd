// Package roles maps an (account, client) pair to the role that account
// holds in that client application.
package roles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

var ErrInvalidMapping = errors.New("invalid role mapping")

// Resolver looks up the role for an account in a client application.
// Implementations must be safe for concurrent use and free of side effects.
// A missing mapping reports ok=false; err is reserved for lookup failures.
type Resolver interface {
	Resolve(
		ctx context.Context,
		accountID string,
		clientID string,
	) (
		role string,
		ok bool,
		err error,
	)
}

// Mapping is account -> client -> role.
type Mapping map[string]map[string]string

// StaticResolver serves a Mapping held in memory. Replace swaps the whole
// mapping atomically, which is how file reloads are applied.
type StaticResolver struct {
	mu      sync.RWMutex
	mapping Mapping
}

var _ Resolver = (*StaticResolver)(nil)

func NewStaticResolver(mapping Mapping) *StaticResolver {
	r := &StaticResolver{}
	r.Replace(mapping)
	return r
}

func (r *StaticResolver) Resolve(
	_ context.Context,
	accountID string,
	clientID string,
) (
	string,
	bool,
	error,
) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.mapping[accountID][clientID]
	if !ok || role == "" {
		return "", false, nil
	}
	return role, true, nil
}

func (r *StaticResolver) Replace(mapping Mapping) {
	copied := make(Mapping, len(mapping))
	for account, clients := range mapping {
		inner := make(map[string]string, len(clients))
		for client, role := range clients {
			inner[client] = role
		}
		copied[account] = inner
	}

	r.mu.Lock()
	r.mapping = copied
	r.mu.Unlock()
}

// LoadFile reads a JSON mapping of the form
//
//	{ "user1": { "demo-client": "user" } }
func LoadFile(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role mapping: %w", err)
	}
	return parseMapping(data)
}

func parseMapping(data []byte) (Mapping, error) {
	mapping := Mapping{}
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	for account, clients := range mapping {
		if account == "" {
			return nil, fmt.Errorf("%w: empty account", ErrInvalidMapping)
		}
		for client, role := range clients {
			if client == "" || role == "" {
				return nil, fmt.Errorf("%w: empty client or role for '%s'", ErrInvalidMapping, account)
			}
		}
	}
	return mapping, nil
}
