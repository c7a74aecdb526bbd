package resource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~jakintosh/rolepass/pkg/ephemeral"
	"git.sr.ht/~jakintosh/rolepass/pkg/tokens"
)

var (
	ErrReplayDetected = errors.New("nonce replay detected")
	ErrReplayStore    = errors.New("replay store failure")
)

type ReplayPolicy int

const (
	// ReplayPolicyTokenReuse lets one token be presented repeatedly but
	// rejects a second token carrying the same nonce.
	ReplayPolicyTokenReuse ReplayPolicy = iota
	// ReplayPolicySingleUse accepts each nonce exactly once.
	ReplayPolicySingleUse
)

func ParseReplayPolicy(s string) (ReplayPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "token-reuse":
		return ReplayPolicyTokenReuse, nil
	case "single-use":
		return ReplayPolicySingleUse, nil
	default:
		return 0, fmt.Errorf("%w: unknown replay policy %q", ErrInvalidConfig, s)
	}
}

func (p ReplayPolicy) String() string {
	if p == ReplayPolicySingleUse {
		return "single-use"
	}
	return "token-reuse"
}

// ReplayGuard remembers every nonce it has seen until the token carrying it
// expires. The store maps nonce to token fingerprint.
type ReplayGuard struct {
	store  ephemeral.Store[string]
	policy ReplayPolicy
	now    func() time.Time
}

func NewReplayGuard(
	store ephemeral.Store[string],
	policy ReplayPolicy,
) *ReplayGuard {
	if store == nil {
		store = ephemeral.NewMemoryStore[string]("replay")
	}
	return &ReplayGuard{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
}

func (g *ReplayGuard) Policy() ReplayPolicy {
	return g.policy
}

// Check records the nonce of claims. It returns ErrReplayDetected when the
// policy forbids this sighting, and ErrReplayStore when the store fails.
func (g *ReplayGuard) Check(
	ctx context.Context,
	claims *tokens.Claims,
) error {
	fingerprint := Fingerprint(claims)
	ttl := time.Second
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Sub(g.now()); remaining > ttl {
			ttl = remaining
		}
	}

	// a second pass covers a recorded entry that expires between Put and Get
	for range 2 {
		err := g.store.Put(ctx, claims.Nonce, fingerprint, ttl)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ephemeral.ErrExists) {
			return fmt.Errorf("%w: %v", ErrReplayStore, err)
		}
		if g.policy == ReplayPolicySingleUse {
			return ErrReplayDetected
		}

		seen, ok, err := g.store.Get(ctx, claims.Nonce)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrReplayStore, err)
		}
		if !ok {
			continue
		}
		if seen != fingerprint {
			return ErrReplayDetected
		}
		return nil
	}
	return fmt.Errorf("%w: nonce entry kept vanishing", ErrReplayStore)
}

// Fingerprint identifies one token among those sharing a nonce.
func Fingerprint(claims *tokens.Claims) string {
	var issuedAt int64
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Unix()
	}
	sum := sha256.Sum256([]byte(claims.Nonce + "|" + claims.Subject + "|" + strconv.FormatInt(issuedAt, 10)))
	return hex.EncodeToString(sum[:])
}
