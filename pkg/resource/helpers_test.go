package resource_test

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/rolepass/pkg/resource"
	"git.sr.ht/~jakintosh/rolepass/pkg/tokens"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://auth.test.local"
	testAudience = "demo-client"
)

// countingKeys wraps a key source and counts lookups
type countingKeys struct {
	inner   resource.KeySource
	lookups atomic.Int32
}

func (c *countingKeys) Key(ctx context.Context, keyID string) (crypto.PublicKey, error) {
	c.lookups.Add(1)
	return c.inner.Key(ctx, keyID)
}

// stageLog records the stages a validator entered
type stageLog struct {
	mu     sync.Mutex
	stages []string
}

func (l *stageLog) observe(stage string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages = append(l.stages, stage)
}

func (l *stageLog) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.stages) == 0 {
		return ""
	}
	return l.stages[len(l.stages)-1]
}

type fixture struct {
	validator *resource.Validator
	issuer    *tokens.Issuer
	keys      *countingKeys
	stages    *stageLog
}

func newFixture(
	t *testing.T,
	policy resource.ReplayPolicy,
) *fixture {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	issuer, err := tokens.NewIssuer(key, testIssuer)
	require.NoError(t, err)

	f := &fixture{
		issuer: issuer,
		keys:   &countingKeys{inner: resource.NewStaticKeySource(&key.PublicKey)},
		stages: &stageLog{},
	}
	f.validator, err = resource.NewValidator(resource.Config{
		Issuer:   testIssuer,
		Audience: testAudience,
		Keys:     f.keys,
		Replay:   resource.NewReplayGuard(nil, policy),
		Observer: f.stages.observe,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) token(
	t *testing.T,
	subject string,
	nonce string,
) string {
	t.Helper()
	return mintToken(t, f.issuer, subject, testAudience, nonce)
}

func mintToken(
	t *testing.T,
	issuer *tokens.Issuer,
	subject string,
	audience string,
	nonce string,
) string {
	t.Helper()
	token, err := issuer.IssueIDToken(
		tokens.Identity{
			Subject: subject,
			Name:    subject + " name",
			Email:   subject + "@test.local",
			Role:    tokens.StringPtr("user"),
		},
		audience,
		nonce,
		time.Hour,
	)
	require.NoError(t, err)
	return token.Encoded
}
