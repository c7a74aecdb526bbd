package service_test

import (
	"context"
	"errors"
	"testing"

	"git.sr.ht/~jakintosh/rolepass/internal/service"
	"git.sr.ht/~jakintosh/rolepass/internal/testutil"
)

func TestRegister_Success(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	ctx := context.Background()

	// registration stores a usable credential
	account := service.Account{Handle: "alice", Name: "Alice", Email: "alice@test.local"}
	if err := env.Service.Register(ctx, account, "password123"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	got, err := env.Service.VerifyCredentials(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("VerifyCredentials failed: %v", err)
	}
	if got.Name != "Alice" || got.Email != "alice@test.local" {
		t.Errorf("unexpected account: %+v", got)
	}
}

func TestRegister_DuplicateHandle(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	env.RegisterTestUser(t, "alice", "password123")

	// second registration reports ErrHandleExists
	err := env.Service.Register(context.Background(), service.Account{Handle: "alice"}, "other")
	if !errors.Is(err, service.ErrHandleExists) {
		t.Errorf("expected ErrHandleExists, got %v", err)
	}
}

func TestRegister_InvalidInput(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	ctx := context.Background()

	// handles must be simple identifiers
	for _, handle := range []string{"", " alice", "a/b", "-lead"} {
		err := env.Service.Register(ctx, service.Account{Handle: handle}, "password123")
		if !errors.Is(err, service.ErrInvalidHandle) {
			t.Errorf("handle %q: expected ErrInvalidHandle, got %v", handle, err)
		}
	}

	// empty passwords are refused
	err := env.Service.Register(ctx, service.Account{Handle: "bob"}, "")
	if !errors.Is(err, service.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}
