package database_test

import (
	"context"
	"errors"
	"testing"

	"git.sr.ht/~jakintosh/rolepass/internal/service"
)

func TestInsertIdentity_Success(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	// inserting a new identity succeeds
	err := store.InsertIdentity(
		context.Background(),
		service.Account{Handle: "alice", Name: "Alice", Email: "alice@test"},
		[]byte("hashed-password"),
	)
	if err != nil {
		t.Fatalf("InsertIdentity failed: %v", err)
	}
}

func TestInsertIdentity_DuplicateHandle(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	// first insert succeeds
	insertAccount(t, store, "alice")

	// second insert with same handle reports ErrHandleExists
	err := store.InsertIdentity(context.Background(), service.Account{Handle: "alice"}, []byte("other"))
	if !errors.Is(err, service.ErrHandleExists) {
		t.Fatalf("expected ErrHandleExists, got %v", err)
	}
}

func TestGetSecret_ExistingUser(t *testing.T) {
	t.Parallel()
	store := setupStore(t)
	insertAccount(t, store, "alice")

	// stored secret is returned byte for byte
	secret, err := store.GetSecret(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	if string(secret) != "hash-alice" {
		t.Errorf("secret = %q, want hash-alice", secret)
	}
}

func TestGetSecret_NonExistentUser(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	// unknown handle reports ErrAccountNotFound
	_, err := store.GetSecret(context.Background(), "nobody")
	if !errors.Is(err, service.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestGetAccount(t *testing.T) {
	t.Parallel()
	store := setupStore(t)
	insertAccount(t, store, "alice")
	insertAccount(t, store, "bob")

	// profile fields come back for the right handle
	account, err := store.GetAccount(context.Background(), "bob")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.Handle != "bob" || account.Name != "bob name" || account.Email != "bob@test" {
		t.Errorf("unexpected account: %+v", account)
	}

	// unknown handle reports ErrAccountNotFound
	_, err = store.GetAccount(context.Background(), "carol")
	if !errors.Is(err, service.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}
