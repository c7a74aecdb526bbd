package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
)

// runCLI executes the root command with args against the test's environment
func runCLI(
	t *testing.T,
	stdin string,
	args ...string,
) (
	string,
	error,
) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_UsersAndRoles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ROLEPASS_AUTHORITY_DB_PATH", filepath.Join(dir, "rolepass.db"))

	// register with a password from stdin
	out, err := runCLI(t, "alice-pw\n", "users", "add", "alice", "--name", "Alice")
	if err != nil {
		t.Fatalf("users add: %v", err)
	}
	if !strings.Contains(out, "Registered alice") {
		t.Errorf("unexpected output: %q", out)
	}

	// the handle is taken now
	if _, err := runCLI(t, "other\n", "users", "add", "alice"); err == nil {
		t.Error("expected duplicate handle to fail")
	}

	if _, err := runCLI(t, "", "roles", "set", "alice", "demo-client", "admin"); err != nil {
		t.Fatalf("roles set: %v", err)
	}
	if _, err := runCLI(t, "", "roles", "set", "alice", "billing", "user"); err != nil {
		t.Fatalf("roles set: %v", err)
	}

	out, err = runCLI(t, "", "roles", "ls", "alice")
	if err != nil {
		t.Fatalf("roles ls: %v", err)
	}
	billing := strings.Index(out, "billing")
	demo := strings.Index(out, "demo-client")
	if billing < 0 || demo < 0 || billing > demo {
		t.Errorf("expected sorted mappings, got %q", out)
	}
	if !strings.Contains(out, "admin") || !strings.Contains(out, "user") {
		t.Errorf("missing roles in %q", out)
	}

	if _, err := runCLI(t, "", "roles", "rm", "alice", "billing"); err != nil {
		t.Fatalf("roles rm: %v", err)
	}
	if _, err := runCLI(t, "", "roles", "rm", "alice", "billing"); err == nil {
		t.Error("expected removing a missing role to fail")
	}

	// unknown accounts cannot hold roles
	if _, err := runCLI(t, "", "roles", "set", "nobody", "demo-client", "admin"); err == nil {
		t.Error("expected unknown account to fail")
	}
}

func TestCLI_KeysGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signing.pem")

	out, err := runCLI(t, "", "keys", "generate", "--out", path, "--force=false")
	if err != nil {
		t.Fatalf("keys generate: %v", err)
	}
	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Alg string `json:"alg"`
		} `json:"keys"`
	}
	if err := json.Unmarshal([]byte(out), &jwks); err != nil {
		t.Fatalf("output is not a jwks: %v", err)
	}
	if len(jwks.Keys) != 1 || jwks.Keys[0].Kid == "" || jwks.Keys[0].Alg != "ES256" {
		t.Errorf("unexpected jwks: %+v", jwks)
	}

	// an existing key is kept
	if _, err := runCLI(t, "", "keys", "generate", "--out", path, "--force=false"); err == nil {
		t.Error("expected existing key to be refused")
	}
	if _, err := runCLI(t, "", "keys", "generate", "--out", path, "--force"); err != nil {
		t.Errorf("forced generate: %v", err)
	}
}

func TestCLI_InvalidConfig(t *testing.T) {
	t.Setenv("ROLEPASS_STORE_BACKEND", "etcd")
	if _, err := runCLI(t, "", "roles", "ls", "alice"); err == nil {
		t.Error("expected invalid config to fail")
	}
}

func TestReadPassword(t *testing.T) {
	t.Parallel()

	// only the first line counts
	got, err := readPassword(strings.NewReader("secret\r\nignored\n"))
	if err != nil || got != "secret" {
		t.Errorf("readPassword = %q, %v", got, err)
	}

	for _, in := range []string{"", "\n"} {
		if _, err := readPassword(strings.NewReader(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}
