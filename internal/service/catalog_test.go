package service_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/rolepass/internal/service"
	"git.sr.ht/~jakintosh/rolepass/internal/testutil"
)

func TestClientCatalog_GetClient_Exists(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)

	client, err := env.Service.Catalog().GetClient(testutil.DemoClient)
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}

	if client.Display != "Demo Client" {
		t.Errorf("Display = %s, want Demo Client", client.Display)
	}
	if client.ID != testutil.DemoClient {
		t.Errorf("ID = %s, want %s", client.ID, testutil.DemoClient)
	}
	if !client.AllowsRedirect(testutil.DemoRedirect) {
		t.Errorf("registered redirect not allowed")
	}
	if client.AllowsRedirect("http://localhost:9100/callback/extra") {
		t.Errorf("redirect matching must be exact")
	}
}

func TestClientCatalog_GetClient_NotExists(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)

	_, err := env.Service.Catalog().GetClient("nonexistent-client")
	if !errors.Is(err, service.ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound, got %v", err)
	}
}

func TestClientCatalog_IDs(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)

	ids := env.Service.Catalog().IDs()
	if len(ids) != 2 || ids[0] != testutil.BillingClient || ids[1] != testutil.DemoClient {
		t.Errorf("IDs = %v", ids)
	}
}

func TestClientCatalog_RejectsBadDefinitions(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no redirects":      `{"display": "x", "redirect_uris": []}`,
		"relative redirect": `{"display": "x", "redirect_uris": ["/callback"]}`,
		"fragment":          `{"display": "x", "redirect_uris": ["http://a.test/cb#frag"]}`,
		"not json":          `display: x`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := service.NewClientCatalog(dir); err == nil {
				t.Error("expected load error")
			}
		})
	}
}

func TestClientCatalog_IgnoresNonJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeClient(t, dir, "app.json", "http://app.test/callback")
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("notes"), 0o644); err != nil {
		t.Fatal(err)
	}

	catalog, err := service.NewClientCatalog(dir)
	if err != nil {
		t.Fatalf("NewClientCatalog failed: %v", err)
	}
	if ids := catalog.IDs(); len(ids) != 1 || ids[0] != "app" {
		t.Errorf("IDs = %v, want [app]", ids)
	}
}

func TestClientCatalog_WatchReloads(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeClient(t, dir, "app.json", "http://app.test/callback")

	catalog, err := service.NewClientCatalog(dir)
	if err != nil {
		t.Fatalf("NewClientCatalog failed: %v", err)
	}
	if err := catalog.Watch(20 * time.Millisecond); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	t.Cleanup(catalog.Close)

	// a new file shows up after the debounce
	writeClient(t, dir, "other.json", "http://other.test/callback")
	waitFor(t, func() bool {
		_, err := catalog.GetClient("other")
		return err == nil
	})

	// a broken file keeps the previous clients
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := catalog.GetClient("app"); err != nil {
		t.Errorf("previous clients lost after bad reload: %v", err)
	}
}

func writeClient(t *testing.T, dir string, name string, redirect string) {
	t.Helper()
	body := `{"display": "` + name + `", "redirect_uris": ["` + redirect + `"]}`
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
