package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/rolepass/pkg/ephemeral"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()
	m := New()

	m.LoginAttempt("completed")
	m.LoginAttempt("completed")
	m.LoginAttempt("access_denied")
	m.Sweep("codes", 3, nil)
	m.Sweep("codes", 0, errors.New("boom"))

	if got := testutil.ToFloat64(m.logins.WithLabelValues("completed")); got != 2 {
		t.Errorf("completed logins = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.sweptEntries.WithLabelValues("codes")); got != 3 {
		t.Errorf("swept = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.sweepFailures.WithLabelValues("codes")); got != 1 {
		t.Errorf("sweep failures = %v, want 1", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics

	// nil receivers must not panic
	m.LoginAttempt("completed")
	m.CodeExchange("ok")
	m.Callback("ok")
	m.Validation("ok")
	m.Sweep("codes", 1, nil)

	res := httptest.NewRecorder()
	m.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusNotFound {
		t.Errorf("nil handler status = %d, want 404", res.Code)
	}
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()
	m := New()
	m.Validation("replay_detected")

	res := httptest.NewRecorder()
	m.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.Code)
	}
	if !strings.Contains(res.Body.String(), `rolepass_resource_token_validations_total{outcome="replay_detected"} 1`) {
		t.Errorf("exposition missing validation counter:\n%s", res.Body.String())
	}
}

func TestMetrics_SweeperReportsSweptEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := New()

	store := ephemeral.NewMemoryStore[string]("codes")
	for _, key := range []string{"a", "b"} {
		if err := store.Put(ctx, key, "v", 5*time.Millisecond); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if err := store.Put(ctx, "live", "v", time.Minute); err != nil {
		t.Fatalf("put live: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	sweeper := ephemeral.NewSweeper(
		map[string]ephemeral.Sweepable{"codes": store},
		ephemeral.WithSweepObserver(m.Sweep),
	)
	sweeper.SweepNow(ctx)

	if got := testutil.ToFloat64(m.sweptEntries.WithLabelValues("codes")); got != 2 {
		t.Errorf("swept = %v, want 2", got)
	}

	res := httptest.NewRecorder()
	m.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(res.Body.String(), `rolepass_ephemeral_swept_entries_total{store="codes"} 2`) {
		t.Errorf("exposition missing swept counter:\n%s", res.Body.String())
	}
}
