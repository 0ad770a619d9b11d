package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSnapshotMirrorsCounters(t *testing.T) {
	pre := Snap()
	AddConsoleTx(5)
	IncPoolTx()
	IncError(ErrCANSend)
	SetHubClients(3)
	post := Snap()
	if post.ConsoleTx-pre.ConsoleTx != 5 || post.PoolTx-pre.PoolTx != 1 || post.Errors-pre.Errors != 1 {
		t.Fatalf("deltas pre=%+v post=%+v", pre, post)
	}
	if post.HubClients != 3 {
		t.Fatalf("gauge %d", post.HubClients)
	}
}

func TestReadyEndpoint(t *testing.T) {
	defer SetReadinessFunc(nil)
	h := Handler()
	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}
	if rec := get("/ready"); rec.Code != http.StatusOK {
		t.Fatalf("default readiness %d", rec.Code)
	}
	SetReadinessFunc(func() bool { return false })
	if rec := get("/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("not ready returned %d", rec.Code)
	}

	InitBuildInfo("test", "abc", "today")
	rec := get("/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "can_console_controller_pool_tx_frames_total") {
		t.Fatalf("metrics body missing controller counters")
	}
	if !strings.Contains(rec.Body.String(), `can_console_errors_total{where="console_write"}`) {
		t.Fatalf("error series not pre-registered")
	}
}
