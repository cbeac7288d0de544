package api_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gridcert/ggo-engine/internal/api"
	"github.com/gridcert/ggo-engine/internal/ledger"
	"github.com/gridcert/ggo-engine/internal/lock"
	"github.com/gridcert/ggo-engine/internal/model"
	"github.com/gridcert/ggo-engine/internal/registry"
	"github.com/gridcert/ggo-engine/internal/task"
)

func intPtr(n int) *int { return &n }

func newServer(t *testing.T) (*chi.Mux, *ledger.MemoryLedger) {
	t.Helper()

	reg := registry.NewMemoryRegistry()
	ldg := ledger.NewMemoryLedger()
	measurements := ledger.NewMemoryMeasurements()

	begin := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	reg.AddAccount(model.Account{ID: "acct-1", Token: "token-1"})
	reg.AddFacility(model.Facility{
		ID: "fac-1", AccountID: "acct-1", GSRN: "571313000000000001",
		Type: model.FacilityConsumption, Sector: "DK1", RetiringPriority: intPtr(0),
	})
	ldg.AddCertificate("token-1", model.Certificate{
		Address: "cert-1", Sector: "DK1", Begin: begin, End: begin.Add(time.Hour),
		Amount: 100, Technology: "Wind",
	})
	measurements.SetConsumption(model.Measurement{
		Address: "meas-1", GSRN: "571313000000000001",
		Begin: begin, End: begin.Add(time.Hour), Amount: 200,
	})

	runner := task.NewRunner(task.Config{Workers: 1, RetryDelay: 10 * time.Millisecond},
		reg, ldg, measurements, lock.NewMemoryLocker(), nil)
	runner.Start()
	t.Cleanup(runner.Stop)

	r := chi.NewRouter()
	r.Route("/api/v1", api.NewHandler(runner).Routes)
	return r, ldg
}

func post(t *testing.T, mux *chi.Mux, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestEnqueueAllocation(t *testing.T) {
	mux, ldg := newServer(t)

	rec := post(t, mux, "/api/v1/allocations",
		`{"account_id":"acct-1","certificate_address":"cert-1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}

	waitFor(t, 2*time.Second, func() bool { return len(ldg.Composes()) == 1 })
}

func TestEnqueueAllocation_Validation(t *testing.T) {
	mux, _ := newServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing account", `{"certificate_address":"cert-1"}`},
		{"missing certificate", `{"account_id":"acct-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, mux, "/api/v1/allocations", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
				t.Errorf("content type = %s", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestEnqueueBackfill(t *testing.T) {
	mux, ldg := newServer(t)

	rec := post(t, mux, "/api/v1/backfills",
		`{"account_id":"acct-1","from":"2025-03-01T00:00:00Z","to":"2025-03-02T00:00:00Z"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}

	waitFor(t, 2*time.Second, func() bool { return len(ldg.Composes()) == 1 })
}

func TestEnqueueBackfill_Validation(t *testing.T) {
	mux, _ := newServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing account", `{"from":"2025-03-01T00:00:00Z","to":"2025-03-02T00:00:00Z"}`},
		{"missing range", `{"account_id":"acct-1"}`},
		{"inverted range", `{"account_id":"acct-1","from":"2025-03-02T00:00:00Z","to":"2025-03-01T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, mux, "/api/v1/backfills", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestMeasurementPublished(t *testing.T) {
	mux, ldg := newServer(t)

	rec := post(t, mux, "/api/v1/measurements",
		`{"account_id":"acct-1","begin":"2025-03-01T12:00:00Z"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}

	waitFor(t, 2*time.Second, func() bool { return len(ldg.Composes()) == 1 })
}

func TestMeasurementPublished_Validation(t *testing.T) {
	mux, _ := newServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing account", `{"begin":"2025-03-01T12:00:00Z"}`},
		{"missing begin", `{"account_id":"acct-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, mux, "/api/v1/measurements", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}
