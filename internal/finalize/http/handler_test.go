package finalizehttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/clearledger/clearledger/internal/finalize"
	"github.com/clearledger/clearledger/internal/ledger"
	"github.com/clearledger/clearledger/internal/platform/cache"
	"github.com/clearledger/clearledger/internal/shared"
)

type stubCloseService struct {
	finalizeFn  func(ctx context.Context, tenantID string, month ledger.Month) (finalize.Outcome, error)
	jobFn       func(ctx context.Context, tenantID, monthKey string) (finalize.JobRecord, error)
	readModelFn func(ctx context.Context, tenantID, monthKey string, kind finalize.ReadModelKind) (finalize.ReadModel, error)
	exportFn    func(ctx context.Context, tenantID, monthKey string, kind finalize.ArtifactKind) (finalize.ExportArtifact, error)

	readModelCalls int
}

func (s *stubCloseService) Finalize(ctx context.Context, tenantID string, month ledger.Month) (finalize.Outcome, error) {
	return s.finalizeFn(ctx, tenantID, month)
}

func (s *stubCloseService) Job(ctx context.Context, tenantID, monthKey string) (finalize.JobRecord, error) {
	return s.jobFn(ctx, tenantID, monthKey)
}

func (s *stubCloseService) ReadModel(ctx context.Context, tenantID, monthKey string, kind finalize.ReadModelKind) (finalize.ReadModel, error) {
	s.readModelCalls++
	return s.readModelFn(ctx, tenantID, monthKey, kind)
}

func (s *stubCloseService) ExportArtifact(ctx context.Context, tenantID, monthKey string, kind finalize.ArtifactKind) (finalize.ExportArtifact, error) {
	return s.exportFn(ctx, tenantID, monthKey, kind)
}

type stubEnqueuer struct {
	taskID string
	calls  int
}

func (s *stubEnqueuer) EnqueueFinalize(ctx context.Context, tenantID, monthKey string) (string, error) {
	s.calls++
	return s.taskID, nil
}

func newTestHandler(t *testing.T, svc closeService, enqueuer Enqueuer) (*chi.Mux, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	jsonCache := cache.NewJSONCache(client, time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, svc, enqueuer, jsonCache)
	router := chi.NewRouter()
	h.MountRoutes(router)
	return router, func() {
		_ = client.Close()
		mr.Close()
	}
}

func TestFinalizeReturnsCreated(t *testing.T) {
	svc := &stubCloseService{
		finalizeFn: func(ctx context.Context, tenantID string, month ledger.Month) (finalize.Outcome, error) {
			if tenantID != "tenant-1" {
				t.Fatalf("expected tenant-1, got %s", tenantID)
			}
			if month.Key() != "2026-01" {
				t.Fatalf("expected 2026-01, got %s", month.Key())
			}
			return finalize.Outcome{Job: finalize.JobRecord{ID: "job-1", Status: finalize.JobStatusCompleted, PeriodLockHash: "abc123"}}, nil
		},
	}
	router, cleanup := newTestHandler(t, svc, nil)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/close/tenant-1/2026-01/finalize", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["jobId"] != "job-1" || resp["reused"] != false {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestFinalizeReusedReturnsOK(t *testing.T) {
	svc := &stubCloseService{
		finalizeFn: func(ctx context.Context, tenantID string, month ledger.Month) (finalize.Outcome, error) {
			return finalize.Outcome{Reused: true, Job: finalize.JobRecord{ID: "job-1", Status: finalize.JobStatusCompleted}}, nil
		},
	}
	router, cleanup := newTestHandler(t, svc, nil)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/close/tenant-1/2026-01/finalize", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestFinalizeAsyncEnqueues(t *testing.T) {
	svc := &stubCloseService{
		finalizeFn: func(ctx context.Context, tenantID string, month ledger.Month) (finalize.Outcome, error) {
			t.Fatal("synchronous path must not run")
			return finalize.Outcome{}, nil
		},
	}
	enqueuer := &stubEnqueuer{taskID: "task-9"}
	router, cleanup := newTestHandler(t, svc, enqueuer)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/close/tenant-1/2026-01/finalize", strings.NewReader(`{"async":true}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if enqueuer.calls != 1 {
		t.Fatalf("expected one enqueue, got %d", enqueuer.calls)
	}
}

func TestFinalizeConflictMapsTo409(t *testing.T) {
	svc := &stubCloseService{
		finalizeFn: func(ctx context.Context, tenantID string, month ledger.Month) (finalize.Outcome, error) {
			return finalize.Outcome{}, shared.ErrFinalizeInProgress.WithMessagef("already running")
		},
	}
	router, cleanup := newTestHandler(t, svc, nil)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/close/tenant-1/2026-01/finalize", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "FINALIZE_IN_PROGRESS") {
		t.Fatalf("expected code in problem body: %s", rr.Body.String())
	}
}

func TestFinalizeRejectsBadMonthKey(t *testing.T) {
	router, cleanup := newTestHandler(t, &stubCloseService{}, nil)
	defer cleanup()

	// Non-canonical keys must 400 on every endpoint so one request string
	// never addresses two different storage keys.
	for _, path := range []string{
		"/close/tenant-1/2026-13/finalize",
		"/close/tenant-1/2026-1a/finalize",
		"/close/tenant-1/2026-1a/job",
		"/close/tenant-1/2026-1a/readmodels/vat-summary",
	} {
		method := http.MethodPost
		if !strings.HasSuffix(path, "/finalize") {
			method = http.MethodGet
		}
		req := httptest.NewRequest(method, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400 for %s, got %d: %s", path, rr.Code, rr.Body.String())
		}
	}
}

func TestGetReadModelCaches(t *testing.T) {
	svc := &stubCloseService{
		readModelFn: func(ctx context.Context, tenantID, monthKey string, kind finalize.ReadModelKind) (finalize.ReadModel, error) {
			if kind != finalize.ReadModelVATSummary {
				t.Fatalf("expected VAT summary kind, got %s", kind)
			}
			return finalize.ReadModel{TenantID: tenantID, MonthKey: monthKey, Kind: kind, PeriodLockHash: "abc123"}, nil
		},
	}
	router, cleanup := newTestHandler(t, svc, nil)
	defer cleanup()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/close/tenant-1/2026-01/readmodels/vat-summary", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	}
	if svc.readModelCalls != 1 {
		t.Fatalf("expected cached second read, service called %d times", svc.readModelCalls)
	}
}

func TestGetExportServesCSV(t *testing.T) {
	svc := &stubCloseService{
		exportFn: func(ctx context.Context, tenantID, monthKey string, kind finalize.ArtifactKind) (finalize.ExportArtifact, error) {
			if kind != finalize.ArtifactLedgerCSV {
				t.Fatalf("expected ledger kind, got %s", kind)
			}
			return finalize.ExportArtifact{ID: "art-1", Content: []byte("recordType,recordId\n")}, nil
		},
	}
	router, cleanup := newTestHandler(t, svc, nil)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/close/tenant-1/2026-01/exports/ledger", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "text/csv; charset=utf-8" {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "2026-01-ledger.csv") {
		t.Fatalf("unexpected disposition %q", rr.Header().Get("Content-Disposition"))
	}
}
