// Package finalizehttp exposes the close API over HTTP.
package finalizehttp

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/clearledger/clearledger/internal/finalize"
	"github.com/clearledger/clearledger/internal/ledger"
	"github.com/clearledger/clearledger/internal/platform/cache"
	"github.com/clearledger/clearledger/internal/platform/httpx"
	"github.com/clearledger/clearledger/internal/shared"
)

type closeService interface {
	Finalize(ctx context.Context, tenantID string, month ledger.Month) (finalize.Outcome, error)
	Job(ctx context.Context, tenantID, monthKey string) (finalize.JobRecord, error)
	ReadModel(ctx context.Context, tenantID, monthKey string, kind finalize.ReadModelKind) (finalize.ReadModel, error)
	ExportArtifact(ctx context.Context, tenantID, monthKey string, kind finalize.ArtifactKind) (finalize.ExportArtifact, error)
}

// Enqueuer hands a finalize request to the background worker queue.
type Enqueuer interface {
	EnqueueFinalize(ctx context.Context, tenantID, monthKey string) (string, error)
}

// Handler wires HTTP endpoints for period finalization and its projections.
type Handler struct {
	logger    *slog.Logger
	service   closeService
	enqueuer  Enqueuer
	cache     *cache.JSONCache
	validate  *validator.Validate
	rateLimit func(http.Handler) http.Handler
}

type periodParams struct {
	TenantID string `validate:"required,max=64"`
	MonthKey string `validate:"required,len=7"`
}

// NewHandler constructs the close HTTP handler. Finalize is rate limited per
// tenant since a burst of identical requests only contends on the job lock.
func NewHandler(logger *slog.Logger, service closeService, enqueuer Enqueuer, jsonCache *cache.JSONCache) *Handler {
	limiter := httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if tenant := chi.URLParam(r, "tenantID"); tenant != "" {
			return "tenant:" + tenant, nil
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr, nil
		}
		return "ip:" + host, nil
	}))
	return &Handler{
		logger:    logger,
		service:   service,
		enqueuer:  enqueuer,
		cache:     jsonCache,
		validate:  validator.New(),
		rateLimit: limiter,
	}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/close/{tenantID}/{monthKey}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/finalize", h.finalizePeriod)
		})
		r.Get("/job", h.getJob)
		r.Get("/readmodels/{kind}", h.getReadModel)
		r.Get("/exports/{kind}", h.getExport)
	})
}

type finalizeRequest struct {
	Async bool `json:"async"`
}

type finalizeResponse struct {
	JobID          string              `json:"jobId"`
	Status         finalize.JobStatus  `json:"status"`
	Reused         bool                `json:"reused"`
	PeriodLockHash string              `json:"periodLockHash"`
	Outputs        finalize.OutputRefs `json:"outputs"`
}

type enqueuedResponse struct {
	TaskID   string `json:"taskId"`
	TenantID string `json:"tenantId"`
	MonthKey string `json:"monthKey"`
}

func (h *Handler) finalizePeriod(w http.ResponseWriter, r *http.Request) {
	params, month, err := h.periodParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var req finalizeRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, shared.ErrSchemaMismatch.WithMessagef("close: decode request: %v", err))
			return
		}
	}

	if req.Async {
		if h.enqueuer == nil {
			httpx.RespondError(w, shared.ErrStoreUnavailable.WithMessagef("close: background queue not configured"))
			return
		}
		taskID, err := h.enqueuer.EnqueueFinalize(r.Context(), params.TenantID, params.MonthKey)
		if err != nil {
			h.logger.Error("close: enqueue finalize", slog.String("tenant", params.TenantID), slog.String("month", params.MonthKey), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, enqueuedResponse{TaskID: taskID, TenantID: params.TenantID, MonthKey: params.MonthKey})
		return
	}

	outcome, err := h.service.Finalize(r.Context(), params.TenantID, month)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !outcome.Reused {
		if err := h.cache.Bump(r.Context()); err != nil {
			h.logger.Warn("close: cache bump", slog.Any("error", err))
		}
	}
	status := http.StatusCreated
	if outcome.Reused {
		status = http.StatusOK
	}
	httpx.JSON(w, status, finalizeResponse{
		JobID:          outcome.Job.ID,
		Status:         outcome.Job.Status,
		Reused:         outcome.Reused,
		PeriodLockHash: outcome.Job.PeriodLockHash,
		Outputs:        outcome.Job.Outputs,
	})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	params, _, err := h.periodParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	job, err := h.service.Job(r.Context(), params.TenantID, params.MonthKey)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) getReadModel(w http.ResponseWriter, r *http.Request) {
	params, _, err := h.periodParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	kind, ok := readModelKinds[chi.URLParam(r, "kind")]
	if !ok {
		httpx.RespondError(w, shared.ErrReferenceNotFound.WithMessagef("close: unknown read model %q", chi.URLParam(r, "kind")))
		return
	}

	key, err := h.cache.BuildKey(r.Context(), "close", "rm", params.TenantID, params.MonthKey, string(kind))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var rm finalize.ReadModel
	err = h.cache.FetchJSON(r.Context(), key, &rm, func(ctx context.Context) (any, error) {
		return h.service.ReadModel(ctx, params.TenantID, params.MonthKey, kind)
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rm)
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	params, _, err := h.periodParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	spec, ok := exportKinds[chi.URLParam(r, "kind")]
	if !ok {
		httpx.RespondError(w, shared.ErrReferenceNotFound.WithMessagef("close: unknown export %q", chi.URLParam(r, "kind")))
		return
	}
	artifact, err := h.service.ExportArtifact(r.Context(), params.TenantID, params.MonthKey, spec.kind)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", spec.contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+params.MonthKey+spec.suffix+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact.Content)
}

var readModelKinds = map[string]finalize.ReadModelKind{
	"timeline":         finalize.ReadModelTimeline,
	"friction":         finalize.ReadModelFriction,
	"vat-summary":      finalize.ReadModelVATSummary,
	"mismatch-summary": finalize.ReadModelMismatchSummary,
}

var exportKinds = map[string]struct {
	kind        finalize.ArtifactKind
	contentType string
	suffix      string
}{
	"ledger":  {finalize.ArtifactLedgerCSV, "text/csv; charset=utf-8", "-ledger.csv"},
	"summary": {finalize.ArtifactSummaryPDF, "text/plain; charset=utf-8", "-summary.txt"},
}

func (h *Handler) periodParams(r *http.Request) (periodParams, ledger.Month, error) {
	params := periodParams{
		TenantID: chi.URLParam(r, "tenantID"),
		MonthKey: chi.URLParam(r, "monthKey"),
	}
	if err := h.validate.Struct(params); err != nil {
		return periodParams{}, ledger.Month{}, shared.ErrMissingField.WithMessagef("close: %v", err)
	}
	month, err := ledger.ParseMonthKey(params.MonthKey)
	if err != nil {
		return periodParams{}, ledger.Month{}, err
	}
	return params, month, nil
}
