package finalize

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clearledger/clearledger/internal/friction"
	"github.com/clearledger/clearledger/internal/ledger"
	"github.com/clearledger/clearledger/internal/recon"
	"github.com/clearledger/clearledger/internal/shared"
	"github.com/clearledger/clearledger/internal/timeline"
)

// Store is the document-store boundary. The core computes; the store
// persists. CreateJob must provide conditional-create semantics: at most one
// writer wins the initial RUNNING transition for a given
// (tenant, month, periodLockHash), all others receive ErrJobExists.
type Store interface {
	ReadEventsByMonth(ctx context.Context, tenantID, monthKey string) ([]ledger.Event, error)
	ReadJobByLockHash(ctx context.Context, tenantID, monthKey, lockHash string) (JobRecord, error)
	ReadLatestJob(ctx context.Context, tenantID, monthKey string) (JobRecord, error)
	CreateJob(ctx context.Context, job JobRecord) error
	UpdateJob(ctx context.Context, job JobRecord) error
	ReclaimJob(ctx context.Context, job JobRecord) error
	ReadPeriod(ctx context.Context, tenantID, monthKey string) (Period, error)
	CompletePeriod(ctx context.Context, period Period, job JobRecord) error
	WriteReadModel(ctx context.Context, rm ReadModel) error
	ReadReadModel(ctx context.Context, tenantID, monthKey string, kind ReadModelKind) (ReadModel, error)
	WriteAuditSnapshot(ctx context.Context, snap AuditSnapshot) error
	ReadExportArtifact(ctx context.Context, tenantID, monthKey string, kind ArtifactKind) (ExportArtifact, error)
	WriteExportArtifact(ctx context.Context, artifact ExportArtifact) error
}

// Config carries the explicit computation parameters; nothing is read from
// process-wide state so runs stay referentially transparent.
type Config struct {
	Currency       string
	AsOfDays       []int
	VATRateBuckets []float64
}

// Service drives the finalize state machine.
type Service struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service instance.
func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	if len(cfg.AsOfDays) == 0 {
		cfg.AsOfDays = []int{0, 3, 7, 14, 30}
	}
	if len(cfg.VATRateBuckets) == 0 {
		cfg.VATRateBuckets = recon.DefaultVATRateBuckets
	}
	return &Service{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Finalize runs the period finalization workflow for one tenant month. It is
// safe under at-least-once invocation: an unchanged event set yields the same
// lock hash and the second call is a pure no-op returning the prior outputs.
func (s *Service) Finalize(ctx context.Context, tenantID string, month ledger.Month) (Outcome, error) {
	if tenantID == "" {
		return Outcome{}, shared.ErrMissingField.WithMessagef("finalize: tenant id required")
	}
	monthKey := month.Key()

	events, err := s.store.ReadEventsByMonth(ctx, tenantID, monthKey)
	if err != nil {
		return Outcome{}, shared.Normalize(err)
	}
	if len(events) == 0 {
		return Outcome{}, shared.ErrNoDataToExport.WithMessagef("finalize: no events for %s %s", tenantID, monthKey)
	}

	sorted := ledger.SortEvents(events)
	asOfDays := timeline.NormalizeAsOfDays(s.cfg.AsOfDays)
	lockHash, err := ComputePeriodLockHash(tenantID, month, asOfDays, sorted)
	if err != nil {
		return Outcome{}, shared.Normalize(err)
	}

	job, outcome, err := s.claimJob(ctx, tenantID, monthKey, lockHash)
	if err != nil || outcome != nil {
		if outcome != nil {
			return *outcome, err
		}
		return Outcome{}, err
	}

	result, runErr := s.run(ctx, tenantID, month, sorted, asOfDays, lockHash, &job)
	if runErr != nil {
		normalized := shared.Normalize(runErr)
		job.Status = JobStatusFailed
		job.ErrorCode = normalized.Code
		job.ErrorMessage = shared.Sanitize(normalized.Message)
		finished := s.now().UTC()
		job.FinishedAt = &finished
		if updateErr := s.store.UpdateJob(ctx, job); updateErr != nil {
			s.logger.Error("finalize: record failure", slog.String("tenant", tenantID), slog.String("month", monthKey), slog.Any("error", updateErr))
		}
		return Outcome{Job: job}, normalized
	}
	return *result, nil
}

// claimJob applies the (tenant, month, lockHash) idempotency rules and, when
// the run should proceed, returns the RUNNING job record.
func (s *Service) claimJob(ctx context.Context, tenantID, monthKey, lockHash string) (JobRecord, *Outcome, error) {
	prior, err := s.store.ReadJobByLockHash(ctx, tenantID, monthKey, lockHash)
	switch {
	case err == nil:
		switch prior.Status {
		case JobStatusCompleted:
			return JobRecord{}, &Outcome{Job: prior, Reused: true}, nil
		case JobStatusRunning:
			return JobRecord{}, nil, shared.ErrFinalizeInProgress.WithMessagef("finalize: %s %s already in progress", tenantID, monthKey)
		case JobStatusFailed:
			// A failed run may be retried; the takeover is a compare-and-swap
			// so concurrent retries yield exactly one runner.
			prior.Status = JobStatusRunning
			prior.ErrorCode = ""
			prior.ErrorMessage = ""
			prior.StartedAt = s.now().UTC()
			prior.FinishedAt = nil
			if err := s.store.ReclaimJob(ctx, prior); err != nil {
				if errors.Is(err, ErrJobNotReclaimable) {
					return JobRecord{}, nil, shared.ErrFinalizeInProgress.WithMessagef("finalize: %s %s already in progress", tenantID, monthKey)
				}
				return JobRecord{}, nil, shared.Normalize(err)
			}
			return prior, nil, nil
		}
		return JobRecord{}, nil, shared.ErrInvalidTransition.WithMessagef("finalize: job %s in unknown status %q", prior.ID, prior.Status)
	case errors.Is(err, ErrJobNotFound):
		job := JobRecord{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			MonthKey:       monthKey,
			Status:         JobStatusRunning,
			PeriodLockHash: lockHash,
			StartedAt:      s.now().UTC(),
		}
		createErr := s.store.CreateJob(ctx, job)
		if createErr == nil {
			return job, nil, nil
		}
		if errors.Is(createErr, ErrJobExists) {
			// Lost the conditional create; defer to the winner.
			winner, readErr := s.store.ReadJobByLockHash(ctx, tenantID, monthKey, lockHash)
			if readErr != nil {
				return JobRecord{}, nil, shared.Normalize(readErr)
			}
			if winner.Status == JobStatusCompleted {
				return JobRecord{}, &Outcome{Job: winner, Reused: true}, nil
			}
			return JobRecord{}, nil, shared.ErrFinalizeInProgress.WithMessagef("finalize: %s %s already in progress", tenantID, monthKey)
		}
		return JobRecord{}, nil, shared.Normalize(createErr)
	default:
		return JobRecord{}, nil, shared.Normalize(err)
	}
}

func (s *Service) run(ctx context.Context, tenantID string, month ledger.Month, sorted []ledger.Event, asOfDays []int, lockHash string, job *JobRecord) (*Outcome, error) {
	monthKey := month.Key()
	finalizedAt := s.now().UTC()

	entries, err := timeline.Compute(timeline.Input{
		Events:      sorted,
		AsOfDays:    asOfDays,
		PeriodEnd:   month.End(),
		Currency:    s.cfg.Currency,
		FinalizedAt: finalizedAt,
	})
	if err != nil {
		return nil, err
	}
	insights := timeline.DeriveInsights(entries, asOfDays)

	lateThreshold := 0
	if len(asOfDays) > 0 {
		lateThreshold = asOfDays[len(asOfDays)-1]
	}
	frictionIdx := friction.Compute(sorted, month.End(), lateThreshold, entries)

	snap := ledger.BuildSnapshot(sorted)
	vatSummary, err := recon.SummarizeVAT(snap.InvoiceByID, s.cfg.Currency, s.cfg.VATRateBuckets)
	if err != nil {
		return nil, err
	}
	mismatches := recon.DetectMismatches(snap.BankTxByID, snap.InvoiceByID, snap.ConfirmedMatches(), s.cfg.Currency)

	outputs := OutputRefs{
		ReadModelKinds: []string{
			string(ReadModelTimeline), string(ReadModelFriction),
			string(ReadModelVATSummary), string(ReadModelMismatchSummary),
		},
	}

	// Projection writes are independent of each other but must all land
	// before the job flips to COMPLETED.
	group, groupCtx := errgroup.WithContext(ctx)
	readModels := []ReadModel{
		{TenantID: tenantID, MonthKey: monthKey, Kind: ReadModelTimeline, PeriodLockHash: lockHash, Data: timelineReadModel{Entries: entries, Insights: insights}},
		{TenantID: tenantID, MonthKey: monthKey, Kind: ReadModelFriction, PeriodLockHash: lockHash, Data: frictionIdx},
		{TenantID: tenantID, MonthKey: monthKey, Kind: ReadModelVATSummary, PeriodLockHash: lockHash, Data: vatSummary},
		{TenantID: tenantID, MonthKey: monthKey, Kind: ReadModelMismatchSummary, PeriodLockHash: lockHash, Data: mismatches},
	}
	for _, rm := range readModels {
		rm := rm
		group.Go(func() error { return s.store.WriteReadModel(groupCtx, rm) })
	}
	for _, entry := range entries {
		entry := entry
		group.Go(func() error {
			return s.store.WriteAuditSnapshot(groupCtx, s.auditSnapshot(tenantID, monthKey, lockHash, sorted, entry))
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		outputs.AuditSnapshotDates = append(outputs.AuditSnapshotDates, entry.AsOfDate)
	}

	csvContent, err := BuildLedgerCSV(snap, s.cfg.Currency)
	if err != nil {
		return nil, shared.ErrExportFailed.WithMessagef("finalize: ledger csv: %v", err)
	}
	summaryContent := BuildSummaryReport(SummaryInput{
		TenantID:   tenantID,
		MonthKey:   monthKey,
		Currency:   s.cfg.Currency,
		Final:      entries[len(entries)-1],
		VATSummary: vatSummary,
		Mismatches: mismatches,
		Insights:   insights,
	})
	for _, export := range []struct {
		kind    ArtifactKind
		content []byte
	}{
		{ArtifactLedgerCSV, csvContent},
		{ArtifactSummaryPDF, summaryContent},
	} {
		id, err := s.ensureArtifact(ctx, tenantID, monthKey, lockHash, export.kind, export.content)
		if err != nil {
			return nil, err
		}
		outputs.ArtifactIDs = append(outputs.ArtifactIDs, id)
	}

	priorPeriod, err := s.store.ReadPeriod(ctx, tenantID, monthKey)
	switch {
	case err == nil:
		if err := shared.ValidatePeriodTransition(priorPeriod.Status, shared.PeriodStatusLocked, true); err != nil {
			return nil, shared.ErrPeriodLocked.WithMessagef("finalize: period %s %s cannot be locked from %s", tenantID, monthKey, priorPeriod.Status)
		}
	case !errors.Is(err, ErrPeriodNotFound):
		return nil, shared.Normalize(err)
	}
	job.Status = JobStatusCompleted
	job.Outputs = outputs
	finished := s.now().UTC()
	job.FinishedAt = &finished
	// Period lock and job completion land together or not at all.
	if err := s.store.CompletePeriod(ctx, Period{
		TenantID:       tenantID,
		MonthKey:       monthKey,
		Status:         shared.PeriodStatusLocked,
		PeriodLockHash: lockHash,
		FinalizedAt:    &finalizedAt,
	}, *job); err != nil {
		return nil, err
	}

	s.logger.Info("finalize: period completed",
		slog.String("tenant", tenantID),
		slog.String("month", monthKey),
		slog.String("lock_hash", lockHash),
		slog.Int("events", len(sorted)))

	return &Outcome{
		Job:        *job,
		Timeline:   entries,
		Insights:   insights,
		Friction:   frictionIdx,
		VATSummary: vatSummary,
		Mismatches: mismatches,
	}, nil
}

// ensureArtifact regenerates an export only when its stored lock hash
// differs from the current one.
func (s *Service) ensureArtifact(ctx context.Context, tenantID, monthKey, lockHash string, kind ArtifactKind, content []byte) (string, error) {
	existing, err := s.store.ReadExportArtifact(ctx, tenantID, monthKey, kind)
	if err == nil && existing.PeriodLockHash == lockHash {
		return existing.ID, nil
	}
	if err != nil && !errors.Is(err, ErrArtifactNotFound) {
		return "", shared.Normalize(err)
	}
	artifact := ExportArtifact{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		MonthKey:       monthKey,
		Kind:           kind,
		PeriodLockHash: lockHash,
		Content:        content,
	}
	if err := s.store.WriteExportArtifact(ctx, artifact); err != nil {
		return "", shared.Normalize(err)
	}
	return artifact.ID, nil
}

func (s *Service) auditSnapshot(tenantID, monthKey, lockHash string, sorted []ledger.Event, entry timeline.Entry) AuditSnapshot {
	var snap ledger.Snapshot
	if entry.AsOfDay == nil {
		snap = ledger.BuildSnapshot(sorted)
	} else {
		cutoff, err := time.Parse(time.DateOnly, entry.AsOfDate)
		if err != nil {
			snap = ledger.BuildSnapshot(sorted)
		} else {
			snap = ledger.BuildSnapshot(timeline.EventsKnownBy(sorted, cutoff))
		}
	}
	return AuditSnapshot{
		TenantID:       tenantID,
		MonthKey:       monthKey,
		AsOfDay:        entry.AsOfDay,
		AsOfDate:       entry.AsOfDate,
		PeriodLockHash: lockHash,
		Snapshot:       snap,
	}
}

// timelineReadModel is the persisted shape of the timeline projection.
type timelineReadModel struct {
	Entries  []timeline.Entry  `json:"entries"`
	Insights timeline.Insights `json:"insights"`
}

// Job returns the most recent job for a tenant month.
func (s *Service) Job(ctx context.Context, tenantID, monthKey string) (JobRecord, error) {
	return s.store.ReadLatestJob(ctx, tenantID, monthKey)
}

// ReadModel returns a persisted projection.
func (s *Service) ReadModel(ctx context.Context, tenantID, monthKey string, kind ReadModelKind) (ReadModel, error) {
	return s.store.ReadReadModel(ctx, tenantID, monthKey, kind)
}

// ExportArtifact returns a stored export artifact.
func (s *Service) ExportArtifact(ctx context.Context, tenantID, monthKey string, kind ArtifactKind) (ExportArtifact, error) {
	return s.store.ReadExportArtifact(ctx, tenantID, monthKey, kind)
}
