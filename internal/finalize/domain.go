// Package finalize orchestrates the idempotent period finalization workflow:
// it replays the month's events, derives the counterfactual timeline, close
// friction, VAT and mismatch read models, and persists them exactly once per
// distinct input, keyed by a content-addressed period lock hash.
package finalize

import (
	"errors"
	"time"

	"github.com/clearledger/clearledger/internal/friction"
	"github.com/clearledger/clearledger/internal/ledger"
	"github.com/clearledger/clearledger/internal/recon"
	"github.com/clearledger/clearledger/internal/timeline"
)

// JobStatus captures the lifecycle of a finalize run.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// JobRecord is created at most once per (tenant, month, periodLockHash).
type JobRecord struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenantId"`
	MonthKey       string     `json:"monthKey"`
	Status         JobStatus  `json:"status"`
	PeriodLockHash string     `json:"periodLockHash"`
	Outputs        OutputRefs `json:"outputs"`
	ErrorCode      string     `json:"errorCode,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

// OutputRefs points at the artifacts a completed run produced.
type OutputRefs struct {
	ReadModelKinds     []string `json:"readModelKinds"`
	ArtifactIDs        []string `json:"artifactIds"`
	AuditSnapshotDates []string `json:"auditSnapshotDates"`
}

// ReadModelKind names the four persisted read-model projections.
type ReadModelKind string

const (
	ReadModelTimeline        ReadModelKind = "TIMELINE"
	ReadModelFriction        ReadModelKind = "FRICTION"
	ReadModelVATSummary      ReadModelKind = "VAT_SUMMARY"
	ReadModelMismatchSummary ReadModelKind = "MISMATCH_SUMMARY"
)

// ReadModel is a persisted projection, fully reproducible from the event log.
type ReadModel struct {
	TenantID       string        `json:"tenantId"`
	MonthKey       string        `json:"monthKey"`
	Kind           ReadModelKind `json:"kind"`
	PeriodLockHash string        `json:"periodLockHash"`
	Data           any           `json:"data"`
}

// AuditSnapshot is one per-as-of-date ledger snapshot document kept for
// point-in-time replay audits.
type AuditSnapshot struct {
	TenantID       string          `json:"tenantId"`
	MonthKey       string          `json:"monthKey"`
	AsOfDay        *int            `json:"asOfDay"`
	AsOfDate       string          `json:"asOfDate"`
	PeriodLockHash string          `json:"periodLockHash"`
	Snapshot       ledger.Snapshot `json:"snapshot"`
}

// ArtifactKind names the export artifacts gated by the lock hash.
type ArtifactKind string

const (
	ArtifactLedgerCSV  ArtifactKind = "LEDGER_CSV"
	ArtifactSummaryPDF ArtifactKind = "SUMMARY_PDF"
)

// ExportArtifact is a rendered export plus the lock hash it was built from.
// Regeneration is skipped while the stored hash matches the current one.
type ExportArtifact struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenantId"`
	MonthKey       string       `json:"monthKey"`
	Kind           ArtifactKind `json:"kind"`
	PeriodLockHash string       `json:"periodLockHash"`
	Content        []byte       `json:"content"`
}

// Period tracks finalization state for one tenant month.
type Period struct {
	TenantID       string     `json:"tenantId"`
	MonthKey       string     `json:"monthKey"`
	Status         string     `json:"status"`
	PeriodLockHash string     `json:"periodLockHash"`
	FinalizedAt    *time.Time `json:"finalizedAt,omitempty"`
}

// Outcome is what a finalize invocation returns. Reused marks the no-op path
// where a completed job already existed for the same lock hash.
type Outcome struct {
	Job        JobRecord             `json:"job"`
	Reused     bool                  `json:"reused"`
	Timeline   []timeline.Entry      `json:"timeline,omitempty"`
	Insights   timeline.Insights     `json:"insights,omitempty"`
	Friction   friction.Index        `json:"friction,omitempty"`
	VATSummary recon.VATSummary      `json:"vatSummary,omitempty"`
	Mismatches recon.MismatchSummary `json:"mismatches,omitempty"`
}

// ErrJobNotFound indicates no job exists for the requested key.
var ErrJobNotFound = errors.New("finalize: job not found")

// ErrJobExists indicates the conditional create lost to a concurrent writer.
var ErrJobExists = errors.New("finalize: job already exists")

// ErrJobNotReclaimable indicates the FAILED takeover lost to a concurrent
// writer that already moved the job out of FAILED.
var ErrJobNotReclaimable = errors.New("finalize: job not reclaimable")

// ErrPeriodNotFound indicates the period document does not exist yet.
var ErrPeriodNotFound = errors.New("finalize: period not found")

// ErrArtifactNotFound indicates no stored export artifact for the key.
var ErrArtifactNotFound = errors.New("finalize: export artifact not found")

// ErrReadModelNotFound indicates the projection has not been persisted yet.
var ErrReadModelNotFound = errors.New("finalize: read model not found")
