package finalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearledger/clearledger/internal/ledger"
	"github.com/clearledger/clearledger/internal/platform/db"
)

const uniqueViolation = "23505"

// Repository is the Postgres-backed Store. The close_jobs unique index on
// (tenant_id, month_key, period_lock_hash) is the conditional-create
// primitive that guarantees at most one writer wins the RUNNING transition.
type Repository struct {
	pool   *pgxpool.Pool
	events *ledger.Repository
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, events: ledger.NewRepository(pool)}
}

var _ Store = (*Repository)(nil)

// ReadEventsByMonth loads the tenant month's event slice.
func (r *Repository) ReadEventsByMonth(ctx context.Context, tenantID, monthKey string) ([]ledger.Event, error) {
	return r.events.EventsByMonth(ctx, tenantID, monthKey)
}

// ReadJobByLockHash fetches the job keyed by the idempotency triple.
func (r *Repository) ReadJobByLockHash(ctx context.Context, tenantID, monthKey, lockHash string) (JobRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, month_key, status, period_lock_hash, outputs, error_code, error_message, started_at, finished_at
		FROM close_jobs
		WHERE tenant_id = $1 AND month_key = $2 AND period_lock_hash = $3`, tenantID, monthKey, lockHash)
	return scanJob(row)
}

// ReadLatestJob fetches the most recently started job for a tenant month.
func (r *Repository) ReadLatestJob(ctx context.Context, tenantID, monthKey string) (JobRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, month_key, status, period_lock_hash, outputs, error_code, error_message, started_at, finished_at
		FROM close_jobs
		WHERE tenant_id = $1 AND month_key = $2
		ORDER BY started_at DESC
		LIMIT 1`, tenantID, monthKey)
	return scanJob(row)
}

// CreateJob inserts the RUNNING job record; duplicates of the idempotency
// triple surface as ErrJobExists.
func (r *Repository) CreateJob(ctx context.Context, job JobRecord) error {
	outputs, err := json.Marshal(job.Outputs)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO close_jobs (id, tenant_id, month_key, status, period_lock_hash, outputs, error_code, error_message, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.TenantID, job.MonthKey, string(job.Status), job.PeriodLockHash, outputs, job.ErrorCode, job.ErrorMessage, job.StartedAt, job.FinishedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrJobExists
		}
		return err
	}
	return nil
}

// UpdateJob rewrites the job's mutable fields.
func (r *Repository) UpdateJob(ctx context.Context, job JobRecord) error {
	outputs, err := json.Marshal(job.Outputs)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE close_jobs
		SET status = $2, outputs = $3, error_code = $4, error_message = $5, started_at = $6, finished_at = $7
		WHERE id = $1`,
		job.ID, string(job.Status), outputs, job.ErrorCode, job.ErrorMessage, job.StartedAt, job.FinishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ReclaimJob takes over a FAILED job for a retry. The status predicate makes
// the takeover a compare-and-swap; losing it surfaces ErrJobNotReclaimable.
func (r *Repository) ReclaimJob(ctx context.Context, job JobRecord) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE close_jobs
		SET status = $2, error_code = '', error_message = '', started_at = $3, finished_at = NULL
		WHERE id = $1 AND status = $4`,
		job.ID, string(job.Status), job.StartedAt, string(JobStatusFailed))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotReclaimable
	}
	return nil
}

// ReadPeriod loads the period document for a tenant month.
func (r *Repository) ReadPeriod(ctx context.Context, tenantID, monthKey string) (Period, error) {
	var p Period
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, month_key, status, period_lock_hash, finalized_at
		FROM close_periods
		WHERE tenant_id = $1 AND month_key = $2`, tenantID, monthKey).
		Scan(&p.TenantID, &p.MonthKey, &p.Status, &p.PeriodLockHash, &p.FinalizedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrPeriodNotFound
	}
	return p, err
}

// CompletePeriod locks the period and flips the job to its terminal state in
// one transaction, so a crash between the two writes cannot leave a locked
// period without a completed job or vice versa.
func (r *Repository) CompletePeriod(ctx context.Context, period Period, job JobRecord) error {
	outputs, err := json.Marshal(job.Outputs)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO close_periods (tenant_id, month_key, status, period_lock_hash, finalized_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tenant_id, month_key)
			DO UPDATE SET status = EXCLUDED.status, period_lock_hash = EXCLUDED.period_lock_hash, finalized_at = EXCLUDED.finalized_at, updated_at = EXCLUDED.updated_at`,
			period.TenantID, period.MonthKey, period.Status, period.PeriodLockHash, period.FinalizedAt, time.Now().UTC()); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE close_jobs
			SET status = $2, outputs = $3, error_code = $4, error_message = $5, finished_at = $6
			WHERE id = $1`,
			job.ID, string(job.Status), outputs, job.ErrorCode, job.ErrorMessage, job.FinishedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrJobNotFound
		}
		return nil
	})
}

// WriteReadModel upserts one projection document.
func (r *Repository) WriteReadModel(ctx context.Context, rm ReadModel) error {
	data, err := json.Marshal(rm.Data)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO close_readmodels (tenant_id, month_key, kind, period_lock_hash, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, month_key, kind)
		DO UPDATE SET period_lock_hash = EXCLUDED.period_lock_hash, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		rm.TenantID, rm.MonthKey, string(rm.Kind), rm.PeriodLockHash, data, time.Now().UTC())
	return err
}

// ReadReadModel loads a projection; Data comes back as raw JSON.
func (r *Repository) ReadReadModel(ctx context.Context, tenantID, monthKey string, kind ReadModelKind) (ReadModel, error) {
	rm := ReadModel{TenantID: tenantID, MonthKey: monthKey, Kind: kind}
	var data []byte
	err := r.pool.QueryRow(ctx, `
		SELECT period_lock_hash, data
		FROM close_readmodels
		WHERE tenant_id = $1 AND month_key = $2 AND kind = $3`, tenantID, monthKey, string(kind)).
		Scan(&rm.PeriodLockHash, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReadModel{}, ErrReadModelNotFound
	}
	if err != nil {
		return ReadModel{}, err
	}
	rm.Data = json.RawMessage(data)
	return rm, nil
}

// WriteAuditSnapshot upserts one per-as-of-date snapshot document.
func (r *Repository) WriteAuditSnapshot(ctx context.Context, snap AuditSnapshot) error {
	doc, err := json.Marshal(snap.Snapshot)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO close_audit_snapshots (tenant_id, month_key, as_of_date, as_of_day, period_lock_hash, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, month_key, as_of_date)
		DO UPDATE SET as_of_day = EXCLUDED.as_of_day, period_lock_hash = EXCLUDED.period_lock_hash, snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`,
		snap.TenantID, snap.MonthKey, snap.AsOfDate, snap.AsOfDay, snap.PeriodLockHash, doc, time.Now().UTC())
	return err
}

// ReadExportArtifact loads a stored export and its generation hash.
func (r *Repository) ReadExportArtifact(ctx context.Context, tenantID, monthKey string, kind ArtifactKind) (ExportArtifact, error) {
	artifact := ExportArtifact{TenantID: tenantID, MonthKey: monthKey, Kind: kind}
	err := r.pool.QueryRow(ctx, `
		SELECT id, period_lock_hash, content
		FROM close_export_artifacts
		WHERE tenant_id = $1 AND month_key = $2 AND kind = $3`, tenantID, monthKey, string(kind)).
		Scan(&artifact.ID, &artifact.PeriodLockHash, &artifact.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return ExportArtifact{}, ErrArtifactNotFound
	}
	return artifact, err
}

// WriteExportArtifact upserts an export artifact.
func (r *Repository) WriteExportArtifact(ctx context.Context, artifact ExportArtifact) error {
	if artifact.ID == "" {
		return fmt.Errorf("finalize: artifact id required")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO close_export_artifacts (id, tenant_id, month_key, kind, period_lock_hash, content, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, month_key, kind)
		DO UPDATE SET id = EXCLUDED.id, period_lock_hash = EXCLUDED.period_lock_hash, content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`,
		artifact.ID, artifact.TenantID, artifact.MonthKey, string(artifact.Kind), artifact.PeriodLockHash, artifact.Content, time.Now().UTC())
	return err
}

// FailStaleJobs flips RUNNING jobs older than the cutoff to FAILED. A worker
// crash leaves a job stuck in RUNNING; this sweep is the operator remedy.
func (r *Repository) FailStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := r.pool.Exec(ctx, `
		UPDATE close_jobs
		SET status = $1, error_code = 'STALE_JOB', error_message = 'worker did not finish; swept as stale', finished_at = $2
		WHERE status = $3 AND started_at < $4`,
		string(JobStatusFailed), time.Now().UTC(), string(JobStatusRunning), cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (JobRecord, error) {
	var (
		job     JobRecord
		status  string
		outputs []byte
	)
	err := row.Scan(&job.ID, &job.TenantID, &job.MonthKey, &status, &job.PeriodLockHash, &outputs, &job.ErrorCode, &job.ErrorMessage, &job.StartedAt, &job.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return JobRecord{}, ErrJobNotFound
	}
	if err != nil {
		return JobRecord{}, err
	}
	job.Status = JobStatus(status)
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &job.Outputs); err != nil {
			return JobRecord{}, err
		}
	}
	return job, nil
}
