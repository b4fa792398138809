package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/RezaEskandarii/shotfire/custom_errors"
	"github.com/RezaEskandarii/shotfire/internal/state"
	"github.com/RezaEskandarii/shotfire/internal/store"
	"github.com/RezaEskandarii/shotfire/types"
	"github.com/google/uuid"
)

const jobColumns = `id, owner_id, request, status, retry_count, max_retries, next_retry_at,
		       last_failure_reason, is_retryable, retry_type, locked_by, locked_at,
		       created_at, updated_at, completed_at, result_reference, error_message,
		       processing_time_ms`

type postgresJobStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresJobStore creates a JobStore backed by the shotfire.jobs table.
func NewPostgresJobStore(db *sql.DB) store.JobStore {
	return &postgresJobStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *postgresJobStore) Create(ctx context.Context, job *types.Job) (*types.Job, error) {
	j := job.Clone()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := s.now()
	j.Status = state.StatusQueued
	j.CreatedAt = now
	j.UpdatedAt = now
	if err := store.CheckInvariants(j); err != nil {
		return nil, err
	}

	request, err := json.Marshal(j.Request)
	if err != nil {
		return nil, fmt.Errorf("marshal render request: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shotfire.jobs (
			id,
			owner_id,
			request,
			status,
			retry_count,
			max_retries,
			is_retryable,
			retry_type,
			created_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, j.ID, j.OwnerID, request, j.Status, j.RetryCount, j.MaxRetries, j.IsRetryable, j.RetryType, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

func (s *postgresJobStore) FindByID(ctx context.Context, id string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM shotfire.jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return job, nil
}

func (s *postgresJobStore) List(ctx context.Context, status *state.JobStatus, page, pageSize int) (*types.PaginationResult[types.Job], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	where := "1=1"
	var args []any
	if status != nil {
		where += " AND status = $1"
		args = append(args, *status)
	}

	var totalItems int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shotfire.jobs WHERE `+where, args...).Scan(&totalItems); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM shotfire.jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, len(args)+1, len(args)+2)
	jobs, err := s.queryJobs(ctx, query, append(args, pageSize, offset)...)
	if err != nil {
		return nil, err
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(pageSize)))
	return &types.PaginationResult[types.Job]{
		Items:           jobs,
		TotalItems:      totalItems,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}, nil
}

func (s *postgresJobStore) TryLock(ctx context.Context, id, owner string) (*types.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE shotfire.jobs
		SET locked_by = $1,
		    locked_at = $2
		WHERE id = $3 AND locked_by IS NULL
		RETURNING `+jobColumns,
		owner, s.now(), id)
	return lockResult(row, id)
}

func (s *postgresJobStore) TakeOverStale(ctx context.Context, id, owner string, staleBefore time.Time) (*types.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE shotfire.jobs
		SET locked_by = $1,
		    locked_at = $2
		WHERE id = $3
		  AND status = $4
		  AND updated_at < $5
		  AND (locked_at IS NULL OR locked_at < $5)
		RETURNING `+jobColumns,
		owner, s.now(), id, state.StatusProcessing, staleBefore)
	return lockResult(row, id)
}

func lockResult(row *sql.Row, id string) (*types.Job, bool, error) {
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lock job %s: %w", id, err)
	}
	return job, true, nil
}

func (s *postgresJobStore) Unlock(ctx context.Context, id, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE shotfire.jobs
		SET locked_by = NULL,
		    locked_at = NULL
		WHERE id = $1 AND locked_by = $2
	`, id, owner)
	if err != nil {
		return fmt.Errorf("unlock job %s: %w", id, err)
	}
	return nil
}

func (s *postgresJobStore) ForceUnlock(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shotfire.jobs
		SET locked_by = NULL,
		    locked_at = NULL
		WHERE id = $1 AND locked_by IS NOT NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("force unlock job %s: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *postgresJobStore) Save(ctx context.Context, job *types.Job, owner string) (bool, error) {
	if err := store.CheckInvariants(job); err != nil {
		return false, err
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE shotfire.jobs
		SET status = $1,
		    retry_count = $2,
		    next_retry_at = $3,
		    last_failure_reason = $4,
		    is_retryable = $5,
		    retry_type = $6,
		    locked_by = $7,
		    locked_at = $8,
		    updated_at = $9,
		    completed_at = $10,
		    result_reference = $11,
		    error_message = $12,
		    processing_time_ms = $13
		WHERE id = $14 AND locked_by = $15
	`,
		job.Status,
		job.RetryCount,
		job.NextRetryAt,
		job.LastFailureReason,
		job.IsRetryable,
		job.RetryType,
		job.LockedBy,
		job.LockedAt,
		now,
		job.CompletedAt,
		job.ResultReference,
		job.ErrorMessage,
		job.ProcessingTimeMs,
		job.ID,
		owner,
	)
	if err != nil {
		return false, fmt.Errorf("save job %s: %w", job.ID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}
	job.UpdatedAt = now
	return true, nil
}

func (s *postgresJobStore) ClearNextRetryAt(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shotfire.jobs
		SET next_retry_at = NULL,
		    updated_at = $1
		WHERE id = $2 AND status = $3 AND next_retry_at IS NOT NULL
	`, s.now(), id, state.StatusQueued)
	if err != nil {
		return false, fmt.Errorf("clear next retry of job %s: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *postgresJobStore) FindStuckJobs(ctx context.Context, staleBefore time.Time, limit int) ([]types.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM shotfire.jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, state.StatusProcessing, staleBefore, limit)
}

func (s *postgresJobStore) FindRetryCandidates(ctx context.Context, limit int) ([]types.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM shotfire.jobs
		WHERE status = $1
		  AND is_retryable = TRUE
		  AND retry_count < max_retries
		  AND next_retry_at IS NULL
		  AND locked_by IS NULL
		ORDER BY updated_at ASC
		LIMIT $2
	`, state.StatusFailed, limit)
}

func (s *postgresJobStore) FindOrphanedRetries(ctx context.Context, dueBefore time.Time, limit int) ([]types.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM shotfire.jobs
		WHERE status = $1
		  AND next_retry_at < $2
		  AND locked_by IS NULL
		ORDER BY next_retry_at ASC
		LIMIT $3
	`, state.StatusQueued, dueBefore, limit)
}

func (s *postgresJobStore) FindStalledQueued(ctx context.Context, idleBefore time.Time, limit int) ([]types.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM shotfire.jobs
		WHERE status = $1
		  AND next_retry_at IS NULL
		  AND locked_by IS NULL
		  AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, state.StatusQueued, idleBefore, limit)
}

func (s *postgresJobStore) ReleaseStaleLocks(ctx context.Context, lockedBefore time.Time) ([]types.Job, error) {
	return s.queryJobs(ctx, `
		UPDATE shotfire.jobs
		SET locked_by = NULL,
		    locked_at = NULL
		WHERE locked_by IS NOT NULL
		  AND locked_at < $1
		  AND status <> $2
		RETURNING `+jobColumns,
		lockedBefore, state.StatusProcessing)
}

func (s *postgresJobStore) CountAllJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) AS count
		FROM shotfire.jobs
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[state.JobStatus]int)
	for rows.Next() {
		var status state.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, status := range state.AllStatuses {
		if _, ok := result[status]; !ok {
			result[status] = 0
		}
	}
	return result, nil
}

func (s *postgresJobStore) RecordAudit(ctx context.Context, audit types.RetryAudit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shotfire.job_retry_audit (job_id, actor, retry_type, previous_status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, audit.JobID, audit.Actor, audit.RetryType, audit.PreviousStatus, audit.At)
	if err != nil {
		return fmt.Errorf("record retry audit for job %s: %w", audit.JobID, err)
	}
	return nil
}

func (s *postgresJobStore) ListAudit(ctx context.Context, jobID string) ([]types.RetryAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, actor, retry_type, previous_status, created_at
		FROM shotfire.job_retry_audit
		WHERE job_id = $1
		ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list retry audit for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var audits []types.RetryAudit
	for rows.Next() {
		var a types.RetryAudit
		if err := rows.Scan(&a.JobID, &a.Actor, &a.RetryType, &a.PreviousStatus, &a.At); err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

func (s *postgresJobStore) Close() error {
	return s.db.Close()
}

func (s *postgresJobStore) queryJobs(ctx context.Context, query string, args ...any) ([]types.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.Job, error) {
	var job types.Job
	var request []byte
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&request,
		&job.Status,
		&job.RetryCount,
		&job.MaxRetries,
		&job.NextRetryAt,
		&job.LastFailureReason,
		&job.IsRetryable,
		&job.RetryType,
		&job.LockedBy,
		&job.LockedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
		&job.ResultReference,
		&job.ErrorMessage,
		&job.ProcessingTimeMs,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(request, &job.Request); err != nil {
		return nil, fmt.Errorf("unmarshal render request of job %s: %w", job.ID, err)
	}
	return &job, nil
}
