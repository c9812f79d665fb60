package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/therealutkarshpriyadarshi/verticut/internal/logging"
	"github.com/therealutkarshpriyadarshi/verticut/internal/metrics"
	"github.com/therealutkarshpriyadarshi/verticut/pkg/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// ErrExportActive is returned when a job is created while another one is
// queued or running
var ErrExportActive = errors.New("an export is already queued or running")

const uniqueViolation = "23505"

// Repository provides database operations
type Repository struct {
	db     *DB
	logger *logging.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Repository{db: db, logger: logger}
}

// observe records the duration and outcome of one query
func (r *Repository) observe(operation string, start time.Time, err error) {
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start)
	metrics.RecordDatabaseOperation(operation, status, duration.Seconds())
	r.logger.LogDatabaseOperation(operation, duration, err)
}

// activeExportConflict maps a violation of the one-active-export index
func activeExportConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeExportIndex {
		return ErrExportActive
	}
	return nil
}

// Export jobs

const exportJobColumns = `id, status, progress_pct, used_caption_burn_in, error_msg, worker_id,
	output_key, output_filename, notes, request, started_at, completed_at, created_at, updated_at`

// CreateExportJob creates a new export job record
func (r *Repository) CreateExportJob(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}

	request, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("failed to encode export request: %w", err)
	}
	notes, err := marshalNotes(job.Notes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO export_jobs (id, status, progress_pct, used_caption_burn_in, error_msg, worker_id,
		                         output_key, output_filename, notes, request)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	start := time.Now()
	err = r.db.Pool.QueryRow(ctx, query,
		job.ID, job.Status, job.ProgressPct, job.UsedCaptionBurnIn, job.ErrorMsg, job.WorkerID,
		job.OutputKey, job.OutputFilename, notes, request,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	r.observe("create_export_job", start, err)

	if conflict := activeExportConflict(err); conflict != nil {
		return conflict
	}
	if err != nil {
		return fmt.Errorf("failed to create export job: %w", err)
	}

	return nil
}

// GetExportJob retrieves an export job by ID
func (r *Repository) GetExportJob(ctx context.Context, id string) (*models.ExportJob, error) {
	query := `SELECT ` + exportJobColumns + ` FROM export_jobs WHERE id = $1`

	start := time.Now()
	job, err := scanExportJob(r.db.Pool.QueryRow(ctx, query, id))
	r.observe("get_export_job", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("export job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export job: %w", err)
	}

	return job, nil
}

// UpdateExportJob updates an export job record
func (r *Repository) UpdateExportJob(ctx context.Context, job *models.ExportJob) error {
	notes, err := marshalNotes(job.Notes)
	if err != nil {
		return err
	}

	query := `
		UPDATE export_jobs
		SET status = $2, progress_pct = $3, used_caption_burn_in = $4, error_msg = $5, worker_id = $6,
		    output_key = $7, output_filename = $8, notes = $9, started_at = $10, completed_at = $11,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	start := time.Now()
	err = r.db.Pool.QueryRow(ctx, query,
		job.ID, job.Status, job.ProgressPct, job.UsedCaptionBurnIn, job.ErrorMsg, job.WorkerID,
		job.OutputKey, job.OutputFilename, notes, job.StartedAt, job.CompletedAt,
	).Scan(&job.UpdatedAt)
	r.observe("update_export_job", start, err)

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("export job %s: %w", job.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update export job: %w", err)
	}

	return nil
}

// UpdateExportProgress stores progress without ever lowering it
func (r *Repository) UpdateExportProgress(ctx context.Context, id string, progress float64) error {
	query := `
		UPDATE export_jobs
		SET progress_pct = GREATEST(progress_pct, $2), updated_at = NOW()
		WHERE id = $1
	`

	start := time.Now()
	_, err := r.db.Pool.Exec(ctx, query, id, progress)
	r.observe("update_export_progress", start, err)
	if err != nil {
		return fmt.Errorf("failed to update export progress: %w", err)
	}

	return nil
}

// ListExportJobs retrieves export jobs, newest first
func (r *Repository) ListExportJobs(ctx context.Context, limit, offset int) ([]*models.ExportJob, error) {
	query := `SELECT ` + exportJobColumns + ` FROM export_jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	start := time.Now()
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	r.observe("list_export_jobs", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list export jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ExportJob
	for rows.Next() {
		job, err := scanExportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating export jobs: %w", err)
	}

	return jobs, nil
}

// CountActiveExportJobs counts jobs that are queued or running
func (r *Repository) CountActiveExportJobs(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM export_jobs WHERE status IN ($1, $2)`

	start := time.Now()
	err := r.db.Pool.QueryRow(ctx, query, models.JobStatusQueued, models.JobStatusRunning).Scan(&count)
	r.observe("count_active_export_jobs", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count active export jobs: %w", err)
	}

	return count, nil
}

func scanExportJob(row pgx.Row) (*models.ExportJob, error) {
	var job models.ExportJob
	var notes, request []byte

	err := row.Scan(
		&job.ID, &job.Status, &job.ProgressPct, &job.UsedCaptionBurnIn, &job.ErrorMsg, &job.WorkerID,
		&job.OutputKey, &job.OutputFilename, &notes, &request, &job.StartedAt, &job.CompletedAt,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := job.Notes.Scan(notes); err != nil {
		return nil, fmt.Errorf("failed to decode notes: %w", err)
	}
	if err := job.Request.Scan(request); err != nil {
		return nil, fmt.Errorf("failed to decode export request: %w", err)
	}

	return &job, nil
}

func marshalNotes(notes models.Notes) ([]byte, error) {
	if notes == nil {
		notes = models.Notes{}
	}
	b, err := json.Marshal([]string(notes))
	if err != nil {
		return nil, fmt.Errorf("failed to encode notes: %w", err)
	}
	return b, nil
}

// Webhook deliveries

// CreateWebhookDelivery records a delivery attempt
func (r *Repository) CreateWebhookDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	if delivery.ID == "" {
		delivery.ID = uuid.New().String()
	}

	query := `
		INSERT INTO webhook_deliveries (id, event, payload, status, status_code, response_body, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	start := time.Now()
	err := r.db.Pool.QueryRow(ctx, query,
		delivery.ID, delivery.Event, []byte(delivery.Payload), delivery.Status,
		delivery.StatusCode, delivery.ResponseBody, delivery.Attempts,
	).Scan(&delivery.CreatedAt)
	r.observe("create_webhook_delivery", start, err)

	if err != nil {
		return fmt.Errorf("failed to create webhook delivery: %w", err)
	}

	return nil
}

// UpdateWebhookDelivery updates the outcome of a delivery
func (r *Repository) UpdateWebhookDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $2, status_code = $3, response_body = $4, attempts = $5, completed_at = $6
		WHERE id = $1
	`

	start := time.Now()
	_, err := r.db.Pool.Exec(ctx, query,
		delivery.ID, delivery.Status, delivery.StatusCode, delivery.ResponseBody,
		delivery.Attempts, delivery.CompletedAt,
	)
	r.observe("update_webhook_delivery", start, err)

	if err != nil {
		return fmt.Errorf("failed to update webhook delivery: %w", err)
	}

	return nil
}
