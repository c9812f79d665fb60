package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/verticut/internal/logging"
	"github.com/therealutkarshpriyadarshi/verticut/internal/metrics"
	"github.com/therealutkarshpriyadarshi/verticut/internal/storage"
	"github.com/therealutkarshpriyadarshi/verticut/internal/tracing"
	"github.com/therealutkarshpriyadarshi/verticut/pkg/models"
)

// ExportLockResource names the cluster-wide lock held while an export renders
const ExportLockResource = "export"

const (
	defaultJobTimeout       = 30 * time.Minute
	defaultProgressInterval = time.Second
	snapshotTTL             = 24 * time.Hour
)

// JobRepository persists export jobs
type JobRepository interface {
	GetExportJob(ctx context.Context, id string) (*models.ExportJob, error)
	UpdateExportJob(ctx context.Context, job *models.ExportJob) error
	UpdateExportProgress(ctx context.Context, id string, progress float64) error
}

// ObjectStore moves source media and rendered clips
type ObjectStore interface {
	Bucket() string
	DownloadFile(ctx context.Context, objectName, filePath string) error
	UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) error
}

// ProgressCache publishes live progress and job snapshots
type ProgressCache interface {
	SetExportProgress(ctx context.Context, jobID string, progress float64, ttl time.Duration) (bool, error)
	SetExportJob(ctx context.Context, job *models.ExportJob, ttl time.Duration) error
	IncrementStat(ctx context.Context, stat string) error
}

// Locker provides a lock shared by every worker
type Locker interface {
	AcquireLock(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, resource, owner string) error
}

// Notifier announces finished exports
type Notifier interface {
	NotifyExportSucceeded(ctx context.Context, job *models.ExportJob) error
	NotifyExportFailed(ctx context.Context, job *models.ExportJob) error
}

// SourceProber reads source media properties
type SourceProber interface {
	ProbeSource(ctx context.Context, inputPath string) (*SourceInfo, error)
}

// ClipExporter renders one export request
type ClipExporter interface {
	Export(ctx context.Context, req ExportRequest, onProgress ProgressFunc) (*ExportResult, error)
}

// FramePreviewer renders a single frame of an export request
type FramePreviewer interface {
	RenderPreviewFrame(ctx context.Context, req ExportRequest, at float64) (*PreviewFrame, error)
}

// ServiceDeps wires a Service. Cache, Locker, Notifier and Previewer are optional.
type ServiceDeps struct {
	Exporter  ClipExporter
	Previewer FramePreviewer
	Prober    SourceProber
	Repo      JobRepository
	Store     ObjectStore
	Cache     ProgressCache
	Locker    Locker
	Notifier  Notifier
	Logger    *logging.Logger
}

// ServiceConfig holds job level settings
type ServiceConfig struct {
	WorkDir          string
	JobTimeout       time.Duration
	ProgressInterval time.Duration
}

// Service runs queued export jobs end to end: fetch the source, render, store
// the clip and record the outcome.
type Service struct {
	deps     ServiceDeps
	cfg      ServiceConfig
	workerID string
	logger   *logging.Logger
	now      func() time.Time
}

// NewService creates a new export job service
func NewService(deps ServiceDeps, cfg ServiceConfig) *Service {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaultProgressInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	workerID := uuid.New().String()

	return &Service{
		deps:     deps,
		cfg:      cfg,
		workerID: workerID,
		logger:   logger.WithWorkerID(workerID),
		now:      time.Now,
	}
}

// WorkerID identifies this service instance in job records and locks
func (s *Service) WorkerID() string {
	return s.workerID
}

// ProcessJob renders the export job with the given ID. Errors matching
// ErrExportInProgress mean the job was left queued and should be retried.
func (s *Service) ProcessJob(ctx context.Context, jobID string) error {
	span, ctx := tracing.StartSpan(ctx, "export.process")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "job_id", jobID)

	logger := s.logger.WithJobID(jobID)

	job, err := s.deps.Repo.GetExportJob(ctx, jobID)
	if err != nil {
		tracing.LogError(span, err)
		return fmt.Errorf("failed to load export job: %w", err)
	}
	if job.Terminal() {
		logger.Info("export job already finished, skipping")
		return nil
	}

	if s.deps.Locker != nil {
		ok, err := s.deps.Locker.AcquireLock(ctx, ExportLockResource, s.workerID, s.cfg.JobTimeout)
		if err != nil {
			return fmt.Errorf("failed to acquire export lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("lock held by another worker: %w", ErrExportInProgress)
		}
		defer func() {
			if err := s.deps.Locker.ReleaseLock(context.WithoutCancel(ctx), ExportLockResource, s.workerID); err != nil {
				logger.ErrorWithErr("failed to release export lock", err)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	started := s.now()
	metrics.RecordQueueTime(started.Sub(job.CreatedAt).Seconds())
	metrics.ExportsInProgress.Inc()
	defer metrics.ExportsInProgress.Dec()

	job.Status = models.JobStatusRunning
	job.WorkerID = s.workerID
	job.StartedAt = &started
	job.ErrorMsg = ""
	if err := s.deps.Repo.UpdateExportJob(ctx, job); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	logger.LogJobEvent(job.ID, "started", job.Status, nil)

	result, err := s.render(ctx, job, logger)
	if err != nil {
		if errors.Is(err, ErrExportInProgress) {
			return s.requeue(ctx, job, err)
		}
		tracing.LogError(span, err)
		return s.failJob(ctx, job, err)
	}

	return s.completeJob(ctx, job, result, started)
}

func (s *Service) render(ctx context.Context, job *models.ExportJob, logger *logging.Logger) (*ExportResult, error) {
	dir, err := os.MkdirTemp(s.cfg.WorkDir, "verticut-src-")
	if err != nil {
		return nil, resourceError("create source directory", err)
	}
	defer s.removeDir(dir, logger)

	exportReq, err := s.fetchSource(ctx, job.ID, job.Request, dir, logger)
	if err != nil {
		return nil, err
	}

	span, rctx := tracing.StartSpan(ctx, "export.render")
	defer tracing.FinishSpan(span)

	result, err := s.deps.Exporter.Export(rctx, exportReq, s.progressReporter(ctx, job.ID, logger))
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	tracing.SetTag(span, "captions_burned_in", result.CaptionsBurnedIn)
	tracing.SetTag(span, "caption_strategy", result.CaptionStrategy)
	return result, nil
}

// RenderPreview renders a single frame of req at clip-relative second at,
// fetching the source the same way an export does.
func (s *Service) RenderPreview(ctx context.Context, req models.ExportJobRequest, at float64) (*PreviewFrame, error) {
	if s.deps.Previewer == nil {
		return nil, configErrorf("preview rendering is not configured")
	}
	span, ctx := tracing.StartSpan(ctx, "export.preview")
	defer tracing.FinishSpan(span)

	previewID := "preview-" + uuid.New().String()
	logger := s.logger.WithJobID(previewID)

	dir, err := os.MkdirTemp(s.cfg.WorkDir, "verticut-src-")
	if err != nil {
		return nil, resourceError("create source directory", err)
	}
	defer s.removeDir(dir, logger)

	exportReq, err := s.fetchSource(ctx, previewID, req, dir, logger)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	frame, err := s.deps.Previewer.RenderPreviewFrame(ctx, exportReq, at)
	tracing.LogError(span, err)
	return frame, err
}

// fetchSource downloads the source into dir and fills in what the prober reports
func (s *Service) fetchSource(ctx context.Context, id string, req models.ExportJobRequest, dir string, logger *logging.Logger) (ExportRequest, error) {
	sourcePath := filepath.Join(dir, "source"+filepath.Ext(req.SourceFilename))

	span, dctx := tracing.StartSpan(ctx, "export.download")
	start := s.now()
	err := s.deps.Store.DownloadFile(dctx, req.SourceKey, sourcePath)
	s.recordStorage("download", req.SourceKey, start, 0, err)
	tracing.LogError(span, err)
	tracing.FinishSpan(span)
	if err != nil {
		return ExportRequest{}, resourceError("download source", err)
	}

	exportReq := ExportRequest{
		JobID:            id,
		SourcePath:       sourcePath,
		SourceFilename:   req.SourceFilename,
		Clip:             req.Clip,
		Plan:             req.Plan,
		SubtitleChunks:   req.SubtitleChunks,
		Editor:           req.Editor,
		PreviewViewport:  req.PreviewViewport,
		PreviewVideoRect: req.PreviewVideoRect,
	}
	if req.SourceVideoSize != nil {
		exportReq.SourceVideoSize = *req.SourceVideoSize
	}

	if s.deps.Prober != nil {
		info, err := s.deps.Prober.ProbeSource(ctx, sourcePath)
		switch {
		case err == nil:
			exportReq.SourceDuration = info.Duration
			if req.SourceVideoSize == nil {
				exportReq.SourceVideoSize = models.Size{Width: info.Width, Height: info.Height}
			}
		case req.SourceVideoSize == nil:
			return ExportRequest{}, err
		default:
			logger.WithError(err).Warn("source probe failed, using supplied dimensions")
		}
	}
	return exportReq, nil
}

func (s *Service) removeDir(dir string, logger *logging.Logger) {
	if err := os.RemoveAll(dir); err != nil {
		logger.ErrorWithErr("failed to remove source directory", resourceError("cleanup", err))
	}
}

// progressReporter fans estimator output to the cache on every update and to the
// database at most once per ProgressInterval.
func (s *Service) progressReporter(ctx context.Context, jobID string, logger *logging.Logger) ProgressFunc {
	var mu sync.Mutex
	var lastWrite time.Time

	return func(pct float64) {
		metrics.SetExportProgress(pct)
		if s.deps.Cache != nil {
			if _, err := s.deps.Cache.SetExportProgress(ctx, jobID, pct, snapshotTTL); err != nil {
				logger.WithError(err).Debug("failed to cache export progress")
			}
		}

		mu.Lock()
		now := s.now()
		due := now.Sub(lastWrite) >= s.cfg.ProgressInterval
		if due {
			lastWrite = now
		}
		mu.Unlock()

		if due {
			if err := s.deps.Repo.UpdateExportProgress(ctx, jobID, pct); err != nil {
				logger.WithError(err).Warn("failed to store export progress")
			}
		}
	}
}

func (s *Service) completeJob(ctx context.Context, job *models.ExportJob, result *ExportResult, started time.Time) error {
	logger := s.logger.WithJobID(job.ID)

	key := storage.ClipKey(job.ID, result.File.Name)
	span, uctx := tracing.StartSpan(ctx, "export.upload")
	start := s.now()
	err := s.deps.Store.UploadBytes(uctx, key, result.File.Data, result.File.MimeType)
	s.recordStorage("upload", key, start, int64(len(result.File.Data)), err)
	tracing.LogError(span, err)
	tracing.FinishSpan(span)
	if err != nil {
		return s.failJob(ctx, job, resourceError("upload clip", err))
	}

	completed := s.now()
	job.Status = models.JobStatusSucceeded
	job.ProgressPct = 100
	job.UsedCaptionBurnIn = result.CaptionsBurnedIn
	job.Notes = models.Notes(result.Notes)
	job.OutputKey = key
	job.OutputFilename = result.File.Name
	job.CompletedAt = &completed

	if err := s.deps.Repo.UpdateExportJob(ctx, job); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	duration := completed.Sub(started).Seconds()
	metrics.RecordExportCompleted(job.Status, job.Request.Plan.Platform, string(result.CaptionStrategy),
		duration, job.Request.Clip.DurationSeconds, len(result.File.Data))
	if result.CaptionsBurnedIn {
		metrics.RecordCaptionRender(string(result.CaptionStrategy))
	}

	logger.LogJobEvent(job.ID, "completed", job.Status, map[string]interface{}{
		"output_key":         key,
		"size":               result.File.Size(),
		"captions_burned_in": result.CaptionsBurnedIn,
		"duration_seconds":   duration,
	})

	s.publish(ctx, job, "exports_succeeded")
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.NotifyExportSucceeded(ctx, job); err != nil {
			logger.ErrorWithErr("failed to notify export success", err)
		}
	}

	return nil
}

// failJob marks a job as failed and updates the database
func (s *Service) failJob(ctx context.Context, job *models.ExportJob, err error) error {
	logger := s.logger.WithJobID(job.ID)

	// the job record must be written even when the job context has expired
	ctx = context.WithoutCancel(ctx)

	job.Status = models.JobStatusFailed
	job.ErrorMsg = firstLine(err.Error())
	completed := s.now()
	job.CompletedAt = &completed

	var exportErr *ExportError
	if errors.As(err, &exportErr) && exportErr.Progress > job.ProgressPct {
		job.ProgressPct = exportErr.Progress
	}

	metrics.RecordExportCompleted(job.Status, job.Request.Plan.Platform, "", 0, 0, 0)
	metrics.RecordError("worker", errorLabel(err))
	logger.LogJobEvent(job.ID, "failed", job.Status, map[string]interface{}{"error": err.Error()})

	if updateErr := s.deps.Repo.UpdateExportJob(ctx, job); updateErr != nil {
		return fmt.Errorf("failed to update job: %w (original error: %v)", updateErr, err)
	}

	s.publish(ctx, job, "exports_failed")
	if s.deps.Notifier != nil {
		if nerr := s.deps.Notifier.NotifyExportFailed(ctx, job); nerr != nil {
			logger.ErrorWithErr("failed to notify export failure", nerr)
		}
	}

	return err
}

// requeue puts a job that could not get the engine back into the queued state
func (s *Service) requeue(ctx context.Context, job *models.ExportJob, err error) error {
	job.Status = models.JobStatusQueued
	job.WorkerID = ""
	job.StartedAt = nil
	if uerr := s.deps.Repo.UpdateExportJob(context.WithoutCancel(ctx), job); uerr != nil {
		s.logger.WithJobID(job.ID).ErrorWithErr("failed to requeue job", uerr)
	}
	return err
}

func (s *Service) publish(ctx context.Context, job *models.ExportJob, stat string) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.SetExportJob(ctx, job, snapshotTTL); err != nil {
		s.logger.WithJobID(job.ID).WithError(err).Warn("failed to cache job snapshot")
	}
	if err := s.deps.Cache.IncrementStat(ctx, stat); err != nil {
		s.logger.WithError(err).Debug("failed to increment stat")
	}
}

func (s *Service) recordStorage(op, key string, start time.Time, size int64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := s.now().Sub(start)
	metrics.RecordStorageOperation(op, status, duration.Seconds(), size)
	s.logger.LogStorageOperation(op, s.deps.Store.Bucket(), key, size, duration, err)
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMedia):
		return "invalid_media"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrFilterSyntax):
		return "filter_syntax"
	case errors.Is(err, ErrEngineExecution):
		return "engine"
	case errors.Is(err, ErrResource):
		return "resource"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "unknown"
	}
}
