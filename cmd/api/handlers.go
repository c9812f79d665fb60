package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/verticut/internal/database"
	"github.com/therealutkarshpriyadarshi/verticut/internal/logging"
	"github.com/therealutkarshpriyadarshi/verticut/internal/metrics"
	"github.com/therealutkarshpriyadarshi/verticut/internal/storage"
	"github.com/therealutkarshpriyadarshi/verticut/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/verticut/pkg/models"
)

// JobStore persists export jobs
type JobStore interface {
	CreateExportJob(ctx context.Context, job *models.ExportJob) error
	GetExportJob(ctx context.Context, id string) (*models.ExportJob, error)
	UpdateExportJob(ctx context.Context, job *models.ExportJob) error
	ListExportJobs(ctx context.Context, limit, offset int) ([]*models.ExportJob, error)
	CountActiveExportJobs(ctx context.Context) (int, error)
}

// ObjectStore holds uploaded sources and rendered clips
type ObjectStore interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, objectName string) (bool, error)
	GetURL(ctx context.Context, objectName, filename string) (string, error)
}

// ProgressReader reads live progress written by the worker
type ProgressReader interface {
	GetExportProgress(ctx context.Context, jobID string) (float64, bool, error)
}

// StatsReader reads worker counters and the render lock
type StatsReader interface {
	GetStat(ctx context.Context, stat string) (int64, error)
	LockHolder(ctx context.Context, resource string) (string, error)
}

// Publisher queues export jobs
type Publisher interface {
	PublishExport(ctx context.Context, jobID string) error
}

// Previewer renders single preview frames
type Previewer interface {
	RenderPreview(ctx context.Context, req models.ExportJobRequest, at float64) (*transcoder.PreviewFrame, error)
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

type API struct {
	repo           JobStore
	storage        ObjectStore
	progress       ProgressReader
	stats          StatsReader
	queue          Publisher
	previewer      Previewer
	healthChecks   map[string]HealthCheck
	maxUploadBytes int64
	logger         *logging.Logger
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	for name, check := range api.healthChecks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "checks": checks})
}

// Export counters and the worker currently holding the render lock
func (api *API) getStats(c *gin.Context) {
	if api.stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats unavailable"})
		return
	}
	ctx := c.Request.Context()

	out := gin.H{}
	for _, stat := range []string{"exports_succeeded", "exports_failed"} {
		v, err := api.stats.GetStat(ctx, stat)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out[stat] = v
	}
	holder, err := api.stats.LockHolder(ctx, transcoder.ExportLockResource)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out["rendering"] = holder != ""
	out["rendering_worker"] = holder

	c.JSON(http.StatusOK, out)
}

// List platforms and caption presets
func (api *API) getPresets(c *gin.Context) {
	styles := gin.H{}
	for _, name := range transcoder.StylePresetNames() {
		style, err := transcoder.ResolveStyle(name, nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		styles[name] = style
	}

	c.JSON(http.StatusOK, gin.H{
		"platforms":      transcoder.Platforms(),
		"caption_styles": styles,
	})
}

type geometryRequest struct {
	Platform         string             `json:"platform" binding:"required"`
	SourceVideoSize  models.Size        `json:"source_video_size"`
	Editor           models.EditorState `json:"editor"`
	PreviewViewport  *models.Size       `json:"preview_viewport"`
	PreviewVideoRect *models.Rect       `json:"preview_video_rect"`
}

// Resolve geometry endpoint, used by the editor to mirror the export framing
func (api *API) resolveGeometry(c *gin.Context) {
	var req geometryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	platform, err := transcoder.LookupPlatform(req.Platform)
	if err != nil {
		api.respondError(c, err)
		return
	}
	editor := req.Editor.Clamped()
	geometry, err := transcoder.ResolveGeometry(transcoder.GeometryInput{
		SourceWidth:      req.SourceVideoSize.Width,
		SourceHeight:     req.SourceVideoSize.Height,
		Zoom:             editor.Zoom,
		PanX:             editor.PanX,
		PanY:             editor.PanY,
		OutputWidth:      platform.OutputWidth,
		OutputHeight:     platform.OutputHeight,
		PreviewViewport:  req.PreviewViewport,
		PreviewVideoRect: req.PreviewVideoRect,
	})
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"geometry":    geometry,
		"description": geometry.Describe(),
	})
}

// Upload source media endpoint
func (api *API) uploadSource(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No source file provided"})
		return
	}
	if api.maxUploadBytes > 0 && file.Size > api.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("source is %d bytes, the limit is %d", file.Size, api.maxUploadBytes),
		})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}
	defer src.Close()

	uploadID := uuid.New().String()
	key := storage.SourceKey(uploadID, file.Filename)
	start := time.Now()
	err = api.storage.Upload(c.Request.Context(), key, src, file.Size, file.Header.Get("Content-Type"))
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordStorageOperation("upload", status, time.Since(start).Seconds(), file.Size)
	if err != nil {
		api.logger.WithRequestID(c.GetString("request_id")).ErrorWithErr("source upload failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to upload: %v", err)})
		return
	}
	metrics.RecordSourceUpload(file.Size)

	c.JSON(http.StatusCreated, gin.H{
		"upload_id":       uploadID,
		"source_key":      key,
		"source_filename": file.Filename,
		"size":            file.Size,
	})
}

// validateExportRequest checks everything that can be checked without the source media
func validateExportRequest(req *models.ExportJobRequest) error {
	if req.SourceKey == "" {
		return fmt.Errorf("%w: source_key is required", transcoder.ErrConfiguration)
	}
	platform, err := transcoder.LookupPlatform(req.Plan.Platform)
	if err != nil {
		return err
	}
	style := req.Plan.SubtitleStyle
	if style == "" {
		style = platform.DefaultStyle
	}
	if _, err := transcoder.ResolveStyle(style, req.Plan.StyleOverride); err != nil {
		return err
	}
	clip, err := models.NewClipWindow(req.Clip.ID, req.Clip.StartSeconds, req.Clip.EndSeconds, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", transcoder.ErrInvalidMedia, err)
	}
	req.Clip = clip
	if req.SourceFilename == "" {
		req.SourceFilename = req.SourceKey
	}
	return nil
}

// Create export job endpoint
func (api *API) createExport(c *gin.Context) {
	var req models.ExportJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateExportRequest(&req); err != nil {
		api.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	exists, err := api.storage.Exists(ctx, req.SourceKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to check source: %v", err)})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		return
	}

	// one export at a time: a second request is rejected, not queued
	active, err := api.repo.CountActiveExportJobs(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if active > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": transcoder.ErrExportInProgress.Error()})
		return
	}

	job := &models.ExportJob{
		Status:  models.JobStatusQueued,
		Request: req,
	}
	if err := api.repo.CreateExportJob(ctx, job); err != nil {
		// a concurrent request won the race past the count above
		if errors.Is(err, database.ErrExportActive) {
			c.JSON(http.StatusConflict, gin.H{"error": transcoder.ErrExportInProgress.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to create export: %v", err)})
		return
	}

	if err := api.queue.PublishExport(ctx, job.ID); err != nil {
		job.Status = models.JobStatusFailed
		job.ErrorMsg = "failed to queue export"
		if uerr := api.repo.UpdateExportJob(context.WithoutCancel(ctx), job); uerr != nil {
			api.logger.WithJobID(job.ID).ErrorWithErr("failed to mark unqueued export", uerr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to queue export: %v", err)})
		return
	}

	metrics.RecordExportCreated(req.Plan.Platform)
	api.logger.LogJobEvent(job.ID, "queued", job.Status, map[string]interface{}{
		"platform": req.Plan.Platform,
		"clip":     fmt.Sprintf("%.3f-%.3f", req.Clip.StartSeconds, req.Clip.EndSeconds),
	})

	c.JSON(http.StatusAccepted, job)
}

// Get export job endpoint. Live progress from the cache wins over the stored value.
func (api *API) getExport(c *gin.Context) {
	job, ok := api.loadJob(c)
	if !ok {
		return
	}

	if job.Status == models.JobStatusRunning && api.progress != nil {
		progress, hit, err := api.progress.GetExportProgress(c.Request.Context(), job.ID)
		metrics.RecordCacheAccess("progress", hit)
		if err != nil {
			api.logger.WithJobID(job.ID).WithError(err).Debug("failed to read live progress")
		} else if hit && progress > job.ProgressPct {
			job.ProgressPct = progress
		}
	}

	c.JSON(http.StatusOK, job)
}

// List export jobs endpoint
func (api *API) listExports(c *gin.Context) {
	limit := queryInt(c, "limit", 20, 1, 100)
	offset := queryInt(c, "offset", 0, 0, 1<<30)

	jobs, err := api.repo.ListExportJobs(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exports": jobs,
		"limit":   limit,
		"offset":  offset,
	})
}

// Download endpoint: a presigned URL for the finished clip
func (api *API) downloadExport(c *gin.Context) {
	job, ok := api.loadJob(c)
	if !ok {
		return
	}
	if job.Status != models.JobStatusSucceeded || job.OutputKey == "" {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Export is %s", job.Status)})
		return
	}

	url, err := api.storage.GetURL(c.Request.Context(), job.OutputKey, job.OutputFilename)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to sign URL: %v", err)})
		return
	}

	if c.Query("redirect") == "true" {
		c.Redirect(http.StatusFound, url)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":      url,
		"filename": job.OutputFilename,
	})
}

type previewRequest struct {
	Request models.ExportJobRequest `json:"request"`
	At      float64                 `json:"at"`
}

// Preview frame endpoint: one PNG rendered through the export chain
func (api *API) previewFrame(c *gin.Context) {
	if api.previewer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Preview rendering is disabled"})
		return
	}

	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateExportRequest(&req.Request); err != nil {
		api.respondError(c, err)
		return
	}

	frame, err := api.previewer.RenderPreview(c.Request.Context(), req.Request, req.At)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.Header("X-Captions-Burned-In", strconv.FormatBool(frame.CaptionsBurnedIn))
	c.Header("X-Frame-Time", strconv.FormatFloat(frame.At, 'f', 3, 64))
	c.Data(http.StatusOK, "image/png", frame.PNG)
}

func (api *API) loadJob(c *gin.Context) (*models.ExportJob, bool) {
	job, err := api.repo.GetExportJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Export not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return job, true
}

// respondError maps export error kinds onto status codes
func (api *API) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, transcoder.ErrExportInProgress):
		status = http.StatusConflict
	case errors.Is(err, transcoder.ErrConfiguration),
		errors.Is(err, transcoder.ErrInvalidMedia),
		errors.Is(err, transcoder.ErrFilterSyntax):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		api.logger.WithRequestID(c.GetString("request_id")).ErrorWithErr("request failed", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, key string, def, min, max int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
