package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/verticut/internal/database"
	"github.com/therealutkarshpriyadarshi/verticut/internal/logging"
	"github.com/therealutkarshpriyadarshi/verticut/internal/middleware"
	"github.com/therealutkarshpriyadarshi/verticut/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/verticut/pkg/models"
)

// Mock implementations

type MockJobStore struct {
	mock.Mock
}

func (m *MockJobStore) CreateExportJob(ctx context.Context, job *models.ExportJob) error {
	args := m.Called(ctx, job)
	if job.ID == "" {
		job.ID = "job-1"
	}
	return args.Error(0)
}

func (m *MockJobStore) GetExportJob(ctx context.Context, id string) (*models.ExportJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExportJob), args.Error(1)
}

func (m *MockJobStore) UpdateExportJob(ctx context.Context, job *models.ExportJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockJobStore) ListExportJobs(ctx context.Context, limit, offset int) ([]*models.ExportJob, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ExportJob), args.Error(1)
}

func (m *MockJobStore) CountActiveExportJobs(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	data, _ := io.ReadAll(reader)
	args := m.Called(ctx, objectName, data, size)
	return args.Error(0)
}

func (m *MockObjectStore) Exists(ctx context.Context, objectName string) (bool, error) {
	args := m.Called(ctx, objectName)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectStore) GetURL(ctx context.Context, objectName, filename string) (string, error) {
	args := m.Called(ctx, objectName, filename)
	return args.String(0), args.Error(1)
}

type MockProgress struct {
	mock.Mock
}

func (m *MockProgress) GetExportProgress(ctx context.Context, jobID string) (float64, bool, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishExport(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

type MockPreviewer struct {
	mock.Mock
}

func (m *MockPreviewer) RenderPreview(ctx context.Context, req models.ExportJobRequest, at float64) (*transcoder.PreviewFrame, error) {
	args := m.Called(ctx, req, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transcoder.PreviewFrame), args.Error(1)
}

type testDeps struct {
	repo      *MockJobStore
	store     *MockObjectStore
	progress  *MockProgress
	queue     *MockPublisher
	previewer *MockPreviewer
}

func setupTestRouter() (*gin.Engine, *API, *testDeps) {
	gin.SetMode(gin.TestMode)

	deps := &testDeps{
		repo:      new(MockJobStore),
		store:     new(MockObjectStore),
		progress:  new(MockProgress),
		queue:     new(MockPublisher),
		previewer: new(MockPreviewer),
	}
	api := &API{
		repo:           deps.repo,
		storage:        deps.store,
		progress:       deps.progress,
		queue:          deps.queue,
		previewer:      deps.previewer,
		healthChecks:   map[string]HealthCheck{},
		maxUploadBytes: 1 << 20,
		logger:         logging.Nop(),
	}

	return setupRouter(api, RouterOptions{}), api, deps
}

func doJSON(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func exportBody() map[string]interface{} {
	return map[string]interface{}{
		"source_key":      "sources/u1/talk.mp4",
		"source_filename": "talk.mp4",
		"clip":            map[string]interface{}{"id": "c1", "start_seconds": 12.4, "end_seconds": 41.9},
		"plan":            map[string]interface{}{"platform": "tiktok", "subtitle_style": "bold"},
		"editor":          map[string]interface{}{"zoom": 1},
	}
}

func TestHealthCheck(t *testing.T) {
	router, api, _ := setupTestRouter()

	api.healthChecks["database"] = func(ctx context.Context) error { return nil }
	w := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	api.healthChecks["redis"] = func(ctx context.Context) error { return errors.New("connection refused") }
	w = doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "connection refused", checks["redis"])
}

func TestGetPresets(t *testing.T) {
	router, _, _ := setupTestRouter()

	w := doJSON(router, http.MethodGet, "/api/v1/presets", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	platforms := body["platforms"].([]interface{})
	assert.Len(t, platforms, len(transcoder.Platforms()))
	styles := body["caption_styles"].(map[string]interface{})
	for _, name := range transcoder.StylePresetNames() {
		assert.Contains(t, styles, name)
	}
}

func TestResolveGeometry(t *testing.T) {
	router, _, _ := setupTestRouter()

	w := doJSON(router, http.MethodPost, "/api/v1/geometry", map[string]interface{}{
		"platform":          "tiktok",
		"source_video_size": map[string]interface{}{"width": 1920, "height": 1080},
		"editor":            map[string]interface{}{"zoom": 1},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	geometry := body["geometry"].(map[string]interface{})
	assert.Contains(t, body["description"], "pad mode")
	assert.NotEmpty(t, geometry)
}

func TestResolveGeometryUnknownPlatform(t *testing.T) {
	router, _, _ := setupTestRouter()

	w := doJSON(router, http.MethodPost, "/api/v1/geometry", map[string]interface{}{
		"platform":          "myspace",
		"source_video_size": map[string]interface{}{"width": 1920, "height": 1080},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "myspace")
}

func multipartUpload(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadSource(t *testing.T) {
	router, _, deps := setupTestRouter()
	content := []byte("not really an mp4")

	deps.store.On("Upload", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "sources/") && strings.HasSuffix(key, "/my_talk.mp4")
	}), content, int64(len(content))).Return(nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartUpload(t, "file", "my talk.mp4", content))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.NotEmpty(t, body["upload_id"])
	assert.Equal(t, "my talk.mp4", body["source_filename"])
	assert.True(t, strings.HasPrefix(body["source_key"].(string), "sources/"))
	deps.store.AssertExpectations(t)
}

func TestUploadSourceRejections(t *testing.T) {
	router, api, deps := setupTestRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartUpload(t, "video", "talk.mp4", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	api.maxUploadBytes = 4
	w = httptest.NewRecorder()
	router.ServeHTTP(w, multipartUpload(t, "file", "talk.mp4", []byte("too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	api.maxUploadBytes = 0
	deps.store.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket gone"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, multipartUpload(t, "file", "talk.mp4", []byte("x")))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreateExport(t *testing.T) {
	router, _, deps := setupTestRouter()

	deps.store.On("Exists", mock.Anything, "sources/u1/talk.mp4").Return(true, nil)
	deps.repo.On("CountActiveExportJobs", mock.Anything).Return(0, nil)
	deps.repo.On("CreateExportJob", mock.Anything, mock.MatchedBy(func(job *models.ExportJob) bool {
		return job.Status == models.JobStatusQueued &&
			job.Request.Plan.Platform == "tiktok" &&
			job.Request.Clip.DurationSeconds > 29.49 && job.Request.Clip.DurationSeconds < 29.51
	})).Return(nil)
	deps.queue.On("PublishExport", mock.Anything, "job-1").Return(nil)

	w := doJSON(router, http.MethodPost, "/api/v1/exports", exportBody())

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "job-1", body["id"])
	assert.Equal(t, models.JobStatusQueued, body["status"])
	deps.repo.AssertExpectations(t)
	deps.queue.AssertExpectations(t)
}

func TestCreateExportValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"missing source", func(b map[string]interface{}) { delete(b, "source_key") }},
		{"unknown platform", func(b map[string]interface{}) {
			b["plan"] = map[string]interface{}{"platform": "vine"}
		}},
		{"unknown style", func(b map[string]interface{}) {
			b["plan"] = map[string]interface{}{"platform": "tiktok", "subtitle_style": "comic"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _, deps := setupTestRouter()
			body := exportBody()
			tt.mutate(body)

			w := doJSON(router, http.MethodPost, "/api/v1/exports", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			deps.repo.AssertNotCalled(t, "CreateExportJob", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateExportSourceMissing(t *testing.T) {
	router, _, deps := setupTestRouter()
	deps.store.On("Exists", mock.Anything, "sources/u1/talk.mp4").Return(false, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/exports", exportBody())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateExportWhileAnotherRuns(t *testing.T) {
	router, _, deps := setupTestRouter()
	deps.store.On("Exists", mock.Anything, mock.Anything).Return(true, nil)
	deps.repo.On("CountActiveExportJobs", mock.Anything).Return(1, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/exports", exportBody())

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, transcoder.ErrExportInProgress.Error(), decode(t, w)["error"])
	deps.repo.AssertNotCalled(t, "CreateExportJob", mock.Anything, mock.Anything)
}

func TestCreateExportLosesRaceToConcurrentRequest(t *testing.T) {
	router, _, deps := setupTestRouter()
	deps.store.On("Exists", mock.Anything, mock.Anything).Return(true, nil)
	deps.repo.On("CountActiveExportJobs", mock.Anything).Return(0, nil)
	deps.repo.On("CreateExportJob", mock.Anything, mock.Anything).Return(database.ErrExportActive)

	w := doJSON(router, http.MethodPost, "/api/v1/exports", exportBody())

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, transcoder.ErrExportInProgress.Error(), decode(t, w)["error"])
	deps.queue.AssertNotCalled(t, "PublishExport", mock.Anything, mock.Anything)
}

func TestCreateExportPublishFailure(t *testing.T) {
	router, _, deps := setupTestRouter()
	deps.store.On("Exists", mock.Anything, mock.Anything).Return(true, nil)
	deps.repo.On("CountActiveExportJobs", mock.Anything).Return(0, nil)
	deps.repo.On("CreateExportJob", mock.Anything, mock.Anything).Return(nil)
	deps.queue.On("PublishExport", mock.Anything, "job-1").Return(errors.New("channel closed"))
	deps.repo.On("UpdateExportJob", mock.Anything, mock.MatchedBy(func(job *models.ExportJob) bool {
		return job.ID == "job-1" && job.Status == models.JobStatusFailed
	})).Return(nil)

	w := doJSON(router, http.MethodPost, "/api/v1/exports", exportBody())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	deps.repo.AssertExpectations(t)
}

type MockStats struct {
	mock.Mock
}

func (m *MockStats) GetStat(ctx context.Context, stat string) (int64, error) {
	args := m.Called(ctx, stat)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStats) LockHolder(ctx context.Context, resource string) (string, error) {
	args := m.Called(ctx, resource)
	return args.String(0), args.Error(1)
}

func TestGetStats(t *testing.T) {
	router, api, _ := setupTestRouter()

	w := doJSON(router, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	stats := new(MockStats)
	stats.On("GetStat", mock.Anything, "exports_succeeded").Return(int64(4), nil)
	stats.On("GetStat", mock.Anything, "exports_failed").Return(int64(1), nil)
	stats.On("LockHolder", mock.Anything, transcoder.ExportLockResource).Return("worker-7", nil)
	api.stats = stats

	w = doJSON(router, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(4), body["exports_succeeded"])
	assert.Equal(t, float64(1), body["exports_failed"])
	assert.Equal(t, true, body["rendering"])
	assert.Equal(t, "worker-7", body["rendering_worker"])
	stats.AssertExpectations(t)
}

func TestGetExport(t *testing.T) {
	router, _, deps := setupTestRouter()

	deps.repo.On("GetExportJob", mock.Anything, "missing").Return(nil, database.ErrNotFound)
	deps.repo.On("GetExportJob", mock.Anything, "job-1").Return(&models.ExportJob{
		ID:          "job-1",
		Status:      models.JobStatusRunning,
		ProgressPct: 20,
	}, nil)
	deps.progress.On("GetExportProgress", mock.Anything, "job-1").Return(63.5, true, nil)

	w := doJSON(router, http.MethodGet, "/api/v1/exports/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/exports/job-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 63.5, decode(t, w)["progress_pct"])
}

func TestGetExportKeepsStoredProgress(t *testing.T) {
	router, _, deps := setupTestRouter()

	deps.repo.On("GetExportJob", mock.Anything, "job-1").Return(&models.ExportJob{
		ID:          "job-1",
		Status:      models.JobStatusRunning,
		ProgressPct: 40,
	}, nil)
	deps.progress.On("GetExportProgress", mock.Anything, "job-1").Return(10.0, true, nil)

	w := doJSON(router, http.MethodGet, "/api/v1/exports/job-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 40.0, decode(t, w)["progress_pct"])
}

func TestListExports(t *testing.T) {
	router, _, deps := setupTestRouter()
	deps.repo.On("ListExportJobs", mock.Anything, 100, 5).Return([]*models.ExportJob{{ID: "a"}, {ID: "b"}}, nil)

	w := doJSON(router, http.MethodGet, "/api/v1/exports?limit=500&offset=5", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["exports"], 2)
	assert.Equal(t, 100.0, body["limit"])
}

func TestDownloadExport(t *testing.T) {
	router, _, deps := setupTestRouter()

	deps.repo.On("GetExportJob", mock.Anything, "running").Return(&models.ExportJob{
		ID: "running", Status: models.JobStatusRunning,
	}, nil)
	deps.repo.On("GetExportJob", mock.Anything, "done").Return(&models.ExportJob{
		ID:             "done",
		Status:         models.JobStatusSucceeded,
		OutputKey:      "exports/done/talk__tiktok__12-41.mp4",
		OutputFilename: "talk__tiktok__12-41.mp4",
	}, nil)
	deps.store.On("GetURL", mock.Anything, "exports/done/talk__tiktok__12-41.mp4", "talk__tiktok__12-41.mp4").
		Return("https://minio.local/signed", nil)

	w := doJSON(router, http.MethodGet, "/api/v1/exports/running/download", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/exports/done/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "https://minio.local/signed", body["url"])
	assert.Equal(t, "talk__tiktok__12-41.mp4", body["filename"])

	w = doJSON(router, http.MethodGet, "/api/v1/exports/done/download?redirect=true", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://minio.local/signed", w.Header().Get("Location"))
}

func TestPreviewFrame(t *testing.T) {
	router, _, deps := setupTestRouter()
	png := []byte("\x89PNG fake")

	deps.previewer.On("RenderPreview", mock.Anything, mock.MatchedBy(func(req models.ExportJobRequest) bool {
		return req.SourceKey == "sources/u1/talk.mp4" && req.Clip.ID == "c1"
	}), 4.0).Return(&transcoder.PreviewFrame{PNG: png, At: 4, CaptionsBurnedIn: true}, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/preview-frame", map[string]interface{}{
		"request": exportBody(),
		"at":      4,
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "true", w.Header().Get("X-Captions-Burned-In"))
	assert.Equal(t, "4.000", w.Header().Get("X-Frame-Time"))
	assert.Equal(t, png, w.Body.Bytes())
}

func TestPreviewFrameErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("preview: %w", transcoder.ErrExportInProgress), http.StatusConflict},
		{fmt.Errorf("probe: %w", transcoder.ErrInvalidMedia), http.StatusBadRequest},
		{fmt.Errorf("ffmpeg: %w", transcoder.ErrEngineExecution), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			router, _, deps := setupTestRouter()
			deps.previewer.On("RenderPreview", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			w := doJSON(router, http.MethodPost, "/api/v1/preview-frame", map[string]interface{}{
				"request": exportBody(),
			})
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestPreviewFrameDisabled(t *testing.T) {
	router, api, _ := setupTestRouter()
	api.previewer = nil

	w := doJSON(router, http.MethodPost, "/api/v1/preview-frame", map[string]interface{}{"request": exportBody()})
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRoutesRequireTokenWhenSecretSet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, api, _ := setupTestRouter()
	router := setupRouter(api, RouterOptions{JWTSecret: "s3cret"})

	w := doJSON(router, http.MethodGet, "/api/v1/presets", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := middleware.GenerateToken("s3cret", "editor", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/presets", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// health stays open without a token
	w = doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, api, _ := setupTestRouter()
	router := setupRouter(api, RouterOptions{RateLimiter: middleware.NewRateLimiter(1, 1)})

	w := doJSON(router, http.MethodGet, "/api/v1/presets", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(router, http.MethodGet, "/api/v1/presets", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
