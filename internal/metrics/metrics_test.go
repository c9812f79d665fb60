package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("POST", "/api/v1/exports", "202", 0.123)

	counter := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/exports", "202"))
	assert.Equal(t, 1.0, counter)
}

func TestRecordExportCreated(t *testing.T) {
	ExportsCreatedTotal.Reset()

	RecordExportCreated("tiktok")
	RecordExportCreated("reels")
	RecordExportCreated("tiktok")

	assert.Equal(t, 2.0, testutil.ToFloat64(ExportsCreatedTotal.WithLabelValues("tiktok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ExportsCreatedTotal.WithLabelValues("reels")))
}

func TestRecordExportCompleted(t *testing.T) {
	ExportsCompletedTotal.Reset()
	ExportDuration.Reset()
	RenderSpeed.Reset()

	before := testutil.ToFloat64(ClipSecondsRendered)

	RecordExportCompleted("succeeded", "tiktok", "text", 10, 29.5, 4<<20)
	RecordExportCompleted("failed", "tiktok", "", 3, 29.5, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(ExportsCompletedTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ExportsCompletedTotal.WithLabelValues("failed")))
	assert.Equal(t, 29.5, testutil.ToFloat64(ClipSecondsRendered)-before, "failed exports render nothing")
	assert.Equal(t, 1, testutil.CollectAndCount(ExportDuration))
}

func TestUpdateExportMetrics(t *testing.T) {
	UpdateExportMetrics(1, 7)

	assert.Equal(t, 1.0, testutil.ToFloat64(ExportsInProgress))
	assert.Equal(t, 7.0, testutil.ToFloat64(ExportsQueueDepth))
}

func TestExportProgressAndStates(t *testing.T) {
	ExportStateTransitions.Reset()

	SetExportProgress(42.5)
	RecordStateTransition("mounting")
	RecordStateTransition("encoding")
	RecordStateTransition("encoding")

	assert.Equal(t, 42.5, testutil.ToFloat64(ExportProgress))
	assert.Equal(t, 2.0, testutil.ToFloat64(ExportStateTransitions.WithLabelValues("encoding")))
}

func TestCaptionMetrics(t *testing.T) {
	CaptionRendersTotal.Reset()
	CaptionFallbacksTotal.Reset()

	RecordCaptionRender("raster")
	RecordCaptionFallback("engine")
	RecordCaptionFallback("engine")

	assert.Equal(t, 1.0, testutil.ToFloat64(CaptionRendersTotal.WithLabelValues("raster")))
	assert.Equal(t, 2.0, testutil.ToFloat64(CaptionFallbacksTotal.WithLabelValues("engine")))
}

func TestRecordStorageOperation(t *testing.T) {
	StorageOperationsTotal.Reset()
	StorageBytesTransferred.Reset()

	RecordStorageOperation("upload", "success", 1.234, 1048576)

	assert.Equal(t, 1.0, testutil.ToFloat64(StorageOperationsTotal.WithLabelValues("upload", "success")))
	assert.Equal(t, 1048576.0, testutil.ToFloat64(StorageBytesTransferred.WithLabelValues("upload")))
}

func TestRecordDatabaseOperation(t *testing.T) {
	DatabaseOperationsTotal.Reset()

	RecordDatabaseOperation("select", "success", 0.05)
	RecordDatabaseOperation("insert", "error", 0.02)

	assert.Equal(t, 1.0, testutil.ToFloat64(DatabaseOperationsTotal.WithLabelValues("select", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(DatabaseOperationsTotal.WithLabelValues("insert", "error")))
}

func TestRecordCacheAccess(t *testing.T) {
	CacheHitsTotal.Reset()
	CacheMissesTotal.Reset()

	RecordCacheAccess("export", true)
	RecordCacheAccess("export", true)
	RecordCacheAccess("export", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(CacheHitsTotal.WithLabelValues("export")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CacheMissesTotal.WithLabelValues("export")))
}

func TestRecordWebhookAndErrors(t *testing.T) {
	WebhookDeliveriesTotal.Reset()
	ErrorsTotal.Reset()

	RecordWebhookDelivery("export.succeeded", "delivered")
	RecordError("worker", "engine")
	RecordError("worker", "engine")

	assert.Equal(t, 1.0, testutil.ToFloat64(WebhookDeliveriesTotal.WithLabelValues("export.succeeded", "delivered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(ErrorsTotal.WithLabelValues("worker", "engine")))
}

func TestServerMux(t *testing.T) {
	RecordExportCreated("shorts")
	srv := httptest.NewServer(newMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "verticut_exports_created_total")
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordHTTPRequest("GET", "/api/v1/exports/:id", "200", 0.123)
	}
}
