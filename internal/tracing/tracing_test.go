package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/verticut/internal/config"
)

func TestInitTracerDisabled(t *testing.T) {
	tracer, closer, err := InitTracer(config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, opentracing.NoopTracer{}, tracer)
	assert.NoError(t, closer.Close())
}

func TestSpanHelpers(t *testing.T) {
	tracer := mocktracer.New()
	prev := opentracing.GlobalTracer()
	opentracing.SetGlobalTracer(tracer)
	t.Cleanup(func() { opentracing.SetGlobalTracer(prev) })

	span, ctx := StartSpan(context.Background(), "export.render")
	SetTag(span, "job_id", "job-1")
	LogEvent(span, "caption_fallback", "reason", "engine")
	LogError(span, errors.New("boom"))

	child, _ := StartSpan(ctx, "export.upload")
	FinishSpan(child)
	FinishSpan(span)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)
	parent := spans[1]
	assert.Equal(t, "export.render", parent.OperationName)
	assert.Equal(t, "job-1", parent.Tag("job_id"))
	assert.Equal(t, true, parent.Tag("error"))
	assert.Len(t, parent.Logs(), 2)
	assert.Equal(t, parent.SpanContext.SpanID, spans[0].ParentID)
}

func TestHelpersTolerateNilSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		FinishSpan(nil)
		LogError(nil, errors.New("x"))
		SetTag(nil, "k", "v")
		LogEvent(nil, "e")
	})
}
