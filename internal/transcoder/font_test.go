package transcoder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
)

func fontServer(t *testing.T, failing *atomic.Bool) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if failing != nil && failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "font/ttf")
		w.Write(goregular.TTF)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFontProviderFetchesOnce(t *testing.T) {
	srv, hits := fontServer(t, nil)
	cacheDir := t.TempDir()
	p := NewFontProvider(srv.URL, "", cacheDir)

	first, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, first.Font)
	assert.Equal(t, filepath.Join(cacheDir, "verticut-caption-font.ttf"), first.Path)
	assert.Equal(t, goregular.TTF, first.Data)

	second, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	// a new provider reuses the file cached on disk
	again, err := NewFontProvider(srv.URL, "", cacheDir).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Path, again.Path)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestFontProviderRetriesAfterFailure(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv, hits := fontServer(t, &failing)
	p := NewFontProvider(srv.URL, "", t.TempDir())

	_, err := p.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")

	failing.Store(false)
	res, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, res.Font)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestFontProviderLocalPathWins(t *testing.T) {
	srv, hits := fontServer(t, nil)
	local := filepath.Join(t.TempDir(), "Go-Regular.ttf")
	require.NoError(t, os.WriteFile(local, goregular.TTF, 0o644))

	res, err := NewFontProvider(srv.URL, local, t.TempDir()).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, local, res.Path)
	assert.Zero(t, atomic.LoadInt32(hits))
}

func TestFontProviderRejectsGarbage(t *testing.T) {
	local := filepath.Join(t.TempDir(), "broken.ttf")
	require.NoError(t, os.WriteFile(local, []byte("not a font"), 0o644))

	_, err := NewFontProvider("", local, "").Get(context.Background())
	assert.ErrorContains(t, err, "failed to parse font")
}
