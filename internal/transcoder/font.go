package transcoder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/image/font/opentype"
)

// DefaultFontURL is a bold sans-serif served from a public CDN
const DefaultFontURL = "https://cdn.jsdelivr.net/fontsource/fonts/inter@latest/latin-700-normal.ttf"

const maxFontBytes = 16 << 20

// FontResource is the caption font, available both as a file and parsed
type FontResource struct {
	Path string
	Data []byte
	Font *opentype.Font
}

// FontProvider fetches the caption font once and keeps it for the process lifetime.
// A failed fetch is not cached, so a later job can try again.
type FontProvider struct {
	url       string
	localPath string
	cacheDir  string
	client    *http.Client

	mu  sync.Mutex
	res *FontResource
}

// NewFontProvider creates a provider. localPath, when set, wins over url.
func NewFontProvider(url, localPath, cacheDir string) *FontProvider {
	if url == "" {
		url = DefaultFontURL
	}
	if cacheDir == "" {
		cacheDir = os.TempDir()
	}
	return &FontProvider{
		url:       url,
		localPath: localPath,
		cacheDir:  cacheDir,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Get returns the cached font, fetching it on first use
func (p *FontProvider) Get(ctx context.Context) (*FontResource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.res != nil {
		return p.res, nil
	}

	path, data, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	parsed, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font %s: %w", path, err)
	}

	p.res = &FontResource{Path: path, Data: data, Font: parsed}
	return p.res, nil
}

func (p *FontProvider) load(ctx context.Context) (string, []byte, error) {
	if p.localPath != "" {
		data, err := os.ReadFile(p.localPath)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read font: %w", err)
		}
		return p.localPath, data, nil
	}

	cached := filepath.Join(p.cacheDir, "verticut-caption-font.ttf")
	if data, err := os.ReadFile(cached); err == nil && len(data) > 0 {
		return cached, data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create font request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch font: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("failed to fetch font: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFontBytes))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read font body: %w", err)
	}

	if err := os.MkdirAll(p.cacheDir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create font cache dir: %w", err)
	}
	tmp := cached + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", nil, fmt.Errorf("failed to write font: %w", err)
	}
	if err := os.Rename(tmp, cached); err != nil {
		os.Remove(tmp)
		return "", nil, fmt.Errorf("failed to store font: %w", err)
	}
	return cached, data, nil
}
