// Package pdf renders document derivatives by rasterising one page with
// poppler's pdftoppm and handing the bitmap to an image engine.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Runner executes an external command and returns its combined output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Config options for the PDF engine
type Config struct {
	Binary  string        // pdftoppm executable (default: pdftoppm)
	DPI     int           // rasterisation resolution (default: 150)
	Timeout time.Duration // per-page timeout (default: 60s)
	TempDir string        // scratch directory (default: os.TempDir())
}

// Engine implements simplemedia.TransformationEngine for PDF documents
type Engine struct {
	images simplemedia.TransformationEngine
	run    Runner
	config Config
}

// New creates a PDF engine that finishes pages with images
func New(images simplemedia.TransformationEngine, config Config, run Runner) *Engine {
	if config.Binary == "" {
		config.Binary = "pdftoppm"
	}
	if config.DPI <= 0 {
		config.DPI = 150
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if run == nil {
		run = ExecRunner
	}
	return &Engine{images: images, run: run, config: config}
}

// Transform rasterises page t.Page (default 1) and applies the remaining
// transformations to it. The output defaults to JPEG.
func (e *Engine) Transform(ctx context.Context, original []byte, t simplemedia.Transformations) ([]byte, error) {
	page := t.Page
	if page <= 0 {
		page = 1
	}

	dir, err := os.MkdirTemp(e.config.TempDir, "simplemedia-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	source := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(source, original, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage document: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	prefix := filepath.Join(dir, "page")
	p := strconv.Itoa(page)
	out, err := e.run(ctx, e.config.Binary,
		"-f", p, "-l", p,
		"-r", strconv.Itoa(e.config.DPI),
		"-png", "-singlefile",
		source, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, bytes.TrimSpace(out))
	}

	raster, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("page %d not rendered: %w", page, err)
	}

	t.Page = 0
	if t.Format == "" {
		t.Format = simplemedia.FormatJPG
	}
	return e.images.Transform(ctx, raster, t)
}

var _ simplemedia.TransformationEngine = (*Engine)(nil)
