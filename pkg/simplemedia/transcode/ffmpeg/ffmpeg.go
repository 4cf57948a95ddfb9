// Package ffmpeg transcodes uploaded videos into the renditions of a preset
// library by running the ffmpeg binary.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Runner executes an external command and returns its combined output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// maxErrorOutput bounds how much ffmpeg output is kept in an error.
const maxErrorOutput = 2048

// Transcoder implements simplemedia.Transcoder with ffmpeg
type Transcoder struct {
	binary  string
	presets *PresetLibrary
	run     Runner
	logger  *slog.Logger
}

// Option configures a Transcoder
type Option func(*Transcoder)

// WithBinary sets the ffmpeg executable
func WithBinary(path string) Option {
	return func(t *Transcoder) {
		if path != "" {
			t.binary = path
		}
	}
}

// WithPresets sets the rendition presets
func WithPresets(presets *PresetLibrary) Option {
	return func(t *Transcoder) {
		if presets != nil {
			t.presets = presets
		}
	}
}

// WithRunner replaces command execution
func WithRunner(run Runner) Option {
	return func(t *Transcoder) {
		if run != nil {
			t.run = run
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transcoder) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates an ffmpeg transcoder
func New(opts ...Option) *Transcoder {
	t := &Transcoder{
		binary:  "ffmpeg",
		presets: DefaultPresetLibrary(),
		run:     ExecRunner,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transcode renders every preset of sourcePath into outputDir, one ffmpeg run
// per preset, and returns the produced file names.
func (t *Transcoder) Transcode(ctx context.Context, sourcePath, outputDir string) ([]string, error) {
	presets := t.presets.Presets()
	if len(presets) == 0 {
		return nil, errors.New("no transcode presets configured")
	}

	files := make([]string, 0, len(presets))
	for _, preset := range presets {
		name := preset.Filename()
		args := []string{"-hide_banner", "-nostdin", "-y", "-i", sourcePath}
		args = append(args, preset.Args()...)
		args = append(args, filepath.Join(outputDir, name))

		t.logger.Debug("Running ffmpeg", "preset", preset.Name, "source", sourcePath)
		out, err := t.run(ctx, t.binary, args...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("preset %s: %w", preset.Name, ctxErr)
			}
			return nil, fmt.Errorf("preset %s: %w: %s", preset.Name, err, tail(out))
		}
		files = append(files, name)
	}
	return files, nil
}

func tail(out []byte) []byte {
	out = bytes.TrimSpace(out)
	if len(out) > maxErrorOutput {
		out = out[len(out)-maxErrorOutput:]
	}
	return out
}

var _ simplemedia.Transcoder = (*Transcoder)(nil)
