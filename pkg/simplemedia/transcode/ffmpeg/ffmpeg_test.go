package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresetArgs(t *testing.T) {
	preset := Preset{
		VideoCodec:   "libx264",
		AudioCodec:   "aac",
		VideoBitrate: "5M",
		AudioBitrate: "192k",
		PixelFormat:  "yuv420p",
		FrameRate:    "30",
		Filters:      []string{"scale=1280:-2", "fps=30"},
		ExtraArgs:    []string{"-movflags", "+faststart"},
	}
	want := []string{"-c:v", "libx264", "-c:a", "aac", "-b:v", "5M", "-b:a", "192k",
		"-pix_fmt", "yuv420p", "-r", "30", "-vf", "scale=1280:-2,fps=30", "-movflags", "+faststart"}
	assert.Equal(t, want, preset.Args())
}

func TestParsePresets(t *testing.T) {
	lib, err := ParsePresets([]byte(`presets:
  default:
    container: mp4
    video_codec: libx264
    audio_codec: aac
  small:
    container: webm
    video_codec: libvpx-vp9
    filters:
      - scale=640:-2
`))
	require.NoError(t, err)

	presets := lib.Presets()
	require.Len(t, presets, 2)
	assert.Equal(t, "default.mp4", presets[0].Filename())
	assert.Equal(t, "small.webm", presets[1].Filename())

	small, ok := lib.Get("small")
	require.True(t, ok)
	assert.Equal(t, []string{"scale=640:-2"}, small.Filters)
}

func TestParsePresets_RequiresDefault(t *testing.T) {
	_, err := ParsePresets([]byte("presets:\n  small:\n    video_codec: libx264\n"))
	assert.Error(t, err)
}

func TestLoadPresetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("presets:\n  default:\n    video_codec: libx264\n"), 0o644))

	lib, err := LoadPresetFile(path)
	require.NoError(t, err)
	preset, ok := lib.Get(DefaultPresetName)
	require.True(t, ok)
	assert.Equal(t, "default.mp4", preset.Filename())
}

func TestTranscoder_RunsEveryPreset(t *testing.T) {
	var commands [][]string
	runner := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		commands = append(commands, append([]string{name}, args...))
		return nil, nil
	}
	lib := NewPresetLibrary(map[string]Preset{
		"default": {Container: "mp4", VideoCodec: "libx264"},
		"small":   {Container: "webm", VideoCodec: "libvpx-vp9"},
	})
	tc := New(WithBinary("/usr/bin/ffmpeg"), WithPresets(lib), WithRunner(runner))

	files, err := tc.Transcode(context.Background(), "/tmp/in.mov", "/tmp/out")
	require.NoError(t, err)
	assert.Equal(t, []string{"default.mp4", "small.webm"}, files)

	require.Len(t, commands, 2)
	assert.Equal(t, "/usr/bin/ffmpeg", commands[0][0])
	assert.Contains(t, commands[0], "/tmp/in.mov")
	assert.Equal(t, "/tmp/out/default.mp4", commands[0][len(commands[0])-1])
}

func TestTranscoder_Failure(t *testing.T) {
	runner := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(strings.Repeat("x", 5000) + "Invalid data found"), errors.New("exit status 1")
	}
	_, err := New(WithRunner(runner)).Transcode(context.Background(), "in", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")
	assert.Less(t, len(err.Error()), 2200)
}

func TestTranscoder_Timeout(t *testing.T) {
	runner := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, errors.New("signal: killed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := New(WithRunner(runner)).Transcode(ctx, "in", t.TempDir())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
