package simplemedia_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// mp4Header is enough of an ISO BMFF file for content sniffing to report video/mp4.
var mp4Header = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2avc1mp41\x00\x00\x00\x08free")

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 10, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Transform(ctx context.Context, original []byte, t simplemedia.Transformations) ([]byte, error) {
	args := m.Called(ctx, original, t)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockCDN struct {
	mock.Mock
}

func (m *mockCDN) Invalidate(ctx context.Context, paths ...string) error {
	args := m.Called(ctx, paths)
	return args.Error(0)
}

func (m *mockCDN) IsConfigured() bool { return true }

// fakeTranscoder writes one rendition per call, or fails with err. When gate
// is set, each call blocks until it is closed.
type fakeTranscoder struct {
	mu    sync.Mutex
	calls int
	err   error
	gate  chan struct{}
}

func (f *fakeTranscoder) Transcode(ctx context.Context, sourcePath, outputDir string) ([]string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(outputDir, simplemedia.DefaultRendition), src, 0o644); err != nil {
		return nil, err
	}
	return []string{simplemedia.DefaultRendition}, nil
}

func (f *fakeTranscoder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingNotifier keeps every notification it is handed.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []simplemedia.Notification
	urls []string
}

func (r *recordingNotifier) Notify(owner, callbackURL string, n simplemedia.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	r.urls = append(r.urls, callbackURL)
}

func (r *recordingNotifier) Broadcast(n simplemedia.Notification) {
	r.Notify("", "", n)
}

func (r *recordingNotifier) Close(context.Context) error { return nil }

func (r *recordingNotifier) Sent() []simplemedia.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]simplemedia.Notification(nil), r.sent...)
}

func (r *recordingNotifier) URLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}
