package extractor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/restyle/internal/models"
)

// fakeFFmpeg writes frames frames into the layout when run.
type fakeFFmpeg struct {
	layout models.Layout
	frames int
	err    error
	args   [][]string
}

func (f *fakeFFmpeg) Run(_ context.Context, args ...string) ([]byte, error) {
	f.args = append(f.args, args)
	if f.err != nil {
		return nil, f.err
	}
	for i := 1; i <= f.frames; i++ {
		if err := os.WriteFile(f.layout.Raw(i), []byte("frame"), 0644); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func setup(t *testing.T) (models.Layout, string) {
	t.Helper()
	root := t.TempDir()
	video := filepath.Join(root, "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("video"), 0644))
	return models.NewLayout(root, "png", 4, 1), video
}

func logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-loglevel", "error", "-i", "clip.mp4", "-start_number", "1", "-y", "in/%06d.png"},
		Args("clip.mp4", "in/%06d.png", 0))
	assert.Equal(t,
		[]string{"-loglevel", "error", "-i", "clip.mp4", "-vf", "fps=12.5", "-start_number", "1", "-y", "in/%06d.png"},
		Args("clip.mp4", "in/%06d.png", 12.5))
}

func TestExtractFrames(t *testing.T) {
	layout, video := setup(t)
	ff := &fakeFFmpeg{layout: layout, frames: 7}

	n, err := New(ff, logger()).ExtractFrames(context.Background(), video, layout, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.Len(t, ff.args, 1)
}

func TestExtractFramesSkipsExisting(t *testing.T) {
	layout, video := setup(t)
	require.NoError(t, os.MkdirAll(layout.InDir(), 0755))
	require.NoError(t, os.WriteFile(layout.Raw(1), nil, 0644))
	require.NoError(t, os.WriteFile(layout.Raw(2), nil, 0644))
	ff := &fakeFFmpeg{layout: layout, frames: 9}

	n, err := New(ff, logger()).ExtractFrames(context.Background(), video, layout, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, ff.args)
}

func TestExtractFramesErrors(t *testing.T) {
	layout, video := setup(t)

	_, err := New(&fakeFFmpeg{layout: layout}, logger()).ExtractFrames(context.Background(), video+".missing", layout, 0)
	assert.Error(t, err)

	boom := errors.New("exit status 1")
	_, err = New(&fakeFFmpeg{layout: layout, err: boom}, logger()).ExtractFrames(context.Background(), video, layout, 0)
	assert.ErrorIs(t, err, boom)

	_, err = New(&fakeFFmpeg{layout: layout}, logger()).ExtractFrames(context.Background(), video, layout, 0)
	assert.ErrorContains(t, err, "no frames")
}
