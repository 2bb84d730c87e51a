package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/bdougie/restyle/internal/models"
)

// Runner runs ffmpeg with the given arguments
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// Extractor splits a video into the numbered raw frames of a layout
type Extractor struct {
	ff     Runner
	logger *slog.Logger
}

// New creates an Extractor
func New(ff Runner, logger *slog.Logger) *Extractor {
	return &Extractor{ff: ff, logger: logger.With("component", "extractor")}
}

// Args builds the ffmpeg command line that writes every frame of videoPath,
// or fps frames per second when fps > 0, to pattern starting at 1.
func Args(videoPath, pattern string, fps float64) []string {
	args := []string{"-loglevel", "error", "-i", videoPath}
	if fps > 0 {
		args = append(args, "-vf", "fps="+strconv.FormatFloat(fps, 'f', -1, 64))
	}
	return append(args, "-start_number", "1", "-y", pattern)
}

// ExtractFrames fills the layout's in/ directory from videoPath. It does
// nothing when frames already exist there. It returns the frame count.
func (e *Extractor) ExtractFrames(ctx context.Context, videoPath string, layout models.Layout, fps float64) (int, error) {
	// Check if video file exists
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return 0, fmt.Errorf("video file does not exist at path: '%s'", videoPath)
	}

	// Check if frames already exist
	if n := layout.CountFrames(); n > 0 {
		e.logger.Info("frames already exist, skipping extraction", "dir", layout.InDir(), "frames", n)
		return n, nil
	}

	if err := os.MkdirAll(layout.InDir(), 0755); err != nil {
		return 0, fmt.Errorf("failed to create frame directory '%s': %w", layout.InDir(), err)
	}

	e.logger.Info("extracting frames", "video", videoPath, "dir", layout.InDir(), "fps", fps)
	if _, err := e.ff.Run(ctx, Args(videoPath, layout.RawPattern(), fps)...); err != nil {
		return 0, fmt.Errorf("frame extraction failed: %w", err)
	}

	n := layout.CountFrames()
	if n == 0 {
		return 0, fmt.Errorf("ffmpeg wrote no frames from '%s'", videoPath)
	}
	e.logger.Info("successfully extracted frames", "dir", layout.InDir(), "frames", n)
	return n, nil
}
