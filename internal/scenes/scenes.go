package scenes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/bdougie/restyle/internal/models"
)

// Detector finds the frames at which a new shot begins.
type Detector interface {
	Detect(ctx context.Context, frames int) ([]int, error)
}

// Segmenter partitions the frame range into scenes, caching cut detection on disk.
type Segmenter struct {
	detector  Detector
	cachePath string
	logger    *slog.Logger
}

// NewSegmenter creates a Segmenter. An empty cachePath disables the cache.
func NewSegmenter(detector Detector, cachePath string, logger *slog.Logger) *Segmenter {
	return &Segmenter{
		detector:  detector,
		cachePath: cachePath,
		logger:    logger.With("component", "scenes"),
	}
}

// Partition turns raw cut points into scene boundaries over frames [1, n].
// The result is strictly increasing, starts at 1 and ends at n+1.
func Partition(cuts []int, n int) []int {
	bounds := []int{1}
	sorted := slices.Clone(cuts)
	slices.Sort(sorted)
	for _, c := range sorted {
		if c <= bounds[len(bounds)-1] || c > n {
			continue
		}
		bounds = append(bounds, c)
	}
	return append(bounds, n+1)
}

// Scenes converts boundaries into half-open scene ranges.
func Scenes(bounds []int) []models.Scene {
	scenes := make([]models.Scene, 0, len(bounds))
	for i := 0; i+1 < len(bounds); i++ {
		scenes = append(scenes, models.Scene{Index: i, Lo: bounds[i], Hi: bounds[i+1]})
	}
	return scenes
}

// valid reports whether bounds is a partition of [1, n].
func valid(bounds []int, n int) bool {
	if len(bounds) < 2 || bounds[0] != 1 || bounds[len(bounds)-1] != n+1 {
		return false
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			return false
		}
	}
	return true
}

// Segment returns the scenes of a sequence of n frames.
func (s *Segmenter) Segment(ctx context.Context, n int) ([]models.Scene, error) {
	if n < 1 {
		return nil, fmt.Errorf("no frames to segment")
	}

	if bounds, ok := s.readCache(n); ok {
		s.logger.Info("using cached scene cuts", "path", s.cachePath, "scenes", len(bounds)-1)
		return Scenes(bounds), nil
	}

	s.logger.Info("detecting scene cuts", "frames", n)
	cuts, err := s.detector.Detect(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("scene detection failed: %w", err)
	}
	bounds := Partition(cuts, n)

	if err := s.writeCache(bounds); err != nil {
		// A missing cache only costs a re-detection next run
		s.logger.Warn("failed to write scene cache", "path", s.cachePath, "error", err)
	}

	s.logger.Info("scene cuts detected", "scenes", len(bounds)-1)
	return Scenes(bounds), nil
}

func (s *Segmenter) readCache(n int) ([]int, bool) {
	if s.cachePath == "" {
		return nil, false
	}
	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		return nil, false
	}

	var bounds []int
	if err := json.Unmarshal(data, &bounds); err != nil {
		s.logger.Warn("ignoring unreadable scene cache", "path", s.cachePath, "error", err)
		return nil, false
	}
	if !valid(bounds, n) {
		s.logger.Warn("ignoring stale scene cache", "path", s.cachePath)
		return nil, false
	}
	return bounds, true
}

func (s *Segmenter) writeCache(bounds []int) error {
	if s.cachePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cachePath), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(bounds)
	if err != nil {
		return err
	}
	return os.WriteFile(s.cachePath, data, 0644)
}
