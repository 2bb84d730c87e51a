package scenes

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/bdougie/restyle/internal/ffmpeg"
)

var ptsPattern = regexp.MustCompile(`pts:\s*(\d+)`)

// Runner passes arguments to ffmpeg and returns its output.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// FFmpegDetector finds cuts with ffmpeg's scene-change score.
type FFmpegDetector struct {
	ff        Runner
	pattern   string
	threshold float64
}

// NewFFmpegDetector reads frames matching the image2 pattern (numbered from 1).
func NewFFmpegDetector(ff Runner, pattern string, threshold float64) *FFmpegDetector {
	return &FFmpegDetector{ff: ff, pattern: pattern, threshold: threshold}
}

// DetectArgs builds the ffmpeg command line for a scene pass.
func DetectArgs(pattern string, threshold float64) ([]string, error) {
	g := ffmpeg.NewGraph(1).
		Chain([]string{ffmpeg.Input(0)}, "out", ffmpeg.SceneSelect(threshold), ffmpeg.MetadataPrint{}).
		Output("out")
	fc, err := g.Render()
	if err != nil {
		return nil, err
	}
	return []string{
		"-loglevel", "error",
		"-start_number", "1",
		"-i", pattern,
		"-filter_complex", fc,
		"-map", "[out]",
		"-f", "null", "-",
	}, nil
}

// ParseCuts extracts cut frame indices from metadata=print output. With
// start_number 1 the first frame has pts 0, so frame = pts + 1.
func ParseCuts(output []byte) []int {
	var cuts []int
	for _, m := range ptsPattern.FindAllSubmatch(output, -1) {
		pts, err := strconv.Atoi(string(m[1]))
		if err != nil {
			continue
		}
		cuts = append(cuts, pts+1)
	}
	return cuts
}

// Detect runs the scene pass over all frames.
func (d *FFmpegDetector) Detect(ctx context.Context, frames int) ([]int, error) {
	args, err := DetectArgs(d.pattern, d.threshold)
	if err != nil {
		return nil, err
	}

	output, err := d.ff.Run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("scene pass: %w", err)
	}

	var cuts []int
	for _, c := range ParseCuts(output) {
		if c <= frames {
			cuts = append(cuts, c)
		}
	}
	return cuts, nil
}
