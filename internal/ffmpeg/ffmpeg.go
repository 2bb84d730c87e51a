// Package ffmpeg builds typed filter graphs and runs them through the ffmpeg binary.
package ffmpeg

import (
	"context"
	"fmt"
	"os"

	"github.com/bdougie/restyle/internal/toolexec"
)

// MaxInlineGraph is the longest graph passed inline with -filter_complex.
// Longer graphs are written to a script file, since Linux caps a single
// argument at 128 KiB.
const MaxInlineGraph = 32 << 10

// FFmpeg runs filter graphs over image files.
type FFmpeg struct {
	Bin    string
	Runner toolexec.Runner
}

// New returns an FFmpeg using bin (defaults to "ffmpeg").
func New(bin string, runner toolexec.Runner) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{Bin: bin, Runner: runner}
}

// ApplyArgs builds the command line that renders g over inputs into a single image.
// When script is non-empty the graph is read from that file instead of
// being passed inline.
func ApplyArgs(inputs []string, g *Graph, output, script string) ([]string, error) {
	if len(inputs) != g.inputs {
		return nil, fmt.Errorf("%w: graph expects %d inputs, got %d", ErrInvalidGraph, g.inputs, len(inputs))
	}
	fc, err := g.Render()
	if err != nil {
		return nil, err
	}

	args := []string{"-loglevel", "error"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}
	if script != "" {
		args = append(args, "-filter_complex_script", script)
	} else {
		args = append(args, "-filter_complex", fc)
	}
	args = append(args,
		"-map", "["+g.OutputLabel()+"]",
		"-y", "-update", "1",
		output,
	)
	return args, nil
}

// Apply renders g over inputs and writes the single resulting image to output.
func (f *FFmpeg) Apply(ctx context.Context, inputs []string, g *Graph, output string) error {
	fc, err := g.Render()
	if err != nil {
		return err
	}

	var script string
	if len(fc) > MaxInlineGraph {
		if script, err = writeScript(fc); err != nil {
			return err
		}
		defer os.Remove(script)
	}

	args, err := ApplyArgs(inputs, g, output, script)
	if err != nil {
		return err
	}
	_, err = f.Runner.Run(ctx, f.Bin, args...)
	return err
}

func writeScript(fc string) (string, error) {
	file, err := os.CreateTemp("", "restyle-graph-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create filter script: %w", err)
	}
	if _, err := file.WriteString(fc); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write filter script: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write filter script: %w", err)
	}
	return file.Name(), nil
}

// Run passes raw arguments to ffmpeg and returns its combined output.
func (f *FFmpeg) Run(ctx context.Context, args ...string) ([]byte, error) {
	return f.Runner.Run(ctx, f.Bin, args...)
}
