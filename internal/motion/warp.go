package motion

import (
	"context"
	"fmt"

	"github.com/bdougie/restyle/internal/toolexec"
)

// Warper runs the motion-transfer tool, which carries a styled image along a
// chain of raw frames and writes a prediction aligned to the chain's last frame.
type Warper struct {
	bin    string
	runner toolexec.Runner
}

// NewWarper creates a Warper around the motion-transfer executable.
func NewWarper(bin string, runner toolexec.Runner) *Warper {
	return &Warper{bin: bin, runner: runner}
}

// Args builds the tool command line:
//
//	-m <frame_1> ... <frame_k> -i <source> -o <output>
func Args(chain []string, source, output string) ([]string, error) {
	if len(chain) < 2 {
		return nil, fmt.Errorf("motion chain needs at least two frames, got %d", len(chain))
	}
	args := make([]string, 0, len(chain)+5)
	args = append(args, "-m")
	args = append(args, chain...)
	return append(args, "-i", source, "-o", output), nil
}

// Warp predicts output from source along chain. source must be aligned with chain[0].
func (w *Warper) Warp(ctx context.Context, chain []string, source, output string) error {
	args, err := Args(chain, source, output)
	if err != nil {
		return err
	}
	if _, err := w.runner.Run(ctx, w.bin, args...); err != nil {
		return fmt.Errorf("motion transfer to '%s': %w", output, err)
	}
	return nil
}
