package mask

import (
	"context"
	"fmt"

	"github.com/bdougie/restyle/internal/ffmpeg"
)

// Composite describes one prediction composite.
type Composite struct {
	Forward  string
	Backward string
	// ForwardWeight is the share of Forward where the mask lets Backward in.
	ForwardWeight float64
	Raw           string
	Mask          string
	Output        string
}

// Inputs returns the graph inputs in order.
func (c Composite) Inputs() []string {
	return []string{c.Forward, c.Backward, c.Raw, c.Mask}
}

// CompositeGraph builds the graph for c.
//
// The forward prediction is the base. The distance-weighted blend of both
// predictions is laid over it with the mask as alpha, then the raw frame is
// laid over that the same way. A black mask passes the forward prediction
// through untouched; a white mask leaves only the raw frame for the generator
// to repaint.
func CompositeGraph(c Composite) (*ffmpeg.Graph, error) {
	if c.Forward == "" || c.Backward == "" {
		return nil, fmt.Errorf("composite needs both predictions")
	}
	if c.ForwardWeight < 0 || c.ForwardWeight > 1 {
		return nil, fmt.Errorf("forward weight must be in [0,1], got %g", c.ForwardWeight)
	}
	return ffmpeg.NewGraph(4).
		Chain([]string{ffmpeg.Input(0), ffmpeg.Input(1)}, "pred", ffmpeg.WeightedBlend(c.ForwardWeight)).
		Chain([]string{"pred", ffmpeg.Input(3)}, "both", ffmpeg.AlphaMerge{}).
		Chain([]string{ffmpeg.Input(0), "both"}, "base", ffmpeg.Overlay{Format: "rgb"}).
		Chain([]string{ffmpeg.Input(2), ffmpeg.Input(3)}, "repaint", ffmpeg.AlphaMerge{}).
		Chain([]string{"base", "repaint"}, "out",
			ffmpeg.Overlay{Format: "rgb"}, ffmpeg.Format{PixFmt: "rgb24"}).
		Output("out"), nil
}

// Composite merges the predictions with the raw frame under the mask.
func (b *Builder) Composite(ctx context.Context, c Composite) error {
	g, err := CompositeGraph(c)
	if err != nil {
		return err
	}
	if err := b.ff.Apply(ctx, c.Inputs(), g, c.Output); err != nil {
		return fmt.Errorf("composite '%s': %w", c.Output, err)
	}
	return nil
}
