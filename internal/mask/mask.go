// Package mask derives change masks from raw frame spans and composites
// motion-compensated predictions under them.
//
// Mask brightness encodes how much the generative step may repaint a pixel:
// black keeps the prediction, white hands the pixel back to the generator.
package mask

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bdougie/restyle/internal/ffmpeg"
)

// Fixed visual-parity parameters of the span mask.
const (
	DilationPasses = 8
	UnsharpSize    = 5
	UnsharpAmount  = 1.0
)

// MaxSpanInputs caps the files one ffmpeg call opens while building a mask.
// Longer spans are reduced in batches through partial sums.
const MaxSpanInputs = 64

// Applier runs a filter graph over image files.
type Applier interface {
	Apply(ctx context.Context, inputs []string, g *ffmpeg.Graph, output string) error
}

// Builder creates masks and composites through the filter-graph executor
type Builder struct {
	ff   Applier
	gain float64
}

// NewBuilder returns a Builder amplifying inter-frame change by gain.
func NewBuilder(ff Applier, gain float64) *Builder {
	return &Builder{ff: ff, gain: gain}
}

// diffChains differences each adjacent pair of the graph's n inputs in gray
// and sums the results, returning the label holding the sum.
func diffChains(g *ffmpeg.Graph, n int) string {
	labels := make([]string, 0, n-1)
	for i := 0; i < n-1; i++ {
		l, r, d := fmt.Sprintf("l%d", i), fmt.Sprintf("r%d", i), fmt.Sprintf("d%d", i)
		g.Chain([]string{ffmpeg.Input(i)}, l, ffmpeg.Format{PixFmt: "gray"}).
			Chain([]string{ffmpeg.Input(i + 1)}, r, ffmpeg.Format{PixFmt: "gray"}).
			Chain([]string{l, r}, d, ffmpeg.Blend{Mode: "difference"})
		labels = append(labels, d)
	}
	return sumChains(g, labels)
}

// sumChains adds labels together in order and returns the label of the sum.
func sumChains(g *ffmpeg.Graph, labels []string) string {
	acc := labels[0]
	for i := 1; i < len(labels); i++ {
		sum := fmt.Sprintf("s%d", i)
		g.Chain([]string{acc, labels[i]}, sum, ffmpeg.Blend{Mode: "addition"})
		acc = sum
	}
	return acc
}

func finish(gain float64) []ffmpeg.Filter {
	filters := []ffmpeg.Filter{ffmpeg.Gain(gain)}
	for i := 0; i < DilationPasses; i++ {
		filters = append(filters, ffmpeg.Dilation{})
	}
	return append(filters, ffmpeg.Unsharp{SizeX: UnsharpSize, SizeY: UnsharpSize, Amount: UnsharpAmount})
}

// SpanGraph builds the change-mask graph over n consecutive frames.
//
// Each adjacent pair is reduced to gray and differenced, the differences are
// summed, then the sum is amplified, dilated and sharpened. A single frame has
// no motion and yields a black mask.
func SpanGraph(n int, gain float64) (*ffmpeg.Graph, error) {
	if n < 1 {
		return nil, fmt.Errorf("mask span is empty")
	}
	g := ffmpeg.NewGraph(n)
	if n == 1 {
		return g.Chain([]string{ffmpeg.Input(0)}, "mask",
			ffmpeg.Format{PixFmt: "gray"}, ffmpeg.Lut{Expr: "0"}).Output("mask"), nil
	}
	return g.Chain([]string{diffChains(g, n)}, "mask", finish(gain)...).Output("mask"), nil
}

// PartialGraph sums the pair differences of n frames without amplifying them.
func PartialGraph(n int) (*ffmpeg.Graph, error) {
	if n < 2 {
		return nil, fmt.Errorf("partial span needs two frames, got %d", n)
	}
	g := ffmpeg.NewGraph(n)
	return g.Chain([]string{diffChains(g, n)}, "sum", ffmpeg.Format{PixFmt: "gray"}).Output("sum"), nil
}

// SumGraph adds n gray partial sums. When final is set the total is
// amplified, dilated and sharpened like a single-pass span mask.
func SumGraph(n int, gain float64, final bool) (*ffmpeg.Graph, error) {
	if n < 1 {
		return nil, fmt.Errorf("nothing to sum")
	}
	g := ffmpeg.NewGraph(n)
	labels := make([]string, n)
	for i := range labels {
		labels[i] = ffmpeg.Input(i)
	}
	filters := []ffmpeg.Filter{ffmpeg.Format{PixFmt: "gray"}}
	if final {
		filters = finish(gain)
	}
	if n == 1 {
		return g.Chain(labels, "mask", filters...).Output("mask"), nil
	}
	return g.Chain([]string{sumChains(g, labels)}, "mask", filters...).Output("mask"), nil
}

// BlankGraph builds a uniformly maximal mask the size of its input.
func BlankGraph() *ffmpeg.Graph {
	return ffmpeg.NewGraph(1).
		Chain([]string{ffmpeg.Input(0)}, "mask", ffmpeg.Format{PixFmt: "gray"}, ffmpeg.Lut{Expr: "maxval"}).
		Output("mask")
}

// Batches splits span into runs of at most size frames. Consecutive runs
// share their edge frame so every adjacent pair lands in exactly one run.
func Batches(span []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(span)-1; {
		end := min(start+size-1, len(span)-1)
		out = append(out, span[start:end+1])
		start = end
	}
	return out
}

// Build writes the change mask over span to output.
//
// Spans wider than MaxSpanInputs are differenced batch by batch into partial
// sums next to output, and the partials are added up the same way. Gray
// addition saturates at the maximum, which keeps the batched sum identical
// to the single-pass one.
func (b *Builder) Build(ctx context.Context, span []string, output string) error {
	if len(span) <= MaxSpanInputs {
		g, err := SpanGraph(len(span), b.gain)
		if err != nil {
			return err
		}
		if err := b.ff.Apply(ctx, span, g, output); err != nil {
			return fmt.Errorf("mask '%s': %w", output, err)
		}
		return nil
	}

	var partials []string
	defer func() {
		for _, p := range partials {
			os.Remove(p)
		}
	}()

	var level []string
	for i, batch := range Batches(span, MaxSpanInputs) {
		g, err := PartialGraph(len(batch))
		if err != nil {
			return err
		}
		part := partialPath(output, 0, i)
		partials = append(partials, part)
		if err := b.ff.Apply(ctx, batch, g, part); err != nil {
			return fmt.Errorf("mask '%s': %w", output, err)
		}
		level = append(level, part)
	}

	for depth := 1; len(level) > MaxSpanInputs; depth++ {
		var next []string
		for i := 0; i < len(level); i += MaxSpanInputs {
			group := level[i:min(i+MaxSpanInputs, len(level))]
			g, err := SumGraph(len(group), b.gain, false)
			if err != nil {
				return err
			}
			part := partialPath(output, depth, i/MaxSpanInputs)
			partials = append(partials, part)
			if err := b.ff.Apply(ctx, group, g, part); err != nil {
				return fmt.Errorf("mask '%s': %w", output, err)
			}
			next = append(next, part)
		}
		level = next
	}

	g, err := SumGraph(len(level), b.gain, true)
	if err != nil {
		return err
	}
	if err := b.ff.Apply(ctx, level, g, output); err != nil {
		return fmt.Errorf("mask '%s': %w", output, err)
	}
	return nil
}

// partialPath names an intermediate sum beside the mask. Partials are always
// PNG so no precision is lost between passes.
func partialPath(output string, depth, i int) string {
	base := strings.TrimSuffix(output, filepath.Ext(output))
	return fmt.Sprintf("%s-sum%d-%d.png", base, depth, i)
}

// Blank writes a full-repaint mask sized like the image at like.
func (b *Builder) Blank(ctx context.Context, like, output string) error {
	if err := b.ff.Apply(ctx, []string{like}, BlankGraph(), output); err != nil {
		return fmt.Errorf("blank mask '%s': %w", output, err)
	}
	return nil
}
