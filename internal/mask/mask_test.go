package mask

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/restyle/internal/ffmpeg"
	"github.com/bdougie/restyle/internal/toolexec"
)

type applyCall struct {
	inputs []string
	graph  string
	output string
}

type fakeApplier struct {
	calls []applyCall
}

func (f *fakeApplier) Apply(_ context.Context, inputs []string, g *ffmpeg.Graph, output string) error {
	fc, err := g.Render()
	if err != nil {
		return err
	}
	f.calls = append(f.calls, applyCall{inputs: inputs, graph: fc, output: output})
	return nil
}

func dilations() string {
	return strings.Repeat(",dilation", DilationPasses)
}

func pair(i int) string {
	return fmt.Sprintf("[%d:v]format=gray[l%d];[%d:v]format=gray[r%d];[l%d][r%d]blend=all_mode=difference[d%d];",
		i, i, i+1, i, i, i, i)
}

func TestSpanGraphThreeFrames(t *testing.T) {
	g, err := SpanGraph(3, 4)
	require.NoError(t, err)

	fc, err := g.Render()
	require.NoError(t, err)
	assert.Equal(t,
		pair(0)+pair(1)+
			"[d0][d1]blend=all_mode=addition[s1];"+
			"[s1]lut=c0='clip(val*4,0,maxval)'"+dilations()+",unsharp=5:5:1.0[mask]",
		fc)
}

func TestSpanGraphTwoFrames(t *testing.T) {
	g, err := SpanGraph(2, 2.5)
	require.NoError(t, err)

	fc, err := g.Render()
	require.NoError(t, err)
	assert.Equal(t,
		pair(0)+"[d0]lut=c0='clip(val*2.5,0,maxval)'"+dilations()+",unsharp=5:5:1.0[mask]",
		fc)
}

func TestSpanGraphSingleFrameIsBlack(t *testing.T) {
	g, err := SpanGraph(1, 4)
	require.NoError(t, err)

	fc, err := g.Render()
	require.NoError(t, err)
	assert.Equal(t, "[0:v]format=gray,lut=c0='0'[mask]", fc)
}

func TestSpanGraphEmpty(t *testing.T) {
	_, err := SpanGraph(0, 4)
	assert.Error(t, err)
}

func TestBuildAndBlank(t *testing.T) {
	ff := &fakeApplier{}
	b := NewBuilder(ff, 4)
	ctx := context.Background()

	span := []string{"in/000001.png", "in/000002.png", "in/000003.png"}
	require.NoError(t, b.Build(ctx, span, "interp/000002-m.png"))
	require.NoError(t, b.Blank(ctx, "in/000001.png", "interp/000001-m.png"))

	require.Len(t, ff.calls, 2)
	assert.Equal(t, span, ff.calls[0].inputs)
	assert.Equal(t, "interp/000002-m.png", ff.calls[0].output)
	assert.Equal(t, "[0:v]format=gray,lut=c0='maxval'[mask]", ff.calls[1].graph)
}

func TestPartialAndSumGraphs(t *testing.T) {
	g, err := PartialGraph(2)
	require.NoError(t, err)
	fc, err := g.Render()
	require.NoError(t, err)
	assert.Equal(t, pair(0)+"[d0]format=gray[sum]", fc)

	g, err = SumGraph(3, 4, false)
	require.NoError(t, err)
	fc, err = g.Render()
	require.NoError(t, err)
	assert.Equal(t,
		"[0:v][1:v]blend=all_mode=addition[s1];[s1][2:v]blend=all_mode=addition[s2];[s2]format=gray[mask]",
		fc)

	g, err = SumGraph(1, 4, true)
	require.NoError(t, err)
	fc, err = g.Render()
	require.NoError(t, err)
	assert.Equal(t, "[0:v]lut=c0='clip(val*4,0,maxval)'"+dilations()+",unsharp=5:5:1.0[mask]", fc)

	_, err = PartialGraph(1)
	assert.Error(t, err)
	_, err = SumGraph(0, 4, true)
	assert.Error(t, err)
}

func frames(n int) []string {
	span := make([]string, n)
	for i := range span {
		span[i] = fmt.Sprintf("in/%06d.png", i+1)
	}
	return span
}

func TestBatchesCoverEveryPairOnce(t *testing.T) {
	for _, n := range []int{2, 3, 64, 65, 127, 128, 2001} {
		span := frames(n)
		pairs := make(map[string]int)
		for _, batch := range Batches(span, MaxSpanInputs) {
			require.GreaterOrEqual(t, len(batch), 2, "n=%d", n)
			require.LessOrEqual(t, len(batch), MaxSpanInputs, "n=%d", n)
			for i := 0; i+1 < len(batch); i++ {
				pairs[batch[i]+batch[i+1]]++
			}
		}
		require.Len(t, pairs, n-1, "n=%d", n)
		for p, c := range pairs {
			assert.Equal(t, 1, c, "pair %s", p)
		}
	}
	assert.Empty(t, Batches(frames(1), MaxSpanInputs))
}

func TestBuildLongSpanInBatches(t *testing.T) {
	ff := &fakeApplier{}
	b := NewBuilder(ff, 4)
	// Enough partials to need a second level of sums
	n := (MaxSpanInputs-1)*(MaxSpanInputs+3) + 1
	require.NoError(t, b.Build(context.Background(), frames(n), "interp/000500-m.png"))

	partials := MaxSpanInputs + 3
	require.Len(t, ff.calls, partials+2+1)
	for _, c := range ff.calls {
		assert.LessOrEqual(t, len(c.inputs), MaxSpanInputs)
	}

	first := ff.calls[0]
	assert.Equal(t, frames(n)[:MaxSpanInputs], first.inputs)
	assert.Equal(t, "interp/000500-m-sum0-0.png", first.output)
	assert.NotContains(t, first.graph, "lut")

	second := ff.calls[partials]
	assert.Len(t, second.inputs, MaxSpanInputs)
	assert.Equal(t, "interp/000500-m-sum0-0.png", second.inputs[0])
	assert.Equal(t, "interp/000500-m-sum1-0.png", second.output)

	last := ff.calls[len(ff.calls)-1]
	assert.Equal(t, []string{"interp/000500-m-sum1-0.png", "interp/000500-m-sum1-1.png"}, last.inputs)
	assert.Equal(t, "interp/000500-m.png", last.output)
	assert.Contains(t, last.graph, "unsharp=5:5:1.0[mask]")
}

func TestCompositeGraph(t *testing.T) {
	ff := &fakeApplier{}
	b := NewBuilder(ff, 4)
	c := Composite{
		Forward: "f.png", Backward: "b.png", ForwardWeight: 0.5,
		Raw: "raw.png", Mask: "m.png", Output: "o.png",
	}
	require.NoError(t, b.Composite(context.Background(), c))

	require.Len(t, ff.calls, 1)
	assert.Equal(t, []string{"f.png", "b.png", "raw.png", "m.png"}, ff.calls[0].inputs)
	assert.Equal(t,
		"[0:v][1:v]blend=all_expr='A*0.5+B*0.5'[pred];"+
			"[pred][3:v]alphamerge[both];"+
			"[0:v][both]overlay=format=rgb[base];"+
			"[2:v][3:v]alphamerge[repaint];"+
			"[base][repaint]overlay=format=rgb,format=rgb24[out]",
		ff.calls[0].graph)

	_, err := CompositeGraph(Composite{Forward: "f.png", ForwardWeight: 1})
	assert.Error(t, err)
}

func TestCompositeRejectsBadWeight(t *testing.T) {
	_, err := CompositeGraph(Composite{Forward: "f", Backward: "b", ForwardWeight: 1.5})
	assert.Error(t, err)
}

func uniform(v uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestProfileImage(t *testing.T) {
	assert.Equal(t, []float32{1, 0, 0, 0}, ProfileImage(uniform(0)))
	assert.Equal(t, []float32{0, 0, 0, 1}, ProfileImage(uniform(255)))

	half := image.NewGray(image.Rect(0, 0, 2, 1))
	half.SetGray(0, 0, color.Gray{Y: 10})
	half.SetGray(1, 0, color.Gray{Y: 140})
	assert.Equal(t, []float32{0.5, 0, 0.5, 0}, ProfileImage(half))
}

func TestProfileFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, uniform(255)))
	require.NoError(t, f.Close())

	profile, err := Profile(path)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 1}, profile)

	_, err = Profile(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func solid(c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// TestCompositePixels runs the composite through ffmpeg: a black mask must
// return the forward prediction and a white mask the raw frame.
func TestCompositePixels(t *testing.T) {
	bin, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not on PATH")
	}

	dir := t.TempDir()
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	green := color.RGBA{G: 255, A: 255}
	writePNG(t, filepath.Join(dir, "f.png"), solid(red))
	writePNG(t, filepath.Join(dir, "b.png"), solid(blue))
	writePNG(t, filepath.Join(dir, "raw.png"), solid(green))

	runner := toolexec.NewExecRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))
	b := NewBuilder(ffmpeg.New(bin, runner), 4)

	tests := map[string]struct {
		mask uint8
		want color.RGBA
	}{
		"zero mask keeps forward": {mask: 0, want: red},
		"full mask keeps raw":     {mask: 255, want: green},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			maskPath := filepath.Join(dir, fmt.Sprintf("m%d.png", tt.mask))
			writePNG(t, maskPath, uniform(tt.mask))
			out := filepath.Join(dir, fmt.Sprintf("o%d.png", tt.mask))

			require.NoError(t, b.Composite(context.Background(), Composite{
				Forward:       filepath.Join(dir, "f.png"),
				Backward:      filepath.Join(dir, "b.png"),
				ForwardWeight: 0.5,
				Raw:           filepath.Join(dir, "raw.png"),
				Mask:          maskPath,
				Output:        out,
			}))

			f, err := os.Open(out)
			require.NoError(t, err)
			defer f.Close()
			img, err := png.Decode(f)
			require.NoError(t, err)

			r, g, bl, _ := img.At(4, 4).RGBA()
			assert.InDelta(t, float64(tt.want.R), float64(r>>8), 2)
			assert.InDelta(t, float64(tt.want.G), float64(g>>8), 2)
			assert.InDelta(t, float64(tt.want.B), float64(bl>>8), 2)
		})
	}
}
