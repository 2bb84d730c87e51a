package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// Filter is one typed stage of a filter chain.
type Filter interface {
	// Name is the ffmpeg filter name.
	Name() string
	// Inputs is the number of input pads the filter takes.
	Inputs() int
	// Args renders the option string, or an error if a parameter is out of range.
	Args() (string, error)
}

func render(f Filter) (string, error) {
	args, err := f.Args()
	if err != nil {
		return "", fmt.Errorf("%s: %w", f.Name(), err)
	}
	if args == "" {
		return f.Name(), nil
	}
	return f.Name() + "=" + args, nil
}

// quote protects an expression containing filter-graph separators.
func quote(expr string) string {
	return "'" + strings.ReplaceAll(expr, "'", `\'`) + "'"
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Format converts pixel formats.
type Format struct {
	PixFmt string
}

func (Format) Name() string { return "format" }
func (Format) Inputs() int  { return 1 }
func (f Format) Args() (string, error) {
	if f.PixFmt == "" {
		return "", fmt.Errorf("pixel format is required")
	}
	return f.PixFmt, nil
}

// Blend combines two inputs, either with a named mode or an expression.
type Blend struct {
	Mode string // difference, addition, ...
	Expr string // e.g. A*0.5+B*0.5
}

func (Blend) Name() string { return "blend" }
func (Blend) Inputs() int  { return 2 }
func (b Blend) Args() (string, error) {
	switch {
	case b.Mode != "" && b.Expr != "":
		return "", fmt.Errorf("mode and expression are mutually exclusive")
	case b.Mode != "":
		return "all_mode=" + b.Mode, nil
	case b.Expr != "":
		return "all_expr=" + quote(b.Expr), nil
	}
	return "", fmt.Errorf("mode or expression is required")
}

// WeightedBlend returns a Blend producing A*wa + B*(1-wa).
func WeightedBlend(wa float64) Blend {
	return Blend{Expr: "A*" + num(wa) + "+B*" + num(1-wa)}
}

// Lut applies a per-pixel expression to the first component.
type Lut struct {
	Expr string
}

func (Lut) Name() string { return "lut" }
func (Lut) Inputs() int  { return 1 }
func (l Lut) Args() (string, error) {
	if l.Expr == "" {
		return "", fmt.Errorf("expression is required")
	}
	return "c0=" + quote(l.Expr), nil
}

// Gain returns a Lut that multiplies intensities by gain, clipped to maxval.
func Gain(gain float64) Lut {
	return Lut{Expr: "clip(val*" + num(gain) + ",0,maxval)"}
}

// Dilation is a 3x3 local-maximum filter.
type Dilation struct{}

func (Dilation) Name() string          { return "dilation" }
func (Dilation) Inputs() int           { return 1 }
func (Dilation) Args() (string, error) { return "", nil }

// Unsharp sharpens luma with a SizeX x SizeY matrix.
type Unsharp struct {
	SizeX, SizeY int
	Amount       float64
}

func (Unsharp) Name() string { return "unsharp" }
func (Unsharp) Inputs() int  { return 1 }
func (u Unsharp) Args() (string, error) {
	for _, s := range []int{u.SizeX, u.SizeY} {
		if s < 3 || s > 23 || s%2 == 0 {
			return "", fmt.Errorf("matrix size must be odd and in [3,23], got %d", s)
		}
	}
	if u.Amount < -2 || u.Amount > 5 {
		return "", fmt.Errorf("amount must be in [-2,5], got %g", u.Amount)
	}
	return fmt.Sprintf("%d:%d:%s", u.SizeX, u.SizeY, strconv.FormatFloat(u.Amount, 'f', 1, 64)), nil
}

// AlphaMerge attaches the second input's luma as alpha of the first.
type AlphaMerge struct{}

func (AlphaMerge) Name() string          { return "alphamerge" }
func (AlphaMerge) Inputs() int           { return 2 }
func (AlphaMerge) Args() (string, error) { return "", nil }

// Overlay draws the second input over the first, honoring its alpha.
type Overlay struct {
	Format string // rgb, yuv420, ...; empty keeps the ffmpeg default
}

func (Overlay) Name() string { return "overlay" }
func (Overlay) Inputs() int  { return 2 }
func (o Overlay) Args() (string, error) {
	if o.Format == "" {
		return "", nil
	}
	return "format=" + o.Format, nil
}

// Select keeps frames for which Expr is nonzero.
type Select struct {
	Expr string
}

func (Select) Name() string { return "select" }
func (Select) Inputs() int  { return 1 }
func (s Select) Args() (string, error) {
	if s.Expr == "" {
		return "", fmt.Errorf("expression is required")
	}
	return quote(s.Expr), nil
}

// SceneSelect keeps frames whose scene-change score exceeds threshold.
func SceneSelect(threshold float64) Select {
	return Select{Expr: "gt(scene," + num(threshold) + ")"}
}

// MetadataPrint prints frame metadata to stdout.
type MetadataPrint struct{}

func (MetadataPrint) Name() string          { return "metadata" }
func (MetadataPrint) Inputs() int           { return 1 }
func (MetadataPrint) Args() (string, error) { return "print:file=-", nil }
