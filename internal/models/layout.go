package models

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout maps frame and slide indices to paths under a work directory.
//
// All scheduling happens in frame index space. Slide indices exist only in
// file names under interp/ and out/, and are derived here.
type Layout struct {
	Root   string
	Ext    string
	Stride int
	Anchor int // first restyled frame
}

// NewLayout returns a Layout rooted at root.
func NewLayout(root, ext string, stride, anchor int) Layout {
	return Layout{Root: root, Ext: ext, Stride: stride, Anchor: anchor}
}

// Six expands a number to six zero-padded digits.
func Six(n int) string {
	return fmt.Sprintf("%06d", n)
}

func (l Layout) InDir() string     { return filepath.Join(l.Root, "in") }
func (l Layout) InterpDir() string { return filepath.Join(l.Root, "interp") }
func (l Layout) OutDir() string    { return filepath.Join(l.Root, "out") }

// Valid reports whether frame f is one the scheduler restyles.
func (l Layout) Valid(f int) bool {
	return f >= l.Anchor && (f-l.Anchor)%l.Stride == 0
}

// Slide converts a valid frame index to its 1-based slide index.
func (l Layout) Slide(f int) int {
	return (f-l.Anchor)/l.Stride + 1
}

// Frame converts a slide index back to its frame index.
func (l Layout) Frame(slide int) int {
	return l.Anchor + (slide-1)*l.Stride
}

// FirstValid returns the smallest valid frame >= f.
func (l Layout) FirstValid(f int) int {
	if f <= l.Anchor {
		return l.Anchor
	}
	off := (f - l.Anchor) % l.Stride
	if off == 0 {
		return f
	}
	return f + l.Stride - off
}

// LastValid returns the largest valid frame <= f, or Anchor-Stride if none.
func (l Layout) LastValid(f int) int {
	if f < l.Anchor {
		return l.Anchor - l.Stride
	}
	return f - (f-l.Anchor)%l.Stride
}

// Raw is the path of raw frame f.
func (l Layout) Raw(f int) string {
	return filepath.Join(l.InDir(), Six(f)+"."+l.Ext)
}

// RawPattern is the ffmpeg image2 pattern for the raw frames.
func (l Layout) RawPattern() string {
	return filepath.Join(l.InDir(), "%06d."+l.Ext)
}

// Out is the final styled image for frame f.
func (l Layout) Out(f int) string {
	return filepath.Join(l.OutDir(), Six(l.Slide(f))+"."+l.Ext)
}

// Interp returns an intermediate artifact for frame f. Suffix is "", "f", "b" or "m".
func (l Layout) Interp(f int, suffix string) string {
	name := Six(l.Slide(f))
	if suffix != "" {
		name += "-" + suffix
	}
	return filepath.Join(l.InterpDir(), name+"."+l.Ext)
}

// SceneCache is the default scene-cut cache path.
func (l Layout) SceneCache() string {
	return filepath.Join(l.InterpDir(), "scenes.json")
}

// Chain lists raw frame paths from one frame to another, inclusive, moving
// by step toward the target. The target is always the last element.
func (l Layout) Chain(from, to, step int) []string {
	if step < 1 {
		step = 1
	}
	if to < from {
		step = -step
	}
	var chain []string
	f := from
	for ; (step > 0 && f < to) || (step < 0 && f > to); f += step {
		chain = append(chain, l.Raw(f))
	}
	return append(chain, l.Raw(to))
}

// Span lists raw frame paths from lo to hi inclusive.
func (l Layout) Span(lo, hi int) []string {
	span := make([]string, 0, hi-lo+1)
	for f := lo; f <= hi; f++ {
		span = append(span, l.Raw(f))
	}
	return span
}

// CountFrames counts contiguous raw frames starting at frame 1.
func (l Layout) CountFrames() int {
	n := 0
	for {
		if _, err := os.Stat(l.Raw(n + 1)); err != nil {
			return n
		}
		n++
	}
}

// Prepare creates the interp/ and out/ directories.
func (l Layout) Prepare() error {
	for _, dir := range []string{l.InterpDir(), l.OutDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
