package ffmpeg

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidGraph is wrapped by every Validate failure.
var ErrInvalidGraph = errors.New("invalid filter graph")

var labelPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Chain is a linear run of filters reading labelled pads and writing one label.
type Chain struct {
	In      []string
	Filters []Filter
	Out     string
}

// Graph is a filter graph over a fixed number of file inputs.
//
// File input i is addressed as Input(i). Every label a chain produces must be
// consumed exactly once, except the graph output.
type Graph struct {
	inputs int
	chains []Chain
	output string
}

// NewGraph starts a graph reading n file inputs.
func NewGraph(n int) *Graph {
	return &Graph{inputs: n}
}

// Input returns the pad name of file input i.
func Input(i int) string {
	return strconv.Itoa(i) + ":v"
}

// Chain appends a chain and returns the graph for chaining.
func (g *Graph) Chain(in []string, out string, filters ...Filter) *Graph {
	g.chains = append(g.chains, Chain{In: in, Filters: filters, Out: out})
	return g
}

// Output marks the label that is mapped to the output file.
func (g *Graph) Output(label string) *Graph {
	g.output = label
	return g
}

// OutputLabel returns the mapped output label.
func (g *Graph) OutputLabel() string {
	return g.output
}

// Validate checks labels, pad counts and filter parameters.
func (g *Graph) Validate() error {
	if g.inputs < 1 {
		return fmt.Errorf("%w: graph needs at least one input", ErrInvalidGraph)
	}
	if len(g.chains) == 0 {
		return fmt.Errorf("%w: graph has no chains", ErrInvalidGraph)
	}

	produced := make(map[string]bool)
	consumed := make(map[string]bool)
	for i, c := range g.chains {
		if len(c.Filters) == 0 {
			return fmt.Errorf("%w: chain %d is empty", ErrInvalidGraph, i)
		}
		if want := c.Filters[0].Inputs(); len(c.In) != want {
			return fmt.Errorf("%w: chain %d: %s takes %d inputs, got %d",
				ErrInvalidGraph, i, c.Filters[0].Name(), want, len(c.In))
		}
		for _, f := range c.Filters[1:] {
			if f.Inputs() != 1 {
				return fmt.Errorf("%w: chain %d: %s must start a chain", ErrInvalidGraph, i, f.Name())
			}
		}
		for _, f := range c.Filters {
			if _, err := render(f); err != nil {
				return fmt.Errorf("%w: chain %d: %v", ErrInvalidGraph, i, err)
			}
		}

		for _, in := range c.In {
			if idx, ok := fileInput(in); ok {
				if idx >= g.inputs {
					return fmt.Errorf("%w: chain %d reads missing input %s", ErrInvalidGraph, i, in)
				}
				continue
			}
			if !produced[in] {
				return fmt.Errorf("%w: chain %d reads undefined label %s", ErrInvalidGraph, i, in)
			}
			if consumed[in] {
				return fmt.Errorf("%w: label %s consumed twice", ErrInvalidGraph, in)
			}
			consumed[in] = true
		}

		if !labelPattern.MatchString(c.Out) {
			return fmt.Errorf("%w: chain %d has invalid output label %q", ErrInvalidGraph, i, c.Out)
		}
		if produced[c.Out] {
			return fmt.Errorf("%w: label %s produced twice", ErrInvalidGraph, c.Out)
		}
		produced[c.Out] = true
	}

	if !produced[g.output] {
		return fmt.Errorf("%w: output label %q is not produced", ErrInvalidGraph, g.output)
	}
	if consumed[g.output] {
		return fmt.Errorf("%w: output label %s is also consumed", ErrInvalidGraph, g.output)
	}
	for label := range produced {
		if label != g.output && !consumed[label] {
			return fmt.Errorf("%w: label %s is never consumed", ErrInvalidGraph, label)
		}
	}
	return nil
}

// Render validates the graph and returns its -filter_complex text.
func (g *Graph) Render() (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}

	chains := make([]string, 0, len(g.chains))
	for _, c := range g.chains {
		var sb strings.Builder
		for _, in := range c.In {
			sb.WriteString("[" + in + "]")
		}
		for i, f := range c.Filters {
			if i > 0 {
				sb.WriteString(",")
			}
			s, _ := render(f)
			sb.WriteString(s)
		}
		sb.WriteString("[" + c.Out + "]")
		chains = append(chains, sb.String())
	}
	return strings.Join(chains, ";"), nil
}

func fileInput(label string) (int, bool) {
	idx, ok := strings.CutSuffix(label, ":v")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
