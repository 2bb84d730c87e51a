package scheduler

import (
	"fmt"

	"github.com/bdougie/restyle/internal/models"
)

// Edge is one subdivision step: Mid is produced from the already styled Lo and Hi.
type Edge struct {
	Mid, Lo, Hi int
}

// Subdivide splits the open interval (lo, hi) at the stride-aligned midpoint
// and recurses on both halves. Edges come out parent first.
func Subdivide(lo, hi, stride int) []Edge {
	var edges []Edge
	var walk func(lo, hi int)
	walk = func(lo, hi int) {
		mid := lo + ((hi-lo)/stride/2)*stride
		if mid <= lo || mid >= hi {
			return
		}
		edges = append(edges, Edge{Mid: mid, Lo: lo, Hi: hi})
		walk(lo, mid)
		walk(mid, hi)
	}
	if stride > 0 {
		walk(lo, hi)
	}
	return edges
}

// Task is one slide to produce, keyed by frame index.
type Task struct {
	Frame int
	Kind  models.NodeKind
	// Lower and Upper bound an interior task. Both are zero for anchors.
	Lower, Upper int
	Prereqs      []int
}

// Plan is the dependency graph of one scene.
type Plan struct {
	Scene models.Scene
	Tasks map[int]*Task
	// Order lists frames in the order tasks were created.
	Order []int
}

func (p *Plan) add(t *Task) {
	p.Tasks[t.Frame] = t
	p.Order = append(p.Order, t.Frame)
}

// Len returns the number of tasks.
func (p *Plan) Len() int {
	return len(p.Order)
}

// PlanScene lays out the dependency graph for scene.
//
// The scene midpoint is the first anchor. Further anchors sit every groupSize
// slides outward from it, plus the first and last valid frames, each gated on
// its neighbor toward the midpoint. The frames between adjacent anchors are
// filled by subdivision. A scene with no valid frame yields an empty plan.
func PlanScene(layout models.Layout, scene models.Scene, groupSize int) (*Plan, error) {
	if layout.Stride < 1 {
		return nil, fmt.Errorf("stride must be >= 1, got %d", layout.Stride)
	}
	if groupSize < 1 {
		return nil, fmt.Errorf("group size must be >= 1, got %d", groupSize)
	}

	plan := &Plan{Scene: scene, Tasks: make(map[int]*Task)}
	first := layout.FirstValid(scene.Lo)
	last := layout.LastValid(scene.Hi - 1)
	if first > last {
		return plan, nil
	}

	s := layout.Stride
	mid := first + ((last-first)/s/2)*s
	span := groupSize * s

	plan.add(&Task{Frame: mid, Kind: models.KindAnchor})

	// Upward boundaries, each gated on the one below
	bounds := []int{mid}
	prev := mid
	for f := mid + span; prev < last; f += span {
		if f > last {
			f = last
		}
		plan.add(&Task{Frame: f, Kind: models.KindAnchor, Prereqs: []int{prev}})
		bounds = append(bounds, f)
		prev = f
	}

	// Downward boundaries, each gated on the one above
	below := []int{}
	prev = mid
	for f := mid - span; prev > first; f -= span {
		if f < first {
			f = first
		}
		plan.add(&Task{Frame: f, Kind: models.KindAnchor, Prereqs: []int{prev}})
		below = append([]int{f}, below...)
		prev = f
	}
	bounds = append(below, bounds...)

	for i := 0; i+1 < len(bounds); i++ {
		for _, e := range Subdivide(bounds[i], bounds[i+1], s) {
			plan.add(&Task{
				Frame:   e.Mid,
				Kind:    models.KindInterior,
				Lower:   e.Lo,
				Upper:   e.Hi,
				Prereqs: []int{e.Lo, e.Hi},
			})
		}
	}
	return plan, nil
}
