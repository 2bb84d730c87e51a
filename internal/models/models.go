package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// ErrOutputExists is returned when a job's output appeared before it ran.
var ErrOutputExists = errors.New("output already exists")

// Scene is a half-open range [Lo, Hi) of frame indices with no cut inside
type Scene struct {
	Index int
	Lo    int
	Hi    int
}

// Len returns the number of raw frames in the scene
func (s Scene) Len() int {
	return s.Hi - s.Lo
}

// NodeKind tells whether a slide is restyled directly or from its neighbors
type NodeKind string

const (
	KindAnchor   NodeKind = "anchor"
	KindInterior NodeKind = "interior"
)

// Job is a single restyle request
type Job struct {
	Prompt string // prompt template path
	Input  string
	Mask   string
	Output string
	Slide  int
}

func (j *Job) String() string {
	return fmt.Sprintf("slide %d (%s)", j.Slide, filepath.Base(j.Output))
}

// SlideRecord represents a completed slide, as written to the ledger
type SlideRecord struct {
	Slide       int           `json:"slide"`
	Frame       int           `json:"frame"`
	Scene       int           `json:"scene"`
	Kind        NodeKind      `json:"kind"`
	Lower       int           `json:"lower,omitempty"`
	Upper       int           `json:"upper,omitempty"`
	Backend     string        `json:"backend,omitempty"`
	Duration    time.Duration `json:"duration"`
	Skipped     bool          `json:"skipped,omitempty"`
	Profile     []float32     `json:"motion_profile,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
}

// SimilarSlide is a ledger search hit
type SimilarSlide struct {
	Slide      int
	Frame      int
	Kind       NodeKind
	Similarity float64
}
