package models

import "fmt"

// Grid is a single-channel intensity field stored as a flat row-major
// float64 array. It is the working representation for every stage of the
// pipeline: intensities after loading, preprocessed intensities, and the
// Euclidean distance field all use the same layout.
type Grid struct {
	// Data holds Width*Height values in row-major order.
	Data []float64

	// Width and Height are the grid dimensions in pixels.
	Width  int
	Height int
}

// NewGrid allocates a zero-filled grid with the given dimensions.
func NewGrid(width, height int) *Grid {
	return &Grid{
		Data:   make([]float64, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns the value at pixel (x, y).
func (g *Grid) At(x, y int) float64 {
	return g.Data[y*g.Width+x]
}

// Set writes the value at pixel (x, y).
func (g *Grid) Set(x, y int, v float64) {
	g.Data[y*g.Width+x] = v
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	out := NewGrid(g.Width, g.Height)
	copy(out.Data, g.Data)
	return out
}

// BinaryMask is a foreground/background split with the same shape as the
// grid it was derived from. True marks particle material.
type BinaryMask struct {
	Data   []bool
	Width  int
	Height int
}

// NewBinaryMask allocates an all-background mask.
func NewBinaryMask(width, height int) *BinaryMask {
	return &BinaryMask{
		Data:   make([]bool, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns whether pixel (x, y) is foreground.
func (m *BinaryMask) At(x, y int) bool {
	return m.Data[y*m.Width+x]
}

// Set marks pixel (x, y) as foreground or background.
func (m *BinaryMask) Set(x, y int, v bool) {
	m.Data[y*m.Width+x] = v
}

// Count returns the number of foreground pixels.
func (m *BinaryMask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// LabelMap assigns a particle identity to every pixel. Zero means
// background or watershed boundary; positive integers identify particles.
// Pixels are never relabeled once assigned.
type LabelMap struct {
	Data   []int
	Width  int
	Height int
}

// NewLabelMap allocates an all-zero label map.
func NewLabelMap(width, height int) *LabelMap {
	return &LabelMap{
		Data:   make([]int, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns the label at pixel (x, y).
func (l *LabelMap) At(x, y int) int {
	return l.Data[y*l.Width+x]
}

// Set writes the label at pixel (x, y).
func (l *LabelMap) Set(x, y int, v int) {
	l.Data[y*l.Width+x] = v
}

// Labels returns the sorted list of distinct positive labels present in
// the map.
func (l *LabelMap) Labels() []int {
	seen := make(map[int]bool)
	var out []int
	for _, v := range l.Data {
		if v > 0 && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	// Insertion order above follows the raster scan, which is not sorted
	// when regions interleave, so sort explicitly.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Marker is a watershed seed: a pixel coordinate with its unique positive
// label.
type Marker struct {
	X     int
	Y     int
	Label int
}

// MarkerSet is an ordered sequence of markers. Labels are assigned in
// acceptance order starting at 1. An empty set is legal and yields an
// all-zero label map downstream.
type MarkerSet []Marker

// Point is a sub-pixel location in grid coordinates.
type Point struct {
	X float64
	Y float64
}

// Measurement is the major-axis length of one interior particle.
type Measurement struct {
	// ParticleID is the particle's label in the LabelMap it came from.
	ParticleID int

	// LengthPx is the maximum pairwise distance between boundary points,
	// in pixels.
	LengthPx float64

	// LengthScaled is LengthPx multiplied by the calibration scaling
	// factor, in physical units.
	LengthScaled float64

	// EndpointA and EndpointB are the boundary points achieving LengthPx.
	EndpointA Point
	EndpointB Point
}

// Result bundles the artifacts of one image's run through the pipeline.
// The core only exposes these; rendering them is the visualization
// sink's concern.
type Result struct {
	// Name identifies the source image (base filename).
	Name string

	// Key is the calibration key the image was processed under.
	Key string

	// Preprocessed is the denoised, contrast-normalized intensity grid.
	Preprocessed *Grid

	// Mask is the foreground split after thresholding and closing.
	Mask *BinaryMask

	// Distance is the smoothed Euclidean distance field.
	Distance *Grid

	// Markers are the watershed seeds.
	Markers MarkerSet

	// Labels is the final particle partition.
	Labels *LabelMap

	// Measurements holds one entry per interior particle, in ascending
	// label order.
	Measurements []Measurement
}

// String summarizes a measurement for logs and reports.
func (m Measurement) String() string {
	return fmt.Sprintf("particle %d: %.2f px (%.4f scaled)", m.ParticleID, m.LengthPx, m.LengthScaled)
}
