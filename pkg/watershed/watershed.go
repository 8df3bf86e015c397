// Package watershed partitions a binary mask among marker seeds with a
// priority-flood. The negated distance field is treated as a topographic
// surface whose valleys sit at particle centers; regions grow outward
// from their markers in order of ascending surface value until the whole
// mask is claimed. Pixels contested between two regions become watershed
// boundary pixels and keep label zero, which produces the thin dividing
// lines between touching particles.
package watershed

import (
	"container/heap"

	"github.com/MagentaPolarBear/MikeroVision/internal/models"
)

// boundary marks a contested pixel while flooding. It is folded back to
// zero in the returned map.
const boundary = -1

// item is one pending flood step.
type item struct {
	// elevation is the surface value (negated distance) of the pixel
	// being entered.
	elevation float64

	// seq is the insertion sequence number, the stable tie-break for
	// equal elevations. It makes repeated runs on identical input produce
	// identical label maps.
	seq int

	x, y  int
	label int
}

// floodQueue is a min-heap over (elevation, seq).
type floodQueue []item

func (q floodQueue) Len() int { return len(q) }

func (q floodQueue) Less(i, j int) bool {
	if q[i].elevation != q[j].elevation {
		return q[i].elevation < q[j].elevation
	}
	return q[i].seq < q[j].seq
}

func (q floodQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *floodQueue) Push(x interface{}) { *q = append(*q, x.(item)) }

func (q *floodQueue) Pop() interface{} {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// Segment grows labeled regions outward from the markers over the negated
// smoothed distance field, visiting only pixels inside the mask. Every
// pixel is assigned at most once: the first region to reach it wins, and
// a pixel reached while an adjacent pixel already belongs to a different
// region is left as boundary (label zero). Growth is 4-connected.
//
// Empty markers or an empty mask simply yield an all-zero map.
func Segment(field *models.Grid, mask *models.BinaryMask, markers models.MarkerSet) *models.LabelMap {
	w, h := mask.Width, mask.Height
	labels := models.NewLabelMap(w, h)

	q := &floodQueue{}
	seq := 0

	push := func(x, y, label int) {
		heap.Push(q, item{
			elevation: -field.At(x, y),
			seq:       seq,
			x:         x,
			y:         y,
			label:     label,
		})
		seq++
	}

	// Seed the flood. Markers are trusted to be distinct and inside the
	// mask; anything else is ignored rather than treated as an error.
	for _, m := range markers {
		if m.X < 0 || m.X >= w || m.Y < 0 || m.Y >= h {
			continue
		}
		if !mask.At(m.X, m.Y) || labels.At(m.X, m.Y) != 0 {
			continue
		}
		labels.Set(m.X, m.Y, m.Label)
		forEachNeighbor(m.X, m.Y, w, h, func(nx, ny int) {
			if mask.At(nx, ny) && labels.At(nx, ny) == 0 {
				push(nx, ny, m.Label)
			}
		})
	}

	for q.Len() > 0 {
		it := heap.Pop(q).(item)
		if labels.At(it.x, it.y) != 0 {
			continue
		}

		// A neighbor already claimed by another region means two floods
		// meet here: keep the pixel as a dividing line.
		contested := false
		forEachNeighbor(it.x, it.y, w, h, func(nx, ny int) {
			if l := labels.At(nx, ny); l > 0 && l != it.label {
				contested = true
			}
		})
		if contested {
			labels.Set(it.x, it.y, boundary)
			continue
		}

		labels.Set(it.x, it.y, it.label)
		forEachNeighbor(it.x, it.y, w, h, func(nx, ny int) {
			if mask.At(nx, ny) && labels.At(nx, ny) == 0 {
				push(nx, ny, it.label)
			}
		})
	}

	for i, v := range labels.Data {
		if v == boundary {
			labels.Data[i] = 0
		}
	}

	return labels
}

// forEachNeighbor visits the in-bounds 4-neighbors of (x, y) in a fixed
// order (up, left, right, down).
func forEachNeighbor(x, y, w, h int, visit func(nx, ny int)) {
	if y > 0 {
		visit(x, y-1)
	}
	if x > 0 {
		visit(x-1, y)
	}
	if x < w-1 {
		visit(x+1, y)
	}
	if y < h-1 {
		visit(x, y+1)
	}
}
