package measure

import (
	"math"

	"github.com/MagentaPolarBear/MikeroVision/internal/models"
)

// halfPoint is a contour vertex in half-pixel units (coordinates doubled
// so they stay integral). Contour vertices always sit on midpoints of
// pixel-center edges, so doubling makes them exact map keys for chaining.
type halfPoint struct {
	x2, y2 int
}

func (p halfPoint) point() models.Point {
	return models.Point{X: float64(p.x2) / 2, Y: float64(p.y2) / 2}
}

// segment is one directed contour piece inside a single cell, oriented so
// the particle interior lies on its left.
type segment struct {
	from, to halfPoint
}

// Contours extracts the closed boundary polygons of one label at the 0.5
// iso-level between the particle and its complement, using marching
// squares over the 2x2 pixel cells of the label's indicator. Multiple
// loops are possible for particles with internal holes or pinch points;
// all of them are returned.
//
// Vertices lie on midpoints between adjacent pixel centers, giving a
// sub-pixel polygon. Cells are scanned one pixel beyond the label's
// bounding box so the outline always closes.
func Contours(labels *models.LabelMap, label int) [][]models.Point {
	minX, minY, maxX, maxY, found := boundingBox(labels, label)
	if !found {
		return nil
	}

	inside := func(x, y int) bool {
		if x < 0 || x >= labels.Width || y < 0 || y >= labels.Height {
			return false
		}
		return labels.At(x, y) == label
	}

	// Chain segments by their start vertex. Each crossing vertex has
	// exactly one outgoing segment under the consistent orientation, so
	// following next() walks complete loops. Starts are kept in scan
	// order to make loop enumeration deterministic.
	next := make(map[halfPoint]halfPoint)
	var starts []halfPoint

	for y := minY - 1; y <= maxY; y++ {
		for x := minX - 1; x <= maxX; x++ {
			mask := 0
			if inside(x, y) {
				mask |= 1
			}
			if inside(x+1, y) {
				mask |= 2
			}
			if inside(x+1, y+1) {
				mask |= 4
			}
			if inside(x, y+1) {
				mask |= 8
			}
			for _, s := range cellSegments(mask, x, y) {
				next[s.from] = s.to
				starts = append(starts, s.from)
			}
		}
	}

	visited := make(map[halfPoint]bool)
	var loops [][]models.Point

	for _, start := range starts {
		if visited[start] {
			continue
		}
		var loop []models.Point
		p := start
		for {
			visited[p] = true
			loop = append(loop, p.point())
			p = next[p]
			if p == start {
				break
			}
		}
		loops = append(loops, loop)
	}

	return loops
}

// cellSegments returns the directed contour segments for one marching
// squares cell whose top-left pixel center is (x, y). The case index sets
// bit 0 for the top-left corner, bit 1 top-right, bit 2 bottom-right and
// bit 3 bottom-left. The two ambiguous saddle cases are resolved as
// disconnected, matching a cell-center value below the iso-level for
// binary data.
func cellSegments(mask, x, y int) []segment {
	top := halfPoint{2*x + 1, 2 * y}
	right := halfPoint{2*x + 2, 2*y + 1}
	bottom := halfPoint{2*x + 1, 2*y + 2}
	left := halfPoint{2 * x, 2*y + 1}

	switch mask {
	case 1:
		return []segment{{left, top}}
	case 2:
		return []segment{{top, right}}
	case 3:
		return []segment{{left, right}}
	case 4:
		return []segment{{right, bottom}}
	case 5:
		return []segment{{left, top}, {right, bottom}}
	case 6:
		return []segment{{top, bottom}}
	case 7:
		return []segment{{left, bottom}}
	case 8:
		return []segment{{bottom, left}}
	case 9:
		return []segment{{bottom, top}}
	case 10:
		return []segment{{top, right}, {bottom, left}}
	case 11:
		return []segment{{bottom, right}}
	case 12:
		return []segment{{right, left}}
	case 13:
		return []segment{{right, top}}
	case 14:
		return []segment{{top, left}}
	}
	return nil
}

// perimeter sums the edge lengths of a closed polygon.
func perimeter(loop []models.Point) float64 {
	total := 0.0
	for i, p := range loop {
		q := loop[(i+1)%len(loop)]
		total += math.Hypot(q.X-p.X, q.Y-p.Y)
	}
	return total
}

// boundingBox returns the inclusive pixel bounds of a label.
func boundingBox(labels *models.LabelMap, label int) (minX, minY, maxX, maxY int, found bool) {
	minX, minY = labels.Width, labels.Height
	maxX, maxY = -1, -1
	for y := 0; y < labels.Height; y++ {
		for x := 0; x < labels.Width; x++ {
			if labels.At(x, y) != label {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	return minX, minY, maxX, maxY, maxX >= 0
}
