// Package markers builds watershed seeds from a binary mask. It computes
// the exact Euclidean distance field of the mask, and extracts one local
// maximum per presumed particle subject to a minimum-separation window,
// so that touching particles still receive separate seeds.
package markers

import (
	"math"
	"sort"

	"github.com/MagentaPolarBear/MikeroVision/internal/models"
)

// DistanceTransform computes the Euclidean distance from every foreground
// pixel to its nearest background pixel, using the Felzenszwalb and
// Huttenlocher separable parabola method. Background pixels get distance
// zero. The field is computed exactly once per image.
//
// A mask with no background at all is degenerate; its foreground distance
// is capped at the image diagonal.
func DistanceTransform(mask *models.BinaryMask) *models.Grid {
	w, h := mask.Width, mask.Height
	out := models.NewGrid(w, h)
	if w == 0 || h == 0 {
		return out
	}

	const inf = 1e20

	// Seed squared distances: zero at background, infinity at foreground.
	for i, fg := range mask.Data {
		if fg {
			out.Data[i] = inf
		}
	}

	// Scratch buffers sized for the longer axis.
	n := w
	if h > n {
		n = h
	}
	f := make([]float64, n)
	d := make([]float64, n)
	v := make([]int, n)
	z := make([]float64, n+1)

	// Columns first, then rows, each a 1-D squared distance transform.
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			f[y] = out.Data[y*w+x]
		}
		distance1D(f[:h], d[:h], v[:h], z[:h+1])
		for y := 0; y < h; y++ {
			out.Data[y*w+x] = d[y]
		}
	}
	for y := 0; y < h; y++ {
		copy(f[:w], out.Data[y*w:(y+1)*w])
		distance1D(f[:w], d[:w], v[:w], z[:w+1])
		copy(out.Data[y*w:(y+1)*w], d[:w])
	}

	cap := float64(w*w + h*h)
	for i, sq := range out.Data {
		if sq > cap {
			sq = cap
		}
		out.Data[i] = math.Sqrt(sq)
	}

	return out
}

// distance1D computes the 1-D squared Euclidean distance transform of the
// sampled function f by maintaining the lower envelope of the parabolas
// rooted at each sample.
func distance1D(f, d []float64, v []int, z []float64) {
	n := len(f)
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)

	intersect := func(p, q int) float64 {
		return ((f[q] + float64(q*q)) - (f[p] + float64(p*p))) / (2 * float64(q-p))
	}

	for q := 1; q < n; q++ {
		s := intersect(v[k], q)
		for s <= z[k] {
			k--
			s = intersect(v[k], q)
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}

	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + f[v[k]]
	}
}

// Generate extracts watershed seeds from the smoothed distance field.
// A pixel becomes a candidate when it lies inside the mask, carries a
// positive field value, and equals the maximum of the minSep window
// centered on it. Candidates are then accepted greedily in descending
// field order (row-major order breaks ties) and an accepted candidate
// suppresses every later candidate inside its window, so no two markers
// lie within the separation window of each other. Labels follow
// acceptance order starting at 1.
//
// An empty mask yields an empty set, not an error.
func Generate(field *models.Grid, mask *models.BinaryMask, minSep [2]int) models.MarkerSet {
	halfX := minSep[0] / 2
	halfY := minSep[1] / 2

	type candidate struct {
		x, y int
		v    float64
	}
	var candidates []candidate

	for y := 0; y < field.Height; y++ {
		for x := 0; x < field.Width; x++ {
			if !mask.At(x, y) {
				continue
			}
			v := field.At(x, y)
			if v <= 0 {
				continue
			}
			if isWindowMax(field, x, y, halfX, halfY, v) {
				candidates = append(candidates, candidate{x: x, y: y, v: v})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].v != candidates[j].v {
			return candidates[i].v > candidates[j].v
		}
		if candidates[i].y != candidates[j].y {
			return candidates[i].y < candidates[j].y
		}
		return candidates[i].x < candidates[j].x
	})

	var set models.MarkerSet
	for _, c := range candidates {
		suppressed := false
		for _, m := range set {
			if abs(c.x-m.X) <= halfX && abs(c.y-m.Y) <= halfY {
				suppressed = true
				break
			}
		}
		if !suppressed {
			set = append(set, models.Marker{X: c.x, Y: c.y, Label: len(set) + 1})
		}
	}

	return set
}

// isWindowMax reports whether v is the maximum field value within the
// window of half-extents (halfX, halfY) around (x, y).
func isWindowMax(field *models.Grid, x, y, halfX, halfY int, v float64) bool {
	for dy := -halfY; dy <= halfY; dy++ {
		ny := y + dy
		if ny < 0 || ny >= field.Height {
			continue
		}
		for dx := -halfX; dx <= halfX; dx++ {
			nx := x + dx
			if nx < 0 || nx >= field.Width {
				continue
			}
			if field.At(nx, ny) > v {
				return false
			}
		}
	}
	return true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
