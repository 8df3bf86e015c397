// Package preprocess normalizes illumination and suppresses noise in a
// micrograph before thresholding. It applies adaptive local contrast
// equalization followed by isotropic Gaussian smoothing, operating on
// float64 grids so later stages keep full precision.
package preprocess

import (
	"errors"
	"fmt"
	"math"

	"github.com/MagentaPolarBear/MikeroVision/internal/models"
	"github.com/MagentaPolarBear/MikeroVision/pkg/config"
)

// ErrInvalidImage marks a malformed input: an empty grid or one containing
// a non-finite value. The image it belongs to is skipped; the batch
// continues.
var ErrInvalidImage = errors.New("invalid image")

const (
	// equalizeBins is the histogram resolution for local equalization.
	equalizeBins = 256

	// equalizeTiles is the number of tiles along each axis.
	equalizeTiles = 8

	// equalizeClipLimit bounds each histogram bin to this multiple of the
	// mean bin height before the CDF is built. Without the clip, uniform
	// tiles map their single intensity to full white.
	equalizeClipLimit = 3.0
)

// Enhance produces a denoised, contrast-normalized copy of the input grid.
// The transform is pure: the input is never modified.
//
// Steps:
//  1. Adaptive local contrast equalization, which partitions the image
//     into tiles, equalizes each tile's clipped histogram, and blends the
//     per-tile mappings bilinearly across tile boundaries.
//  2. Isotropic Gaussian smoothing with the profile's SmoothingSigma.
func Enhance(g *models.Grid, profile config.CalibrationProfile) (*models.Grid, error) {
	if err := validate(g); err != nil {
		return nil, err
	}

	equalized := EqualizeLocalContrast(g)
	return GaussianSmooth(equalized, profile.SmoothingSigma), nil
}

// validate rejects empty grids and non-finite values.
func validate(g *models.Grid) error {
	if g == nil || g.Width <= 0 || g.Height <= 0 || len(g.Data) != g.Width*g.Height {
		return fmt.Errorf("%w: empty or misshapen grid", ErrInvalidImage)
	}
	for i, v := range g.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value at index %d", ErrInvalidImage, i)
		}
	}
	return nil
}

// EqualizeLocalContrast applies clip-limited adaptive histogram
// equalization. Histogram bins span the global intensity range so that
// tiles of uniform background and uniform particle material keep their
// relative ordering after remapping.
func EqualizeLocalContrast(g *models.Grid) *models.Grid {
	min, max := minMax(g.Data)
	if max-min < 1e-12 {
		// Single-valued image: equalization is undefined, pass through.
		return g.Clone()
	}

	tilesX := equalizeTiles
	if tilesX > g.Width {
		tilesX = g.Width
	}
	tilesY := equalizeTiles
	if tilesY > g.Height {
		tilesY = g.Height
	}
	tileW := (g.Width + tilesX - 1) / tilesX
	tileH := (g.Height + tilesY - 1) / tilesY

	binOf := func(v float64) int {
		b := int((v - min) / (max - min) * float64(equalizeBins))
		if b >= equalizeBins {
			b = equalizeBins - 1
		}
		if b < 0 {
			b = 0
		}
		return b
	}

	// One clipped-CDF mapping per tile, from bin index to output value in
	// the original intensity range.
	mappings := make([][]float64, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*tileW, ty*tileH
			x1, y1 := x0+tileW, y0+tileH
			if x1 > g.Width {
				x1 = g.Width
			}
			if y1 > g.Height {
				y1 = g.Height
			}

			hist := make([]float64, equalizeBins)
			n := 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					hist[binOf(g.At(x, y))]++
					n++
				}
			}

			clipHistogram(hist, equalizeClipLimit*float64(n)/float64(equalizeBins))

			mapping := make([]float64, equalizeBins)
			cum := 0.0
			for b := 0; b < equalizeBins; b++ {
				cum += hist[b]
				mapping[b] = min + cum/float64(n)*(max-min)
			}
			mappings[ty*tilesX+tx] = mapping
		}
	}

	// Blend the four nearest tile mappings bilinearly for each pixel.
	out := models.NewGrid(g.Width, g.Height)
	for y := 0; y < g.Height; y++ {
		ty0, ty1, fy := tileBlend(y, tileH, tilesY)
		for x := 0; x < g.Width; x++ {
			tx0, tx1, fx := tileBlend(x, tileW, tilesX)
			b := binOf(g.At(x, y))

			v00 := mappings[ty0*tilesX+tx0][b]
			v10 := mappings[ty0*tilesX+tx1][b]
			v01 := mappings[ty1*tilesX+tx0][b]
			v11 := mappings[ty1*tilesX+tx1][b]

			top := v00*(1-fx) + v10*fx
			bottom := v01*(1-fx) + v11*fx
			out.Set(x, y, top*(1-fy)+bottom*fy)
		}
	}

	return out
}

// clipHistogram caps each bin at limit and redistributes the excess
// uniformly across all bins.
func clipHistogram(hist []float64, limit float64) {
	excess := 0.0
	for b, v := range hist {
		if v > limit {
			excess += v - limit
			hist[b] = limit
		}
	}
	share := excess / float64(len(hist))
	for b := range hist {
		hist[b] += share
	}
}

// tileBlend returns the two tile indices bracketing the given coordinate
// and the interpolation fraction between their centers.
func tileBlend(coord, tileSize, tiles int) (lo, hi int, frac float64) {
	pos := (float64(coord) - float64(tileSize)/2 + 0.5) / float64(tileSize)
	lo = int(math.Floor(pos))
	frac = pos - float64(lo)
	hi = lo + 1
	if lo < 0 {
		lo, hi, frac = 0, 0, 0
	}
	if hi >= tiles {
		hi = tiles - 1
		if lo >= tiles {
			lo, frac = tiles-1, 0
		}
	}
	return lo, hi, frac
}

// GaussianSmooth convolves the grid with a separable Gaussian kernel of
// the given sigma, replicating edge values. A non-positive sigma returns
// an unmodified copy.
func GaussianSmooth(g *models.Grid, sigma float64) *models.Grid {
	if sigma <= 0 {
		return g.Clone()
	}

	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	clamp := func(v, max int) int {
		if v < 0 {
			return 0
		}
		if v >= max {
			return max - 1
		}
		return v
	}

	// Horizontal pass.
	tmp := models.NewGrid(g.Width, g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			acc := 0.0
			for i := -radius; i <= radius; i++ {
				acc += kernel[i+radius] * g.At(clamp(x+i, g.Width), y)
			}
			tmp.Set(x, y, acc)
		}
	}

	// Vertical pass.
	out := models.NewGrid(g.Width, g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			acc := 0.0
			for i := -radius; i <= radius; i++ {
				acc += kernel[i+radius] * tmp.At(x, clamp(y+i, g.Height))
			}
			out.Set(x, y, acc)
		}
	}

	return out
}

func minMax(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}
	min, max := data[0], data[0]
	for _, v := range data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
