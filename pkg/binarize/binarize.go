// Package binarize separates particle material from background. It picks
// a global threshold with Otsu's method and cleans the resulting mask with
// a morphological closing pass.
package binarize

import (
	"errors"

	"github.com/MagentaPolarBear/MikeroVision/internal/models"
)

// ErrDegenerateImage marks a single-valued image for which Otsu's
// threshold is undefined. Callers treat the image as all background and
// continue with zero particles rather than failing.
var ErrDegenerateImage = errors.New("degenerate image: uniform intensity")

// histogramBins is the resolution of the Otsu intensity histogram.
const histogramBins = 256

// Threshold computes the Otsu threshold of the grid: the intensity cut
// maximizing the inter-class variance between pixels at or below the cut
// and pixels above it. The scan over histogram bins is closed-form; no
// iteration beyond it is needed.
func Threshold(g *models.Grid) (float64, error) {
	min, max := minMax(g.Data)
	if max-min < 1e-12 {
		return 0, ErrDegenerateImage
	}

	binWidth := (max - min) / float64(histogramBins)
	hist := make([]float64, histogramBins)
	for _, v := range g.Data {
		b := int((v - min) / binWidth)
		if b >= histogramBins {
			b = histogramBins - 1
		}
		hist[b]++
	}

	total := float64(len(g.Data))
	totalMean := 0.0
	for b, count := range hist {
		totalMean += float64(b) * count
	}
	totalMean /= total

	// Walk the bins accumulating the background class; the foreground
	// class statistics follow from the totals.
	var (
		bestBin      = -1
		bestVariance = -1.0
		weightBg     = 0.0
		sumBg        = 0.0
	)
	for b := 0; b < histogramBins-1; b++ {
		weightBg += hist[b]
		sumBg += float64(b) * hist[b]

		weightFg := total - weightBg
		if weightBg == 0 || weightFg == 0 {
			continue
		}

		meanBg := sumBg / weightBg
		meanFg := (totalMean*total - sumBg) / weightFg
		diff := meanBg - meanFg
		variance := weightBg * weightFg * diff * diff
		if variance > bestVariance {
			bestVariance = variance
			bestBin = b
		}
	}

	if bestBin < 0 {
		return 0, ErrDegenerateImage
	}

	// The cut sits on the upper edge of the winning bin, so every value
	// binned at or below it fails the (value > t) test.
	return min + binWidth*float64(bestBin+1), nil
}

// Binarize thresholds the grid with Otsu's method and closes the mask
// with a 3x3 structuring element. On a degenerate single-valued image it
// returns an empty mask together with ErrDegenerateImage; the caller
// decides whether to continue.
func Binarize(g *models.Grid) (*models.BinaryMask, float64, error) {
	t, err := Threshold(g)
	if err != nil {
		return models.NewBinaryMask(g.Width, g.Height), 0, err
	}

	mask := models.NewBinaryMask(g.Width, g.Height)
	for i, v := range g.Data {
		mask.Data[i] = v > t
	}

	return Close(mask), t, nil
}

// Close applies morphological closing (dilation then erosion) with a 3x3
// square structuring element. It bridges thin gaps and smooths jagged
// boundaries without materially changing particle size.
func Close(mask *models.BinaryMask) *models.BinaryMask {
	return erode(dilate(mask))
}

func dilate(mask *models.BinaryMask) *models.BinaryMask {
	out := models.NewBinaryMask(mask.Width, mask.Height)
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if neighborhoodAny(mask, x, y) {
				out.Set(x, y, true)
			}
		}
	}
	return out
}

func erode(mask *models.BinaryMask) *models.BinaryMask {
	out := models.NewBinaryMask(mask.Width, mask.Height)
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if neighborhoodAll(mask, x, y) {
				out.Set(x, y, true)
			}
		}
	}
	return out
}

// neighborhoodAny reports whether any pixel of the 3x3 neighborhood is
// foreground. Out-of-bounds samples are background.
func neighborhoodAny(mask *models.BinaryMask, x, y int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			nx, ny := x+dx, y+dy
			if nx < 0 || nx >= mask.Width || ny < 0 || ny >= mask.Height {
				continue
			}
			if mask.At(nx, ny) {
				return true
			}
		}
	}
	return false
}

// neighborhoodAll reports whether the whole 3x3 neighborhood is
// foreground. Out-of-bounds samples count as foreground so that erosion
// does not eat one pixel off every image border.
func neighborhoodAll(mask *models.BinaryMask, x, y int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			nx, ny := x+dx, y+dy
			if nx < 0 || nx >= mask.Width || ny < 0 || ny >= mask.Height {
				continue
			}
			if !mask.At(nx, ny) {
				return false
			}
		}
	}
	return true
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
