// Package measure turns a label map into per-particle major-axis
// measurements. Particles touching the image border are excluded: they
// are truncated by the field of view and their size cannot be trusted.
package measure

import (
	"errors"
	"math"

	"github.com/MagentaPolarBear/MikeroVision/internal/models"
	"github.com/MagentaPolarBear/MikeroVision/pkg/config"
)

// ErrNoBoundary marks a degenerate region whose boundary could not be
// extracted. The particle is skipped and reported; the batch continues.
var ErrNoBoundary = errors.New("no boundary extracted")

// Particles measures every labeled region that does not touch the image
// border. For each surviving particle it extracts the boundary polygon at
// the 0.5 iso-level, picks the longest loop when the boundary decomposes
// into several, and computes the maximum pairwise distance between
// boundary points: the major axis. Lengths are scaled by the profile's
// ScalingFactor.
//
// Measurements are returned in ascending label order. The second return
// value lists the labels skipped because boundary extraction yielded
// nothing (ErrNoBoundary cases); callers are expected to report them so
// no particle disappears silently.
func Particles(labels *models.LabelMap, profile config.CalibrationProfile) ([]models.Measurement, []int) {
	var measurements []models.Measurement
	var skipped []int

	border := borderLabels(labels)

	for _, label := range labels.Labels() {
		if border[label] {
			continue
		}

		loops := Contours(labels, label)
		if len(loops) == 0 {
			skipped = append(skipped, label)
			continue
		}

		// A particle with holes or pinch points yields several loops; the
		// longest one is the outer boundary.
		outer := loops[0]
		best := perimeter(outer)
		for _, loop := range loops[1:] {
			if p := perimeter(loop); p > best {
				best = p
				outer = loop
			}
		}

		lengthPx, a, b := majorAxis(outer)
		measurements = append(measurements, models.Measurement{
			ParticleID:   label,
			LengthPx:     lengthPx,
			LengthScaled: lengthPx * profile.ScalingFactor,
			EndpointA:    a,
			EndpointB:    b,
		})
	}

	return measurements, skipped
}

// borderLabels collects the labels with at least one pixel on row 0, the
// last row, column 0 or the last column.
func borderLabels(labels *models.LabelMap) map[int]bool {
	touching := make(map[int]bool)
	w, h := labels.Width, labels.Height
	for x := 0; x < w; x++ {
		if l := labels.At(x, 0); l > 0 {
			touching[l] = true
		}
		if l := labels.At(x, h-1); l > 0 {
			touching[l] = true
		}
	}
	for y := 0; y < h; y++ {
		if l := labels.At(0, y); l > 0 {
			touching[l] = true
		}
		if l := labels.At(w-1, y); l > 0 {
			touching[l] = true
		}
	}
	return touching
}

// majorAxis exhaustively scans all point pairs of the boundary polygon
// and returns the maximum Euclidean distance with its achieving pair.
// O(k^2) over k boundary points, which stays cheap because boundaries are
// small relative to the image area.
func majorAxis(loop []models.Point) (float64, models.Point, models.Point) {
	bestSq := 0.0
	a, b := loop[0], loop[0]
	for i := 0; i < len(loop); i++ {
		for j := i + 1; j < len(loop); j++ {
			dx := loop[j].X - loop[i].X
			dy := loop[j].Y - loop[i].Y
			if d := dx*dx + dy*dy; d > bestSq {
				bestSq = d
				a, b = loop[i], loop[j]
			}
		}
	}
	return math.Sqrt(bestSq), a, b
}
