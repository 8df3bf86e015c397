// Package stats accumulates particle measurements across a batch and
// answers summary queries on the resulting distribution.
package stats

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/MagentaPolarBear/MikeroVision/internal/models"
)

// Aggregator collects measurements from concurrently processed images.
// Append is the only mutation and is safe for concurrent use; the query
// methods are meant to be called after the batch completes but are also
// safe at any time.
type Aggregator struct {
	mu           sync.Mutex
	measurements []models.Measurement
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Append adds one image's measurements to the batch.
func (a *Aggregator) Append(ms []models.Measurement) {
	a.mu.Lock()
	a.measurements = append(a.measurements, ms...)
	a.mu.Unlock()
}

// Count returns the number of measurements collected so far.
func (a *Aggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.measurements)
}

// Measurements returns a copy of the collected measurements.
func (a *Aggregator) Measurements() []models.Measurement {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Measurement, len(a.measurements))
	copy(out, a.measurements)
	return out
}

// lengths returns the scaled lengths sorted ascending.
func (a *Aggregator) lengths() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(a.measurements))
	for i, m := range a.measurements {
		out[i] = m.LengthScaled
	}
	sort.Float64s(out)
	return out
}

// Mean returns the mean scaled length, or zero for an empty batch.
func (a *Aggregator) Mean() float64 {
	ls := a.lengths()
	if len(ls) == 0 {
		return 0
	}
	return stat.Mean(ls, nil)
}

// StdErr returns the standard error of the mean.
func (a *Aggregator) StdErr() float64 {
	ls := a.lengths()
	if len(ls) < 2 {
		return 0
	}
	return stat.StdDev(ls, nil) / math.Sqrt(float64(len(ls)))
}

// ConfidenceInterval95 returns the bounds of the 95% confidence interval
// of the mean: mean +/- 1.96 standard errors.
func (a *Aggregator) ConfidenceInterval95() (low, high float64) {
	mean := a.Mean()
	margin := 1.96 * a.StdErr()
	return mean - margin, mean + margin
}

// Percentile returns the p-th percentile (p in [0, 100]) of the scaled
// lengths under the empirical distribution, or zero for an empty batch.
func (a *Aggregator) Percentile(p float64) float64 {
	ls := a.lengths()
	if len(ls) == 0 {
		return 0
	}
	return stat.Quantile(p/100, stat.Empirical, ls, nil)
}
