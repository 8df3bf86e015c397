package stats

import (
	"math"
	"sync"
	"testing"

	"github.com/MagentaPolarBear/MikeroVision/internal/models"
)

func lengthsToMeasurements(lengths ...float64) []models.Measurement {
	ms := make([]models.Measurement, len(lengths))
	for i, l := range lengths {
		ms[i] = models.Measurement{ParticleID: i + 1, LengthPx: l, LengthScaled: l}
	}
	return ms
}

// TestAggregatorKnownValues checks mean, standard error and the 95%
// confidence interval against hand-computed numbers for 1..5.
func TestAggregatorKnownValues(t *testing.T) {
	agg := NewAggregator()
	agg.Append(lengthsToMeasurements(1, 2, 3, 4, 5))

	if agg.Count() != 5 {
		t.Fatalf("Expected 5 measurements, got %d", agg.Count())
	}
	if m := agg.Mean(); math.Abs(m-3.0) > 1e-9 {
		t.Errorf("Expected mean 3.0, got %f", m)
	}

	wantStdErr := math.Sqrt(2.5) / math.Sqrt(5)
	if se := agg.StdErr(); math.Abs(se-wantStdErr) > 1e-9 {
		t.Errorf("Expected stderr %f, got %f", wantStdErr, se)
	}

	low, high := agg.ConfidenceInterval95()
	if math.Abs(low-(3.0-1.96*wantStdErr)) > 1e-9 || math.Abs(high-(3.0+1.96*wantStdErr)) > 1e-9 {
		t.Errorf("Unexpected confidence interval [%f, %f]", low, high)
	}
}

// TestAggregatorPercentiles checks the empirical quantiles of 1..5.
func TestAggregatorPercentiles(t *testing.T) {
	agg := NewAggregator()
	agg.Append(lengthsToMeasurements(5, 1, 4, 2, 3)) // deliberately unsorted

	cases := []struct {
		p    float64
		want float64
	}{
		{10, 1},
		{50, 3},
		{90, 5},
	}
	for _, tc := range cases {
		if got := agg.Percentile(tc.p); got != tc.want {
			t.Errorf("Percentile(%v): expected %v, got %v", tc.p, tc.want, got)
		}
	}
}

// TestAggregatorEmpty verifies the zero-sample corner cases.
func TestAggregatorEmpty(t *testing.T) {
	agg := NewAggregator()
	if agg.Count() != 0 {
		t.Errorf("Expected empty aggregator")
	}
	if se := agg.StdErr(); se != 0 {
		t.Errorf("Expected zero stderr for no samples, got %f", se)
	}
}

// TestAggregatorSingleSample verifies that one measurement produces a
// degenerate interval instead of NaN.
func TestAggregatorSingleSample(t *testing.T) {
	agg := NewAggregator()
	agg.Append(lengthsToMeasurements(2.5))

	if se := agg.StdErr(); se != 0 {
		t.Errorf("Expected zero stderr for single sample, got %f", se)
	}
	low, high := agg.ConfidenceInterval95()
	if low != 2.5 || high != 2.5 {
		t.Errorf("Expected degenerate interval at 2.5, got [%f, %f]", low, high)
	}
}

// TestAggregatorMeasurementsCopy verifies that callers cannot mutate
// the aggregator through the returned slice.
func TestAggregatorMeasurementsCopy(t *testing.T) {
	agg := NewAggregator()
	agg.Append(lengthsToMeasurements(1, 2))

	ms := agg.Measurements()
	ms[0].LengthScaled = 99

	if agg.Measurements()[0].LengthScaled != 1 {
		t.Errorf("Returned slice aliases internal storage")
	}
}

// TestAggregatorConcurrentAppend verifies thread safety under
// concurrent writers.
func TestAggregatorConcurrentAppend(t *testing.T) {
	agg := NewAggregator()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				agg.Append(lengthsToMeasurements(1.0))
			}
		}()
	}
	wg.Wait()

	if agg.Count() != 400 {
		t.Errorf("Expected 400 measurements, got %d", agg.Count())
	}
	if m := agg.Mean(); m != 1.0 {
		t.Errorf("Expected mean 1.0, got %f", m)
	}
}
