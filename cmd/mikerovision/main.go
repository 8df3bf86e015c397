package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MagentaPolarBear/MikeroVision/pkg/config"
	"github.com/MagentaPolarBear/MikeroVision/pkg/pipeline"
	"github.com/MagentaPolarBear/MikeroVision/pkg/stats"
	"github.com/MagentaPolarBear/MikeroVision/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Directory containing grayscale micrographs")
	calibrationPath := flag.String("calibration", "calibration.yaml", "YAML calibration profile table")
	defaultKey := flag.String("key", "", "Calibration key to use when the filename names none")
	overlayDir := flag.String("overlays", "", "Directory for rendered overlays (disabled when empty)")
	saveIntermediate := flag.Bool("save-intermediate", false, "Also save preprocessed/mask/distance snapshots")
	numCores := flag.Int("cores", runtime.NumCPU(), "Number of images to process in parallel")
	borderMargin := flag.Int("margin", 0, "Pixels cropped from every image edge at ingestion")
	initConfig := flag.Bool("init-calibration", false, "Write an example calibration file and exit")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if *initConfig {
		if err := config.SaveTable(config.DefaultTable(), *calibrationPath); err != nil {
			log.Fatalf("Failed to write calibration file: %v", err)
		}
		fmt.Printf("Example calibration table written to %s\n", *calibrationPath)
		return
	}

	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	table, err := config.LoadTable(*calibrationPath)
	if err != nil {
		log.Fatalf("Failed to load calibration table: %v", err)
	}

	var sink pipeline.Sink
	if *overlayDir != "" {
		sink = visualization.NewRenderer(*overlayDir, *saveIntermediate)
	}

	params := &pipeline.Params{
		InputDir:     *inputDir,
		DefaultKey:   *defaultKey,
		NumCores:     *numCores,
		BorderMargin: *borderMargin,
	}

	agg := stats.NewAggregator()
	p, err := pipeline.New(params, table, agg, sink, log)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("MIKEROVISION PARTICLE SIZE ANALYSIS")
	fmt.Println("================================")

	startTime := time.Now()
	report, err := p.Process()
	if err != nil {
		log.Fatalf("Batch failed: %v", err)
	}
	elapsed := time.Since(startTime)

	fmt.Printf("\nBatch completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Images: %d total, %d processed, %d skipped\n",
		report.Total, report.Processed, report.Skipped)

	printSummary(agg)
}

// printSummary renders the batch statistics sink: count, mean with its
// 95% confidence interval, and the size distribution.
func printSummary(agg *stats.Aggregator) {
	fmt.Printf("\nMeasurement Summary:\n")
	fmt.Printf("====================\n")
	fmt.Printf("Particles measured: %d\n", agg.Count())

	if agg.Count() == 0 {
		return
	}

	low, high := agg.ConfidenceInterval95()
	fmt.Printf("Mean major axis: %.4f (std err %.4f)\n", agg.Mean(), agg.StdErr())
	fmt.Printf("95%% confidence interval: [%.4f, %.4f]\n", low, high)

	fmt.Printf("\nPercentiles:\n")
	for _, p := range []float64{10, 25, 50, 75, 90} {
		fmt.Printf("  p%-3.0f %.4f\n", p, agg.Percentile(p))
	}

	printHistogram(agg)
}

// printHistogram draws a coarse text histogram of the scaled lengths.
func printHistogram(agg *stats.Aggregator) {
	const bins = 10
	const barWidth = 40

	ms := agg.Measurements()
	min, max := ms[0].LengthScaled, ms[0].LengthScaled
	for _, m := range ms {
		if m.LengthScaled < min {
			min = m.LengthScaled
		}
		if m.LengthScaled > max {
			max = m.LengthScaled
		}
	}
	if max <= min {
		return
	}

	counts := make([]int, bins)
	for _, m := range ms {
		b := int((m.LengthScaled - min) / (max - min) * bins)
		if b >= bins {
			b = bins - 1
		}
		counts[b]++
	}
	peak := 0
	for _, c := range counts {
		if c > peak {
			peak = c
		}
	}

	fmt.Printf("\nDistribution:\n")
	width := (max - min) / bins
	for b, c := range counts {
		bar := strings.Repeat("#", c*barWidth/peak)
		fmt.Printf("  %8.3f - %8.3f |%-*s %d\n", min+float64(b)*width, min+float64(b+1)*width, barWidth, bar, c)
	}
}
