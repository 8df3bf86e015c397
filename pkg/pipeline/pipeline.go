// Package pipeline orchestrates the segmentation-and-measurement chain
// for a batch of micrographs: preprocessing, binarization, marker
// extraction, watershed separation and per-particle measurement. Each
// image runs through the chain independently; only the measurement
// aggregation is shared between images.
package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/MagentaPolarBear/MikeroVision/internal/models"
	"github.com/MagentaPolarBear/MikeroVision/pkg/binarize"
	"github.com/MagentaPolarBear/MikeroVision/pkg/config"
	"github.com/MagentaPolarBear/MikeroVision/pkg/markers"
	"github.com/MagentaPolarBear/MikeroVision/pkg/measure"
	"github.com/MagentaPolarBear/MikeroVision/pkg/preprocess"
	"github.com/MagentaPolarBear/MikeroVision/pkg/stats"
	"github.com/MagentaPolarBear/MikeroVision/pkg/watershed"
)

// Params holds the batch configuration.
type Params struct {
	// InputDir is the directory containing the micrographs.
	InputDir string

	// DefaultKey is the calibration key used when a filename does not
	// name one.
	DefaultKey string

	// NumCores bounds how many images are processed concurrently.
	NumCores int

	// BorderMargin is the fixed number of pixels cropped from every edge
	// at ingestion.
	BorderMargin int
}

// Sink receives each image's artifacts after processing. Rendering
// overlays and histograms happens entirely behind this interface; the
// pipeline itself stays headless.
type Sink interface {
	Consume(res *models.Result) error
}

// Report summarizes a completed batch.
type Report struct {
	// Total is the number of image files found.
	Total int

	// Processed is how many ran through the full chain.
	Processed int

	// Skipped is how many were abandoned (load failure, unknown
	// calibration, invalid image). Every skip is logged with its reason.
	Skipped int
}

// Pipeline runs the per-image chain and accumulates measurements.
type Pipeline struct {
	params *Params
	table  *config.Table
	agg    *stats.Aggregator
	sink   Sink
	log    *logrus.Logger
}

// New creates a pipeline. The calibration table is the batch's only hard
// precondition: without it no image can be processed at all.
func New(params *Params, table *config.Table, agg *stats.Aggregator, sink Sink, log *logrus.Logger) (*Pipeline, error) {
	if table == nil || len(table.Profiles) == 0 {
		return nil, fmt.Errorf("calibration table is empty")
	}
	if params.NumCores < 1 {
		params.NumCores = 1
	}
	if log == nil {
		log = logrus.New()
	}
	return &Pipeline{
		params: params,
		table:  table,
		agg:    agg,
		sink:   sink,
		log:    log,
	}, nil
}

// Aggregator exposes the batch statistics collected so far.
func (p *Pipeline) Aggregator() *stats.Aggregator {
	return p.agg
}

// Process runs the whole batch. Images are distributed over NumCores
// workers; every per-image failure is contained to that image and logged.
// The batch itself fails only when no images are found or every single
// image fails.
func (p *Pipeline) Process() (*Report, error) {
	files, err := ListImages(p.params.InputDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files found in %s", p.params.InputDir)
	}

	report := &Report{Total: len(files)}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	paths := make(chan string)

	workers := p.params.NumCores
	if workers > len(files) {
		workers = len(files)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				res, err := p.processFile(path)
				if err != nil {
					p.log.WithFields(logrus.Fields{
						"image":  filepath.Base(path),
						"reason": err,
					}).Warn("skipping image")
					mu.Lock()
					report.Skipped++
					mu.Unlock()
					continue
				}

				p.agg.Append(res.Measurements)
				mu.Lock()
				report.Processed++
				mu.Unlock()

				p.log.WithFields(logrus.Fields{
					"image":     res.Name,
					"key":       res.Key,
					"particles": len(res.Measurements),
				}).Info("image processed")

				if p.sink != nil {
					if err := p.sink.Consume(res); err != nil {
						p.log.WithFields(logrus.Fields{
							"image":  res.Name,
							"reason": err,
						}).Error("visualization sink failed")
					}
				}
			}
		}()
	}

	for _, path := range files {
		paths <- path
	}
	close(paths)
	wg.Wait()

	if report.Processed == 0 {
		return report, fmt.Errorf("all %d images failed", report.Total)
	}
	return report, nil
}

// processFile resolves calibration, loads the image and runs the chain.
func (p *Pipeline) processFile(path string) (*models.Result, error) {
	name := filepath.Base(path)

	key, err := ResolveKey(name, p.table, p.params.DefaultKey)
	if err != nil {
		return nil, err
	}
	profile, _ := p.table.Get(key)

	grid, err := LoadGrid(path, p.params.BorderMargin)
	if err != nil {
		return nil, err
	}

	return p.Run(name, key, grid, profile)
}

// Run executes the full per-image chain on an in-memory grid. It is
// deterministic: the same grid and profile always produce bit-identical
// label maps and measurements.
func (p *Pipeline) Run(name, key string, grid *models.Grid, profile config.CalibrationProfile) (*models.Result, error) {
	pre, err := preprocess.Enhance(grid, profile)
	if err != nil {
		return nil, err
	}

	mask, threshold, err := binarize.Binarize(pre)
	if err != nil {
		if !errors.Is(err, binarize.ErrDegenerateImage) {
			return nil, err
		}
		// Uniform intensity: no threshold exists. Proceed with the empty
		// mask and report zero particles instead of failing the image.
		p.log.WithFields(logrus.Fields{
			"image": name,
			"key":   key,
		}).Warn("uniform intensity image, no particles")
	} else {
		p.log.WithFields(logrus.Fields{
			"image":     name,
			"threshold": threshold,
		}).Debug("binarized")
	}

	dist := markers.DistanceTransform(mask)
	field := preprocess.GaussianSmooth(dist, profile.SmoothingSigma)
	seeds := markers.Generate(field, mask, profile.MarkerMinSeparation)
	labelMap := watershed.Segment(field, mask, seeds)

	measurements, skipped := measure.Particles(labelMap, profile)
	for _, id := range skipped {
		p.log.WithFields(logrus.Fields{
			"image":    name,
			"particle": id,
			"reason":   measure.ErrNoBoundary,
		}).Warn("skipping particle")
	}

	return &models.Result{
		Name:         name,
		Key:          key,
		Preprocessed: pre,
		Mask:         mask,
		Distance:     field,
		Markers:      seeds,
		Labels:       labelMap,
		Measurements: measurements,
	}, nil
}
