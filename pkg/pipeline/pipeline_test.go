package pipeline

import (
	"errors"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/MagentaPolarBear/MikeroVision/internal/models"
	"github.com/MagentaPolarBear/MikeroVision/pkg/config"
	"github.com/MagentaPolarBear/MikeroVision/pkg/stats"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testTable() *config.Table {
	return &config.Table{
		Profiles: map[string]config.CalibrationProfile{
			"test": {
				ScalingFactor:       1.0,
				SmoothingSigma:      2.0,
				MarkerMinSeparation: [2]int{50, 50},
			},
			"half": {
				ScalingFactor:       0.5,
				SmoothingSigma:      2.0,
				MarkerMinSeparation: [2]int{50, 50},
			},
		},
	}
}

func newTestPipeline(t *testing.T, params *Params, sink Sink) *Pipeline {
	t.Helper()
	p, err := New(params, testTable(), stats.NewAggregator(), sink, quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func discGrid(width, height, cx, cy, radius int) *models.Grid {
	g := models.NewGrid(width, height)
	r2 := radius * radius
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r2 {
				g.Set(x, y, 1.0)
			}
		}
	}
	return g
}

func writeDiscPNG(t *testing.T, path string, width, height, cx, cy, radius int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	r2 := radius * radius
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r2 {
				img.Pix[y*img.Stride+x] = 255
			}
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode %s: %v", path, err)
	}
}

// TestRunDiscEndToEnd pushes a synthetic micrograph of one circular
// particle through the full chain and checks the measured major axis
// against the known diameter.
func TestRunDiscEndToEnd(t *testing.T) {
	p := newTestPipeline(t, &Params{}, nil)
	grid := discGrid(200, 200, 100, 100, 30)
	profile, _ := testTable().Get("test")

	res, err := p.Run("disc.png", "test", grid, profile)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(res.Markers) != 1 {
		t.Fatalf("Expected one marker, got %d", len(res.Markers))
	}
	m := res.Markers[0]
	if abs(m.X-100) > 3 || abs(m.Y-100) > 3 {
		t.Errorf("Marker (%d,%d) too far from disc center", m.X, m.Y)
	}

	if got := res.Labels.Labels(); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("Expected a single region, got labels %v", got)
	}

	if len(res.Measurements) != 1 {
		t.Fatalf("Expected one measurement, got %d", len(res.Measurements))
	}
	length := res.Measurements[0].LengthPx
	if math.Abs(length-60) > 2 {
		t.Errorf("Expected major axis near 60 px, got %f", length)
	}
	if res.Measurements[0].LengthScaled != length {
		t.Errorf("Unit scaling changed the length")
	}
}

// TestRunDeterministic verifies bit-identical results across repeated
// runs on the same input.
func TestRunDeterministic(t *testing.T) {
	p := newTestPipeline(t, &Params{}, nil)
	grid := discGrid(120, 120, 60, 60, 20)
	profile, _ := testTable().Get("test")

	first, err := p.Run("a.png", "test", grid.Clone(), profile)
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	second, err := p.Run("a.png", "test", grid.Clone(), profile)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if !reflect.DeepEqual(first.Labels.Data, second.Labels.Data) {
		t.Errorf("Label maps differ between runs")
	}
	if !reflect.DeepEqual(first.Measurements, second.Measurements) {
		t.Errorf("Measurements differ between runs")
	}
}

// TestRunUniformImage verifies that an image with no contrast yields
// zero particles without failing.
func TestRunUniformImage(t *testing.T) {
	p := newTestPipeline(t, &Params{}, nil)
	grid := models.NewGrid(64, 64)
	for i := range grid.Data {
		grid.Data[i] = 0.3
	}
	profile, _ := testTable().Get("test")

	res, err := p.Run("flat.png", "test", grid, profile)
	if err != nil {
		t.Fatalf("Expected uniform image to be tolerated, got %v", err)
	}
	if len(res.Measurements) != 0 {
		t.Errorf("Expected no measurements, got %d", len(res.Measurements))
	}
	if res.Mask.Count() != 0 {
		t.Errorf("Expected empty mask, got %d foreground pixels", res.Mask.Count())
	}
}

// TestRunScaledMeasurement verifies that the calibration factor reaches
// the reported lengths.
func TestRunScaledMeasurement(t *testing.T) {
	p := newTestPipeline(t, &Params{}, nil)
	grid := discGrid(120, 120, 60, 60, 20)

	unit, _ := testTable().Get("test")
	half, _ := testTable().Get("half")

	a, err := p.Run("a.png", "test", grid.Clone(), unit)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	b, err := p.Run("a.png", "half", grid.Clone(), half)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(a.Measurements) != 1 || len(b.Measurements) != 1 {
		t.Fatalf("Expected one measurement each")
	}
	if got, want := b.Measurements[0].LengthScaled, 0.5*a.Measurements[0].LengthScaled; got != want {
		t.Errorf("Expected scaled length %f, got %f", want, got)
	}
}

// TestRunRejectsInvalidGrid verifies that malformed input surfaces the
// preprocessing sentinel.
func TestRunRejectsInvalidGrid(t *testing.T) {
	p := newTestPipeline(t, &Params{}, nil)
	grid := models.NewGrid(8, 8)
	grid.Set(3, 3, math.NaN())
	profile, _ := testTable().Get("test")

	if _, err := p.Run("bad.png", "test", grid, profile); err == nil {
		t.Errorf("Expected error for non-finite input")
	}
}

func TestResolveKey(t *testing.T) {
	table := testTable()

	cases := []struct {
		name       string
		filename   string
		defaultKey string
		want       string
		wantErr    bool
	}{
		{"token match", "sample_test_01.png", "", "test", false},
		{"uppercase token", "IMG_TEST.png", "", "test", false},
		{"default fallback", "plain.png", "test", "test", false},
		{"no match no default", "plain.png", "", "", true},
		{"default not in table", "plain.png", "missing", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveKey(tc.filename, table, tc.defaultKey)
			if tc.wantErr {
				if !errors.Is(err, ErrUnknownCalibration) {
					t.Errorf("Expected ErrUnknownCalibration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveKey failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("Expected key %q, got %q", tc.want, got)
			}
		})
	}
}

// TestLoadGridMargin verifies the border crop and the [0,1]
// normalization at ingestion.
func TestLoadGridMargin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disc_test.png")
	writeDiscPNG(t, path, 12, 12, 6, 6, 3)

	grid, err := LoadGrid(path, 2)
	if err != nil {
		t.Fatalf("LoadGrid failed: %v", err)
	}
	if grid.Width != 8 || grid.Height != 8 {
		t.Fatalf("Expected 8x8 after margin crop, got %dx%d", grid.Width, grid.Height)
	}
	// The disc center maps from (6,6) to (4,4) after the crop.
	if v := grid.At(4, 4); math.Abs(v-1.0) > 2.0/255 {
		t.Errorf("Expected bright center, got %f", v)
	}
	if v := grid.At(0, 0); v > 2.0/255 {
		t.Errorf("Expected dark corner, got %f", v)
	}
}

func TestLoadGridExcessiveMargin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny_test.png")
	writeDiscPNG(t, path, 6, 6, 3, 3, 1)

	if _, err := LoadGrid(path, 3); !errors.Is(err, ErrImageLoad) {
		t.Errorf("Expected ErrImageLoad for margin consuming the image, got %v", err)
	}
}

func TestLoadGridUndecodable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(path, []byte("not an image"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := LoadGrid(path, 0); !errors.Is(err, ErrImageLoad) {
		t.Errorf("Expected ErrImageLoad, got %v", err)
	}
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.tif", "notes.txt", "c.JPG"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	files, err := ListImages(dir)
	if err != nil {
		t.Fatalf("ListImages failed: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.tif"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "c.JPG"),
	}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("Expected %v, got %v", want, files)
	}
}

// recordingSink captures every result handed to the sink.
type recordingSink struct {
	mu      sync.Mutex
	results []*models.Result
}

func (s *recordingSink) Consume(res *models.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return nil
}

// TestProcessBatch runs a directory with one good and one broken image
// and verifies per-image containment of failures.
func TestProcessBatch(t *testing.T) {
	dir := t.TempDir()
	writeDiscPNG(t, filepath.Join(dir, "disc_test_01.png"), 200, 200, 100, 100, 30)
	if err := os.WriteFile(filepath.Join(dir, "broken_test_02.png"), []byte("garbage"), 0644); err != nil {
		t.Fatalf("Failed to write broken image: %v", err)
	}

	sink := &recordingSink{}
	p := newTestPipeline(t, &Params{InputDir: dir, NumCores: 2}, sink)

	report, err := p.Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if report.Total != 2 || report.Processed != 1 || report.Skipped != 1 {
		t.Errorf("Unexpected report: %+v", report)
	}
	if got := p.Aggregator().Count(); got != 1 {
		t.Errorf("Expected one aggregated measurement, got %d", got)
	}
	if len(sink.results) != 1 {
		t.Fatalf("Expected one sink delivery, got %d", len(sink.results))
	}
	if sink.results[0].Key != "test" {
		t.Errorf("Expected calibration key test, got %q", sink.results[0].Key)
	}
}

// TestProcessAllFail verifies that a batch where every image fails
// reports an error instead of succeeding with zero results.
func TestProcessAllFail(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken_test.png"), []byte("garbage"), 0644); err != nil {
		t.Fatalf("Failed to write broken image: %v", err)
	}

	p := newTestPipeline(t, &Params{InputDir: dir}, nil)
	if _, err := p.Process(); err == nil {
		t.Errorf("Expected error when every image fails")
	}
}

// TestProcessEmptyDir verifies that a directory without images fails
// fast.
func TestProcessEmptyDir(t *testing.T) {
	p := newTestPipeline(t, &Params{InputDir: t.TempDir()}, nil)
	if _, err := p.Process(); err == nil {
		t.Errorf("Expected error for empty input directory")
	}
}

// TestProcessUnknownCalibration verifies that an image without a
// resolvable profile is skipped, not fatal for the batch.
func TestProcessUnknownCalibration(t *testing.T) {
	dir := t.TempDir()
	writeDiscPNG(t, filepath.Join(dir, "disc_test_01.png"), 120, 120, 60, 60, 20)
	writeDiscPNG(t, filepath.Join(dir, "unlabeled.png"), 120, 120, 60, 60, 20)

	p := newTestPipeline(t, &Params{InputDir: dir}, nil)
	report, err := p.Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if report.Processed != 1 || report.Skipped != 1 {
		t.Errorf("Unexpected report: %+v", report)
	}
}

func TestNewRequiresTable(t *testing.T) {
	if _, err := New(&Params{}, &config.Table{}, stats.NewAggregator(), nil, quietLogger()); err == nil {
		t.Errorf("Expected error for empty calibration table")
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
