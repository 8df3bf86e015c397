package pipeline

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "image/jpeg" // register JPEG decoding
	_ "image/png"  // register PNG decoding

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/tiff" // register TIFF decoding, the usual micrograph format

	"github.com/MagentaPolarBear/MikeroVision/internal/models"
	"github.com/MagentaPolarBear/MikeroVision/pkg/config"
)

// ErrImageLoad marks an unreadable or undecodable image file. The file is
// skipped; the batch continues.
var ErrImageLoad = errors.New("image load failed")

// ErrUnknownCalibration marks an image whose calibration key has no entry
// in the table. Fatal for that image only.
var ErrUnknownCalibration = errors.New("unknown calibration key")

// ListImages returns the sorted image files of a directory.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading input directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".tif", ".tiff", ".png", ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadGrid reads a single-channel intensity grid from an image file. The
// image is converted to grayscale, cropped by the fixed border margin
// (microscope annotation bars and vignetting live there), and normalized
// to [0, 1]. The returned grid is never mutated by later stages.
func LoadGrid(path string, margin int) (*models.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageLoad, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrImageLoad, filepath.Base(path), err)
	}

	gray := imaging.Grayscale(img)
	if margin > 0 {
		b := gray.Bounds()
		cropped := b.Inset(margin)
		if cropped.Dx() <= 0 || cropped.Dy() <= 0 {
			return nil, fmt.Errorf("%w: margin %d leaves no pixels in %dx%d image",
				ErrImageLoad, margin, b.Dx(), b.Dy())
		}
		gray = imaging.Crop(gray, cropped)
	}

	bounds := gray.Bounds()
	grid := models.NewGrid(bounds.Dx(), bounds.Dy())
	for y := 0; y < grid.Height; y++ {
		for x := 0; x < grid.Width; x++ {
			// Grayscale NRGBA carries the luminance in each channel.
			r := gray.NRGBAAt(bounds.Min.X+x, bounds.Min.Y+y).R
			grid.Set(x, y, float64(r)/255.0)
		}
	}

	return grid, nil
}

// ResolveKey determines the calibration key for an image. Filename tokens
// are matched against the table first (micrographs commonly embed the
// magnification label, e.g. sample_5000x_03.tif), falling back to the
// batch default key.
func ResolveKey(filename string, table *config.Table, defaultKey string) (string, error) {
	base := filepath.Base(filename)
	for _, token := range tokenize(base) {
		if _, ok := table.Get(token); ok {
			return token, nil
		}
		lower := strings.ToLower(token)
		if _, ok := table.Get(lower); ok {
			return lower, nil
		}
	}
	if defaultKey != "" {
		if _, ok := table.Get(defaultKey); ok {
			return defaultKey, nil
		}
	}
	return "", fmt.Errorf("%w: no profile matches %s (default %q)", ErrUnknownCalibration, base, defaultKey)
}

// tokenize splits a filename into its alphanumeric runs.
func tokenize(name string) []string {
	return strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
}
