// Package visualization renders the pipeline's per-image artifacts:
// a label overlay with the measured major axes drawn as double-headed
// arrows, plus optional snapshots of the intermediate grids. It is a pure
// consumer of the core's output; the pipeline never depends on it.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/MagentaPolarBear/MikeroVision/internal/models"
)

// goldenAngle spaces label hues so neighboring labels get visibly
// different colors regardless of how many labels an image has.
const goldenAngle = 137.50776405003785

// Renderer writes PNG artifacts for processed images. It implements the
// pipeline's Sink interface.
type Renderer struct {
	// OutputDir receives the rendered files, one set per image.
	OutputDir string

	// SaveIntermediate also writes the preprocessed grid, the binary mask
	// and the distance field alongside the overlay.
	SaveIntermediate bool
}

// NewRenderer creates a renderer targeting the given directory.
func NewRenderer(outputDir string, saveIntermediate bool) *Renderer {
	return &Renderer{
		OutputDir:        outputDir,
		SaveIntermediate: saveIntermediate,
	}
}

// Consume renders one image's artifacts.
func (r *Renderer) Consume(res *models.Result) error {
	if err := os.MkdirAll(r.OutputDir, 0755); err != nil {
		return fmt.Errorf("creating overlay directory: %w", err)
	}

	stem := strings.TrimSuffix(res.Name, filepath.Ext(res.Name))

	overlay := RenderOverlay(res)
	if err := imgio.Save(r.artifactPath(stem, "overlay"), overlay, imgio.PNGEncoder()); err != nil {
		return fmt.Errorf("saving overlay: %w", err)
	}

	if !r.SaveIntermediate {
		return nil
	}

	stages := []struct {
		suffix string
		img    image.Image
	}{
		{"preprocessed", GridImage(res.Preprocessed, false)},
		{"mask", MaskImage(res.Mask)},
		{"distance", GridImage(res.Distance, true)},
	}
	for _, stage := range stages {
		if err := imgio.Save(r.artifactPath(stem, stage.suffix), stage.img, imgio.PNGEncoder()); err != nil {
			return fmt.Errorf("saving %s: %w", stage.suffix, err)
		}
	}
	return nil
}

func (r *Renderer) artifactPath(stem, suffix string) string {
	return filepath.Join(r.OutputDir, fmt.Sprintf("%s_%s.png", stem, suffix))
}

// RenderOverlay draws the label regions tinted with their colors over the
// preprocessed intensity image, marks the watershed seeds, and draws each
// measured major axis as an arrow between its endpoints.
func RenderOverlay(res *models.Result) *image.RGBA {
	w, h := res.Preprocessed.Width, res.Preprocessed.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	min, max := gridRange(res.Preprocessed)
	scale := 0.0
	if max > min {
		scale = 1 / (max - min)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((res.Preprocessed.At(x, y) - min) * scale * 255)
			c := color.RGBA{R: v, G: v, B: v, A: 255}
			if label := res.Labels.At(x, y); label > 0 {
				c = blend(c, LabelColor(label), 0.45)
			}
			img.SetRGBA(x, y, c)
		}
	}

	for _, m := range res.Markers {
		drawCross(img, m.X, m.Y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	}

	for _, m := range res.Measurements {
		drawAxis(img, m)
	}

	return img
}

// GridImage converts a float grid to an 8-bit grayscale image. With
// normalize set, values are stretched over the grid's own range, which
// suits fields like the distance transform whose scale varies per image.
func GridImage(g *models.Grid, normalize bool) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, g.Width, g.Height))
	min, max := 0.0, 1.0
	if normalize {
		min, max = gridRange(g)
	}
	scale := 0.0
	if max > min {
		scale = 1 / (max - min)
	}
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			v := (g.At(x, y) - min) * scale
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v * 255)})
		}
	}
	return img
}

// MaskImage converts a binary mask to a black-and-white image.
func MaskImage(m *models.BinaryMask) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.At(x, y) {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// LabelColor returns the deterministic display color of a label. Labels
// map to hues along the golden angle so runs are reproducible and nearby
// labels stay distinguishable.
func LabelColor(label int) color.RGBA {
	hue := math.Mod(float64(label)*goldenAngle, 360)
	c := colorful.Hsv(hue, 0.85, 0.95)
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// drawAxis draws a measurement's major axis with arrowheads at both
// endpoints, in the color of its particle.
func drawAxis(img *image.RGBA, m models.Measurement) {
	c := LabelColor(m.ParticleID)
	drawLine(img, m.EndpointA, m.EndpointB, c)
	drawArrowhead(img, m.EndpointA, m.EndpointB, c)
	drawArrowhead(img, m.EndpointB, m.EndpointA, c)
}

// drawArrowhead draws the two barbs of an arrow tip at 'tip', pointing
// away from 'from'.
func drawArrowhead(img *image.RGBA, tip, from models.Point, c color.RGBA) {
	const barbLength = 6.0
	const barbAngle = 150.0 * math.Pi / 180.0

	angle := math.Atan2(tip.Y-from.Y, tip.X-from.X)
	for _, da := range []float64{barbAngle, -barbAngle} {
		end := models.Point{
			X: tip.X + barbLength*math.Cos(angle+da),
			Y: tip.Y + barbLength*math.Sin(angle+da),
		}
		drawLine(img, tip, end, c)
	}
}

// drawLine rasterizes a line segment by uniform stepping; good enough for
// annotation overlays.
func drawLine(img *image.RGBA, a, b models.Point, c color.RGBA) {
	steps := int(math.Ceil(math.Max(math.Abs(b.X-a.X), math.Abs(b.Y-a.Y)))) * 2
	if steps < 1 {
		steps = 1
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(math.Round(a.X + (b.X-a.X)*t))
		y := int(math.Round(a.Y + (b.Y-a.Y)*t))
		if image.Pt(x, y).In(img.Bounds()) {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawCross marks a marker pixel with a small plus sign.
func drawCross(img *image.RGBA, x, y int, c color.RGBA) {
	for d := -2; d <= 2; d++ {
		if image.Pt(x+d, y).In(img.Bounds()) {
			img.SetRGBA(x+d, y, c)
		}
		if image.Pt(x, y+d).In(img.Bounds()) {
			img.SetRGBA(x, y+d, c)
		}
	}
}

func blend(base, tint color.RGBA, alpha float64) color.RGBA {
	mix := func(a, b uint8) uint8 {
		return uint8(float64(a)*(1-alpha) + float64(b)*alpha)
	}
	return color.RGBA{
		R: mix(base.R, tint.R),
		G: mix(base.G, tint.G),
		B: mix(base.B, tint.B),
		A: 255,
	}
}

func gridRange(g *models.Grid) (float64, float64) {
	if len(g.Data) == 0 {
		return 0, 0
	}
	min, max := g.Data[0], g.Data[0]
	for _, v := range g.Data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
