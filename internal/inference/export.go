// Package inference paints predicted road pixels over the held-out test images.
package inference

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"roadseg/internal/dataset"
)

// Overlay is the colour painted over road pixels.
var Overlay = color.NRGBA{R: 0, G: 255, B: 0, A: 127}

// Threshold is the road probability above which a pixel is painted.
const Threshold = 0.5

// Predictor produces per-pixel road probabilities for images at a fixed resolution.
type Predictor interface {
	Predict(images []float32, n int) ([]float32, error)
	Height() int
	Width() int
}

// Exporter writes one overlay PNG per test image.
type Exporter struct {
	ImageDir string
}

// Export runs p over every PNG in ImageDir and writes <outputDir>/<name>.png.
// It returns the number of images written.
func (e Exporter) Export(ctx context.Context, outputDir string, p Predictor) (int, error) {
	paths, err := dataset.DiscoverImages(e.ImageDir)
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		return 0, errors.Errorf("export: no test images in %s", e.ImageDir)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return 0, errors.Wrap(err, "create export dir")
	}
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		out, err := overlayFile(path, p)
		if err != nil {
			return i, err
		}
		buf := &bytes.Buffer{}
		if err := png.Encode(buf, out); err != nil {
			return i, errors.Wrapf(err, "encode %s", path)
		}
		dst := filepath.Join(outputDir, filepath.Base(path))
		if err := os.WriteFile(dst, buf.Bytes(), 0o644); err != nil {
			return i, errors.Wrapf(err, "write %s", dst)
		}
	}
	return len(paths), nil
}

func overlayFile(path string, p Predictor) (*image.RGBA, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read test image")
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	h, w := p.Height(), p.Width()
	base := dataset.Resize(img, h, w)
	probs, err := p.Predict(dataset.ImageCHW(base, h, w), 1)
	if err != nil {
		return nil, errors.Wrapf(err, "predict %s", path)
	}
	if len(probs) != h*w {
		return nil, errors.Errorf("predict %s: got %d probabilities, want %d", path, len(probs), h*w)
	}
	return Paint(base, probs), nil
}

// Paint blends Overlay into base wherever the matching probability exceeds Threshold.
// probs is row-major over base's bounds.
func Paint(base *image.RGBA, probs []float32) *image.RGBA {
	b := base.Bounds()
	mask := image.NewAlpha(b)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if probs[y*b.Dx()+x] > Threshold {
				mask.SetAlpha(b.Min.X+x, b.Min.Y+y, color.Alpha{A: Overlay.A})
			}
		}
	}
	out := image.NewRGBA(b)
	draw.Draw(out, b, base, b.Min, draw.Src)
	solid := &image.Uniform{C: color.NRGBA{R: Overlay.R, G: Overlay.G, B: Overlay.B, A: 255}}
	draw.DrawMask(out, b, solid, image.Point{}, mask, b.Min, draw.Over)
	return out
}
