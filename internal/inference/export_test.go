package inference

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// lowerHalf predicts road for the bottom half of every image.
type lowerHalf struct {
	h, w  int
	calls int
}

func (p *lowerHalf) Height() int { return p.h }
func (p *lowerHalf) Width() int  { return p.w }

func (p *lowerHalf) Predict(images []float32, n int) ([]float32, error) {
	p.calls++
	out := make([]float32, n*p.h*p.w)
	for i := range out {
		if (i%(p.h*p.w))/p.w >= p.h/2 {
			out[i] = 0.9
		}
	}
	return out, nil
}

func writePNG(t *testing.T, path string, w, h int, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestExportWritesOverlays(t *testing.T) {
	in := t.TempDir()
	writePNG(t, filepath.Join(in, "um_000000.png"), 12, 8, color.RGBA{A: 255})
	writePNG(t, filepath.Join(in, "uu_000001.png"), 12, 8, color.RGBA{A: 255})
	out := filepath.Join(t.TempDir(), "export")

	p := &lowerHalf{h: 4, w: 6}
	n, err := Exporter{ImageDir: in}.Export(context.Background(), out, p)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, p.calls)

	f, err := os.Open(filepath.Join(out, "um_000000.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 6, 4), img.Bounds())

	_, gTop, _, _ := img.At(0, 0).RGBA()
	_, gBottom, _, _ := img.At(0, 3).RGBA()
	require.Zero(t, gTop)
	require.InDelta(t, 127*257, int(gBottom), 257, "green blended at alpha 127")
}

func TestExportNoImages(t *testing.T) {
	_, err := Exporter{ImageDir: t.TempDir()}.Export(context.Background(), t.TempDir(), &lowerHalf{h: 4, w: 4})
	require.Error(t, err)
}

func TestExportCanceled(t *testing.T) {
	in := t.TempDir()
	writePNG(t, filepath.Join(in, "a.png"), 4, 4, color.RGBA{A: 255})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := Exporter{ImageDir: in}.Export(ctx, t.TempDir(), &lowerHalf{h: 4, w: 4})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, n)
}

func TestPaintLeavesBackground(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 2, 1))
	base.SetRGBA(0, 0, color.RGBA{R: 200, A: 255})
	base.SetRGBA(1, 0, color.RGBA{R: 200, A: 255})

	out := Paint(base, []float32{0.2, 0.8})
	require.Equal(t, color.RGBA{R: 200, A: 255}, out.RGBAAt(0, 0))
	painted := out.RGBAAt(1, 0)
	require.Less(t, painted.R, uint8(200))
	require.Greater(t, painted.G, uint8(100))
}
