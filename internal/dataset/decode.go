package dataset

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
)

// Background is the mask colour of non-road pixels in the KITTI ground truth.
var Background = color.RGBA{R: 255, G: 0, B: 0, A: 255}

// DecodeImage decodes raw and resizes it to h x w, returning CHW RGB values in [0,1].
func DecodeImage(raw []byte, h, w int) ([]float32, error) {
	img, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return ImageCHW(img, h, w), nil
}

// Resize samples img onto an h x w RGBA canvas (nearest neighbour).
func Resize(img image.Image, h, w int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	eachPixel(img, h, w, func(i int, c color.Color) {
		out.Set(i%w, i/w, c)
	})
	return out
}

// ImageCHW samples img onto an h x w grid (nearest neighbour) as CHW RGB in [0,1].
func ImageCHW(img image.Image, h, w int) []float32 {
	out := make([]float32, 3*h*w)
	plane := h * w
	eachPixel(img, h, w, func(i int, c color.Color) {
		r, g, b, _ := c.RGBA()
		out[i] = float32(r) / 0xffff
		out[plane+i] = float32(g) / 0xffff
		out[2*plane+i] = float32(b) / 0xffff
	})
	return out
}

// DecodeMask decodes a ground-truth image into HWC one-hot labels:
// channel 0 is background, the last channel is road.
func DecodeMask(raw []byte, h, w, numClasses int) ([]float32, error) {
	if numClasses != 2 {
		return nil, errors.Errorf("decode mask: %d classes, masks encode 2", numClasses)
	}
	img, err := decode(raw)
	if err != nil {
		return nil, err
	}
	out := make([]float32, h*w*numClasses)
	eachPixel(img, h, w, func(i int, c color.Color) {
		if isBackground(c) {
			out[i*numClasses] = 1
		} else {
			out[i*numClasses+numClasses-1] = 1
		}
	})
	return out, nil
}

func isBackground(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 == uint32(Background.R) && g>>8 == uint32(Background.G) && b>>8 == uint32(Background.B)
}

func decode(raw []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.New("decode image: empty image")
	}
	return img, nil
}

// eachPixel visits the h x w target grid in row-major order with the source pixel nearest each cell.
func eachPixel(img image.Image, h, w int, fn func(i int, c color.Color)) {
	bounds := img.Bounds()
	sx := float64(bounds.Dx()) / float64(w)
	sy := float64(bounds.Dy()) / float64(h)
	for y := 0; y < h; y++ {
		py := bounds.Min.Y + min(bounds.Dy()-1, int((float64(y)+0.5)*sy))
		for x := 0; x < w; x++ {
			px := bounds.Min.X + min(bounds.Dx()-1, int((float64(x)+0.5)*sx))
			fn(y*w+x, img.At(px, py))
		}
	}
}
