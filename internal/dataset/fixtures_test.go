package dataset

import (
	"archive/tar"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// encodePNG fills a w x h image with fill and paints the lower half with lower.
func encodePNG(t *testing.T, w, h int, fill, lower color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := fill
			if y >= h/2 {
				c = lower
			}
			img.SetRGBA(x, y, c)
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

var (
	gray    = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	magenta = color.RGBA{R: 255, G: 0, B: 255, A: 255}
)

func roadMask(t *testing.T, w, h int) []byte {
	return encodePNG(t, w, h, Background, magenta)
}

// writeKITTI lays out a training split with one pair per key, e.g. "um_000000".
func writeKITTI(t *testing.T, dir string, keys ...string) {
	t.Helper()
	for _, key := range keys {
		cat, idx := splitKey(key)
		mustWriteBytes(t, filepath.Join(dir, "image_2", key+".png"), encodePNG(t, 8, 8, gray, gray))
		mustWriteBytes(t, filepath.Join(dir, "gt_image_2", cat+"_road_"+idx+".png"), roadMask(t, 8, 8))
	}
}

func splitKey(key string) (string, string) {
	for i := range key {
		if key[i] == '_' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func mustWriteBytes(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

type member struct {
	name string
	data []byte
}

func mustShard(t *testing.T, path string, members ...member) {
	t.Helper()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, m := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: m.name, Size: int64(len(m.data)), Mode: 0o644}))
		_, err := tw.Write(m.data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	mustWriteBytes(t, path, buf.Bytes())
}
