package model

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	tinyH = 32
	tinyW = 32
)

func tinySpec() BackboneSpec {
	return BackboneSpec{
		InChannels: 3,
		Blocks:     [][]int{{2}, {2}, {3}, {4}, {4}},
		FC:         []int{4, 4},
		FC6Kernel:  1,
	}
}

// tinyArtifact writes a seeded tiny backbone to a temp dir.
func tinyArtifact(t *testing.T, seed int64) string {
	t.Helper()
	b, err := NewBackbone(NewSession(seed), tinySpec())
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, SaveBackbone(b, dir))
	return dir
}

func tinyFCN(t *testing.T, seed int64, cfg BuildConfig) *FCN {
	t.Helper()
	sess := NewSession(seed)
	b, err := LoadBackbone(sess, tinyArtifact(t, seed))
	require.NoError(t, err)
	f, err := Build(sess, b, cfg)
	require.NoError(t, err)
	return f
}

func tinyConfig() BuildConfig {
	return BuildConfig{
		NumClasses:   2,
		Height:       tinyH,
		Width:        tinyW,
		BatchSize:    2,
		LearningRate: 1e-3,
		KeepProb:     1,
	}
}

// syntheticBatch marks the lower half of every image as road.
func syntheticBatch(n int, seed int64) Batch {
	rng := rand.New(rand.NewSource(seed))
	b := Batch{Size: n, Height: tinyH, Width: tinyW, NumClasses: 2}
	b.Images = make([]float32, n*3*tinyH*tinyW)
	for i := range b.Images {
		b.Images[i] = rng.Float32()
	}
	b.Labels = make([]float32, n*tinyH*tinyW*2)
	for i := 0; i < n; i++ {
		for y := 0; y < tinyH; y++ {
			for x := 0; x < tinyW; x++ {
				p := (i*tinyH+y)*tinyW + x
				if y >= tinyH/2 {
					b.Labels[p*2+1] = 1
					for c := 0; c < 3; c++ {
						b.Images[((i*3+c)*tinyH+y)*tinyW+x] *= 0.2
					}
				} else {
					b.Labels[p*2] = 1
				}
			}
		}
	}
	return b
}
