package model

import (
	"testing"

	"github.com/stretchr/testify/require"

	"roadseg/internal/errs"
)

func TestBatchValidate(t *testing.T) {
	require.NoError(t, syntheticBatch(2, 1).Validate(2, tinyH, tinyW))

	var cerr *errs.ConfigError
	require.ErrorAs(t, syntheticBatch(2, 1).Validate(3, tinyH, tinyW), &cerr)

	cases := map[string]func(*Batch){
		"empty":        func(b *Batch) { b.Size = 0 },
		"wrong height": func(b *Batch) { b.Height = 64 },
		"short images": func(b *Batch) { b.Images = b.Images[1:] },
		"short labels": func(b *Batch) { b.Labels = b.Labels[:10] },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := syntheticBatch(2, 1)
			mutate(&b)
			var serr *errs.ShapeError
			require.ErrorAs(t, b.Validate(2, tinyH, tinyW), &serr)
		})
	}
}

func TestSessionRegisterIsAtomic(t *testing.T) {
	sess := NewSession(1)
	b, err := NewBackbone(sess, tinySpec())
	require.NoError(t, err)
	require.NoError(t, sess.register(GroupBackbone, b.layers()))
	n := sess.Len()

	require.Error(t, sess.register(GroupBackbone, b.layers()))
	require.Equal(t, n, sess.Len())

	_, ok := sess.Lookup("conv1_1.conv2d.weight")
	require.True(t, ok)
	_, ok = sess.Lookup("fc7.conv2d.bias")
	require.True(t, ok)
}

func TestSessionSetTrainable(t *testing.T) {
	f := tinyFCN(t, 3, tinyConfig())
	all := len(f.Session().TrainableParams())
	f.Session().SetTrainable(GroupBackbone, false)
	require.Len(t, f.Session().TrainableParams(), 4*2, "only the four decoder layers remain")
	f.Session().SetTrainable(GroupBackbone, true)
	require.Len(t, f.Session().TrainableParams(), all)
}

func TestSeededInitIsDeterministic(t *testing.T) {
	a, err := NewBackbone(NewSession(9), tinySpec())
	require.NoError(t, err)
	b, err := NewBackbone(NewSession(9), tinySpec())
	require.NoError(t, err)
	for i, p := range a.Parameters() {
		require.Equal(t, p.Tensor().Data(), b.Parameters()[i].Tensor().Data())
	}
}
