package model

import (
	"testing"

	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/require"

	"roadseg/internal/errs"
)

func TestDecoderOutputMatchesInputResolution(t *testing.T) {
	sess := NewSession(1)
	b, err := LoadBackbone(sess, tinyArtifact(t, 1))
	require.NoError(t, err)

	shapes := tinySpec().FeatureShapes(2, tinyH, tinyW)
	d, err := BuildDecoder(sess, shapes, 2)
	require.NoError(t, err)

	x := tensor.Rand[float32](tensor.Shape{2, 3, tinyH, tinyW}, sess.Engine())
	feats, err := b.Extract(x, 1)
	require.NoError(t, err)
	require.Equal(t, shapes.Shallow, feats.Shallow.Shape())
	require.Equal(t, shapes.Mid, feats.Mid.Shape())
	require.Equal(t, shapes.Deep, feats.Deep.Shape())

	scores, err := d.Forward(feats)
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{2, 2, tinyH, tinyW}, scores.Shape())
	require.Equal(t, d.ScoreShape(2), scores.Shape())
}

func TestDecoderRegistersNamedLayers(t *testing.T) {
	sess := NewSession(1)
	_, err := BuildDecoder(sess, tinySpec().FeatureShapes(1, tinyH, tinyW), 2)
	require.NoError(t, err)

	for _, layer := range []string{LayerBottleneck, LayerUpMid, LayerUpShallow, LayerUpFull} {
		for _, p := range []string{"conv2d.weight", "conv2d.bias"} {
			_, ok := sess.Lookup(VariableName(layer, p))
			require.True(t, ok, VariableName(layer, p))
		}
	}
	w, _ := sess.Lookup(VariableName(LayerUpFull, "conv2d.weight"))
	require.Equal(t, tensor.Shape{2, 3, 16, 16}, w.Tensor().Shape())

	_, err = BuildDecoder(sess, tinySpec().FeatureShapes(1, tinyH, tinyW), 2)
	require.Error(t, err, "second build collides with the registered names")
}

func TestDecoderRejectsBrokenPyramid(t *testing.T) {
	shapes := tinySpec().FeatureShapes(1, tinyH, tinyW)
	shapes.Mid = tensor.Shape{1, 4, 3, 3}

	sess := NewSession(1)
	_, err := BuildDecoder(sess, shapes, 2)
	var serr *errs.ShapeError
	require.ErrorAs(t, err, &serr)
	require.Zero(t, sess.Len())
}

func TestDecoderForwardChecksFeatures(t *testing.T) {
	sess := NewSession(1)
	shapes := tinySpec().FeatureShapes(1, tinyH, tinyW)
	d, err := BuildDecoder(sess, shapes, 2)
	require.NoError(t, err)

	e := sess.Engine()
	_, err = d.Forward(Features{
		Shallow: tensor.Zeros[float32](shapes.Shallow, e),
		Mid:     tensor.Zeros[float32](tensor.Shape{1, 5, 2, 2}, e),
		Deep:    tensor.Zeros[float32](shapes.Deep, e),
	})
	var serr *errs.ShapeError
	require.ErrorAs(t, err, &serr)
}
