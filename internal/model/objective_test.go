package model

import (
	"testing"

	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/require"

	"roadseg/internal/errs"
)

func decoderSession(t *testing.T) *Session {
	t.Helper()
	sess := NewSession(1)
	_, err := BuildDecoder(sess, tinySpec().FeatureShapes(2, tinyH, tinyW), 2)
	require.NoError(t, err)
	return sess
}

func TestObjectiveRejectsLabelChannelMismatch(t *testing.T) {
	_, err := NewObjective(decoderSession(t), tensor.Shape{2, 2, tinyH, tinyW}, tensor.Shape{2, tinyH, tinyW, 3}, 1e-4, 2)
	var serr *errs.ShapeError
	require.ErrorAs(t, err, &serr)
}

func TestObjectiveRejectsScoreChannelMismatch(t *testing.T) {
	_, err := NewObjective(decoderSession(t), tensor.Shape{2, 3, tinyH, tinyW}, tensor.Shape{2, tinyH, tinyW, 2}, 1e-4, 2)
	var serr *errs.ShapeError
	require.ErrorAs(t, err, &serr)
}

func TestObjectiveRejectsNonPositiveLearningRate(t *testing.T) {
	_, err := NewObjective(decoderSession(t), tensor.Shape{2, 2, tinyH, tinyW}, tensor.Shape{2, tinyH, tinyW, 2}, 0, 2)
	var cerr *errs.ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestObjectiveLogitsArePixelRows(t *testing.T) {
	sess := decoderSession(t)
	obj, err := NewObjective(sess, tensor.Shape{1, 2, 2, 2}, tensor.Shape{1, 2, 2, 2}, 1e-4, 2)
	require.NoError(t, err)

	// class 0 plane then class 1 plane
	scores, err := tensor.FromSlice[float32, *Engine]([]float32{0, 1, 2, 3, 10, 11, 12, 13}, tensor.Shape{1, 2, 2, 2}, sess.Engine())
	require.NoError(t, err)
	logits := obj.Logits(scores)
	require.Equal(t, tensor.Shape{4, 2}, logits.Shape())
	require.Equal(t, []float32{0, 10, 1, 11, 2, 12, 3, 13}, logits.Data())
}

func TestObjectiveLossOfPerfectScoresIsSmall(t *testing.T) {
	sess := decoderSession(t)
	obj, err := NewObjective(sess, tensor.Shape{1, 2, 1, 2}, tensor.Shape{1, 1, 2, 2}, 1e-4, 2)
	require.NoError(t, err)

	batch := Batch{Size: 1, Height: 1, Width: 2, NumClasses: 2, Labels: []float32{1, 0, 0, 1}}
	scores, err := tensor.FromSlice[float32, *Engine]([]float32{20, -20, -20, 20}, tensor.Shape{1, 2, 1, 2}, sess.Engine())
	require.NoError(t, err)
	loss, err := obj.Loss(scores, batch)
	require.NoError(t, err)
	require.Less(t, loss.Data()[0], float32(1e-3))

	swapped := Batch{Size: 1, Height: 1, Width: 2, NumClasses: 2, Labels: []float32{0, 1, 1, 0}}
	loss, err = obj.Loss(scores, swapped)
	require.NoError(t, err)
	require.Greater(t, loss.Data()[0], float32(10))
}
