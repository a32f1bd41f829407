package errs

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestErrorText(t *testing.T) {
	require.Equal(t, "load: manifest: tag missing", Load("manifest", "tag %s", "missing").Error())
	require.Equal(t, "shape: bad", (&ShapeError{Err: errors.New("bad")}).Error())
}

func TestWrapKeepsCause(t *testing.T) {
	err := WrapLoad("variables", io.ErrUnexpectedEOF)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, "variables", lerr.Op)

	require.NoError(t, WrapLoad("x", nil))
	require.NoError(t, WrapRun("x", nil))
}

func TestWrapRunLeavesClassifiedErrors(t *testing.T) {
	shape := Shape("decoder", "mismatch")
	require.Same(t, shape, WrapRun("step", shape))

	wrapped := WrapRun("step", errors.Wrap(shape, "context"))
	var serr *ShapeError
	require.ErrorAs(t, wrapped, &serr)

	var rerr *RunError
	require.ErrorAs(t, WrapRun("step", io.EOF), &rerr)
}

func TestClassified(t *testing.T) {
	require.True(t, Classified(Config("validate", "bad")))
	require.True(t, Classified(errors.Wrap(Run("step", "nan"), "epoch 1")))
	require.False(t, Classified(io.EOF))
	require.False(t, Classified(nil))
}
