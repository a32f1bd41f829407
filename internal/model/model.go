package model

import (
	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"roadseg/internal/errs"
)

// Engine is the CPU backend wrapped by born's gradient tape.
type Engine = autodiff.Backend[*cpu.Backend]

// Tensor is a float32 tensor living on the Engine.
type Tensor = tensor.Tensor[float32, *Engine]

// Param is a named trainable tensor.
type Param = nn.Parameter[*Engine]

// NewEngine returns a fresh CPU engine with an empty tape.
func NewEngine() *Engine {
	return autodiff.New(cpu.New())
}

// Batch represents a minibatch of images and one-hot road masks.
//
// Images are laid out (Size, 3, Height, Width) with values in [0,1].
// Labels are laid out (Size, Height, Width, NumClasses).
type Batch struct {
	Size       int
	Height     int
	Width      int
	NumClasses int
	Images     []float32
	Labels     []float32
}

// StepResult is what one optimizer step reports back to the loop.
type StepResult struct {
	Step int
	Loss float64
}

// Model defines the training functionality required by the loop.
type Model interface {
	TrainStep(batch Batch) (StepResult, error)
}

// Validate checks the batch against the network's fixed input contract.
func (b Batch) Validate(numClasses, height, width int) error {
	if b.NumClasses != numClasses {
		return errs.Config("batch", "label channels %d do not match model classes %d", b.NumClasses, numClasses)
	}
	if b.Size < 1 {
		return errs.Shape("batch", "empty batch")
	}
	if b.Height != height || b.Width != width {
		return errs.Shape("batch", "image size %dx%d, network expects %dx%d", b.Height, b.Width, height, width)
	}
	if want := b.Size * 3 * height * width; len(b.Images) != want {
		return errs.Shape("batch", "image buffer holds %d values, want %d", len(b.Images), want)
	}
	if want := b.Size * height * width * numClasses; len(b.Labels) != want {
		return errs.Shape("batch", "label buffer holds %d values, want %d", len(b.Labels), want)
	}
	return nil
}

// LabelShape is the NHWC shape of the label buffer.
func (b Batch) LabelShape() tensor.Shape {
	return tensor.Shape{b.Size, b.Height, b.Width, b.NumClasses}
}
