package model

import (
	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"

	"roadseg/internal/errs"
)

// Adam hyperparameters besides the learning rate.
const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// Objective is the pixel-wise softmax cross-entropy loss and the Adam
// optimizer over the session's trainable variables.
type Objective struct {
	engine       *Engine
	numClasses   int
	scoreShape   tensor.Shape
	learningRate float64
	adam         *optim.Adam[*Engine]
}

// NewObjective validates the score/label contract and creates the optimizer.
// Call it after the backbone and decoder are registered and any freezing is applied.
func NewObjective(sess *Session, scoreShape, labelShape tensor.Shape, learningRate float64, numClasses int) (*Objective, error) {
	if learningRate <= 0 {
		return nil, errs.Config("objective", "learning rate must be > 0 (got %g)", learningRate)
	}
	if len(scoreShape) != 4 || scoreShape[1] != numClasses {
		return nil, errs.Shape("objective", "scores %v must be (N,%d,H,W)", scoreShape, numClasses)
	}
	if len(labelShape) != 4 || labelShape[3] != numClasses {
		return nil, errs.Shape("objective", "labels %v must be (N,H,W,%d)", labelShape, numClasses)
	}
	if labelShape[1] != scoreShape[2] || labelShape[2] != scoreShape[3] {
		return nil, errs.Shape("objective", "labels %v do not cover scores %v", labelShape, scoreShape)
	}
	params := sess.TrainableParams()
	if len(params) == 0 {
		return nil, errs.Config("objective", "no trainable variables")
	}
	return &Objective{
		engine:       sess.Engine(),
		numClasses:   numClasses,
		scoreShape:   scoreShape,
		learningRate: learningRate,
		adam: optim.NewAdam(params, optim.AdamConfig{
			LR:    float32(learningRate),
			Betas: [2]float32{adamBeta1, adamBeta2},
			Eps:   adamEps,
		}, sess.Engine()),
	}, nil
}

// LearningRate returns the configured step size.
func (o *Objective) LearningRate() float64 { return o.learningRate }

// Logits flattens NCHW scores to (N*H*W, numClasses), one row per pixel.
func (o *Objective) Logits(scores *Tensor) *Tensor {
	s := scores.Shape()
	return scores.Transpose(0, 2, 3, 1).Reshape(s[0]*s[2]*s[3], s[1])
}

// Loss is the mean cross-entropy over every pixel of the batch.
func (o *Objective) Loss(scores *Tensor, batch Batch) (*Tensor, error) {
	s := scores.Shape()
	if len(s) != 4 || s[0] != batch.Size || s[1] != o.numClasses || s[2] != o.scoreShape[2] || s[3] != o.scoreShape[3] {
		return nil, errs.Shape("loss", "scores %v do not match (%d,%d,%d,%d)", s, batch.Size, o.numClasses, o.scoreShape[2], o.scoreShape[3])
	}
	if batch.NumClasses != o.numClasses {
		return nil, errs.Config("loss", "label channels %d do not match model classes %d", batch.NumClasses, o.numClasses)
	}
	targets, err := o.targets(batch)
	if err != nil {
		return nil, err
	}
	raw := o.engine.CrossEntropy(o.Logits(scores).Raw(), targets.Raw())
	return tensor.New[float32, *Engine](raw, o.engine), nil
}

// targets reduces one-hot labels to one class index per pixel.
func (o *Objective) targets(batch Batch) (*tensor.Tensor[int32, *Engine], error) {
	pixels := batch.Size * batch.Height * batch.Width
	if len(batch.Labels) != pixels*o.numClasses {
		return nil, errs.Shape("loss", "label buffer holds %d values, want %d", len(batch.Labels), pixels*o.numClasses)
	}
	idx := make([]int32, pixels)
	for p := range idx {
		row := batch.Labels[p*o.numClasses : (p+1)*o.numClasses]
		best := 0
		for c := 1; c < len(row); c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		idx[p] = int32(best)
	}
	t, err := tensor.FromSlice[int32, *Engine](idx, tensor.Shape{pixels}, o.engine)
	if err != nil {
		return nil, errs.Shape("loss", "%v", err)
	}
	return t, nil
}

// Minimize backpropagates loss through the recorded tape and applies one Adam update.
func (o *Objective) Minimize(loss *Tensor) {
	grads := autodiff.Backward(loss, o.engine)
	o.adam.Step(grads)
}
