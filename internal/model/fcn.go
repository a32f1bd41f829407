package model

import (
	"math"

	"github.com/born-ml/born/tensor"

	"roadseg/internal/errs"
)

// BuildConfig carries the hyperparameters fixed at graph-build time.
type BuildConfig struct {
	NumClasses     int
	Height         int
	Width          int
	BatchSize      int
	LearningRate   float64
	KeepProb       float64
	FreezeBackbone bool
}

// FCN is the assembled network: backbone, decoder and objective sharing one session.
type FCN struct {
	sess      *Session
	backbone  *Backbone
	decoder   *Decoder
	objective *Objective
	cfg       BuildConfig
	step      int
}

var _ Model = (*FCN)(nil)

// Build wires the decoder and objective onto a loaded backbone.
func Build(sess *Session, backbone *Backbone, cfg BuildConfig) (*FCN, error) {
	if backbone == nil {
		return nil, errs.Config("build", "backbone is not loaded")
	}
	if cfg.KeepProb <= 0 || cfg.KeepProb > 1 {
		return nil, errs.Config("build", "keep probability must be in (0,1] (got %g)", cfg.KeepProb)
	}
	if cfg.BatchSize < 1 {
		return nil, errs.Config("build", "batch size must be >= 1 (got %d)", cfg.BatchSize)
	}
	if cfg.Height%32 != 0 || cfg.Width%32 != 0 || cfg.Height <= 0 || cfg.Width <= 0 {
		return nil, errs.Shape("build", "input %dx%d is not a positive multiple of 32", cfg.Height, cfg.Width)
	}
	decoder, err := BuildDecoder(sess, backbone.Spec().FeatureShapes(cfg.BatchSize, cfg.Height, cfg.Width), cfg.NumClasses)
	if err != nil {
		return nil, err
	}
	if cfg.FreezeBackbone {
		sess.SetTrainable(GroupBackbone, false)
	}
	labels := tensor.Shape{cfg.BatchSize, cfg.Height, cfg.Width, cfg.NumClasses}
	objective, err := NewObjective(sess, decoder.ScoreShape(cfg.BatchSize), labels, cfg.LearningRate, cfg.NumClasses)
	if err != nil {
		return nil, err
	}
	return &FCN{sess: sess, backbone: backbone, decoder: decoder, objective: objective, cfg: cfg}, nil
}

// Session returns the execution context the network lives in.
func (f *FCN) Session() *Session { return f.sess }

// Steps is the number of optimizer updates applied so far.
func (f *FCN) Steps() int { return f.step }

// TrainStep runs forward, loss, backward and one Adam update on batch.
func (f *FCN) TrainStep(batch Batch) (res StepResult, err error) {
	if err := batch.Validate(f.cfg.NumClasses, f.cfg.Height, f.cfg.Width); err != nil {
		return StepResult{}, err
	}
	tape := f.sess.Engine().Tape()
	defer func() {
		tape.StopRecording()
		tape.Clear()
		if r := recover(); r != nil {
			err = errs.Run("train step", "step %d: %v", f.step+1, r)
		}
	}()
	tape.Clear()
	tape.StartRecording()

	scores, err := f.scores(batch.Images, batch.Size, f.cfg.KeepProb)
	if err != nil {
		return StepResult{}, err
	}
	loss, err := f.objective.Loss(scores, batch)
	if err != nil {
		return StepResult{}, err
	}
	value := float64(loss.Data()[0])
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return StepResult{}, errs.Run("train step", "step %d: loss is %v", f.step+1, value)
	}
	f.objective.Minimize(loss)
	f.step++
	return StepResult{Step: f.step, Loss: value}, nil
}

// Evaluate reports the loss on batch without dropout and without updating weights.
func (f *FCN) Evaluate(batch Batch) (loss float64, err error) {
	if err := batch.Validate(f.cfg.NumClasses, f.cfg.Height, f.cfg.Width); err != nil {
		return 0, err
	}
	defer func() {
		if r := recover(); r != nil {
			err = errs.Run("evaluate", "%v", r)
		}
	}()
	scores, err := f.scores(batch.Images, batch.Size, 1)
	if err != nil {
		return 0, err
	}
	t, err := f.objective.Loss(scores, batch)
	if err != nil {
		return 0, err
	}
	return float64(t.Data()[0]), nil
}

// Scores runs inference on n images laid out (n,3,H,W) and returns raw class scores.
func (f *FCN) Scores(images []float32, n int) ([]float32, error) {
	scores, err := f.scores(images, n, 1)
	if err != nil {
		return nil, err
	}
	return append([]float32(nil), scores.Data()...), nil
}

// Predict returns the per-pixel road probability, laid out (n,H,W).
func (f *FCN) Predict(images []float32, n int) (probs []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Run("predict", "%v", r)
		}
	}()
	scores, err := f.Scores(images, n)
	if err != nil {
		return nil, err
	}
	return roadProbability(scores, n, f.cfg.NumClasses, f.cfg.Height*f.cfg.Width), nil
}

// Height and Width are the fixed input resolution.
func (f *FCN) Height() int { return f.cfg.Height }
func (f *FCN) Width() int  { return f.cfg.Width }

func (f *FCN) scores(images []float32, n int, keep float64) (*Tensor, error) {
	if want := n * 3 * f.cfg.Height * f.cfg.Width; n < 1 || len(images) != want {
		return nil, errs.Shape(EndpointImage, "got %d values for %d images, want %d", len(images), n, want)
	}
	x, err := tensor.FromSlice[float32, *Engine](images, tensor.Shape{n, 3, f.cfg.Height, f.cfg.Width}, f.sess.Engine())
	if err != nil {
		return nil, errs.Shape(EndpointImage, "%v", err)
	}
	feats, err := f.backbone.Extract(x, keep)
	if err != nil {
		return nil, err
	}
	return f.decoder.Forward(feats)
}

// roadProbability applies a softmax over the class axis of NCHW scores and
// keeps the last class, which is road.
func roadProbability(scores []float32, n, classes, pixels int) []float32 {
	out := make([]float32, n*pixels)
	road := classes - 1
	for i := 0; i < n; i++ {
		base := i * classes * pixels
		for p := 0; p < pixels; p++ {
			maxv := scores[base+p]
			for c := 1; c < classes; c++ {
				maxv = max(maxv, scores[base+c*pixels+p])
			}
			var sum float64
			for c := 0; c < classes; c++ {
				sum += math.Exp(float64(scores[base+c*pixels+p] - maxv))
			}
			out[i*pixels+p] = float32(math.Exp(float64(scores[base+road*pixels+p]-maxv)) / sum)
		}
	}
	return out
}
