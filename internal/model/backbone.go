package model

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"roadseg/internal/errs"
)

// Endpoints every backbone artifact must expose.
const (
	EndpointImage    = "image_input"
	EndpointKeepProb = "keep_prob"
	EndpointShallow  = "layer3_out"
	EndpointMid      = "layer4_out"
	EndpointDeep     = "layer7_out"
)

// BackboneTag identifies VGG16-style artifacts.
const BackboneTag = "vgg16"

// RequiredEndpoints lists the tensors the decoder is wired to.
func RequiredEndpoints() []string {
	return []string{EndpointImage, EndpointKeepProb, EndpointShallow, EndpointMid, EndpointDeep}
}

// BackboneSpec describes a VGG-style encoder: five blocks of 3x3 convolutions,
// each followed by a 2x2 max pool, then two convolutional "fully connected" layers.
type BackboneSpec struct {
	InChannels int     `yaml:"in_channels"`
	Blocks     [][]int `yaml:"blocks"`
	FC         []int   `yaml:"fc"`
	FC6Kernel  int     `yaml:"fc6_kernel"`
}

// VGG16Spec is the layout of the pretrained VGG16 encoder.
func VGG16Spec() BackboneSpec {
	return BackboneSpec{
		InChannels: 3,
		Blocks: [][]int{
			{64, 64},
			{128, 128},
			{256, 256, 256},
			{512, 512, 512},
			{512, 512, 512},
		},
		FC:        []int{4096, 4096},
		FC6Kernel: 7,
	}
}

// Validate checks the layout can produce the three tapped feature maps.
func (s BackboneSpec) Validate() error {
	if s.InChannels != 3 {
		return errs.Shape("backbone spec", "in_channels must be 3 (got %d)", s.InChannels)
	}
	if len(s.Blocks) != 5 {
		return errs.Shape("backbone spec", "want 5 conv blocks, got %d", len(s.Blocks))
	}
	for i, block := range s.Blocks {
		if len(block) == 0 {
			return errs.Shape("backbone spec", "block %d has no convolutions", i+1)
		}
		for _, c := range block {
			if c <= 0 {
				return errs.Shape("backbone spec", "block %d has non-positive width %d", i+1, c)
			}
		}
	}
	if len(s.FC) != 2 || s.FC[0] <= 0 || s.FC[1] <= 0 {
		return errs.Shape("backbone spec", "want two positive fc widths, got %v", s.FC)
	}
	if s.FC6Kernel <= 0 || s.FC6Kernel%2 == 0 {
		return errs.Shape("backbone spec", "fc6_kernel must be odd and positive (got %d)", s.FC6Kernel)
	}
	return nil
}

// FeatureShapes are the NCHW shapes of the three tapped encoder outputs.
type FeatureShapes struct {
	Shallow tensor.Shape
	Mid     tensor.Shape
	Deep    tensor.Shape
}

// FeatureShapes reports the tapped shapes for an n x 3 x h x w input.
func (s BackboneSpec) FeatureShapes(n, h, w int) FeatureShapes {
	last := func(block []int) int { return block[len(block)-1] }
	return FeatureShapes{
		Shallow: tensor.Shape{n, last(s.Blocks[2]), h / 8, w / 8},
		Mid:     tensor.Shape{n, last(s.Blocks[3]), h / 16, w / 16},
		Deep:    tensor.Shape{n, s.FC[1], h / 32, w / 32},
	}
}

// Features holds the tapped encoder outputs.
type Features struct {
	Shallow *Tensor // pool3, stride 8
	Mid     *Tensor // pool4, stride 16
	Deep    *Tensor // fc7, stride 32
}

type conv struct {
	name  string
	layer *nn.Conv2D[*Engine]
}

// Backbone is the pretrained encoder. Its layers are owned by a Session once registered.
type Backbone struct {
	spec    BackboneSpec
	engine  *Engine
	blocks  [][]conv
	fc      []conv
	relu    *nn.ReLU[*Engine]
	pool    *nn.MaxPool2D[*Engine]
	dropout *dropout
}

// NewBackbone allocates an encoder with seeded random weights. It is not
// registered in the session; LoadBackbone does that after the weights load.
func NewBackbone(sess *Session, spec BackboneSpec) (*Backbone, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	e := sess.Engine()
	b := &Backbone{
		spec:    spec,
		engine:  e,
		relu:    nn.NewReLU[*Engine](),
		pool:    nn.NewMaxPool2D[*Engine](2, 2, e),
		dropout: &dropout{engine: e, rng: sess.rng},
	}
	in := spec.InChannels
	for i, block := range spec.Blocks {
		layers := make([]conv, 0, len(block))
		for j, out := range block {
			layers = append(layers, conv{
				name:  fmt.Sprintf("conv%d_%d", i+1, j+1),
				layer: nn.NewConv2D(in, out, 3, 3, 1, 1, true, e),
			})
			in = out
		}
		b.blocks = append(b.blocks, layers)
	}
	k := spec.FC6Kernel
	b.fc = []conv{
		{name: "fc6", layer: nn.NewConv2D(in, spec.FC[0], k, k, 1, k/2, true, e)},
		{name: "fc7", layer: nn.NewConv2D(spec.FC[0], spec.FC[1], 1, 1, 1, 0, true, e)},
	}
	sess.initialize(b.Parameters())
	return b, nil
}

// Spec returns the encoder layout.
func (b *Backbone) Spec() BackboneSpec { return b.spec }

// Extract runs the encoder and returns the three tapped feature maps.
// keepProb applies to the dropout after fc6 and fc7; 1 disables it.
func (b *Backbone) Extract(image *Tensor, keepProb float64) (Features, error) {
	shape := image.Shape()
	if len(shape) != 4 || shape[1] != b.spec.InChannels {
		return Features{}, errs.Shape(EndpointImage, "want (N,%d,H,W), got %v", b.spec.InChannels, shape)
	}
	if shape[2]%32 != 0 || shape[3]%32 != 0 {
		return Features{}, errs.Shape(EndpointImage, "spatial size %dx%d is not a multiple of 32", shape[2], shape[3])
	}

	var feats Features
	x := image
	for i, block := range b.blocks {
		for _, c := range block {
			x = b.relu.Forward(c.layer.Forward(x))
		}
		x = b.pool.Forward(x)
		switch i {
		case 2:
			feats.Shallow = x
		case 3:
			feats.Mid = x
		}
	}
	for _, c := range b.fc {
		x = b.relu.Forward(c.layer.Forward(x))
		x = b.dropout.apply(x, keepProb)
	}
	feats.Deep = x
	return feats, nil
}

// Forward returns the deepest feature map without dropout.
func (b *Backbone) Forward(input *Tensor) *Tensor {
	feats, err := b.Extract(input, 1)
	if err != nil {
		panic(err)
	}
	return feats.Deep
}

// Parameters returns every encoder parameter in layer order.
func (b *Backbone) Parameters() []*Param {
	var params []*Param
	for _, l := range b.layers() {
		params = append(params, l.params...)
	}
	return params
}

// StateDict exports the encoder under its layer-scoped names.
func (b *Backbone) StateDict() map[string]*tensor.RawTensor {
	return stateDict(b.variables())
}

// LoadStateDict copies pretrained values in. Nothing changes on error.
func (b *Backbone) LoadStateDict(state map[string]*tensor.RawTensor) error {
	return loadStateDict(b.variables(), state)
}

func (b *Backbone) layers() []namedLayer {
	var out []namedLayer
	for _, block := range b.blocks {
		for _, c := range block {
			out = append(out, namedLayer{name: c.name, params: c.layer.Parameters()})
		}
	}
	for _, c := range b.fc {
		out = append(out, namedLayer{name: c.name, params: c.layer.Parameters()})
	}
	return out
}

func (b *Backbone) variables() []Variable {
	var vars []Variable
	for _, l := range b.layers() {
		for _, p := range l.params {
			vars = append(vars, Variable{Name: VariableName(l.name, p.Name()), Group: GroupBackbone, Param: p})
		}
	}
	return vars
}

// dropout zeroes activations with probability 1-keep and rescales the rest by 1/keep.
type dropout struct {
	engine *Engine
	rng    *rand.Rand
}

func (d *dropout) apply(x *Tensor, keep float64) *Tensor {
	if keep >= 1 {
		return x
	}
	shape := x.Shape()
	mask := make([]float32, shape.NumElements())
	scale := float32(1 / keep)
	for i := range mask {
		if d.rng.Float64() < keep {
			mask[i] = scale
		}
	}
	m, err := tensor.FromSlice[float32, *Engine](mask, shape, d.engine)
	if err != nil {
		panic(err)
	}
	return x.Mul(m)
}
