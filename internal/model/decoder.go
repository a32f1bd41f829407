package model

import (
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"roadseg/internal/errs"
)

// Decoder layer names as they appear in the variable scope.
const (
	LayerBottleneck = "fcn8"
	LayerUpMid      = "fcn9"
	LayerUpShallow  = "fcn10_conv2d"
	LayerUpFull     = "fcn11"
)

// Decoder turns the three encoder taps into per-pixel class scores at input resolution.
type Decoder struct {
	shapes     FeatureShapes
	numClasses int

	fcn8  *nn.Conv2D[*Engine]
	fcn9  *UpConv
	fcn10 *UpConv
	fcn11 *UpConv
}

// BuildDecoder creates the FCN-8 decoder for the given feature shapes and
// registers its variables in the session.
func BuildDecoder(sess *Session, shapes FeatureShapes, numClasses int) (*Decoder, error) {
	if numClasses < 1 {
		return nil, errs.Shape("build decoder", "num_classes must be positive (got %d)", numClasses)
	}
	if err := checkPyramid(shapes); err != nil {
		return nil, err
	}
	e := sess.Engine()
	mid, shallow := shapes.Mid[1], shapes.Shallow[1]

	d := &Decoder{
		shapes:     shapes,
		numClasses: numClasses,
		fcn8:       nn.NewConv2D(shapes.Deep[1], numClasses, 1, 1, 1, 0, true, e),
	}
	var err error
	if d.fcn9, err = NewUpConv(e, numClasses, mid, 4, 2); err != nil {
		return nil, err
	}
	if d.fcn10, err = NewUpConv(e, mid, shallow, 4, 2); err != nil {
		return nil, err
	}
	if d.fcn11, err = NewUpConv(e, shallow, numClasses, 16, 8); err != nil {
		return nil, err
	}

	layers := d.layers()
	for _, l := range layers {
		sess.initialize(l.params)
	}
	if err := sess.register(GroupDecoder, layers); err != nil {
		return nil, errs.Shape("build decoder", "%v", err)
	}
	return d, nil
}

// checkPyramid verifies each tap is exactly twice the spatial size of the next deeper one.
func checkPyramid(s FeatureShapes) error {
	names := []string{EndpointShallow, EndpointMid, EndpointDeep}
	for i, shape := range []tensor.Shape{s.Shallow, s.Mid, s.Deep} {
		if len(shape) != 4 {
			return errs.Shape("build decoder", "%s must be rank 4 NCHW, got %v", names[i], shape)
		}
	}
	if s.Shallow[0] != s.Mid[0] || s.Mid[0] != s.Deep[0] {
		return errs.Shape("build decoder", "batch sizes differ: %d, %d, %d", s.Shallow[0], s.Mid[0], s.Deep[0])
	}
	if s.Mid[2] != 2*s.Deep[2] || s.Mid[3] != 2*s.Deep[3] {
		return errs.Shape("build decoder", "%s %v is not twice %s %v", EndpointMid, s.Mid, EndpointDeep, s.Deep)
	}
	if s.Shallow[2] != 2*s.Mid[2] || s.Shallow[3] != 2*s.Mid[3] {
		return errs.Shape("build decoder", "%s %v is not twice %s %v", EndpointShallow, s.Shallow, EndpointMid, s.Mid)
	}
	return nil
}

// ScoreShape is the output shape for a batch of n images.
func (d *Decoder) ScoreShape(n int) tensor.Shape {
	return tensor.Shape{n, d.numClasses, d.shapes.Shallow[2] * 8, d.shapes.Shallow[3] * 8}
}

// Forward produces (N, numClasses, H, W) scores from the encoder taps.
func (d *Decoder) Forward(f Features) (*Tensor, error) {
	if f.Shallow == nil || f.Mid == nil || f.Deep == nil {
		return nil, errs.Shape("decoder", "missing feature map")
	}
	n := f.Deep.Shape()[0]
	for _, c := range []struct {
		name      string
		got, want tensor.Shape
	}{
		{EndpointShallow, f.Shallow.Shape(), d.shapes.Shallow},
		{EndpointMid, f.Mid.Shape(), d.shapes.Mid},
		{EndpointDeep, f.Deep.Shape(), d.shapes.Deep},
	} {
		if len(c.got) != 4 || c.got[0] != n || c.got[1] != c.want[1] || c.got[2] != c.want[2] || c.got[3] != c.want[3] {
			return nil, errs.Shape("decoder", "%s is %v, built for %v", c.name, c.got, c.want)
		}
	}

	x := d.fcn8.Forward(f.Deep)
	x = d.fcn9.Forward(x).Add(f.Mid)
	x = d.fcn10.Forward(x).Add(f.Shallow)
	return d.fcn11.Forward(x), nil
}

// Parameters returns the decoder's weights in layer order.
func (d *Decoder) Parameters() []*Param {
	var params []*Param
	for _, l := range d.layers() {
		params = append(params, l.params...)
	}
	return params
}

func (d *Decoder) layers() []namedLayer {
	return []namedLayer{
		{name: LayerBottleneck, params: d.fcn8.Parameters()},
		{name: LayerUpMid, params: d.fcn9.Parameters()},
		{name: LayerUpShallow, params: d.fcn10.Parameters()},
		{name: LayerUpFull, params: d.fcn11.Parameters()},
	}
}
