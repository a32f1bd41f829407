package model

import (
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"roadseg/internal/errs"
)

// UpConv is a learned transposed convolution with "same"-style padding: an
// input of height h comes out at h*stride.
//
// It is computed as zero insertion followed by a stride-1 convolution. The
// zero insertion is two matrix products against constant 0/1 spreading
// matrices, so gradients flow through the tape without a dedicated kernel.
type UpConv struct {
	kernel   int
	stride   int
	conv     *nn.Conv2D[*Engine]
	engine   *Engine
	spreader map[int]*Tensor
}

// NewUpConv builds a kernel x kernel upsampling layer. kernel-stride must be even.
func NewUpConv(e *Engine, in, out, kernel, stride int) (*UpConv, error) {
	if stride < 1 || kernel < stride || (kernel-stride)%2 != 0 {
		return nil, errs.Shape("upconv", "kernel %d with stride %d cannot keep size x%d", kernel, stride, stride)
	}
	pad := (kernel - stride) / 2
	return &UpConv{
		kernel:   kernel,
		stride:   stride,
		conv:     nn.NewConv2D(in, out, kernel, kernel, 1, kernel-1-pad, true, e),
		engine:   e,
		spreader: make(map[int]*Tensor),
	}, nil
}

// Forward upsamples an NCHW tensor by the layer's stride.
func (u *UpConv) Forward(x *Tensor) *Tensor {
	if u.stride > 1 {
		x = u.dilate(x)
	}
	return u.conv.Forward(x)
}

// OutputShape is the shape Forward produces for in.
func (u *UpConv) OutputShape(in tensor.Shape) tensor.Shape {
	return tensor.Shape{in[0], u.conv.OutChannels(), in[2] * u.stride, in[3] * u.stride}
}

// Parameters returns the kernel and bias.
func (u *UpConv) Parameters() []*Param { return u.conv.Parameters() }

// dilate inserts stride-1 zeros between neighbouring pixels along H and W.
func (u *UpConv) dilate(x *Tensor) *Tensor {
	s := x.Shape()
	n, c, h, w := s[0], s[1], s[2], s[3]
	dh, dw := (h-1)*u.stride+1, (w-1)*u.stride+1

	x = x.Reshape(n*c*h, w).MatMul(u.spread(w))
	x = x.Reshape(n, c, h, dw).Transpose(0, 1, 3, 2)
	x = x.Reshape(n*c*dw, h).MatMul(u.spread(h))
	return x.Reshape(n, c, dw, dh).Transpose(0, 1, 3, 2)
}

// spread returns the (size, dilated size) matrix mapping index i to i*stride.
func (u *UpConv) spread(size int) *Tensor {
	if m, ok := u.spreader[size]; ok {
		return m
	}
	cols := (size-1)*u.stride + 1
	data := make([]float32, size*cols)
	for i := 0; i < size; i++ {
		data[i*cols+i*u.stride] = 1
	}
	m, err := tensor.FromSlice[float32, *Engine](data, tensor.Shape{size, cols}, u.engine)
	if err != nil {
		panic(err)
	}
	u.spreader[size] = m
	return m
}
