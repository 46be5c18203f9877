package layers

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/petsbench/tensor"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Conv2DLayer is a 2D convolution computed as im2col followed by a GEMM per sample
type Conv2DLayer struct {
	name        string
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	weight *Parameter // [out, in*k*k]
	bias   *Parameter // nil when the layer has no bias

	input      *tensor.Tensor
	outH, outW int
	training   bool
}

// NewConv2D creates a convolution with uniformly initialised weights
func NewConv2D(name string, inChannels, outChannels, kernelSize, stride, padding int, useBias bool, rng *rand.Rand) *Conv2DLayer {
	fanIn := inChannels * kernelSize * kernelSize
	l := &Conv2DLayer{
		name:        name,
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weight: newParameter(name+".weight", []int{outChannels, inChannels, kernelSize, kernelSize},
			kaimingUniform(outChannels*fanIn, fanIn, rng)),
	}
	if useBias {
		l.bias = newParameter(name+".bias", []int{outChannels}, kaimingUniform(outChannels, fanIn, rng))
	}
	return l
}

func (l *Conv2DLayer) outputSize(h, w int) (int, int) {
	return (h+2*l.padding-l.kernelSize)/l.stride + 1, (w+2*l.padding-l.kernelSize)/l.stride + 1
}

// im2col unfolds sample n of x into cols laid out [C*k*k, outH*outW].
// x is read through its strides, so any memory format works.
func (l *Conv2DLayer) im2col(x *tensor.Tensor, data []float32, n, outH, outW int, cols []float32) {
	h, w := x.Shape[2], x.Shape[3]
	sn, sc, sh, sw := x.Strides[0], x.Strides[1], x.Strides[2], x.Strides[3]
	k := l.kernelSize
	hw := outH * outW

	for c := 0; c < l.inChannels; c++ {
		base := n*sn + c*sc
		for ky := 0; ky < k; ky++ {
			for kx := 0; kx < k; kx++ {
				row := (c*k+ky)*k + kx
				dst := cols[row*hw : (row+1)*hw]
				for oy := 0; oy < outH; oy++ {
					iy := oy*l.stride - l.padding + ky
					for ox := 0; ox < outW; ox++ {
						ix := ox*l.stride - l.padding + kx
						if iy < 0 || iy >= h || ix < 0 || ix >= w {
							dst[oy*outW+ox] = 0
						} else {
							dst[oy*outW+ox] = data[base+iy*sh+ix*sw]
						}
					}
				}
			}
		}
	}
}

// col2im folds cols back into one contiguous [C,H,W] sample, summing overlaps
func (l *Conv2DLayer) col2im(cols []float32, dst []float32, h, w, outH, outW int) {
	k := l.kernelSize
	hw := outH * outW

	for c := 0; c < l.inChannels; c++ {
		plane := dst[c*h*w : (c+1)*h*w]
		for ky := 0; ky < k; ky++ {
			for kx := 0; kx < k; kx++ {
				row := (c*k+ky)*k + kx
				src := cols[row*hw : (row+1)*hw]
				for oy := 0; oy < outH; oy++ {
					iy := oy*l.stride - l.padding + ky
					if iy < 0 || iy >= h {
						continue
					}
					for ox := 0; ox < outW; ox++ {
						ix := ox*l.stride - l.padding + kx
						if ix < 0 || ix >= w {
							continue
						}
						plane[iy*w+ix] += src[oy*outW+ox]
					}
				}
			}
		}
	}
}

// Forward convolves x [N,C,H,W]. The output keeps the memory format of x.
func (l *Conv2DLayer) Forward(x *tensor.Tensor, ctx *ForwardContext) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 || x.Shape[1] != l.inChannels {
		return nil, fmt.Errorf("%s: expected input [N,%d,H,W], got %v", l.name, l.inChannels, x.Shape)
	}
	data, err := float32Data(x, l.name)
	if err != nil {
		return nil, err
	}

	n, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	outH, outW := l.outputSize(h, w)
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("%s: kernel %d does not fit input %dx%d", l.name, l.kernelSize, h, w)
	}
	rows := l.inChannels * l.kernelSize * l.kernelSize
	hw := outH * outW

	weights := l.weight.Data
	if ctx.half() {
		weights = tensor.HalfCopy(weights)
	}

	out := make([]float32, n*l.outChannels*hw)
	cols := ctx.scratch(rows * hw)
	defer ctx.recycle(cols)

	wm := blas32.General{Rows: l.outChannels, Cols: rows, Stride: rows, Data: weights}
	cm := blas32.General{Rows: rows, Cols: hw, Stride: hw, Data: cols}

	for i := 0; i < n; i++ {
		l.im2col(x, data, i, outH, outW, cols)
		if ctx.half() {
			tensor.RoundHalfInPlace(cols)
		}

		om := blas32.General{Rows: l.outChannels, Cols: hw, Stride: hw, Data: out[i*l.outChannels*hw : (i+1)*l.outChannels*hw]}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, wm, cm, 0, om)

		if l.bias != nil {
			for o, b := range l.bias.Data {
				seg := om.Data[o*hw : (o+1)*hw]
				for j := range seg {
					seg[j] += b
				}
			}
		}
	}

	if ctx.half() {
		tensor.RoundHalfInPlace(out)
	}

	l.input = x
	l.outH, l.outW = outH, outW

	result, err := tensor.NewTensor([]int{n, l.outChannels, outH, outW}, tensor.Float32, x.Device, out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.name, err)
	}
	return withFormat(result, x.Format)
}

// Backward accumulates weight and bias gradients and returns a contiguous input gradient
func (l *Conv2DLayer) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.input == nil {
		return nil, fmt.Errorf("%s: backward called before forward", l.name)
	}
	g, err := withFormat(gradOut, tensor.Contiguous)
	if err != nil {
		return nil, err
	}
	gd, err := float32Data(g, l.name)
	if err != nil {
		return nil, err
	}

	x := l.input
	data, _ := x.GetFloat32Data()
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outH, outW := l.outH, l.outW
	rows := c * l.kernelSize * l.kernelSize
	hw := outH * outW
	if len(gd) != n*l.outChannels*hw {
		return nil, fmt.Errorf("%s: gradient has %d elements, expected %d", l.name, len(gd), n*l.outChannels*hw)
	}

	cols := make([]float32, rows*hw)
	dcols := make([]float32, rows*hw)
	dx := make([]float32, n*c*h*w)

	wm := blas32.General{Rows: l.outChannels, Cols: rows, Stride: rows, Data: l.weight.Data}
	dwm := blas32.General{Rows: l.outChannels, Cols: rows, Stride: rows, Data: l.weight.Grad}
	cm := blas32.General{Rows: rows, Cols: hw, Stride: hw, Data: cols}
	dcm := blas32.General{Rows: rows, Cols: hw, Stride: hw, Data: dcols}

	for i := 0; i < n; i++ {
		l.im2col(x, data, i, outH, outW, cols)
		gm := blas32.General{Rows: l.outChannels, Cols: hw, Stride: hw, Data: gd[i*l.outChannels*hw : (i+1)*l.outChannels*hw]}

		// dW += g * cols^T
		blas32.Gemm(blas.NoTrans, blas.Trans, 1, gm, cm, 1, dwm)

		if l.bias != nil {
			for o := range l.bias.Grad {
				var sum float32
				for _, v := range gm.Data[o*hw : (o+1)*hw] {
					sum += v
				}
				l.bias.Grad[o] += sum
			}
		}

		// dcols = W^T * g
		blas32.Gemm(blas.Trans, blas.NoTrans, 1, wm, gm, 0, dcm)
		l.col2im(dcols, dx[i*c*h*w:(i+1)*c*h*w], h, w, outH, outW)
	}

	return tensor.NewTensor([]int{n, c, h, w}, tensor.Float32, x.Device, dx)
}

func (l *Conv2DLayer) Parameters() []*Parameter {
	if l.bias == nil {
		return []*Parameter{l.weight}
	}
	return []*Parameter{l.weight, l.bias}
}

func (l *Conv2DLayer) Train(training bool) {
	l.training = training
}

func (l *Conv2DLayer) String() string {
	return fmt.Sprintf("Conv2D(%s: %d->%d, k=%d, s=%d, p=%d)", l.name, l.inChannels, l.outChannels, l.kernelSize, l.stride, l.padding)
}
