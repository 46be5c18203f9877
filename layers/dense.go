package layers

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/petsbench/tensor"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// DenseLayer is a fully connected layer y = x W^T + b. Inputs with more than
// two dimensions are flattened per sample.
type DenseLayer struct {
	name       string
	inputSize  int
	outputSize int

	weight *Parameter // [out, in]
	bias   *Parameter

	input      []float32
	inputShape []int
	device     tensor.DeviceType
	training   bool
}

// NewDense creates a dense layer with uniformly initialised weights
func NewDense(name string, inputSize, outputSize int, useBias bool, rng *rand.Rand) *DenseLayer {
	l := &DenseLayer{
		name:       name,
		inputSize:  inputSize,
		outputSize: outputSize,
		weight:     newParameter(name+".weight", []int{outputSize, inputSize}, kaimingUniform(outputSize*inputSize, inputSize, rng)),
	}
	if useBias {
		l.bias = newParameter(name+".bias", []int{outputSize}, kaimingUniform(outputSize, inputSize, rng))
	}
	return l
}

func (l *DenseLayer) Forward(x *tensor.Tensor, ctx *ForwardContext) (*tensor.Tensor, error) {
	x, err := withFormat(x, tensor.Contiguous)
	if err != nil {
		return nil, err
	}
	data, err := float32Data(x, l.name)
	if err != nil {
		return nil, err
	}
	if len(x.Shape) < 2 || len(data)/x.Shape[0] != l.inputSize {
		return nil, fmt.Errorf("%s: expected %d features per sample, got shape %v", l.name, l.inputSize, x.Shape)
	}
	n := x.Shape[0]

	inputs, weights := data, l.weight.Data
	if ctx.half() {
		inputs = tensor.HalfCopy(inputs)
		weights = tensor.HalfCopy(weights)
	}

	out := make([]float32, n*l.outputSize)
	xm := blas32.General{Rows: n, Cols: l.inputSize, Stride: l.inputSize, Data: inputs}
	wm := blas32.General{Rows: l.outputSize, Cols: l.inputSize, Stride: l.inputSize, Data: weights}
	om := blas32.General{Rows: n, Cols: l.outputSize, Stride: l.outputSize, Data: out}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, xm, wm, 0, om)

	if l.bias != nil {
		for i := 0; i < n; i++ {
			row := out[i*l.outputSize : (i+1)*l.outputSize]
			for j, b := range l.bias.Data {
				row[j] += b
			}
		}
	}
	if ctx.half() {
		tensor.RoundHalfInPlace(out)
	}

	l.input = data
	l.inputShape = append(l.inputShape[:0], x.Shape...)
	l.device = x.Device

	return tensor.NewTensor([]int{n, l.outputSize}, tensor.Float32, x.Device, out)
}

func (l *DenseLayer) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.input == nil {
		return nil, fmt.Errorf("%s: backward called before forward", l.name)
	}
	gd, err := float32Data(gradOut, l.name)
	if err != nil {
		return nil, err
	}
	n := l.inputShape[0]
	if len(gd) != n*l.outputSize {
		return nil, fmt.Errorf("%s: gradient has %d elements, expected %d", l.name, len(gd), n*l.outputSize)
	}

	gm := blas32.General{Rows: n, Cols: l.outputSize, Stride: l.outputSize, Data: gd}
	xm := blas32.General{Rows: n, Cols: l.inputSize, Stride: l.inputSize, Data: l.input}
	wm := blas32.General{Rows: l.outputSize, Cols: l.inputSize, Stride: l.inputSize, Data: l.weight.Data}
	dwm := blas32.General{Rows: l.outputSize, Cols: l.inputSize, Stride: l.inputSize, Data: l.weight.Grad}

	// dW += g^T x
	blas32.Gemm(blas.Trans, blas.NoTrans, 1, gm, xm, 1, dwm)

	if l.bias != nil {
		for i := 0; i < n; i++ {
			for j, v := range gd[i*l.outputSize : (i+1)*l.outputSize] {
				l.bias.Grad[j] += v
			}
		}
	}

	// dx = g W
	dx := make([]float32, n*l.inputSize)
	dxm := blas32.General{Rows: n, Cols: l.inputSize, Stride: l.inputSize, Data: dx}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, gm, wm, 0, dxm)

	return tensor.NewTensor(l.inputShape, tensor.Float32, l.device, dx)
}

func (l *DenseLayer) Parameters() []*Parameter {
	if l.bias == nil {
		return []*Parameter{l.weight}
	}
	return []*Parameter{l.weight, l.bias}
}

func (l *DenseLayer) Train(training bool) {
	l.training = training
}

func (l *DenseLayer) String() string {
	return fmt.Sprintf("Dense(%s: %d->%d)", l.name, l.inputSize, l.outputSize)
}
