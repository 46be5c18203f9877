package layers

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/petsbench/memory"
	"github.com/tsawler/petsbench/tensor"
)

// Module is a trainable building block. Forward caches what Backward needs,
// so one module serves a single forward/backward pair at a time.
type Module interface {
	Forward(x *tensor.Tensor, ctx *ForwardContext) (*tensor.Tensor, error)
	// Backward consumes the gradient of the loss w.r.t. the last Forward output,
	// accumulates parameter gradients and returns the gradient w.r.t. its input.
	Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*Parameter
	Train(training bool)
	String() string
}

// Parameter is a learnable float32 array and its accumulated gradient
type Parameter struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

func newParameter(name string, shape []int, data []float32) *Parameter {
	return &Parameter{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  data,
		Grad:  make([]float32, len(data)),
	}
}

// ZeroGrad clears the accumulated gradient
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Numel returns the number of scalars in the parameter
func (p *Parameter) Numel() int {
	return len(p.Data)
}

// ForwardContext carries per-call execution options down the module tree
type ForwardContext struct {
	Training bool
	// HalfPrecision rounds matmul operands and layer outputs to float16
	HalfPrecision bool
	// Pool supplies scratch buffers; nil means plain allocation
	Pool *memory.BufferPool
}

func (c *ForwardContext) half() bool {
	return c != nil && c.HalfPrecision
}

func (c *ForwardContext) scratch(n int) []float32 {
	if c != nil && c.Pool != nil {
		return c.Pool.GetFloat32Buffer(n)
	}
	return make([]float32, n)
}

func (c *ForwardContext) recycle(buf []float32) {
	if c != nil && c.Pool != nil {
		c.Pool.PutFloat32Buffer(buf)
	}
}

// kaimingUniform draws n weights from U(-1/sqrt(fanIn), 1/sqrt(fanIn))
func kaimingUniform(n, fanIn int, rng *rand.Rand) []float32 {
	bound := float32(1 / math.Sqrt(float64(fanIn)))
	data := make([]float32, n)
	for i := range data {
		data[i] = (rng.Float32()*2 - 1) * bound
	}
	return data
}

// withFormat relays a 4D tensor into format; other ranks pass through
func withFormat(t *tensor.Tensor, format tensor.MemoryFormat) (*tensor.Tensor, error) {
	if len(t.Shape) != 4 || t.Format == format {
		return t, nil
	}
	return t.ToMemoryFormat(format)
}

func float32Data(t *tensor.Tensor, what string) ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("%s: nil tensor", what)
	}
	data, err := t.GetFloat32Data()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return data, nil
}
