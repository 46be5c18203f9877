package layers

import (
	"fmt"

	"github.com/tsawler/petsbench/tensor"
)

// ReLULayer applies max(0, x) element-wise, preserving shape and memory format
type ReLULayer struct {
	name   string
	output *tensor.Tensor
}

func NewReLU(name string) *ReLULayer {
	return &ReLULayer{name: name}
}

func (l *ReLULayer) Forward(x *tensor.Tensor, ctx *ForwardContext) (*tensor.Tensor, error) {
	out, err := x.Clone()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.name, err)
	}
	data, err := float32Data(out, l.name)
	if err != nil {
		return nil, err
	}
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
	l.output = out
	return out, nil
}

func (l *ReLULayer) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.output == nil {
		return nil, fmt.Errorf("%s: backward called before forward", l.name)
	}
	g, err := withFormat(gradOut, l.output.Format)
	if err != nil {
		return nil, err
	}
	gd, err := float32Data(g, l.name)
	if err != nil {
		return nil, err
	}
	mask, _ := l.output.GetFloat32Data()
	if len(gd) != len(mask) {
		return nil, fmt.Errorf("%s: gradient has %d elements, expected %d", l.name, len(gd), len(mask))
	}

	dx, err := g.Clone()
	if err != nil {
		return nil, err
	}
	dd, _ := dx.GetFloat32Data()
	for i := range dd {
		if mask[i] <= 0 {
			dd[i] = 0
		}
	}
	return dx, nil
}

func (l *ReLULayer) Parameters() []*Parameter { return nil }

func (l *ReLULayer) Train(bool) {}

func (l *ReLULayer) String() string {
	return fmt.Sprintf("ReLU(%s)", l.name)
}
