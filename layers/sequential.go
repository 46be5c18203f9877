package layers

import (
	"fmt"
	"strings"

	"github.com/tsawler/petsbench/tensor"
)

// Sequential runs its modules one after another
type Sequential struct {
	modules []Module
}

func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules}
}

func (s *Sequential) Forward(x *tensor.Tensor, ctx *ForwardContext) (*tensor.Tensor, error) {
	var err error
	for _, m := range s.modules {
		if x, err = m.Forward(x, ctx); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func (s *Sequential) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i := len(s.modules) - 1; i >= 0; i-- {
		if gradOut, err = s.modules[i].Backward(gradOut); err != nil {
			return nil, err
		}
	}
	return gradOut, nil
}

func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

func (s *Sequential) Train(training bool) {
	for _, m := range s.modules {
		m.Train(training)
	}
}

func (s *Sequential) String() string {
	parts := make([]string, len(s.modules))
	for i, m := range s.modules {
		parts[i] = m.String()
	}
	return fmt.Sprintf("Sequential(%s)", strings.Join(parts, ", "))
}

// ResidualBlock computes x + body(x)
type ResidualBlock struct {
	name string
	body *Sequential
}

func NewResidual(name string, body *Sequential) *ResidualBlock {
	return &ResidualBlock{name: name, body: body}
}

func (r *ResidualBlock) Forward(x *tensor.Tensor, ctx *ForwardContext) (*tensor.Tensor, error) {
	y, err := r.body.Forward(x, ctx)
	if err != nil {
		return nil, err
	}
	if y, err = withFormat(y, x.Format); err != nil {
		return nil, err
	}

	out, err := x.Clone()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.name, err)
	}
	od, _ := out.GetFloat32Data()
	yd, err := float32Data(y, r.name)
	if err != nil {
		return nil, err
	}
	if len(od) != len(yd) {
		return nil, fmt.Errorf("%s: body output %v does not match input %v", r.name, y.Shape, x.Shape)
	}
	for i, v := range yd {
		od[i] += v
	}
	if ctx.half() {
		tensor.RoundHalfInPlace(od)
	}
	return out, nil
}

func (r *ResidualBlock) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	g, err := withFormat(gradOut, tensor.Contiguous)
	if err != nil {
		return nil, err
	}
	gBody, err := r.body.Backward(g)
	if err != nil {
		return nil, err
	}
	if gBody, err = withFormat(gBody, tensor.Contiguous); err != nil {
		return nil, err
	}

	dx, err := g.Clone()
	if err != nil {
		return nil, err
	}
	dd, _ := dx.GetFloat32Data()
	bd, err := float32Data(gBody, r.name)
	if err != nil {
		return nil, err
	}
	for i, v := range bd {
		dd[i] += v
	}
	return dx, nil
}

func (r *ResidualBlock) Parameters() []*Parameter {
	return r.body.Parameters()
}

func (r *ResidualBlock) Train(training bool) {
	r.body.Train(training)
}

func (r *ResidualBlock) String() string {
	return fmt.Sprintf("Residual(%s: %s)", r.name, r.body)
}
