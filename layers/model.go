package layers

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/petsbench/tensor"
)

// Model is an instantiated ModelSpec: the executable module tree plus the
// configuration it was built from.
type Model struct {
	spec *ModelSpec
	root *Sequential
}

// Instantiate creates trainable modules for a compiled spec, drawing initial
// weights from rng.
func (ms *ModelSpec) Instantiate(rng *rand.Rand) (*Model, error) {
	if !ms.Compiled {
		return nil, fmt.Errorf("model not compiled")
	}
	modules, err := buildModules(ms.Layers, rng)
	if err != nil {
		return nil, err
	}
	return &Model{spec: ms, root: NewSequential(modules...)}, nil
}

func buildModules(specs []LayerSpec, rng *rand.Rand) ([]Module, error) {
	modules := make([]Module, 0, len(specs))
	for _, s := range specs {
		m, err := buildModule(s, rng)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", s.Name, err)
		}
		modules = append(modules, m)
	}
	return modules, nil
}

func buildModule(s LayerSpec, rng *rand.Rand) (Module, error) {
	p := s.Parameters
	switch s.Type {
	case Dense:
		return NewDense(s.Name, getIntParam(p, "input_size", 0), getIntParam(p, "output_size", 0),
			getBoolParam(p, "use_bias", true), rng), nil
	case Conv2D:
		return NewConv2D(s.Name, getIntParam(p, "input_channels", 0), getIntParam(p, "output_channels", 0),
			getIntParam(p, "kernel_size", 0), getIntParam(p, "stride", 1), getIntParam(p, "padding", 0),
			getBoolParam(p, "use_bias", true), rng), nil
	case ReLU:
		return NewReLU(s.Name), nil
	case GlobalAvgPool:
		return NewGlobalAvgPool(s.Name), nil
	case Residual:
		body, err := buildModules(s.Body, rng)
		if err != nil {
			return nil, err
		}
		return NewResidual(s.Name, NewSequential(body...)), nil
	default:
		return nil, fmt.Errorf("unsupported layer type: %s", s.Type)
	}
}

// Spec returns the configuration the model was built from
func (m *Model) Spec() *ModelSpec {
	return m.spec
}

// NumClasses returns the width of the model output
func (m *Model) NumClasses() int {
	return m.spec.OutputShape[len(m.spec.OutputShape)-1]
}

func (m *Model) Forward(x *tensor.Tensor, ctx *ForwardContext) (*tensor.Tensor, error) {
	return m.root.Forward(x, ctx)
}

func (m *Model) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	return m.root.Backward(gradOut)
}

func (m *Model) Parameters() []*Parameter {
	return m.root.Parameters()
}

func (m *Model) Train(training bool) {
	m.root.Train(training)
}

func (m *Model) String() string {
	return fmt.Sprintf("Model(%s, %d parameters)", m.spec.Name, m.spec.TotalParameters)
}
