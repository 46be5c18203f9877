package optimizer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tsawler/petsbench/layers"
)

// ErrUnknownOptimizer is returned when an optimizer name is not registered
var ErrUnknownOptimizer = errors.New("unknown optimizer")

// Optimizer defines the common interface for all optimizers. Per-parameter
// state is created lazily on the first Step that sees a parameter.
type Optimizer interface {
	// Step applies one update to every parameter from its accumulated gradient
	Step(params []*layers.Parameter) error

	// ZeroGrad clears the gradients of params
	ZeroGrad(params []*layers.Parameter)

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// Name returns the registry name of the optimizer
	Name() string
}

// constructors maps the accepted optimizer names to their builders. The
// learning rate passed to New replaces the configured default.
var constructors = map[string]func(lr float32) Optimizer{
	"SGD": func(lr float32) Optimizer {
		c := DefaultSGDConfig()
		c.LearningRate = lr
		return NewSGDOptimizer(c)
	},
	"Adam": func(lr float32) Optimizer {
		c := DefaultAdamConfig()
		c.LearningRate = lr
		return NewAdamOptimizer(c)
	},
	"AdamW": func(lr float32) Optimizer {
		c := DefaultAdamWConfig()
		c.LearningRate = lr
		return NewAdamWOptimizer(c)
	},
	"RMSprop": func(lr float32) Optimizer {
		c := DefaultRMSPropConfig()
		c.LearningRate = lr
		return NewRMSPropOptimizer(c)
	},
	"Adagrad": func(lr float32) Optimizer {
		c := DefaultAdaGradConfig()
		c.LearningRate = lr
		return NewAdaGradOptimizer(c)
	},
	"Adadelta": func(lr float32) Optimizer {
		c := DefaultAdaDeltaConfig()
		c.LearningRate = lr
		return NewAdaDeltaOptimizer(c)
	},
	"NAdam": func(lr float32) Optimizer {
		c := DefaultNadamConfig()
		c.LearningRate = lr
		return NewNadamOptimizer(c)
	},
}

// New creates the optimizer registered under name
func New(name string, lr float32) (Optimizer, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownOptimizer, name, strings.Join(Names(), ", "))
	}
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", lr)
	}
	return ctor(lr), nil
}

// Known reports whether name is a registered optimizer
func Known(name string) bool {
	_, ok := constructors[name]
	return ok
}

// Names returns the registered optimizer names in sorted order
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// paramState holds one lazily allocated buffer per parameter
type paramState map[*layers.Parameter][]float32

func (s paramState) get(p *layers.Parameter) []float32 {
	buf, ok := s[p]
	if !ok {
		buf = make([]float32, len(p.Data))
		s[p] = buf
	}
	return buf
}

// zeroGrad is shared by every optimizer
func zeroGrad(params []*layers.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

func validateParams(params []*layers.Parameter) error {
	if len(params) == 0 {
		return fmt.Errorf("no parameters to optimize")
	}
	for i, p := range params {
		if p == nil {
			return fmt.Errorf("parameter %d is nil", i)
		}
		if len(p.Grad) != len(p.Data) {
			return fmt.Errorf("parameter %s has %d gradients for %d values", p.Name, len(p.Grad), len(p.Data))
		}
	}
	return nil
}
