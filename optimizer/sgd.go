package optimizer

import (
	"fmt"

	"github.com/tsawler/petsbench/layers"
)

// SGDOptimizerState implements stochastic gradient descent with optional
// momentum, dampening, Nesterov momentum and L2 weight decay.
type SGDOptimizerState struct {
	config    SGDConfig
	momentum  paramState
	StepCount uint64
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	Dampening    float32
	WeightDecay  float32
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		Dampening:    0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates a new SGD optimizer
func NewSGDOptimizer(config SGDConfig) *SGDOptimizerState {
	return &SGDOptimizerState{
		config:   config,
		momentum: make(paramState),
	}
}

func (sgd *SGDOptimizerState) Step(params []*layers.Parameter) error {
	if err := validateParams(params); err != nil {
		return err
	}
	if sgd.config.Nesterov && (sgd.config.Momentum <= 0 || sgd.config.Dampening != 0) {
		return fmt.Errorf("nesterov momentum requires a momentum and zero dampening")
	}

	c := sgd.config
	for _, p := range params {
		var buf []float32
		_, seen := sgd.momentum[p]
		if c.Momentum != 0 {
			buf = sgd.momentum.get(p)
		}

		for i, g := range p.Grad {
			if c.WeightDecay != 0 {
				g += c.WeightDecay * p.Data[i]
			}
			if c.Momentum != 0 {
				if !seen {
					buf[i] = g
				} else {
					buf[i] = c.Momentum*buf[i] + (1-c.Dampening)*g
				}
				if c.Nesterov {
					g += c.Momentum * buf[i]
				} else {
					g = buf[i]
				}
			}
			p.Data[i] -= c.LearningRate * g
		}
	}

	sgd.StepCount++
	return nil
}

func (sgd *SGDOptimizerState) ZeroGrad(params []*layers.Parameter) {
	zeroGrad(params)
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

func (sgd *SGDOptimizerState) Name() string {
	return "SGD"
}
