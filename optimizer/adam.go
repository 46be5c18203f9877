package optimizer

import (
	"math"

	"github.com/tsawler/petsbench/layers"
)

// AdamOptimizerState implements Adam and, with decoupled weight decay, AdamW
type AdamOptimizerState struct {
	config    AdamConfig
	decoupled bool
	name      string

	momentum paramState // First moment (momentum) for each weight tensor
	variance paramState // Second moment (variance) for each weight tensor

	// Step tracking for bias correction
	StepCount uint64
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// DefaultAdamWConfig returns default AdamW configuration
func DefaultAdamWConfig() AdamConfig {
	c := DefaultAdamConfig()
	c.WeightDecay = 0.01
	return c
}

// NewAdamOptimizer creates an Adam optimizer whose weight decay is added to the gradient
func NewAdamOptimizer(config AdamConfig) *AdamOptimizerState {
	return &AdamOptimizerState{
		config:   config,
		name:     "Adam",
		momentum: make(paramState),
		variance: make(paramState),
	}
}

// NewAdamWOptimizer creates an Adam optimizer with decoupled weight decay
func NewAdamWOptimizer(config AdamConfig) *AdamOptimizerState {
	adam := NewAdamOptimizer(config)
	adam.decoupled = true
	adam.name = "AdamW"
	return adam
}

func (adam *AdamOptimizerState) Step(params []*layers.Parameter) error {
	if err := validateParams(params); err != nil {
		return err
	}

	adam.StepCount++
	c := adam.config
	t := float64(adam.StepCount)
	biasCorrection1 := float32(1 - math.Pow(float64(c.Beta1), t))
	biasCorrection2 := float32(1 - math.Pow(float64(c.Beta2), t))
	stepSize := c.LearningRate / biasCorrection1
	sqrtBC2 := float32(math.Sqrt(float64(biasCorrection2)))

	for _, p := range params {
		m := adam.momentum.get(p)
		v := adam.variance.get(p)

		for i, g := range p.Grad {
			if c.WeightDecay != 0 {
				if adam.decoupled {
					p.Data[i] *= 1 - c.LearningRate*c.WeightDecay
				} else {
					g += c.WeightDecay * p.Data[i]
				}
			}

			m[i] = c.Beta1*m[i] + (1-c.Beta1)*g
			v[i] = c.Beta2*v[i] + (1-c.Beta2)*g*g

			denom := float32(math.Sqrt(float64(v[i])))/sqrtBC2 + c.Epsilon
			p.Data[i] -= stepSize * m[i] / denom
		}
	}

	return nil
}

func (adam *AdamOptimizerState) ZeroGrad(params []*layers.Parameter) {
	zeroGrad(params)
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

func (adam *AdamOptimizerState) Name() string {
	return adam.name
}
