package optimizer

import (
	"math"

	"github.com/tsawler/petsbench/layers"
)

// AdaDeltaOptimizerState keeps running averages of squared gradients and of
// squared updates, so the effective step size needs no tuning.
type AdaDeltaOptimizerState struct {
	config AdaDeltaConfig

	squaredGradAvg   paramState
	squaredUpdateAvg paramState

	StepCount uint64
}

// AdaDeltaConfig holds configuration for AdaDelta optimizer
type AdaDeltaConfig struct {
	LearningRate float32 // Scales the computed delta (1.0 for plain AdaDelta)
	Rho          float32 // Decay rate for running averages (typically 0.9)
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdaDeltaConfig returns default AdaDelta optimizer configuration
func DefaultAdaDeltaConfig() AdaDeltaConfig {
	return AdaDeltaConfig{
		LearningRate: 1.0,
		Rho:          0.9,
		Epsilon:      1e-6,
		WeightDecay:  0.0,
	}
}

// NewAdaDeltaOptimizer creates a new AdaDelta optimizer
func NewAdaDeltaOptimizer(config AdaDeltaConfig) *AdaDeltaOptimizerState {
	return &AdaDeltaOptimizerState{
		config:           config,
		squaredGradAvg:   make(paramState),
		squaredUpdateAvg: make(paramState),
	}
}

func (ada *AdaDeltaOptimizerState) Step(params []*layers.Parameter) error {
	if err := validateParams(params); err != nil {
		return err
	}

	c := ada.config
	for _, p := range params {
		sq := ada.squaredGradAvg.get(p)
		acc := ada.squaredUpdateAvg.get(p)

		for i, g := range p.Grad {
			if c.WeightDecay != 0 {
				g += c.WeightDecay * p.Data[i]
			}
			sq[i] = c.Rho*sq[i] + (1-c.Rho)*g*g
			std := math.Sqrt(float64(sq[i] + c.Epsilon))
			delta := float32(math.Sqrt(float64(acc[i]+c.Epsilon))/std) * g
			acc[i] = c.Rho*acc[i] + (1-c.Rho)*delta*delta
			p.Data[i] -= c.LearningRate * delta
		}
	}

	ada.StepCount++
	return nil
}

func (ada *AdaDeltaOptimizerState) ZeroGrad(params []*layers.Parameter) {
	zeroGrad(params)
}

// GetStepCount returns the current step count
func (ada *AdaDeltaOptimizerState) GetStepCount() uint64 {
	return ada.StepCount
}

func (ada *AdaDeltaOptimizerState) Name() string {
	return "Adadelta"
}
