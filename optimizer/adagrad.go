package optimizer

import (
	"math"

	"github.com/tsawler/petsbench/layers"
)

// AdaGradOptimizerState adapts the step size per element by the sum of all past squared gradients
type AdaGradOptimizerState struct {
	config     AdaGradConfig
	squaredSum paramState

	StepCount uint64
}

// AdaGradConfig holds configuration for AdaGrad optimizer
type AdaGradConfig struct {
	LearningRate            float32
	LearningRateDecay       float32
	InitialAccumulatorValue float32
	Epsilon                 float32
	WeightDecay             float32
}

// DefaultAdaGradConfig returns default AdaGrad optimizer configuration
func DefaultAdaGradConfig() AdaGradConfig {
	return AdaGradConfig{
		LearningRate:            0.01,
		LearningRateDecay:       0.0,
		InitialAccumulatorValue: 0.0,
		Epsilon:                 1e-10,
		WeightDecay:             0.0,
	}
}

// NewAdaGradOptimizer creates a new AdaGrad optimizer
func NewAdaGradOptimizer(config AdaGradConfig) *AdaGradOptimizerState {
	return &AdaGradOptimizerState{
		config:     config,
		squaredSum: make(paramState),
	}
}

func (ada *AdaGradOptimizerState) Step(params []*layers.Parameter) error {
	if err := validateParams(params); err != nil {
		return err
	}

	ada.StepCount++
	c := ada.config
	clr := c.LearningRate / (1 + float32(ada.StepCount-1)*c.LearningRateDecay)

	for _, p := range params {
		_, seen := ada.squaredSum[p]
		sum := ada.squaredSum.get(p)
		if !seen && c.InitialAccumulatorValue != 0 {
			for i := range sum {
				sum[i] = c.InitialAccumulatorValue
			}
		}

		for i, g := range p.Grad {
			if c.WeightDecay != 0 {
				g += c.WeightDecay * p.Data[i]
			}
			sum[i] += g * g
			p.Data[i] -= clr * g / (float32(math.Sqrt(float64(sum[i]))) + c.Epsilon)
		}
	}

	return nil
}

func (ada *AdaGradOptimizerState) ZeroGrad(params []*layers.Parameter) {
	zeroGrad(params)
}

// GetStepCount returns the current step count
func (ada *AdaGradOptimizerState) GetStepCount() uint64 {
	return ada.StepCount
}

func (ada *AdaGradOptimizerState) Name() string {
	return "Adagrad"
}
