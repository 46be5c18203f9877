package optimizer

import (
	"math"

	"github.com/tsawler/petsbench/layers"
)

// RMSPropOptimizerState scales each update by a running average of squared gradients
type RMSPropOptimizerState struct {
	config RMSPropConfig

	squaredGradAvg paramState // Running average of squared gradients
	momentum       paramState // Momentum buffers (if momentum > 0)
	gradientAvg    paramState // Running average of gradients (if centered)

	StepCount uint64
}

// RMSPropConfig holds configuration for RMSProp optimizer
type RMSPropConfig struct {
	LearningRate float32
	Alpha        float32 // Smoothing constant (typically 0.99)
	Epsilon      float32
	WeightDecay  float32
	Momentum     float32
	Centered     bool // Normalize by the estimated gradient variance
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		Momentum:     0.0,
		Centered:     false,
	}
}

// NewRMSPropOptimizer creates a new RMSProp optimizer
func NewRMSPropOptimizer(config RMSPropConfig) *RMSPropOptimizerState {
	return &RMSPropOptimizerState{
		config:         config,
		squaredGradAvg: make(paramState),
		momentum:       make(paramState),
		gradientAvg:    make(paramState),
	}
}

func (rms *RMSPropOptimizerState) Step(params []*layers.Parameter) error {
	if err := validateParams(params); err != nil {
		return err
	}

	c := rms.config
	for _, p := range params {
		sq := rms.squaredGradAvg.get(p)
		var buf, ga []float32
		if c.Momentum > 0 {
			buf = rms.momentum.get(p)
		}
		if c.Centered {
			ga = rms.gradientAvg.get(p)
		}

		for i, g := range p.Grad {
			if c.WeightDecay != 0 {
				g += c.WeightDecay * p.Data[i]
			}

			sq[i] = c.Alpha*sq[i] + (1-c.Alpha)*g*g
			avg := sq[i]
			if c.Centered {
				ga[i] = c.Alpha*ga[i] + (1-c.Alpha)*g
				avg -= ga[i] * ga[i]
			}
			denom := float32(math.Sqrt(float64(avg))) + c.Epsilon

			if c.Momentum > 0 {
				buf[i] = c.Momentum*buf[i] + g/denom
				p.Data[i] -= c.LearningRate * buf[i]
			} else {
				p.Data[i] -= c.LearningRate * g / denom
			}
		}
	}

	rms.StepCount++
	return nil
}

func (rms *RMSPropOptimizerState) ZeroGrad(params []*layers.Parameter) {
	zeroGrad(params)
}

// GetStepCount returns the current step count
func (rms *RMSPropOptimizerState) GetStepCount() uint64 {
	return rms.StepCount
}

func (rms *RMSPropOptimizerState) Name() string {
	return "RMSprop"
}
