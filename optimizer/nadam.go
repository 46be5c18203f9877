package optimizer

import (
	"math"

	"github.com/tsawler/petsbench/layers"
)

// NadamOptimizerState is Adam with Nesterov momentum and a momentum schedule
type NadamOptimizerState struct {
	config NadamConfig

	momentum paramState
	variance paramState

	// Running product of the scheduled momentum coefficients
	muProduct float64

	StepCount uint64
}

// NadamConfig holds configuration for Nadam optimizer
type NadamConfig struct {
	LearningRate  float32
	Beta1         float32
	Beta2         float32
	Epsilon       float32
	WeightDecay   float32
	MomentumDecay float32
}

// DefaultNadamConfig returns default Nadam optimizer configuration
func DefaultNadamConfig() NadamConfig {
	return NadamConfig{
		LearningRate:  0.002,
		Beta1:         0.9,
		Beta2:         0.999,
		Epsilon:       1e-8,
		WeightDecay:   0.0,
		MomentumDecay: 0.004,
	}
}

// NewNadamOptimizer creates a new Nadam optimizer
func NewNadamOptimizer(config NadamConfig) *NadamOptimizerState {
	return &NadamOptimizerState{
		config:    config,
		momentum:  make(paramState),
		variance:  make(paramState),
		muProduct: 1,
	}
}

func (n *NadamOptimizerState) Step(params []*layers.Parameter) error {
	if err := validateParams(params); err != nil {
		return err
	}

	n.StepCount++
	c := n.config
	t := float64(n.StepCount)
	beta1 := float64(c.Beta1)
	psi := float64(c.MomentumDecay)

	mu := beta1 * (1 - 0.5*math.Pow(0.96, t*psi))
	muNext := beta1 * (1 - 0.5*math.Pow(0.96, (t+1)*psi))
	n.muProduct *= mu

	biasCorrection2 := 1 - math.Pow(float64(c.Beta2), t)
	gradCoef := float32(float64(c.LearningRate) * (1 - mu) / (1 - n.muProduct))
	momentumCoef := float32(float64(c.LearningRate) * muNext / (1 - n.muProduct*muNext))

	for _, p := range params {
		m := n.momentum.get(p)
		v := n.variance.get(p)

		for i, g := range p.Grad {
			if c.WeightDecay != 0 {
				g += c.WeightDecay * p.Data[i]
			}
			m[i] = c.Beta1*m[i] + (1-c.Beta1)*g
			v[i] = c.Beta2*v[i] + (1-c.Beta2)*g*g

			denom := float32(math.Sqrt(float64(v[i])/biasCorrection2)) + c.Epsilon
			p.Data[i] -= gradCoef*g/denom + momentumCoef*m[i]/denom
		}
	}

	return nil
}

func (n *NadamOptimizerState) ZeroGrad(params []*layers.Parameter) {
	zeroGrad(params)
}

// GetStepCount returns the current step count
func (n *NadamOptimizerState) GetStepCount() uint64 {
	return n.StepCount
}

func (n *NadamOptimizerState) Name() string {
	return "NAdam"
}
