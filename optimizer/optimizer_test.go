package optimizer

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/tsawler/petsbench/layers"
)

func scalarParam(value, grad float32) *layers.Parameter {
	return &layers.Parameter{Name: "w", Shape: []int{1}, Data: []float32{value}, Grad: []float32{grad}}
}

func assertNear(t *testing.T, expected, got float32) {
	t.Helper()
	if math.Abs(float64(expected-got)) > 1e-5 {
		t.Errorf("Expected %.7f, got %.7f", expected, got)
	}
}

func TestFirstStepValues(t *testing.T) {
	tests := []struct {
		name     string
		opt      Optimizer
		expected float32
	}{
		{"SGD", NewSGDOptimizer(SGDConfig{LearningRate: 0.1}), 0.95},
		{"SGDWeightDecay", NewSGDOptimizer(SGDConfig{LearningRate: 0.1, WeightDecay: 0.1}), 0.94},
		{"Adam", NewAdamOptimizer(AdamConfig{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}), 0.9},
		{"AdamW", NewAdamWOptimizer(AdamConfig{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8, WeightDecay: 0.01}), 0.899},
		{"RMSprop", NewRMSPropOptimizer(DefaultRMSPropConfig()), 0.9},
		{"Adagrad", NewAdaGradOptimizer(DefaultAdaGradConfig()), 0.99},
		{"Adadelta", NewAdaDeltaOptimizer(DefaultAdaDeltaConfig()), 0.9968378},
		{"NAdam", NewNadamOptimizer(DefaultNadamConfig()), 0.9978871},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := scalarParam(1, 0.5)
			if err := test.opt.Step([]*layers.Parameter{p}); err != nil {
				t.Fatalf("Step failed: %v", err)
			}
			assertNear(t, test.expected, p.Data[0])
			if test.opt.GetStepCount() != 1 {
				t.Errorf("Expected step count 1, got %d", test.opt.GetStepCount())
			}
		})
	}
}

func TestSGDMomentum(t *testing.T) {
	opt := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Momentum: 0.9})
	p := scalarParam(1, 0.5)

	opt.Step([]*layers.Parameter{p})
	assertNear(t, 0.95, p.Data[0])

	// buf = 0.9*0.5 + 0.5
	opt.Step([]*layers.Parameter{p})
	assertNear(t, 0.855, p.Data[0])

	nesterov := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Nesterov: true})
	if err := nesterov.Step([]*layers.Parameter{scalarParam(1, 1)}); err == nil {
		t.Error("Expected error for Nesterov without momentum")
	}
}

// Every optimizer should make progress on f(w) = (w - 3)^2.
func TestConvergesOnQuadratic(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			lr := float32(0.1)
			switch name {
			case "Adagrad":
				lr = 0.5
			case "Adadelta":
				lr = 10
			}
			opt, err := New(name, lr)
			if err != nil {
				t.Fatalf("Failed to create %s: %v", name, err)
			}

			p := scalarParam(0, 0)
			params := []*layers.Parameter{p}
			for i := 0; i < 300; i++ {
				opt.ZeroGrad(params)
				p.Grad[0] = 2 * (p.Data[0] - 3)
				if err := opt.Step(params); err != nil {
					t.Fatalf("Step %d failed: %v", i, err)
				}
			}

			if dist := math.Abs(float64(p.Data[0] - 3)); dist > 0.5 {
				t.Errorf("Expected w close to 3 after 300 steps, got %f", p.Data[0])
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	expected := []string{"Adadelta", "Adagrad", "Adam", "AdamW", "NAdam", "RMSprop", "SGD"}
	names := Names()
	if strings.Join(names, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected optimizers %v, got %v", expected, names)
	}

	for _, name := range names {
		opt, err := New(name, 0.05)
		if err != nil {
			t.Fatalf("Failed to create %s: %v", name, err)
		}
		if opt.Name() != name {
			t.Errorf("Expected name %s, got %s", name, opt.Name())
		}
	}

	for _, bad := range []string{"adam", "LBFGS", ""} {
		_, err := New(bad, 0.1)
		if !errors.Is(err, ErrUnknownOptimizer) {
			t.Errorf("Expected ErrUnknownOptimizer for %q, got %v", bad, err)
		}
	}

	if _, err := New("Adam", 0); err == nil {
		t.Error("Expected error for non-positive learning rate")
	}
	if !Known("AdamW") || Known("Lion") {
		t.Error("Known reports the wrong registry membership")
	}
}

func TestStepValidation(t *testing.T) {
	opt := NewAdamOptimizer(DefaultAdamConfig())
	if err := opt.Step(nil); err == nil {
		t.Error("Expected error for empty parameter list")
	}
	bad := &layers.Parameter{Name: "bad", Data: []float32{1, 2}, Grad: []float32{1}}
	if err := opt.Step([]*layers.Parameter{bad}); err == nil {
		t.Error("Expected error for mismatched gradient length")
	}
}

func TestZeroGrad(t *testing.T) {
	p := &layers.Parameter{Name: "w", Data: []float32{1, 2}, Grad: []float32{3, 4}}
	NewSGDOptimizer(DefaultSGDConfig()).ZeroGrad([]*layers.Parameter{p})
	if p.Grad[0] != 0 || p.Grad[1] != 0 {
		t.Errorf("Expected zeroed gradients, got %v", p.Grad)
	}
}
