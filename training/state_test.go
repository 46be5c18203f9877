package training

import (
	"math"
	"testing"
	"time"
)

func TestStepsPerEpoch(t *testing.T) {
	tests := []struct {
		n, batch, expected int
	}{
		{100, 32, 4},
		{96, 32, 3},
		{1, 32, 1},
		{0, 32, 0},
		{10, 0, 0},
	}

	for _, test := range tests {
		if got := StepsPerEpoch(test.n, test.batch); got != test.expected {
			t.Errorf("StepsPerEpoch(%d, %d) = %d, expected %d", test.n, test.batch, got, test.expected)
		}
	}
}

// The last step of each epoch is never published. This mirrors the
// benchmark being reproduced and is intentional.
func TestShouldEmitSkipsLastStep(t *testing.T) {
	for step := 0; step < 4; step++ {
		expected := step < 3
		if got := ShouldEmit(step, 4); got != expected {
			t.Errorf("ShouldEmit(%d, 4) = %t, expected %t", step, got, expected)
		}
	}
	if ShouldEmit(0, 1) {
		t.Error("Expected a single-step epoch to publish nothing")
	}
}

func TestRunStateMetrics(t *testing.T) {
	start := time.Unix(1000, 0)
	s := &RunState{ExampleCount: 40}
	s.StartEpoch(1, start)
	s.RecordStep(8)

	res := StepResult{
		Loss:     2.5,
		Elapsed:  100 * time.Millisecond,
		Finished: start.Add(2 * time.Second),
	}
	m := s.Metrics(2, 4, 8, res)

	expected := map[string]float64{
		MetricTrainLoss:          2.5,
		MetricEpoch:              1.75,
		MetricExampleCount:       48,
		MetricSamplesPerSec:      80,
		MetricSamplesPerSecEpoch: 24,
	}
	if len(m) != len(expected) {
		t.Fatalf("Expected %d metrics, got %d: %v", len(expected), len(m), m)
	}
	for k, want := range expected {
		if math.Abs(m[k]-want) > 1e-9 {
			t.Errorf("Expected %s=%f, got %f", k, want, m[k])
		}
	}
}

func TestRunStateMetricsZeroElapsed(t *testing.T) {
	start := time.Unix(1000, 0)
	s := &RunState{}
	s.StartEpoch(0, start)
	s.RecordStep(4)

	m := s.Metrics(0, 2, 4, StepResult{Loss: 1, Finished: start})
	for _, k := range []string{MetricSamplesPerSec, MetricSamplesPerSecEpoch} {
		if math.IsInf(m[k], 0) || math.IsNaN(m[k]) {
			t.Errorf("Expected finite %s for zero elapsed time, got %f", k, m[k])
		}
	}
}
