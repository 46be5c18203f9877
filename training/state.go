package training

import (
	"time"

	"github.com/tsawler/petsbench/config"
)

// Metric keys of the per-step record
const (
	MetricTrainLoss          = "train/train_loss"
	MetricEpoch              = "train/epoch"
	MetricExampleCount       = "train/example_ct"
	MetricSamplesPerSec      = "samples_per_sec"
	MetricSamplesPerSecEpoch = "samples_per_sec_epoch"
)

// RunState holds the counters of one run. ExampleCount and StepCount never
// decrease and are not reset between epochs.
type RunState struct {
	ExampleCount int64
	StepCount    int64
	Epoch        int
	EpochStart   time.Time

	// Config is the resolved configuration the run executed with
	Config config.Config
}

// StepsPerEpoch is the number of batches needed to cover n samples
func StepsPerEpoch(n, batchSize int) int {
	if n <= 0 || batchSize <= 0 {
		return 0
	}
	return (n + batchSize - 1) / batchSize
}

// StartEpoch marks the beginning of epoch at t
func (s *RunState) StartEpoch(epoch int, t time.Time) {
	s.Epoch = epoch
	s.EpochStart = t
}

// RecordStep adds the examples of one finished step
func (s *RunState) RecordStep(examples int) {
	s.ExampleCount += int64(examples)
}

// Metrics builds the record for a step of the current epoch. It must be
// called after RecordStep, so the example count includes this batch.
func (s *RunState) Metrics(step, stepsPerEpoch, examples int, res StepResult) map[string]float64 {
	elapsed := clampElapsed(res.Elapsed)
	sinceEpoch := clampElapsed(res.Finished.Sub(s.EpochStart))

	return map[string]float64{
		MetricTrainLoss:          float64(res.Loss),
		MetricEpoch:              float64(step+1+stepsPerEpoch*s.Epoch) / float64(stepsPerEpoch),
		MetricExampleCount:       float64(s.ExampleCount),
		MetricSamplesPerSec:      float64(examples) / elapsed.Seconds(),
		MetricSamplesPerSecEpoch: float64(s.ExampleCount) / sinceEpoch.Seconds(),
	}
}

// ShouldEmit reports whether the record of step is published. The final
// step of every epoch is never published.
func ShouldEmit(step, stepsPerEpoch int) bool {
	return step+1 < stepsPerEpoch
}

// clampElapsed keeps throughput finite on clocks too coarse to see a step
func clampElapsed(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Nanosecond
	}
	return d
}
