package training

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tsawler/petsbench/config"
	"github.com/tsawler/petsbench/device"
	"github.com/tsawler/petsbench/optimizer"
	"github.com/tsawler/petsbench/tracking"
	"github.com/tsawler/petsbench/vision/dataloader"
	"github.com/tsawler/petsbench/vision/dataset"
)

// writePetsFixture creates root/images with one small JPEG per name
func writePetsFixture(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "images")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create images dir: %v", err)
	}

	for i, name := range names {
		img := image.NewRGBA(image.Rect(0, 0, 12, 12))
		for y := 0; y < 12; y++ {
			for x := 0; x < 12; x++ {
				img.Set(x, y, color.RGBA{uint8(i * 20), uint8(x * 20), uint8(y * 20), 255})
			}
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			t.Fatalf("Failed to encode %s: %v", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return root
}

// tenPets returns ten valid pets filenames
func tenPets() []string {
	breeds := []string{"beagle", "pug", "samoyed", "Bombay", "beagle"}
	var names []string
	for i := 0; i < 10; i++ {
		names = append(names, fmt.Sprintf("%s_%d.jpg", breeds[i%len(breeds)], i))
	}
	return names
}

func testRunConfig() config.Config {
	cfg := config.Default()
	cfg.BatchSize = 3
	cfg.Epochs = 2
	cfg.ImageSize = 8
	cfg.ModelName = "linear_probe"
	cfg.Optimizer = "SGD"
	cfg.LearningRate = 0.01
	cfg.NumWorkers = 0
	return cfg
}

func cpuDetector(accelerated bool) device.Detector {
	return device.DetectorFunc(func() device.Info {
		return device.Info{Name: "cpu", HardwareName: "test-host", Accelerated: accelerated}
	})
}

type failingSink struct{ err error }

func (s failingSink) Log(map[string]float64) error { return s.err }

// dirProvider resolves every dataset to the same directory
type dirProvider string

func (p dirProvider) Resolve(context.Context, string, string) (string, error) {
	return string(p), nil
}

// ninePets returns nine valid pets filenames, three full batches at batch size 3
func ninePets() []string {
	return tenPets()[:9]
}

func TestRunControllerMetrics(t *testing.T) {
	root := writePetsFixture(t, tenPets()...)
	sink := &tracking.RecordingSink{}
	rc := &RunController{
		Provider: tracking.LocalProvider{Root: root},
		Sink:     sink,
		Detector: cpuDetector(false),
		Now:      newTickClock(10 * time.Millisecond).Now,
	}

	state, err := rc.Run(context.Background(), testRunConfig())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// 10 samples at batch size 3 is 4 steps per epoch, the last holding one sample
	if state.StepCount != 8 {
		t.Errorf("Expected 8 steps, got %d", state.StepCount)
	}
	if state.ExampleCount != 20 {
		t.Errorf("Expected 20 examples, got %d", state.ExampleCount)
	}
	if state.Config.HardwareName != "test-host" {
		t.Errorf("Expected resolved hardware name, got %q", state.Config.HardwareName)
	}

	// The last step of each epoch is intentionally not published
	records := sink.Records()
	if len(records) != 6 {
		t.Fatalf("Expected 6 records for 2 epochs of 4 steps, got %d", len(records))
	}

	epochs := []float64{0.25, 0.5, 0.75, 1.25, 1.5, 1.75}
	counts := []float64{3, 6, 9, 13, 16, 19}
	for i, rec := range records {
		if math.Abs(rec[MetricEpoch]-epochs[i]) > 1e-9 {
			t.Errorf("Record %d: expected epoch %f, got %f", i, epochs[i], rec[MetricEpoch])
		}
		if rec[MetricExampleCount] != counts[i] {
			t.Errorf("Record %d: expected example count %f, got %f", i, counts[i], rec[MetricExampleCount])
		}
		if math.Abs(rec[MetricSamplesPerSec]-300) > 1e-6 {
			t.Errorf("Record %d: expected 300 samples/s for 3 samples in 10ms, got %f", i, rec[MetricSamplesPerSec])
		}
		loss := rec[MetricTrainLoss]
		if math.IsNaN(loss) || loss <= 0 {
			t.Errorf("Record %d: expected positive finite loss, got %f", i, loss)
		}
	}

	// Epoch start, step start and step end each read the clock once
	if got := records[0][MetricSamplesPerSecEpoch]; math.Abs(got-150) > 1e-6 {
		t.Errorf("Expected 150 samples/s since epoch start, got %f", got)
	}
}

func TestRunControllerEvenlyDivisibleExampleCount(t *testing.T) {
	root := writePetsFixture(t, ninePets()...)

	for epochs := 1; epochs <= 3; epochs++ {
		t.Run(fmt.Sprintf("Epochs%d", epochs), func(t *testing.T) {
			sink := &tracking.RecordingSink{}
			rc := &RunController{Provider: tracking.LocalProvider{Root: root}, Sink: sink}
			cfg := testRunConfig()
			cfg.Epochs = epochs

			state, err := rc.Run(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if expected := int64(9 * epochs); state.ExampleCount != expected {
				t.Errorf("Expected %d examples after %d epochs, got %d", expected, epochs, state.ExampleCount)
			}
			if expected := int64(3 * epochs); state.StepCount != expected {
				t.Errorf("Expected %d steps, got %d", expected, state.StepCount)
			}

			// Two of the three steps in each epoch are published
			records := sink.Records()
			if len(records) != 2*epochs {
				t.Fatalf("Expected %d records, got %d", 2*epochs, len(records))
			}
			for e := 0; e < epochs; e++ {
				first, second := records[2*e], records[2*e+1]
				if expected := float64(9*e + 3); first[MetricExampleCount] != expected {
					t.Errorf("Epoch %d: expected example count %f, got %f", e, expected, first[MetricExampleCount])
				}
				if expected := float64(9*e + 6); second[MetricExampleCount] != expected {
					t.Errorf("Epoch %d: expected example count %f, got %f", e, expected, second[MetricExampleCount])
				}
				if expected := float64(e) + 2.0/3.0; math.Abs(second[MetricEpoch]-expected) > 1e-9 {
					t.Errorf("Epoch %d: expected fractional epoch %f, got %f", e, expected, second[MetricEpoch])
				}
			}
		})
	}
}

func TestHardwareLabel(t *testing.T) {
	if got := hardwareLabel("test-host"); got != "test-host" {
		t.Errorf("Expected test-host, got %q", got)
	}
	if got := hardwareLabel(""); got != "unknown hardware" {
		t.Errorf("Expected unknown hardware, got %q", got)
	}
}

func TestRunControllerSingleStepEpochPublishesNothing(t *testing.T) {
	root := writePetsFixture(t, "pug_1.jpg", "pug_2.jpg")
	sink := &tracking.RecordingSink{}
	rc := &RunController{Provider: tracking.LocalProvider{Root: root}, Sink: sink}

	cfg := testRunConfig()
	cfg.BatchSize = 8
	state, err := rc.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if state.StepCount != 2 {
		t.Errorf("Expected 2 steps, got %d", state.StepCount)
	}
	if n := len(sink.Records()); n != 0 {
		t.Errorf("Expected no records, got %d", n)
	}
}

func TestRunControllerChannelsLastMatches(t *testing.T) {
	root := writePetsFixture(t, tenPets()...)

	losses := func(channelsLast bool) []float64 {
		sink := &tracking.RecordingSink{}
		rc := &RunController{Provider: tracking.LocalProvider{Root: root}, Sink: sink}
		cfg := testRunConfig()
		cfg.ModelName = "simple_cnn"
		cfg.ChannelsLast = channelsLast
		cfg.Compile = channelsLast
		if _, err := rc.Run(context.Background(), cfg); err != nil {
			t.Fatalf("Run failed (channels_last=%t): %v", channelsLast, err)
		}
		var out []float64
		for _, rec := range sink.Records() {
			out = append(out, rec[MetricTrainLoss])
		}
		return out
	}

	base := losses(false)
	cl := losses(true)
	if len(base) != len(cl) {
		t.Fatalf("Expected the same number of records, got %d and %d", len(base), len(cl))
	}
	for i := range base {
		if math.Abs(base[i]-cl[i]) > 1e-4 {
			t.Errorf("Record %d: contiguous loss %f differs from channels-last loss %f", i, base[i], cl[i])
		}
	}
}

func TestRunControllerAcceleratorOverride(t *testing.T) {
	root := writePetsFixture(t, tenPets()...)
	rc := &RunController{
		Provider: tracking.LocalProvider{Root: root},
		Sink:     &tracking.RecordingSink{},
		Detector: cpuDetector(true),
	}

	cfg := testRunConfig()
	cfg.Epochs = 1
	cfg.MixedPrecision = false
	state, err := rc.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !state.Config.MixedPrecision {
		t.Error("Expected an accelerated host to force mixed precision")
	}
	if cfg.MixedPrecision {
		t.Error("Expected the caller's config to be left unchanged")
	}
}

func TestRunControllerErrors(t *testing.T) {
	t.Run("UnknownOptimizer", func(t *testing.T) {
		rc := &RunController{Provider: tracking.LocalProvider{Root: t.TempDir()}}
		cfg := testRunConfig()
		cfg.Optimizer = "LBFGS"
		state, err := rc.Run(context.Background(), cfg)
		if !errors.Is(err, optimizer.ErrUnknownOptimizer) {
			t.Errorf("Expected ErrUnknownOptimizer, got %v", err)
		}
		if state != nil {
			t.Error("Expected no state for an invalid config")
		}
	})

	t.Run("MissingDataset", func(t *testing.T) {
		rc := &RunController{Provider: tracking.LocalProvider{Root: t.TempDir()}}
		_, err := rc.Run(context.Background(), testRunConfig())
		var resErr *tracking.DatasetResolutionError
		if !errors.As(err, &resErr) {
			t.Errorf("Expected DatasetResolutionError, got %v", err)
		}
	})

	t.Run("ResolvedDirWithoutImages", func(t *testing.T) {
		rc := &RunController{Provider: dirProvider(t.TempDir())}
		cfg := testRunConfig()
		_, err := rc.Run(context.Background(), cfg)
		var resErr *tracking.DatasetResolutionError
		if !errors.As(err, &resErr) {
			t.Fatalf("Expected DatasetResolutionError, got %v", err)
		}
		if resErr.ID != cfg.Dataset || resErr.Version != cfg.DatasetVersion {
			t.Errorf("Expected %s:%s, got %s:%s", cfg.Dataset, cfg.DatasetVersion, resErr.ID, resErr.Version)
		}
		if !errors.Is(err, dataset.ErrDatasetRoot) {
			t.Errorf("Expected ErrDatasetRoot in the chain, got %v", err)
		}
	})

	t.Run("UnknownLabel", func(t *testing.T) {
		names := append(tenPets(), "unicorn_1.jpg")
		root := writePetsFixture(t, names...)
		rc := &RunController{Provider: tracking.LocalProvider{Root: root}, Sink: &tracking.RecordingSink{}}

		state, err := rc.Run(context.Background(), testRunConfig())
		var batchErr *dataloader.BatchProductionError
		if !errors.As(err, &batchErr) {
			t.Fatalf("Expected BatchProductionError, got %v", err)
		}
		var labelErr *dataset.LabelNotFoundError
		if !errors.As(err, &labelErr) || labelErr.Label != "unicorn" {
			t.Errorf("Expected LabelNotFoundError for unicorn, got %v", err)
		}
		if state == nil {
			t.Fatal("Expected partial state for a failed run")
		}
	})

	t.Run("SinkFailure", func(t *testing.T) {
		root := writePetsFixture(t, tenPets()...)
		sentinel := errors.New("tracking backend down")
		rc := &RunController{Provider: tracking.LocalProvider{Root: root}, Sink: failingSink{err: sentinel}}

		state, err := rc.Run(context.Background(), testRunConfig())
		if !errors.Is(err, sentinel) {
			t.Fatalf("Expected sink error, got %v", err)
		}
		if state.StepCount != 0 {
			t.Errorf("Expected the run to stop at the first step, got %d steps", state.StepCount)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		root := writePetsFixture(t, tenPets()...)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rc := &RunController{Provider: tracking.LocalProvider{Root: root}}
		if _, err := rc.Run(ctx, testRunConfig()); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})
}

func TestRunControllerProgress(t *testing.T) {
	root := writePetsFixture(t, tenPets()...)
	var out bytes.Buffer
	rc := &RunController{
		Provider: tracking.LocalProvider{Root: root},
		Sink:     &tracking.RecordingSink{},
		Progress: &out,
		Now:      newTickClock(time.Second).Now,
	}

	if _, err := rc.Run(context.Background(), testRunConfig()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, want := range []string{"Model Architecture:", "linear_probe(", "(fc): Linear(in_features=3, out_features=37, bias=true)", "Epoch 1/2", "Epoch 2/2", "4/4"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected progress output to contain %q", want)
		}
	}
}
