package training

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"k8s.io/klog/v2"

	"github.com/tsawler/petsbench/config"
	"github.com/tsawler/petsbench/device"
	"github.com/tsawler/petsbench/layers"
	"github.com/tsawler/petsbench/memory"
	"github.com/tsawler/petsbench/optimizer"
	"github.com/tsawler/petsbench/tracking"
	"github.com/tsawler/petsbench/vision/dataloader"
	"github.com/tsawler/petsbench/vision/dataset"
)

// RunController drives one complete training run: dataset resolution, model
// and optimizer construction, then the epoch loop with per-step metrics.
type RunController struct {
	Provider tracking.DatasetProvider
	// Models builds the network; nil uses layers.Factory seeded from the config
	Models layers.ModelFactory
	// Sink receives the per-step records; nil logs them through klog
	Sink     tracking.MetricsSink
	Detector device.Detector
	// Progress receives the model listing and progress bars; nil disables them
	Progress io.Writer
	// Now is the clock for epoch and step timing; nil means time.Now
	Now func() time.Time
}

// run holds everything one Run builds before the epoch loop
type run struct {
	cfg    config.Config
	loader *dataloader.BatchLoader
	model  layers.Module
	loss   *CrossEntropyLoss
	opt    optimizer.Optimizer
	exec   *StepExecutor
	sink   tracking.MetricsSink
	state  *RunState
	steps  int
}

// Run executes cfg. The returned state is non-nil once the configuration has
// been resolved, including when the run fails part way.
func (rc *RunController) Run(ctx context.Context, cfg config.Config) (*RunState, error) {
	cfg, err := config.Resolve(cfg, rc.Detector)
	if err != nil {
		return nil, err
	}
	state := &RunState{Config: cfg}
	klog.Infof("Starting run on %s: %s", hardwareLabel(cfg.HardwareName), cfg)

	r, err := rc.setup(ctx, cfg, state)
	if err != nil {
		return state, err
	}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := rc.runEpoch(ctx, r, epoch); err != nil {
			return state, err
		}
	}

	klog.Infof("Run finished: %d steps, %d examples", state.StepCount, state.ExampleCount)
	return state, nil
}

func (rc *RunController) setup(ctx context.Context, cfg config.Config, state *RunState) (*run, error) {
	if rc.Provider == nil {
		return nil, fmt.Errorf("dataset provider cannot be nil")
	}
	dir, err := rc.Provider.Resolve(ctx, cfg.Dataset, cfg.DatasetVersion)
	if err != nil {
		return nil, err
	}

	ds, err := dataset.NewPetsDataset(dir, cfg.ImageSize)
	if err != nil {
		return nil, &tracking.DatasetResolutionError{ID: cfg.Dataset, Version: cfg.DatasetVersion, Err: err}
	}
	klog.V(1).Info(ds.Summary())

	pool := memory.NewBufferPool()
	loader, err := dataloader.New(ds, dataloader.Config{
		BatchSize:    cfg.BatchSize,
		NumWorkers:   cfg.NumWorkers,
		Shuffle:      cfg.Shuffle,
		Seed:         cfg.Seed,
		PinMemory:    cfg.PinMemory,
		MaxCacheSize: cfg.CacheSize,
		Pool:         pool,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create data loader: %w", err)
	}

	models := rc.Models
	if models == nil {
		models = layers.Factory{Seed: cfg.Seed, ImageSize: cfg.ImageSize}
	}
	model, err := models.Build(ds.NumClasses(), cfg.ModelName)
	if err != nil {
		return nil, err
	}
	if m, ok := model.(interface{ Spec() *layers.ModelSpec }); ok {
		klog.V(1).Info(m.Spec().Summary())
		if rc.Progress != nil {
			PrintArchitecture(rc.Progress, m.Spec())
		}
	}
	if cfg.Compile {
		klog.Info("Compiling model...")
		model = layers.Compile(model, pool)
	}

	opt, err := optimizer.New(cfg.Optimizer, float32(cfg.LearningRate))
	if err != nil {
		return nil, err
	}

	exec, err := NewStepExecutor(cfg)
	if err != nil {
		return nil, err
	}
	exec.Clock = rc.now

	sink := rc.Sink
	if sink == nil {
		sink = tracking.KlogSink{}
	}

	return &run{
		cfg:    cfg,
		loader: loader,
		model:  model,
		loss:   NewCrossEntropyLoss(),
		opt:    opt,
		exec:   exec,
		sink:   sink,
		state:  state,
		steps:  StepsPerEpoch(ds.Len(), cfg.BatchSize),
	}, nil
}

func (rc *RunController) runEpoch(ctx context.Context, r *run, epoch int) error {
	r.state.StartEpoch(epoch, rc.now())
	r.model.Train(true)

	var bar *ProgressBar
	if rc.Progress != nil {
		bar = newProgressBar(rc.Progress, fmt.Sprintf("Epoch %d/%d", epoch+1, r.cfg.Epochs), r.steps, rc.now)
	}

	it := r.loader.Epoch(ctx)
	defer it.Close()

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := it.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}

		res, err := r.exec.Step(batch, r.model, r.loss, r.opt)
		n := batch.Len()
		batch.Release()
		if err != nil {
			return err
		}

		if math.IsNaN(float64(res.Loss)) || math.IsInf(float64(res.Loss), 0) {
			klog.Warningf("Non-finite loss %v at epoch %d step %d", res.Loss, epoch, step)
		}

		r.state.RecordStep(n)
		metrics := r.state.Metrics(step, r.steps, n, res)
		if ShouldEmit(step, r.steps) {
			if err := r.sink.Log(metrics); err != nil {
				return fmt.Errorf("failed to log metrics at step %d: %w", r.state.StepCount, err)
			}
		}
		r.state.StepCount++

		klog.V(2).Infof("epoch %d step %d/%d loss %.4f (%s)", epoch, step+1, r.steps, res.Loss, res.Elapsed)
		if bar != nil {
			bar.Update(step+1, map[string]float64{"loss": float64(res.Loss)})
		}
	}

	if bar != nil {
		bar.Finish()
	}
	cache := r.loader.CacheStats()
	klog.V(1).Infof("Epoch %d done: %d examples seen, %s at step %d, cache hits %d misses %d",
		epoch, r.state.ExampleCount, r.opt.Name(), r.opt.GetStepCount(), cache.Hits, cache.Misses)
	return nil
}

func hardwareLabel(name string) string {
	if name == "" {
		return "unknown hardware"
	}
	return name
}

func (rc *RunController) now() time.Time {
	if rc.Now != nil {
		return rc.Now()
	}
	return time.Now()
}
