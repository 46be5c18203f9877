// Package config holds the immutable description of one benchmark run.
package config

import (
	"errors"
	"flag"
	"fmt"
	"math"

	"github.com/tsawler/petsbench/device"
	"github.com/tsawler/petsbench/layers"
	"github.com/tsawler/petsbench/optimizer"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// Config describes one run. It is passed by value and never modified after Resolve.
type Config struct {
	BatchSize      int
	Device         string
	Epochs         int
	NumExperiments int
	LearningRate   float64
	ImageSize      int
	ModelName      string
	Dataset        string
	DatasetVersion string
	NumWorkers     int
	MixedPrecision bool
	ChannelsLast   bool
	Optimizer      string
	Compile        bool

	Shuffle   bool
	Seed      int64
	CacheSize int // preprocessed samples kept across epochs; 0 disables the cache
	PinMemory bool

	// HardwareName is filled in by Resolve from the detected hardware
	HardwareName string

	// Tracking labels attached to the run
	Entity  string
	Project string
	Group   string
}

// Default returns the configuration used when no flag overrides a field
func Default() Config {
	return Config{
		BatchSize:      64,
		Device:         "cpu",
		Epochs:         1,
		NumExperiments: 1,
		LearningRate:   1e-3,
		ImageSize:      128,
		ModelName:      "resnet_tiny",
		Dataset:        "PETS",
		DatasetVersion: "v3",
		NumWorkers:     4,
		MixedPrecision: false,
		ChannelsLast:   false,
		Optimizer:      "Adam",
		Compile:        false,
		Shuffle:        false,
		Seed:           42,
		CacheSize:      0,
		PinMemory:      true,
		Project:        "petsbench",
	}
}

// Validate reports every problem with the configuration at once
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.BatchSize <= 0 {
		bad("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Epochs <= 0 {
		bad("epochs must be positive, got %d", c.Epochs)
	}
	if c.NumExperiments <= 0 {
		bad("num_experiments must be positive, got %d", c.NumExperiments)
	}
	if !(c.LearningRate > 0) || math.IsInf(c.LearningRate, 0) {
		bad("learning_rate must be a positive number, got %g", c.LearningRate)
	}
	if c.ImageSize <= 0 {
		bad("image_size must be positive, got %d", c.ImageSize)
	}
	if c.NumWorkers < 0 {
		bad("num_workers cannot be negative, got %d", c.NumWorkers)
	}
	if c.CacheSize < 0 {
		bad("cache_size cannot be negative, got %d", c.CacheSize)
	}
	if c.Dataset == "" {
		bad("dataset cannot be empty")
	}
	if !layers.Known(c.ModelName) {
		bad("model_name %q: %w", c.ModelName, layers.ErrUnknownModel)
	}
	if !optimizer.Known(c.Optimizer) {
		bad("optimizer %q: %w", c.Optimizer, optimizer.ErrUnknownOptimizer)
	}
	if !device.Known(c.Device) {
		bad("device %q: %w", c.Device, device.ErrUnknownDevice)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Resolve applies the one hardware-dependent override and validates the
// result. When the detector reports an accelerator the run moves to it and
// enables mixed precision, whatever the flags said.
func Resolve(c Config, detector device.Detector) (Config, error) {
	if detector != nil {
		info := detector.Detect()
		c.HardwareName = info.HardwareName
		if info.Accelerated {
			c.Device = info.Name
			c.MixedPrecision = true
		}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// BindFlags registers one flag per field, using the values already in c as defaults
func BindFlags(fs *flag.FlagSet, c *Config) {
	fs.IntVar(&c.BatchSize, "batch_size", c.BatchSize, "Batch size")
	fs.StringVar(&c.Device, "device", c.Device, "Device to train on")
	fs.IntVar(&c.Epochs, "epochs", c.Epochs, "Number of training epochs")
	fs.IntVar(&c.NumExperiments, "num_experiments", c.NumExperiments, "Number of times the whole run is repeated")
	fs.Float64Var(&c.LearningRate, "learning_rate", c.LearningRate, "Learning rate")
	fs.IntVar(&c.ImageSize, "image_size", c.ImageSize, "Side length images are resized to")
	fs.StringVar(&c.ModelName, "model_name", c.ModelName, "Model architecture")
	fs.StringVar(&c.Dataset, "dataset", c.Dataset, "Dataset identifier")
	fs.StringVar(&c.DatasetVersion, "dataset_version", c.DatasetVersion, "Dataset version")
	fs.IntVar(&c.NumWorkers, "num_workers", c.NumWorkers, "Data loader workers")
	fs.BoolVar(&c.MixedPrecision, "mixed_precision", c.MixedPrecision, "Run the forward pass in float16")
	fs.BoolVar(&c.ChannelsLast, "channels_last", c.ChannelsLast, "Lay image batches out as NHWC")
	fs.StringVar(&c.Optimizer, "optimizer", c.Optimizer, "Optimizer name")
	fs.BoolVar(&c.Compile, "compile", c.Compile, "Compile the model before training")
	fs.BoolVar(&c.Shuffle, "shuffle", c.Shuffle, "Reshuffle the dataset every epoch")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "Seed for weight initialisation and shuffling")
	fs.IntVar(&c.CacheSize, "cache_size", c.CacheSize, "Preprocessed samples cached across epochs (0 disables)")
	fs.BoolVar(&c.PinMemory, "pin_memory", c.PinMemory, "Recycle batch buffers through a pool")
	fs.StringVar(&c.Entity, "entity", c.Entity, "Tracking entity")
	fs.StringVar(&c.Project, "project", c.Project, "Tracking project")
	fs.StringVar(&c.Group, "group", c.Group, "Tracking group")
}

// Labels returns the run metadata attached to every metrics record
func (c Config) Labels() map[string]string {
	return map[string]string{
		"entity":          c.Entity,
		"project":         c.Project,
		"group":           c.Group,
		"model_name":      c.ModelName,
		"optimizer":       c.Optimizer,
		"device":          c.Device,
		"hardware":        c.HardwareName,
		"dataset":         c.Dataset,
		"dataset_version": c.DatasetVersion,
	}
}

func (c Config) String() string {
	return fmt.Sprintf("model=%s optimizer=%s lr=%g batch_size=%d epochs=%d image_size=%d device=%s mixed_precision=%t channels_last=%t compile=%t workers=%d",
		c.ModelName, c.Optimizer, c.LearningRate, c.BatchSize, c.Epochs, c.ImageSize, c.Device,
		c.MixedPrecision, c.ChannelsLast, c.Compile, c.NumWorkers)
}
