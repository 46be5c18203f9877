package training

import (
	"fmt"
	"time"

	"github.com/tsawler/petsbench/config"
	"github.com/tsawler/petsbench/device"
	"github.com/tsawler/petsbench/layers"
	"github.com/tsawler/petsbench/optimizer"
	"github.com/tsawler/petsbench/tensor"
	"github.com/tsawler/petsbench/vision/dataloader"
)

// StepResult is the outcome of one optimisation step
type StepResult struct {
	Loss float32
	// Elapsed covers forward, loss, backward, the optimizer step and the
	// gradient reset. Moving the batch to the device is not included.
	Elapsed  time.Duration
	Finished time.Time
}

// DeviceError reports a failure while running a step on a device
type DeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s failed on device %s: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// StepExecutor runs single training steps with the execution options of a config
type StepExecutor struct {
	deviceName     string
	device         tensor.DeviceType
	channelsLast   bool
	mixedPrecision bool

	// Clock is read at the start and end of the timed region
	Clock func() time.Time
}

// NewStepExecutor creates an executor for the device and layout options of cfg
func NewStepExecutor(cfg config.Config) (*StepExecutor, error) {
	dt, err := device.Lookup(cfg.Device)
	if err != nil {
		return nil, err
	}
	return &StepExecutor{
		deviceName:     cfg.Device,
		device:         dt,
		channelsLast:   cfg.ChannelsLast,
		mixedPrecision: cfg.MixedPrecision,
		Clock:          time.Now,
	}, nil
}

// Step trains model on one batch. A non-finite loss is returned as is and is
// not an error.
func (e *StepExecutor) Step(batch *dataloader.Batch, model layers.Module, loss *CrossEntropyLoss, opt optimizer.Optimizer) (StepResult, error) {
	images, err := batch.Images.ToDevice(e.device)
	if err != nil {
		return StepResult{}, e.fail("transfer", err)
	}
	labels, err := batch.Labels.ToDevice(e.device)
	if err != nil {
		return StepResult{}, e.fail("transfer", err)
	}
	if e.channelsLast {
		images, err = images.ToMemoryFormat(tensor.ChannelsLast)
		if err != nil {
			return StepResult{}, e.fail("layout", err)
		}
	}

	start := e.Clock()

	logits, err := model.Forward(images, &layers.ForwardContext{
		Training:      true,
		HalfPrecision: e.mixedPrecision,
	})
	if err != nil {
		return StepResult{}, e.fail("forward", err)
	}

	value, err := loss.Forward(logits, labels)
	if err != nil {
		return StepResult{}, e.fail("loss", err)
	}

	grad, err := loss.Backward()
	if err != nil {
		return StepResult{}, e.fail("backward", err)
	}
	if _, err := model.Backward(grad); err != nil {
		return StepResult{}, e.fail("backward", err)
	}

	params := model.Parameters()
	if err := opt.Step(params); err != nil {
		return StepResult{}, e.fail("optimizer step", err)
	}
	opt.ZeroGrad(params)

	end := e.Clock()

	return StepResult{
		Loss:     value,
		Elapsed:  end.Sub(start),
		Finished: end,
	}, nil
}

func (e *StepExecutor) fail(op string, err error) error {
	return &DeviceError{Device: e.deviceName, Op: op, Err: err}
}
