// Package device maps device names to tensor backends and inspects the host
// hardware the benchmark runs on.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sys/cpu"

	"github.com/tsawler/petsbench/tensor"
)

// ErrUnknownDevice is returned for device names with no registered backend
var ErrUnknownDevice = errors.New("unknown device")

var registry = map[string]tensor.DeviceType{
	"cpu": tensor.CPU,
}

// Lookup resolves a device name to its tensor backend
func Lookup(name string) (tensor.DeviceType, error) {
	dt, ok := registry[name]
	if !ok {
		return 0, fmt.Errorf("%w %q (available: %s)", ErrUnknownDevice, name, strings.Join(Names(), ", "))
	}
	return dt, nil
}

// Known reports whether name is a registered device
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// Names returns the registered device names in sorted order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info describes the hardware a run will execute on
type Info struct {
	// Name is the registry name of the preferred device
	Name         string
	HardwareName string
	// Accelerated is set when the preferred device is an accelerator; a run
	// then switches to it and enables mixed precision.
	Accelerated bool
	// HalfPrecision reports native float16 arithmetic on the host
	HalfPrecision bool
	Features      []string
}

// Detector reports the hardware available to a run
type Detector interface {
	Detect() Info
}

// DetectorFunc adapts a function to the Detector interface
type DetectorFunc func() Info

func (f DetectorFunc) Detect() Info {
	return f()
}

// HostDetector inspects the CPU of the current process
type HostDetector struct{}

func (HostDetector) Detect() Info {
	var features []string
	half := false

	switch runtime.GOARCH {
	case "amd64", "386":
		if cpu.X86.HasAVX {
			features = append(features, "AVX")
		}
		if cpu.X86.HasAVX2 {
			features = append(features, "AVX2")
		}
		if cpu.X86.HasFMA {
			features = append(features, "FMA")
		}
		if cpu.X86.HasAVX512F {
			features = append(features, "AVX512F")
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			features = append(features, "ASIMD")
		}
		if cpu.ARM64.HasFPHP {
			features = append(features, "FPHP")
		}
		if cpu.ARM64.HasASIMDHP {
			features = append(features, "ASIMDHP")
		}
		half = cpu.ARM64.HasFPHP && cpu.ARM64.HasASIMDHP
	}

	hw := fmt.Sprintf("%s/%s, %d threads", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	if len(features) > 0 {
		hw += " (" + strings.Join(features, " ") + ")"
	}

	return Info{
		Name:          "cpu",
		HardwareName:  hw,
		Accelerated:   false,
		HalfPrecision: half,
		Features:      features,
	}
}
