package layers

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// ErrUnknownModel is returned when an architecture name is not registered
var ErrUnknownModel = errors.New("unknown model")

// ModelFactory builds a classifier with numClasses outputs for a named architecture
type ModelFactory interface {
	Build(numClasses int, arch string) (Module, error)
}

// Architecture appends the layers of one network to a builder
type Architecture func(b *ModelBuilder, numClasses int)

var architectures = map[string]Architecture{
	"linear_probe": func(b *ModelBuilder, numClasses int) {
		b.AddGlobalAvgPool("pool").
			AddDense(numClasses, true, "fc")
	},
	"simple_cnn": func(b *ModelBuilder, numClasses int) {
		b.AddConv2D(16, 3, 1, 1, true, "conv1").AddReLU("relu1").
			AddConv2D(32, 3, 2, 1, true, "conv2").AddReLU("relu2").
			AddConv2D(64, 3, 2, 1, true, "conv3").AddReLU("relu3").
			AddGlobalAvgPool("pool").
			AddDense(numClasses, true, "fc")
	},
	"resnet_tiny": func(b *ModelBuilder, numClasses int) {
		b.AddConv2D(16, 3, 2, 1, true, "stem").AddReLU("stem_relu").
			AddResidual("block1", func(r *ModelBuilder) {
				r.AddConv2D(16, 3, 1, 1, true, "block1_conv1").AddReLU("block1_relu").
					AddConv2D(16, 3, 1, 1, true, "block1_conv2")
			}).
			AddReLU("block1_out").
			AddConv2D(32, 3, 2, 1, true, "down").AddReLU("down_relu").
			AddResidual("block2", func(r *ModelBuilder) {
				r.AddConv2D(32, 3, 1, 1, true, "block2_conv1").AddReLU("block2_relu").
					AddConv2D(32, 3, 1, 1, true, "block2_conv2")
			}).
			AddReLU("block2_out").
			AddGlobalAvgPool("pool").
			AddDense(numClasses, true, "fc")
	},
}

// Names returns the registered architecture names in sorted order
func Names() []string {
	names := make([]string, 0, len(architectures))
	for name := range architectures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether arch is a registered architecture
func Known(arch string) bool {
	_, ok := architectures[arch]
	return ok
}

// Factory builds registered architectures for RGB images of ImageSize pixels.
// Weights are drawn from a generator seeded with Seed.
type Factory struct {
	Seed      int64
	ImageSize int
}

// Spec compiles the configuration of arch without allocating weights
func (f Factory) Spec(numClasses int, arch string) (*ModelSpec, error) {
	build, ok := architectures[arch]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownModel, arch, strings.Join(Names(), ", "))
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("number of classes must be positive, got %d", numClasses)
	}
	size := f.ImageSize
	if size <= 0 {
		size = 32
	}

	b := NewModelBuilder([]int{1, 3, size, size})
	build(b, numClasses)
	spec, err := b.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", arch, err)
	}
	spec.Name = arch
	return spec, nil
}

func (f Factory) Build(numClasses int, arch string) (Module, error) {
	spec, err := f.Spec(numClasses, arch)
	if err != nil {
		return nil, err
	}
	model, err := spec.Instantiate(rand.New(rand.NewSource(f.Seed)))
	if err != nil {
		return nil, err
	}
	return model, nil
}
