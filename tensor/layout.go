package tensor

import (
	"fmt"

	gt "gorgonia.org/tensor"
)

// ToMemoryFormat returns a copy of a 4D Float32 tensor whose Data is physically
// arranged in the requested format. Shape and values seen through Offset/At are
// unchanged, so downstream math reads exactly the same numbers.
func (t *Tensor) ToMemoryFormat(format MemoryFormat) (*Tensor, error) {
	if len(t.Shape) != 4 {
		return nil, fmt.Errorf("memory format %s needs a 4D tensor, got shape %v", format, t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("memory format conversion supports Float32 only, got %s", t.DType)
	}
	if t.Format == format {
		return t, nil
	}

	data, err := t.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	var physical []int
	var axes []int
	switch format {
	case ChannelsLast:
		physical = []int{n, c, h, w}
		axes = []int{0, 2, 3, 1}
	case Contiguous:
		physical = []int{n, h, w, c}
		axes = []int{0, 3, 1, 2}
	default:
		return nil, fmt.Errorf("unknown memory format %d", format)
	}

	backing := append([]float32(nil), data...)
	permuted := backing
	// With a single channel or a 1x1 plane both layouts share one byte order.
	if c > 1 && h*w > 1 {
		dense := gt.New(gt.WithShape(physical...), gt.WithBacking(backing))
		if err := dense.T(axes...); err != nil {
			return nil, fmt.Errorf("failed to permute to %s: %w", format, err)
		}
		if err := dense.Transpose(); err != nil {
			return nil, fmt.Errorf("failed to materialize %s layout: %w", format, err)
		}
		var ok bool
		if permuted, ok = dense.Data().([]float32); !ok {
			return nil, fmt.Errorf("unexpected backing type %T after relayout", dense.Data())
		}
	}

	out := &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		DType:    Float32,
		Device:   t.Device,
		Format:   format,
		Data:     permuted,
		NumElems: t.NumElems,
	}
	if format == ChannelsLast {
		out.Strides = channelsLastStrides(out.Shape)
	} else {
		out.Strides = calculateStrides(out.Shape)
	}
	return out, nil
}
