package tensor

import (
	"fmt"
)

// Reshape returns a new tensor with the same data but different shape
// The new shape must have the same total number of elements
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	if t.Format != Contiguous {
		return nil, fmt.Errorf("cannot reshape a %s tensor, make it contiguous first", t.Format)
	}

	newShape = append([]int(nil), newShape...)
	newNumElems := 1
	negOneIdx := -1

	for i, dim := range newShape {
		switch {
		case dim == -1:
			if negOneIdx >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			negOneIdx = i
		case dim <= 0:
			return nil, fmt.Errorf("dimension %d has invalid size %d", i, dim)
		default:
			newNumElems *= dim
		}
	}

	if negOneIdx >= 0 {
		if t.NumElems%newNumElems != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into shape with -1: size must be divisible by %d", t.NumElems, newNumElems)
		}
		newShape[negOneIdx] = t.NumElems / newNumElems
		newNumElems *= newShape[negOneIdx]
	}

	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)", t.NumElems, newShape, newNumElems)
	}

	return &Tensor{
		Shape:    newShape,
		Strides:  calculateStrides(newShape),
		DType:    t.DType,
		Device:   t.Device,
		Format:   Contiguous,
		Data:     t.Data, // shares the underlying slice
		NumElems: t.NumElems,
	}, nil
}

func (t *Tensor) Clone() (*Tensor, error) {
	clone := &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		DType:    t.DType,
		Device:   t.Device,
		Format:   t.Format,
		NumElems: t.NumElems,
	}

	switch t.DType {
	case Float32:
		data, ok := t.Data.([]float32)
		if !ok {
			return nil, fmt.Errorf("tensor has no float32 data")
		}
		clone.Data = append([]float32(nil), data...)
	case Int32:
		data, ok := t.Data.([]int32)
		if !ok {
			return nil, fmt.Errorf("tensor has no int32 data")
		}
		clone.Data = append([]int32(nil), data...)
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	return clone, nil
}

func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	data, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor data is %T, not []float32", t.Data)
	}
	return data, nil
}

func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	data, ok := t.Data.([]int32)
	if !ok {
		return nil, fmt.Errorf("tensor data is %T, not []int32", t.Data)
	}
	return data, nil
}

// Offset returns the position in Data of the element at the given logical
// coordinates, honouring the tensor's strides (and so its memory format).
func (t *Tensor) Offset(indices ...int) int {
	offset := 0
	for i, idx := range indices {
		offset += idx * t.Strides[i]
	}
	return offset
}

// ToDevice moves the tensor to the given device. Moving to the device the
// tensor already lives on is a no-op that returns t itself.
func (t *Tensor) ToDevice(device DeviceType) (*Tensor, error) {
	if device != CPU {
		return nil, fmt.Errorf("invalid device type: %v (valid types: CPU)", device)
	}
	if t.Device == device {
		return t, nil
	}

	result, err := t.Clone()
	if err != nil {
		return nil, err
	}
	result.Device = device
	return result, nil
}
