package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Float16
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Float16:
		return "Float16"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

type DeviceType int

const (
	CPU DeviceType = iota
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// MemoryFormat describes how a 4D [N,C,H,W] tensor is laid out in Data.
// The logical Shape is always NCHW; only Strides change.
type MemoryFormat int

const (
	Contiguous MemoryFormat = iota
	ChannelsLast
)

func (f MemoryFormat) String() string {
	switch f {
	case Contiguous:
		return "Contiguous"
	case ChannelsLast:
		return "ChannelsLast"
	default:
		return "Unknown"
	}
}

type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Device   DeviceType
	Format   MemoryFormat
	Data     interface{}
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s, format=%s, elements=%d)",
		t.Shape, t.DType, t.Device, t.Format, t.NumElems)
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// channelsLastStrides returns NCHW strides for data physically stored as NHWC.
func channelsLastStrides(shape []int) []int {
	c, h, w := shape[1], shape[2], shape[3]
	return []int{h * w * c, 1, w * c, c}
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
