package layers

import (
	"fmt"

	"github.com/tsawler/petsbench/tensor"
)

// GlobalAvgPoolLayer reduces [N,C,H,W] to [N,C] by averaging each channel plane
type GlobalAvgPoolLayer struct {
	name       string
	inputShape []int
	device     tensor.DeviceType
}

func NewGlobalAvgPool(name string) *GlobalAvgPoolLayer {
	return &GlobalAvgPoolLayer{name: name}
}

func (l *GlobalAvgPoolLayer) Forward(x *tensor.Tensor, ctx *ForwardContext) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("%s: expected 4D input, got %v", l.name, x.Shape)
	}
	data, err := float32Data(x, l.name)
	if err != nil {
		return nil, err
	}

	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	sn, sc, sh, sw := x.Strides[0], x.Strides[1], x.Strides[2], x.Strides[3]
	scale := 1 / float32(h*w)

	out := make([]float32, n*c)
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			base := i*sn + ch*sc
			var sum float32
			for y := 0; y < h; y++ {
				for xx := 0; xx < w; xx++ {
					sum += data[base+y*sh+xx*sw]
				}
			}
			out[i*c+ch] = sum * scale
		}
	}
	if ctx.half() {
		tensor.RoundHalfInPlace(out)
	}

	l.inputShape = append(l.inputShape[:0], x.Shape...)
	l.device = x.Device
	return tensor.NewTensor([]int{n, c}, tensor.Float32, x.Device, out)
}

func (l *GlobalAvgPoolLayer) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.inputShape == nil {
		return nil, fmt.Errorf("%s: backward called before forward", l.name)
	}
	gd, err := float32Data(gradOut, l.name)
	if err != nil {
		return nil, err
	}
	n, c, h, w := l.inputShape[0], l.inputShape[1], l.inputShape[2], l.inputShape[3]
	if len(gd) != n*c {
		return nil, fmt.Errorf("%s: gradient has %d elements, expected %d", l.name, len(gd), n*c)
	}

	plane := h * w
	scale := 1 / float32(plane)
	dx := make([]float32, n*c*plane)
	for i, g := range gd {
		seg := dx[i*plane : (i+1)*plane]
		v := g * scale
		for j := range seg {
			seg[j] = v
		}
	}
	return tensor.NewTensor(l.inputShape, tensor.Float32, l.device, dx)
}

func (l *GlobalAvgPoolLayer) Parameters() []*Parameter { return nil }

func (l *GlobalAvgPoolLayer) Train(bool) {}

func (l *GlobalAvgPoolLayer) String() string {
	return fmt.Sprintf("GlobalAvgPool(%s)", l.name)
}
