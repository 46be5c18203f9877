package training

import (
	"fmt"
	"math"

	"github.com/tsawler/petsbench/tensor"
)

// CrossEntropyLoss is the mean softmax cross-entropy of [N, K] logits against
// [N] Int32 class indices. Forward caches the softmax for Backward.
type CrossEntropyLoss struct {
	probs   []float64
	labels  []int32
	batch   int
	classes int
}

// NewCrossEntropyLoss creates a new cross-entropy loss
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

// Forward computes L = (1/N) * sum(logsumexp(z_i) - z_i[y_i])
func (ce *CrossEntropyLoss) Forward(logits, labels *tensor.Tensor) (float32, error) {
	if logits == nil || labels == nil {
		return 0, fmt.Errorf("logits and labels cannot be nil")
	}
	if len(logits.Shape) != 2 {
		return 0, fmt.Errorf("logits must be 2D [batch, classes], got shape %v", logits.Shape)
	}
	if len(labels.Shape) != 1 || labels.Shape[0] != logits.Shape[0] {
		return 0, fmt.Errorf("labels shape %v does not match logits shape %v", labels.Shape, logits.Shape)
	}

	z, err := logits.GetFloat32Data()
	if err != nil {
		return 0, fmt.Errorf("logits: %w", err)
	}
	y, err := labels.GetInt32Data()
	if err != nil {
		return 0, fmt.Errorf("labels: %w", err)
	}

	n, k := logits.Shape[0], logits.Shape[1]
	for i, label := range y {
		if label < 0 || int(label) >= k {
			return 0, fmt.Errorf("label %d at position %d is outside [0, %d)", label, i, k)
		}
	}

	probs := make([]float64, n*k)
	var total float64
	for i := 0; i < n; i++ {
		row := z[i*k : (i+1)*k]

		// Subtract the row max so exp cannot overflow
		maxVal := math.Inf(-1)
		for _, v := range row {
			if float64(v) > maxVal {
				maxVal = float64(v)
			}
		}
		var sum float64
		for j, v := range row {
			e := math.Exp(float64(v) - maxVal)
			probs[i*k+j] = e
			sum += e
		}
		for j := range row {
			probs[i*k+j] /= sum
		}

		total += maxVal + math.Log(sum) - float64(row[y[i]])
	}

	ce.probs = probs
	ce.labels = append(ce.labels[:0], y...)
	ce.batch = n
	ce.classes = k

	return float32(total / float64(n)), nil
}

// Backward returns dL/dlogits = (softmax - onehot) / N for the last Forward
func (ce *CrossEntropyLoss) Backward() (*tensor.Tensor, error) {
	if ce.probs == nil {
		return nil, fmt.Errorf("backward called before forward")
	}

	n, k := ce.batch, ce.classes
	grad := make([]float32, n*k)
	inv := 1 / float64(n)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			g := ce.probs[i*k+j]
			if int32(j) == ce.labels[i] {
				g -= 1
			}
			grad[i*k+j] = float32(g * inv)
		}
	}

	return tensor.NewTensor([]int{n, k}, tensor.Float32, tensor.CPU, grad)
}
