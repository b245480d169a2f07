package nn

import (
	"fmt"

	"github.com/born-ml/bdl/internal/tensor"
)

// CrossEntropyLoss computes the mean cross-entropy of logits [N, K] against
// int32 class targets [N], using a numerically stable log-sum-exp.
type CrossEntropyLoss[B tensor.Backend] struct{}

// NewCrossEntropyLoss creates a cross-entropy loss.
func NewCrossEntropyLoss[B tensor.Backend]() *CrossEntropyLoss[B] {
	return &CrossEntropyLoss[B]{}
}

// Forward returns the scalar loss.
func (l *CrossEntropyLoss[B]) Forward(logits *tensor.Tensor[float32, B], targets *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	if len(logits.Shape()) != 2 {
		panic(fmt.Sprintf("cross_entropy: expected logits [N, K], got %v", logits.Shape()))
	}
	b := logits.Backend()
	return tensor.New[float32, B](b.CrossEntropy(logits.Raw(), targets.Raw()), b)
}
