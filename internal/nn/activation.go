package nn

import (
	"fmt"

	"github.com/born-ml/bdl/internal/tensor"
)

// ReLU applies max(0, x) element-wise.
type ReLU[B tensor.Backend] struct{}

// NewReLU creates a ReLU activation.
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return &ReLU[B]{}
}

// Forward applies the activation.
func (r *ReLU[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return input.ReLU()
}

// Parameters returns nil.
func (r *ReLU[B]) Parameters() []*Parameter[B] {
	return nil
}

// Flatten merges all dimensions from startDim to the end into one.
//
// A negative startDim counts from the end, so Flatten(-3) maps both
// [B, C, H, W] to [B, C*H*W] and [B, S, C, H, W] to [B, S, C*H*W].
type Flatten[B tensor.Backend] struct {
	startDim int
}

// NewFlatten creates a Flatten layer.
func NewFlatten[B tensor.Backend](startDim int) *Flatten[B] {
	return &Flatten[B]{startDim: startDim}
}

// Forward reshapes the input.
func (f *Flatten[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	start := f.startDim
	if start < 0 {
		start += len(shape)
	}
	if start < 0 || start >= len(shape) {
		panic(fmt.Sprintf("flatten: start dim %d out of range for shape %v", f.startDim, shape))
	}
	out := make([]int, 0, start+1)
	out = append(out, shape[:start]...)
	out = append(out, -1)
	return input.Reshape(out...)
}

// Parameters returns nil.
func (f *Flatten[B]) Parameters() []*Parameter[B] {
	return nil
}
