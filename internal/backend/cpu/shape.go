package cpu

import (
	"fmt"

	"github.com/born-ml/bdl/internal/tensor"
)

// Reshape returns a view with a new shape over the same storage.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if err := newShape.Validate(); err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	if newShape.NumElements() != t.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v into %v", t.Shape(), newShape))
	}
	return t.View(newShape)
}

// Transpose permutes dimensions. With no axes, all dimensions are reversed.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	rank := len(shape)
	if len(axes) == 0 {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
	} else {
		axes = append([]int(nil), axes...)
	}
	if len(axes) != rank {
		panic(fmt.Sprintf("transpose: expected %d axes, got %d", rank, len(axes)))
	}

	seen := make([]bool, rank)
	outShape := make(tensor.Shape, rank)
	for i, ax := range axes {
		ax = tensor.NormalizeDim(ax, rank)
		if seen[ax] {
			panic(fmt.Sprintf("transpose: axis %d repeated in %v", ax, axes))
		}
		seen[ax] = true
		axes[i] = ax
		outShape[i] = shape[ax]
	}

	// srcStrides[i] is the input stride of output dimension i.
	inStrides := t.Strides()
	srcStrides := make([]int, rank)
	for i, ax := range axes {
		srcStrides[i] = inStrides[ax]
	}

	result := cpu.alloc("transpose", outShape, t.DType())
	switch t.DType() {
	case tensor.Float32:
		gatherStrided(result.AsFloat32(), t.AsFloat32(), outShape, srcStrides)
	case tensor.Float64:
		gatherStrided(result.AsFloat64(), t.AsFloat64(), outShape, srcStrides)
	case tensor.Int32:
		gatherStrided(result.AsInt32(), t.AsInt32(), outShape, srcStrides)
	case tensor.Int64:
		gatherStrided(result.AsInt64(), t.AsInt64(), outShape, srcStrides)
	}
	return result
}

// Expand materializes a broadcast of t to shape.
func (cpu *CPUBackend) Expand(t *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	out, _, err := tensor.BroadcastShapes(t.Shape(), shape)
	if err != nil || !out.Equal(shape) {
		panic(fmt.Sprintf("expand: cannot expand %v to %v", t.Shape(), shape))
	}

	strides := tensor.BroadcastStrides(t.Shape(), shape)
	result := cpu.alloc("expand", shape, t.DType())
	switch t.DType() {
	case tensor.Float32:
		gatherStrided(result.AsFloat32(), t.AsFloat32(), shape, strides)
	case tensor.Float64:
		gatherStrided(result.AsFloat64(), t.AsFloat64(), shape, strides)
	case tensor.Int32:
		gatherStrided(result.AsInt32(), t.AsInt32(), shape, strides)
	case tensor.Int64:
		gatherStrided(result.AsInt64(), t.AsInt64(), shape, strides)
	}
	return result
}

// gatherStrided fills dst (row-major over outShape) by reading src at the
// given per-dimension strides.
func gatherStrided[T any](dst, src []T, outShape tensor.Shape, strides []int) {
	rank := len(outShape)
	idx := make([]int, rank)
	si := 0
	for i := range dst {
		dst[i] = src[si]
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			si += strides[d]
			if idx[d] < outShape[d] {
				break
			}
			si -= strides[d] * outShape[d]
			idx[d] = 0
		}
	}
}
