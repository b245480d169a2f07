package ops

import (
	"fmt"

	"github.com/born-ml/bdl/internal/tensor"
)

// reduceBroadcast reduces a gradient tensor to match the target shape.
// This is necessary when broadcasting was used in the forward pass.
//
// Example:
//
//	Forward: a[3,1] + b[3,4] -> c[3,4]  (a was broadcast along dim 1)
//	Backward: grad_c[3,4] -> grad_a[3,1] (sum along dim 1)
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	gradShape := grad.Shape()
	if gradShape.Equal(targetShape) {
		return grad
	}
	if len(targetShape) == 0 {
		return backend.Sum(grad)
	}

	result := grad
	for len(result.Shape()) > len(targetShape) {
		result = backend.SumDim(result, 0, false)
	}
	for i, d := range targetShape {
		if d == 1 && result.Shape()[i] > 1 {
			result = backend.SumDim(result, i, true)
		}
	}

	if !result.Shape().Equal(targetShape) {
		result = backend.Reshape(result, targetShape)
	}
	return result
}

// expandReduced broadcasts the gradient of a reduction along dim back to the
// input shape.
func expandReduced(grad *tensor.RawTensor, inputShape tensor.Shape, dim int, backend tensor.Backend) *tensor.RawTensor {
	kept := inputShape.Clone()
	kept[dim] = 1
	return backend.Expand(backend.Reshape(grad, kept), inputShape)
}

// maskWhere returns a float32 tensor that is 1 where keep(x) holds and 0 elsewhere.
func maskWhere(x *tensor.RawTensor, keep func(float32) bool) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("mask: unsupported dtype %s", x.DType()))
	}
	mask := tensor.MustRaw(x.Shape(), tensor.Float32, x.Device())
	src, dst := x.AsFloat32(), mask.AsFloat32()
	for i, v := range src {
		if keep(v) {
			dst[i] = 1
		}
	}
	return mask
}
