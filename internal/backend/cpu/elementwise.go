package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/bdl/internal/parallel"
	"github.com/born-ml/bdl/internal/tensor"
)

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("div", a, b, func(x, y float32) float32 { return x / y })
}

// MulScalar multiplies every element by s.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	return cpu.unary("mul_scalar", x, func(v float32) float32 { return v * s })
}

// AddScalar adds s to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	return cpu.unary("add_scalar", x, func(v float32) float32 { return v + s })
}

// Exp computes e^x element-wise.
func (cpu *CPUBackend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("exp", x, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Sqrt computes the square root element-wise. Negative inputs yield NaN.
func (cpu *CPUBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("sqrt", x, func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

// ReLU computes max(x, 0).
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("relu", x, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// ClampMin computes max(x, floor). NaN inputs stay NaN.
func (cpu *CPUBackend) ClampMin(x *tensor.RawTensor, floor float32) *tensor.RawTensor {
	return cpu.unary("clamp_min", x, func(v float32) float32 {
		if v < floor {
			return floor
		}
		return v
	})
}

func (cpu *CPUBackend) unary(op string, x *tensor.RawTensor, f func(float32) float32) *tensor.RawTensor {
	requireFloat32(op, x)
	result := cpu.alloc(op, x.Shape(), x.DType())
	src := x.AsFloat32()
	dst := result.AsFloat32()
	parallel.For(len(dst), func(i int) {
		dst[i] = f(src[i])
	}, cpu.par)
	return result
}

func (cpu *CPUBackend) binary(op string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	requireFloat32(op, a, b)
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}

	result := cpu.alloc(op, outShape, a.DType())
	ad, bd, out := a.AsFloat32(), b.AsFloat32(), result.AsFloat32()

	if !needsBroadcast {
		parallel.For(len(out), func(i int) {
			out[i] = f(ad[i], bd[i])
		}, cpu.par)
		return result
	}

	broadcastApply(out, outShape, ad, a.Shape(), bd, b.Shape(), f)
	return result
}

// broadcastApply walks the output in row-major order with a multi-index
// counter, advancing each input by its broadcast stride.
func broadcastApply(out []float32, outShape tensor.Shape, ad []float32, aShape tensor.Shape,
	bd []float32, bShape tensor.Shape, f func(x, y float32) float32,
) {
	rank := len(outShape)
	aStr := tensor.BroadcastStrides(aShape, outShape)
	bStr := tensor.BroadcastStrides(bShape, outShape)
	idx := make([]int, rank)
	ai, bi := 0, 0

	for i := range out {
		out[i] = f(ad[ai], bd[bi])
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			ai += aStr[d]
			bi += bStr[d]
			if idx[d] < outShape[d] {
				break
			}
			ai -= aStr[d] * outShape[d]
			bi -= bStr[d] * outShape[d]
			idx[d] = 0
		}
	}
}
