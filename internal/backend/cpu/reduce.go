package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/bdl/internal/parallel"
	"github.com/born-ml/bdl/internal/tensor"
)

// Sum returns the total sum as a 0-D tensor. Accumulates in float64.
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("sum", x)
	var acc float64
	for _, v := range x.AsFloat32() {
		acc += float64(v)
	}
	result := cpu.alloc("sum", tensor.Shape{}, tensor.Float32)
	result.AsFloat32()[0] = float32(acc)
	return result
}

// SumDim sums along dim.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduceDim("sumdim", x, dim, keepDim, 1)
}

// MeanDim averages along dim.
func (cpu *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	shape := x.Shape()
	d := tensor.NormalizeDim(dim, len(shape))
	return cpu.reduceDim("meandim", x, d, keepDim, 1/float64(shape[d]))
}

func (cpu *CPUBackend) reduceDim(op string, x *tensor.RawTensor, dim int, keepDim bool, scale float64) *tensor.RawTensor {
	requireFloat32(op, x)
	shape := x.Shape()
	dim = tensor.NormalizeDim(dim, len(shape))
	outer, n, inner := shape.SplitAt(dim)

	result := cpu.alloc(op, reducedShape(shape, dim, keepDim), tensor.Float32)
	src, dst := x.AsFloat32(), result.AsFloat32()

	parallel.For(outer*inner, func(k int) {
		o, in := k/inner, k%inner
		base := o*n*inner + in
		var acc float64
		for j := 0; j < n; j++ {
			acc += float64(src[base+j*inner])
		}
		dst[k] = float32(acc * scale)
	}, cpu.par)
	return result
}

// Argmax returns int32 indices of the maximum along dim (first on ties).
func (cpu *CPUBackend) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	requireFloat32("argmax", x)
	shape := x.Shape()
	dim = tensor.NormalizeDim(dim, len(shape))
	outer, n, inner := shape.SplitAt(dim)

	result := cpu.alloc("argmax", reducedShape(shape, dim, false), tensor.Int32)
	src, dst := x.AsFloat32(), result.AsInt32()

	for k := 0; k < outer*inner; k++ {
		o, in := k/inner, k%inner
		base := o*n*inner + in
		best, bestIdx := src[base], 0
		for j := 1; j < n; j++ {
			if v := src[base+j*inner]; v > best {
				best, bestIdx = v, j
			}
		}
		dst[k] = int32(bestIdx)
	}
	return result
}

// Softmax normalizes along dim using the max-subtraction trick.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	requireFloat32("softmax", x)
	shape := x.Shape()
	dim = tensor.NormalizeDim(dim, len(shape))
	outer, n, inner := shape.SplitAt(dim)

	result := cpu.alloc("softmax", shape, tensor.Float32)
	src, dst := x.AsFloat32(), result.AsFloat32()

	parallel.For(outer*inner, func(k int) {
		o, in := k/inner, k%inner
		base := o*n*inner + in
		maxVal := float32(math.Inf(-1))
		for j := 0; j < n; j++ {
			maxVal = max(maxVal, src[base+j*inner])
		}
		var sum float64
		for j := 0; j < n; j++ {
			e := math.Exp(float64(src[base+j*inner] - maxVal))
			dst[base+j*inner] = float32(e)
			sum += e
		}
		for j := 0; j < n; j++ {
			dst[base+j*inner] = float32(float64(dst[base+j*inner]) / sum)
		}
	}, cpu.par)
	return result
}

// CrossEntropy returns mean(logsumexp(logits_i) - logits_i[target_i]) as a
// 0-D tensor. logits is [N, K] float32, targets is [N] int32.
func (cpu *CPUBackend) CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("cross_entropy", logits)
	ls, ts := logits.Shape(), targets.Shape()
	if len(ls) != 2 || len(ts) != 1 || ts[0] != ls[0] {
		panic(fmt.Sprintf("cross_entropy: expected logits [N,K] and targets [N], got %v and %v", ls, ts))
	}
	if targets.DType() != tensor.Int32 {
		panic(fmt.Sprintf("cross_entropy: targets must be int32, got %s", targets.DType()))
	}

	n, k := ls[0], ls[1]
	src, tgt := logits.AsFloat32(), targets.AsInt32()
	var total float64
	for i := 0; i < n; i++ {
		row := src[i*k : (i+1)*k]
		t := int(tgt[i])
		if t < 0 || t >= k {
			panic(fmt.Sprintf("cross_entropy: target %d out of range [0,%d)", t, k))
		}
		total += logSumExp(row) - float64(row[t])
	}

	result := cpu.alloc("cross_entropy", tensor.Shape{}, tensor.Float32)
	result.AsFloat32()[0] = float32(total / float64(n))
	return result
}

func logSumExp(row []float32) float64 {
	maxVal := math.Inf(-1)
	for _, v := range row {
		maxVal = math.Max(maxVal, float64(v))
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - maxVal)
	}
	return maxVal + math.Log(sum)
}

func reducedShape(shape tensor.Shape, dim int, keepDim bool) tensor.Shape {
	out := make(tensor.Shape, 0, len(shape))
	for i, d := range shape {
		switch {
		case i != dim:
			out = append(out, d)
		case keepDim:
			out = append(out, 1)
		}
	}
	return out
}
