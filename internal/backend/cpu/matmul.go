package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/bdl/internal/parallel"
	"github.com/born-ml/bdl/internal/tensor"
)

// MatMul performs 2D matrix multiplication: [M, K] @ [K, N] -> [M, N].
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("matmul", a, b)
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		panic(fmt.Sprintf("matmul: expected 2D tensors, got %v and %v", as, bs))
	}
	if as[1] != bs[0] {
		panic(fmt.Sprintf("matmul: inner dimensions mismatch %v @ %v", as, bs))
	}

	m, k, n := as[0], as[1], bs[1]
	result := cpu.alloc("matmul", tensor.Shape{m, n}, tensor.Float32)
	gemm(false, false, m, n, k, a.AsFloat32(), b.AsFloat32(), 0, result.AsFloat32())
	return result
}

// BatchMatMul multiplies matching slices of two 3D tensors:
// [Bt, M, K] @ [Bt, K, N] -> [Bt, M, N]. Batch slices run concurrently.
func (cpu *CPUBackend) BatchMatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("batchmatmul", a, b)
	as, bs := a.Shape(), b.Shape()
	if len(as) != 3 || len(bs) != 3 {
		panic(fmt.Sprintf("batchmatmul: expected 3D tensors, got %v and %v", as, bs))
	}
	if as[0] != bs[0] || as[2] != bs[1] {
		panic(fmt.Sprintf("batchmatmul: incompatible shapes %v @ %v", as, bs))
	}

	bt, m, k, n := as[0], as[1], as[2], bs[2]
	result := cpu.alloc("batchmatmul", tensor.Shape{bt, m, n}, tensor.Float32)
	ad, bd, out := a.AsFloat32(), b.AsFloat32(), result.AsFloat32()

	parallel.Tasks(bt, func(i int) {
		gemm(false, false, m, n, k,
			ad[i*m*k:(i+1)*m*k],
			bd[i*k*n:(i+1)*k*n],
			0,
			out[i*m*n:(i+1)*m*n])
	}, cpu.par)
	return result
}

// gemm computes c = op(a) @ op(b) + beta*c for dense row-major operands.
// op(a) is m x k and op(b) is k x n; a transposed operand is stored with its
// dimensions swapped.
func gemm(transA, transB bool, m, n, k int, a, b []float32, beta float32, c []float32) {
	ta, tb := blas.NoTrans, blas.NoTrans
	ga := blas32.General{Rows: m, Cols: k, Stride: k, Data: a}
	gb := blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	if transA {
		ta = blas.Trans
		ga = blas32.General{Rows: k, Cols: m, Stride: m, Data: a}
	}
	if transB {
		tb = blas.Trans
		gb = blas32.General{Rows: n, Cols: k, Stride: k, Data: b}
	}
	gc := blas32.General{Rows: m, Cols: n, Stride: n, Data: c}
	blas32.Gemm(ta, tb, 1, ga, gb, beta, gc)
}
