package cpu

import (
	"github.com/born-ml/bdl/internal/parallel"
	"github.com/born-ml/bdl/internal/tensor"
)

// Conv2DInputBackward computes the gradient of Conv2D with respect to its input.
//
// For every (n, g): dcols = K_g^T @ dY[n, g], then col2im scatters dcols into
// the group's input channels. Tasks write disjoint channel blocks.
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, p tensor.Conv2DParams) *tensor.RawTensor {
	requireFloat32("conv2d_backward", input, kernel, grad)
	g := newConvGeom("conv2d_backward", input, kernel, p)

	dInput := cpu.alloc("conv2d_backward", input.Shape(), tensor.Float32)
	k, dy, dx := kernel.AsFloat32(), grad.AsFloat32(), dInput.AsFloat32()

	kernelBlock := g.COG * g.colRows
	outBlock := g.COG * g.spatial

	parallel.Tasks(g.N*g.G, func(task int) {
		n, grp := task/g.G, task%g.G
		dcol := make([]float32, g.colRows*g.spatial)
		gemm(true, false, g.colRows, g.spatial, g.COG,
			k[grp*kernelBlock:(grp+1)*kernelBlock],
			dy[(n*g.G+grp)*outBlock:(n*g.G+grp+1)*outBlock],
			0,
			dcol)
		col2im(dx, dcol, &g, n, grp)
	}, cpu.par)

	return dInput
}

// Conv2DKernelBackward computes the gradient of Conv2D with respect to its kernel.
//
// For every group g: dK_g = sum_n dY[n, g] @ cols(n, g)^T. Groups run
// concurrently; the batch is accumulated inside each task.
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, p tensor.Conv2DParams) *tensor.RawTensor {
	requireFloat32("conv2d_backward", input, kernel, grad)
	g := newConvGeom("conv2d_backward", input, kernel, p)

	dKernel := cpu.alloc("conv2d_backward", kernel.Shape(), tensor.Float32)
	in, dy, dk := input.AsFloat32(), grad.AsFloat32(), dKernel.AsFloat32()

	kernelBlock := g.COG * g.colRows
	outBlock := g.COG * g.spatial

	parallel.Tasks(g.G, func(grp int) {
		col := make([]float32, g.colRows*g.spatial)
		dkg := dk[grp*kernelBlock : (grp+1)*kernelBlock]
		for n := 0; n < g.N; n++ {
			im2col(col, in, &g, n, grp)
			gemm(false, true, g.COG, g.colRows, g.spatial,
				dy[(n*g.G+grp)*outBlock:(n*g.G+grp+1)*outBlock],
				col,
				1,
				dkg)
		}
	}, cpu.par)

	return dKernel
}
