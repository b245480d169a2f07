package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/bdl/internal/parallel"
	"github.com/born-ml/bdl/internal/tensor"
)

// MulExpAdd computes eps*exp(psi)+mu in a single pass.
//
// psi and mu have shape P; eps has shape P or [S..., P]. The exponential is
// evaluated once per element of psi and reused for every leading sample, and
// no intermediate tensor is allocated.
func (cpu *CPUBackend) MulExpAdd(eps, psi, mu *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("mul_exp_add", eps, psi, mu)
	if !psi.Shape().Equal(mu.Shape()) {
		panic(fmt.Sprintf("mul_exp_add: psi %v and mu %v must share a shape", psi.Shape(), mu.Shape()))
	}
	samples := sampleCount("mul_exp_add", eps, psi)

	result := cpu.alloc("mul_exp_add", eps.Shape(), tensor.Float32)
	e, p, m, out := eps.AsFloat32(), psi.AsFloat32(), mu.AsFloat32(), result.AsFloat32()
	size := len(p)

	parallel.For(size, func(i int) {
		std := float32(math.Exp(float64(p[i])))
		mi := m[i]
		for s := 0; s < samples; s++ {
			j := s*size + i
			out[j] = e[j]*std + mi
		}
	}, cpu.par)
	return result
}

// MulExpAddBackward returns dL/dpsi = sum_s grad*eps*exp(psi) and
// dL/dmu = sum_s grad, both shaped like psi.
func (cpu *CPUBackend) MulExpAddBackward(eps, psi, grad *tensor.RawTensor) (gradPsi, gradMu *tensor.RawTensor) {
	requireFloat32("mul_exp_add_backward", eps, psi, grad)
	if !grad.Shape().Equal(eps.Shape()) {
		panic(fmt.Sprintf("mul_exp_add_backward: grad %v must match eps %v", grad.Shape(), eps.Shape()))
	}
	samples := sampleCount("mul_exp_add_backward", eps, psi)

	gradPsi = cpu.alloc("mul_exp_add_backward", psi.Shape(), tensor.Float32)
	gradMu = cpu.alloc("mul_exp_add_backward", psi.Shape(), tensor.Float32)
	e, p, g := eps.AsFloat32(), psi.AsFloat32(), grad.AsFloat32()
	gp, gm := gradPsi.AsFloat32(), gradMu.AsFloat32()
	size := len(p)

	parallel.For(size, func(i int) {
		std := float32(math.Exp(float64(p[i])))
		var sumG, sumGE float32
		for s := 0; s < samples; s++ {
			j := s*size + i
			sumG += g[j]
			sumGE += g[j] * e[j]
		}
		gp[i] = sumGE * std
		gm[i] = sumG
	}, cpu.par)
	return gradPsi, gradMu
}

// sampleCount validates that eps is psi's shape with optional leading sample
// dimensions and returns the number of samples.
func sampleCount(op string, eps, psi *tensor.RawTensor) int {
	es, ps := eps.Shape(), psi.Shape()
	if len(es) < len(ps) || !tensor.Shape(es[len(es)-len(ps):]).Equal(ps) {
		panic(fmt.Sprintf("%s: eps %v must end with the parameter shape %v", op, es, ps))
	}
	return eps.NumElements() / psi.NumElements()
}
