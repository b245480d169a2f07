package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/bdl/internal/parallel"
	"github.com/born-ml/bdl/internal/tensor"
)

// BatchNorm2D normalizes x [N, C, H, W] per channel with batch statistics.
// Statistics are accumulated in float64; the variance is biased (divides by
// N*H*W) and invStd = 1/sqrt(var + eps).
func (cpu *CPUBackend) BatchNorm2D(x *tensor.RawTensor, eps float32) (xhat, mean, variance, invStd *tensor.RawTensor) {
	requireFloat32("batchnorm2d", x)
	shape := x.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("batchnorm2d: expected 4D input [N,C,H,W], got %v", shape))
	}
	n, c, hw := shape[0], shape[1], shape[2]*shape[3]
	count := float64(n * hw)

	xhat = cpu.alloc("batchnorm2d", shape, tensor.Float32)
	mean = cpu.alloc("batchnorm2d", tensor.Shape{c}, tensor.Float32)
	variance = cpu.alloc("batchnorm2d", tensor.Shape{c}, tensor.Float32)
	invStd = cpu.alloc("batchnorm2d", tensor.Shape{c}, tensor.Float32)
	src, dst := x.AsFloat32(), xhat.AsFloat32()
	md, vd, id := mean.AsFloat32(), variance.AsFloat32(), invStd.AsFloat32()

	parallel.Tasks(c, func(ch int) {
		var sum, sq float64
		for b := 0; b < n; b++ {
			for _, v := range src[(b*c+ch)*hw : (b*c+ch+1)*hw] {
				sum += float64(v)
				sq += float64(v) * float64(v)
			}
		}
		mu := sum / count
		v := math.Max(sq/count-mu*mu, 0)
		inv := 1 / math.Sqrt(v+float64(eps))
		md[ch], vd[ch], id[ch] = float32(mu), float32(v), float32(inv)

		for b := 0; b < n; b++ {
			base := (b*c + ch) * hw
			for j := 0; j < hw; j++ {
				dst[base+j] = float32((float64(src[base+j]) - mu) * inv)
			}
		}
	}, cpu.par)
	return xhat, mean, variance, invStd
}

// BatchNorm2DBackward returns the input gradient of the normalization:
//
//	dx = invStd/M * (M*g - sum(g) - xhat*sum(g*xhat))
//
// with sums taken per channel over the M = N*H*W positions.
func (cpu *CPUBackend) BatchNorm2DBackward(xhat, invStd, grad *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("batchnorm2d_backward", xhat, invStd, grad)
	shape := xhat.Shape()
	if len(shape) != 4 || !grad.Shape().Equal(shape) {
		panic(fmt.Sprintf("batchnorm2d_backward: shapes xhat %v and grad %v must match and be 4D", shape, grad.Shape()))
	}
	n, c, hw := shape[0], shape[1], shape[2]*shape[3]
	m := float64(n * hw)

	dx := cpu.alloc("batchnorm2d_backward", shape, tensor.Float32)
	xh, g, inv, out := xhat.AsFloat32(), grad.AsFloat32(), invStd.AsFloat32(), dx.AsFloat32()

	parallel.Tasks(c, func(ch int) {
		var sg, sgx float64
		for b := 0; b < n; b++ {
			base := (b*c + ch) * hw
			for j := 0; j < hw; j++ {
				sg += float64(g[base+j])
				sgx += float64(g[base+j]) * float64(xh[base+j])
			}
		}
		scale := float64(inv[ch]) / m
		for b := 0; b < n; b++ {
			base := (b*c + ch) * hw
			for j := 0; j < hw; j++ {
				out[base+j] = float32(scale * (m*float64(g[base+j]) - sg - float64(xh[base+j])*sgx))
			}
		}
	}, cpu.par)
	return dx
}
