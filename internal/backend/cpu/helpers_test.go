package cpu

import (
	"math/rand/v2"

	"github.com/born-ml/bdl/internal/tensor"
)

func raw(data []float32, shape ...int) *tensor.RawTensor {
	r := tensor.MustRaw(tensor.Shape(shape), tensor.Float32, tensor.CPU)
	copy(r.AsFloat32(), data)
	return r
}

func randRaw(rng *rand.Rand, shape ...int) *tensor.RawTensor {
	r := tensor.MustRaw(tensor.Shape(shape), tensor.Float32, tensor.CPU)
	for i, d := 0, r.AsFloat32(); i < len(d); i++ {
		d[i] = float32(rng.NormFloat64())
	}
	return r
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// naiveConv2D is a direct six-loop grouped convolution used as a reference.
func naiveConv2D(x, k *tensor.RawTensor, p tensor.Conv2DParams) []float32 {
	xs, ks := x.Shape(), k.Shape()
	n, c, h, w := xs[0], xs[1], xs[2], xs[3]
	cout, cg, kh, kw := ks[0], ks[1], ks[2], ks[3]
	cog := cout / p.Groups
	ho, wo := p.OutputSize(h, w, kh, kw)
	xd, kd := x.AsFloat32(), k.AsFloat32()
	out := make([]float32, n*cout*ho*wo)

	for b := 0; b < n; b++ {
		for oc := 0; oc < cout; oc++ {
			g := oc / cog
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					var s float32
					for ic := 0; ic < cg; ic++ {
						for ky := 0; ky < kh; ky++ {
							for kx := 0; kx < kw; kx++ {
								iy := oy*p.Stride[0] - p.Padding[0] + ky*p.Dilation[0]
								ix := ox*p.Stride[1] - p.Padding[1] + kx*p.Dilation[1]
								if iy < 0 || iy >= h || ix < 0 || ix >= w {
									continue
								}
								s += xd[((b*c+g*cg+ic)*h+iy)*w+ix] * kd[((oc*cg+ic)*kh+ky)*kw+kx]
							}
						}
					}
					out[((b*cout+oc)*ho+oy)*wo+ox] = s
				}
			}
		}
	}
	return out
}
