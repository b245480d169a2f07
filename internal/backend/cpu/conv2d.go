package cpu

import (
	"fmt"

	"github.com/born-ml/bdl/internal/parallel"
	"github.com/born-ml/bdl/internal/tensor"
)

// convGeom holds the validated dimensions of a grouped convolution.
type convGeom struct {
	N, C, H, W   int // input
	COut, KH, KW int // kernel
	HOut, WOut   int // output
	G, CG, COG   int // groups, input channels per group, output channels per group

	p       tensor.Conv2DParams
	colRows int // CG*KH*KW
	spatial int // HOut*WOut
}

func normalizeParams(p tensor.Conv2DParams) tensor.Conv2DParams {
	for i := 0; i < 2; i++ {
		if p.Stride[i] == 0 {
			p.Stride[i] = 1
		}
		if p.Dilation[i] == 0 {
			p.Dilation[i] = 1
		}
	}
	if p.Groups == 0 {
		p.Groups = 1
	}
	return p
}

func newConvGeom(op string, input, kernel *tensor.RawTensor, p tensor.Conv2DParams) convGeom {
	p = normalizeParams(p)
	is, ks := input.Shape(), kernel.Shape()
	if len(is) != 4 {
		panic(fmt.Sprintf("%s: input must be 4D [N,C,H,W], got %v", op, is))
	}
	if len(ks) != 4 {
		panic(fmt.Sprintf("%s: kernel must be 4D [C_out,C_in/groups,K_h,K_w], got %v", op, ks))
	}

	g := convGeom{
		N: is[0], C: is[1], H: is[2], W: is[3],
		COut: ks[0], KH: ks[2], KW: ks[3],
		G: p.Groups, p: p,
	}
	if g.C%g.G != 0 || g.COut%g.G != 0 {
		panic(fmt.Sprintf("%s: channels in=%d out=%d not divisible by groups=%d", op, g.C, g.COut, g.G))
	}
	g.CG = g.C / g.G
	g.COG = g.COut / g.G
	if ks[1] != g.CG {
		panic(fmt.Sprintf("%s: kernel expects %d input channels per group, input provides %d", op, ks[1], g.CG))
	}

	g.HOut, g.WOut = p.OutputSize(g.H, g.W, g.KH, g.KW)
	if g.HOut <= 0 || g.WOut <= 0 {
		panic(fmt.Sprintf("%s: invalid output dimensions %dx%d (check stride/padding/dilation)", op, g.HOut, g.WOut))
	}
	g.colRows = g.CG * g.KH * g.KW
	g.spatial = g.HOut * g.WOut
	return g
}

// Conv2D performs a grouped, dilated 2D convolution using im2col.
//
// Input shape: [N, C_in, H, W]
// Kernel shape: [C_out, C_in/groups, K_h, K_w]
// Output shape: [N, C_out, H_out, W_out]
//
// Algorithm, for every (n, g) pair:
//  1. Im2col: gather the group's input patches into [C_in/g * K_h * K_w, H_out * W_out]
//  2. GEMM: [C_out/g, C_in/g * K_h * K_w] @ cols -> [C_out/g, H_out * W_out]
//
// The kernel is already in row-major [C_out, C_in/g * K_h * K_w] layout and
// each group's output block is contiguous, so no transposition is needed.
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, p tensor.Conv2DParams) *tensor.RawTensor {
	requireFloat32("conv2d", input, kernel)
	g := newConvGeom("conv2d", input, kernel, p)

	output := cpu.alloc("conv2d", tensor.Shape{g.N, g.COut, g.HOut, g.WOut}, tensor.Float32)
	in, k, out := input.AsFloat32(), kernel.AsFloat32(), output.AsFloat32()

	kernelBlock := g.COG * g.colRows
	outBlock := g.COG * g.spatial

	parallel.Tasks(g.N*g.G, func(task int) {
		n, grp := task/g.G, task%g.G
		col := make([]float32, g.colRows*g.spatial)
		im2col(col, in, &g, n, grp)

		gemm(false, false, g.COG, g.spatial, g.colRows,
			k[grp*kernelBlock:(grp+1)*kernelBlock],
			col,
			0,
			out[(n*g.G+grp)*outBlock:(n*g.G+grp+1)*outBlock])
	}, cpu.par)

	return output
}

// im2col writes the patches of input channel block grp of batch element n
// into col, laid out as [CG*KH*KW, HOut*WOut]. Padded positions are zero.
func im2col(col, in []float32, g *convGeom, n, grp int) {
	s0, s1 := g.p.Stride[0], g.p.Stride[1]
	p0, p1 := g.p.Padding[0], g.p.Padding[1]
	d0, d1 := g.p.Dilation[0], g.p.Dilation[1]

	for c := 0; c < g.CG; c++ {
		chanBase := ((n*g.C) + grp*g.CG + c) * g.H * g.W
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				row := ((c*g.KH)+kh)*g.KW + kw
				dst := col[row*g.spatial : (row+1)*g.spatial]
				for oh := 0; oh < g.HOut; oh++ {
					ih := oh*s0 - p0 + kh*d0
					if ih < 0 || ih >= g.H {
						for ow := 0; ow < g.WOut; ow++ {
							dst[oh*g.WOut+ow] = 0
						}
						continue
					}
					rowBase := chanBase + ih*g.W
					for ow := 0; ow < g.WOut; ow++ {
						iw := ow*s1 - p1 + kw*d1
						if iw < 0 || iw >= g.W {
							dst[oh*g.WOut+ow] = 0
						} else {
							dst[oh*g.WOut+ow] = in[rowBase+iw]
						}
					}
				}
			}
		}
	}
}

// col2im scatters col back into the input gradient, accumulating overlaps.
func col2im(dx, col []float32, g *convGeom, n, grp int) {
	s0, s1 := g.p.Stride[0], g.p.Stride[1]
	p0, p1 := g.p.Padding[0], g.p.Padding[1]
	d0, d1 := g.p.Dilation[0], g.p.Dilation[1]

	for c := 0; c < g.CG; c++ {
		chanBase := ((n*g.C) + grp*g.CG + c) * g.H * g.W
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				row := ((c*g.KH)+kh)*g.KW + kw
				src := col[row*g.spatial : (row+1)*g.spatial]
				for oh := 0; oh < g.HOut; oh++ {
					ih := oh*s0 - p0 + kh*d0
					if ih < 0 || ih >= g.H {
						continue
					}
					rowBase := chanBase + ih*g.W
					for ow := 0; ow < g.WOut; ow++ {
						iw := ow*s1 - p1 + kw*d1
						if iw >= 0 && iw < g.W {
							dx[rowBase+iw] += src[oh*g.WOut+ow]
						}
					}
				}
			}
		}
	}
}
