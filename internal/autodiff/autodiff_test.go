package autodiff

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/born-ml/bdl/internal/backend/cpu"
	"github.com/born-ml/bdl/internal/tensor"
)

type Backend = *AutodiffBackend[*cpu.CPUBackend]

type T = tensor.Tensor[float32, Backend]

func newBackend() Backend {
	b := New(cpu.New())
	b.Tape().StartRecording()
	return b
}

func TestSquareGradient(t *testing.T) {
	b := newBackend()
	x := tensor.MustFromSlice([]float32{2, -3}, tensor.Shape{2}, b)
	y := x.Mul(x).Sum()

	grads := Backward(y, b)
	require.Contains(t, grads, x.Raw())
	assert.Equal(t, []float32{4, -6}, grads[x.Raw()].AsFloat32())
}

func TestBroadcastGradientIsReduced(t *testing.T) {
	b := newBackend()
	x := tensor.Ones[float32](tensor.Shape{2, 3}, b)
	bias := tensor.MustFromSlice([]float32{1, 2, 3}, tensor.Shape{3}, b)
	y := x.Add(bias).Sum()

	grads := Backward(y, b)
	assert.Equal(t, tensor.Shape{3}, grads[bias.Raw()].Shape())
	assert.Equal(t, []float32{2, 2, 2}, grads[bias.Raw()].AsFloat32())
}

func TestGradientAccumulatesAcrossUses(t *testing.T) {
	b := newBackend()
	x := tensor.MustFromSlice([]float32{3}, tensor.Shape{1}, b)
	y := x.Mul(x).Add(x.MulScalar(2)).Sum() // x² + 2x

	grads := Backward(y, b)
	assert.InDelta(t, 8.0, grads[x.Raw()].AsFloat32()[0], 1e-6)
}

func TestNoGradSuspendsRecording(t *testing.T) {
	b := newBackend()
	x := tensor.Ones[float32](tensor.Shape{2}, b)
	NoGrad(b, func() {
		_ = x.Add(x).Exp()
	})
	assert.Zero(t, b.Tape().NumOps())
	assert.True(t, b.Tape().IsRecording())

	_ = x.Add(x)
	assert.Equal(t, 1, b.Tape().NumOps())
	b.Tape().Clear()
	assert.Zero(t, b.Tape().NumOps())
}

// cube is a custom Function with a deliberately scaled gradient so the test
// can tell the registered rule apart from autodiff through elementary ops.
type cube struct{}

func (cube) Name() string { return "cube" }

func (cube) Forward(in []*tensor.RawTensor, b tensor.Backend) *tensor.RawTensor {
	return b.Mul(b.Mul(in[0], in[0]), in[0])
}

func (cube) Backward(in []*tensor.RawTensor, _, g *tensor.RawTensor, b tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{b.MulScalar(b.Mul(g, b.Mul(in[0], in[0])), 30)}
}

func TestApplyRecordsCustomFunction(t *testing.T) {
	b := newBackend()
	x := tensor.MustFromSlice([]float32{2}, tensor.Shape{1}, b)
	y := Apply[float32](cube{}, x)
	assert.Equal(t, float32(8), y.Item())
	assert.Equal(t, 1, b.Tape().NumOps(), "forward kernels of a Function are not recorded")

	grads := Backward(y.Sum(), b)
	assert.InDelta(t, 120.0, grads[x.Raw()].AsFloat32()[0], 1e-4)

	plain := cpu.New()
	z := Apply[float32](cube{}, tensor.MustFromSlice([]float32{3}, tensor.Shape{1}, plain))
	assert.Equal(t, float32(27), z.Item())
}

// checkGradients compares tape gradients of f against central finite
// differences for every input.
func checkGradients(t *testing.T, shapes []tensor.Shape, tol float64, f func(xs []*T) *T) {
	t.Helper()
	rng := rand.New(rand.NewPCG(11, 12))
	b := newBackend()

	xs := make([]*T, len(shapes))
	for i, s := range shapes {
		xs[i] = tensor.Randn[float32](s, rng, b)
	}
	grads := Backward(f(xs).Sum(), b)

	for i, x := range xs {
		data := x.Data()
		params := make([]float64, len(data))
		for j, v := range data {
			params[j] = float64(v)
		}
		loss := func(p []float64) float64 {
			for j := range p {
				data[j] = float32(p[j])
			}
			var out float32
			NoGrad(b, func() { out = f(xs).Sum().Item() })
			return float64(out)
		}
		want := fd.Gradient(nil, loss, params, &fd.Settings{Formula: fd.Central, Step: 1e-2})
		for j := range params {
			data[j] = float32(params[j])
		}

		got := grads[x.Raw()]
		require.NotNil(t, got, "input %d has no gradient", i)
		assert.InDeltaSlice(t, want, got.AsFloat32(), tol, "input %d", i)
	}
}

func TestOpGradients(t *testing.T) {
	weights := func(shape ...int) *T {
		rng := rand.New(rand.NewPCG(99, 1))
		return tensor.Randn[float32](tensor.Shape(shape), rng, New(cpu.New()))
	}

	tests := []struct {
		name   string
		shapes []tensor.Shape
		f      func(xs []*T) *T
	}{
		{"sub_mul", []tensor.Shape{{2, 3}, {3}}, func(xs []*T) *T {
			return xs[0].Sub(xs[1]).Mul(xs[0])
		}},
		{"div", []tensor.Shape{{2, 3}, {2, 1}}, func(xs []*T) *T {
			return xs[0].Div(xs[1].Square().AddScalar(1))
		}},
		{"exp_sqrt", []tensor.Shape{{4}}, func(xs []*T) *T {
			return xs[0].Exp().AddScalar(0.5).Sqrt()
		}},
		{"matmul", []tensor.Shape{{2, 3}, {3, 4}}, func(xs []*T) *T {
			return xs[0].MatMul(xs[1]).Square()
		}},
		{"batchmatmul_transpose", []tensor.Shape{{2, 3, 4}, {2, 4, 2}}, func(xs []*T) *T {
			return xs[0].BatchMatMul(xs[1]).Transpose(2, 0, 1).Square()
		}},
		{"conv2d_grouped", []tensor.Shape{{2, 4, 5, 5}, {6, 2, 3, 3}}, func(xs []*T) *T {
			p := tensor.Conv2DParams{Stride: [2]int{1, 2}, Padding: [2]int{1, 1}, Dilation: [2]int{1, 1}, Groups: 2}
			return xs[0].Conv2D(xs[1], p).Mul(weights(2, 6, 5, 3))
		}},
		{"reshape_expand", []tensor.Shape{{2, 1, 3}}, func(xs []*T) *T {
			return xs[0].Expand(tensor.Shape{2, 4, 3}).Reshape(8, 3).Square()
		}},
		{"sumdim_meandim", []tensor.Shape{{3, 4}}, func(xs []*T) *T {
			return xs[0].Square().SumDim(0, false).Mul(xs[0].MeanDim(1, true).Sum())
		}},
		{"softmax", []tensor.Shape{{2, 3, 4}}, func(xs []*T) *T {
			return xs[0].Softmax(1).Square()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkGradients(t, tt.shapes, 2e-2, tt.f)
		})
	}
}

func TestMaskedGradients(t *testing.T) {
	b := newBackend()
	x := tensor.MustFromSlice([]float32{-1, 0.5, 2, -0.2}, tensor.Shape{4}, b)
	y := x.ReLU().MulScalar(3).Add(x.ClampMin(0.3).MulScalar(2)).Sum()

	grads := Backward(y, b)
	assert.Equal(t, []float32{0, 5, 5, 0}, grads[x.Raw()].AsFloat32())
}

func TestCrossEntropyGradient(t *testing.T) {
	targets := []int32{2, 0, 1}
	checkGradients(t, []tensor.Shape{{3, 4}}, 1e-2, func(xs []*T) *T {
		b := xs[0].Backend()
		tg := tensor.MustFromSlice(targets, tensor.Shape{3}, b)
		return tensor.New[float32](b.CrossEntropy(xs[0].Raw(), tg.Raw()), b)
	})
}

func TestBatchNorm2DGradient(t *testing.T) {
	checkGradients(t, []tensor.Shape{{3, 2, 2, 2}}, 3e-2, func(xs []*T) *T {
		b := xs[0].Backend()
		xhat, _, _, _ := b.BatchNorm2D(xs[0].Raw(), 1e-5)
		w := tensor.MustFromSlice([]float32{1, -2, 0.5}, tensor.Shape{3}, b)
		out := tensor.New[float32](xhat, b)
		return out.Reshape(3, 8).MeanDim(1, false).Mul(w).Add(out.Square().Sum().MulScalar(0.1))
	})
}

func TestMulExpAddGradient(t *testing.T) {
	rng := rand.New(rand.NewPCG(21, 22))
	b := newBackend()
	eps := tensor.Randn[float32](tensor.Shape{3, 2, 2}, rng, b) // three samples
	psi := tensor.Uniform[float32](tensor.Shape{2, 2}, -1, 0, rng, b)
	mu := tensor.Randn[float32](tensor.Shape{2, 2}, rng, b)
	g := tensor.Randn[float32](tensor.Shape{3, 2, 2}, rng, b)

	out := tensor.New[float32](b.MulExpAdd(eps.Raw(), psi.Raw(), mu.Raw()), b)
	grads := Backward(out.Mul(g).Sum(), b)

	ed, pd, gd := eps.Data(), psi.Data(), g.Data()
	for i := range pd {
		var wantPsi, wantMu float64
		for s := 0; s < 3; s++ {
			j := s*len(pd) + i
			wantPsi += float64(gd[j]) * float64(ed[j]) * math.Exp(float64(pd[i]))
			wantMu += float64(gd[j])
		}
		assert.InDelta(t, wantPsi, grads[psi.Raw()].AsFloat32()[i], 1e-4)
		assert.InDelta(t, wantMu, grads[mu.Raw()].AsFloat32()[i], 1e-5)
	}
	assert.NotContains(t, grads, eps.Raw(), "noise is not a learnable input")
}
