package bayes

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/born-ml/bdl/internal/autodiff"
	"github.com/born-ml/bdl/internal/backend/cpu"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/tensor"
)

type AD = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func newAD() AD {
	b := autodiff.New(cpu.New())
	b.Tape().StartRecording()
	return b
}

func TestMulExpAddGradientMatchesFiniteDifference(t *testing.T) {
	b := newAD()
	eps := tensor.MustFromSlice([]float32{0.3, -1.2, 0.8, 1.5, -0.4, 0.1}, tensor.Shape{2, 3}, b)
	psi := tensor.MustFromSlice([]float32{-0.5, 0.2, -1}, tensor.Shape{3}, b)
	mu := tensor.MustFromSlice([]float32{1, -2, 0.5}, tensor.Shape{3}, b)
	g := tensor.MustFromSlice([]float32{1, 2, -1, 0.5, -3, 1}, tensor.Shape{2, 3}, b)

	loss := MulExpAdd(eps, psi, mu).Mul(g).Sum()
	grads := autodiff.Backward(loss, b)
	_, ok := grads[eps.Raw()]
	assert.False(t, ok, "noise must not receive a gradient")

	gradPsi := grads[psi.Raw()].AsFloat32()
	gradMu := grads[mu.Raw()].AsFloat32()
	e, gd := eps.Data(), g.Data()
	for j := 0; j < 3; j++ {
		p := psi.Data()[j]
		want := 0.0
		for s := 0; s < 2; s++ {
			want += float64(gd[s*3+j]) * float64(e[s*3+j]) * math.Exp(float64(p))
		}
		assert.InDelta(t, want, gradPsi[j], 1e-5)
		assert.Equal(t, gd[j]+gd[3+j], gradMu[j])

		numeric := fd.Derivative(func(v float64) float64 {
			var total float64
			for s := 0; s < 2; s++ {
				total += float64(gd[s*3+j]) * (float64(e[s*3+j])*math.Exp(v) + float64(mu.Data()[j]))
			}
			return total
		}, float64(p), &fd.Settings{Formula: fd.Central, Step: 1e-4})
		assert.InDelta(t, numeric, gradPsi[j], 1e-4)
	}
}

func TestMulExpAddWithoutTape(t *testing.T) {
	b := cpu.New()
	eps := tensor.MustFromSlice([]float32{2}, tensor.Shape{1}, b)
	psi := tensor.MustFromSlice([]float32{0}, tensor.Shape{1}, b)
	mu := tensor.MustFromSlice([]float32{1}, tensor.Shape{1}, b)
	assert.Equal(t, float32(3), MulExpAdd(eps, psi, mu).Item())
}

func TestLayerGradientsReachPosterior(t *testing.T) {
	for _, mode := range []SamplingMode{Deterministic, Parallel, SingleEps, LocalReparam, Flipout, Independent} {
		t.Run(mode.String(), func(t *testing.T) {
			b := newAD()
			c, err := NewConv2DMF(convCfg(false), Options{Mode: mode, NumMCSamples: 2}, b)
			require.NoError(t, err)
			l, err := NewLinearMF(3*2*2, 2, false, Options{Mode: mode, NumMCSamples: 2}, b)
			require.NoError(t, err)
			net := nn.NewSequential[AD](c, nn.NewReLU[AD](), nn.NewFlatten[AD](-3), l)

			x := tensor.Randn[float32](tensor.Shape{3, 2, 2, 2}, tensor.NewRNG(1), b)
			loss := net.Forward(x).Square().Sum()
			grads := autodiff.Backward(loss, b)

			for _, p := range net.Parameters() {
				g, ok := grads[p.Raw()]
				if mode == Deterministic && IsPsi(p.Name()) {
					assert.False(t, ok, p.Name())
					continue
				}
				require.True(t, ok, p.Name())
				assert.Equal(t, p.Shape(), g.Shape(), p.Name())
			}
		})
	}
}

func TestLocalReparamGradientThroughVariance(t *testing.T) {
	b := newAD()
	l, err := NewLinearMF(2, 1, false, Options{Mode: LocalReparam, RNG: tensor.NewRNG(3)}, b)
	require.NoError(t, err)
	copy(l.Weight().Mu.Tensor().Data(), []float32{0, 0})
	copy(l.Weight().Psi.Tensor().Data(), []float32{0, 0})

	// With mu = 0 the output is eps*sqrt(Σ x² exp(2 psi)); its square has
	// expected psi-gradient 2 x_j² exp(2 psi_j) per example.
	const n = 4000
	xs := make([]float32, 0, 2*n)
	for i := 0; i < n; i++ {
		xs = append(xs, 1, 2)
	}
	x := tensor.MustFromSlice(xs, tensor.Shape{n, 2}, b)
	loss := l.Forward(x).Square().Sum().MulScalar(1.0 / n)
	g := autodiff.Backward(loss, b)[l.Weight().Psi.Raw()].AsFloat32()
	assert.InDelta(t, 2.0, g[0], 0.2)
	assert.InDelta(t, 8.0, g[1], 0.8)
}
