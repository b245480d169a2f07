package bayes

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/bdl/internal/backend/cpu"
	"github.com/born-ml/bdl/internal/metrics"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/tensor"
)

func TestPosteriorInit(t *testing.T) {
	b := cpu.New()
	mu := tensor.Ones[float32](tensor.Shape{50}, b)
	p := NewPosterior("weight", mu, DefaultPsiInit, tensor.NewRNG(1))

	assert.Equal(t, "weight_mu", p.Mu.Name())
	assert.Equal(t, "weight_psi", p.Psi.Name())
	assert.Same(t, mu, p.Mean())

	std := p.Std().Data()
	for i, v := range p.Psi.Tensor().Data() {
		assert.GreaterOrEqual(t, v, float32(-6))
		assert.Less(t, v, float32(-5))
		assert.InDelta(t, math.Exp(float64(v)), std[i], 1e-9)
	}
}

func TestDefaultRNGDiffersPerLayer(t *testing.T) {
	b := cpu.New()
	l1, err := NewLinearMF(3, 3, false, Options{Mode: LocalReparam}, b)
	require.NoError(t, err)
	l2, err := NewLinearMF(3, 3, false, Options{Mode: LocalReparam}, b)
	require.NoError(t, err)
	assert.NotEqual(t, l1.Weight().Mu.Tensor().Data(), l2.Weight().Mu.Tensor().Data())
	assert.NotEqual(t, l1.Weight().Psi.Tensor().Data(), l2.Weight().Psi.Tensor().Data())

	c1, err := NewConv2DMF(convCfg(true), Options{}, b)
	require.NoError(t, err)
	c2, err := NewConv2DMF(convCfg(true), Options{}, b)
	require.NoError(t, err)
	assert.NotEqual(t, c1.Weight().Mu.Tensor().Data(), c2.Weight().Mu.Tensor().Data())
	assert.NotEqual(t, c1.Weight().Psi.Tensor().Data(), c2.Weight().Psi.Tensor().Data())
}

func TestInitDrawsFromOneStream(t *testing.T) {
	b := cpu.New()
	l, err := NewLinearMF(4, 3, false, Options{RNG: tensor.NewRNG(5)}, b)
	require.NoError(t, err)

	rng := tensor.NewRNG(5)
	mu := tensor.Uniform[float32](tensor.Shape{3, 4}, -0.5, 0.5, rng, b)
	want := NewPosterior("weight", mu, DefaultPsiInit, rng)
	assert.Equal(t, mu.Data(), l.Weight().Mu.Tensor().Data())
	assert.Equal(t, want.Psi.Tensor().Data(), l.Weight().Psi.Tensor().Data())
}

func TestDeterministicEqualsMean(t *testing.T) {
	b := cpu.New()
	x := randInput(2, 4, 2, 5, 5)

	c, err := NewConv2DMF(convCfg(true), Options{Mode: Deterministic, RNG: tensor.NewRNG(1)}, b)
	require.NoError(t, err)
	fill(c.Weight().Psi, 0)
	want := x.Conv2D(c.Weight().Mean(), c.Config().Params()).Add(c.Bias().Mean().Reshape(1, 3, 1, 1))

	for _, seed := range []uint64{3, 4} {
		c.SetRNG(tensor.NewRNG(seed))
		assert.Equal(t, want.Data(), c.Forward(x).Data())
	}

	l, err := NewLinearMF(5, 3, true, Options{Mode: SingleEps}, b)
	require.NoError(t, err)
	l.Freeze()
	xl := randInput(5, 4, 5)
	assert.Equal(t, nn.LinearForward(xl, l.Weight().Mean(), l.Bias().Mean()).Data(), l.Forward(xl).Data())

	bn, err := NewBatchNorm2DMF(2, Options{Mode: Deterministic}, b)
	require.NoError(t, err)
	ref := nn.NewBatchNorm2D(2, b)
	assert.Equal(t, ref.Forward(x).Data(), bn.Forward(x).Data())
}

func TestOutputShapes(t *testing.T) {
	b := cpu.New()
	const samples = 6

	conv, err := NewConv2DMF(convCfg(false), Options{}, b)
	require.NoError(t, err)
	lin, err := NewLinearMF(5, 3, false, Options{}, b)
	require.NoError(t, err)
	bn, err := NewBatchNorm2DMF(2, Options{}, b)
	require.NoError(t, err)

	x4 := randInput(1, 4, 2, 5, 5)
	x5 := randInput(1, 4, samples, 2, 5, 5)
	x2 := randInput(1, 4, 5)
	x3 := randInput(1, 4, 2, 5)

	for _, mode := range []SamplingMode{Deterministic, SingleEps, LocalReparam, Flipout, Independent} {
		require.NoError(t, conv.SetMode(mode))
		require.NoError(t, lin.SetMode(mode))
		assert.Equal(t, tensor.Shape{4, 3, 5, 5}, conv.Forward(x4).Shape(), mode.String())
		assert.Equal(t, tensor.Shape{4, 3}, lin.Forward(x2).Shape(), mode.String())
		assert.Equal(t, tensor.Shape{4, 2, 3}, lin.Forward(x3).Shape(), mode.String())

		if bn.SetMode(mode) == nil {
			assert.Equal(t, tensor.Shape{4, 2, 5, 5}, bn.Forward(x4).Shape(), mode.String())
		}
	}

	for _, l := range []Layer{conv, lin, bn} {
		require.NoError(t, l.EnableParallelEval(samples))
	}
	assert.Equal(t, tensor.Shape{4, samples, 3, 5, 5}, conv.Forward(x4).Shape())
	assert.Equal(t, tensor.Shape{4, samples, 3, 5, 5}, conv.Forward(x5).Shape())
	assert.Equal(t, tensor.Shape{4, samples, 2, 5, 5}, bn.Forward(x4).Shape())
	assert.Equal(t, tensor.Shape{4, samples, 2, 5, 5}, bn.Forward(x5).Shape())
	assert.Equal(t, tensor.Shape{4, samples, 3}, lin.Forward(x2).Shape())
	assert.Equal(t, tensor.Shape{4, samples, 3}, lin.Forward(randInput(1, 4, samples, 5)).Shape())

	assert.Panics(t, func() { conv.Forward(randInput(1, 4, samples+1, 2, 5, 5)) })
	assert.Panics(t, func() { lin.Forward(randInput(1, 4, 2, 2, 5)) })
}

func TestSingleEpsSharesOneSample(t *testing.T) {
	b := cpu.New()
	c, err := NewConv2DMF(convCfg(true), Options{Mode: SingleEps}, b)
	require.NoError(t, err)
	fill(c.Weight().Psi, -1)
	fill(c.Bias().Psi, -1)

	x := randInput(2, 3, 2, 5, 5)
	copy(slice(x, 1), slice(x, 0))

	c.SetRNG(tensor.NewRNG(7))
	got := c.Forward(x)

	rng := tensor.NewRNG(7)
	w := c.Weight().Sample(rng)
	bias := c.Bias().Sample(rng)
	want := x.Conv2D(w, c.Config().Params()).Add(bias.Reshape(1, 3, 1, 1))

	assert.InDeltaSlice(t, want.Data(), got.Data(), 1e-6)
	assert.Equal(t, slice(got, 0), slice(got, 1))
}

func TestIndependentSamplesPerExample(t *testing.T) {
	b := cpu.New()
	cfgs := map[string]nn.Conv2DConfig{
		"bias":    convCfg(true),
		"grouped": {In: 4, Out: 6, Kernel: [2]int{3, 3}, Stride: [2]int{2, 2}, Groups: 2},
	}
	for name, cfg := range cfgs {
		t.Run(name, func(t *testing.T) {
			c, err := NewConv2DMF(cfg, Options{Mode: Independent}, b)
			require.NoError(t, err)
			fill(c.Weight().Psi, -1)
			if c.Bias() != nil {
				fill(c.Bias().Psi, -1)
			}

			const n = 3
			x := randInput(4, n, cfg.In, 5, 5)
			copy(slice(x, 1), slice(x, 0))

			c.SetRNG(tensor.NewRNG(11))
			got := c.Forward(x)
			assert.NotEqual(t, slice(got, 0), slice(got, 1))

			rng := tensor.NewRNG(11)
			ws := c.Weight().SampleN(n, rng)
			var bs *T
			if c.Bias() != nil {
				bs = c.Bias().SampleN(n, rng)
			}
			for i := 0; i < n; i++ {
				xi := tensor.MustFromSlice(slice(x, i), tensor.Shape{1, cfg.In, 5, 5}, b)
				wi := tensor.MustFromSlice(slice(ws, i), cfg.KernelShape(), b)
				yi := xi.Conv2D(wi, cfg.Params())
				if bs != nil {
					yi = yi.Add(tensor.MustFromSlice(slice(bs, i), tensor.Shape{1, cfg.Out, 1, 1}, b))
				}
				assert.InDeltaSlice(t, yi.Data(), slice(got, i), 1e-5)
			}
		})
	}
}

func TestConvParallelMatchesPerSample(t *testing.T) {
	b := cpu.New()
	const samples = 3
	c, err := NewConv2DMF(convCfg(true), Options{}, b)
	require.NoError(t, err)
	fill(c.Weight().Psi, -1)
	fill(c.Bias().Psi, -1)
	require.NoError(t, c.EnableParallelEval(samples))
	p := c.Config().Params()

	check := func(got *T, input func(n, s int) *T) {
		rng := tensor.NewRNG(5)
		ws := c.Weight().SampleN(samples, rng)
		bs := c.Bias().SampleN(samples, rng)
		for s := 0; s < samples; s++ {
			ws1 := tensor.MustFromSlice(slice(ws, s), c.Config().KernelShape(), b)
			bs1 := tensor.MustFromSlice(slice(bs, s), tensor.Shape{1, 3, 1, 1}, b)
			for n := 0; n < got.Shape()[0]; n++ {
				want := input(n, s).Conv2D(ws1, p).Add(bs1)
				assert.InDeltaSlice(t, want.Data(), sampleSlice(got, n, s), 1e-5)
			}
		}
	}

	x4 := randInput(8, 2, 2, 5, 5)
	c.SetRNG(tensor.NewRNG(5))
	check(c.Forward(x4), func(n, _ int) *T {
		return tensor.MustFromSlice(slice(x4, n), tensor.Shape{1, 2, 5, 5}, b)
	})

	x5 := randInput(9, 2, samples, 2, 5, 5)
	c.SetRNG(tensor.NewRNG(5))
	check(c.Forward(x5), func(n, s int) *T {
		return tensor.MustFromSlice(sampleSlice(x5, n, s), tensor.Shape{1, 2, 5, 5}, b)
	})
}

func TestLinearIndependentAndParallel(t *testing.T) {
	b := cpu.New()
	l, err := NewLinearMF(4, 3, true, Options{}, b)
	require.NoError(t, err)
	fill(l.Weight().Psi, -1)
	fill(l.Bias().Psi, -1)

	x := randInput(3, 5, 4)
	row := func(i int) *T { return tensor.MustFromSlice(slice(x, i), tensor.Shape{1, 4}, b) }

	l.SetRNG(tensor.NewRNG(21))
	got := l.Forward(x)
	rng := tensor.NewRNG(21)
	ws, bs := l.Weight().SampleN(5, rng), l.Bias().SampleN(5, rng)
	for i := 0; i < 5; i++ {
		wi := tensor.MustFromSlice(slice(ws, i), tensor.Shape{3, 4}, b)
		bi := tensor.MustFromSlice(slice(bs, i), tensor.Shape{3}, b)
		assert.InDeltaSlice(t, nn.LinearForward(row(i), wi, bi).Data(), slice(got, i), 1e-5)
	}

	const samples = 4
	require.NoError(t, l.EnableParallelEval(samples))
	l.SetRNG(tensor.NewRNG(22))
	got = l.Forward(x)
	require.Equal(t, tensor.Shape{5, samples, 3}, got.Shape())
	rng = tensor.NewRNG(22)
	ws, bs = l.Weight().SampleN(samples, rng), l.Bias().SampleN(samples, rng)
	for s := 0; s < samples; s++ {
		ws1 := tensor.MustFromSlice(slice(ws, s), tensor.Shape{3, 4}, b)
		bs1 := tensor.MustFromSlice(slice(bs, s), tensor.Shape{3}, b)
		for i := 0; i < 5; i++ {
			assert.InDeltaSlice(t, nn.LinearForward(row(i), ws1, bs1).Data(), sampleSlice(got, i, s), 1e-5)
		}
	}
}

// outputMoments runs a one-output linear layer on a fixed input and returns
// the sample mean and variance of its output.
func outputMoments(t *testing.T, mode SamplingMode, batch, rounds int) (mean, variance float64) {
	b := cpu.New()
	l, err := NewLinearMF(4, 1, false, Options{Mode: mode, RNG: tensor.NewRNG(1)}, b)
	require.NoError(t, err)
	copy(l.Weight().Mu.Tensor().Data(), []float32{0.5, -1, 2, 0})
	fill(l.Weight().Psi, float32(math.Log(0.5)))

	xs := make([]float32, 0, batch*4)
	for i := 0; i < batch; i++ {
		xs = append(xs, 1, 2, -1, 0.5)
	}
	x := tensor.MustFromSlice(xs, tensor.Shape{batch, 4}, b)

	var values []float64
	for r := 0; r < rounds; r++ {
		for _, v := range l.Forward(x).Data() {
			values = append(values, float64(v))
		}
	}
	return stat.MeanVariance(values, nil)
}

func TestLocalReparamMoments(t *testing.T) {
	mean, variance := outputMoments(t, LocalReparam, 4000, 1)
	// mean = x·mu, variance = Σ x² σ² with σ = 0.5
	assert.InDelta(t, -3.5, mean, 0.1)
	assert.InDelta(t, 1.5625, variance, 0.15)
}

func TestFlipoutMoments(t *testing.T) {
	mean, variance := outputMoments(t, Flipout, 1, 4000)
	assert.InDelta(t, -3.5, mean, 0.1)
	assert.InDelta(t, 1.5625, variance, 0.15)
}

func TestFlipoutNearZeroVariance(t *testing.T) {
	c, err := NewConv2DMF(convCfg(false), Options{Mode: Flipout}, cpu.New())
	require.NoError(t, err)
	fill(c.Weight().Psi, -30)

	x := randInput(6, 3, 2, 5, 5)
	want := x.Conv2D(c.Weight().Mean(), c.Config().Params())
	assert.InDeltaSlice(t, want.Data(), c.Forward(x).Data(), 1e-5)
}

func TestBatchNormParallelFoldsSamples(t *testing.T) {
	b := cpu.New()
	bn, err := NewBatchNorm2DMF(2, Options{}, b)
	require.NoError(t, err)
	require.NoError(t, bn.EnableParallelEval(3))
	fill(bn.Weight().Psi, -30)
	fill(bn.Bias().Psi, -30)

	x := randInput(2, 2, 3, 2, 4, 4)
	out := bn.Forward(x)

	// Near-zero variance: every sample equals plain normalization over the
	// folded batch.
	ref := nn.NewBatchNorm2D(2, b)
	want := ref.Forward(x.Reshape(6, 2, 4, 4))
	assert.InDeltaSlice(t, want.Data(), out.Data(), 1e-5)
	assert.InDeltaSlice(t, ref.RunningMean.Data(), bn.Stats().RunningMean.Data(), 1e-6)

	bn.SetTraining(false)
	assert.False(t, bn.Training())
}

func TestForwardCountsMetrics(t *testing.T) {
	l, err := NewLinearMF(2, 2, true, Options{Mode: SingleEps}, cpu.New())
	require.NoError(t, err)
	counter := metrics.LayerForward.WithLabelValues("linear_mf", "single_eps")
	before := testutil.ToFloat64(counter)
	l.Forward(randInput(1, 3, 2))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestLayerStateDict(t *testing.T) {
	b := cpu.New()
	src, err := NewBatchNorm2DMF(3, Options{RNG: tensor.NewRNG(1)}, b)
	require.NoError(t, err)
	src.Forward(randInput(1, 4, 3, 2, 2))

	state := src.StateDict()
	assert.ElementsMatch(t,
		[]string{"weight_mu", "weight_psi", "bias_mu", "bias_psi", "running_mean", "running_var"},
		keys(state))

	dst, err := NewBatchNorm2DMF(3, Options{RNG: tensor.NewRNG(2)}, b)
	require.NoError(t, err)
	require.NoError(t, dst.LoadStateDict(state))
	assert.Equal(t, src.Weight().Psi.Tensor().Data(), dst.Weight().Psi.Tensor().Data())
	assert.Equal(t, src.Stats().RunningVar.Data(), dst.Stats().RunningVar.Data())

	delete(state, "bias_psi")
	assert.Error(t, dst.LoadStateDict(state))
}

func keys(m map[string]*tensor.RawTensor) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
