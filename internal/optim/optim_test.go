package optim_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/bdl/internal/backend/cpu"
	"github.com/born-ml/bdl/internal/metrics"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/optim"
	"github.com/born-ml/bdl/internal/tensor"
)

type Backend = *cpu.CPUBackend

func param(name string, values ...float32) *nn.Parameter[Backend] {
	return nn.NewParameter(name, tensor.MustFromSlice(values, tensor.Shape{len(values)}, cpu.New()))
}

func gradsFor(p *nn.Parameter[Backend], values ...float32) map[*tensor.RawTensor]*tensor.RawTensor {
	g := tensor.MustRaw(p.Shape(), tensor.Float32, tensor.CPU)
	copy(g.AsFloat32(), values)
	return map[*tensor.RawTensor]*tensor.RawTensor{p.Raw(): g}
}

func newSGD(t *testing.T, p *nn.Parameter[Backend], cfg optim.SGDConfig) *optim.SGD[Backend] {
	t.Helper()
	o, err := optim.NewSGD([]*nn.Parameter[Backend]{p}, cfg, cpu.New())
	require.NoError(t, err)
	return o
}

func TestSGDUpdateRules(t *testing.T) {
	tests := []struct {
		name  string
		cfg   optim.SGDConfig
		start float32
		want  []float32 // parameter after each step with gradient 1
	}{
		{"plain", optim.SGDConfig{LR: 0.1}, 2, []float32{1.9, 1.8}},
		{"momentum", optim.SGDConfig{LR: 0.1, Momentum: 0.9}, 1, []float32{0.9, 0.71}},
		{"dampening", optim.SGDConfig{LR: 0.1, Momentum: 0.9, Dampening: 0.5}, 1, []float32{0.9, 0.76}},
		{"nesterov", optim.SGDConfig{LR: 0.1, Momentum: 0.9, Nesterov: true}, 1, []float32{0.81, 0.539}},
		{"weight_decay", optim.SGDConfig{LR: 0.1, WeightDecay: 0.5}, 2, []float32{1.8, 1.61}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := param("weight", tt.start)
			o := newSGD(t, p, tt.cfg)
			for _, want := range tt.want {
				o.ZeroGrad()
				o.Step(gradsFor(p, 1))
				assert.InDelta(t, want, p.Tensor().Data()[0], 1e-6)
			}
		})
	}
}

func TestSGDConfigValidation(t *testing.T) {
	p := param("weight", 1)
	_, err := optim.NewSGD([]*nn.Parameter[Backend]{p}, optim.SGDConfig{LR: 0.1, Nesterov: true}, cpu.New())
	require.ErrorIs(t, err, optim.ErrNesterov)
	_, err = optim.NewSGD([]*nn.Parameter[Backend]{p}, optim.SGDConfig{LR: 0.1, Momentum: 0.9, Dampening: 0.1, Nesterov: true}, cpu.New())
	require.ErrorIs(t, err, optim.ErrNesterov)
	_, err = optim.NewSGD([]*nn.Parameter[Backend]{p}, optim.SGDConfig{LR: -1}, cpu.New())
	require.Error(t, err)
}

func TestSGDSkipsParametersWithoutGradient(t *testing.T) {
	a, b := param("a", 1), param("b", 1)
	o, err := optim.NewSGD([]*nn.Parameter[Backend]{a, b}, optim.SGDConfig{LR: 0.5, Momentum: 0.9}, cpu.New())
	require.NoError(t, err)
	o.Step(gradsFor(a, 1))
	assert.Equal(t, float32(0.5), a.Tensor().Data()[0])
	assert.Equal(t, float32(1), b.Tensor().Data()[0])
	assert.Len(t, o.StateDict(), 1)
}

func TestPsiSGDScalesStepByDatasetSize(t *testing.T) {
	const n = 50
	psi := param("weight_psi", -5, -6)
	o, err := optim.NewPsiSGD([]*nn.Parameter[Backend]{psi}, optim.SGDConfig{LR: 0.1}, n, cpu.New())
	require.NoError(t, err)
	assert.InDelta(t, 0.1/n, o.GetLR(), 1e-9)
	assert.Equal(t, float32(0.1), o.BaseLR())

	o.Step(gradsFor(psi, 2, -1))
	assert.InDelta(t, -5-0.1*2/n, psi.Tensor().Data()[0], 1e-5)
	assert.InDelta(t, -6+0.1*1/n, psi.Tensor().Data()[1], 1e-5)

	o.SetLR(1)
	assert.InDelta(t, 1.0/n, o.GetLR(), 1e-9)
}

func TestPsiSGDMatchesSGDWithScaledRate(t *testing.T) {
	const n = 8
	cfg := optim.SGDConfig{LR: 0.4, Momentum: 0.9, Nesterov: true, WeightDecay: 2e-4}
	psi := param("bias_psi", -5.5, -5.2)
	ref := param("ref", -5.5, -5.2)

	psiOpt, err := optim.NewPsiSGD([]*nn.Parameter[Backend]{psi}, cfg, n, cpu.New())
	require.NoError(t, err)
	refCfg := cfg
	refCfg.LR = cfg.LR / n
	refOpt := newSGD(t, ref, refCfg)

	for _, g := range [][]float32{{1, -2}, {0.5, 3}, {-1, 1}} {
		psiOpt.Step(gradsFor(psi, g...))
		refOpt.Step(gradsFor(ref, g...))
	}
	assert.Equal(t, ref.Tensor().Data(), psi.Tensor().Data())
}

func TestPsiSGDRejectsInvalidInput(t *testing.T) {
	_, err := optim.NewPsiSGD([]*nn.Parameter[Backend]{param("weight_mu", 0)}, optim.SGDConfig{}, 10, cpu.New())
	require.Error(t, err)
	_, err = optim.NewPsiSGD([]*nn.Parameter[Backend]{param("weight_psi", 0)}, optim.SGDConfig{}, 0, cpu.New())
	require.Error(t, err)
}

func TestChain(t *testing.T) {
	mu, psi := param("weight_mu", 1), param("weight_psi", -5)
	muOpt := newSGD(t, mu, optim.SGDConfig{LR: 0.1, Momentum: 0.9})
	psiOpt, err := optim.NewPsiSGD([]*nn.Parameter[Backend]{psi}, optim.SGDConfig{LR: 1, Momentum: 0.9}, 10, cpu.New())
	require.NoError(t, err)
	chain := optim.Chain{muOpt, psiOpt}

	grads := gradsFor(mu, 1)
	for k, v := range gradsFor(psi, 1) {
		grads[k] = v
	}
	chain.ZeroGrad()
	chain.Step(grads)
	assert.InDelta(t, 0.9, mu.Tensor().Data()[0], 1e-6)
	assert.InDelta(t, -5.1, psi.Tensor().Data()[0], 1e-6)
	assert.Equal(t, float32(0.1), chain.GetLR())

	state := chain.StateDict()
	assert.Contains(t, state, "0.velocity.0")
	assert.Contains(t, state, "1.velocity.0")

	// A restored chain continues exactly like the original.
	mu2, psi2 := param("weight_mu", 0), param("weight_psi", 0)
	copy(mu2.Tensor().Data(), mu.Tensor().Data())
	copy(psi2.Tensor().Data(), psi.Tensor().Data())
	muOpt2 := newSGD(t, mu2, optim.SGDConfig{LR: 0.1, Momentum: 0.9})
	psiOpt2, err := optim.NewPsiSGD([]*nn.Parameter[Backend]{psi2}, optim.SGDConfig{LR: 1, Momentum: 0.9}, 10, cpu.New())
	require.NoError(t, err)
	chain2 := optim.Chain{muOpt2, psiOpt2}
	require.NoError(t, chain2.LoadStateDict(state))

	chain.Step(grads)
	grads2 := gradsFor(mu2, 1)
	for k, v := range gradsFor(psi2, 1) {
		grads2[k] = v
	}
	chain2.Step(grads2)
	assert.Equal(t, mu.Tensor().Data(), mu2.Tensor().Data())
	assert.Equal(t, psi.Tensor().Data(), psi2.Tensor().Data())
}

func TestSGDLoadStateDictShapeMismatch(t *testing.T) {
	p := param("weight", 1, 2)
	o := newSGD(t, p, optim.SGDConfig{LR: 0.1, Momentum: 0.9})
	bad := map[string]*tensor.RawTensor{"velocity.0": tensor.MustRaw(tensor.Shape{3}, tensor.Float32, tensor.CPU)}
	require.Error(t, o.LoadStateDict(bad))
}

func TestAdam(t *testing.T) {
	p := param("weight", 1, -1)
	o := optim.NewAdam([]*nn.Parameter[Backend]{p}, optim.AdamConfig{LR: 0.01}, cpu.New())
	o.Step(gradsFor(p, 4, -0.5))
	// The first bias-corrected step moves every element by about lr.
	assert.InDelta(t, 0.99, p.Tensor().Data()[0], 1e-5)
	assert.InDelta(t, -0.99, p.Tensor().Data()[1], 1e-5)
	assert.Equal(t, 1, o.GetTimestep())

	q := param("weight", 0.99, -0.99)
	copy(q.Tensor().Data(), p.Tensor().Data())
	o2 := optim.NewAdam([]*nn.Parameter[Backend]{q}, optim.AdamConfig{LR: 0.01}, cpu.New())
	require.NoError(t, o2.LoadStateDict(o.StateDict()))
	assert.Equal(t, 1, o2.GetTimestep())

	o.Step(gradsFor(p, 1, 1))
	o2.Step(gradsFor(q, 1, 1))
	assert.Equal(t, p.Tensor().Data(), q.Tensor().Data())

	require.Error(t, o2.LoadStateDict(map[string]*tensor.RawTensor{}))
}

func TestStepsAreCounted(t *testing.T) {
	p := param("weight", 1)
	o := newSGD(t, p, optim.SGDConfig{LR: 0.1})
	counter := metrics.OptimizerSteps.WithLabelValues("sgd")
	before := testutil.ToFloat64(counter)
	o.Step(gradsFor(p, 1))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
