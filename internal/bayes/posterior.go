package bayes

import (
	"math"
	"math/rand/v2"

	"github.com/born-ml/bdl/internal/autodiff"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/tensor"
)

// DefaultPsiInit is the range psi is drawn from: std in [exp(-6), exp(-5)],
// so a fresh layer starts close to deterministic.
var DefaultPsiInit = [2]float64{-6, -5}

// Options configures a mean-field layer.
type Options struct {
	// Mode is the base sampling mode. Zero means Independent.
	Mode SamplingMode
	// NumMCSamples is the sample count for Parallel mode.
	NumMCSamples int
	// PsiInit is the uniform initialization range of psi. Zero means
	// DefaultPsiInit.
	PsiInit [2]float64
	// RNG supplies initialization and sampling noise. Nil gives the layer
	// its own randomly seeded generator.
	RNG *rand.Rand
}

func (o Options) psiInit() [2]float64 {
	if o.PsiInit == [2]float64{} {
		return DefaultPsiInit
	}
	return o.PsiInit
}

func (o Options) rng() *rand.Rand {
	if o.RNG == nil {
		return tensor.NewRNG(rand.Uint64())
	}
	return o.RNG
}

// MulExpAdd computes eps*exp(psi) + mu as one fused, differentiable
// primitive. eps may carry leading sample dimensions over psi's shape; psi
// and mu receive gradients summed over them.
func MulExpAdd[B tensor.Backend](eps, psi, mu *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return autodiff.Apply(autodiff.MulExpAddFunction{}, eps, psi, mu)
}

// Posterior is a fully factorized Gaussian over one parameter tensor, with
// mean Mu and log standard deviation Psi.
type Posterior[B tensor.Backend] struct {
	Mu  *nn.Parameter[B]
	Psi *nn.Parameter[B]
}

// NewPosterior creates parameters "<prefix>_mu" (holding mu) and
// "<prefix>_psi" drawn uniformly from psiInit.
func NewPosterior[B tensor.Backend](prefix string, mu *tensor.Tensor[float32, B], psiInit [2]float64, rng *rand.Rand) *Posterior[B] {
	psi := tensor.Uniform[float32](mu.Shape(), psiInit[0], psiInit[1], rng, mu.Backend())
	return &Posterior[B]{
		Mu:  nn.NewParameter(prefix+"_mu", mu),
		Psi: nn.NewParameter(prefix+"_psi", psi),
	}
}

// Shape returns the parameter shape.
func (p *Posterior[B]) Shape() tensor.Shape {
	return p.Mu.Shape()
}

// Mean returns the posterior mean.
func (p *Posterior[B]) Mean() *tensor.Tensor[float32, B] {
	return p.Mu.Tensor()
}

// Std returns exp(psi). The result is detached from any tape.
func (p *Posterior[B]) Std() *tensor.Tensor[float32, B] {
	psi := p.Psi.Tensor()
	std := tensor.Zeros[float32](psi.Shape(), psi.Backend())
	out := std.Data()
	for i, v := range psi.Data() {
		out[i] = float32(math.Exp(float64(v)))
	}
	return std
}

// Sample draws one sample with the parameter's shape.
func (p *Posterior[B]) Sample(rng *rand.Rand) *tensor.Tensor[float32, B] {
	mu := p.Mu.Tensor()
	eps := tensor.Randn[float32](mu.Shape(), rng, mu.Backend())
	return MulExpAdd(eps, p.Psi.Tensor(), mu)
}

// SampleN draws n independent samples stacked along a new leading
// dimension: [n, shape...].
func (p *Posterior[B]) SampleN(n int, rng *rand.Rand) *tensor.Tensor[float32, B] {
	mu := p.Mu.Tensor()
	shape := append(tensor.Shape{n}, mu.Shape()...)
	eps := tensor.Randn[float32](shape, rng, mu.Backend())
	return MulExpAdd(eps, p.Psi.Tensor(), mu)
}

// Perturbation draws a zero-mean sample eps*exp(psi).
func (p *Posterior[B]) Perturbation(rng *rand.Rand) *tensor.Tensor[float32, B] {
	mu := p.Mu.Tensor()
	eps := tensor.Randn[float32](mu.Shape(), rng, mu.Backend())
	zero := tensor.Zeros[float32](mu.Shape(), mu.Backend())
	return MulExpAdd(eps, p.Psi.Tensor(), zero)
}

// Parameters returns [mu, psi].
func (p *Posterior[B]) Parameters() []*nn.Parameter[B] {
	return []*nn.Parameter[B]{p.Mu, p.Psi}
}

func posteriorParams[B tensor.Backend](ps ...*Posterior[B]) []*nn.Parameter[B] {
	var out []*nn.Parameter[B]
	for _, p := range ps {
		if p != nil {
			out = append(out, p.Parameters()...)
		}
	}
	return out
}

func posteriorState[B tensor.Backend](ps ...*Posterior[B]) map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	for _, p := range posteriorParams(ps...) {
		state[p.Name()] = p.Raw()
	}
	return state
}
