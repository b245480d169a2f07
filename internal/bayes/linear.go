package bayes

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/born-ml/bdl/internal/metrics"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/tensor"
)

const linearLayer = "linear_mf"

// LinearMF is a fully connected layer with a mean-field Gaussian posterior
// over its weight [out, in] and optional bias [out].
//
// Input shape: [B, ..., in], or [B, in] / [B, S, in] in Parallel mode.
// Output shape: [B, ..., out], or [B, S, out] in Parallel mode.
type LinearMF[B tensor.Backend] struct {
	modeState
	in, out int
	weight  *Posterior[B]
	bias    *Posterior[B]
	rng     *rand.Rand
	backend B
}

// NewLinearMF creates a mean-field linear layer with mu drawn from
// U(-1/sqrt(in), 1/sqrt(in)) and psi from opts.PsiInit.
func NewLinearMF[B tensor.Backend](in, out int, bias bool, opts Options, backend B) (*LinearMF[B], error) {
	if in <= 0 || out <= 0 {
		return nil, configError(linearLayer, ErrSize, "in=%d out=%d", in, out)
	}
	rng := opts.rng()
	opts.RNG = rng
	bound := 1 / math.Sqrt(float64(in))
	weight := tensor.Uniform[float32](tensor.Shape{out, in}, -bound, bound, rng, backend)
	var b *tensor.Tensor[float32, B]
	if bias {
		b = tensor.Uniform[float32](tensor.Shape{out}, -bound, bound, rng, backend)
	}
	return newLinearMF(weight, b, opts, backend)
}

// FromLinear converts a deterministic linear layer. The posterior means are
// copies of the deterministic weights.
func FromLinear[B tensor.Backend](l *nn.Linear[B], opts Options) (*LinearMF[B], error) {
	var bias *tensor.Tensor[float32, B]
	if l.Bias() != nil {
		bias = l.Bias().Tensor().Clone()
	}
	w := l.Weight().Tensor()
	return newLinearMF(w.Clone(), bias, opts, w.Backend())
}

func newLinearMF[B tensor.Backend](weight, bias *tensor.Tensor[float32, B], opts Options, backend B) (*LinearMF[B], error) {
	state, err := newModeState(linearLayer, opts, bias != nil)
	if err != nil {
		return nil, err
	}
	rng := opts.rng()
	l := &LinearMF[B]{
		modeState: state,
		out:       weight.Shape()[0],
		in:        weight.Shape()[1],
		weight:    NewPosterior("weight", weight, opts.psiInit(), rng),
		rng:       rng,
		backend:   backend,
	}
	if bias != nil {
		l.bias = NewPosterior("bias", bias, opts.psiInit(), rng)
	}
	return l, nil
}

// Forward applies the layer in the effective sampling mode.
func (l *LinearMF[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	mode := l.Mode()
	metrics.LayerForward.WithLabelValues(linearLayer, mode.String()).Inc()

	if mode == Parallel {
		return l.forwardParallel(input)
	}
	s := input.Shape()
	if len(s) < 2 || s[len(s)-1] != l.in {
		panic(fmt.Sprintf("%s: expected input [B, ..., %d], got %v", linearLayer, l.in, s))
	}

	switch mode {
	case Deterministic:
		var bias *tensor.Tensor[float32, B]
		if l.bias != nil {
			bias = l.bias.Mean()
		}
		return nn.LinearForward(input, l.weight.Mean(), bias)
	case SingleEps:
		var bias *tensor.Tensor[float32, B]
		if l.bias != nil {
			bias = l.bias.Sample(l.rng)
		}
		return nn.LinearForward(input, l.weight.Sample(l.rng), bias)
	case LocalReparam:
		actMu := nn.LinearForward(input, l.weight.Mean(), nil)
		actVar := nn.LinearForward(input.Square(), l.weight.Psi.Tensor().MulScalar(2).Exp(), nil)
		actStd := actVar.ClampMin(varianceFloor).Sqrt()
		eps := tensor.Randn[float32](actMu.Shape(), l.rng, l.backend)
		return eps.Mul(actStd).Add(actMu)
	case Flipout:
		out := nn.LinearForward(input, l.weight.Mean(), nil)
		signIn := tensor.RandSign[float32](perExample(s, l.in), l.rng, l.backend)
		signOut := tensor.RandSign[float32](perExample(s, l.out), l.rng, l.backend)
		perturbed := nn.LinearForward(input.Mul(signIn), l.weight.Perturbation(l.rng), nil)
		return out.Add(perturbed.Mul(signOut))
	default:
		return l.forwardIndependent(input)
	}
}

// perExample returns [B, 1, ..., 1, last] for an input shape [B, ..., in].
func perExample(s tensor.Shape, last int) tensor.Shape {
	shape := make(tensor.Shape, len(s))
	for i := range shape {
		shape[i] = 1
	}
	shape[0] = s[0]
	shape[len(shape)-1] = last
	return shape
}

// forwardIndependent multiplies every example by its own weight sample with
// one batched matmul: [B, M, in] x [B, in, out].
func (l *LinearMF[B]) forwardIndependent(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	s := input.Shape()
	n := s[0]
	weight := l.weight.SampleN(n, l.rng).Transpose(0, 2, 1)
	out := input.Reshape(n, -1, l.in).BatchMatMul(weight)
	if l.bias != nil {
		out = out.Add(l.bias.SampleN(n, l.rng).Reshape(n, 1, l.out))
	}
	outShape := s.Clone()
	outShape[len(outShape)-1] = l.out
	return out.Reshape(outShape...)
}

// forwardParallel evaluates every Monte-Carlo sample with one batched matmul
// over the sample dimension: [S, B, in] x [S, in, out].
func (l *LinearMF[B]) forwardParallel(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	samples := l.NumMCSamples()
	s := input.Shape()
	var xs *tensor.Tensor[float32, B]
	switch {
	case len(s) == 2 && s[1] == l.in:
		xs = input.Reshape(1, s[0], l.in).Expand(tensor.Shape{samples, s[0], l.in})
	case len(s) == 3 && s[1] == samples && s[2] == l.in:
		xs = input.Transpose(1, 0, 2)
	default:
		panic(fmt.Sprintf("%s: expected input [B, %d] or [B, %d, %d], got %v",
			linearLayer, l.in, samples, l.in, s))
	}

	weight := l.weight.SampleN(samples, l.rng).Transpose(0, 2, 1)
	out := xs.BatchMatMul(weight).Transpose(1, 0, 2)
	if l.bias != nil {
		out = out.Add(l.bias.SampleN(samples, l.rng).Reshape(1, samples, l.out))
	}
	return out
}

// Parameters returns weight_mu, weight_psi and, with a bias, bias_mu,
// bias_psi.
func (l *LinearMF[B]) Parameters() []*nn.Parameter[B] {
	return posteriorParams(l.weight, l.bias)
}

// Weight returns the weight posterior.
func (l *LinearMF[B]) Weight() *Posterior[B] {
	return l.weight
}

// Bias returns the bias posterior, or nil.
func (l *LinearMF[B]) Bias() *Posterior[B] {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *LinearMF[B]) InFeatures() int {
	return l.in
}

// OutFeatures returns the number of output features.
func (l *LinearMF[B]) OutFeatures() int {
	return l.out
}

// SetRNG replaces the noise source.
func (l *LinearMF[B]) SetRNG(rng *rand.Rand) {
	l.rng = rng
}

// StateDict returns the posterior parameters.
func (l *LinearMF[B]) StateDict() map[string]*tensor.RawTensor {
	return posteriorState(l.weight, l.bias)
}

// LoadStateDict restores the posterior parameters.
func (l *LinearMF[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	return nn.LoadParams(state, l.Parameters()...)
}
