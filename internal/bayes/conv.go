package bayes

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/born-ml/bdl/internal/metrics"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/tensor"
)

const conv2dLayer = "conv2d_mf"

// varianceFloor is the lower clamp applied to variances before a square root.
const varianceFloor = 1e-8

// Conv2DMF is a 2D convolution with a mean-field Gaussian posterior over its
// kernel and optional bias.
//
// Input shape: [B, in, H, W], or [B, S, in, H, W] in Parallel mode.
// Output shape: [B, out, H', W'], or [B, S, out, H', W'] in Parallel mode.
type Conv2DMF[B tensor.Backend] struct {
	modeState
	cfg     nn.Conv2DConfig
	weight  *Posterior[B]
	bias    *Posterior[B]
	rng     *rand.Rand
	backend B
}

// NewConv2DMF creates a mean-field convolution. mu is drawn from
// U(-1/sqrt(n), 1/sqrt(n)) with n = in*KH*KW; psi from opts.PsiInit.
func NewConv2DMF[B tensor.Backend](cfg nn.Conv2DConfig, opts Options, backend B) (*Conv2DMF[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Layer: conv2dLayer, Err: err}
	}
	rng := opts.rng()
	opts.RNG = rng
	bound := 1 / math.Sqrt(float64(cfg.In*cfg.Kernel[0]*cfg.Kernel[1]))
	weight := tensor.Uniform[float32](cfg.KernelShape(), -bound, bound, rng, backend)
	var bias *tensor.Tensor[float32, B]
	if cfg.Bias {
		bias = tensor.Uniform[float32](tensor.Shape{cfg.Out}, -bound, bound, rng, backend)
	}
	return newConv2DMF(cfg, weight, bias, opts, backend)
}

// FromConv2D converts a deterministic convolution. The posterior means are
// copies of the deterministic weights.
func FromConv2D[B tensor.Backend](c *nn.Conv2D[B], opts Options) (*Conv2DMF[B], error) {
	cfg := c.Config()
	var bias *tensor.Tensor[float32, B]
	if c.Bias() != nil {
		bias = c.Bias().Tensor().Clone()
	}
	return newConv2DMF(cfg, c.Weight().Tensor().Clone(), bias, opts, c.Weight().Tensor().Backend())
}

func newConv2DMF[B tensor.Backend](cfg nn.Conv2DConfig, weight, bias *tensor.Tensor[float32, B], opts Options, backend B) (*Conv2DMF[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Layer: conv2dLayer, Err: err}
	}
	state, err := newModeState(conv2dLayer, opts, bias != nil)
	if err != nil {
		return nil, err
	}
	rng := opts.rng()
	c := &Conv2DMF[B]{
		modeState: state,
		cfg:       cfg,
		weight:    NewPosterior("weight", weight, opts.psiInit(), rng),
		rng:       rng,
		backend:   backend,
	}
	if bias != nil {
		c.bias = NewPosterior("bias", bias, opts.psiInit(), rng)
	}
	return c, nil
}

// Forward applies the convolution in the effective sampling mode.
func (c *Conv2DMF[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	mode := c.Mode()
	metrics.LayerForward.WithLabelValues(conv2dLayer, mode.String()).Inc()

	if mode == Parallel {
		return c.forwardParallel(input)
	}
	if s := input.Shape(); len(s) != 4 || s[1] != c.cfg.In {
		panic(fmt.Sprintf("%s: expected input [N, %d, H, W], got %v", conv2dLayer, c.cfg.In, s))
	}

	p := c.cfg.Params()
	switch mode {
	case Deterministic:
		return c.addBias(input.Conv2D(c.weight.Mean(), p), c.biasMean())
	case SingleEps:
		out := input.Conv2D(c.weight.Sample(c.rng), p)
		if c.bias != nil {
			out = c.addBias(out, c.bias.Sample(c.rng))
		}
		return out
	case LocalReparam:
		actMu := input.Conv2D(c.weight.Mean(), p)
		actVar := input.Square().Conv2D(c.weight.Psi.Tensor().MulScalar(2).Exp(), p)
		actStd := actVar.ClampMin(varianceFloor).Sqrt()
		eps := tensor.Randn[float32](actMu.Shape(), c.rng, c.backend)
		return eps.Mul(actStd).Add(actMu)
	case Flipout:
		out := input.Conv2D(c.weight.Mean(), p)
		n := input.Shape()[0]
		signIn := tensor.RandSign[float32](tensor.Shape{n, c.cfg.In, 1, 1}, c.rng, c.backend)
		signOut := tensor.RandSign[float32](tensor.Shape{n, c.cfg.Out, 1, 1}, c.rng, c.backend)
		perturbed := input.Mul(signIn).Conv2D(c.weight.Perturbation(c.rng), p)
		return out.Add(perturbed.Mul(signOut))
	default:
		return c.forwardIndependent(input)
	}
}

// forwardIndependent folds the batch into the group dimension so that one
// grouped convolution applies a separate kernel sample to every example.
func (c *Conv2DMF[B]) forwardIndependent(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	s := input.Shape()
	n := s[0]
	ks := c.cfg.KernelShape()

	weight := c.weight.SampleN(n, c.rng).Reshape(n*ks[0], ks[1], ks[2], ks[3])
	p := c.cfg.Params()
	p.Groups *= n

	out := input.Reshape(1, n*s[1], s[2], s[3]).Conv2D(weight, p)
	o := out.Shape()
	out = out.Reshape(n, c.cfg.Out, o[2], o[3])
	if c.bias != nil {
		out = out.Add(c.bias.SampleN(n, c.rng).Reshape(n, c.cfg.Out, 1, 1))
	}
	return out
}

// forwardParallel folds the Monte-Carlo samples into the group dimension.
// A [B, in, H, W] input is shared by all samples.
func (c *Conv2DMF[B]) forwardParallel(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	samples := c.NumMCSamples()
	s := input.Shape()
	switch {
	case len(s) == 4 && s[1] == c.cfg.In:
		input = input.Reshape(s[0], 1, s[1], s[2], s[3]).Expand(tensor.Shape{s[0], samples, s[1], s[2], s[3]})
	case len(s) == 5 && s[1] == samples && s[2] == c.cfg.In:
	default:
		panic(fmt.Sprintf("%s: expected input [B, %d, H, W] or [B, %d, %d, H, W], got %v",
			conv2dLayer, c.cfg.In, samples, c.cfg.In, s))
	}
	s = input.Shape()
	n := s[0]
	ks := c.cfg.KernelShape()

	weight := c.weight.SampleN(samples, c.rng).Reshape(samples*ks[0], ks[1], ks[2], ks[3])
	p := c.cfg.Params()
	p.Groups *= samples

	out := input.Reshape(n, samples*s[2], s[3], s[4]).Conv2D(weight, p)
	o := out.Shape()
	out = out.Reshape(n, samples, c.cfg.Out, o[2], o[3])
	if c.bias != nil {
		out = out.Add(c.bias.SampleN(samples, c.rng).Reshape(1, samples, c.cfg.Out, 1, 1))
	}
	return out
}

func (c *Conv2DMF[B]) biasMean() *tensor.Tensor[float32, B] {
	if c.bias == nil {
		return nil
	}
	return c.bias.Mean()
}

func (c *Conv2DMF[B]) addBias(out, bias *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if bias == nil {
		return out
	}
	return out.Add(bias.Reshape(1, c.cfg.Out, 1, 1))
}

// Parameters returns weight_mu, weight_psi and, with a bias, bias_mu,
// bias_psi.
func (c *Conv2DMF[B]) Parameters() []*nn.Parameter[B] {
	return posteriorParams(c.weight, c.bias)
}

// Weight returns the kernel posterior.
func (c *Conv2DMF[B]) Weight() *Posterior[B] {
	return c.weight
}

// Bias returns the bias posterior, or nil.
func (c *Conv2DMF[B]) Bias() *Posterior[B] {
	return c.bias
}

// Config returns the convolution configuration.
func (c *Conv2DMF[B]) Config() nn.Conv2DConfig {
	return c.cfg
}

// SetRNG replaces the noise source.
func (c *Conv2DMF[B]) SetRNG(rng *rand.Rand) {
	c.rng = rng
}

// StateDict returns the posterior parameters.
func (c *Conv2DMF[B]) StateDict() map[string]*tensor.RawTensor {
	return posteriorState(c.weight, c.bias)
}

// LoadStateDict restores the posterior parameters.
func (c *Conv2DMF[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	return nn.LoadParams(state, c.Parameters()...)
}
