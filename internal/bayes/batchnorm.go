package bayes

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/bdl/internal/metrics"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/tensor"
)

const batchNormLayer = "batchnorm2d_mf"

// BatchNorm2DMF is a 2D batch normalization whose affine weight and bias
// carry mean-field Gaussian posteriors. Normalization itself is
// deterministic: batch statistics in training, running statistics in
// evaluation.
//
// The affine bias is always present, so LocalReparam and Flipout are
// rejected with ErrBiasUnsupported.
type BatchNorm2DMF[B tensor.Backend] struct {
	modeState
	state   *nn.BatchNormState[B]
	weight  *Posterior[B]
	bias    *Posterior[B]
	rng     *rand.Rand
	backend B
}

// NewBatchNorm2DMF creates a mean-field batch normalization with weight mu 1
// and bias mu 0.
func NewBatchNorm2DMF[B tensor.Backend](channels int, opts Options, backend B) (*BatchNorm2DMF[B], error) {
	if channels <= 0 {
		return nil, configError(batchNormLayer, ErrSize, "channels=%d", channels)
	}
	return newBatchNorm2DMF(nn.NewBatchNormState(channels, backend),
		tensor.Ones[float32](tensor.Shape{channels}, backend),
		tensor.Zeros[float32](tensor.Shape{channels}, backend),
		opts, backend)
}

// FromBatchNorm2D converts a deterministic batch normalization, copying its
// affine parameters into the posterior means and its running statistics.
func FromBatchNorm2D[B tensor.Backend](bn *nn.BatchNorm2D[B], opts Options) (*BatchNorm2DMF[B], error) {
	backend := bn.Weight().Tensor().Backend()
	state := nn.NewBatchNormState(bn.Channels, backend)
	state.CopyFrom(bn.BatchNormState)
	return newBatchNorm2DMF(state, bn.Weight().Tensor().Clone(), bn.Bias().Tensor().Clone(), opts, backend)
}

func newBatchNorm2DMF[B tensor.Backend](state *nn.BatchNormState[B], weight, bias *tensor.Tensor[float32, B], opts Options, backend B) (*BatchNorm2DMF[B], error) {
	ms, err := newModeState(batchNormLayer, opts, true)
	if err != nil {
		return nil, err
	}
	rng := opts.rng()
	return &BatchNorm2DMF[B]{
		modeState: ms,
		state:     state,
		weight:    NewPosterior("weight", weight, opts.psiInit(), rng),
		bias:      NewPosterior("bias", bias, opts.psiInit(), rng),
		rng:       rng,
		backend:   backend,
	}, nil
}

// Forward normalizes the input and applies a sampled affine transform.
//
// In Parallel mode a [B, C, H, W] input is normalized once and broadcast
// over the samples; a [B, S, C, H, W] input has its samples folded into the
// batch for the statistics.
func (bn *BatchNorm2DMF[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	mode := bn.Mode()
	metrics.LayerForward.WithLabelValues(batchNormLayer, mode.String()).Inc()

	c := bn.state.Channels
	s := input.Shape()
	if mode == Parallel {
		samples := bn.NumMCSamples()
		var xhat *tensor.Tensor[float32, B]
		switch {
		case len(s) == 4 && s[1] == c:
			xhat = bn.state.Normalize(input).Reshape(s[0], 1, c, s[2], s[3])
		case len(s) == 5 && s[1] == samples && s[2] == c:
			xhat = bn.state.Normalize(input.Reshape(s[0]*samples, c, s[3], s[4])).Reshape(s...)
		default:
			panic(fmt.Sprintf("%s: expected input [B, %d, H, W] or [B, %d, %d, H, W], got %v",
				batchNormLayer, c, samples, c, s))
		}
		w := bn.weight.SampleN(samples, bn.rng).Reshape(1, samples, c, 1, 1)
		b := bn.bias.SampleN(samples, bn.rng).Reshape(1, samples, c, 1, 1)
		return xhat.Mul(w).Add(b)
	}

	if len(s) != 4 || s[1] != c {
		panic(fmt.Sprintf("%s: expected input [N, %d, H, W], got %v", batchNormLayer, c, s))
	}
	xhat := bn.state.Normalize(input)

	var w, b *tensor.Tensor[float32, B]
	switch mode {
	case Deterministic:
		w, b = bn.weight.Mean().Reshape(1, c, 1, 1), bn.bias.Mean().Reshape(1, c, 1, 1)
	case SingleEps:
		w, b = bn.weight.Sample(bn.rng).Reshape(1, c, 1, 1), bn.bias.Sample(bn.rng).Reshape(1, c, 1, 1)
	case Independent:
		n := s[0]
		w = bn.weight.SampleN(n, bn.rng).Reshape(n, c, 1, 1)
		b = bn.bias.SampleN(n, bn.rng).Reshape(n, c, 1, 1)
	default:
		panic(fmt.Sprintf("%s: unsupported mode %s", batchNormLayer, mode))
	}
	return xhat.Mul(w).Add(b)
}

// SetTraining switches between batch and running statistics.
func (bn *BatchNorm2DMF[B]) SetTraining(training bool) {
	bn.state.SetTraining(training)
}

// Training reports whether batch statistics are used.
func (bn *BatchNorm2DMF[B]) Training() bool {
	return bn.state.Training()
}

// Stats returns the running statistics.
func (bn *BatchNorm2DMF[B]) Stats() *nn.BatchNormState[B] {
	return bn.state
}

// Parameters returns weight_mu, weight_psi, bias_mu, bias_psi.
func (bn *BatchNorm2DMF[B]) Parameters() []*nn.Parameter[B] {
	return posteriorParams(bn.weight, bn.bias)
}

// Weight returns the affine scale posterior.
func (bn *BatchNorm2DMF[B]) Weight() *Posterior[B] {
	return bn.weight
}

// Bias returns the affine shift posterior.
func (bn *BatchNorm2DMF[B]) Bias() *Posterior[B] {
	return bn.bias
}

// SetRNG replaces the noise source.
func (bn *BatchNorm2DMF[B]) SetRNG(rng *rand.Rand) {
	bn.rng = rng
}

// StateDict returns the posterior parameters and running statistics.
func (bn *BatchNorm2DMF[B]) StateDict() map[string]*tensor.RawTensor {
	state := posteriorState(bn.weight, bn.bias)
	for k, v := range bn.state.StateDict() {
		state[k] = v
	}
	return state
}

// LoadStateDict restores the posterior parameters and running statistics.
func (bn *BatchNorm2DMF[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	if err := bn.state.LoadStateDict(state); err != nil {
		return err
	}
	return nn.LoadParams(state, bn.Parameters()...)
}
