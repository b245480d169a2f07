// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package bayes

import (
	"math/rand/v2"

	"github.com/born-ml/bdl/internal/bayes"
	"github.com/born-ml/bdl/nn"
	"github.com/born-ml/bdl/tensor"
)

// SamplingMode selects how a mean-field layer draws its weights.
type SamplingMode = bayes.SamplingMode

// Sampling modes.
const (
	Deterministic = bayes.Deterministic
	Parallel      = bayes.Parallel
	SingleEps     = bayes.SingleEps
	LocalReparam  = bayes.LocalReparam
	Flipout       = bayes.Flipout
	Independent   = bayes.Independent
)

// ParseSamplingMode parses a mode name such as "single_eps".
func ParseSamplingMode(s string) (SamplingMode, error) {
	return bayes.ParseSamplingMode(s)
}

// Configuration errors.
var (
	ErrGroups          = bayes.ErrGroups
	ErrBiasUnsupported = bayes.ErrBiasUnsupported
	ErrSamples         = bayes.ErrSamples
	ErrMode            = bayes.ErrMode
	ErrSize            = bayes.ErrSize
)

// ConfigError describes an invalid layer configuration.
type ConfigError = bayes.ConfigError

// DefaultPsiInit is the default range of initial log standard deviations.
var DefaultPsiInit = bayes.DefaultPsiInit

// Options configures a mean-field layer.
type Options = bayes.Options

// Posterior is a Gaussian posterior held as mean and log standard deviation.
type Posterior[B tensor.Backend] = bayes.Posterior[B]

// MulExpAdd computes eps*exp(psi)+mu, recording a custom gradient on
// autodiff backends.
func MulExpAdd[B tensor.Backend](eps, psi, mu *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return bayes.MulExpAdd(eps, psi, mu)
}

// Layers

// Layer is implemented by every mean-field layer.
type Layer = bayes.Layer

// Conv2DMF is a mean-field 2D convolution.
type Conv2DMF[B tensor.Backend] = bayes.Conv2DMF[B]

// NewConv2DMF creates a mean-field convolution with Kaiming-uniform means.
func NewConv2DMF[B tensor.Backend](cfg nn.Conv2DConfig, opts Options, backend B) (*Conv2DMF[B], error) {
	return bayes.NewConv2DMF(cfg, opts, backend)
}

// LinearMF is a mean-field fully connected layer.
type LinearMF[B tensor.Backend] = bayes.LinearMF[B]

// NewLinearMF creates a mean-field linear layer.
func NewLinearMF[B tensor.Backend](in, out int, bias bool, opts Options, backend B) (*LinearMF[B], error) {
	return bayes.NewLinearMF(in, out, bias, opts, backend)
}

// BatchNorm2DMF is batch normalization with a mean-field affine transform.
type BatchNorm2DMF[B tensor.Backend] = bayes.BatchNorm2DMF[B]

// NewBatchNorm2DMF creates a mean-field batch normalization layer.
func NewBatchNorm2DMF[B tensor.Backend](channels int, opts Options, backend B) (*BatchNorm2DMF[B], error) {
	return bayes.NewBatchNorm2DMF(channels, opts, backend)
}

// Conversion

// ConvertOptions configures ToBayesian.
type ConvertOptions = bayes.ConvertOptions

// ToBayesian returns a network of the same topology as root with every
// Conv2D, Linear and BatchNorm2D replaced by its mean-field counterpart.
func ToBayesian[B tensor.Backend](root nn.Module[B], opts ConvertOptions) (nn.Module[B], error) {
	return bayes.ToBayesian(root, opts)
}

// Visitors

// Layers returns every mean-field layer under root keyed by path.
func Layers[B tensor.Backend](root nn.Module[B]) map[string]Layer {
	return bayes.Layers(root)
}

// Freeze makes every layer under root use its posterior mean.
func Freeze[B tensor.Backend](root nn.Module[B]) {
	bayes.Freeze(root)
}

// Unfreeze undoes Freeze.
func Unfreeze[B tensor.Backend](root nn.Module[B]) {
	bayes.Unfreeze(root)
}

// EnableParallelEval switches every layer under root to n-sample parallel
// evaluation.
func EnableParallelEval[B tensor.Backend](root nn.Module[B], n int) error {
	return bayes.EnableParallelEval(root, n)
}

// DisableParallelEval undoes EnableParallelEval.
func DisableParallelEval[B tensor.Backend](root nn.Module[B]) {
	bayes.DisableParallelEval(root)
}

// SetMode sets the configured mode of every layer under root.
func SetMode[B tensor.Backend](root nn.Module[B], m SamplingMode) error {
	return bayes.SetMode(root, m)
}

// SetRNG points every layer under root at rng.
func SetRNG[B tensor.Backend](root nn.Module[B], rng *rand.Rand) {
	bayes.SetRNG(root, rng)
}

// IsPsi reports whether a parameter name is a log standard deviation.
func IsPsi(name string) bool {
	return bayes.IsPsi(name)
}

// SplitParameters separates the parameters under root into means (and any
// deterministic parameters) and log standard deviations.
func SplitParameters[B tensor.Backend](root nn.Module[B]) (mus, psis []nn.NamedParameter[B]) {
	return bayes.SplitParameters(root)
}
