// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand/v2"

	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/tensor"
)

// Layers

// Linear represents a fully connected layer.
type Linear[B tensor.Backend] = nn.Linear[B]

// NewLinear creates a linear layer with Kaiming-uniform initialization drawn
// from rng.
//
// Example:
//
//	layer := nn.NewLinear(784, 128, true, tensor.NewRNG(1), backend)
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, bias bool, rng *rand.Rand, backend B) *Linear[B] {
	return nn.NewLinear(inFeatures, outFeatures, bias, rng, backend)
}

// Conv2DConfig configures a Conv2D layer: channels, kernel size, per-axis
// stride, padding and dilation, groups and bias.
type Conv2DConfig = nn.Conv2DConfig

// Conv2D represents a 2D convolutional layer.
type Conv2D[B tensor.Backend] = nn.Conv2D[B]

// ErrGroups is returned when channels are not divisible by groups.
var ErrGroups = nn.ErrGroups

// NewConv2D creates a 2D convolutional layer.
//
// Example:
//
//	conv, err := nn.NewConv2D(nn.Conv2DConfig{In: 3, Out: 16, Kernel: [2]int{3, 3}, Padding: [2]int{1, 1}}, rng, backend)
func NewConv2D[B tensor.Backend](cfg Conv2DConfig, rng *rand.Rand, backend B) (*Conv2D[B], error) {
	return nn.NewConv2D(cfg, rng, backend)
}

// MustConv2D is NewConv2D that panics on error.
func MustConv2D[B tensor.Backend](cfg Conv2DConfig, rng *rand.Rand, backend B) *Conv2D[B] {
	return nn.MustConv2D(cfg, rng, backend)
}

// BatchNorm2D normalizes [N, C, H, W] inputs per channel.
type BatchNorm2D[B tensor.Backend] = nn.BatchNorm2D[B]

// NewBatchNorm2D creates a batch normalization layer with momentum 0.1 and
// eps 1e-5.
func NewBatchNorm2D[B tensor.Backend](channels int, backend B) *BatchNorm2D[B] {
	return nn.NewBatchNorm2D(channels, backend)
}

// Activations and shape

// ReLU represents the Rectified Linear Unit activation function.
type ReLU[B tensor.Backend] = nn.ReLU[B]

// NewReLU creates a new ReLU activation layer.
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return nn.NewReLU[B]()
}

// Flatten merges every dimension from a start dimension on.
type Flatten[B tensor.Backend] = nn.Flatten[B]

// NewFlatten creates a Flatten layer. Negative start dims count from the
// end, so NewFlatten(-3) flattens both [B, C, H, W] and [B, S, C, H, W].
func NewFlatten[B tensor.Backend](startDim int) *Flatten[B] {
	return nn.NewFlatten[B](startDim)
}

// Dropout zeroes inputs with probability p while training.
type Dropout[B tensor.Backend] = nn.Dropout[B]

// NewDropout creates a dropout layer drawing its masks from rng.
func NewDropout[B tensor.Backend](p float64, rng *rand.Rand, backend B) *Dropout[B] {
	return nn.NewDropout(p, rng, backend)
}

// DisableDropout sets p=0 on every dropout layer under root.
func DisableDropout[B tensor.Backend](root Module[B]) {
	nn.DisableDropout(root)
}

// Loss

// CrossEntropyLoss is the mean cross-entropy of logits [N, K] against int32
// targets [N].
type CrossEntropyLoss[B tensor.Backend] = nn.CrossEntropyLoss[B]

// NewCrossEntropyLoss creates a cross-entropy loss.
func NewCrossEntropyLoss[B tensor.Backend]() *CrossEntropyLoss[B] {
	return nn.NewCrossEntropyLoss[B]()
}

// Containers

// Sequential applies modules in order.
type Sequential[B tensor.Backend] = nn.Sequential[B]

// NewSequential creates a sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return nn.NewSequential(modules...)
}

// Initialization

// KaimingUniform draws U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func KaimingUniform[B tensor.Backend](fanIn int, shape tensor.Shape, rng *rand.Rand, backend B) *tensor.Tensor[float32, B] {
	return nn.KaimingUniform(fanIn, shape, rng, backend)
}

// Xavier draws from the Glorot uniform distribution.
func Xavier[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, rng *rand.Rand, backend B) *tensor.Tensor[float32, B] {
	return nn.Xavier(fanIn, fanOut, shape, rng, backend)
}
