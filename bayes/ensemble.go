// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package bayes

import (
	"context"

	"github.com/born-ml/bdl/internal/data"
	"github.com/born-ml/bdl/internal/ensemble"
	"github.com/born-ml/bdl/nn"
	"github.com/born-ml/bdl/tensor"
)

// Loader yields (input, target) batches until io.EOF.
type Loader = data.Loader

// Batch is one (input, target) pair.
type Batch = data.Batch

// SliceLoader serves batches from examples held in memory.
type SliceLoader = data.SliceLoader

// LoaderConfig configures a SliceLoader.
type LoaderConfig = data.LoaderConfig

// NewSliceLoader creates an in-memory loader over inputs laid out as
// [len(targets), sampleShape...].
func NewSliceLoader(inputs []float32, sampleShape tensor.Shape, targets []int32, cfg LoaderConfig) (*SliceLoader, error) {
	return data.NewSliceLoader(inputs, sampleShape, targets, cfg)
}

// Tensors converts a batch to an input tensor and int32 targets on b.
func Tensors[B tensor.Backend](batch Batch, b B) (*tensor.Tensor[float32, B], *tensor.Tensor[int32, B]) {
	return data.Tensors(batch, b)
}

// EvalConfig controls Evaluate.
type EvalConfig = ensemble.Config

// EvalResult holds the batch-averaged loss and accuracy.
type EvalResult = ensemble.Result

// Metric scores averaged probabilities against targets.
type Metric = ensemble.Metric

// NLL is the default ensemble loss.
var NLL Metric = ensemble.NLL

// Accuracy is the default ensemble accuracy.
var Accuracy Metric = ensemble.Accuracy

// Evaluate averages the predictive distribution of model over Monte-Carlo
// samples for every batch of loader, without recording gradients.
func Evaluate[B tensor.Backend](ctx context.Context, model nn.Module[B], loader Loader, backend B, cfg EvalConfig) (EvalResult, error) {
	return ensemble.Evaluate(ctx, model, loader, backend, cfg)
}

// Predict returns the averaged predictive distribution [B, K] of model.
func Predict[B tensor.Backend](model nn.Module[B], inputs *tensor.Tensor[float32, B], n int) *tensor.Tensor[float32, B] {
	return ensemble.Predict(model, inputs, n)
}
