// Package ensemble scores a mean-field network by Monte-Carlo averaging of
// its predictive distribution.
package ensemble

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/bdl/internal/autodiff"
	"github.com/born-ml/bdl/internal/data"
	"github.com/born-ml/bdl/internal/metrics"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/tensor"
)

var tracer = otel.Tracer("bdl-ensemble")

// DefaultNumMCSamples is the number of forward passes used for models that
// do not sample in parallel.
const DefaultNumMCSamples = 20

// probFloor bounds the averaged probability away from zero in the default loss.
const probFloor = 1e-12

// Metric scores one batch given averaged probabilities [N, K] in row-major
// order and the int32 targets. It returns the batch mean.
type Metric func(probs []float64, classes int, targets []int32) float64

// Config controls an evaluation run.
type Config struct {
	// NumMCSamples is the number of forward passes per batch when the model
	// returns [B, K]. Models in parallel mode return [B, S, K] and are run once.
	NumMCSamples int

	Loss     Metric // default NLL
	Accuracy Metric // default Accuracy
	Logger   zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.NumMCSamples <= 0 {
		c.NumMCSamples = DefaultNumMCSamples
	}
	if c.Loss == nil {
		c.Loss = NLL
	}
	if c.Accuracy == nil {
		c.Accuracy = Accuracy
	}
	return c
}

// Result holds the batch-averaged loss and accuracy of an evaluation.
type Result struct {
	Loss     float64
	Accuracy float64
	Batches  int
	Examples int
}

// NLL is the mean negative log of the averaged probability of the target
// class, clamped at 1e-12.
func NLL(probs []float64, classes int, targets []int32) float64 {
	nll := make([]float64, len(targets))
	for i, y := range targets {
		nll[i] = -math.Log(math.Max(probs[i*classes+int(y)], probFloor))
	}
	return floats.Sum(nll) / float64(len(targets))
}

// Accuracy is the fraction of rows whose argmax equals the target.
func Accuracy(probs []float64, classes int, targets []int32) float64 {
	hits := 0
	for i, y := range targets {
		if floats.MaxIdx(probs[i*classes:(i+1)*classes]) == int(y) {
			hits++
		}
	}
	return float64(hits) / float64(len(targets))
}

// Evaluate runs model over one epoch of loader without recording gradients
// and returns the loss and accuracy averaged over batches. The loader is
// reset before the run. The model is put in evaluation mode and left there.
//
// Evaluate stops between batches when ctx is done and returns ctx.Err().
func Evaluate[B tensor.Backend](ctx context.Context, model nn.Module[B], loader data.Loader, backend B, cfg Config) (Result, error) {
	cfg = cfg.withDefaults()
	ctx, span := tracer.Start(ctx, "ensemble.Evaluate", trace.WithAttributes(
		attribute.String("loader", loader.Name()),
	))
	defer span.End()
	start := time.Now()

	nn.SetTrain(model, false)
	loader.Reset()

	var res Result
	var err error
	autodiff.NoGrad(backend, func() {
		for {
			if err = ctx.Err(); err != nil {
				return
			}
			var batch data.Batch
			batch, err = loader.Yield()
			if err == io.EOF {
				err = nil
				return
			}
			if err != nil {
				err = errors.Wrapf(err, "ensemble: loader %s", loader.Name())
				return
			}

			inputs, targets := data.Tensors(batch, backend)
			probs := Predict(model, inputs, cfg.NumMCSamples)
			k := probs.Shape()[1]
			p := toFloat64(probs.Data())
			y := targets.Data()

			res.Loss += cfg.Loss(p, k, y)
			res.Accuracy += cfg.Accuracy(p, k, y)
			res.Batches++
			res.Examples += len(y)
			metrics.EnsembleBatches.Inc()
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if res.Batches > 0 {
		res.Loss /= float64(res.Batches)
		res.Accuracy /= float64(res.Batches)
	}

	elapsed := time.Since(start)
	metrics.EnsembleDuration.Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.Int("batches", res.Batches),
		attribute.Int("examples", res.Examples),
		attribute.Float64("loss", res.Loss),
		attribute.Float64("accuracy", res.Accuracy),
	)
	cfg.Logger.Debug().
		Str("loader", loader.Name()).
		Int("batches", res.Batches).
		Float64("loss", res.Loss).
		Float64("accuracy", res.Accuracy).
		Dur("elapsed", elapsed).
		Msg("ensemble evaluation")
	return res, nil
}

// Predict returns the averaged predictive distribution [B, K] of model on
// inputs. A [B, S, K] output is averaged over its sample dimension; a [B, K]
// output is averaged over n forward passes.
func Predict[B tensor.Backend](model nn.Module[B], inputs *tensor.Tensor[float32, B], n int) *tensor.Tensor[float32, B] {
	out := model.Forward(inputs)
	switch len(out.Shape()) {
	case 3:
		return out.Softmax(2).MeanDim(1, false)
	case 2:
		sum := out.Softmax(1)
		for range n - 1 {
			sum = sum.Add(model.Forward(inputs).Softmax(1))
		}
		if n > 1 {
			sum = sum.MulScalar(1 / float32(n))
		}
		return sum
	default:
		panic(fmt.Sprintf("ensemble: model output must be [B, K] or [B, S, K], got %v", out.Shape()))
	}
}

func toFloat64(src []float32) []float64 {
	dst := make([]float64, len(src))
	for i, v := range src {
		dst[i] = float64(v)
	}
	return dst
}
