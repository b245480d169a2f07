// Package train runs the variational training loop: one optimizer for the
// posterior means, one for the log standard deviations, and an ensemble
// evaluation after every epoch.
package train

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/born-ml/bdl/internal/autodiff"
	"github.com/born-ml/bdl/internal/bayes"
	"github.com/born-ml/bdl/internal/data"
	"github.com/born-ml/bdl/internal/ensemble"
	"github.com/born-ml/bdl/internal/metrics"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/optim"
)

var tracer = otel.Tracer("bdl-train")

// Config controls the training loop.
type Config struct {
	// LogEvery logs the current loss every LogEvery iterations (default 100).
	LogEvery int

	// NumMCSamples is the parallel ensemble size used for evaluation
	// (default ensemble.DefaultNumMCSamples).
	NumMCSamples int

	Logger zerolog.Logger

	// Progress, when set, is called after every training step.
	Progress func(Progress)
}

// Progress describes one completed training step.
type Progress struct {
	Epoch int
	Iter  int
	Iters int
	Loss  float64
}

// EpochResult summarizes one epoch.
type EpochResult struct {
	Epoch     int
	TrainLoss float64 // mean over iterations
	Eval      *ensemble.Result
	Elapsed   time.Duration
}

// Trainer owns the pieces of a training run. Eval may be nil to skip
// evaluation.
type Trainer[B autodiff.BackwardCapable] struct {
	Model   nn.Module[B]
	Backend B
	MuOpt   optim.Optimizer
	PsiOpt  optim.Optimizer
	Loader  data.Loader
	Eval    data.Loader
	Config  Config

	loss *nn.CrossEntropyLoss[B]
}

// New returns a trainer with defaults applied.
func New[B autodiff.BackwardCapable](model nn.Module[B], backend B, muOpt, psiOpt optim.Optimizer, loader, eval data.Loader, cfg Config) *Trainer[B] {
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 100
	}
	if cfg.NumMCSamples <= 0 {
		cfg.NumMCSamples = ensemble.DefaultNumMCSamples
	}
	return &Trainer[B]{
		Model:   model,
		Backend: backend,
		MuOpt:   muOpt,
		PsiOpt:  psiOpt,
		Loader:  loader,
		Eval:    eval,
		Config:  cfg,
		loss:    nn.NewCrossEntropyLoss[B](),
	}
}

// Step runs one forward and backward pass on batch, steps both optimizers
// and returns the loss. The tape is empty when Step returns.
func (t *Trainer[B]) Step(batch data.Batch) float64 {
	opt := optim.Chain{t.MuOpt, t.PsiOpt}
	opt.ZeroGrad()

	tape := t.Backend.Tape()
	tape.Clear()
	tape.StartRecording()
	defer tape.Clear()

	inputs, targets := data.Tensors(batch, t.Backend)
	out := t.Model.Forward(inputs)
	if len(out.Shape()) != 2 {
		panic(fmt.Sprintf("train: model output must be [B, K], got %v", out.Shape()))
	}
	loss := t.loss.Forward(out, targets)
	grads := autodiff.Backward(loss, t.Backend)
	opt.Step(grads)

	v := float64(loss.Item())
	metrics.TrainLoss.Set(v)
	return v
}

// Fit trains for the given number of epochs. After every epoch the model is
// switched to parallel evaluation, scored on Eval and switched back.
//
// Fit checks ctx between iterations and returns the completed epochs with
// ctx.Err() when it is done.
func (t *Trainer[B]) Fit(ctx context.Context, epochs int) ([]EpochResult, error) {
	if epochs <= 0 {
		return nil, errors.Errorf("train: epochs must be positive, got %d", epochs)
	}
	if t.loss == nil {
		t.loss = nn.NewCrossEntropyLoss[B]()
	}
	results := make([]EpochResult, 0, epochs)
	for epoch := range epochs {
		res, err := t.epoch(ctx, epoch)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (t *Trainer[B]) epoch(ctx context.Context, epoch int) (EpochResult, error) {
	ctx, span := tracer.Start(ctx, "train.epoch", trace.WithAttributes(
		attribute.Int("epoch", epoch),
		attribute.String("loader", t.Loader.Name()),
	))
	defer span.End()
	start := time.Now()
	log := t.Config.Logger

	nn.SetTrain(t.Model, true)
	bayes.DisableParallelEval(t.Model)
	t.Loader.Reset()

	iters := t.Loader.Len()
	var total float64
	n := 0
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return EpochResult{}, err
		}
		batch, err := t.Loader.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			err = errors.Wrapf(err, "train: loader %s", t.Loader.Name())
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return EpochResult{}, err
		}

		loss := t.Step(batch)
		total += loss
		n++
		if i%t.Config.LogEvery == 0 {
			log.Info().Int("epoch", epoch).Int("iter", i).Int("iters", iters).Float64("loss", loss).Msg("train")
		}
		if t.Config.Progress != nil {
			t.Config.Progress(Progress{Epoch: epoch, Iter: i, Iters: iters, Loss: loss})
		}
	}

	res := EpochResult{Epoch: epoch}
	if n > 0 {
		res.TrainLoss = total / float64(n)
	}

	if t.Eval != nil {
		eval, err := t.evaluate(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return EpochResult{}, err
		}
		res.Eval = &eval
		log.Info().Int("epoch", epoch).Float64("eval_loss", eval.Loss).Float64("eval_acc", eval.Accuracy).Msg("eval")
	}
	res.Elapsed = time.Since(start)
	span.SetAttributes(attribute.Float64("train_loss", res.TrainLoss))
	return res, nil
}

func (t *Trainer[B]) evaluate(ctx context.Context) (ensemble.Result, error) {
	if err := bayes.EnableParallelEval(t.Model, t.Config.NumMCSamples); err != nil {
		return ensemble.Result{}, errors.Wrap(err, "train: enable parallel evaluation")
	}
	defer bayes.DisableParallelEval(t.Model)
	return ensemble.Evaluate(ctx, t.Model, t.Eval, t.Backend, ensemble.Config{
		NumMCSamples: t.Config.NumMCSamples,
		Logger:       t.Config.Logger,
	})
}
