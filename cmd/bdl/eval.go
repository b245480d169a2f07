package main

import (
	"context"
	"flag"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/born-ml/bdl/internal/bayes"
	"github.com/born-ml/bdl/internal/checkpoint"
	"github.com/born-ml/bdl/internal/config"
	"github.com/born-ml/bdl/internal/ensemble"
)

func runEval(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	path := fs.String("checkpoint", "", "Checkpoint written by bdl train (required)")
	configPath := fs.String("config", "", "Use this config instead of the one stored in the checkpoint")
	samples := fs.Int("samples", 0, "Override eval.num_mc_samples")
	enableOTel := fs.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("eval: -checkpoint is required")
	}

	state, err := checkpoint.LoadFile(*path)
	if err != nil {
		return err
	}
	cfg, err := evalConfig(state, *configPath)
	if err != nil {
		return err
	}
	if *samples > 0 {
		cfg.Eval.NumMCSamples = *samples
	}
	setLogLevel(cfg.LogLevel)

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			return errors.Wrap(err, "tracer")
		}
		defer shutdown(context.Background())
	}

	res, err := evaluateCheckpoint(ctx, cfg, state)
	if err != nil {
		return err
	}
	log.Info().
		Str("run_id", state.RunID).
		Int("epoch", state.Meta.Epoch).
		Int("samples", cfg.Eval.NumMCSamples).
		Int("examples", res.Examples).
		Float64("loss", res.Loss).
		Float64("accuracy", res.Accuracy).
		Msg("ensemble")
	return nil
}

// evalConfig returns the config stored in the checkpoint unless path is set.
func evalConfig(state *checkpoint.State, path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	raw, ok := state.Meta.Extra["config"]
	if !ok {
		return config.Config{}, errors.Errorf("eval: checkpoint %s has no config, pass -config", state.RunID)
	}
	cfg, err := config.Parse(strings.NewReader(raw))
	return cfg, errors.Wrap(err, "eval: stored config")
}

// evaluateCheckpoint rebuilds the model of cfg, loads state into it and
// scores the held-out split with a parallel ensemble.
func evaluateCheckpoint(ctx context.Context, cfg config.Config, state *checkpoint.State) (ensemble.Result, error) {
	_, testSet, err := splitData(cfg)
	if err != nil {
		return ensemble.Result{}, err
	}
	loader, err := testLoader(cfg, testSet)
	if err != nil {
		return ensemble.Result{}, err
	}

	backend := newBackend()
	model, err := buildModel(cfg, backend)
	if err != nil {
		return ensemble.Result{}, err
	}
	if err := checkpoint.Apply[AD](state, model); err != nil {
		return ensemble.Result{}, err
	}
	if err := bayes.EnableParallelEval(model, cfg.Eval.NumMCSamples); err != nil {
		return ensemble.Result{}, err
	}
	defer bayes.DisableParallelEval(model)

	return ensemble.Evaluate[AD](ctx, model, loader, backend, ensemble.Config{
		NumMCSamples: cfg.Eval.NumMCSamples,
		Logger:       log.Logger,
	})
}
