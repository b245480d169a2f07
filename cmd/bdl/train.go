package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/bdl/internal/bayes"
	"github.com/born-ml/bdl/internal/checkpoint"
	"github.com/born-ml/bdl/internal/config"
	"github.com/born-ml/bdl/internal/data"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/optim"
	"github.com/born-ml/bdl/internal/tensor"
	"github.com/born-ml/bdl/internal/train"
)

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to a YAML config overlaying the defaults")
	epochs := fs.Int("epochs", 0, "Override train.epochs")
	samples := fs.Int("samples", 0, "Override eval.num_mc_samples")
	out := fs.String("checkpoint", "", "Write the final checkpoint to this path (overrides the config)")
	metricsAddr := fs.String("metrics", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	enableOTel := fs.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	noProgress := fs.Bool("no-progress", false, "Disable the progress bar")
	resume := fs.String("resume", "", "Continue from a checkpoint written by bdl train")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *epochs > 0 {
		cfg.Train.Epochs = *epochs
	}
	if *samples > 0 {
		cfg.Eval.NumMCSamples = *samples
	}
	if *out != "" {
		cfg.Checkpoint = *out
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	setLogLevel(cfg.LogLevel)

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			return errors.Wrap(err, "tracer")
		}
		defer shutdown(context.Background())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", *metricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}
	g.Go(func() error {
		defer cancel()
		return trainModel(ctx, cfg, trainOptions{progress: !*noProgress, resume: *resume})
	})
	return g.Wait()
}

type trainOptions struct {
	progress bool
	resume   string // checkpoint path
}

func trainModel(ctx context.Context, cfg config.Config, opts trainOptions) error {
	var (
		resumed   *checkpoint.State
		prevSteps int64
		prevEpoch int
	)
	runID := uuid.NewString()
	if opts.resume != "" {
		state, err := checkpoint.LoadFile(opts.resume)
		if err != nil {
			return err
		}
		resumed, runID, prevSteps, prevEpoch = state, state.RunID, state.Meta.Step, state.Meta.Epoch
	}
	logger := log.With().Str("run_id", runID).Logger()

	trainSet, testSet, err := splitData(cfg)
	if err != nil {
		return err
	}
	loader, err := trainSet.Loader(data.LoaderConfig{
		Name:      "train",
		BatchSize: cfg.Train.BatchSize,
		Shuffle:   true,
		RNG:       tensor.NewRNG(cfg.Seed + 1),
	})
	if err != nil {
		return err
	}
	evalLoader, err := testLoader(cfg, testSet)
	if err != nil {
		return err
	}

	backend := newBackend()
	model, err := buildModel(cfg, backend)
	if err != nil {
		return err
	}
	mus, psis := bayes.SplitParameters(model)
	muOpt, err := newMuOptimizer(cfg.Train, optim.Params(mus), backend)
	if err != nil {
		return err
	}
	psiOpt, err := optim.NewPsiSGD(optim.Params(psis), optim.SGDConfig{
		LR:       cfg.Train.PsiLR,
		Momentum: cfg.Train.Momentum,
		Nesterov: cfg.Train.Nesterov,
	}, trainSet.Len(), backend)
	if err != nil {
		return err
	}
	opt := optim.Chain{muOpt, psiOpt}
	if resumed != nil {
		if err := checkpoint.Apply[AD](resumed, model); err != nil {
			return err
		}
		if err := resumed.RestoreOptimizer(opt); err != nil {
			return err
		}
		logger.Info().Str("path", opts.resume).Int("epoch", resumed.Meta.Epoch).Msg("resumed")
	}

	logger.Info().
		Str("params", humanize.Comma(int64(numParams(model)))).
		Int("mus", len(mus)).
		Int("psis", len(psis)).
		Int("train", trainSet.Len()).
		Int("test", testSet.Len()).
		Str("mode", cfg.Model.Mode).
		Str("bias_free_mode", cfg.Model.BiasFreeMode).
		Msg("model")

	tcfg := train.Config{
		LogEvery:     cfg.Train.LogEvery,
		NumMCSamples: cfg.Eval.NumMCSamples,
		Logger:       logger,
	}
	var bar *progressbar.ProgressBar
	if opts.progress {
		bar = newProgressBar(loader.Len() * cfg.Train.Epochs)
		tcfg.Progress = func(p train.Progress) {
			bar.Describe(fmt.Sprintf("epoch %d loss %.4f", p.Epoch, p.Loss))
			_ = bar.Add(1)
		}
		// Step logs would tear the bar apart.
		tcfg.Logger = logger.Level(max(zerolog.WarnLevel, zerolog.GlobalLevel()))
	}

	trainer := train.New[AD](model, backend, muOpt, psiOpt, loader, evalLoader, tcfg)
	start := time.Now()
	results, err := trainer.Fit(ctx, cfg.Train.Epochs)
	if bar != nil {
		_ = bar.Finish()
	}
	for _, r := range results {
		ev := logger.Info().Int("epoch", r.Epoch).Float64("train_loss", r.TrainLoss).Dur("elapsed", r.Elapsed)
		if r.Eval != nil {
			ev = ev.Float64("eval_loss", r.Eval.Loss).Float64("eval_acc", r.Eval.Accuracy)
		}
		ev.Msg("epoch")
	}
	if err != nil {
		return errors.Wrapf(err, "training stopped after %d epochs", len(results))
	}
	logger.Info().Dur("elapsed", time.Since(start)).Msg("training done")

	if cfg.Checkpoint == "" {
		return nil
	}
	return saveCheckpoint(cfg, runID, model, opt, results, prevEpoch, prevSteps+int64(loader.Len()*len(results)), logger)
}

func newMuOptimizer(tc config.TrainConfig, params []*nn.Parameter[AD], backend AD) (optim.Optimizer, error) {
	if tc.MuOptimizer == "adam" {
		return optim.NewAdam(params, optim.AdamConfig{LR: tc.MuLR, WeightDecay: tc.WeightDecay}, backend), nil
	}
	return optim.NewSGD(params, optim.SGDConfig{
		LR:          tc.MuLR,
		Momentum:    tc.Momentum,
		WeightDecay: tc.WeightDecay,
		Nesterov:    tc.Nesterov,
	}, backend)
}

func newProgressBar(steps int) *progressbar.ProgressBar {
	return progressbar.NewOptions(steps,
		progressbar.OptionSetDescription("train"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
}

func saveCheckpoint(cfg config.Config, runID string, model nn.Module[AD], opt optim.Optimizer, results []train.EpochResult, prevEpoch int, steps int64, logger zerolog.Logger) error {
	raw, err := cfg.Marshal()
	if err != nil {
		return err
	}
	state := checkpoint.FromModule[AD](model, runID)
	last := results[len(results)-1]
	state.Meta = checkpoint.Meta{
		Epoch: prevEpoch + len(results),
		Step:  steps,
		Loss:  last.TrainLoss,
		Extra: map[string]string{"config": string(raw), "version": version},
	}
	if last.Eval != nil {
		state.Meta.EvalLoss = last.Eval.Loss
		state.Meta.EvalAcc = last.Eval.Accuracy
	}
	state.SetOptimizer(opt)

	if err := checkpoint.SaveFile(cfg.Checkpoint, state); err != nil {
		return err
	}
	ev := logger.Info().Str("path", cfg.Checkpoint).Int("tensors", len(state.Tensors))
	if info, err := os.Stat(cfg.Checkpoint); err == nil {
		ev = ev.Str("size", humanize.Bytes(uint64(info.Size())))
	}
	ev.Msg("checkpoint saved")
	return nil
}
