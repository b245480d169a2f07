// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package bayes turns deterministic networks into mean-field Bayesian
// networks and evaluates them as Monte-Carlo ensembles.
//
// # Overview
//
// Every weight of a mean-field layer has a Gaussian posterior
// N(mu, exp(psi)^2) held as two parameters, <name>_mu and <name>_psi. A
// layer samples its weights according to its SamplingMode:
//
//   - Deterministic: posterior mean only
//   - SingleEps: one weight sample shared by the whole batch
//   - LocalReparam: samples pre-activations instead of weights (no bias)
//   - Flipout: shared perturbation decorrelated by random signs (no bias)
//   - Independent: one weight sample per example
//   - Parallel: NumMCSamples weight samples in one batched pass, output [B, S, ...]
//
// # Conversion
//
//	det := buildNetwork()                    // nn.Conv2D, nn.Linear, nn.BatchNorm2D, ...
//	model, err := bayes.ToBayesian(det, bayes.ConvertOptions{
//	    Options: bayes.Options{RNG: tensor.NewRNG(1)},
//	})
//
// Means are copied from the deterministic weights and psi is drawn from
// U(PsiInit[0], PsiInit[1]), by default U(-6, -5).
//
// # Modes
//
// Freeze forces the posterior mean everywhere; EnableParallelEval switches
// every layer to batched sampling for ensemble evaluation. Both leave the
// configured mode untouched, so Unfreeze and DisableParallelEval restore it.
//
//	bayes.EnableParallelEval(model, 20)
//	res, err := bayes.Evaluate(ctx, model, testLoader, backend, bayes.EvalConfig{})
//	bayes.DisableParallelEval(model)
//
// # Errors
//
// Invalid configurations are reported as *ConfigError values wrapping one of
// ErrGroups, ErrBiasUnsupported, ErrSamples, ErrMode or ErrSize, both at
// construction and from SetMode. Forward never returns configuration errors.
package bayes
