// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimization algorithms for training mean-field
// networks.
//
// # Overview
//
// This package contains:
//   - SGD: torch-compatible SGD with momentum, dampening, Nesterov and weight decay
//   - PsiSGD: SGD for log standard deviations, learning rate divided by the dataset size
//   - Adam: Adaptive Moment Estimation with bias correction
//   - Chain: several optimizers stepped together
//
// # Basic Usage
//
// Posterior means and log standard deviations are trained by separate
// optimizers, stepped together after every backward pass:
//
//	mus, psis := bayes.SplitParameters(model)
//	muOpt, _ := optim.NewSGD(optim.Params(mus), optim.SGDConfig{LR: 0.0008, Momentum: 0.9, WeightDecay: 2e-4, Nesterov: true}, backend)
//	psiOpt, _ := optim.NewPsiSGD(optim.Params(psis), optim.SGDConfig{LR: 0.1, Momentum: 0.9, WeightDecay: 2e-4, Nesterov: true}, numTrain, backend)
//	opt := optim.Chain{muOpt, psiOpt}
//
//	for _, batch := range batches {
//	    backend.Tape().Clear()
//	    loss := criterion.Forward(model.Forward(batch.X), batch.Y)
//	    grads := autodiff.Backward(loss, backend)
//	    opt.Step(grads)
//	}
//
// # State
//
// StateDict and LoadStateDict save and restore momentum and moment buffers.
package optim
