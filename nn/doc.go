// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides deterministic neural network layers and building
// blocks. Networks built here are converted to mean-field form with
// bayes.ToBayesian.
//
// # Overview
//
// This package contains:
//   - Layers: Linear, Conv2D (stride, padding, dilation, groups), BatchNorm2D
//   - Activations and shape: ReLU, Flatten, Dropout
//   - Loss functions: CrossEntropyLoss
//   - Utilities: Sequential, Module, Parameter, Walk, StateDict
//   - Initialization: KaimingUniform, Xavier
//
// # Basic Usage
//
//	backend := cpu.New()
//	rng := tensor.NewRNG(1)
//
//	model := nn.NewSequential[*cpu.Backend](
//	    nn.MustConv2D(nn.Conv2DConfig{In: 1, Out: 8, Kernel: [2]int{3, 3}, Bias: true}, rng, backend),
//	    nn.NewBatchNorm2D(8, backend),
//	    nn.NewReLU[*cpu.Backend](),
//	    nn.NewFlatten[*cpu.Backend](-3),
//	    nn.NewLinear(8*6*6, 10, true, rng, backend),
//	)
//	output := model.Forward(input)
//
// # Module Trees
//
// Containers expose their children, and Walk visits a tree depth-first with
// dot-joined index paths ("", "0", "3.1"). StateDict and LoadStateDict key
// tensors by those paths:
//
//	state := nn.StateDict(model)   // "0.weight", "1.running_mean", ...
//	err := nn.LoadStateDict(other, state)
//
// Save and Load persist the same state to a checkpoint file.
//
// # Training Mode
//
// BatchNorm2D and Dropout behave differently in training and evaluation;
// SetTrain switches a whole tree:
//
//	nn.SetTrain(model, false)
package nn
