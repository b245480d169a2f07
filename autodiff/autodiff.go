// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides automatic differentiation capabilities.
//
// This package implements reverse-mode automatic differentiation using a
// gradient tape. It wraps any backend to add autodiff capabilities, and lets
// callers register operations with their own gradient rule through Function
// and Apply.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//
//	x := tensor.Ones[float32](tensor.Shape{2, 3}, backend)
//	y := x.Mul(x).Sum()
//
//	grads := autodiff.Backward(y, backend)
//	dx := grads[x.Raw()]
package autodiff

import (
	"github.com/born-ml/bdl/internal/autodiff"
	"github.com/born-ml/bdl/internal/tensor"
)

// Backend is the autodiff-enabled backend.
type Backend[B tensor.Backend] = autodiff.AutodiffBackend[B]

// New creates a new autodiff backend wrapping the given backend.
func New[B tensor.Backend](backend B) *Backend[B] {
	return autodiff.New(backend)
}

// GradientTape records operations for automatic differentiation.
type GradientTape = autodiff.GradientTape

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return autodiff.NewGradientTape()
}

// BackwardCapable interface for backends that support backpropagation.
type BackwardCapable = autodiff.BackwardCapable

// Backward computes gradients of a scalar tensor with respect to every
// recorded tensor.
func Backward[T tensor.DType, B BackwardCapable](t *tensor.Tensor[T, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	return autodiff.Backward(t, backend)
}

// NoGrad runs fn with tape recording suspended.
func NoGrad(backend tensor.Backend, fn func()) {
	autodiff.NoGrad(backend, fn)
}

// Function is an operation with a user-supplied gradient rule.
type Function = autodiff.Function

// MulExpAddFunction is eps*exp(psi)+mu with gradients for psi and mu.
type MulExpAddFunction = autodiff.MulExpAddFunction

// Apply runs fn on inputs and, on an autodiff backend, records it on the
// tape.
func Apply[T tensor.DType, B tensor.Backend](fn Function, inputs ...*tensor.Tensor[T, B]) *tensor.Tensor[T, B] {
	return autodiff.Apply(fn, inputs...)
}
