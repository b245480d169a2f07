// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend.
//
// # Overview
//
// This package implements a CPU backend with:
//   - Pure Go implementation (no CGO), GEMM through gonum blas32
//   - Im2col convolutions with stride, padding, dilation and groups
//   - Fused reparameterization and batch normalization kernels
//   - NumPy-compatible broadcasting
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/bdl/backend/cpu"
//	    "github.com/born-ml/bdl/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	    y := tensor.Ones[float32](tensor.Shape{2, 3}, backend)
//	    z := x.Add(y)
//	}
//
// Wrap the backend with autodiff.New to train.
//
// # Parallelism
//
// Batched, grouped and per-sample work inside a kernel is split across
// goroutines. Kernels never write into their inputs.
package cpu
