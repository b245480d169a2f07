// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import "github.com/born-ml/bdl/internal/tensor"

// Backend defines the interface that all compute backends must implement.
//
// Implementations:
//   - backend/cpu: pure Go, GEMM through gonum
//
// Decorator backends:
//   - autodiff: automatic differentiation (wraps any backend)
//
// Besides the usual element-wise, matrix, convolution and reduction
// kernels, a backend provides the fused reparameterization kernel
// MulExpAdd(eps, psi, mu) = eps*exp(psi)+mu and batch normalization.
type Backend = tensor.Backend

// Conv2DParams configures a 2D convolution: per-axis stride, padding and
// dilation, and the number of channel groups.
type Conv2DParams = tensor.Conv2DParams

// DefaultConv2DParams returns unit stride and dilation, no padding, one group.
func DefaultConv2DParams() Conv2DParams {
	return tensor.DefaultConv2DParams()
}
