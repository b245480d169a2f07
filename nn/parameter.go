// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/tensor"
)

// Parameter is a named trainable tensor.
//
// Gradients are not stored on parameters: autodiff.Backward returns a map
// keyed by the parameter's raw tensor, and optimizers update that tensor in
// place so the key stays valid across steps.
//
// Example:
//
//	weight := nn.NewParameter("weight", weightTensor)
//	w := weight.Tensor()
//	grad := grads[weight.Raw()]
type Parameter[B tensor.Backend] = nn.Parameter[B]

// NewParameter creates a new parameter with the given name and tensor.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}
