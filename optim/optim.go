// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim

import (
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/optim"
	"github.com/born-ml/bdl/internal/tensor"
)

// Optimizer interface defines the common interface for all optimizers.
type Optimizer = optim.Optimizer

// Params extracts the parameters of named parameters, as returned by
// bayes.SplitParameters.
func Params[B tensor.Backend](named []nn.NamedParameter[B]) []*nn.Parameter[B] {
	return optim.Params(named)
}

// SGD (Stochastic Gradient Descent)

// SGD represents the SGD optimizer with momentum, dampening, Nesterov
// acceleration and weight decay.
type SGD[B tensor.Backend] = optim.SGD[B]

// SGDConfig contains configuration for SGD optimizer.
type SGDConfig = optim.SGDConfig

// ErrNesterov is returned for Nesterov without momentum or with dampening.
var ErrNesterov = optim.ErrNesterov

// NewSGD creates a new SGD optimizer.
//
// Example:
//
//	optimizer, err := optim.NewSGD(
//	    model.Parameters(),
//	    optim.SGDConfig{LR: 0.01, Momentum: 0.9, Nesterov: true},
//	    backend,
//	)
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, backend B) (*SGD[B], error) {
	return optim.NewSGD(params, config, backend)
}

// PsiSGD is SGD over posterior log standard deviations whose learning rate
// is divided by the dataset size.
type PsiSGD[B tensor.Backend] = optim.PsiSGD[B]

// NewPsiSGD creates a PsiSGD. Every parameter must be a psi parameter.
//
// Example:
//
//	mus, psis := bayes.SplitParameters(model)
//	psiOpt, err := optim.NewPsiSGD(optim.Params(psis), optim.SGDConfig{LR: 0.1, Momentum: 0.9, Nesterov: true}, 50000, backend)
func NewPsiSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, datasetSize int, backend B) (*PsiSGD[B], error) {
	return optim.NewPsiSGD(params, config, datasetSize, backend)
}

// Adam (Adaptive Moment Estimation)

// Adam represents the Adam optimizer.
type Adam[B tensor.Backend] = optim.Adam[B]

// AdamConfig contains configuration for Adam optimizer.
type AdamConfig = optim.AdamConfig

// NewAdam creates a new Adam optimizer with bias correction.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig, backend B) *Adam[B] {
	return optim.NewAdam(params, config, backend)
}

// Chain steps several optimizers as one.
type Chain = optim.Chain
