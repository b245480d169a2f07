// Package optim implements optimization algorithms for training neural networks.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum, dampening, Nesterov
//     acceleration and weight decay
//   - PsiSGD: SGD for posterior log standard deviations, with the learning
//     rate divided by the dataset size
//   - Adam: Adaptive Moment Estimation
//   - Chain: several optimizers stepped as one
//
// Design inspired by PyTorch's torch.optim but adapted for Go with type safety.
//
// Example usage:
//
//	mus, psis := bayes.SplitParameters(model)
//	muOpt, _ := optim.NewSGD(optim.Params(mus), optim.SGDConfig{LR: 0.0008, Momentum: 0.9, Nesterov: true}, backend)
//	psiOpt, _ := optim.NewPsiSGD(optim.Params(psis), optim.SGDConfig{LR: 0.1, Momentum: 0.9, Nesterov: true}, n, backend)
//	opt := optim.Chain{muOpt, psiOpt}
//
//	for step := range steps {
//	    opt.ZeroGrad()
//	    loss := lossFunc.Forward(model.Forward(input), targets)
//	    grads := autodiff.Backward(loss, backend)
//	    opt.Step(grads)
//	}
package optim

import (
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
//
// Optimizers update model parameters in place from the gradient map
// returned by autodiff.Backward. Parameter tensors keep their identity, so
// the same map keys stay valid across steps.
type Optimizer interface {
	// Step applies gradient updates to all parameters. Parameters without a
	// gradient in grads are left untouched.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad prepares for the next backward pass. Gradients are not stored
	// on parameters (every Backward returns a fresh map), so implementations
	// only reset per-step bookkeeping.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32

	// StateDict returns the optimizer's persistent buffers.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict restores buffers produced by StateDict.
	LoadStateDict(state map[string]*tensor.RawTensor) error
}

// Params extracts the parameters from a list of named parameters.
func Params[B tensor.Backend](named []nn.NamedParameter[B]) []*nn.Parameter[B] {
	params := make([]*nn.Parameter[B], len(named))
	for i, np := range named {
		params[i] = np.Param
	}
	return params
}

// getGradient safely retrieves gradient for a parameter.
//
// Returns nil if no gradient is found (parameter wasn't part of computation graph).
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) *tensor.RawTensor {
	if param == nil {
		return nil
	}
	return grads[param.Raw()]
}
