package autodiff

import (
	"github.com/born-ml/bdl/internal/autodiff/ops"
	"github.com/born-ml/bdl/internal/tensor"
)

// Function is a differentiable primitive defined by a forward kernel and a
// gradient rule. See ops.Function.
type Function = ops.Function

// FunctionRunner is implemented by backends that record Function applications.
type FunctionRunner interface {
	RunFunction(fn Function, inputs ...*tensor.RawTensor) *tensor.RawTensor
}

// Apply evaluates fn on the inputs. On a recording backend the application is
// placed on the tape and fn.Backward supplies the gradients; on any other
// backend only the forward kernel runs.
func Apply[T tensor.DType, B tensor.Backend](fn Function, inputs ...*tensor.Tensor[T, B]) *tensor.Tensor[T, B] {
	if len(inputs) == 0 {
		panic("apply: " + fn.Name() + " needs at least one input")
	}
	backend := inputs[0].Backend()
	raws := make([]*tensor.RawTensor, len(inputs))
	for i, in := range inputs {
		raws[i] = in.Raw()
	}

	var result *tensor.RawTensor
	if runner, ok := any(backend).(FunctionRunner); ok {
		result = runner.RunFunction(fn, raws...)
	} else {
		result = fn.Forward(raws, backend)
	}
	return tensor.New[T, B](result, backend)
}

// MulExpAddFunction is the reparameterization primitive eps*exp(psi)+mu.
//
// Inputs are (eps, psi, mu). The gradient rule is
//
//	d/d(psi) = outputGrad * eps * exp(psi)
//	d/d(mu)  = outputGrad
//
// summed over any leading sample dimensions of eps, evaluated in one fused
// pass by the backend. The noise eps is not a learnable input and receives
// no gradient.
type MulExpAddFunction struct{}

// Name returns "mul_exp_add".
func (MulExpAddFunction) Name() string { return "mul_exp_add" }

// Forward evaluates the fused kernel.
func (MulExpAddFunction) Forward(inputs []*tensor.RawTensor, backend tensor.Backend) *tensor.RawTensor {
	return backend.MulExpAdd(inputs[0], inputs[1], inputs[2])
}

// Backward evaluates the fused gradient kernel.
func (MulExpAddFunction) Backward(inputs []*tensor.RawTensor, _, outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	gradPsi, gradMu := backend.MulExpAddBackward(inputs[0], inputs[1], outputGrad)
	return []*tensor.RawTensor{nil, gradPsi, gradMu}
}

var _ tensor.Backend = (*AutodiffBackend[tensor.Backend])(nil)
