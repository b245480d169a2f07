package ops

import "github.com/born-ml/bdl/internal/tensor"

// ExpOp represents output = exp(x). Backward: outputGrad * output.
type ExpOp struct{ unaryOp }

// NewExpOp creates a new ExpOp.
func NewExpOp(x, output *tensor.RawTensor) *ExpOp {
	return &ExpOp{unaryOp{x, output}}
}

// Backward computes the input gradient for exp.
func (op *ExpOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Mul(outputGrad, op.output)}
}

// SqrtOp represents output = sqrt(x). Backward: outputGrad / (2 * output).
//
// The gradient is infinite at zero; callers clamp the input to a positive
// floor first.
type SqrtOp struct{ unaryOp }

// NewSqrtOp creates a new SqrtOp.
func NewSqrtOp(x, output *tensor.RawTensor) *SqrtOp {
	return &SqrtOp{unaryOp{x, output}}
}

// Backward computes the input gradient for sqrt.
func (op *SqrtOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.MulScalar(backend.Div(outputGrad, op.output), 0.5)}
}

// ReLUOp represents output = max(0, x).
//
// Backward: d(ReLU(x))/dx = 1 if x > 0, else 0.
type ReLUOp struct{ unaryOp }

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(x, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{unaryOp{x, output}}
}

// Backward computes the input gradient for ReLU.
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	mask := maskWhere(op.input, func(v float32) bool { return v > 0 })
	return []*tensor.RawTensor{backend.Mul(outputGrad, mask)}
}

// ClampMinOp represents output = max(x, floor).
//
// Backward: the gradient passes where x > floor and is zero where the floor
// was applied.
type ClampMinOp struct {
	unaryOp
	floor float32
}

// NewClampMinOp creates a new ClampMinOp.
func NewClampMinOp(x, output *tensor.RawTensor, floor float32) *ClampMinOp {
	return &ClampMinOp{unaryOp{x, output}, floor}
}

// Backward computes the input gradient for ClampMin.
func (op *ClampMinOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	floor := op.floor
	mask := maskWhere(op.input, func(v float32) bool { return v > floor })
	return []*tensor.RawTensor{backend.Mul(outputGrad, mask)}
}
