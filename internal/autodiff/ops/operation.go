// Package ops defines the differentiable operations recorded on the gradient tape.
//
// Each operation records its inputs and output during the forward pass and
// computes input gradients during the backward pass:
//   - AddOp, SubOp, MulOp, DivOp: element-wise arithmetic with broadcasting
//   - MulScalarOp, AddScalarOp: scalar arithmetic
//   - ExpOp, SqrtOp, ReLUOp, ClampMinOp: element-wise math
//   - MatMulOp, BatchMatMulOp: matrix products
//   - Conv2DOp: grouped, dilated 2D convolution
//   - ReshapeOp, TransposeOp, ExpandOp: shape manipulation
//   - SumOp, SumDimOp, MeanDimOp, SoftmaxOp, CrossEntropyOp: reductions
//   - BatchNorm2DOp: batch-statistics normalization
//   - FunctionOp: user-defined forward/backward pairs (see Function)
package ops

import "github.com/born-ml/bdl/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// Returns one entry per input; nil means no gradient flows to that input.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// Function is a user-defined differentiable primitive: a forward kernel
// paired with its gradient rule. Registered functions take part in the tape
// exactly like built-in operations.
//
// Forward receives the undecorated backend, so nothing it computes is
// recorded. Backward may return nil for inputs that receive no gradient.
type Function interface {
	Name() string
	Forward(inputs []*tensor.RawTensor, backend tensor.Backend) *tensor.RawTensor
	Backward(inputs []*tensor.RawTensor, output, outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor
}

// FunctionOp records one application of a Function.
type FunctionOp struct {
	fn     Function
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

// NewFunctionOp creates a new FunctionOp.
func NewFunctionOp(fn Function, inputs []*tensor.RawTensor, output *tensor.RawTensor) *FunctionOp {
	return &FunctionOp{fn: fn, inputs: inputs, output: output}
}

// Backward delegates to the function's gradient rule.
func (op *FunctionOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return op.fn.Backward(op.inputs, op.output, outputGrad, backend)
}

// Inputs returns the function inputs.
func (op *FunctionOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns the function output.
func (op *FunctionOp) Output() *tensor.RawTensor { return op.output }

// Name returns the wrapped function's name.
func (op *FunctionOp) Name() string { return op.fn.Name() }

// unaryOp holds the input and output of a single-input operation.
type unaryOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

func (op *unaryOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }
func (op *unaryOp) Output() *tensor.RawTensor { return op.output }

// binaryOp holds the inputs and output of a two-input operation.
type binaryOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

func newBinary(a, b, output *tensor.RawTensor) binaryOp {
	return binaryOp{inputs: []*tensor.RawTensor{a, b}, output: output}
}

func (op *binaryOp) Inputs() []*tensor.RawTensor { return op.inputs }
func (op *binaryOp) Output() *tensor.RawTensor { return op.output }
