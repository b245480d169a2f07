package ops

import "github.com/born-ml/bdl/internal/tensor"

// Conv2DOp records a grouped 2D convolution.
//
// Backward delegates to the backend's input and kernel gradient kernels,
// which handle stride, padding, dilation and groups.
type Conv2DOp struct {
	binaryOp
	params tensor.Conv2DParams
}

// NewConv2DOp creates a new Conv2DOp.
func NewConv2DOp(input, kernel, output *tensor.RawTensor, p tensor.Conv2DParams) *Conv2DOp {
	return &Conv2DOp{newBinary(input, kernel, output), p}
}

// Backward computes gradients for the input and the kernel.
func (op *Conv2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	input, kernel := op.inputs[0], op.inputs[1]
	return []*tensor.RawTensor{
		backend.Conv2DInputBackward(input, kernel, outputGrad, op.params),
		backend.Conv2DKernelBackward(input, kernel, outputGrad, op.params),
	}
}
