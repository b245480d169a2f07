package ops

import "github.com/born-ml/bdl/internal/tensor"

// BatchNorm2DOp records the per-channel normalization xhat = (x - mean) * invStd
// where mean and invStd come from the batch itself.
type BatchNorm2DOp struct {
	unaryOp
	invStd *tensor.RawTensor
}

// NewBatchNorm2DOp creates a new BatchNorm2DOp.
func NewBatchNorm2DOp(x, xhat, invStd *tensor.RawTensor) *BatchNorm2DOp {
	return &BatchNorm2DOp{unaryOp{x, xhat}, invStd}
}

// Backward computes the input gradient including the dependence of the batch
// statistics on x.
func (op *BatchNorm2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.BatchNorm2DBackward(op.output, op.invStd, outputGrad)}
}
