package ops

import "github.com/born-ml/bdl/internal/tensor"

// SumOp represents the total sum. Backward broadcasts the scalar gradient.
type SumOp struct{ unaryOp }

// NewSumOp creates a new SumOp.
func NewSumOp(x, output *tensor.RawTensor) *SumOp {
	return &SumOp{unaryOp{x, output}}
}

// Backward broadcasts the scalar gradient to the input shape.
func (op *SumOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Expand(outputGrad, op.input.Shape())}
}

// SumDimOp represents a sum along one dimension.
type SumDimOp struct {
	unaryOp
	dim int
}

// NewSumDimOp creates a new SumDimOp.
func NewSumDimOp(x, output *tensor.RawTensor, dim int) *SumDimOp {
	return &SumDimOp{unaryOp{x, output}, tensor.NormalizeDim(dim, len(x.Shape()))}
}

// Backward broadcasts the gradient back along the reduced dimension.
func (op *SumDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{expandReduced(outputGrad, op.input.Shape(), op.dim, backend)}
}

// MeanDimOp represents a mean along one dimension.
type MeanDimOp struct {
	unaryOp
	dim int
}

// NewMeanDimOp creates a new MeanDimOp.
func NewMeanDimOp(x, output *tensor.RawTensor, dim int) *MeanDimOp {
	return &MeanDimOp{unaryOp{x, output}, tensor.NormalizeDim(dim, len(x.Shape()))}
}

// Backward broadcasts the gradient back and divides by the reduced size.
func (op *MeanDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	shape := op.input.Shape()
	g := expandReduced(outputGrad, shape, op.dim, backend)
	return []*tensor.RawTensor{backend.MulScalar(g, 1/float32(shape[op.dim]))}
}

// SoftmaxOp represents softmax along one dimension.
//
// Backward:
//
//	∂L/∂x = y * (∂L/∂y - Σ_dim(∂L/∂y * y))
type SoftmaxOp struct {
	unaryOp
	dim int
}

// NewSoftmaxOp creates a new SoftmaxOp.
func NewSoftmaxOp(x, output *tensor.RawTensor, dim int) *SoftmaxOp {
	return &SoftmaxOp{unaryOp{x, output}, tensor.NormalizeDim(dim, len(x.Shape()))}
}

// Backward computes the input gradient for softmax.
func (op *SoftmaxOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	y := op.output
	dot := backend.SumDim(backend.Mul(outputGrad, y), op.dim, true)
	return []*tensor.RawTensor{backend.Mul(y, backend.Sub(outputGrad, dot))}
}

// CrossEntropyOp represents the mean cross-entropy of logits [N, K] against
// int32 targets [N].
//
// Backward: grad_logits = outputGrad * (softmax(logits) - onehot(targets)) / N.
// The targets receive no gradient.
type CrossEntropyOp struct{ binaryOp }

// NewCrossEntropyOp creates a new CrossEntropyOp.
func NewCrossEntropyOp(logits, targets, output *tensor.RawTensor) *CrossEntropyOp {
	return &CrossEntropyOp{newBinary(logits, targets, output)}
}

// Backward computes the logits gradient.
func (op *CrossEntropyOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	logits, targets := op.inputs[0], op.inputs[1]
	shape := logits.Shape()
	n, k := shape[0], shape[1]

	probs := backend.Softmax(logits, 1)
	grad := tensor.MustRaw(shape, tensor.Float32, logits.Device())
	p, g, tgt := probs.AsFloat32(), grad.AsFloat32(), targets.AsInt32()
	scale := outputGrad.AsFloat32()[0] / float32(n)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			v := p[i*k+j]
			if int32(j) == tgt[i] {
				v--
			}
			g[i*k+j] = v * scale
		}
	}
	return []*tensor.RawTensor{grad, nil}
}
