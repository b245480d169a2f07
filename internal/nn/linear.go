package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/bdl/internal/tensor"
)

// Linear implements a fully connected layer: y = x @ W^T + b.
//
//   - x has shape [..., in_features]
//   - W has shape [out_features, in_features]
//   - b has shape [out_features] and is optional
//
// Leading dimensions are flattened for the product and restored afterwards,
// so [B, in] and [B, S, in] inputs are both accepted.
//
// Example:
//
//	layer := nn.NewLinear(784, 128, true, rng, backend)
//	output := layer.Forward(input) // [32, 784] -> [32, 128]
type Linear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter[B]
	bias        *Parameter[B]
}

// NewLinear creates a Linear layer with Kaiming-uniform weights and bias.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, bias bool, rng *rand.Rand, backend B) *Linear[B] {
	l := &Linear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight: NewParameter("weight",
			KaimingUniform(inFeatures, tensor.Shape{outFeatures, inFeatures}, rng, backend)),
	}
	if bias {
		l.bias = NewParameter("bias", KaimingUniform(inFeatures, tensor.Shape{outFeatures}, rng, backend))
	}
	return l
}

// Forward computes x @ W^T + b.
func (l *Linear[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return LinearForward(input, l.weight.Tensor(), l.biasTensor())
}

// LinearForward applies a dense layer with explicit weight and optional bias.
func LinearForward[B tensor.Backend](input, weight, bias *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	in := weight.Shape()[1]
	if len(shape) < 2 || shape[len(shape)-1] != in {
		panic(fmt.Sprintf("linear: expected input [..., %d], got %v", in, shape))
	}

	out := weight.Shape()[0]
	flat := input.Reshape(-1, in).MatMul(weight.Transpose())
	if bias != nil {
		flat = flat.Add(bias.Reshape(1, out))
	}

	outShape := shape.Clone()
	outShape[len(outShape)-1] = out
	return flat.Reshape(outShape...)
}

func (l *Linear[B]) biasTensor() *tensor.Tensor[float32, B] {
	if l.bias == nil {
		return nil
	}
	return l.bias.Tensor()
}

// Parameters returns [weight, bias] or [weight].
func (l *Linear[B]) Parameters() []*Parameter[B] {
	if l.bias != nil {
		return []*Parameter[B]{l.weight, l.bias}
	}
	return []*Parameter[B]{l.weight}
}

// Weight returns the weight parameter.
func (l *Linear[B]) Weight() *Parameter[B] {
	return l.weight
}

// Bias returns the bias parameter, or nil.
func (l *Linear[B]) Bias() *Parameter[B] {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *Linear[B]) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear[B]) OutFeatures() int {
	return l.outFeatures
}
