package nn

import (
	"fmt"

	"github.com/born-ml/bdl/internal/tensor"
)

// Parameter represents a trainable tensor in a neural network.
//
// The tensor's RawTensor identity is stable for the parameter's lifetime:
// optimizers update its storage in place, so gradients returned by the tape
// can be looked up by Raw().
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
}

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// Raw returns the parameter's raw tensor, the key under which its gradient
// is found.
func (p *Parameter[B]) Raw() *tensor.RawTensor {
	return p.tensor.Raw()
}

// Shape returns the parameter shape.
func (p *Parameter[B]) Shape() tensor.Shape {
	return p.tensor.Shape()
}

// CopyFrom overwrites the parameter values with src.
func (p *Parameter[B]) CopyFrom(src *tensor.RawTensor) error {
	if !src.Shape().Equal(p.Shape()) {
		return fmt.Errorf("%s: shape mismatch: expected %v, got %v", p.name, p.Shape(), src.Shape())
	}
	if src.DType() != tensor.Float32 {
		return fmt.Errorf("%s: dtype mismatch: expected float32, got %v", p.name, src.DType())
	}
	p.tensor.Raw().CopyFrom(src)
	return nil
}
