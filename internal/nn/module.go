// Package nn implements the deterministic neural network modules.
//
// This package provides building blocks for constructing networks that the
// bayes package converts to mean-field form:
//   - Module interface: base interface for all NN components
//   - Parameter: named trainable tensor
//   - Container and Walk: recursive traversal of module trees
//   - Linear, Conv2D, BatchNorm2D: layers with learnable weights
//   - ReLU, Flatten, Dropout: parameter-free layers
//   - Sequential: container for stacking layers
//   - CrossEntropyLoss: classification loss
//
// Design inspired by PyTorch's nn.Module but adapted for Go generics.
package nn

import (
	"github.com/born-ml/bdl/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential[Backend](
//	    nn.MustConv2D(nn.Conv2DConfig{In: 3, Out: 16, Kernel: [2]int{3, 3}}, rng, backend),
//	    nn.NewReLU[Backend](),
//	    nn.NewFlatten[Backend](-3),
//	    nn.NewLinear(16*30*30, 10, true, rng, backend),
//	)
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters of this module, including
	// those of nested modules.
	Parameters() []*Parameter[B]
}

// Container is a module that owns child modules.
type Container[B tensor.Backend] interface {
	Module[B]
	Children() []Module[B]
}

// Replacer is a container whose children can be swapped in place.
type Replacer[B tensor.Backend] interface {
	Container[B]
	ReplaceChild(i int, m Module[B])
}

// Trainable is implemented by modules that behave differently in training
// and evaluation (batch normalization, dropout).
type Trainable interface {
	SetTraining(training bool)
}

// Stateful is implemented by modules that persist more than their
// parameters, such as running statistics. Keys are local to the module.
type Stateful interface {
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(state map[string]*tensor.RawTensor) error
}
