// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/bdl/internal/checkpoint"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/tensor"
)

// Module is the base interface for all neural network components.
//
// Every module implements:
//   - Forward: compute output from input
//   - Parameters: return all trainable parameters, nested ones included
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential[Backend](
//	    nn.NewLinear(784, 128, true, rng, backend),
//	    nn.NewReLU[Backend](),
//	    nn.NewLinear(128, 10, true, rng, backend),
//	)
type Module[B tensor.Backend] = nn.Module[B]

// Container is a module that owns child modules.
type Container[B tensor.Backend] = nn.Container[B]

// Replacer is a container whose children can be swapped in place.
// bayes.ToBayesian converts custom models through it.
type Replacer[B tensor.Backend] = nn.Replacer[B]

// Trainable is implemented by modules that behave differently in training
// and evaluation.
type Trainable = nn.Trainable

// Stateful is implemented by modules that persist more than their
// parameters, such as running statistics.
type Stateful = nn.Stateful

// NamedParameter pairs a parameter with its path in the module tree.
type NamedParameter[B tensor.Backend] = nn.NamedParameter[B]

// Walk visits root and every descendant depth-first. Paths are dot-joined
// child indices; the root has the empty path.
func Walk[B tensor.Backend](root Module[B], visit func(path string, m Module[B]) error) error {
	return nn.Walk(root, visit)
}

// SetTrain switches every Trainable module under root.
func SetTrain[B tensor.Backend](root Module[B], training bool) {
	nn.SetTrain(root, training)
}

// NamedParameters returns every parameter under root with its full name.
func NamedParameters[B tensor.Backend](root Module[B]) []NamedParameter[B] {
	return nn.NamedParameters(root)
}

// StateDict returns the state of every module under root keyed by path.
func StateDict[B tensor.Backend](root Module[B]) map[string]*tensor.RawTensor {
	return nn.StateDict(root)
}

// LoadStateDict restores state produced by StateDict.
func LoadStateDict[B tensor.Backend](root Module[B], state map[string]*tensor.RawTensor) error {
	return nn.LoadStateDict(root, state)
}

// Save writes the state of module to a checkpoint file and returns the run
// id recorded in it. An empty runID gets a fresh one.
//
// Example:
//
//	runID, err := nn.Save(model, "model.cbor", "")
func Save[B tensor.Backend](module Module[B], path, runID string) (string, error) {
	s := checkpoint.FromModule(module, runID)
	if err := checkpoint.SaveFile(path, s); err != nil {
		return "", err
	}
	return s.RunID, nil
}

// Load restores a checkpoint file written by Save into module, which must
// have the same topology, and returns the recorded run id.
func Load[B tensor.Backend](path string, module Module[B]) (string, error) {
	s, err := checkpoint.LoadFile(path)
	if err != nil {
		return "", err
	}
	if err := checkpoint.Apply(s, module); err != nil {
		return "", err
	}
	return s.RunID, nil
}
