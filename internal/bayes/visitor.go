package bayes

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/tensor"
)

// Layer is the sampling-mode capability shared by every mean-field layer.
// Visitors find layers through this interface, never by concrete type.
type Layer interface {
	Mode() SamplingMode
	BaseMode() SamplingMode
	SetMode(m SamplingMode) error
	Freeze()
	Unfreeze()
	Frozen() bool
	EnableParallelEval(n int) error
	DisableParallelEval()
	NumMCSamples() int
	SetRNG(rng *rand.Rand)
}

var (
	_ Layer = (*Conv2DMF[tensor.Backend])(nil)
	_ Layer = (*LinearMF[tensor.Backend])(nil)
	_ Layer = (*BatchNorm2DMF[tensor.Backend])(nil)

	_ nn.Stateful  = (*Conv2DMF[tensor.Backend])(nil)
	_ nn.Stateful  = (*LinearMF[tensor.Backend])(nil)
	_ nn.Stateful  = (*BatchNorm2DMF[tensor.Backend])(nil)
	_ nn.Trainable = (*BatchNorm2DMF[tensor.Backend])(nil)
)

// Layers returns every mean-field layer under root with its path.
func Layers[B tensor.Backend](root nn.Module[B]) map[string]Layer {
	layers := make(map[string]Layer)
	visitLayers(root, func(path string, l Layer) error {
		layers[path] = l
		return nil
	})
	return layers
}

func visitLayers[B tensor.Backend](root nn.Module[B], fn func(path string, l Layer) error) error {
	return nn.Walk(root, func(path string, m nn.Module[B]) error {
		if l, ok := m.(Layer); ok {
			return fn(path, l)
		}
		return nil
	})
}

// Freeze makes every mean-field layer under root deterministic.
func Freeze[B tensor.Backend](root nn.Module[B]) {
	_ = visitLayers(root, func(_ string, l Layer) error {
		l.Freeze()
		return nil
	})
}

// Unfreeze restores the sampling mode of every mean-field layer under root.
func Unfreeze[B tensor.Backend](root nn.Module[B]) {
	_ = visitLayers(root, func(_ string, l Layer) error {
		l.Unfreeze()
		return nil
	})
}

// EnableParallelEval switches every mean-field layer under root to parallel
// evaluation with n samples.
func EnableParallelEval[B tensor.Backend](root nn.Module[B], n int) error {
	return visitLayers(root, func(path string, l Layer) error {
		if err := l.EnableParallelEval(n); err != nil {
			return fmt.Errorf("module %q: %w", path, err)
		}
		return nil
	})
}

// DisableParallelEval restores the sampling mode of every mean-field layer
// under root.
func DisableParallelEval[B tensor.Backend](root nn.Module[B]) {
	_ = visitLayers(root, func(_ string, l Layer) error {
		l.DisableParallelEval()
		return nil
	})
}

// SetMode sets the base mode of every mean-field layer under root. It stops
// at the first layer that rejects the mode; layers visited before keep the
// new mode.
func SetMode[B tensor.Backend](root nn.Module[B], m SamplingMode) error {
	return visitLayers(root, func(path string, l Layer) error {
		if err := l.SetMode(m); err != nil {
			return fmt.Errorf("module %q: %w", path, err)
		}
		return nil
	})
}

// SetRNG points every mean-field layer under root at rng.
func SetRNG[B tensor.Backend](root nn.Module[B], rng *rand.Rand) {
	_ = visitLayers(root, func(_ string, l Layer) error {
		l.SetRNG(rng)
		return nil
	})
}

// IsPsi reports whether a parameter name denotes a log standard deviation.
func IsPsi(name string) bool {
	return strings.HasSuffix(name, "_psi")
}

// SplitParameters separates the psi parameters of root from everything else
// (posterior means and deterministic weights), in traversal order.
func SplitParameters[B tensor.Backend](root nn.Module[B]) (mus, psis []nn.NamedParameter[B]) {
	for _, np := range nn.NamedParameters(root) {
		if IsPsi(np.Param.Name()) {
			psis = append(psis, np)
		} else {
			mus = append(mus, np)
		}
	}
	return mus, psis
}
