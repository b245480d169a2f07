package autodiff

import (
	"fmt"

	"github.com/born-ml/bdl/internal/tensor"
)

// BackwardCapable is implemented by backends that record a gradient tape.
type BackwardCapable interface {
	tensor.Backend
	Tape() *GradientTape
}

// Backward computes gradients of a scalar tensor with respect to every tensor
// recorded on the backend's tape.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	x := tensor.Ones[float32](tensor.Shape{2}, backend)
//	y := x.Mul(x).Sum()
//	grads := autodiff.Backward(y, backend)
//	grad := grads[x.Raw()]
func Backward[T tensor.DType, B BackwardCapable](t *tensor.Tensor[T, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	if t.NumElements() != 1 {
		panic(fmt.Sprintf("backward: expected a scalar output, got shape %v", t.Shape()))
	}
	seed := tensor.MustRaw(t.Shape(), t.DType(), t.Device())
	seed.AsFloat32()[0] = 1
	return backend.Tape().Backward(t.Raw(), seed, gradBackend(backend))
}

// gradBackend returns the undecorated backend when one is available so that
// gradient computations are not recorded.
func gradBackend(b tensor.Backend) tensor.Backend {
	if w, ok := b.(interface{ InnerBackend() tensor.Backend }); ok {
		return w.InnerBackend()
	}
	return b
}

// NoGrad runs fn with tape recording suspended. Backends without a tape run
// fn unchanged.
func NoGrad(backend tensor.Backend, fn func()) {
	bc, ok := backend.(interface{ Tape() *GradientTape })
	if !ok {
		fn()
		return
	}
	tape := bc.Tape()
	was := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if was {
			tape.StartRecording()
		}
	}()
	fn()
}
