package nn

import (
	"math/rand/v2"

	"github.com/born-ml/bdl/internal/tensor"
)

// Dropout zeroes each element with probability p during training and
// rescales survivors by 1/(1-p). It is the identity in evaluation mode or
// when p is zero.
type Dropout[B tensor.Backend] struct {
	p        float64
	training bool
	rng      *rand.Rand
	backend  B
}

// NewDropout creates a Dropout layer drawing masks from rng.
func NewDropout[B tensor.Backend](p float64, rng *rand.Rand, backend B) *Dropout[B] {
	return &Dropout[B]{p: p, training: true, rng: rng, backend: backend}
}

// Forward applies the dropout mask.
func (d *Dropout[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if !d.training || d.p <= 0 {
		return input
	}
	mask := tensor.Zeros[float32](input.Shape(), d.backend)
	keep := float32(1 / (1 - d.p))
	data := mask.Data()
	for i := range data {
		if d.rng.Float64() >= d.p {
			data[i] = keep
		}
	}
	return input.Mul(mask)
}

// Parameters returns nil.
func (d *Dropout[B]) Parameters() []*Parameter[B] {
	return nil
}

// SetTraining toggles between training and evaluation behavior.
func (d *Dropout[B]) SetTraining(training bool) {
	d.training = training
}

// P returns the drop probability.
func (d *Dropout[B]) P() float64 {
	return d.p
}

// DisableDropout sets the drop probability to zero.
func (d *Dropout[B]) DisableDropout() {
	d.p = 0
}

// DropoutDisabler is implemented by modules whose stochastic dropout can be
// switched off permanently.
type DropoutDisabler interface {
	DisableDropout()
}

// DisableDropout switches off dropout in every module under root. Bayesian
// networks get their stochasticity from the weight posterior instead.
func DisableDropout[B tensor.Backend](root Module[B]) {
	_ = Walk(root, func(_ string, m Module[B]) error {
		if d, ok := m.(DropoutDisabler); ok {
			d.DisableDropout()
		}
		return nil
	})
}
