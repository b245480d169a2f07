package optim

import (
	"fmt"
	"strings"

	"github.com/born-ml/bdl/internal/tensor"
)

// Chain steps several optimizers over disjoint parameter sets as one, in
// order. The usual pairing is an SGD for posterior means followed by a
// PsiSGD for log standard deviations.
type Chain []Optimizer

// Step steps every optimizer with the same gradient map.
func (c Chain) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, o := range c {
		o.Step(grads)
	}
}

// ZeroGrad resets every optimizer.
func (c Chain) ZeroGrad() {
	for _, o := range c {
		o.ZeroGrad()
	}
}

// GetLR returns the learning rate of the first optimizer.
func (c Chain) GetLR() float32 {
	if len(c) == 0 {
		return 0
	}
	return c[0].GetLR()
}

// StateDict merges the optimizers' state, prefixing keys with the
// optimizer's index ("0.velocity.3").
func (c Chain) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	for i, o := range c {
		for k, v := range o.StateDict() {
			state[fmt.Sprintf("%d.%s", i, k)] = v
		}
	}
	return state
}

// LoadStateDict splits state by index prefix and restores every optimizer.
func (c Chain) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for i, o := range c {
		prefix := fmt.Sprintf("%d.", i)
		local := make(map[string]*tensor.RawTensor)
		for k, v := range state {
			if name, ok := strings.CutPrefix(k, prefix); ok {
				local[name] = v
			}
		}
		if err := o.LoadStateDict(local); err != nil {
			return fmt.Errorf("optimizer %d: %w", i, err)
		}
	}
	return nil
}
