package optim

import (
	"errors"
	"fmt"

	"github.com/born-ml/bdl/internal/metrics"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/parallel"
	"github.com/born-ml/bdl/internal/tensor"
)

// ErrNesterov reports a Nesterov configuration without momentum or with
// dampening.
var ErrNesterov = errors.New("nesterov momentum requires a momentum and zero dampening")

// SGD implements Stochastic Gradient Descent with the torch.optim.SGD
// update rule.
//
// For every parameter p with gradient g:
//
//	d = g + weight_decay * p
//	buf = d                                   (first step)
//	buf = momentum * buf + (1 - dampening) * d (later steps)
//	d = d + momentum * buf                    (nesterov)
//	d = buf                                   (otherwise)
//	p = p - lr * d
//
// Without momentum the buffer is skipped and d is applied directly.
//
// Example:
//
//	optimizer, err := optim.NewSGD(params, optim.SGDConfig{
//	    LR:       0.01,
//	    Momentum: 0.9,
//	}, backend)
//
//	for epoch := range epochs {
//	    loss := train_step(model, batch)
//	    grads := autodiff.Backward(loss, backend)
//	    optimizer.Step(grads)
//	    optimizer.ZeroGrad()
//	}
type SGD[B tensor.Backend] struct {
	name        string
	params      []*nn.Parameter[B]
	lr          float32
	momentum    float32
	dampening   float32
	weightDecay float32
	nesterov    bool
	velocities  map[*nn.Parameter[B]]*tensor.Tensor[float32, B]
	par         parallel.Config
	backend     B
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR          float32 // Learning rate (default: 0.01)
	Momentum    float32 // Momentum factor (default: 0.0, range: [0, 1))
	Dampening   float32 // Dampening for momentum (default: 0.0)
	WeightDecay float32 // L2 penalty (default: 0.0)
	Nesterov    bool    // Nesterov momentum
}

// Validate reports invalid hyperparameters.
func (c SGDConfig) Validate() error {
	switch {
	case c.LR < 0:
		return fmt.Errorf("invalid learning rate %v", c.LR)
	case c.Momentum < 0:
		return fmt.Errorf("invalid momentum %v", c.Momentum)
	case c.WeightDecay < 0:
		return fmt.Errorf("invalid weight decay %v", c.WeightDecay)
	case c.Nesterov && (c.Momentum <= 0 || c.Dampening != 0):
		return ErrNesterov
	}
	return nil
}

// NewSGD creates a new SGD optimizer over params.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, backend B) (*SGD[B], error) {
	return newSGD("sgd", params, config, backend)
}

func newSGD[B tensor.Backend](name string, params []*nn.Parameter[B], config SGDConfig, backend B) (*SGD[B], error) {
	if config.LR == 0 {
		config.LR = 0.01
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return &SGD[B]{
		name:        name,
		params:      params,
		lr:          config.LR,
		momentum:    config.Momentum,
		dampening:   config.Dampening,
		weightDecay: config.WeightDecay,
		nesterov:    config.Nesterov,
		velocities:  make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		par:         parallel.DefaultConfig(),
		backend:     backend,
	}, nil
}

// Step performs a single optimization step.
//
// Parameters with no gradient (not in computational graph) are skipped.
func (s *SGD[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, param := range s.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		s.update(param, grad.AsFloat32())
	}
	metrics.OptimizerSteps.WithLabelValues(s.name).Inc()
}

func (s *SGD[B]) update(param *nn.Parameter[B], grad []float32) {
	p := param.Raw().AsFloat32()
	if len(grad) != len(p) {
		panic(fmt.Sprintf("%s: gradient of %s has %d elements, want %d", s.name, param.Name(), len(grad), len(p)))
	}

	var buf []float32
	first := false
	if s.momentum != 0 {
		velocity, ok := s.velocities[param]
		if !ok {
			velocity = tensor.Zeros[float32](param.Shape(), s.backend)
			s.velocities[param] = velocity
			first = true
		}
		buf = velocity.Data()
	}

	lr, m, damp, wd := s.lr, s.momentum, s.dampening, s.weightDecay
	parallel.For(len(p), func(i int) {
		d := grad[i]
		if wd != 0 {
			d += wd * p[i]
		}
		if buf != nil {
			if first {
				buf[i] = d
			} else {
				buf[i] = m*buf[i] + (1-damp)*d
			}
			if s.nesterov {
				d += m * buf[i]
			} else {
				d = buf[i]
			}
		}
		p[i] -= lr * d
	}, s.par)
}

// ZeroGrad is a no-op: SGD keeps no per-step gradient state.
func (s *SGD[B]) ZeroGrad() {}

// GetLR returns the current learning rate.
func (s *SGD[B]) GetLR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
//
// Useful for learning rate scheduling during training.
func (s *SGD[B]) SetLR(lr float32) {
	s.lr = lr
}

// Params returns the optimized parameters.
func (s *SGD[B]) Params() []*nn.Parameter[B] {
	return s.params
}

// StateDict returns the optimizer state for serialization.
//
// For SGD with momentum, this exports velocity buffers for each parameter.
// Without momentum, returns an empty map.
//
// State keys: "velocity.{param_index}" -> velocity tensor.
func (s *SGD[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	if s.momentum == 0 {
		return stateDict
	}

	for i, param := range s.params {
		velocity, exists := s.velocities[param]
		if !exists {
			continue // No velocity yet (hasn't been used in training)
		}
		stateDict[fmt.Sprintf("velocity.%d", i)] = velocity.Raw()
	}
	return stateDict
}

// LoadStateDict loads optimizer state from serialization.
//
// Restores velocity buffers for SGD with momentum. Parameters without a
// stored buffer start a fresh one on their next step.
//
// Returns an error if velocity shapes don't match parameter shapes.
func (s *SGD[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if s.momentum == 0 {
		return nil
	}

	velocities := make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])
	for i, param := range s.params {
		velocityRaw, exists := stateDict[fmt.Sprintf("velocity.%d", i)]
		if !exists {
			continue
		}
		if !velocityRaw.Shape().Equal(param.Shape()) {
			return fmt.Errorf("velocity shape mismatch for parameter %d: expected %v, got %v",
				i, param.Shape(), velocityRaw.Shape())
		}
		velocities[param] = tensor.New[float32, B](velocityRaw.Clone(), s.backend)
	}
	s.velocities = velocities
	return nil
}
