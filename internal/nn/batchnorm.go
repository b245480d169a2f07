package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/bdl/internal/tensor"
)

// Batch normalization defaults.
const (
	DefaultBatchNormMomentum = 0.1
	DefaultBatchNormEps      = 1e-5
)

// BatchNormState holds the running statistics of a 2D batch normalization
// and performs the normalization step shared by the deterministic and the
// mean-field layers.
type BatchNormState[B tensor.Backend] struct {
	Channels    int
	Momentum    float32
	Eps         float32
	RunningMean *tensor.Tensor[float32, B]
	RunningVar  *tensor.Tensor[float32, B]

	training bool
	backend  B
}

// NewBatchNormState creates running statistics (mean 0, variance 1) in
// training mode.
func NewBatchNormState[B tensor.Backend](channels int, backend B) *BatchNormState[B] {
	return &BatchNormState[B]{
		Channels:    channels,
		Momentum:    DefaultBatchNormMomentum,
		Eps:         DefaultBatchNormEps,
		RunningMean: tensor.Zeros[float32](tensor.Shape{channels}, backend),
		RunningVar:  tensor.Ones[float32](tensor.Shape{channels}, backend),
		training:    true,
		backend:     backend,
	}
}

// Training reports whether batch statistics are used.
func (s *BatchNormState[B]) Training() bool {
	return s.training
}

// SetTraining switches between batch statistics and running statistics.
func (s *BatchNormState[B]) SetTraining(training bool) {
	s.training = training
}

// Normalize returns (x - mean) / sqrt(var + eps) for x [N, C, H, W].
//
// In training mode the batch statistics are used and folded into the running
// estimates (the variance estimate is unbiased). In evaluation mode the
// running estimates are constants of the computation.
func (s *BatchNormState[B]) Normalize(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if len(shape) != 4 || shape[1] != s.Channels {
		panic(fmt.Sprintf("batchnorm2d: expected input [N, %d, H, W], got %v", s.Channels, shape))
	}

	if s.training {
		xhat, mean, variance, _ := s.backend.BatchNorm2D(x.Raw(), s.Eps)
		s.updateRunning(mean.AsFloat32(), variance.AsFloat32(), shape[0]*shape[2]*shape[3])
		return tensor.New[float32, B](xhat, s.backend)
	}

	scale := tensor.Zeros[float32](tensor.Shape{1, s.Channels, 1, 1}, s.backend)
	shift := tensor.Zeros[float32](tensor.Shape{1, s.Channels, 1, 1}, s.backend)
	rm, rv := s.RunningMean.Data(), s.RunningVar.Data()
	sd, hd := scale.Data(), shift.Data()
	for c := 0; c < s.Channels; c++ {
		inv := float32(1 / math.Sqrt(float64(rv[c])+float64(s.Eps)))
		sd[c] = inv
		hd[c] = -rm[c] * inv
	}
	return x.Mul(scale).Add(shift)
}

func (s *BatchNormState[B]) updateRunning(mean, variance []float32, count int) {
	m := s.Momentum
	correction := float32(1)
	if count > 1 {
		correction = float32(count) / float32(count-1)
	}
	rm, rv := s.RunningMean.Data(), s.RunningVar.Data()
	for c := range rm {
		rm[c] = (1-m)*rm[c] + m*mean[c]
		rv[c] = (1-m)*rv[c] + m*variance[c]*correction
	}
}

// CopyFrom copies running statistics and settings from another state.
func (s *BatchNormState[B]) CopyFrom(other *BatchNormState[B]) {
	s.Momentum, s.Eps, s.training = other.Momentum, other.Eps, other.training
	s.RunningMean.Raw().CopyFrom(other.RunningMean.Raw())
	s.RunningVar.Raw().CopyFrom(other.RunningVar.Raw())
}

// StateDict returns the running statistics.
func (s *BatchNormState[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		"running_mean": s.RunningMean.Raw(),
		"running_var":  s.RunningVar.Raw(),
	}
}

// LoadStateDict restores the running statistics.
func (s *BatchNormState[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for name, dst := range s.StateDict() {
		src, ok := state[name]
		if !ok {
			return fmt.Errorf("missing %s in state dict", name)
		}
		if !src.Shape().Equal(dst.Shape()) || src.DType() != tensor.Float32 {
			return fmt.Errorf("%s: expected float32 %v, got %s %v", name, dst.Shape(), src.DType(), src.Shape())
		}
		dst.CopyFrom(src)
	}
	return nil
}

// BatchNorm2D implements batch normalization over [N, C, H, W] inputs with
// a learnable per-channel affine transform.
//
// Training mode normalizes with batch statistics and updates running
// estimates with momentum 0.1; evaluation mode uses the running estimates.
type BatchNorm2D[B tensor.Backend] struct {
	*BatchNormState[B]
	weight *Parameter[B]
	bias   *Parameter[B]
}

// NewBatchNorm2D creates a BatchNorm2D layer with weight 1 and bias 0.
func NewBatchNorm2D[B tensor.Backend](channels int, backend B) *BatchNorm2D[B] {
	return &BatchNorm2D[B]{
		BatchNormState: NewBatchNormState(channels, backend),
		weight:         NewParameter("weight", Ones(tensor.Shape{channels}, backend)),
		bias:           NewParameter("bias", Zeros(tensor.Shape{channels}, backend)),
	}
}

// Forward normalizes and applies the affine transform.
func (bn *BatchNorm2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	xhat := bn.Normalize(input)
	c := bn.Channels
	return xhat.Mul(bn.weight.Tensor().Reshape(1, c, 1, 1)).Add(bn.bias.Tensor().Reshape(1, c, 1, 1))
}

// Parameters returns [weight, bias].
func (bn *BatchNorm2D[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{bn.weight, bn.bias}
}

// Weight returns the affine scale.
func (bn *BatchNorm2D[B]) Weight() *Parameter[B] {
	return bn.weight
}

// Bias returns the affine shift.
func (bn *BatchNorm2D[B]) Bias() *Parameter[B] {
	return bn.bias
}

// StateDict returns the affine parameters and running statistics.
func (bn *BatchNorm2D[B]) StateDict() map[string]*tensor.RawTensor {
	state := bn.BatchNormState.StateDict()
	state["weight"] = bn.weight.Raw()
	state["bias"] = bn.bias.Raw()
	return state
}

// LoadStateDict restores the affine parameters and running statistics.
func (bn *BatchNorm2D[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	if err := bn.BatchNormState.LoadStateDict(state); err != nil {
		return err
	}
	return LoadParams(state, bn.weight, bn.bias)
}
