package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/bdl/internal/metrics"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer. It is
// an alternative to SGD for the posterior means; log standard deviations
// are always trained with PsiSGD.
//
// Update rule:
//
//	g = gradient + weight_decay * param
//	m_t = beta1 * m_{t-1} + (1-beta1) * g       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * g²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                 // Bias correction
//	v_hat = v_t / (1 - beta2^t)                 // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam[B tensor.Backend] struct {
	params      []*nn.Parameter[B]
	lr          float32
	beta1       float32
	beta2       float32
	eps         float32
	weightDecay float32
	t           int                                             // Timestep for bias correction
	m           map[*nn.Parameter[B]]*tensor.Tensor[float32, B] // First moment estimates
	v           map[*nn.Parameter[B]]*tensor.Tensor[float32, B] // Second moment estimates
	backend     B
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR          float32    // Learning rate (default: 0.001)
	Betas       [2]float32 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps         float32    // Term for numerical stability (default: 1e-8)
	WeightDecay float32    // L2 penalty (default: 0.0)
}

// NewAdam creates a new Adam optimizer.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig, backend B) *Adam[B] {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	return &Adam[B]{
		params:      params,
		lr:          config.LR,
		beta1:       config.Betas[0],
		beta2:       config.Betas[1],
		eps:         config.Eps,
		weightDecay: config.WeightDecay,
		m:           make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		v:           make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		backend:     backend,
	}
}

// Step performs a single optimization step.
func (a *Adam[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	a.t++

	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, param := range a.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		m := a.moment(a.m, param)
		v := a.moment(a.v, param)
		a.updateParameter(param, grad.AsFloat32(), m.Data(), v.Data(), biasCorrection1, biasCorrection2)
	}
	metrics.OptimizerSteps.WithLabelValues("adam").Inc()
}

func (a *Adam[B]) moment(buffers map[*nn.Parameter[B]]*tensor.Tensor[float32, B], param *nn.Parameter[B]) *tensor.Tensor[float32, B] {
	buf, ok := buffers[param]
	if !ok {
		buf = tensor.Zeros[float32](param.Shape(), a.backend)
		buffers[param] = buf
	}
	return buf
}

func (a *Adam[B]) updateParameter(param *nn.Parameter[B], grad, mData, vData []float32, biasCorrection1, biasCorrection2 float32) {
	paramData := param.Raw().AsFloat32()
	for i := range paramData {
		g := grad[i] + a.weightDecay*paramData[i]
		mData[i] = a.beta1*mData[i] + (1.0-a.beta1)*g
		vData[i] = a.beta2*vData[i] + (1.0-a.beta2)*g*g

		mHat := mData[i] / biasCorrection1
		vHat := vData[i] / biasCorrection2
		paramData[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
	}
}

// ZeroGrad is a no-op: Adam keeps no per-step gradient state.
func (a *Adam[B]) ZeroGrad() {}

// GetLR returns the current learning rate.
func (a *Adam[B]) GetLR() float32 {
	return a.lr
}

// SetLR updates the learning rate.
func (a *Adam[B]) SetLR(lr float32) {
	a.lr = lr
}

// GetTimestep returns the number of steps taken.
func (a *Adam[B]) GetTimestep() int {
	return a.t
}

// StateDict exports the moment estimates ("exp_avg.{i}", "exp_avg_sq.{i}")
// and the timestep ("step").
func (a *Adam[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	step := tensor.MustRaw(tensor.Shape{1}, tensor.Int64, tensor.CPU)
	step.AsInt64()[0] = int64(a.t)
	state["step"] = step
	for i, param := range a.params {
		if m, ok := a.m[param]; ok {
			state[fmt.Sprintf("exp_avg.%d", i)] = m.Raw()
		}
		if v, ok := a.v[param]; ok {
			state[fmt.Sprintf("exp_avg_sq.%d", i)] = v.Raw()
		}
	}
	return state
}

// LoadStateDict restores state produced by StateDict.
func (a *Adam[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	step, ok := state["step"]
	if !ok || step.DType() != tensor.Int64 || step.NumElements() != 1 {
		return fmt.Errorf("adam: missing step in state dict")
	}
	m := make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])
	v := make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])
	for i, param := range a.params {
		for prefix, dst := range map[string]map[*nn.Parameter[B]]*tensor.Tensor[float32, B]{"exp_avg": m, "exp_avg_sq": v} {
			raw, ok := state[fmt.Sprintf("%s.%d", prefix, i)]
			if !ok {
				continue
			}
			if !raw.Shape().Equal(param.Shape()) {
				return fmt.Errorf("adam: %s shape mismatch for parameter %d: expected %v, got %v",
					prefix, i, param.Shape(), raw.Shape())
			}
			dst[param] = tensor.New[float32, B](raw.Clone(), a.backend)
		}
	}
	a.t = int(step.AsInt64()[0])
	a.m, a.v = m, v
	return nil
}
