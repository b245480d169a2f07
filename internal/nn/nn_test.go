package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/bdl/internal/autodiff"
	"github.com/born-ml/bdl/internal/backend/cpu"
	"github.com/born-ml/bdl/internal/tensor"
)

type Backend = *cpu.CPUBackend

func TestLinearForward(t *testing.T) {
	b := cpu.New()
	l := NewLinear(3, 2, true, tensor.NewRNG(1), b)
	copy(l.Weight().Tensor().Data(), []float32{1, 0, 0, 0, 1, 1})
	copy(l.Bias().Tensor().Data(), []float32{0.5, -1})

	x := tensor.MustFromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, b)
	y := l.Forward(x)
	assert.Equal(t, tensor.Shape{2, 2}, y.Shape())
	assert.Equal(t, []float32{1.5, 4, 4.5, 10}, y.Data())

	// Leading sample dimension is carried through.
	x3 := tensor.MustFromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 1, 3}, b)
	y3 := l.Forward(x3)
	assert.Equal(t, tensor.Shape{2, 1, 2}, y3.Shape())
	assert.Equal(t, y.Data(), y3.Data())
}

func TestLinearWithoutBias(t *testing.T) {
	l := NewLinear(4, 3, false, tensor.NewRNG(1), cpu.New())
	assert.Nil(t, l.Bias())
	require.Len(t, l.Parameters(), 1)
	assert.Equal(t, "weight", l.Parameters()[0].Name())
}

func TestKaimingUniformBound(t *testing.T) {
	w := KaimingUniform(16, tensor.Shape{64, 16}, tensor.NewRNG(3), cpu.New())
	for _, v := range w.Data() {
		assert.LessOrEqual(t, v, float32(0.25))
		assert.GreaterOrEqual(t, v, float32(-0.25))
	}
}

func TestConv2DConfig(t *testing.T) {
	cfg := Conv2DConfig{In: 4, Out: 6, Kernel: [2]int{3, 3}, Groups: 2, Bias: true}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, tensor.Shape{6, 2, 3, 3}, cfg.KernelShape())
	assert.Equal(t, 18, cfg.FanIn())

	p := cfg.Params()
	assert.Equal(t, [2]int{1, 1}, p.Stride)
	assert.Equal(t, [2]int{1, 1}, p.Dilation)
	assert.Equal(t, 2, p.Groups)

	_, err := NewConv2D(Conv2DConfig{In: 3, Out: 6, Kernel: [2]int{3, 3}, Groups: 2}, tensor.NewRNG(1), cpu.New())
	require.ErrorIs(t, err, ErrGroups)
}

func TestConv2DForwardShapeAndBias(t *testing.T) {
	b := cpu.New()
	c := MustConv2D(Conv2DConfig{In: 1, Out: 2, Kernel: [2]int{1, 1}, Padding: [2]int{1, 1}, Bias: true}, tensor.NewRNG(1), b)
	copy(c.Weight().Tensor().Data(), []float32{1, 2})
	copy(c.Bias().Tensor().Data(), []float32{10, 20})

	x := tensor.Ones[float32](tensor.Shape{1, 1, 2, 2}, b)
	y := c.Forward(x)
	require.Equal(t, tensor.Shape{1, 2, 4, 4}, y.Shape())
	// Padded border sees only the bias; the interior sees weight + bias.
	assert.Equal(t, float32(10), y.At(0, 0, 0, 0))
	assert.Equal(t, float32(11), y.At(0, 0, 1, 1))
	assert.Equal(t, float32(22), y.At(0, 1, 2, 2))
}

func TestFlattenNegativeDim(t *testing.T) {
	b := cpu.New()
	f := NewFlatten[Backend](-3)

	x4 := tensor.Zeros[float32](tensor.Shape{2, 3, 4, 5}, b)
	assert.Equal(t, tensor.Shape{2, 60}, f.Forward(x4).Shape())

	x5 := tensor.Zeros[float32](tensor.Shape{7, 2, 3, 4, 5}, b)
	assert.Equal(t, tensor.Shape{7, 2, 60}, f.Forward(x5).Shape())

	assert.Panics(t, func() { NewFlatten[Backend](4).Forward(x4) })
}

func TestDropout(t *testing.T) {
	b := cpu.New()
	x := tensor.Ones[float32](tensor.Shape{1000}, b)
	d := NewDropout(0.5, tensor.NewRNG(9), b)

	y := d.Forward(x).Data()
	zeros := 0
	for _, v := range y {
		if v == 0 {
			zeros++
		} else {
			assert.Equal(t, float32(2), v)
		}
	}
	assert.InDelta(t, 500, zeros, 80)

	d.SetTraining(false)
	assert.Same(t, x, d.Forward(x))

	d.SetTraining(true)
	DisableDropout[Backend](NewSequential[Backend](d))
	assert.Zero(t, d.P())
	assert.Same(t, x, d.Forward(x))
}

func buildNet(b Backend) *Sequential[Backend] {
	rng := tensor.NewRNG(42)
	return NewSequential[Backend](
		MustConv2D(Conv2DConfig{In: 1, Out: 2, Kernel: [2]int{3, 3}, Bias: true}, rng, b),
		NewBatchNorm2D(2, b),
		NewReLU[Backend](),
		NewSequential[Backend](
			NewFlatten[Backend](-3),
			NewLinear(2*2*2, 3, true, rng, b),
		),
	)
}

func TestSequentialAndWalk(t *testing.T) {
	b := cpu.New()
	net := buildNet(b)

	var paths []string
	require.NoError(t, Walk[Backend](net, func(path string, _ Module[Backend]) error {
		paths = append(paths, path)
		return nil
	}))
	assert.Equal(t, []string{"", "0", "1", "2", "3", "3.0", "3.1"}, paths)

	var names []string
	for _, np := range NamedParameters[Backend](net) {
		names = append(names, np.Name)
	}
	assert.Equal(t, []string{"0.weight", "0.bias", "1.weight", "1.bias", "3.1.weight", "3.1.bias"}, names)
	assert.Len(t, net.Parameters(), 6)

	y := net.Forward(tensor.Randn[float32](tensor.Shape{5, 1, 4, 4}, tensor.NewRNG(1), b))
	assert.Equal(t, tensor.Shape{5, 3}, y.Shape())
}

func TestReplaceChild(t *testing.T) {
	b := cpu.New()
	net := buildNet(b)
	net.ReplaceChild(2, NewFlatten[Backend](1))
	_, ok := net.Module(2).(*Flatten[Backend])
	assert.True(t, ok)
	assert.Panics(t, func() { net.ReplaceChild(9, NewReLU[Backend]()) })
}

func TestStateDictRoundTrip(t *testing.T) {
	b := cpu.New()
	src := buildNet(b)
	_ = src.Forward(tensor.Randn[float32](tensor.Shape{4, 1, 4, 4}, tensor.NewRNG(2), b))

	state := StateDict[Backend](src)
	assert.Contains(t, state, "1.running_mean")
	assert.Contains(t, state, "1.running_var")
	assert.Contains(t, state, "3.1.weight")

	dst := buildNet(b)
	copy(dst.Parameters()[0].Tensor().Data(), make([]float32, 18))
	require.NoError(t, LoadStateDict[Backend](dst, state))

	for i, p := range dst.Parameters() {
		assert.Equal(t, src.Parameters()[i].Tensor().Data(), p.Tensor().Data())
	}
	bn := dst.Module(1).(*BatchNorm2D[Backend])
	assert.Equal(t, src.Module(1).(*BatchNorm2D[Backend]).RunningMean.Data(), bn.RunningMean.Data())

	delete(state, "3.1.bias")
	require.Error(t, LoadStateDict[Backend](dst, state))
}

func TestBatchNormTrainingAndEval(t *testing.T) {
	b := cpu.New()
	bn := NewBatchNorm2D(1, b)
	x := tensor.MustFromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2}, b)

	y := bn.Forward(x).Data()
	var sum float32
	for _, v := range y {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-5)

	// mean 2.5, unbiased variance 5/3
	assert.InDelta(t, 0.25, bn.RunningMean.Data()[0], 1e-6)
	assert.InDelta(t, 0.9+0.1*5.0/3.0, bn.RunningVar.Data()[0], 1e-5)

	SetTrain[Backend](NewSequential[Backend](bn), false)
	assert.False(t, bn.Training())
	bn.RunningMean.Data()[0] = 1
	bn.RunningVar.Data()[0] = 4
	out := bn.Forward(x).Data()
	assert.InDelta(t, 0, out[0], 1e-3)
	assert.InDelta(t, 1.5, out[3], 1e-3)
}

func TestCrossEntropyLossGradient(t *testing.T) {
	b := autodiff.New(cpu.New())
	b.Tape().StartRecording()

	l := NewLinear(2, 3, true, tensor.NewRNG(5), b)
	x := tensor.MustFromSlice([]float32{1, -1, 0.5, 2}, tensor.Shape{2, 2}, b)
	targets := tensor.MustFromSlice([]int32{0, 2}, tensor.Shape{2}, b)

	loss := NewCrossEntropyLoss[*autodiff.AutodiffBackend[Backend]]().Forward(l.Forward(x), targets)
	assert.Greater(t, loss.Item(), float32(0))

	grads := autodiff.Backward(loss, b)
	for _, p := range l.Parameters() {
		g, ok := grads[p.Raw()]
		require.True(t, ok, p.Name())
		assert.Equal(t, p.Shape(), g.Shape())
	}
}
