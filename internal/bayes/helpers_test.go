package bayes

import (
	"github.com/born-ml/bdl/internal/backend/cpu"
	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/tensor"
)

type Backend = *cpu.CPUBackend

type T = tensor.Tensor[float32, Backend]

func fill(p *nn.Parameter[Backend], v float32) {
	d := p.Tensor().Data()
	for i := range d {
		d[i] = v
	}
}

func randInput(seed uint64, shape ...int) *T {
	return tensor.Randn[float32](tensor.Shape(shape), tensor.NewRNG(seed), cpu.New())
}

// replay draws n samples of post from a generator seeded like the layer's,
// reproducing the layer's sampled weights.
func replay(post *Posterior[Backend], seed uint64, n int) *T {
	rng := tensor.NewRNG(seed)
	if n == 0 {
		return post.Sample(rng)
	}
	return post.SampleN(n, rng)
}

// slice returns the i-th block of a tensor along dimension 0.
func slice(t *T, i int) []float32 {
	size := t.NumElements() / t.Shape()[0]
	return t.Data()[i*size : (i+1)*size]
}

// sampleSlice returns out[b, s] of a [B, S, ...] tensor.
func sampleSlice(t *T, b, s int) []float32 {
	shape := t.Shape()
	size := t.NumElements() / (shape[0] * shape[1])
	off := (b*shape[1] + s) * size
	return t.Data()[off : off+size]
}

func convCfg(bias bool) nn.Conv2DConfig {
	return nn.Conv2DConfig{In: 2, Out: 3, Kernel: [2]int{3, 3}, Padding: [2]int{1, 1}, Bias: bias}
}
