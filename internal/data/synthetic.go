package data

import (
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/born-ml/bdl/internal/tensor"
)

// BlobsConfig describes a synthetic image classification problem: every
// class has a random prototype image and examples are noisy copies of it.
type BlobsConfig struct {
	Classes  int
	Examples int // per class
	Channels int
	Height   int
	Width    int
	Noise    float64 // standard deviation of the per-pixel noise
	Seed     uint64
}

// DefaultBlobsConfig returns a small 3-class, 1x8x8 problem.
func DefaultBlobsConfig() BlobsConfig {
	return BlobsConfig{Classes: 3, Examples: 64, Channels: 1, Height: 8, Width: 8, Noise: 0.5, Seed: 1}
}

// Dataset is a set of examples held in memory.
type Dataset struct {
	Inputs      []float32
	Targets     []int32
	SampleShape tensor.Shape
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.Targets)
}

// Loader creates a SliceLoader over the dataset.
func (d *Dataset) Loader(cfg LoaderConfig) (*SliceLoader, error) {
	return NewSliceLoader(d.Inputs, d.SampleShape, d.Targets, cfg)
}

// Split returns the first n examples and the rest as two datasets sharing
// storage with d.
func (d *Dataset) Split(n int) (*Dataset, *Dataset, error) {
	if n <= 0 || n >= d.Len() {
		return nil, nil, errors.Errorf("data: split point %d outside (0, %d)", n, d.Len())
	}
	size := d.SampleShape.NumElements()
	head := &Dataset{Inputs: d.Inputs[:n*size], Targets: d.Targets[:n], SampleShape: d.SampleShape}
	tail := &Dataset{Inputs: d.Inputs[n*size:], Targets: d.Targets[n:], SampleShape: d.SampleShape}
	return head, tail, nil
}

// Blobs generates a synthetic dataset. Examples of all classes are
// interleaved in a random order so that any prefix is class balanced in
// expectation.
func Blobs(cfg BlobsConfig) (*Dataset, error) {
	if cfg.Classes < 2 || cfg.Examples <= 0 || cfg.Channels <= 0 || cfg.Height <= 0 || cfg.Width <= 0 {
		return nil, errors.Errorf("data: invalid blobs config %+v", cfg)
	}
	if cfg.Noise < 0 {
		return nil, errors.Errorf("data: negative noise %v", cfg.Noise)
	}
	rng := tensor.NewRNG(cfg.Seed)
	shape := tensor.Shape{cfg.Channels, cfg.Height, cfg.Width}
	size := shape.NumElements()

	prototypes := make([][]float32, cfg.Classes)
	for k := range prototypes {
		prototypes[k] = make([]float32, size)
		for i := range prototypes[k] {
			prototypes[k][i] = float32(rng.NormFloat64())
		}
	}

	total := cfg.Classes * cfg.Examples
	d := &Dataset{
		Inputs:      make([]float32, total*size),
		Targets:     make([]int32, total),
		SampleShape: shape,
	}
	for i, idx := range rng.Perm(total) {
		class := idx % cfg.Classes
		d.Targets[i] = int32(class)
		fillNoisy(d.Inputs[i*size:(i+1)*size], prototypes[class], cfg.Noise, rng)
	}
	return d, nil
}

func fillNoisy(dst, proto []float32, noise float64, rng *rand.Rand) {
	for i, v := range proto {
		dst[i] = v + float32(noise*rng.NormFloat64())
	}
}
