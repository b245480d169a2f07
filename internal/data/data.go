// Package data provides the batch source consumed by training and ensemble
// evaluation: an in-memory loader with seeded shuffling and a synthetic
// image classification dataset.
package data

import (
	"io"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/born-ml/bdl/internal/tensor"
)

// Batch is one (input, target) pair: inputs [N, ...] float32 and targets [N]
// int32 class indices. Batches are backend independent; wrap them with
// tensor.New on the backend that consumes them.
type Batch struct {
	Inputs  *tensor.RawTensor
	Targets *tensor.RawTensor
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int {
	return b.Targets.NumElements()
}

// Tensors wraps the batch for backend b.
func Tensors[B tensor.Backend](batch Batch, b B) (*tensor.Tensor[float32, B], *tensor.Tensor[int32, B]) {
	return tensor.New[float32](batch.Inputs, b), tensor.New[int32](batch.Targets, b)
}

// Loader yields batches one at a time.
//
// Yield returns io.EOF at the end of an epoch; Reset starts the next one.
// Any other error should interrupt training or evaluation.
type Loader interface {
	// Name identifies the loader in logs.
	Name() string

	// Reset restarts the loader, reshuffling if configured to.
	Reset()

	// Yield returns the next batch or io.EOF.
	Yield() (Batch, error)

	// Len returns the number of batches per epoch.
	Len() int

	// NumExamples returns the number of examples per epoch.
	NumExamples() int
}

// SliceLoader serves batches from examples held in memory.
type SliceLoader struct {
	name        string
	inputs      []float32
	targets     []int32
	sampleShape tensor.Shape
	batchSize   int
	shuffle     bool
	rng         *rand.Rand

	order []int
	next  int
}

// LoaderConfig configures a SliceLoader.
type LoaderConfig struct {
	Name      string
	BatchSize int
	// Shuffle permutes the examples on every Reset using RNG.
	Shuffle bool
	RNG     *rand.Rand
}

// NewSliceLoader creates a loader over inputs, laid out as
// [len(targets), sampleShape...].
func NewSliceLoader(inputs []float32, sampleShape tensor.Shape, targets []int32, cfg LoaderConfig) (*SliceLoader, error) {
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("data: batch size must be positive, got %d", cfg.BatchSize)
	}
	if len(targets) == 0 {
		return nil, errors.New("data: empty dataset")
	}
	if err := sampleShape.Validate(); err != nil {
		return nil, errors.Wrapf(err, "data: sample shape %v", sampleShape)
	}
	if want := len(targets) * sampleShape.NumElements(); len(inputs) != want {
		return nil, errors.Errorf("data: %d examples of shape %v need %d values, got %d",
			len(targets), sampleShape, want, len(inputs))
	}
	if cfg.Shuffle && cfg.RNG == nil {
		cfg.RNG = tensor.NewRNG(0)
	}
	if cfg.Name == "" {
		cfg.Name = "slice"
	}

	l := &SliceLoader{
		name:        cfg.Name,
		inputs:      inputs,
		targets:     targets,
		sampleShape: sampleShape.Clone(),
		batchSize:   cfg.BatchSize,
		shuffle:     cfg.Shuffle,
		rng:         cfg.RNG,
		order:       make([]int, len(targets)),
	}
	l.Reset()
	return l, nil
}

// Name returns the loader name.
func (l *SliceLoader) Name() string {
	return l.name
}

// Reset rewinds to the first batch, drawing a new order when shuffling.
func (l *SliceLoader) Reset() {
	for i := range l.order {
		l.order[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
	l.next = 0
}

// Yield returns the next batch. The final batch of an epoch may be smaller
// than the batch size.
func (l *SliceLoader) Yield() (Batch, error) {
	if l.next >= len(l.order) {
		return Batch{}, io.EOF
	}
	end := min(l.next+l.batchSize, len(l.order))
	n := end - l.next
	size := l.sampleShape.NumElements()

	inputs := tensor.MustRaw(append(tensor.Shape{n}, l.sampleShape...), tensor.Float32, tensor.CPU)
	targets := tensor.MustRaw(tensor.Shape{n}, tensor.Int32, tensor.CPU)
	in, tg := inputs.AsFloat32(), targets.AsInt32()
	for i, idx := range l.order[l.next:end] {
		copy(in[i*size:(i+1)*size], l.inputs[idx*size:(idx+1)*size])
		tg[i] = l.targets[idx]
	}
	l.next = end
	return Batch{Inputs: inputs, Targets: targets}, nil
}

// Len returns the number of batches per epoch.
func (l *SliceLoader) Len() int {
	return (len(l.targets) + l.batchSize - 1) / l.batchSize
}

// NumExamples returns the number of examples.
func (l *SliceLoader) NumExamples() int {
	return len(l.targets)
}

// SampleShape returns the shape of one example.
func (l *SliceLoader) SampleShape() tensor.Shape {
	return l.sampleShape.Clone()
}
