package data

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/bdl/internal/backend/cpu"
	"github.com/born-ml/bdl/internal/tensor"
)

func drain(t *testing.T, l Loader) []Batch {
	t.Helper()
	var out []Batch
	for {
		b, err := l.Yield()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, b)
	}
}

func TestSliceLoaderBatches(t *testing.T) {
	inputs := []float32{0, 0, 1, 1, 2, 2, 3, 3, 4, 4}
	targets := []int32{0, 1, 2, 3, 4}
	l, err := NewSliceLoader(inputs, tensor.Shape{2}, targets, LoaderConfig{BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, "slice", l.Name())
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 5, l.NumExamples())

	batches := drain(t, l)
	require.Len(t, batches, 3)
	assert.Equal(t, tensor.Shape{2, 2}, batches[0].Inputs.Shape())
	assert.Equal(t, []float32{0, 0, 1, 1}, batches[0].Inputs.AsFloat32())
	assert.Equal(t, []int32{0, 1}, batches[0].Targets.AsInt32())
	assert.Equal(t, 1, batches[2].Size())
	assert.Equal(t, []float32{4, 4}, batches[2].Inputs.AsFloat32())

	_, err = l.Yield()
	assert.ErrorIs(t, err, io.EOF)

	l.Reset()
	assert.Len(t, drain(t, l), 3)
}

func TestSliceLoaderShuffle(t *testing.T) {
	n := 32
	inputs := make([]float32, n)
	targets := make([]int32, n)
	for i := range n {
		inputs[i] = float32(i)
		targets[i] = int32(i)
	}
	l, err := NewSliceLoader(inputs, tensor.Shape{1}, targets, LoaderConfig{BatchSize: 8, Shuffle: true, RNG: tensor.NewRNG(3)})
	require.NoError(t, err)

	epoch := func() []int32 {
		var seen []int32
		for _, b := range drain(t, l) {
			// Inputs and targets stay paired.
			for i, v := range b.Targets.AsInt32() {
				assert.Equal(t, float32(v), b.Inputs.AsFloat32()[i])
			}
			seen = append(seen, b.Targets.AsInt32()...)
		}
		l.Reset()
		return seen
	}

	first, second := epoch(), epoch()
	assert.ElementsMatch(t, targets, first)
	assert.ElementsMatch(t, targets, second)
	assert.NotEqual(t, targets, first)
	assert.NotEqual(t, first, second)
}

func TestSliceLoaderErrors(t *testing.T) {
	_, err := NewSliceLoader([]float32{1}, tensor.Shape{1}, []int32{0}, LoaderConfig{})
	assert.ErrorContains(t, err, "batch size")

	_, err = NewSliceLoader(nil, tensor.Shape{1}, nil, LoaderConfig{BatchSize: 1})
	assert.ErrorContains(t, err, "empty")

	_, err = NewSliceLoader([]float32{1, 2, 3}, tensor.Shape{2}, []int32{0, 1}, LoaderConfig{BatchSize: 1})
	assert.ErrorContains(t, err, "need 4 values, got 3")
}

func TestBlobs(t *testing.T) {
	cfg := DefaultBlobsConfig()
	d, err := Blobs(cfg)
	require.NoError(t, err)

	assert.Equal(t, cfg.Classes*cfg.Examples, d.Len())
	assert.Equal(t, tensor.Shape{1, 8, 8}, d.SampleShape)
	assert.Len(t, d.Inputs, d.Len()*64)

	counts := make([]int, cfg.Classes)
	for _, y := range d.Targets {
		counts[y]++
	}
	for _, c := range counts {
		assert.Equal(t, cfg.Examples, c)
	}

	again, err := Blobs(cfg)
	require.NoError(t, err)
	assert.Equal(t, d.Inputs, again.Inputs, "same seed, same data")

	train, test, err := d.Split(150)
	require.NoError(t, err)
	assert.Equal(t, 150, train.Len())
	assert.Equal(t, d.Len()-150, test.Len())
	assert.Equal(t, d.Inputs[150*64], test.Inputs[0])

	_, _, err = d.Split(0)
	assert.Error(t, err)

	_, err = Blobs(BlobsConfig{Classes: 1})
	assert.Error(t, err)
}

func TestTensors(t *testing.T) {
	d, err := Blobs(BlobsConfig{Classes: 2, Examples: 2, Channels: 1, Height: 2, Width: 2, Seed: 1})
	require.NoError(t, err)
	l, err := d.Loader(LoaderConfig{BatchSize: 4})
	require.NoError(t, err)

	b, err := l.Yield()
	require.NoError(t, err)
	x, y := Tensors(b, cpu.New())
	assert.Equal(t, tensor.Shape{4, 1, 2, 2}, x.Shape())
	assert.Equal(t, tensor.Shape{4}, y.Shape())
	assert.Equal(t, d.Targets, y.Data())
}
