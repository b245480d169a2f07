// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/bdl/backend/cpu"
	"github.com/born-ml/bdl/tensor"
)

func TestBackendInterface(_ *testing.T) {
	var _ tensor.Backend = cpu.New()
}

func TestRawTensorAPI(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)

	assert.True(t, raw.Shape().Equal(tensor.Shape{2, 3}))
	assert.Equal(t, tensor.Float32, raw.DType())
	assert.Equal(t, tensor.CPU, raw.Device())
	assert.Equal(t, 6, raw.NumElements())
	assert.Equal(t, 24, raw.ByteSize())

	clone := raw.Clone()
	clone.AsFloat32()[0] = 1
	assert.Zero(t, raw.AsFloat32()[0], "clone owns its storage")

	_, err = tensor.NewRaw(tensor.Shape{2, -1}, tensor.Float32, tensor.CPU)
	assert.Error(t, err)
}

func TestCreation(t *testing.T) {
	b := cpu.New()

	assert.Equal(t, []float32{0, 0}, tensor.Zeros[float32](tensor.Shape{2}, b).Data())
	assert.Equal(t, []float32{1, 1}, tensor.Ones[float32](tensor.Shape{2}, b).Data())
	assert.Equal(t, []int32{7, 7}, tensor.Full[int32](tensor.Shape{2}, 7, b).Data())

	x := tensor.MustFromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, b)
	assert.Equal(t, float32(6), x.At(1, 2))

	_, err := tensor.FromSlice([]float32{1, 2}, tensor.Shape{3}, b)
	assert.Error(t, err)
}

func TestSeededSampling(t *testing.T) {
	b := cpu.New()
	a := tensor.Randn[float32](tensor.Shape{4, 4}, tensor.NewRNG(1), b)
	c := tensor.Randn[float32](tensor.Shape{4, 4}, tensor.NewRNG(1), b)
	assert.Equal(t, a.Data(), c.Data())

	for _, v := range tensor.RandSign[float32](tensor.Shape{16}, tensor.NewRNG(2), b).Data() {
		assert.Contains(t, []float32{-1, 1}, v)
	}
	for _, v := range tensor.Uniform[float32](tensor.Shape{16}, -1, 2, tensor.NewRNG(3), b).Data() {
		assert.GreaterOrEqual(t, v, float32(-1))
		assert.Less(t, v, float32(2))
	}
}

func TestOps(t *testing.T) {
	b := cpu.New()
	x := tensor.MustFromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, b)

	assert.Equal(t, []float32{2, 4, 6, 8}, x.MulScalar(2).Data())
	assert.Equal(t, []float32{1, 3, 2, 4}, x.Transpose().Data())
	assert.Equal(t, []float32{4, 6}, x.SumDim(0, false).Data())
	assert.Equal(t, []int32{1, 1}, x.Argmax(1).Data())
	assert.Equal(t, tensor.Shape{4, 1}, x.Reshape(-1, 1).Shape())

	s, needs, err := tensor.BroadcastShapes(tensor.Shape{3, 1}, tensor.Shape{3, 4})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 4}, s)
	assert.True(t, needs)

	p := tensor.DefaultConv2DParams()
	assert.Equal(t, 1, p.Groups)
}
