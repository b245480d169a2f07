package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeBasics(t *testing.T) {
	s := Shape{2, 3, 4}
	assert.Equal(t, 24, s.NumElements())
	assert.Equal(t, []int{12, 4, 1}, s.ComputeStrides())
	assert.True(t, s.Equal(Shape{2, 3, 4}))
	assert.False(t, s.Equal(Shape{2, 3}))
	require.NoError(t, s.Validate())
	require.Error(t, Shape{2, 0}.Validate())

	c := s.Clone()
	c[0] = 9
	assert.Equal(t, 2, s[0])
}

func TestSplitAt(t *testing.T) {
	outer, n, inner := Shape{2, 3, 4, 5}.SplitAt(2)
	assert.Equal(t, 6, outer)
	assert.Equal(t, 4, n)
	assert.Equal(t, 5, inner)
}

func TestNormalizeDim(t *testing.T) {
	assert.Equal(t, 2, NormalizeDim(-1, 3))
	assert.Equal(t, 0, NormalizeDim(0, 3))
	assert.Panics(t, func() { NormalizeDim(3, 3) })
	assert.Panics(t, func() { NormalizeDim(-4, 3) })
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Shape
		want      Shape
		broadcast bool
		wantErr   bool
	}{
		{"same", Shape{3, 5}, Shape{3, 5}, Shape{3, 5}, false, false},
		{"column", Shape{3, 1}, Shape{3, 5}, Shape{3, 5}, true, false},
		{"rank", Shape{5}, Shape{2, 3, 5}, Shape{2, 3, 5}, true, false},
		{"bias", Shape{1, 4, 1, 1}, Shape{2, 4, 3, 3}, Shape{2, 4, 3, 3}, true, false},
		{"incompatible", Shape{3, 4}, Shape{3, 5}, nil, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, broadcast, err := BroadcastShapes(tt.a, tt.b)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.broadcast, broadcast)
		})
	}
}

func TestBroadcastStrides(t *testing.T) {
	assert.Equal(t, []int{0, 1, 0}, BroadcastStrides(Shape{3, 1}, Shape{2, 3, 4}))
	assert.Equal(t, []int{4, 1}, BroadcastStrides(Shape{3, 4}, Shape{3, 4}))
}

func TestResolveShape(t *testing.T) {
	assert.Equal(t, Shape{3, 4}, ResolveShape(12, []int{3, -1}))
	assert.Equal(t, Shape{2, 6}, ResolveShape(12, []int{2, 6}))
	assert.Panics(t, func() { ResolveShape(12, []int{-1, -1}) })
	assert.Panics(t, func() { ResolveShape(12, []int{5, -1}) })
}

func TestRawViewAndClone(t *testing.T) {
	r, err := NewRaw(Shape{2, 3}, Float32, CPU)
	require.NoError(t, err)
	data := r.AsFloat32()
	for i := range data {
		data[i] = float32(i)
	}

	v := r.View(Shape{3, 2})
	assert.Equal(t, Shape{3, 2}, v.Shape())
	v.AsFloat32()[0] = 42
	assert.Equal(t, float32(42), data[0], "views share storage")

	c := r.Clone()
	c.AsFloat32()[1] = -1
	assert.Equal(t, float32(1), data[1], "clones own storage")

	assert.Panics(t, func() { r.View(Shape{4}) })
	assert.Panics(t, func() { r.AsInt32() })
	assert.Equal(t, 24, r.ByteSize())
}

func TestNewRawRejectsBadShape(t *testing.T) {
	_, err := NewRaw(Shape{-1}, Float32, CPU)
	require.Error(t, err)
}
