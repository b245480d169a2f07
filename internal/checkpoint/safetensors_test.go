package checkpoint

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeTensorsRoundTrip(t *testing.T) {
	s := FromModule(newModel(t, 1), "run-1")
	s.Meta = Meta{Epoch: 3, Step: 12, Extra: map[string]string{"config": "seed: 1\n", "version": "v1"}}

	var buf bytes.Buffer
	require.NoError(t, s.WriteSafeTensors(&buf))

	size := binary.LittleEndian.Uint64(buf.Bytes()[:8])
	assert.Equal(t, byte('{'), buf.Bytes()[8])
	assert.Equal(t, byte('}'), buf.Bytes()[8+size-1])

	tensors, md, err := ReadSafeTensors(&buf)
	require.NoError(t, err)
	assert.Equal(t, s.Tensors, tensors)
	assert.Equal(t, "run-1", md["run_id"])
	assert.Equal(t, "3", md["epoch"])
	assert.Equal(t, "v1", md["version"])
	assert.NotContains(t, md, "config")
}

func TestSafeTensorsLayout(t *testing.T) {
	s := New("run-2")
	s.Tensors["b.weight_mu"] = Tensor{DType: "float32", Shape: []int{2}, F32: []float32{1, -2}}
	s.Tensors["a.steps"] = Tensor{DType: "int64", Shape: []int{1}, I64: []int64{7}}

	var buf bytes.Buffer
	require.NoError(t, s.WriteSafeTensors(&buf))
	raw := buf.Bytes()
	size := binary.LittleEndian.Uint64(raw[:8])
	data := raw[8+size:]

	// Name order: a.steps (8 bytes) then b.weight_mu (8 bytes).
	require.Len(t, data, 16)
	assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(data[:8]))
	assert.Equal(t, math.Float32bits(1), binary.LittleEndian.Uint32(data[8:12]))
	assert.Equal(t, math.Float32bits(-2), binary.LittleEndian.Uint32(data[12:16]))

	s.Tensors["c"] = Tensor{DType: "uint8", Shape: []int{1}}
	assert.ErrorIs(t, s.WriteSafeTensors(&bytes.Buffer{}), ErrDType)
}

func TestReadSafeTensorsErrors(t *testing.T) {
	_, _, err := ReadSafeTensors(bytes.NewReader([]byte{1, 2}))
	assert.Error(t, err)

	header := []byte(`{"w":{"dtype":"F32","shape":[2],"data_offsets":[0,8]}}`)
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(header))))
	buf.Write(header)
	buf.Write([]byte{0, 0, 0, 0})
	_, _, err = ReadSafeTensors(&buf)
	assert.ErrorContains(t, err, "offsets")

	header = []byte(`{"w":{"dtype":"BF16","shape":[1],"data_offsets":[0,2]}}`)
	buf.Reset()
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(header))))
	buf.Write(header)
	buf.Write([]byte{0, 0})
	_, _, err = ReadSafeTensors(&buf)
	assert.ErrorIs(t, err, ErrDType)
}
