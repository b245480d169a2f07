package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// safeTensorsDType maps checkpoint dtype names to SafeTensors dtype names.
var safeTensorsDType = map[string]string{
	"float32": "F32",
	"float64": "F64",
	"int32":   "I32",
	"int64":   "I64",
}

// SafeTensorHeader describes one tensor in a SafeTensors header.
type SafeTensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// WriteSafeTensors writes the model tensors of s to w in SafeTensors format:
//
//	[8 bytes: header size, uint64 LE]
//	[header: JSON, tensor name -> dtype, shape, data offsets]
//	[tensor data, little-endian, in name order]
//
// Tensor names are the checkpoint names, so posterior means and log
// standard deviations appear as "<path>.<param>_mu" and "<path>.<param>_psi".
// The header carries the run id and training metadata under __metadata__.
// Optimizer state is not exported.
func (s *State) WriteSafeTensors(w io.Writer) error {
	names := s.Names()

	header := make(map[string]any, len(names)+1)
	header["__metadata__"] = s.safeTensorsMetadata()
	var offset int64
	for _, name := range names {
		t := s.Tensors[name]
		dtype, ok := safeTensorsDType[t.DType]
		if !ok {
			return errors.Wrapf(ErrDType, "tensor %s: %s", name, t.DType)
		}
		shape := make([]int64, len(t.Shape))
		for i, d := range t.Shape {
			shape[i] = int64(d)
		}
		size := int64(t.byteSize())
		header[name] = SafeTensorHeader{DType: dtype, Shape: shape, DataOffsets: [2]int64{offset, offset + size}}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "safetensors: marshal header")
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return errors.Wrap(err, "safetensors: write header size")
	}
	if _, err := w.Write(headerJSON); err != nil {
		return errors.Wrap(err, "safetensors: write header")
	}
	for _, name := range names {
		if _, err := w.Write(s.Tensors[name].littleEndian()); err != nil {
			return errors.Wrapf(err, "safetensors: write tensor %s", name)
		}
	}
	return nil
}

// WriteSafeTensorsFile writes the SafeTensors export of s to path.
func (s *State) WriteSafeTensorsFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "safetensors: create")
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "safetensors: close")
		}
	}()
	return s.WriteSafeTensors(f)
}

func (s *State) safeTensorsMetadata() map[string]string {
	md := map[string]string{
		"format":         "bdl",
		"format_version": strconv.Itoa(s.Version),
		"run_id":         s.RunID,
		"epoch":          strconv.Itoa(s.Meta.Epoch),
		"step":           strconv.FormatInt(s.Meta.Step, 10),
	}
	for k, v := range s.Meta.Extra {
		if k != "config" {
			md[k] = v
		}
	}
	return md
}

// ReadSafeTensors parses a SafeTensors stream into checkpoint tensors and
// the header metadata.
func ReadSafeTensors(r io.Reader) (map[string]Tensor, map[string]string, error) {
	var size uint64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, nil, errors.Wrap(err, "safetensors: read header size")
	}
	headerJSON := make([]byte, size)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, nil, errors.Wrap(err, "safetensors: read header")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &raw); err != nil {
		return nil, nil, errors.Wrap(err, "safetensors: parse header")
	}
	var metadata map[string]string
	if md, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(md, &metadata); err != nil {
			return nil, nil, errors.Wrap(err, "safetensors: parse metadata")
		}
		delete(raw, "__metadata__")
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "safetensors: read data")
	}

	tensors := make(map[string]Tensor, len(raw))
	for name, msg := range raw {
		var h SafeTensorHeader
		if err := json.Unmarshal(msg, &h); err != nil {
			return nil, nil, errors.Wrapf(err, "safetensors: tensor %s", name)
		}
		start, end := h.DataOffsets[0], h.DataOffsets[1]
		if start < 0 || end < start || end > int64(len(body)) {
			return nil, nil, errors.Errorf("safetensors: tensor %s: offsets %v outside data of %d bytes", name, h.DataOffsets, len(body))
		}
		t, err := fromLittleEndian(h, body[start:end])
		if err != nil {
			return nil, nil, errors.Wrapf(err, "safetensors: tensor %s", name)
		}
		tensors[name] = t
	}
	return tensors, metadata, nil
}

func (t Tensor) byteSize() int {
	return 4*(len(t.F32)+len(t.I32)) + 8*(len(t.F64)+len(t.I64))
}

func (t Tensor) littleEndian() []byte {
	buf := make([]byte, 0, t.byteSize())
	for _, v := range t.F32 {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	for _, v := range t.F64 {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	for _, v := range t.I32 {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
	}
	for _, v := range t.I64 {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
	}
	return buf
}

func fromLittleEndian(h SafeTensorHeader, data []byte) (Tensor, error) {
	t := Tensor{Shape: make([]int, len(h.Shape))}
	n := 1
	for i, d := range h.Shape {
		t.Shape[i] = int(d)
		n *= int(d)
	}
	r := bytes.NewReader(data)
	var err error
	switch h.DType {
	case "F32":
		t.DType, t.F32 = "float32", make([]float32, n)
		err = binary.Read(r, binary.LittleEndian, t.F32)
	case "F64":
		t.DType, t.F64 = "float64", make([]float64, n)
		err = binary.Read(r, binary.LittleEndian, t.F64)
	case "I32":
		t.DType, t.I32 = "int32", make([]int32, n)
		err = binary.Read(r, binary.LittleEndian, t.I32)
	case "I64":
		t.DType, t.I64 = "int64", make([]int64, n)
		err = binary.Read(r, binary.LittleEndian, t.I64)
	default:
		return Tensor{}, errors.Wrap(ErrDType, h.DType)
	}
	if err != nil {
		return Tensor{}, errors.Wrap(err, "data size does not match shape")
	}
	return t, nil
}
