// Package checkpoint persists module and optimizer state as a CBOR document.
//
// A checkpoint holds a run id, a creation time, optional training metadata
// and named tensors. Tensor names are the module tree paths produced by
// nn.StateDict (for example "0.weight_mu" or "3.1.running_var"). A SHA-256
// checksum over the tensors is verified on Load.
package checkpoint

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/born-ml/bdl/internal/nn"
	"github.com/born-ml/bdl/internal/optim"
	"github.com/born-ml/bdl/internal/tensor"
)

// FormatVersion is written to every checkpoint.
const FormatVersion = 1

// Tensor is the serialized form of a RawTensor. Exactly one data slice is
// set, selected by DType.
type Tensor struct {
	DType string    `cbor:"dtype"`
	Shape []int     `cbor:"shape"`
	F32   []float32 `cbor:"f32,omitempty"`
	F64   []float64 `cbor:"f64,omitempty"`
	I32   []int32   `cbor:"i32,omitempty"`
	I64   []int64   `cbor:"i64,omitempty"`
}

// Meta records where training stood when the checkpoint was taken.
type Meta struct {
	Epoch    int               `cbor:"epoch"` // completed epochs
	Step     int64             `cbor:"step"`
	Loss     float64           `cbor:"loss"`
	EvalLoss float64           `cbor:"eval_loss"`
	EvalAcc  float64           `cbor:"eval_acc"`
	Extra    map[string]string `cbor:"extra,omitempty"`
}

// State is one checkpoint.
type State struct {
	Version   int               `cbor:"version"`
	RunID     string            `cbor:"run_id"`
	Created   time.Time         `cbor:"created"`
	Meta      Meta              `cbor:"meta"`
	Tensors   map[string]Tensor `cbor:"tensors"`
	Optimizer map[string]Tensor `cbor:"optimizer,omitempty"`
	Checksum  []byte            `cbor:"checksum"`
}

// New returns an empty state for runID. An empty runID gets a fresh one.
func New(runID string) *State {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &State{
		Version: FormatVersion,
		RunID:   runID,
		Created: time.Now().UTC(),
		Tensors: make(map[string]Tensor),
	}
}

// FromModule captures the state dict of root.
func FromModule[B tensor.Backend](root nn.Module[B], runID string) *State {
	s := New(runID)
	for name, raw := range nn.StateDict(root) {
		s.Tensors[name] = encodeTensor(raw)
	}
	return s
}

// Apply restores the captured tensors into root, which must have the same
// topology as the module the state was taken from.
func Apply[B tensor.Backend](s *State, root nn.Module[B]) error {
	raws, err := decodeAll(s.Tensors)
	if err != nil {
		return err
	}
	return errors.Wrap(nn.LoadStateDict(root, raws), "checkpoint: apply")
}

// SetOptimizer captures the buffers of opt.
func (s *State) SetOptimizer(opt optim.Optimizer) {
	s.Optimizer = make(map[string]Tensor)
	for name, raw := range opt.StateDict() {
		s.Optimizer[name] = encodeTensor(raw)
	}
}

// RestoreOptimizer loads captured buffers into opt. It is a no-op when the
// checkpoint holds no optimizer state.
func (s *State) RestoreOptimizer(opt optim.Optimizer) error {
	if len(s.Optimizer) == 0 {
		return nil
	}
	raws, err := decodeAll(s.Optimizer)
	if err != nil {
		return err
	}
	return errors.Wrap(opt.LoadStateDict(raws), "checkpoint: optimizer")
}

// Names returns the tensor names in sorted order.
func (s *State) Names() []string {
	return slices.Sorted(maps.Keys(s.Tensors))
}

// NumParams returns the total number of elements across all tensors.
func (s *State) NumParams() int {
	n := 0
	for _, t := range s.Tensors {
		n += tensor.Shape(t.Shape).NumElements()
	}
	return n
}

func encodeTensor(raw *tensor.RawTensor) Tensor {
	t := Tensor{DType: raw.DType().String(), Shape: slices.Clone(raw.Shape())}
	switch raw.DType() {
	case tensor.Float32:
		t.F32 = slices.Clone(raw.AsFloat32())
	case tensor.Float64:
		t.F64 = slices.Clone(raw.AsFloat64())
	case tensor.Int32:
		t.I32 = slices.Clone(raw.AsInt32())
	case tensor.Int64:
		t.I64 = slices.Clone(raw.AsInt64())
	}
	return t
}

func decodeTensor(name string, t Tensor) (*tensor.RawTensor, error) {
	dtype, ok := parseDType(t.DType)
	if !ok {
		return nil, errors.Wrapf(ErrDType, "tensor %q: %q", name, t.DType)
	}
	raw, err := tensor.NewRaw(tensor.Shape(t.Shape), dtype, tensor.CPU)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %q", name)
	}
	var n int
	switch dtype {
	case tensor.Float32:
		n = copy(raw.AsFloat32(), t.F32)
		ok = len(t.F32) == raw.NumElements()
	case tensor.Float64:
		n = copy(raw.AsFloat64(), t.F64)
		ok = len(t.F64) == raw.NumElements()
	case tensor.Int32:
		n = copy(raw.AsInt32(), t.I32)
		ok = len(t.I32) == raw.NumElements()
	case tensor.Int64:
		n = copy(raw.AsInt64(), t.I64)
		ok = len(t.I64) == raw.NumElements()
	}
	if !ok {
		return nil, errors.Errorf("checkpoint: tensor %q: shape %v holds %d values, data has %d",
			name, t.Shape, raw.NumElements(), n)
	}
	return raw, nil
}

func decodeAll(ts map[string]Tensor) (map[string]*tensor.RawTensor, error) {
	out := make(map[string]*tensor.RawTensor, len(ts))
	for name, t := range ts {
		raw, err := decodeTensor(name, t)
		if err != nil {
			return nil, err
		}
		out[name] = raw
	}
	return out, nil
}

func parseDType(s string) (tensor.DataType, bool) {
	for _, dt := range []tensor.DataType{tensor.Float32, tensor.Float64, tensor.Int32, tensor.Int64} {
		if dt.String() == s {
			return dt, true
		}
	}
	return 0, false
}
