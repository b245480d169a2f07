package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"io"
	"maps"
	"math"
	"os"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Errors returned by Load.
var (
	ErrChecksumMismatch   = errors.New("checkpoint: checksum mismatch, file may be corrupted")
	ErrUnsupportedVersion = errors.New("checkpoint: unsupported format version")
	ErrDType              = errors.New("checkpoint: unsupported dtype")
)

var encMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Save writes s to w, filling in its checksum.
func Save(w io.Writer, s *State) error {
	s.Checksum = s.checksum()
	if err := encMode.NewEncoder(w).Encode(s); err != nil {
		return errors.Wrap(err, "checkpoint: encode")
	}
	return nil
}

// Load reads a checkpoint from r and verifies its version and checksum.
func Load(r io.Reader) (*State, error) {
	var s State
	if err := cbor.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "checkpoint: decode")
	}
	if s.Version != FormatVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "got %d, want %d", s.Version, FormatVersion)
	}
	if sum := s.checksum(); string(sum) != string(s.Checksum) {
		return nil, ErrChecksumMismatch
	}
	return &s, nil
}

// SaveFile writes s to path, replacing any existing file.
func SaveFile(path string, s *State) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "checkpoint: create")
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "checkpoint: close")
		}
	}()
	return Save(f, s)
}

// LoadFile reads the checkpoint at path.
func LoadFile(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: open")
	}
	defer f.Close()
	s, err := Load(f)
	return s, errors.Wrapf(err, "%s", path)
}

// checksum hashes every model and optimizer tensor in name order.
func (s *State) checksum() []byte {
	h := sha256.New()
	hashTensors(h, "t", s.Tensors)
	hashTensors(h, "o", s.Optimizer)
	return h.Sum(nil)
}

func hashTensors(h hash.Hash, section string, ts map[string]Tensor) {
	var buf [8]byte
	writeString := func(s string) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
		h.Write(buf[:])
		io.WriteString(h, s)
	}
	for _, name := range slices.Sorted(maps.Keys(ts)) {
		t := ts[name]
		writeString(section)
		writeString(name)
		writeString(t.DType)
		for _, d := range t.Shape {
			binary.LittleEndian.PutUint64(buf[:], uint64(d))
			h.Write(buf[:])
		}
		for _, v := range t.F32 {
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v))
			h.Write(buf[:4])
		}
		for _, v := range t.F64 {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
		for _, v := range t.I32 {
			binary.LittleEndian.PutUint32(buf[:4], uint32(v))
			h.Write(buf[:4])
		}
		for _, v := range t.I64 {
			binary.LittleEndian.PutUint64(buf[:], uint64(v))
			h.Write(buf[:])
		}
	}
}
