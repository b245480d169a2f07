package tensor

import "fmt"

// Device represents the compute device for tensor operations.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// RawTensor is the untyped, backend-facing tensor representation.
//
// Exactly one of the typed slices is populated, selected by dtype. Views
// created by Reshape share the slice with their source; kernels never write
// into their inputs, so sharing is safe.
type RawTensor struct {
	shape  Shape
	stride []int
	dtype  DataType
	device Device

	f32 []float32
	f64 []float64
	i32 []int32
	i64 []int64
}

// NewRaw allocates a zero-filled RawTensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	r := &RawTensor{
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}

	n := shape.NumElements()
	switch dtype {
	case Float32:
		r.f32 = make([]float32, n)
	case Float64:
		r.f64 = make([]float64, n)
	case Int32:
		r.i32 = make([]int32, n)
	case Int64:
		r.i64 = make([]int64, n)
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	return r, nil
}

// MustRaw is NewRaw for shapes already known to be valid.
func MustRaw(shape Shape, dtype DataType, device Device) *RawTensor {
	r, err := NewRaw(shape, dtype, device)
	if err != nil {
		panic(err)
	}
	return r
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's row-major strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// AsFloat32 returns the float32 storage. Panics on any other dtype.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	return r.f32
}

// AsFloat64 returns the float64 storage. Panics on any other dtype.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	return r.f64
}

// AsInt32 returns the int32 storage. Panics on any other dtype.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	return r.i32
}

// AsInt64 returns the int64 storage. Panics on any other dtype.
func (r *RawTensor) AsInt64() []int64 {
	if r.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", r.dtype))
	}
	return r.i64
}

// View returns a tensor header with a new shape over the same storage.
// The element count must not change.
func (r *RawTensor) View(shape Shape) *RawTensor {
	if shape.NumElements() != r.NumElements() {
		panic(fmt.Sprintf("view: cannot view %v (%d elements) as %v (%d elements)",
			r.shape, r.NumElements(), shape, shape.NumElements()))
	}
	return &RawTensor{
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  r.dtype,
		device: r.device,
		f32:    r.f32,
		f64:    r.f64,
		i32:    r.i32,
		i64:    r.i64,
	}
}

// Clone returns a deep copy with its own storage.
func (r *RawTensor) Clone() *RawTensor {
	c := &RawTensor{
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		dtype:  r.dtype,
		device: r.device,
	}
	switch r.dtype {
	case Float32:
		c.f32 = append([]float32(nil), r.f32...)
	case Float64:
		c.f64 = append([]float64(nil), r.f64...)
	case Int32:
		c.i32 = append([]int32(nil), r.i32...)
	case Int64:
		c.i64 = append([]int64(nil), r.i64...)
	}
	return c
}

// CopyFrom overwrites the storage with src's values. Shapes must hold the
// same number of elements and dtypes must match.
func (r *RawTensor) CopyFrom(src *RawTensor) {
	if src.dtype != r.dtype || src.NumElements() != r.NumElements() {
		panic(fmt.Sprintf("copy: incompatible tensors %s%v <- %s%v", r.dtype, r.shape, src.dtype, src.shape))
	}
	switch r.dtype {
	case Float32:
		copy(r.f32, src.f32)
	case Float64:
		copy(r.f64, src.f64)
	case Int32:
		copy(r.i32, src.i32)
	case Int64:
		copy(r.i64, src.i64)
	}
}
