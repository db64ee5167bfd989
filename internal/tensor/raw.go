package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/x448/float16"
)

// RawTensor is a dense, row-major tensor stored as little-endian bytes.
type RawTensor struct {
	data  []byte
	shape Shape
	dtype DataType
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is allocated and zeroed.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		data:  make([]byte, shape.NumElements()*dtype.Size()),
		shape: shape.Clone(),
		dtype: dtype,
	}, nil
}

// FromBytes wraps data as a tensor. The length must match shape and dtype.
func FromBytes(shape Shape, dtype DataType, data []byte) (*RawTensor, error) {
	t, err := NewRaw(shape, dtype)
	if err != nil {
		return nil, err
	}
	if len(data) != len(t.data) {
		return nil, fmt.Errorf("data size %d does not match shape %v of %s (%d bytes)", len(data), shape, dtype, len(t.data))
	}
	copy(t.data, data)
	return t, nil
}

// FromFloat32 creates a Float32 tensor holding a copy of values.
func FromFloat32(shape Shape, values []float32) (*RawTensor, error) {
	t, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	if len(values) != t.NumElements() {
		return nil, fmt.Errorf("got %d values for shape %v", len(values), shape)
	}
	for i, v := range values {
		binary.LittleEndian.PutUint32(t.data[i*4:], math.Float32bits(v))
	}
	return t, nil
}

// FromInt64 creates an Int64 tensor holding a copy of values.
func FromInt64(shape Shape, values []int64) (*RawTensor, error) {
	t, err := NewRaw(shape, Int64)
	if err != nil {
		return nil, err
	}
	if len(values) != t.NumElements() {
		return nil, fmt.Errorf("got %d values for shape %v", len(values), shape)
	}
	for i, v := range values {
		binary.LittleEndian.PutUint64(t.data[i*8:], uint64(v)) //nolint:gosec // G115: bit pattern copy.
	}
	return t, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt64 interprets the data as []int64.
// Panics if the tensor's dtype is not Int64.
func (r *RawTensor) AsInt64() []int64 {
	if r.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*int64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// ToFloat32 returns a Float32 copy of a floating point tensor.
// Float16 and Float64 values are converted; Float32 tensors are cloned.
func (r *RawTensor) ToFloat32() (*RawTensor, error) {
	out, err := NewRaw(r.shape, Float32)
	if err != nil {
		return nil, err
	}
	dst := out.data
	switch r.dtype {
	case Float32:
		copy(dst, r.data)
	case Float16:
		for i := 0; i < r.NumElements(); i++ {
			h := float16.Frombits(binary.LittleEndian.Uint16(r.data[i*2:]))
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(h.Float32()))
		}
	case Float64:
		for i := 0; i < r.NumElements(); i++ {
			v := math.Float64frombits(binary.LittleEndian.Uint64(r.data[i*8:]))
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(float32(v)))
		}
	default:
		return nil, fmt.Errorf("cannot convert %s tensor to float32", r.dtype)
	}
	return out, nil
}

// Clone returns a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return &RawTensor{
		data:  data,
		shape: r.shape.Clone(),
		dtype: r.dtype,
	}
}

// Transpose returns a copy of the tensor with its axes permuted by perm.
func (r *RawTensor) Transpose(perm []int) (*RawTensor, error) {
	rank := len(r.shape)
	if len(perm) != rank {
		return nil, fmt.Errorf("permutation %v does not match rank %d", perm, rank)
	}
	seen := make([]bool, rank)
	outShape := make(Shape, rank)
	for i, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			return nil, fmt.Errorf("invalid permutation %v", perm)
		}
		seen[p] = true
		outShape[i] = r.shape[p]
	}

	out, err := NewRaw(outShape, r.dtype)
	if err != nil {
		return nil, err
	}

	elem := r.dtype.Size()
	inStrides := r.shape.ComputeStrides()
	outStrides := outShape.ComputeStrides()
	idx := make([]int, rank)
	for o := 0; o < out.NumElements(); o++ {
		rem := o
		for i := 0; i < rank; i++ {
			idx[i] = rem / outStrides[i]
			rem %= outStrides[i]
		}
		src := 0
		for i, p := range perm {
			src += idx[i] * inStrides[p]
		}
		copy(out.data[o*elem:(o+1)*elem], r.data[src*elem:(src+1)*elem])
	}
	return out, nil
}
