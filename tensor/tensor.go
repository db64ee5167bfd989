// Package tensor exposes the byte-backed tensors read from model files.
//
// Tensors returned by loader.WeightsReader.LoadTensor are *RawTensor values.
// They carry a shape, a data type and little-endian bytes, and can be
// viewed as typed slices:
//
//	raw, _ := w.LoadTensor("conv1.kernel")
//	if raw.DType() == tensor.Float16 {
//	    raw, _ = raw.ToFloat32()
//	}
//	values := raw.AsFloat32()
package tensor

import (
	"github.com/brainvision/onnxconv/internal/tensor"
)

// RawTensor is a shaped, typed byte buffer.
type RawTensor = tensor.RawTensor

// Shape is the list of dimensions of a tensor.
type Shape = tensor.Shape

// DataType is the element type of a tensor.
type DataType = tensor.DataType

// Supported data types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
	Int32   = tensor.Int32
	Int64   = tensor.Int64
	Uint8   = tensor.Uint8
	Bool    = tensor.Bool
	Float16 = tensor.Float16
)

// ParseDataType parses a dtype name such as "float32" or "half".
func ParseDataType(s string) (DataType, error) {
	return tensor.ParseDataType(s)
}

// FromFloat32 creates a float32 tensor holding a copy of values.
func FromFloat32(shape Shape, values []float32) (*RawTensor, error) {
	return tensor.FromFloat32(shape, values)
}

// FromInt64 creates an int64 tensor holding a copy of values.
func FromInt64(shape Shape, values []int64) (*RawTensor, error) {
	return tensor.FromInt64(shape, values)
}

// FromBytes wraps little-endian data; its length must match shape and dtype.
func FromBytes(shape Shape, dtype DataType, data []byte) (*RawTensor, error) {
	return tensor.FromBytes(shape, dtype, data)
}
