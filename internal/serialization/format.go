package serialization

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brainvision/onnxconv/internal/tensor"
)

// Format constants.
const (
	MagicBytes        = "BORN"
	FormatVersion     = 1    // v1: Basic format without checksum
	FormatVersionV2   = 2    // v2: With SHA-256 checksum
	HeaderAlignment   = 64   // Align tensor data to 64 bytes
	FixedHeaderSizeV1 = 20   // magic + version + flags + header size
	FixedHeaderSizeV2 = 64   // v2 fixed header size (0x40 bytes)
	ChecksumSize      = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffsetV2  = 0x20 // Checksum offset in v2 fixed header
)

// Data type string constants for serialization.
const (
	DTypeFloat32 = "float32"
	DTypeFloat64 = "float64"
	DTypeFloat16 = "float16"
	DTypeInt32   = "int32"
	DTypeInt64   = "int64"
	DTypeUint8   = "uint8"
	DTypeBool    = "bool"
)

// Flags for the .born format.
const (
	FlagCompressed      uint32 = 1 << 0 // bit 0: gzip compression (reserved)
	FlagHasOptimizer    uint32 = 1 << 1 // bit 1: optimizer state included (reserved)
	FlagHasMetadata     uint32 = 1 << 2 // bit 2: custom metadata included
	FlagHasArchitecture uint32 = 1 << 3 // bit 3: layer architecture included
)

// Header represents the JSON header in a .born file.
type Header struct {
	FormatVersion int               `json:"format_version"`         // Version of the .born format
	Producer      string            `json:"producer"`               // Tool that created this file
	ModelType     string            `json:"model_type"`             // Type of model (e.g., "Sequential")
	CreatedAt     time.Time         `json:"created_at"`             // When the file was created
	Tensors       []TensorMeta      `json:"tensors"`                // Tensor metadata
	Metadata      map[string]string `json:"metadata"`               // Custom metadata
	Architecture  json.RawMessage   `json:"architecture,omitempty"` // Layer graph, interpreted by the model package
}

// TensorMeta describes a tensor in the .born file.
type TensorMeta struct {
	Name   string `json:"name"`   // Tensor name (e.g., "dense.kernel")
	DType  string `json:"dtype"`  // Data type (e.g., "float32", "float64")
	Shape  []int  `json:"shape"`  // Tensor shape
	Offset int64  `json:"offset"` // Offset in the data section (bytes from start of tensor data)
	Size   int64  `json:"size"`   // Size in bytes
}

// flagsFor derives the flag word stored in the fixed header.
func flagsFor(h *Header) uint32 {
	flags := uint32(0)
	if len(h.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if len(h.Architecture) > 0 {
		flags |= FlagHasArchitecture
	}
	return flags
}

// alignedDataOffset returns where tensor data starts after a header of the given size.
func alignedDataOffset(fixedSize, headerSize int64) int64 {
	pos := fixedSize + headerSize
	padding := (HeaderAlignment - (pos % HeaderAlignment)) % HeaderAlignment
	return pos + padding
}

// dtypeToString converts tensor.DataType to string representation.
func dtypeToString(dt tensor.DataType) string {
	switch dt {
	case tensor.Float32:
		return DTypeFloat32
	case tensor.Float64:
		return DTypeFloat64
	case tensor.Float16:
		return DTypeFloat16
	case tensor.Int32:
		return DTypeInt32
	case tensor.Int64:
		return DTypeInt64
	case tensor.Uint8:
		return DTypeUint8
	case tensor.Bool:
		return DTypeBool
	default:
		return "unknown"
	}
}

// stringToDtype converts string representation to tensor.DataType.
func stringToDtype(s string) (tensor.DataType, bool) {
	switch s {
	case DTypeFloat32:
		return tensor.Float32, true
	case DTypeFloat64:
		return tensor.Float64, true
	case DTypeFloat16:
		return tensor.Float16, true
	case DTypeInt32:
		return tensor.Int32, true
	case DTypeInt64:
		return tensor.Int64, true
	case DTypeUint8:
		return tensor.Uint8, true
	case DTypeBool:
		return tensor.Bool, true
	default:
		return 0, false
	}
}

// tensorFromMeta builds a tensor for meta from its raw bytes.
func tensorFromMeta(meta *TensorMeta, data []byte) (*tensor.RawTensor, error) {
	dtype, ok := stringToDtype(meta.DType)
	if !ok {
		return nil, fmt.Errorf("unsupported dtype: %s", meta.DType)
	}

	shape := tensor.Shape(meta.Shape)
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape for tensor %s: %w", meta.Name, err)
	}

	if err := ValidateTensorSize(meta.Name, shape, dtype, int64(len(data))); err != nil {
		return nil, err
	}

	return tensor.FromBytes(shape, dtype, data)
}
