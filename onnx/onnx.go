// Package onnx reads, writes and checks ONNX model files.
//
// The package works on the protobuf wire format directly and needs no cgo or
// runtime. It covers what the converter emits and what the checker verifies:
// models, graphs, nodes, tensors and value infos.
//
// # Example Usage
//
//	import "github.com/brainvision/onnxconv/onnx"
//
//	if err := onnx.CheckFile("model.onnx"); err != nil {
//	    var ce *onnx.CheckError
//	    if errors.As(err, &ce) {
//	        fmt.Println("invalid:", ce.Kind, ce.Details)
//	    }
//	    log.Fatal(err)
//	}
//
//	info, err := onnx.GetModelInfo("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("opset %d, inputs %v\n", info.OpsetVersion, info.InputNames)
//
// # Supported Operators
//
// The opset table covers the operators the converter emits:
//
//   - Convolution and pooling: Conv, MaxPool, AveragePool
//   - Activation: Relu, Sigmoid, Tanh, Softmax, Clip
//   - Normalization: BatchNormalization
//   - Matrix: MatMul, Gemm, Add, Mul
//   - Shape: Transpose, Reshape, ReduceMean, Identity
//
// Use [ListSupportedOps] to get the complete list.
package onnx

import (
	internalonnx "github.com/brainvision/onnxconv/internal/onnx"
)

// ModelProto is a parsed ONNX model.
type ModelProto = internalonnx.ModelProto

// CheckError describes the first structural violation found by [Check].
type CheckError = internalonnx.CheckError

// ErrCheckFailed is wrapped by every *CheckError.
var ErrCheckFailed = internalonnx.ErrCheckFailed

// ErrMalformed is returned for bytes that are not a valid ONNX protobuf.
var ErrMalformed = internalonnx.ErrMalformed

// Opset bounds accepted by the converter and checker.
const (
	MinSupportedOpset = internalonnx.MinSupportedOpset
	MaxSupportedOpset = internalonnx.MaxSupportedOpset
	DefaultOpset      = internalonnx.DefaultOpset
)

// ParseFile reads and decodes the model at path.
func ParseFile(path string) (*ModelProto, error) {
	return internalonnx.ParseFile(path)
}

// Parse decodes a model from protobuf bytes.
func Parse(data []byte) (*ModelProto, error) {
	return internalonnx.Parse(data)
}

// Marshal encodes m. Equal models give equal bytes.
func Marshal(m *ModelProto) []byte {
	return internalonnx.Marshal(m)
}

// Check validates the structure of m.
//
// It returns nil on success and a *CheckError describing the first violation
// otherwise: IR and opset versions, graph naming, initializer sizes, operator
// availability and arity at the model opset, topological order and SSA form.
func Check(m *ModelProto) error {
	return internalonnx.Check(m)
}

// CheckFile parses the model at path and checks it.
func CheckFile(path string) error {
	return internalonnx.CheckFile(path)
}

// ModelInfo contains summary information about an ONNX model.
//
// Use [GetModelInfo] to quickly inspect a model file.
type ModelInfo = internalonnx.ModelInfo

// GetModelInfo extracts summary information from an ONNX file.
//
// Example:
//
//	info, err := onnx.GetModelInfo("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Producer: %s\n", info.ProducerName)
//	fmt.Printf("Opset: %d\n", info.OpsetVersion)
//	fmt.Printf("Inputs: %v\n", info.InputNames)
//	fmt.Printf("Outputs: %v\n", info.OutputNames)
//	fmt.Printf("Operators: %v\n", info.OpTypes)
func GetModelInfo(path string) (*ModelInfo, error) {
	return internalonnx.GetModelInfo(path)
}

// ListSupportedOps returns the operators in the opset table, sorted.
func ListSupportedOps() []string {
	return internalonnx.KnownOps()
}
