// Package convert translates a SavedModel export into an ONNX model.
//
// Conversion runs in three passes:
//
//  1. BiasAdd ops are folded into the Conv2D or MatMul that feeds them.
//  2. Every op is lowered by its registered OpHandler. NHWC ops are wrapped in
//     Transpose nodes around their NCHW ONNX form.
//  3. Inverse Transpose pairs are removed, also across one elementwise op.
//
// The ONNX form of an op can depend on the opset: Clip, ReduceMean and
// Softmax change their inputs or attributes between versions.
//
// Example:
//
//	m, err := convert.FromSavedModel("saved_model", convert.Options{
//	    Signature:  convert.InputSignature{Name: "input", DType: "float32", Shape: []int64{-1, 28, 28, 1}},
//	    Opset:      13,
//	    OutputPath: "model.onnx",
//	})
package convert
