// Package onnx reads, writes and checks ONNX models.
//
// ONNX (Open Neural Network Exchange) is an open format for representing deep learning models.
// The protobuf messages are hand-written Go structs; the wire format is handled with
// google.golang.org/protobuf/encoding/protowire, so no generated code is needed.
//
// Key components:
//   - ModelProto, GraphProto, NodeProto, TensorProto, ValueInfoProto: the message types
//   - Parse / Marshal: wire decoding and encoding
//   - Check: structural validation against the opset table
//   - Info: a short summary for logging
//
// Example usage:
//
//	if err := onnx.CheckFile("model.onnx"); err != nil {
//	    var checkErr *onnx.CheckError
//	    if errors.As(err, &checkErr) {
//	        fmt.Println(checkErr.Kind, checkErr.Node)
//	    }
//	    return err
//	}
package onnx
