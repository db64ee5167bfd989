package onnx

import (
	"fmt"

	"github.com/brainvision/onnxconv/internal/tensor"
)

// TopologicalSort orders nodes so that every node follows the producers of its inputs.
// Nodes with no dependency between them keep their relative order.
func TopologicalSort(nodes []NodeProto) ([]NodeProto, error) {
	outputToNode := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			outputToNode[output] = i
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(nodes))
	result := make([]NodeProto, 0, len(nodes))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("graph has a cycle through node %q", nodes[i].Name)
		}
		state[i] = visiting

		for _, input := range nodes[i].Inputs {
			if depIdx, ok := outputToNode[input]; ok {
				if err := visit(depIdx); err != nil {
					return err
				}
			}
		}

		state[i] = done
		result = append(result, nodes[i])
		return nil
	}

	for i := range nodes {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// DataTypeFromTensor converts a tensor.DataType to an ONNX element type.
func DataTypeFromTensor(dt tensor.DataType) (int32, error) {
	switch dt {
	case tensor.Float32:
		return TensorProtoFloat, nil
	case tensor.Float64:
		return TensorProtoDouble, nil
	case tensor.Float16:
		return TensorProtoFloat16, nil
	case tensor.Int32:
		return TensorProtoInt32, nil
	case tensor.Int64:
		return TensorProtoInt64, nil
	case tensor.Uint8:
		return TensorProtoUint8, nil
	case tensor.Bool:
		return TensorProtoBool, nil
	default:
		return 0, fmt.Errorf("no onnx type for %s", dt)
	}
}

// protoTypeToTensorType converts an ONNX data type to tensor.DataType.
func protoTypeToTensorType(onnxType int32) (tensor.DataType, error) {
	switch onnxType {
	case TensorProtoFloat:
		return tensor.Float32, nil
	case TensorProtoDouble:
		return tensor.Float64, nil
	case TensorProtoFloat16:
		return tensor.Float16, nil
	case TensorProtoInt32:
		return tensor.Int32, nil
	case TensorProtoInt64:
		return tensor.Int64, nil
	case TensorProtoUint8:
		return tensor.Uint8, nil
	case TensorProtoBool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unsupported onnx data type %d", onnxType)
	}
}

// TensorFromRaw builds an initializer that stores t as raw_data.
func TensorFromRaw(name string, t *tensor.RawTensor) (TensorProto, error) {
	dt, err := DataTypeFromTensor(t.DType())
	if err != nil {
		return TensorProto{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	raw := make([]byte, len(t.Data()))
	copy(raw, t.Data())
	return TensorProto{
		Name:     name,
		DataType: dt,
		Dims:     t.Shape().Int64s(),
		RawData:  raw,
	}, nil
}

// TensorToRaw converts an initializer back to a RawTensor.
func TensorToRaw(proto *TensorProto) (*tensor.RawTensor, error) {
	shape := make(tensor.Shape, len(proto.Dims))
	for i, dim := range proto.Dims {
		shape[i] = int(dim)
	}

	dtype, err := protoTypeToTensorType(proto.DataType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", proto.Name, err)
	}

	t, err := tensor.NewRaw(shape, dtype)
	if err != nil {
		return nil, err
	}

	// Check which data field is populated (mutually exclusive).
	switch {
	case len(proto.RawData) > 0:
		if len(proto.RawData) != len(t.Data()) {
			return nil, fmt.Errorf("tensor %s: raw_data has %d bytes, want %d", proto.Name, len(proto.RawData), len(t.Data()))
		}
		copy(t.Data(), proto.RawData)
	case dtype == tensor.Float32 && len(proto.FloatData) == t.NumElements():
		copy(t.AsFloat32(), proto.FloatData)
	case dtype == tensor.Int64 && len(proto.Int64Data) == t.NumElements():
		copy(t.AsInt64(), proto.Int64Data)
	default:
		return nil, fmt.Errorf("tensor %s: unsupported or missing data", proto.Name)
	}
	return t, nil
}
