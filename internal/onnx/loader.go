package onnx

import "sort"

// ModelInfo contains basic information about an ONNX model.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	GraphName       string
	InputNames      []string
	OutputNames     []string
	NodeCount       int
	WeightCount     int
	ParamCount      int64
	OpTypes         []string // Distinct operator types, sorted
}

// GetModelInfo extracts basic info from an ONNX file.
func GetModelInfo(path string) (*ModelInfo, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Info(proto), nil
}

// Info summarizes a parsed model.
func Info(proto *ModelProto) *ModelInfo {
	info := &ModelInfo{
		IRVersion:       proto.IRVersion,
		OpsetVersion:    proto.DefaultOpset(),
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
	}

	graph := proto.Graph
	if graph == nil {
		return info
	}
	info.GraphName = graph.Name

	// Inputs exclude initializers, which older IR versions also list as inputs.
	initNames := make(map[string]bool, len(graph.Initializers))
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		initNames[init.Name] = true
		n := int64(1)
		for _, d := range init.Dims {
			n *= d
		}
		info.ParamCount += n
	}
	for i := range graph.Inputs {
		if !initNames[graph.Inputs[i].Name] {
			info.InputNames = append(info.InputNames, graph.Inputs[i].Name)
		}
	}

	for i := range graph.Outputs {
		info.OutputNames = append(info.OutputNames, graph.Outputs[i].Name)
	}

	ops := make(map[string]bool)
	for i := range graph.Nodes {
		ops[graph.Nodes[i].OpType] = true
	}
	for op := range ops {
		info.OpTypes = append(info.OpTypes, op)
	}
	sort.Strings(info.OpTypes)

	info.NodeCount = len(graph.Nodes)
	info.WeightCount = len(graph.Initializers)
	return info
}
