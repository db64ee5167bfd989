package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes m in protobuf wire format.
//
// Fields are written in field-number order and repeated scalars unpacked,
// including the TensorProto data fields onnx.proto marks packed; decoders
// accept both forms. Equal models produce equal bytes.
func Marshal(m *ModelProto) []byte {
	return appendModel(nil, m)
}

// WriteFile encodes m and writes it to path, replacing any existing file.
func WriteFile(path string, m *ModelProto) error {
	//nolint:gosec // G306: model files are meant to be shared.
	if err := os.WriteFile(path, Marshal(m), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v)) //nolint:gosec // G115: two's complement.
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func appendModel(b []byte, m *ModelProto) []byte {
	b = appendInt(b, 1, m.IRVersion)
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	b = appendInt(b, 5, m.ModelVersion)
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, appendGraph(nil, m.Graph))
	}
	for i := range m.OpsetImport {
		op := &m.OpsetImport[i]
		var body []byte
		// An empty domain is meaningful here, so it is always written.
		body = protowire.AppendTag(body, 1, protowire.BytesType)
		body = protowire.AppendString(body, op.Domain)
		body = appendInt(body, 2, op.Version)
		b = appendMessage(b, 8, body)
	}
	for i := range m.MetadataProps {
		b = appendMessage(b, 14, appendEntry(nil, &m.MetadataProps[i]))
	}
	return b
}

func appendEntry(b []byte, e *StringStringEntry) []byte {
	b = appendString(b, 1, e.Key)
	return appendString(b, 2, e.Value)
}

func appendGraph(b []byte, g *GraphProto) []byte {
	for i := range g.Nodes {
		b = appendMessage(b, 1, appendNode(nil, &g.Nodes[i]))
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, appendTensor(nil, &g.Initializers[i]))
	}
	b = appendString(b, 10, g.DocString)
	for i := range g.Inputs {
		b = appendMessage(b, 11, appendValueInfo(nil, &g.Inputs[i]))
	}
	for i := range g.Outputs {
		b = appendMessage(b, 12, appendValueInfo(nil, &g.Outputs[i]))
	}
	for i := range g.ValueInfo {
		b = appendMessage(b, 13, appendValueInfo(nil, &g.ValueInfo[i]))
	}
	return b
}

func appendNode(b []byte, n *NodeProto) []byte {
	// Empty input names mark omitted optional inputs and keep their position.
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, appendAttribute(nil, &n.Attributes[i]))
	}
	b = appendString(b, 6, n.DocString)
	return appendString(b, 7, n.Domain)
}

//nolint:gocyclo // one branch per attribute kind
func appendAttribute(b []byte, a *AttributeProto) []byte {
	b = appendString(b, 1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeProtoInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I)) //nolint:gosec // G115: two's complement.
	case AttributeProtoString:
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	case AttributeProtoTensor:
		if a.T != nil {
			b = appendMessage(b, 5, appendTensor(nil, a.T))
		}
	case AttributeProtoGraph:
		if a.G != nil {
			b = appendMessage(b, 6, appendGraph(nil, a.G))
		}
	}
	for _, f := range a.Floats {
		b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	}
	for _, v := range a.Ints {
		b = protowire.AppendTag(b, 8, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v)) //nolint:gosec // G115: two's complement.
	}
	for _, s := range a.Strings {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	for i := range a.Tensors {
		b = appendMessage(b, 10, appendTensor(nil, &a.Tensors[i]))
	}
	for i := range a.Graphs {
		b = appendMessage(b, 11, appendGraph(nil, &a.Graphs[i]))
	}
	b = appendString(b, 13, a.DocString)
	return appendInt(b, 20, int64(a.Type))
}

func appendTensor(b []byte, t *TensorProto) []byte {
	for _, d := range t.Dims {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d)) //nolint:gosec // G115: two's complement.
	}
	b = appendInt(b, 2, int64(t.DataType))
	for _, f := range t.FloatData {
		b = protowire.AppendTag(b, 4, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	}
	for _, v := range t.Int32Data {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(v))) //nolint:gosec // G115: sign extension.
	}
	for _, s := range t.StringData {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	for _, v := range t.Int64Data {
		b = protowire.AppendTag(b, 7, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v)) //nolint:gosec // G115: two's complement.
	}
	b = appendString(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, t.RawData)
	}
	for _, f := range t.DoubleData {
		b = protowire.AppendTag(b, 10, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(f))
	}
	b = appendString(b, 12, t.DocString)
	for i := range t.ExternalData {
		b = appendMessage(b, 13, appendEntry(nil, &t.ExternalData[i]))
	}
	return appendInt(b, 14, int64(t.DataLocation))
}

func appendValueInfo(b []byte, v *ValueInfoProto) []byte {
	b = appendString(b, 1, v.Name)
	if v.Type != nil {
		b = appendMessage(b, 2, appendType(nil, v.Type))
	}
	return appendString(b, 3, v.DocString)
}

func appendType(b []byte, tp *TypeProto) []byte {
	if tp.TensorType == nil {
		return b
	}
	var tt []byte
	tt = appendInt(tt, 1, int64(tp.TensorType.ElemType))
	if s := tp.TensorType.Shape; s != nil {
		var shape []byte
		for _, d := range s.Dims {
			var dim []byte
			if d.DimParam != "" {
				dim = appendString(dim, 2, d.DimParam)
			} else {
				dim = protowire.AppendTag(dim, 1, protowire.VarintType)
				dim = protowire.AppendVarint(dim, uint64(d.DimValue)) //nolint:gosec // G115: checked non-negative.
			}
			shape = appendMessage(shape, 1, dim)
		}
		tt = appendMessage(tt, 2, shape)
	}
	return appendMessage(b, 1, tt)
}
