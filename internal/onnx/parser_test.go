package onnx

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// protoBuilder assembles wire bytes by hand so the decoder is tested
// against encodings the writer never produces (packed fields, unknown fields).
type protoBuilder struct {
	b []byte
}

func (p *protoBuilder) varint(num protowire.Number, v int64) *protoBuilder {
	p.b = protowire.AppendTag(p.b, num, protowire.VarintType)
	p.b = protowire.AppendVarint(p.b, uint64(v))
	return p
}

func (p *protoBuilder) str(num protowire.Number, s string) *protoBuilder {
	p.b = protowire.AppendTag(p.b, num, protowire.BytesType)
	p.b = protowire.AppendString(p.b, s)
	return p
}

func (p *protoBuilder) msg(num protowire.Number, sub *protoBuilder) *protoBuilder {
	p.b = protowire.AppendTag(p.b, num, protowire.BytesType)
	p.b = protowire.AppendBytes(p.b, sub.b)
	return p
}

func (p *protoBuilder) packedVarints(num protowire.Number, vs ...int64) *protoBuilder {
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	p.b = protowire.AppendTag(p.b, num, protowire.BytesType)
	p.b = protowire.AppendBytes(p.b, packed)
	return p
}

func (p *protoBuilder) packedFloats(num protowire.Number, vs ...float32) *protoBuilder {
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	p.b = protowire.AppendTag(p.b, num, protowire.BytesType)
	p.b = protowire.AppendBytes(p.b, packed)
	return p
}

func valueInfoBytes(name string, dims ...int64) *protoBuilder {
	shape := &protoBuilder{}
	for _, d := range dims {
		if d < 0 {
			shape.msg(1, (&protoBuilder{}).str(2, "batch"))
			continue
		}
		shape.msg(1, (&protoBuilder{}).varint(1, d))
	}
	tensorType := (&protoBuilder{}).varint(1, TensorProtoFloat).msg(2, shape)
	return (&protoBuilder{}).str(1, name).msg(2, (&protoBuilder{}).msg(1, tensorType))
}

// buildConvModel encodes Y = Conv(X, W) with packed ints and dims.
func buildConvModel() []byte {
	weights := (&protoBuilder{}).
		packedVarints(1, 2, 1, 3, 3).
		varint(2, TensorProtoFloat).
		str(8, "W").
		packedFloats(4, make([]float32, 18)...)

	attrs := []*protoBuilder{
		(&protoBuilder{}).str(1, "kernel_shape").packedVarints(8, 3, 3).varint(20, AttributeProtoInts),
		(&protoBuilder{}).str(1, "auto_pad").str(4, "SAME_UPPER").varint(20, AttributeProtoString),
		(&protoBuilder{}).str(1, "group").varint(3, 1).varint(20, AttributeProtoInt),
	}
	node := (&protoBuilder{}).str(1, "X").str(1, "W").str(2, "Y").str(3, "conv").str(4, "Conv")
	for _, a := range attrs {
		node.msg(5, a)
	}

	graph := (&protoBuilder{}).
		msg(1, node).
		str(2, "conv_graph").
		msg(5, weights).
		msg(11, valueInfoBytes("X", -1, 1, 5, 5)).
		msg(12, valueInfoBytes("Y", -1, 2, 5, 5)).
		varint(99, 1) // unknown field

	return (&protoBuilder{}).
		varint(1, 7).
		str(2, "handmade").
		msg(7, graph).
		msg(8, (&protoBuilder{}).str(1, "").varint(2, 13)).
		msg(14, (&protoBuilder{}).str(1, "author").str(2, "test")).
		b
}

func TestParseConvModel(t *testing.T) {
	m, err := Parse(buildConvModel())
	require.NoError(t, err)

	assert.Equal(t, int64(7), m.IRVersion)
	assert.Equal(t, "handmade", m.ProducerName)
	assert.Equal(t, int64(13), m.DefaultOpset())
	assert.Equal(t, []StringStringEntry{{Key: "author", Value: "test"}}, m.MetadataProps)

	require.NotNil(t, m.Graph)
	g := m.Graph
	assert.Equal(t, "conv_graph", g.Name)

	require.Len(t, g.Nodes, 1)
	node := g.Nodes[0]
	assert.Equal(t, "Conv", node.OpType)
	assert.Equal(t, []string{"X", "W"}, node.Inputs)
	assert.Equal(t, []string{"Y"}, node.Outputs)
	assert.Equal(t, []int64{3, 3}, node.Attr("kernel_shape").Ints)
	assert.Equal(t, "SAME_UPPER", string(node.Attr("auto_pad").S))
	assert.Equal(t, int64(1), node.Attr("group").I)
	assert.Nil(t, node.Attr("missing"))

	require.Len(t, g.Initializers, 1)
	w := g.Initializers[0]
	assert.Equal(t, []int64{2, 1, 3, 3}, w.Dims)
	assert.Len(t, w.FloatData, 18)

	in := g.Inputs[0].Type.TensorType
	assert.Equal(t, int32(TensorProtoFloat), in.ElemType)
	assert.Equal(t, "batch", in.Shape.Dims[0].DimParam)
	assert.Equal(t, int64(5), in.Shape.Dims[3].DimValue)
}

func TestParseUnpackedRepeated(t *testing.T) {
	attr := (&protoBuilder{}).str(1, "perm").varint(8, 0).varint(8, 3).varint(8, 1).varint(8, 2).varint(20, AttributeProtoInts)
	node := (&protoBuilder{}).str(1, "X").str(2, "Y").str(4, "Transpose").msg(5, attr)
	graph := (&protoBuilder{}).msg(1, node).str(2, "g")
	data := (&protoBuilder{}).varint(1, 7).msg(7, graph).b

	m, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 3, 1, 2}, m.Graph.Nodes[0].Attr("perm").Ints)
}

func TestParseNegativeInts(t *testing.T) {
	attr := (&protoBuilder{}).str(1, "axis").varint(3, -1).varint(20, AttributeProtoInt)
	node := (&protoBuilder{}).str(4, "Softmax").msg(5, attr)
	data := (&protoBuilder{}).msg(7, (&protoBuilder{}).msg(1, node)).b

	m, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), m.Graph.Nodes[0].Attr("axis").I)
}

func TestParseMalformed(t *testing.T) {
	tests := map[string][]byte{
		"truncated varint":  {0x08, 0xFF},
		"truncated message": {0x3A, 0x10, 0x01},
		"wrong wire type":   {0x0D, 0, 0, 0, 0}, // ir_version as fixed32
		"bad tag":           {0x00},
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(data)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestParseEmptyData(t *testing.T) {
	m, err := Parse(nil)
	require.NoError(t, err)
	assert.Nil(t, m.Graph)
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "missing.onnx"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func sampleModel() *ModelProto {
	return &ModelProto{
		IRVersion:       7,
		ProducerName:    "onnxconv",
		ProducerVersion: "0.1.0",
		OpsetImport:     []OperatorSetID{{Domain: "", Version: 13}},
		MetadataProps:   []StringStringEntry{{Key: "source", Value: "cnn"}},
		Graph: &GraphProto{
			Name: "cnn",
			Nodes: []NodeProto{
				{
					Name: "t0", OpType: "Transpose", Inputs: []string{"input"}, Outputs: []string{"t0:0"},
					Attributes: []AttributeProto{AttrInts("perm", []int64{0, 3, 1, 2})},
				},
				{
					Name: "clip", OpType: "Clip", Inputs: []string{"t0:0", "", "max"}, Outputs: []string{"out"},
				},
				{
					Name: "alpha", OpType: "Mul", Inputs: []string{"out", "scale"}, Outputs: []string{"scaled"},
					Attributes: []AttributeProto{
						AttrFloat("alpha", -0.5),
						AttrString("mode", "fast"),
						AttrInt("axis", -1),
					},
				},
			},
			Initializers: []TensorProto{
				{Name: "max", DataType: TensorProtoFloat, RawData: []byte{0, 0, 0xC0, 0x40}},
				{Name: "scale", DataType: TensorProtoFloat, Dims: []int64{1}, FloatData: []float32{2}},
				{Name: "shape", DataType: TensorProtoInt64, Dims: []int64{2}, Int64Data: []int64{-1, 8}},
			},
			Inputs: []ValueInfoProto{TensorValueInfo("input", TensorProtoFloat, []DimensionProto{
				{DimParam: "unk__0"}, {DimValue: 4}, {DimValue: 4}, {DimValue: 3},
			})},
			Outputs: []ValueInfoProto{TensorValueInfo("scaled", TensorProtoFloat, []DimensionProto{
				{DimParam: "unk__0"}, {DimValue: 3}, {DimValue: 4}, {DimValue: 4},
			})},
		},
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	want := sampleModel()

	got, err := Parse(Marshal(want))
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	assert.Equal(t, Marshal(sampleModel()), Marshal(sampleModel()))
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, []byte("stale content that is longer than nothing"), 0o600))

	require.NoError(t, WriteFile(path, sampleModel()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Marshal(sampleModel()), data)

	m, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cnn", m.Graph.Name)
}

func TestMarshalTensorDataUnpacked(t *testing.T) {
	b := appendTensor(nil, &TensorProto{
		Name:      "w",
		DataType:  TensorProtoFloat,
		Dims:      []int64{3},
		FloatData: []float32{1, 2, 3},
	})

	floats := 0
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		require.GreaterOrEqual(t, n, 0)
		b = b[n:]
		if num == 4 {
			assert.Equal(t, protowire.Fixed32Type, typ)
			floats++
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		require.GreaterOrEqual(t, n, 0)
		b = b[n:]
	}
	assert.Equal(t, 3, floats)
}
