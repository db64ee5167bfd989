package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainvision/onnxconv/internal/modeltest"
	"github.com/brainvision/onnxconv/internal/onnx"
	"github.com/brainvision/onnxconv/internal/savedmodel"
)

func transpose(in, out string, perm []int64) onnx.NodeProto {
	return onnx.NodeProto{
		Name: out, OpType: "Transpose", Inputs: []string{in}, Outputs: []string{out},
		Attributes: []onnx.AttributeProto{onnx.AttrInts("perm", perm)},
	}
}

func node(op, in, out string) onnx.NodeProto {
	return onnx.NodeProto{Name: out, OpType: op, Inputs: []string{in}, Outputs: []string{out}}
}

func outputs(nodes []onnx.NodeProto) []string {
	var names []string
	for i := range nodes {
		names = append(names, nodes[i].Outputs...)
	}
	return names
}

func TestOptimizeTransposesBackToBack(t *testing.T) {
	nodes := []onnx.NodeProto{
		node("Conv", "x", "a"),
		transpose("a", "b", permToNHWC),
		transpose("b", "c", permToNCHW),
		node("MaxPool", "c", "d"),
	}
	got := optimizeTransposes(nodes, map[string]bool{"d": true})
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a"}, got[1].Inputs)
}

func TestOptimizeTransposesAcrossElementwise(t *testing.T) {
	for _, op := range []string{"Relu", "Sigmoid", "Tanh", "Clip", "Identity"} {
		t.Run(op, func(t *testing.T) {
			nodes := []onnx.NodeProto{
				node("Conv", "x", "a"),
				transpose("a", "b", permToNHWC),
				node(op, "b", "c"),
				transpose("c", "d", permToNCHW),
				node("MaxPool", "d", "e"),
			}
			got := optimizeTransposes(nodes, map[string]bool{"e": true})
			assert.Equal(t, []string{"a", "d", "e"}, outputs(got))
			assert.Equal(t, []string{"a"}, got[1].Inputs)
			assert.Equal(t, op, got[1].OpType)
		})
	}
}

func TestOptimizeTransposesKeeps(t *testing.T) {
	tests := []struct {
		name  string
		nodes []onnx.NodeProto
		keep  map[string]bool
	}{
		{
			name: "not inverse",
			nodes: []onnx.NodeProto{
				transpose("x", "a", permToNHWC),
				transpose("a", "b", permToNHWC),
			},
			keep: map[string]bool{"b": true},
		},
		{
			name: "graph output",
			nodes: []onnx.NodeProto{
				transpose("x", "a", permToNHWC),
				transpose("a", "b", permToNCHW),
			},
			keep: map[string]bool{"b": true},
		},
		{
			name: "shared intermediate",
			nodes: []onnx.NodeProto{
				transpose("x", "a", permToNHWC),
				transpose("a", "b", permToNCHW),
				node("Relu", "a", "c"),
				node("Add", "b", "d"),
			},
			keep: map[string]bool{"c": true, "d": true},
		},
		{
			name: "not elementwise",
			nodes: []onnx.NodeProto{
				transpose("x", "a", permToNHWC),
				node("Softmax", "a", "b"),
				transpose("b", "c", permToNCHW),
			},
			keep: map[string]bool{"c": true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := optimizeTransposes(tt.nodes, tt.keep)
			assert.Len(t, got, len(tt.nodes))
		})
	}
}

func TestInverse(t *testing.T) {
	assert.True(t, inverse(permToNHWC, permToNCHW))
	assert.True(t, inverse(permToNCHW, permToNHWC))
	assert.False(t, inverse(permToNCHW, permToNCHW))
	assert.False(t, inverse([]int64{1, 0}, permToNCHW))
	assert.False(t, inverse([]int64{0, 1}, []int64{0, 5}))
}

func TestLayoutPermutations(t *testing.T) {
	tests := []struct {
		rank  int
		first []int64
		last  []int64
	}{
		{3, []int64{0, 2, 1}, []int64{0, 2, 1}},
		{4, []int64{0, 3, 1, 2}, []int64{0, 2, 3, 1}},
		{5, []int64{0, 4, 1, 2, 3}, []int64{0, 2, 3, 4, 1}},
	}
	for _, tt := range tests {
		first, last := channelsFirst(tt.rank), channelsLast(tt.rank)
		assert.Equal(t, tt.first, first)
		assert.Equal(t, tt.last, last)
		assert.True(t, inverse(first, last))
	}
}

func TestFoldBiasAdd(t *testing.T) {
	sm, err := savedmodel.Trace(modeltest.CNN())
	require.NoError(t, err)

	nodes, bias := foldBiasAdd(sm)
	assert.Len(t, nodes, len(sm.Nodes)-3)
	assert.Equal(t, map[string]string{
		"conv1/BiasAdd":  "conv1.bias",
		"conv2/BiasAdd":  "conv2.bias",
		"logits/BiasAdd": "logits.bias",
	}, bias)
	for _, n := range nodes {
		assert.NotEqual(t, savedmodel.OpBiasAdd, n.Op)
	}
	// The export itself is untouched.
	assert.Equal(t, "conv1/Conv2D", sm.Nodes[1].Name)
}

func TestFoldBiasAddSkipsSharedProducer(t *testing.T) {
	sm, err := savedmodel.Trace(modeltest.MLP())
	require.NoError(t, err)

	// hidden/MatMul gets a second reader, so its bias cannot be folded.
	sm.Nodes = append(sm.Nodes, savedmodel.Node{
		Name: "probe", Op: savedmodel.OpIdentity, Inputs: []string{"hidden/MatMul"},
		OutputShapes: [][]int64{{-1, 16}},
	})
	_, bias := foldBiasAdd(sm)
	assert.NotContains(t, bias, "hidden/BiasAdd")

	m, err := Convert(sm, Options{Opset: 13})
	require.NoError(t, err)
	require.NoError(t, onnx.Check(m))
	var ops []string
	for i := range m.Graph.Nodes {
		ops = append(ops, m.Graph.Nodes[i].OpType)
	}
	assert.Contains(t, ops, "Add")
	assert.NotContains(t, ops, "Gemm")
}

func TestPadAttrs(t *testing.T) {
	same := savedmodel.Attrs{Padding: savedmodel.PaddingSame, Strides: []int{2, 2}}

	// 7x7 input, 3x3 kernel, stride 2: output 4, total padding 2.
	got := padAttrs([]int64{-1, 7, 7, 1}, []int64{3, 3}, same)
	require.Len(t, got, 1)
	assert.Equal(t, []int64{1, 1, 1, 1}, got[0].Ints)

	// 8x8 input, 3x3 kernel, stride 2: output 4, total padding 1, extra at the end.
	got = padAttrs([]int64{-1, 8, 8, 1}, []int64{3, 3}, same)
	assert.Equal(t, []int64{0, 0, 1, 1}, got[0].Ints)

	got = padAttrs([]int64{-1, -1, -1, 1}, []int64{3, 3}, same)
	assert.Equal(t, "auto_pad", got[0].Name)
	assert.Equal(t, []byte("SAME_UPPER"), got[0].S)

	assert.Nil(t, padAttrs([]int64{-1, 8, 8, 1}, []int64{3, 3}, savedmodel.Attrs{Padding: savedmodel.PaddingValid}))
}
