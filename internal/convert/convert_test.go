package convert_test

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/brainvision/onnxconv/internal/convert"
	"github.com/brainvision/onnxconv/internal/model"
	"github.com/brainvision/onnxconv/internal/modeltest"
	"github.com/brainvision/onnxconv/internal/onnx"
	"github.com/brainvision/onnxconv/internal/savedmodel"
	"github.com/brainvision/onnxconv/internal/tensor"
)

func trace(t *testing.T, m *model.Model) *savedmodel.SavedModel {
	t.Helper()
	sm, err := savedmodel.Trace(m)
	require.NoError(t, err)
	return sm
}

func opTypes(m *onnx.ModelProto) []string {
	ops := make([]string, len(m.Graph.Nodes))
	for i := range m.Graph.Nodes {
		ops[i] = m.Graph.Nodes[i].OpType
	}
	return ops
}

func nodeByOutput(t *testing.T, m *onnx.ModelProto, out string) *onnx.NodeProto {
	t.Helper()
	for i := range m.Graph.Nodes {
		for _, o := range m.Graph.Nodes[i].Outputs {
			if o == out {
				return &m.Graph.Nodes[i]
			}
		}
	}
	t.Fatalf("no node produces %q", out)
	return nil
}

func nodeOfType(t *testing.T, m *onnx.ModelProto, opType string) *onnx.NodeProto {
	t.Helper()
	for i := range m.Graph.Nodes {
		if m.Graph.Nodes[i].OpType == opType {
			return &m.Graph.Nodes[i]
		}
	}
	t.Fatalf("no %s node", opType)
	return nil
}

func initializer(m *onnx.ModelProto, name string) *onnx.TensorProto {
	for i := range m.Graph.Initializers {
		if m.Graph.Initializers[i].Name == name {
			return &m.Graph.Initializers[i]
		}
	}
	return nil
}

func TestConvertCNN(t *testing.T) {
	m, err := convert.Convert(trace(t, modeltest.CNN()), convert.Options{
		Signature: convert.InputSignature{Name: "input", DType: "float32", Shape: []int64{-1, 28, 28, 1}},
		Opset:     13,
	})
	require.NoError(t, err)
	require.NoError(t, onnx.Check(m))

	assert.Equal(t, int64(7), m.IRVersion)
	assert.Equal(t, int64(13), m.DefaultOpset())
	assert.Equal(t, "onnxconv", m.ProducerName)
	assert.Equal(t, "cnn", m.Graph.Name)

	want := []string{
		"Mul", "Transpose", "Conv", "Relu", "BatchNormalization", "MaxPool", "Conv",
		"Transpose", "Clip", "ReduceMean", "Identity", "Gemm", "Softmax",
	}
	if diff := cmp.Diff(want, opTypes(m)); diff != "" {
		t.Errorf("ops mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, m.Graph.Inputs, 1)
	in := m.Graph.Inputs[0]
	assert.Equal(t, "input", in.Name)
	assert.Equal(t, []onnx.DimensionProto{{DimParam: "unk__0"}, {DimValue: 28}, {DimValue: 28}, {DimValue: 1}}, in.Type.TensorType.Shape.Dims)

	require.Len(t, m.Graph.Outputs, 1)
	out := m.Graph.Outputs[0]
	assert.Equal(t, "logits", out.Name)
	assert.Equal(t, []onnx.DimensionProto{{DimParam: "unk__1"}, {DimValue: 10}}, out.Type.TensorType.Shape.Dims)

	mul := nodeByOutput(t, m, "rescale")
	assert.Equal(t, []string{"input", "rescale.scale"}, mul.Inputs)
}

func TestConvertConvolution(t *testing.T) {
	m, err := convert.Convert(trace(t, modeltest.CNN()), convert.Options{Opset: 13})
	require.NoError(t, err)

	conv1 := nodeByOutput(t, m, "conv1/BiasAdd/nchw")
	assert.Equal(t, []string{"conv1/BiasAdd/to_nchw", "conv1.kernel", "conv1.bias"}, conv1.Inputs)
	assert.Equal(t, []int64{3, 3}, conv1.Attr("kernel_shape").Ints)
	assert.Equal(t, []int64{1, 1, 1, 1}, conv1.Attr("pads").Ints)
	assert.Equal(t, []int64{1, 1}, conv1.Attr("strides").Ints)

	conv2 := nodeByOutput(t, m, "conv2/BiasAdd/nchw")
	assert.Nil(t, conv2.Attr("pads"))
	assert.Equal(t, []int64{2, 2}, conv2.Attr("strides").Ints)

	// HWIO [3, 3, 1, 4] becomes OIHW [4, 1, 3, 3].
	kernel := initializer(m, "conv1.kernel")
	require.NotNil(t, kernel)
	assert.Equal(t, []int64{4, 1, 3, 3}, kernel.Dims)

	pool := nodeOfType(t, m, "MaxPool")
	assert.Equal(t, []string{"bn1/nchw"}, pool.Inputs)
	assert.Equal(t, []int64{2, 2}, pool.Attr("kernel_shape").Ints)
}

func TestConvertKernelLayout(t *testing.T) {
	sm := trace(t, modeltest.FlattenCNN())
	hwio := sm.Variables["conv.kernel"]
	require.NotNil(t, hwio)

	m, err := convert.Convert(sm, convert.Options{Opset: 13})
	require.NoError(t, err)
	kernel := initializer(m, "conv.kernel")
	require.NotNil(t, kernel)

	got, err := onnx.TensorToRaw(kernel)
	require.NoError(t, err)
	src := hwio.AsFloat32()
	dst := got.AsFloat32()
	// HWIO [3, 3, 3, 2] -> OIHW [2, 3, 3, 3]
	for h := 0; h < 3; h++ {
		for w := 0; w < 3; w++ {
			for i := 0; i < 3; i++ {
				for o := 0; o < 2; o++ {
					assert.Equal(t, src[((h*3+w)*3+i)*2+o], dst[((o*3+i)*3+h)*3+w])
				}
			}
		}
	}
}

func TestConvertMLP(t *testing.T) {
	m, err := convert.Convert(trace(t, modeltest.MLP()), convert.Options{
		Signature: convert.InputSignature{Name: "input", DType: "float32"},
		Opset:     13,
	})
	require.NoError(t, err)
	require.NoError(t, onnx.Check(m))

	assert.Equal(t, []string{"Reshape", "Reshape", "Gemm", "Tanh", "MatMul", "Softmax"}, opTypes(m))

	shape := initializer(m, "grid/shape")
	require.NotNil(t, shape)
	raw, err := onnx.TensorToRaw(shape)
	require.NoError(t, err)
	assert.Equal(t, tensor.Int64, raw.DType())
	assert.Equal(t, []int64{-1, 3, 4}, raw.AsInt64())

	assert.Equal(t, []string{"input", "grid/shape"}, nodeByOutput(t, m, "grid").Inputs)
}

func TestOpsetDependentForms(t *testing.T) {
	tests := []struct {
		opset         int64
		ir            int64
		clipInputs    int
		clipAttrs     bool
		meanInputs    int
		softmaxAxis   int64
		initsAsInputs bool
	}{
		{opset: 7, ir: 3, clipInputs: 1, clipAttrs: true, meanInputs: 1, softmaxAxis: 1, initsAsInputs: true},
		{opset: 10, ir: 5, clipInputs: 1, clipAttrs: true, meanInputs: 1, softmaxAxis: 1},
		{opset: 13, ir: 7, clipInputs: 3, meanInputs: 1, softmaxAxis: -1},
		{opset: 18, ir: 8, clipInputs: 3, meanInputs: 2, softmaxAxis: -1},
		{opset: 21, ir: 10, clipInputs: 3, meanInputs: 2, softmaxAxis: -1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("opset %d", tt.opset), func(t *testing.T) {
			m, err := convert.Convert(trace(t, modeltest.CNN()), convert.Options{Opset: tt.opset})
			require.NoError(t, err)
			require.NoError(t, onnx.Check(m))
			assert.Equal(t, tt.ir, m.IRVersion)

			clip := nodeByOutput(t, m, "conv2")
			assert.Len(t, clip.Inputs, tt.clipInputs)
			if tt.clipAttrs {
				require.NotNil(t, clip.Attr("min"))
				assert.InDelta(t, 6, clip.Attr("max").F, 0)
			} else {
				assert.Nil(t, clip.Attr("max"))
				assert.NotNil(t, initializer(m, "conv2/max"))
			}

			mean := nodeByOutput(t, m, "gap")
			assert.Len(t, mean.Inputs, tt.meanInputs)
			assert.Equal(t, int64(0), mean.Attr("keepdims").I)
			if tt.meanInputs == 1 {
				assert.Equal(t, []int64{1, 2}, mean.Attr("axes").Ints)
			} else {
				assert.Nil(t, mean.Attr("axes"))
				assert.NotNil(t, initializer(m, "gap/axes"))
			}

			softmax := nodeByOutput(t, m, "logits")
			assert.Equal(t, tt.softmaxAxis, softmax.Attr("axis").I)

			if tt.initsAsInputs {
				assert.Len(t, m.Graph.Inputs, 1+len(m.Graph.Initializers))
			} else {
				assert.Len(t, m.Graph.Inputs, 1)
			}
		})
	}
}

func TestAllOpsetsPassCheck(t *testing.T) {
	for _, fixture := range []*model.Model{modeltest.CNN(), modeltest.FlattenCNN(), modeltest.MLP()} {
		sm := trace(t, fixture)
		for opset := int64(onnx.MinSupportedOpset); opset <= onnx.MaxSupportedOpset; opset++ {
			m, err := convert.Convert(sm, convert.Options{Opset: opset})
			require.NoError(t, err, "%s at opset %d", fixture.Name, opset)
			require.NoError(t, onnx.Check(m), "%s at opset %d", fixture.Name, opset)
			require.NoError(t, onnx.Check(roundTrip(t, m)), "%s at opset %d", fixture.Name, opset)
		}
	}
}

func roundTrip(t *testing.T, m *onnx.ModelProto) *onnx.ModelProto {
	t.Helper()
	got, err := onnx.Parse(onnx.Marshal(m))
	require.NoError(t, err)
	return got
}

func TestFlattenCNNActivations(t *testing.T) {
	m, err := convert.Convert(trace(t, modeltest.FlattenCNN()), convert.Options{Opset: 13})
	require.NoError(t, err)

	want := []string{
		"Transpose", "Conv", "AveragePool", "Transpose", "Reshape", "Gemm", "Clip", "Sigmoid",
	}
	if diff := cmp.Diff(want, opTypes(m)); diff != "" {
		t.Errorf("ops mismatch (-want +got):\n%s", diff)
	}
	// conv has no bias, so Conv keeps two inputs.
	assert.Len(t, nodeOfType(t, m, "Conv").Inputs, 2)
}

func TestSignatureMismatch(t *testing.T) {
	tests := []struct {
		name string
		sig  convert.InputSignature
	}{
		{"rank", convert.InputSignature{DType: "float32", Shape: []int64{-1, 28, 28}}},
		{"static dimension", convert.InputSignature{DType: "float32", Shape: []int64{-1, 32, 32, 1}}},
		{"dtype", convert.InputSignature{DType: "int64", Shape: []int64{-1, 28, 28, 1}}},
		{"name taken", convert.InputSignature{Name: "conv1", DType: "float32"}},
	}
	sm := trace(t, modeltest.CNN())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := convert.Convert(sm, convert.Options{Signature: tt.sig, Opset: 13})
			require.ErrorIs(t, err, convert.ErrSignatureMismatch)
		})
	}
}

func TestBatchNormChannelsLastRank3(t *testing.T) {
	m, err := convert.Convert(trace(t, modeltest.Sequence()), convert.Options{Opset: 13})
	require.NoError(t, err)
	require.NoError(t, onnx.Check(m))

	if diff := cmp.Diff([]string{"Transpose", "BatchNormalization", "Transpose"}, opTypes(m)); diff != "" {
		t.Errorf("ops mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int64{0, 2, 1}, m.Graph.Nodes[0].Attr("perm").Ints)
	assert.Equal(t, []int64{0, 2, 1}, m.Graph.Nodes[2].Attr("perm").Ints)
	assert.Equal(t, "bn", m.Graph.Nodes[2].Outputs[0])

	bn := nodeOfType(t, m, "BatchNormalization")
	assert.Equal(t, m.Graph.Nodes[0].Outputs[0], bn.Inputs[0])
	gamma := initializer(m, "bn.gamma")
	require.NotNil(t, gamma)
	assert.Equal(t, []int64{3}, gamma.Dims)
}

func TestSignatureDTypeMustBeFloat32(t *testing.T) {
	sm := trace(t, modeltest.MLP())
	sig := sm.Signatures[savedmodel.ServingSignature]
	sig.Inputs[0].DType = "float64"

	_, err := convert.Convert(sm, convert.Options{
		Signature: convert.InputSignature{DType: "float64"},
		Opset:     13,
	})
	require.ErrorIs(t, err, convert.ErrSignatureMismatch)
	assert.Contains(t, err.Error(), "float32")
}

func TestStaticBatchFromSignature(t *testing.T) {
	m, err := convert.Convert(trace(t, modeltest.MLP()), convert.Options{
		Signature: convert.InputSignature{Name: "x", DType: "float32", Shape: []int64{4, 12}},
		Opset:     13,
	})
	require.NoError(t, err)
	assert.Equal(t, []onnx.DimensionProto{{DimValue: 4}, {DimValue: 12}}, m.Graph.Inputs[0].Type.TensorType.Shape.Dims)
	// Outputs keep the export's dynamic batch.
	assert.Equal(t, "unk__0", m.Graph.Outputs[0].Type.TensorType.Shape.Dims[0].DimParam)
}

func TestInvalidOpset(t *testing.T) {
	sm := trace(t, modeltest.MLP())
	for _, opset := range []int64{6, 22} {
		_, err := convert.Convert(sm, convert.Options{Opset: opset})
		require.ErrorIs(t, err, convert.ErrInvalidOpset)
	}
}

func TestUnsupportedOp(t *testing.T) {
	sm := trace(t, modeltest.MLP())
	sm.Nodes[len(sm.Nodes)-1].Op = "Erf"

	_, err := convert.Convert(sm, convert.Options{Opset: 13})
	require.ErrorIs(t, err, convert.ErrUnsupportedOp)
	assert.Contains(t, err.Error(), "Erf")
	assert.Contains(t, err.Error(), "opset 13")
}

func TestCustomHandlerNeedsOpsetSupport(t *testing.T) {
	sm := trace(t, modeltest.MLP())
	sm.Nodes[len(sm.Nodes)-1].Op = "Gelu"

	r := convert.NewRegistry()
	r.Register("Gelu", func(ctx *convert.Context, node *savedmodel.Node) error {
		x, err := ctx.Value(node.Inputs[0])
		if err != nil {
			return err
		}
		ctx.AddNode("Gelu", []string{x}, node.Name)
		return nil
	})

	_, err := convert.Convert(sm, convert.Options{Opset: 13, Registry: r})
	require.ErrorIs(t, err, convert.ErrUnsupportedOp)
}

func TestFloat16Weights(t *testing.T) {
	sm := trace(t, modeltest.MLP())
	w := sm.Variables["out.kernel"]
	half := make([]byte, w.NumElements()*2)
	for i, v := range w.AsFloat32() {
		// Values are multiples of 1/16 in [-0.5, 0.5], exact in float16.
		bits := float16.Fromfloat32(v).Bits()
		half[2*i] = byte(bits)
		half[2*i+1] = byte(bits >> 8)
	}
	h, err := tensor.FromBytes(w.Shape(), tensor.Float16, half)
	require.NoError(t, err)
	sm.Variables["out.kernel"] = h

	m, err := convert.Convert(sm, convert.Options{Opset: 13})
	require.NoError(t, err)
	require.NoError(t, onnx.Check(m))

	kernel := initializer(m, "out.kernel")
	require.NotNil(t, kernel)
	assert.Equal(t, int32(onnx.TensorProtoFloat), kernel.DataType)
	got, err := onnx.TensorToRaw(kernel)
	require.NoError(t, err)
	assert.Equal(t, w.AsFloat32(), got.AsFloat32())
}

func TestFromSavedModelWritesOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "saved_model")
	_, err := savedmodel.Export(modeltest.CNN(), dir)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "model.onnx")
	m, err := convert.FromSavedModel(dir, convert.Options{
		Signature:  convert.InputSignature{Name: "input", DType: "float32", Shape: []int64{-1, 28, 28, 1}},
		Opset:      13,
		OutputPath: out,
	})
	require.NoError(t, err)
	require.NoError(t, onnx.CheckFile(out))

	parsed, err := onnx.ParseFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(onnx.Marshal(m), onnx.Marshal(parsed)))
}

func TestFromSavedModelMissingDir(t *testing.T) {
	_, err := convert.FromSavedModel(filepath.Join(t.TempDir(), "missing"), convert.Options{})
	require.Error(t, err)
}

func TestConvertDeterministic(t *testing.T) {
	a, err := convert.Convert(trace(t, modeltest.CNN()), convert.Options{Opset: 13})
	require.NoError(t, err)
	b, err := convert.Convert(trace(t, modeltest.CNN()), convert.Options{Opset: 13})
	require.NoError(t, err)
	assert.Equal(t, onnx.Marshal(a), onnx.Marshal(b))
}

func TestRegistry(t *testing.T) {
	r := convert.NewRegistry()
	for _, op := range []string{
		savedmodel.OpMatMul, savedmodel.OpBiasAdd, savedmodel.OpConv2D, savedmodel.OpMaxPool,
		savedmodel.OpAvgPool, savedmodel.OpMean, savedmodel.OpReshape, savedmodel.OpRelu,
		savedmodel.OpRelu6, savedmodel.OpSigmoid, savedmodel.OpTanh, savedmodel.OpSoftmax,
		savedmodel.OpFusedBatchNorm, savedmodel.OpMul, savedmodel.OpAdd, savedmodel.OpIdentity,
	} {
		_, ok := r.Get(op)
		assert.True(t, ok, op)
	}
	_, ok := r.Get("Erf")
	assert.False(t, ok)
	assert.Len(t, r.SupportedOps(), 16)
}
