package onnx_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/brainvision/onnxconv/internal/modeltest"
	"github.com/brainvision/onnxconv/internal/pipeline"
	"github.com/brainvision/onnxconv/onnx"
)

func convertedModel(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := pipeline.DefaultConfig()
	cfg.InputPath = modeltest.Save(t, modeltest.MLP())
	cfg.ExportDir = filepath.Join(dir, "saved_model")
	cfg.OutputPath = filepath.Join(dir, "model.onnx")
	_, err := pipeline.Run(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return cfg.OutputPath
}

func TestCheckFile(t *testing.T) {
	path := convertedModel(t)
	require.NoError(t, onnx.CheckFile(path))

	info, err := onnx.GetModelInfo(path)
	require.NoError(t, err)
	assert.Equal(t, "onnxconv", info.ProducerName)
	assert.Equal(t, int64(onnx.DefaultOpset), info.OpsetVersion)
	assert.Equal(t, []string{"input"}, info.InputNames)
	assert.Equal(t, []string{"softmax"}, info.OutputNames)
	assert.Equal(t, []string{"Gemm", "MatMul", "Reshape", "Softmax", "Tanh"}, info.OpTypes)
}

func TestCheckReportsViolation(t *testing.T) {
	m, err := onnx.ParseFile(convertedModel(t))
	require.NoError(t, err)

	m.Graph.Nodes[1].Inputs[0] = "nowhere"
	err = onnx.Check(m)
	require.ErrorIs(t, err, onnx.ErrCheckFailed)

	var ce *onnx.CheckError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "nowhere", ce.Value)
}

func TestParseMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.onnx")
	require.NoError(t, os.WriteFile(path, []byte{0x0a, 0xff}, 0o600))

	_, err := onnx.ParseFile(path)
	require.ErrorIs(t, err, onnx.ErrMalformed)
	require.Error(t, onnx.CheckFile(path))
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := os.ReadFile(convertedModel(t))
	require.NoError(t, err)

	m, err := onnx.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, data, onnx.Marshal(m))
}

func TestListSupportedOps(t *testing.T) {
	want := []string{
		"Add", "AveragePool", "BatchNormalization", "Clip", "Conv", "Gemm", "Identity", "MatMul", "MaxPool",
		"Mul", "ReduceMean", "Relu", "Reshape", "Sigmoid", "Softmax", "Tanh", "Transpose",
	}
	assert.Equal(t, want, onnx.ListSupportedOps())
}
