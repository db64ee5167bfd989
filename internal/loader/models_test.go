package loader_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainvision/onnxconv/internal/loader"
	"github.com/brainvision/onnxconv/internal/modeltest"
	"github.com/brainvision/onnxconv/internal/savedmodel"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		want loader.ModelFormat
	}{
		{"model.born", loader.FormatBorn},
		{"dir/MODEL.BORN", loader.FormatBorn},
		{"variables.safetensors", loader.FormatSafeTensors},
		{"model.onnx", loader.FormatUnknown},
		{"model", loader.FormatUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, loader.DetectFormat(tt.path), tt.path)
	}
	assert.Equal(t, "Born", loader.FormatBorn.String())
	assert.Equal(t, "SafeTensors", loader.FormatSafeTensors.String())
	assert.Equal(t, "Unknown", loader.FormatUnknown.String())
}

func TestOpenBornWeights(t *testing.T) {
	m := modeltest.MLP()
	w, err := loader.OpenWeights(modeltest.Save(t, m))
	require.NoError(t, err)
	defer func() {
		_ = w.Close()
	}()

	assert.Equal(t, loader.FormatBorn, w.Format())
	assert.Equal(t, "mlp", w.Metadata()["name"])
	require.Len(t, w.TensorNames(), len(m.Weights))

	got, err := w.LoadTensor("hidden.kernel")
	require.NoError(t, err)
	assert.Equal(t, m.Weights["hidden.kernel"].Data(), got.Data())
}

func TestOpenExportVariables(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "saved_model")
	sm, err := savedmodel.Export(modeltest.CNN(), dir)
	require.NoError(t, err)

	w, err := loader.OpenWeights(filepath.Join(dir, savedmodel.VariablesDir, savedmodel.VariablesFile))
	require.NoError(t, err)
	defer func() {
		_ = w.Close()
	}()

	assert.Equal(t, loader.FormatSafeTensors, w.Format())
	assert.Equal(t, sm.VariableNames(), w.TensorNames())

	data, err := w.ReadTensorData("rescale.scale")
	require.NoError(t, err)
	assert.Len(t, data, 4)
}

func TestOpenWeightsErrors(t *testing.T) {
	_, err := loader.OpenWeights("model.onnx")
	require.ErrorIs(t, err, loader.ErrUnknownFormat)

	_, err = loader.OpenWeights(filepath.Join(t.TempDir(), "missing.born"))
	require.Error(t, err)
}
