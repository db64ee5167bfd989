package loader_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainvision/onnxconv/internal/modeltest"
	"github.com/brainvision/onnxconv/loader"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cnn.born")
	require.NoError(t, loader.Save(path, modeltest.CNN()))

	m, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cnn", m.Name)
	require.Len(t, m.Inputs(), 1)
	assert.Equal(t, []int64{-1, 28, 28, 1}, m.Inputs()[0].Shape)

	w, err := loader.OpenWeights(path)
	require.NoError(t, err)
	defer func() {
		_ = w.Close()
	}()
	assert.Equal(t, loader.FormatBorn, w.Format())
	assert.Len(t, w.TensorNames(), len(m.Weights))
}

func TestLoadMissing(t *testing.T) {
	_, err := loader.Load(filepath.Join(t.TempDir(), "missing.born"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenWeightsUnknownFormat(t *testing.T) {
	assert.Equal(t, loader.FormatUnknown, loader.DetectFormat("model.onnx"))
	_, err := loader.OpenWeights("model.onnx")
	require.ErrorIs(t, err, loader.ErrUnknownFormat)
}
