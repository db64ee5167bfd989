package model_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainvision/onnxconv/internal/model"
	"github.com/brainvision/onnxconv/internal/modeltest"
	"github.com/brainvision/onnxconv/internal/serialization"
	"github.com/brainvision/onnxconv/internal/tensor"
)

func TestLoadRoundTrip(t *testing.T) {
	for _, m := range []*model.Model{modeltest.CNN(), modeltest.FlattenCNN(), modeltest.MLP()} {
		t.Run(m.Name, func(t *testing.T) {
			path := modeltest.Save(t, m)

			got, err := model.Load(path)
			require.NoError(t, err)

			assert.Equal(t, m.Name, got.Name)
			if diff := cmp.Diff(m.Layers, got.Layers); diff != "" {
				t.Errorf("layers mismatch (-want +got):\n%s", diff)
			}
			require.Len(t, got.Weights, len(m.Weights))
			for name, w := range m.Weights {
				require.Contains(t, got.Weights, name)
				assert.Equal(t, w.Data(), got.Weights[name].Data(), name)
			}
			assert.Equal(t, m.NumParams(), got.NumParams())
		})
	}
}

func TestInputsAndOutputs(t *testing.T) {
	m := modeltest.CNN()

	inputs := m.Inputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, model.TensorSpec{Name: "image", DType: tensor.Float32, Shape: []int64{-1, 28, 28, 1}}, inputs[0])

	outputs := m.Outputs()
	require.Len(t, outputs, 1)
	assert.Equal(t, "logits", outputs[0].Name)
	assert.Equal(t, []int64{-1, 10}, outputs[0].Shape)
}

func TestLayerShapes(t *testing.T) {
	specs, err := modeltest.CNN().LayerShapes()
	require.NoError(t, err)

	got := make(map[string][]int64, len(specs))
	for _, s := range specs {
		got[s.Name] = s.Shape
	}
	want := map[string][]int64{
		"image":   {-1, 28, 28, 1},
		"rescale": {-1, 28, 28, 1},
		"conv1":   {-1, 28, 28, 4},
		"bn1":     {-1, 28, 28, 4},
		"pool1":   {-1, 14, 14, 4},
		"conv2":   {-1, 6, 6, 8},
		"gap":     {-1, 8},
		"dropout": {-1, 8},
		"logits":  {-1, 10},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("shapes mismatch (-want +got):\n%s", diff)
	}

	specs, err = modeltest.MLP().LayerShapes()
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 3, 4}, specs[1].Shape)
	assert.Equal(t, []int64{-1, 12}, specs[2].Shape)
}

func TestDimsJSON(t *testing.T) {
	data, err := json.Marshal(model.Dims{-1, 28, 3})
	require.NoError(t, err)
	assert.JSONEq(t, `[null, 28, 3]`, string(data))

	var d model.Dims
	require.NoError(t, json.Unmarshal([]byte(`[null, 5]`), &d))
	assert.Equal(t, model.Dims{-1, 5}, d)
}

func TestLayerConfigUseBiasDefault(t *testing.T) {
	tests := []struct {
		name string
		json string
		want bool
	}{
		{"absent", `{"name": "fc", "units": 4}`, true},
		{"true", `{"name": "fc", "units": 4, "use_bias": true}`, true},
		{"false", `{"name": "fc", "units": 4, "use_bias": false}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c model.LayerConfig
			require.NoError(t, json.Unmarshal([]byte(tt.json), &c))
			assert.Equal(t, tt.want, c.UseBias)
			assert.Equal(t, 4, c.Units)
		})
	}

	// A dense layer without bias survives a save and load.
	m, err := model.Load(modeltest.Save(t, modeltest.MLP()))
	require.NoError(t, err)
	assert.False(t, m.Layers[4].Config.UseBias)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *model.Model)
		want   error
	}{
		{
			name:   "missing weight",
			mutate: func(m *model.Model) { delete(m.Weights, "hidden.bias") },
			want:   model.ErrInvalidModel,
		},
		{
			name: "wrong weight shape",
			mutate: func(m *model.Model) {
				w, _ := tensor.FromFloat32(tensor.Shape{2}, []float32{1, 2})
				m.Weights["hidden.bias"] = w
			},
			want: model.ErrInvalidModel,
		},
		{
			name: "stray weight",
			mutate: func(m *model.Model) {
				w, _ := tensor.FromFloat32(tensor.Shape{1}, []float32{1})
				m.Weights["ghost.kernel"] = w
			},
			want: model.ErrInvalidModel,
		},
		{
			name:   "duplicate layer name",
			mutate: func(m *model.Model) { m.Layers[5].Config.Name = "out" },
			want:   model.ErrInvalidModel,
		},
		{
			name:   "unknown class",
			mutate: func(m *model.Model) { m.Layers[5].ClassName = "LSTM" },
			want:   model.ErrUnsupportedLayer,
		},
		{
			name:   "unknown activation",
			mutate: func(m *model.Model) { m.Layers[3].Config.Activation = "gelu" },
			want:   model.ErrUnsupportedLayer,
		},
		{
			name:   "first layer not input",
			mutate: func(m *model.Model) { m.Layers = m.Layers[1:] },
			want:   model.ErrInvalidModel,
		},
		{
			name:   "integer input",
			mutate: func(m *model.Model) { m.Layers[0].Config.DType = "int32" },
			want:   model.ErrUnsupportedLayer,
		},
		{
			name:   "bad reshape",
			mutate: func(m *model.Model) { m.Layers[1].Config.TargetShape = []int64{5, 5} },
			want:   model.ErrInvalidModel,
		},
		{
			name: "leaky relu",
			mutate: func(m *model.Model) {
				m.Layers = append(m.Layers, model.Layer{
					ClassName: model.ClassReLU,
					Config:    model.LayerConfig{Name: "leaky", NegativeSlope: 0.1},
				})
			},
			want: model.ErrUnsupportedLayer,
		},
		{
			name: "thresholded relu",
			mutate: func(m *model.Model) {
				m.Layers = append(m.Layers, model.Layer{
					ClassName: model.ClassReLU,
					Config:    model.LayerConfig{Name: "thresholded", Threshold: 0.5},
				})
			},
			want: model.ErrUnsupportedLayer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := modeltest.MLP()
			tt.mutate(m)
			require.ErrorIs(t, m.Validate(), tt.want)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := model.Load(filepath.Join(dir, "missing.born"))
	require.ErrorIs(t, err, os.ErrNotExist)

	garbage := filepath.Join(dir, "garbage.born")
	require.NoError(t, os.WriteFile(garbage, []byte("not a model at all"), 0o600))
	_, err = model.Load(garbage)
	require.ErrorIs(t, err, serialization.ErrInvalidMagic)

	// Weights without an architecture.
	bare := filepath.Join(dir, "bare.born")
	require.NoError(t, serialization.WriteFile(bare, modeltest.MLP().Weights, serialization.Header{}))
	_, err = model.Load(bare)
	require.ErrorIs(t, err, model.ErrInvalidModel)

	// Newer container version.
	path := modeltest.Save(t, modeltest.MLP())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[4] = 7
	future := filepath.Join(dir, "future.born")
	require.NoError(t, os.WriteFile(future, data, 0o600))
	_, err = model.Load(future)
	require.ErrorIs(t, err, serialization.ErrUnsupportedVersion)
}

func TestFusedActivation(t *testing.T) {
	m := modeltest.FlattenCNN()
	got := make([]string, len(m.Layers))
	for i, l := range m.Layers {
		got[i] = l.FusedActivation()
	}
	assert.Equal(t, []string{"", "", "", "", "", "relu6", "sigmoid"}, got)
}
