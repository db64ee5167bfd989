// Package modeltest builds small, deterministic models for tests.
package modeltest

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brainvision/onnxconv/internal/model"
	"github.com/brainvision/onnxconv/internal/tensor"
)

func intPtr(v int) *int { return &v }

func float64Ptr(v float64) *float64 { return &v }

// CNN returns an image classifier over [batch, 28, 28, 1] inputs.
//
// It exercises rescaling, same/valid convolutions with fused activations,
// batch normalization, max pooling, global average pooling, dropout and a
// softmax dense head.
func CNN() *model.Model {
	return build("cnn", []model.Layer{
		input("image", -1, 28, 28, 1),
		{ClassName: model.ClassRescaling, Config: model.LayerConfig{Name: "rescale", Scale: 1.0 / 255}},
		{ClassName: model.ClassConv2D, Config: model.LayerConfig{
			Name: "conv1", Filters: 4, KernelSize: []int{3, 3}, Strides: []int{1, 1},
			Padding: model.PaddingSame, Activation: model.ActivationReLU, UseBias: true,
		}},
		{ClassName: model.ClassBatchNormalization, Config: model.LayerConfig{Name: "bn1", Epsilon: 0.001, Axis: intPtr(-1)}},
		{ClassName: model.ClassMaxPooling2D, Config: model.LayerConfig{Name: "pool1", PoolSize: []int{2, 2}, Padding: model.PaddingValid}},
		{ClassName: model.ClassConv2D, Config: model.LayerConfig{
			Name: "conv2", Filters: 8, KernelSize: []int{3, 3}, Strides: []int{2, 2},
			Padding: model.PaddingValid, Activation: model.ActivationReLU6, UseBias: true,
		}},
		{ClassName: model.ClassGlobalAveragePooling2D, Config: model.LayerConfig{Name: "gap"}},
		{ClassName: model.ClassDropout, Config: model.LayerConfig{Name: "dropout", Rate: 0.25}},
		{ClassName: model.ClassDense, Config: model.LayerConfig{
			Name: "logits", Units: 10, Activation: model.ActivationSoftmax, UseBias: true,
		}},
	})
}

// FlattenCNN returns a small convolutional model with a flattening head and
// standalone activation layers over [batch, 8, 8, 3] inputs.
func FlattenCNN() *model.Model {
	return build("flatten_cnn", []model.Layer{
		input("pixels", -1, 8, 8, 3),
		{ClassName: model.ClassConv2D, Config: model.LayerConfig{
			Name: "conv", Filters: 2, KernelSize: []int{3}, Padding: model.PaddingValid,
			Activation: model.ActivationLinear,
		}},
		{ClassName: model.ClassAveragePooling2D, Config: model.LayerConfig{Name: "avg", PoolSize: []int{2}}},
		{ClassName: model.ClassFlatten, Config: model.LayerConfig{Name: "flatten"}},
		{ClassName: model.ClassDense, Config: model.LayerConfig{Name: "fc", Units: 5, UseBias: true}},
		{ClassName: model.ClassReLU, Config: model.LayerConfig{Name: "relu6", MaxValue: float64Ptr(6)}},
		{ClassName: model.ClassActivation, Config: model.LayerConfig{Name: "prob", Activation: model.ActivationSigmoid}},
	})
}

// MLP returns a dense network over [batch, 12] inputs with a reshape round trip.
func MLP() *model.Model {
	return build("mlp", []model.Layer{
		input("features", -1, 12),
		{ClassName: model.ClassReshape, Config: model.LayerConfig{Name: "grid", TargetShape: []int64{3, 4}}},
		{ClassName: model.ClassFlatten, Config: model.LayerConfig{Name: "flat"}},
		{ClassName: model.ClassDense, Config: model.LayerConfig{
			Name: "hidden", Units: 16, Activation: model.ActivationTanh, UseBias: true,
		}},
		{ClassName: model.ClassDense, Config: model.LayerConfig{Name: "out", Units: 3}},
		{ClassName: model.ClassSoftmax, Config: model.LayerConfig{Name: "softmax"}},
	})
}

// Sequence returns a batch normalization over [batch, 4, 3] inputs, with
// the channel axis last and shorter than the time axis.
func Sequence() *model.Model {
	return build("sequence", []model.Layer{
		input("x", -1, 4, 3),
		{ClassName: model.ClassBatchNormalization, Config: model.LayerConfig{Name: "bn", Epsilon: 0.001, Axis: intPtr(-1)}},
	})
}

// Save writes m into a temporary directory and returns the file path.
func Save(t testing.TB, m *model.Model) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), m.Name+".born")
	require.NoError(t, model.Save(path, m))
	return path
}

func input(name string, shape ...int64) model.Layer {
	return model.Layer{
		ClassName: model.ClassInputLayer,
		Config:    model.LayerConfig{Name: name, DType: "float32", BatchInputShape: shape},
	}
}

// build fills every weight the layers need with reproducible values.
func build(name string, layers []model.Layer) *model.Model {
	m := &model.Model{Name: name, Layers: layers, Weights: map[string]*tensor.RawTensor{}}
	shapes, err := model.WeightShapes(layers)
	if err != nil {
		panic(err)
	}
	seed := 1
	for _, l := range layers {
		params := shapes[l.Name()]
		names := make([]string, 0, len(params))
		for param := range params {
			names = append(names, param)
		}
		sort.Strings(names)
		for _, param := range names {
			m.Weights[l.WeightName(param)] = fill(params[param], seed, param == model.ParamMovingVariance)
			seed++
		}
	}
	if err := m.Validate(); err != nil {
		panic(err)
	}
	return m
}

func fill(shape tensor.Shape, seed int, positive bool) *tensor.RawTensor {
	values := make([]float32, shape.NumElements())
	for i := range values {
		v := float32((i*7+seed*13)%17-8) / 16
		if positive {
			v = 1 + v*v
		}
		values[i] = v
	}
	t, err := tensor.FromFloat32(shape, values)
	if err != nil {
		panic(err)
	}
	return t
}
