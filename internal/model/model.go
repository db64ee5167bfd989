package model

import (
	"fmt"
	"sort"

	"github.com/brainvision/onnxconv/internal/tensor"
)

// Model is a Sequential layer stack with its weights.
type Model struct {
	Name    string
	Layers  []Layer
	Weights map[string]*tensor.RawTensor
}

// Inputs returns the model's input tensors. A Sequential model has exactly one.
func (m *Model) Inputs() []TensorSpec {
	if len(m.Layers) == 0 || m.Layers[0].ClassName != ClassInputLayer {
		return nil
	}
	dtype, err := m.inputDType()
	if err != nil {
		return nil
	}
	first := m.Layers[0]
	return []TensorSpec{{
		Name:  first.Name(),
		DType: dtype,
		Shape: cloneDims(first.Config.BatchInputShape),
	}}
}

// Outputs returns the model's output tensors, named after the last layer.
func (m *Model) Outputs() []TensorSpec {
	specs, err := m.LayerShapes()
	if err != nil {
		return nil
	}
	return specs[len(specs)-1:]
}

// Architecture returns the serializable layer description.
func (m *Model) Architecture() Architecture {
	return Architecture{Name: m.Name, Layers: m.Layers}
}

// Weight returns a layer parameter, or nil if it is not stored.
func (m *Model) Weight(l Layer, param string) *tensor.RawTensor {
	return m.Weights[l.WeightName(param)]
}

// NumParams returns the total number of weight elements.
func (m *Model) NumParams() int {
	n := 0
	for _, w := range m.Weights {
		n += w.NumElements()
	}
	return n
}

// Validate checks that the architecture is supported and consistent with the weights.
func (m *Model) Validate() error {
	if len(m.Layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrInvalidModel)
	}
	if m.Layers[0].ClassName != ClassInputLayer {
		return fmt.Errorf("%w: first layer is %s, want %s", ErrInvalidModel, m.Layers[0].ClassName, ClassInputLayer)
	}
	if _, err := m.inputDType(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(m.Layers))
	expected := make(map[string]bool)
	var in []int64
	for _, l := range m.Layers {
		if l.Name() == "" {
			return fmt.Errorf("%w: %s layer without a name", ErrInvalidModel, l.ClassName)
		}
		if seen[l.Name()] {
			return fmt.Errorf("%w: duplicate layer name %q", ErrInvalidModel, l.Name())
		}
		seen[l.Name()] = true

		out, weights, err := inferLayer(l, in)
		if err != nil {
			return err
		}
		for _, param := range sortedParams(weights) {
			name := l.WeightName(param)
			expected[name] = true
			w, ok := m.Weights[name]
			if !ok {
				return fmt.Errorf("%w: missing weight %s", ErrInvalidModel, name)
			}
			if !w.Shape().Equal(weights[param]) {
				return fmt.Errorf("%w: weight %s has shape %v, want %v", ErrInvalidModel, name, w.Shape(), weights[param])
			}
			if !w.DType().IsFloat() {
				return fmt.Errorf("%w: weight %s has dtype %s", ErrInvalidModel, name, w.DType())
			}
		}
		in = out
	}

	for name := range m.Weights {
		if !expected[name] {
			return fmt.Errorf("%w: weight %s does not belong to any layer", ErrInvalidModel, name)
		}
	}
	return nil
}

func (m *Model) inputDType() (tensor.DataType, error) {
	if len(m.Layers) == 0 {
		return 0, fmt.Errorf("%w: no layers", ErrInvalidModel)
	}
	name := m.Layers[0].Config.DType
	if name == "" {
		return tensor.Float32, nil
	}
	dt, err := tensor.ParseDataType(name)
	if err != nil {
		return 0, fmt.Errorf("%w: input dtype: %w", ErrUnsupportedLayer, err)
	}
	if !dt.IsFloat() {
		return 0, fmt.Errorf("%w: input dtype %s", ErrUnsupportedLayer, dt)
	}
	return dt, nil
}

func sortedParams(weights map[string]tensor.Shape) []string {
	params := make([]string, 0, len(weights))
	for p := range weights {
		params = append(params, p)
	}
	sort.Strings(params)
	return params
}
