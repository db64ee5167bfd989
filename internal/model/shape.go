package model

import (
	"fmt"

	"github.com/brainvision/onnxconv/internal/tensor"
)

// TensorSpec describes a named tensor. A -1 dimension is unknown until run time.
type TensorSpec struct {
	Name  string
	DType tensor.DataType
	Shape []int64
}

// LayerShapes returns the output spec of every layer, in layer order.
func (m *Model) LayerShapes() ([]TensorSpec, error) {
	if len(m.Layers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrInvalidModel)
	}
	dtype, err := m.inputDType()
	if err != nil {
		return nil, err
	}

	specs := make([]TensorSpec, len(m.Layers))
	var prev []int64
	for i, l := range m.Layers {
		out, _, err := inferLayer(l, prev)
		if err != nil {
			return nil, err
		}
		specs[i] = TensorSpec{Name: l.Name(), DType: dtype, Shape: out}
		prev = out
	}
	return specs, nil
}

// inferLayer returns the output shape of l for input shape in, and the shapes
// of the weights the layer needs.
//
//nolint:gocyclo // one case per layer class
func inferLayer(l Layer, in []int64) ([]int64, map[string]tensor.Shape, error) {
	c := l.Config
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: layer %s (%s): %s", ErrInvalidModel, c.Name, l.ClassName, fmt.Sprintf(format, args...))
	}

	if l.ClassName != ClassInputLayer && in == nil {
		return nil, nil, bad("no input")
	}
	if err := checkActivation(l); err != nil {
		return nil, nil, err
	}

	switch l.ClassName {
	case ClassInputLayer:
		if in != nil {
			return nil, nil, bad("InputLayer must be the first layer")
		}
		if len(c.BatchInputShape) < 2 {
			return nil, nil, bad("batch_input_shape %v needs a batch and a feature axis", []int64(c.BatchInputShape))
		}
		for i, d := range c.BatchInputShape[1:] {
			if d == 0 || d < -1 {
				return nil, nil, bad("batch_input_shape dimension %d is %d", i+1, d)
			}
		}
		return cloneDims(c.BatchInputShape), nil, nil

	case ClassDense:
		if len(in) < 2 {
			return nil, nil, bad("input rank %d, want at least 2", len(in))
		}
		features := in[len(in)-1]
		if features < 0 {
			return nil, nil, bad("last input dimension must be known")
		}
		if c.Units <= 0 {
			return nil, nil, bad("units must be positive")
		}
		weights := map[string]tensor.Shape{ParamKernel: {int(features), c.Units}}
		if c.UseBias {
			weights[ParamBias] = tensor.Shape{c.Units}
		}
		out := cloneDims(in)
		out[len(out)-1] = int64(c.Units)
		return out, weights, nil

	case ClassConv2D:
		if len(in) != 4 {
			return nil, nil, bad("input rank %d, want 4 (NHWC)", len(in))
		}
		if in[3] < 0 {
			return nil, nil, bad("channel dimension must be known")
		}
		kernel, err := pair(c.KernelSize, 0)
		if err != nil {
			return nil, nil, bad("kernel_size: %v", err)
		}
		strides, err := pair(c.Strides, 1)
		if err != nil {
			return nil, nil, bad("strides: %v", err)
		}
		dilation, err := pair(c.DilationRate, 1)
		if err != nil {
			return nil, nil, bad("dilation_rate: %v", err)
		}
		if c.Filters <= 0 {
			return nil, nil, bad("filters must be positive")
		}
		if err := checkPadding(l); err != nil {
			return nil, nil, err
		}
		h, err := windowOutput(in[1], kernel[0], strides[0], dilation[0], c.Padding)
		if err != nil {
			return nil, nil, bad("height: %v", err)
		}
		w, err := windowOutput(in[2], kernel[1], strides[1], dilation[1], c.Padding)
		if err != nil {
			return nil, nil, bad("width: %v", err)
		}
		weights := map[string]tensor.Shape{
			ParamKernel: {kernel[0], kernel[1], int(in[3]), c.Filters},
		}
		if c.UseBias {
			weights[ParamBias] = tensor.Shape{c.Filters}
		}
		return []int64{in[0], h, w, int64(c.Filters)}, weights, nil

	case ClassMaxPooling2D, ClassAveragePooling2D:
		if len(in) != 4 {
			return nil, nil, bad("input rank %d, want 4 (NHWC)", len(in))
		}
		pool, err := pair(c.PoolSize, 2)
		if err != nil {
			return nil, nil, bad("pool_size: %v", err)
		}
		strides := pool
		if len(c.Strides) > 0 {
			if strides, err = pair(c.Strides, 0); err != nil {
				return nil, nil, bad("strides: %v", err)
			}
		}
		if err := checkPadding(l); err != nil {
			return nil, nil, err
		}
		h, err := windowOutput(in[1], pool[0], strides[0], 1, c.Padding)
		if err != nil {
			return nil, nil, bad("height: %v", err)
		}
		w, err := windowOutput(in[2], pool[1], strides[1], 1, c.Padding)
		if err != nil {
			return nil, nil, bad("width: %v", err)
		}
		return []int64{in[0], h, w, in[3]}, nil, nil

	case ClassGlobalAveragePooling2D:
		if len(in) != 4 {
			return nil, nil, bad("input rank %d, want 4 (NHWC)", len(in))
		}
		return []int64{in[0], in[3]}, nil, nil

	case ClassFlatten:
		n := int64(1)
		for _, d := range in[1:] {
			if d < 0 {
				return nil, nil, bad("cannot flatten unknown dimension in %v", in)
			}
			n *= d
		}
		return []int64{in[0], n}, nil, nil

	case ClassReshape:
		return reshape(in, c.TargetShape, bad)

	case ClassBatchNormalization:
		if c.Axis != nil && *c.Axis != -1 && *c.Axis != len(in)-1 {
			return nil, nil, fmt.Errorf("%w: layer %s: batch normalization over axis %d", ErrUnsupportedLayer, c.Name, *c.Axis)
		}
		ch := in[len(in)-1]
		if ch < 0 {
			return nil, nil, bad("channel dimension must be known")
		}
		if c.Epsilon <= 0 {
			return nil, nil, bad("epsilon must be positive")
		}
		p := tensor.Shape{int(ch)}
		return cloneDims(in), map[string]tensor.Shape{
			ParamGamma: p, ParamBeta: p, ParamMovingMean: p, ParamMovingVariance: p,
		}, nil

	case ClassSoftmax:
		if c.Axis != nil && *c.Axis != -1 && *c.Axis != len(in)-1 {
			return nil, nil, fmt.Errorf("%w: layer %s: softmax over axis %d", ErrUnsupportedLayer, c.Name, *c.Axis)
		}
		return cloneDims(in), nil, nil

	case ClassReLU:
		if c.MaxValue != nil && *c.MaxValue != 6 {
			return nil, nil, fmt.Errorf("%w: layer %s: ReLU max_value %v", ErrUnsupportedLayer, c.Name, *c.MaxValue)
		}
		if c.NegativeSlope != 0 || c.Threshold != 0 {
			return nil, nil, fmt.Errorf("%w: layer %s: ReLU negative_slope %v threshold %v", ErrUnsupportedLayer, c.Name, c.NegativeSlope, c.Threshold)
		}
		return cloneDims(in), nil, nil

	case ClassDropout, ClassActivation, ClassRescaling:
		return cloneDims(in), nil, nil
	}

	return nil, nil, fmt.Errorf("%w: layer %s: class %q", ErrUnsupportedLayer, c.Name, l.ClassName)
}

func checkPadding(l Layer) error {
	switch l.Config.Padding {
	case "", PaddingValid, PaddingSame:
		return nil
	}
	return fmt.Errorf("%w: layer %s: padding %q", ErrUnsupportedLayer, l.Name(), l.Config.Padding)
}

// pair expands a one- or two-element window parameter. An empty value takes def
// for both axes; def 0 means the value is required.
func pair(v []int, def int) ([2]int, error) {
	switch len(v) {
	case 0:
		if def == 0 {
			return [2]int{}, fmt.Errorf("missing")
		}
		return [2]int{def, def}, nil
	case 1:
		v = []int{v[0], v[0]}
	case 2:
	default:
		return [2]int{}, fmt.Errorf("want 1 or 2 values, got %v", v)
	}
	if v[0] <= 0 || v[1] <= 0 {
		return [2]int{}, fmt.Errorf("values must be positive, got %v", v)
	}
	return [2]int{v[0], v[1]}, nil
}

// windowOutput is the spatial size after a sliding window.
func windowOutput(in int64, kernel, stride, dilation int, padding string) (int64, error) {
	if in < 0 {
		return -1, nil
	}
	if padding == PaddingSame {
		return (in + int64(stride) - 1) / int64(stride), nil
	}
	effective := int64((kernel-1)*dilation + 1)
	if in < effective {
		return 0, fmt.Errorf("input %d smaller than window %d", in, effective)
	}
	return (in-effective)/int64(stride) + 1, nil
}

func reshape(in, target []int64, bad func(string, ...any) error) ([]int64, map[string]tensor.Shape, error) {
	if len(target) == 0 {
		return nil, nil, bad("target_shape is empty")
	}
	total := int64(1)
	for _, d := range in[1:] {
		if d < 0 {
			return nil, nil, bad("cannot reshape unknown dimension in %v", in)
		}
		total *= d
	}

	out := make([]int64, 0, len(target)+1)
	out = append(out, in[0])
	known, unknownAt := int64(1), -1
	for i, d := range target {
		switch {
		case d == -1 && unknownAt < 0:
			unknownAt = i
		case d > 0:
			known *= d
		default:
			return nil, nil, bad("invalid target_shape %v", target)
		}
		out = append(out, d)
	}
	if unknownAt >= 0 {
		if total%known != 0 {
			return nil, nil, bad("cannot reshape %v to %v", in, target)
		}
		out[unknownAt+1] = total / known
	} else if known != total {
		return nil, nil, bad("cannot reshape %v to %v", in, target)
	}
	return out, nil, nil
}

func cloneDims(d []int64) []int64 {
	out := make([]int64, len(d))
	copy(out, d)
	return out
}

// WeightShapes returns, per layer name, the shape of every parameter the layer needs.
func WeightShapes(layers []Layer) (map[string]map[string]tensor.Shape, error) {
	out := make(map[string]map[string]tensor.Shape, len(layers))
	var in []int64
	for _, l := range layers {
		next, weights, err := inferLayer(l, in)
		if err != nil {
			return nil, err
		}
		if len(weights) > 0 {
			out[l.Name()] = weights
		}
		in = next
	}
	return out, nil
}
