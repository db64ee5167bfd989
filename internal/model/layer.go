package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Layer class names.
const (
	ClassInputLayer             = "InputLayer"
	ClassDense                  = "Dense"
	ClassConv2D                 = "Conv2D"
	ClassMaxPooling2D           = "MaxPooling2D"
	ClassAveragePooling2D       = "AveragePooling2D"
	ClassGlobalAveragePooling2D = "GlobalAveragePooling2D"
	ClassFlatten                = "Flatten"
	ClassDropout                = "Dropout"
	ClassBatchNormalization     = "BatchNormalization"
	ClassActivation             = "Activation"
	ClassReLU                   = "ReLU"
	ClassSoftmax                = "Softmax"
	ClassRescaling              = "Rescaling"
	ClassReshape                = "Reshape"
)

// Activation names accepted in the activation field.
const (
	ActivationLinear  = "linear"
	ActivationReLU    = "relu"
	ActivationReLU6   = "relu6"
	ActivationSigmoid = "sigmoid"
	ActivationTanh    = "tanh"
	ActivationSoftmax = "softmax"
)

// Padding modes.
const (
	PaddingValid = "valid"
	PaddingSame  = "same"
)

// Weight parameter suffixes.
const (
	ParamKernel         = "kernel"
	ParamBias           = "bias"
	ParamGamma          = "gamma"
	ParamBeta           = "beta"
	ParamMovingMean     = "moving_mean"
	ParamMovingVariance = "moving_variance"
)

var (
	// ErrUnsupportedLayer is returned for layer classes, activations or
	// options the converter cannot represent.
	ErrUnsupportedLayer = errors.New("unsupported layer")

	// ErrInvalidModel is returned when the architecture and weights do not agree.
	ErrInvalidModel = errors.New("invalid model")
)

// Dims is a shape where -1 marks an unknown dimension.
// It is written as JSON null, the way Keras records the batch axis.
type Dims []int64

// MarshalJSON writes unknown dimensions as null.
func (d Dims) MarshalJSON() ([]byte, error) {
	out := make([]*int64, len(d))
	for i := range d {
		if d[i] >= 0 {
			v := d[i]
			out[i] = &v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads null dimensions as -1.
func (d *Dims) UnmarshalJSON(data []byte) error {
	var raw []*int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*d = nil
		return nil
	}
	dims := make(Dims, len(raw))
	for i, v := range raw {
		if v == nil {
			dims[i] = -1
			continue
		}
		dims[i] = *v
	}
	*d = dims
	return nil
}

// LayerConfig is the union of the per-class config fields, named as Keras names them.
type LayerConfig struct {
	Name            string   `json:"name"`
	DType           string   `json:"dtype,omitempty"`
	BatchInputShape Dims     `json:"batch_input_shape,omitempty"`
	Units           int      `json:"units,omitempty"`
	Filters         int      `json:"filters,omitempty"`
	KernelSize      []int    `json:"kernel_size,omitempty"`
	Strides         []int    `json:"strides,omitempty"`
	DilationRate    []int    `json:"dilation_rate,omitempty"`
	Padding         string   `json:"padding,omitempty"`
	PoolSize        []int    `json:"pool_size,omitempty"`
	Activation      string   `json:"activation,omitempty"`
	UseBias         bool     `json:"use_bias"`
	Epsilon         float64  `json:"epsilon,omitempty"`
	Rate            float64  `json:"rate,omitempty"`
	Scale           float64  `json:"scale,omitempty"`
	Offset          float64  `json:"offset,omitempty"`
	MaxValue        *float64 `json:"max_value,omitempty"`
	NegativeSlope   float64  `json:"negative_slope,omitempty"`
	Threshold       float64  `json:"threshold,omitempty"`
	Axis            *int     `json:"axis,omitempty"`
	TargetShape     []int64  `json:"target_shape,omitempty"`
}

// UnmarshalJSON decodes a config, defaulting use_bias to true as Keras does.
func (c *LayerConfig) UnmarshalJSON(data []byte) error {
	type plain LayerConfig
	cfg := plain{UseBias: true}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	*c = LayerConfig(cfg)
	return nil
}

// Layer is one entry of the architecture.
type Layer struct {
	ClassName string      `json:"class_name"`
	Config    LayerConfig `json:"config"`
}

// Name returns the layer name.
func (l Layer) Name() string {
	return l.Config.Name
}

// WeightName returns the stored name of one of the layer's parameters.
func (l Layer) WeightName(param string) string {
	return l.Config.Name + "." + param
}

// FusedActivation returns the activation applied after the layer's main op,
// or "" when there is none.
func (l Layer) FusedActivation() string {
	switch l.ClassName {
	case ClassDense, ClassConv2D, ClassActivation:
		if l.Config.Activation == ActivationLinear {
			return ""
		}
		return l.Config.Activation
	case ClassReLU:
		if l.Config.MaxValue != nil {
			return ActivationReLU6
		}
		return ActivationReLU
	case ClassSoftmax:
		return ActivationSoftmax
	}
	return ""
}

// Architecture is the JSON document stored in the .born header.
type Architecture struct {
	Name   string  `json:"name"`
	Layers []Layer `json:"layers"`
}

func checkActivation(l Layer) error {
	switch l.Config.Activation {
	case "", ActivationLinear, ActivationReLU, ActivationReLU6, ActivationSigmoid, ActivationTanh, ActivationSoftmax:
		return nil
	}
	return fmt.Errorf("%w: layer %s: activation %q", ErrUnsupportedLayer, l.Name(), l.Config.Activation)
}
