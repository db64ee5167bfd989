package convert

import (
	"errors"
	"fmt"

	"github.com/brainvision/onnxconv/internal/onnx"
	"github.com/brainvision/onnxconv/internal/version"
)

var (
	// ErrUnsupportedOp is returned when an op has no handler or no ONNX form at the requested opset.
	ErrUnsupportedOp = errors.New("unsupported op")

	// ErrSignatureMismatch is returned when the declared input signature does not fit the export.
	ErrSignatureMismatch = errors.New("input signature mismatch")

	// ErrInvalidOpset is returned for opsets outside the supported range.
	ErrInvalidOpset = errors.New("invalid opset")
)

// InputSignature declares the graph input. A -1 dimension is dynamic.
type InputSignature struct {
	Name  string  `mapstructure:"name" yaml:"name"`
	DType string  `mapstructure:"dtype" yaml:"dtype"`
	Shape []int64 `mapstructure:"shape" yaml:"shape"`
}

// Options configures a conversion.
type Options struct {
	Signature InputSignature
	Opset     int64

	// OutputPath is written when non-empty.
	OutputPath string

	// ProducerName defaults to the binary name.
	ProducerName string

	// Registry defaults to NewRegistry().
	Registry *Registry
}

func (o Options) withDefaults() (Options, error) {
	if o.Opset == 0 {
		o.Opset = onnx.DefaultOpset
	}
	if o.Opset < onnx.MinSupportedOpset || o.Opset > onnx.MaxSupportedOpset {
		return o, fmt.Errorf("%w: %d outside [%d, %d]", ErrInvalidOpset, o.Opset, onnx.MinSupportedOpset, onnx.MaxSupportedOpset)
	}
	if o.ProducerName == "" {
		o.ProducerName = version.Name
	}
	if o.Signature.DType == "" {
		o.Signature.DType = "float32"
	}
	if o.Registry == nil {
		o.Registry = NewRegistry()
	}
	return o, nil
}
