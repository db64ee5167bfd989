package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/brainvision/onnxconv/internal/serialization"
	"github.com/brainvision/onnxconv/internal/tensor"
)

// ErrUnknownFormat is returned for files whose format is not recognized.
var ErrUnknownFormat = errors.New("unknown weights format")

// ModelFormat represents the weights container format.
type ModelFormat int

// Supported formats.
const (
	FormatUnknown ModelFormat = iota
	FormatBorn
	FormatSafeTensors
)

// String returns the format name.
func (f ModelFormat) String() string {
	switch f {
	case FormatBorn:
		return "Born"
	case FormatSafeTensors:
		return "SafeTensors"
	default:
		return "Unknown"
	}
}

// DetectFormat returns the format implied by the file extension.
func DetectFormat(path string) ModelFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".born":
		return FormatBorn
	case ".safetensors":
		return FormatSafeTensors
	default:
		return FormatUnknown
	}
}

// WeightsReader gives uniform access to the tensors of a container.
type WeightsReader interface {
	// Close closes the underlying file.
	Close() error

	// Format returns the container format.
	Format() ModelFormat

	// Metadata returns the string metadata stored with the tensors.
	Metadata() map[string]string

	// TensorNames returns all tensor names.
	TensorNames() []string

	// LoadTensor loads a tensor by name.
	LoadTensor(name string) (*tensor.RawTensor, error)

	// ReadTensorData reads raw tensor bytes.
	ReadTensorData(name string) ([]byte, error)
}

type bornWeights struct {
	*serialization.BornReader
}

// Format returns FormatBorn.
func (bornWeights) Format() ModelFormat {
	return FormatBorn
}

type safeTensorsWeights struct {
	*serialization.SafeTensorsReader
}

// Format returns FormatSafeTensors.
func (safeTensorsWeights) Format() ModelFormat {
	return FormatSafeTensors
}

// OpenWeights opens a weights file, choosing the reader by extension.
func OpenWeights(path string) (WeightsReader, error) {
	switch f := DetectFormat(path); f {
	case FormatBorn:
		r, err := serialization.NewBornReader(path)
		if err != nil {
			return nil, err
		}
		return bornWeights{r}, nil
	case FormatSafeTensors:
		r, err := serialization.NewSafeTensorsReader(path)
		if err != nil {
			return nil, err
		}
		return safeTensorsWeights{r}, nil
	default:
		return nil, fmt.Errorf("%w: %s (expected .born or .safetensors)", ErrUnknownFormat, filepath.Ext(path))
	}
}
