// Package loader loads trained models and opens weight containers.
//
// This package wraps internal implementations and exports a small public API:
// [Load] and [Save] for .born model files, and [OpenWeights] for inspecting
// .born or .safetensors tensors.
//
// Example usage:
//
//	import "github.com/brainvision/onnxconv/loader"
//
//	m, err := loader.Load("BrainVision-model.born")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, in := range m.Inputs() {
//	    fmt.Printf("input %s %v\n", in.Name, in.Shape)
//	}
//	fmt.Printf("%d layers, %d parameters\n", len(m.Layers), m.NumParams())
package loader

import (
	"github.com/brainvision/onnxconv/internal/loader"
	"github.com/brainvision/onnxconv/internal/model"
)

// Model is a Sequential layer stack with its weights.
type Model = model.Model

// Layer is one entry of a model architecture.
type Layer = model.Layer

// TensorSpec describes a named model input or output.
type TensorSpec = model.TensorSpec

// Errors returned by Load.
var (
	ErrUnsupportedLayer = model.ErrUnsupportedLayer
	ErrInvalidModel     = model.ErrInvalidModel
	ErrUnknownFormat    = loader.ErrUnknownFormat
)

// Load reads and validates a .born model file.
//
// Missing files wrap os.ErrNotExist. Corrupt files fail with the
// serialization errors of the container (bad magic, checksum mismatch).
func Load(path string) (*Model, error) {
	return model.Load(path)
}

// Save validates m and writes it to path.
func Save(path string, m *Model) error {
	return model.Save(path, m)
}

// ModelFormat represents the weights container format.
type ModelFormat = loader.ModelFormat

// Supported formats.
const (
	FormatUnknown     ModelFormat = loader.FormatUnknown
	FormatBorn        ModelFormat = loader.FormatBorn
	FormatSafeTensors ModelFormat = loader.FormatSafeTensors
)

// WeightsReader gives uniform access to the tensors of a container.
//
// Note: This is a type alias because LoadTensor returns an internal tensor
// type that cannot be abstracted without a wrapper layer.
type WeightsReader = loader.WeightsReader

// DetectFormat returns the format implied by the file extension.
func DetectFormat(path string) ModelFormat {
	return loader.DetectFormat(path)
}

// OpenWeights opens a .born or .safetensors file.
//
// Example:
//
//	w, err := loader.OpenWeights("saved_model/variables/variables.safetensors")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	fmt.Println(w.Format(), w.TensorNames())
func OpenWeights(path string) (WeightsReader, error) {
	return loader.OpenWeights(path)
}
