package model

import (
	"encoding/json"
	"fmt"

	"github.com/brainvision/onnxconv/internal/serialization"
)

// ModelType is recorded in the .born header of every model this package writes.
const ModelType = "Sequential"

// Load reads a model from a .born file and validates it.
func Load(path string) (*Model, error) {
	reader, err := serialization.NewBornReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model %s: %w", path, err)
	}
	defer func() {
		_ = reader.Close()
	}()

	header := reader.Header()
	if len(header.Architecture) == 0 {
		return nil, fmt.Errorf("%w: %s has no architecture", ErrInvalidModel, path)
	}
	if header.ModelType != "" && header.ModelType != ModelType {
		return nil, fmt.Errorf("%w: model type %q", ErrUnsupportedLayer, header.ModelType)
	}

	var arch Architecture
	if err := json.Unmarshal(header.Architecture, &arch); err != nil {
		return nil, fmt.Errorf("failed to parse architecture: %w", err)
	}

	weights, err := reader.ReadStateDict()
	if err != nil {
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}

	m := &Model{
		Name:    arch.Name,
		Layers:  arch.Layers,
		Weights: weights,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Save validates m and writes it to path in .born format.
func Save(path string, m *Model) error {
	if err := m.Validate(); err != nil {
		return err
	}

	arch, err := json.Marshal(m.Architecture())
	if err != nil {
		return fmt.Errorf("failed to marshal architecture: %w", err)
	}

	return serialization.WriteFile(path, m.Weights, serialization.Header{
		ModelType:    ModelType,
		Metadata:     map[string]string{"name": m.Name},
		Architecture: arch,
	})
}
