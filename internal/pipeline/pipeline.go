// Package pipeline runs the Keras-to-ONNX conversion end to end: load the
// trained model, export it as a SavedModel directory, convert the export to
// ONNX and check the written file.
package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/brainvision/onnxconv/internal/convert"
	"github.com/brainvision/onnxconv/internal/model"
	"github.com/brainvision/onnxconv/internal/onnx"
	"github.com/brainvision/onnxconv/internal/savedmodel"
)

// ErrInvalidConfig is returned when a Config cannot be run.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the paths and conversion settings of a run.
type Config struct {
	// InputPath is the trained model (.born).
	InputPath string `mapstructure:"input" yaml:"input"`

	// ExportDir receives the intermediate SavedModel. Its export files are
	// replaced on every run, and it must not hold the input or output.
	ExportDir string `mapstructure:"export_dir" yaml:"export_dir"`

	// OutputPath is the ONNX file to write.
	OutputPath string `mapstructure:"output" yaml:"output"`

	// Opset is the default-domain operator set version.
	Opset int64 `mapstructure:"opset" yaml:"opset"`

	// Signature declares the graph input. An empty shape takes the model's input shape.
	Signature convert.InputSignature `mapstructure:"signature" yaml:"signature"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		InputPath:  "../models/BrainVision-model.born",
		ExportDir:  "saved_model",
		OutputPath: "model.onnx",
		Opset:      onnx.DefaultOpset,
		Signature: convert.InputSignature{
			Name:  "input",
			DType: "float32",
		},
	}
}

// Validate reports missing or conflicting settings.
func (c Config) Validate() error {
	switch {
	case c.InputPath == "":
		return fmt.Errorf("%w: input path is empty", ErrInvalidConfig)
	case c.ExportDir == "":
		return fmt.Errorf("%w: export dir is empty", ErrInvalidConfig)
	case c.OutputPath == "":
		return fmt.Errorf("%w: output path is empty", ErrInvalidConfig)
	case c.Opset < onnx.MinSupportedOpset || c.Opset > onnx.MaxSupportedOpset:
		return fmt.Errorf("%w: opset %d outside [%d, %d]", ErrInvalidConfig, c.Opset, onnx.MinSupportedOpset, onnx.MaxSupportedOpset)
	case within(c.ExportDir, c.InputPath):
		return fmt.Errorf("%w: input %s is inside export dir %s", ErrInvalidConfig, c.InputPath, c.ExportDir)
	case within(c.ExportDir, c.OutputPath):
		return fmt.Errorf("%w: output %s is inside export dir %s", ErrInvalidConfig, c.OutputPath, c.ExportDir)
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Result describes a successful run.
type Result struct {
	Model      *onnx.ModelProto
	Info       *onnx.ModelInfo
	ExportDir  string
	OutputPath string
}

// Run executes the stages in order and stops at the first failure. Files
// written by earlier stages are left in place.
func Run(cfg Config, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Loading model...", zap.String("path", cfg.InputPath))
	m, err := model.Load(cfg.InputPath)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	logger.Debug("model loaded",
		zap.String("name", m.Name),
		zap.Int("layers", len(m.Layers)),
		zap.Int("params", m.NumParams()),
	)

	sig := cfg.Signature
	if len(sig.Shape) == 0 {
		inputs := m.Inputs()
		if len(inputs) == 0 {
			return nil, fmt.Errorf("load: %w: model has no input", model.ErrInvalidModel)
		}
		sig.Shape = inputs[0].Shape
	}

	logger.Info("Exporting model to SavedModel...", zap.String("dir", cfg.ExportDir))
	sm, err := savedmodel.Export(m, cfg.ExportDir)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	logger.Debug("saved model written",
		zap.Int("nodes", len(sm.Nodes)),
		zap.Int("variables", len(sm.Variables)),
	)

	logger.Info("Converting SavedModel to ONNX...", zap.Int64("opset", cfg.Opset))
	proto, err := convert.FromSavedModel(cfg.ExportDir, convert.Options{
		Signature:  sig,
		Opset:      cfg.Opset,
		OutputPath: cfg.OutputPath,
	})
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	logger.Info("ONNX model saved to: "+cfg.OutputPath,
		zap.Int64("ir_version", proto.IRVersion),
		zap.Int("nodes", len(proto.Graph.Nodes)),
	)

	logger.Info("Validating ONNX model...")
	written, err := onnx.ParseFile(cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	if err := onnx.Check(written); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	logger.Info("Conversion successful! Model is valid.")

	return &Result{
		Model:      written,
		Info:       onnx.Info(written),
		ExportDir:  cfg.ExportDir,
		OutputPath: cfg.OutputPath,
	}, nil
}
