package savedmodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/brainvision/onnxconv/internal/model"
	"github.com/brainvision/onnxconv/internal/serialization"
)

// File names inside an export directory.
const (
	GraphFile       = "saved_model.json"
	VariablesDir    = "variables"
	VariablesFile   = "variables.safetensors"
	FingerprintFile = "fingerprint.json"
)

type document struct {
	FormatVersion int                     `json:"format_version"`
	Tags          []string                `json:"tags"`
	Producer      string                  `json:"producer"`
	ModelName     string                  `json:"model_name"`
	SignatureDefs map[string]SignatureDef `json:"signature_defs"`
	Graph         graphDoc                `json:"graph"`
}

type graphDoc struct {
	Nodes []nodeDoc `json:"nodes"`
}

type nodeDoc struct {
	Name         string    `json:"name"`
	Op           string    `json:"op"`
	Inputs       []string  `json:"inputs"`
	Outputs      []string  `json:"outputs"`
	Attrs        Attrs     `json:"attrs"`
	OutputShapes [][]int64 `json:"output_shapes"`
}

// Fingerprint holds the hex SHA-256 of the graph and variables files.
type Fingerprint struct {
	GraphSHA256     string `json:"saved_model_sha256"`
	VariablesSHA256 string `json:"variables_sha256"`
}

// Export traces m and saves the result to dir.
func Export(m *model.Model, dir string) (*SavedModel, error) {
	sm, err := Trace(m)
	if err != nil {
		return nil, fmt.Errorf("failed to trace model: %w", err)
	}
	if err := Save(dir, sm); err != nil {
		return nil, err
	}
	return sm, nil
}

// Save writes the export of sm into dir, replacing an earlier export there.
// Other entries of dir are left alone.
func Save(dir string, sm *SavedModel) error {
	if err := sm.Validate(); err != nil {
		return err
	}
	for _, name := range []string{GraphFile, VariablesDir, FingerprintFile} {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", dir, err)
		}
	}
	//nolint:gosec // G301: export directories are meant to be shared.
	if err := os.MkdirAll(filepath.Join(dir, VariablesDir), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	varsPath := filepath.Join(dir, VariablesDir, VariablesFile)
	if err := serialization.WriteSafeTensors(varsPath, sm.Variables, nil); err != nil {
		return fmt.Errorf("failed to write variables: %w", err)
	}

	doc := document{
		FormatVersion: FormatVersion,
		Tags:          sm.Tags,
		Producer:      sm.Producer,
		ModelName:     sm.Name,
		SignatureDefs: sm.Signatures,
		Graph:         graphDoc{Nodes: make([]nodeDoc, len(sm.Nodes))},
	}
	for i := range sm.Nodes {
		n := &sm.Nodes[i]
		doc.Graph.Nodes[i] = nodeDoc{
			Name:         n.Name,
			Op:           n.Op,
			Inputs:       n.Inputs,
			Outputs:      []string{n.Output()},
			Attrs:        n.Attrs,
			OutputShapes: n.OutputShapes,
		}
	}
	graphPath := filepath.Join(dir, GraphFile)
	if err := writeJSON(graphPath, doc); err != nil {
		return err
	}

	fp, err := fingerprint(dir)
	if err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, FingerprintFile), fp); err != nil {
		return err
	}
	sm.Dir = dir
	return nil
}

// Load reads the export in dir and checks that it is complete and consistent.
//
//nolint:gocyclo // one check per file
func Load(dir string) (*SavedModel, error) {
	graphPath := filepath.Join(dir, GraphFile)
	//nolint:gosec // G304: dir is chosen by the caller.
	data, err := os.ReadFile(graphPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("saved model %s: %w", dir, err)
		}
		return nil, fmt.Errorf("failed to read %s: %w", graphPath, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, GraphFile, err)
	}
	if doc.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: format_version %d, want %d", ErrMalformed, doc.FormatVersion, FormatVersion)
	}
	if !hasTag(doc.Tags, TagServe) {
		return nil, fmt.Errorf("%w: no %q tag", ErrMalformed, TagServe)
	}

	//nolint:gosec // G304: dir is chosen by the caller.
	fpData, err := os.ReadFile(filepath.Join(dir, FingerprintFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	var stored Fingerprint
	if err := json.Unmarshal(fpData, &stored); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, FingerprintFile, err)
	}
	actual, err := fingerprint(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if actual != stored {
		return nil, fmt.Errorf("%w: fingerprint mismatch: %w", ErrMalformed, serialization.ErrChecksumMismatch)
	}

	vars, _, err := serialization.ReadSafeTensors(filepath.Join(dir, VariablesDir, VariablesFile))
	if err != nil {
		return nil, fmt.Errorf("%w: variables: %w", ErrMalformed, err)
	}

	sm := &SavedModel{
		Dir:        dir,
		Name:       doc.ModelName,
		Producer:   doc.Producer,
		Tags:       doc.Tags,
		Signatures: doc.SignatureDefs,
		Nodes:      make([]Node, len(doc.Graph.Nodes)),
		Variables:  vars,
	}
	for i, n := range doc.Graph.Nodes {
		if len(n.Outputs) != 1 || n.Outputs[0] != n.Name {
			return nil, fmt.Errorf("%w: node %s must have the single output %q", ErrMalformed, n.Name, n.Name)
		}
		sm.Nodes[i] = Node{
			Name:         n.Name,
			Op:           n.Op,
			Inputs:       n.Inputs,
			Attrs:        n.Attrs,
			OutputShapes: n.OutputShapes,
		}
	}
	if err := sm.Validate(); err != nil {
		return nil, err
	}
	return sm, nil
}

// VariableNames returns the variable names in sorted order.
func (sm *SavedModel) VariableNames() []string {
	names := make([]string, 0, len(sm.Variables))
	for name := range sm.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fingerprint(dir string) (Fingerprint, error) {
	g, err := serialization.FileChecksumHex(filepath.Join(dir, GraphFile))
	if err != nil {
		return Fingerprint{}, err
	}
	v, err := serialization.FileChecksumHex(filepath.Join(dir, VariablesDir, VariablesFile))
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{GraphSHA256: g, VariablesSHA256: v}, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	//nolint:gosec // G306: export files are meant to be shared.
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
