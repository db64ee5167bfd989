package convert

import (
	"fmt"

	"github.com/brainvision/onnxconv/internal/onnx"
	"github.com/brainvision/onnxconv/internal/savedmodel"
	"github.com/brainvision/onnxconv/internal/version"
)

// FromSavedModel loads the export in dir and converts it. When
// opts.OutputPath is set the model is also written there.
func FromSavedModel(dir string, opts Options) (*onnx.ModelProto, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	sm, err := savedmodel.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load saved model: %w", err)
	}
	m, err := Convert(sm, opts)
	if err != nil {
		return nil, err
	}
	if opts.OutputPath != "" {
		if err := onnx.WriteFile(opts.OutputPath, m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Convert translates sm into an ONNX model at opts.Opset.
func Convert(sm *savedmodel.SavedModel, opts Options) (*onnx.ModelProto, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := sm.Validate(); err != nil {
		return nil, err
	}
	sig, err := sm.Serving()
	if err != nil {
		return nil, err
	}
	input, err := matchSignature(sm, sig, opts.Signature)
	if err != nil {
		return nil, err
	}
	ir, err := onnx.IRVersionForOpset(opts.Opset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOpset, err)
	}

	ctx := newContext(sm, opts.Opset)
	ctx.rename[sig.Inputs[0].Name] = input.Name
	ctx.defined[input.Name] = true

	nodes, bias := foldBiasAdd(sm)
	ctx.bias = bias
	for i := range nodes {
		if err := opts.Registry.Lower(ctx, &nodes[i]); err != nil {
			return nil, err
		}
	}

	dims := &dimNamer{}
	graph := &onnx.GraphProto{
		Name:   graphName(sm),
		Inputs: []onnx.ValueInfoProto{dims.valueInfo(input.Name, input.Shape)},
	}
	keep := make(map[string]bool, len(sig.Outputs))
	for _, out := range sig.Outputs {
		name, err := ctx.Value(out.Name)
		if err != nil {
			return nil, err
		}
		keep[name] = true
		graph.Outputs = append(graph.Outputs, dims.valueInfo(name, out.Shape))
	}

	graph.Nodes, err = onnx.TopologicalSort(optimizeTransposes(ctx.nodes, keep))
	if err != nil {
		return nil, err
	}
	if err := checkOpset(graph.Nodes, opts.Opset); err != nil {
		return nil, err
	}

	graph.Initializers = ctx.sortedInitializers()
	// Before IR 4 initializers must also be graph inputs.
	if ir < 4 {
		for i := range graph.Initializers {
			init := &graph.Initializers[i]
			graph.Inputs = append(graph.Inputs, onnx.TensorValueInfo(init.Name, init.DataType, staticDims(init.Dims)))
		}
	}

	return &onnx.ModelProto{
		IRVersion:       ir,
		ProducerName:    opts.ProducerName,
		ProducerVersion: version.Version,
		Graph:           graph,
		OpsetImport:     []onnx.OperatorSetID{{Domain: "", Version: opts.Opset}},
	}, nil
}

// matchSignature checks the declared signature against the export's serving
// input and returns the graph input to emit. Declared static dimensions refine
// dynamic ones of the export.
func matchSignature(sm *savedmodel.SavedModel, sig savedmodel.SignatureDef, want InputSignature) (InputSignature, error) {
	if len(sig.Inputs) != 1 {
		return want, fmt.Errorf("%w: export has %d inputs, want 1", ErrSignatureMismatch, len(sig.Inputs))
	}
	got := sig.Inputs[0]
	if want.Name == "" {
		want.Name = got.Name
	}
	// Float variables are widened, so the graph is float32 throughout.
	if want.DType != graphDType {
		return want, fmt.Errorf("%w: dtype %s, graph inputs are %s", ErrSignatureMismatch, want.DType, graphDType)
	}
	if want.DType != got.DType {
		return want, fmt.Errorf("%w: dtype %s, export input %s is %s", ErrSignatureMismatch, want.DType, got.Name, got.DType)
	}
	if want.Shape == nil {
		want.Shape = got.Shape
	}
	if len(want.Shape) != len(got.Shape) {
		return want, fmt.Errorf("%w: rank %d, export input %s has shape %v", ErrSignatureMismatch, len(want.Shape), got.Name, got.Shape)
	}
	shape := make([]int64, len(got.Shape))
	for i, d := range got.Shape {
		w := want.Shape[i]
		switch {
		case w >= 0 && d >= 0 && w != d:
			return want, fmt.Errorf("%w: dimension %d is %d, export input %s has shape %v", ErrSignatureMismatch, i, w, got.Name, got.Shape)
		case w >= 0:
			shape[i] = w
		default:
			shape[i] = d
		}
	}
	want.Shape = shape

	if want.Name != got.Name {
		if _, ok := sm.Variables[want.Name]; ok {
			return want, fmt.Errorf("%w: input name %s is taken by a variable", ErrSignatureMismatch, want.Name)
		}
		for i := range sm.Nodes {
			if sm.Nodes[i].Name == want.Name {
				return want, fmt.Errorf("%w: input name %s is taken by a node", ErrSignatureMismatch, want.Name)
			}
		}
	}
	return want, nil
}

// graphDType is the element type of every graph input and output.
const graphDType = "float32"

// checkOpset rejects ops that do not exist at opset.
func checkOpset(nodes []onnx.NodeProto, opset int64) error {
	for i := range nodes {
		s, ok := onnx.LookupSchema(nodes[i].OpType)
		if !ok {
			return fmt.Errorf("%w: %s has no schema", ErrUnsupportedOp, nodes[i].OpType)
		}
		if _, ok := s.At(opset); !ok {
			return fmt.Errorf("%w: %s does not exist at opset %d", ErrUnsupportedOp, nodes[i].OpType, opset)
		}
	}
	return nil
}

func graphName(sm *savedmodel.SavedModel) string {
	if sm.Name != "" {
		return sm.Name
	}
	return "main_graph"
}

// dimNamer names dynamic dimensions unk__0, unk__1, ... in order of use.
type dimNamer struct {
	next int
}

func (d *dimNamer) valueInfo(name string, shape []int64) onnx.ValueInfoProto {
	dims := make([]onnx.DimensionProto, len(shape))
	for i, v := range shape {
		if v < 0 {
			dims[i] = onnx.DimensionProto{DimParam: fmt.Sprintf("unk__%d", d.next)}
			d.next++
			continue
		}
		dims[i] = onnx.DimensionProto{DimValue: v}
	}
	return onnx.TensorValueInfo(name, onnx.TensorProtoFloat, dims)
}

func staticDims(shape []int64) []onnx.DimensionProto {
	dims := make([]onnx.DimensionProto, len(shape))
	for i, v := range shape {
		dims[i] = onnx.DimensionProto{DimValue: v}
	}
	return dims
}
