package savedmodel

import (
	"errors"
	"fmt"

	"github.com/brainvision/onnxconv/internal/tensor"
)

// ErrMalformed is returned when an export directory is incomplete or inconsistent.
var ErrMalformed = errors.New("malformed saved model")

// Primitive op types.
const (
	OpMatMul         = "MatMul"
	OpBiasAdd        = "BiasAdd"
	OpConv2D         = "Conv2D"
	OpMaxPool        = "MaxPool"
	OpAvgPool        = "AvgPool"
	OpMean           = "Mean"
	OpReshape        = "Reshape"
	OpRelu           = "Relu"
	OpRelu6          = "Relu6"
	OpSigmoid        = "Sigmoid"
	OpTanh           = "Tanh"
	OpSoftmax        = "Softmax"
	OpFusedBatchNorm = "FusedBatchNorm"
	OpMul            = "Mul"
	OpAdd            = "Add"
	OpIdentity       = "Identity"
)

var knownOps = map[string]int{
	OpMatMul:         2,
	OpBiasAdd:        2,
	OpConv2D:         2,
	OpMaxPool:        1,
	OpAvgPool:        1,
	OpMean:           1,
	OpReshape:        1,
	OpRelu:           1,
	OpRelu6:          1,
	OpSigmoid:        1,
	OpTanh:           1,
	OpSoftmax:        1,
	OpFusedBatchNorm: 5,
	OpMul:            2,
	OpAdd:            2,
	OpIdentity:       1,
}

// Padding values used in Attrs.Padding.
const (
	PaddingSame  = "SAME"
	PaddingValid = "VALID"
)

// Attrs holds op attributes. Only the fields an op uses are set.
type Attrs struct {
	DataFormat string  `json:"data_format,omitempty"` // "NHWC" for spatial ops
	Strides    []int   `json:"strides,omitempty"`     // [h, w]
	Dilations  []int   `json:"dilations,omitempty"`   // [h, w]
	KSize      []int   `json:"ksize,omitempty"`       // pooling window [h, w]
	Padding    string  `json:"padding,omitempty"`     // SAME or VALID
	Axes       []int64 `json:"axes,omitempty"`        // Mean reduction axes
	KeepDims   bool    `json:"keep_dims,omitempty"`
	Epsilon    float64 `json:"epsilon,omitempty"`
	Shape      []int64 `json:"shape,omitempty"` // Reshape target, -1 for the batch axis
}

// Node is one primitive op. Node outputs are named after the node.
type Node struct {
	Name         string    `json:"name"`
	Op           string    `json:"op"`
	Inputs       []string  `json:"inputs"`
	Attrs        Attrs     `json:"attrs"`
	OutputShapes [][]int64 `json:"output_shapes"`
}

// Output returns the name of the node's single output.
func (n *Node) Output() string {
	return n.Name
}

// TensorInfo describes a signature tensor. -1 marks an unknown dimension.
type TensorInfo struct {
	Name  string  `json:"name"`
	DType string  `json:"dtype"`
	Shape []int64 `json:"shape"`
}

// DataType parses the dtype name.
func (t TensorInfo) DataType() (tensor.DataType, error) {
	return tensor.ParseDataType(t.DType)
}

// SignatureDef names the inputs and outputs of a callable function of the export.
type SignatureDef struct {
	Inputs  []TensorInfo `json:"inputs"`
	Outputs []TensorInfo `json:"outputs"`
}

// ServingSignature is the key of the default signature.
const ServingSignature = "serving_default"

// TagServe marks an export meant for inference.
const TagServe = "serve"

// SavedModel is an export held in memory.
type SavedModel struct {
	Dir        string // Set by Save and Load
	Name       string
	Producer   string
	Tags       []string
	Signatures map[string]SignatureDef
	Nodes      []Node
	Variables  map[string]*tensor.RawTensor
}

// Serving returns the serving_default signature.
func (sm *SavedModel) Serving() (SignatureDef, error) {
	sig, ok := sm.Signatures[ServingSignature]
	if !ok {
		return SignatureDef{}, fmt.Errorf("%w: no %s signature", ErrMalformed, ServingSignature)
	}
	return sig, nil
}

// Consumers counts, for every tensor name, how many node inputs and signature
// outputs read it.
func (sm *SavedModel) Consumers() map[string]int {
	uses := make(map[string]int)
	for i := range sm.Nodes {
		for _, in := range sm.Nodes[i].Inputs {
			uses[in]++
		}
	}
	for _, sig := range sm.Signatures {
		for _, out := range sig.Outputs {
			uses[out.Name]++
		}
	}
	return uses
}

// Validate checks that every node reads a signature input, a variable or the
// output of an earlier node, and that every signature output is produced.
func (sm *SavedModel) Validate() error {
	sig, err := sm.Serving()
	if err != nil {
		return err
	}
	if len(sig.Inputs) == 0 || len(sig.Outputs) == 0 {
		return fmt.Errorf("%w: %s needs inputs and outputs", ErrMalformed, ServingSignature)
	}

	defined := make(map[string]bool, len(sm.Variables)+len(sm.Nodes)+len(sig.Inputs))
	for _, in := range sig.Inputs {
		if _, err := in.DataType(); err != nil {
			return fmt.Errorf("%w: input %s: %w", ErrMalformed, in.Name, err)
		}
		defined[in.Name] = true
	}
	for name := range sm.Variables {
		defined[name] = true
	}

	for i := range sm.Nodes {
		n := &sm.Nodes[i]
		arity, ok := knownOps[n.Op]
		if !ok {
			// Unknown ops are the converter's call; only arity is checked here.
			arity = len(n.Inputs)
		}
		if len(n.Inputs) != arity {
			return fmt.Errorf("%w: node %s (%s) has %d inputs, want %d", ErrMalformed, n.Name, n.Op, len(n.Inputs), arity)
		}
		for _, in := range n.Inputs {
			if !defined[in] {
				return fmt.Errorf("%w: node %s reads undefined tensor %q", ErrMalformed, n.Name, in)
			}
		}
		if defined[n.Output()] {
			return fmt.Errorf("%w: node %s redefines %q", ErrMalformed, n.Name, n.Output())
		}
		if len(n.OutputShapes) != 1 {
			return fmt.Errorf("%w: node %s has %d output shapes", ErrMalformed, n.Name, len(n.OutputShapes))
		}
		defined[n.Output()] = true
	}

	for _, out := range sig.Outputs {
		if !defined[out.Name] {
			return fmt.Errorf("%w: signature output %q is never produced", ErrMalformed, out.Name)
		}
	}
	return nil
}
