package onnx

import (
	"errors"
	"fmt"
)

// ErrCheckFailed is wrapped by every *CheckError.
var ErrCheckFailed = errors.New("onnx model check failed")

// Check failure kinds.
const (
	CheckIRVersion   = "ir_version"
	CheckOpset       = "opset_import"
	CheckGraph       = "graph"
	CheckInitializer = "initializer"
	CheckValueInfo   = "value_info"
	CheckNode        = "node"
	CheckAttribute   = "attribute"
	CheckOutput      = "output"
)

// CheckError describes the first structural violation found in a model.
type CheckError struct {
	Kind    string // One of the Check* kinds
	Node    string // Offending node, if any
	Value   string // Offending tensor or attribute name, if any
	Details string
}

// Error implements the error interface.
func (e *CheckError) Error() string {
	msg := "onnx check: " + e.Kind
	if e.Node != "" {
		msg += fmt.Sprintf(" (node %s)", e.Node)
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" %q", e.Value)
	}
	return msg + ": " + e.Details
}

// Unwrap returns ErrCheckFailed.
func (e *CheckError) Unwrap() error {
	return ErrCheckFailed
}

// CheckFile parses the model at path and checks it.
func CheckFile(path string) error {
	m, err := ParseFile(path)
	if err != nil {
		return err
	}
	return Check(m)
}

// Check validates the structure of m and returns the first violation as a *CheckError.
func Check(m *ModelProto) error {
	c := &checker{}
	if err := c.checkVersions(m); err != nil {
		return err
	}
	return c.checkGraph(m.Graph)
}

type checker struct {
	ir      int64
	opset   int64
	domains map[string]bool
}

func (c *checker) checkVersions(m *ModelProto) error {
	if m.IRVersion == 0 {
		return &CheckError{Kind: CheckIRVersion, Details: "not set"}
	}
	if m.IRVersion < MinIRVersion || m.IRVersion > MaxIRVersion {
		return &CheckError{Kind: CheckIRVersion, Details: fmt.Sprintf("%d outside [%d, %d]", m.IRVersion, MinIRVersion, MaxIRVersion)}
	}
	c.ir = m.IRVersion
	if len(m.OpsetImport) == 0 {
		return &CheckError{Kind: CheckOpset, Details: "model has no opset_import"}
	}

	c.domains = make(map[string]bool, len(m.OpsetImport))
	for _, op := range m.OpsetImport {
		domain := op.Domain
		if isDefaultDomain(domain) {
			domain = ""
		}
		if c.domains[domain] {
			return &CheckError{Kind: CheckOpset, Value: op.Domain, Details: "domain imported more than once"}
		}
		c.domains[domain] = true
		if op.Version < 1 {
			return &CheckError{Kind: CheckOpset, Value: op.Domain, Details: fmt.Sprintf("invalid version %d", op.Version)}
		}
		if domain == "" {
			c.opset = op.Version
		}
	}

	if c.opset == 0 {
		return nil
	}
	if c.opset > MaxSupportedOpset {
		return &CheckError{Kind: CheckOpset, Details: fmt.Sprintf("default domain opset %d newer than %d", c.opset, MaxSupportedOpset)}
	}
	need, err := IRVersionForOpset(c.opset)
	if err != nil {
		return &CheckError{Kind: CheckOpset, Details: err.Error()}
	}
	if m.IRVersion < need {
		return &CheckError{Kind: CheckIRVersion, Details: fmt.Sprintf("%d too old for opset %d (needs %d)", m.IRVersion, c.opset, need)}
	}
	return nil
}

//nolint:gocognit,gocyclo // walks the graph once in order
func (c *checker) checkGraph(g *GraphProto) error {
	if g == nil {
		return &CheckError{Kind: CheckGraph, Details: "model has no graph"}
	}
	if g.Name == "" {
		return &CheckError{Kind: CheckGraph, Details: "graph name is empty"}
	}

	defined := make(map[string]bool)
	inputs := make(map[string]bool, len(g.Inputs))
	for i := range g.Inputs {
		in := &g.Inputs[i]
		if err := checkValueInfo(in); err != nil {
			return err
		}
		if inputs[in.Name] {
			return &CheckError{Kind: CheckValueInfo, Value: in.Name, Details: "duplicate graph input"}
		}
		inputs[in.Name] = true
		defined[in.Name] = true
	}

	inits := make(map[string]bool, len(g.Initializers))
	for i := range g.Initializers {
		t := &g.Initializers[i]
		if err := checkTensor(t); err != nil {
			return err
		}
		if inits[t.Name] {
			return &CheckError{Kind: CheckInitializer, Value: t.Name, Details: "duplicate initializer"}
		}
		// Before IR 4 every initializer must also be declared as a graph input.
		if c.ir < 4 && !inputs[t.Name] {
			return &CheckError{Kind: CheckInitializer, Value: t.Name, Details: fmt.Sprintf("IR version %d needs initializers listed as graph inputs", c.ir)}
		}
		inits[t.Name] = true
		defined[t.Name] = true
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		label := n.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if err := c.checkNode(n, label); err != nil {
			return err
		}
		for _, in := range n.Inputs {
			if in != "" && !defined[in] {
				return &CheckError{Kind: CheckNode, Node: label, Value: in, Details: "input is not a graph input, an initializer or the output of an earlier node"}
			}
		}
		for _, out := range n.Outputs {
			if out == "" {
				continue
			}
			if defined[out] {
				return &CheckError{Kind: CheckNode, Node: label, Value: out, Details: "output name is already assigned"}
			}
			defined[out] = true
		}
	}

	for i := range g.Outputs {
		out := &g.Outputs[i]
		if err := checkValueInfo(out); err != nil {
			return err
		}
		if !defined[out.Name] {
			return &CheckError{Kind: CheckOutput, Value: out.Name, Details: "graph output is never produced"}
		}
	}
	return nil
}

func (c *checker) checkNode(n *NodeProto, label string) error {
	if n.OpType == "" {
		return &CheckError{Kind: CheckNode, Node: label, Details: "op_type is empty"}
	}
	domain := n.Domain
	if isDefaultDomain(domain) {
		domain = ""
	}
	if !c.domains[domain] {
		return &CheckError{Kind: CheckNode, Node: label, Value: n.Domain, Details: "no opset imported for domain"}
	}

	seen := make(map[string]bool, len(n.Attributes))
	for i := range n.Attributes {
		a := &n.Attributes[i]
		if a.Name == "" {
			return &CheckError{Kind: CheckAttribute, Node: label, Details: "attribute without a name"}
		}
		if seen[a.Name] {
			return &CheckError{Kind: CheckAttribute, Node: label, Value: a.Name, Details: "duplicate attribute"}
		}
		seen[a.Name] = true
		if a.Type == AttributeProtoUndefined {
			return &CheckError{Kind: CheckAttribute, Node: label, Value: a.Name, Details: "attribute type is not set"}
		}
	}

	if domain != "" {
		return nil
	}
	schema, ok := LookupSchema(n.OpType)
	if !ok {
		return &CheckError{Kind: CheckNode, Node: label, Value: n.OpType, Details: "unknown operator"}
	}
	version, ok := schema.At(c.opset)
	if !ok {
		return &CheckError{Kind: CheckNode, Node: label, Value: n.OpType, Details: fmt.Sprintf("operator does not exist in opset %d", c.opset)}
	}
	if len(n.Inputs) < version.MinInputs || len(n.Inputs) > version.MaxInputs {
		return &CheckError{Kind: CheckNode, Node: label, Value: n.OpType, Details: fmt.Sprintf(
			"%d inputs, opset %d version %d takes %d to %d", len(n.Inputs), c.opset, version.Since, version.MinInputs, version.MaxInputs)}
	}
	for i := 0; i < version.MinInputs; i++ {
		if n.Inputs[i] == "" {
			return &CheckError{Kind: CheckNode, Node: label, Value: n.OpType, Details: fmt.Sprintf("required input %d is empty", i)}
		}
	}
	if len(n.Outputs) == 0 {
		return &CheckError{Kind: CheckNode, Node: label, Value: n.OpType, Details: "node has no outputs"}
	}
	return nil
}

func checkValueInfo(v *ValueInfoProto) error {
	if v.Name == "" {
		return &CheckError{Kind: CheckValueInfo, Details: "value without a name"}
	}
	if v.Type == nil || v.Type.TensorType == nil {
		return &CheckError{Kind: CheckValueInfo, Value: v.Name, Details: "missing tensor type"}
	}
	tt := v.Type.TensorType
	if !ValidElemType(tt.ElemType) {
		return &CheckError{Kind: CheckValueInfo, Value: v.Name, Details: fmt.Sprintf("invalid element type %d", tt.ElemType)}
	}
	if tt.Shape != nil {
		for i, d := range tt.Shape.Dims {
			if d.DimValue < 0 {
				return &CheckError{Kind: CheckValueInfo, Value: v.Name, Details: fmt.Sprintf("dimension %d is %d", i, d.DimValue)}
			}
		}
	}
	return nil
}

func checkTensor(t *TensorProto) error {
	if t.Name == "" {
		return &CheckError{Kind: CheckInitializer, Details: "initializer without a name"}
	}
	if !ValidElemType(t.DataType) {
		return &CheckError{Kind: CheckInitializer, Value: t.Name, Details: fmt.Sprintf("invalid data type %d", t.DataType)}
	}
	numel := int64(1)
	for i, d := range t.Dims {
		if d < 0 {
			return &CheckError{Kind: CheckInitializer, Value: t.Name, Details: fmt.Sprintf("dimension %d is %d", i, d)}
		}
		numel *= d
	}
	if t.DataLocation == DataLocationExternal {
		if len(t.ExternalData) == 0 {
			return &CheckError{Kind: CheckInitializer, Value: t.Name, Details: "external tensor without location"}
		}
		return nil
	}

	if len(t.RawData) > 0 {
		if size := ElemSize(t.DataType); size > 0 && int64(len(t.RawData)) != numel*int64(size) {
			return &CheckError{Kind: CheckInitializer, Value: t.Name, Details: fmt.Sprintf(
				"raw_data has %d bytes, dims %v need %d", len(t.RawData), t.Dims, numel*int64(size))}
		}
		return nil
	}

	var got int
	switch t.DataType {
	case TensorProtoFloat:
		got = len(t.FloatData)
	case TensorProtoInt64:
		got = len(t.Int64Data)
	case TensorProtoDouble:
		got = len(t.DoubleData)
	case TensorProtoString:
		got = len(t.StringData)
	case TensorProtoInt32, TensorProtoInt16, TensorProtoInt8, TensorProtoUint16, TensorProtoUint8,
		TensorProtoBool, TensorProtoFloat16, TensorProtoBfloat16:
		got = len(t.Int32Data)
	default:
		return &CheckError{Kind: CheckInitializer, Value: t.Name, Details: fmt.Sprintf("data type %d needs raw_data", t.DataType)}
	}
	if int64(got) != numel {
		return &CheckError{Kind: CheckInitializer, Value: t.Name, Details: fmt.Sprintf("%d elements stored, dims %v need %d", got, t.Dims, numel)}
	}
	return nil
}
