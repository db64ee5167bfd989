package onnx

// ONNX protobuf data structures (hand-written).
// Field numbers follow onnx/onnx.proto; see parser.go and writer.go.

// ModelProto represents an ONNX model.
type ModelProto struct {
	IRVersion       int64               // IR version (e.g., 7, 8, 9)
	OpsetImport     []OperatorSetID     // Opset version(s)
	ProducerName    string              // Framework name (e.g., "pytorch", "tf")
	ProducerVersion string              // Framework version
	Domain          string              // Model domain
	ModelVersion    int64               // Model version number
	DocString       string              // Model description
	Graph           *GraphProto         // Computation graph
	MetadataProps   []StringStringEntry // Key-value metadata
}

// GraphProto represents the computation graph.
type GraphProto struct {
	Name         string           // Graph name
	Nodes        []NodeProto      // Operation nodes
	Inputs       []ValueInfoProto // Graph inputs
	Outputs      []ValueInfoProto // Graph outputs
	Initializers []TensorProto    // Weight tensors
	DocString    string           // Graph description
	ValueInfo    []ValueInfoProto // Intermediate tensor info
}

// NodeProto represents a single operation.
type NodeProto struct {
	Name       string           // Node name (optional)
	OpType     string           // Operation type (e.g., "Conv", "MatMul", "Relu")
	Inputs     []string         // Input tensor names
	Outputs    []string         // Output tensor names
	Attributes []AttributeProto // Operation attributes
	Domain     string           // Custom domain (empty for default)
	DocString  string           // Node description
}

// TensorProto represents a tensor (weights/initializers).
type TensorProto struct {
	Name         string              // Tensor name
	DataType     int32               // Element data type
	Dims         []int64             // Tensor shape
	RawData      []byte              // Raw binary data (most common)
	FloatData    []float32           // Float32 data (legacy)
	Int32Data    []int32             // Int32, int16, int8, uint8, uint16, bool and float16 data (legacy)
	Int64Data    []int64             // Int64 data (legacy)
	DoubleData   []float64           // Float64 data (legacy)
	StringData   [][]byte            // String data
	DocString    string              // Tensor description
	ExternalData []StringStringEntry // Location of externally stored data
	DataLocation int32               // DataLocationDefault or DataLocationExternal
}

// ValueInfoProto describes input/output tensor specifications.
type ValueInfoProto struct {
	Name      string     // Tensor name
	Type      *TypeProto // Tensor type information
	DocString string     // Description
}

// TypeProto describes tensor type.
type TypeProto struct {
	TensorType *TensorTypeProto // Tensor type (most common)
}

// TensorTypeProto describes tensor shape and element type.
type TensorTypeProto struct {
	ElemType int32             // Element data type
	Shape    *TensorShapeProto // Tensor shape
}

// TensorShapeProto describes tensor dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto // Dimensions
}

// DimensionProto describes a single dimension.
type DimensionProto struct {
	DimValue int64  // Static dimension value (e.g., 224 for image size)
	DimParam string // Dynamic dimension name (e.g., "batch_size")
}

// AttributeProto represents node attributes.
type AttributeProto struct {
	Name      string        // Attribute name
	Type      int32         // Attribute type
	F         float32       // FLOAT value
	I         int64         // INT value
	S         []byte        // STRING value
	T         *TensorProto  // TENSOR value
	G         *GraphProto   // GRAPH value
	Floats    []float32     // FLOATS array
	Ints      []int64       // INTS array
	Strings   [][]byte      // STRINGS array
	Tensors   []TensorProto // TENSORS array
	Graphs    []GraphProto  // GRAPHS array
	DocString string        // Description
}

// OperatorSetID identifies opset version.
type OperatorSetID struct {
	Domain  string // Operator domain (empty for default)
	Version int64  // Opset version number
}

// StringStringEntry represents key-value metadata.
type StringStringEntry struct {
	Key   string
	Value string
}

// ONNX data types (TensorProto.DataType).
const (
	TensorProtoUndefined  = 0
	TensorProtoFloat      = 1  // float32
	TensorProtoUint8      = 2  // uint8
	TensorProtoInt8       = 3  // int8
	TensorProtoUint16     = 4  // uint16
	TensorProtoInt16      = 5  // int16
	TensorProtoInt32      = 6  // int32
	TensorProtoInt64      = 7  // int64
	TensorProtoString     = 8  // string
	TensorProtoBool       = 9  // bool
	TensorProtoFloat16    = 10 // float16
	TensorProtoDouble     = 11 // float64
	TensorProtoUint32     = 12 // uint32
	TensorProtoUint64     = 13 // uint64
	TensorProtoComplex64  = 14 // complex64
	TensorProtoComplex128 = 15 // complex128
	TensorProtoBfloat16   = 16 // bfloat16
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1  // FLOAT
	AttributeProtoInt       = 2  // INT
	AttributeProtoString    = 3  // STRING
	AttributeProtoTensor    = 4  // TENSOR
	AttributeProtoGraph     = 5  // GRAPH
	AttributeProtoFloats    = 6  // FLOATS
	AttributeProtoInts      = 7  // INTS
	AttributeProtoStrings   = 8  // STRINGS
	AttributeProtoTensors   = 9  // TENSORS
	AttributeProtoGraphs    = 10 // GRAPHS
)

// TensorProto.DataLocation values.
const (
	DataLocationDefault  = 0
	DataLocationExternal = 1
)

// ElemSize returns the byte size of one element of an ONNX data type,
// or 0 for variable-size and unknown types.
func ElemSize(dataType int32) int {
	switch dataType {
	case TensorProtoUint8, TensorProtoInt8, TensorProtoBool:
		return 1
	case TensorProtoUint16, TensorProtoInt16, TensorProtoFloat16, TensorProtoBfloat16:
		return 2
	case TensorProtoFloat, TensorProtoInt32, TensorProtoUint32:
		return 4
	case TensorProtoInt64, TensorProtoUint64, TensorProtoDouble, TensorProtoComplex64:
		return 8
	case TensorProtoComplex128:
		return 16
	default:
		return 0
	}
}

// ValidElemType reports whether dataType names a concrete ONNX element type.
func ValidElemType(dataType int32) bool {
	return dataType > TensorProtoUndefined && dataType <= TensorProtoBfloat16
}

// Attr returns the attribute called name, or nil.
func (n *NodeProto) Attr(name string) *AttributeProto {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i]
		}
	}
	return nil
}

// AttrInt builds an INT attribute.
func AttrInt(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

// AttrInts builds an INTS attribute.
func AttrInts(name string, v []int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInts, Ints: v}
}

// AttrFloat builds a FLOAT attribute.
func AttrFloat(name string, v float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloat, F: v}
}

// AttrString builds a STRING attribute.
func AttrString(name, v string) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoString, S: []byte(v)}
}

// TensorValueInfo describes a tensor-typed graph input or output.
func TensorValueInfo(name string, elemType int32, dims []DimensionProto) ValueInfoProto {
	return ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{
			ElemType: elemType,
			Shape:    &TensorShapeProto{Dims: dims},
		}},
	}
}

// DefaultOpset returns the version imported for the default operator domain, or 0.
func (m *ModelProto) DefaultOpset() int64 {
	for _, opset := range m.OpsetImport {
		if isDefaultDomain(opset.Domain) {
			return opset.Version
		}
	}
	return 0
}

func isDefaultDomain(domain string) bool {
	return domain == "" || domain == "ai.onnx"
}
