package onnx

import (
	"errors"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when the input is not a well-formed ONNX protobuf message.
var ErrMalformed = errors.New("malformed onnx model")

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: Path is provided by user, file inclusion is intentional for ONNX model loading
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes.
func Parse(data []byte) (*ModelProto, error) {
	model := &ModelProto{}
	if err := decodeModel(data, model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return model, nil
}

// wireReader walks the fields of one message.
type wireReader struct {
	b []byte
}

func (r *wireReader) done() bool {
	return len(r.b) == 0
}

func (r *wireReader) next() (protowire.Number, protowire.Type, error) {
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
	}
	r.b = r.b[n:]
	return num, typ, nil
}

func (r *wireReader) advance(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
	}
	r.b = r.b[n:]
	return nil
}

func expect(typ, want protowire.Type) error {
	if typ != want {
		return fmt.Errorf("%w: wire type %d, want %d", ErrMalformed, typ, want)
	}
	return nil
}

func (r *wireReader) skip(num protowire.Number, typ protowire.Type) error {
	return r.advance(protowire.ConsumeFieldValue(num, typ, r.b))
}

func (r *wireReader) varint(typ protowire.Type) (uint64, error) {
	if err := expect(typ, protowire.VarintType); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeVarint(r.b)
	return v, r.advance(n)
}

func (r *wireReader) int64(typ protowire.Type) (int64, error) {
	v, err := r.varint(typ)
	return int64(v), err //nolint:gosec // G115: proto int64 is two's complement.
}

func (r *wireReader) int32(typ protowire.Type) (int32, error) {
	v, err := r.varint(typ)
	return int32(v), err //nolint:gosec // G115: proto int32 is sign-extended on the wire.
}

func (r *wireReader) bytes(typ protowire.Type) ([]byte, error) {
	if err := expect(typ, protowire.BytesType); err != nil {
		return nil, err
	}
	v, n := protowire.ConsumeBytes(r.b)
	if err := r.advance(n); err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (r *wireReader) string(typ protowire.Type) (string, error) {
	v, err := r.bytes(typ)
	return string(v), err
}

func (r *wireReader) float32(typ protowire.Type) (float32, error) {
	if err := expect(typ, protowire.Fixed32Type); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeFixed32(r.b)
	return math.Float32frombits(v), r.advance(n)
}

// int64s appends one element, or a packed run of elements, of a repeated varint field.
func (r *wireReader) int64s(typ protowire.Type, dst []int64) ([]int64, error) {
	if typ == protowire.VarintType {
		v, err := r.int64(typ)
		return append(dst, v), err
	}
	packed, err := r.bytes(typ)
	if err != nil {
		return dst, err
	}
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return dst, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		dst = append(dst, int64(v)) //nolint:gosec // G115: two's complement.
		packed = packed[n:]
	}
	return dst, nil
}

func (r *wireReader) int32s(typ protowire.Type, dst []int32) ([]int32, error) {
	vals, err := r.int64s(typ, nil)
	for _, v := range vals {
		dst = append(dst, int32(v)) //nolint:gosec // G115: sign-extended int32 on the wire.
	}
	return dst, err
}

// float32s appends one element, or a packed run, of a repeated fixed32 float field.
func (r *wireReader) float32s(typ protowire.Type, dst []float32) ([]float32, error) {
	if typ == protowire.Fixed32Type {
		v, err := r.float32(typ)
		return append(dst, v), err
	}
	packed, err := r.bytes(typ)
	if err != nil {
		return dst, err
	}
	for len(packed) > 0 {
		v, n := protowire.ConsumeFixed32(packed)
		if n < 0 {
			return dst, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		dst = append(dst, math.Float32frombits(v))
		packed = packed[n:]
	}
	return dst, nil
}

func (r *wireReader) float64s(typ protowire.Type, dst []float64) ([]float64, error) {
	if typ == protowire.Fixed64Type {
		v, n := protowire.ConsumeFixed64(r.b)
		return append(dst, math.Float64frombits(v)), r.advance(n)
	}
	packed, err := r.bytes(typ)
	if err != nil {
		return dst, err
	}
	for len(packed) > 0 {
		v, n := protowire.ConsumeFixed64(packed)
		if n < 0 {
			return dst, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		dst = append(dst, math.Float64frombits(v))
		packed = packed[n:]
	}
	return dst, nil
}

// message decodes an embedded message field.
func message[T any](r *wireReader, typ protowire.Type, decode func([]byte, *T) error) (T, error) {
	var msg T
	data, err := r.bytes(typ)
	if err != nil {
		return msg, err
	}
	err = decode(data, &msg)
	return msg, err
}

func fieldError(msg string, num protowire.Number, err error) error {
	return fmt.Errorf("%s field %d: %w", msg, num, err)
}

//nolint:gocyclo // one case per field
func decodeModel(data []byte, m *ModelProto) error {
	r := &wireReader{b: data}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}

		switch num {
		case 1: // ir_version
			m.IRVersion, err = r.int64(typ)
		case 2: // producer_name
			m.ProducerName, err = r.string(typ)
		case 3: // producer_version
			m.ProducerVersion, err = r.string(typ)
		case 4: // domain
			m.Domain, err = r.string(typ)
		case 5: // model_version
			m.ModelVersion, err = r.int64(typ)
		case 6: // doc_string
			m.DocString, err = r.string(typ)
		case 7: // graph
			var g GraphProto
			g, err = message(r, typ, decodeGraph)
			m.Graph = &g
		case 8: // opset_import
			var op OperatorSetID
			op, err = message(r, typ, decodeOperatorSetID)
			m.OpsetImport = append(m.OpsetImport, op)
		case 14: // metadata_props
			var e StringStringEntry
			e, err = message(r, typ, decodeStringStringEntry)
			m.MetadataProps = append(m.MetadataProps, e)
		default:
			err = r.skip(num, typ)
		}

		if err != nil {
			return fieldError("ModelProto", num, err)
		}
	}
	return nil
}

func decodeGraph(data []byte, g *GraphProto) error {
	r := &wireReader{b: data}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}

		switch num {
		case 1: // node
			var n NodeProto
			n, err = message(r, typ, decodeNode)
			g.Nodes = append(g.Nodes, n)
		case 2: // name
			g.Name, err = r.string(typ)
		case 5: // initializer
			var t TensorProto
			t, err = message(r, typ, decodeTensor)
			g.Initializers = append(g.Initializers, t)
		case 10: // doc_string
			g.DocString, err = r.string(typ)
		case 11: // input
			var v ValueInfoProto
			v, err = message(r, typ, decodeValueInfo)
			g.Inputs = append(g.Inputs, v)
		case 12: // output
			var v ValueInfoProto
			v, err = message(r, typ, decodeValueInfo)
			g.Outputs = append(g.Outputs, v)
		case 13: // value_info
			var v ValueInfoProto
			v, err = message(r, typ, decodeValueInfo)
			g.ValueInfo = append(g.ValueInfo, v)
		default:
			err = r.skip(num, typ)
		}

		if err != nil {
			return fieldError("GraphProto", num, err)
		}
	}
	return nil
}

func decodeNode(data []byte, n *NodeProto) error {
	r := &wireReader{b: data}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}

		switch num {
		case 1: // input
			var s string
			s, err = r.string(typ)
			n.Inputs = append(n.Inputs, s)
		case 2: // output
			var s string
			s, err = r.string(typ)
			n.Outputs = append(n.Outputs, s)
		case 3: // name
			n.Name, err = r.string(typ)
		case 4: // op_type
			n.OpType, err = r.string(typ)
		case 5: // attribute
			var a AttributeProto
			a, err = message(r, typ, decodeAttribute)
			n.Attributes = append(n.Attributes, a)
		case 6: // doc_string
			n.DocString, err = r.string(typ)
		case 7: // domain
			n.Domain, err = r.string(typ)
		default:
			err = r.skip(num, typ)
		}

		if err != nil {
			return fieldError("NodeProto", num, err)
		}
	}
	return nil
}

//nolint:gocyclo // one case per field
func decodeAttribute(data []byte, a *AttributeProto) error {
	r := &wireReader{b: data}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}

		switch num {
		case 1: // name
			a.Name, err = r.string(typ)
		case 2: // f
			a.F, err = r.float32(typ)
		case 3: // i
			a.I, err = r.int64(typ)
		case 4: // s
			a.S, err = r.bytes(typ)
		case 5: // t
			var t TensorProto
			t, err = message(r, typ, decodeTensor)
			a.T = &t
		case 6: // g
			var g GraphProto
			g, err = message(r, typ, decodeGraph)
			a.G = &g
		case 7: // floats
			a.Floats, err = r.float32s(typ, a.Floats)
		case 8: // ints
			a.Ints, err = r.int64s(typ, a.Ints)
		case 9: // strings
			var s []byte
			s, err = r.bytes(typ)
			a.Strings = append(a.Strings, s)
		case 10: // tensors
			var t TensorProto
			t, err = message(r, typ, decodeTensor)
			a.Tensors = append(a.Tensors, t)
		case 11: // graphs
			var g GraphProto
			g, err = message(r, typ, decodeGraph)
			a.Graphs = append(a.Graphs, g)
		case 13: // doc_string
			a.DocString, err = r.string(typ)
		case 20: // type
			a.Type, err = r.int32(typ)
		default:
			err = r.skip(num, typ)
		}

		if err != nil {
			return fieldError("AttributeProto", num, err)
		}
	}
	return nil
}

//nolint:gocyclo // one case per field
func decodeTensor(data []byte, t *TensorProto) error {
	r := &wireReader{b: data}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}

		switch num {
		case 1: // dims
			t.Dims, err = r.int64s(typ, t.Dims)
		case 2: // data_type
			t.DataType, err = r.int32(typ)
		case 4: // float_data
			t.FloatData, err = r.float32s(typ, t.FloatData)
		case 5: // int32_data
			t.Int32Data, err = r.int32s(typ, t.Int32Data)
		case 6: // string_data
			var s []byte
			s, err = r.bytes(typ)
			t.StringData = append(t.StringData, s)
		case 7: // int64_data
			t.Int64Data, err = r.int64s(typ, t.Int64Data)
		case 8: // name
			t.Name, err = r.string(typ)
		case 9: // raw_data
			t.RawData, err = r.bytes(typ)
		case 10: // double_data
			t.DoubleData, err = r.float64s(typ, t.DoubleData)
		case 12: // doc_string
			t.DocString, err = r.string(typ)
		case 13: // external_data
			var e StringStringEntry
			e, err = message(r, typ, decodeStringStringEntry)
			t.ExternalData = append(t.ExternalData, e)
		case 14: // data_location
			t.DataLocation, err = r.int32(typ)
		default:
			err = r.skip(num, typ)
		}

		if err != nil {
			return fieldError("TensorProto", num, err)
		}
	}
	return nil
}

func decodeValueInfo(data []byte, v *ValueInfoProto) error {
	r := &wireReader{b: data}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}

		switch num {
		case 1: // name
			v.Name, err = r.string(typ)
		case 2: // type
			var tp TypeProto
			tp, err = message(r, typ, decodeType)
			v.Type = &tp
		case 3: // doc_string
			v.DocString, err = r.string(typ)
		default:
			err = r.skip(num, typ)
		}

		if err != nil {
			return fieldError("ValueInfoProto", num, err)
		}
	}
	return nil
}

func decodeType(data []byte, tp *TypeProto) error {
	r := &wireReader{b: data}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}

		if num == 1 { // tensor_type
			var tt TensorTypeProto
			tt, err = message(r, typ, decodeTensorType)
			tp.TensorType = &tt
		} else {
			err = r.skip(num, typ)
		}

		if err != nil {
			return fieldError("TypeProto", num, err)
		}
	}
	return nil
}

func decodeTensorType(data []byte, tt *TensorTypeProto) error {
	r := &wireReader{b: data}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}

		switch num {
		case 1: // elem_type
			tt.ElemType, err = r.int32(typ)
		case 2: // shape
			var s TensorShapeProto
			s, err = message(r, typ, decodeTensorShape)
			tt.Shape = &s
		default:
			err = r.skip(num, typ)
		}

		if err != nil {
			return fieldError("TypeProto.Tensor", num, err)
		}
	}
	return nil
}

func decodeTensorShape(data []byte, s *TensorShapeProto) error {
	r := &wireReader{b: data}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}

		if num == 1 { // dim
			var d DimensionProto
			d, err = message(r, typ, decodeDimension)
			s.Dims = append(s.Dims, d)
		} else {
			err = r.skip(num, typ)
		}

		if err != nil {
			return fieldError("TensorShapeProto", num, err)
		}
	}
	return nil
}

func decodeDimension(data []byte, d *DimensionProto) error {
	r := &wireReader{b: data}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}

		switch num {
		case 1: // dim_value
			d.DimValue, err = r.int64(typ)
		case 2: // dim_param
			d.DimParam, err = r.string(typ)
		default:
			err = r.skip(num, typ)
		}

		if err != nil {
			return fieldError("Dimension", num, err)
		}
	}
	return nil
}

func decodeOperatorSetID(data []byte, op *OperatorSetID) error {
	r := &wireReader{b: data}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}

		switch num {
		case 1: // domain
			op.Domain, err = r.string(typ)
		case 2: // version
			op.Version, err = r.int64(typ)
		default:
			err = r.skip(num, typ)
		}

		if err != nil {
			return fieldError("OperatorSetIdProto", num, err)
		}
	}
	return nil
}

func decodeStringStringEntry(data []byte, e *StringStringEntry) error {
	r := &wireReader{b: data}
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}

		switch num {
		case 1: // key
			e.Key, err = r.string(typ)
		case 2: // value
			e.Value, err = r.string(typ)
		default:
			err = r.skip(num, typ)
		}

		if err != nil {
			return fieldError("StringStringEntryProto", num, err)
		}
	}
	return nil
}
