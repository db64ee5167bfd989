package onnx

import (
	"fmt"
	"sort"
)

// Opset and IR version bounds.
const (
	MinSupportedOpset = 7
	MaxSupportedOpset = 21
	DefaultOpset      = 13

	MinIRVersion = 3
	MaxIRVersion = 10
)

// irVersions maps the first opset of each IR version to that IR version.
var irVersions = []struct {
	opset int64
	ir    int64
}{
	{1, 3},
	{9, 4},
	{10, 5},
	{11, 6},
	{12, 7},
	{15, 8},
	{19, 9},
	{21, 10},
}

// IRVersionForOpset returns the lowest IR version that can carry the default-domain opset.
func IRVersionForOpset(opset int64) (int64, error) {
	if opset < 1 || opset > MaxSupportedOpset {
		return 0, fmt.Errorf("opset %d outside [1, %d]", opset, MaxSupportedOpset)
	}
	ir := int64(MinIRVersion)
	for _, v := range irVersions {
		if opset >= v.opset {
			ir = v.ir
		}
	}
	return ir, nil
}

// OpVersion is one revision of an operator.
type OpVersion struct {
	Since     int64
	MinInputs int
	MaxInputs int
}

// OpSchema lists the revisions of an operator in the default domain.
type OpSchema struct {
	OpType   string
	Versions []OpVersion
}

// At returns the revision in effect at opset, if the operator exists there.
func (s *OpSchema) At(opset int64) (OpVersion, bool) {
	var found OpVersion
	ok := false
	for _, v := range s.Versions {
		if v.Since <= opset {
			found, ok = v, true
		}
	}
	return found, ok
}

func fixed(n int, since ...int64) []OpVersion {
	out := make([]OpVersion, len(since))
	for i, v := range since {
		out[i] = OpVersion{Since: v, MinInputs: n, MaxInputs: n}
	}
	return out
}

var schemas = map[string]*OpSchema{
	"Conv":               {Versions: []OpVersion{{1, 2, 3}, {11, 2, 3}}},
	"MaxPool":            {Versions: fixed(1, 1, 8, 10, 11, 12)},
	"AveragePool":        {Versions: fixed(1, 1, 7, 10, 11, 19)},
	"Relu":               {Versions: fixed(1, 1, 6, 13, 14)},
	"Sigmoid":            {Versions: fixed(1, 1, 6, 13)},
	"Tanh":               {Versions: fixed(1, 1, 6, 13)},
	"Softmax":            {Versions: fixed(1, 1, 11, 13)},
	"BatchNormalization": {Versions: fixed(5, 1, 6, 7, 9, 14, 15)},
	"Transpose":          {Versions: fixed(1, 1, 13, 21)},
	"Reshape":            {Versions: append([]OpVersion{{1, 1, 1}}, fixed(2, 5, 13, 14, 19, 21)...)},
	"MatMul":             {Versions: fixed(2, 1, 9, 13)},
	"Gemm":               {Versions: []OpVersion{{1, 3, 3}, {6, 3, 3}, {7, 3, 3}, {9, 3, 3}, {11, 2, 3}, {13, 2, 3}}},
	"Add":                {Versions: fixed(2, 1, 6, 7, 13, 14)},
	"Mul":                {Versions: fixed(2, 1, 6, 7, 13, 14)},
	"Clip":               {Versions: []OpVersion{{1, 1, 1}, {6, 1, 1}, {11, 1, 3}, {12, 1, 3}, {13, 1, 3}}},
	"ReduceMean":         {Versions: []OpVersion{{1, 1, 1}, {11, 1, 1}, {13, 1, 1}, {18, 1, 2}}},
	"Identity":           {Versions: fixed(1, 1, 13, 14, 16, 19, 21)},
}

func init() {
	for name, s := range schemas {
		s.OpType = name
	}
}

// LookupSchema returns the schema of a default-domain operator.
func LookupSchema(opType string) (*OpSchema, bool) {
	s, ok := schemas[opType]
	return s, ok
}

// KnownOps returns the names of all operators in the opset table, sorted.
func KnownOps() []string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
