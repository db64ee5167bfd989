package convert

import (
	"fmt"
	"sort"

	"github.com/brainvision/onnxconv/internal/onnx"
	"github.com/brainvision/onnxconv/internal/savedmodel"
	"github.com/brainvision/onnxconv/internal/tensor"
)

// Layout permutations.
var (
	permToNCHW = channelsFirst(4)
	permToNHWC = channelsLast(4)
	permOIHW   = []int{3, 2, 0, 1} // HWIO kernel to OIHW
)

// Context collects the ONNX graph while handlers lower ops.
type Context struct {
	Opset int64

	sm      *savedmodel.SavedModel
	nodes   []onnx.NodeProto
	inits   []onnx.TensorProto
	defined map[string]bool
	shapes  map[string][]int64
	rename  map[string]string
	bias    map[string]string
}

func newContext(sm *savedmodel.SavedModel, opset int64) *Context {
	c := &Context{
		Opset:   opset,
		sm:      sm,
		defined: make(map[string]bool),
		shapes:  make(map[string][]int64),
		rename:  make(map[string]string),
		bias:    make(map[string]string),
	}
	for _, sig := range sm.Signatures {
		for _, in := range sig.Inputs {
			c.shapes[in.Name] = in.Shape
		}
	}
	for i := range sm.Nodes {
		n := &sm.Nodes[i]
		if len(n.OutputShapes) > 0 {
			c.shapes[n.Output()] = n.OutputShapes[0]
		}
	}
	for name, v := range sm.Variables {
		c.shapes[name] = v.Shape().Int64s()
	}
	return c
}

// Shape returns the NHWC shape of an export tensor, or nil if unknown.
func (c *Context) Shape(name string) []int64 {
	return c.shapes[name]
}

// FoldedBias returns the bias variable folded into node, if any.
func (c *Context) FoldedBias(node *savedmodel.Node) (string, bool) {
	b, ok := c.bias[node.Name]
	return b, ok
}

// Value returns the ONNX name of an export tensor. Variables are added as
// initializers on first use.
func (c *Context) Value(name string) (string, error) {
	if r, ok := c.rename[name]; ok {
		return r, nil
	}
	v, ok := c.sm.Variables[name]
	if !ok {
		return name, nil
	}
	if err := c.addVariable(name, v, nil); err != nil {
		return "", err
	}
	return name, nil
}

// Kernel adds a Conv2D kernel as an OIHW initializer and returns its name.
func (c *Context) Kernel(name string) (string, error) {
	v, ok := c.sm.Variables[name]
	if !ok {
		return "", fmt.Errorf("kernel %s is not a variable", name)
	}
	if len(v.Shape()) != 4 {
		return "", fmt.Errorf("kernel %s has shape %v, want HWIO", name, v.Shape())
	}
	if err := c.addVariable(name, v, permOIHW); err != nil {
		return "", err
	}
	return name, nil
}

func (c *Context) addVariable(name string, v *tensor.RawTensor, perm []int) error {
	if c.defined[name] {
		return nil
	}
	if v.DType().IsFloat() && v.DType() != tensor.Float32 {
		wide, err := v.ToFloat32()
		if err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
		v = wide
	}
	if perm != nil {
		t, err := v.Transpose(perm)
		if err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
		v = t
	}
	return c.AddInitializer(name, v)
}

// AddInitializer stores t as an initializer.
func (c *Context) AddInitializer(name string, t *tensor.RawTensor) error {
	if c.defined[name] {
		return fmt.Errorf("initializer %s already defined", name)
	}
	p, err := onnx.TensorFromRaw(name, t)
	if err != nil {
		return err
	}
	c.inits = append(c.inits, p)
	c.defined[name] = true
	return nil
}

// Int64s adds a 1-D int64 initializer.
func (c *Context) Int64s(name string, values []int64) (string, error) {
	t, err := tensor.FromInt64(tensor.Shape{len(values)}, values)
	if err != nil {
		return "", err
	}
	return name, c.AddInitializer(name, t)
}

// Scalar adds a float32 scalar initializer.
func (c *Context) Scalar(name string, v float32) (string, error) {
	t, err := tensor.FromFloat32(tensor.Shape{}, []float32{v})
	if err != nil {
		return "", err
	}
	return name, c.AddInitializer(name, t)
}

// AddNode appends a default-domain node with a single output.
func (c *Context) AddNode(opType string, inputs []string, output string, attrs ...onnx.AttributeProto) {
	c.nodes = append(c.nodes, onnx.NodeProto{
		Name:       output,
		OpType:     opType,
		Inputs:     inputs,
		Outputs:    []string{output},
		Attributes: attrs,
	})
	c.defined[output] = true
}

// ToNCHW transposes an NHWC value and returns the new value name.
func (c *Context) ToNCHW(value, base string) string {
	return c.ToChannelsFirst(value, base, 4)
}

// ToNHWC transposes an NCHW value into output.
func (c *Context) ToNHWC(value, output string) {
	c.ToChannelsLast(value, output, 4)
}

// ToChannelsFirst moves the last axis of a rank-r value to axis 1 and
// returns the new value name.
func (c *Context) ToChannelsFirst(value, base string, rank int) string {
	out := base + "/to_nchw"
	c.AddNode("Transpose", []string{value}, out, onnx.AttrInts("perm", channelsFirst(rank)))
	return out
}

// ToChannelsLast moves axis 1 of a rank-r value back to the last axis,
// writing output.
func (c *Context) ToChannelsLast(value, output string, rank int) {
	c.nodes = append(c.nodes, onnx.NodeProto{
		Name:       output + "/to_nhwc",
		OpType:     "Transpose",
		Inputs:     []string{value},
		Outputs:    []string{output},
		Attributes: []onnx.AttributeProto{onnx.AttrInts("perm", channelsLast(rank))},
	})
	c.defined[output] = true
}

// channelsFirst is [0, r-1, 1, ..., r-2].
func channelsFirst(rank int) []int64 {
	perm := make([]int64, 0, rank)
	perm = append(perm, 0, int64(rank-1))
	for i := 1; i < rank-1; i++ {
		perm = append(perm, int64(i))
	}
	return perm
}

// channelsLast is [0, 2, ..., r-1, 1].
func channelsLast(rank int) []int64 {
	perm := make([]int64, 0, rank)
	perm = append(perm, 0)
	for i := 2; i < rank; i++ {
		perm = append(perm, int64(i))
	}
	return append(perm, 1)
}

// sortedInitializers returns the initializers sorted by name.
func (c *Context) sortedInitializers() []onnx.TensorProto {
	out := make([]onnx.TensorProto, len(c.inits))
	copy(out, c.inits)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
