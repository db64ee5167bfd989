package savedmodel

import (
	"fmt"

	"github.com/brainvision/onnxconv/internal/model"
	"github.com/brainvision/onnxconv/internal/tensor"
	"github.com/brainvision/onnxconv/internal/version"
)

// FormatVersion is the saved_model.json layout version.
const FormatVersion = 1

// tracer accumulates nodes while walking the layers.
type tracer struct {
	nodes     []Node
	variables map[string]*tensor.RawTensor
}

// layerOps collects the ops of one layer. The last op is renamed after the layer.
type layerOps struct {
	t     *tracer
	layer string
	shape []int64
	first int
	prev  string
}

func (t *tracer) begin(layer string, input string, shape []int64) *layerOps {
	return &layerOps{t: t, layer: layer, shape: shape, first: len(t.nodes), prev: input}
}

// add appends op reading the previous output and extra inputs.
func (l *layerOps) add(op string, attrs Attrs, extra ...string) {
	name := l.layer + "/" + op
	l.t.nodes = append(l.t.nodes, Node{
		Name:         name,
		Op:           op,
		Inputs:       append([]string{l.prev}, extra...),
		Attrs:        attrs,
		OutputShapes: [][]int64{cloneShape(l.shape)},
	})
	l.prev = name
}

// end renames the last op after the layer and returns the layer's output name.
func (l *layerOps) end() string {
	if len(l.t.nodes) == l.first {
		l.add(OpIdentity, Attrs{})
	}
	last := &l.t.nodes[len(l.t.nodes)-1]
	last.Name = l.layer
	return l.layer
}

// Trace lowers m into primitive ops.
//
//nolint:gocyclo // one case per layer class
func Trace(m *model.Model) (*SavedModel, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	specs, err := m.LayerShapes()
	if err != nil {
		return nil, err
	}

	t := &tracer{variables: make(map[string]*tensor.RawTensor, len(m.Weights))}
	for name, w := range m.Weights {
		t.variables[name] = w
	}

	in := m.Inputs()[0]
	sig := SignatureDef{Inputs: []TensorInfo{{Name: in.Name, DType: in.DType.String(), Shape: cloneShape(in.Shape)}}}

	prev := in.Name
	for i, l := range m.Layers {
		if l.ClassName == model.ClassInputLayer {
			continue
		}
		c := l.Config
		ops := t.begin(l.Name(), prev, specs[i].Shape)

		switch l.ClassName {
		case model.ClassDense:
			ops.add(OpMatMul, Attrs{}, l.WeightName(model.ParamKernel))
			if c.UseBias {
				ops.add(OpBiasAdd, Attrs{}, l.WeightName(model.ParamBias))
			}

		case model.ClassConv2D:
			ops.add(OpConv2D, Attrs{
				DataFormat: "NHWC",
				Strides:    pairOr(c.Strides, 1),
				Dilations:  pairOr(c.DilationRate, 1),
				Padding:    padding(c.Padding),
			}, l.WeightName(model.ParamKernel))
			if c.UseBias {
				ops.add(OpBiasAdd, Attrs{DataFormat: "NHWC"}, l.WeightName(model.ParamBias))
			}

		case model.ClassMaxPooling2D, model.ClassAveragePooling2D:
			op := OpMaxPool
			if l.ClassName == model.ClassAveragePooling2D {
				op = OpAvgPool
			}
			ksize := pairOr(c.PoolSize, 2)
			strides := ksize
			if len(c.Strides) > 0 {
				strides = pairOr(c.Strides, 1)
			}
			ops.add(op, Attrs{DataFormat: "NHWC", KSize: ksize, Strides: strides, Padding: padding(c.Padding)})

		case model.ClassGlobalAveragePooling2D:
			ops.add(OpMean, Attrs{Axes: []int64{1, 2}})

		case model.ClassFlatten, model.ClassReshape:
			target := cloneShape(specs[i].Shape)
			target[0] = -1
			ops.add(OpReshape, Attrs{Shape: target})

		case model.ClassDropout:
			ops.add(OpIdentity, Attrs{})

		case model.ClassBatchNormalization:
			ops.add(OpFusedBatchNorm, Attrs{Epsilon: c.Epsilon},
				l.WeightName(model.ParamGamma),
				l.WeightName(model.ParamBeta),
				l.WeightName(model.ParamMovingMean),
				l.WeightName(model.ParamMovingVariance),
			)

		case model.ClassRescaling:
			scale := l.WeightName("scale")
			if err := t.constant(scale, float32(c.Scale)); err != nil {
				return nil, err
			}
			ops.add(OpMul, Attrs{}, scale)
			if c.Offset != 0 {
				offset := l.WeightName("offset")
				if err := t.constant(offset, float32(c.Offset)); err != nil {
					return nil, err
				}
				ops.add(OpAdd, Attrs{}, offset)
			}

		case model.ClassActivation, model.ClassReLU, model.ClassSoftmax:
			// Handled below as the layer's activation.

		default:
			return nil, fmt.Errorf("%w: layer %s: class %q", model.ErrUnsupportedLayer, l.Name(), l.ClassName)
		}

		if act := l.FusedActivation(); act != "" {
			op, err := activationOp(act)
			if err != nil {
				return nil, fmt.Errorf("layer %s: %w", l.Name(), err)
			}
			ops.add(op, Attrs{})
		}
		prev = ops.end()
	}

	out := specs[len(specs)-1]
	sig.Outputs = []TensorInfo{{Name: prev, DType: out.DType.String(), Shape: cloneShape(out.Shape)}}

	return &SavedModel{
		Name:       m.Name,
		Producer:   version.Name + " " + version.Version,
		Tags:       []string{TagServe},
		Signatures: map[string]SignatureDef{ServingSignature: sig},
		Nodes:      t.nodes,
		Variables:  t.variables,
	}, nil
}

func (t *tracer) constant(name string, v float32) error {
	if _, ok := t.variables[name]; ok {
		return fmt.Errorf("%w: constant %s collides with a weight", ErrMalformed, name)
	}
	c, err := tensor.FromFloat32(tensor.Shape{}, []float32{v})
	if err != nil {
		return err
	}
	t.variables[name] = c
	return nil
}

func activationOp(act string) (string, error) {
	switch act {
	case model.ActivationReLU:
		return OpRelu, nil
	case model.ActivationReLU6:
		return OpRelu6, nil
	case model.ActivationSigmoid:
		return OpSigmoid, nil
	case model.ActivationTanh:
		return OpTanh, nil
	case model.ActivationSoftmax:
		return OpSoftmax, nil
	}
	return "", fmt.Errorf("%w: activation %q", model.ErrUnsupportedLayer, act)
}

func padding(p string) string {
	if p == model.PaddingSame {
		return PaddingSame
	}
	return PaddingValid
}

// pairOr expands a one- or two-element window parameter, defaulting to def.
func pairOr(v []int, def int) []int {
	switch len(v) {
	case 0:
		return []int{def, def}
	case 1:
		return []int{v[0], v[0]}
	default:
		return []int{v[0], v[1]}
	}
}

func cloneShape(s []int64) []int64 {
	out := make([]int64, len(s))
	copy(out, s)
	return out
}
