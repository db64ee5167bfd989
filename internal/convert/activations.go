package convert

import (
	"github.com/brainvision/onnxconv/internal/onnx"
	"github.com/brainvision/onnxconv/internal/savedmodel"
)

func (r *Registry) registerActivations() {
	r.Register(savedmodel.OpRelu, unary("Relu"))
	r.Register(savedmodel.OpSigmoid, unary("Sigmoid"))
	r.Register(savedmodel.OpTanh, unary("Tanh"))
	r.Register(savedmodel.OpIdentity, unary("Identity"))
	r.Register(savedmodel.OpRelu6, handleRelu6)
	r.Register(savedmodel.OpSoftmax, handleSoftmax)
}

func unary(opType string) OpHandler {
	return func(ctx *Context, node *savedmodel.Node) error {
		x, err := ctx.Value(node.Inputs[0])
		if err != nil {
			return err
		}
		ctx.AddNode(opType, []string{x}, node.Name)
		return nil
	}
}

// handleRelu6 emits Clip. Bounds are attributes before opset 11 and scalar
// inputs from 11 on.
func handleRelu6(ctx *Context, node *savedmodel.Node) error {
	x, err := ctx.Value(node.Inputs[0])
	if err != nil {
		return err
	}
	if ctx.Opset < 11 {
		ctx.AddNode("Clip", []string{x}, node.Name,
			onnx.AttrFloat("max", 6),
			onnx.AttrFloat("min", 0),
		)
		return nil
	}
	lo, err := ctx.Scalar(node.Name+"/min", 0)
	if err != nil {
		return err
	}
	hi, err := ctx.Scalar(node.Name+"/max", 6)
	if err != nil {
		return err
	}
	ctx.AddNode("Clip", []string{x, lo, hi}, node.Name)
	return nil
}

// handleSoftmax normalizes over the last axis. Before opset 13 Softmax
// coerces its input to 2-D at axis, so the last axis is named explicitly.
func handleSoftmax(ctx *Context, node *savedmodel.Node) error {
	x, err := ctx.Value(node.Inputs[0])
	if err != nil {
		return err
	}
	axis := int64(-1)
	if ctx.Opset < 13 {
		rank := len(ctx.Shape(node.Inputs[0]))
		if rank == 0 {
			rank = len(node.OutputShapes[0])
		}
		axis = int64(rank - 1)
	}
	ctx.AddNode("Softmax", []string{x}, node.Name, onnx.AttrInt("axis", axis))
	return nil
}
