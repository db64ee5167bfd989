package convert

import (
	"github.com/brainvision/onnxconv/internal/onnx"
	"github.com/brainvision/onnxconv/internal/savedmodel"
)

func (r *Registry) registerShapeOps() {
	r.Register(savedmodel.OpReshape, handleReshape)
	r.Register(savedmodel.OpMean, handleMean)
}

func handleReshape(ctx *Context, node *savedmodel.Node) error {
	x, err := ctx.Value(node.Inputs[0])
	if err != nil {
		return err
	}
	shape, err := ctx.Int64s(node.Name+"/shape", node.Attrs.Shape)
	if err != nil {
		return err
	}
	ctx.AddNode("Reshape", []string{x, shape}, node.Name)
	return nil
}

// handleMean emits ReduceMean over the NHWC axes. Axes are an attribute
// before opset 18 and an int64 input from 18 on.
func handleMean(ctx *Context, node *savedmodel.Node) error {
	x, err := ctx.Value(node.Inputs[0])
	if err != nil {
		return err
	}
	keep := int64(0)
	if node.Attrs.KeepDims {
		keep = 1
	}
	if ctx.Opset < 18 {
		ctx.AddNode("ReduceMean", []string{x}, node.Name,
			onnx.AttrInts("axes", node.Attrs.Axes),
			onnx.AttrInt("keepdims", keep),
		)
		return nil
	}
	axes, err := ctx.Int64s(node.Name+"/axes", node.Attrs.Axes)
	if err != nil {
		return err
	}
	ctx.AddNode("ReduceMean", []string{x, axes}, node.Name, onnx.AttrInt("keepdims", keep))
	return nil
}
