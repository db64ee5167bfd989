package convert

import "github.com/brainvision/onnxconv/internal/savedmodel"

func (r *Registry) registerMathOps() {
	r.Register(savedmodel.OpMul, binary("Mul"))
	r.Register(savedmodel.OpAdd, binary("Add"))
}

func binary(opType string) OpHandler {
	return func(ctx *Context, node *savedmodel.Node) error {
		a, err := ctx.Value(node.Inputs[0])
		if err != nil {
			return err
		}
		b, err := ctx.Value(node.Inputs[1])
		if err != nil {
			return err
		}
		ctx.AddNode(opType, []string{a, b}, node.Name)
		return nil
	}
}
