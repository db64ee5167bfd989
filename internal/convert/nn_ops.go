package convert

import (
	"fmt"

	"github.com/brainvision/onnxconv/internal/onnx"
	"github.com/brainvision/onnxconv/internal/savedmodel"
)

func (r *Registry) registerNNOps() {
	r.Register(savedmodel.OpConv2D, handleConv2D)
	r.Register(savedmodel.OpMaxPool, handlePool("MaxPool"))
	r.Register(savedmodel.OpAvgPool, handlePool("AveragePool"))
	r.Register(savedmodel.OpFusedBatchNorm, handleFusedBatchNorm)
	r.Register(savedmodel.OpMatMul, handleMatMul)
	r.Register(savedmodel.OpBiasAdd, handleBiasAdd)
}

func handleConv2D(ctx *Context, node *savedmodel.Node) error {
	x, err := ctx.Value(node.Inputs[0])
	if err != nil {
		return err
	}
	kshape := ctx.Shape(node.Inputs[1])
	if len(kshape) != 4 {
		return fmt.Errorf("kernel %s has shape %v, want HWIO", node.Inputs[1], kshape)
	}
	w, err := ctx.Kernel(node.Inputs[1])
	if err != nil {
		return err
	}

	inputs := []string{ctx.ToNCHW(x, node.Name), w}
	if b, ok := ctx.FoldedBias(node); ok {
		bias, err := ctx.Value(b)
		if err != nil {
			return err
		}
		inputs = append(inputs, bias)
	}

	kernel := []int64{kshape[0], kshape[1]}
	attrs := []onnx.AttributeProto{
		onnx.AttrInts("dilations", spatial(node.Attrs.Dilations)),
		onnx.AttrInts("kernel_shape", kernel),
	}
	attrs = append(attrs, padAttrs(ctx.Shape(node.Inputs[0]), kernel, node.Attrs)...)
	attrs = append(attrs, onnx.AttrInts("strides", spatial(node.Attrs.Strides)))

	nchw := node.Name + "/nchw"
	ctx.AddNode("Conv", inputs, nchw, attrs...)
	ctx.ToNHWC(nchw, node.Name)
	return nil
}

func handlePool(opType string) OpHandler {
	return func(ctx *Context, node *savedmodel.Node) error {
		x, err := ctx.Value(node.Inputs[0])
		if err != nil {
			return err
		}
		if len(node.Attrs.KSize) != 2 {
			return fmt.Errorf("ksize %v, want [h, w]", node.Attrs.KSize)
		}
		kernel := ints64(node.Attrs.KSize)
		attrs := []onnx.AttributeProto{onnx.AttrInts("kernel_shape", kernel)}
		attrs = append(attrs, padAttrs(ctx.Shape(node.Inputs[0]), kernel, node.Attrs)...)
		attrs = append(attrs, onnx.AttrInts("strides", spatial(node.Attrs.Strides)))

		nchw := node.Name + "/nchw"
		ctx.AddNode(opType, []string{ctx.ToNCHW(x, node.Name)}, nchw, attrs...)
		ctx.ToNHWC(nchw, node.Name)
		return nil
	}
}

// padAttrs returns explicit pads for SAME padding when the spatial input size
// is known, auto_pad SAME_UPPER when it is not, and nothing for VALID.
func padAttrs(inShape, kernel []int64, a savedmodel.Attrs) []onnx.AttributeProto {
	if a.Padding != savedmodel.PaddingSame {
		return nil
	}
	if len(inShape) != 4 || inShape[1] < 0 || inShape[2] < 0 {
		return []onnx.AttributeProto{onnx.AttrString("auto_pad", "SAME_UPPER")}
	}
	strides := spatial(a.Strides)
	dilations := spatial(a.Dilations)
	begin := make([]int64, 2)
	end := make([]int64, 2)
	for i := 0; i < 2; i++ {
		in := inShape[1+i]
		out := (in + strides[i] - 1) / strides[i]
		total := (out-1)*strides[i] + (kernel[i]-1)*dilations[i] + 1 - in
		if total < 0 {
			total = 0
		}
		begin[i] = total / 2
		end[i] = total - begin[i]
	}
	return []onnx.AttributeProto{onnx.AttrInts("pads", []int64{begin[0], begin[1], end[0], end[1]})}
}

func handleFusedBatchNorm(ctx *Context, node *savedmodel.Node) error {
	inputs := make([]string, len(node.Inputs))
	for i, in := range node.Inputs {
		v, err := ctx.Value(in)
		if err != nil {
			return err
		}
		inputs[i] = v
	}
	eps := onnx.AttrFloat("epsilon", float32(node.Attrs.Epsilon))

	// BatchNormalization normalizes axis 1; the export keeps channels last.
	rank := len(ctx.Shape(node.Inputs[0]))
	if rank < 3 {
		ctx.AddNode("BatchNormalization", inputs, node.Name, eps)
		return nil
	}
	inputs[0] = ctx.ToChannelsFirst(inputs[0], node.Name, rank)
	nchw := node.Name + "/nchw"
	ctx.AddNode("BatchNormalization", inputs, nchw, eps)
	ctx.ToChannelsLast(nchw, node.Name, rank)
	return nil
}

// handleMatMul emits Gemm for a rank-2 input with a folded bias, and
// MatMul followed by Add otherwise.
func handleMatMul(ctx *Context, node *savedmodel.Node) error {
	x, err := ctx.Value(node.Inputs[0])
	if err != nil {
		return err
	}
	w, err := ctx.Value(node.Inputs[1])
	if err != nil {
		return err
	}
	b, ok := ctx.FoldedBias(node)
	if !ok {
		ctx.AddNode("MatMul", []string{x, w}, node.Name)
		return nil
	}
	bias, err := ctx.Value(b)
	if err != nil {
		return err
	}
	if len(ctx.Shape(node.Inputs[0])) == 2 {
		ctx.AddNode("Gemm", []string{x, w, bias}, node.Name)
		return nil
	}
	mm := node.Name + "/MatMul"
	ctx.AddNode("MatMul", []string{x, w}, mm)
	ctx.AddNode("Add", []string{mm, bias}, node.Name)
	return nil
}

// handleBiasAdd covers bias adds that could not be folded. The bias
// broadcasts over the last (channel) axis.
func handleBiasAdd(ctx *Context, node *savedmodel.Node) error {
	return binary("Add")(ctx, node)
}

// spatial returns a [h, w] attribute, defaulting to ones.
func spatial(v []int) []int64 {
	if len(v) != 2 {
		return []int64{1, 1}
	}
	return ints64(v)
}

func ints64(v []int) []int64 {
	out := make([]int64, len(v))
	for i, x := range v {
		out[i] = int64(x)
	}
	return out
}
