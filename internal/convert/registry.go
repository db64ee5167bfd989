package convert

import (
	"fmt"
	"sort"

	"github.com/brainvision/onnxconv/internal/savedmodel"
)

// OpHandler lowers one export op into ONNX nodes added to ctx.
type OpHandler func(ctx *Context, node *savedmodel.Node) error

// Registry maps export op types to handler functions.
type Registry struct {
	handlers map[string]OpHandler
}

// NewRegistry creates a registry with every supported op.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]OpHandler),
	}

	r.registerNNOps()
	r.registerActivations()
	r.registerShapeOps()
	r.registerMathOps()

	return r
}

// Register adds or replaces the handler for an op type.
func (r *Registry) Register(op string, handler OpHandler) {
	r.handlers[op] = handler
}

// Get returns the handler for an op type.
func (r *Registry) Get(op string) (OpHandler, bool) {
	h, ok := r.handlers[op]
	return h, ok
}

// Lower runs the handler for node.
func (r *Registry) Lower(ctx *Context, node *savedmodel.Node) error {
	handler, ok := r.handlers[node.Op]
	if !ok {
		return fmt.Errorf("%w: %s (node %s) at opset %d", ErrUnsupportedOp, node.Op, node.Name, ctx.Opset)
	}
	if err := handler(ctx, node); err != nil {
		return fmt.Errorf("node %s (%s): %w", node.Name, node.Op, err)
	}
	return nil
}

// SupportedOps returns the registered op types, sorted.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
