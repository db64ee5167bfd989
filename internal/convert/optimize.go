package convert

import "github.com/brainvision/onnxconv/internal/onnx"

// Elementwise ops a transpose can move across.
var transposeTransparent = map[string]bool{
	"Relu":     true,
	"Sigmoid":  true,
	"Tanh":     true,
	"Clip":     true,
	"Identity": true,
}

// optimizeTransposes removes Transpose pairs that cancel, either back to back
// or around one elementwise op. Values in keep are never removed.
func optimizeTransposes(nodes []onnx.NodeProto, keep map[string]bool) []onnx.NodeProto {
	for {
		next, changed := cancelOnce(nodes, keep)
		if !changed {
			return next
		}
		nodes = next
	}
}

//nolint:gocognit // two rewrite patterns
func cancelOnce(nodes []onnx.NodeProto, keep map[string]bool) ([]onnx.NodeProto, bool) {
	producer := make(map[string]int, len(nodes))
	uses := make(map[string]int)
	for i := range nodes {
		for _, out := range nodes[i].Outputs {
			producer[out] = i
		}
		for _, in := range nodes[i].Inputs {
			uses[in]++
		}
	}
	for name := range keep {
		uses[name]++
	}
	transposeOf := func(value string) (int, []int64, bool) {
		i, ok := producer[value]
		if !ok || nodes[i].OpType != "Transpose" || uses[value] != 1 {
			return 0, nil, false
		}
		perm := nodes[i].Attr("perm")
		if perm == nil {
			return 0, nil, false
		}
		return i, perm.Ints, true
	}

	for i := range nodes {
		t2 := &nodes[i]
		if t2.OpType != "Transpose" || keep[t2.Outputs[0]] {
			continue
		}
		perm2 := t2.Attr("perm")
		if perm2 == nil {
			continue
		}

		// Transpose -> Transpose
		if j, perm1, ok := transposeOf(t2.Inputs[0]); ok && inverse(perm1, perm2.Ints) {
			src, dst := nodes[j].Inputs[0], t2.Outputs[0]
			out := remove(nodes, i, j)
			for k := range out {
				for x, in := range out[k].Inputs {
					if in == dst {
						out[k].Inputs[x] = src
					}
				}
			}
			return out, true
		}

		// Transpose -> elementwise -> Transpose
		u, ok := producer[t2.Inputs[0]]
		if !ok || !transposeTransparent[nodes[u].OpType] || uses[t2.Inputs[0]] != 1 {
			continue
		}
		if j, perm1, ok := transposeOf(nodes[u].Inputs[0]); ok && inverse(perm1, perm2.Ints) {
			nodes[u].Inputs[0] = nodes[j].Inputs[0]
			nodes[u].Outputs[0] = t2.Outputs[0]
			return remove(nodes, i, j), true
		}
	}
	return nodes, false
}

// inverse reports whether applying p then q is the identity.
func inverse(p, q []int64) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range q {
		if q[i] < 0 || q[i] >= int64(len(p)) || p[q[i]] != int64(i) {
			return false
		}
	}
	return true
}

func remove(nodes []onnx.NodeProto, drop ...int) []onnx.NodeProto {
	skip := make(map[int]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	out := make([]onnx.NodeProto, 0, len(nodes)-len(drop))
	for i := range nodes {
		if !skip[i] {
			out = append(out, nodes[i])
		}
	}
	return out
}
