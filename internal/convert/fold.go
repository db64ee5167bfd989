package convert

import "github.com/brainvision/onnxconv/internal/savedmodel"

// foldBiasAdd removes BiasAdd ops whose input is produced by a Conv2D or
// MatMul read by nothing else. The producer takes the BiasAdd's name and the
// returned map records the bias variable per producer.
func foldBiasAdd(sm *savedmodel.SavedModel) ([]savedmodel.Node, map[string]string) {
	uses := sm.Consumers()
	index := make(map[string]int, len(sm.Nodes))
	for i := range sm.Nodes {
		index[sm.Nodes[i].Output()] = i
	}

	nodes := make([]savedmodel.Node, len(sm.Nodes))
	copy(nodes, sm.Nodes)
	drop := make(map[int]bool)
	bias := make(map[string]string)

	for i := range nodes {
		n := &nodes[i]
		if n.Op != savedmodel.OpBiasAdd {
			continue
		}
		p, ok := index[n.Inputs[0]]
		if !ok || uses[n.Inputs[0]] != 1 {
			continue
		}
		if _, isVar := sm.Variables[n.Inputs[1]]; !isVar {
			continue
		}
		producer := &nodes[p]
		if producer.Op != savedmodel.OpConv2D && producer.Op != savedmodel.OpMatMul {
			continue
		}
		producer.Name = n.Name
		bias[n.Name] = n.Inputs[1]
		drop[i] = true
	}

	out := nodes[:0]
	for i := range nodes {
		if !drop[i] {
			out = append(out, nodes[i])
		}
	}
	return out, bias
}
