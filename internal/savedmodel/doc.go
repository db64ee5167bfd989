// Package savedmodel writes and reads the intermediate export directory.
//
// An export is a traced, primitive-op view of a model:
//
//	saved_model/
//	  saved_model.json                 graph, serving signature, tags
//	  variables/variables.safetensors  weights and traced constants
//	  fingerprint.json                 SHA-256 of the two files above
//
// Ops work on NHWC tensors. Each layer of the source model becomes one or more
// nodes; the last node of a layer is named after the layer, so the serving
// signature's output names match the model's layer names.
package savedmodel
