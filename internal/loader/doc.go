// Package loader opens weight containers for inspection.
//
// Two formats are recognized by file extension:
//   - .born: the trained model file read by the converter
//   - .safetensors: the variables file of a SavedModel export
//
// Example:
//
//	w, err := loader.OpenWeights("saved_model/variables/variables.safetensors")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	for _, name := range w.TensorNames() {
//	    t, err := w.LoadTensor(name)
//	    ...
//	}
package loader
