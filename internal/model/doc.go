// Package model holds the high-level layer model read from a .born file.
//
// A model is a Keras-style Sequential stack: the first layer is an InputLayer
// carrying the batch input shape, and every following layer consumes the output
// of the one before it. Weights are stored next to the architecture in the same
// .born container under "<layer>.<param>" names, channels_last layout.
//
// Example:
//
//	m, err := model.Load("models/classifier.born")
//	if err != nil {
//	    return err
//	}
//	in := m.Inputs()[0] // name, dtype and shape of the first input
package model
