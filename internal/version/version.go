// Package version holds the release identifier stamped into produced artifacts.
package version

// Name is the producer name written into exports and ONNX models.
const Name = "onnxconv"

// Version is overridden at build time with
// -ldflags "-X github.com/brainvision/onnxconv/internal/version.Version=...".
var Version = "v0.1.0-dev"
