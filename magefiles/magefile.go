//go:build mage

// Package main contains Mage build targets for onnxconv developer tooling.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"

	"github.com/brainvision/onnxconv/internal/version"
)

const (
	binDir = "bin"
	cmdPkg = "./cmd/onnxconv"
)

// Build compiles the CLI binary into bin/, stamping the version from VERSION if set.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	out := filepath.Join(binDir, version.Name)
	ldflags := ""
	if v := os.Getenv("VERSION"); v != "" {
		ldflags = "-X github.com/brainvision/onnxconv/internal/version.Version=" + v
	}
	if err := sh.RunV("go", "build", "-ldflags", ldflags, "-o", out, cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Test runs the unit tests.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Lint runs go vet.
func Lint() error {
	return sh.RunV("go", "vet", "./...")
}

// Convert builds the CLI and runs the conversion with ./onnxconv.yaml or the defaults.
func Convert() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, version.Name))
}

// Clean removes build output and conversion artifacts.
func Clean() error {
	for _, p := range []string{binDir, "saved_model", "model.onnx"} {
		if err := sh.Rm(p); err != nil {
			return err
		}
	}
	return nil
}
