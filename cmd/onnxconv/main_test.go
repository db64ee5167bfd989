package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainvision/onnxconv/internal/modeltest"
	"github.com/brainvision/onnxconv/internal/onnx"
	"github.com/brainvision/onnxconv/internal/pipeline"
)

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir from Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func freshConfig(t *testing.T) pipeline.Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	initConfig()
	cfg, err := loadConfig(io.Discard)
	require.NoError(t, err)
	return cfg
}

func TestConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg := freshConfig(t)
	want := pipeline.DefaultConfig()
	assert.Equal(t, want.InputPath, cfg.InputPath)
	assert.Equal(t, want.ExportDir, cfg.ExportDir)
	assert.Equal(t, want.OutputPath, cfg.OutputPath)
	assert.Equal(t, want.Opset, cfg.Opset)
	assert.Equal(t, want.Signature.Name, cfg.Signature.Name)
	assert.Equal(t, want.Signature.DType, cfg.Signature.DType)
	assert.Empty(t, cfg.Signature.Shape)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	yaml := `input: models/cnn.born
output: out/cnn.onnx
opset: 18
signature:
  name: pixels
  shape: [-1, 28, 28, 1]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "onnxconv.yaml"), []byte(yaml), 0o600))

	cfg := freshConfig(t)
	assert.Equal(t, "models/cnn.born", cfg.InputPath)
	assert.Equal(t, "out/cnn.onnx", cfg.OutputPath)
	assert.Equal(t, "saved_model", cfg.ExportDir)
	assert.Equal(t, int64(18), cfg.Opset)
	assert.Equal(t, "pixels", cfg.Signature.Name)
	assert.Equal(t, "float32", cfg.Signature.DType)
	assert.Equal(t, []int64{-1, 28, 28, 1}, cfg.Signature.Shape)
}

func TestConfigEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ONNXCONV_OPSET", "11")
	t.Setenv("ONNXCONV_OUTPUT", "env.onnx")
	t.Setenv("ONNXCONV_SIGNATURE_NAME", "x")

	cfg := freshConfig(t)
	assert.Equal(t, int64(11), cfg.Opset)
	assert.Equal(t, "env.onnx", cfg.OutputPath)
	assert.Equal(t, "x", cfg.Signature.Name)
}

// execute runs the command line against a clean viper state.
func execute(t *testing.T, args ...string) (int, string) {
	t.Helper()
	viper.Reset()
	t.Cleanup(func() {
		viper.Reset()
		_ = rootCmd.PersistentFlags().Set("config", "")
	})
	var stderr bytes.Buffer
	code := run(append([]string{}, args...), &stderr)
	return code, stderr.String()
}

func TestRunConvertsModel(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("ONNXCONV_INPUT", modeltest.Save(t, modeltest.CNN()))

	code, stderr := execute(t)
	require.Equal(t, 0, code, stderr)
	assert.Empty(t, stderr)
	assert.DirExists(t, filepath.Join(dir, "saved_model"))
	require.NoError(t, onnx.CheckFile(filepath.Join(dir, "model.onnx")))
}

func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("ONNXCONV_INPUT", filepath.Join(dir, "missing.born"))

	code, stderr := execute(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error: load:")
	assert.Contains(t, stderr, "missing.born")
	assert.NoDirExists(t, filepath.Join(dir, "saved_model"))
	assert.NoFileExists(t, filepath.Join(dir, "model.onnx"))
}

func TestRunWithConfigFlag(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	input := modeltest.Save(t, modeltest.MLP())
	output := filepath.Join(dir, "out", "mlp.onnx")
	require.NoError(t, os.MkdirAll(filepath.Dir(output), 0o755))

	cfgPath := filepath.Join(t.TempDir(), "custom.yaml")
	yaml := "input: " + input + "\n" +
		"export_dir: " + filepath.Join(dir, "export") + "\n" +
		"output: " + output + "\n" +
		"opset: 18\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))

	code, stderr := execute(t, "--config", cfgPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stderr, "Using config file:")

	m, err := onnx.ParseFile(output)
	require.NoError(t, err)
	assert.Equal(t, int64(18), m.DefaultOpset())
	assert.DirExists(t, filepath.Join(dir, "export"))
}

func TestRunRejectsArguments(t *testing.T) {
	chdir(t, t.TempDir())
	code, stderr := execute(t, "extra")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")
}
