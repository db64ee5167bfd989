// Package main is the onnxconv command. It converts the trained model into an
// ONNX file and checks the result.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brainvision/onnxconv/internal/pipeline"
	"github.com/brainvision/onnxconv/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   version.Name,
	Short: "Convert a trained model to ONNX",
	Long: `onnxconv loads the trained model, exports it as a SavedModel directory,
converts the export to an ONNX file and validates the written file.

Paths, opset and input signature come from onnxconv.yaml in the working
directory, from ONNXCONV_* environment variables, or from built-in defaults.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		logger := newLogger()
		defer func() {
			_ = logger.Sync()
		}()
		_, err = pipeline.Run(cfg, logger)
		return err
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./onnxconv.yaml)")
}

func initConfig() {
	defaults := pipeline.DefaultConfig()
	viper.SetDefault("input", defaults.InputPath)
	viper.SetDefault("export_dir", defaults.ExportDir)
	viper.SetDefault("output", defaults.OutputPath)
	viper.SetDefault("opset", defaults.Opset)
	viper.SetDefault("signature.name", defaults.Signature.Name)
	viper.SetDefault("signature.dtype", defaults.Signature.DType)
	viper.SetDefault("signature.shape", []int64{})

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(version.Name)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("ONNXCONV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the optional config file and decodes the settings.
func loadConfig(stderr io.Writer) (pipeline.Config, error) {
	var cfg pipeline.Config
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		fmt.Fprintln(stderr, "Using config file:", viper.ConfigFileUsed())
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// newLogger prints progress as plain lines on stdout.
func newLogger() *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = ""
	enc.LevelKey = ""
	enc.CallerKey = ""
	enc.NameKey = ""
	enc.StacktraceKey = ""
	level := zap.InfoLevel
	if os.Getenv("ONNXCONV_DEBUG") != "" {
		level = zap.DebugLevel
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stdout), level)
	return zap.New(core)
}

// run executes the command line and returns the process exit status.
func run(args []string, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetErr(stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}
