package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brainvision/onnxconv/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of onnxconv",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", version.Name, version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
