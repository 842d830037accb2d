package main

import (
	"github.com/spf13/cobra"

	"github.com/cubicler/cubicler/pkg/output"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cubicler version",
	Run: func(cmd *cobra.Command, args []string) {
		output.New().Banner(Version)
	},
}
