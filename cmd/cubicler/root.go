package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cubicler",
	Short: "Orchestration broker for AI agents and tool backends",
	Long: `Cubicler is an orchestration broker between conversational AI agents
and tool backends (MCP servers and REST endpoints).

It receives dispatch requests, assembles each agent's context (prompt,
available servers, tools), forwards the conversation over the agent's
configured transport, and services the agent's tool calls while it thinks.`,
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
