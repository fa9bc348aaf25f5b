// pyexec serves persistent, uv-managed Python environments as MCP tools.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pyexec",
	Short: "pyexec runs Python code in persistent uv environments over MCP.",
	Long: `pyexec is an MCP server that runs Python code in persistent project
environments managed by uv. Environments keep their files and installed
packages across calls.`,
	RunE:          runServe, // Default to serve.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "pyexec.yaml", "path to config file")
	rootCmd.AddCommand(serveCmd, envsCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
