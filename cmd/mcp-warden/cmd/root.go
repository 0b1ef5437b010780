// Package cmd provides the CLI commands for mcp-warden.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wardenlabs/mcp-warden/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mcp-warden",
	Short: "mcp-warden - MCP capability gatekeeper",
	Long: `mcp-warden is a reverse proxy for Model Context Protocol (MCP) servers.

It fingerprints the capability surface (tools, resources, resource templates,
prompts) of each upstream MCP server, proxies traffic only for services whose
surface matches an approved fingerprint, and automatically disables a service
when its surface diverges until an operator re-approves it.

Quick start:
  1. Create a config file: mcp-warden.yaml
  2. Run: mcp-warden start

Configuration:
  Config is loaded from mcp-warden.yaml in the current directory,
  $HOME/.mcp-warden/, or /etc/mcp-warden/.

  Environment variables can override config values with the MCP_WARDEN_ prefix.
  Example: MCP_WARDEN_SERVER_LISTEN_ADDR=:9090

Commands:
  start       Start the proxy server
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcp-warden.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
