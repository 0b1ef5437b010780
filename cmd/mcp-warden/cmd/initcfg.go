package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wardenlabs/mcp-warden/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter configuration file",
	Long: `Write a starter mcp-warden.yaml with defaults filled in and a
generated admin password. Existing files are not overwritten unless
--force is given.

Examples:
  mcp-warden init
  mcp-warden init /etc/mcp-warden/mcp-warden.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := "mcp-warden.yaml"
	if len(args) == 1 {
		path = args[0]
	}

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	password, err := config.GeneratePassword()
	if err != nil {
		return err
	}

	freq := 60
	cfg := config.Config{
		Admin: config.AdminConfig{Password: password},
		Services: []config.SeedServiceConfig{
			{
				Name:                  "example",
				UpstreamURL:           "http://localhost:9000/mcp",
				CheckFrequencyMinutes: &freq,
			},
		},
	}
	cfg.SetDefaults()
	// The listener default doubles as the base URL; leave it implicit in
	// the generated file so changing listen_addr is enough.
	cfg.BaseURL = ""

	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := []byte("# mcp-warden configuration. Values can be overridden with\n# MCP_WARDEN_* environment variables.\n")
	if err := os.WriteFile(path, append(header, out...), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Printf("wrote %s\n", path)
	fmt.Printf("admin password: %s\n", password)
	return nil
}
