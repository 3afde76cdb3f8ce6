package main

import (
	"fmt"

	"tapsource/internal/config"

	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath   string
	noWorkspace  bool
	workspaceDir string
}

func (g *globalFlags) load() (config.Config, string, error) {
	cfg, wsDir, err := config.LoadWithWorkspace(g.configPath, config.WorkspaceOptions{
		Disable:     g.noWorkspace,
		ExplicitDir: g.workspaceDir,
	})
	if err != nil {
		return cfg, wsDir, fmt.Errorf("load config: %w", err)
	}
	return cfg, wsDir, nil
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "tapsource",
		Short: "Tap an element in a running app to open its source",
		Long: `tapsource stamps JSX elements with the location that declared them, then
resolves taps in a running app back to those locations and opens them in
your editor.

Typical flow:
  tapsource init              create .tapsource/config.yaml
  tapsource stamp ./src/...   stamp sources before bundling
  tapsource serve             run the MCP server that drives the inspector`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file layered over the workspace config")
	cmd.PersistentFlags().BoolVar(&flags.noWorkspace, "no-workspace", false, "skip .tapsource workspace discovery")
	cmd.PersistentFlags().StringVar(&flags.workspaceDir, "workspace-dir", "", "use this directory as the workspace root")

	cmd.AddCommand(
		newServeCmd(flags),
		newStampCmd(flags),
		newOpenCmd(flags),
		newInitCmd(),
	)
	return cmd
}
