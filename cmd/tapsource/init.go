package main

import (
	"fmt"
	"path/filepath"

	"tapsource/internal/config"
	"tapsource/internal/console"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a .tapsource workspace with a template config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return err
			}
			if err := config.InitWorkspace(abs); err != nil {
				return err
			}
			path := filepath.Join(abs, config.WorkspaceDirName, config.WorkspaceConfigFile)
			fmt.Fprintln(cmd.OutOrStdout(), console.FormatSuccess("created "+console.FormatLocation(path, 0, 0)))
			return nil
		},
	}
}
