package main

import (
	"fmt"
	"strings"

	"tapsource/internal/console"
	"tapsource/internal/editor"

	"github.com/spf13/cobra"
)

func newOpenCmd(flags *globalFlags) *cobra.Command {
	var (
		baseURL string
		direct  bool
	)

	cmd := &cobra.Command{
		Use:   "open <file:line:column>",
		Short: "Open a source location through the dev server or directly in the editor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.load()
			if err != nil {
				return err
			}
			target := strings.TrimSpace(args[0])
			if target == "" {
				return fmt.Errorf("target is required")
			}

			if direct {
				command, editorArgs := cfg.Editor.EditorArgs()
				h := &editor.Handler{Root: cfg.Editor.ProjectRoot, Launcher: editor.CommandLauncher{Command: command, Args: editorArgs}}
				if err := h.Open(target); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), console.FormatSuccess("opened "+console.FormatLocation(target, 0, 0)))
				return nil
			}

			if baseURL == "" {
				baseURL = cfg.Editor.BaseURL
			}
			if baseURL == "" && cfg.Editor.ListenAddr != "" {
				baseURL = "http://" + cfg.Editor.ListenAddr
			}
			client := editor.NewClient(baseURL, cfg.Editor.GetRequestTimeout())
			if err := client.Open(cmd.Context(), target); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.FormatSuccess("opened "+console.FormatLocation(target, 0, 0)+" via "+baseURL))
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "dev server URL (default from config)")
	cmd.Flags().BoolVar(&direct, "direct", false, "launch the editor without a dev server")
	return cmd
}
