package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"tapsource/internal/console"
	"tapsource/internal/stamper"

	"github.com/spf13/cobra"
)

type stampOptions struct {
	outDir        string
	inPlace       bool
	dryRun        bool
	stdinFilename string
	watch         bool
	propName      string
	workers       int
}

func newStampCmd(flags *globalFlags) *cobra.Command {
	opts := &stampOptions{}

	cmd := &cobra.Command{
		Use:   "stamp [paths...]",
		Short: "Inject source locations into JSX elements",
		Long: `Stamp every JSX element under the given paths with the file, line and column
that declared it. Sources are read as-is and never modified: the stamped copy
of each file is written under the output directory (stamper.out_dir, default
.tapsource/stamped) at the same path relative to the project root. Point the
bundler at that tree, or use --stdin-filename as a per-file transform.

Paths follow Go-style patterns:
  ./...        recurse from the current directory (default)
  ./src/...    recurse from src
  ./src        only the top level of src`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.load()
			if err != nil {
				return err
			}

			root := cfg.Editor.ProjectRoot
			if root == "" {
				if root, err = os.Getwd(); err != nil {
					return err
				}
			}
			propName := cfg.Stamper.PropName
			if opts.propName != "" {
				propName = opts.propName
			}
			s := stamper.New(stamper.Options{PropName: propName, Cwd: root})

			if opts.stdinFilename != "" {
				return stampStdin(cmd, s, root, opts.stdinFilename)
			}

			workers := cfg.Stamper.Workers
			if opts.workers > 0 {
				workers = opts.workers
			}
			outDir := cfg.Stamper.OutDir
			if opts.outDir != "" {
				outDir = opts.outDir
			}
			if opts.inPlace {
				if opts.outDir != "" {
					return fmt.Errorf("--in-place and --out are mutually exclusive")
				}
				outDir = ""
				fmt.Fprintln(cmd.ErrOrStderr(), console.FormatWarning("rewriting sources in place; stamped locations go stale once a file is edited"))
			}
			if len(args) == 0 {
				args = []string{"./..."}
			}

			project := stamper.NewProject(s, stamper.ProjectOptions{
				IgnoreDirs: cfg.Stamper.IgnoreDirs,
				Workers:    workers,
				Root:       root,
				OutDir:     outDir,
				InPlace:    opts.inPlace,
				DryRun:     opts.dryRun,
			})

			if opts.watch {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return watchStamp(ctx, cmd, project, args)
			}

			spin := console.NewSpinner(fmt.Sprintf("stamping %v", args))
			spin.Start()
			reports, err := project.Run(cmd.Context(), args)
			spin.Stop()
			if err != nil {
				return err
			}
			summary := printStampReport(cmd, project, reports)
			if summary.Failed > 0 {
				return fmt.Errorf("%d files could not be stamped", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "directory for the stamped tree (default from config)")
	cmd.Flags().BoolVar(&opts.inPlace, "in-place", false, "rewrite the sources themselves (locations go stale after edits)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "report elements that would be stamped without writing")
	cmd.Flags().StringVar(&opts.stdinFilename, "stdin-filename", "", "stamp stdin as this file and write the result to stdout")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "keep running and restamp files into the output directory as they change")
	cmd.Flags().StringVar(&opts.propName, "prop", "", "attribute name to inject (default from config)")
	cmd.Flags().IntVarP(&opts.workers, "parallel", "p", 0, "files stamped in parallel (default from config)")
	return cmd
}

// stampStdin stamps one file read from stdin, for bundler transform hooks.
func stampStdin(cmd *cobra.Command, s *stamper.Stamper, root, filename string) error {
	if !filepath.IsAbs(filename) {
		filename = filepath.Join(root, filename)
	}
	content, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	res, err := s.Stamp(cmd.Context(), filename, content)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(res.Output)
	return err
}

func watchStamp(ctx context.Context, cmd *cobra.Command, project *stamper.Project, roots []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, console.FormatInfo(fmt.Sprintf("watching %v, writing to %s", roots, console.ToRelativePath(project.OutDir()))))
	err := project.Watch(ctx, roots, func(r stamper.FileReport) {
		switch {
		case r.Err != nil:
			fmt.Fprintln(out, console.FormatError(fmt.Sprintf("%s: %v", console.ToRelativePath(r.Path), r.Err)))
		case r.Written:
			fmt.Fprintln(out, console.FormatSuccess(fmt.Sprintf("%s: %d stamped", console.FormatLocation(r.Path, 0, 0), r.Stamped)))
		}
	})
	if err == context.Canceled {
		return nil
	}
	return err
}

func printStampReport(cmd *cobra.Command, project *stamper.Project, reports []stamper.FileReport) stamper.Summary {
	out := cmd.OutOrStdout()
	summary := stamper.Summarize(reports)

	var rows [][]string
	for _, r := range reports {
		if r.Err != nil {
			fmt.Fprintln(out, console.FormatError(fmt.Sprintf("%s: %v", console.ToRelativePath(r.Path), r.Err)))
			continue
		}
		if r.SyntaxErrors {
			fmt.Fprintln(out, console.FormatWarning(fmt.Sprintf("%s has syntax errors; stamped what parsed", console.ToRelativePath(r.Path))))
		}
		if r.Stamped == 0 {
			continue
		}
		rows = append(rows, []string{
			console.ToRelativePath(r.Path),
			strconv.Itoa(r.Stamped),
			strconv.Itoa(r.AlreadyStamped),
			strconv.Itoa(r.Fragments),
		})
	}

	if len(rows) > 0 {
		console.Table(out, []string{"File", "Stamped", "Already", "Fragments"}, rows, []string{
			fmt.Sprintf("%d files", len(rows)),
			strconv.Itoa(summary.Stamped),
			strconv.Itoa(summary.AlreadyStamped),
			strconv.Itoa(summary.Fragments),
		})
	}

	verb := "stamped"
	if !project.Writes() {
		verb = "would stamp"
	}
	fmt.Fprintln(out, console.FormatSuccess(fmt.Sprintf("%s %d elements in %d of %d files", verb, summary.Stamped, len(rows), summary.Files)))
	if dir := project.OutDir(); dir != "" && project.Writes() {
		fmt.Fprintln(out, console.FormatInfo(fmt.Sprintf("wrote %d files to %s", summary.Written, console.ToRelativePath(dir))))
	}
	return summary
}
