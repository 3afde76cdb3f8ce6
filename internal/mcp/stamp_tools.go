package mcp

import (
	"context"
	"fmt"
	"path/filepath"

	"tapsource/internal/config"
	"tapsource/internal/stamper"
)

// StampSourceTool runs the build-time stamper over project paths.
type StampSourceTool struct {
	cfg config.Config
}

func (t *StampSourceTool) Name() string { return "stamp-source" }
func (t *StampSourceTool) Description() string {
	return `Inject source locations into JSX/TSX elements so taps can be resolved.

Each eligible element gets a hidden attribute {file, line, column} naming the
statement that declared it. Fragments and elements that already carry the
attribute are skipped.

Sources are never modified. The stamped copy of each file is written under
the output directory (stamper.out_dir, default .tapsource/stamped) at the same
path relative to the project root, re-read from the current source each run.

PATHS: relative to the project root. "src/..." walks recursively, "src" only
its top level, a file is stamped as-is. Default: "./...".
DRY_RUN: report what would be stamped without writing.

Returns: {summary: {files, written, stamped, fragments, already_stamped, failed}, out_dir, files: [...], errors: [...]}`
}
func (t *StampSourceTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"paths": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Roots to stamp (default ./...)",
			},
			"dry_run": map[string]interface{}{
				"type":        "boolean",
				"description": "Report without writing",
			},
		},
	}
}
func (t *StampSourceTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	root := t.cfg.Editor.ProjectRoot
	if root == "" {
		root = "."
	}

	paths := getStringSliceArg(args, "paths")
	if len(paths) == 0 {
		paths = []string{"./..."}
	}
	roots := make([]string, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			// Join keeps a trailing "/..." intact.
			p = filepath.Join(root, p)
		}
		roots = append(roots, p)
	}

	project := stamper.NewProject(
		stamper.New(stamper.Options{PropName: t.cfg.Stamper.PropName, Cwd: root}),
		stamper.ProjectOptions{
			IgnoreDirs: t.cfg.Stamper.IgnoreDirs,
			Workers:    t.cfg.Stamper.Workers,
			Root:       root,
			OutDir:     t.cfg.Stamper.OutDir,
			DryRun:     getBoolArg(args, "dry_run", false),
		},
	)
	reports, err := project.Run(ctx, roots)
	if err != nil {
		return nil, err
	}

	changed := make([]stamper.FileReport, 0, len(reports))
	errs := make([]string, 0)
	for _, r := range reports {
		if r.Err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", r.Path, r.Err))
			continue
		}
		if r.Stamped > 0 || r.SyntaxErrors {
			changed = append(changed, r)
		}
	}

	return map[string]interface{}{
		"summary": stamper.Summarize(reports),
		"out_dir": project.OutDir(),
		"files":   changed,
		"errors":  errs,
	}, nil
}
