package stamper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"
)

// DefaultIgnoreDirs are directory names never descended into.
var DefaultIgnoreDirs = []string{"node_modules", ".git", "vendor", "dist", "build", ".expo", ".tapsource"}

// ErrOutsideRoot is returned when a file cannot be mirrored into OutDir
// because it does not live under Root.
var ErrOutsideRoot = errors.New("file is outside the project root")

// DefaultWorkers bounds concurrent file stamping.
const DefaultWorkers = 8

// ProjectOptions controls how a source tree is stamped.
type ProjectOptions struct {
	// IgnoreDirs lists directory base names to skip.
	IgnoreDirs []string
	// Workers bounds parallel stamping. Zero means DefaultWorkers.
	Workers int
	// Root is the source tree mirrored into OutDir. Empty means the working
	// directory.
	Root string
	// OutDir receives the stamped copy of every supported file, at the same
	// path relative to Root. Sources are never modified in this mode.
	OutDir string
	// InPlace rewrites the sources themselves. Stamped elements are skipped on
	// later runs, so their locations go stale once the file is edited.
	InPlace bool
	// DryRun reports what would be stamped without writing anything. It is
	// implied when neither OutDir nor InPlace is set.
	DryRun bool
}

// FileReport is the outcome for one file in a project run.
type FileReport struct {
	Path           string `json:"path"`
	Stamped        int    `json:"stamped"`
	Fragments      int    `json:"fragments"`
	AlreadyStamped int    `json:"already_stamped"`
	Written        bool   `json:"written"`
	Output         string `json:"output,omitempty"`
	SyntaxErrors   bool   `json:"syntax_errors,omitempty"`
	Err            error  `json:"-"`
}

// Project stamps every supported file under a set of roots.
type Project struct {
	stamper *Stamper
	opts    ProjectOptions
}

// NewProject wires a Stamper to a tree walker.
func NewProject(s *Stamper, opts ProjectOptions) *Project {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.IgnoreDirs == nil {
		opts.IgnoreDirs = DefaultIgnoreDirs
	}
	if opts.Root == "" {
		opts.Root = "."
	}
	if abs, err := filepath.Abs(opts.Root); err == nil {
		opts.Root = abs
	}
	if opts.OutDir != "" {
		if !filepath.IsAbs(opts.OutDir) {
			opts.OutDir = filepath.Join(opts.Root, opts.OutDir)
		}
		opts.OutDir = filepath.Clean(opts.OutDir)
	}
	if opts.InPlace && !opts.DryRun {
		log.Printf("[stamper] warning: rewriting sources in place; stamped locations go stale after edits")
	}
	return &Project{stamper: s, opts: opts}
}

// OutDir returns the resolved output directory, or "" when none is set.
func (p *Project) OutDir() string { return p.opts.OutDir }

// Writes reports whether a run writes files at all.
func (p *Project) Writes() bool {
	return !p.opts.DryRun && (p.opts.OutDir != "" || p.opts.InPlace)
}

// Destination returns where the stamped copy of path is written, or "" for a
// dry run.
func (p *Project) Destination(path string) (string, error) {
	switch {
	case !p.Writes():
		return "", nil
	case p.opts.OutDir == "":
		return path, nil
	}
	rel, err := filepath.Rel(p.opts.Root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return filepath.Join(p.opts.OutDir, rel), nil
}

// Collect resolves roots into the sorted list of files the stamper supports.
// A root ending in "/..." is walked recursively; a plain directory only at its
// top level; a file is taken as-is.
func (p *Project) Collect(roots []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string

	add := func(path string) {
		if !Supports(path) {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}

	for _, root := range roots {
		rootPath, recursive := parseRootPath(root)
		abs, err := filepath.Abs(rootPath)
		if err != nil {
			return nil, err
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("root path error: %w", err)
		}
		if !info.IsDir() {
			add(abs)
			continue
		}

		err = filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path == abs {
					return nil
				}
				if !recursive || p.skipDir(path, d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			add(path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}

// Run stamps all files under roots and returns one report per file, in path
// order. Per-file failures are carried in the report rather than aborting the
// run.
func (p *Project) Run(ctx context.Context, roots []string) ([]FileReport, error) {
	files, err := p.Collect(roots)
	if err != nil {
		return nil, err
	}

	workers := pool.NewWithResults[FileReport]().WithMaxGoroutines(p.opts.Workers)
	for _, file := range files {
		file := file
		workers.Go(func() FileReport {
			return p.StampFile(ctx, file)
		})
	}

	reports := workers.Wait()
	sort.Slice(reports, func(i, j int) bool { return reports[i].Path < reports[j].Path })
	return reports, nil
}

// StampFile stamps a single file and writes the result to its destination.
// The source is always read as-is, so locations reflect its current content.
func (p *Project) StampFile(ctx context.Context, path string) FileReport {
	report := FileReport{Path: path}

	if err := ctx.Err(); err != nil {
		report.Err = err
		return report
	}

	// #nosec G304 - path comes from the project walk
	content, err := os.ReadFile(path)
	if err != nil {
		report.Err = fmt.Errorf("read %s: %w", path, err)
		return report
	}

	res, err := p.stamper.Stamp(ctx, path, content)
	if err != nil {
		report.Err = err
		return report
	}

	report.Stamped = res.Stamped
	report.Fragments = res.Fragments
	report.AlreadyStamped = res.AlreadyStamped
	report.SyntaxErrors = res.SyntaxErrors

	dest, err := p.Destination(path)
	if err != nil {
		report.Err = err
		return report
	}
	if dest == "" {
		return report
	}
	report.Output = dest
	if dest == path && !res.Changed() {
		return report
	}
	// #nosec G304 - dest is derived from the project walk
	if existing, err := os.ReadFile(dest); err == nil && bytes.Equal(existing, res.Output) {
		return report
	}

	info, err := os.Stat(path)
	if err != nil {
		report.Err = err
		return report
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		report.Err = fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
		return report
	}
	if err := os.WriteFile(dest, res.Output, info.Mode().Perm()); err != nil {
		report.Err = fmt.Errorf("write %s: %w", dest, err)
		return report
	}
	report.Written = true
	log.Printf("[stamper] stamped %d element(s) in %s -> %s", res.Stamped, path, dest)
	return report
}

// Remove deletes the stamped copy of a source that no longer exists. It is a
// no-op unless OutDir is set.
func (p *Project) Remove(path string) error {
	if p.opts.OutDir == "" || p.opts.DryRun {
		return nil
	}
	dest, err := p.Destination(path)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", dest, err)
	}
	return nil
}

// skipDir reports whether the walk must not descend into dir: ignored names
// and the output tree itself.
func (p *Project) skipDir(dir, name string) bool {
	if p.ignored(name) {
		return true
	}
	return p.opts.OutDir != "" && filepath.Clean(dir) == p.opts.OutDir
}

func (p *Project) ignored(name string) bool {
	for _, dir := range p.opts.IgnoreDirs {
		if dir == name {
			return true
		}
	}
	return false
}

func parseRootPath(root string) (path string, recursive bool) {
	if root == "..." {
		return ".", true
	}
	if strings.HasSuffix(root, "/...") {
		return strings.TrimSuffix(root, "/..."), true
	}
	return root, false
}

// Summary totals a project run.
type Summary struct {
	Files          int `json:"files"`
	Written        int `json:"written"`
	Stamped        int `json:"stamped"`
	Fragments      int `json:"fragments"`
	AlreadyStamped int `json:"already_stamped"`
	Failed         int `json:"failed"`
}

// Summarize adds up reports.
func Summarize(reports []FileReport) Summary {
	s := Summary{Files: len(reports)}
	for _, r := range reports {
		if r.Err != nil {
			s.Failed++
			continue
		}
		if r.Written {
			s.Written++
		}
		s.Stamped += r.Stamped
		s.Fragments += r.Fragments
		s.AlreadyStamped += r.AlreadyStamped
	}
	return s
}
