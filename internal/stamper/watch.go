package stamper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 300 * time.Millisecond

// ErrWatchNeedsOutDir is returned by Watch when the project has no output
// directory to restamp into.
var ErrWatchNeedsOutDir = errors.New("watch mode requires an output directory")

// Watch stamps roots into OutDir once, then restamps each supported source
// from disk whenever it is written, until ctx is done. Deleted sources have
// their stamped copy removed. onReport is called for every file stamped after
// the initial run; it may be nil.
func (p *Project) Watch(ctx context.Context, roots []string, onReport func(FileReport)) error {
	if p.opts.OutDir == "" || p.opts.DryRun {
		return ErrWatchNeedsOutDir
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	for _, root := range roots {
		if err := p.addWatchDirs(watcher, root); err != nil {
			return err
		}
	}

	if _, err := p.Run(ctx, roots); err != nil {
		log.Printf("[stamper] initial stamping failed: %v", err)
	}

	var (
		mu       sync.Mutex
		pending  = make(map[string]struct{})
		debounce *time.Timer
	)

	flush := func() {
		mu.Lock()
		files := make([]string, 0, len(pending))
		for file := range pending {
			files = append(files, file)
		}
		pending = make(map[string]struct{})
		mu.Unlock()

		for _, file := range files {
			if _, err := os.Stat(file); os.IsNotExist(err) {
				if err := p.Remove(file); err != nil {
					log.Printf("[stamper] %s: %v", file, err)
				}
				continue
			}
			report := p.StampFile(ctx, file)
			if report.Err != nil {
				log.Printf("[stamper] %s: %v", file, report.Err)
			}
			if onReport != nil {
				onReport(report)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if debounce != nil {
				debounce.Stop()
			}
			mu.Unlock()
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher channel closed")
			}

			if p.inOutDir(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !p.skipDir(event.Name, info.Name()) {
					_ = watcher.Add(event.Name)
					continue
				}
			}

			if !Supports(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			mu.Lock()
			pending[event.Name] = struct{}{}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, flush)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			log.Printf("[stamper] watcher error: %v", err)
		}
	}
}

func (p *Project) addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	rootPath, recursive := parseRootPath(root)
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("root path error: %w", err)
	}
	if !info.IsDir() {
		return watcher.Add(filepath.Dir(abs))
	}
	if !recursive {
		return watcher.Add(abs)
	}

	return filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != abs && p.skipDir(path, d.Name()) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		return nil
	})
}

func (p *Project) inOutDir(path string) bool {
	if p.opts.OutDir == "" {
		return false
	}
	path = filepath.Clean(path)
	return path == p.opts.OutDir || strings.HasPrefix(path, p.opts.OutDir+string(filepath.Separator))
}
