package editor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Launcher opens an absolute "path:line:column" target in an editor.
type Launcher interface {
	Launch(target string) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(target string) error

// Launch implements Launcher.
func (f LauncherFunc) Launch(target string) error { return f(target) }

// CommandLauncher starts an editor process with the target as its last
// argument and does not wait for it to exit.
type CommandLauncher struct {
	Command string
	Args    []string
}

// DefaultLauncher opens targets with VS Code's goto flag.
func DefaultLauncher() CommandLauncher {
	return CommandLauncher{Command: "code", Args: []string{"-g"}}
}

// Launch implements Launcher.
func (l CommandLauncher) Launch(target string) error {
	if l.Command == "" {
		return errors.New("no editor command configured")
	}
	args := append(append([]string{}, l.Args...), target)
	// #nosec G204 - command comes from local configuration
	cmd := exec.Command(l.Command, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

// Handler serves OpenPath and passes every other request to Next.
type Handler struct {
	// Root is the project root relative targets are resolved against.
	Root     string
	Launcher Launcher
	Next     http.Handler
}

// Middleware wraps next with the open-in-editor endpoint.
func Middleware(root string, launcher Launcher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &Handler{Root: root, Launcher: launcher, Next: next}
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.URL.Path, OpenPath) {
		if h.Next != nil {
			h.Next.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	file := r.URL.Query().Get("file")
	if file == "" {
		log.Printf("[editor] required query param \"file\" is missing")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Missing file"))
		return
	}

	// The request succeeds even when the launch fails.
	_ = h.Open(file)
	_, _ = w.Write([]byte("OK"))
}

// Open resolves target against Root and hands it to the launcher.
func (h *Handler) Open(target string) error {
	abs := h.resolve(target)
	log.Printf("[editor] launch %s", abs)

	launcher := h.Launcher
	if launcher == nil {
		launcher = DefaultLauncher()
	}
	if err := launcher.Launch(abs); err != nil {
		log.Printf("[editor] unable to open %s: %v", abs, err)
		return fmt.Errorf("open %s: %w", abs, err)
	}
	return nil
}

// resolve joins target (which may carry a :line:column suffix) onto Root.
func (h *Handler) resolve(target string) string {
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	root := h.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(filepath.Join(root, target))
	if err != nil {
		return filepath.Join(root, target)
	}
	return abs
}

// Serve runs an HTTP server on addr that only answers open requests, until
// ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[editor] listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("editor server shutdown: %w", err)
		}
		return nil
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("editor server: %w", err)
		}
		return nil
	}
}
