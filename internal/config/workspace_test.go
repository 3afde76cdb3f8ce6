package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func writeWorkspaceConfig(t *testing.T, root, content string) {
	t.Helper()
	wsDir := filepath.Join(root, WorkspaceDirName)
	if err := os.MkdirAll(wsDir, 0755); err != nil {
		t.Fatalf("failed to create workspace dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wsDir, WorkspaceConfigFile), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write workspace config: %v", err)
	}
}

func TestDiscoverWorkspace_Found(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, "server:\n  name: test\n")

	result, err := DiscoverWorkspace(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != tmpDir {
		t.Errorf("expected %q, got %q", tmpDir, result)
	}
}

func TestDiscoverWorkspace_WalkUp(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, "server:\n  name: test\n")

	// Start the search from src/screens, the way a stamp run inside an app would.
	nested := filepath.Join(tmpDir, "src", "screens")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("failed to create nested dirs: %v", err)
	}

	result, err := DiscoverWorkspace(nested)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != tmpDir {
		t.Errorf("expected %q, got %q", tmpDir, result)
	}
}

func TestDiscoverWorkspace_NotFound(t *testing.T) {
	tmpDir := t.TempDir()

	result, err := DiscoverWorkspace(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "" {
		t.Errorf("expected empty string, got %q", result)
	}
}

func TestDiscoverWorkspace_MaxDepth(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, "server:\n  name: test\n")

	parts := make([]string, MaxSearchDepth+2)
	parts[0] = tmpDir
	for i := 1; i <= MaxSearchDepth+1; i++ {
		parts[i] = "d"
	}
	deepPath := filepath.Join(parts...)
	if err := os.MkdirAll(deepPath, 0755); err != nil {
		t.Fatalf("failed to create deep path: %v", err)
	}

	result, err := DiscoverWorkspace(deepPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "" {
		t.Errorf("expected empty string (beyond max depth), got %q", result)
	}
}

func TestLoadWithWorkspace_DefaultsOnly(t *testing.T) {
	cfg, wsDir, err := LoadWithWorkspace("", WorkspaceOptions{Disable: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wsDir != "" {
		t.Errorf("expected empty workspace dir, got %q", wsDir)
	}
	if cfg.Server.Name != "tapsource" {
		t.Errorf("expected default server name, got %q", cfg.Server.Name)
	}
	if cfg.Editor.ProjectRoot != "" {
		t.Errorf("expected no project root without a workspace, got %q", cfg.Editor.ProjectRoot)
	}
}

func TestLoadWithWorkspace_WorkspaceOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, `
inspector:
  block_components:
    - components/ui/
  vendor_markers:
    - node_modules
    - packages/design-system/
recorder:
  enable: true
`)

	cfg, resultDir, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resultDir != tmpDir {
		t.Errorf("expected workspace dir %q, got %q", tmpDir, resultDir)
	}
	if len(cfg.Inspector.BlockComponents) != 1 || cfg.Inspector.BlockComponents[0] != "components/ui/" {
		t.Errorf("expected workspace block list, got %v", cfg.Inspector.BlockComponents)
	}
	if len(cfg.Inspector.VendorMarkers) != 2 {
		t.Errorf("expected two vendor markers, got %v", cfg.Inspector.VendorMarkers)
	}
	if !cfg.Recorder.Enable {
		t.Error("expected recorder enabled from workspace config")
	}
	if cfg.Server.Name != "tapsource" {
		t.Errorf("expected default server name, got %q", cfg.Server.Name)
	}
	if cfg.Editor.ProjectRoot != tmpDir {
		t.Errorf("expected project root to default to workspace %q, got %q", tmpDir, cfg.Editor.ProjectRoot)
	}
	wantTraces := filepath.Join(tmpDir, ".tapsource", "data", "traces")
	if cfg.Recorder.Dir != wantTraces {
		t.Errorf("expected trace dir %q, got %q", wantTraces, cfg.Recorder.Dir)
	}
}

func TestLoadWithWorkspace_ExplicitOverridesWorkspace(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, `
editor:
  command: code
  args: ["-g"]
`)

	explicitPath := filepath.Join(tmpDir, "explicit.yaml")
	explicitConfig := `
editor:
  command: idea
  args: ["--line"]
`
	if err := os.WriteFile(explicitPath, []byte(explicitConfig), 0644); err != nil {
		t.Fatalf("failed to write explicit config: %v", err)
	}

	cfg, _, err := LoadWithWorkspace(explicitPath, WorkspaceOptions{ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cmd, args := cfg.Editor.EditorArgs()
	if cmd != "idea" || len(args) != 1 || args[0] != "--line" {
		t.Errorf("expected explicit editor to override workspace, got %q %v", cmd, args)
	}
}

func TestLoadWithWorkspace_PartialYAML(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, `
browser:
  viewport_width: 800
`)

	cfg, _, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Browser.ViewportWidth != 800 {
		t.Errorf("expected viewport width 800, got %d", cfg.Browser.ViewportWidth)
	}
	if cfg.Browser.ViewportHeight != 844 {
		t.Errorf("expected default viewport height 844, got %d", cfg.Browser.ViewportHeight)
	}
	if cfg.Inspector.MaxAncestors != 5 {
		t.Errorf("expected default max ancestors, got %d", cfg.Inspector.MaxAncestors)
	}
}

func TestLoadWithWorkspace_InvalidWorkspaceYAML(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, "inspector: [broken")

	_, _, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir})
	if err == nil || !strings.Contains(err.Error(), "parsing workspace config") {
		t.Errorf("expected workspace parse error, got %v", err)
	}
}

func TestLoadWithWorkspace_Disabled(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, `
recorder:
  enable: true
`)

	cfg, resultDir, err := LoadWithWorkspace("", WorkspaceOptions{Disable: true, ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resultDir != "" {
		t.Errorf("expected empty workspace dir with Disable, got %q", resultDir)
	}
	if cfg.Recorder.Enable {
		t.Error("expected recorder to stay disabled when workspace discovery is off")
	}
}

func TestResolveWorkspacePaths_Relative(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Config{
		Server:   ServerConfig{LogFile: "tapsource.log"},
		Browser:  BrowserConfig{SessionStore: "sessions.json"},
		Mangle:   MangleConfig{SchemaPath: filepath.Join("schemas", "inspector.mg")},
		Recorder: RecorderConfig{Dir: filepath.Join("data", "traces")},
		Editor:   EditorConfig{ProjectRoot: "app"},
	}

	resolved := resolveWorkspacePaths(cfg, tmpDir)

	checks := map[string][2]string{
		"log file":      {filepath.Join(tmpDir, "tapsource.log"), resolved.Server.LogFile},
		"session store": {filepath.Join(tmpDir, "sessions.json"), resolved.Browser.SessionStore},
		"schema path":   {filepath.Join(tmpDir, "schemas", "inspector.mg"), resolved.Mangle.SchemaPath},
		"trace dir":     {filepath.Join(tmpDir, "data", "traces"), resolved.Recorder.Dir},
		"project root":  {filepath.Join(tmpDir, "app"), resolved.Editor.ProjectRoot},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s: expected %q, got %q", name, c[0], c[1])
		}
	}
}

func TestResolveWorkspacePaths_AbsoluteUntouched(t *testing.T) {
	wsDir := t.TempDir()

	var absLog, absSession, absSchema string
	if runtime.GOOS == "windows" {
		absLog = `C:\var\log\tapsource.log`
		absSession = `C:\tmp\sessions.json`
		absSchema = `C:\etc\tapsource\inspector.mg`
	} else {
		absLog = "/var/log/tapsource.log"
		absSession = "/tmp/sessions.json"
		absSchema = "/etc/tapsource/inspector.mg"
	}

	cfg := Config{
		Server:  ServerConfig{LogFile: absLog},
		Browser: BrowserConfig{SessionStore: absSession},
		Mangle:  MangleConfig{SchemaPath: absSchema},
	}

	resolved := resolveWorkspacePaths(cfg, wsDir)

	if resolved.Server.LogFile != absLog {
		t.Errorf("expected absolute log file untouched %q, got %q", absLog, resolved.Server.LogFile)
	}
	if resolved.Browser.SessionStore != absSession {
		t.Errorf("expected absolute session store untouched %q, got %q", absSession, resolved.Browser.SessionStore)
	}
	if resolved.Mangle.SchemaPath != absSchema {
		t.Errorf("expected absolute schema path untouched %q, got %q", absSchema, resolved.Mangle.SchemaPath)
	}
	if resolved.Recorder.Dir != "" {
		t.Errorf("expected empty trace dir to stay empty, got %q", resolved.Recorder.Dir)
	}
}

func TestInitWorkspace_Creates(t *testing.T) {
	tmpDir := t.TempDir()

	if err := InitWorkspace(tmpDir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wsDir := filepath.Join(tmpDir, WorkspaceDirName)
	checkDir := func(path string) {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("expected directory %q to exist: %v", path, err)
			return
		}
		if !info.IsDir() {
			t.Errorf("expected %q to be a directory", path)
		}
	}
	checkDir(wsDir)
	checkDir(filepath.Join(wsDir, "schemas"))
	checkDir(filepath.Join(wsDir, "data"))

	data, err := os.ReadFile(filepath.Join(wsDir, WorkspaceConfigFile))
	if err != nil {
		t.Fatalf("failed to read config template: %v", err)
	}
	if !strings.Contains(string(data), "inspector:") {
		t.Error("expected config template to document the inspector section")
	}

	data, err = os.ReadFile(filepath.Join(wsDir, ".gitignore"))
	if err != nil {
		t.Fatalf("failed to read .gitignore: %v", err)
	}
	if !strings.Contains(string(data), "data/") {
		t.Error("expected .gitignore to exclude data/")
	}

	// The freshly written template must load cleanly.
	if _, _, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir}); err != nil {
		t.Errorf("template config failed to load: %v", err)
	}
}

func TestInitWorkspace_AlreadyExists(t *testing.T) {
	tmpDir := t.TempDir()

	if err := InitWorkspace(tmpDir); err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	if err := InitWorkspace(tmpDir); err == nil {
		t.Error("expected error when workspace already exists")
	}
}
