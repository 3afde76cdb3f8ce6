package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level tapsource config.
	WorkspaceDirName = ".tapsource"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for tapsource.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	MCP       MCPConfig       `yaml:"mcp"`
	Mangle    MangleConfig    `yaml:"mangle"`
	Inspector InspectorConfig `yaml:"inspector"`
	Display   DisplayConfig   `yaml:"display"`
	Editor    EditorConfig    `yaml:"editor"`
	Stamper   StamperConfig   `yaml:"stamper"`
	Recorder  RecorderConfig  `yaml:"recorder"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the MCP server launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default timeout when attaching to an existing target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// Optional path to persist session metadata between server restarts.
	SessionStore string `yaml:"session_store"`
	// Viewport width for new sessions (default: 390, a phone-sized layout).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for new sessions (default: 844).
	ViewportHeight int `yaml:"viewport_height"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// MangleConfig controls the embedded deductive engine that keeps inspection history.
type MangleConfig struct {
	Enable bool `yaml:"enable"`
	// SchemaPath overrides the built-in inspection schema.
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// InspectorConfig controls source resolution and the navigation policy.
type InspectorConfig struct {
	// PropName is the stamped attribute the inspector reads.
	PropName string `yaml:"prop_name"`
	// BlockComponents are case-insensitive path fragments whose locations are not opened directly.
	BlockComponents []string `yaml:"block_components"`
	// VendorMarkers are path fragments never offered as fallback targets.
	VendorMarkers []string `yaml:"vendor_markers"`
	MaxAncestors  int      `yaml:"max_ancestors"`
	// MaxWalkDepth caps parent hops so a malformed render tree cannot loop forever.
	MaxWalkDepth int `yaml:"max_walk_depth"`
	// ContainerSelector is the CSS selector of the inspector's root container in the page.
	ContainerSelector string `yaml:"container_selector"`
	// HitTimeout bounds a single hit test (e.g., "3s").
	HitTimeout string `yaml:"hit_timeout"`
}

// DisplayConfig bounds popover props and style text.
type DisplayConfig struct {
	MaxDepth  int `yaml:"max_depth"`
	MaxKeys   int `yaml:"max_keys"`
	MaxString int `yaml:"max_string"`
}

// EditorConfig configures the open-in-editor endpoint and its client.
type EditorConfig struct {
	// ListenAddr serves the open-in-editor endpoint when non-empty (e.g., "127.0.0.1:8090").
	ListenAddr string `yaml:"listen_addr"`
	// ProjectRoot resolves relative targets; defaults to the working directory.
	ProjectRoot string `yaml:"project_root"`
	// Command and Args launch the editor; the target is appended as the last argument.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// BaseURL is the dev server the client sends open requests to. When empty it is
	// derived from the inspected page's bundle script URL.
	BaseURL        string `yaml:"base_url"`
	RequestTimeout string `yaml:"request_timeout"`
}

// StamperConfig controls the build-time source stamper.
type StamperConfig struct {
	PropName   string   `yaml:"prop_name"`
	IgnoreDirs []string `yaml:"ignore_dirs"`
	Workers    int      `yaml:"workers"`
	// OutDir receives the stamped mirror of the source tree. Relative paths
	// are resolved against the project root.
	OutDir string `yaml:"out_dir"`
}

// RecorderConfig controls the inspection trace recorder.
type RecorderConfig struct {
	Enable bool   `yaml:"enable"`
	Dir    string `yaml:"dir"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "tapsource",
			Version: "0.3.0",
			LogFile: "tapsource.log",
		},
		Browser: BrowserConfig{
			AutoStart:                false,
			DefaultNavigationTimeout: "15s",
			DefaultAttachTimeout:     "10s",
			SessionStore:             "sessions.json",
			ViewportWidth:            390,
			ViewportHeight:           844,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Mangle: MangleConfig{
			Enable:          true,
			FactBufferLimit: 4096,
		},
		Inspector: InspectorConfig{
			PropName:          "__inspectorSource",
			BlockComponents:   []string{"node_modules", "react-native/", "@react-navigation", "expo-", "components/ui/"},
			VendorMarkers:     []string{"node_modules"},
			MaxAncestors:      5,
			MaxWalkDepth:      256,
			ContainerSelector: "body",
			HitTimeout:        "3s",
		},
		Display: DisplayConfig{
			MaxDepth:  2,
			MaxKeys:   20,
			MaxString: 300,
		},
		Editor: EditorConfig{
			Command:        "code",
			Args:           []string{"-g"},
			RequestTimeout: "5s",
		},
		Stamper: StamperConfig{
			PropName:   "__inspectorSource",
			IgnoreDirs: []string{"node_modules", ".git", "vendor", "dist", "build", ".expo", ".tapsource"},
			Workers:    8,
			OutDir:     ".tapsource/stamped",
		},
		Recorder: RecorderConfig{
			Enable: false,
			Dir:    ".tapsource/data/traces",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .tapsource/config.yaml file.
// Returns the workspace root directory (parent of .tapsource/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .tapsource/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

const templateConfig = `# tapsource project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# inspector:
#   container_selector: "#root"
#   block_components:
#     - node_modules
#     - components/ui/
#   vendor_markers:
#     - node_modules
#     - packages/design-system/

# editor:
#   listen_addr: "127.0.0.1:8090"
#   command: "code"
#   args: ["-g"]

# stamper:
#   ignore_dirs: [node_modules, .git, dist, build, .expo, .tapsource]
#   out_dir: .tapsource/stamped

# recorder:
#   enable: true

# browser:
#   headless: false
#   viewport_width: 390
#   viewport_height: 844
`

// InitWorkspace creates a .tapsource/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "schemas"),
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, sessions, traces) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Browser.SessionStore = resolve(cfg.Browser.SessionStore)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	cfg.Recorder.Dir = resolve(cfg.Recorder.Dir)
	if cfg.Editor.ProjectRoot == "" {
		cfg.Editor.ProjectRoot = wsDir
	} else if !filepath.IsAbs(cfg.Editor.ProjectRoot) {
		cfg.Editor.ProjectRoot = filepath.Join(wsDir, cfg.Editor.ProjectRoot)
	}
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	if c.Inspector.PropName == "" {
		return errors.New("inspector.prop_name is required")
	}
	if c.Inspector.MaxAncestors < 0 || c.Inspector.MaxWalkDepth < 0 {
		return errors.New("inspector.max_ancestors and inspector.max_walk_depth must not be negative")
	}
	if c.Editor.ListenAddr != "" && c.Editor.Command == "" {
		return errors.New("editor.command is required when editor.listen_addr is set")
	}
	if c.Stamper.Workers < 0 {
		return errors.New("stamper.workers must not be negative")
	}
	return nil
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseDuration(b.DefaultAttachTimeout, 10*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 390
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 844
	}
	return b.ViewportHeight
}

// GetHitTimeout returns the parsed hit-test timeout with a sane default.
func (i InspectorConfig) GetHitTimeout() time.Duration {
	return parseDuration(i.HitTimeout, 3*time.Second)
}

// GetRequestTimeout returns the parsed editor request timeout with a sane default.
func (e EditorConfig) GetRequestTimeout() time.Duration {
	return parseDuration(e.RequestTimeout, 5*time.Second)
}

// EditorArgs returns the editor command line prefix, defaulting to VS Code's goto flag.
func (e EditorConfig) EditorArgs() (string, []string) {
	if e.Command == "" {
		return "code", []string{"-g"}
	}
	return e.Command, e.Args
}
