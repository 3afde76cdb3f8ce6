package mcp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"tapsource/internal/browser"
	"tapsource/internal/config"
	"tapsource/internal/editor"
	"tapsource/internal/mangle"
	"tapsource/internal/render"

	"github.com/mark3labs/mcp-go/mcp"
)

const testSessionID = "session-1"

// fakeHost serves a canned hit for every point.
type fakeHost struct {
	hit *render.HitResult
}

func (f fakeHost) Measure(context.Context, render.Container) (render.Measurement, error) {
	return render.Measurement{Width: 390, Height: 844, PageX: 0, PageY: 0}, nil
}

func (f fakeHost) HitTest(_ context.Context, _ render.Container, _, _ float64, cb func(*render.HitResult)) error {
	cb(f.hit)
	return nil
}

// devServer records open requests.
type devServer struct {
	*httptest.Server
	mu      sync.Mutex
	targets []string
	status  int
}

func newDevServer(t *testing.T) *devServer {
	d := &devServer{status: http.StatusOK}
	d.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.targets = append(d.targets, r.URL.Query().Get("file"))
		status := d.status
		d.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(d.Close)
	return d
}

func (d *devServer) opened() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.targets...)
}

func stampedSnapshot(name, file string, line int) *render.Snapshot {
	s := &render.Snapshot{Resolved: render.TypeInfo{Name: name}}
	if file != "" {
		s.MemoizedProps = map[string]interface{}{
			"__inspectorSource": map[string]interface{}{"file": file, "line": float64(line), "column": float64(2)},
		}
	}
	return s
}

func directHit() *render.HitResult {
	return &render.HitResult{
		Frame:           &render.Frame{Left: 10, Top: 20, Width: 100, Height: 40},
		Props:           map[string]interface{}{"testID": "save"},
		Hierarchy:       []render.HierarchyEntry{{Name: "App"}, {Name: "SaveButton"}},
		SelectedIndex:   1,
		ClosestInstance: render.Chain([]*render.Snapshot{stampedSnapshot("SaveButton", "src/SaveButton.tsx", 4)}),
	}
}

func blockedHit() *render.HitResult {
	return &render.HitResult{
		Frame:         &render.Frame{Left: 0, Top: 0, Width: 50, Height: 10},
		Hierarchy:     []render.HierarchyEntry{{Name: "Button"}},
		SelectedIndex: 0,
		ClosestInstance: render.Chain([]*render.Snapshot{
			stampedSnapshot("Button", "node_modules/ui/Button.tsx", 9),
			stampedSnapshot("Screen", "src/Screen.tsx", 12),
		}),
	}
}

func setupTestServerConfig(editorURL string) config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Name = "test-server"
	cfg.Server.Version = "1.0.0"
	cfg.Browser.SessionStore = ""
	cfg.Mangle = config.MangleConfig{Enable: true, FactBufferLimit: 1000}
	cfg.Editor.BaseURL = editorURL
	return cfg
}

func setupTestServer(t *testing.T, editorURL string) *Server {
	t.Helper()
	cfg := setupTestServerConfig(editorURL)
	engine, err := mangle.NewEngine(cfg.Mangle)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	server, err := NewServer(cfg, browser.NewSessionManager(cfg.Browser), engine, nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return server
}

// installInspector binds a fake-host inspector to sessionID.
func installInspector(s *Server, sessionID string, hit *render.HitResult) *sessionInspector {
	host := fakeHost{hit: hit}
	client := editor.NewClient(s.cfg.Editor.BaseURL, 0)
	si := &sessionInspector{
		inspector: s.buildInspector(host, host, nil, client, sessionID),
		editor:    client,
	}
	s.mu.Lock()
	s.inspectors[sessionID] = si
	s.mu.Unlock()
	return si
}

func TestNewServer(t *testing.T) {
	server := setupTestServer(t, "")

	names := make([]string, 0, len(server.tools))
	for name := range server.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	want := []string{
		"attach-session", "create-session", "evaluate-rule", "inspect-at-point",
		"launch-browser", "list-sessions", "open-in-editor", "overlay-state",
		"query-facts", "query-temporal", "read-facts", "shutdown-browser",
		"stamp-source", "submit-rule", "toggle-inspector",
	}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("registered tools = %v, want %v", names, want)
	}

	for name, tool := range server.tools {
		if tool.Description() == "" {
			t.Errorf("%s has no description", name)
		}
		if tool.InputSchema()["type"] != "object" {
			t.Errorf("%s schema is not an object", name)
		}
	}
}

func TestExecuteTool(t *testing.T) {
	server := setupTestServer(t, "")
	ctx := context.Background()

	result, err := server.ExecuteTool(ctx, "read-facts", nil)
	if err != nil {
		t.Fatalf("ExecuteTool failed: %v", err)
	}
	if result.(map[string]interface{})["count"].(int) != 0 {
		t.Errorf("expected empty history, got %v", result)
	}

	if _, err := server.ExecuteTool(ctx, "non-existent-tool", nil); err == nil {
		t.Error("expected error for non-existent tool")
	}
}

type failingTool struct{}

func (failingTool) Name() string                        { return "failing" }
func (failingTool) Description() string                 { return "fails" }
func (failingTool) InputSchema() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (failingTool) Execute(context.Context, map[string]interface{}) (interface{}, error) {
	return nil, errors.New("boom")
}

func TestWrapTool(t *testing.T) {
	server := setupTestServer(t, "")

	res, err := server.wrapTool(failingTool{})(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if !res.IsError {
		t.Error("tool failure should be reported as an error result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok || !strings.Contains(text.Text, "tool failing failed: boom") {
		t.Errorf("unexpected content %+v", res.Content)
	}

	res, err = server.wrapTool(server.tools["list-sessions"])(context.Background(), mcp.CallToolRequest{})
	if err != nil || res.IsError {
		t.Fatalf("list-sessions failed: %v %+v", err, res)
	}
}

func TestMarshalToolPayload(t *testing.T) {
	if got := string(marshalToolPayload("t", map[string]int{"a": 1})); got != `{"a":1}` {
		t.Errorf("unexpected payload %s", got)
	}
	got := string(marshalToolPayload("t", map[string]interface{}{"ch": make(chan int)}))
	if !strings.Contains(got, "non-serializable payload") {
		t.Errorf("expected fallback payload, got %s", got)
	}
}

func TestHandleTap(t *testing.T) {
	dev := newDevServer(t)
	server := setupTestServer(t, dev.URL)
	si := installInspector(server, testSessionID, directHit())
	ctx := context.Background()

	server.HandleTap(ctx, testSessionID, 15, 25)
	if snap := si.inspector.Overlay(); snap.Popover != nil {
		t.Fatal("disabled inspector must ignore taps")
	}

	// Unknown sessions are ignored.
	server.HandleTap(ctx, "other", 1, 1)

	si.inspector.SetEnabled(true)
	server.HandleTap(ctx, testSessionID, 15, 25)
	si.editor.Wait()

	snap := si.inspector.Overlay()
	if snap.Popover == nil || snap.Popover.Title != "SaveButton" {
		t.Fatalf("unexpected overlay %+v", snap)
	}
	if got := dev.opened(); len(got) != 1 || got[0] != "src/SaveButton.tsx:4:2" {
		t.Errorf("unexpected editor requests %v", got)
	}

	facts, err := server.engine.Evaluate(ctx, "direct_navigation")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(facts) != 1 {
		t.Errorf("expected one direct navigation fact, got %+v", facts)
	}
}

func TestDropInspectors(t *testing.T) {
	dev := newDevServer(t)
	server := setupTestServer(t, dev.URL)
	si := installInspector(server, testSessionID, directHit())
	si.inspector.SetEnabled(true)

	server.dropInspectors()
	if si.inspector.Enabled() {
		t.Error("dropped inspector must be disabled")
	}
	if _, ok := server.lookupInspector(testSessionID); ok {
		t.Error("inspector should be forgotten")
	}

	// A late inspection finishing after the drop sends nothing.
	si.editor.Navigate("src/Late.tsx:1:0")
	si.editor.Wait()
	if got := dev.opened(); len(got) != 0 {
		t.Errorf("navigation after drop reached the dev server: %v", got)
	}
}

func TestHandleNavigation(t *testing.T) {
	server := setupTestServer(t, "")
	si := installInspector(server, testSessionID, directHit())
	si.inspector.SetEnabled(true)
	if _, err := si.inspector.Inspect(context.Background(), 15, 25); err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if si.inspector.Overlay().Highlight == nil {
		t.Fatal("expected a highlight before navigating")
	}

	server.HandleNavigation(testSessionID, "http://localhost:8081/other")
	if si.inspector.Enabled() {
		t.Error("navigation must disable the inspector")
	}
	if snap := si.inspector.Overlay(); snap.Highlight != nil || snap.Popover != nil {
		t.Errorf("navigation must clear the overlay, got %+v", snap)
	}

	// Unknown sessions are ignored.
	server.HandleNavigation("other", "about:blank")
}

func TestInspectorForUnknownSession(t *testing.T) {
	server := setupTestServer(t, "")
	if _, err := server.inspectorFor(context.Background(), ""); err == nil {
		t.Error("expected error for empty session id")
	}
	if _, err := server.inspectorFor(context.Background(), "missing"); err == nil || !strings.Contains(err.Error(), "unknown session") {
		t.Errorf("expected unknown session error, got %v", err)
	}
}
