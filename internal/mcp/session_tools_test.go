package mcp

import (
	"context"
	"strings"
	"testing"

	"tapsource/internal/browser"
	"tapsource/internal/config"
)

func TestSessionToolMetadata(t *testing.T) {
	tools := []Tool{
		&ListSessionsTool{},
		&CreateSessionTool{},
		&AttachSessionTool{},
		&LaunchBrowserTool{},
		&ShutdownBrowserTool{},
	}
	want := []string{"list-sessions", "create-session", "attach-session", "launch-browser", "shutdown-browser"}

	for i, tool := range tools {
		t.Run(want[i], func(t *testing.T) {
			if tool.Name() != want[i] {
				t.Errorf("expected name %q, got %q", want[i], tool.Name())
			}
			if tool.Description() == "" {
				t.Error("expected non-empty description")
			}
			if tool.InputSchema()["type"] != "object" {
				t.Error("expected object schema")
			}
		})
	}

	required := (&AttachSessionTool{}).InputSchema()["required"].([]string)
	if len(required) != 1 || required[0] != "target_id" {
		t.Errorf("attach-session should require target_id, got %v", required)
	}
}

func TestListSessionsTool(t *testing.T) {
	ctx := context.Background()

	result, err := (&ListSessionsTool{}).Execute(ctx, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(result.(map[string]interface{})["sessions"].([]browser.Session)) != 0 {
		t.Error("expected no sessions without a manager")
	}

	tool := &ListSessionsTool{sessions: browser.NewSessionManager(config.BrowserConfig{})}
	result, err = tool.Execute(ctx, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(result.(map[string]interface{})["sessions"].([]browser.Session)) != 0 {
		t.Error("expected empty session list")
	}
}

func TestCreateAndAttachWithoutBrowser(t *testing.T) {
	ctx := context.Background()
	sessions := browser.NewSessionManager(config.BrowserConfig{})

	if _, err := (&CreateSessionTool{}).Execute(ctx, nil); err == nil {
		t.Error("expected error without a session manager")
	}

	_, err := (&CreateSessionTool{sessions: sessions}).Execute(ctx, map[string]interface{}{"url": "http://localhost:8081"})
	if err == nil || !strings.Contains(err.Error(), "browser not connected") {
		t.Errorf("expected browser not connected, got %v", err)
	}

	attach := &AttachSessionTool{sessions: sessions}
	if _, err := attach.Execute(ctx, map[string]interface{}{}); err == nil || !strings.Contains(err.Error(), "target_id") {
		t.Errorf("expected target_id error, got %v", err)
	}
	if _, err := attach.Execute(ctx, map[string]interface{}{"target_id": "ABC"}); err == nil {
		t.Error("expected error attaching without a browser")
	}
}

func TestLaunchBrowserToolWithoutEndpoint(t *testing.T) {
	tool := &LaunchBrowserTool{sessions: browser.NewSessionManager(config.BrowserConfig{})}
	if _, err := tool.Execute(context.Background(), nil); err == nil {
		t.Error("expected error with neither debugger_url nor launch")
	}
	if _, err := (&LaunchBrowserTool{}).Execute(context.Background(), nil); err == nil {
		t.Error("expected error without a session manager")
	}
}

func TestShutdownBrowserTool(t *testing.T) {
	server := setupTestServer(t, "")
	si := installInspector(server, testSessionID, directHit())
	si.inspector.SetEnabled(true)

	result, err := server.tools["shutdown-browser"].Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.(map[string]interface{})["status"] != "stopped" {
		t.Errorf("unexpected result %v", result)
	}
	if si.inspector.Enabled() {
		t.Error("shutdown must disable inspectors")
	}
	if _, ok := server.lookupInspector(testSessionID); ok {
		t.Error("shutdown must discard inspectors")
	}
}
