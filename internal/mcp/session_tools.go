package mcp

import (
	"context"
	"fmt"

	"tapsource/internal/browser"
)

type ListSessionsTool struct {
	sessions *browser.SessionManager
}

func (t *ListSessionsTool) Name() string { return "list-sessions" }
func (t *ListSessionsTool) Description() string {
	return `List the browser sessions tapsource is tracking.

USE THIS FIRST to find the session running your app before toggling the
inspector. Sessions restored from a previous run show status "detached"
and cannot be inspected until re-attached.

Returns: {sessions: [{id, target_id, url, title, status, inspecting}]}`
}
func (t *ListSessionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListSessionsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.sessions == nil {
		return map[string]interface{}{"sessions": []browser.Session{}}, nil
	}
	return map[string]interface{}{"sessions": t.sessions.List()}, nil
}

type CreateSessionTool struct {
	sessions *browser.SessionManager
}

func (t *CreateSessionTool) Name() string { return "create-session" }
func (t *CreateSessionTool) Description() string {
	return `Open the app under development in a new phone-sized browser tab.

PREREQUISITE: Browser must be running (use launch-browser first if needed).

WORKFLOW:
1. launch-browser
2. create-session {url: "http://localhost:8081"}
3. toggle-inspector {session_id}
4. Tap elements in the page, or call inspect-at-point

Returns: {session: {id, url, status}}`
}
func (t *CreateSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL of the running app (default about:blank)",
			},
		},
	}
}
func (t *CreateSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.sessions == nil {
		return nil, fmt.Errorf("browser sessions unavailable")
	}
	url := getStringArg(args, "url")
	if url == "" {
		url = "about:blank"
	}

	sess, err := t.sessions.CreateSession(ctx, url)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"session": sess}, nil
}

type AttachSessionTool struct {
	sessions *browser.SessionManager
}

func (t *AttachSessionTool) Name() string { return "attach-session" }
func (t *AttachSessionTool) Description() string {
	return `Attach to an existing Chrome tab by its CDP TargetID.

USE INSTEAD OF create-session when the app is already open in a tab of the
connected browser (see chrome://inspect for target ids). The tap listener is
installed into the loaded document immediately.

Returns: {session: {id, target_id, url, title}}`
}
func (t *AttachSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_id": map[string]interface{}{
				"type":        "string",
				"description": "CDP TargetID to attach",
			},
		},
		"required": []string{"target_id"},
	}
}
func (t *AttachSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	targetID := getStringArg(args, "target_id")
	if targetID == "" {
		return nil, fmt.Errorf("target_id is required")
	}
	if t.sessions == nil {
		return nil, fmt.Errorf("browser sessions unavailable")
	}

	sess, err := t.sessions.Attach(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"session": sess}, nil
}

// LaunchBrowserTool starts Chrome using the configured launch command.
type LaunchBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *LaunchBrowserTool) Name() string { return "launch-browser" }
func (t *LaunchBrowserTool) Description() string {
	return `Start or connect to the Chrome instance that hosts the app.

Uses browser.debugger_url when set, otherwise browser.launch.
Idempotent: safe to call if already running.

Returns: {status: "started"|"already_connected", control_url}`
}
func (t *LaunchBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *LaunchBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.sessions == nil {
		return nil, fmt.Errorf("browser sessions unavailable")
	}
	if t.sessions.IsConnected() {
		return map[string]interface{}{
			"status":      "already_connected",
			"control_url": t.sessions.ControlURL(),
		}, nil
	}

	if err := t.sessions.Start(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":      "started",
		"control_url": t.sessions.ControlURL(),
	}, nil
}

// ShutdownBrowserTool stops the managed Chrome instance and clears sessions.
type ShutdownBrowserTool struct {
	sessions *browser.SessionManager
	server   *Server
}

func (t *ShutdownBrowserTool) Name() string { return "shutdown-browser" }
func (t *ShutdownBrowserTool) Description() string {
	return `Stop the Chrome browser, close all sessions and discard their inspectors.

Inspection history (facts and traces) is kept.`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ShutdownBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.server != nil {
		t.server.dropInspectors()
	}
	if t.sessions != nil {
		if err := t.sessions.Shutdown(ctx); err != nil {
			return nil, err
		}
	}
	return map[string]interface{}{
		"status": "stopped",
	}, nil
}
