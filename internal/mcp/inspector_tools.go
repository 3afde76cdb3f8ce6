package mcp

import (
	"context"
	"errors"
	"fmt"

	"tapsource/internal/editor"
	"tapsource/internal/inspector"
)

// ToggleInspectorTool arms or disarms tap inspection for a session.
type ToggleInspectorTool struct {
	server *Server
}

func (t *ToggleInspectorTool) Name() string { return "toggle-inspector" }
func (t *ToggleInspectorTool) Description() string {
	return `Turn tap-to-source inspection on or off for a session.

While on, every tap in the page resolves the element under it, updates the
overlay (highlight + popover) and asks the dev server to open the source in
the editor. Toggling always clears the overlay. Navigating the page turns
inspection off.

Omit "enabled" to flip the current state.

Returns: {session_id, enabled}`
}
func (t *ToggleInspectorTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session to inspect",
			},
			"enabled": map[string]interface{}{
				"type":        "boolean",
				"description": "Desired state; omitted flips the current one",
			},
		},
		"required": []string{"session_id"},
	}
}
func (t *ToggleInspectorTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	si, err := t.server.inspectorFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sessions := t.server.sessions
	if sessions == nil {
		return nil, fmt.Errorf("browser sessions unavailable")
	}

	current := si.inspector.Enabled()
	if sess, ok := sessions.GetSession(sessionID); ok {
		// A navigation disarms the page without telling the inspector.
		current = current && sess.Inspecting
	}
	enabled := getBoolArg(args, "enabled", !current)

	if err := sessions.SetInspecting(ctx, sessionID, enabled); err != nil {
		return nil, err
	}
	if si.inspector.Enabled() != enabled {
		si.inspector.Toggle()
	} else {
		si.inspector.SetEnabled(enabled)
	}

	return map[string]interface{}{
		"session_id": sessionID,
		"enabled":    enabled,
	}, nil
}

// InspectAtPointTool runs one inspection as if the page had been tapped.
type InspectAtPointTool struct {
	server *Server
}

func (t *InspectAtPointTool) Name() string { return "inspect-at-point" }
func (t *InspectAtPointTool) Description() string {
	return `Inspect the element at a page coordinate, exactly like a tap.

PREREQUISITE: toggle-inspector must have turned inspection on.

Resolves the stamped source of the element under (x, y). When that source is
blocked (library or design-system code) the nearest ancestors are offered
instead and the first non-vendored one is opened.

Returns: {inspection: {decision, target, source, ancestors, rejected, highlight, popover}, popover_text}`
}
func (t *InspectAtPointTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session to inspect",
			},
			"x": map[string]interface{}{
				"type":        "number",
				"description": "Page X coordinate in CSS pixels",
			},
			"y": map[string]interface{}{
				"type":        "number",
				"description": "Page Y coordinate in CSS pixels",
			},
		},
		"required": []string{"session_id", "x", "y"},
	}
}
func (t *InspectAtPointTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	x, okX := getFloatArg(args, "x")
	y, okY := getFloatArg(args, "y")
	if !okX || !okY {
		return nil, fmt.Errorf("x and y are required numbers")
	}

	si, err := t.server.inspectorFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.server.cfg.Inspector.GetHitTimeout())
	defer cancel()

	in, err := si.inspector.Inspect(ctx, x, y)
	if err != nil {
		if errors.Is(err, inspector.ErrDisabled) {
			return nil, fmt.Errorf("%w: call toggle-inspector first", err)
		}
		return nil, err
	}
	return map[string]interface{}{
		"inspection":   in,
		"popover_text": in.Popover.Text(),
	}, nil
}

// OverlayStateTool reports what the overlay currently shows.
type OverlayStateTool struct {
	server *Server
}

func (t *OverlayStateTool) Name() string { return "overlay-state" }
func (t *OverlayStateTool) Description() string {
	return `Read the session's current overlay: highlight box and popover.

Both are null when inspection is off or nothing has been tapped yet.

Returns: {session_id, enabled, highlight, popover, popover_text}`
}
func (t *OverlayStateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session to read",
			},
		},
		"required": []string{"session_id"},
	}
}
func (t *OverlayStateTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	si, err := t.server.inspectorFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return overlayPayload(sessionID, si.inspector), nil
}

func overlayPayload(sessionID string, insp *inspector.Inspector) map[string]interface{} {
	snap := insp.Overlay()
	text := ""
	if snap.Popover != nil {
		text = snap.Popover.Text()
	}
	return map[string]interface{}{
		"session_id":   sessionID,
		"enabled":      insp.Enabled(),
		"highlight":    snap.Highlight,
		"popover":      snap.Popover,
		"popover_text": text,
	}
}

// OpenInEditorTool sends an open request for an explicit target.
type OpenInEditorTool struct {
	server *Server
}

func (t *OpenInEditorTool) Name() string { return "open-in-editor" }
func (t *OpenInEditorTool) Description() string {
	return `Ask the dev server to open "path:line:column" in the editor.

Useful for following one of the ancestor candidates of a blocked inspection.
With session_id the session's dev server is used; otherwise editor.base_url
(or the local editor endpoint) must be configured.

Returns: {target, base_url, status: "opened"}`
}
func (t *OpenInEditorTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target": map[string]interface{}{
				"type":        "string",
				"description": "Location as path:line:column",
			},
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional session whose dev server receives the request",
			},
		},
		"required": []string{"target"},
	}
}
func (t *OpenInEditorTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	target := getStringArg(args, "target")
	if target == "" {
		return nil, fmt.Errorf("target is required")
	}

	var client *editor.Client
	if sessionID := getStringArg(args, "session_id"); sessionID != "" {
		si, err := t.server.inspectorFor(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		client = si.editor
	} else {
		base := t.server.cfg.Editor.BaseURL
		if base == "" && t.server.cfg.Editor.ListenAddr != "" {
			base = "http://" + t.server.cfg.Editor.ListenAddr
		}
		client = editor.NewClient(base, t.server.cfg.Editor.GetRequestTimeout())
	}

	if err := client.Open(ctx, target); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"target":   target,
		"base_url": client.BaseURL(),
		"status":   "opened",
	}, nil
}
