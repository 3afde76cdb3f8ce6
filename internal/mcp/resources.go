package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tapsource/internal/recorder"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"tapsource://about",
			"tapsource About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, inspector policy and the predicates available for queries."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			"tapsource://traces/latest",
			"Latest Inspection Trace",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Events of the newest inspection trace file (when the recorder is enabled)."),
		),
		s.handleLatestTraceResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"tapsource://session/{sessionId}/overlay",
			"Session Overlay",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Current highlight and popover of a session's inspector."),
		),
		s.handleOverlayResource,
	)
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	var predicates []string
	if s.engine != nil {
		predicates = s.engine.Predicates()
	}
	payload := map[string]interface{}{
		"name":             s.cfg.Server.Name,
		"version":          s.cfg.Server.Version,
		"prop_name":        s.cfg.Inspector.PropName,
		"block_components": s.cfg.Inspector.BlockComponents,
		"vendor_markers":   s.cfg.Inspector.VendorMarkers,
		"predicates":       predicates,
		"notes": []string{
			"Stamp sources (stamp-source) before bundling so elements carry their location.",
			"toggle-inspector arms tap handling; taps then open the element's source in the editor.",
			"Blocked locations fall back to the nearest non-vendored ancestor.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonContents(request.Params.URI, payload)
}

func (s *Server) handleLatestTraceResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.recorder == nil {
		return nil, fmt.Errorf("trace recorder disabled")
	}
	traces, err := s.recorder.Traces()
	if err != nil {
		return nil, err
	}
	if len(traces) == 0 {
		return jsonContents(request.Params.URI, map[string]interface{}{
			"path":   "",
			"count":  0,
			"events": []recorder.Event{},
		})
	}

	events, err := recorder.ReadEvents(traces[0])
	payload := map[string]interface{}{
		"path":   traces[0],
		"count":  len(events),
		"events": events,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	return jsonContents(request.Params.URI, payload)
}

func (s *Server) handleOverlayResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sessionID := argString(request.Params.Arguments["sessionId"])
	if sessionID == "" {
		return nil, fmt.Errorf("missing sessionId")
	}
	si, ok := s.lookupInspector(sessionID)
	if !ok {
		return nil, fmt.Errorf("no inspector for session %s", sessionID)
	}
	return jsonContents(request.Params.URI, overlayPayload(sessionID, si.inspector))
}
