package mcp

import (
	"context"
	"errors"
	"fmt"
	"log"

	"tapsource/internal/browser"
	"tapsource/internal/display"
	"tapsource/internal/editor"
	"tapsource/internal/inspector"
	"tapsource/internal/render"
)

// sessionInspector is the inspector bound to one browser session together
// with the editor client its navigations go through.
type sessionInspector struct {
	inspector *inspector.Inspector
	editor    *editor.Client
}

// inspectorFor returns the session's inspector, building it on first use.
func (s *Server) inspectorFor(ctx context.Context, sessionID string) (*sessionInspector, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if si, ok := s.lookupInspector(sessionID); ok {
		return si, nil
	}
	if s.sessions == nil {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}
	page, ok := s.sessions.Page(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}

	host := browser.NewHost(page, s.cfg.Inspector.PropName)
	client := editor.NewClient(s.configuredEditorBaseURL(), s.cfg.Editor.GetRequestTimeout())
	if client.BaseURL() == "" {
		client.SetResolver(func(ctx context.Context) (string, error) { return pageEditorBaseURL(ctx, host) })
		client.Resolve(ctx)
	}
	si := &sessionInspector{
		inspector: s.buildInspector(host, host.Primary(), host.Secondary(), client, sessionID),
		editor:    client,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.inspectors[sessionID]; ok {
		return existing, nil
	}
	s.inspectors[sessionID] = si
	log.Printf("[mcp] inspector ready for session %s (editor: %q)", sessionID, client.BaseURL())
	return si, nil
}

// buildInspector assembles an inspector from the host primitives and attaches
// the history observers.
func (s *Server) buildInspector(m render.Measurer, primary, secondary render.HitTester, nav inspector.Navigator, sessionID string) *inspector.Inspector {
	ic := s.cfg.Inspector
	reader := render.NewReader(ic.PropName)
	if ic.MaxAncestors > 0 {
		reader.MaxAncestors = ic.MaxAncestors
	}
	if ic.MaxWalkDepth > 0 {
		reader.MaxWalkDepth = ic.MaxWalkDepth
	}

	locator := &render.Locator{Measurer: m, Primary: primary, Secondary: secondary, Reader: reader}
	insp := inspector.New(locator, nav, inspector.Options{
		Container:     render.Container(ic.ContainerSelector),
		Blocklist:     ic.BlockComponents,
		VendorMarkers: ic.VendorMarkers,
		Display: display.Options{
			MaxDepth:  s.cfg.Display.MaxDepth,
			MaxKeys:   s.cfg.Display.MaxKeys,
			MaxString: s.cfg.Display.MaxString,
		},
	})

	if s.engine != nil && s.engine.Ready() {
		insp.AddObserver(inspector.FactObserver(s.engine))
	}
	if s.recorder != nil {
		insp.AddObserver(inspector.TraceObserver(s.recorder, sessionID))
	}
	return insp
}

func (s *Server) lookupInspector(sessionID string) (*sessionInspector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	si, ok := s.inspectors[sessionID]
	return si, ok
}

// dropInspectors forgets every session inspector, waiting for their pending
// editor requests.
func (s *Server) dropInspectors() {
	s.mu.Lock()
	dropped := s.inspectors
	s.inspectors = make(map[string]*sessionInspector)
	s.mu.Unlock()

	for _, si := range dropped {
		si.inspector.SetEnabled(false)
		si.editor.Close()
	}
}

// configuredEditorBaseURL picks the dev server for open requests from config:
// the base URL, then our own editor endpoint. Empty means the page decides.
func (s *Server) configuredEditorBaseURL() string {
	if s.cfg.Editor.BaseURL != "" {
		return s.cfg.Editor.BaseURL
	}
	if s.cfg.Editor.ListenAddr != "" {
		return "http://" + s.cfg.Editor.ListenAddr
	}
	return ""
}

// pageEditorBaseURL derives the dev server from the origin of the page's bundle.
func pageEditorBaseURL(ctx context.Context, host *browser.Host) (string, error) {
	scriptURL, err := host.ScriptURL(ctx)
	if err != nil {
		return "", fmt.Errorf("bundle URL unavailable: %w", err)
	}
	return editor.BaseURLFromScript(scriptURL)
}

// HandleNavigation disarms the session's inspector when its page loads a new
// document, clearing the overlay left from the previous one. A dev server
// found from the old page is looked up again.
func (s *Server) HandleNavigation(sessionID, url string) {
	si, ok := s.lookupInspector(sessionID)
	if !ok {
		return
	}
	if si.inspector.Enabled() {
		log.Printf("[mcp] session %s navigated to %s; inspector off", sessionID, url)
	}
	si.inspector.SetEnabled(false)
	si.editor.Refresh()
}

// HandleTap inspects a tap delivered by the page. Taps for sessions without
// an enabled inspector are ignored.
func (s *Server) HandleTap(ctx context.Context, sessionID string, x, y float64) {
	si, ok := s.lookupInspector(sessionID)
	if !ok || !si.inspector.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Inspector.GetHitTimeout())
	defer cancel()

	in, err := si.inspector.Inspect(ctx, x, y)
	if err != nil {
		if !errors.Is(err, inspector.ErrDisabled) {
			log.Printf("[mcp] tap on session %s dropped: %v", sessionID, err)
		}
		return
	}
	if s.sessions != nil {
		s.sessions.UpdateMetadata(sessionID, func(sess browser.Session) browser.Session {
			sess.LastActive = in.At
			return sess
		})
	}
}
