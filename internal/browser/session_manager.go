package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tapsource/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

// tapBinding is the page-side function the tap listener calls.
const tapBinding = "__tapsourceTap"

// tapListenerJS installs a capturing click listener that, while the inspector
// is enabled, swallows the click and reports its page coordinates.
const tapListenerJS = `() => {
	const w = window;
	if (w.__tapsourceHooked) return true;
	w.__tapsourceHooked = true;
	w.__tapsourceEnabled = w.__tapsourceEnabled || false;
	document.addEventListener('click', (ev) => {
		if (!w.__tapsourceEnabled || typeof w.` + tapBinding + ` !== 'function') return;
		ev.preventDefault();
		ev.stopPropagation();
		w.` + tapBinding + `(JSON.stringify({ x: ev.pageX, y: ev.pageY }));
	}, true);
	return true;
}`

// Session describes the public metadata for a tracked browser context.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status,omitempty"`
	Inspecting bool      `json:"inspecting"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type sessionRecord struct {
	meta Session
	page *rod.Page
}

// TapHandler receives taps reported by an inspecting page, in page coordinates.
type TapHandler func(ctx context.Context, sessionID string, x, y float64)

// NavigationHandler is told when a session's top frame loads a new document.
// The page's tap listener is already disarmed when it runs.
type NavigationHandler func(sessionID, url string)

type eventThrottler struct {
	interval time.Duration
	mu       sync.Mutex
	last     map[string]time.Time
}

func newEventThrottler(ms int) *eventThrottler {
	if ms <= 0 {
		return nil
	}
	return &eventThrottler{
		interval: time.Duration(ms) * time.Millisecond,
		last:     make(map[string]time.Time),
	}
}

// Allow reports whether an event for key may pass; a nil throttler allows everything.
func (t *eventThrottler) Allow(key string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.last[key] = now
	return true
}

// tapDebounceMs drops the synthetic second click some devices fire for one tap.
const tapDebounceMs = 150

// SessionManager owns the detached Chrome instance and tracks active sessions.
type SessionManager struct {
	cfg        config.BrowserConfig
	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*sessionRecord
	controlURL string // WebSocket URL for DevTools

	onTap      TapHandler
	onNavigate NavigationHandler
	throttler  *eventThrottler
}

func NewSessionManager(cfg config.BrowserConfig) *SessionManager {
	return &SessionManager{
		cfg:       cfg,
		sessions:  make(map[string]*sessionRecord),
		throttler: newEventThrottler(tapDebounceMs),
	}
}

// OnTap registers the handler for taps from inspecting sessions.
func (m *SessionManager) OnTap(h TapHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTap = h
}

// OnNavigate registers the handler for top-frame navigations.
func (m *SessionManager) OnNavigate(h NavigationHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNavigate = h
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (m *SessionManager) Start(ctx context.Context) error {
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		log.Printf("[browser] stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.mu.Lock()
		m.sessions = make(map[string]*sessionRecord)
		m.mu.Unlock()
	}

	if err := m.loadSessions(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			// Fallback: let Rod pick the port and defaults.
			fallback := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			url = alt
		}
		controlURL = url
	}

	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	log.Printf("[browser] connected at %s", controlURL)
	return nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes tracked pages and the underlying browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, record := range m.sessions {
		if record.page != nil {
			_ = record.page.Close()
		}
		delete(m.sessions, id)
	}

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	log.Printf("[browser] shutdown complete")
	return err
}

// List returns lightweight metadata for all known sessions.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Session, 0, len(m.sessions))
	for _, record := range m.sessions {
		results = append(results, record.meta)
	}
	return results
}

// CreateSession opens a new page in an incognito context with a phone-sized
// viewport and tracks it.
func (m *SessionManager) CreateSession(ctx context.Context, url string) (*Session, error) {
	if m.browser == nil {
		return nil, errors.New("browser not connected")
	}

	incognito, err := m.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            true,
	}).Call(page); err != nil {
		log.Printf("[browser] warning: failed to set viewport: %v", err)
	}

	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		URL:        url,
		Status:     "active",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}

	m.mu.Lock()
	m.sessions[meta.ID] = &sessionRecord{meta: meta, page: page}
	m.mu.Unlock()

	// The tap listener must be registered before the app's first document loads.
	m.startEventStream(ctx, meta.ID, page)

	if url != "" {
		if err := page.Timeout(m.cfg.NavigationTimeout()).Navigate(url); err != nil {
			log.Printf("[session:%s] navigation to %s failed: %v", meta.ID, url, err)
		}
	}

	_ = m.persistSessions()
	return &meta, nil
}

// Attach binds to an existing target by TargetID.
func (m *SessionManager) Attach(ctx context.Context, targetID string) (*Session, error) {
	if m.browser == nil {
		return nil, errors.New("browser not connected")
	}

	page, err := m.browser.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}

	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   targetID,
		Status:     "attached",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}
	if info, err := page.Info(); err == nil {
		meta.URL, meta.Title = info.URL, info.Title
	}

	m.mu.Lock()
	m.sessions[meta.ID] = &sessionRecord{meta: meta, page: page}
	m.mu.Unlock()

	m.startEventStream(ctx, meta.ID, page)
	// Already-loaded documents miss EvalOnNewDocument; install directly as well.
	if _, err := page.Context(ctx).Evaluate(&rod.EvalOptions{JS: tapListenerJS, ByValue: true}); err != nil {
		log.Printf("[session:%s] tap listener install failed: %v", meta.ID, err)
	}

	_ = m.persistSessions()
	return &meta, nil
}

// Page returns the underlying Rod page for a session when present.
func (m *SessionManager) Page(sessionID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.page == nil {
		return nil, false
	}
	return rec.page, true
}

// UpdateMetadata allows tools to refresh metadata (e.g., URL/title after navigation).
func (m *SessionManager) UpdateMetadata(sessionID string, updater func(Session) Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	rec.meta = updater(rec.meta)
}

// GetSession returns the current session metadata when available.
func (m *SessionManager) GetSession(sessionID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return rec.meta, true
}

// SetInspecting arms or disarms the page's tap listener.
func (m *SessionManager) SetInspecting(ctx context.Context, sessionID string, enabled bool) error {
	page, ok := m.Page(sessionID)
	if !ok {
		return fmt.Errorf("unknown session: %s", sessionID)
	}
	_, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      `(on) => { window.__tapsourceEnabled = on; return on; }`,
		JSArgs:  []interface{}{enabled},
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("set inspecting: %w", err)
	}
	m.UpdateMetadata(sessionID, func(s Session) Session {
		s.Inspecting = enabled
		s.LastActive = time.Now()
		return s
	})
	return nil
}

// startEventStream installs the tap listener on every new document and routes
// tap bindings and navigations back into the manager.
func (m *SessionManager) startEventStream(ctx context.Context, sessionID string, page *rod.Page) {
	if err := (proto.RuntimeAddBinding{Name: tapBinding}).Call(page); err != nil {
		log.Printf("[session:%s] add tap binding failed: %v", sessionID, err)
		return
	}
	if _, err := page.EvalOnNewDocument("(" + tapListenerJS + ")()"); err != nil {
		log.Printf("[session:%s] tap listener registration failed: %v", sessionID, err)
	}

	wait := page.Context(ctx).EachEvent(
		func(ev *proto.RuntimeBindingCalled) {
			if ev.Name != tapBinding {
				return
			}
			x, y, err := decodeTap(ev.Payload)
			if err != nil {
				log.Printf("[session:%s] bad tap payload %q: %v", sessionID, ev.Payload, err)
				return
			}
			if !m.throttler.Allow(sessionID) {
				return
			}
			m.mu.RLock()
			handler := m.onTap
			m.mu.RUnlock()
			// Handlers evaluate on this page; never block the event loop on them.
			if handler != nil {
				go handler(ctx, sessionID, x, y)
			}
		},
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame == nil || ev.Frame.ParentID != "" {
				return
			}
			m.handleNavigation(sessionID, ev.Frame.URL)
		},
	)
	go wait()
}

// handleNavigation records a top-frame navigation. The new document starts
// without a tap listener, so the session is no longer inspecting.
func (m *SessionManager) handleNavigation(sessionID, url string) {
	now := time.Now()
	m.UpdateMetadata(sessionID, func(s Session) Session {
		s.URL = url
		s.Inspecting = false
		s.LastActive = now
		return s
	})

	m.mu.RLock()
	handler := m.onNavigate
	m.mu.RUnlock()
	if handler != nil {
		handler(sessionID, url)
	}
}

func decodeTap(payload string) (float64, float64, error) {
	var p struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return 0, 0, err
	}
	if p.X == nil || p.Y == nil {
		return 0, 0, errors.New("missing coordinates")
	}
	return *p.X, *p.Y, nil
}

// persistSessions writes session metadata to disk for continuity across restarts.
func (m *SessionManager) persistSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		sessions = append(sessions, rec.meta)
	}

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.cfg.SessionStore), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.cfg.SessionStore, data, 0o644)
}

// loadSessions loads persisted metadata (does not auto-attach to pages).
func (m *SessionManager) loadSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	data, err := os.ReadFile(m.cfg.SessionStore)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		// Detached until a caller attaches to the live target again.
		s.Status = "detached"
		s.Inspecting = false
		m.sessions[s.ID] = &sessionRecord{meta: s}
	}
	return nil
}
