// Package recorder writes inspection traces as rotating JSON Lines files so a
// session can be replayed or attached to a bug report.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	MaxRotatedFiles = 3
	TraceDir        = ".tapsource/data/traces"
)

// Event types written by the inspector.
const (
	EventInspection = "inspection"
	EventToggle     = "toggle"
	EventDropped    = "dropped"
)

// Event represents a single record in a trace.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Recorder appends events to the current trace file, keeping at most
// MaxRotatedFiles traces on disk.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	path     string
	basePath string
}

// NewRecorder creates a recorder writing under basePath, creating it if needed.
func NewRecorder(basePath string) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{
		basePath: basePath,
	}, nil
}

// Start begins a new trace for sessionID, rotating old ones out.
func (r *Recorder) Start(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
		r.encoder = nil
	}

	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	filename := fmt.Sprintf("trace_%s_%d.jsonl", sessionID, time.Now().UnixNano())
	path := filepath.Join(r.basePath, filename)
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	r.file = f
	r.path = path
	r.encoder = json.NewEncoder(f)
	r.encoder.SetEscapeHTML(false)
	return nil
}

// Log writes an event to the current trace. It is a no-op before Start and
// returns the encoding error, if any.
func (r *Recorder) Log(eventType, sessionID string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return nil
	}

	return r.encoder.Encode(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		SessionID: sessionID,
		Data:      raw,
	})
}

// Path returns the current trace file, or "" before Start.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Traces lists trace files newest first.
func (r *Recorder) Traces() ([]string, error) {
	traces, err := r.list()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(traces))
	for i, t := range traces {
		out[i] = filepath.Join(r.basePath, t.name)
	}
	return out, nil
}

type traceFile struct {
	name string
	mod  time.Time
}

func (r *Recorder) list() ([]traceFile, error) {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, err
	}

	var traces []traceFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, traceFile{e.Name(), info.ModTime()})
	}

	// Newest first; names embed a nanosecond stamp and break mtime ties.
	sort.Slice(traces, func(i, j int) bool {
		if !traces[i].mod.Equal(traces[j].mod) {
			return traces[i].mod.After(traces[j].mod)
		}
		return traces[i].name > traces[j].name
	})
	return traces, nil
}

// rotate keeps only the newest MaxRotatedFiles-1 traces, making room for the
// one about to be created.
func (r *Recorder) rotate() error {
	traces, err := r.list()
	if err != nil {
		return err
	}
	for i := MaxRotatedFiles - 1; i < len(traces); i++ {
		_ = os.Remove(filepath.Join(r.basePath, traces[i].name))
	}
	return nil
}

// ReadEvents decodes every event in a trace file.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return events, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		events = append(events, evt)
	}
	return events, scanner.Err()
}

// Close finishes the current recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.encoder = nil
		return err
	}
	return nil
}
