// Package inspector turns a tap on the running UI into a highlight, a popover
// and, when possible, an editor navigation request.
package inspector

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tapsource/internal/display"
	"tapsource/internal/policy"
	"tapsource/internal/render"
	"tapsource/internal/source"

	"github.com/google/uuid"
)

// ErrDisabled is returned by Inspect while the inspector is toggled off.
var ErrDisabled = errors.New("inspector is disabled")

// defaultTitle is shown when the hierarchy does not name the selected element.
const defaultTitle = "Component"

// Navigator opens a "file:line:column" target. Implementations must not block
// the caller.
type Navigator interface {
	Navigate(target string)
}

// Observer is notified after every inspection that produced a popover.
type Observer interface {
	ObserveInspection(ctx context.Context, in *Inspection)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, in *Inspection)

// ObserveInspection implements Observer.
func (f ObserverFunc) ObserveInspection(ctx context.Context, in *Inspection) { f(ctx, in) }

// Decision records which path an inspection took.
type Decision string

const (
	// DecisionDirect means the hit element's own source was opened.
	DecisionDirect Decision = "direct"
	// DecisionFallback means an ancestor candidate was opened instead.
	DecisionFallback Decision = "fallback"
	// DecisionNone means nothing navigable was found.
	DecisionNone Decision = "none"
)

// Inspection is the full outcome of one tap.
type Inspection struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	PageX    float64   `json:"page_x"`
	PageY    float64   `json:"page_y"`
	Decision Decision  `json:"decision"`

	// Target is the navigation request issued, if any.
	Target string `json:"target,omitempty"`

	// Source is the hit element's own location, blocked or not.
	Source    *source.Location   `json:"source,omitempty"`
	BlockedBy string             `json:"blocked_by,omitempty"`
	Ancestors []source.Candidate `json:"ancestors,omitempty"`
	Rejected  []string           `json:"rejected,omitempty"`

	Highlight HighlightInfo `json:"highlight"`
	Popover   PopoverInfo   `json:"popover"`
}

// Options configures an Inspector.
type Options struct {
	Container render.Container
	// Blocklist is passed to policy.NewFilter; nil selects the defaults.
	Blocklist []string
	// VendorMarkers is passed to policy.NewSelector; nil selects the defaults.
	VendorMarkers []string
	// Display bounds the popover props and style text.
	Display display.Options
}

// Inspector wires the locator, policy and navigator together and owns the
// overlay state.
type Inspector struct {
	locator   *render.Locator
	reader    *render.Reader
	filter    *policy.Filter
	selector  *policy.Selector
	navigator Navigator
	container render.Container
	display   display.Options

	enabled atomic.Bool
	overlay Overlay

	mu        sync.RWMutex
	observers []Observer
}

// New builds an Inspector. It starts disabled.
func New(locator *render.Locator, navigator Navigator, opts Options) *Inspector {
	reader := locator.Reader
	if reader == nil {
		reader = render.NewReader("")
		locator.Reader = reader
	}
	displayOpts := opts.Display
	if displayOpts == (display.Options{}) {
		displayOpts = display.PopoverOptions()
	}
	return &Inspector{
		locator:   locator,
		reader:    reader,
		filter:    policy.NewFilter(opts.Blocklist),
		selector:  policy.NewSelector(opts.VendorMarkers),
		navigator: navigator,
		container: opts.Container,
		display:   displayOpts,
	}
}

// AddObserver registers o for future inspections.
func (i *Inspector) AddObserver(o Observer) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.observers = append(i.observers, o)
}

// Enabled reports whether taps are being inspected.
func (i *Inspector) Enabled() bool { return i.enabled.Load() }

// Toggle flips the enabled state, clears the overlay and returns the new state.
func (i *Inspector) Toggle() bool {
	for {
		old := i.enabled.Load()
		if i.enabled.CompareAndSwap(old, !old) {
			i.overlay.Reset()
			log.Printf("[inspector] toggled %s", onOff(!old))
			return !old
		}
	}
}

// SetEnabled sets the enabled state; turning it off clears the overlay.
func (i *Inspector) SetEnabled(enabled bool) {
	i.enabled.Store(enabled)
	if !enabled {
		i.overlay.Reset()
	}
}

// Overlay returns the current highlight and popover.
func (i *Inspector) Overlay() OverlaySnapshot { return i.overlay.Load() }

// Inspect resolves the element at page point (x, y), updates the overlay and
// issues at most one navigation request. Errors mean the tap was dropped and
// the overlay left untouched.
func (i *Inspector) Inspect(ctx context.Context, x, y float64) (*Inspection, error) {
	if !i.Enabled() {
		return nil, ErrDisabled
	}

	located, err := i.locator.Locate(ctx, i.container, x, y)
	if err != nil {
		log.Printf("[inspector] tap at (%.0f,%.0f) dropped: %v", x, y, err)
		return nil, err
	}

	hit := located.Hit
	in := &Inspection{
		ID:        uuid.NewString(),
		At:        time.Now(),
		PageX:     x,
		PageY:     y,
		Source:    located.Source,
		Highlight: highlightFor(*hit.Frame, located.Measurement),
	}
	in.Popover = i.popover(in, hit)

	if i.filter.Actionable(located.Source) {
		in.Popover.Source = located.Source
		in.Decision = DecisionDirect
		in.Target = located.Source.Target()
	} else {
		if located.Source != nil {
			in.BlockedBy = i.filter.BlockedBy(located.Source.File)
		}
		in.Ancestors = i.reader.ResolveAncestors(hit.ClosestInstance)
		in.Popover.AncestorsSources = in.Ancestors

		sel := i.selector.Select(in.Ancestors)
		in.Rejected = sel.Rejected
		if best, ok := sel.Best(); ok {
			in.Decision = DecisionFallback
			in.Target = best
		} else {
			in.Decision = DecisionNone
			log.Printf("[inspector] no navigable ancestor for %s; rejected candidates:\n%s",
				describeLocation(located.Source), strings.Join(sel.Rejected, "\n"))
		}
	}

	i.overlay.Store(in.Highlight, in.Popover)
	if !i.Enabled() {
		// Toggled off while the hit test was in flight.
		i.overlay.Reset()
	}

	if in.Target != "" && i.navigator != nil {
		i.navigator.Navigate(in.Target)
	}

	i.mu.RLock()
	observers := append([]Observer(nil), i.observers...)
	i.mu.RUnlock()
	for _, o := range observers {
		o.ObserveInspection(ctx, in)
	}

	return in, nil
}

func (i *Inspector) popover(in *Inspection, hit *render.HitResult) PopoverInfo {
	title := hit.SelectedName()
	if title == "" {
		title = defaultTitle
	}
	p := PopoverInfo{
		ID:       in.ID,
		At:       in.At,
		X:        in.Highlight.X,
		Y:        in.Highlight.Y + in.Highlight.Height + popoverGap,
		Title:    title,
		SizeText: sizeText(*hit.Frame),
		Frame:    *hit.Frame,
	}
	if hit.Props != nil {
		p.PropsText = display.Format(hit.Props, i.display)
	}
	if hit.Style != nil {
		p.StyleText = display.Format(hit.Style, i.display)
	}
	return p
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
