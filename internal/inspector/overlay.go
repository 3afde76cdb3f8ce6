package inspector

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"tapsource/internal/render"
	"tapsource/internal/source"
)

// popoverGap is the vertical space between the highlight box and the popover.
const popoverGap = 6

// HighlightInfo is the highlight box in container space.
type HighlightInfo struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// highlightFor converts a page-space frame to container space, clamping every
// component at zero.
func highlightFor(frame render.Frame, m render.Measurement) HighlightInfo {
	return HighlightInfo{
		X:      math.Max(0, frame.Left-m.PageX),
		Y:      math.Max(0, frame.Top-m.PageY),
		Width:  math.Max(0, frame.Width),
		Height: math.Max(0, frame.Height),
	}
}

// PopoverInfo is everything the popover shows for one inspection. Exactly one
// of Source and AncestorsSources is set.
type PopoverInfo struct {
	ID        string       `json:"id"`
	At        time.Time    `json:"at"`
	X         float64      `json:"x"`
	Y         float64      `json:"y"`
	Title     string       `json:"title"`
	SizeText  string       `json:"size"`
	Frame     render.Frame `json:"frame"`
	PropsText string       `json:"props,omitempty"`
	StyleText string       `json:"style,omitempty"`

	Source           *source.Location   `json:"source,omitempty"`
	AncestorsSources []source.Candidate `json:"ancestorsSources,omitempty"`
}

// MarshalJSON emits exactly one of "source" and "ancestorsSources". An empty
// ancestor list is kept as [] so a blocked hit with no usable ancestors still
// says which branch it took.
func (p PopoverInfo) MarshalJSON() ([]byte, error) {
	type popover PopoverInfo
	if p.AncestorsSources != nil {
		return json.Marshal(struct {
			popover
			Source           *source.Location   `json:"source,omitempty"`
			AncestorsSources []source.Candidate `json:"ancestorsSources"`
		}{popover: popover(p), AncestorsSources: p.AncestorsSources})
	}
	return json.Marshal(struct {
		popover
		Source           *source.Location   `json:"source"`
		AncestorsSources []source.Candidate `json:"ancestorsSources,omitempty"`
	}{popover: popover(p), Source: p.Source})
}

func sizeText(f render.Frame) string {
	return fmt.Sprintf("%d×%d", int64(math.Round(f.Width)), int64(math.Round(f.Height)))
}

func describeLocation(loc *source.Location) string {
	if loc == nil || loc.File == "" {
		return "N/A"
	}
	return loc.Target()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Text renders the popover as plain lines.
func (p PopoverInfo) Text() string {
	var b strings.Builder
	b.WriteString(p.Title)
	b.WriteString("\n")

	if len(p.AncestorsSources) > 0 {
		b.WriteString("Ancestor Sources (up to 5)\n")
		for i, c := range p.AncestorsSources {
			name := c.Name
			if name == "" {
				name = "Anonymous"
			}
			fmt.Fprintf(&b, "%d. %s -> %s\n", i+1, name, describeLocation(c.Source))
		}
		return b.String()
	}

	fmt.Fprintf(&b, "Source: %s\n", describeLocation(p.Source))
	fmt.Fprintf(&b, "Size: %s\n", p.SizeText)
	fmt.Fprintf(&b, "Style: %s\n", orNA(p.StyleText))
	fmt.Fprintf(&b, "Props: %s\n", orNA(p.PropsText))
	return b.String()
}

// OverlaySnapshot is a consistent highlight and popover pair. Both are nil
// when nothing is shown.
type OverlaySnapshot struct {
	Highlight *HighlightInfo `json:"highlight"`
	Popover   *PopoverInfo   `json:"popover"`
}

// Overlay holds the latest inspection result for presentation. Writers swap
// whole snapshots so readers never see a highlight from one inspection with
// the popover of another; the last write wins.
type Overlay struct {
	state atomic.Pointer[OverlaySnapshot]
}

// Load returns the current snapshot.
func (o *Overlay) Load() OverlaySnapshot {
	if s := o.state.Load(); s != nil {
		return *s
	}
	return OverlaySnapshot{}
}

// Store replaces the snapshot.
func (o *Overlay) Store(h HighlightInfo, p PopoverInfo) {
	o.state.Store(&OverlaySnapshot{Highlight: &h, Popover: &p})
}

// Reset clears the overlay.
func (o *Overlay) Reset() {
	o.state.Store(nil)
}
