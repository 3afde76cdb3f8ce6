package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"tapsource/internal/source"
)

var (
	// ErrPrimitiveUnavailable is returned by a HitTester the host does not
	// provide, and by the Locator when no primitive is available at all.
	ErrPrimitiveUnavailable = errors.New("hit-test primitive unavailable")
	// ErrNotMeasurable is returned when the container is not mounted or cannot
	// be measured.
	ErrNotMeasurable = errors.New("container not measurable")
	// ErrInvalidFrame is returned when the hit carried no usable geometry and
	// the result was discarded.
	ErrInvalidFrame = errors.New("hit result has no valid frame")
)

// Container is an opaque handle on the inspector's root container, resolved by
// the platform (a CSS selector for the browser platform).
type Container string

// Measurement is the container geometry reported by the host.
type Measurement struct {
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	PageX   float64 `json:"pageX"`
	PageY   float64 `json:"pageY"`
}

// Frame is the page-space rectangle of a hit element.
type Frame struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FrameFromValue decodes a frame reported by the host. It returns nil unless
// left and top are both numbers; width and height default to zero.
func FrameFromValue(v interface{}) *Frame {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	left, okLeft := numeric(m["left"])
	top, okTop := numeric(m["top"])
	if !okLeft || !okTop {
		return nil
	}
	width, _ := numeric(m["width"])
	height, _ := numeric(m["height"])
	return &Frame{Left: left, Top: top, Width: width, Height: height}
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// HierarchyEntry describes one element of the hit's ancestor hierarchy.
type HierarchyEntry struct {
	Name string `json:"name"`
}

// HitResult is what a hit-test primitive reports for one point.
type HitResult struct {
	// Frame is nil when the host reported no valid geometry.
	Frame           *Frame
	Props           interface{}
	Style           interface{}
	Hierarchy       []HierarchyEntry
	SelectedIndex   int
	ClosestInstance Node
}

// SelectedName is the hierarchy name at SelectedIndex, or "" when absent.
func (h *HitResult) SelectedName() string {
	if h == nil || h.SelectedIndex < 0 || h.SelectedIndex >= len(h.Hierarchy) {
		return ""
	}
	return h.Hierarchy[h.SelectedIndex].Name
}

// Measurer measures the inspector container.
type Measurer interface {
	Measure(ctx context.Context, container Container) (Measurement, error)
}

// HitTester maps a container-local point to the deepest element rendered
// there. It delivers the result through cb, possibly asynchronously, at most
// once. A host without the primitive returns ErrPrimitiveUnavailable.
type HitTester interface {
	HitTest(ctx context.Context, container Container, x, y float64, cb func(*HitResult)) error
}

// Located is the outcome of a successful Locate call.
type Located struct {
	Hit         *HitResult
	Source      *source.Location
	Measurement Measurement
}

// Locator resolves page coordinates into hit results through the host's
// primitives, falling back from Primary to Secondary.
type Locator struct {
	Measurer  Measurer
	Primary   HitTester
	Secondary HitTester
	Reader    *Reader
}

// Locate measures container, converts (pageX, pageY) to container space, runs
// the hit test and resolves the source of the closest instance. It blocks until
// the primitive delivers a result or ctx is done.
func (l *Locator) Locate(ctx context.Context, container Container, pageX, pageY float64) (*Located, error) {
	if l.Measurer == nil {
		return nil, ErrNotMeasurable
	}
	m, err := l.Measurer.Measure(ctx, container)
	if err != nil {
		log.Printf("[render] container %q not measurable: %v", container, err)
		if errors.Is(err, ErrNotMeasurable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNotMeasurable, err)
	}

	localX := pageX - m.PageX
	localY := pageY - m.PageY

	results := make(chan *HitResult, 1)
	var once sync.Once
	deliver := func(h *HitResult) {
		once.Do(func() { results <- h })
	}

	if err := l.hitTest(ctx, container, localX, localY, deliver); err != nil {
		return nil, err
	}

	var hit *HitResult
	select {
	case hit = <-results:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for hit result: %w", ctx.Err())
	}

	if hit == nil || hit.Frame == nil || math.IsNaN(hit.Frame.Left) || math.IsNaN(hit.Frame.Top) {
		return nil, ErrInvalidFrame
	}

	reader := l.Reader
	if reader == nil {
		reader = NewReader("")
	}

	return &Located{
		Hit:         hit,
		Source:      reader.Source(hit.ClosestInstance),
		Measurement: m,
	}, nil
}

func (l *Locator) hitTest(ctx context.Context, container Container, x, y float64, cb func(*HitResult)) error {
	for i, tester := range []HitTester{l.Primary, l.Secondary} {
		if tester == nil {
			continue
		}
		err := tester.HitTest(ctx, container, x, y, cb)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrPrimitiveUnavailable) {
			return fmt.Errorf("hit test failed: %w", err)
		}
		if i == 0 {
			log.Printf("[render] primary hit-test primitive unavailable, trying secondary")
		}
	}
	log.Printf("[render] no hit-test primitive available; inspection skipped")
	return ErrPrimitiveUnavailable
}
