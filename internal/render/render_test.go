package render

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tapsource/internal/source"
)

func stamped(file string, line, column int) map[string]interface{} {
	return map[string]interface{}{
		source.DefaultPropName: map[string]interface{}{
			"file":   file,
			"line":   float64(line),
			"column": float64(column),
		},
	}
}

func TestReaderSourceSlotOrder(t *testing.T) {
	r := NewReader("")

	tests := []struct {
		name string
		node *Snapshot
		want string
	}{
		{
			name: "memoized wins",
			node: &Snapshot{
				MemoizedProps: stamped("memo.tsx", 1, 0),
				Props:         stamped("props.tsx", 2, 0),
				PendingProps:  stamped("pending.tsx", 3, 0),
			},
			want: "memo.tsx",
		},
		{
			name: "current when memoized absent",
			node: &Snapshot{
				Props:        stamped("props.tsx", 2, 0),
				PendingProps: stamped("pending.tsx", 3, 0),
			},
			want: "props.tsx",
		},
		{
			name: "pending last",
			node: &Snapshot{PendingProps: stamped("pending.tsx", 3, 0)},
			want: "pending.tsx",
		},
		{
			name: "malformed slot falls through",
			node: &Snapshot{
				MemoizedProps: map[string]interface{}{source.DefaultPropName: "nope"},
				Props:         stamped("props.tsx", 2, 0),
			},
			want: "props.tsx",
		},
		{
			name: "absent",
			node: &Snapshot{Props: map[string]interface{}{"style": nil}},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := r.Source(tt.node)
			got := ""
			if loc != nil {
				got = loc.File
			}
			if got != tt.want {
				t.Errorf("Source() file = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReaderCustomAccessors(t *testing.T) {
	r := NewReader("__src")
	r.Accessors = []Accessor{SlotAccessor(SlotPending)}

	node := &Snapshot{
		Props:        map[string]interface{}{"__src": map[string]interface{}{"file": "a.tsx"}},
		PendingProps: map[string]interface{}{"__src": map[string]interface{}{"file": "b.tsx"}},
	}
	if loc := r.Source(node); loc == nil || loc.File != "b.tsx" {
		t.Errorf("expected pending-only accessor to win, got %+v", loc)
	}
}

func TestDisplayNameOrder(t *testing.T) {
	tests := []struct {
		name     string
		resolved TypeInfo
		raw      TypeInfo
		want     string
	}{
		{"resolved display name", TypeInfo{DisplayName: "A", Name: "B"}, TypeInfo{DisplayName: "C", Name: "D", Tag: "E"}, "A"},
		{"raw display name", TypeInfo{Name: "B"}, TypeInfo{DisplayName: "C", Name: "D"}, "C"},
		{"resolved name", TypeInfo{Name: "B"}, TypeInfo{Name: "D"}, "B"},
		{"raw name", TypeInfo{}, TypeInfo{Name: "D", Tag: "E"}, "D"},
		{"host tag", TypeInfo{}, TypeInfo{Tag: "RCTView"}, "RCTView"},
		{"nothing", TypeInfo{}, TypeInfo{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &Snapshot{Resolved: tt.resolved, Raw: tt.raw}
			if got := DisplayName(n); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func chainOf(n int) []*Snapshot {
	nodes := make([]*Snapshot, n)
	for i := range nodes {
		nodes[i] = &Snapshot{
			Props:    stamped(fmt.Sprintf("n%d.tsx", i), i+1, 0),
			Resolved: TypeInfo{Name: fmt.Sprintf("N%d", i)},
		}
	}
	return nodes
}

func TestResolveAncestorsCapsAtFive(t *testing.T) {
	// Closest instance plus an 8-node parent chain.
	closest := Chain(chainOf(9))

	got := NewReader("").ResolveAncestors(closest)
	if len(got) != 5 {
		t.Fatalf("expected 5 candidates, got %d", len(got))
	}
	for i, c := range got {
		want := fmt.Sprintf("N%d", i+1)
		if c.Name != want {
			t.Errorf("candidate %d name = %q, want %q (nearest first)", i, c.Name, want)
		}
		if c.Source == nil || c.Source.Line != i+2 {
			t.Errorf("candidate %d source = %+v", i, c.Source)
		}
	}
}

func TestResolveAncestorsShortChain(t *testing.T) {
	closest := Chain(chainOf(3))
	got := NewReader("").ResolveAncestors(closest)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got := NewReader("").ResolveAncestors(nil); len(got) != 0 {
		t.Errorf("expected no candidates for nil node, got %d", len(got))
	}
}

// loopNode is its own parent.
type loopNode struct{ Snapshot }

func (l *loopNode) Parent() Node { return l }

func TestResolveAncestorsTerminatesOnCycle(t *testing.T) {
	r := NewReader("")
	r.MaxAncestors = 1000
	r.MaxWalkDepth = 16

	done := make(chan []source.Candidate, 1)
	go func() { done <- r.ResolveAncestors(&loopNode{}) }()

	select {
	case got := <-done:
		if len(got) != 16 {
			t.Errorf("expected walk to stop at depth cap 16, got %d", len(got))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ancestor walk did not terminate on a cyclic chain")
	}
}

// faultyNode panics when its type is read.
type faultyNode struct {
	Snapshot
	parent Node
}

func (f *faultyNode) Parent() Node          { return f.parent }
func (f *faultyNode) ResolvedType() TypeInfo { panic("detached node") }

func TestResolveAncestorsStopsOnFault(t *testing.T) {
	nodes := chainOf(3)
	good := Chain(nodes)
	bad := &faultyNode{parent: good}
	// closest -> parent(ok) -> bad -> ...
	closest := &faultyNode{parent: &okWrapper{Snapshot: nodes[2], parent: bad}}

	got := NewReader("").ResolveAncestors(closest)
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate before the fault, got %d: %+v", len(got), got)
	}
	if got[0].Name != "N2" {
		t.Errorf("unexpected candidate %+v", got[0])
	}
}

type okWrapper struct {
	*Snapshot
	parent Node
}

func (o *okWrapper) Parent() Node { return o.parent }

type fakeMeasurer struct {
	m   Measurement
	err error
}

func (f fakeMeasurer) Measure(context.Context, Container) (Measurement, error) {
	return f.m, f.err
}

type fakeHitTester struct {
	hit   *HitResult
	err   error
	async bool
	calls int
	gotX  float64
	gotY  float64
	twice bool
}

func (f *fakeHitTester) HitTest(_ context.Context, _ Container, x, y float64, cb func(*HitResult)) error {
	f.calls++
	f.gotX, f.gotY = x, y
	if f.err != nil {
		return f.err
	}
	deliver := func() {
		cb(f.hit)
		if f.twice {
			cb(&HitResult{})
		}
	}
	if f.async {
		go deliver()
	} else {
		deliver()
	}
	return nil
}

func TestLocatorConvertsToLocalSpace(t *testing.T) {
	closest := Chain([]*Snapshot{{MemoizedProps: stamped("src/Foo.tsx", 10, 2)}})
	primary := &fakeHitTester{
		hit:   &HitResult{Frame: &Frame{Left: 120, Top: 80, Width: 50, Height: 20}, ClosestInstance: closest},
		async: true,
		twice: true,
	}
	l := &Locator{
		Measurer: fakeMeasurer{m: Measurement{PageX: 20, PageY: 30, Width: 400, Height: 800}},
		Primary:  primary,
		Reader:   NewReader(""),
	}

	located, err := l.Locate(context.Background(), "#root", 150, 100)
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if primary.gotX != 130 || primary.gotY != 70 {
		t.Errorf("expected local point (130,70), got (%v,%v)", primary.gotX, primary.gotY)
	}
	if located.Source == nil || located.Source.Target() != "src/Foo.tsx:10:2" {
		t.Errorf("unexpected source %+v", located.Source)
	}
	if located.Hit.Frame.Left != 120 {
		t.Errorf("first delivered result must win, got %+v", located.Hit.Frame)
	}
}

func TestLocatorFallsBackToSecondary(t *testing.T) {
	primary := &fakeHitTester{err: ErrPrimitiveUnavailable}
	secondary := &fakeHitTester{hit: &HitResult{Frame: &Frame{}}}
	l := &Locator{Measurer: fakeMeasurer{}, Primary: primary, Secondary: secondary}

	if _, err := l.Locate(context.Background(), "#root", 1, 1); err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Errorf("expected both primitives tried once, got %d/%d", primary.calls, secondary.calls)
	}
}

func TestLocatorNoPrimitive(t *testing.T) {
	l := &Locator{
		Measurer:  fakeMeasurer{},
		Primary:   &fakeHitTester{err: ErrPrimitiveUnavailable},
		Secondary: &fakeHitTester{err: fmt.Errorf("fabric: %w", ErrPrimitiveUnavailable)},
	}
	_, err := l.Locate(context.Background(), "#root", 1, 1)
	if !errors.Is(err, ErrPrimitiveUnavailable) {
		t.Fatalf("expected ErrPrimitiveUnavailable, got %v", err)
	}
}

func TestLocatorNotMeasurable(t *testing.T) {
	primary := &fakeHitTester{}
	l := &Locator{Measurer: fakeMeasurer{err: errors.New("unmounted")}, Primary: primary}

	_, err := l.Locate(context.Background(), "#root", 1, 1)
	if !errors.Is(err, ErrNotMeasurable) {
		t.Fatalf("expected ErrNotMeasurable, got %v", err)
	}
	if primary.calls != 0 {
		t.Error("hit test must not run when the container is not measurable")
	}
}

func TestLocatorDiscardsInvalidFrame(t *testing.T) {
	l := &Locator{Measurer: fakeMeasurer{}, Primary: &fakeHitTester{hit: &HitResult{}}}
	if _, err := l.Locate(context.Background(), "#root", 1, 1); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

// silentHitTester accepts the query but never calls back.
type silentHitTester struct{}

func (silentHitTester) HitTest(context.Context, Container, float64, float64, func(*HitResult)) error {
	return nil
}

func TestLocatorHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	l := &Locator{Measurer: fakeMeasurer{}, Primary: silentHitTester{}}
	if _, err := l.Locate(ctx, "#root", 1, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFrameFromValue(t *testing.T) {
	tests := []struct {
		name  string
		in    interface{}
		valid bool
	}{
		{"numbers", map[string]interface{}{"left": 1.0, "top": 2.0, "width": 3.0, "height": 4.0}, true},
		{"missing size", map[string]interface{}{"left": 1.0, "top": 2.0}, true},
		{"string left", map[string]interface{}{"left": "1", "top": 2.0}, false},
		{"missing top", map[string]interface{}{"left": 1.0}, false},
		{"not an object", "frame", false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FrameFromValue(tt.in); (got != nil) != tt.valid {
				t.Errorf("FrameFromValue(%v) = %+v, want valid=%v", tt.in, got, tt.valid)
			}
		})
	}
}

func TestSelectedName(t *testing.T) {
	h := &HitResult{Hierarchy: []HierarchyEntry{{Name: "App"}, {Name: "Button"}}, SelectedIndex: 1}
	if got := h.SelectedName(); got != "Button" {
		t.Errorf("SelectedName() = %q", got)
	}
	h.SelectedIndex = 5
	if got := h.SelectedName(); got != "" {
		t.Errorf("out of range SelectedName() = %q", got)
	}
}
