// Package render reads source metadata out of a host render tree: it locates
// the node under a point, resolves the stamped source location of a node and
// collects fallback candidates from its ancestors.
package render

import (
	"tapsource/internal/source"
)

// Slot names one of the transient views through which a node exposes its
// props. Depending on render phase the same attribute may be visible in any of
// them.
type Slot int

const (
	SlotMemoized Slot = iota
	SlotCurrent
	SlotPending
)

func (s Slot) String() string {
	switch s {
	case SlotMemoized:
		return "memoizedProps"
	case SlotCurrent:
		return "props"
	case SlotPending:
		return "pendingProps"
	default:
		return "unknown"
	}
}

// TypeInfo is what a host knows about the type that produced a node.
type TypeInfo struct {
	DisplayName string `json:"displayName,omitempty"`
	Name        string `json:"name,omitempty"`
	// Tag is set when the type is a plain host string such as "View".
	Tag string `json:"tag,omitempty"`
}

// Node is a read-only handle on one instantiated UI element. Implementations
// are owned by the host; this package only reads them for the duration of a
// single query.
type Node interface {
	// Parent returns the owning node, or nil at the root.
	Parent() Node
	Prop(slot Slot, name string) (interface{}, bool)
	ResolvedType() TypeInfo
	RawType() TypeInfo
}

// Accessor reads a named prop from a node through one storage strategy.
type Accessor func(n Node, prop string) (interface{}, bool)

// SlotAccessor reads prop from a single slot.
func SlotAccessor(slot Slot) Accessor {
	return func(n Node, prop string) (interface{}, bool) {
		return n.Prop(slot, prop)
	}
}

// DefaultAccessors tries memoized, current then pending props.
func DefaultAccessors() []Accessor {
	return []Accessor{
		SlotAccessor(SlotMemoized),
		SlotAccessor(SlotCurrent),
		SlotAccessor(SlotPending),
	}
}

const (
	DefaultMaxAncestors = 5
	DefaultMaxWalkDepth = 256
)

// Reader resolves source metadata from nodes.
type Reader struct {
	// PropName is the stamped attribute name.
	PropName string
	// Accessors are tried in order; the first that yields a location wins.
	Accessors []Accessor
	// MaxAncestors bounds the candidate list.
	MaxAncestors int
	// MaxWalkDepth bounds parent hops so a malformed, cyclic chain terminates.
	MaxWalkDepth int
}

// NewReader returns a Reader with the default accessors and limits.
func NewReader(propName string) *Reader {
	if propName == "" {
		propName = source.DefaultPropName
	}
	return &Reader{
		PropName:     propName,
		Accessors:    DefaultAccessors(),
		MaxAncestors: DefaultMaxAncestors,
		MaxWalkDepth: DefaultMaxWalkDepth,
	}
}

// Source returns the stamped location of n, or nil when no slot carries one.
func (r *Reader) Source(n Node) *source.Location {
	if n == nil {
		return nil
	}
	for _, access := range r.Accessors {
		raw, ok := access(n, r.PropName)
		if !ok || raw == nil {
			continue
		}
		if loc := source.FromValue(raw); loc != nil {
			return loc
		}
	}
	return nil
}

// DisplayName resolves the component name of n, preferring display names over
// function names and resolved types over raw ones. Returns "" when nothing is
// known.
func DisplayName(n Node) string {
	if n == nil {
		return ""
	}
	resolved, raw := n.ResolvedType(), n.RawType()
	for _, name := range []string{
		resolved.DisplayName,
		raw.DisplayName,
		resolved.Name,
		raw.Name,
		raw.Tag,
	} {
		if name != "" {
			return name
		}
	}
	return ""
}
