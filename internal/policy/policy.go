// Package policy decides whether a resolved source location is worth opening
// directly and, when it is not, which ancestor candidate to open instead.
package policy

import (
	"strings"

	"tapsource/internal/source"
)

// DefaultBlockComponents are path fragments of framework and shared UI code
// whose locations are never useful navigation targets on their own.
var DefaultBlockComponents = []string{
	"node_modules",
	"react-native/",
	"@react-navigation",
	"expo-",
	"components/ui/",
}

// DefaultVendorMarkers mark third-party paths that are never offered as
// fallback targets.
var DefaultVendorMarkers = []string{"node_modules"}

// Filter classifies source locations against a case-insensitive substring
// blocklist.
type Filter struct {
	blocked []string
}

// NewFilter builds a Filter. A nil blocklist selects DefaultBlockComponents; an
// empty, non-nil one blocks nothing.
func NewFilter(blocklist []string) *Filter {
	if blocklist == nil {
		blocklist = DefaultBlockComponents
	}
	lowered := make([]string, 0, len(blocklist))
	for _, b := range blocklist {
		if b == "" {
			continue
		}
		lowered = append(lowered, strings.ToLower(b))
	}
	return &Filter{blocked: lowered}
}

// Actionable reports whether loc can be opened directly: it must be present
// and its file must not contain any blocked fragment.
func (f *Filter) Actionable(loc *source.Location) bool {
	if loc == nil {
		return false
	}
	return f.BlockedBy(loc.File) == ""
}

// BlockedBy returns the first blocked fragment found in componentKey, or "".
func (f *Filter) BlockedBy(componentKey string) string {
	key := strings.ToLower(componentKey)
	for _, b := range f.blocked {
		if strings.Contains(key, b) {
			return b
		}
	}
	return ""
}

// Selection is the outcome of choosing among ancestor candidates.
type Selection struct {
	// Targets are the deduplicated, vendor-filtered "file:line:column"
	// strings in nearest-first order.
	Targets []string
	// Rejected are the deduplicated targets dropped as vendor code.
	Rejected []string
}

// Best returns the first surviving target.
func (s Selection) Best() (string, bool) {
	if len(s.Targets) == 0 {
		return "", false
	}
	return s.Targets[0], true
}

// Selector turns ancestor candidates into navigation targets.
type Selector struct {
	markers []string
}

// NewSelector builds a Selector. A nil marker list selects
// DefaultVendorMarkers.
func NewSelector(vendorMarkers []string) *Selector {
	if vendorMarkers == nil {
		vendorMarkers = DefaultVendorMarkers
	}
	markers := make([]string, 0, len(vendorMarkers))
	for _, m := range vendorMarkers {
		if m != "" {
			markers = append(markers, m)
		}
	}
	return &Selector{markers: markers}
}

// Select builds targets for the candidates that carry a file, keeps the first
// occurrence of each, and drops vendored ones.
func (s *Selector) Select(candidates []source.Candidate) Selection {
	targets := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.Source == nil || c.Source.File == "" {
			continue
		}
		targets = append(targets, c.Source.Target())
	}
	return s.Filter(targets)
}

// Filter applies dedupe and vendor filtering to already-built targets.
func (s *Selector) Filter(targets []string) Selection {
	var sel Selection
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}

		if s.vendored(t) {
			sel.Rejected = append(sel.Rejected, t)
			continue
		}
		sel.Targets = append(sel.Targets, t)
	}
	return sel
}

func (s *Selector) vendored(target string) bool {
	for _, m := range s.markers {
		if strings.Contains(target, m) {
			return true
		}
	}
	return false
}
