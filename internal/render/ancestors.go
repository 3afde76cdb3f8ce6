package render

import (
	"log"

	"tapsource/internal/source"
)

// ResolveAncestors walks up from the parent of closest and collects up to
// MaxAncestors candidates, nearest first. A node that panics while being read
// ends the walk; whatever was gathered so far is returned.
func (r *Reader) ResolveAncestors(closest Node) (candidates []source.Candidate) {
	max := r.MaxAncestors
	if max <= 0 {
		max = DefaultMaxAncestors
	}
	depth := r.MaxWalkDepth
	if depth <= 0 {
		depth = DefaultMaxWalkDepth
	}

	candidates = make([]source.Candidate, 0, max)
	if closest == nil {
		return candidates
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[render] ancestor walk aborted after %d candidate(s): %v", len(candidates), rec)
		}
	}()

	hops := 0
	for node := closest.Parent(); node != nil && len(candidates) < max; node = node.Parent() {
		if hops >= depth {
			log.Printf("[render] ancestor walk hit depth cap %d", depth)
			break
		}
		hops++

		candidates = append(candidates, source.Candidate{
			Name:   DisplayName(node),
			Source: r.Source(node),
		})
	}
	return candidates
}
