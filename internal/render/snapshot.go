package render

// Snapshot is a detached copy of one render node as captured by a host. Hosts
// that cannot hand out live handles serialize the closest instance and its
// parent chain into snapshots instead.
type Snapshot struct {
	MemoizedProps map[string]interface{} `json:"memoizedProps,omitempty"`
	Props         map[string]interface{} `json:"props,omitempty"`
	PendingProps  map[string]interface{} `json:"pendingProps,omitempty"`
	Resolved      TypeInfo               `json:"elementType"`
	Raw           TypeInfo               `json:"type"`

	parent *Snapshot
}

// Chain links snapshots ordered nearest-first (closest instance, its parent,
// and so on) and returns the closest as a Node. It returns nil for an empty
// chain.
func Chain(nodes []*Snapshot) Node {
	if len(nodes) == 0 {
		return nil
	}
	for i := 0; i < len(nodes)-1; i++ {
		nodes[i].parent = nodes[i+1]
	}
	nodes[len(nodes)-1].parent = nil
	return nodes[0]
}

// Parent implements Node.
func (s *Snapshot) Parent() Node {
	if s.parent == nil {
		return nil
	}
	return s.parent
}

// Prop implements Node.
func (s *Snapshot) Prop(slot Slot, name string) (interface{}, bool) {
	var props map[string]interface{}
	switch slot {
	case SlotMemoized:
		props = s.MemoizedProps
	case SlotCurrent:
		props = s.Props
	case SlotPending:
		props = s.PendingProps
	}
	v, ok := props[name]
	return v, ok
}

// ResolvedType implements Node.
func (s *Snapshot) ResolvedType() TypeInfo { return s.Resolved }

// RawType implements Node.
func (s *Snapshot) RawType() TypeInfo { return s.Raw }
