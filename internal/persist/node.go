// Package persist provides the dirty/tainted change tracking shared by every
// persistable entity in the filter framework.
//
// A node is dirty when it has unsaved local changes, and tainted when it or
// any descendant is dirty. Marking a node dirty taints it and every ancestor
// up to the root; clearing the taint on a node (after a successful commit)
// clears it on the whole subtree below.
//
// While a node is restoring (being populated from its persisted form) all
// dirty/tainted updates are suppressed.
package persist

// Persistable is implemented by every entity that participates in change
// tracking and can be written to a persistence collaborator.
type Persistable interface {
	// Commit writes the entity (normally by delegating to its nearest
	// ancestor able to write) and reports any persistence failure.
	Commit() error

	IsDirty() bool
	SetDirty(dirty bool)
	IsTainted() bool
	SetTainted(tainted bool)
	WasRestored() bool
	SetWasRestored(restored bool)

	BeginRestore()
	EndRestore()

	// PersistableParent returns nil for the root.
	PersistableParent() Persistable
	PersistableChildren() []Persistable
}

// Tree resolves a node's position in the persistable hierarchy on demand.
type Tree interface {
	PersistableParent() Persistable
	PersistableChildren() []Persistable
}

// Node holds the flags of a persistable entity. Entities embed Node and call
// Bind from their constructor so propagation can reach their parent and
// children.
type Node struct {
	dirty     bool
	tainted   bool
	restored  bool
	restoring bool

	self Persistable
}

// Bind attaches the embedding entity. It must be called before any setter.
func (n *Node) Bind(self Persistable) {
	n.self = self
}

// IsDirty reports whether the node has unsaved local changes.
func (n *Node) IsDirty() bool {
	return n.dirty
}

// SetDirty marks or clears local changes. Marking dirty also taints the node
// and its ancestors. No-op while restoring.
func (n *Node) SetDirty(dirty bool) {
	if n.restoring {
		return
	}
	n.dirty = dirty
	if dirty {
		n.taint(true)
	}
}

// IsTainted reports whether the node or a descendant is dirty.
func (n *Node) IsTainted() bool {
	return n.tainted
}

// SetTainted sets the taint. Setting it walks every ancestor to the root,
// even ones already tainted. Clearing it walks every descendant.
func (n *Node) SetTainted(tainted bool) {
	n.taint(tainted)
}

func (n *Node) taint(tainted bool) {
	if n.restoring {
		return
	}
	n.tainted = tainted
	if n.self == nil {
		return
	}
	if tainted {
		if parent := n.self.PersistableParent(); parent != nil {
			parent.SetTainted(true)
		}
		return
	}
	n.dirty = false
	for _, child := range n.self.PersistableChildren() {
		if child != nil {
			child.SetTainted(false)
		}
	}
}

// WasRestored reports whether the node was populated from persisted form.
func (n *Node) WasRestored() bool {
	return n.restored
}

// SetWasRestored sets the restored flag.
func (n *Node) SetWasRestored(restored bool) {
	n.restored = restored
}

// BeginRestore suppresses dirty/tainted updates until EndRestore.
func (n *Node) BeginRestore() {
	n.restoring = true
}

// EndRestore re-enables change tracking and marks the node restored.
func (n *Node) EndRestore() {
	n.restoring = false
	n.restored = true
}

// IsRestoring reports whether a restore bracket is open.
func (n *Node) IsRestoring() bool {
	return n.restoring
}

// Walk visits p and every persistable descendant, depth first.
func Walk(p Persistable, fn func(Persistable)) {
	if p == nil {
		return
	}
	fn(p)
	for _, child := range p.PersistableChildren() {
		Walk(child, fn)
	}
}

// BeginRestoreTree opens a restore bracket on p and all its descendants.
func BeginRestoreTree(p Persistable) {
	Walk(p, func(n Persistable) { n.BeginRestore() })
}

// EndRestoreTree closes the restore bracket on p and all its descendants.
func EndRestoreTree(p Persistable) {
	Walk(p, func(n Persistable) { n.EndRestore() })
}
