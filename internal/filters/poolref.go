package filters

import (
	"strings"

	"github.com/google/uuid"

	"grimm.is/rse/internal/persist"
)

// ReferenceState is the resolution state of a PoolReference.
type ReferenceState int

const (
	// Unresolved holds only the persisted name.
	Unresolved ReferenceState = iota
	// Resolved caches the live pool.
	Resolved
	// Broken means resolution was attempted and found nothing. It persists
	// until the name is changed or the reference is invalidated.
	Broken
)

func (s ReferenceState) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolved:
		return "resolved"
	case Broken:
		return "broken"
	default:
		return "unknown"
	}
}

// SplitReferenceName splits a persisted reference name on the first
// Delimiter. qualified is false for a bare pool name.
func SplitReferenceName(name string) (managerName, poolName string, qualified bool) {
	if i := strings.Index(name, Delimiter); i >= 0 {
		return name[:i], name[i+len(Delimiter):], true
	}
	return "", name, false
}

// PoolReference is a named, lazily resolved handle to a Pool, possibly in
// another profile. It is held by a PoolReferenceManager.
type PoolReference struct {
	persist.Node

	id      uuid.UUID
	name    string
	pool    *Pool
	state   ReferenceState
	manager *PoolReferenceManager
	filters *Reconciler[*Filter, *FilterReference]
}

func newPoolReference(rm *PoolReferenceManager, name string, pool *Pool) *PoolReference {
	r := &PoolReference{
		id:      uuid.New(),
		name:    name,
		manager: rm,
	}
	if pool != nil {
		r.pool = pool
		r.state = Resolved
	}
	r.filters = NewReconciler(
		func(f *Filter) *FilterReference { return newFilterReference(r, nil, f) },
		func(h *FilterReference) *Filter { return h.filter },
	)
	r.Bind(r)
	return r
}

// ID returns the handle identity.
func (r *PoolReference) ID() uuid.UUID { return r.id }

// ReferenceName returns the persisted name.
func (r *PoolReference) ReferenceName() string { return r.name }

// PoolName returns the pool part of the persisted name.
func (r *PoolReference) PoolName() string {
	_, pool, _ := SplitReferenceName(r.name)
	return pool
}

// ManagerName returns the manager part of the persisted name, or the name of
// the profile owning the consumer for a bare name.
func (r *PoolReference) ManagerName() string {
	if mgr, _, ok := SplitReferenceName(r.name); ok {
		return mgr
	}
	if r.manager == nil {
		return ""
	}
	return r.manager.profileName
}

// Manager returns the reference manager holding the reference.
func (r *PoolReference) Manager() *PoolReferenceManager { return r.manager }

// State returns the resolution state.
func (r *PoolReference) State() ReferenceState { return r.state }

// IsBroken reports whether the last resolution found nothing.
func (r *PoolReference) IsBroken() bool { return r.state == Broken }

// Resolve returns the referenced pool, resolving the persisted name on first
// use. A broken reference returns nil.
func (r *PoolReference) Resolve() *Pool {
	switch r.state {
	case Resolved:
		return r.pool
	case Broken:
		return nil
	}
	if r.manager == nil {
		r.state = Broken
		return nil
	}

	sys := r.manager.sys
	managerName, poolName := r.ManagerName(), r.PoolName()
	pool, outcome := r.lookup(managerName, poolName)
	sys.metrics.RecordResolution(outcome)

	if pool == nil {
		r.state = Broken
		r.manager.log.Warn("pool reference is broken", "reference", r.name)
		sys.events.EmitReferenceBroken(r.manager.name, r.name)
		return nil
	}
	r.pool = pool
	r.state = Resolved
	return pool
}

func (r *PoolReference) lookup(managerName, poolName string) (*Pool, string) {
	profile, ok := r.manager.sys.lookupProfile(managerName)
	if !ok {
		return nil, "broken"
	}
	if pm := profile.FilterPoolManager(r.manager.configID); pm != nil {
		if pool := pm.GetPool(poolName); pool != nil {
			return pool, "resolved"
		}
	}
	// Pools moved between managers without a reference update.
	for _, pool := range profile.FilterPools() {
		if strings.EqualFold(pool.Name(), poolName) {
			return pool, "fallback"
		}
	}
	return nil, "broken"
}

// ResetTo forces the cached target to pool without touching the persisted
// name.
func (r *PoolReference) ResetTo(pool *Pool) {
	r.pool = pool
	if pool == nil {
		r.state = Unresolved
		return
	}
	r.state = Resolved
}

// SetReferenceName replaces the persisted name and drops any cached target.
func (r *PoolReference) SetReferenceName(name string) {
	if r.name == name {
		return
	}
	r.name = name
	r.Invalidate()
	r.SetDirty(true)
}

// Invalidate drops the cached target so the next Resolve parses the name
// again.
func (r *PoolReference) Invalidate() {
	r.pool = nil
	r.state = Unresolved
}

// FilterReferences reconciles against the resolved pool's filters and
// returns one handle per filter. A broken reference yields none.
func (r *PoolReference) FilterReferences() []*FilterReference {
	var live []*Filter
	if pool := r.Resolve(); pool != nil {
		live = pool.Filters()
	}
	regenerated := r.filters.Regenerate(live)
	if r.manager != nil {
		r.manager.sys.metrics.RecordReconcile("filter", regenerated)
	}
	return r.filters.Handles()
}

// GetFilterReference returns the handle for f, creating it if needed.
func (r *PoolReference) GetFilterReference(f *Filter) *FilterReference {
	var live []*Filter
	if pool := r.Resolve(); pool != nil {
		live = pool.Filters()
	}
	return r.filters.GetOrCreate(live, f, func(h *FilterReference) bool {
		return h.consumer == r.manager
	})
}

// Commit delegates to the reference manager.
func (r *PoolReference) Commit() error {
	if r.manager == nil {
		return nil
	}
	return r.manager.Commit()
}

// PersistableParent returns the reference manager.
func (r *PoolReference) PersistableParent() persist.Persistable {
	if r.manager == nil {
		return nil
	}
	return r.manager
}

// PersistableChildren returns nil; filter handles are not persisted.
func (r *PoolReference) PersistableChildren() []persist.Persistable { return nil }
