package filters

import (
	"strings"

	"grimm.is/rse/internal/logging"
	"grimm.is/rse/internal/persist"
)

// ReferenceManagerConfig configures a PoolReferenceManager.
type ReferenceManagerConfig struct {
	// Name identifies the consumer (e.g. a connection).
	Name string
	// ProfileName is the profile owning the consumer. Bare reference names
	// resolve against it.
	ProfileName string
	// ConfigID selects the pool manager in the target profile.
	ConfigID string
}

// PoolReferenceManager holds one consumer's ordered list of pool references.
type PoolReferenceManager struct {
	persist.Node

	name        string
	profileName string
	configID    string

	sys   *System
	owner persist.Persistable
	refs  *Reconciler[*Pool, *PoolReference]
	log   *logging.Logger
}

// NewPoolReferenceManager creates a reference manager and registers it with
// sys so pool renames, moves and deletes can find its references. owner may
// be nil.
func NewPoolReferenceManager(sys *System, owner persist.Persistable, cfg ReferenceManagerConfig) *PoolReferenceManager {
	if sys == nil {
		sys = NewSystem(nil)
	}
	rm := &PoolReferenceManager{
		name:        cfg.Name,
		profileName: cfg.ProfileName,
		configID:    cfg.ConfigID,
		sys:         sys,
		owner:       owner,
	}
	rm.log = sys.Logger().WithComponent("references").WithFields(map[string]any{
		"consumer": cfg.Name,
		"profile":  cfg.ProfileName,
	})
	rm.refs = NewReconciler(
		func(p *Pool) *PoolReference { return newPoolReference(rm, p.ReferenceName(), p) },
		func(r *PoolReference) *Pool { return r.Resolve() },
	)
	rm.Bind(rm)
	sys.register(rm)
	return rm
}

// Name returns the consumer name.
func (rm *PoolReferenceManager) Name() string { return rm.name }

// ProfileName returns the profile owning the consumer.
func (rm *PoolReferenceManager) ProfileName() string { return rm.profileName }

// ConfigID returns the sub-configuration references resolve against.
func (rm *PoolReferenceManager) ConfigID() string { return rm.configID }

// Close unregisters the manager from its system.
func (rm *PoolReferenceManager) Close() {
	rm.sys.UnregisterReferenceManager(rm)
}

// References returns the references in order.
func (rm *PoolReferenceManager) References() []*PoolReference {
	return rm.refs.Handles()
}

// Len returns the number of references.
func (rm *PoolReferenceManager) Len() int { return rm.refs.Len() }

// Names returns the persisted name of every reference in order.
func (rm *PoolReferenceManager) Names() []string {
	refs := rm.refs.Handles()
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.name
	}
	return out
}

// AddReference appends a resolved reference to pool. If one already
// targets pool it is returned instead.
func (rm *PoolReferenceManager) AddReference(pool *Pool) *PoolReference {
	if pool == nil {
		return nil
	}
	if r := rm.GetReference(pool); r != nil {
		return r
	}
	r := newPoolReference(rm, pool.ReferenceName(), pool)
	rm.refs.Append(r)
	rm.SetDirty(true)
	return r
}

// AddReferenceByName appends an unresolved reference. A bare name resolves
// against the consumer's own profile.
func (rm *PoolReferenceManager) AddReferenceByName(name string) *PoolReference {
	r := newPoolReference(rm, name, nil)
	rm.refs.Append(r)
	rm.SetDirty(true)
	return r
}

// GetReference returns the reference resolving to pool, or nil.
func (rm *PoolReferenceManager) GetReference(pool *Pool) *PoolReference {
	r, ok := rm.refs.Find(pool)
	if !ok {
		return nil
	}
	return r
}

// GetReferenceByName returns the reference with the given persisted name,
// compared case-insensitively, or nil.
func (rm *PoolReferenceManager) GetReferenceByName(name string) *PoolReference {
	for _, r := range rm.refs.Handles() {
		if strings.EqualFold(r.name, name) {
			return r
		}
	}
	return nil
}

// RemoveReference drops r. It reports whether r was held.
func (rm *PoolReferenceManager) RemoveReference(r *PoolReference) bool {
	if !rm.refs.Remove(r) {
		return false
	}
	rm.SetDirty(true)
	return true
}

// RemoveReferencesTo drops every reference resolving to pool and returns
// how many were removed.
func (rm *PoolReferenceManager) RemoveReferencesTo(pool *Pool) int {
	n := 0
	for _, r := range rm.refs.Handles() {
		if r.Resolve() == pool && rm.RemoveReference(r) {
			n++
		}
	}
	return n
}

// ReferencedPools returns the target of every resolvable reference, in
// order. Broken references are skipped.
func (rm *PoolReferenceManager) ReferencedPools() []*Pool {
	var out []*Pool
	for _, r := range rm.refs.Handles() {
		if p := r.Resolve(); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// BrokenReferences returns the references whose resolution failed.
func (rm *PoolReferenceManager) BrokenReferences() []*PoolReference {
	var out []*PoolReference
	for _, r := range rm.refs.Handles() {
		if r.Resolve() == nil {
			out = append(out, r)
		}
	}
	return out
}

// Regenerate reconciles the reference list against pools, keeping the
// handle of every pool still present. It reports whether anything changed.
func (rm *PoolReferenceManager) Regenerate(pools []*Pool) bool {
	regenerated := rm.refs.Regenerate(pools)
	rm.sys.metrics.RecordReconcile("pool", regenerated)
	if regenerated {
		rm.SetDirty(true)
	}
	return regenerated
}

// GetOrCreateReference regenerates against pools, then returns the reference
// to pool, appending one if needed.
func (rm *PoolReferenceManager) GetOrCreateReference(pools []*Pool, pool *Pool) *PoolReference {
	before := rm.refs.Len()
	r := rm.refs.GetOrCreate(pools, pool, nil)
	if rm.refs.Len() != before {
		rm.SetDirty(true)
	}
	return r
}

// Commit delegates to the owner.
func (rm *PoolReferenceManager) Commit() error {
	if rm.owner == nil {
		return nil
	}
	return rm.owner.Commit()
}

// PersistableParent returns the owner.
func (rm *PoolReferenceManager) PersistableParent() persist.Persistable {
	return rm.owner
}

// PersistableChildren returns the references.
func (rm *PoolReferenceManager) PersistableChildren() []persist.Persistable {
	refs := rm.refs.Handles()
	out := make([]persist.Persistable, 0, len(refs))
	for _, r := range refs {
		out = append(out, r)
	}
	return out
}
