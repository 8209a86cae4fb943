package filters

import (
	"fmt"
	"slices"
	"strings"

	"grimm.is/rse/internal/events"
	"grimm.is/rse/internal/logging"
	"grimm.is/rse/internal/persist"
)

// Policy holds the manager-wide defaults cascaded to pools and filters.
type Policy struct {
	SupportsNested           bool
	SupportsDuplicateStrings bool
	StringsCaseSensitive     bool
	SingleStringOnly         bool
}

// ManagerConfig configures a PoolManager.
type ManagerConfig struct {
	// Name identifies the manager in reference names. Defaults to the
	// owner's name.
	Name string
	// ConfigID names the profile sub-configuration the manager belongs to.
	ConfigID string
	Policy   Policy
}

// PoolManager owns the filter pools of one profile sub-configuration and
// orchestrates every structural change to them.
type PoolManager struct {
	persist.Node

	name     string
	configID string
	policy   Policy

	owner Owner
	sys   *System
	pools []*Pool
	log   *logging.Logger
}

// NewPoolManager creates a manager owned by owner. owner may be nil for a
// detached manager whose commits are no-ops.
func NewPoolManager(sys *System, owner Owner, cfg ManagerConfig) *PoolManager {
	if sys == nil {
		sys = NewSystem(nil)
	}
	name := cfg.Name
	if name == "" && owner != nil {
		name = owner.Name()
	}
	m := &PoolManager{
		name:     name,
		configID: cfg.ConfigID,
		policy:   cfg.Policy,
		owner:    owner,
		sys:      sys,
	}
	m.log = sys.Logger().WithComponent("pool-manager").WithFields(map[string]any{
		"manager": name,
		"config":  cfg.ConfigID,
	})
	m.Bind(m)
	return m
}

// Name returns the manager name used in reference names.
func (m *PoolManager) Name() string { return m.name }

// ConfigID returns the sub-configuration the manager belongs to.
func (m *PoolManager) ConfigID() string { return m.configID }

// Owner returns the persistable owner, possibly nil.
func (m *PoolManager) Owner() Owner { return m.owner }

// System returns the shared context.
func (m *PoolManager) System() *System { return m.sys }

// Policy returns the current manager-wide defaults.
func (m *PoolManager) Policy() Policy { return m.policy }

// ──────────────────────────────────────────────────────────────────────────────
// Policy cascade
// ──────────────────────────────────────────────────────────────────────────────

func (m *PoolManager) SupportsNested() bool           { return m.policy.SupportsNested }
func (m *PoolManager) SupportsDuplicateStrings() bool { return m.policy.SupportsDuplicateStrings }
func (m *PoolManager) StringsCaseSensitive() bool     { return m.policy.StringsCaseSensitive }
func (m *PoolManager) SingleStringOnly() bool         { return m.policy.SingleStringOnly }

// SetSupportsNested sets the flag and pushes it to every pool and filter.
func (m *PoolManager) SetSupportsNested(v bool) {
	m.policy.SupportsNested = v
	for _, p := range m.pools {
		p.SetSupportsNested(v)
	}
	m.SetDirty(true)
}

// SetSupportsDuplicateStrings sets the flag and pushes it to every pool and filter.
func (m *PoolManager) SetSupportsDuplicateStrings(v bool) {
	m.policy.SupportsDuplicateStrings = v
	for _, p := range m.pools {
		p.SetSupportsDuplicateStrings(v)
	}
	m.SetDirty(true)
}

// SetStringsCaseSensitive sets the flag and pushes it to every pool and filter.
func (m *PoolManager) SetStringsCaseSensitive(v bool) {
	m.policy.StringsCaseSensitive = v
	for _, p := range m.pools {
		p.SetStringsCaseSensitive(v)
	}
	m.SetDirty(true)
}

// SetSingleStringOnly sets the manager default. Pools with an unset flag
// pick it up on read.
func (m *PoolManager) SetSingleStringOnly(v bool) {
	m.policy.SingleStringOnly = v
	m.SetDirty(true)
}

// ──────────────────────────────────────────────────────────────────────────────
// Pool lookup
// ──────────────────────────────────────────────────────────────────────────────

// Pools returns the owned pools in order.
func (m *PoolManager) Pools() []*Pool {
	out := make([]*Pool, len(m.pools))
	copy(out, m.pools)
	return out
}

// PoolNames returns the owned pool names in order.
func (m *PoolManager) PoolNames() []string {
	out := make([]string, len(m.pools))
	for i, p := range m.pools {
		out[i] = p.name
	}
	return out
}

// PoolCount returns the number of owned pools.
func (m *PoolManager) PoolCount() int { return len(m.pools) }

// GetPool finds a pool by name, case-insensitively.
func (m *PoolManager) GetPool(name string) *Pool {
	for _, p := range m.pools {
		if strings.EqualFold(p.name, name) {
			return p
		}
	}
	return nil
}

// DefaultPool returns the pool flagged default, or nil.
func (m *PoolManager) DefaultPool() *Pool {
	for _, p := range m.pools {
		if p.isDefault {
			return p
		}
	}
	return nil
}

// Filters returns every top-level filter across all pools.
func (m *PoolManager) Filters() []*Filter {
	var out []*Filter
	for _, p := range m.pools {
		out = append(out, p.filters...)
	}
	return out
}

func (m *PoolManager) owns(p *Pool) bool {
	return p != nil && p.manager == m && indexOf(m.pools, p) >= 0
}

// ──────────────────────────────────────────────────────────────────────────────
// Pool operations
// ──────────────────────────────────────────────────────────────────────────────

// CreatePool creates and commits a pool. A name collision (any case) yields
// a nil pool and nil error; a name containing Delimiter yields
// ErrReservedName. The pool takes the manager's current policy as explicit
// values.
func (m *PoolManager) CreatePool(name string, deletable bool) (*Pool, error) {
	if err := ValidatePoolName(name); err != nil {
		m.sys.metrics.RecordPoolOp("create", err)
		return nil, err
	}
	if m.GetPool(name) != nil {
		m.log.Debug("pool name already in use", "pool", name)
		return nil, nil
	}

	p := m.addPool(name, deletable)
	p.supportsNested = Of(m.policy.SupportsNested)
	p.supportsDuplicateStrings = Of(m.policy.SupportsDuplicateStrings)
	p.stringsCaseSensitive = Of(m.policy.StringsCaseSensitive)

	err := p.Commit()
	m.sys.metrics.RecordPoolOp("create", err)
	if err != nil {
		return p, fmt.Errorf("commit pool %q: %w", name, err)
	}
	m.log.Debug("created pool", "pool", name)
	m.emitPool(events.EventPoolCreated, p, "", "")
	return p, nil
}

// AdoptPool creates an empty pool without policy defaults or commit. Used
// by loaders restoring persisted pools; returns nil on a name collision.
func (m *PoolManager) AdoptPool(name string, deletable bool) *Pool {
	if m.GetPool(name) != nil {
		return nil
	}
	return m.addPool(name, deletable)
}

func (m *PoolManager) addPool(name string, deletable bool) *Pool {
	p := newPool(m, name, deletable)
	if m.IsRestoring() {
		p.BeginRestore()
	}
	m.pools = append(m.pools, p)
	p.SetDirty(true)
	return p
}

// RenamePool renames pool and rewrites the persisted name of every reference
// that targets it.
func (m *PoolManager) RenamePool(pool *Pool, newName string) error {
	err := m.renamePool(pool, newName)
	m.sys.metrics.RecordPoolOp("rename", err)
	return err
}

func (m *PoolManager) renamePool(pool *Pool, newName string) error {
	if !m.owns(pool) {
		return ErrNoSuchPool
	}
	if pool.nonRenamable {
		return fmt.Errorf("%w: %s", ErrPoolNotRenamable, pool.name)
	}
	if err := ValidatePoolName(newName); err != nil {
		return err
	}
	if other := m.GetPool(newName); other != nil && other != pool {
		return fmt.Errorf("%w: pool %q", ErrDuplicateName, newName)
	}

	refs := m.sys.ReferencesTo(pool)
	oldName := pool.name
	if err := pool.SetName(newName); err != nil {
		return err
	}
	for _, ref := range refs {
		ref.SetReferenceName(pool.ReferenceName())
		ref.manager.SetDirty(true)
	}

	if err := pool.Commit(); err != nil {
		return fmt.Errorf("commit pool %q: %w", newName, err)
	}
	if err := commitReferenceManagers(refs); err != nil {
		return err
	}
	m.log.Debug("renamed pool", "pool", newName, "old", oldName, "references", len(refs))
	m.emitPool(events.EventPoolRenamed, pool, oldName, "")
	return nil
}

// CopyPool deep-copies pool into target under newName and commits it. A
// name collision in target yields a nil pool and nil error.
func (m *PoolManager) CopyPool(target *PoolManager, pool *Pool, newName string) (*Pool, error) {
	copyPool, err := m.copyPool(target, pool, newName)
	m.sys.metrics.RecordPoolOp("copy", err)
	return copyPool, err
}

func (m *PoolManager) copyPool(target *PoolManager, pool *Pool, newName string) (*Pool, error) {
	if !m.owns(pool) {
		return nil, ErrNoSuchPool
	}
	if target == nil {
		target = m
	}
	copyPool, err := target.CreatePool(newName, pool.deletable)
	if err != nil || copyPool == nil {
		return nil, err
	}
	pool.CloneInto(copyPool)
	if err := copyPool.Commit(); err != nil {
		return copyPool, fmt.Errorf("commit pool copy %q: %w", newName, err)
	}
	m.log.Debug("copied pool", "pool", pool.name, "copy", newName, "target", target.name)
	return copyPool, nil
}

// MovePool copies pool into target, re-points every reference to the copy
// and deletes the original. If the delete fails, the references are pointed
// back, the copy is discarded and the delete error is returned.
func (m *PoolManager) MovePool(target *PoolManager, pool *Pool, newName string) (*Pool, error) {
	moved, err := m.movePool(target, pool, newName)
	m.sys.metrics.RecordPoolOp("move", err)
	return moved, err
}

func (m *PoolManager) movePool(target *PoolManager, pool *Pool, newName string) (*Pool, error) {
	if target == nil {
		target = m
	}
	copyPool, err := m.copyPool(target, pool, newName)
	if err != nil {
		if copyPool != nil {
			target.discardPool(copyPool)
		}
		return nil, err
	}
	if copyPool == nil {
		return nil, nil
	}

	refs := m.sys.ReferencesTo(pool)
	for _, ref := range refs {
		ref.ResetTo(copyPool)
	}

	if err := m.DeletePool(pool); err != nil {
		for _, ref := range refs {
			ref.ResetTo(pool)
		}
		target.discardPool(copyPool)
		m.sys.metrics.RecordRollback()
		m.log.Warn("pool move rolled back", "pool", pool.name, "target", target.name, "error", err)
		return nil, err
	}

	for _, ref := range refs {
		ref.SetReferenceName(copyPool.ReferenceName())
		ref.ResetTo(copyPool)
		ref.manager.SetDirty(true)
	}
	if err := commitReferenceManagers(refs); err != nil {
		return copyPool, err
	}
	m.emitPool(events.EventPoolMoved, copyPool, pool.name, target.name)
	return copyPool, nil
}

// discardPool removes a pool created during a failed operation, ignoring the
// deletable flag and storage failures.
func (m *PoolManager) discardPool(pool *Pool) {
	idx := indexOf(m.pools, pool)
	if idx < 0 {
		return
	}
	if m.owner != nil {
		if err := m.owner.DeletePoolStorage(m, pool); err != nil {
			m.log.Warn("failed to remove storage of discarded pool", "pool", pool.name, "error", err)
		}
	}
	m.pools = append(m.pools[:idx], m.pools[idx+1:]...)
	pool.manager = nil
	m.SetDirty(true)
	if err := m.Commit(); err != nil {
		m.log.Warn("commit after discarding pool failed", "pool", pool.name, "error", err)
	}
}

// DeletePool removes pool's storage, drops every reference to it from its
// reference manager, removes it from the manager and commits.
func (m *PoolManager) DeletePool(pool *Pool) error {
	err := m.deletePool(pool)
	m.sys.metrics.RecordPoolOp("delete", err)
	return err
}

func (m *PoolManager) deletePool(pool *Pool) error {
	if !m.owns(pool) {
		return ErrNoSuchPool
	}
	if !pool.deletable {
		return fmt.Errorf("%w: %s", ErrPoolNotDeletable, pool.name)
	}
	if m.owner != nil {
		if err := m.owner.DeletePoolStorage(m, pool); err != nil {
			return fmt.Errorf("delete storage of pool %q: %w", pool.name, err)
		}
	}

	refs := m.sys.ReferencesTo(pool)
	saved := saveReferenceLists(refs)
	for _, ref := range refs {
		ref.manager.RemoveReference(ref)
	}

	idx := indexOf(m.pools, pool)
	m.pools = slices.Delete(m.pools, idx, idx+1)
	pool.manager = nil
	m.SetDirty(true)

	if err := m.Commit(); err != nil {
		// Relink. The pool's storage is rewritten by the next commit.
		m.pools = slices.Insert(m.pools, idx, pool)
		pool.manager = m
		saved.restore()
		pool.SetDirty(true)
		return fmt.Errorf("commit after deleting pool %q: %w", pool.name, err)
	}

	m.emitPool(events.EventPoolDeleted, pool, "", "")
	m.log.Audit("delete", "pool", map[string]any{"pool": pool.name, "references": len(refs)})
	return commitReferenceManagers(refs)
}

// referenceLists holds the reference order of every manager touched by a
// delete, so a failed commit can put them back.
type referenceLists map[*PoolReferenceManager][]*PoolReference

func saveReferenceLists(refs []*PoolReference) referenceLists {
	saved := referenceLists{}
	for _, ref := range refs {
		if ref.manager == nil {
			continue
		}
		if _, ok := saved[ref.manager]; !ok {
			saved[ref.manager] = ref.manager.refs.Handles()
		}
	}
	return saved
}

func (rl referenceLists) restore() {
	for rm, handles := range rl {
		rm.refs.handles = handles
	}
}

func commitReferenceManagers(refs []*PoolReference) error {
	var seen []*PoolReferenceManager
	for _, ref := range refs {
		if ref.manager == nil || indexOf(seen, ref.manager) >= 0 {
			continue
		}
		seen = append(seen, ref.manager)
		if err := ref.manager.Commit(); err != nil {
			return fmt.Errorf("commit references of %s: %w", ref.manager.Name(), err)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Filter operations
// ──────────────────────────────────────────────────────────────────────────────

// CreateFilter creates a filter in pool and commits it. A name collision
// yields a nil filter and nil error.
func (m *PoolManager) CreateFilter(pool *Pool, name string, values []string) (*Filter, error) {
	if !m.owns(pool) {
		return nil, ErrNoSuchPool
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty filter name", ErrInvalidName)
	}
	f := pool.CreateFilter(name, values)
	if f == nil {
		return nil, nil
	}
	err := f.Commit()
	m.sys.metrics.RecordFilterOp("create", err)
	if err != nil {
		return f, fmt.Errorf("commit filter %q: %w", f.FullName(), err)
	}
	m.emitFilter(events.EventFilterCreated, f, "")
	return f, nil
}

// CreateNestedFilter creates a filter inside parent and commits it. A name
// collision yields a nil filter and nil error.
func (m *PoolManager) CreateNestedFilter(parent *Filter, name string, values []string) (*Filter, error) {
	if parent == nil || !m.owns(parent.pool) {
		return nil, ErrNoSuchFilter
	}
	if !parent.supportsNested {
		return nil, fmt.Errorf("%w: %s", ErrNestingUnsupported, parent.FullName())
	}
	f := parent.CreateNested(name, values)
	if f == nil {
		return nil, nil
	}
	err := f.Commit()
	m.sys.metrics.RecordFilterOp("create", err)
	if err != nil {
		return f, fmt.Errorf("commit filter %q: %w", f.FullName(), err)
	}
	m.emitFilter(events.EventFilterCreated, f, "")
	return f, nil
}

// RenameFilter renames f. Renaming to a name already used by a sibling
// returns ErrDuplicateName.
func (m *PoolManager) RenameFilter(f *Filter, newName string) error {
	err := m.renameFilter(f, newName)
	m.sys.metrics.RecordFilterOp("rename", err)
	return err
}

func (m *PoolManager) renameFilter(f *Filter, newName string) error {
	if f == nil || !m.owns(f.pool) {
		return ErrNoSuchFilter
	}
	if f.nonRenamable {
		return fmt.Errorf("%w: %s", ErrFilterNotRenamable, f.FullName())
	}
	if newName == "" {
		return fmt.Errorf("%w: empty filter name", ErrInvalidName)
	}
	if other := findFilter(f.siblings(), newName); other != nil && other != f {
		return fmt.Errorf("%w: filter %q", ErrDuplicateName, newName)
	}
	oldName := f.name
	f.SetName(newName)
	if err := f.Commit(); err != nil {
		return fmt.Errorf("commit filter %q: %w", f.FullName(), err)
	}
	m.emitFilter(events.EventFilterRenamed, f, oldName)
	return nil
}

// DeleteFilter removes f from its container and commits.
func (m *PoolManager) DeleteFilter(f *Filter) error {
	err := m.deleteFilter(f)
	m.sys.metrics.RecordFilterOp("delete", err)
	return err
}

func (m *PoolManager) deleteFilter(f *Filter) error {
	if f == nil || !m.owns(f.pool) {
		return ErrNoSuchFilter
	}
	if f.nonDeletable {
		return fmt.Errorf("%w: %s", ErrFilterNotDeletable, f.FullName())
	}
	pool := f.pool
	fullName := f.FullName()
	m.emitFilter(events.EventFilterDeleted, f, "")
	if parent := f.parent; parent != nil {
		parent.DeleteNested(f)
	} else if !pool.DeleteFilter(f) {
		return ErrNoSuchFilter
	}
	m.log.Audit("delete", "filter", map[string]any{"filter": fullName})
	if err := pool.Commit(); err != nil {
		return fmt.Errorf("commit after deleting filter %q: %w", fullName, err)
	}
	return nil
}

// CopyFilter deep-copies f into target under newName and commits. A name
// collision in target yields a nil filter and nil error.
func (m *PoolManager) CopyFilter(target *Pool, f *Filter, newName string) (*Filter, error) {
	if f == nil || !m.owns(f.pool) {
		return nil, ErrNoSuchFilter
	}
	if target == nil {
		return nil, ErrNoSuchPool
	}
	copyFilter := target.CreateFilter(newName, nil)
	if copyFilter == nil {
		return nil, nil
	}
	f.CloneInto(copyFilter)
	err := copyFilter.Commit()
	m.sys.metrics.RecordFilterOp("copy", err)
	if err != nil {
		return copyFilter, fmt.Errorf("commit filter copy %q: %w", copyFilter.FullName(), err)
	}
	m.emitFilter(events.EventFilterCreated, copyFilter, "")
	return copyFilter, nil
}

// MoveFilter copies f into target and deletes the original. If the delete
// fails the copy is removed again and the delete error returned.
func (m *PoolManager) MoveFilter(target *Pool, f *Filter, newName string) (*Filter, error) {
	copyFilter, err := m.CopyFilter(target, f, newName)
	if err != nil || copyFilter == nil {
		return nil, err
	}
	if err := m.DeleteFilter(f); err != nil {
		target.DeleteFilter(copyFilter)
		if cerr := target.Commit(); cerr != nil {
			m.log.Warn("commit after removing filter copy failed", "filter", copyFilter.FullName(), "error", cerr)
		}
		return nil, err
	}
	m.sys.metrics.RecordFilterOp("move", nil)
	return copyFilter, nil
}

// OrderFilters reorders pool's filters to follow names and commits.
func (m *PoolManager) OrderFilters(pool *Pool, names []string) error {
	if !m.owns(pool) {
		return ErrNoSuchPool
	}
	pool.OrderFilters(names)
	m.emitPool(events.EventPoolChanged, pool, "", "")
	return pool.Commit()
}

// MoveFilters shifts filters within pool by delta and commits.
func (m *PoolManager) MoveFilters(pool *Pool, filters []*Filter, delta int) error {
	if !m.owns(pool) {
		return ErrNoSuchPool
	}
	pool.MoveFilters(filters, delta)
	m.emitPool(events.EventPoolChanged, pool, "", "")
	return pool.Commit()
}

// ──────────────────────────────────────────────────────────────────────────────
// Filter string operations
// ──────────────────────────────────────────────────────────────────────────────

func (m *PoolManager) checkStringsChangeable(f *Filter) error {
	if f == nil || !m.owns(f.pool) {
		return ErrNoSuchFilter
	}
	if f.nonChangeable {
		return fmt.Errorf("%w: %s", ErrFilterNotChangeable, f.FullName())
	}
	if f.stringsNonChangeable {
		return fmt.Errorf("%w: %s", ErrStringsNotChangeable, f.FullName())
	}
	return nil
}

// AddFilterString inserts value at position (negative appends) and commits.
// Duplicate and single-string policies are left to the caller.
func (m *PoolManager) AddFilterString(f *Filter, value string, position int) (*FilterString, error) {
	if err := m.checkStringsChangeable(f); err != nil {
		return nil, err
	}
	if position < 0 {
		position = f.StringCount()
	}
	fs := f.InsertString(value, position)
	err := f.Commit()
	m.sys.metrics.RecordFilterOp("add-string", err)
	if err != nil {
		return fs, fmt.Errorf("commit filter %q: %w", f.FullName(), err)
	}
	m.emitFilter(events.EventFilterChanged, f, "")
	return fs, nil
}

// RemoveFilterString removes the first string equal to value and commits.
func (m *PoolManager) RemoveFilterString(f *Filter, value string) (*FilterString, error) {
	if err := m.checkStringsChangeable(f); err != nil {
		return nil, err
	}
	fs := f.RemoveString(value)
	if fs == nil {
		return nil, nil
	}
	err := f.Commit()
	m.sys.metrics.RecordFilterOp("remove-string", err)
	if err != nil {
		return fs, fmt.Errorf("commit filter %q: %w", f.FullName(), err)
	}
	m.emitFilter(events.EventFilterChanged, f, "")
	return fs, nil
}

// MoveFilterString moves fs to position within its filter and commits.
func (m *PoolManager) MoveFilterString(fs *FilterString, position int) error {
	if fs == nil {
		return ErrNoSuchFilter
	}
	f := fs.parent
	if err := m.checkStringsChangeable(f); err != nil {
		return err
	}
	if !f.MoveString(position, fs) {
		return ErrNoSuchFilter
	}
	m.emitFilter(events.EventFilterChanged, f, "")
	return f.Commit()
}

// UpdateFilterString replaces the value of fs and commits.
func (m *PoolManager) UpdateFilterString(fs *FilterString, value string) error {
	if fs == nil {
		return ErrNoSuchFilter
	}
	f := fs.parent
	if err := m.checkStringsChangeable(f); err != nil {
		return err
	}
	fs.SetValue(value)
	m.emitFilter(events.EventFilterChanged, f, "")
	return fs.Commit()
}

// ──────────────────────────────────────────────────────────────────────────────
// persist.Persistable
// ──────────────────────────────────────────────────────────────────────────────

// Commit delegates to the owner.
func (m *PoolManager) Commit() error {
	if m.owner == nil {
		return nil
	}
	return m.owner.Commit()
}

// PersistableParent returns the owner.
func (m *PoolManager) PersistableParent() persist.Persistable {
	if m.owner == nil {
		return nil
	}
	return m.owner
}

// PersistableChildren returns the owned pools.
func (m *PoolManager) PersistableChildren() []persist.Persistable {
	out := make([]persist.Persistable, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	return out
}

func (m *PoolManager) emitPool(t events.EventType, p *Pool, oldName, target string) {
	m.sys.events.EmitPool(t, events.PoolData{
		Profile: m.name,
		Config:  m.configID,
		Pool:    p.name,
		OldName: oldName,
		Target:  target,
	})
}

func (m *PoolManager) emitFilter(t events.EventType, f *Filter, oldName string) {
	poolName := ""
	if f.pool != nil {
		poolName = f.pool.name
	}
	m.sys.events.EmitFilter(t, events.FilterData{
		Profile: m.name,
		Pool:    poolName,
		Filter:  f.FullName(),
		OldName: oldName,
	})
}
