package filters

import (
	"fmt"
	"strings"

	"grimm.is/rse/internal/persist"
)

// Delimiter separates the manager name from the pool name in persisted
// reference names. Pool names may not contain it.
const Delimiter = "___"

// Pool is a named container of filters owned by one PoolManager. Its policy
// flags are inherited from the manager at creation and cascade eagerly to
// the filters it owns when changed.
type Pool struct {
	persist.Node

	name         string
	typ          string
	deletable    bool
	isDefault    bool
	nonRenamable bool

	supportsNested           Tristate
	supportsDuplicateStrings Tristate
	stringsCaseSensitive     Tristate
	singleStringOnly         Tristate

	filters []*Filter
	manager *PoolManager
}

func newPool(manager *PoolManager, name string, deletable bool) *Pool {
	p := &Pool{name: name, deletable: deletable, manager: manager}
	p.Bind(p)
	return p
}

// ValidatePoolName rejects names that cannot be encoded in a reference name.
func ValidatePoolName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty pool name", ErrInvalidName)
	}
	if strings.Contains(name, Delimiter) {
		return fmt.Errorf("%w: pool name %q contains %q", ErrReservedName, name, Delimiter)
	}
	return nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// SetName renames the pool. Names containing Delimiter are rejected.
// References are updated by PoolManager.RenamePool, not here.
func (p *Pool) SetName(name string) error {
	if err := ValidatePoolName(name); err != nil {
		return err
	}
	if p.name == name {
		return nil
	}
	p.name = name
	p.SetDirty(true)
	return nil
}

// ReferenceName returns "<managerName>___<poolName>".
func (p *Pool) ReferenceName() string {
	if p.manager == nil {
		return p.name
	}
	return p.manager.Name() + Delimiter + p.name
}

// Manager returns the owning manager.
func (p *Pool) Manager() *PoolManager { return p.manager }

// OwningProfileName returns the name of the profile owning the manager.
func (p *Pool) OwningProfileName() string {
	if p.manager == nil {
		return ""
	}
	return p.manager.Name()
}

// Type returns the free-form pool type.
func (p *Pool) Type() string { return p.typ }

// SetType sets the pool type.
func (p *Pool) SetType(typ string) {
	if p.typ == typ {
		return
	}
	p.typ = typ
	p.SetDirty(true)
}

// IsDeletable reports whether the pool may be deleted.
func (p *Pool) IsDeletable() bool { return p.deletable }

// SetDeletable sets the deletable flag.
func (p *Pool) SetDeletable(v bool) { p.setFlag(&p.deletable, v) }

// IsDefault reports whether this is the manager's default pool.
func (p *Pool) IsDefault() bool { return p.isDefault }

// SetDefault sets the default flag.
func (p *Pool) SetDefault(v bool) { p.setFlag(&p.isDefault, v) }

// IsNonRenamable reports whether the pool may not be renamed.
func (p *Pool) IsNonRenamable() bool { return p.nonRenamable }

// SetNonRenamable sets the non-renamable flag.
func (p *Pool) SetNonRenamable(v bool) { p.setFlag(&p.nonRenamable, v) }

func (p *Pool) setFlag(field *bool, v bool) {
	if *field == v {
		return
	}
	*field = v
	p.SetDirty(true)
}

// ──────────────────────────────────────────────────────────────────────────────
// Policy flags
// ──────────────────────────────────────────────────────────────────────────────

// SupportsNested returns the effective nesting flag.
func (p *Pool) SupportsNested() bool {
	return p.supportsNested.Or(p.manager != nil && p.manager.SupportsNested())
}

// SupportsDuplicateStrings returns the effective duplicate-strings flag.
func (p *Pool) SupportsDuplicateStrings() bool {
	return p.supportsDuplicateStrings.Or(p.manager != nil && p.manager.SupportsDuplicateStrings())
}

// StringsCaseSensitive returns the explicit flag, possibly Unset.
func (p *Pool) StringsCaseSensitive() Tristate { return p.stringsCaseSensitive }

// EffectiveCaseSensitive resolves the case flag through the manager.
func (p *Pool) EffectiveCaseSensitive() bool {
	return p.stringsCaseSensitive.Or(p.manager != nil && p.manager.StringsCaseSensitive())
}

// SingleStringOnly returns the explicit flag, possibly Unset.
func (p *Pool) SingleStringOnly() Tristate { return p.singleStringOnly }

// EffectiveSingleStringOnly resolves the single-string flag through the manager.
func (p *Pool) EffectiveSingleStringOnly() bool {
	return p.singleStringOnly.Or(p.manager != nil && p.manager.SingleStringOnly())
}

// SetSupportsNested sets the flag and overwrites it on every owned filter.
func (p *Pool) SetSupportsNested(v bool) {
	p.supportsNested = Of(v)
	for _, f := range p.filters {
		f.SetSupportsNested(v)
	}
	p.SetDirty(true)
}

// SetSupportsDuplicateStrings sets the flag and overwrites it on every owned filter.
func (p *Pool) SetSupportsDuplicateStrings(v bool) {
	p.supportsDuplicateStrings = Of(v)
	for _, f := range p.filters {
		f.SetSupportsDuplicateStrings(v)
	}
	p.SetDirty(true)
}

// SetStringsCaseSensitive sets the flag and overwrites it on every owned filter.
func (p *Pool) SetStringsCaseSensitive(v bool) {
	p.stringsCaseSensitive = Of(v)
	for _, f := range p.filters {
		f.SetStringsCaseSensitive(Of(v))
	}
	p.SetDirty(true)
}

// SetSingleStringOnly sets the pool-level single-string flag. Filters with an
// unset flag pick it up through EffectiveSingleStringOnly.
func (p *Pool) SetSingleStringOnly(v Tristate) {
	if p.singleStringOnly == v {
		return
	}
	p.singleStringOnly = v
	p.SetDirty(true)
}

// ──────────────────────────────────────────────────────────────────────────────
// Filters
// ──────────────────────────────────────────────────────────────────────────────

// Filters returns the owned filters in order.
func (p *Pool) Filters() []*Filter {
	out := make([]*Filter, len(p.filters))
	copy(out, p.filters)
	return out
}

// FilterNames returns the names of the owned filters in order.
func (p *Pool) FilterNames() []string {
	out := make([]string, len(p.filters))
	for i, f := range p.filters {
		out[i] = f.name
	}
	return out
}

// FilterCount returns the number of owned filters.
func (p *Pool) FilterCount() int { return len(p.filters) }

// GetFilter finds an owned filter by name, case-insensitively.
func (p *Pool) GetFilter(name string) *Filter {
	return findFilter(p.filters, name)
}

// CreateFilter creates a filter with the given strings. It returns nil when a
// filter with the same name (any case) already exists in the pool.
func (p *Pool) CreateFilter(name string, values []string) *Filter {
	if p.GetFilter(name) != nil {
		return nil
	}
	f := newFilter(p, nil, name)
	f.supportsNested = p.SupportsNested()
	f.supportsDuplicateStrings = p.SupportsDuplicateStrings()
	f.stringsCaseSensitive = p.stringsCaseSensitive
	for _, v := range values {
		f.strings = append(f.strings, newFilterString(f, v))
	}
	f.relativeOrder = len(p.filters)
	p.filters = append(p.filters, f)
	f.SetDirty(true)
	return f
}

// AdoptFilter appends an existing, unowned filter. Used when restoring from
// persisted form. It returns false on a name collision.
func (p *Pool) AdoptFilter(f *Filter) bool {
	if p.GetFilter(f.name) != nil {
		return false
	}
	f.parent = nil
	f.SetParentPool(p)
	p.filters = append(p.filters, f)
	f.SetDirty(true)
	return true
}

// DeleteFilter removes an owned top-level filter.
func (p *Pool) DeleteFilter(f *Filter) bool {
	idx := indexOf(p.filters, f)
	if idx < 0 {
		return false
	}
	p.filters = append(p.filters[:idx], p.filters[idx+1:]...)
	f.SetParentPool(nil)
	p.SetDirty(true)
	return true
}

// MoveFilter moves f to position, clamped to the list bounds.
func (p *Pool) MoveFilter(position int, f *Filter) bool {
	idx := indexOf(p.filters, f)
	if idx < 0 {
		return false
	}
	p.filters = append(p.filters[:idx], p.filters[idx+1:]...)
	position = clamp(position, len(p.filters))
	p.filters = append(p.filters, nil)
	copy(p.filters[position+1:], p.filters[position:])
	p.filters[position] = f
	p.SetDirty(true)
	return true
}

// MoveFilters shifts each filter by delta positions. Filters are processed
// in an order that keeps a contiguous selection contiguous.
func (p *Pool) MoveFilters(filters []*Filter, delta int) {
	if delta == 0 || len(filters) == 0 {
		return
	}
	ordered := make([]*Filter, 0, len(filters))
	for _, f := range p.filters {
		if indexOf(filters, f) >= 0 {
			ordered = append(ordered, f)
		}
	}
	if delta > 0 {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}
	for _, f := range ordered {
		p.MoveFilter(indexOf(p.filters, f)+delta, f)
	}
}

// OrderFilters reorders the pool to follow names. Unknown names are ignored;
// filters not named keep their relative order after the named ones.
func (p *Pool) OrderFilters(names []string) {
	ordered := make([]*Filter, 0, len(p.filters))
	for _, name := range names {
		f := findFilter(p.filters, name)
		if f != nil && indexOf(ordered, f) < 0 {
			ordered = append(ordered, f)
		}
	}
	for _, f := range p.filters {
		if indexOf(ordered, f) < 0 {
			ordered = append(ordered, f)
		}
	}
	p.filters = ordered
	p.SetDirty(true)
}

// SortByRelativeOrder restores list order after loading from storage that
// does not keep it. Each round places the unplaced filter with the lowest
// relative order, ties going to the earliest position. At most N+1 rounds
// run; anything still unplaced is appended in its original order.
func (p *Pool) SortByRelativeOrder() {
	n := len(p.filters)
	if n < 2 {
		return
	}
	placed := make([]bool, n)
	sorted := make([]*Filter, 0, n)
	for round := 0; round <= n && len(sorted) < n; round++ {
		best := -1
		for i, f := range p.filters {
			if placed[i] {
				continue
			}
			if best < 0 || f.relativeOrder < p.filters[best].relativeOrder {
				best = i
			}
		}
		if best < 0 {
			break
		}
		placed[best] = true
		sorted = append(sorted, p.filters[best])
	}
	for i, f := range p.filters {
		if !placed[i] {
			sorted = append(sorted, f)
		}
	}
	p.filters = sorted
}

// RenumberFilters stamps each filter's relative order with its position,
// recursively. Storage writers call this before persisting.
func (p *Pool) RenumberFilters() {
	renumber(p.filters)
}

func renumber(list []*Filter) {
	for i, f := range list {
		f.relativeOrder = i
		renumber(f.filters)
	}
}

// CloneInto copies the scalar attributes (except name and default flag) and
// deep-copies every filter into target.
func (p *Pool) CloneInto(target *Pool) {
	target.typ = p.typ
	target.deletable = p.deletable
	target.nonRenamable = p.nonRenamable
	target.supportsNested = p.supportsNested
	target.supportsDuplicateStrings = p.supportsDuplicateStrings
	target.stringsCaseSensitive = p.stringsCaseSensitive
	target.singleStringOnly = p.singleStringOnly

	for _, f := range p.filters {
		copyFilter := target.CreateFilter(f.name, nil)
		if copyFilter == nil {
			continue
		}
		f.CloneInto(copyFilter)
	}
	target.SetDirty(true)
}

// Commit delegates to the manager.
func (p *Pool) Commit() error {
	if p.manager == nil {
		return nil
	}
	return p.manager.Commit()
}

// PersistableParent returns the owning manager.
func (p *Pool) PersistableParent() persist.Persistable {
	if p.manager == nil {
		return nil
	}
	return p.manager
}

// PersistableChildren returns the owned filters.
func (p *Pool) PersistableChildren() []persist.Persistable {
	out := make([]persist.Persistable, 0, len(p.filters))
	for _, f := range p.filters {
		out = append(out, f)
	}
	return out
}
