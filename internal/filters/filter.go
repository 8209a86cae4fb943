package filters

import (
	"strings"

	"grimm.is/rse/internal/persist"
)

// Filter is a named, ordered collection of filter strings, optionally
// containing nested filters. It is owned by exactly one container at a time:
// a Pool, or a parent Filter when nested.
type Filter struct {
	persist.Node

	name    string
	typ     string
	strings []*FilterString
	filters []*Filter

	supportsNested           bool
	supportsDuplicateStrings bool
	stringsCaseSensitive     Tristate
	singleStringOnly         Tristate

	promptable           bool
	nonDeletable         bool
	nonRenamable         bool
	nonChangeable        bool
	stringsNonChangeable bool

	relativeOrder int

	pool   *Pool
	parent *Filter
}

func newFilter(pool *Pool, parent *Filter, name string) *Filter {
	f := &Filter{name: name, pool: pool, parent: parent}
	f.Bind(f)
	return f
}

// Name returns the filter name.
func (f *Filter) Name() string { return f.name }

// SetName renames the filter. Uniqueness among siblings is checked by
// PoolManager.RenameFilter, not here.
func (f *Filter) SetName(name string) {
	if f.name == name {
		return
	}
	f.name = name
	f.SetDirty(true)
}

// FullName returns "pool/filter" (with nested filter names appended).
func (f *Filter) FullName() string {
	var b strings.Builder
	if f.parent != nil {
		b.WriteString(f.parent.FullName())
	} else if f.pool != nil {
		b.WriteString(f.pool.Name())
	}
	if b.Len() > 0 {
		b.WriteByte('/')
	}
	b.WriteString(f.name)
	return b.String()
}

// Type returns the free-form filter type.
func (f *Filter) Type() string { return f.typ }

// SetType sets the filter type.
func (f *Filter) SetType(typ string) {
	if f.typ == typ {
		return
	}
	f.typ = typ
	f.SetDirty(true)
}

// Pool returns the pool the filter ultimately belongs to.
func (f *Filter) Pool() *Pool { return f.pool }

// ParentFilter returns the containing filter for nested filters, else nil.
func (f *Filter) ParentFilter() *Filter { return f.parent }

// IsNested reports whether the filter lives inside another filter.
func (f *Filter) IsNested() bool { return f.parent != nil }

// SetParentPool re-homes the filter and all nested filters to pool.
func (f *Filter) SetParentPool(pool *Pool) {
	f.pool = pool
	for _, nested := range f.filters {
		nested.SetParentPool(pool)
	}
}

// siblings returns the container list the filter belongs to.
func (f *Filter) siblings() []*Filter {
	if f.parent != nil {
		return f.parent.filters
	}
	if f.pool != nil {
		return f.pool.filters
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Policy flags
// ──────────────────────────────────────────────────────────────────────────────

// SupportsNested reports whether nested filters may be created.
func (f *Filter) SupportsNested() bool { return f.supportsNested }

// SetSupportsNested sets the nesting flag.
func (f *Filter) SetSupportsNested(v bool) {
	if f.supportsNested == v {
		return
	}
	f.supportsNested = v
	f.SetDirty(true)
}

// SupportsDuplicateStrings reports whether equal strings may coexist.
func (f *Filter) SupportsDuplicateStrings() bool { return f.supportsDuplicateStrings }

// SetSupportsDuplicateStrings sets the duplicate-strings flag.
func (f *Filter) SetSupportsDuplicateStrings(v bool) {
	if f.supportsDuplicateStrings == v {
		return
	}
	f.supportsDuplicateStrings = v
	f.SetDirty(true)
}

// StringsCaseSensitive returns the explicit flag, possibly Unset.
func (f *Filter) StringsCaseSensitive() Tristate { return f.stringsCaseSensitive }

// SetStringsCaseSensitive sets the explicit flag. Unset defers to the container.
func (f *Filter) SetStringsCaseSensitive(v Tristate) {
	if f.stringsCaseSensitive == v {
		return
	}
	f.stringsCaseSensitive = v
	f.SetDirty(true)
}

// EffectiveCaseSensitive resolves an unset flag through the container chain.
func (f *Filter) EffectiveCaseSensitive() bool {
	if f.stringsCaseSensitive.IsSet() {
		return f.stringsCaseSensitive.Or(false)
	}
	if f.parent != nil {
		return f.parent.EffectiveCaseSensitive()
	}
	if f.pool != nil {
		return f.pool.EffectiveCaseSensitive()
	}
	return false
}

// SingleStringOnly returns the explicit flag, possibly Unset.
func (f *Filter) SingleStringOnly() Tristate { return f.singleStringOnly }

// SetSingleStringOnly sets the explicit flag. Unset defers to the container.
func (f *Filter) SetSingleStringOnly(v Tristate) {
	if f.singleStringOnly == v {
		return
	}
	f.singleStringOnly = v
	f.SetDirty(true)
}

// EffectiveSingleStringOnly resolves an unset flag through the container chain.
func (f *Filter) EffectiveSingleStringOnly() bool {
	if f.singleStringOnly.IsSet() {
		return f.singleStringOnly.Or(false)
	}
	if f.parent != nil {
		return f.parent.EffectiveSingleStringOnly()
	}
	if f.pool != nil {
		return f.pool.EffectiveSingleStringOnly()
	}
	return false
}

func (f *Filter) IsPromptable() bool           { return f.promptable }
func (f *Filter) IsNonDeletable() bool         { return f.nonDeletable }
func (f *Filter) IsNonRenamable() bool         { return f.nonRenamable }
func (f *Filter) IsNonChangeable() bool        { return f.nonChangeable }
func (f *Filter) IsStringsNonChangeable() bool { return f.stringsNonChangeable }

func (f *Filter) SetPromptable(v bool)           { f.setFlag(&f.promptable, v) }
func (f *Filter) SetNonDeletable(v bool)         { f.setFlag(&f.nonDeletable, v) }
func (f *Filter) SetNonRenamable(v bool)         { f.setFlag(&f.nonRenamable, v) }
func (f *Filter) SetNonChangeable(v bool)        { f.setFlag(&f.nonChangeable, v) }
func (f *Filter) SetStringsNonChangeable(v bool) { f.setFlag(&f.stringsNonChangeable, v) }

func (f *Filter) setFlag(field *bool, v bool) {
	if *field == v {
		return
	}
	*field = v
	f.SetDirty(true)
}

// RelativeOrder is the persisted position used to restore ordering from
// storage that does not keep list order.
func (f *Filter) RelativeOrder() int { return f.relativeOrder }

// SetRelativeOrder records the persisted position. It does not mark the
// filter dirty; the value is bookkeeping for the storage layer.
func (f *Filter) SetRelativeOrder(order int) { f.relativeOrder = order }

// ──────────────────────────────────────────────────────────────────────────────
// Filter strings
// ──────────────────────────────────────────────────────────────────────────────

// Strings returns the filter strings in order.
func (f *Filter) Strings() []*FilterString {
	out := make([]*FilterString, len(f.strings))
	copy(out, f.strings)
	return out
}

// StringValues returns the pattern values in order.
func (f *Filter) StringValues() []string {
	out := make([]string, len(f.strings))
	for i, fs := range f.strings {
		out[i] = fs.value
	}
	return out
}

// StringCount returns the number of filter strings.
func (f *Filter) StringCount() int { return len(f.strings) }

// AddString appends a filter string. Duplicate and single-string policies are
// not enforced here; see CheckStringPolicy.
func (f *Filter) AddString(value string) *FilterString {
	return f.InsertString(value, len(f.strings))
}

// InsertString inserts a filter string at position, clamped to the list bounds.
func (f *Filter) InsertString(value string, position int) *FilterString {
	fs := newFilterString(f, value)
	position = clamp(position, len(f.strings))
	f.strings = append(f.strings, nil)
	copy(f.strings[position+1:], f.strings[position:])
	f.strings[position] = fs
	f.SetDirty(true)
	return fs
}

// SetStrings replaces all filter strings with values.
func (f *Filter) SetStrings(values []string) {
	f.strings = make([]*FilterString, 0, len(values))
	for _, v := range values {
		f.strings = append(f.strings, newFilterString(f, v))
	}
	f.SetDirty(true)
}

// LookupString finds the first string equal to value, honoring the effective
// case sensitivity.
func (f *Filter) LookupString(value string) *FilterString {
	cs := f.EffectiveCaseSensitive()
	for _, fs := range f.strings {
		if equalString(fs.value, value, cs) {
			return fs
		}
	}
	return nil
}

// RemoveString removes the first string equal to value and returns it.
func (f *Filter) RemoveString(value string) *FilterString {
	fs := f.LookupString(value)
	if fs == nil {
		return nil
	}
	f.RemoveFilterString(fs)
	return fs
}

// RemoveStringAt removes the string at position and returns it.
func (f *Filter) RemoveStringAt(position int) *FilterString {
	if position < 0 || position >= len(f.strings) {
		return nil
	}
	fs := f.strings[position]
	f.strings = append(f.strings[:position], f.strings[position+1:]...)
	f.SetDirty(true)
	return fs
}

// RemoveFilterString removes the given string handle.
func (f *Filter) RemoveFilterString(fs *FilterString) bool {
	idx := f.stringIndex(fs)
	if idx < 0 {
		return false
	}
	f.RemoveStringAt(idx)
	return true
}

// MoveString moves fs to position, clamped to the list bounds.
func (f *Filter) MoveString(position int, fs *FilterString) bool {
	idx := f.stringIndex(fs)
	if idx < 0 {
		return false
	}
	f.strings = append(f.strings[:idx], f.strings[idx+1:]...)
	position = clamp(position, len(f.strings))
	f.strings = append(f.strings, nil)
	copy(f.strings[position+1:], f.strings[position:])
	f.strings[position] = fs
	f.SetDirty(true)
	return true
}

func (f *Filter) stringIndex(fs *FilterString) int {
	for i, s := range f.strings {
		if s == fs {
			return i
		}
	}
	return -1
}

// Matches reports whether candidate matches any filter string, treating each
// string as a glob pattern.
func (f *Filter) Matches(candidate string) bool {
	fold := !f.EffectiveCaseSensitive()
	for _, fs := range f.strings {
		if fs.Matches(candidate, fold) {
			return true
		}
	}
	for _, nested := range f.filters {
		if nested.Matches(candidate) {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// Nested filters
// ──────────────────────────────────────────────────────────────────────────────

// Filters returns the nested filters in order.
func (f *Filter) Filters() []*Filter {
	out := make([]*Filter, len(f.filters))
	copy(out, f.filters)
	return out
}

// FilterCount returns the number of nested filters.
func (f *Filter) FilterCount() int { return len(f.filters) }

// GetFilter finds a nested filter by name, case-insensitively.
func (f *Filter) GetFilter(name string) *Filter {
	return findFilter(f.filters, name)
}

// CreateNested creates a nested filter. It returns nil when a nested filter
// with the same name (any case) already exists. The new filter supports
// nesting and copies this filter's duplicate-strings and case-sensitivity
// flags.
func (f *Filter) CreateNested(name string, values []string) *Filter {
	if f.GetFilter(name) != nil {
		return nil
	}
	nested := newFilter(f.pool, f, name)
	nested.supportsNested = true
	nested.supportsDuplicateStrings = f.supportsDuplicateStrings
	nested.stringsCaseSensitive = f.stringsCaseSensitive
	for _, v := range values {
		nested.strings = append(nested.strings, newFilterString(nested, v))
	}
	f.filters = append(f.filters, nested)
	nested.SetDirty(true)
	f.SetDirty(true)
	return nested
}

// DeleteNested removes a nested filter.
func (f *Filter) DeleteNested(nested *Filter) bool {
	idx := indexOf(f.filters, nested)
	if idx < 0 {
		return false
	}
	f.filters = append(f.filters[:idx], f.filters[idx+1:]...)
	nested.parent = nil
	nested.SetParentPool(nil)
	f.SetDirty(true)
	return true
}

// CloneInto copies every attribute except the name into target: flags,
// type, strings (new identities) and nested filters (recursively).
func (f *Filter) CloneInto(target *Filter) {
	target.typ = f.typ
	target.supportsNested = f.supportsNested
	target.supportsDuplicateStrings = f.supportsDuplicateStrings
	target.stringsCaseSensitive = f.stringsCaseSensitive
	target.singleStringOnly = f.singleStringOnly
	target.promptable = f.promptable
	target.nonDeletable = f.nonDeletable
	target.nonRenamable = f.nonRenamable
	target.nonChangeable = f.nonChangeable
	target.stringsNonChangeable = f.stringsNonChangeable
	target.relativeOrder = f.relativeOrder

	target.strings = make([]*FilterString, 0, len(f.strings))
	for _, fs := range f.strings {
		target.strings = append(target.strings, fs.clone(target))
	}

	for _, nested := range f.filters {
		copyFilter := target.CreateNested(nested.name, nil)
		if copyFilter == nil {
			copyFilter = target.GetFilter(nested.name)
		}
		nested.CloneInto(copyFilter)
	}
	target.SetDirty(true)
}

// Commit delegates to the container.
func (f *Filter) Commit() error {
	if p := f.PersistableParent(); p != nil {
		return p.Commit()
	}
	return nil
}

// PersistableParent returns the parent filter or the owning pool.
func (f *Filter) PersistableParent() persist.Persistable {
	if f.parent != nil {
		return f.parent
	}
	if f.pool != nil {
		return f.pool
	}
	return nil
}

// PersistableChildren returns the strings followed by the nested filters.
func (f *Filter) PersistableChildren() []persist.Persistable {
	out := make([]persist.Persistable, 0, len(f.strings)+len(f.filters))
	for _, fs := range f.strings {
		out = append(out, fs)
	}
	for _, nested := range f.filters {
		out = append(out, nested)
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────────────────────────────────

func findFilter(list []*Filter, name string) *Filter {
	for _, f := range list {
		if strings.EqualFold(f.name, name) {
			return f
		}
	}
	return nil
}

func indexOf[T comparable](list []T, v T) int {
	for i, e := range list {
		if e == v {
			return i
		}
	}
	return -1
}

func equalString(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

func clamp(pos, n int) int {
	if pos < 0 {
		return 0
	}
	if pos > n {
		return n
	}
	return pos
}
