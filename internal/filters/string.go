package filters

import (
	"strings"

	"github.com/gobwas/glob"

	"grimm.is/rse/internal/persist"
)

// DefaultStringType is reported by FilterString.Type when no type was set.
const DefaultStringType = "default"

// FilterString is a single pattern value owned by exactly one Filter.
type FilterString struct {
	persist.Node

	value     string
	typ       string
	isDefault bool
	parent    *Filter

	// compiled pattern, keyed by the case folding it was built for
	matcher     glob.Glob
	matcherFold bool
	matcherOK   bool
}

func newFilterString(parent *Filter, value string) *FilterString {
	fs := &FilterString{value: value, parent: parent}
	fs.Bind(fs)
	return fs
}

// Value returns the pattern.
func (fs *FilterString) Value() string { return fs.value }

// String returns the pattern.
func (fs *FilterString) String() string { return fs.value }

// SetValue replaces the pattern.
func (fs *FilterString) SetValue(value string) {
	if fs.value == value {
		return
	}
	fs.value = value
	fs.matcher, fs.matcherOK = nil, false
	fs.SetDirty(true)
}

// Matches reports whether candidate matches the pattern as a glob. A pattern
// that does not compile only matches itself. With fold set both sides are
// compared lower-cased.
func (fs *FilterString) Matches(candidate string, fold bool) bool {
	pattern := fs.value
	if fold {
		pattern = strings.ToLower(pattern)
		candidate = strings.ToLower(candidate)
	}
	if !fs.matcherOK || fs.matcherFold != fold {
		g, err := glob.Compile(pattern)
		if err != nil {
			g = nil
		}
		fs.matcher, fs.matcherFold, fs.matcherOK = g, fold, true
	}
	if fs.matcher == nil {
		return pattern == candidate
	}
	return fs.matcher.Match(candidate)
}

// Type returns the free-form type tag, or DefaultStringType when unset.
func (fs *FilterString) Type() string {
	if fs.typ == "" {
		return DefaultStringType
	}
	return fs.typ
}

// SetType sets the type tag.
func (fs *FilterString) SetType(typ string) {
	if typ == DefaultStringType {
		typ = ""
	}
	if fs.typ == typ {
		return
	}
	fs.typ = typ
	fs.SetDirty(true)
}

// IsDefault reports whether this is a vendor-supplied default string.
func (fs *FilterString) IsDefault() bool { return fs.isDefault }

// SetDefault sets the default flag.
func (fs *FilterString) SetDefault(isDefault bool) {
	if fs.isDefault == isDefault {
		return
	}
	fs.isDefault = isDefault
	fs.SetDirty(true)
}

// Filter returns the owning filter.
func (fs *FilterString) Filter() *Filter { return fs.parent }

// clone returns a copy with a new identity owned by parent.
func (fs *FilterString) clone(parent *Filter) *FilterString {
	c := newFilterString(parent, fs.value)
	c.typ = fs.typ
	c.isDefault = fs.isDefault
	return c
}

// Commit delegates to the owning filter.
func (fs *FilterString) Commit() error {
	if fs.parent == nil {
		return nil
	}
	return fs.parent.Commit()
}

// PersistableParent returns the owning filter.
func (fs *FilterString) PersistableParent() persist.Persistable {
	if fs.parent == nil {
		return nil
	}
	return fs.parent
}

// PersistableChildren returns nil; filter strings are leaves.
func (fs *FilterString) PersistableChildren() []persist.Persistable {
	return nil
}
