package store

import (
	"cmp"
	"fmt"
	"slices"

	"grimm.is/rse/internal/filters"
	"grimm.is/rse/internal/profile"
)

// ProfileRecord is the persisted form of a profile.
type ProfileRecord struct {
	Name      string           `json:"name" yaml:"name"`
	Managers  []ManagerRecord  `json:"managers,omitempty" yaml:"managers,omitempty"`
	Consumers []ConsumerRecord `json:"consumers,omitempty" yaml:"consumers,omitempty"`
}

// ManagerRecord is the persisted form of a pool manager.
type ManagerRecord struct {
	ConfigID                 string       `json:"config_id" yaml:"config_id"`
	SupportsNested           bool         `json:"supports_nested,omitempty" yaml:"supports_nested,omitempty"`
	SupportsDuplicateStrings bool         `json:"supports_duplicate_strings,omitempty" yaml:"supports_duplicate_strings,omitempty"`
	StringsCaseSensitive     bool         `json:"strings_case_sensitive,omitempty" yaml:"strings_case_sensitive,omitempty"`
	SingleStringOnly         bool         `json:"single_string_only,omitempty" yaml:"single_string_only,omitempty"`
	Pools                    []PoolRecord `json:"pools,omitempty" yaml:"pools,omitempty"`
}

// PoolRecord is the persisted form of a pool. Order is the pool's position
// in its manager; Filters are kept in list order.
type PoolRecord struct {
	Name                     string         `json:"name" yaml:"name"`
	Order                    int            `json:"order" yaml:"-"`
	Type                     string         `json:"type,omitempty" yaml:"type,omitempty"`
	Deletable                bool           `json:"deletable" yaml:"deletable"`
	Default                  bool           `json:"default,omitempty" yaml:"default,omitempty"`
	NonRenamable             bool           `json:"non_renamable,omitempty" yaml:"non_renamable,omitempty"`
	SupportsNested           bool           `json:"supports_nested,omitempty" yaml:"supports_nested,omitempty"`
	SupportsDuplicateStrings bool           `json:"supports_duplicate_strings,omitempty" yaml:"supports_duplicate_strings,omitempty"`
	StringsCaseSensitive     string         `json:"strings_case_sensitive,omitempty" yaml:"strings_case_sensitive,omitempty"`
	SingleStringOnly         string         `json:"single_string_only,omitempty" yaml:"single_string_only,omitempty"`
	Filters                  []FilterRecord `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// FilterRecord is the persisted form of a filter.
type FilterRecord struct {
	Name                     string         `json:"name" yaml:"name"`
	RelativeOrder            int            `json:"relative_order" yaml:"-"`
	Type                     string         `json:"type,omitempty" yaml:"type,omitempty"`
	Strings                  []StringRecord `json:"strings,omitempty" yaml:"strings,omitempty"`
	Filters                  []FilterRecord `json:"filters,omitempty" yaml:"filters,omitempty"`
	SupportsNested           bool           `json:"supports_nested,omitempty" yaml:"supports_nested,omitempty"`
	SupportsDuplicateStrings bool           `json:"supports_duplicate_strings,omitempty" yaml:"supports_duplicate_strings,omitempty"`
	StringsCaseSensitive     string         `json:"strings_case_sensitive,omitempty" yaml:"strings_case_sensitive,omitempty"`
	SingleStringOnly         string         `json:"single_string_only,omitempty" yaml:"single_string_only,omitempty"`
	Promptable               bool           `json:"promptable,omitempty" yaml:"promptable,omitempty"`
	NonDeletable             bool           `json:"non_deletable,omitempty" yaml:"non_deletable,omitempty"`
	NonRenamable             bool           `json:"non_renamable,omitempty" yaml:"non_renamable,omitempty"`
	NonChangeable            bool           `json:"non_changeable,omitempty" yaml:"non_changeable,omitempty"`
	StringsNonChangeable     bool           `json:"strings_non_changeable,omitempty" yaml:"strings_non_changeable,omitempty"`
}

// StringRecord is the persisted form of a filter string.
type StringRecord struct {
	Value   string `json:"value" yaml:"value"`
	Type    string `json:"type,omitempty" yaml:"type,omitempty"`
	Default bool   `json:"default,omitempty" yaml:"default,omitempty"`
}

// ConsumerRecord is the persisted form of a pool reference manager.
type ConsumerRecord struct {
	Name       string   `json:"name" yaml:"name"`
	ConfigID   string   `json:"config_id" yaml:"config_id"`
	References []string `json:"references,omitempty" yaml:"references,omitempty"`
}

// tristateString encodes an unset flag as "".
func tristateString(t filters.Tristate) string {
	if !t.IsSet() {
		return ""
	}
	return t.String()
}

// NewProfileRecord captures p. Filter relative orders are renumbered from
// list positions first, so the record can be restored from unordered storage.
func NewProfileRecord(p *profile.Profile) ProfileRecord {
	rec := ProfileRecord{Name: p.Name()}
	for _, m := range p.Managers() {
		mr := ManagerRecord{
			ConfigID:                 m.ConfigID(),
			SupportsNested:           m.SupportsNested(),
			SupportsDuplicateStrings: m.SupportsDuplicateStrings(),
			StringsCaseSensitive:     m.StringsCaseSensitive(),
			SingleStringOnly:         m.SingleStringOnly(),
		}
		for i, pool := range m.Pools() {
			mr.Pools = append(mr.Pools, newPoolRecord(pool, i))
		}
		rec.Managers = append(rec.Managers, mr)
	}
	for _, rm := range p.Consumers() {
		rec.Consumers = append(rec.Consumers, ConsumerRecord{
			Name:       rm.Name(),
			ConfigID:   rm.ConfigID(),
			References: rm.Names(),
		})
	}
	return rec
}

func newPoolRecord(pool *filters.Pool, order int) PoolRecord {
	pool.RenumberFilters()
	pr := PoolRecord{
		Name:                     pool.Name(),
		Order:                    order,
		Type:                     pool.Type(),
		Deletable:                pool.IsDeletable(),
		Default:                  pool.IsDefault(),
		NonRenamable:             pool.IsNonRenamable(),
		SupportsNested:           pool.SupportsNested(),
		SupportsDuplicateStrings: pool.SupportsDuplicateStrings(),
		StringsCaseSensitive:     tristateString(pool.StringsCaseSensitive()),
		SingleStringOnly:         tristateString(pool.SingleStringOnly()),
	}
	for _, f := range pool.Filters() {
		pr.Filters = append(pr.Filters, newFilterRecord(f))
	}
	return pr
}

func newFilterRecord(f *filters.Filter) FilterRecord {
	fr := FilterRecord{
		Name:                     f.Name(),
		RelativeOrder:            f.RelativeOrder(),
		Type:                     f.Type(),
		SupportsNested:           f.SupportsNested(),
		SupportsDuplicateStrings: f.SupportsDuplicateStrings(),
		StringsCaseSensitive:     tristateString(f.StringsCaseSensitive()),
		SingleStringOnly:         tristateString(f.SingleStringOnly()),
		Promptable:               f.IsPromptable(),
		NonDeletable:             f.IsNonDeletable(),
		NonRenamable:             f.IsNonRenamable(),
		NonChangeable:            f.IsNonChangeable(),
		StringsNonChangeable:     f.IsStringsNonChangeable(),
	}
	for _, fs := range f.Strings() {
		sr := StringRecord{Value: fs.Value(), Default: fs.IsDefault()}
		if fs.Type() != filters.DefaultStringType {
			sr.Type = fs.Type()
		}
		fr.Strings = append(fr.Strings, sr)
	}
	for _, nested := range f.Filters() {
		fr.Filters = append(fr.Filters, newFilterRecord(nested))
	}
	return fr
}

// Apply rebuilds the recorded profile in reg. It is meant to run inside
// Registry.Restore so the result comes out clean. Pools are placed by
// Order and top-level filters by relative order, whatever the order of
// the record's slices.
func (rec ProfileRecord) Apply(reg *profile.Registry) (*profile.Profile, error) {
	p, err := reg.CreateProfile(rec.Name)
	if err != nil {
		return nil, err
	}
	for _, mr := range rec.Managers {
		m := p.AddManagerWithPolicy(mr.ConfigID, filters.Policy{
			SupportsNested:           mr.SupportsNested,
			SupportsDuplicateStrings: mr.SupportsDuplicateStrings,
			StringsCaseSensitive:     mr.StringsCaseSensitive,
			SingleStringOnly:         mr.SingleStringOnly,
		})
		for _, pr := range sortPoolRecords(mr.Pools) {
			if err := applyPool(m, pr); err != nil {
				return nil, fmt.Errorf("profile %s: %w", rec.Name, err)
			}
		}
	}
	for _, cr := range rec.Consumers {
		rm := p.AddConsumer(cr.Name, cr.ConfigID)
		for _, name := range cr.References {
			rm.AddReferenceByName(name)
		}
	}
	return p, nil
}

func applyPool(m *filters.PoolManager, pr PoolRecord) error {
	pool := m.AdoptPool(pr.Name, pr.Deletable)
	if pool == nil {
		return fmt.Errorf("%w: pool %s", filters.ErrDuplicateName, pr.Name)
	}
	pool.SetType(pr.Type)
	pool.SetDefault(pr.Default)
	pool.SetNonRenamable(pr.NonRenamable)
	pool.SetSupportsNested(pr.SupportsNested)
	pool.SetSupportsDuplicateStrings(pr.SupportsDuplicateStrings)
	if cs := filters.ParseTristate(pr.StringsCaseSensitive); cs.IsSet() {
		pool.SetStringsCaseSensitive(cs.Or(false))
	}
	pool.SetSingleStringOnly(filters.ParseTristate(pr.SingleStringOnly))

	for _, fr := range pr.Filters {
		f := pool.CreateFilter(fr.Name, nil)
		if f == nil {
			return fmt.Errorf("%w: filter %s/%s", filters.ErrDuplicateName, pr.Name, fr.Name)
		}
		applyFilter(f, fr)
	}
	pool.SortByRelativeOrder()
	return nil
}

func applyFilter(f *filters.Filter, fr FilterRecord) {
	f.SetType(fr.Type)
	f.SetSupportsNested(fr.SupportsNested)
	f.SetSupportsDuplicateStrings(fr.SupportsDuplicateStrings)
	f.SetStringsCaseSensitive(filters.ParseTristate(fr.StringsCaseSensitive))
	f.SetSingleStringOnly(filters.ParseTristate(fr.SingleStringOnly))
	f.SetPromptable(fr.Promptable)
	f.SetNonDeletable(fr.NonDeletable)
	f.SetNonRenamable(fr.NonRenamable)
	f.SetNonChangeable(fr.NonChangeable)
	f.SetStringsNonChangeable(fr.StringsNonChangeable)
	f.SetRelativeOrder(fr.RelativeOrder)

	for _, sr := range fr.Strings {
		fs := f.AddString(sr.Value)
		fs.SetType(sr.Type)
		fs.SetDefault(sr.Default)
	}
	for _, nr := range fr.Filters {
		if nested := f.CreateNested(nr.Name, nil); nested != nil {
			applyFilter(nested, nr)
		}
	}
}

// sortPoolRecords orders pools by Order, keeping input order on ties.
func sortPoolRecords(pools []PoolRecord) []PoolRecord {
	out := slices.Clone(pools)
	slices.SortStableFunc(out, func(a, b PoolRecord) int { return cmp.Compare(a.Order, b.Order) })
	return out
}
