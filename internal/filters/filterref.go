package filters

import (
	"github.com/google/uuid"

	"grimm.is/rse/internal/metrics"
)

// FilterReference associates one Filter with one consumer. Several
// consumers may each hold their own reference to the same filter. Identity
// survives reconciliation for as long as the filter stays in the live list.
type FilterReference struct {
	id       uuid.UUID
	filter   *Filter
	consumer *PoolReferenceManager

	poolRef *PoolReference
	parent  *FilterReference
	nested  *Reconciler[*Filter, *FilterReference]
}

func newFilterReference(poolRef *PoolReference, parent *FilterReference, f *Filter) *FilterReference {
	fr := &FilterReference{
		id:      uuid.New(),
		filter:  f,
		poolRef: poolRef,
		parent:  parent,
	}
	if poolRef != nil {
		fr.consumer = poolRef.manager
	}
	fr.nested = NewReconciler(
		func(nested *Filter) *FilterReference { return newFilterReference(poolRef, fr, nested) },
		func(h *FilterReference) *Filter { return h.filter },
	)
	return fr
}

// ID returns the handle identity.
func (fr *FilterReference) ID() uuid.UUID { return fr.id }

// Filter returns the referenced filter.
func (fr *FilterReference) Filter() *Filter { return fr.filter }

// Name returns the referenced filter's current name.
func (fr *FilterReference) Name() string { return fr.filter.Name() }

// Consumer returns the reference manager of the consumer holding the handle.
func (fr *FilterReference) Consumer() *PoolReferenceManager { return fr.consumer }

// PoolReference returns the pool reference the handle was reconciled under.
func (fr *FilterReference) PoolReference() *PoolReference { return fr.poolRef }

// ParentReference returns the handle of the containing filter for nested
// filters, else nil.
func (fr *FilterReference) ParentReference() *FilterReference { return fr.parent }

// NestedReferences reconciles against the filter's nested filters and
// returns one handle per nested filter.
func (fr *FilterReference) NestedReferences() []*FilterReference {
	regenerated := fr.nested.Regenerate(fr.filter.Filters())
	fr.recorder().RecordReconcile("filter", regenerated)
	return fr.nested.Handles()
}

// GetNestedReference returns the handle for a nested filter, creating it if
// needed.
func (fr *FilterReference) GetNestedReference(nested *Filter) *FilterReference {
	return fr.nested.GetOrCreate(fr.filter.Filters(), nested, nil)
}

func (fr *FilterReference) recorder() *metrics.Registry {
	if fr.consumer == nil {
		return nil
	}
	return fr.consumer.sys.metrics
}
