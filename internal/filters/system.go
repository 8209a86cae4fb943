// Package filters implements the persistent, hierarchical filter framework:
// filter strings grouped into filters, filters grouped into pools, pools
// owned by a per-profile PoolManager, and name-based references to pools and
// filters that consumers hold instead of direct pointers.
//
// Every entity embeds persist.Node and takes part in dirty/tainted change
// tracking. Commits flow upward to the Owner of the PoolManager, normally a
// profile, which writes to the persistence collaborator.
//
// The package performs no locking; a single logical mutator per profile is
// assumed.
package filters

import (
	"grimm.is/rse/internal/events"
	"grimm.is/rse/internal/logging"
	"grimm.is/rse/internal/metrics"
	"grimm.is/rse/internal/persist"
)

// Profile is the view of a profile needed to resolve references.
type Profile interface {
	Name() string
	// FilterPoolManager returns the manager of the given sub-configuration,
	// or nil.
	FilterPoolManager(configID string) *PoolManager
	// FilterPools returns every pool owned by the profile across all its
	// managers.
	FilterPools() []*Pool
}

// ProfileLookup resolves profiles by name.
type ProfileLookup interface {
	LookupProfile(name string) (Profile, bool)
}

// Owner is the persistable root a PoolManager commits through.
type Owner interface {
	persist.Persistable
	Name() string
	// DeletePoolStorage removes the persisted form of pool. A failure aborts
	// the delete before the object graph is touched.
	DeletePoolStorage(manager *PoolManager, pool *Pool) error
}

// System is the explicit context shared by managers and reference managers
// of one instance: profile lookup, the set of live reference managers, and
// the logging/metrics/event sinks.
type System struct {
	profiles ProfileLookup
	log      *logging.Logger
	metrics  *metrics.Registry
	events   *events.Hub

	refManagers []*PoolReferenceManager
}

// Option configures a System.
type Option func(*System)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *System) { s.log = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *System) { s.metrics = m }
}

// WithEvents sets the event hub.
func WithEvents(h *events.Hub) Option {
	return func(s *System) { s.events = h }
}

// NewSystem creates a System. profiles may be nil and set later.
func NewSystem(profiles ProfileLookup, opts ...Option) *System {
	s := &System{profiles: profiles}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	return s
}

// SetProfiles sets the profile lookup.
func (s *System) SetProfiles(profiles ProfileLookup) {
	s.profiles = profiles
}

// Logger returns the system logger.
func (s *System) Logger() *logging.Logger { return s.log }

// Metrics returns the metrics registry, possibly nil.
func (s *System) Metrics() *metrics.Registry { return s.metrics }

// Events returns the event hub, possibly nil.
func (s *System) Events() *events.Hub { return s.events }

// ReferenceManagers returns the registered reference managers.
func (s *System) ReferenceManagers() []*PoolReferenceManager {
	out := make([]*PoolReferenceManager, len(s.refManagers))
	copy(out, s.refManagers)
	return out
}

func (s *System) register(rm *PoolReferenceManager) {
	if indexOf(s.refManagers, rm) < 0 {
		s.refManagers = append(s.refManagers, rm)
	}
}

// UnregisterReferenceManager drops rm from the system, e.g. when its
// consumer goes away.
func (s *System) UnregisterReferenceManager(rm *PoolReferenceManager) {
	if idx := indexOf(s.refManagers, rm); idx >= 0 {
		s.refManagers = append(s.refManagers[:idx], s.refManagers[idx+1:]...)
	}
}

// ReferencesTo returns every pool reference, across all reference managers,
// that resolves to pool.
func (s *System) ReferencesTo(pool *Pool) []*PoolReference {
	var out []*PoolReference
	for _, rm := range s.refManagers {
		for _, ref := range rm.References() {
			if ref.Resolve() == pool {
				out = append(out, ref)
			}
		}
	}
	return out
}

func (s *System) lookupProfile(name string) (Profile, bool) {
	if s.profiles == nil {
		return nil, false
	}
	return s.profiles.LookupProfile(name)
}
