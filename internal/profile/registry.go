package profile

import (
	"errors"
	"fmt"
	"strings"

	"grimm.is/rse/internal/clock"
	"grimm.is/rse/internal/events"
	"grimm.is/rse/internal/filters"
	"grimm.is/rse/internal/logging"
	"grimm.is/rse/internal/metrics"
	"grimm.is/rse/internal/persist"
)

// Registry holds the profiles of one instance and resolves them by name.
// It is not safe for concurrent use.
type Registry struct {
	sys      *filters.System
	profiles []*Profile
	writer   Writer
	policy   filters.Policy
	clock    clock.Clock
	log      *logging.Logger

	scope     *Scope
	restoring bool
}

// Option configures a Registry.
type Option func(*registryOptions)

type registryOptions struct {
	log     *logging.Logger
	metrics *metrics.Registry
	events  *events.Hub
	clock   clock.Clock
	writer  Writer
	policy  filters.Policy
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *registryOptions) { o.log = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *registryOptions) { o.metrics = m }
}

// WithEvents sets the event hub.
func WithEvents(h *events.Hub) Option {
	return func(o *registryOptions) { o.events = h }
}

// WithClock sets the time source for commit timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *registryOptions) { o.clock = c }
}

// WithWriter sets the writer given to new profiles.
func WithWriter(w Writer) Option {
	return func(o *registryOptions) { o.writer = w }
}

// WithPolicy sets the policy of pool managers created by AddManager.
func WithPolicy(p filters.Policy) Option {
	return func(o *registryOptions) { o.policy = p }
}

// NewRegistry creates an empty registry with its own filters.System.
func NewRegistry(opts ...Option) *Registry {
	var o registryOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Discard()
	}

	r := &Registry{
		writer: o.writer,
		policy: o.policy,
		clock:  clock.OrReal(o.clock),
		log:    o.log.WithComponent("registry"),
	}
	r.sys = filters.NewSystem(r,
		filters.WithLogger(o.log),
		filters.WithMetrics(o.metrics),
		filters.WithEvents(o.events),
	)
	return r
}

// System returns the shared filters context.
func (r *Registry) System() *filters.System { return r.sys }

// Policy returns the default manager policy.
func (r *Registry) Policy() filters.Policy { return r.policy }

// SetWriter sets the writer of the registry and every existing profile.
func (r *Registry) SetWriter(w Writer) {
	r.writer = w
	for _, p := range r.profiles {
		p.writer = w
	}
}

// CreateProfile adds an empty profile.
func (r *Registry) CreateProfile(name string) (*Profile, error) {
	if name == "" || strings.Contains(name, filters.Delimiter) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, ok := r.Get(name); ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileExists, name)
	}
	p := newProfile(r, name)
	if r.restoring {
		p.BeginRestore()
	}
	r.profiles = append(r.profiles, p)
	r.log.Debug("created profile", "profile", name)
	return p, nil
}

// Get returns the named profile, compared case-insensitively.
func (r *Registry) Get(name string) (*Profile, bool) {
	for _, p := range r.profiles {
		if strings.EqualFold(p.name, name) {
			return p, true
		}
	}
	return nil, false
}

// LookupProfile implements filters.ProfileLookup.
func (r *Registry) LookupProfile(name string) (filters.Profile, bool) {
	p, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	return p, true
}

// Profiles returns the profiles in creation order.
func (r *Registry) Profiles() []*Profile {
	out := make([]*Profile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// Names returns the profile names in creation order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.profiles))
	for i, p := range r.profiles {
		out[i] = p.name
	}
	return out
}

// DeleteProfile removes a profile and its persisted form. References held
// by other profiles' consumers to its pools become broken on next resolve.
func (r *Registry) DeleteProfile(name string) error {
	for i, p := range r.profiles {
		if !strings.EqualFold(p.name, name) {
			continue
		}
		if p.writer != nil {
			if err := p.writer.DeleteProfile(p.name); err != nil {
				return fmt.Errorf("delete profile %s: %w", p.name, err)
			}
		}
		for _, rm := range p.consumers {
			rm.Close()
		}
		for _, other := range r.sys.ReferenceManagers() {
			for _, ref := range other.References() {
				if ref.ManagerName() == p.name {
					ref.Invalidate()
				}
			}
		}
		r.profiles = append(r.profiles[:i], r.profiles[i+1:]...)
		r.log.Audit("delete", "profile", map[string]any{"profile": p.name})
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNoSuchProfile, name)
}

// Flush commits every tainted profile, returning all failures joined.
func (r *Registry) Flush() error {
	var errs []error
	for _, p := range r.profiles {
		if !p.IsTainted() {
			continue
		}
		if err := p.write(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Loader populates a registry from persisted form.
type Loader interface {
	LoadProfiles(r *Registry) error
}

// Restore runs loader with change tracking suppressed. Profiles created
// during the load come out clean and marked restored.
func (r *Registry) Restore(loader Loader) error {
	r.restoring = true
	err := loader.LoadProfiles(r)
	r.restoring = false

	for _, p := range r.profiles {
		if !p.IsRestoring() {
			continue
		}
		persist.EndRestoreTree(p)
		p.SetTainted(false)
	}
	if err != nil {
		return fmt.Errorf("restore profiles: %w", err)
	}
	r.log.Info("restored profiles", "count", len(r.profiles))
	return nil
}

// IsRestoring reports whether a Restore is running.
func (r *Registry) IsRestoring() bool { return r.restoring }
