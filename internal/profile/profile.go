// Package profile provides the root of the persistable tree: a Profile owns
// one filter pool manager per sub-configuration and the pool reference
// managers of its consumers, and writes all of them through a Writer.
//
// Profiles are held by a Registry, which resolves them by name for pool
// references and batches commits made inside a Scope.
package profile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"grimm.is/rse/internal/events"
	"grimm.is/rse/internal/filters"
	"grimm.is/rse/internal/logging"
	"grimm.is/rse/internal/persist"
)

// DefaultConfigID is the sub-configuration used when none is given.
const DefaultConfigID = "default"

var (
	ErrProfileExists = errors.New("profile already exists")
	ErrNoSuchProfile = errors.New("no such profile")
	ErrInvalidName   = errors.New("invalid profile name")
)

// Writer is the persistence collaborator a Profile commits through.
type Writer interface {
	// WriteProfile persists the profile's whole tree.
	WriteProfile(p *Profile) error
	// DeletePool removes the persisted form of one pool.
	DeletePool(profile, configID, pool string) error
	// DeleteProfile removes everything persisted for the profile.
	DeleteProfile(profile string) error
}

// Profile is the persistable root owning pool managers and consumers.
type Profile struct {
	persist.Node

	name      string
	registry  *Registry
	managers  []*filters.PoolManager
	consumers []*filters.PoolReferenceManager
	writer    Writer
	log       *logging.Logger

	snapshotID  string
	committedAt time.Time
}

func newProfile(r *Registry, name string) *Profile {
	p := &Profile{
		name:     name,
		registry: r,
		writer:   r.writer,
		log:      r.log.WithComponent("profile").WithFields(map[string]any{"profile": name}),
	}
	p.Bind(p)
	return p
}

// Name returns the profile name.
func (p *Profile) Name() string { return p.name }

// Registry returns the owning registry.
func (p *Profile) Registry() *Registry { return p.registry }

// SetWriter replaces the persistence collaborator. A nil writer keeps the
// profile in memory only.
func (p *Profile) SetWriter(w Writer) { p.writer = w }

// Writer returns the persistence collaborator, possibly nil.
func (p *Profile) Writer() Writer { return p.writer }

// SnapshotID identifies the last successful commit.
func (p *Profile) SnapshotID() string { return p.snapshotID }

// CommittedAt returns the time of the last successful commit.
func (p *Profile) CommittedAt() time.Time { return p.committedAt }

// ──────────────────────────────────────────────────────────────────────────────
// Pool managers
// ──────────────────────────────────────────────────────────────────────────────

// AddManager returns the pool manager for configID, creating it with the
// registry's default policy if needed.
func (p *Profile) AddManager(configID string) *filters.PoolManager {
	return p.AddManagerWithPolicy(configID, p.registry.policy)
}

// AddManagerWithPolicy returns the pool manager for configID, creating it
// with policy if needed.
func (p *Profile) AddManagerWithPolicy(configID string, policy filters.Policy) *filters.PoolManager {
	if configID == "" {
		configID = DefaultConfigID
	}
	if m := p.Manager(configID); m != nil {
		return m
	}
	m := filters.NewPoolManager(p.registry.sys, p, filters.ManagerConfig{
		Name:     p.name,
		ConfigID: configID,
		Policy:   policy,
	})
	if p.IsRestoring() {
		m.BeginRestore()
	}
	p.managers = append(p.managers, m)
	p.SetDirty(true)
	return m
}

// Manager returns the pool manager for configID, or nil.
func (p *Profile) Manager(configID string) *filters.PoolManager {
	if configID == "" {
		configID = DefaultConfigID
	}
	for _, m := range p.managers {
		if m.ConfigID() == configID {
			return m
		}
	}
	return nil
}

// FilterPoolManager implements filters.Profile.
func (p *Profile) FilterPoolManager(configID string) *filters.PoolManager {
	return p.Manager(configID)
}

// Managers returns the pool managers in creation order.
func (p *Profile) Managers() []*filters.PoolManager {
	out := make([]*filters.PoolManager, len(p.managers))
	copy(out, p.managers)
	return out
}

// FilterPools returns every pool across all managers.
func (p *Profile) FilterPools() []*filters.Pool {
	var out []*filters.Pool
	for _, m := range p.managers {
		out = append(out, m.Pools()...)
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Consumers
// ──────────────────────────────────────────────────────────────────────────────

// AddConsumer returns the reference manager of the named consumer, creating
// it if needed. References of a new consumer resolve against configID.
func (p *Profile) AddConsumer(name, configID string) *filters.PoolReferenceManager {
	if rm := p.Consumer(name); rm != nil {
		return rm
	}
	if configID == "" {
		configID = DefaultConfigID
	}
	rm := filters.NewPoolReferenceManager(p.registry.sys, p, filters.ReferenceManagerConfig{
		Name:        name,
		ProfileName: p.name,
		ConfigID:    configID,
	})
	if p.IsRestoring() {
		rm.BeginRestore()
	}
	p.consumers = append(p.consumers, rm)
	p.SetDirty(true)
	return rm
}

// Consumer returns the named consumer's reference manager, or nil.
func (p *Profile) Consumer(name string) *filters.PoolReferenceManager {
	for _, rm := range p.consumers {
		if strings.EqualFold(rm.Name(), name) {
			return rm
		}
	}
	return nil
}

// Consumers returns the reference managers in creation order.
func (p *Profile) Consumers() []*filters.PoolReferenceManager {
	out := make([]*filters.PoolReferenceManager, len(p.consumers))
	copy(out, p.consumers)
	return out
}

// RemoveConsumer drops the named consumer and unregisters its references.
func (p *Profile) RemoveConsumer(name string) bool {
	for i, rm := range p.consumers {
		if strings.EqualFold(rm.Name(), name) {
			rm.Close()
			p.consumers = append(p.consumers[:i], p.consumers[i+1:]...)
			p.SetDirty(true)
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// persist.Persistable
// ──────────────────────────────────────────────────────────────────────────────

// Commit writes the profile. Inside an open Scope the write is deferred to
// the outermost End; while the registry restores it is skipped.
func (p *Profile) Commit() error {
	if p.registry.restoring || p.registry.InScope() {
		return nil
	}
	return p.write()
}

func (p *Profile) write() error {
	sys := p.registry.sys
	if p.writer == nil {
		p.SetTainted(false)
		return nil
	}

	err := p.writer.WriteProfile(p)
	sys.Metrics().RecordCommit(p.name, err)
	if err != nil {
		p.log.Error("commit failed", "error", err)
		return fmt.Errorf("write profile %s: %w", p.name, err)
	}

	p.snapshotID = uuid.NewString()
	p.committedAt = p.registry.clock.Now()
	p.SetTainted(false)
	p.log.Debug("committed", "snapshot", p.snapshotID)
	sys.Events().EmitProfile(events.EventProfileCommitted, p.name, p.snapshotID)
	return nil
}

// DeletePoolStorage implements filters.Owner.
func (p *Profile) DeletePoolStorage(m *filters.PoolManager, pool *filters.Pool) error {
	if p.writer == nil {
		return nil
	}
	return p.writer.DeletePool(p.name, m.ConfigID(), pool.Name())
}

// SetTainted reports the first taint of a clean profile before applying it.
func (p *Profile) SetTainted(tainted bool) {
	if tainted && !p.IsTainted() && !p.IsRestoring() {
		p.registry.sys.Metrics().RecordTainted()
		p.registry.sys.Events().EmitProfile(events.EventProfileTainted, p.name, "")
	}
	p.Node.SetTainted(tainted)
}

// SetDirty marks the profile itself changed.
func (p *Profile) SetDirty(dirty bool) {
	if dirty {
		p.SetTainted(true)
	}
	p.Node.SetDirty(dirty)
}

// PersistableParent returns nil; the profile is the root.
func (p *Profile) PersistableParent() persist.Persistable { return nil }

// PersistableChildren returns the pool managers followed by the consumers.
func (p *Profile) PersistableChildren() []persist.Persistable {
	out := make([]persist.Persistable, 0, len(p.managers)+len(p.consumers))
	for _, m := range p.managers {
		out = append(out, m)
	}
	for _, rm := range p.consumers {
		out = append(out, rm)
	}
	return out
}
