package filters

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"

	"grimm.is/rse/internal/events"
	"grimm.is/rse/internal/persist"
)

const testConfigID = "files"

// MockStorage stands in for the persistence collaborator's pool removal.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) DeletePool(manager, pool string) error {
	args := m.Called(manager, pool)
	return args.Error(0)
}

// testProfile is a minimal Owner and Profile.
type testProfile struct {
	persist.Node

	name      string
	managers  []*PoolManager
	refs      []*PoolReferenceManager
	storage   *MockStorage
	commits   int
	commitErr error
}

func (p *testProfile) Name() string { return p.name }

func (p *testProfile) Commit() error {
	p.commits++
	if p.commitErr != nil {
		return p.commitErr
	}
	p.SetTainted(false)
	return nil
}

func (p *testProfile) DeletePoolStorage(m *PoolManager, pool *Pool) error {
	if p.storage == nil {
		return nil
	}
	return p.storage.DeletePool(m.Name(), pool.Name())
}

func (p *testProfile) FilterPoolManager(configID string) *PoolManager {
	for _, m := range p.managers {
		if m.ConfigID() == configID {
			return m
		}
	}
	return nil
}

func (p *testProfile) FilterPools() []*Pool {
	var out []*Pool
	for _, m := range p.managers {
		out = append(out, m.Pools()...)
	}
	return out
}

func (p *testProfile) PersistableParent() persist.Persistable { return nil }

func (p *testProfile) PersistableChildren() []persist.Persistable {
	var out []persist.Persistable
	for _, m := range p.managers {
		out = append(out, m)
	}
	for _, rm := range p.refs {
		out = append(out, rm)
	}
	return out
}

type testProfiles map[string]*testProfile

func (tp testProfiles) LookupProfile(name string) (Profile, bool) {
	for key, p := range tp {
		if strings.EqualFold(key, name) {
			return p, true
		}
	}
	return nil, false
}

type testEnv struct {
	sys      *System
	hub      *events.Hub
	profiles testProfiles
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	profiles := testProfiles{}
	hub := events.NewHub(nil)
	return &testEnv{
		sys:      NewSystem(profiles, WithEvents(hub)),
		hub:      hub,
		profiles: profiles,
	}
}

// addProfile creates a profile with one pool manager for testConfigID.
func (e *testEnv) addProfile(name string, policy Policy) (*testProfile, *PoolManager) {
	p := &testProfile{name: name}
	p.Bind(p)
	m := NewPoolManager(e.sys, p, ManagerConfig{ConfigID: testConfigID, Policy: policy})
	p.managers = append(p.managers, m)
	e.profiles[name] = p
	return p, m
}

// addConsumer creates a reference manager owned by profile.
func (e *testEnv) addConsumer(p *testProfile, name string) *PoolReferenceManager {
	rm := NewPoolReferenceManager(e.sys, p, ReferenceManagerConfig{
		Name:        name,
		ProfileName: p.name,
		ConfigID:    testConfigID,
	})
	p.refs = append(p.refs, rm)
	return rm
}

// detachedPool returns a pool owned by a manager with no owner.
func detachedPool(name string) *Pool {
	m := NewPoolManager(nil, nil, ManagerConfig{Name: "detached"})
	return m.AdoptPool(name, true)
}
