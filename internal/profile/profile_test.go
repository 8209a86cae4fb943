package profile

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/rse/internal/clock"
	"grimm.is/rse/internal/events"
	"grimm.is/rse/internal/filters"
	"grimm.is/rse/internal/metrics"
)

// MockWriter records writes.
type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteProfile(p *Profile) error {
	args := m.Called(p.Name())
	return args.Error(0)
}

func (m *MockWriter) DeletePool(profile, configID, pool string) error {
	args := m.Called(profile, configID, pool)
	return args.Error(0)
}

func (m *MockWriter) DeleteProfile(profile string) error {
	args := m.Called(profile)
	return args.Error(0)
}

func newTestRegistry(t *testing.T, w Writer, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{WithWriter(w)}, opts...)
	return NewRegistry(opts...)
}

func TestRegistry_CreateProfile(t *testing.T) {
	reg := NewRegistry()

	p, err := reg.CreateProfile("Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Name())

	_, err = reg.CreateProfile("alice")
	assert.ErrorIs(t, err, ErrProfileExists)

	_, err = reg.CreateProfile("a___b")
	assert.ErrorIs(t, err, ErrInvalidName)

	got, ok := reg.LookupProfile("ALICE")
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = reg.LookupProfile("bob")
	assert.False(t, ok)
	assert.Equal(t, []string{"Alice"}, reg.Names())
}

func TestProfile_Managers(t *testing.T) {
	reg := NewRegistry(WithPolicy(filters.Policy{SupportsNested: true}))
	p, _ := reg.CreateProfile("alice")

	m := p.AddManager("")
	assert.Equal(t, DefaultConfigID, m.ConfigID())
	assert.Equal(t, "alice", m.Name())
	assert.True(t, m.SupportsNested())
	assert.Same(t, m, p.AddManager(DefaultConfigID))
	assert.Same(t, m, p.FilterPoolManager(DefaultConfigID))

	other := p.AddManagerWithPolicy("processes", filters.Policy{})
	assert.False(t, other.SupportsNested())
	assert.Len(t, p.Managers(), 2)

	a, _ := m.CreatePool("a", true)
	b, _ := other.CreatePool("b", true)
	assert.Equal(t, []*filters.Pool{a, b}, p.FilterPools())
}

func TestProfile_CommitWritesAndClearsTaint(t *testing.T) {
	w := new(MockWriter)
	w.On("WriteProfile", "alice").Return(nil)
	mclk := clock.NewMockClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	reg := newTestRegistry(t, w, WithClock(mclk))
	p, _ := reg.CreateProfile("alice")
	m := p.AddManager("")

	pool, err := m.CreatePool("p", true)
	require.NoError(t, err)
	f, err := m.CreateFilter(pool, "f", []string{"x"})
	require.NoError(t, err)

	assert.False(t, p.IsTainted())
	assert.False(t, f.IsDirty())
	assert.NotEmpty(t, p.SnapshotID())
	assert.Equal(t, mclk.Now(), p.CommittedAt())
	w.AssertNumberOfCalls(t, "WriteProfile", 2)
}

func TestProfile_CommitFailure(t *testing.T) {
	w := new(MockWriter)
	w.On("WriteProfile", "alice").Return(errors.New("read-only"))
	reg := newTestRegistry(t, w)
	p, _ := reg.CreateProfile("alice")
	m := p.AddManager("")

	_, err := m.CreatePool("p", true)
	assert.ErrorContains(t, err, "read-only")
	assert.True(t, p.IsTainted())
	assert.Empty(t, p.SnapshotID())
}

func TestProfile_TaintedEventOnFirstTaint(t *testing.T) {
	hub := events.NewHub(nil)
	reg := NewRegistry(WithEvents(hub))
	p, _ := reg.CreateProfile("alice")
	p.SetTainted(false)
	ch := hub.Subscribe(8, events.EventProfileTainted)

	m := p.AddManager("")
	pool := m.AdoptPool("p", true)
	pool.SetType("x")

	assert.Len(t, ch, 1, "already tainted profile does not re-announce")
	e := <-ch
	assert.Equal(t, "alice", e.Data.(events.ProfileData).Profile)
}

func TestProfile_DeletePoolGoesThroughWriter(t *testing.T) {
	w := new(MockWriter)
	w.On("WriteProfile", mock.Anything).Return(nil)
	w.On("DeletePool", "alice", DefaultConfigID, "p").Return(nil).Once()
	reg := newTestRegistry(t, w)
	p, _ := reg.CreateProfile("alice")
	m := p.AddManager("")
	pool, _ := m.CreatePool("p", true)

	require.NoError(t, m.DeletePool(pool))
	w.AssertExpectations(t)
}

func TestProfile_Consumers(t *testing.T) {
	reg := NewRegistry()
	alice, _ := reg.CreateProfile("alice")
	bob, _ := reg.CreateProfile("bob")
	pool, _ := bob.AddManager("").CreatePool("shared", true)

	conn := alice.AddConsumer("conn", "")
	assert.Same(t, conn, alice.AddConsumer("CONN", ""))
	ref := conn.AddReferenceByName("bob___shared")
	assert.Same(t, pool, ref.Resolve())
	assert.Len(t, reg.System().ReferencesTo(pool), 1)

	assert.True(t, alice.RemoveConsumer("conn"))
	assert.False(t, alice.RemoveConsumer("conn"))
	assert.Empty(t, reg.System().ReferencesTo(pool))
}

func TestRegistry_DeleteProfile(t *testing.T) {
	w := new(MockWriter)
	w.On("WriteProfile", mock.Anything).Return(nil)
	w.On("DeleteProfile", "bob").Return(nil)
	reg := newTestRegistry(t, w)
	alice, _ := reg.CreateProfile("alice")
	bob, _ := reg.CreateProfile("bob")
	pool, _ := bob.AddManager("").CreatePool("shared", true)
	ref := alice.AddConsumer("conn", "").AddReference(pool)

	require.NoError(t, reg.DeleteProfile("BOB"))
	assert.Equal(t, []string{"alice"}, reg.Names())
	assert.Nil(t, ref.Resolve())
	assert.True(t, ref.IsBroken())

	assert.ErrorIs(t, reg.DeleteProfile("bob"), ErrNoSuchProfile)
}

func TestScope_DefersCommitsToOutermostEnd(t *testing.T) {
	w := new(MockWriter)
	w.On("WriteProfile", mock.Anything).Return(nil)
	mreg := metrics.New()
	reg := newTestRegistry(t, w, WithMetrics(mreg))
	alice, _ := reg.CreateProfile("alice")
	bob, _ := reg.CreateProfile("bob")
	am := alice.AddManager("")
	bm := bob.AddManager("")
	clean, _ := reg.CreateProfile("clean")
	clean.SetTainted(false)

	outer := reg.Begin()
	assert.True(t, outer.Outermost())
	_, err := am.CreatePool("p1", true)
	require.NoError(t, err)

	inner := reg.Begin()
	assert.Equal(t, 1, inner.Depth())
	_, err = am.CreatePool("p2", true)
	require.NoError(t, err)
	_, err = bm.CreatePool("q", true)
	require.NoError(t, err)
	require.NoError(t, inner.End())

	w.AssertNotCalled(t, "WriteProfile", mock.Anything)
	assert.True(t, alice.IsTainted())

	require.NoError(t, outer.End())
	w.AssertNumberOfCalls(t, "WriteProfile", 2)
	w.AssertCalled(t, "WriteProfile", "alice")
	w.AssertCalled(t, "WriteProfile", "bob")
	assert.False(t, alice.IsTainted())
	assert.False(t, reg.InScope())
	assert.Equal(t, float64(1), testutil.ToFloat64(mreg.ScopeFlushes))

	assert.NoError(t, outer.End(), "ending twice is a no-op")
}

func TestScope_OutOfOrderEnd(t *testing.T) {
	reg := NewRegistry()
	outer := reg.Begin()
	inner := reg.Begin()

	assert.ErrorIs(t, outer.End(), ErrScopeOrder)
	require.NoError(t, inner.End())
	require.NoError(t, outer.End())
}

func TestScope_FlushJoinsErrors(t *testing.T) {
	w := new(MockWriter)
	w.On("WriteProfile", "alice").Return(errors.New("alice failed"))
	w.On("WriteProfile", "bob").Return(errors.New("bob failed"))
	reg := newTestRegistry(t, w)
	alice, _ := reg.CreateProfile("alice")
	bob, _ := reg.CreateProfile("bob")

	scope := reg.Begin()
	alice.AddManager("")
	bob.AddManager("")
	err := scope.End()

	assert.ErrorContains(t, err, "alice failed")
	assert.ErrorContains(t, err, "bob failed")
}

type loaderFunc func(r *Registry) error

func (f loaderFunc) LoadProfiles(r *Registry) error { return f(r) }

func TestRegistry_RestoreComesOutClean(t *testing.T) {
	w := new(MockWriter)
	reg := newTestRegistry(t, w)

	err := reg.Restore(loaderFunc(func(r *Registry) error {
		p, err := r.CreateProfile("alice")
		if err != nil {
			return err
		}
		m := p.AddManager("")
		pool := m.AdoptPool("p", true)
		f := pool.CreateFilter("f", []string{"a"})
		f.SetType("folder")
		p.AddConsumer("conn", "").AddReferenceByName("p")
		assert.True(t, r.IsRestoring())
		return nil
	}))
	require.NoError(t, err)

	p, ok := reg.Get("alice")
	require.True(t, ok)
	assert.False(t, p.IsTainted())
	assert.True(t, p.WasRestored())

	pool := p.Manager("").GetPool("p")
	require.NotNil(t, pool)
	assert.True(t, pool.WasRestored())
	assert.False(t, pool.IsTainted())
	assert.False(t, pool.GetFilter("f").IsDirty())
	assert.Same(t, pool, p.Consumer("conn").References()[0].Resolve())

	w.AssertNotCalled(t, "WriteProfile", mock.Anything)
}

func TestRegistry_RestoreError(t *testing.T) {
	reg := NewRegistry()
	err := reg.Restore(loaderFunc(func(r *Registry) error {
		return errors.New("corrupt")
	}))
	assert.ErrorContains(t, err, "corrupt")
	assert.False(t, reg.IsRestoring())
}
