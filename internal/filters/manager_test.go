package filters

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/rse/internal/events"
	"grimm.is/rse/internal/metrics"
)

func TestManager_CreatePool(t *testing.T) {
	env := newTestEnv(t)
	profile, m := env.addProfile("alice", Policy{SupportsNested: true, StringsCaseSensitive: true})

	pool, err := m.CreatePool("Builds", true)
	require.NoError(t, err)
	require.NotNil(t, pool)
	assert.True(t, pool.IsDeletable())
	assert.Equal(t, True, pool.StringsCaseSensitive())
	assert.True(t, pool.SupportsNested())
	assert.Equal(t, 1, profile.commits)

	dup, err := m.CreatePool("builds", false)
	assert.NoError(t, err)
	assert.Nil(t, dup)

	_, err = m.CreatePool("a___b", true)
	assert.ErrorIs(t, err, ErrReservedName)

	assert.Equal(t, []string{"Builds"}, m.PoolNames())
	assert.Same(t, pool, m.GetPool("BUILDS"))
}

func TestManager_CommitFailurePropagates(t *testing.T) {
	env := newTestEnv(t)
	profile, m := env.addProfile("alice", Policy{})
	profile.commitErr = errors.New("disk full")

	pool, err := m.CreatePool("p", true)
	assert.ErrorContains(t, err, "disk full")
	assert.NotNil(t, pool)
	assert.True(t, profile.IsTainted(), "failed commit leaves the tree tainted")
}

func TestManager_DirtyPropagatesToProfile(t *testing.T) {
	env := newTestEnv(t)
	profile, m := env.addProfile("alice", Policy{})
	pool, err := m.CreatePool("p", true)
	require.NoError(t, err)
	f, err := m.CreateFilter(pool, "f", nil)
	require.NoError(t, err)
	require.False(t, profile.IsTainted())

	f.SetDirty(true)
	assert.True(t, f.IsTainted())
	assert.True(t, pool.IsTainted())
	assert.True(t, m.IsTainted())
	assert.True(t, profile.IsTainted())
	assert.False(t, pool.IsDirty())

	profile.SetTainted(false)
	assert.False(t, f.IsTainted())
	assert.False(t, f.IsDirty())
	assert.False(t, pool.IsTainted())
	assert.False(t, profile.IsTainted())
}

func TestManager_PolicyCascade(t *testing.T) {
	env := newTestEnv(t)
	_, m := env.addProfile("alice", Policy{})
	p1, _ := m.CreatePool("p1", true)
	p2, _ := m.CreatePool("p2", true)
	f, _ := m.CreateFilter(p1, "f", nil)
	g, _ := m.CreateFilter(p2, "g", nil)

	m.SetSupportsNested(true)
	m.SetStringsCaseSensitive(true)
	m.SetSupportsDuplicateStrings(true)

	for _, p := range []*Pool{p1, p2} {
		assert.True(t, p.SupportsNested())
		assert.True(t, p.EffectiveCaseSensitive())
		assert.True(t, p.SupportsDuplicateStrings())
	}
	for _, flt := range []*Filter{f, g} {
		assert.True(t, flt.SupportsNested())
		assert.Equal(t, True, flt.StringsCaseSensitive())
		assert.True(t, flt.SupportsDuplicateStrings())
	}

	m.SetSingleStringOnly(true)
	assert.True(t, f.EffectiveSingleStringOnly())
}

func TestManager_RenamePoolUpdatesReferences(t *testing.T) {
	env := newTestEnv(t)
	alice, am := env.addProfile("alice", Policy{})
	bob, _ := env.addProfile("bob", Policy{})
	pool, _ := am.CreatePool("builds", true)

	local := env.addConsumer(alice, "conn-a")
	remote := env.addConsumer(bob, "conn-b")
	localRef := local.AddReferenceByName("builds")
	remoteRef := remote.AddReference(pool)
	require.Same(t, pool, localRef.Resolve())

	require.NoError(t, am.RenamePool(pool, "releases"))

	assert.Equal(t, "releases", pool.Name())
	assert.Equal(t, "alice___releases", localRef.ReferenceName())
	assert.Equal(t, "alice___releases", remoteRef.ReferenceName())
	assert.Same(t, pool, localRef.Resolve())
	assert.Same(t, pool, remoteRef.Resolve())

	other, _ := am.CreatePool("other", true)
	assert.ErrorIs(t, am.RenamePool(other, "RELEASES"), ErrDuplicateName)
	assert.ErrorIs(t, am.RenamePool(other, "x___y"), ErrReservedName)

	other.SetNonRenamable(true)
	assert.ErrorIs(t, am.RenamePool(other, "fine"), ErrPoolNotRenamable)
}

func TestManager_CopyPool(t *testing.T) {
	env := newTestEnv(t)
	_, am := env.addProfile("alice", Policy{})
	bob, bm := env.addProfile("bob", Policy{})
	pool, _ := am.CreatePool("builds", true)
	f, _ := am.CreateFilter(pool, "artifacts", []string{"*.tar.gz"})
	f.SetType("folder")

	commitsBefore := bob.commits
	copyPool, err := am.CopyPool(bm, pool, "builds-copy")
	require.NoError(t, err)
	require.NotNil(t, copyPool)

	assert.Same(t, bm, copyPool.Manager())
	assert.Equal(t, "bob___builds-copy", copyPool.ReferenceName())
	assert.Greater(t, bob.commits, commitsBefore)
	require.Equal(t, 1, copyPool.FilterCount())
	assert.Equal(t, []string{"*.tar.gz"}, copyPool.Filters()[0].StringValues())
	assert.Equal(t, "folder", copyPool.Filters()[0].Type())
	assert.NotSame(t, f, copyPool.Filters()[0])

	_, err = bm.CopyPool(am, pool, "x")
	assert.ErrorIs(t, err, ErrNoSuchPool)

	again, err := am.CopyPool(bm, pool, "BUILDS-COPY")
	assert.NoError(t, err)
	assert.Nil(t, again)
}

func TestManager_MovePool(t *testing.T) {
	env := newTestEnv(t)
	alice, am := env.addProfile("alice", Policy{})
	_, bm := env.addProfile("bob", Policy{})
	pool, _ := am.CreatePool("builds", true)
	_, _ = am.CreateFilter(pool, "f", []string{"a"})

	consumer := env.addConsumer(alice, "conn")
	ref := consumer.AddReference(pool)
	moved := env.hub.Subscribe(4, events.EventPoolMoved)

	copyPool, err := am.MovePool(bm, pool, "builds")
	require.NoError(t, err)
	require.NotNil(t, copyPool)

	assert.Nil(t, am.GetPool("builds"))
	assert.Same(t, copyPool, bm.GetPool("builds"))
	assert.Same(t, copyPool, ref.Resolve())
	assert.Equal(t, "bob___builds", ref.ReferenceName())
	assert.Equal(t, []string{"a"}, copyPool.GetFilter("f").StringValues())

	ref.Invalidate()
	assert.Same(t, copyPool, ref.Resolve(), "persisted name resolves to the moved pool")

	select {
	case e := <-moved:
		data := e.Data.(events.PoolData)
		assert.Equal(t, "builds", data.Pool)
		assert.Equal(t, "bob", data.Target)
	default:
		t.Fatal("expected pool.moved event")
	}
}

func TestManager_MovePoolRollsBackOnDeleteFailure(t *testing.T) {
	env := newTestEnv(t)
	reg := metrics.New()
	env.sys = NewSystem(env.profiles, WithEvents(env.hub), WithMetrics(reg))
	alice, am := env.addProfile("alice", Policy{})
	_, bm := env.addProfile("bob", Policy{})

	storage := new(MockStorage)
	alice.storage = storage
	storage.On("DeletePool", "alice", "builds").Return(errors.New("storage locked"))

	pool, _ := am.CreatePool("builds", true)
	f, _ := am.CreateFilter(pool, "f", []string{"a", "b"})
	consumer := env.addConsumer(alice, "conn")
	ref := consumer.AddReference(pool)

	copyPool, err := am.MovePool(bm, pool, "moved")
	assert.Nil(t, copyPool)
	assert.ErrorContains(t, err, "storage locked")

	assert.Same(t, pool, am.GetPool("builds"))
	assert.Same(t, am, pool.Manager())
	assert.Same(t, f, pool.GetFilter("f"))
	assert.Equal(t, []string{"a", "b"}, f.StringValues())
	assert.Nil(t, bm.GetPool("moved"), "no residual copy")
	assert.Empty(t, bm.Pools())
	assert.Same(t, pool, ref.Resolve())
	assert.Equal(t, "alice___builds", ref.ReferenceName())
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.MoveRollbacks))

	storage.AssertExpectations(t)
}

func TestManager_MovePoolRollsBackOnCommitFailure(t *testing.T) {
	env := newTestEnv(t)
	reg := metrics.New()
	env.sys = NewSystem(env.profiles, WithEvents(env.hub), WithMetrics(reg))
	alice, am := env.addProfile("alice", Policy{})
	_, bm := env.addProfile("bob", Policy{})

	// Storage removal succeeds, the commit that follows it fails.
	storage := new(MockStorage)
	alice.storage = storage
	storage.On("DeletePool", "alice", "builds").
		Run(func(mock.Arguments) { alice.commitErr = errors.New("disk full") }).
		Return(nil)

	am.CreatePool("first", true)
	pool, _ := am.CreatePool("builds", true)
	am.CreatePool("last", true)
	f, _ := am.CreateFilter(pool, "f", []string{"a", "b"})
	consumer := env.addConsumer(alice, "conn")
	ref := consumer.AddReference(pool)

	moved, err := am.MovePool(bm, pool, "moved")
	assert.Nil(t, moved)
	assert.ErrorContains(t, err, "disk full")

	assert.Equal(t, []string{"first", "builds", "last"}, am.PoolNames())
	assert.Same(t, pool, am.GetPool("builds"))
	assert.Same(t, am, pool.Manager())
	assert.Same(t, f, pool.GetFilter("f"))
	assert.Equal(t, []string{"a", "b"}, f.StringValues())
	assert.Empty(t, bm.Pools())
	assert.Same(t, ref, consumer.GetReference(pool))
	assert.Same(t, pool, ref.Resolve())
	assert.Equal(t, "alice___builds", ref.ReferenceName())
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.MoveRollbacks))

	storage.AssertExpectations(t)
}

func TestManager_DeletePoolCommitFailureRelinks(t *testing.T) {
	env := newTestEnv(t)
	alice, am := env.addProfile("alice", Policy{})
	bob, _ := env.addProfile("bob", Policy{})
	keep, _ := am.CreatePool("keep", true)
	pool, _ := am.CreatePool("builds", true)

	c1 := env.addConsumer(alice, "c1")
	c2 := env.addConsumer(bob, "c2")
	c1.AddReference(keep)
	r1 := c1.AddReference(pool)
	r2 := c2.AddReferenceByName("alice___builds")

	deleted := env.hub.Subscribe(10, events.EventPoolDeleted)
	defer env.hub.Unsubscribe(deleted)

	alice.commitErr = errors.New("disk full")
	err := am.DeletePool(pool)
	assert.ErrorContains(t, err, "disk full")

	assert.Equal(t, []string{"keep", "builds"}, am.PoolNames())
	assert.Same(t, am, pool.Manager())
	assert.Equal(t, []string{"alice___keep", "alice___builds"}, c1.Names())
	assert.Same(t, r1, c1.GetReference(pool))
	assert.Equal(t, []*PoolReference{r2}, c2.References())
	assert.Same(t, pool, r2.Resolve())
	assert.Equal(t, 0, len(deleted), "no delete event for a failed delete")
	assert.True(t, pool.IsTainted())

	alice.commitErr = nil
	require.NoError(t, am.DeletePool(pool))
	assert.Equal(t, []string{"keep"}, am.PoolNames())
	assert.Equal(t, []string{"alice___keep"}, c1.Names())
	assert.Empty(t, c2.References())
}

func TestManager_DeletePool(t *testing.T) {
	env := newTestEnv(t)
	alice, am := env.addProfile("alice", Policy{})
	bob, _ := env.addProfile("bob", Policy{})
	pool, _ := am.CreatePool("builds", true)
	keep, _ := am.CreatePool("keep", true)

	c1 := env.addConsumer(alice, "c1")
	c2 := env.addConsumer(bob, "c2")
	c1.AddReference(pool)
	c1.AddReference(keep)
	c2.AddReferenceByName("alice___builds")

	require.NoError(t, am.DeletePool(pool))

	assert.Nil(t, am.GetPool("builds"))
	assert.Nil(t, pool.Manager())
	assert.Equal(t, []string{"alice___keep"}, c1.Names())
	assert.Empty(t, c2.References())

	assert.ErrorIs(t, am.DeletePool(pool), ErrNoSuchPool)

	keep.SetDeletable(false)
	assert.ErrorIs(t, am.DeletePool(keep), ErrPoolNotDeletable)
}

func TestManager_DeletePoolStorageFailureLeavesGraph(t *testing.T) {
	env := newTestEnv(t)
	alice, am := env.addProfile("alice", Policy{})
	storage := new(MockStorage)
	alice.storage = storage
	storage.On("DeletePool", mock.Anything, "builds").Return(errors.New("io"))

	pool, _ := am.CreatePool("builds", true)
	consumer := env.addConsumer(alice, "c")
	ref := consumer.AddReference(pool)

	assert.Error(t, am.DeletePool(pool))
	assert.Same(t, pool, am.GetPool("builds"))
	assert.Equal(t, []*PoolReference{ref}, consumer.References())
}

func TestManager_FilterOperations(t *testing.T) {
	env := newTestEnv(t)
	_, m := env.addProfile("alice", Policy{SupportsNested: true})
	pool, _ := m.CreatePool("p", true)
	other, _ := m.CreatePool("q", true)

	f, err := m.CreateFilter(pool, "f", []string{"x"})
	require.NoError(t, err)
	dup, err := m.CreateFilter(pool, "F", nil)
	assert.NoError(t, err)
	assert.Nil(t, dup)

	nested, err := m.CreateNestedFilter(f, "inner", nil)
	require.NoError(t, err)
	require.NotNil(t, nested)

	g, _ := m.CreateFilter(pool, "g", nil)
	assert.ErrorIs(t, m.RenameFilter(g, "F"), ErrDuplicateName)
	require.NoError(t, m.RenameFilter(g, "h"))
	assert.Equal(t, "h", g.Name())

	g.SetNonRenamable(true)
	assert.ErrorIs(t, m.RenameFilter(g, "z"), ErrFilterNotRenamable)

	copied, err := m.CopyFilter(other, f, "f")
	require.NoError(t, err)
	require.NotNil(t, copied)
	assert.Equal(t, []string{"x"}, copied.StringValues())
	assert.Equal(t, 1, copied.FilterCount())

	moved, err := m.MoveFilter(other, g, "g2")
	require.NoError(t, err)
	assert.Nil(t, pool.GetFilter("h"))
	assert.Same(t, moved, other.GetFilter("g2"))

	f.SetNonDeletable(true)
	assert.ErrorIs(t, m.DeleteFilter(f), ErrFilterNotDeletable)
	require.NoError(t, m.DeleteFilter(nested))
	assert.Equal(t, 0, f.FilterCount())
}

func TestManager_MoveFilterRollsBack(t *testing.T) {
	env := newTestEnv(t)
	_, m := env.addProfile("alice", Policy{})
	pool, _ := m.CreatePool("p", true)
	other, _ := m.CreatePool("q", true)
	f, _ := m.CreateFilter(pool, "f", nil)
	f.SetNonDeletable(true)

	moved, err := m.MoveFilter(other, f, "f")
	assert.ErrorIs(t, err, ErrFilterNotDeletable)
	assert.Nil(t, moved)
	assert.Same(t, f, pool.GetFilter("f"))
	assert.Equal(t, 0, other.FilterCount())
}

func TestManager_StringOperations(t *testing.T) {
	env := newTestEnv(t)
	_, m := env.addProfile("alice", Policy{})
	pool, _ := m.CreatePool("p", true)
	f, _ := m.CreateFilter(pool, "f", []string{"a"})

	b, err := m.AddFilterString(f, "b", -1)
	require.NoError(t, err)
	_, err = m.AddFilterString(f, "first", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "a", "b"}, f.StringValues())

	require.NoError(t, m.MoveFilterString(b, 0))
	require.NoError(t, m.UpdateFilterString(b, "B"))
	assert.Equal(t, []string{"B", "first", "a"}, f.StringValues())

	removed, err := m.RemoveFilterString(f, "FIRST")
	require.NoError(t, err)
	assert.Equal(t, "first", removed.Value())

	missing, err := m.RemoveFilterString(f, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	f.SetStringsNonChangeable(true)
	_, err = m.AddFilterString(f, "c", -1)
	assert.ErrorIs(t, err, ErrStringsNotChangeable)

	f.SetStringsNonChangeable(false)
	f.SetNonChangeable(true)
	assert.ErrorIs(t, m.UpdateFilterString(b, "x"), ErrFilterNotChangeable)
}

func TestManager_OrderAndMoveFilters(t *testing.T) {
	env := newTestEnv(t)
	_, m := env.addProfile("alice", Policy{})
	pool, _ := m.CreatePool("p", true)
	for _, name := range []string{"a", "b", "c"} {
		_, err := m.CreateFilter(pool, name, nil)
		require.NoError(t, err)
	}

	require.NoError(t, m.OrderFilters(pool, []string{"c", "b", "a"}))
	assert.Equal(t, []string{"c", "b", "a"}, pool.FilterNames())

	require.NoError(t, m.MoveFilters(pool, []*Filter{pool.GetFilter("a")}, -2))
	assert.Equal(t, []string{"a", "c", "b"}, pool.FilterNames())

	assert.Len(t, m.Filters(), 3)
	assert.ErrorIs(t, m.OrderFilters(detachedPool("x"), nil), ErrNoSuchPool)
}

func TestManager_DefaultPool(t *testing.T) {
	env := newTestEnv(t)
	_, m := env.addProfile("alice", Policy{})
	assert.Nil(t, m.DefaultPool())

	m.CreatePool("a", true)
	b, _ := m.CreatePool("b", false)
	b.SetDefault(true)
	assert.Same(t, b, m.DefaultPool())
}

func TestManager_EventsPublished(t *testing.T) {
	env := newTestEnv(t)
	_, m := env.addProfile("alice", Policy{})
	ch := env.hub.Subscribe(16)

	pool, _ := m.CreatePool("p", true)
	f, _ := m.CreateFilter(pool, "f", nil)
	_ = m.RenameFilter(f, "g")
	_ = m.DeleteFilter(f)
	_ = m.DeletePool(pool)

	var got []events.EventType
	for len(ch) > 0 {
		got = append(got, (<-ch).Type)
	}
	assert.Equal(t, []events.EventType{
		events.EventPoolCreated,
		events.EventFilterCreated,
		events.EventFilterRenamed,
		events.EventFilterDeleted,
		events.EventPoolDeleted,
	}, got)
}
