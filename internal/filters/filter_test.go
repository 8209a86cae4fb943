package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_CreateIsUniqueCaseInsensitive(t *testing.T) {
	pool := detachedPool("hosts")

	first := pool.CreateFilter("Logs", []string{"*.log"})
	require.NotNil(t, first)

	assert.Nil(t, pool.CreateFilter("logs", nil))
	assert.Nil(t, pool.CreateFilter("LOGS", nil))
	assert.Equal(t, 1, pool.FilterCount())

	assert.Same(t, first, pool.GetFilter("lOgS"))
	assert.Nil(t, pool.GetFilter("missing"))
}

func TestFilter_NestedInheritsFromParentFilter(t *testing.T) {
	pool := detachedPool("hosts")
	pool.SetStringsCaseSensitive(false)
	pool.SetSupportsDuplicateStrings(false)

	parent := pool.CreateFilter("parent", nil)
	require.NotNil(t, parent)
	parent.SetSupportsDuplicateStrings(true)
	parent.SetStringsCaseSensitive(True)

	nested := parent.CreateNested("child", []string{"a", "b"})
	require.NotNil(t, nested)

	assert.True(t, nested.SupportsNested())
	assert.True(t, nested.SupportsDuplicateStrings())
	assert.Equal(t, True, nested.StringsCaseSensitive())
	assert.Equal(t, []string{"a", "b"}, nested.StringValues())
	assert.Same(t, pool, nested.Pool())
	assert.Same(t, parent, nested.ParentFilter())
	assert.True(t, nested.IsNested())
	assert.Equal(t, "hosts/parent/child", nested.FullName())

	assert.Nil(t, parent.CreateNested("CHILD", nil), "sibling names are unique")

	// The eager pool cascade reaches top-level filters only.
	pool.SetSupportsDuplicateStrings(false)
	assert.False(t, parent.SupportsDuplicateStrings())
	assert.True(t, nested.SupportsDuplicateStrings())
}

func TestFilter_EffectiveCaseSensitiveDefers(t *testing.T) {
	pool := detachedPool("hosts")
	f := pool.CreateFilter("f", nil)
	require.NotNil(t, f)

	f.SetStringsCaseSensitive(Unset)
	assert.False(t, f.EffectiveCaseSensitive())

	pool.stringsCaseSensitive = True
	assert.True(t, f.EffectiveCaseSensitive())

	f.SetStringsCaseSensitive(False)
	assert.False(t, f.EffectiveCaseSensitive())

	nested := f.CreateNested("n", nil)
	nested.SetStringsCaseSensitive(Unset)
	assert.False(t, nested.EffectiveCaseSensitive(), "nested defers to its parent filter")
}

func TestFilter_EffectiveSingleStringOnly(t *testing.T) {
	pool := detachedPool("hosts")
	f := pool.CreateFilter("f", nil)

	assert.False(t, f.EffectiveSingleStringOnly())
	pool.SetSingleStringOnly(True)
	assert.True(t, f.EffectiveSingleStringOnly())
	f.SetSingleStringOnly(False)
	assert.False(t, f.EffectiveSingleStringOnly())
}

func TestFilter_StringOperations(t *testing.T) {
	pool := detachedPool("hosts")
	f := pool.CreateFilter("f", []string{"a", "b"})

	c := f.InsertString("c", 99)
	assert.Equal(t, []string{"a", "b", "c"}, f.StringValues())

	f.InsertString("z", -5)
	assert.Equal(t, []string{"z", "a", "b", "c"}, f.StringValues())

	assert.True(t, f.MoveString(1, c))
	assert.Equal(t, []string{"z", "c", "a", "b"}, f.StringValues())

	removed := f.RemoveString("A")
	require.NotNil(t, removed)
	assert.Equal(t, "a", removed.Value())
	assert.Equal(t, []string{"z", "c", "b"}, f.StringValues())

	assert.NotNil(t, f.RemoveStringAt(0))
	assert.Nil(t, f.RemoveStringAt(10))
	assert.True(t, f.RemoveFilterString(c))
	assert.False(t, f.RemoveFilterString(c))
	assert.Equal(t, []string{"b"}, f.StringValues())

	f.SetStrings([]string{"x", "y"})
	assert.Equal(t, 2, f.StringCount())
}

func TestFilter_StringsArePermissive(t *testing.T) {
	pool := detachedPool("hosts")
	f := pool.CreateFilter("f", nil)
	f.SetSupportsDuplicateStrings(false)
	f.SetSingleStringOnly(True)

	f.AddString("dup")
	f.AddString("dup")
	assert.Equal(t, 2, f.StringCount())

	assert.ErrorIs(t, CheckStringPolicy(f, "other"), ErrSingleStringOnly)
	f.SetSingleStringOnly(False)
	assert.ErrorIs(t, CheckStringPolicy(f, "DUP"), ErrDuplicateString)
	assert.NoError(t, CheckStringPolicy(f, "other"))
}

func TestFilter_LookupStringHonorsCase(t *testing.T) {
	pool := detachedPool("hosts")
	f := pool.CreateFilter("f", []string{"Readme.md"})

	f.SetStringsCaseSensitive(False)
	assert.NotNil(t, f.LookupString("README.MD"))

	f.SetStringsCaseSensitive(True)
	assert.Nil(t, f.LookupString("README.MD"))
	assert.NotNil(t, f.LookupString("Readme.md"))
}

func TestFilter_Matches(t *testing.T) {
	pool := detachedPool("hosts")
	f := pool.CreateFilter("sources", []string{"*.go", "Makefile"})
	nested := f.CreateNested("docs", []string{"*.md"})
	require.NotNil(t, nested)

	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"glob", "main.go", true},
		{"literal", "Makefile", true},
		{"case folded", "MAKEFILE", true},
		{"nested", "README.md", true},
		{"no match", "main.c", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Matches(tt.candidate))
		})
	}

	f.SetStringsCaseSensitive(True)
	assert.False(t, f.Matches("MAKEFILE"))
}

func TestFilterString_MatchesFollowsValue(t *testing.T) {
	pool := detachedPool("hosts")
	f := pool.CreateFilter("sources", nil)
	fs := f.AddString("*.go")

	assert.True(t, f.Matches("main.go"))
	assert.True(t, f.Matches("MAIN.GO"))

	fs.SetValue("*.md")
	assert.False(t, f.Matches("main.go"))
	assert.True(t, f.Matches("README.md"))

	f.SetStringsCaseSensitive(True)
	assert.False(t, f.Matches("README.MD"))
	assert.True(t, f.Matches("README.md"))
}

func TestFilter_CloneInto(t *testing.T) {
	pool := detachedPool("hosts")
	src := pool.CreateFilter("src", []string{"a", "b"})
	src.SetType("folder")
	src.SetPromptable(true)
	src.SetNonRenamable(true)
	src.SetSingleStringOnly(False)
	src.Strings()[1].SetType("regex")
	nested := src.CreateNested("inner", []string{"c"})
	require.NotNil(t, nested)

	dst := pool.CreateFilter("dst", nil)
	src.CloneInto(dst)

	assert.Equal(t, "dst", dst.Name())
	assert.Equal(t, "folder", dst.Type())
	assert.True(t, dst.IsPromptable())
	assert.True(t, dst.IsNonRenamable())
	assert.Equal(t, False, dst.SingleStringOnly())
	assert.Equal(t, []string{"a", "b"}, dst.StringValues())
	assert.Equal(t, "regex", dst.Strings()[1].Type())
	assert.Equal(t, DefaultStringType, dst.Strings()[0].Type())
	assert.NotSame(t, src.Strings()[0], dst.Strings()[0])
	assert.Same(t, dst, dst.Strings()[0].Filter())

	require.Equal(t, 1, dst.FilterCount())
	inner := dst.GetFilter("inner")
	require.NotNil(t, inner)
	assert.NotSame(t, nested, inner)
	assert.Equal(t, []string{"c"}, inner.StringValues())
	assert.Same(t, dst, inner.ParentFilter())
}

func TestFilter_SetParentPoolCascades(t *testing.T) {
	a := detachedPool("a")
	b := detachedPool("b")
	f := a.CreateFilter("f", nil)
	nested := f.CreateNested("n", nil)
	deep := nested.CreateNested("d", nil)

	require.True(t, a.DeleteFilter(f))
	assert.Nil(t, deep.Pool())

	require.True(t, b.AdoptFilter(f))
	assert.Same(t, b, f.Pool())
	assert.Same(t, b, nested.Pool())
	assert.Same(t, b, deep.Pool())
}

func TestFilter_MutationsMarkDirty(t *testing.T) {
	pool := detachedPool("hosts")
	f := pool.CreateFilter("f", nil)

	mutations := map[string]func(){
		"name":    func() { f.SetName("g") },
		"type":    func() { f.SetType("t") },
		"add":     func() { f.AddString("x") },
		"flag":    func() { f.SetNonDeletable(true) },
		"case":    func() { f.SetStringsCaseSensitive(True) },
		"replace": func() { f.SetStrings([]string{"y"}) },
		"nesting": func() { f.SetSupportsNested(true) },
		"prompt":  func() { f.SetPromptable(true) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			f.SetTainted(false)
			require.False(t, f.IsDirty())
			mutate()
			assert.True(t, f.IsDirty())
			assert.True(t, f.IsTainted())
			assert.True(t, pool.IsTainted())
		})
	}
}

func TestFilter_RestoreSuppressesDirty(t *testing.T) {
	pool := detachedPool("hosts")
	f := pool.CreateFilter("f", nil)
	pool.SetTainted(false)

	f.BeginRestore()
	f.SetName("restored")
	f.AddString("x")
	f.EndRestore()

	assert.False(t, f.IsDirty())
	assert.False(t, pool.IsTainted())
	assert.True(t, f.WasRestored())
}
