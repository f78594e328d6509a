package pyro

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultModuleLoaderFindsDotPyroUnderImportRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greet.pyro"), []byte(`var $main_greeting = "hi";`), 0o644))

	vm := NewVM(NewConfig())
	vm.SetImportRoots([]string{dir})

	src, sourceID, found, err := vm.loader.Load([]string{"greet"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, sourceID, "greet.pyro")
	assert.Contains(t, string(src), "$main_greeting")
}

func TestDefaultModuleLoaderFindsDirectoryFormSelfPyro(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "self.pyro"), []byte(`var loaded = true;`), 0o644))

	vm := NewVM(NewConfig())
	vm.SetImportRoots([]string{dir})

	_, _, found, err := vm.loader.Load([]string{"pkg"})
	require.NoError(t, err)
	assert.True(t, found)
}

func TestDefaultModuleLoaderNotFound(t *testing.T) {
	vm := NewVM(NewConfig())
	vm.SetImportRoots([]string{t.TempDir()})
	_, _, found, err := vm.loader.Load([]string{"nope"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestImportModuleCachesAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "counter.pyro"), []byte(`var hits = 0;`), 0o644))

	vm := NewVM(NewConfig())
	vm.SetImportRoots([]string{dir})

	m1, err := vm.importModule([]string{"counter"})
	require.NoError(t, err)
	m2, err := vm.importModule([]string{"counter"})
	require.NoError(t, err)
	assert.Same(t, m1, m2, "re-importing the same path must return the cached module")
}

func TestImportModuleNotFoundReturnsImportError(t *testing.T) {
	vm := NewVM(NewConfig())
	vm.SetImportRoots([]string{t.TempDir()})
	_, err := vm.importModule([]string{"missing"})
	require.Error(t, err)
	_, ok := err.(*ImportError)
	assert.True(t, ok)
}

func TestBuiltinStdMathModuleExposesConstantsAndFns(t *testing.T) {
	vm := NewVM(NewConfig())
	mod, err := vm.importModule([]string{"std", "math"})
	require.NoError(t, err)
	idx, ok := mod.allMemberIndexes["pi"]
	require.True(t, ok)
	assert.InDelta(t, 3.14159265358979323846, mod.members[idx].AsF64(), 1e-9)

	sqrtIdx, ok := mod.allMemberIndexes["sqrt"]
	require.True(t, ok)
	fn, ok := mod.members[sqrtIdx].obj.(*ObjNativeFn)
	require.True(t, ok)
	result, err := fn.fn(vm, Null(), []Value{F64(9)})
	require.NoError(t, err)
	assert.Equal(t, 3.0, result.AsF64())
}

func TestBuiltinModuleIsCachedLikeAnyOtherImport(t *testing.T) {
	vm := NewVM(NewConfig())
	m1, err := vm.importModule([]string{"std", "io"})
	require.NoError(t, err)
	m2, err := vm.importModule([]string{"std", "io"})
	require.NoError(t, err)
	assert.Same(t, m1, m2)
}
