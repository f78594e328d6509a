package pyro

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecFileReadsAndRunsSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.pyro")
	require.NoError(t, os.WriteFile(path, []byte(`var x = 40 + 2;`), 0o644))

	vm := NewVM(NewConfig())
	require.NoError(t, vm.ExecFile(path))
	assert.Equal(t, int64(42), vm.globals["x"].AsI64())
}

func TestExecFileMissingFileReturnsError(t *testing.T) {
	vm := NewVM(NewConfig())
	err := vm.ExecFile(filepath.Join(t.TempDir(), "missing.pyro"))
	assert.Error(t, err)
}

func TestRunMainInvokesDollarMainGlobal(t *testing.T) {
	vm := NewVM(NewConfig())
	require.NoError(t, vm.ExecString("test", []byte(`
		var ran = false;
		def $main() {
			ran = true;
		}
	`)))
	require.NoError(t, vm.RunMain())
	assert.True(t, vm.globals["ran"].AsBool())
}

func TestRunTestsCollectsDollarTestPrefixedFunctions(t *testing.T) {
	vm := NewVM(NewConfig())
	require.NoError(t, vm.ExecString("test", []byte(`
		def $test_pass() {
			assert true;
		}
		def $test_fail() {
			assert false;
		}
	`)))
	results := vm.RunTests()
	require.Len(t, results, 2)
	byName := map[string]TestResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.True(t, byName["$test_pass"].Passed)
	assert.False(t, byName["$test_fail"].Passed)
	assert.Error(t, byName["$test_fail"].Err)
}

func TestRunTestsDoesNotStopOnFailingTest(t *testing.T) {
	vm := NewVM(NewConfig())
	require.NoError(t, vm.ExecString("test", []byte(`
		def $test_a() {
			assert false;
		}
		def $test_b() {
			assert true;
		}
	`)))
	results := vm.RunTests()
	require.Len(t, results, 2, "a panicking test must not abort the remaining test run")
}

func TestDefineGlobalAndDefineNativeFn(t *testing.T) {
	vm := NewVM(NewConfig())
	vm.DefineGlobal("answer", I64(42))
	vm.DefineNativeFn("double", 1, func(vm *VM, recv Value, args []Value) (Value, error) {
		return I64(args[0].AsI64() * 2), nil
	})
	require.NoError(t, vm.ExecString("test", []byte(`
		var a = answer;
		var d = double(21);
	`)))
	assert.Equal(t, int64(42), vm.globals["a"].AsI64())
	assert.Equal(t, int64(42), vm.globals["d"].AsI64())
}

func TestFormatPanicEmptyBeforeAnyPanic(t *testing.T) {
	vm := NewVM(NewConfig())
	assert.Equal(t, "", vm.FormatPanic())
}

func TestFormatPanicAfterUncaughtPanic(t *testing.T) {
	vm := NewVM(NewConfig())
	err := vm.ExecString("test", []byte(`var x = 1 / 0;`))
	require.Error(t, err)
	assert.True(t, vm.HasPanicked())
	assert.Contains(t, vm.FormatPanic(), "division by zero")
}

func TestDefineClassFieldAndMethodForEmbeddedNativeClass(t *testing.T) {
	vm := NewVM(NewConfig())
	class := vm.heap.NewClass("Point")
	DefineClassField(class, "x", I64(0), true)
	DefineClassMethod(vm.heap, class, "$init", 1, func(vm *VM, recv Value, args []Value) (Value, error) {
		if err := vm.setField(recv, "x", args[0]); err != nil {
			return Value{}, err
		}
		return Null(), nil
	}, true)
	vm.DefineGlobal("Point", ObjVal(class))

	require.NoError(t, vm.ExecString("test", []byte(`
		var p = Point(5);
	`)))
	inst, ok := vm.globals["p"].obj.(*ObjInstance)
	require.True(t, ok)
	assert.Equal(t, int64(5), inst.fields[class.allFieldIndexes["x"]].AsI64())
}
