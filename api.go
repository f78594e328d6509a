package pyro

import (
	"os"
	"strings"
)

// ExecFile reads path and executes it as the VM's main module.
func (vm *VM) ExecFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return vm.ExecString(path, src)
}

// Exit requests that the VM stop running at the next opportunity with
// the given status code.
func (vm *VM) Exit(code int) {
	vm.exited = true
	vm.exitCode = code
}

// TestResult is one `$test_*` function's outcome, returned by
// RunTests.
type TestResult struct {
	Name   string
	Passed bool
	Err    error
}

// RunTests invokes every global function whose name starts with
// `$test_`, in definition order, stopping none of them early: a
// panicking test is recorded as failed rather than aborting the run.
func (vm *VM) RunTests() []TestResult {
	var results []TestResult
	for _, name := range vm.globalOrder {
		if !strings.HasPrefix(name, "$test_") {
			continue
		}
		fn := vm.globals[name]
		_, err := vm.CallValue(fn, nil)
		results = append(results, TestResult{Name: name, Passed: err == nil, Err: err})
	}
	return results
}

// TimeResult is one `$time_*` function's measured outcome.
type TimeResult struct {
	Name string
	Err  error
}

// RunTimedFunctions invokes every global function whose name starts
// with `$time_`, in definition order. The
// embedder is responsible for wall-clock measurement around the call
// if it wants timings -- the core has no clock dependency.
func (vm *VM) RunTimedFunctions() []TimeResult {
	var results []TimeResult
	for _, name := range vm.globalOrder {
		if !strings.HasPrefix(name, "$time_") {
			continue
		}
		fn := vm.globals[name]
		_, err := vm.CallValue(fn, nil)
		results = append(results, TimeResult{Name: name, Err: err})
	}
	return results
}

// DefineModuleMember installs a value as a public member of mod, for
// embedders building their own `std::`-style builtin modules.
func DefineModuleMember(heap *Heap, mod *ObjModule, name string, v Value) {
	idx := len(mod.members)
	mod.members = append(mod.members, v)
	mod.allMemberIndexes[name] = idx
	mod.pubMemberIndexes[name] = idx
}

// DefineClassField appends a default-valued field to class, for
// embedders registering native classes.
func DefineClassField(class *ObjClass, name string, defaultValue Value, pub bool) {
	idx := len(class.defaultFieldValues)
	class.defaultFieldValues = append(class.defaultFieldValues, defaultValue)
	class.defaultFieldIsExprFn = append(class.defaultFieldIsExprFn, false)
	class.allFieldIndexes[name] = idx
	if pub {
		class.pubFieldIndexes[name] = idx
	}
}

// DefineClassMethod installs a native method on class.
func DefineClassMethod(heap *Heap, class *ObjClass, name string, arity int, fn NativeFunc, pub bool) {
	method := ObjVal(heap.NewNativeFn(name, arity, fn))
	class.allInstanceMethods[name] = method
	if pub {
		class.pubInstanceMethods[name] = method
	}
	if name == "$init" {
		class.hasInit = true
		class.initMethod = method
	}
}

// FormatPanic renders the last panic in its machine-parsable
// form, or "" if the VM hasn't panicked.
func (vm *VM) FormatPanic() string {
	if vm.lastPanic == nil {
		return ""
	}
	return vm.lastPanic.StackTrace()
}
