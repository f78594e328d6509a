package pyro

import (
	"os"
	"path/filepath"
	"strings"
)

// ModuleLoader resolves a dotted import path to source bytes, letting
// the embedder substitute an in-memory or virtual filesystem for the
// default OS-backed search.
type ModuleLoader interface {
	Load(segs []string) (src []byte, sourceID string, found bool, err error)
}

type defaultModuleLoader struct {
	vm *VM
}

func newDefaultModuleLoader(vm *VM) ModuleLoader { return &defaultModuleLoader{vm: vm} }

// Load implements the multi-candidate filesystem search: for import
// path `a::b::c` it tries, under each import root, `a/b/c.pyro` and
// then the directory form `a/b/c/self.pyro`. The `.so` candidates are
// listed but always skipped.
func (l *defaultModuleLoader) Load(segs []string) (src []byte, sourceID string, found bool, err error) {
	rel := filepath.Join(segs...)
	candidates := []string{
		rel + ".pyro",
		rel + ".so",
		filepath.Join(rel, "self.pyro"),
		filepath.Join(rel, "self.so"),
	}
	roots := l.vm.importRoots
	if len(roots) == 0 {
		roots = []string{"."}
	}
	for _, root := range roots {
		for _, cand := range candidates {
			full := filepath.Join(root, cand)
			if strings.HasSuffix(full, ".so") {
				continue // shared-object modules are out of scope for this embedding
			}
			data, readErr := os.ReadFile(full)
			if readErr == nil {
				return data, full, true, nil
			}
		}
	}
	return nil, "", false, nil
}

// importModule resolves a dotted path to a cached module object,
// compiling and running its file on first import.
func (vm *VM) importModule(segs []string) (*ObjModule, error) {
	key := strings.Join(segs, "::")
	if mod, ok := vm.modules[key]; ok {
		return mod, nil
	}

	if mod, ok := builtinModules[key]; ok {
		built := mod(vm)
		vm.modules[key] = built
		return built, nil
	}

	src, sourceID, found, err := vm.loader.Load(segs)
	if err != nil {
		return nil, &ImportError{Path: key, Message: err.Error()}
	}
	if !found {
		return nil, &ImportError{Path: key, Message: "module not found"}
	}

	fn, cerr := NewCompiler(vm.heap, vm.cfg, sourceID, src).Compile()
	if cerr != nil {
		return nil, cerr
	}
	mod := vm.heap.NewModule(key)
	vm.modules[key] = mod
	closure := vm.heap.NewClosure(fn, mod)
	base := len(vm.stack)
	vm.push(ObjVal(closure))
	if _, err := vm.callClosure(closure, base+1); err != nil {
		delete(vm.modules, key)
		return nil, err
	}
	vm.stack = vm.stack[:base]
	return mod, nil
}

// builtinModules are the `std::*` modules available without any
// filesystem lookup. Each is built lazily and cached
// like any other import.
var builtinModules map[string]func(vm *VM) *ObjModule

func init() {
	builtinModules = map[string]func(vm *VM) *ObjModule{
		"std::math": buildStdMathModule,
		"std::io":   buildStdIOModule,
	}
}

func registerBuiltinModules(vm *VM) {
	// Builtin modules are constructed lazily by importModule; nothing
	// to eagerly register, this hook exists for embedders that want to
	// pre-warm the cache or override entries before first import.
}

func buildStdMathModule(vm *VM) *ObjModule {
	mod := vm.heap.NewModule("std::math")
	add := func(name string, v Value) {
		idx := len(mod.members)
		mod.members = append(mod.members, v)
		mod.allMemberIndexes[name] = idx
		mod.pubMemberIndexes[name] = idx
	}
	add("pi", F64(3.14159265358979323846))
	add("e", F64(2.71828182845904523536))
	add("sqrt", ObjVal(vm.heap.NewNativeFn("sqrt", 1, nativeMathSqrt)))
	add("abs", ObjVal(vm.heap.NewNativeFn("abs", 1, nativeMathAbs)))
	return mod
}

func buildStdIOModule(vm *VM) *ObjModule {
	mod := vm.heap.NewModule("std::io")
	add := func(name string, v Value) {
		idx := len(mod.members)
		mod.members = append(mod.members, v)
		mod.allMemberIndexes[name] = idx
		mod.pubMemberIndexes[name] = idx
	}
	add("print", ObjVal(vm.heap.NewNativeFn("print", 1, nativeIOPrint)))
	return mod
}
