package pyro

import "fmt"

// callFrame is one active call's bookkeeping: which closure is
// running, its instruction pointer, and where its locals begin in the
// shared value stack.
type callFrame struct {
	closure   *ObjClosure
	ip        int
	slotsBase int
}

// withEntry is one active with-block: the resource value plus an
// `exited` flag that END_WITH checks before calling `$exit`. Nothing
// sets the flag, and neither a panic nor an early return unwinds the
// with-stack: `$exit` runs only when END_WITH itself is reached.
type withEntry struct {
	value  Value
	exited bool
}

// VM is one independent Pyro virtual machine instance: its own heap,
// globals, module cache and stacks, embeddable multiple times in the
// same process.
type VM struct {
	heap   *Heap
	cfg    *Config
	tracer Tracer

	stack        []Value
	frames       []callFrame
	withStack    []withEntry
	openUpvalues *ObjUpvalue

	globals     map[string]Value
	globalOrder []string
	modules     map[string]*ObjModule
	mainModule  *ObjModule

	importRoots []string
	args        []string

	exited    bool
	exitCode  int
	panicked  bool
	lastPanic *Panic

	tryStack []tryMarker

	loader ModuleLoader
}

// tryMarker is one active `try`-expression's restore point: the call
// depth it was entered at (so a panic is only caught by the try whose
// frame is still on top) and the stack height to unwind back to.
type tryMarker struct {
	frameDepth int
	stackDepth int
}

func NewVM(cfg *Config) *VM {
	if cfg == nil {
		cfg = NewConfig()
	}
	vm := &VM{
		heap:    NewHeap(cfg),
		cfg:     cfg,
		tracer:  noopTracer{},
		globals: map[string]Value{},
		modules: map[string]*ObjModule{},
		stack:   make([]Value, 0, cfg.GetInt("vm.initial_value_stack_size")),
	}
	vm.heap.SetTracer(vm.tracer)
	vm.loader = newDefaultModuleLoader(vm)
	registerBuiltinModules(vm)
	return vm
}

func (vm *VM) SetTracer(t Tracer) {
	vm.tracer = t
	if t == nil {
		vm.tracer = noopTracer{}
	}
	vm.heap.SetTracer(vm.tracer)
}

func (vm *VM) Heap() *Heap { return vm.heap }

func (vm *VM) SetArgs(args []string)         { vm.args = args }
func (vm *VM) SetImportRoots(roots []string) { vm.importRoots = roots }

func (vm *VM) HasExited() bool   { return vm.exited }
func (vm *VM) ExitCode() int     { return vm.exitCode }
func (vm *VM) HasPanicked() bool { return vm.panicked }
func (vm *VM) LastPanic() *Panic { return vm.lastPanic }

// DefineGlobal installs a value in the VM's global namespace, the
// embedding API's "define globals" entry point.
func (vm *VM) DefineGlobal(name string, v Value) {
	if _, exists := vm.globals[name]; !exists {
		vm.globalOrder = append(vm.globalOrder, name)
	}
	vm.globals[name] = v
}

func (vm *VM) DefineNativeFn(name string, arity int, fn NativeFunc) {
	vm.DefineGlobal(name, ObjVal(vm.heap.NewNativeFn(name, arity, fn)))
}

// GCRoots implements RootProvider: value stack, frame closures,
// with-stack resources, the open-upvalue list, globals and the module
// cache.
func (vm *VM) GCRoots(mark func(Value)) {
	for _, v := range vm.stack {
		mark(v)
	}
	for _, f := range vm.frames {
		mark(ObjVal(f.closure))
	}
	for _, w := range vm.withStack {
		mark(w.value)
	}
	for uv := vm.openUpvalues; uv != nil; uv = uv.next {
		mark(ObjVal(uv))
	}
	for _, v := range vm.globals {
		mark(v)
	}
	for _, m := range vm.modules {
		mark(ObjVal(m))
	}
}

// push grows the value stack. A plain append can relocate the
// backing array, which would leave every open upvalue's location
// pointer dangling; when growth is imminent we grow by hand first and
// repoint open upvalues at the new array.
func (vm *VM) push(v Value) {
	if len(vm.stack) == cap(vm.stack) {
		old := vm.stack
		grown := make([]Value, len(old), growCapacity(cap(old)))
		copy(grown, old)
		for uv := vm.openUpvalues; uv != nil; uv = uv.next {
			if idx := stackIndexOf(old, uv.location); idx >= 0 {
				uv.location = &grown[idx]
			}
		}
		vm.stack = grown
	}
	vm.stack = append(vm.stack, v)
}
func (vm *VM) pop() Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}
func (vm *VM) peek(distFromTop int) Value { return vm.stack[len(vm.stack)-1-distFromTop] }

// ExecString compiles and runs src as the VM's main module.
func (vm *VM) ExecString(sourceID string, src []byte) error {
	fn, err := NewCompiler(vm.heap, vm.cfg, sourceID, src).Compile()
	if err != nil {
		return err
	}
	mod := vm.heap.NewModule(sourceID)
	vm.mainModule = mod
	closure := vm.heap.NewClosure(fn, mod)
	base := len(vm.stack)
	vm.push(ObjVal(closure))
	_, err = vm.callClosure(closure, base+1)
	return err
}

// RunMain invokes the `$main` function defined by the last executed
// module, if any.
func (vm *VM) RunMain() error {
	fn, ok := vm.globals["$main"]
	if !ok {
		return nil
	}
	_, err := vm.CallValue(fn, nil)
	return err
}

// CallValue invokes an arbitrary callable (closure, native fn, bound
// method, or class) with args, the embedding-API primitive every
// `run $main`/`run $test_*`/`run $time_*` helper builds on.
func (vm *VM) CallValue(callee Value, args []Value) (Value, error) {
	base := len(vm.stack)
	vm.push(callee)
	for _, a := range args {
		vm.push(a)
	}
	return vm.invoke(callee, base, len(args))
}

func (vm *VM) invoke(callee Value, calleeIdx int, argCount int) (Value, error) {
	if callee.kind != KindObj {
		return Value{}, vm.runtimeError(PanicTypeError, fmt.Sprintf("'%s' is not callable", callee.TypeName()))
	}
	switch fn := callee.obj.(type) {
	case *ObjClosure:
		frameBase := calleeIdx + 1
		if err := vm.bindArgs(fn, frameBase, argCount); err != nil {
			vm.stack = vm.stack[:calleeIdx]
			return Value{}, err
		}
		result, err := vm.callClosure(fn, frameBase)
		vm.stack = vm.stack[:calleeIdx]
		if err != nil {
			return Value{}, err
		}
		vm.push(result)
		return result, nil
	case *ObjNativeFn:
		args := append([]Value(nil), vm.stack[calleeIdx+1:calleeIdx+1+argCount]...)
		result, err := fn.fn(vm, Null(), args)
		vm.stack = vm.stack[:calleeIdx]
		if err != nil {
			return Value{}, err
		}
		vm.push(result)
		return result, nil
	case *ObjClass:
		inst := vm.heap.NewInstance(fn)
		if fn.hasInit {
			args := append([]Value(nil), vm.stack[calleeIdx+1:calleeIdx+1+argCount]...)
			if _, err := vm.callMethodValue(fn.initMethod, ObjVal(inst), args); err != nil {
				return Value{}, err
			}
		}
		vm.stack = vm.stack[:calleeIdx]
		vm.push(ObjVal(inst))
		return ObjVal(inst), nil
	case *ObjBoundMethod:
		args := append([]Value(nil), vm.stack[calleeIdx+1:calleeIdx+1+argCount]...)
		result, err := vm.callMethodValue(fn.method, fn.receiver, args)
		vm.stack = vm.stack[:calleeIdx]
		if err != nil {
			return Value{}, err
		}
		vm.push(result)
		return result, nil
	default:
		return Value{}, vm.runtimeError(PanicTypeError, fmt.Sprintf("'%s' is not callable", callee.TypeName()))
	}
}

// methodFor resolves the callee of a CALL_METHOD/CALL_PUB_METHOD
// instruction (and their _WITH_UNPACK variants): a private call
// (OpCallMethod) sees fields and methods alike, a public call
// (OpCallPubMethod) is restricted to getPubField's pub-only view.
func (vm *VM) methodFor(op Opcode, recv Value, name string) (Value, error) {
	if op == OpCallPubMethod || op == OpCallPubMethodWithUnpack {
		return vm.getPubField(recv, name)
	}
	return vm.getField(recv, name)
}

func (vm *VM) superMethodFor(recv Value, name string) (Value, error) {
	inst, ok := recv.obj.(*ObjInstance)
	if !ok || inst.class == nil || inst.class.superclass == nil {
		return Value{}, vm.runtimeError(PanicError, "no superclass method '"+name+"'")
	}
	method, ok := inst.class.superclass.allInstanceMethods[name]
	if !ok {
		return Value{}, vm.runtimeError(PanicNameError, "no superclass method '"+name+"'")
	}
	return method, nil
}

func (vm *VM) callMethodValue(method Value, receiver Value, args []Value) (Value, error) {
	if method.kind != KindObj {
		return Value{}, vm.runtimeError(PanicTypeError, "method is not callable")
	}
	switch fn := method.obj.(type) {
	case *ObjClosure:
		base := len(vm.stack)
		vm.push(receiver)
		for _, a := range args {
			vm.push(a)
		}
		if err := vm.bindArgs(fn, base+1, len(args)); err != nil {
			vm.stack = vm.stack[:base]
			return Value{}, err
		}
		result, err := vm.callClosure(fn, base)
		vm.stack = vm.stack[:base]
		return result, err
	case *ObjNativeFn:
		return fn.fn(vm, receiver, args)
	case *ObjBoundMethod:
		return vm.callMethodValue(fn.method, fn.receiver, args)
	default:
		return Value{}, vm.runtimeError(PanicTypeError, "method is not callable")
	}
}

// bindArgs adjusts the value stack so that cl's declared parameters
// occupy exactly cl.fn.arity slots starting at paramsBase (plus one
// trailing tuple slot if cl.fn is variadic), given that `have` actual
// argument values are already sitting there. Missing trailing
// arguments are filled by evaluating cl.defaults (aligned to the
// tail of the parameter list); surplus arguments on a variadic
// function are packed into a tuple bound to its rest parameter.
// Any other arity mismatch panics.
func (vm *VM) bindArgs(cl *ObjClosure, paramsBase, have int) error {
	fn := cl.fn
	if have < fn.arity {
		if err := vm.fillDefaults(cl, have); err != nil {
			return err
		}
		have = fn.arity
	}
	if fn.isVariadic {
		rest := append([]Value(nil), vm.stack[paramsBase+fn.arity:paramsBase+have]...)
		vm.stack = vm.stack[:paramsBase+fn.arity]
		vm.push(ObjVal(vm.heap.NewTuple(rest)))
		return nil
	}
	if have > fn.arity {
		return vm.runtimeError(PanicArgsError, fmt.Sprintf("expected %d argument(s), got %d", fn.arity, have))
	}
	return nil
}

// fillDefaults evaluates cl.defaults for every parameter missing past
// `have`, each a zero-argument closure compiled from the parameter's
// default-value expression. CallValue leaves its result sitting on
// top of the stack, so no separate push is needed here.
func (vm *VM) fillDefaults(cl *ObjClosure, have int) error {
	fn := cl.fn
	missing := fn.arity - have
	if missing > len(cl.defaults) {
		return vm.runtimeError(PanicArgsError, fmt.Sprintf("expected %d argument(s), got %d", fn.arity, have))
	}
	start := len(cl.defaults) - missing
	for i := start; i < len(cl.defaults); i++ {
		if _, err := vm.CallValue(cl.defaults[i], nil); err != nil {
			return err
		}
	}
	return nil
}

// callClosure runs one closure's bytecode as a nested invocation of
// the dispatch loop.
func (vm *VM) callClosure(closure *ObjClosure, frameBase int) (Value, error) {
	if len(vm.frames) >= vm.cfg.GetInt("vm.max_call_frames") {
		return Value{}, vm.runtimeError(PanicError, "call stack overflow")
	}
	frame := callFrame{closure: closure, slotsBase: frameBase}
	vm.frames = append(vm.frames, frame)
	result, err := vm.run()
	vm.frames = vm.frames[:len(vm.frames)-1]
	return result, err
}

func (vm *VM) curFrame() *callFrame { return &vm.frames[len(vm.frames)-1] }

func (vm *VM) readByte() byte {
	f := vm.curFrame()
	b := f.closure.fn.code[f.ip]
	f.ip++
	return b
}

func (vm *VM) readU16() uint16 {
	hi := vm.readByte()
	lo := vm.readByte()
	return uint16(hi)<<8 | uint16(lo)
}

func (vm *VM) readConstant() Value {
	idx := vm.readU16()
	return vm.curFrame().closure.fn.constants[idx]
}

func (vm *VM) runtimeError(kind PanicKind, msg string) error {
	frames := make([]string, 0, len(vm.frames))
	for i := len(vm.frames) - 1; i >= 0; i-- {
		frames = append(frames, vm.frames[i].closure.fn.name)
	}
	line := 0
	srcID := ""
	if len(vm.frames) > 0 {
		f := vm.curFrame()
		line = f.closure.fn.lineFor(f.ip)
		srcID = f.closure.fn.sourceID
	}
	p := &Panic{Kind: kind, Message: msg, Pos: Pos{SourceID: srcID, Line: line}, Frames: frames}
	vm.panicked = true
	vm.lastPanic = p
	vm.tracer.Panic(p)
	return p
}

// run is the main instruction-dispatch loop for the topmost call
// frame. It polls the GC at the top of every iteration. Errors
// from step are first offered to the active try marker, if any belongs
// to this frame; only an uncaught error unwinds past this call.
func (vm *VM) run() (Value, error) {
	frameDepth := len(vm.frames)
	for {
		vm.heap.MaybeCollect(vm)

		value, done, err := vm.step()
		if err != nil {
			if caught, ok := vm.catchError(err, frameDepth); ok {
				vm.push(caught)
				continue
			}
			return Value{}, err
		}
		if done {
			return value, nil
		}
	}
}

// catchError unwinds the active try marker if it belongs to frameDepth,
// restoring the stack to the point TRY was executed and converting the
// panic into an Err value rather than propagating it further. It
// deliberately leaves the marker itself on tryStack: execution resumes
// right at the OpEndTry that closes this try, and that instruction is
// what pops it -- the same way it would on the non-error path. Popping
// it here instead would, for two trys nested in one frame, remove the
// wrong (still-open, outer) marker once the inner OpEndTry runs.
func (vm *VM) catchError(err error, frameDepth int) (Value, bool) {
	if len(vm.tryStack) == 0 {
		return Value{}, false
	}
	tm := vm.tryStack[len(vm.tryStack)-1]
	if tm.frameDepth != frameDepth {
		return Value{}, false
	}
	vm.stack = vm.stack[:tm.stackDepth]
	vm.panicked = false
	f := vm.curFrame()
	code := f.closure.fn.code
	for depth := 0; f.ip < len(code); {
		next := Opcode(code[f.ip])
		if next == OpEndTry {
			if depth == 0 {
				break
			}
			depth--
		} else if next == OpTry {
			depth++
		}
		f.ip += 1 + next.OperandBytes()
	}
	msg := err.Error()
	if p, ok := err.(*Panic); ok {
		msg = p.Message
	}
	return ObjVal(vm.heap.NewErr(vm.heap.NewString(msg))), true
}

// step executes a single instruction of the topmost call frame. It
// returns (result, true, nil) on RETURN, (_, false, nil) after an
// ordinary instruction, or (_, false, err) on panic.
func (vm *VM) step() (Value, bool, error) {
	frame := vm.curFrame()
	closure := frame.closure

	op := Opcode(vm.readByte())

	switch op {
	case OpLoadConstant:
		vm.push(vm.readConstant())
	case OpLoadNull:
		vm.push(Null())
	case OpLoadTrue:
		vm.push(Bool(true))
	case OpLoadFalse:
		vm.push(Bool(false))
	case OpLoadI64:
		var v uint64
		for i := 0; i < 8; i++ {
			v = v<<8 | uint64(vm.readByte())
		}
		vm.push(I64(int64(v)))
	case OpPop:
		vm.pop()
	case OpDup:
		vm.push(vm.peek(0))
	case OpDup2:
		a, b := vm.peek(1), vm.peek(0)
		vm.push(a)
		vm.push(b)

	case OpGetLocal:
		slot := vm.readU16()
		vm.push(vm.stack[frame.slotsBase+int(slot)])
	case OpSetLocal:
		slot := vm.readU16()
		vm.stack[frame.slotsBase+int(slot)] = vm.peek(0)
	case OpGetUpvalue:
		slot := vm.readU16()
		vm.push(closure.upvalues[slot].get())
	case OpSetUpvalue:
		slot := vm.readU16()
		closure.upvalues[slot].set(vm.peek(0))
	case OpCloseUpvalue:
		vm.closeUpvalues(len(vm.stack) - 1)
		vm.pop()

	case OpGetGlobal:
		name := vm.readConstant().obj.(*ObjString)
		v, ok := vm.globals[string(name.bytes)]
		if !ok {
			return Value{}, false, vm.runtimeError(PanicNameError, "undefined name '"+string(name.bytes)+"'")
		}
		vm.push(v)
	case OpSetGlobal:
		name := vm.readConstant().obj.(*ObjString)
		vm.globals[string(name.bytes)] = vm.peek(0)
	case OpDefinePubGlobal, OpDefinePriGlobal:
		name := vm.readConstant().obj.(*ObjString)
		vm.DefineGlobal(string(name.bytes), vm.pop())

	case OpGetIndex:
		idx := vm.pop()
		recv := vm.pop()
		v, err := vm.getIndex(recv, idx)
		if err != nil {
			return Value{}, false, err
		}
		vm.push(v)
	case OpSetIndex:
		val := vm.pop()
		idx := vm.pop()
		recv := vm.pop()
		if err := vm.setIndex(recv, idx, val); err != nil {
			return Value{}, false, err
		}
		vm.push(val)

	case OpGetField, OpGetMember, OpGetMethod:
		name := vm.readConstant().obj.(*ObjString)
		recv := vm.pop()
		v, err := vm.getField(recv, string(name.bytes))
		if err != nil {
			return Value{}, false, err
		}
		vm.push(v)
	case OpSetField:
		name := vm.readConstant().obj.(*ObjString)
		val := vm.pop()
		recv := vm.pop()
		if err := vm.setField(recv, string(name.bytes), val); err != nil {
			return Value{}, false, err
		}
		vm.push(val)
	case OpGetPubField, OpGetPubMethod:
		name := vm.readConstant().obj.(*ObjString)
		recv := vm.pop()
		v, err := vm.getPubField(recv, string(name.bytes))
		if err != nil {
			return Value{}, false, err
		}
		vm.push(v)
	case OpSetPubField:
		name := vm.readConstant().obj.(*ObjString)
		val := vm.pop()
		recv := vm.pop()
		if err := vm.setPubField(recv, string(name.bytes), val); err != nil {
			return Value{}, false, err
		}
		vm.push(val)

	case OpDefinePubField, OpDefinePriField, OpDefineStaticField:
		name := vm.readConstant().obj.(*ObjString)
		val := vm.pop()
		class := vm.peek(0).obj.(*ObjClass)
		vm.defineField(class, string(name.bytes), val, op)
	case OpDefinePubMethod, OpDefinePriMethod, OpDefineStaticMethod:
		name := vm.readConstant().obj.(*ObjString)
		method := vm.pop()
		class := vm.peek(0).obj.(*ObjClass)
		vm.defineMethod(class, string(name.bytes), method, op)

	case OpMakeClass:
		name := vm.readConstant().obj.(*ObjString)
		vm.push(ObjVal(vm.heap.NewClass(string(name.bytes))))
	case OpMakeEnum:
		name := vm.readConstant().obj.(*ObjString)
		vm.push(ObjVal(vm.heap.NewEnumType(string(name.bytes))))
	case OpAddEnumMember:
		name := vm.readConstant().obj.(*ObjString)
		et := vm.peek(0).obj.(*ObjEnumType)
		member := vm.heap.NewEnumMember(et, string(name.bytes))
		et.members[string(name.bytes)] = member
		et.order = append(et.order, string(name.bytes))
	case OpInherit:
		super := vm.pop()
		sub := vm.peek(0).obj.(*ObjClass)
		sc, ok := super.obj.(*ObjClass)
		if !ok {
			return Value{}, false, vm.runtimeError(PanicTypeError, "superclass must be a class")
		}
		copyDownInherit(sub, sc)

	case OpMakeVec:
		count := int(vm.readU16())
		items := append([]Value(nil), vm.stack[len(vm.stack)-count:]...)
		vm.stack = vm.stack[:len(vm.stack)-count]
		vm.push(ObjVal(vm.heap.NewVec(items)))
	case OpMakeTup:
		count := int(vm.readU16())
		items := append([]Value(nil), vm.stack[len(vm.stack)-count:]...)
		vm.stack = vm.stack[:len(vm.stack)-count]
		vm.push(ObjVal(vm.heap.NewTuple(items)))
	case OpMakeMap:
		count := int(vm.readU16())
		m := vm.heap.NewMap(false)
		start := len(vm.stack) - count*2
		for i := start; i < len(vm.stack); i += 2 {
			m.Set(vm.stack[i], vm.stack[i+1])
		}
		vm.stack = vm.stack[:start]
		vm.push(ObjVal(m))
	case OpMakeSet:
		count := int(vm.readU16())
		m := vm.heap.NewMap(true)
		start := len(vm.stack) - count
		for i := start; i < len(vm.stack); i++ {
			m.Set(vm.stack[i], Bool(true))
		}
		vm.stack = vm.stack[:start]
		vm.push(ObjVal(m))

	case OpMakeClosure:
		fn := vm.readConstant().obj.(*ObjFn)
		var mod *ObjModule
		if len(vm.frames) > 0 {
			mod = frame.closure.module
		}
		cl := vm.heap.NewClosure(fn, mod)
		for i := range cl.upvalues {
			isLocal := fn.upvalueIsLocal[i]
			idx := fn.upvalueIndex[i]
			if isLocal {
				cl.upvalues[i] = vm.captureUpvalue(frame.slotsBase + idx)
			} else {
				cl.upvalues[i] = closure.upvalues[idx]
			}
		}
		vm.push(ObjVal(cl))
	case OpMakeClosureWithDefArgs:
		fn := vm.readConstant().obj.(*ObjFn)
		defCount := int(vm.readU16())
		defaults := append([]Value(nil), vm.stack[len(vm.stack)-defCount:]...)
		vm.stack = vm.stack[:len(vm.stack)-defCount]
		cl := vm.heap.NewClosure(fn, frame.closure.module)
		cl.defaults = defaults
		vm.push(ObjVal(cl))

	case OpCallValue:
		argCount := int(vm.readByte())
		calleeIdx := len(vm.stack) - argCount - 1
		callee := vm.stack[calleeIdx]
		if _, err := vm.invoke(callee, calleeIdx, argCount); err != nil {
			return Value{}, false, err
		}
	case OpCallValueWithUnpack:
		fixedCount := int(vm.readByte())
		spread := vm.pop()
		items, err := vm.spreadItems(spread)
		if err != nil {
			return Value{}, false, err
		}
		for _, it := range items {
			vm.push(it)
		}
		argCount := fixedCount + len(items)
		calleeIdx := len(vm.stack) - argCount - 1
		callee := vm.stack[calleeIdx]
		if _, err := vm.invoke(callee, calleeIdx, argCount); err != nil {
			return Value{}, false, err
		}
	case OpCallMethod, OpCallPubMethod:
		name := vm.readConstant().obj.(*ObjString)
		argCount := int(vm.readByte())
		calleeIdx := len(vm.stack) - argCount - 1
		recv := vm.stack[calleeIdx]
		method, err := vm.methodFor(op, recv, string(name.bytes))
		if err != nil {
			return Value{}, false, err
		}
		args := append([]Value(nil), vm.stack[calleeIdx+1:]...)
		result, err := vm.callMethodValue(method, recv, args)
		vm.stack = vm.stack[:calleeIdx]
		if err != nil {
			return Value{}, false, err
		}
		vm.push(result)
	case OpCallMethodWithUnpack, OpCallPubMethodWithUnpack:
		name := vm.readConstant().obj.(*ObjString)
		fixedCount := int(vm.readByte())
		spread := vm.pop()
		items, err := vm.spreadItems(spread)
		if err != nil {
			return Value{}, false, err
		}
		for _, it := range items {
			vm.push(it)
		}
		argCount := fixedCount + len(items)
		calleeIdx := len(vm.stack) - argCount - 1
		recv := vm.stack[calleeIdx]
		method, err := vm.methodFor(op, recv, string(name.bytes))
		if err != nil {
			return Value{}, false, err
		}
		args := append([]Value(nil), vm.stack[calleeIdx+1:]...)
		result, err := vm.callMethodValue(method, recv, args)
		vm.stack = vm.stack[:calleeIdx]
		if err != nil {
			return Value{}, false, err
		}
		vm.push(result)
	case OpCallSuperMethod:
		name := vm.readConstant().obj.(*ObjString)
		argCount := int(vm.readByte())
		calleeIdx := len(vm.stack) - argCount - 1
		recv := vm.stack[calleeIdx]
		method, err := vm.superMethodFor(recv, string(name.bytes))
		if err != nil {
			return Value{}, false, err
		}
		args := append([]Value(nil), vm.stack[calleeIdx+1:]...)
		result, err := vm.callMethodValue(method, recv, args)
		vm.stack = vm.stack[:calleeIdx]
		if err != nil {
			return Value{}, false, err
		}
		vm.push(result)
	case OpCallSuperMethodWithUnpack:
		name := vm.readConstant().obj.(*ObjString)
		fixedCount := int(vm.readByte())
		spread := vm.pop()
		items, err := vm.spreadItems(spread)
		if err != nil {
			return Value{}, false, err
		}
		for _, it := range items {
			vm.push(it)
		}
		argCount := fixedCount + len(items)
		calleeIdx := len(vm.stack) - argCount - 1
		recv := vm.stack[calleeIdx]
		method, err := vm.superMethodFor(recv, string(name.bytes))
		if err != nil {
			return Value{}, false, err
		}
		args := append([]Value(nil), vm.stack[calleeIdx+1:]...)
		result, err := vm.callMethodValue(method, recv, args)
		vm.stack = vm.stack[:calleeIdx]
		if err != nil {
			return Value{}, false, err
		}
		vm.push(result)

	case OpGetSuperMethod:
		name := vm.readConstant().obj.(*ObjString)
		recv := vm.pop()
		method, err := vm.superMethodFor(recv, string(name.bytes))
		if err != nil {
			return Value{}, false, err
		}
		vm.push(ObjVal(vm.heap.NewBoundMethod(recv, method)))

	case OpJump:
		delta := int(int16(vm.readU16()))
		frame.ip += delta
	case OpJumpBack:
		delta := int(vm.readU16())
		frame.ip -= delta
	case OpJumpIfFalse:
		delta := int(int16(vm.readU16()))
		if !vm.peek(0).IsTruthy() {
			frame.ip += delta
		}
	case OpJumpIfTrue:
		delta := int(int16(vm.readU16()))
		if vm.peek(0).IsTruthy() {
			frame.ip += delta
		}
	case OpJumpIfNotNull:
		delta := int(int16(vm.readU16()))
		if !vm.peek(0).IsNull() {
			frame.ip += delta
		}
	case OpJumpIfErr:
		delta := int(int16(vm.readU16()))
		top := vm.peek(0)
		if _, isErr := top.obj.(*ObjErr); top.kind == KindObj && isErr {
			frame.ip += delta
		}
	case OpJumpIfNotErr:
		delta := int(int16(vm.readU16()))
		top := vm.peek(0)
		_, isErr := top.obj.(*ObjErr)
		if top.kind != KindObj || !isErr {
			frame.ip += delta
		}
	case OpPopJumpIfFalse:
		delta := int(int16(vm.readU16()))
		v := vm.pop()
		if !v.IsTruthy() {
			frame.ip += delta
		}

	case OpGetIterator:
		v := vm.pop()
		it, err := vm.makeIterator(v)
		if err != nil {
			return Value{}, false, err
		}
		vm.push(ObjVal(it))
	case OpGetNextFromIterator:
		it := vm.peek(0).obj.(*ObjIterator)
		val, ok, err := vm.iteratorNext(it)
		if err != nil {
			return Value{}, false, err
		}
		if !ok {
			vm.push(ObjVal(vm.heap.NewErr(vm.heap.NewString("iterator exhausted"))))
			return Value{}, false, nil
		}
		vm.push(val)

	case OpEcho:
		v := vm.pop()
		fmt.Println(stringifyValue(vm, v))
	case OpAssert:
		v := vm.pop()
		if !v.IsTruthy() {
			return Value{}, false, vm.runtimeError(PanicAssertionFailed, "assertion failed")
		}

	case OpStringify:
		v := vm.pop()
		vm.push(ObjVal(vm.heap.NewString(stringifyValue(vm, v))))
	case OpFormat:
		spec := vm.pop().obj.(*ObjString)
		v := vm.pop()
		out, err := formatValue(vm, v, string(spec.bytes))
		if err != nil {
			return Value{}, false, err
		}
		vm.push(ObjVal(vm.heap.NewString(out)))
	case OpConcatStrings:
		b := vm.pop()
		a := vm.pop()
		as, aok := a.obj.(*ObjString)
		bs, bok := b.obj.(*ObjString)
		if !aok || !bok {
			return Value{}, false, vm.runtimeError(PanicTypeError, "CONCAT_STRINGS requires strings")
		}
		vm.push(ObjVal(vm.heap.NewStringBytes(append(append([]byte(nil), as.bytes...), bs.bytes...))))

	case OpUnaryMinus, OpUnaryBang, OpUnaryPlus, OpUnaryTilde:
		v := vm.pop()
		result, err := unaryOp(vm, op, v)
		if err != nil {
			return Value{}, false, err
		}
		vm.push(result)

	case OpBinaryPlus, OpBinaryMinus, OpBinaryStar, OpBinarySlash, OpBinarySlashSlash,
		OpBinaryStarStar, OpBinaryPercent, OpBinaryMod, OpBinaryAmp, OpBinaryBar, OpBinaryCaret,
		OpBinaryLessLess, OpBinaryGreaterGreater, OpBinaryLess, OpBinaryLessEqual,
		OpBinaryGreater, OpBinaryGreaterEqual, OpBinaryEqualEqual, OpBinaryBangEqual,
		OpBinaryIn:
		b := vm.pop()
		a := vm.pop()
		result, err := binaryOp(vm, op, a, b)
		if err != nil {
			return Value{}, false, err
		}
		vm.push(result)

	case OpImportModule:
		segCount := int(vm.readU16())
		segs := make([]string, segCount)
		for i := segCount - 1; i >= 0; i-- {
			segs[i] = string(vm.pop().obj.(*ObjString).bytes)
		}
		mod, err := vm.importModule(segs)
		if err != nil {
			return Value{}, false, err
		}
		vm.push(ObjVal(mod))
	case OpImportNamedMembers:
		count := int(vm.readByte())
		names := make([]string, count)
		for i := count - 1; i >= 0; i-- {
			names[i] = string(vm.pop().obj.(*ObjString).bytes)
		}
		modVal := vm.pop()
		mod, ok := modVal.obj.(*ObjModule)
		if !ok {
			return Value{}, false, vm.runtimeError(PanicTypeError, "'"+modVal.TypeName()+"' is not a module")
		}
		for _, name := range names {
			idx, ok := mod.allMemberIndexes[name]
			if !ok {
				return Value{}, false, vm.runtimeError(PanicNameError, "module '"+mod.name+"' has no member '"+name+"'")
			}
			vm.push(mod.members[idx])
		}

	case OpUnpack:
		count := int(vm.readByte())
		container := vm.pop()
		items, err := vm.spreadItems(container)
		if err != nil {
			return Value{}, false, err
		}
		if len(items) < count {
			return Value{}, false, vm.runtimeError(PanicValueError, fmt.Sprintf("cannot unpack %d values from a container of length %d", count, len(items)))
		}
		for i := 0; i < count; i++ {
			vm.push(items[i])
		}

	case OpStartWith:
		v := vm.peek(0)
		if err := vm.callLifecycle(v, "$enter"); err != nil {
			return Value{}, false, err
		}
		vm.withStack = append(vm.withStack, withEntry{value: v})
	case OpEndWith:
		we := vm.withStack[len(vm.withStack)-1]
		vm.withStack = vm.withStack[:len(vm.withStack)-1]
		if !we.exited {
			if err := vm.callLifecycle(we.value, "$exit"); err != nil {
				return Value{}, false, err
			}
		}

	case OpTry:
		// The wrapped expression hasn't pushed its value yet: the
		// restore point is the current stack height.
		vm.tryStack = append(vm.tryStack, tryMarker{frameDepth: len(vm.frames), stackDepth: len(vm.stack)})
	case OpEndTry:
		if len(vm.tryStack) > 0 {
			vm.tryStack = vm.tryStack[:len(vm.tryStack)-1]
		}

	case OpReturn:
		result := vm.pop()
		vm.closeUpvalues(frame.slotsBase)
		vm.stack = vm.stack[:frame.slotsBase]
		return result, true, nil
	case OpReturnTuple:
		result := vm.pop()
		vm.closeUpvalues(frame.slotsBase)
		vm.stack = vm.stack[:frame.slotsBase]
		return result, true, nil

	case OpBreak:
		// unreachable: break is compiled to OP_JUMP

	default:
		return Value{}, false, vm.runtimeError(PanicError, "unimplemented opcode "+op.String())
	}
	return Value{}, false, nil
}

func (vm *VM) callLifecycle(v Value, name string) error {
	method, err := vm.getField(v, name)
	if err != nil {
		return nil // no lifecycle method defined: not an error
	}
	_, err = vm.callMethodValue(method, v, nil)
	return err
}

// captureUpvalue returns the existing open upvalue for stackSlot, or
// creates one, keeping the open-upvalue list sorted by decreasing
// stack slot.
func (vm *VM) captureUpvalue(stackSlot int) *ObjUpvalue {
	var prev *ObjUpvalue
	cur := vm.openUpvalues
	for cur != nil && stackIndexOf(vm.stack, cur.location) > stackSlot {
		prev = cur
		cur = cur.next
	}
	if cur != nil && stackIndexOf(vm.stack, cur.location) == stackSlot {
		return cur
	}
	created := vm.heap.NewUpvalue(&vm.stack[stackSlot])
	created.next = cur
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.next = created
	}
	return created
}

func stackIndexOf(stack []Value, p *Value) int {
	for i := range stack {
		if &stack[i] == p {
			return i
		}
	}
	return -1
}

func (vm *VM) closeUpvalues(fromSlot int) {
	for vm.openUpvalues != nil {
		idx := stackIndexOf(vm.stack, vm.openUpvalues.location)
		if idx < fromSlot {
			break
		}
		uv := vm.openUpvalues
		uv.close()
		vm.openUpvalues = uv.next
	}
}

func (vm *VM) defineField(class *ObjClass, name string, val Value, op Opcode) {
	if op == OpDefineStaticField {
		class.staticFields[name] = val
		return
	}
	idx := len(class.defaultFieldValues)
	class.defaultFieldValues = append(class.defaultFieldValues, val)
	class.defaultFieldIsExprFn = append(class.defaultFieldIsExprFn, false)
	class.allFieldIndexes[name] = idx
	if op == OpDefinePubField {
		class.pubFieldIndexes[name] = idx
	}
}

func (vm *VM) defineMethod(class *ObjClass, name string, method Value, op Opcode) {
	switch op {
	case OpDefineStaticMethod:
		class.staticMethods[name] = method
		return
	}
	class.allInstanceMethods[name] = method
	if op == OpDefinePubMethod {
		class.pubInstanceMethods[name] = method
	}
	if name == "$init" {
		class.hasInit = true
		class.initMethod = method
	}
}

// copyDownInherit snapshots the superclass's method/field/static
// tables into sub at class-definition time: Pyro classes do not do
// dynamic vtable dispatch.
func copyDownInherit(sub, super *ObjClass) {
	sub.superclass = super
	for k, v := range super.allInstanceMethods {
		sub.allInstanceMethods[k] = v
	}
	for k, v := range super.pubInstanceMethods {
		sub.pubInstanceMethods[k] = v
	}
	for k, v := range super.staticMethods {
		sub.staticMethods[k] = v
	}
	for k, v := range super.staticFields {
		sub.staticFields[k] = v
	}
	base := len(sub.defaultFieldValues)
	for name, idx := range super.allFieldIndexes {
		sub.allFieldIndexes[name] = base + idx
	}
	for name, idx := range super.pubFieldIndexes {
		sub.pubFieldIndexes[name] = base + idx
	}
	sub.defaultFieldValues = append(append([]Value(nil), super.defaultFieldValues...), sub.defaultFieldValues...)
	sub.defaultFieldIsExprFn = append(append([]bool(nil), super.defaultFieldIsExprFn...), sub.defaultFieldIsExprFn...)
	if super.hasInit && !sub.hasInit {
		sub.hasInit = true
		sub.initMethod = super.initMethod
	}
}
