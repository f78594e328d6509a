package pyro

// Tracer is a narrow, default-no-op observability hook an embedder
// can implement to watch GC cycles and panics, reduced to the two
// events the core itself can observe without a call stack.
type Tracer interface {
	GCStart(bytesAllocated int64)
	GCEnd(bytesBefore, bytesAfter int64)
	Panic(p *Panic)
}

type noopTracer struct{}

func (noopTracer) GCStart(int64)        {}
func (noopTracer) GCEnd(int64, int64)   {}
func (noopTracer) Panic(*Panic)         {}

// Heap owns every allocation: the intrusive `objects` list, the
// byte-accounting threshold that triggers collection, and the
// interned-string pool. It is VM-owned, not a process-wide singleton.
type Heap struct {
	objects             Obj
	bytesAllocated      int64
	nextGCThreshold     int64
	growthFactorPercent int
	gcDisallows         int
	internTable         map[uint64][]*ObjString
	serial              uint64
	tracer              Tracer
}

func NewHeap(cfg *Config) *Heap {
	return &Heap{
		nextGCThreshold:     int64(cfg.GetInt("gc.initial_threshold_bytes")),
		growthFactorPercent: cfg.GetInt("gc.growth_factor_percent"),
		internTable:         map[uint64][]*ObjString{},
		tracer:              noopTracer{},
	}
}

func (h *Heap) SetTracer(t Tracer) {
	if t == nil {
		t = noopTracer{}
	}
	h.tracer = t
}

// DisallowGC/AllowGC implement `gc_disallows`: the
// compiler brackets its own allocations with these so that parsing
// source text can never itself trigger a panic-causing collection
// mid-compile.
func (h *Heap) DisallowGC() { h.gcDisallows++ }
func (h *Heap) AllowGC() {
	if h.gcDisallows > 0 {
		h.gcDisallows--
	}
}

func (h *Heap) ShouldCollect() bool {
	return h.gcDisallows == 0 && h.bytesAllocated > h.nextGCThreshold
}

func (h *Heap) BytesAllocated() int64 { return h.bytesAllocated }

func (h *Heap) nextSerial() uint64 {
	h.serial++
	return h.serial
}

func (h *Heap) register(o Obj, size int64) {
	hdr := o.header()
	hdr.serial = h.nextSerial()
	hdr.next = h.objects
	h.objects = o
	h.bytesAllocated += size
}

// fnv1a64 precomputes the 64-bit hash every ObjString carries.
func fnv1a64(data []byte) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for _, b := range data {
		h ^= uint64(b)
		h *= prime64
	}
	return h
}

// NewString interns [s]: for any two equal byte sequences there is at
// most one live String object.
func (h *Heap) NewString(s string) *ObjString {
	return h.NewStringBytes([]byte(s))
}

func (h *Heap) NewStringBytes(b []byte) *ObjString {
	hash := fnv1a64(b)
	for _, cand := range h.internTable[hash] {
		if string(cand.bytes) == string(b) {
			return cand
		}
	}
	obj := &ObjString{ObjHeader: ObjHeader{kind: ObjKindString}, bytes: append([]byte(nil), b...), hash: hash}
	h.register(obj, int64(len(b))+32)
	h.internTable[hash] = append(h.internTable[hash], obj)
	return obj
}

func (h *Heap) uninternDead(s *ObjString) {
	bucket := h.internTable[s.hash]
	for i, cand := range bucket {
		if cand == s {
			h.internTable[s.hash] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(h.internTable[s.hash]) == 0 {
		delete(h.internTable, s.hash)
	}
}

func (h *Heap) NewBuffer(b []byte) *ObjBuffer {
	obj := &ObjBuffer{ObjHeader: ObjHeader{kind: ObjKindBuffer}, bytes: b}
	h.register(obj, int64(cap(b))+24)
	return obj
}

func (h *Heap) NewTuple(items []Value) *ObjTuple {
	obj := &ObjTuple{ObjHeader: ObjHeader{kind: ObjKindTuple}, items: items}
	h.register(obj, int64(len(items))*16+24)
	return obj
}

func (h *Heap) NewVec(items []Value) *ObjVec {
	obj := &ObjVec{ObjHeader: ObjHeader{kind: ObjKindVec}, items: items}
	h.register(obj, int64(cap(items))*16+32)
	return obj
}

func (h *Heap) NewMap(asSet bool) *ObjMap {
	obj := newMap(asSet)
	obj.kind = ObjKindMap
	h.register(obj, 48)
	return obj
}

func (h *Heap) NewQueue() *ObjQueue {
	obj := &ObjQueue{ObjHeader: ObjHeader{kind: ObjKindQueue}}
	h.register(obj, 24)
	return obj
}

func (h *Heap) NewFile(stream FileStream, path *ObjString) *ObjFile {
	obj := &ObjFile{ObjHeader: ObjHeader{kind: ObjKindFile}, stream: stream, path: path}
	h.register(obj, 32)
	return obj
}

func (h *Heap) NewIterator(kind IterKind, source Value) *ObjIterator {
	obj := &ObjIterator{ObjHeader: ObjHeader{kind: ObjKindIterator}, kind: kind, source: source}
	if source.kind == KindObj {
		if vec, ok := source.obj.(*ObjVec); ok {
			obj.vecVers = vec.version
		}
	}
	h.register(obj, 40)
	return obj
}

func (h *Heap) NewFn(name, sourceID string) *ObjFn {
	obj := &ObjFn{ObjHeader: ObjHeader{kind: ObjKindFn}, name: name, sourceID: sourceID}
	h.register(obj, 64)
	return obj
}

func (h *Heap) NewClosure(fn *ObjFn, module *ObjModule) *ObjClosure {
	obj := &ObjClosure{
		ObjHeader: ObjHeader{kind: ObjKindClosure},
		fn:        fn,
		upvalues:  make([]*ObjUpvalue, fn.upvalueCount),
		module:    module,
	}
	h.register(obj, 48)
	return obj
}

func (h *Heap) NewUpvalue(loc *Value) *ObjUpvalue {
	obj := &ObjUpvalue{ObjHeader: ObjHeader{kind: ObjKindUpvalue}, location: loc}
	h.register(obj, 32)
	return obj
}

func (h *Heap) NewNativeFn(name string, arity int, fn NativeFunc) *ObjNativeFn {
	obj := &ObjNativeFn{ObjHeader: ObjHeader{kind: ObjKindNativeFn}, name: name, arity: arity, fn: fn}
	h.register(obj, 40)
	return obj
}

func (h *Heap) NewClass(name string) *ObjClass {
	obj := newClass(name)
	obj.kind = ObjKindClass
	h.register(obj, 96)
	return obj
}

func (h *Heap) NewInstance(class *ObjClass) *ObjInstance {
	fields := make([]Value, len(class.defaultFieldValues))
	copy(fields, class.defaultFieldValues)
	obj := &ObjInstance{ObjHeader: ObjHeader{kind: ObjKindInstance, class: class}, fields: fields}
	h.register(obj, int64(len(fields))*16+24)
	return obj
}

func (h *Heap) NewModule(name string) *ObjModule {
	obj := newModule(name)
	obj.kind = ObjKindModule
	h.register(obj, 48)
	return obj
}

func (h *Heap) NewErr(msg *ObjString) *ObjErr {
	obj := &ObjErr{ObjHeader: ObjHeader{kind: ObjKindErr}, message: msg, details: h.NewMap(false)}
	h.register(obj, 32)
	return obj
}

func (h *Heap) NewBoundMethod(receiver, method Value) *ObjBoundMethod {
	obj := &ObjBoundMethod{ObjHeader: ObjHeader{kind: ObjKindBoundMethod}, receiver: receiver, method: method}
	h.register(obj, 32)
	return obj
}

func (h *Heap) NewEnumType(name string) *ObjEnumType {
	obj := &ObjEnumType{ObjHeader: ObjHeader{kind: ObjKindEnumType}, name: name, members: map[string]*ObjEnumMember{}}
	h.register(obj, 48)
	return obj
}

func (h *Heap) NewEnumMember(et *ObjEnumType, name string) *ObjEnumMember {
	obj := &ObjEnumMember{ObjHeader: ObjHeader{kind: ObjKindEnumMember}, enumType: et, name: name}
	h.register(obj, 32)
	return obj
}
