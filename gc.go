package pyro

// gcState carries the BFS grey stack for a single collection cycle.
type gcState struct {
	grey []Obj
}

func (g *gcState) markObj(o Obj) {
	if o == nil {
		return
	}
	hdr := o.header()
	if hdr.marked {
		return
	}
	hdr.marked = true
	g.grey = append(g.grey, o)
}

func (g *gcState) markValue(v Value) {
	if v.kind == KindObj && v.obj != nil {
		g.markObj(v.obj)
	}
}

// RootProvider lets the VM enumerate its roots for the mark phase;
// VM.GCRoots marks the value stack, frame closures, with-stack, open
// upvalues, globals and module cache.
type RootProvider interface {
	GCRoots(mark func(Value))
}

// MaybeCollect polls the allocation threshold; the VM calls this at
// the top of its instruction-dispatch loop and the compiler disables
// it entirely via DisallowGC/AllowGC while parsing.
func (h *Heap) MaybeCollect(roots RootProvider) {
	if h.ShouldCollect() {
		h.Collect(roots)
	}
}

// Collect runs one full stop-the-world mark-and-sweep cycle.
func (h *Heap) Collect(roots RootProvider) {
	before := h.bytesAllocated
	h.tracer.GCStart(before)

	g := &gcState{}
	roots.GCRoots(g.markValue)
	for len(g.grey) > 0 {
		o := g.grey[len(g.grey)-1]
		g.grey = g.grey[:len(g.grey)-1]
		o.Blacken(g)
	}

	h.sweep()
	h.nextGCThreshold = h.bytesAllocated * int64(h.growthFactorPercent) / 100
	if h.nextGCThreshold < 1024 {
		h.nextGCThreshold = 1024
	}

	h.tracer.GCEnd(before, h.bytesAllocated)
}

// sweep walks the intrusive objects list; unmarked objects are
// unlinked and, for ObjString, removed from the intern pool.
func (h *Heap) sweep() {
	var prev Obj
	cur := h.objects
	for cur != nil {
		hdr := cur.header()
		next := hdr.next
		if hdr.marked {
			hdr.marked = false
			prev = cur
		} else {
			if s, ok := cur.(*ObjString); ok {
				h.uninternDead(s)
			}
			h.bytesAllocated -= objApproxSize(cur)
			if prev == nil {
				h.objects = next
			} else {
				prev.header().next = next
			}
		}
		cur = next
	}
}

// objApproxSize gives sweep a rough size to subtract from
// bytesAllocated; exactness doesn't matter, only that freed objects
// stop being counted.
func objApproxSize(o Obj) int64 {
	switch v := o.(type) {
	case *ObjString:
		return int64(len(v.bytes)) + 32
	case *ObjBuffer:
		return int64(cap(v.bytes)) + 24
	case *ObjTuple:
		return int64(len(v.items))*16 + 24
	case *ObjVec:
		return int64(cap(v.items))*16 + 32
	case *ObjMap:
		return int64(cap(v.entries))*40 + 48
	default:
		return 32
	}
}
