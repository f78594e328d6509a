package pyro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapInternsEqualStrings(t *testing.T) {
	h := NewHeap(NewConfig())
	a := h.NewString("hello")
	b := h.NewString("hello")
	assert.Same(t, a, b, "two equal byte sequences must share one String object")

	c := h.NewString("world")
	assert.NotSame(t, a, c)
}

func TestHeapTracksBytesAllocated(t *testing.T) {
	h := NewHeap(NewConfig())
	before := h.BytesAllocated()
	h.NewString("some bytes")
	assert.Greater(t, h.BytesAllocated(), before)
}

type fakeRoots struct {
	roots []Value
}

func (f *fakeRoots) GCRoots(mark func(Value)) {
	for _, v := range f.roots {
		mark(v)
	}
}

func TestCollectSweepsUnreachableStrings(t *testing.T) {
	h := NewHeap(NewConfig())
	kept := h.NewString("kept")
	h.NewString("garbage")

	roots := &fakeRoots{roots: []Value{ObjVal(kept)}}
	h.Collect(roots)

	again := h.NewString("kept")
	assert.Same(t, kept, again, "live string must survive a collection")

	recreated := h.NewString("garbage")
	require.NotNil(t, recreated)
}

func TestDisallowGCPreventsCollection(t *testing.T) {
	h := NewHeap(NewConfig())
	h.nextGCThreshold = 0
	h.NewString("over threshold")
	h.DisallowGC()
	assert.False(t, h.ShouldCollect())
	h.AllowGC()
	assert.True(t, h.ShouldCollect())
}
