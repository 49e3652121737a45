package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Heap: generation-checked object arena
// ---------------------------------------------------------------------------

// ErrStaleRef is returned when a Ref does not name a live object, either
// because it was never allocated or because its slot has been freed.
var ErrStaleRef = errors.New("stale object reference")

// Ref is a handle to an object in a Heap. The generation makes handles to
// freed slots detectable instead of silently aliasing a newer object.
type Ref struct {
	Index uint32
	Gen   uint32
}

// IsZero reports whether r is the zero handle, which never names an object.
func (r Ref) IsZero() bool { return r.Gen == 0 }

// Object is anything that can live in the heap.
type Object interface {
	ObjectKind() string
}

type heapSlot struct {
	gen uint32
	obj Object
}

// Heap is the single owner of every object created for a program.
// Objects are released individually with Free or all at once with Release.
type Heap struct {
	slots []heapSlot
	free  []uint32
	live  int
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{slots: make([]heapSlot, 0, 16)}
}

// Alloc stores obj and returns its handle.
func (h *Heap) Alloc(obj Object) Ref {
	if obj == nil {
		panic("vm: Alloc of nil object")
	}
	var idx uint32
	if n := len(h.free); n > 0 {
		idx = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		idx = uint32(len(h.slots))
		h.slots = append(h.slots, heapSlot{})
	}
	slot := &h.slots[idx]
	slot.gen++
	if slot.gen == 0 {
		slot.gen = 1
	}
	slot.obj = obj
	h.live++
	return Ref{Index: idx, Gen: slot.gen}
}

// Get resolves a handle.
func (h *Heap) Get(ref Ref) (Object, error) {
	if h == nil || ref.IsZero() || int(ref.Index) >= len(h.slots) {
		return nil, fmt.Errorf("%w: %d.%d", ErrStaleRef, ref.Index, ref.Gen)
	}
	slot := h.slots[ref.Index]
	if slot.obj == nil || slot.gen != ref.Gen {
		return nil, fmt.Errorf("%w: %d.%d", ErrStaleRef, ref.Index, ref.Gen)
	}
	return slot.obj, nil
}

// Function resolves a handle that must name a Function.
func (h *Heap) Function(ref Ref) (*Function, error) {
	obj, err := h.Get(ref)
	if err != nil {
		return nil, err
	}
	fn, ok := obj.(*Function)
	if !ok {
		return nil, fmt.Errorf("object %d.%d is a %s, not a function", ref.Index, ref.Gen, obj.ObjectKind())
	}
	return fn, nil
}

// Free releases one object. Freeing a handle twice returns ErrStaleRef.
func (h *Heap) Free(ref Ref) error {
	if _, err := h.Get(ref); err != nil {
		return err
	}
	h.slots[ref.Index].obj = nil
	h.free = append(h.free, ref.Index)
	h.live--
	return nil
}

// Live returns the number of objects currently allocated.
func (h *Heap) Live() int {
	if h == nil {
		return 0
	}
	return h.live
}

// Release frees every live object. Generations are kept so that handles
// issued before the release stay detectably stale.
func (h *Heap) Release() {
	if h == nil {
		return
	}
	for i, slot := range h.slots {
		if slot.obj != nil {
			h.Free(Ref{Index: uint32(i), Gen: slot.gen})
		}
	}
}
