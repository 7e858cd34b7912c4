package heap

import (
	"runtime"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/lunixbochs/domaincorn/go/models"
)

var (
	ErrHandleMoved = errors.New("use of moved ownership handle")
	ErrHandleFreed = errors.New("use of freed ownership handle")
	ErrHandleType  = errors.New("ownership handle type mismatch")
)

// noCopy makes `go vet` flag handles copied by value. Handles must only be
// passed around as pointers and moved with Move/MoveTo.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// PutObject allocates a slot sized for v and stores v there, returning the
// address and generation. The slot is released with the allocation.
func (h *Heap) PutObject(v interface{}, size, align uint64, owner models.Identity, tag string) (uint64, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a := h.allocate(size, align, owner, tag)
	h.objects[a.Addr] = v
	return a.Addr, a.Gen
}

// Object returns the value stored at addr if gen is still current.
func (h *Heap) Object(addr, gen uint64) (interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.current(addr, gen); err != nil {
		return nil, err
	}
	return h.objects[addr], nil
}

// Owner returns the identity owning the allocation held at gen.
func (h *Heap) Owner(addr, gen uint64) (models.Identity, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, err := h.current(addr, gen)
	if err != nil {
		return 0, err
	}
	return a.Owner, nil
}

// Free releases the allocation only if gen is current, reporting whether it
// did. Reconciled or moved storage is left alone.
func (h *Heap) Free(addr, gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, err := h.current(addr, gen)
	if err != nil {
		return false
	}
	h.release(a)
	return true
}

// holder is the state shared by Handle and Buffer: one live (addr, gen) pair.
type holder struct {
	noCopy noCopy

	heap *Heap
	addr uint64
	gen  uint64
	dead bool
}

func (o *holder) check() {
	if o.dead {
		panic(ErrHandleMoved)
	}
}

func (o *holder) Addr() uint64 { return o.addr }

// Live reports whether the handle still owns its storage.
func (o *holder) Live() bool {
	if o.dead {
		return false
	}
	_, err := o.heap.Owner(o.addr, o.gen)
	return err == nil
}

func (o *holder) Owner() models.Identity {
	o.check()
	id, err := o.heap.Owner(o.addr, o.gen)
	if err != nil {
		panic(err)
	}
	return id
}

// transfer kills o and returns the generation for the new holder.
func (o *holder) transfer(to models.Identity) uint64 {
	o.check()
	gen, err := o.heap.Transfer(o.addr, o.gen, to)
	if err != nil {
		panic(err)
	}
	o.dead = true
	return gen
}

func (o *holder) drop() {
	if o.dead {
		return
	}
	o.dead = true
	o.heap.Free(o.addr, o.gen)
}

// Handle is an exclusive, move-only reference to a single value of type T
// living in the shared heap.
type Handle[T any] struct {
	holder
}

func newHandle[T any](h *Heap, addr, gen uint64) *Handle[T] {
	hd := &Handle[T]{holder{heap: h, addr: addr, gen: gen}}
	runtime.SetFinalizer(hd, (*Handle[T]).Drop)
	return hd
}

// NewHandle moves v into the shared heap, owned by owner.
func NewHandle[T any](h *Heap, owner models.Identity, v T) *Handle[T] {
	p := new(T)
	*p = v
	addr, gen := h.PutObject(p, uint64(unsafe.Sizeof(v)), uint64(unsafe.Alignof(v)), owner, "handle")
	return newHandle[T](h, addr, gen)
}

// Get dereferences the handle. It panics if the handle was moved or its
// storage reclaimed.
func (hd *Handle[T]) Get() *T {
	hd.check()
	obj, err := hd.heap.Object(hd.addr, hd.gen)
	if err != nil {
		panic(err)
	}
	p, ok := obj.(*T)
	if !ok {
		panic(ErrHandleType)
	}
	return p
}

// Move keeps the owner and returns the only live handle to the value.
func (hd *Handle[T]) Move() *Handle[T] {
	return hd.MoveTo(hd.Owner())
}

// MoveTo transfers ownership to id. The receiver is dead afterwards.
func (hd *Handle[T]) MoveTo(id models.Identity) *Handle[T] {
	gen := hd.transfer(id)
	runtime.SetFinalizer(hd, nil)
	return newHandle[T](hd.heap, hd.addr, gen)
}

// Drop releases the value's storage. Dropping a dead handle does nothing.
func (hd *Handle[T]) Drop() {
	runtime.SetFinalizer(hd, nil)
	hd.drop()
}
