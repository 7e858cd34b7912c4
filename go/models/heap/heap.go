// Package heap implements the shared heap: an arena that outlives every domain
// instance and backs all values crossing a domain boundary.
//
// The arena is a list of mapped pages with a sorted free list. Every
// allocation carries its owner identity and a generation number; handles hold
// the generation they were issued with, so a stale or moved handle is detected
// on its next use instead of silently aliasing a reused address.
package heap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lunixbochs/domaincorn/go/models"
)

// first mapped address; 0 is never a valid allocation
const arenaBase = 0x1000

type Allocation struct {
	Addr  uint64
	Size  uint64
	Align uint64
	Owner models.Identity
	Gen   uint64
	Tag   string

	// generation the allocation was created with
	first uint64
	// backing storage; never shared with another allocation, so a view kept
	// past release cannot reach reused addresses
	data []byte
}

type Stats struct {
	Mapped      uint64                  `yaml:"mapped"`
	InUse       uint64                  `yaml:"in_use"`
	Allocations int                     `yaml:"allocations"`
	FreeSpans   int                     `yaml:"free_spans"`
	ByOwner     map[models.Identity]int `yaml:"by_owner,omitempty"`
	Dead        int                     `yaml:"dead_identities"`
}

type Heap struct {
	mu       sync.Mutex
	pageSize uint64
	limit    uint64

	mem     Pages
	free    spans
	next    uint64
	gen     uint64
	inUse   uint64
	allocs  map[uint64]*Allocation
	objects map[uint64]interface{}
	dead    map[models.Identity]bool
}

func New(pageSize, limit uint64) *Heap {
	if pageSize == 0 {
		pageSize = 0x10000
	}
	return &Heap{
		pageSize: pageSize,
		limit:    limit,
		next:     arenaBase,
		allocs:   make(map[uint64]*Allocation),
		objects:  make(map[uint64]interface{}),
		dead:     make(map[models.Identity]bool),
	}
}

func NewFromConfig(c *models.Config) *Heap {
	return New(c.PageSize, c.HeapLimit)
}

func alignUp(addr, align uint64) uint64 {
	return (addr + align - 1) &^ (align - 1)
}

func fatal(reason string, addr, size uint64) {
	panic(&models.FatalError{Reason: reason, Addr: addr, Size: size})
}

// mapPages grows the arena by enough whole pages to hold size bytes at align.
// Caller holds h.mu.
func (h *Heap) mapPages(size, align uint64) {
	need := alignUp(size+align, h.pageSize)
	if h.limit > 0 && h.next-arenaBase+need > h.limit {
		fatal("shared heap exhausted", h.next, need)
	}
	page := &Page{Addr: h.next, Size: need}
	h.mem = append(h.mem, page)
	sort.Sort(h.mem)
	h.free = h.free.insert(span{Addr: page.Addr, Size: page.Size, page: page})
	h.next += need
}

// carve takes size bytes at align out of the free list, first fit.
// Caller holds h.mu.
func (h *Heap) carve(size, align uint64) (uint64, bool) {
	for i, s := range h.free {
		addr := alignUp(s.Addr, align)
		if addr+size > s.end() {
			continue
		}
		rest := spans{}
		if addr > s.Addr {
			rest = append(rest, span{Addr: s.Addr, Size: addr - s.Addr, page: s.page})
		}
		if addr+size < s.end() {
			rest = append(rest, span{Addr: addr + size, Size: s.end() - (addr + size), page: s.page})
		}
		tail := append(rest, h.free[i+1:]...)
		h.free = append(h.free[:i], tail...)
		return addr, true
	}
	return 0, false
}

func (h *Heap) allocate(size, align uint64, owner models.Identity, tag string) *Allocation {
	if size == 0 {
		size = 1
	}
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		fatal(fmt.Sprintf("bad alignment %d", align), 0, size)
	}
	addr, ok := h.carve(size, align)
	if !ok {
		h.mapPages(size, align)
		if addr, ok = h.carve(size, align); !ok {
			fatal("shared heap allocator corrupted", h.next, size)
		}
	}
	h.gen++
	a := &Allocation{
		Addr:  addr,
		Size:  size,
		Align: align,
		Owner: owner,
		Gen:   h.gen,
		Tag:   tag,
		first: h.gen,
		data:  make([]byte, size),
	}
	h.allocs[addr] = a
	h.inUse += size
	return a
}

func (h *Heap) alloc(size, align uint64, owner models.Identity, tag string) *Allocation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocate(size, align, owner, tag)
}

// Allocate reserves size bytes for owner. It never fails: exhaustion panics
// with a *models.FatalError.
func (h *Heap) Allocate(size, align uint64, owner models.Identity) uint64 {
	return h.alloc(size, align, owner, "raw").Addr
}

// caller holds h.mu
func (h *Heap) release(a *Allocation) {
	page := h.mem.Find(a.Addr)
	if page == nil {
		fatal("allocation outside mapped arena", a.Addr, a.Size)
	}
	clear(a.data)
	a.data = nil
	delete(h.allocs, a.Addr)
	delete(h.objects, a.Addr)
	h.inUse -= a.Size
	h.free = h.free.insert(span{Addr: a.Addr, Size: a.Size, page: page})
}

// Deallocate returns an allocation to the arena. Freeing an address that is
// not allocated means the heap metadata is corrupt and aborts the kernel.
func (h *Heap) Deallocate(addr uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.allocs[addr]
	if !ok {
		fatal("free of unallocated address", addr, 0)
	}
	h.release(a)
}

// Bytes returns the storage of a live allocation, or nil. The slice is the
// allocation's own; once it is released the slice is zeroed and detached.
func (h *Heap) Bytes(addr uint64) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.allocs[addr]
	if !ok {
		return nil
	}
	return a.data[:a.Size:a.Size]
}

// Lookup returns a copy of the allocation record at addr.
func (h *Heap) Lookup(addr uint64) (Allocation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if a, ok := h.allocs[addr]; ok {
		cp := *a
		cp.data = nil
		return cp, true
	}
	return Allocation{}, false
}

// current returns the allocation only if gen still matches. Caller holds h.mu.
func (h *Heap) current(addr, gen uint64) (*Allocation, error) {
	a, ok := h.allocs[addr]
	switch {
	case !ok || gen < a.first:
		// gone, or the address was reused by a newer allocation
		return nil, ErrHandleFreed
	case a.Gen != gen:
		return nil, ErrHandleMoved
	}
	return a, nil
}

// Transfer hands the allocation to a new owner and bumps its generation,
// invalidating the handle that held gen.
func (h *Heap) Transfer(addr, gen uint64, to models.Identity) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, err := h.current(addr, gen)
	if err != nil {
		return 0, err
	}
	h.gen++
	a.Gen = h.gen
	a.Owner = to
	return a.Gen, nil
}

// MarkDead records that every allocation of id is now garbage. It is called
// by the crash boundary before the identity's allocations are reconciled.
func (h *Heap) MarkDead(id models.Identity) {
	if id == models.KernelIdentity {
		return
	}
	h.mu.Lock()
	h.dead[id] = true
	h.mu.Unlock()
}

func (h *Heap) IsDead(id models.Identity) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dead[id]
}

// Reconcile frees every allocation owned by id and returns how many were
// freed. Handles the crashed domain held become stale.
func (h *Heap) Reconcile(id models.Identity) int {
	if id == models.KernelIdentity {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, a := range h.allocs {
		if a.Owner == id {
			h.release(a)
			n++
		}
	}
	return n
}

// Checkout brings the heap back to a consistent state after a crash: any
// allocation still owned by a dead identity is freed. Safe to call repeatedly.
func (h *Heap) Checkout() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, a := range h.allocs {
		if h.dead[a.Owner] {
			h.release(a)
			n++
		}
	}
	return n
}

func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Stats{
		Mapped:      h.next - arenaBase,
		InUse:       h.inUse,
		Allocations: len(h.allocs),
		FreeSpans:   len(h.free),
		ByOwner:     make(map[models.Identity]int),
		Dead:        len(h.dead),
	}
	for _, a := range h.allocs {
		s.ByOwner[a.Owner]++
	}
	return s
}

func (h *Heap) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fmt.Sprintf("shared heap: %d pages, %d/%d bytes in use, %d allocations",
		len(h.mem), h.inUse, h.next-arenaBase, len(h.allocs))
}
