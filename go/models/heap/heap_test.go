package heap

import (
	"bytes"
	"testing"

	"github.com/lunixbochs/domaincorn/go/models"
)

// this shouldn't repeat much at width
func pattern(len int) []byte {
	p := make([]byte, len)
	width := 8
	for i := range p {
		cycle := i / width
		p[i] = byte(cycle*width*i + i)
	}
	return p
}

func BenchmarkHeapAllocate(b *testing.B) {
	h := New(0x10000, 0)
	for i := 0; i < b.N; i++ {
		h.Deallocate(h.Allocate(64, 8, 1))
	}
}

func BenchmarkHeapChurn(b *testing.B) {
	h := New(0x10000, 0)
	addrs := make([]uint64, 64)
	for i := 0; i < b.N; i++ {
		j := i % len(addrs)
		if addrs[j] != 0 {
			h.Deallocate(addrs[j])
		}
		addrs[j] = h.Allocate(uint64(j*16+1), 16, 1)
	}
}

func TestHeapReadWrite(t *testing.T) {
	h := New(0x1000, 0)
	addr := h.Allocate(0x800, 8, 1)
	b := pattern(0x800)
	copy(h.Bytes(addr), b)
	if !bytes.Equal(h.Bytes(addr), b) {
		t.Fatal("read/write inconsistent")
	}
	if len(h.Bytes(addr)) != 0x800 {
		t.Fatalf("allocation length %#x != %#x", len(h.Bytes(addr)), 0x800)
	}
}

// {size, align}
var alignTable = [][]uint64{
	{1, 1},
	{3, 2},
	{7, 8},
	{100, 16},
	{0x10, 0x100},
	{0x900, 0x40},
}

func TestHeapAlignment(t *testing.T) {
	h := New(0x1000, 0)
	for _, v := range alignTable {
		addr := h.Allocate(v[0], v[1], 1)
		if addr%v[1] != 0 {
			t.Errorf("Allocate(%#x, %#x) = %#x: misaligned", v[0], v[1], addr)
		}
		if len(h.Bytes(addr)) != int(v[0]) {
			t.Errorf("Allocate(%#x, %#x): got %#x bytes", v[0], v[1], len(h.Bytes(addr)))
		}
	}
}

func TestHeapNoOverlap(t *testing.T) {
	h := New(0x1000, 0)
	var addrs []uint64
	for i := 1; i < 40; i++ {
		addr := h.Allocate(uint64(i*13), 8, 1)
		for j, a := range addrs {
			prev, _ := h.Lookup(a)
			if addr < prev.Addr+prev.Size && prev.Addr < addr+uint64(i*13) {
				t.Fatalf("allocation %d (%#x) overlaps %d (%#x)", i, addr, j, a)
			}
		}
		addrs = append(addrs, addr)
	}
}

func TestHeapFreeCoalesce(t *testing.T) {
	h := New(0x1000, 0)
	a := h.Allocate(0x400, 8, 1)
	b := h.Allocate(0x400, 8, 1)
	c := h.Allocate(0x400, 8, 1)
	h.Deallocate(a)
	h.Deallocate(c)
	h.Deallocate(b)
	if n := h.Stats().FreeSpans; n != 1 {
		t.Fatalf("expected one free span after freeing everything, got %d", n)
	}
	// the whole page is usable again without mapping more
	mapped := h.Stats().Mapped
	h.Allocate(0x1000, 1, 1)
	if h.Stats().Mapped != mapped {
		t.Fatal("coalesced page was not reused")
	}
}

func TestHeapFreeZeroes(t *testing.T) {
	h := New(0x1000, 0)
	addr := h.Allocate(16, 8, 1)
	copy(h.Bytes(addr), pattern(16))
	h.Deallocate(addr)
	again := h.Allocate(16, 8, 1)
	if again != addr {
		t.Skip("allocator did not reuse the address")
	}
	if !bytes.Equal(h.Bytes(again), make([]byte, 16)) {
		t.Fatal("reused allocation leaked previous contents")
	}
}

func expectFatal(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if _, ok := r.(*models.FatalError); !ok {
			t.Fatalf("%s: expected *models.FatalError panic, got %v", name, r)
		}
	}()
	fn()
}

func TestHeapFatal(t *testing.T) {
	h := New(0x1000, 0x2000)
	expectFatal(t, "exhaustion", func() { h.Allocate(0x3000, 1, 1) })
	expectFatal(t, "bad free", func() { h.Deallocate(0xdead0) })
	addr := h.Allocate(8, 8, 1)
	h.Deallocate(addr)
	expectFatal(t, "double free", func() { h.Deallocate(addr) })
	expectFatal(t, "alignment", func() { h.Allocate(8, 3, 1) })
}

func TestHeapReconcile(t *testing.T) {
	h := New(0x1000, 0)
	keep := h.Allocate(8, 8, models.KernelIdentity)
	other := h.Allocate(8, 8, 2)
	for i := 0; i < 5; i++ {
		h.Allocate(32, 8, 7)
	}
	h.MarkDead(7)
	if n := h.Reconcile(7); n != 5 {
		t.Fatalf("Reconcile freed %d allocations, want 5", n)
	}
	if n := h.Checkout(); n != 0 {
		t.Fatalf("Checkout after Reconcile freed %d, want 0", n)
	}
	if _, ok := h.Lookup(keep); !ok {
		t.Fatal("kernel allocation reclaimed")
	}
	if _, ok := h.Lookup(other); !ok {
		t.Fatal("unrelated domain allocation reclaimed")
	}
	// allocations made by a dead identity after reconcile are swept by Checkout
	h.Allocate(8, 8, 7)
	if n := h.Checkout(); n != 1 {
		t.Fatalf("Checkout freed %d, want 1", n)
	}
}
