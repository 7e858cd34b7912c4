package heap

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/domaincorn/go/models"
)

func TestBuffer_FromSliceRoundTrip(t *testing.T) {
	h := New(0x1000, 0)
	b := FromSlice(h, 1, []byte("hello"))
	assert.Equal(t, []byte("hello"), b.AsSlice())
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, "hello", b.String())
}

func TestBuffer_NewUninitExactLength(t *testing.T) {
	h := New(0x1000, 0)
	b := NewUninit(h, 1, 5)
	n := copy(b.AsMutSlice(), []byte("world!!"))
	assert.Equal(t, 5, n, "copy must stop at the buffer length")
	assert.Equal(t, []byte("world"), b.AsSlice())
	assert.Len(t, b.AsSlice(), 5)
}

func TestBuffer_Empty(t *testing.T) {
	h := New(0x1000, 0)
	b := FromSlice(h, 1, nil)
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.AsSlice())
	b.Drop()
	assert.Equal(t, 0, h.Stats().Allocations)
}

func TestBuffer_MoveKillsSource(t *testing.T) {
	h := New(0x1000, 0)
	a := FromSlice(h, 1, []byte("data"))
	b := a.MoveTo(2)

	assert.False(t, a.Live())
	assert.True(t, b.Live())
	assert.Equal(t, models.Identity(2), b.Owner())
	assert.Equal(t, []byte("data"), b.AsSlice())
	assert.PanicsWithValue(t, ErrHandleMoved, func() { a.AsSlice() })
	assert.PanicsWithValue(t, ErrHandleMoved, func() { a.Move() })

	// dropping the dead source leaves the moved storage alone
	a.Drop()
	assert.Equal(t, []byte("data"), b.AsSlice())
	b.Drop()
	assert.Equal(t, 0, h.Stats().Allocations)
}

func TestBuffer_ReconcileInvalidates(t *testing.T) {
	h := New(0x1000, 0)
	b := FromSlice(h, 1, []byte("data")).MoveTo(9)
	h.MarkDead(9)
	require.Equal(t, 1, h.Reconcile(9))

	assert.False(t, b.Live())
	assert.PanicsWithValue(t, ErrHandleFreed, func() { b.AsSlice() })
	// reuse of the address must not revive the stale handle
	c := FromSlice(h, 1, []byte("next"))
	assert.Equal(t, b.Addr(), c.Addr())
	assert.False(t, b.Live())
	assert.NotPanics(t, func() { b.Drop() })
	assert.Equal(t, []byte("next"), c.AsSlice())
}

type blockRecord struct {
	Block uint32
	Len   uint16
	Name  []byte `struc:"[8]byte"`
}

func TestBuffer_ViewAfterDropIsDetached(t *testing.T) {
	h := New(0x1000, 0)
	b := FromSlice(h, 1, []byte("secret"))
	view := b.AsSlice()
	addr := b.Addr()
	b.Drop()
	assert.Equal(t, make([]byte, 6), view)

	other := FromSlice(h, 2, []byte("OTHER!"))
	require.Equal(t, addr, other.Addr(), "allocator should reuse the freed address")
	copy(view, "stale!")
	assert.Equal(t, []byte("OTHER!"), other.AsSlice())
}

func TestBuffer_ViewAfterFinalizerIsDetached(t *testing.T) {
	h := New(0x1000, 0)
	var view []byte
	func() {
		view = FromSlice(h, 1, []byte("secret")).AsSlice()
	}()
	for i := 0; i < 5; i++ {
		runtime.GC()
	}
	other := FromSlice(h, 2, []byte("OTHER!"))
	assert.NotEqual(t, []byte("OTHER!"), view)
	copy(view, "stale!")
	assert.Equal(t, []byte("OTHER!"), other.AsSlice())
}

func TestBuffer_PackUnpack(t *testing.T) {
	h := New(0x1000, 0)
	b := NewUninit(h, 1, 32)
	n, err := b.Pack(&blockRecord{Block: 7, Len: 512, Name: []byte("vda\x00\x00\x00\x00\x00")})
	require.NoError(t, err)
	assert.Equal(t, 14, n)

	var out blockRecord
	require.NoError(t, b.Unpack(&out))
	assert.Equal(t, uint32(7), out.Block)
	assert.Equal(t, uint16(512), out.Len)

	small := NewUninit(h, 1, 4)
	_, err = small.Pack(&blockRecord{Name: make([]byte, 8)})
	assert.ErrorIs(t, err, models.ERANGE)
}

func TestHandle_NewGetMove(t *testing.T) {
	h := New(0x1000, 0)
	hd := NewHandle(h, 1, [4]uint64{1, 2, 3, 4})
	hd.Get()[2] = 30

	moved := hd.MoveTo(3)
	assert.Equal(t, uint64(30), moved.Get()[2])
	assert.Equal(t, models.Identity(3), moved.Owner())
	assert.PanicsWithValue(t, ErrHandleMoved, func() { hd.Get() })

	moved.Drop()
	assert.Equal(t, 0, h.Stats().Allocations)
}

// Handles bounce between owners on many goroutines; at every step exactly one
// live handle exists per object.
func TestHandle_ExclusiveOwnership(t *testing.T) {
	h := New(0x1000, 0)
	const workers = 8
	const rounds = 200

	var wg sync.WaitGroup
	var aliased atomic.Int32
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			cur := NewHandle(h, models.Identity(w+1), uint64(0))
			for i := 0; i < rounds; i++ {
				prev := cur
				cur = prev.MoveTo(models.Identity(w + 1 + i%3))
				*cur.Get() += 1
				if prev.Live() {
					aliased.Add(1)
				}
			}
			if *cur.Get() != rounds {
				aliased.Add(1)
			}
			cur.Drop()
		}(w)
	}
	wg.Wait()
	assert.Zero(t, aliased.Load(), "two live handles observed for one object")
	assert.Equal(t, 0, h.Stats().Allocations)
}
