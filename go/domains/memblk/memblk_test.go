package memblk

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/domaincorn/go/domain"
	"github.com/lunixbochs/domaincorn/go/kernel/common"
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
)

func newDevice(t *testing.T, faults *Faults) (*common.KernelBase, *domain.BlkDeviceProxy) {
	k := common.NewKernelBase(heap.New(0x1000, 1<<22), nil)
	p := domain.NewBlkDeviceProxy("blk", k, Builder(k, "blk", 8, faults))
	require.NoError(t, p.Init())
	return k, p
}

func TestReadWrite(t *testing.T) {
	k, p := newDevice(t, nil)
	data := bytes.Repeat([]byte{0xaa}, domain.BlockSize)
	src := heap.FromSlice(k.Heap, models.KernelIdentity, data)
	n, err := p.WriteBlock(3, src)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockSize, n)
	assert.True(t, src.Live(), "writes only borrow the buffer")

	buf := heap.NewUninit(k.Heap, models.KernelIdentity, domain.BlockSize)
	out, err := p.ReadBlock(3, buf)
	require.NoError(t, err)
	assert.False(t, buf.Live(), "reads take the buffer")
	assert.Equal(t, models.KernelIdentity, out.Owner())
	assert.Equal(t, data, out.AsSlice())

	size, err := p.Capacity()
	require.NoError(t, err)
	assert.Equal(t, uint64(8*domain.BlockSize), size)
	assert.NoError(t, p.Flush())
}

func TestOutOfRange(t *testing.T) {
	k, p := newDevice(t, nil)
	before := k.Heap.Stats().Allocations
	_, err := p.ReadBlock(8, heap.NewUninit(k.Heap, models.KernelIdentity, domain.BlockSize))
	assert.True(t, errors.Is(err, models.EINVAL))
	assert.Equal(t, before, k.Heap.Stats().Allocations)

	_, err = p.WriteBlock(0, heap.NewUninit(k.Heap, models.KernelIdentity, 16))
	assert.True(t, errors.Is(err, models.EINVAL))
}

func TestInjectedFaultKeepsDisk(t *testing.T) {
	faults := &Faults{}
	k, p := newDevice(t, faults)
	_, err := p.WriteBlock(1, heap.FromSlice(k.Heap, models.KernelIdentity, bytes.Repeat([]byte("x"), domain.BlockSize)))
	require.NoError(t, err)
	old := p.DomainID()

	faults.CrashOn(1)
	buf := heap.NewUninit(k.Heap, models.KernelIdentity, domain.BlockSize)
	_, err = p.ReadBlock(1, buf)
	require.True(t, models.IsCrash(err))
	assert.False(t, buf.Live(), "the buffer died with the device")
	assert.NotEqual(t, old, p.DomainID())

	faults.Clear()
	out, err := p.ReadBlock(1, heap.NewUninit(k.Heap, models.KernelIdentity, domain.BlockSize))
	require.NoError(t, err)
	assert.Equal(t, byte('x'), out.AsSlice()[0])
}

func TestCrashNext(t *testing.T) {
	f := &Faults{}
	f.CrashNext(2)
	assert.True(t, f.hit(0))
	assert.True(t, f.hit(5))
	assert.False(t, f.hit(0))

	var none *Faults
	assert.False(t, none.hit(0))
}
