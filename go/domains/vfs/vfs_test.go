package vfs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/domaincorn/go/domain"
	"github.com/lunixbochs/domaincorn/go/kernel/common"
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
	"github.com/lunixbochs/domaincorn/go/storage"
)

func newVfs(t *testing.T) (*common.KernelBase, *domain.VfsProxy) {
	k := common.NewKernelBase(heap.New(0x1000, 1<<20), nil)
	p := domain.NewVfsProxy("vfs", k, Builder(k))
	require.NoError(t, p.Init())
	return k, p
}

func path(k *common.KernelBase, s string) *heap.Buffer {
	return heap.FromSlice(k.Heap, models.KernelIdentity, []byte(s))
}

func crash(t *testing.T, p *domain.VfsProxy) {
	err := p.Guard("crash", func(domain.Vfs) error { panic("vfs bug") })
	require.True(t, models.IsCrash(err))
}

func TestInodeCounterSurvivesReload(t *testing.T) {
	k, p := newVfs(t)
	for want := uint64(4); want < 7; want++ {
		got, err := p.AllocInode()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	crash(t, p)
	got, err := p.AllocInode()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got)

	done, ok := storage.Get[bool](k.Store, InitKey)
	require.True(t, ok)
	assert.True(t, *done)
}

func TestDeviceIDs(t *testing.T) {
	_, p := newVfs(t)
	id, err := p.AllocDevice(domain.CharDevice)
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceID{Major: 2, Minor: 1}, id)
	id, _ = p.AllocDevice(domain.BlockDevice)
	assert.Equal(t, domain.DeviceID{Major: 3, Minor: 1}, id)
	id, _ = p.AllocDevice(domain.CharDevice)
	assert.Equal(t, domain.DeviceID{Major: 2, Minor: 2}, id)

	crash(t, p)
	id, _ = p.AllocDevice(domain.CharDevice)
	assert.Equal(t, domain.DeviceID{Major: 2, Minor: 3}, id)

	_, err = p.AllocDevice(domain.DeviceKind(9))
	assert.True(t, errors.Is(err, models.EINVAL))
}

func TestOpenStatClose(t *testing.T) {
	k, p := newVfs(t)
	fd, err := p.Open(path(k, "/dev/sda"))
	require.NoError(t, err)
	assert.Equal(t, firstFd, fd)

	crash(t, p)

	out, err := p.Stat(fd, heap.NewUninit(k.Heap, models.KernelIdentity, domain.StatSize))
	require.NoError(t, err)
	var st domain.Stat
	require.NoError(t, out.Unpack(&st))
	assert.Equal(t, uint16(8), st.PathLen)
	assert.Equal(t, "/dev/sda", string(st.Path[:st.PathLen]))
	assert.Equal(t, uint64(firstInode), st.Inode)

	require.NoError(t, p.Close(fd))
	_, ok := storage.Get[kfile](k.Store, kfileKey(fd))
	assert.False(t, ok)
	assert.True(t, errors.Is(p.Close(fd), models.EBADF))

	_, err = p.Stat(fd, heap.NewUninit(k.Heap, models.KernelIdentity, domain.StatSize))
	assert.True(t, errors.Is(err, models.EBADF))
}

func TestStatBufferTooSmall(t *testing.T) {
	k, p := newVfs(t)
	pb := path(k, "/etc/passwd")
	fd, err := p.Open(pb)
	require.NoError(t, err)
	pb.Drop()
	before := k.Heap.Stats().Allocations
	_, err = p.Stat(fd, heap.NewUninit(k.Heap, models.KernelIdentity, 8))
	assert.True(t, errors.Is(err, models.ERANGE))
	assert.Equal(t, before, k.Heap.Stats().Allocations)
}

func TestOpenBadPath(t *testing.T) {
	k, p := newVfs(t)
	_, err := p.Open(path(k, ""))
	assert.True(t, errors.Is(err, models.ENOENT))
	_, err = p.Open(path(k, string(make([]byte, 65))))
	assert.True(t, errors.Is(err, models.ERANGE))
}
