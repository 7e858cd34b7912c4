// Package memblk is a RAM disk block domain. The disk contents live in the
// state store, so they survive the device crashing.
package memblk

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/lunixbochs/domaincorn/go/domain"
	"github.com/lunixbochs/domaincorn/go/kernel/common"
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
	"github.com/lunixbochs/domaincorn/go/storage"
)

// Faults arms injected crashes. It belongs to the image, not the instance,
// so it can be armed before a reload.
type Faults struct {
	mu     sync.Mutex
	blocks map[uint32]bool
	next   int
}

// CrashOn makes every access to block panic until Clear.
func (f *Faults) CrashOn(block uint32) {
	f.mu.Lock()
	if f.blocks == nil {
		f.blocks = make(map[uint32]bool)
	}
	f.blocks[block] = true
	f.mu.Unlock()
}

// CrashNext makes the next n accesses panic.
func (f *Faults) CrashNext(n int) {
	f.mu.Lock()
	f.next += n
	f.mu.Unlock()
}

func (f *Faults) Clear() {
	f.mu.Lock()
	f.blocks = nil
	f.next = 0
	f.mu.Unlock()
}

func (f *Faults) hit(block uint32) bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next > 0 {
		f.next--
		return true
	}
	return f.blocks[block]
}

type disk struct {
	sync.RWMutex
	data []byte
}

type Device struct {
	id     models.Identity
	k      *common.KernelBase
	key    string
	blocks uint32
	faults *Faults
	log    hclog.Logger

	disk *disk
}

// Builder returns the image of a RAM disk of blocks blocks, stored under
// the store key "memblk_<name>".
func Builder(k *common.KernelBase, name string, blocks uint32, faults *Faults) common.Builder[domain.BlkDevice] {
	return func(id models.Identity) (domain.BlkDevice, error) {
		if blocks == 0 {
			return nil, errors.Wrap(models.EINVAL, "memblk needs at least one block")
		}
		return &Device{
			id:     id,
			k:      k,
			key:    "memblk_" + name,
			blocks: blocks,
			faults: faults,
			log:    k.Log.Named("memblk").With("id", id),
		}, nil
	}
}

func (d *Device) Init() error {
	size := int(d.blocks) * domain.BlockSize
	p, err := storage.GetOrInsertWith(d.k.Store, d.key, func() *disk {
		return &disk{data: make([]byte, size)}
	})
	if err != nil {
		return err
	}
	d.disk = *p
	d.log.Debug("attached disk", "blocks", d.blocks)
	return nil
}

func (d *Device) DomainID() models.Identity { return d.id }

func (d *Device) check(op string, block uint32, buf *heap.Buffer) error {
	if d.faults.hit(block) {
		panic(fmt.Sprintf("memblk: injected fault in %s of block %d", op, block))
	}
	if block >= d.blocks {
		return errors.Wrapf(models.EINVAL, "block %d past end of %d block disk", block, d.blocks)
	}
	if buf.Len() < domain.BlockSize {
		return errors.Wrapf(models.EINVAL, "%d byte buffer for %d byte block", buf.Len(), domain.BlockSize)
	}
	return nil
}

func (d *Device) ReadBlock(block uint32, buf *heap.Buffer) (*heap.Buffer, error) {
	if err := d.check("read", block, buf); err != nil {
		buf.Drop()
		return nil, err
	}
	d.disk.RLock()
	off := int(block) * domain.BlockSize
	copy(buf.AsMutSlice(), d.disk.data[off:off+domain.BlockSize])
	d.disk.RUnlock()
	return buf, nil
}

func (d *Device) WriteBlock(block uint32, buf *heap.Buffer) (int, error) {
	if err := d.check("write", block, buf); err != nil {
		return 0, err
	}
	d.disk.Lock()
	off := int(block) * domain.BlockSize
	n := copy(d.disk.data[off:off+domain.BlockSize], buf.AsSlice())
	d.disk.Unlock()
	return n, nil
}

func (d *Device) Capacity() (uint64, error) {
	return uint64(d.blocks) * domain.BlockSize, nil
}

func (d *Device) Flush() error { return nil }

// Register installs a RAM disk image under name.
func Register(k *common.KernelBase, name string, blocks uint32, faults *Faults) {
	k.Registry.RegisterFactory(name, models.BlkDeviceDomain, domain.BlkDeviceFactory(k, Builder(k, name, blocks, faults)))
}
