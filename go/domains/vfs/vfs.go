// Package vfs is a minimal file table domain. All of its state is kept in
// the store, so a reloaded instance carries on with the same descriptors,
// inode numbers and device ids.
package vfs

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/lunixbochs/domaincorn/go/domain"
	"github.com/lunixbochs/domaincorn/go/kernel/common"
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
	"github.com/lunixbochs/domaincorn/go/storage"
)

const (
	InitKey    = "vfs_init"
	InodeKey   = "inode_id"
	DeviceKey  = "device_id_manager"
	FdKey      = "fd_next"
	kfilePfx   = "kfile_"
	firstInode = 4
	firstFd    = 3
	maxPath    = 64
)

type deviceIDs struct {
	sync.Mutex
	next map[domain.DeviceKind]uint32
}

// kfile is the state of one open descriptor.
type kfile struct {
	Path  string
	Inode uint64
}

func kfileKey(fd int) string { return fmt.Sprintf("%s%d", kfilePfx, fd) }

type Vfs struct {
	id  models.Identity
	k   *common.KernelBase
	log hclog.Logger

	inode   *uint64
	fd      *uint64
	devices *deviceIDs
}

func Builder(k *common.KernelBase) common.Builder[domain.Vfs] {
	return func(id models.Identity) (domain.Vfs, error) {
		return &Vfs{id: id, k: k, log: k.Log.Named("vfs").With("id", id)}, nil
	}
}

func Register(k *common.KernelBase, name string) {
	k.Registry.RegisterFactory(name, models.VfsDomain, domain.VfsFactory(k, Builder(k)))
}

func (v *Vfs) Init() (err error) {
	s := v.k.Store
	if v.inode, err = storage.GetOrInsertWith(s, InodeKey, func() uint64 { return firstInode }); err != nil {
		return err
	}
	if v.fd, err = storage.GetOrInsertWith(s, FdKey, func() uint64 { return firstFd }); err != nil {
		return err
	}
	if v.devices, err = storage.GetOrInsert[deviceIDs](s, DeviceKey); err != nil {
		return err
	}
	done, err := storage.GetOrInsert[bool](s, InitKey)
	if err != nil {
		return err
	}
	if *done {
		v.log.Info("reusing file table", "next_inode", atomic.LoadUint64(v.inode))
		return nil
	}
	*done = true
	v.log.Info("file table initialized")
	return nil
}

func (v *Vfs) DomainID() models.Identity { return v.id }

func (v *Vfs) AllocInode() (uint64, error) {
	return atomic.AddUint64(v.inode, 1) - 1, nil
}

// AllocDevice hands out the next minor number for kind; minors start at 1.
func (v *Vfs) AllocDevice(kind domain.DeviceKind) (domain.DeviceID, error) {
	if kind != domain.CharDevice && kind != domain.BlockDevice {
		return domain.DeviceID{}, errors.Wrapf(models.EINVAL, "device kind %d", kind)
	}
	v.devices.Lock()
	defer v.devices.Unlock()
	if v.devices.next == nil {
		v.devices.next = make(map[domain.DeviceKind]uint32)
	}
	v.devices.next[kind]++
	return domain.DeviceID{Major: uint32(kind), Minor: v.devices.next[kind]}, nil
}

func (v *Vfs) Open(path *heap.Buffer) (int, error) {
	p := path.String()
	switch {
	case p == "":
		return 0, errors.Wrap(models.ENOENT, "empty path")
	case len(p) > maxPath:
		return 0, errors.Wrapf(models.ERANGE, "path of %d bytes", len(p))
	}
	inode, _ := v.AllocInode()
	fd := int(atomic.AddUint64(v.fd, 1) - 1)
	storage.Insert(v.k.Store, kfileKey(fd), kfile{Path: p, Inode: inode})
	v.log.Debug("open", "path", p, "fd", fd, "inode", inode)
	return fd, nil
}

func (v *Vfs) Close(fd int) error {
	if _, ok := storage.Remove[kfile](v.k.Store, kfileKey(fd)); !ok {
		return errors.Wrapf(models.EBADF, "close(%d)", fd)
	}
	return nil
}

func (v *Vfs) Stat(fd int, buf *heap.Buffer) (*heap.Buffer, error) {
	f, ok := storage.Get[kfile](v.k.Store, kfileKey(fd))
	if !ok {
		buf.Drop()
		return nil, errors.Wrapf(models.EBADF, "stat(%d)", fd)
	}
	rec := domain.Stat{
		Inode:   f.Inode,
		PathLen: uint16(len(f.Path)),
		Path:    make([]byte, maxPath),
	}
	copy(rec.Path, f.Path)
	if _, err := buf.Pack(&rec); err != nil {
		buf.Drop()
		return nil, err
	}
	return buf, nil
}
