package domain

import (
	"github.com/lunixbochs/domaincorn/go/kernel/common"
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
	"github.com/lunixbochs/domaincorn/go/registry"
)

// giveBack moves a buffer the callee returned to the caller's identity.
func giveBack(out *heap.Buffer, owner models.Identity) *heap.Buffer {
	if out == nil || !out.Live() {
		return out
	}
	return out.MoveTo(owner)
}

type blkCalls[D BlkDevice] struct {
	*common.Proxy[D]
}

// ReadBlock moves buf into the device and the filled buffer back to the
// caller. If the device crashes, buf is gone with it.
func (p blkCalls[D]) ReadBlock(block uint32, buf *heap.Buffer) (*heap.Buffer, error) {
	owner := buf.Owner()
	return common.Call(p.Proxy, "read_block", func(d D) (*heap.Buffer, error) {
		out, err := d.ReadBlock(block, buf.MoveTo(d.DomainID()))
		return giveBack(out, owner), err
	})
}

func (p blkCalls[D]) WriteBlock(block uint32, buf *heap.Buffer) (int, error) {
	return common.Call(p.Proxy, "write_block", func(d D) (int, error) {
		return d.WriteBlock(block, buf)
	})
}

func (p blkCalls[D]) Capacity() (uint64, error) {
	return common.Call(p.Proxy, "capacity", func(d D) (uint64, error) {
		return d.Capacity()
	})
}

func (p blkCalls[D]) Flush() error {
	return p.Guard("flush", func(d D) error {
		return d.Flush()
	})
}

type BlkDeviceProxy struct {
	blkCalls[BlkDevice]
}

func NewBlkDeviceProxy(name string, base *common.KernelBase, build common.Builder[BlkDevice]) *BlkDeviceProxy {
	return &BlkDeviceProxy{blkCalls[BlkDevice]{common.NewProxy(name, models.BlkDeviceDomain, base, build)}}
}

type ShadowBlockProxy struct {
	blkCalls[ShadowBlock]
}

func NewShadowBlockProxy(name string, base *common.KernelBase, build common.Builder[ShadowBlock]) *ShadowBlockProxy {
	return &ShadowBlockProxy{blkCalls[ShadowBlock]{common.NewProxy(name, models.ShadowBlockDomain, base, build)}}
}

// Bind is replayed on every reloaded instance.
func (p *ShadowBlockProxy) Bind(blkName string) error {
	return p.OnLoad("bind", func(d ShadowBlock) error {
		return d.Bind(blkName)
	})
}

type SchedulerProxy struct {
	*common.Proxy[Scheduler]
}

func NewSchedulerProxy(name string, base *common.KernelBase, build common.Builder[Scheduler]) *SchedulerProxy {
	return &SchedulerProxy{common.NewProxy(name, models.SchedulerDomain, base, build)}
}

func (p *SchedulerProxy) AddTask(task *heap.Handle[Task]) error {
	// a dead handle panics here, on the caller's side of the boundary
	task.Owner()
	return p.Guard("add_task", func(d Scheduler) error {
		return d.AddTask(task.MoveTo(d.DomainID()))
	})
}

// FetchTask hands the task to the kernel.
func (p *SchedulerProxy) FetchTask(hart int) (*heap.Handle[Task], error) {
	return common.Call(p.Proxy, "fetch_task", func(d Scheduler) (*heap.Handle[Task], error) {
		task, err := d.FetchTask(hart)
		if task == nil {
			return nil, err
		}
		return task.MoveTo(models.KernelIdentity), err
	})
}

func (p *SchedulerProxy) Len() (int, error) {
	return common.Call(p.Proxy, "len", Scheduler.Len)
}

type VfsProxy struct {
	*common.Proxy[Vfs]
}

func NewVfsProxy(name string, base *common.KernelBase, build common.Builder[Vfs]) *VfsProxy {
	return &VfsProxy{common.NewProxy(name, models.VfsDomain, base, build)}
}

func (p *VfsProxy) AllocInode() (uint64, error) {
	return common.Call(p.Proxy, "alloc_inode", Vfs.AllocInode)
}

func (p *VfsProxy) AllocDevice(kind DeviceKind) (DeviceID, error) {
	return common.Call(p.Proxy, "alloc_device", func(d Vfs) (DeviceID, error) {
		return d.AllocDevice(kind)
	})
}

func (p *VfsProxy) Open(path *heap.Buffer) (int, error) {
	return common.Call(p.Proxy, "open", func(d Vfs) (int, error) {
		return d.Open(path)
	})
}

func (p *VfsProxy) Close(fd int) error {
	return p.Guard("close", func(d Vfs) error {
		return d.Close(fd)
	})
}

func (p *VfsProxy) Stat(fd int, buf *heap.Buffer) (*heap.Buffer, error) {
	owner := buf.Owner()
	return common.Call(p.Proxy, "stat", func(d Vfs) (*heap.Buffer, error) {
		out, err := d.Stat(fd, buf.MoveTo(d.DomainID()))
		return giveBack(out, owner), err
	})
}

func factory[P models.Domain](p P) (models.Domain, error) {
	if err := p.Init(); err != nil {
		return nil, err
	}
	return p, nil
}

// BlkDeviceFactory turns a builder into a registry image. Every Create gets
// a new proxy around a freshly built instance.
func BlkDeviceFactory(base *common.KernelBase, build common.Builder[BlkDevice]) registry.Factory {
	return func(name string) (models.Domain, error) {
		return factory(NewBlkDeviceProxy(name, base, build))
	}
}

// ShadowBlockFactory binds each new shadow domain to blkName.
func ShadowBlockFactory(base *common.KernelBase, blkName string, build common.Builder[ShadowBlock]) registry.Factory {
	return func(name string) (models.Domain, error) {
		p := NewShadowBlockProxy(name, base, build)
		if err := p.Init(); err != nil {
			return nil, err
		}
		if err := p.Bind(blkName); err != nil {
			return nil, err
		}
		return p, nil
	}
}

func SchedulerFactory(base *common.KernelBase, build common.Builder[Scheduler]) registry.Factory {
	return func(name string) (models.Domain, error) {
		return factory(NewSchedulerProxy(name, base, build))
	}
}

func VfsFactory(base *common.KernelBase, build common.Builder[Vfs]) registry.Factory {
	return func(name string) (models.Domain, error) {
		return factory(NewVfsProxy(name, base, build))
	}
}
