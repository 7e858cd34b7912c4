// Package shadowblk is a block domain layered on another one. Reads that hit
// a crash of the lower device are retried once after it reloads.
package shadowblk

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/lunixbochs/domaincorn/go/domain"
	"github.com/lunixbochs/domaincorn/go/kernel/common"
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
	"github.com/lunixbochs/domaincorn/go/recovery"
)

type Shadow struct {
	id  models.Identity
	k   *common.KernelBase
	log hclog.Logger

	once    sync.Once
	blkName string
	blk     domain.BlkDevice
}

func Builder(k *common.KernelBase) common.Builder[domain.ShadowBlock] {
	return func(id models.Identity) (domain.ShadowBlock, error) {
		return &Shadow{id: id, k: k, log: k.Log.Named("shadowblk").With("id", id)}, nil
	}
}

func (s *Shadow) Init() error { return nil }

func (s *Shadow) DomainID() models.Identity { return s.id }

func (s *Shadow) Bind(blkName string) error {
	d := s.k.Registry.MustLookup(blkName)
	blk, ok := d.(domain.BlkDevice)
	if !ok {
		panic(errors.Errorf("%q is not a block domain", blkName))
	}
	s.once.Do(func() {
		s.blkName = blkName
		s.blk = blk
	})
	return nil
}

func (s *Shadow) lower() domain.BlkDevice {
	if s.blk == nil {
		panic("shadowblk: used before Bind")
	}
	return s.blk
}

// ReadBlock retries once if the lower device crashes. The caller's buffer
// went down with the device, so the retry reads into a fresh one.
func (s *Shadow) ReadBlock(block uint32, buf *heap.Buffer) (*heap.Buffer, error) {
	blk := s.lower()
	first := true
	return recovery.RetryWith(s.k, s.k.Metrics, s.log, func() (*heap.Buffer, error) {
		if !first {
			s.log.Warn("lower device crashed, rereading block", "blk", s.blkName, "block", block)
			buf = heap.NewUninit(s.k.Heap, s.id, domain.BlockSize)
		}
		first = false
		return blk.ReadBlock(block, buf)
	})
}

func (s *Shadow) WriteBlock(block uint32, buf *heap.Buffer) (int, error) {
	return recovery.Do(s.k, recovery.NonIdempotent, func() (int, error) {
		return s.lower().WriteBlock(block, buf)
	})
}

func (s *Shadow) Capacity() (uint64, error) {
	return s.lower().Capacity()
}

func (s *Shadow) Flush() error {
	return s.lower().Flush()
}

// Register installs the shadow image under name, bound to blkName.
func Register(k *common.KernelBase, name, blkName string) {
	k.Registry.RegisterFactory(name, models.ShadowBlockDomain, domain.ShadowBlockFactory(k, blkName, Builder(k)))
}
