// Package domain declares the kinds of domain the kernel knows how to call,
// and the proxies callers hold instead of the instances themselves.
package domain

import (
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
)

const BlockSize = 512

// BlkDevice is a block device. ReadBlock takes ownership of buf, fills it
// and hands it back; WriteBlock only reads buf.
type BlkDevice interface {
	models.Domain
	ReadBlock(block uint32, buf *heap.Buffer) (*heap.Buffer, error)
	WriteBlock(block uint32, buf *heap.Buffer) (int, error)
	Capacity() (uint64, error)
	Flush() error
}

// ShadowBlock fronts another block domain and hides its crashes from readers.
type ShadowBlock interface {
	BlkDevice
	// Bind attaches the block domain registered as blkName. It is a hard
	// dependency: an unknown name crashes the shadow domain.
	Bind(blkName string) error
}

// Task is the scheduling record of one task.
type Task struct {
	ID   uint64
	Name string
	// bit n set: the task may run on hart n
	CPUsAllowed uint64
}

func (t *Task) Allowed(hart int) bool {
	return t.CPUsAllowed&(1<<uint(hart)) != 0
}

// Scheduler queues tasks for the harts. AddTask takes ownership of the task;
// FetchTask returns nil when nothing may run on hart.
type Scheduler interface {
	models.Domain
	AddTask(task *heap.Handle[Task]) error
	FetchTask(hart int) (*heap.Handle[Task], error)
	Len() (int, error)
}

type DeviceKind uint32

const (
	CharDevice  DeviceKind = 2
	BlockDevice DeviceKind = 3
)

func (k DeviceKind) String() string {
	switch k {
	case CharDevice:
		return "char"
	case BlockDevice:
		return "block"
	}
	return "invalid"
}

type DeviceID struct {
	Major uint32
	Minor uint32
}

// StatSize is the packed size of a Stat record.
const StatSize = 94

// Stat is the fixed layout record Vfs.Stat packs into the caller's buffer.
type Stat struct {
	Inode   uint64
	Major   uint32
	Minor   uint32
	Size    uint64
	Flags   uint32
	PathLen uint16
	Path    []byte `struc:"[64]byte"`
}

// Vfs is a minimal file table. Open only reads the path buffer; Stat takes
// ownership of buf and returns it with a Stat record packed at the start.
type Vfs interface {
	models.Domain
	AllocInode() (uint64, error)
	AllocDevice(kind DeviceKind) (DeviceID, error)
	Open(path *heap.Buffer) (int, error)
	Close(fd int) error
	Stat(fd int, buf *heap.Buffer) (*heap.Buffer, error)
}
