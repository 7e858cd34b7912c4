package heap

import (
	"bytes"
	"encoding/binary"
	"io"
	"runtime"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/lunixbochs/domaincorn/go/models"
)

// fixed-layout records crossing a boundary are little endian, 8-byte aligned
var strucOptions = &struc.Options{Order: binary.LittleEndian}

// Buffer is a move-only, length-tagged byte array in the shared heap. It is the
// only way to pass variable-sized data, strings included, across a domain call.
type Buffer struct {
	holder
	n int
}

func newBuffer(h *Heap, addr, gen uint64, n int) *Buffer {
	b := &Buffer{holder: holder{heap: h, addr: addr, gen: gen}, n: n}
	runtime.SetFinalizer(b, (*Buffer).Drop)
	return b
}

// NewUninit allocates an n-byte buffer for the callee to fill. The storage
// is zeroed, never stale data from a previous allocation.
func NewUninit(h *Heap, owner models.Identity, n int) *Buffer {
	if n < 0 {
		panic(errors.Errorf("negative buffer length %d", n))
	}
	a := h.alloc(uint64(n), 8, owner, "buffer")
	return newBuffer(h, a.Addr, a.Gen, n)
}

// FromSlice copies p into a new shared buffer.
func FromSlice(h *Heap, owner models.Identity, p []byte) *Buffer {
	b := NewUninit(h, owner, len(p))
	copy(b.AsMutSlice(), p)
	return b
}

func (b *Buffer) Len() int { return b.n }

func (b *Buffer) bytes() []byte {
	b.check()
	if _, err := b.heap.Owner(b.addr, b.gen); err != nil {
		panic(err)
	}
	return b.heap.Bytes(b.addr)[:b.n:b.n]
}

// AsSlice returns exactly Len() bytes of the buffer. A slice kept after the
// buffer is dropped (or finalized) sees zeroes and never another owner's data.
func (b *Buffer) AsSlice() []byte { return b.bytes() }

// AsMutSlice is AsSlice for a holder that intends to write.
func (b *Buffer) AsMutSlice() []byte { return b.bytes() }

// String copies the payload out as a Go string.
func (b *Buffer) String() string { return string(b.bytes()) }

func (b *Buffer) Move() *Buffer {
	return b.MoveTo(b.Owner())
}

// MoveTo transfers ownership to id; the receiver is dead afterwards.
func (b *Buffer) MoveTo(id models.Identity) *Buffer {
	gen := b.transfer(id)
	runtime.SetFinalizer(b, nil)
	return newBuffer(b.heap, b.addr, gen, b.n)
}

func (b *Buffer) Drop() {
	runtime.SetFinalizer(b, nil)
	b.drop()
}

// Stream returns a reader/writer over the buffer payload.
func (b *Buffer) Stream() *Stream {
	return &Stream{buf: b}
}

// Pack writes a fixed-layout struct at the start of the buffer and returns
// the number of bytes used. A record larger than the buffer is ERANGE.
func (b *Buffer) Pack(v interface{}) (int, error) {
	var tmp bytes.Buffer
	if err := struc.PackWithOptions(&tmp, v, strucOptions); err != nil {
		return 0, errors.Wrap(err, "struc.Pack() failed")
	}
	if tmp.Len() > b.Len() {
		return 0, errors.Wrapf(models.ERANGE, "record of %d bytes in %d byte buffer", tmp.Len(), b.Len())
	}
	return copy(b.AsMutSlice(), tmp.Bytes()), nil
}

func (b *Buffer) Unpack(v interface{}) error {
	return errors.Wrap(struc.UnpackWithOptions(bytes.NewReader(b.AsSlice()), v, strucOptions), "struc.Unpack() failed")
}

// Stream reads and writes a Buffer sequentially.
type Stream struct {
	buf *Buffer
	off int
}

func (s *Stream) Read(p []byte) (int, error) {
	data := s.buf.AsSlice()
	if s.off >= len(data) {
		return 0, io.EOF
	}
	n := copy(p, data[s.off:])
	s.off += n
	return n, nil
}

func (s *Stream) Write(p []byte) (int, error) {
	data := s.buf.AsMutSlice()
	n := copy(data[s.off:], p)
	s.off += n
	if n < len(p) {
		return n, errors.Wrap(models.ERANGE, "write past end of shared buffer")
	}
	return n, nil
}

func (s *Stream) Pack(v interface{}) error {
	return struc.PackWithOptions(s, v, strucOptions)
}

func (s *Stream) Unpack(v interface{}) error {
	return struc.UnpackWithOptions(s, v, strucOptions)
}
