package models

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Errno is an ordinary domain-level error. It is always recoverable by the
// caller and propagates unchanged up to the syscall layer.
type Errno int

const (
	EPERM  Errno = 1
	ENOENT Errno = 2
	EIO    Errno = 5
	EBADF  Errno = 9
	EAGAIN Errno = 11
	ENOMEM Errno = 12
	EINVAL Errno = 22
	ERANGE Errno = 34
)

var errnoNames = map[Errno]string{
	EPERM:  "operation not permitted",
	ENOENT: "no such file or directory",
	EIO:    "input/output error",
	EBADF:  "bad file descriptor",
	EAGAIN: "resource temporarily unavailable",
	ENOMEM: "cannot allocate memory",
	EINVAL: "invalid argument",
	ERANGE: "result out of range",
}

func (e Errno) Error() string {
	if s, ok := errnoNames[e]; ok {
		return s
	}
	return fmt.Sprintf("errno %d", int(e))
}

// ErrDomainCrash is matched by every error produced by the crash boundary.
var ErrDomainCrash = errors.New("domain crash")

// CrashError describes one intercepted fault inside a domain.
type CrashError struct {
	Domain   string
	Identity Identity
	Method   string
	Value    interface{}
	Stack    []byte
	Incident uuid.UUID
}

func (c *CrashError) Error() string {
	if c.Method != "" {
		return fmt.Sprintf("domain crash: %s(%s).%s: %v [%s]", c.Domain, c.Identity, c.Method, c.Value, c.Incident)
	}
	return fmt.Sprintf("domain crash: %s(%s): %v [%s]", c.Domain, c.Identity, c.Value, c.Incident)
}

func (c *CrashError) Is(target error) bool {
	return target == ErrDomainCrash
}

// IsCrash reports whether err, or anything it wraps, is a domain crash.
func IsCrash(err error) bool {
	return errors.Is(err, ErrDomainCrash)
}

// FatalError is an unrecoverable kernel condition: shared heap exhaustion or
// corruption. It is raised with panic and is never converted to a value.
type FatalError struct {
	Reason string
	Addr   uint64
	Size   uint64
}

func (f *FatalError) Error() string {
	if f.Size > 0 {
		return fmt.Sprintf("kernel abort: %s (addr=%#x size=%#x)", f.Reason, f.Addr, f.Size)
	}
	return fmt.Sprintf("kernel abort: %s (addr=%#x)", f.Reason, f.Addr)
}

// SyscallErrno maps any error to what a syscall reports to the application.
// A domain that crashed and could not be recovered shows up as EIO.
func SyscallErrno(err error) Errno {
	if err == nil {
		return 0
	}
	if IsCrash(err) {
		return EIO
	}
	var errno Errno
	if errors.As(err, &errno) {
		return errno
	}
	return EIO
}
