package common

import (
	"strconv"

	"github.com/lunixbochs/argjoy"
	"github.com/pkg/errors"

	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
)

// commonArgCodec converts command line words into domain method arguments.
// Byte payloads become kernel-owned shared buffers; a buffer passes through.
func (k *KernelBase) commonArgCodec(arg interface{}, vals []interface{}) error {
	if buf, ok := vals[0].(*heap.Buffer); ok {
		if v, ok := arg.(**heap.Buffer); ok {
			*v = buf
			return nil
		}
		return argjoy.NoMatch
	}
	s, ok := vals[0].(string)
	if !ok {
		return argjoy.NoMatch
	}
	var err error
	switch v := arg.(type) {
	case *string:
		*v = s
	case **heap.Buffer:
		*v = heap.FromSlice(k.Heap, models.KernelIdentity, []byte(s))
	case *[]byte:
		*v = []byte(s)
	case *bool:
		*v, err = strconv.ParseBool(s)
	case *int:
		var n int64
		n, err = strconv.ParseInt(s, 0, 0)
		*v = int(n)
	case *int64:
		*v, err = strconv.ParseInt(s, 0, 64)
	case *uint:
		var n uint64
		n, err = strconv.ParseUint(s, 0, 0)
		*v = uint(n)
	case *uint32:
		var n uint64
		n, err = strconv.ParseUint(s, 0, 32)
		*v = uint32(n)
	case *uint64:
		*v, err = strconv.ParseUint(s, 0, 64)
	case *models.Identity:
		var n uint64
		n, err = strconv.ParseUint(s, 0, 64)
		*v = models.Identity(n)
	default:
		return argjoy.NoMatch
	}
	return errors.Wrapf(err, "converting %q", s)
}
