package models

import (
	"fmt"
	"sync/atomic"
)

// Identity is the numeric id of one domain instance. It is assigned at load
// time and changes when a logical domain is reloaded.
type Identity uint64

// KernelIdentity owns objects held by the kernel itself rather than any domain.
const KernelIdentity Identity = 0

var lastIdentity atomic.Uint64

// NextIdentity returns a fresh identity. Identities are never reused.
func NextIdentity() Identity {
	return Identity(lastIdentity.Add(1))
}

func (i Identity) String() string {
	if i == KernelIdentity {
		return "kernel"
	}
	return fmt.Sprintf("domain#%d", uint64(i))
}
