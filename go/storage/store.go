// Package storage is the persistent state store: string keys mapped to values
// living in the shared heap, so domain state outlives the instance that
// created it.
//
// Values are owned by the kernel identity, never by a domain, so the crash
// boundary's heap reconciliation leaves them alone. The store only guards its
// own key map; values shared between instances or harts carry their own
// locks (a sync.Mutex field, an atomic counter, ...).
package storage

import (
	"reflect"
	"sort"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
)

var ErrTypeMismatch = errors.New("store entry has a different type")

type entry struct {
	key  string
	typ  reflect.Type
	ptr  interface{}
	addr uint64
	gen  uint64
}

type Store struct {
	mu      sync.RWMutex
	heap    *heap.Heap
	entries map[string]*entry
	// one in-flight init per key; init runs without s.mu held
	inits singleflight.Group
}

func New(h *heap.Heap) *Store {
	return &Store{heap: h, entries: make(map[string]*entry)}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// put allocates the slot for v. Caller holds s.mu.
func put[T any](s *Store, key string, v *T) *entry {
	var zero T
	addr, gen := s.heap.PutObject(v, uint64(unsafe.Sizeof(zero)), uint64(unsafe.Alignof(zero)), models.KernelIdentity, "store:"+key)
	e := &entry{key: key, typ: typeOf[T](), ptr: v, addr: addr, gen: gen}
	s.entries[key] = e
	return e
}

// drop releases the slot backing e. Caller holds s.mu.
func (s *Store) drop(e *entry) {
	delete(s.entries, e.key)
	s.heap.Free(e.addr, e.gen)
}

func Get[T any](s *Store, key string) (*T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	p, ok := e.ptr.(*T)
	return p, ok
}

// Insert stores v under key, replacing (and freeing) any previous value.
func Insert[T any](s *Store, key string, v T) *T {
	p := new(T)
	*p = v
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[key]; ok {
		s.drop(old)
	}
	put(s, key, p)
	return p
}

// GetOrInsertWith returns the value under key, building it with init only if
// the key is unset. Concurrent callers for the same key all get the same
// pointer and init runs at most once. init runs without the store locked, so
// it may read or build other keys; it must not ask for key itself.
func GetOrInsertWith[T any](s *Store, key string, init func() T) (*T, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		v, err, _ := s.inits.Do(key, func() (interface{}, error) {
			s.mu.RLock()
			e, ok := s.entries[key]
			s.mu.RUnlock()
			if ok {
				return e, nil
			}
			p := new(T)
			*p = init()
			s.mu.Lock()
			defer s.mu.Unlock()
			// an Insert may have won while init ran
			if e, ok := s.entries[key]; ok {
				return e, nil
			}
			return put(s, key, p), nil
		})
		if err != nil {
			return nil, err
		}
		e = v.(*entry)
	}
	p, ok := e.ptr.(*T)
	if !ok {
		return nil, errors.Wrapf(ErrTypeMismatch, "key %q holds %s, not %s", key, e.typ, typeOf[T]())
	}
	return p, nil
}

// GetOrInsert is GetOrInsertWith with the zero value of T.
func GetOrInsert[T any](s *Store, key string) (*T, error) {
	return GetOrInsertWith(s, key, func() (v T) { return v })
}

// Remove deletes key and returns its final value. A key of another type is
// left in place.
func Remove[T any](s *Store, key string) (T, bool) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return zero, false
	}
	p, ok := e.ptr.(*T)
	if !ok {
		return zero, false
	}
	s.drop(e)
	return *p, true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

type KeyInfo struct {
	Key  string `yaml:"key"`
	Type string `yaml:"type"`
	Addr uint64 `yaml:"addr"`
}

// Keys returns every key, sorted, with the stored type and heap address.
func (s *Store) Keys() []KeyInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]KeyInfo, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, KeyInfo{Key: e.key, Type: e.typ.String(), Addr: e.addr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
