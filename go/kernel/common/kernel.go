// Package common holds what every domain kind shares: the kernel services a
// domain is built against and the proxy that guards calls into it.
package common

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	"github.com/lunixbochs/argjoy"

	"github.com/lunixbochs/domaincorn/go/metrics"
	"github.com/lunixbochs/domaincorn/go/models/heap"
	"github.com/lunixbochs/domaincorn/go/registry"
	"github.com/lunixbochs/domaincorn/go/storage"
)

// KernelBase is the set of process-wide services. It is built once and never
// torn down; domain instances come and go around it.
type KernelBase struct {
	Heap     *heap.Heap
	Registry *registry.Registry
	Store    *storage.Store
	Metrics  *metrics.Metrics
	Log      hclog.Logger
	Argjoy   argjoy.Argjoy
	// longest buffer payload quoted in call traces
	Strsize int
}

func NewKernelBase(h *heap.Heap, logger hclog.Logger) *KernelBase {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	k := &KernelBase{
		Heap:     h,
		Registry: registry.New(),
		Store:    storage.New(h),
		Metrics:  metrics.New(),
		Log:      logger,
		Strsize:  30,
	}
	k.Argjoy.Register(k.commonArgCodec)
	k.Argjoy.Register(argjoy.IntToInt)
	return k
}

// Checkout frees shared heap state still owned by crashed domains. Callers
// run it after seeing a domain crash and before retrying.
func (k *KernelBase) Checkout() int {
	n := k.Heap.Checkout()
	k.Metrics.RecordReconciled(n)
	return n
}

// Sample copies heap and store sizes into the gauges.
func (k *KernelBase) Sample() {
	if k.Metrics == nil {
		return
	}
	st := k.Heap.Stats()
	k.Metrics.HeapInUse.Set(float64(st.InUse))
	k.Metrics.HeapAllocs.Set(float64(st.Allocations))
	k.Metrics.StoreEntries.Set(float64(k.Store.Len()))
}

func camelToSnakeCase(name string) string {
	var words []string
	last := 0
	for i, c := range name {
		if unicode.IsUpper(c) {
			if i > 0 {
				words = append(words, name[last:i])
			}
			last = i
		}
	}
	words = append(words, name[last:])
	return strings.ToLower(strings.Join(words, "_"))
}

// Method is one entry of a domain's reflective dispatch table.
type Method struct {
	Name   string
	Method reflect.Method
	In     []reflect.Type
	Out    []reflect.Type
}

var methodCache sync.Map // reflect.Type -> map[string]Method

// lifecycle methods are driven by the proxy and never dispatched by name
var lifecycle = map[string]bool{"Init": true, "DomainID": true, "Bind": true}

// methodTable lists the exported methods of typ by snake_case name.
func methodTable(typ reflect.Type) map[string]Method {
	if cached, ok := methodCache.Load(typ); ok {
		return cached.(map[string]Method)
	}
	table := make(map[string]Method)
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if r, size := utf8.DecodeRuneInString(method.Name); size <= 0 || !unicode.IsUpper(r) {
			// skip private or broken unicode methods
			continue
		}
		if lifecycle[method.Name] {
			continue
		}
		name := camelToSnakeCase(method.Name)
		in := make([]reflect.Type, method.Type.NumIn()-1)
		for j := 1; j < method.Type.NumIn(); j++ {
			in[j-1] = method.Type.In(j)
		}
		out := make([]reflect.Type, method.Type.NumOut())
		for j := 0; j < method.Type.NumOut(); j++ {
			out[j] = method.Type.Out(j)
		}
		table[name] = Method{Name: name, Method: method, In: in, Out: out}
	}
	methodCache.Store(typ, table)
	return table
}

func methodNames(typ reflect.Type) []string {
	table := methodTable(typ)
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
