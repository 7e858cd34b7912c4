package common

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/lunixbochs/domaincorn/go/models"
)

// Builder constructs a domain instance that will run as identity id. It must
// not call Init; the proxy does that.
type Builder[D models.Domain] func(id models.Identity) (D, error)

// Proxy is the crash boundary in front of one logical domain. Callers only
// ever hold the proxy; the instance behind it is replaced whenever it faults.
//
// Panics raised while a guarded call runs on the calling goroutine are
// contained. Goroutines a domain starts itself are outside the boundary.
type Proxy[D models.Domain] struct {
	name  string
	typ   models.DomainType
	base  *KernelBase
	build Builder[D]
	log   hclog.Logger

	mu     sync.RWMutex
	inner  D
	id     models.Identity
	loaded bool
	// set while the instance is dead and could not be reloaded
	failed *models.CrashError
	replay []func(D) error
}

func NewProxy[D models.Domain](name string, typ models.DomainType, base *KernelBase, build Builder[D]) *Proxy[D] {
	return &Proxy[D]{
		name:  name,
		typ:   typ,
		base:  base,
		build: build,
		log:   base.Log.Named("proxy").With("domain", name),
	}
}

func (p *Proxy[D]) Name() string { return p.name }
func (p *Proxy[D]) Type() models.DomainType { return p.typ }
func (p *Proxy[D]) Kernel() *KernelBase { return p.base }

func (p *Proxy[D]) DomainID() models.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

// Instance returns the instance currently behind the proxy. Calls made on it
// directly are not guarded.
func (p *Proxy[D]) Instance() D {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.inner
}

// Init loads the first instance. Later calls do nothing.
func (p *Proxy[D]) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}
	d, id, err := p.load()
	if err != nil {
		return err
	}
	p.inner, p.id, p.loaded = d, id, true
	p.log.Debug("loaded", "id", id)
	return nil
}

// OnLoad runs fn on the current instance and records it, so every future
// instance gets the same setup right after its Init.
func (p *Proxy[D]) OnLoad(method string, fn func(D) error) error {
	if err := p.Guard(method, fn); err != nil {
		return err
	}
	p.mu.Lock()
	p.replay = append(p.replay, fn)
	p.mu.Unlock()
	return nil
}

// run calls fn as identity id. A panic comes back as a CrashError; a
// FatalError keeps unwinding.
func (p *Proxy[D]) run(id models.Identity, method string, fn func() error) (crash *models.CrashError, err error) {
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		r := recover()
		if r == nil {
			return
		}
		if fatal, ok := r.(*models.FatalError); ok {
			panic(fatal)
		}
		crash = &models.CrashError{
			Domain:   p.name,
			Identity: id,
			Method:   method,
			Value:    r,
			Stack:    debug.Stack(),
			Incident: uuid.New(),
		}
	}()
	err = fn()
	return nil, err
}

// load builds and initializes a fresh instance under a new identity.
// Caller holds p.mu.
func (p *Proxy[D]) load() (D, models.Identity, error) {
	var zero, d D
	id := models.NextIdentity()
	crash, err := p.run(id, "init", func() error {
		var err error
		if d, err = p.build(id); err != nil {
			return err
		}
		if err := d.Init(); err != nil {
			return err
		}
		for _, fn := range p.replay {
			if err := fn(d); err != nil {
				return err
			}
		}
		return nil
	})
	if crash != nil {
		p.reclaim(crash)
		return zero, id, crash
	}
	if err != nil {
		// a half-built instance is garbage too
		p.base.Heap.MarkDead(id)
		p.base.Metrics.RecordReconciled(p.base.Heap.Reconcile(id))
		return zero, id, errors.Wrapf(err, "loading domain %q", p.name)
	}
	return d, id, nil
}

// reclaim frees everything the crashed identity owned and records the crash.
func (p *Proxy[D]) reclaim(crash *models.CrashError) {
	h := p.base.Heap
	h.MarkDead(crash.Identity)
	n := h.Reconcile(crash.Identity)
	p.base.Metrics.RecordCrash(p.name)
	p.base.Metrics.RecordReconciled(n)
	p.base.Registry.RecordCrash(p.name, crash.Identity, crash.Incident)
	p.log.Error("domain crashed",
		"id", crash.Identity,
		"method", crash.Method,
		"incident", crash.Incident,
		"panic", fmt.Sprint(crash.Value),
		"reclaimed", n)
	p.log.Debug("crash stack", "incident", crash.Incident, "stack", string(crash.Stack))
}

// Guard calls fn on the current instance. If fn panics, the instance is torn
// down and replaced and the call fails with a *models.CrashError; the caller
// decides whether to retry.
func (p *Proxy[D]) Guard(method string, fn func(D) error) error {
	p.mu.RLock()
	inner, id, failed := p.inner, p.id, p.failed
	loaded := p.loaded
	p.mu.RUnlock()
	if failed != nil {
		return failed
	}
	if !loaded {
		return errors.Wrapf(models.EAGAIN, "domain %q is not loaded", p.name)
	}

	p.log.Trace("call", "id", id, "method", method)
	crash, err := p.run(id, method, func() error { return fn(inner) })
	if crash == nil {
		return err
	}
	p.reclaim(crash)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id == id && p.failed == nil {
		// first observer of this crash reloads; the rest see the new instance
		p.reloadLocked(crash)
	}
	return crash
}

// reloadLocked replaces a crashed instance. On failure the proxy stays
// failed with cause. Caller holds p.mu.
func (p *Proxy[D]) reloadLocked(cause *models.CrashError) error {
	p.base.Registry.SetState(p.name, models.Reloading)
	d, id, err := p.load()
	if err != nil {
		p.failed = cause
		p.base.Registry.SetState(p.name, models.Crashed)
		p.base.Metrics.RecordReload(p.name, false)
		p.log.Error("reload failed", "error", err)
		return err
	}
	p.swapLocked(d, id)
	return nil
}

// caller holds p.mu
func (p *Proxy[D]) swapLocked(d D, id models.Identity) {
	old := p.id
	p.inner, p.id, p.failed, p.loaded = d, id, nil, true
	p.base.Registry.RecordReload(p.name, id)
	p.base.Metrics.RecordReload(p.name, true)
	p.log.Info("reloaded", "old", old, "id", id)
}

// Reload brings back a domain whose automatic reload failed. On a healthy
// domain it restarts the instance and reclaims the old identity's heap
// allocations; if that fails the old instance stays in place.
func (p *Proxy[D]) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed != nil {
		return p.reloadLocked(p.failed)
	}
	old, loaded := p.id, p.loaded
	d, id, err := p.load()
	if err != nil {
		return err
	}
	p.swapLocked(d, id)
	if loaded {
		p.base.Heap.MarkDead(old)
		p.base.Metrics.RecordReconciled(p.base.Heap.Reconcile(old))
	}
	return nil
}

// Call is Guard for methods with a result.
func Call[D models.Domain, R any](p *Proxy[D], method string, fn func(D) (R, error)) (R, error) {
	var out R
	err := p.Guard(method, func(d D) error {
		var err error
		out, err = fn(d)
		return err
	})
	return out, err
}
