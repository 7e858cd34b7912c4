// Package registry is the process-wide directory of domains: logical name to
// live instance, plus the images (factories) used to build new instances.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/lunixbochs/domaincorn/go/models"
)

// Factory builds, initializes and wraps a new instance of a domain image.
// The name is the logical name the instance will be registered under.
type Factory func(name string) (models.Domain, error)

type image struct {
	typ     models.DomainType
	factory Factory
}

// Entry is the lifecycle record of one logical domain name.
type Entry struct {
	Name         string            `yaml:"name"`
	Type         models.DomainType `yaml:"type"`
	Identity     models.Identity   `yaml:"identity"`
	State        models.State      `yaml:"state"`
	Crashes      int               `yaml:"crashes"`
	Reloads      int               `yaml:"reloads"`
	LastIncident string            `yaml:"last_incident,omitempty"`
	Since        time.Time         `yaml:"since"`

	instance models.Domain
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	images  map[string]*image
	order   []string
}

func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		images:  make(map[string]*image),
	}
}

// RegisterFactory records how to build the domain called name. Registering a
// factory twice replaces the image; live instances are not touched.
func (r *Registry) RegisterFactory(name string, typ models.DomainType, f Factory) {
	r.mu.Lock()
	r.images[name] = &image{typ: typ, factory: f}
	r.mu.Unlock()
}

// Register installs instance under name. An existing entry is replaced, so a
// lookup always returns the most recently registered instance.
func (r *Registry) Register(name string, typ models.DomainType, instance models.Domain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		e = &Entry{Name: name}
		r.entries[name] = e
		r.order = append(r.order, name)
	}
	e.Type = typ
	e.instance = instance
	e.Identity = instance.DomainID()
	e.State = models.Active
	e.Since = time.Now()
}

func (r *Registry) Lookup(name string) (models.Domain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || e.instance == nil {
		return nil, false
	}
	return e.instance, true
}

// MustLookup is for hard dependencies resolved in a domain's Init: a missing
// collaborator is a bug in the boot sequence.
func (r *Registry) MustLookup(name string) models.Domain {
	d, ok := r.Lookup(name)
	if !ok {
		panic(errors.Errorf("hard dependency %q is not registered", name))
	}
	return d
}

// Get looks up name and asserts the instance implements D.
func Get[D any](r *Registry, name string) (D, bool) {
	var zero D
	d, ok := r.Lookup(name)
	if !ok {
		return zero, false
	}
	typed, ok := d.(D)
	return typed, ok
}

// Create builds a fresh instance of the image registered as name, installs it
// and returns it with its newly assigned identity.
func (r *Registry) Create(name string) (models.Domain, models.Identity, error) {
	r.mu.Lock()
	img, ok := r.images[name]
	if !ok {
		r.mu.Unlock()
		return nil, 0, errors.Wrapf(models.ENOENT, "no domain image named %q", name)
	}
	prev := models.Unloaded
	if e, ok := r.entries[name]; ok {
		prev = e.State
		e.State = models.Loading
	}
	r.mu.Unlock()

	// factories run Init, which may look up other domains; no lock held here
	d, err := img.factory(name)
	if err != nil {
		r.SetState(name, prev)
		return nil, 0, errors.Wrapf(err, "creating domain %q", name)
	}
	r.Register(name, img.typ, d)
	return d, d.DomainID(), nil
}

func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) SetState(name string, state models.State) {
	r.mu.Lock()
	if e, ok := r.entries[name]; ok {
		e.State = state
		e.Since = time.Now()
	}
	r.mu.Unlock()
}

// RecordCrash notes a crash of identity id. The entry only moves to Crashed
// if id is still its current instance; a late report about an instance that
// was already replaced just counts.
func (r *Registry) RecordCrash(name string, id models.Identity, incident uuid.UUID) {
	r.mu.Lock()
	if e, ok := r.entries[name]; ok {
		e.Crashes++
		e.LastIncident = incident.String()
		if e.Identity == id {
			e.State = models.Crashed
			e.Since = time.Now()
		}
	}
	r.mu.Unlock()
}

// RecordReload marks name Active again under the identity of its new instance.
func (r *Registry) RecordReload(name string, id models.Identity) {
	r.mu.Lock()
	if e, ok := r.entries[name]; ok {
		e.State = models.Active
		e.Identity = id
		e.Reloads++
		e.Since = time.Now()
	}
	r.mu.Unlock()
}

// Entries returns a snapshot in registration order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		e := *r.entries[name]
		e.instance = nil
		out = append(out, e)
	}
	return out
}

func (r *Registry) Entry(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	cp := *e
	cp.instance = nil
	return cp, true
}

// Types lists the image names known for each domain type.
func (r *Registry) Types() map[models.DomainType][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.DomainType][]string)
	for name, img := range r.images {
		out[img.typ] = append(out[img.typ], name)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}
