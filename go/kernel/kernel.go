// Package kernel assembles the runtime: the process-wide services plus the
// domain images the kernel can load.
package kernel

import (
	"io"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lunixbochs/domaincorn/go/domains/fifo"
	"github.com/lunixbochs/domaincorn/go/domains/memblk"
	"github.com/lunixbochs/domaincorn/go/domains/shadowblk"
	"github.com/lunixbochs/domaincorn/go/domains/vfs"
	"github.com/lunixbochs/domaincorn/go/kernel/common"
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
	"github.com/lunixbochs/domaincorn/go/registry"
	"github.com/lunixbochs/domaincorn/go/storage"
)

// names of the sample images
const (
	MemBlk    = "memblk"
	ShadowBlk = "shadow_blk"
	Fifo      = "fifo"
	Vfs       = "vfs"
)

// DefaultBoot is the load order of the sample images. Dependencies first.
var DefaultBoot = []string{MemBlk, ShadowBlk, Fifo, Vfs}

type Kernel struct {
	*common.KernelBase
	Config *models.Config
	// armed by tests and the CLI to crash the RAM disk
	Faults *memblk.Faults
}

// New builds the kernel services and registers the sample images. Nothing is
// loaded until Boot.
func New(cfg *models.Config, logger hclog.Logger) (*Kernel, error) {
	if cfg == nil {
		cfg = models.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	k := &Kernel{
		KernelBase: common.NewKernelBase(heap.NewFromConfig(cfg), logger),
		Config:     cfg,
		Faults:     &memblk.Faults{},
	}
	memblk.Register(k.KernelBase, MemBlk, cfg.Blocks, k.Faults)
	shadowblk.Register(k.KernelBase, ShadowBlk, MemBlk)
	fifo.Register(k.KernelBase, Fifo)
	vfs.Register(k.KernelBase, Vfs)
	return k, nil
}

// Boot creates the named domains in order and stops at the first failure.
func (k *Kernel) Boot(names ...string) error {
	if len(names) == 0 {
		names = DefaultBoot
	}
	for _, name := range names {
		_, id, err := k.CreateDomain(name)
		if err != nil {
			return errors.Wrapf(err, "boot")
		}
		k.Log.Info("domain loaded", "domain", name, "id", id)
	}
	k.Sample()
	return nil
}

func (k *Kernel) GetDomain(name string) (models.Domain, bool) {
	return k.Registry.Lookup(name)
}

func (k *Kernel) CreateDomain(name string) (models.Domain, models.Identity, error) {
	return k.Registry.Create(name)
}

// Domain returns the loaded domain name as kind D.
func Domain[D any](k *Kernel, name string) (D, error) {
	d, ok := registry.Get[D](k.Registry, name)
	if !ok {
		return d, errors.Wrapf(models.ENOENT, "no loaded domain %q of the requested kind", name)
	}
	return d, nil
}

// Invoker is implemented by every proxy.
type Invoker interface {
	Invoke(method string, args ...interface{}) ([]interface{}, error)
	Methods() []string
}

// Reloader is implemented by every proxy.
type Reloader interface {
	Reload() error
}

type Info struct {
	Domains []registry.Entry    `yaml:"domains"`
	Images  map[string][]string `yaml:"images"`
	Heap    heap.Stats          `yaml:"heap"`
	Store   []storage.KeyInfo   `yaml:"store"`
}

func (k *Kernel) Info() Info {
	k.Sample()
	images := make(map[string][]string)
	for typ, names := range k.Registry.Types() {
		images[typ.String()] = names
	}
	return Info{
		Domains: k.Registry.Entries(),
		Images:  images,
		Heap:    k.Heap.Stats(),
		Store:   k.Store.Keys(),
	}
}

// WriteInfo writes Info as yaml.
func (k *Kernel) WriteInfo(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(k.Info()); err != nil {
		return errors.Wrap(err, "encoding info")
	}
	return enc.Close()
}

// Names lists the loaded domains, sorted.
func (k *Kernel) Names() []string {
	var names []string
	for _, e := range k.Registry.Entries() {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}
