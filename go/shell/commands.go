package shell

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lunixbochs/domaincorn/go/kernel"
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
)

func (c *Context) invoker(name string) (kernel.Invoker, error) {
	d, ok := c.K.GetDomain(name)
	if !ok {
		return nil, errors.Wrapf(models.ENOENT, "no domain %q (loaded: %s)", name, strings.Join(c.K.Names(), ", "))
	}
	inv, ok := d.(kernel.Invoker)
	if !ok {
		return nil, errors.Errorf("domain %q does not support invoke", name)
	}
	return inv, nil
}

func (c *Context) yaml(v interface{}) error {
	enc := yaml.NewEncoder(c)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

var HelpCmd = cmd(&Command{
	Name: "help",
	Desc: "List commands.",
	Run: func(c *Context, args []string) error {
		for _, name := range Names() {
			command := Commands[name]
			usage := strings.TrimSpace(command.Name + " " + command.Usage)
			c.Printf("  %-32s %s\n", usage, command.Desc)
		}
		return nil
	},
})

var ExitCmd = cmd(&Command{
	Name: "exit",
	Desc: "Leave the shell.",
	Run: func(c *Context, args []string) error {
		return ErrExit
	},
})

var LsCmd = cmd(&Command{
	Name: "ls",
	Desc: "List loaded domains.",
	Run: func(c *Context, args []string) error {
		for _, e := range c.K.Registry.Entries() {
			c.Printf("%-12s %-14s %-10s id=%-4d crashes=%d reloads=%d\n",
				e.Name, e.Type, e.State, e.Identity, e.Crashes, e.Reloads)
		}
		return nil
	},
})

var MethodsCmd = cmd(&Command{
	Name:  "methods",
	Usage: "<domain>",
	Desc:  "List the methods a domain can be called with.",
	Args:  1,
	Run: func(c *Context, args []string) error {
		inv, err := c.invoker(args[0])
		if err != nil {
			return err
		}
		for _, m := range inv.Methods() {
			c.Printf("%s\n", m)
		}
		return nil
	},
})

var CallCmd = cmd(&Command{
	Name:  "call",
	Usage: "<domain> <method> [args...]",
	Desc:  "Call a domain method.",
	Args:  2,
	Run: func(c *Context, args []string) error {
		inv, err := c.invoker(args[0])
		if err != nil {
			return err
		}
		method, rest := args[1], args[2:]
		in := make([]interface{}, len(rest))
		for i, a := range rest {
			in[i] = a
		}
		out, err := inv.Invoke(method, in...)
		c.Printf("%s%s\n", c.K.Trace(method, in), c.K.TraceRet(out))
		for _, v := range out {
			if buf, ok := v.(*heap.Buffer); ok && buf.Live() {
				for _, line := range models.HexDump(buf.Addr(), buf.AsSlice()) {
					c.Printf("%s\n", line)
				}
				buf.Drop()
			}
		}
		if crash, ok := errors.Cause(err).(*models.CrashError); ok {
			c.Printf("incident %s\n", crash.Incident)
		}
		return err
	},
})

var ReloadCmd = cmd(&Command{
	Name:  "reload",
	Usage: "<domain>",
	Desc:  "Replace a domain with a fresh instance.",
	Args:  1,
	Run: func(c *Context, args []string) error {
		d, ok := c.K.GetDomain(args[0])
		if !ok {
			return errors.Wrapf(models.ENOENT, "no domain %q", args[0])
		}
		r, ok := d.(kernel.Reloader)
		if !ok {
			return errors.Errorf("domain %q cannot be reloaded", args[0])
		}
		if err := r.Reload(); err != nil {
			return err
		}
		c.Printf("%s reloaded as %s\n", args[0], d.DomainID())
		return nil
	},
})

var CreateCmd = cmd(&Command{
	Name:  "create",
	Usage: "<image>",
	Desc:  "Build and register a new instance of an image.",
	Args:  1,
	Run: func(c *Context, args []string) error {
		_, id, err := c.K.CreateDomain(args[0])
		if err != nil {
			return err
		}
		c.Printf("%s created as %s\n", args[0], id)
		return nil
	},
})

var CrashCmd = cmd(&Command{
	Name:  "crash",
	Usage: "next <n> | block <n> | clear",
	Desc:  "Arm crashes in the RAM disk.",
	Args:  1,
	Run: func(c *Context, args []string) error {
		if args[0] == "clear" {
			c.K.Faults.Clear()
			return nil
		}
		if len(args) < 2 {
			return errors.Wrap(models.EINVAL, "crash: missing count")
		}
		n, err := strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			return errors.Wrap(models.EINVAL, err.Error())
		}
		switch args[0] {
		case "next":
			c.K.Faults.CrashNext(int(n))
		case "block":
			c.K.Faults.CrashOn(uint32(n))
		default:
			return errors.Wrapf(models.EINVAL, "crash: unknown mode %q", args[0])
		}
		return nil
	},
})

var HeapCmd = cmd(&Command{
	Name: "heap",
	Desc: "Show shared heap usage and store keys.",
	Run: func(c *Context, args []string) error {
		c.K.Sample()
		c.Printf("%s\n", c.K.Heap)
		for _, key := range c.K.Store.Keys() {
			c.Printf("  0x%08x %-20s %s\n", key.Addr, key.Key, key.Type)
		}
		return nil
	},
})

var CheckoutCmd = cmd(&Command{
	Name: "checkout",
	Desc: "Free allocations still owned by dead domains.",
	Run: func(c *Context, args []string) error {
		c.Printf("freed %d allocations\n", c.K.Checkout())
		return nil
	},
})

var InfoCmd = cmd(&Command{
	Name: "info",
	Desc: "Dump kernel state as yaml.",
	Run: func(c *Context, args []string) error {
		return c.yaml(c.K.Info())
	},
})

var StressCmd = cmd(&Command{
	Name:  "stress",
	Usage: "[rounds] [crash-rate]",
	Desc:  "Run the multi-hart workload.",
	Run: func(c *Context, args []string) error {
		rounds, rate := 10, 0.0
		var err error
		if len(args) > 0 {
			if rounds, err = strconv.Atoi(args[0]); err != nil {
				return errors.Wrap(models.EINVAL, err.Error())
			}
		}
		if len(args) > 1 {
			if rate, err = strconv.ParseFloat(args[1], 64); err != nil {
				return errors.Wrap(models.EINVAL, err.Error())
			}
		}
		report, err := c.K.Stress(context.Background(), rounds, rate, 1)
		if err != nil {
			return err
		}
		return c.yaml(report)
	},
})

var LuaCmd = cmd(&Command{
	Name:  "lua",
	Usage: "<code>",
	Desc:  "Run Lua with the kernel bound as k and kernel.",
	Args:  1,
	Raw:   true,
	Run: func(c *Context, args []string) error {
		if c.lua == nil {
			c.lua = NewLua(c)
		}
		return c.lua.Eval(args[0])
	},
})
