package shell

import (
	"fmt"
	"strings"

	"github.com/lunixbochs/luaish"
	"github.com/lunixbochs/luaish-luar"
	"github.com/pkg/errors"

	"github.com/lunixbochs/domaincorn/go/kernel"
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
)

// Lua is a scripting state bound to a shell context. The k table drives the
// kernel the same way the shell commands do; kernel is the Kernel itself.
type Lua struct {
	*lua.LState
	c *Context
}

func NewLua(c *Context) *Lua {
	L := &Lua{LState: lua.NewState(), c: c}
	L.SetGlobal("print", L.NewFunction(L.printFunc))
	b := &kbinding{L}
	L.SetGlobal("k", L.SetFuncs(L.NewTable(), b.Exports()))
	L.SetGlobal("kernel", luar.New(L.LState, c.K))
	return L
}

func (L *Lua) printFunc(_ *lua.LState) int {
	top := L.GetTop()
	words := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		words = append(words, L.Get(i).String())
	}
	L.c.Printf("%s\n", strings.Join(words, "\t"))
	return 0
}

// Eval runs code, trying it as an expression first, and prints what it
// returns.
func (L *Lua) Eval(code string) error {
	fn, err := L.LoadString("return " + code)
	if err != nil {
		if fn, err = L.LoadString(code); err != nil {
			return err
		}
	}
	base := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.SetTop(base)
		return err
	}
	var out []string
	for i := base + 1; i <= L.GetTop(); i++ {
		if v := L.Get(i); v != lua.LNil {
			out = append(out, v.String())
		}
	}
	L.SetTop(base)
	if len(out) > 0 {
		L.c.Printf("%s\n", strings.Join(out, "\t"))
	}
	return nil
}

// toLua converts one Invoke result. Buffers are copied out and dropped.
func toLua(v interface{}) lua.LValue {
	switch n := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(n)
	case bool:
		return lua.LBool(n)
	case int:
		return lua.LInt(int64(n))
	case int64:
		return lua.LInt(n)
	case uint32:
		return lua.LInt(int64(n))
	case uint64:
		return lua.LInt(int64(n))
	case models.Identity:
		return lua.LInt(int64(n))
	case *heap.Buffer:
		if n == nil || !n.Live() {
			return lua.LNil
		}
		s := lua.LString(n.AsSlice())
		n.Drop()
		return s
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

type kbinding struct {
	L *Lua
}

func (b *kbinding) Exports() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"call":       b.Call,
		"methods":    b.Methods,
		"domains":    b.Domains,
		"reload":     b.Reload,
		"crash_next": b.CrashNext,
		"checkout":   b.Checkout,
		"heap":       b.Heap,
	}
}

func (b *kbinding) checkErr(err error) {
	if err != nil {
		b.L.RaiseError("%s", err.Error())
	}
}

func (b *kbinding) invoker(name string) kernel.Invoker {
	inv, err := b.L.c.invoker(name)
	b.checkErr(err)
	return inv
}

// Call is k.call(domain, method, args...). Arguments are passed as words,
// the way the call command passes them.
func (b *kbinding) Call(L *lua.LState) int {
	name, method := L.CheckString(1), L.CheckString(2)
	in := make([]interface{}, 0, L.GetTop())
	for i := 3; i <= L.GetTop(); i++ {
		in = append(in, L.Get(i).String())
	}
	out, err := b.invoker(name).Invoke(method, in...)
	b.checkErr(err)
	for _, v := range out {
		L.Push(toLua(v))
	}
	return len(out)
}

func (b *kbinding) Methods(L *lua.LState) int {
	tbl := L.NewTable()
	for i, m := range b.invoker(L.CheckString(1)).Methods() {
		L.RawSetInt(tbl, i+1, lua.LString(m))
	}
	L.Push(tbl)
	return 1
}

func (b *kbinding) Domains(L *lua.LState) int {
	tbl := L.NewTable()
	for i, name := range b.L.c.K.Names() {
		L.RawSetInt(tbl, i+1, lua.LString(name))
	}
	L.Push(tbl)
	return 1
}

func (b *kbinding) Reload(L *lua.LState) int {
	name := L.CheckString(1)
	d, ok := b.L.c.K.GetDomain(name)
	if !ok {
		b.checkErr(errors.Wrapf(models.ENOENT, "no domain %q", name))
	}
	r, ok := d.(kernel.Reloader)
	if !ok {
		b.checkErr(errors.Errorf("domain %q cannot be reloaded", name))
	}
	b.checkErr(r.Reload())
	L.Push(lua.LInt(int64(d.DomainID())))
	return 1
}

func (b *kbinding) CrashNext(L *lua.LState) int {
	b.L.c.K.Faults.CrashNext(L.CheckInt(1))
	return 0
}

func (b *kbinding) Checkout(L *lua.LState) int {
	L.Push(lua.LInt(int64(b.L.c.K.Checkout())))
	return 1
}

func (b *kbinding) Heap(L *lua.LState) int {
	L.Push(lua.LString(b.L.c.K.Heap.String()))
	return 1
}
