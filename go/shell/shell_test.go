package shell

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/domaincorn/go/kernel"
	"github.com/lunixbochs/domaincorn/go/models"
)

func newContext(t *testing.T) (*Context, *bytes.Buffer) {
	cfg := models.DefaultConfig()
	cfg.PageSize = 0x1000
	cfg.HeapLimit = 1 << 22
	cfg.Blocks = 8
	k, err := kernel.New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, k.Boot())
	var out bytes.Buffer
	return &Context{Writer: &out, K: k}, &out
}

func run(t *testing.T, c *Context, line string) {
	require.NoError(t, Run(c, line))
}

func TestEmptyAndUnknown(t *testing.T) {
	c, out := newContext(t)
	run(t, c, "   ")
	assert.Empty(t, out.String())
	run(t, c, "frobnicate")
	assert.Contains(t, out.String(), "command not found: frobnicate")
}

func TestParseError(t *testing.T) {
	c, out := newContext(t)
	run(t, c, `call vfs "open`)
	assert.Contains(t, out.String(), "parse error")
}

func TestUsage(t *testing.T) {
	c, out := newContext(t)
	run(t, c, "call vfs")
	assert.Contains(t, out.String(), "usage: call <domain> <method>")
}

func TestExit(t *testing.T) {
	c, _ := newContext(t)
	assert.Equal(t, ErrExit, Run(c, "exit"))
}

func TestHelpListsCommands(t *testing.T) {
	c, out := newContext(t)
	run(t, c, "help")
	for _, name := range Names() {
		assert.Contains(t, out.String(), name)
	}
}

func TestCall(t *testing.T) {
	c, out := newContext(t)
	run(t, c, "call memblk capacity")
	assert.Contains(t, out.String(), "capacity() = 0x1000")

	out.Reset()
	run(t, c, "call vfs alloc_inode")
	run(t, c, "call vfs alloc_inode")
	assert.Contains(t, out.String(), "alloc_inode() = 0x4")
	assert.Contains(t, out.String(), "alloc_inode() = 0x5")

	out.Reset()
	run(t, c, "call vfs nope")
	assert.Contains(t, out.String(), "error:")
}

func TestMethods(t *testing.T) {
	c, out := newContext(t)
	run(t, c, "methods fifo")
	assert.Contains(t, out.String(), "fetch_task")
	assert.Contains(t, out.String(), "add_task")

	out.Reset()
	run(t, c, "methods nope")
	assert.Contains(t, out.String(), "no domain \"nope\"")
}

func TestCrashAndReload(t *testing.T) {
	c, out := newContext(t)
	run(t, c, "crash next 1")
	run(t, c, "call memblk write_block 0 x")
	assert.Contains(t, out.String(), "incident ")
	assert.Contains(t, out.String(), "domain crash")

	e, ok := c.K.Registry.Entry(kernel.MemBlk)
	require.True(t, ok)
	assert.Equal(t, 1, e.Crashes)
	assert.Equal(t, 1, e.Reloads)
	assert.Equal(t, models.Active, e.State)

	out.Reset()
	run(t, c, "reload fifo")
	assert.Contains(t, out.String(), "fifo reloaded as ")
	e, _ = c.K.Registry.Entry(kernel.Fifo)
	assert.Equal(t, 1, e.Reloads)

	out.Reset()
	run(t, c, "crash sideways 1")
	assert.Contains(t, out.String(), "unknown mode")
	run(t, c, "crash clear")
}

func TestLsAndHeap(t *testing.T) {
	c, out := newContext(t)
	run(t, c, "ls")
	for _, name := range kernel.DefaultBoot {
		assert.Contains(t, out.String(), name)
	}
	out.Reset()
	run(t, c, "heap")
	assert.Contains(t, out.String(), "shared heap:")
	assert.Contains(t, out.String(), "inode_id")
}

func TestLuaDrivesKernel(t *testing.T) {
	c, out := newContext(t)
	run(t, c, `lua k.call("memblk", "capacity")`)
	assert.Contains(t, out.String(), "4096")

	out.Reset()
	run(t, c, `lua for i = 1, 3 do k.call("vfs", "alloc_inode") end`)
	run(t, c, "call vfs alloc_inode")
	assert.Contains(t, out.String(), "alloc_inode() = 0x7")

	out.Reset()
	run(t, c, `lua print(#k.domains())`)
	assert.Equal(t, "4\n", out.String())

	out.Reset()
	run(t, c, `lua k.call("nope", "x")`)
	assert.Contains(t, out.String(), "error:")
	assert.Contains(t, out.String(), "no domain")
}

func TestLuaKeepsStateAcrossLines(t *testing.T) {
	c, out := newContext(t)
	run(t, c, "lua n = 41")
	run(t, c, "lua n + 1")
	assert.Equal(t, "42\n", out.String())
}

func TestLuaCrash(t *testing.T) {
	c, out := newContext(t)
	run(t, c, "lua k.crash_next(1)")
	run(t, c, `lua k.call("memblk", "write_block", 0, "x")`)
	assert.Contains(t, out.String(), "domain crash")
	e, ok := c.K.Registry.Entry(kernel.MemBlk)
	require.True(t, ok)
	assert.Equal(t, 1, e.Crashes)
	assert.Equal(t, models.Active, e.State)
}
