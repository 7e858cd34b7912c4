package kernel

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lunixbochs/domaincorn/go/domain"
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
)

func testConfig() *models.Config {
	c := models.DefaultConfig()
	c.PageSize = 0x1000
	c.HeapLimit = 1 << 22
	c.Blocks = 8
	c.Harts = 3
	return c
}

func boot(t *testing.T) *Kernel {
	k, err := New(testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, k.Boot())
	return k
}

func TestNewRejectsBadConfig(t *testing.T) {
	c := testConfig()
	c.PageSize = 3
	_, err := New(c, nil)
	assert.Error(t, err)
}

func TestBoot(t *testing.T) {
	k := boot(t)
	assert.Equal(t, []string{Fifo, MemBlk, ShadowBlk, Vfs}, k.Names())
	for _, e := range k.Registry.Entries() {
		assert.Equal(t, models.Active, e.State, e.Name)
		assert.NotEqual(t, models.KernelIdentity, e.Identity, e.Name)
	}
	d, ok := k.GetDomain(Vfs)
	require.True(t, ok)
	_, isVfs := d.(domain.Vfs)
	assert.True(t, isVfs)

	_, err := Domain[domain.Vfs](k, MemBlk)
	assert.True(t, errors.Is(err, models.ENOENT))
}

func TestBootUnknownImage(t *testing.T) {
	k, err := New(testConfig(), nil)
	require.NoError(t, err)
	err = k.Boot("nope")
	assert.True(t, errors.Is(err, models.ENOENT))
}

func TestCreateDomainReplaces(t *testing.T) {
	k := boot(t)
	old, _ := k.GetDomain(Fifo)
	d, id, err := k.CreateDomain(Fifo)
	require.NoError(t, err)
	assert.NotEqual(t, old.DomainID(), id)
	cur, _ := k.GetDomain(Fifo)
	assert.Same(t, d, cur)
}

func TestBlockWorkloadWithCrashes(t *testing.T) {
	k := boot(t)
	r, err := k.BlockWorkload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, r.Writes)
	assert.Equal(t, 8, r.Reads)

	// writes are not retried, so the injected crash reaches the workload
	k.Faults.CrashNext(1)
	r, err = k.BlockWorkload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.Crashed)
	assert.Equal(t, 7, r.Writes)
	assert.Equal(t, 8, r.Reads)

	// reads are, so the caller never sees this one
	blk, err := Domain[domain.BlkDevice](k, ShadowBlk)
	require.NoError(t, err)
	k.Faults.CrashNext(1)
	out, err := blk.ReadBlock(3, heap.NewUninit(k.Heap, models.KernelIdentity, domain.BlockSize))
	require.NoError(t, err)
	assert.Equal(t, blockPattern(3), out.AsSlice())

	e, _ := k.Registry.Entry(MemBlk)
	assert.Equal(t, models.Active, e.State)
	assert.Equal(t, 2, e.Crashes)
	assert.Equal(t, 2, e.Reloads)
}

func TestStress(t *testing.T) {
	k := boot(t)
	r, err := k.Stress(context.Background(), 20, 0.5, 1)
	require.NoError(t, err)
	assert.Equal(t, 3*20, r.Tasks)
	assert.Equal(t, 3*20, r.Files)
	assert.Equal(t, 3*20, r.Reads+r.Crashed)

	sched, err := Domain[domain.Scheduler](k, Fifo)
	require.NoError(t, err)
	left, err := sched.Len()
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestInfo(t *testing.T) {
	k := boot(t)
	fs, err := Domain[domain.Vfs](k, Vfs)
	require.NoError(t, err)
	path := heap.FromSlice(k.Heap, models.KernelIdentity, []byte("/a"))
	_, err = fs.Open(path)
	require.NoError(t, err)
	path.Drop()

	info := k.Info()
	assert.Len(t, info.Domains, 4)
	assert.Equal(t, []string{MemBlk}, info.Images["BlkDeviceDomain"])
	keys := make([]string, 0, len(info.Store))
	for _, ki := range info.Store {
		keys = append(keys, ki.Key)
	}
	assert.Contains(t, keys, "inode_id")
	assert.Contains(t, keys, "tasks")
	assert.Contains(t, keys, "kfile_3")
	assert.Greater(t, info.Heap.Allocations, 0)

	var buf bytes.Buffer
	require.NoError(t, k.WriteInfo(&buf))
	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "domains")
	assert.Contains(t, buf.String(), "state: active")
}
