package fifo

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/lunixbochs/domaincorn/go/domain"
	"github.com/lunixbochs/domaincorn/go/kernel/common"
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
)

func newScheduler(t *testing.T) (*common.KernelBase, *domain.SchedulerProxy) {
	k := common.NewKernelBase(heap.New(0x1000, 1<<20), nil)
	p := domain.NewSchedulerProxy("fifo", k, Builder(k))
	require.NoError(t, p.Init())
	return k, p
}

func task(k *common.KernelBase, id uint64, mask uint64) *heap.Handle[domain.Task] {
	return heap.NewHandle(k.Heap, models.KernelIdentity, domain.Task{ID: id, CPUsAllowed: mask})
}

func TestFifoOrder(t *testing.T) {
	k, s := newScheduler(t)
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, s.AddTask(task(k, i, ^uint64(0))))
	}
	n, _ := s.Len()
	assert.Equal(t, 3, n)
	for i := uint64(1); i <= 3; i++ {
		got, err := s.FetchTask(0)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, i, got.Get().ID)
		assert.Equal(t, models.KernelIdentity, got.Owner())
	}
	got, err := s.FetchTask(0)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestHartAffinity(t *testing.T) {
	k, s := newScheduler(t)
	require.NoError(t, s.AddTask(task(k, 1, 1<<1)))
	require.NoError(t, s.AddTask(task(k, 2, 1<<0)))

	got, err := s.FetchTask(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Get().ID)

	got, err = s.FetchTask(0)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.FetchTask(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Get().ID)

	_, err = s.FetchTask(64)
	assert.True(t, errors.Is(err, models.EINVAL))
}

func TestQueueSurvivesCrash(t *testing.T) {
	k, s := newScheduler(t)
	require.NoError(t, s.AddTask(task(k, 7, 1)))
	old := s.DomainID()

	err := s.Guard("crash", func(domain.Scheduler) error { panic("scheduler bug") })
	require.True(t, models.IsCrash(err))
	assert.NotEqual(t, old, s.DomainID())

	got, err := s.FetchTask(0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(7), got.Get().ID)
}

func TestMovedTaskIsDead(t *testing.T) {
	k, s := newScheduler(t)
	tk := task(k, 1, 1)
	require.NoError(t, s.AddTask(tk))
	assert.False(t, tk.Live())
	assert.PanicsWithValue(t, heap.ErrHandleMoved, func() { tk.Get() })
}

func TestConcurrentHarts(t *testing.T) {
	k, s := newScheduler(t)
	const tasks = 200
	for i := 0; i < tasks; i++ {
		require.NoError(t, s.AddTask(task(k, uint64(i), ^uint64(0))))
	}
	seen := make(chan uint64, tasks)
	var g errgroup.Group
	for hart := 0; hart < 4; hart++ {
		hart := hart
		g.Go(func() error {
			for {
				got, err := s.FetchTask(hart)
				if err != nil {
					return err
				}
				if got == nil {
					return nil
				}
				seen <- got.Get().ID
				got.Drop()
			}
		})
	}
	require.NoError(t, g.Wait())
	close(seen)
	ids := make(map[uint64]bool)
	for id := range seen {
		assert.False(t, ids[id], "task %d fetched twice", id)
		ids[id] = true
	}
	assert.Len(t, ids, tasks)
}
