// Package fifo is a first-in first-out scheduler domain. Its queue is the
// store entry "tasks", so queued tasks outlive a crashed scheduler.
package fifo

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/lunixbochs/domaincorn/go/domain"
	"github.com/lunixbochs/domaincorn/go/kernel/common"
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
	"github.com/lunixbochs/domaincorn/go/storage"
)

const TasksKey = "tasks"

type taskList struct {
	sync.Mutex
	tasks []*heap.Handle[domain.Task]
}

type Scheduler struct {
	id    models.Identity
	k     *common.KernelBase
	queue *taskList
}

func Builder(k *common.KernelBase) common.Builder[domain.Scheduler] {
	return func(id models.Identity) (domain.Scheduler, error) {
		return &Scheduler{id: id, k: k}, nil
	}
}

func Register(k *common.KernelBase, name string) {
	k.Registry.RegisterFactory(name, models.SchedulerDomain, domain.SchedulerFactory(k, Builder(k)))
}

func (s *Scheduler) Init() error {
	q, err := storage.GetOrInsert[taskList](s.k.Store, TasksKey)
	if err != nil {
		return err
	}
	s.queue = q
	return nil
}

func (s *Scheduler) DomainID() models.Identity { return s.id }

// AddTask queues task at the back. The queue, not the scheduler instance,
// owns it from here on.
func (s *Scheduler) AddTask(task *heap.Handle[domain.Task]) error {
	task = task.MoveTo(models.KernelIdentity)
	s.queue.Lock()
	s.queue.tasks = append(s.queue.tasks, task)
	s.queue.Unlock()
	return nil
}

// FetchTask removes the first queued task allowed on hart.
func (s *Scheduler) FetchTask(hart int) (*heap.Handle[domain.Task], error) {
	if hart < 0 || hart >= 64 {
		return nil, errors.Wrapf(models.EINVAL, "hart %d", hart)
	}
	s.queue.Lock()
	defer s.queue.Unlock()
	for i, task := range s.queue.tasks {
		if task.Get().Allowed(hart) {
			s.queue.tasks = append(s.queue.tasks[:i], s.queue.tasks[i+1:]...)
			return task.MoveTo(s.id), nil
		}
	}
	return nil, nil
}

func (s *Scheduler) Len() (int, error) {
	s.queue.Lock()
	defer s.queue.Unlock()
	return len(s.queue.tasks), nil
}
