package kernel

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/lunixbochs/domaincorn/go/domain"
	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
)

// Report counts what a workload did. Failed calls are the ones whose crash
// reached the workload; recovered crashes only show up in the metrics.
type Report struct {
	Writes  int `yaml:"writes"`
	Reads   int `yaml:"reads"`
	Tasks   int `yaml:"tasks"`
	Files   int `yaml:"files"`
	Crashed int `yaml:"crashed"`
	Errors  int `yaml:"errors"`
}

func (r *Report) add(o Report) {
	r.Writes += o.Writes
	r.Reads += o.Reads
	r.Tasks += o.Tasks
	r.Files += o.Files
	r.Crashed += o.Crashed
	r.Errors += o.Errors
}

// count files err under Crashed or Errors and reports whether it was nil.
func (r *Report) count(err error) bool {
	switch {
	case err == nil:
		return true
	case models.IsCrash(err):
		r.Crashed++
	default:
		r.Errors++
	}
	return false
}

func blockPattern(block uint32) []byte {
	return bytes.Repeat([]byte{byte(block) ^ 0x5a}, domain.BlockSize)
}

// BlockWorkload writes a pattern to every block of the shadow device, then
// reads it back and verifies it. A mismatch is an error, not a count.
func (k *Kernel) BlockWorkload(ctx context.Context) (Report, error) {
	var r Report
	blk, err := Domain[domain.BlkDevice](k, ShadowBlk)
	if err != nil {
		return r, err
	}
	size, err := blk.Capacity()
	if err != nil {
		return r, err
	}
	blocks := uint32(size / domain.BlockSize)
	for b := uint32(0); b < blocks; b++ {
		if ctx.Err() != nil {
			return r, ctx.Err()
		}
		src := heap.FromSlice(k.Heap, models.KernelIdentity, blockPattern(b))
		_, err := blk.WriteBlock(b, src)
		src.Drop()
		if r.count(err) {
			r.Writes++
		}
	}
	for b := uint32(0); b < blocks; b++ {
		if ctx.Err() != nil {
			return r, ctx.Err()
		}
		out, err := blk.ReadBlock(b, heap.NewUninit(k.Heap, models.KernelIdentity, domain.BlockSize))
		if !r.count(err) {
			continue
		}
		r.Reads++
		ok := bytes.Equal(out.AsSlice(), blockPattern(b))
		out.Drop()
		if !ok && r.Writes == int(blocks) {
			return r, errors.Errorf("block %d read back wrong data", b)
		}
	}
	k.Sample()
	return r, nil
}

// HartWorkload is one simulated hart: queue a task, fetch whatever is
// runnable, open and stat a file and read a block, rounds times.
func (k *Kernel) HartWorkload(ctx context.Context, hart, rounds int) (Report, error) {
	var r Report
	sched, err := Domain[domain.Scheduler](k, Fifo)
	if err != nil {
		return r, err
	}
	fs, err := Domain[domain.Vfs](k, Vfs)
	if err != nil {
		return r, err
	}
	blk, err := Domain[domain.BlkDevice](k, ShadowBlk)
	if err != nil {
		return r, err
	}
	for i := 0; i < rounds; i++ {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		task := heap.NewHandle(k.Heap, models.KernelIdentity, domain.Task{
			ID:          uint64(hart)<<32 | uint64(i),
			Name:        fmt.Sprintf("hart%d-%d", hart, i),
			CPUsAllowed: 1 << uint(hart),
		})
		if r.count(sched.AddTask(task)) {
			got, err := sched.FetchTask(hart)
			if r.count(err) && got != nil {
				r.Tasks++
				got.Drop()
			}
		}

		path := heap.FromSlice(k.Heap, models.KernelIdentity, []byte(fmt.Sprintf("/tmp/hart%d", hart)))
		fd, err := fs.Open(path)
		path.Drop()
		if r.count(err) {
			st, err := fs.Stat(fd, heap.NewUninit(k.Heap, models.KernelIdentity, domain.StatSize))
			if r.count(err) {
				st.Drop()
			}
			if r.count(fs.Close(fd)) {
				r.Files++
			}
		}

		out, err := blk.ReadBlock(uint32(i)%k.Config.Blocks, heap.NewUninit(k.Heap, models.KernelIdentity, domain.BlockSize))
		if r.count(err) {
			r.Reads++
			out.Drop()
		}
	}
	return r, nil
}

// Stress runs one HartWorkload per configured hart in parallel while
// injecting a RAM disk crash with probability crashRate per round.
func (k *Kernel) Stress(ctx context.Context, rounds int, crashRate float64, seed int64) (Report, error) {
	reports := make([]Report, k.Config.Harts)
	g, ctx := errgroup.WithContext(ctx)
	rng := rand.New(rand.NewSource(seed))
	crashes := 0
	for i := 0; i < rounds; i++ {
		if rng.Float64() < crashRate {
			crashes++
		}
	}
	k.Faults.CrashNext(crashes)
	k.Log.Info("stress", "harts", k.Config.Harts, "rounds", rounds, "injected", crashes)
	for hart := 0; hart < k.Config.Harts; hart++ {
		hart := hart
		g.Go(func() error {
			r, err := k.HartWorkload(ctx, hart, rounds)
			reports[hart] = r
			return err
		})
	}
	err := g.Wait()
	k.Faults.Clear()
	var total Report
	for _, r := range reports {
		total.add(r)
	}
	k.Sample()
	return total, err
}
