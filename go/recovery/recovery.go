// Package recovery is the caller side of a domain crash: reconcile the shared
// heap, then retry the call once against the reloaded instance.
package recovery

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/lunixbochs/domaincorn/go/metrics"
	"github.com/lunixbochs/domaincorn/go/models"
)

// Checkouter brings shared heap state back to consistency after a crash.
// *common.KernelBase and *heap.Heap both qualify.
type Checkouter interface {
	Checkout() int
}

// Policy says whether an operation may be executed twice.
type Policy int

const (
	// Idempotent operations are retried once after a crash.
	Idempotent Policy = iota
	// NonIdempotent operations (writes, allocations) never are; the crash is
	// returned to the caller.
	NonIdempotent
)

func (p Policy) String() string {
	if p == NonIdempotent {
		return "non-idempotent"
	}
	return "idempotent"
}

// Retry runs attempt and, if it fails with a domain crash, checks out the
// heap and runs it exactly once more. attempt must build any handles it
// passes across the boundary itself: the first attempt's handles were
// reclaimed with the crashed instance. Ordinary errors are returned as is.
func Retry[R any](c Checkouter, attempt func() (R, error)) (R, error) {
	return RetryWith(c, nil, nil, attempt)
}

// RetryWith is Retry that also counts outcomes in m and reports the retry to
// logger. Both may be nil.
func RetryWith[R any](c Checkouter, m *metrics.Metrics, logger hclog.Logger, attempt func() (R, error)) (R, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	tries := 0
	op := func() (R, error) {
		tries++
		out, err := attempt()
		if err != nil && !models.IsCrash(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}
	notify := func(err error, _ time.Duration) {
		n := c.Checkout()
		logger.Warn("domain crashed, retrying once", "error", err, "reclaimed", n)
	}
	out, err := backoff.RetryNotifyWithData(op, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1), notify)
	switch {
	case tries < 2:
	case err == nil:
		m.RecordRetry("recovered")
	case models.IsCrash(err):
		m.RecordRetry("crashed")
	default:
		m.RecordRetry("failed")
	}
	return out, err
}

// Do is Retry gated on policy.
func Do[R any](c Checkouter, policy Policy, attempt func() (R, error)) (R, error) {
	if policy == NonIdempotent {
		return attempt()
	}
	return Retry(c, attempt)
}
