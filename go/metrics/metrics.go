package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds the runtime's Prometheus metrics. Each kernel gets its own
// registry so several kernels (tests) can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	DomainCrashes  *prometheus.CounterVec
	DomainReloads  *prometheus.CounterVec
	Retries        *prometheus.CounterVec
	HeapInUse      prometheus.Gauge
	HeapAllocs     prometheus.Gauge
	StoreEntries   prometheus.Gauge
	ReconciledObjs prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		DomainCrashes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domaincorn_domain_crashes_total",
			Help: "Faults intercepted at a domain crash boundary",
		}, []string{"domain"}),
		DomainReloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domaincorn_domain_reloads_total",
			Help: "Domain instances rebuilt after a crash",
		}, []string{"domain", "result"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domaincorn_recovery_retries_total",
			Help: "Calls retried after a collaborator crashed, by outcome",
		}, []string{"result"}),
		HeapInUse: f.NewGauge(prometheus.GaugeOpts{
			Name: "domaincorn_heap_in_use_bytes",
			Help: "Bytes currently allocated from the shared heap",
		}),
		HeapAllocs: f.NewGauge(prometheus.GaugeOpts{
			Name: "domaincorn_heap_allocations",
			Help: "Live shared heap allocations",
		}),
		StoreEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "domaincorn_store_entries",
			Help: "Entries in the persistent state store",
		}),
		ReconciledObjs: f.NewCounter(prometheus.CounterOpts{
			Name: "domaincorn_heap_reconciled_total",
			Help: "Shared heap allocations reclaimed from crashed domains",
		}),
	}
}

// RecordCrash increments the crash counter for one domain.
func (m *Metrics) RecordCrash(domain string) {
	if m == nil {
		return
	}
	m.DomainCrashes.WithLabelValues(domain).Inc()
}

func (m *Metrics) RecordReload(domain string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.DomainReloads.WithLabelValues(domain, result).Inc()
}

func (m *Metrics) RecordRetry(result string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordReconciled(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReconciledObjs.Add(float64(n))
}

// Write dumps every metric in the text exposition format.
func (m *Metrics) Write(w io.Writer) error {
	families, err := m.Registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
