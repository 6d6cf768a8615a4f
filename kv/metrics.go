package kv

import "github.com/prometheus/client_golang/prometheus"

// envMetrics mirrors the per-database gauges and commit latency breakdown
// the teacher's own kv layer exposes (DbPgopsNewly, DbCommitPreparation,
// DbCommitWrite, DbCommitSync, ...). Metrics are entirely optional: when
// Options.Registerer is nil the collectors here are still created and
// updated but never registered, so instantiating an Environment never
// requires a Prometheus registry to be wired up.
type envMetrics struct {
	reg prometheus.Registerer

	roActive prometheus.Gauge
	rwActive prometheus.Gauge

	commitPreparation prometheus.Histogram
	commitWrite       prometheus.Histogram
	commitSync        prometheus.Histogram
	commitWhole       prometheus.Histogram
}

func newEnvMetrics(reg prometheus.Registerer, path string) *envMetrics {
	labels := prometheus.Labels{"path": path}
	m := &envMetrics{
		reg: reg,
		roActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mdbxkv",
			Name:        "ro_transactions_active",
			Help:        "Number of currently open read-only transactions.",
			ConstLabels: labels,
		}),
		rwActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mdbxkv",
			Name:        "rw_transactions_active",
			Help:        "Number of currently open read-write transactions (0 or 1).",
			ConstLabels: labels,
		}),
		commitPreparation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "mdbxkv",
			Name:        "commit_preparation_seconds",
			Help:        "Time spent preparing a commit (GC housekeeping) before the write.",
			ConstLabels: labels,
		}),
		commitWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "mdbxkv",
			Name:        "commit_write_seconds",
			Help:        "Time spent writing dirty pages during commit.",
			ConstLabels: labels,
		}),
		commitSync: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "mdbxkv",
			Name:        "commit_sync_seconds",
			Help:        "Time spent fsyncing during commit.",
			ConstLabels: labels,
		}),
		commitWhole: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "mdbxkv",
			Name:        "commit_whole_seconds",
			Help:        "Total wall time of Tx.Commit.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.roActive, m.rwActive, m.commitPreparation, m.commitWrite, m.commitSync, m.commitWhole)
	}
	return m
}

func (m *envMetrics) unregister() {
	if m.reg == nil {
		return
	}
	m.reg.Unregister(m.roActive)
	m.reg.Unregister(m.rwActive)
	m.reg.Unregister(m.commitPreparation)
	m.reg.Unregister(m.commitWrite)
	m.reg.Unregister(m.commitSync)
	m.reg.Unregister(m.commitWhole)
}

// observeCommit records a CommitLatency breakdown reported by mdbx. Values
// are in seconds already (mdbx reports them as time.Duration).
func (m *envMetrics) observeCommit(preparation, write, sync, whole float64) {
	m.commitPreparation.Observe(preparation)
	m.commitWrite.Observe(write)
	m.commitSync.Observe(sync)
	m.commitWhole.Observe(whole)
}
