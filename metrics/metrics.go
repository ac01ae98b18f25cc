// Package metrics collects prometheus instrumentation for the shared
// data structures core, in the style of chotki's index manager
// metrics: a small set of counters/gauges/histograms registered once
// and labeled by container kind.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var OpsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shareddata",
	Subsystem: "kernel",
	Name:      "ops_applied_total",
}, []string{"container", "op", "local"})

var OpsIgnored = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shareddata",
	Subsystem: "kernel",
	Name:      "ops_ignored_total",
}, []string{"container", "op", "reason"})

var PendingKeys = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "shareddata",
	Subsystem: "kernel",
	Name:      "pending_keys",
}, []string{"container"})

var PendingSubDirs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "shareddata",
	Subsystem: "directory",
	Name:      "pending_subdirectories",
}, []string{"container"})

var SnapshotBlobSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "shareddata",
	Subsystem: "snapshot",
	Name:      "blob_size_bytes",
	Buckets:   []float64{256, 1024, 4096, 8192, 16384, 65536},
}, []string{"container", "blob_kind"})

func MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(OpsApplied, OpsIgnored, PendingKeys, PendingSubDirs, SnapshotBlobSize)
}
