package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	flushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "m365_batch_flushes_total",
		Help: "Total batch windows flushed",
	})

	chunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "m365_batch_chunks_total",
		Help: "Total batch chunks executed",
	})

	entriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "m365_batch_entries_total",
		Help: "Total batch entries by method",
	}, []string{"method"})

	fanoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "m365_batch_fanout_total",
		Help: "Total GET calls attached to an existing entry",
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "m365_batch_retries_total",
		Help: "Total chunk re-executions",
	})

	rejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "m365_batch_rejected_total",
		Help: "Total entries rejected after exhausting retries",
	})

	bypassTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "m365_batch_bypass_total",
		Help: "Total calls sent directly to the inner client",
	})
)
