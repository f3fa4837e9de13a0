// Package metrics exposes the collector server's Prometheus gauges and
// counters, in the teacher's package-level promauto style, plus host
// resource gauges sampled via gopsutil.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

var (
	// SessionsOpen tracks the number of live TCP control sessions.
	SessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collectord_sessions_open",
		Help: "Current number of open control sessions",
	})

	// QueueDepth tracks per-session bounded-queue occupancy. It is set by
	// Collector.SubmitLog after each accepted entry; draining the queue
	// does not update it.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "collectord_queue_depth",
		Help: "Current number of entries queued per session",
	}, []string{"session_id"})

	// EntriesSubmittedTotal counts SubmitLog outcomes, backing the
	// submitted = sent + filtered + errors invariant.
	EntriesSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collectord_entries_submitted_total",
		Help: "Total SubmitLog outcomes by kind",
	}, []string{"outcome"})

	// BatchesFlushedTotal counts batches drained by the batcher, split by
	// what triggered the drain.
	BatchesFlushedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collectord_batches_flushed_total",
		Help: "Total batches drained by the batcher",
	}, []string{"trigger"})

	// RetryAttemptsTotal counts retry engine re-attempts.
	RetryAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collectord_retry_attempts_total",
		Help: "Total retry engine re-attempts",
	})

	// RetryPending tracks batches currently queued for retry per session.
	RetryPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "collectord_retry_pending",
		Help: "Current number of batches pending retry per session",
	}, []string{"session_id"})

	// UplinkHealthy reports 1 when the Processor uplink is connected.
	UplinkHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collectord_uplink_healthy",
		Help: "1 if the Processor uplink is currently healthy",
	})

	// HostCPUPercent and HostMemPercent expose host-level context to
	// operators, the way the teacher's host metrics do, without
	// throttling ingestion. They are set only by StartResourceSampler;
	// no other code reads them.
	HostCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collectord_host_cpu_percent",
		Help: "Host CPU utilization percent, sampled periodically",
	})
	HostMemPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collectord_host_mem_percent",
		Help: "Host memory utilization percent, sampled periodically",
	})
)

// StartResourceSampler launches a background goroutine sampling host CPU
// and memory every interval until ctx is done.
func StartResourceSampler(ctx context.Context, interval time.Duration, logger *logrus.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sampleOnce(logger)
			}
		}
	}()
}

func sampleOnce(logger *logrus.Logger) {
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		HostCPUPercent.Set(pct[0])
	} else if err != nil {
		logger.WithError(err).WithField("component", "metrics").Debug("cpu sample failed")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		HostMemPercent.Set(vm.UsedPercent)
	} else {
		logger.WithError(err).WithField("component", "metrics").Debug("mem sample failed")
	}
}
