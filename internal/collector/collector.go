// Package collector implements the Log Collector (C7): it composes the
// filter chain (C2), bounded queue (C3), batcher (C4), retry engine (C5)
// and file tailer (C6) behind the public submit/flush/shutdown contract
// the TCP transport (C8) drives per session.
package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"logcollectord/internal/metrics"
	"logcollectord/pkg/apperr"
	"logcollectord/pkg/batch"
	"logcollectord/pkg/compression"
	"logcollectord/pkg/filter"
	"logcollectord/pkg/logentry"
	"logcollectord/pkg/queue"
	"logcollectord/pkg/retry"
	"logcollectord/pkg/tailer"
	"logcollectord/pkg/tracing"
)

var tracer = tracing.Tracer("logcollectord/collector")

// State is the collector's lifecycle stage.
type State int

const (
	StateNew State = iota
	StateRunning
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config is the collector's CollectorConfig (spec §3).
type Config struct {
	CollectorID    string
	ServerAddress  string
	ServerPort     int
	BatchSize      int
	FlushInterval  time.Duration
	MaxQueueSize   int
	ThreadPoolSize int
	MemoryPoolSize int
	MinLevel       logentry.Level
	CompressLogs   bool
	CompressAlgo   compression.Algorithm

	EnableRetry   bool
	MaxRetryCount int
	RetryInterval time.Duration
}

// DefaultConfig returns a baseline CollectorConfig with retry enabled.
// The transport does not call it: the server's sessions start from the
// CollectorConfig built by internal/config.
func DefaultConfig() Config {
	return Config{
		BatchSize:      10,
		FlushInterval:  time.Second,
		MaxQueueSize:   1000,
		ThreadPoolSize: 2,
		MinLevel:       logentry.Info,
		CompressAlgo:   compression.Gzip,
		EnableRetry:    true,
		MaxRetryCount:  3,
		RetryInterval:  time.Second,
	}
}

// Validate rejects configurations the rest of the pipeline cannot honor.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return apperr.InvalidConfig("collector", "batchSize must be >= 1")
	}
	if c.MaxQueueSize < 0 {
		return apperr.InvalidConfig("collector", "maxQueueSize must be >= 0")
	}
	if c.FlushInterval < 0 {
		return apperr.InvalidConfig("collector", "flushInterval must be >= 0")
	}
	if c.EnableRetry && c.MaxRetryCount < 0 {
		return apperr.InvalidConfig("collector", "maxRetryCount must be >= 0")
	}
	if c.EnableRetry && c.RetryInterval < 0 {
		return apperr.InvalidConfig("collector", "retryInterval must be >= 0")
	}
	return nil
}

// PushFunc is a session-scoped C10 callback delivering one batch (with
// its optional pre-compressed payload) to a single sink. A non-nil error
// is treated as a retryable sink failure unless it wraps an
// *apperr.AppError marked non-retryable.
type PushFunc func(batch logentry.Batch, compressed []byte) error

// Collector is the per-session pipeline: one Collector per Session (spec
// §3), constructed by the transport on `start` and torn down on `stop` or
// disconnect.
type Collector struct {
	sessionID uint64
	logger    *logrus.Logger

	// sessionPush delivers every drained batch to the session socket
	// exactly once, synchronously, never retried. uplinkPush is the only
	// leg wrapped by the retry engine: a struggling Processor uplink
	// retries independently of the session socket (spec §5, §8 S4).
	sessionPush PushFunc
	uplinkPush  PushFunc

	mu    sync.Mutex
	state State
	cfg   Config

	q           *queue.Queue
	filters     *filter.Chain
	batcher     *batch.Batcher
	retryEngine *retry.Engine
	tailer      *tailer.Tailer

	onSent  func(count int)
	onError func(msg string)

	filtered atomic.Int64
	errors   atomic.Int64
	sent     atomic.Int64
}

// New constructs a Collector in state New. sessionPush and uplinkPush are
// the session's two output sinks, bound once for the collector's
// lifetime; Initialize only ever rewires the internal pipeline stages
// around them.
func New(sessionID uint64, logger *logrus.Logger, sessionPush, uplinkPush PushFunc) *Collector {
	return &Collector{
		sessionID:   sessionID,
		logger:      logger,
		sessionPush: sessionPush,
		uplinkPush:  uplinkPush,
		filters:     filter.NewChain(),
		onSent:      func(int) {},
		onError:     func(string) {},
	}
}

// SetSendCallback installs the count observer, invoked outside any lock.
func (c *Collector) SetSendCallback(fn func(count int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		fn = func(int) {}
	}
	c.onSent = fn
	c.rewireLocked()
}

// SetErrorCallback installs the error-message observer.
func (c *Collector) SetErrorCallback(fn func(msg string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		fn = func(string) {}
	}
	c.onError = fn
	c.rewireLocked()
}

func (c *Collector) rewireLocked() {
	if c.retryEngine == nil {
		return
	}
	onSent, onError := c.onSent, c.onError
	sessionLabel := fmt.Sprintf("%d", c.sessionID)
	c.retryEngine.SetSendCallback(func(n int) {
		c.sent.Add(int64(n))
		metrics.EntriesSubmittedTotal.WithLabelValues("sent").Add(float64(n))
		metrics.RetryPending.WithLabelValues(sessionLabel).Set(float64(c.retryEngine.Pending()))
		onSent(n)
	})
	c.retryEngine.SetErrorCallback(func(err error) {
		c.errors.Add(1)
		metrics.EntriesSubmittedTotal.WithLabelValues("error").Inc()
		metrics.RetryPending.WithLabelValues(sessionLabel).Set(float64(c.retryEngine.Pending()))
		onError(err.Error())
	})
}

// AddFilter appends a filter to the chain.
func (c *Collector) AddFilter(f filter.Filter) { c.filters.Add(f) }

// ClearFilters removes every installed filter. Entries already dropped
// remain dropped.
func (c *Collector) ClearFilters() { c.filters.Clear() }

// Initialize (re)builds the pipeline around cfg. On New/Closed it starts
// fresh; on Running it quiesces the current batcher and retry engine
// (draining whatever is already queued through them), then swaps in the
// new configuration and restarts — satisfying invariant 4: entries
// already accepted are flushed under the new wiring, never lost.
func (c *Collector) Initialize(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateRunning:
		c.state = StateDraining
		c.batcher.Flush()
		c.batcher.Stop()
		c.retryEngine.Stop()
	}

	c.cfg = cfg
	c.q = queue.New(cfg.MaxQueueSize)

	codec := compression.New(cfg.CompressAlgo)
	c.retryEngine = retry.New(retry.Config{
		Enabled:       cfg.EnableRetry,
		MaxRetryCount: cfg.MaxRetryCount,
		RetryInterval: cfg.RetryInterval,
	}, retry.SendFunc(c.uplinkPush))
	c.rewireLocked()
	c.retryEngine.Start()

	c.batcher = batch.New(c.q, c.sessionID, batch.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		Workers:       cfg.ThreadPoolSize,
		Compress:      cfg.CompressLogs,
		Codec:         codec,
	}, c.dispatchBatch)
	c.batcher.SetRejectCallback(func(err error) {
		c.errors.Add(1)
		c.onError(err.Error())
	})
	c.batcher.Start()

	c.state = StateRunning
	c.logger.WithFields(logrus.Fields{
		"component":  "collector",
		"session_id": c.sessionID,
		"state":      c.state.String(),
	}).Info("collector initialized")
	return nil
}

// dispatchBatch is the Batcher's PushFunc: it delivers to the session
// socket exactly once, synchronously, then hands the same batch to the
// retry engine for the uplink leg only. A down or slow uplink retries on
// its own schedule and never causes the session socket to re-see a batch
// it already acknowledged.
func (c *Collector) dispatchBatch(batch logentry.Batch, compressed []byte) error {
	_ = c.sessionPush(batch, nil)
	return c.retryEngine.Submit(batch, compressed)
}

// SubmitLog applies the level and chain filters, then pushes onto the
// bounded queue. It never blocks. Filtered entries still return true —
// filtering is a policy outcome, not a submission failure — but count
// against the filtered counter, not sent or errors.
func (c *Collector) SubmitLog(content string, level logentry.Level) bool {
	_, span := tracing.Start(context.Background(), tracer, "collector.SubmitLog")
	defer func() { tracing.End(span, nil) }()

	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return false
	}
	minLevel := c.cfg.MinLevel
	c.mu.Unlock()

	entry := logentry.New(content, level)
	entry.SessionID = c.sessionID

	if entry.Level < minLevel || c.filters.ShouldFilter(entry) {
		c.filtered.Add(1)
		metrics.EntriesSubmittedTotal.WithLabelValues("filtered").Inc()
		return true
	}

	if err := c.q.Push(entry); err != nil {
		c.errors.Add(1)
		metrics.EntriesSubmittedTotal.WithLabelValues("error").Inc()
		return false
	}
	metrics.QueueDepth.WithLabelValues(fmt.Sprintf("%d", c.sessionID)).Set(float64(c.q.Size()))
	return true
}

// SubmitLogs submits each content independently and returns true iff all
// succeeded.
func (c *Collector) SubmitLogs(contents []string, level logentry.Level) bool {
	ok := true
	for _, content := range contents {
		if !c.SubmitLog(content, level) {
			ok = false
		}
	}
	return ok
}

// Flush blocks until every entry accepted before the call has been
// handed to the retry engine (and thus either delivered or queued for
// retry) or recorded as an error.
func (c *Collector) Flush() {
	_, span := tracing.Start(context.Background(), tracer, "collector.Flush")
	defer func() { tracing.End(span, nil) }()

	c.mu.Lock()
	b := c.batcher
	c.mu.Unlock()
	if b != nil {
		b.Flush()
	}
}

// Shutdown transitions the collector to Closed: stops the tailer, flushes
// the queue with best effort, joins workers, and ensures no further
// callback fires once it returns.
func (c *Collector) Shutdown() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateDraining
	t := c.tailer
	b := c.batcher
	r := c.retryEngine
	c.tailer = nil
	c.mu.Unlock()

	if t != nil {
		t.Stop()
	}
	if b != nil {
		b.Flush()
		b.Stop()
	}
	if r != nil {
		r.Stop()
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"component":  "collector",
		"session_id": c.sessionID,
	}).Info("collector closed")
}

// CollectFromFile starts a file tailer feeding this collector's
// SubmitLog. Only one tailer runs per collector; a prior one is stopped
// first.
func (c *Collector) CollectFromFile(path string, minLevel logentry.Level, interval time.Duration, maxLinesPerTick int) error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return fmt.Errorf("collector: cannot tail while %s", c.state)
	}
	prev := c.tailer
	c.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	t := tailer.New(tailer.Config{
		Path:            path,
		MinLevel:        minLevel,
		Interval:        interval,
		MaxLinesPerTick: maxLinesPerTick,
	}, c.SubmitLog, func(err error) {
		c.errors.Add(1)
		c.onError(err.Error())
	})

	if err := t.Start(); err != nil {
		c.onError(err.Error())
		return err
	}

	c.mu.Lock()
	c.tailer = t
	c.mu.Unlock()
	return nil
}

// State reports the collector's current lifecycle stage.
func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats is a point-in-time snapshot of the counters behind the
// submitted = sent + filtered + errors invariant.
type Stats struct {
	Sent      int64
	Filtered  int64
	Errors    int64
	QueueSize int
}

// Stats returns the current counters, used by the admin HTTP surface.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	q := c.q
	c.mu.Unlock()
	size := 0
	if q != nil {
		size = q.Size()
	}
	return Stats{
		Sent:      c.sent.Load(),
		Filtered:  c.filtered.Load(),
		Errors:    c.errors.Load(),
		QueueSize: size,
	}
}
