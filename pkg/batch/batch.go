// Package batch implements the collector's Batcher (C4): a timer plus a
// pool of workers that drain the bounded queue into Batches on a
// size-or-time trigger, or on an explicit Flush barrier, and hand each
// Batch to a push function (ordinarily the collector's combined
// session-send-then-retry-submit dispatcher).
package batch

import (
	"encoding/json"
	"sync"
	"time"

	"logcollectord/internal/metrics"
	"logcollectord/pkg/compression"
	"logcollectord/pkg/logentry"
	"logcollectord/pkg/queue"
)

// PushFunc delivers one drained Batch downstream. compressed is non-nil
// when the collector's CompressLogs option is set: it carries the gzip/
// snappy/lz4-compressed JSON encoding of the batch in the Processor
// uplink's wire shape, computed once here since the session-socket leg
// never consumes the compressed form (it always re-renders its own
// uncompressed frame from batch.Entries). A non-nil error means the
// batch was rejected outright (not even accepted for retry); nil means
// the batch was either delivered or handed to the retry engine for
// later attempts.
type PushFunc func(batch logentry.Batch, compressed []byte) error

const wireTimeLayout = "2006-01-02 15:04:05"

// wireEntry mirrors the Processor uplink's documented wire shape
// (transport.uplinkWireEntry) so a compressed batch decompresses to
// exactly what an uncompressed uplink send would have produced.
type wireEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Source    string `json:"source"`
}

// Config controls trigger thresholds and worker concurrency.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	Workers       int
	Compress      bool
	Codec         compression.Codec
}

// Batcher drains a queue.Queue into Batches and hands them to Push.
type Batcher struct {
	q         *queue.Queue
	cfg       Config
	sessionID uint64
	push      PushFunc

	// onReject fires only when Push itself returns an error: a batch
	// rejected at submission time rather than handed to the retry
	// engine. Retryable-failure and eventual-success accounting is the
	// retry engine's job, not the batcher's.
	onReject func(err error)

	work      chan logentry.Batch
	flushReq  chan chan struct{}
	stopCh    chan struct{}
	schedWG   sync.WaitGroup
	workersWG sync.WaitGroup

	mu        sync.Mutex
	lastFlush time.Time
	running   bool
}

// New constructs a Batcher bound to q and sessionID. Call Start to begin
// the scheduler and worker pool.
func New(q *queue.Queue, sessionID uint64, cfg Config, push PushFunc) *Batcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	return &Batcher{
		q:         q,
		cfg:       cfg,
		sessionID: sessionID,
		push:      push,
		onReject:  func(error) {},
		work:      make(chan logentry.Batch, cfg.Workers),
		flushReq:  make(chan chan struct{}),
		stopCh:    make(chan struct{}),
	}
}

// SetRejectCallback installs the submission-reject observer.
func (b *Batcher) SetRejectCallback(fn func(err error)) {
	if fn == nil {
		fn = func(error) {}
	}
	b.onReject = fn
}

// Start launches the scheduler goroutine and the worker pool. It is not
// safe to call Start twice without an intervening Stop.
func (b *Batcher) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.lastFlush = time.Now()
	b.mu.Unlock()

	b.workersWG.Add(b.cfg.Workers)
	for i := 0; i < b.cfg.Workers; i++ {
		go b.worker()
	}
	b.schedWG.Add(1)
	go b.scheduler()
}

// worker pulls drained batches and hands each to Push. A panic from a
// user callback must never escape: callbacks are always invoked through
// safeCall.
func (b *Batcher) worker() {
	defer b.workersWG.Done()
	for batch := range b.work {
		b.dispatch(batch)
	}
}

func (b *Batcher) dispatch(batch logentry.Batch) {
	var payload []byte
	if b.cfg.Compress && b.cfg.Codec != nil {
		wire := make([]wireEntry, len(batch.Entries))
		for i, e := range batch.Entries {
			wire[i] = wireEntry{
				Timestamp: e.Timestamp.Format(wireTimeLayout),
				Level:     e.Level.String(),
				Message:   e.Content,
				Source:    "collector",
			}
		}
		raw, err := json.Marshal(wire)
		if err == nil {
			if compressed, cerr := b.cfg.Codec.Compress(raw); cerr == nil {
				payload = compressed
			}
		}
	}

	if err := b.push(batch, payload); err != nil {
		safeCall(func() { b.onReject(err) })
	}
}

// safeCall invokes fn and discards any panic, matching the contract that
// user-supplied callbacks must never bring down the pipeline.
func safeCall(fn func()) {
	defer func() { recover() }()
	fn()
}

// scheduler owns the flush timer and the size/time trigger decisions. It
// runs independently of the worker pool so that a Flush call from within
// a worker's call stack (e.g. a push callback that calls Flush) does not
// deadlock against itself.
func (b *Batcher) scheduler() {
	defer b.schedWG.Done()

	tick := b.cfg.FlushInterval
	if tick <= 0 || tick > 200*time.Millisecond {
		tick = 200 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			b.drainAll()
			return

		case barrier := <-b.flushReq:
			b.drainAll()
			close(barrier)

		case <-ticker.C:
			b.drainBySize()

			b.mu.Lock()
			elapsed := time.Since(b.lastFlush)
			b.mu.Unlock()
			if b.cfg.FlushInterval > 0 && elapsed >= b.cfg.FlushInterval && b.q.Size() > 0 {
				b.drainOne("time")
			}
		}
	}
}

// drainBySize dispatches full-size batches while the queue holds at
// least BatchSize entries.
func (b *Batcher) drainBySize() {
	for b.q.Size() >= b.cfg.BatchSize {
		if !b.drainOne("size") {
			return
		}
	}
}

// drainOne drains a single batch of up to BatchSize entries and submits
// it to the worker pool. Returns false if the queue was empty.
func (b *Batcher) drainOne(trigger string) bool {
	entries := b.q.DrainUpTo(b.cfg.BatchSize)
	if len(entries) == 0 {
		return false
	}
	b.mu.Lock()
	b.lastFlush = time.Now()
	b.mu.Unlock()
	metrics.BatchesFlushedTotal.WithLabelValues(trigger).Inc()
	b.work <- logentry.Batch{SessionID: b.sessionID, Entries: entries}
	return true
}

// drainAll repeatedly drains until the queue is empty, used by Stop and
// by explicit Flush. Unlike drainOne (which hands off to the worker pool
// for concurrency), drainAll dispatches synchronously on the scheduler
// goroutine so that by the time it returns, Push has actually been
// called for every entry accepted before the call — the guarantee Flush
// makes to its caller.
func (b *Batcher) drainAll() {
	for {
		entries := b.q.DrainUpTo(b.cfg.BatchSize)
		if len(entries) == 0 {
			return
		}
		b.mu.Lock()
		b.lastFlush = time.Now()
		b.mu.Unlock()
		metrics.BatchesFlushedTotal.WithLabelValues("flush").Inc()
		b.dispatch(logentry.Batch{SessionID: b.sessionID, Entries: entries})
	}
}

// Flush blocks until every entry currently queued has been drained and
// passed to Push: the scheduler runs drainAll, which calls Push
// synchronously, before it releases the barrier. Batches that the
// worker pool took before the call may still be in flight.
func (b *Batcher) Flush() {
	barrier := make(chan struct{})
	select {
	case b.flushReq <- barrier:
		<-barrier
	case <-b.stopCh:
	}
}

// Stop halts the scheduler and worker pool after a final drain. It is
// idempotent.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopCh)
	// Scheduler performs its final drainAll before returning; only once it
	// has stopped submitting new work is it safe to close the work
	// channel and let the worker pool drain and exit.
	b.schedWG.Wait()
	close(b.work)
	b.workersWG.Wait()
}
