// Package retry implements the collector's Retry Engine (C5): it sits
// between the Batcher and the registered push callback, absorbing
// transient sink failures with bounded, per-session-ordered re-attempts.
package retry

import (
	"sync"
	"time"

	"logcollectord/internal/metrics"
	"logcollectord/pkg/apperr"
	"logcollectord/pkg/logentry"
)

// SendFunc performs one delivery attempt. A nil error means the sink
// accepted the batch. A non-nil error is treated as retryable unless it
// is an *apperr.AppError with a non-retryable severity.
type SendFunc func(batch logentry.Batch, compressed []byte) error

// Config controls retry bounds.
type Config struct {
	Enabled       bool
	MaxRetryCount int
	RetryInterval time.Duration
}

type pendingBatch struct {
	batch      logentry.Batch
	compressed []byte
	attempts   int
}

// Engine retries failed batches on a per-session FIFO: a failed batch
// blocks later batches of the same session until it succeeds or is
// dropped after MaxRetryCount is exceeded. Across sessions there is no
// ordering.
type Engine struct {
	cfg  Config
	send SendFunc

	onSent  func(count int)
	onError func(err error)

	mu      sync.Mutex
	pending map[uint64][]*pendingBatch // sessionID -> ordered retry list
	stopped bool

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Engine. Call Start to begin the retry ticker.
func New(cfg Config, send SendFunc) *Engine {
	return &Engine{
		cfg:     cfg,
		send:    send,
		onSent:  func(int) {},
		onError: func(error) {},
		pending: make(map[uint64][]*pendingBatch),
		stopCh:  make(chan struct{}),
	}
}

// SetSendCallback installs the observer fired once a batch is actually
// delivered, whether on first attempt or after retries.
func (e *Engine) SetSendCallback(fn func(count int)) {
	if fn == nil {
		fn = func(int) {}
	}
	e.onSent = fn
}

// SetErrorCallback installs the observer fired when a batch is dropped
// after exhausting MaxRetryCount, or on a non-retryable first failure.
func (e *Engine) SetErrorCallback(fn func(err error)) {
	if fn == nil {
		fn = func(error) {}
	}
	e.onError = fn
}

// Start launches the background retry ticker.
func (e *Engine) Start() {
	interval := e.cfg.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}
	e.ticker = time.NewTicker(interval)
	e.wg.Add(1)
	go e.loop()
}

// Stop halts the retry ticker. After a final attempt with a short grace
// period, any batches still pending are dropped and reported via the
// error callback rather than held indefinitely.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()
	if e.ticker != nil {
		e.ticker.Stop()
	}

	time.Sleep(1 * time.Second)
	e.attemptAll()
	e.dropAllRemaining()
}

// Submit is the Batcher's PushFunc: the batcher calls this with every
// drained Batch. It makes one immediate attempt; on retryable failure
// the batch is queued behind any already-pending batches for the same
// session. It returns a non-nil error only when the engine itself
// cannot accept the batch (e.g. already stopped).
func (e *Engine) Submit(batch logentry.Batch, compressed []byte) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return apperr.New(apperr.CodeFatal, "retry", "submit", "engine stopped")
	}
	// Per-session FIFO: if this session already has a pending retry,
	// the new batch queues behind it rather than racing ahead.
	queued := len(e.pending[batch.SessionID]) > 0
	e.mu.Unlock()

	if queued {
		e.enqueue(batch, compressed)
		return nil
	}

	err := e.send(batch, compressed)
	if err == nil {
		safeCall(func() { e.onSent(batch.Len()) })
		return nil
	}

	if !e.cfg.Enabled || !retryable(err) {
		safeCall(func() { e.onError(err) })
		return nil
	}

	// The failed attempt above already counts as attempt 1; a
	// maxRetryCount of 0 means no further attempts are made.
	if 1 > e.cfg.MaxRetryCount {
		safeCall(func() { e.onError(err) })
		return nil
	}

	e.enqueue(batch, compressed)
	return nil
}

func (e *Engine) enqueue(batch logentry.Batch, compressed []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[batch.SessionID] = append(e.pending[batch.SessionID], &pendingBatch{
		batch:      batch,
		compressed: compressed,
		attempts:   1,
	})
}

func retryable(err error) bool {
	var ae *apperr.AppError
	if as(err, &ae) {
		return ae.Retryable()
	}
	return true
}

// as is a tiny local errors.As to avoid importing errors solely for this.
func as(err error, target **apperr.AppError) bool {
	for err != nil {
		if ae, ok := err.(*apperr.AppError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.ticker.C:
			e.attemptAll()
		}
	}
}

// attemptAll re-attempts the head-of-list batch for every session with
// pending work. Only the head is retried per tick: later batches of a
// session stay queued until the head succeeds or is dropped.
func (e *Engine) attemptAll() {
	e.mu.Lock()
	sessions := make([]uint64, 0, len(e.pending))
	for sid, list := range e.pending {
		if len(list) > 0 {
			sessions = append(sessions, sid)
		}
	}
	e.mu.Unlock()

	for _, sid := range sessions {
		e.attemptHead(sid)
	}
}

func (e *Engine) attemptHead(sessionID uint64) {
	e.mu.Lock()
	list := e.pending[sessionID]
	if len(list) == 0 {
		e.mu.Unlock()
		return
	}
	head := list[0]
	e.mu.Unlock()

	metrics.RetryAttemptsTotal.Inc()
	err := e.send(head.batch, head.compressed)
	if err == nil {
		e.popHead(sessionID)
		safeCall(func() { e.onSent(head.batch.Len()) })
		return
	}

	e.mu.Lock()
	head.attempts++
	exceeded := head.attempts > e.cfg.MaxRetryCount
	e.mu.Unlock()

	if exceeded {
		e.popHead(sessionID)
		safeCall(func() { e.onError(err) })
	}
}

func (e *Engine) popHead(sessionID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.pending[sessionID]
	if len(list) == 0 {
		return
	}
	list = list[1:]
	if len(list) == 0 {
		delete(e.pending, sessionID)
	} else {
		e.pending[sessionID] = list
	}
}

// dropAllRemaining discards any batch still pending after Stop's final
// attempt, reporting each through the error callback.
func (e *Engine) dropAllRemaining() {
	e.mu.Lock()
	remaining := e.pending
	e.pending = make(map[uint64][]*pendingBatch)
	e.mu.Unlock()

	for _, list := range remaining {
		for _, pb := range list {
			_ = pb
			safeCall(func() { e.onError(apperr.New(apperr.CodeSinkUnavailable, "retry", "shutdown", "dropped on shutdown")) })
		}
	}
}

// Pending reports the number of batches queued for retry across all
// sessions, for metrics and tests.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, list := range e.pending {
		n += len(list)
	}
	return n
}

func safeCall(fn func()) {
	defer func() { recover() }()
	fn()
}
