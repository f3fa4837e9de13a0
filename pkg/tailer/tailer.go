// Package tailer implements the collector's File Tailer (C6): a periodic
// line-producer that converts file appends into SubmitLog calls. It
// wraps github.com/nxadm/tail for follow/reopen semantics and layers a
// github.com/fsnotify/fsnotify watch on top purely for rotation
// observability (the tail library itself reopens on rotation and
// truncation).
package tailer

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nxadm/tail"

	"logcollectord/pkg/logentry"
)

// SubmitFunc is the collector's SubmitLog, called once per tailed line.
type SubmitFunc func(content string, level logentry.Level) bool

// Config describes one CollectFromFile request.
type Config struct {
	Path            string
	MinLevel        logentry.Level
	Interval        time.Duration
	MaxLinesPerTick int
}

// Tailer reads new lines from Config.Path on a timer and submits each as
// a LogEntry at MinLevel, since a raw file line has no intrinsic level.
// Only one Tailer runs per collector; Collector.CollectFromFile stops any
// previous Tailer before starting a new one.
type Tailer struct {
	cfg     Config
	submit  SubmitFunc
	onError func(err error)

	t       *tail.Tail
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	buf     []string
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Tailer. Call Start to begin tailing; Start returns an
// error immediately if the file cannot be opened, which the collector
// treats as a fatal-to-the-tailer-only condition.
func New(cfg Config, submit SubmitFunc, onError func(err error)) *Tailer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxLinesPerTick <= 0 {
		cfg.MaxLinesPerTick = 10
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Tailer{cfg: cfg, submit: submit, onError: onError, stopCh: make(chan struct{})}
}

// Start opens the file at its current end offset (so only future appends
// are tailed) and begins the read loop.
func (t *Tailer) Start() error {
	tailCfg := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Poll:      false,
	}

	tf, err := tail.TailFile(t.cfg.Path, tailCfg)
	if err != nil {
		return fmt.Errorf("tailer: open %s: %w", t.cfg.Path, err)
	}
	t.t = tf

	if w, err := fsnotify.NewWatcher(); err == nil {
		t.watcher = w
		_ = w.Add(filepath.Dir(t.cfg.Path))
	}

	t.wg.Add(1)
	go t.collectLines()

	t.wg.Add(1)
	go t.dispatchLoop()

	if t.watcher != nil {
		t.wg.Add(1)
		go t.watchRotation()
	}

	return nil
}

// collectLines drains the tail library's line channel into an internal
// buffer; dispatchLoop is what actually paces submission to
// MaxLinesPerTick per Interval.
func (t *Tailer) collectLines() {
	defer t.wg.Done()
	for line := range t.t.Lines {
		if line.Err != nil {
			t.onError(fmt.Errorf("tailer: read %s: %w", t.cfg.Path, line.Err))
			continue
		}
		t.mu.Lock()
		t.buf = append(t.buf, line.Text)
		t.mu.Unlock()
	}
}

func (t *Tailer) dispatchLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.drainTick()
		}
	}
}

func (t *Tailer) drainTick() {
	t.mu.Lock()
	n := t.cfg.MaxLinesPerTick
	if n > len(t.buf) {
		n = len(t.buf)
	}
	lines := t.buf[:n]
	t.buf = t.buf[n:]
	t.mu.Unlock()

	for _, line := range lines {
		t.submit(line, t.cfg.MinLevel)
	}
}

// watchRotation observes directory events for the tailed file purely to
// surface its creation, rename or removal (rotation) through onError;
// in-place truncation produces none of those events and is not reported
// here. The nxadm/tail ReOpen option already reseeks transparently.
func (t *Tailer) watchRotation() {
	defer t.wg.Done()
	base := filepath.Base(t.cfg.Path)
	for {
		select {
		case <-t.stopCh:
			return
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				t.onError(fmt.Errorf("tailer: %s rotated or truncated", t.cfg.Path))
			}
		case <-t.watcher.Errors:
		}
	}
}

// Stop halts the tailer. Calling it again is a no-op; the collector never
// reuses a stopped Tailer.
func (t *Tailer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()

	close(t.stopCh)
	if t.t != nil {
		_ = t.t.Stop()
		t.t.Cleanup()
	}
	if t.watcher != nil {
		t.watcher.Close()
	}
	t.wg.Wait()
}
