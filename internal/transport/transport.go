// Package transport implements the TCP Transport (C8): it accepts
// control sessions, owns one Log Collector per session, and hosts the
// Push-Callback Registry (C10) implicitly through construction-time
// binding (spec §9: no mutable global table).
package transport

import (
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"logcollectord/internal/collector"
)

// Error conditions from spec §4.5.
var (
	ErrBindFailed     = fmt.Errorf("transport: bind failed")
	ErrNotRunning     = fmt.Errorf("transport: not running")
	ErrUnknownSession = fmt.Errorf("transport: unknown session")
)

// Config configures the transport and the CollectorConfig every session
// starts from; a `start` message's level and compress fields always
// replace its MinLevel and CompressLogs.
type Config struct {
	ListenAddr          string
	Port                int
	NumThreads          int
	UplinkAddr          string
	DefaultCollectorCfg collector.Config
}

// Transport is the host process's single TCP listener.
type Transport struct {
	cfg                 Config
	defaultCollectorCfg collector.Config
	logger              *logrus.Logger
	uplink              Uplink

	mu       sync.Mutex
	listener net.Listener
	sessions map[uint64]*session
	running  bool

	nextID atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Transport. uplink may be nil (no Processor uplink
// configured); sendToUplink then becomes a no-op rather than an error.
func New(cfg Config, uplink Uplink, logger *logrus.Logger) *Transport {
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = runtime.NumCPU()
	}
	return &Transport{
		cfg:                 cfg,
		defaultCollectorCfg: cfg.DefaultCollectorCfg,
		logger:              logger,
		uplink:              uplink,
		sessions:            make(map[uint64]*session),
	}
}

// Start binds the listener and begins accepting connections. It blocks
// until the listener is ready or a bind error is reported, with a 5
// second contract timeout.
func (t *Transport) Start() error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	ready := make(chan error, 1)
	t.stopCh = make(chan struct{})

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		addr := fmt.Sprintf("%s:%d", t.cfg.ListenAddr, t.cfg.Port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			ready <- fmt.Errorf("%w: %v", ErrBindFailed, err)
			return
		}

		t.mu.Lock()
		t.listener = ln
		t.running = true
		t.mu.Unlock()

		ready <- nil
		t.acceptLoop(ln)
	}()

	select {
	case err := <-ready:
		if err != nil {
			return err
		}
	case <-time.After(5 * time.Second):
		return fmt.Errorf("%w: listener not ready after 5s", ErrBindFailed)
	}

	if t.uplink != nil {
		if err := t.uplink.Start(); err != nil {
			t.logger.WithError(err).Warn("uplink start failed, continuing without it")
		}
	}

	t.logger.WithFields(logrus.Fields{
		"component":   "transport",
		"listen_addr": t.cfg.ListenAddr,
		"port":        t.cfg.Port,
		"num_threads": t.cfg.NumThreads,
	}).Info("transport started")
	return nil
}

// acceptLoop dispatches each accepted connection to its own goroutine.
// NumThreads bounds how many sessions are handled at once: each session
// holds a semaphore slot until its connection handler returns, and when
// every slot is taken the next accepted connection waits for a free slot
// while the loop accepts nothing further.
func (t *Transport) acceptLoop(ln net.Listener) {
	sem := make(chan struct{}, t.cfg.NumThreads)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
				t.logger.WithError(err).Warn("accept failed")
				continue
			}
		}

		t.wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			t.handleConnection(conn)
		}()
	}
}

// Stop signals the accept loop to exit, closes the listener, tears down
// every live session, and joins the accept goroutine before returning.
// Idempotent.
func (t *Transport) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	ln := t.listener
	t.mu.Unlock()

	close(t.stopCh)
	if ln != nil {
		ln.Close()
	}

	t.mu.Lock()
	sessions := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	for _, s := range sessions {
		s.conn.Close()
	}

	t.wg.Wait()

	if t.uplink != nil {
		t.uplink.Stop()
	}

	t.logger.WithField("component", "transport").Info("transport stopped")
}

// Send writes bytes to one session's socket. Returns false for an
// unknown session or a write error.
func (t *Transport) Send(sessionID uint64, payload []byte) bool {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		return false
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(payload)
	return err == nil
}

// Broadcast writes bytes to every live session and returns the count of
// successful sends.
func (t *Transport) Broadcast(payload []byte) int {
	t.mu.Lock()
	sessions := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	count := 0
	for _, s := range sessions {
		s.writeMu.Lock()
		_, err := s.conn.Write(payload)
		s.writeMu.Unlock()
		if err == nil {
			count++
		}
	}
	return count
}

// CloseConnection forcibly closes one session's socket, triggering its
// teardown through the normal disconnect path. Returns false if the
// session is unknown.
func (t *Transport) CloseConnection(sessionID uint64) bool {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	s.conn.Close()
	return true
}

// GetConnectionCount returns the live session count.
func (t *Transport) GetConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// GetListenAddr returns the configured listen address.
func (t *Transport) GetListenAddr() string { return t.cfg.ListenAddr }

// GetPort returns the configured listen port.
func (t *Transport) GetPort() int { return t.cfg.Port }

// GetNumThreads returns the configured worker thread count.
func (t *Transport) GetNumThreads() int { return t.cfg.NumThreads }

// IsRunning reports whether the transport has an active listener.
func (t *Transport) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// UplinkHealthy reports the uplink's Healthy result, or false if no
// uplink is configured.
func (t *Transport) UplinkHealthy() bool {
	if t.uplink == nil {
		return false
	}
	return t.uplink.Healthy()
}

// SessionStats snapshots every live session's collector.Stats, keyed by
// session ID, for the admin HTTP surface's per-session /stats breakdown.
func (t *Transport) SessionStats() map[uint64]collector.Stats {
	t.mu.Lock()
	sessions := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	out := make(map[uint64]collector.Stats, len(sessions))
	for _, s := range sessions {
		out[s.id] = s.collector.Stats()
	}
	return out
}
