package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"logcollectord/internal/collector"
	"logcollectord/internal/metrics"
	"logcollectord/pkg/apperr"
	"logcollectord/pkg/filter"
	"logcollectord/pkg/logentry"
	"logcollectord/pkg/tracing"
)

var tracer = tracing.Tracer("logcollectord/transport")

// sessionState mirrors spec §3's Session.state.
type sessionState int

const (
	sessionOpen sessionState = iota
	sessionClosing
	sessionClosed
)

// controlMessage is the line-delimited JSON control protocol (spec §6).
type controlMessage struct {
	Cmd      string   `json:"cmd"`
	File     string   `json:"file"`
	Interval int      `json:"interval"`
	MaxLines int      `json:"maxLines"`
	Level    string   `json:"level"`
	Compress bool     `json:"compress"`
	Keywords []string `json:"keywords"`
}

// sessionWireEntry is the batch element shape sent back to the
// controlling client socket.
type sessionWireEntry struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Content string `json:"content"`
}

// uplinkWireEntry is the batch element shape sent to the Processor.
type uplinkWireEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Source    string `json:"source"`
}

const wireTimeLayout = "2006-01-02 15:04:05"

// session is one TCP connection controlling one Log Collector.
type session struct {
	id       uint64
	peerAddr string
	conn     net.Conn
	collector *collector.Collector

	mu    sync.Mutex
	state sessionState

	writeMu sync.Mutex
}

// sessionSendFunc is the C10 push callback bound at session-creation time
// (construction-time binding, per §9's "no mutable global table" design
// note) for the session-socket leg only: the collector calls it exactly
// once per batch, synchronously, outside the retry engine, so a slow or
// down Processor uplink can never cause the session socket to see the
// same batch twice (spec §5 sink independence, §8 S4).
func (t *Transport) sessionSendFunc(s *session) collector.PushFunc {
	return func(batch logentry.Batch, _ []byte) error {
		t.sendToSession(s, batch)
		return nil
	}
}

// uplinkSendFunc is the retryable leg handed to the collector's retry
// engine: only uplink attempts are re-driven on failure, never the
// already-acknowledged session socket.
func (t *Transport) uplinkSendFunc() collector.PushFunc {
	return func(batch logentry.Batch, compressed []byte) error {
		return t.sendToUplink(batch, compressed)
	}
}

func (t *Transport) sendToSession(s *session, batch logentry.Batch) {
	if len(batch.Entries) == 0 {
		return
	}
	wire := make([]sessionWireEntry, len(batch.Entries))
	for i, e := range batch.Entries {
		wire[i] = sessionWireEntry{
			Time:    e.Timestamp.Format(wireTimeLayout),
			Level:   e.Level.String(),
			Content: e.Content,
		}
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		t.logger.WithError(err).WithField("session_id", s.id).Warn("marshal session batch failed")
		return
	}

	s.writeMu.Lock()
	_, werr := s.conn.Write(append(raw, '\n'))
	s.writeMu.Unlock()
	if werr != nil {
		t.logger.WithError(werr).WithField("session_id", s.id).Warn("session send failed")
	}
}

func (t *Transport) sendToUplink(batch logentry.Batch, compressed []byte) error {
	if t.uplink == nil {
		return nil
	}
	healthy := t.uplink.Healthy()
	if healthy {
		metrics.UplinkHealthy.Set(1)
	} else {
		metrics.UplinkHealthy.Set(0)
	}
	if !healthy {
		return apperr.SinkUnavailable("transport", "uplink", fmt.Errorf("uplink down"))
	}

	var payload []byte
	if compressed != nil {
		payload = compressed
	} else {
		wire := make([]uplinkWireEntry, len(batch.Entries))
		for i, e := range batch.Entries {
			wire[i] = uplinkWireEntry{
				Timestamp: e.Timestamp.Format(wireTimeLayout),
				Level:     e.Level.String(),
				Message:   e.Content,
				Source:    "collector",
			}
		}
		raw, err := json.Marshal(wire)
		if err != nil {
			return apperr.SinkPermanentFailure("transport", "uplink", "marshal failed")
		}
		payload = raw
	}

	if err := t.uplink.Send(payload); err != nil {
		return apperr.SinkUnavailable("transport", "uplink", err)
	}
	return nil
}

// handleConnection reads line-delimited control messages until EOF or a
// protocol-ending event, tearing the session's collector down on exit
// (disconnect implies stop, per spec §4.5).
func (t *Transport) handleConnection(conn net.Conn) {
	defer t.wg.Done()

	id := t.nextID.Add(1)
	s := &session{id: id, peerAddr: conn.RemoteAddr().String(), conn: conn, state: sessionOpen}
	s.collector = collector.New(id, t.logger, t.sessionSendFunc(s), t.uplinkSendFunc())

	t.mu.Lock()
	t.sessions[id] = s
	t.mu.Unlock()
	metrics.SessionsOpen.Inc()

	t.logger.WithFields(logrus.Fields{
		"component":  "transport",
		"session_id": id,
		"peer":       s.peerAddr,
	}).Info("session opened")

	defer t.teardownSession(s)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg controlMessage
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			t.logger.WithError(err).WithField("session_id", id).Warn("malformed control message")
			continue
		}
		t.handleControlMessage(s, msg)
	}
}

func (t *Transport) handleControlMessage(s *session, msg controlMessage) {
	_, span := tracing.Start(context.Background(), tracer, "transport.handleControlMessage")
	span.SetAttributes(attribute.String("cmd", msg.Cmd), attribute.Int64("session_id", int64(s.id)))
	defer func() { tracing.End(span, nil) }()

	switch msg.Cmd {
	case "start":
		t.startCollector(s, msg)
	case "stop":
		s.mu.Lock()
		s.state = sessionClosing
		s.mu.Unlock()
		s.collector.Shutdown()
	default:
		t.logger.WithField("session_id", s.id).WithField("cmd", msg.Cmd).Warn("unrecognized control command")
	}
}

func (t *Transport) startCollector(s *session, msg controlMessage) {
	cfg := t.defaultCollectorCfg
	cfg.MinLevel = logentry.ParseLevel(msg.Level)
	cfg.CompressLogs = msg.Compress

	if err := s.collector.Initialize(cfg); err != nil {
		t.logger.WithError(err).WithField("session_id", s.id).Warn("collector initialize failed")
		return
	}
	if len(msg.Keywords) > 0 {
		s.collector.AddFilter(filter.KeywordFilter{Words: msg.Keywords, RejectIfPresent: true})
	}
	if msg.File == "" {
		t.logger.WithField("session_id", s.id).Warn("start command missing file path")
		return
	}

	interval := time.Duration(msg.Interval) * time.Millisecond
	if msg.Interval <= 0 {
		interval = time.Second
	}
	maxLines := msg.MaxLines
	if maxLines <= 0 {
		maxLines = 10
	}
	if err := s.collector.CollectFromFile(msg.File, cfg.MinLevel, interval, maxLines); err != nil {
		t.logger.WithError(err).WithField("session_id", s.id).Warn("tailer start failed")
	}
}

func (t *Transport) teardownSession(s *session) {
	s.collector.Shutdown()

	t.mu.Lock()
	delete(t.sessions, s.id)
	t.mu.Unlock()
	metrics.SessionsOpen.Dec()

	s.mu.Lock()
	s.state = sessionClosed
	s.mu.Unlock()

	s.conn.Close()
	t.logger.WithFields(logrus.Fields{
		"component":  "transport",
		"session_id": s.id,
	}).Info("session closed")
}
