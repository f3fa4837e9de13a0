package transport

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logcollectord/internal/collector"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(noopWriter{})
	return l
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

type fakeUplink struct {
	mu       sync.Mutex
	sent     [][]byte
	healthy  bool
}

func newFakeUplink() *fakeUplink { return &fakeUplink{healthy: true} }

func (f *fakeUplink) Start() error { return nil }
func (f *fakeUplink) Stop()        {}
func (f *fakeUplink) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), p...)
	f.sent = append(f.sent, cp)
	return nil
}
func (f *fakeUplink) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}
func (f *fakeUplink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// flakyUplink reports healthy but fails every Send, to exercise the retry
// engine without ever letting a batch succeed.
type flakyUplink struct {
	mu    sync.Mutex
	tries int
}

func (f *flakyUplink) Start() error { return nil }
func (f *flakyUplink) Stop()        {}
func (f *flakyUplink) Send([]byte) error {
	f.mu.Lock()
	f.tries++
	f.mu.Unlock()
	return assert.AnError
}
func (f *flakyUplink) Healthy() bool { return true }
func (f *flakyUplink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tries
}

func newTestTransport(t *testing.T, uplink Uplink) *Transport {
	t.Helper()
	cfg := Config{
		ListenAddr: "127.0.0.1",
		Port:       freePort(t),
		NumThreads: 2,
		DefaultCollectorCfg: func() collector.Config {
			c := collector.DefaultConfig()
			c.BatchSize = 1
			c.FlushInterval = 20 * time.Millisecond
			c.RetryInterval = 20 * time.Millisecond
			return c
		}(),
	}
	tr := New(cfg, uplink, testLogger())
	require.NoError(t, tr.Start())
	t.Cleanup(tr.Stop)
	return tr
}

func TestTransportStartStopIdempotent(t *testing.T) {
	tr := newTestTransport(t, nil)
	require.NoError(t, tr.Start())
	assert.True(t, tr.IsRunning())

	tr.Stop()
	assert.False(t, tr.IsRunning())
	tr.Stop()
}

func TestSessionOpenUpdatesConnectionCount(t *testing.T) {
	tr := newTestTransport(t, nil)

	conn, err := net.Dial("tcp", net.JoinHostPort(tr.GetListenAddr(), strconv.Itoa(tr.GetPort())))
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return tr.GetConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return tr.GetConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestControlProtocolFansOutToSessionAndUplink(t *testing.T) {
	uplink := newFakeUplink()
	tr := newTestTransport(t, uplink)

	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	conn, err := net.Dial("tcp", net.JoinHostPort(tr.GetListenAddr(), strconv.Itoa(tr.GetPort())))
	require.NoError(t, err)
	defer conn.Close()

	startMsg, err := json.Marshal(map[string]interface{}{
		"cmd":      "start",
		"file":     path,
		"interval": 20,
		"maxLines": 10,
		"level":    "info",
	})
	require.NoError(t, err)
	_, err = conn.Write(append(startMsg, '\n'))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tr.GetConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("hello from the tailed file\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	require.True(t, scanner.Scan())
	assert.Contains(t, scanner.Text(), "hello from the tailed file")

	require.Eventually(t, func() bool { return uplink.count() > 0 }, time.Second, 10*time.Millisecond)
}

// TestSessionSocketSeesOneLineDespiteUplinkRetries guards spec's sink
// independence guarantee end-to-end: a batch retried repeatedly against
// a failing uplink still reaches the session socket exactly once.
func TestSessionSocketSeesOneLineDespiteUplinkRetries(t *testing.T) {
	uplink := &flakyUplink{}
	tr := newTestTransport(t, uplink)

	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	conn, err := net.Dial("tcp", net.JoinHostPort(tr.GetListenAddr(), strconv.Itoa(tr.GetPort())))
	require.NoError(t, err)
	defer conn.Close()

	startMsg, err := json.Marshal(map[string]interface{}{
		"cmd": "start", "file": path, "interval": 20, "maxLines": 10, "level": "info",
	})
	require.NoError(t, err)
	_, err = conn.Write(append(startMsg, '\n'))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tr.GetConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("one line only\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return uplink.count() >= 3 }, time.Second, 10*time.Millisecond)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	require.True(t, scanner.Scan())
	assert.Contains(t, scanner.Text(), "one line only")
	assert.False(t, scanner.Scan(), "session socket must not see the batch more than once")
}

func TestSessionStatsReportsPerSessionCounters(t *testing.T) {
	tr := newTestTransport(t, nil)

	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	conn, err := net.Dial("tcp", net.JoinHostPort(tr.GetListenAddr(), strconv.Itoa(tr.GetPort())))
	require.NoError(t, err)
	defer conn.Close()

	startMsg, err := json.Marshal(map[string]interface{}{
		"cmd": "start", "file": path, "interval": 20, "maxLines": 10, "level": "info",
	})
	require.NoError(t, err)
	_, err = conn.Write(append(startMsg, '\n'))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(tr.SessionStats()) == 1 }, time.Second, 10*time.Millisecond)

	for id := range tr.SessionStats() {
		assert.Equal(t, uint64(1), id)
	}
}

func TestUplinkHealthyReflectsConfiguredUplink(t *testing.T) {
	tr := newTestTransport(t, nil)
	assert.False(t, tr.UplinkHealthy())

	uplink := newFakeUplink()
	tr2 := newTestTransport(t, uplink)
	assert.True(t, tr2.UplinkHealthy())
}
