package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Uplink is the transport's single long-lived connection to the
// downstream Processor. The transport polls Healthy before each uplink
// send and returns a retryable error instead of sending while it reports
// false. The TCP implementation keeps its health flag behind a mutex
// that is never held across a dial or a write, so polling it does not
// wait on network I/O but is not lock-free; its Send writes to the
// connection outside that mutex.
type Uplink interface {
	Start() error
	Stop()
	Send(payload []byte) error
	Healthy() bool
}

// tcpUplink is the default Uplink: a single reconnecting TCP client, the
// upgrade the spec's §5 "Supplemented features" calls for over the
// original's connect-once client.
type tcpUplink struct {
	addr   string
	logger *logrus.Logger

	mu      sync.Mutex
	conn    net.Conn
	healthy bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTCPUplink constructs a reconnecting TCP uplink to addr.
func NewTCPUplink(addr string, logger *logrus.Logger) Uplink {
	return &tcpUplink{addr: addr, logger: logger, stopCh: make(chan struct{})}
}

// Start attempts an initial connection and launches the background
// reconnect loop; failure to connect immediately is not fatal, the loop
// keeps trying with backoff.
func (u *tcpUplink) Start() error {
	u.tryConnect()
	u.wg.Add(1)
	go u.reconnectLoop()
	return nil
}

func (u *tcpUplink) reconnectLoop() {
	defer u.wg.Done()
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	ticker := time.NewTicker(backoff)
	defer ticker.Stop()

	for {
		select {
		case <-u.stopCh:
			return
		case <-ticker.C:
			if u.Healthy() {
				backoff = time.Second
				ticker.Reset(backoff)
				continue
			}
			u.tryConnect()
			if !u.Healthy() {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			} else {
				backoff = time.Second
			}
			ticker.Reset(backoff)
		}
	}
}

func (u *tcpUplink) tryConnect() {
	conn, err := net.DialTimeout("tcp", u.addr, 5*time.Second)
	u.mu.Lock()
	defer u.mu.Unlock()
	if err != nil {
		u.healthy = false
		u.logger.WithError(err).WithField("component", "uplink").Warn("uplink connect failed")
		return
	}
	if u.conn != nil {
		u.conn.Close()
	}
	u.conn = conn
	u.healthy = true
	u.logger.WithField("component", "uplink").Info("uplink connected")
}

// Send writes a newline-terminated payload. On failure the connection is
// marked unhealthy so the reconnect loop picks it back up.
func (u *tcpUplink) Send(payload []byte) error {
	u.mu.Lock()
	conn := u.conn
	ok := u.healthy
	u.mu.Unlock()

	if !ok || conn == nil {
		return fmt.Errorf("uplink: not connected")
	}

	if _, err := conn.Write(append(payload, '\n')); err != nil {
		u.mu.Lock()
		u.healthy = false
		u.mu.Unlock()
		return fmt.Errorf("uplink: write: %w", err)
	}
	return nil
}

// Healthy reports the last known connection state without waiting on
// network I/O.
func (u *tcpUplink) Healthy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.healthy
}

// Stop halts the reconnect loop and closes the connection.
func (u *tcpUplink) Stop() {
	close(u.stopCh)
	u.wg.Wait()
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
	u.healthy = false
}
