// Package kafkauplink implements an alternate Processor uplink
// (spec §5 "Supplemented features") that produces the same batch
// payload to a Kafka topic instead of a raw socket, selectable by
// configuration alongside the default TCP uplink.
package kafkauplink

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/xdg-go/scram"
)

var (
	sha256Generator scram.HashGeneratorFcn = sha256.New
	sha512Generator scram.HashGeneratorFcn = sha512.New
)

// xdgSCRAMClient adapts xdg-go/scram to sarama.SCRAMClient.
type xdgSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *xdgSCRAMClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

func (x *xdgSCRAMClient) Step(challenge string) (string, error) {
	return x.ClientConversation.Step(challenge)
}

func (x *xdgSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}

// AuthConfig configures SASL/SCRAM authentication against the brokers.
type AuthConfig struct {
	Enabled   bool
	Username  string
	Password  string
	Mechanism string // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
}

// Config configures the Kafka uplink.
type Config struct {
	Brokers  []string
	Topic    string
	Timeout  time.Duration
	RetryMax int
	Auth     AuthConfig
}

// Uplink produces batch payloads to a Kafka topic. It satisfies the same
// capability the transport package's Uplink interface describes
// (Start/Stop/Send/Healthy) without importing that package, avoiding a
// dependency cycle; cmd/collectord wires it in behind that interface.
type Uplink struct {
	cfg    Config
	logger *logrus.Logger

	producer sarama.AsyncProducer

	mu      sync.Mutex
	healthy atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Kafka-backed uplink. The producer connects lazily on
// Start.
func New(cfg Config, logger *logrus.Logger) *Uplink {
	return &Uplink{cfg: cfg, logger: logger, stopCh: make(chan struct{})}
}

// Start creates the async producer and begins draining its success and
// error channels.
func (u *Uplink) Start() error {
	if len(u.cfg.Brokers) == 0 {
		return fmt.Errorf("kafkauplink: no brokers configured")
	}
	if u.cfg.Topic == "" {
		return fmt.Errorf("kafkauplink: no topic configured")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal

	if u.cfg.RetryMax > 0 {
		saramaCfg.Producer.Retry.Max = u.cfg.RetryMax
	}
	if u.cfg.Timeout > 0 {
		saramaCfg.Net.DialTimeout = u.cfg.Timeout
		saramaCfg.Net.ReadTimeout = u.cfg.Timeout
		saramaCfg.Net.WriteTimeout = u.cfg.Timeout
	}

	if u.cfg.Auth.Enabled {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.User = u.cfg.Auth.Username
		saramaCfg.Net.SASL.Password = u.cfg.Auth.Password

		switch strings.ToUpper(u.cfg.Auth.Mechanism) {
		case "PLAIN":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: sha256Generator}
			}
		case "SCRAM-SHA-512":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: sha512Generator}
			}
		}
	}

	producer, err := sarama.NewAsyncProducer(u.cfg.Brokers, saramaCfg)
	if err != nil {
		return fmt.Errorf("kafkauplink: new producer: %w", err)
	}
	u.producer = producer
	u.healthy.Store(true)

	u.wg.Add(1)
	go u.drainResults()

	u.logger.WithFields(logrus.Fields{
		"component": "kafkauplink",
		"brokers":   u.cfg.Brokers,
		"topic":     u.cfg.Topic,
	}).Info("kafka uplink started")
	return nil
}

// drainResults consumes the producer's success/error channels, the
// sarama contract for an AsyncProducer with Return.Successes/Errors
// enabled; it also reflects failures into the health flag.
func (u *Uplink) drainResults() {
	defer u.wg.Done()
	for {
		select {
		case <-u.stopCh:
			return
		case <-u.producer.Successes():
			u.healthy.Store(true)
		case err, ok := <-u.producer.Errors():
			if !ok {
				return
			}
			u.logger.WithError(err.Err).WithField("component", "kafkauplink").Warn("produce failed")
			u.healthy.Store(false)
		}
	}
}

// Send publishes payload as one message to the configured topic. At-
// least-once, unauthenticated unless SASL is configured — the same
// non-goals as the rest of the uplink surface.
func (u *Uplink) Send(payload []byte) error {
	u.mu.Lock()
	producer := u.producer
	u.mu.Unlock()
	if producer == nil {
		return fmt.Errorf("kafkauplink: not started")
	}

	select {
	case producer.Input() <- &sarama.ProducerMessage{
		Topic: u.cfg.Topic,
		Value: sarama.ByteEncoder(payload),
	}:
		return nil
	default:
		return fmt.Errorf("kafkauplink: producer input full")
	}
}

// Healthy reports the last observed produce outcome.
func (u *Uplink) Healthy() bool {
	return u.healthy.Load()
}

// Stop closes the producer and joins the result-draining goroutine.
func (u *Uplink) Stop() {
	close(u.stopCh)
	u.mu.Lock()
	producer := u.producer
	u.mu.Unlock()
	if producer != nil {
		producer.AsyncClose()
	}
	u.wg.Wait()
}
