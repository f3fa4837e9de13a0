// Command collectord runs the log collector server: it accepts TCP
// control sessions, tails files, filters and batches entries, and fans
// each batch out to the session socket and a Processor uplink (TCP or
// Kafka), backed by an optional Storage Factory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"logcollectord/internal/adminhttp"
	"logcollectord/internal/config"
	"logcollectord/internal/metrics"
	"logcollectord/internal/storage"
	"logcollectord/internal/transport"
	"logcollectord/internal/transport/kafkauplink"
	"logcollectord/pkg/tracing"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.Parse()

	if configFile == "" {
		configFile = os.Getenv("COLLECTORD_CONFIG_FILE")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "collectord: config: %v\n", err)
		os.Exit(1)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("collectord exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	tracingManager := tracing.NewManager("collectord")
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingManager.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("tracing provider shutdown failed")
		}
	}()

	uplink, err := buildUplink(cfg, logger)
	if err != nil {
		return fmt.Errorf("collectord: uplink: %w", err)
	}

	defaultCollectorCfg := cfg.Collector.ToCollectorConfig()

	t := transport.New(transport.Config{
		ListenAddr:          cfg.Server.ListenAddr,
		Port:                cfg.Server.Port,
		NumThreads:          cfg.Server.NumThreads,
		DefaultCollectorCfg: defaultCollectorCfg,
	}, uplink, logger)

	if err := t.Start(); err != nil {
		return fmt.Errorf("collectord: transport start: %w", err)
	}

	sinkFactory := storage.New()
	if err := registerSinks(sinkFactory, cfg, logger); err != nil {
		logger.WithError(err).Warn("one or more storage sinks failed to register")
	}

	adminAddr := fmt.Sprintf("%s:%d", cfg.Admin.ListenAddr, cfg.Admin.Port)
	admin := adminhttp.New(adminAddr, t, sinkFactory, logger)
	if err := admin.Start(); err != nil {
		return fmt.Errorf("collectord: admin http start: %w", err)
	}

	resourceCtx, cancelResources := context.WithCancel(context.Background())
	metrics.StartResourceSampler(resourceCtx, 15*time.Second, logger)

	logger.WithFields(logrus.Fields{
		"component":   "collectord",
		"listen_addr": cfg.Server.ListenAddr,
		"port":        cfg.Server.Port,
		"admin_addr":  adminAddr,
	}).Info("collectord started")

	waitForShutdown(logger)

	cancelResources()
	admin.Stop()
	t.Stop()
	logger.WithField("component", "collectord").Info("collectord stopped")
	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM, logging the signal
// before returning control for an orderly shutdown sequence.
func waitForShutdown(logger *logrus.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.WithField("signal", sig.String()).Info("shutdown signal received")
}

// buildUplink selects and constructs the Processor uplink named by
// cfg.Uplink.Protocol. A nil, nil return means no uplink is configured;
// the transport then only fans out to session sockets.
func buildUplink(cfg *config.Config, logger *logrus.Logger) (transport.Uplink, error) {
	switch cfg.Uplink.Protocol {
	case "", "tcp":
		if cfg.Uplink.Address == "" {
			return nil, nil
		}
		return transport.NewTCPUplink(cfg.Uplink.Address, logger), nil

	case "kafka":
		timeout, _ := time.ParseDuration(cfg.Uplink.Kafka.Timeout)
		kUplink := kafkauplink.New(kafkauplink.Config{
			Brokers:  cfg.Uplink.Kafka.Brokers,
			Topic:    cfg.Uplink.Kafka.Topic,
			Timeout:  timeout,
			RetryMax: cfg.Uplink.Kafka.RetryMax,
			Auth: kafkauplink.AuthConfig{
				Enabled:   cfg.Uplink.Kafka.Auth.Enabled,
				Username:  cfg.Uplink.Kafka.Auth.Username,
				Password:  cfg.Uplink.Kafka.Auth.Password,
				Mechanism: cfg.Uplink.Kafka.Auth.Mechanism,
			},
		}, logger)
		return kafkaUplinkAdapter{kUplink}, nil

	default:
		return nil, fmt.Errorf("unknown uplink protocol %q", cfg.Uplink.Protocol)
	}
}

// kafkaUplinkAdapter satisfies transport.Uplink for *kafkauplink.Uplink,
// which deliberately does not import the transport package to avoid a
// dependency cycle (kafkauplink is imported by cmd/collectord only).
type kafkaUplinkAdapter struct {
	u *kafkauplink.Uplink
}

func (k kafkaUplinkAdapter) Start() error        { return k.u.Start() }
func (k kafkaUplinkAdapter) Stop()               { k.u.Stop() }
func (k kafkaUplinkAdapter) Send(p []byte) error { return k.u.Send(p) }
func (k kafkaUplinkAdapter) Healthy() bool       { return k.u.Healthy() }

// registerSinks builds a row and/or kv sink from the configuration's raw
// JSON documents, when present. Sink construction failures are logged
// but non-fatal: the collector server's core ingestion path does not
// depend on storage sinks being reachable.
func registerSinks(f *storage.Factory, cfg *config.Config, logger *logrus.Logger) error {
	ctx := context.Background()
	var firstErr error

	for name, doc := range cfg.Storage.Row {
		if _, err := f.NewRowSink(ctx, name, []byte(doc)); err != nil {
			logger.WithError(err).WithField("sink", name).Warn("row sink registration failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for name, doc := range cfg.Storage.KV {
		if _, err := f.NewKVSink(name, []byte(doc)); err != nil {
			logger.WithError(err).WithField("sink", name).Warn("kv sink registration failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
