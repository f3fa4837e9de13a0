// Package storage implements the Storage Factory (C9): it builds config
// objects from JSON, constructs concrete sinks, and holds the
// name-to-sink registry. Only the two sink kinds in spec §4.6 are
// modeled: row (internal/storage/rowsink) and kv (internal/storage/kvsink).
package storage

import (
	"context"
	"fmt"
	"sync"

	"logcollectord/internal/storage/kvsink"
	"logcollectord/internal/storage/rowsink"
)

// ErrAlreadyRegistered is returned by RegisterStorage on a name
// collision, matching the original's registry collision handling
// exercised in storage_factory_example.cpp.
var ErrAlreadyRegistered = fmt.Errorf("storage: name already registered")

// Pinger is implemented by every sink kind for liveness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Factory holds a name -> sink registry. It is safe for concurrent use;
// sinks do not appear on the ingestion hot path unless a Processor
// pipeline pulls them in explicitly.
type Factory struct {
	mu    sync.RWMutex
	sinks map[string]any
}

// New returns an empty Factory.
func New() *Factory {
	return &Factory{sinks: make(map[string]any)}
}

// RegisterStorage adds a named sink handle. It fails if the name already
// exists.
func (f *Factory) RegisterStorage(name string, sink any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.sinks[name]; exists {
		return ErrAlreadyRegistered
	}
	f.sinks[name] = sink
	return nil
}

// GetStorage returns the named sink cast to T, or false if the name is
// unregistered or holds a different concrete type.
func GetStorage[T any](f *Factory, name string) (T, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var zero T
	v, ok := f.sinks[name]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// NewRowSink builds a config object from a JSON document and constructs
// a row sink from it, then registers it under name.
func (f *Factory) NewRowSink(ctx context.Context, name string, configJSON []byte) (*rowsink.Sink, error) {
	cfg, err := rowsink.ConfigFromJSON(configJSON)
	if err != nil {
		return nil, err
	}
	sink, err := rowsink.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := f.RegisterStorage(name, sink); err != nil {
		sink.Close()
		return nil, err
	}
	return sink, nil
}

// NewKVSink builds a config object from a JSON document and constructs a
// kv sink from it, then registers it under name.
func (f *Factory) NewKVSink(name string, configJSON []byte) (*kvsink.Sink, error) {
	cfg, err := kvsink.ConfigFromJSON(configJSON)
	if err != nil {
		return nil, err
	}
	sink := kvsink.New(cfg)
	if err := f.RegisterStorage(name, sink); err != nil {
		sink.Close()
		return nil, err
	}
	return sink, nil
}

// PingAll checks liveness of every registered sink that implements
// Pinger, returning the first error encountered per name.
func (f *Factory) PingAll(ctx context.Context) map[string]error {
	f.mu.RLock()
	sinks := make(map[string]any, len(f.sinks))
	for k, v := range f.sinks {
		sinks[k] = v
	}
	f.mu.RUnlock()

	results := make(map[string]error, len(sinks))
	for name, v := range sinks {
		if p, ok := v.(Pinger); ok {
			results[name] = p.Ping(ctx)
		}
	}
	return results
}
