package batch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logcollectord/pkg/logentry"
	"logcollectord/pkg/queue"
)

func TestBatcherDrainsBySize(t *testing.T) {
	q := queue.New(100)
	var mu sync.Mutex
	var pushed []logentry.Batch

	b := New(q, 1, Config{BatchSize: 3, FlushInterval: time.Hour, Workers: 1}, func(batch logentry.Batch, _ []byte) error {
		mu.Lock()
		pushed = append(pushed, batch)
		mu.Unlock()
		return nil
	})
	b.Start()
	defer b.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(logentry.New("x", logentry.Info)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(pushed) == 1 && pushed[0].Len() == 3
	}, time.Second, 5*time.Millisecond)
}

func TestBatcherFlushBlocksUntilDispatched(t *testing.T) {
	q := queue.New(100)
	var mu sync.Mutex
	var pushed int

	b := New(q, 1, Config{BatchSize: 100, FlushInterval: time.Hour, Workers: 1}, func(batch logentry.Batch, _ []byte) error {
		mu.Lock()
		pushed += batch.Len()
		mu.Unlock()
		return nil
	})
	b.Start()
	defer b.Stop()

	require.NoError(t, q.Push(logentry.New("a", logentry.Info)))
	require.NoError(t, q.Push(logentry.New("b", logentry.Info)))

	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, pushed)
}

func TestBatcherOnRejectFiresOnPushError(t *testing.T) {
	q := queue.New(100)
	rejected := make(chan error, 1)

	b := New(q, 1, Config{BatchSize: 1, FlushInterval: time.Hour, Workers: 1}, func(batch logentry.Batch, _ []byte) error {
		return assert.AnError
	})
	b.SetRejectCallback(func(err error) { rejected <- err })
	b.Start()
	defer b.Stop()

	require.NoError(t, q.Push(logentry.New("a", logentry.Info)))

	select {
	case err := <-rejected:
		assert.Equal(t, assert.AnError, err)
	case <-time.After(time.Second):
		t.Fatal("onReject never fired")
	}
}

func TestBatcherStopDrainsRemainingEntries(t *testing.T) {
	q := queue.New(100)
	var mu sync.Mutex
	var pushed int

	b := New(q, 1, Config{BatchSize: 10, FlushInterval: time.Hour, Workers: 2}, func(batch logentry.Batch, _ []byte) error {
		mu.Lock()
		pushed += batch.Len()
		mu.Unlock()
		return nil
	})
	b.Start()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(logentry.New("a", logentry.Info)))
	}

	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, pushed)
}
