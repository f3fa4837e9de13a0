package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logcollectord/pkg/logentry"
)

func TestQueuePushDrain(t *testing.T) {
	q := New(10)

	require.NoError(t, q.Push(logentry.New("a", logentry.Info)))
	require.NoError(t, q.Push(logentry.New("b", logentry.Info)))
	assert.Equal(t, 2, q.Size())

	entries := q.DrainUpTo(1)
	assert.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Content)
	assert.Equal(t, 1, q.Size())
}

func TestQueueRejectsWhenFull(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Push(logentry.New("a", logentry.Info)))
	require.NoError(t, q.Push(logentry.New("b", logentry.Info)))

	err := q.Push(logentry.New("c", logentry.Info))
	assert.Error(t, err)
	assert.Equal(t, 2, q.Size())
}

func TestQueueDrainUpToMoreThanAvailable(t *testing.T) {
	q := New(10)
	require.NoError(t, q.Push(logentry.New("a", logentry.Info)))

	entries := q.DrainUpTo(5)
	assert.Len(t, entries, 1)
	assert.Equal(t, 0, q.Size())
}

func TestQueueNeverBlocksUnderConcurrentPush(t *testing.T) {
	q := New(1000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = q.Push(logentry.New("x", logentry.Info))
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, q.Size(), 1000)
}
