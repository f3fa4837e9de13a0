package tailer

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logcollectord/pkg/logentry"
)

func TestTailerSubmitsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("old line before start\n"), 0o644))

	var mu sync.Mutex
	var got []string

	tl := New(Config{Path: path, MinLevel: logentry.Info, Interval: 20 * time.Millisecond}, func(content string, level logentry.Level) bool {
		mu.Lock()
		got = append(got, content)
		mu.Unlock()
		return true
	}, nil)

	require.NoError(t, tl.Start())
	defer tl.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("new line one\nnew line two\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, got, "old line before start")
	assert.Contains(t, got, "new line one")
	assert.Contains(t, got, "new line two")
}

func TestTailerStartErrorsOnMissingFile(t *testing.T) {
	tl := New(Config{Path: "/nonexistent/path/app.log"}, func(string, logentry.Level) bool { return true }, nil)
	err := tl.Start()
	assert.Error(t, err)
}

func TestTailerStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	tl := New(Config{Path: path, Interval: 20 * time.Millisecond}, func(string, logentry.Level) bool { return true }, nil)
	require.NoError(t, tl.Start())

	tl.Stop()
	tl.Stop()
}
