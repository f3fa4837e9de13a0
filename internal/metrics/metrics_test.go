package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(noopWriter{})
	return l
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestCountersAndGaugesAreWritable(t *testing.T) {
	SessionsOpen.Set(0)
	SessionsOpen.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(SessionsOpen))
	SessionsOpen.Dec()
	assert.Equal(t, float64(0), testutil.ToFloat64(SessionsOpen))

	EntriesSubmittedTotal.WithLabelValues("sent").Add(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(EntriesSubmittedTotal.WithLabelValues("sent")))

	BatchesFlushedTotal.WithLabelValues("size").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(BatchesFlushedTotal.WithLabelValues("size")))
}

func TestStartResourceSamplerStopsOnContextCancel(t *testing.T) {
	// The sampler goroutine must have exited once the test returns.
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	StartResourceSampler(ctx, 10*time.Millisecond, testLogger())

	time.Sleep(50 * time.Millisecond)
	cancel()

	// HostCPUPercent holds a non-negative percentage (zero if no tick
	// sampled it before cancellation).
	assert.GreaterOrEqual(t, testutil.ToFloat64(HostCPUPercent), float64(0))
}
