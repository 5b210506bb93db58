package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codeflow/internal/apperror"
)

type stubExecutor struct {
	res *Result
	err error
}

func (s stubExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	return s.res, s.err
}

func TestStatusFromExitCode(t *testing.T) {
	assert.Equal(t, StatusOK, StatusFromExitCode(0))
	assert.Equal(t, StatusTimeout, StatusFromExitCode(TimeoutExitCode))
	assert.Equal(t, StatusRuntimeError, StatusFromExitCode(1))
}

func TestLimiter_MinuteBurst(t *testing.T) {
	l := NewLimiter(3, 100)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow("u1"), "run %d", i)
	}
	err := l.Allow("u1")
	assert.True(t, errors.Is(err, apperror.ErrRateLimited))

	// Buckets are per user.
	assert.NoError(t, l.Allow("u2"))
}

func TestLimiter_HourCapDoesNotBurnMinuteTokens(t *testing.T) {
	l := NewLimiter(5, 2)

	require.NoError(t, l.Allow("u1"))
	require.NoError(t, l.Allow("u1"))

	err := l.Allow("u1")
	require.True(t, errors.Is(err, apperror.ErrRateLimited))
	assert.Contains(t, err.Error(), "hourly")

	b := l.buckets["u1"]
	assert.Equal(t, int64(3), b.minute.Available())
}

func TestLimiter_ConcurrentRunsRespectHourCap(t *testing.T) {
	l := NewLimiter(100, 7)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("u1") == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, allowed)
	assert.Equal(t, int64(100-7), l.buckets["u1"].minute.Available())
}

// fakeClock drives bucket refills without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) { c.advance(d) }

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLimiter_PruneDropsRefilledUsers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiterWithClock(2, 5, clock)

	require.NoError(t, l.Allow("u1"))
	clock.advance(30 * time.Minute)
	require.NoError(t, l.Allow("u2"))

	assert.Zero(t, l.Prune(), "both users still owe tokens")
	assert.Equal(t, 2, l.Len())

	clock.advance(40 * time.Minute)
	assert.Equal(t, 1, l.Prune())
	assert.Equal(t, 1, l.Len())
	_, ok := l.buckets["u2"]
	assert.True(t, ok)

	clock.advance(time.Hour)
	assert.Equal(t, 1, l.Prune())
	assert.Zero(t, l.Len())
}

func TestLimiter_Defaults(t *testing.T) {
	l := NewLimiter(0, -1)
	assert.Equal(t, int64(DefaultPerMinute), l.perMinute)
	assert.Equal(t, int64(DefaultPerHour), l.perHour)
}

func TestInstrument(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_executions_total"}, []string{"language", "status"})

	ok := Instrument(stubExecutor{res: &Result{Status: StatusOK}}, counter)
	_, err := ok.Execute(context.Background(), Request{Language: "python"})
	require.NoError(t, err)

	broken := Instrument(stubExecutor{err: errors.New("no daemon")}, counter)
	_, err = broken.Execute(context.Background(), Request{Language: "go"})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("python", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("go", "error")))
}

func TestInstrument_NilCounterIsPassthrough(t *testing.T) {
	inner := stubExecutor{res: &Result{}}
	assert.Equal(t, Executor(inner), Instrument(inner, nil))
}
