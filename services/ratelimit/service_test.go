package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCounter is an in-process Counter for tests.
type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	fail   error
}

func newMemCounter() *memCounter {
	return &memCounter{counts: make(map[string]int64)}
}

func (m *memCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memCounter) Decr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	m.counts[key]--
	return m.counts[key], nil
}

func newTestService(counter Counter) *Service {
	return NewService(ServiceParams{
		Counter: counter,
		Config: Config{
			CooldownRich: 5 * time.Minute,
			CooldownScan: 24 * time.Hour,
			HourlyCap:    20,
			BurstWindow:  5 * time.Minute,
		},
	})
}

func TestCooldownFor(t *testing.T) {
	svc := newTestService(newMemCounter())

	assert.Equal(t, 5*time.Minute, svc.CooldownFor("rich"))
	assert.Equal(t, 24*time.Hour, svc.CooldownFor("scan"))
}

func TestCheckCooldownNoHistory(t *testing.T) {
	svc := newTestService(newMemCounter())

	res := svc.CheckCooldown(nil, time.Now(), 5*time.Minute)
	assert.True(t, res.Allowed)
}

func TestCheckCooldownActive(t *testing.T) {
	svc := newTestService(newMemCounter())
	now := time.Now()
	last := now.Add(-2 * time.Minute)

	res := svc.CheckCooldown(&last, now, 5*time.Minute)
	require.False(t, res.Allowed)
	assert.Equal(t, ReasonCooldownActive, res.Reason)
	assert.InDelta(t, (3 * time.Minute).Seconds(), res.RetryAfter.Seconds(), 1)
}

func TestCheckCooldownElapsed(t *testing.T) {
	svc := newTestService(newMemCounter())
	now := time.Now()
	last := now.Add(-10 * time.Minute)

	res := svc.CheckCooldown(&last, now, 5*time.Minute)
	assert.True(t, res.Allowed)
}

func TestReserveHourly(t *testing.T) {
	svc := newTestService(newMemCounter())
	ctx := context.Background()
	now := time.Now()

	res, err := svc.ReserveHourly(ctx, "user-1", now)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Flags)

	for i := 0; i < 14; i++ {
		res, err = svc.ReserveHourly(ctx, "user-1", now)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	// Slot 16 of 20 crosses the approaching threshold.
	res, err = svc.ReserveHourly(ctx, "user-1", now)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Contains(t, res.Flags, FlagApproachingLimit)

	for i := 0; i < 4; i++ {
		res, err = svc.ReserveHourly(ctx, "user-1", now)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err = svc.ReserveHourly(ctx, "user-1", now)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	assert.Equal(t, ReasonHourlyLimit, res.Reason)
}

func TestReserveHourlySlotsAreExclusive(t *testing.T) {
	counter := newMemCounter()
	svc := newTestService(counter)
	ctx := context.Background()
	now := time.Now()

	// Both contenders for the final slot go through the same atomic
	// increment, so only one of them can land on the cap.
	for i := 0; i < 19; i++ {
		res, err := svc.ReserveHourly(ctx, "user-1", now)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	first, err := svc.ReserveHourly(ctx, "user-1", now)
	require.NoError(t, err)
	second, err := svc.ReserveHourly(ctx, "user-1", now)
	require.NoError(t, err)

	assert.True(t, first.Allowed)
	assert.False(t, second.Allowed)
}

func TestReleaseHourlyReturnsSlot(t *testing.T) {
	svc := newTestService(newMemCounter())
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 20; i++ {
		res, err := svc.ReserveHourly(ctx, "user-1", now)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := svc.ReserveHourly(ctx, "user-1", now)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	require.NoError(t, svc.ReleaseHourly(ctx, "user-1", now))

	res, err = svc.ReserveHourly(ctx, "user-1", now)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestReserveHourlyCounterFailure(t *testing.T) {
	counter := newMemCounter()
	counter.fail = context.DeadlineExceeded
	svc := newTestService(counter)

	_, err := svc.ReserveHourly(context.Background(), "user-1", time.Now())
	require.Error(t, err)
}

func TestRecordAttemptCounts(t *testing.T) {
	svc := newTestService(newMemCounter())
	ctx := context.Background()
	now := time.Now()

	for i := 1; i <= 3; i++ {
		n, err := svc.RecordAttempt(ctx, "user-1", now)
		require.NoError(t, err)
		assert.EqualValues(t, i, n)
	}

	// A different user gets its own counter.
	n, err := svc.RecordAttempt(ctx, "user-2", now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
