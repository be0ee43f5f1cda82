package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// walk produces n clean samples spaced step apart, ending just before now.
func walk(now time.Time, n int, step time.Duration) []Sample {
	samples := make([]Sample, n)
	start := now.Add(-time.Duration(n) * step)
	for i := range samples {
		samples[i] = Sample{
			Latitude:       36.4273,
			Longitude:      -5.1483,
			AccuracyMeters: 10,
			CapturedAtMs:   start.Add(time.Duration(i+1) * step).UnixMilli(),
		}
	}
	return samples
}

func TestValidateTrajectoryClean(t *testing.T) {
	now := time.Now()
	v := ValidateTrajectory(walk(now, 3, 2*time.Second), now, DefaultPolicy())

	require.False(t, v.Fatal)
	assert.True(t, v.Valid)
	assert.Equal(t, 100, v.Confidence)
}

func TestValidateTrajectoryInsufficientSamples(t *testing.T) {
	now := time.Now()
	v := ValidateTrajectory(walk(now, 2, 2*time.Second), now, DefaultPolicy())

	require.True(t, v.Fatal)
	assert.Equal(t, ReasonInsufficientSamples, v.Reason)
}

func TestValidateTrajectoryOrderInsensitive(t *testing.T) {
	now := time.Now()
	samples := walk(now, 4, 2*time.Second)
	shuffled := []Sample{samples[2], samples[0], samples[3], samples[1]}

	a := ValidateTrajectory(samples, now, DefaultPolicy())
	b := ValidateTrajectory(shuffled, now, DefaultPolicy())

	assert.Equal(t, a.Valid, b.Valid)
	assert.Equal(t, a.Confidence, b.Confidence)
	assert.ElementsMatch(t, a.Flags, b.Flags)
}

func TestValidateTrajectoryFatalSampleDominates(t *testing.T) {
	now := time.Now()
	samples := walk(now, 3, 2*time.Second)
	samples[1].Latitude = 95

	v := ValidateTrajectory(samples, now, DefaultPolicy())
	require.True(t, v.Fatal)
	assert.Equal(t, ReasonOutOfRange, v.Reason)
}

func TestValidateTrajectorySamplesTooFast(t *testing.T) {
	now := time.Now()
	v := ValidateTrajectory(walk(now, 3, 500*time.Millisecond), now, DefaultPolicy())

	assert.Contains(t, v.Flags, FlagSamplesTooFast)
	assert.Equal(t, 80, v.Confidence)
}

func TestValidateTrajectorySamplesTooSlow(t *testing.T) {
	now := time.Now()
	samples := walk(now, 3, 20*time.Second)

	v := ValidateTrajectory(samples, now, DefaultPolicy())
	assert.Contains(t, v.Flags, FlagSamplesTooSlow)
	// The 20s spacing also makes the earliest samples stale.
	assert.Contains(t, v.Flags, FlagStale)
}

func TestValidateTrajectoryImpossibleMovement(t *testing.T) {
	now := time.Now()
	samples := walk(now, 3, 2*time.Second)
	// ~0.01 deg latitude is roughly 1.1km; in 2s that is over 500 m/s.
	samples[2].Latitude += 0.01

	v := ValidateTrajectory(samples, now, DefaultPolicy())
	require.False(t, v.Fatal)
	assert.Contains(t, v.Flags, FlagImpossibleMovement)
	assert.Contains(t, v.Flags, FlagHighVariance)
	assert.False(t, v.Valid)
}

func TestValidateTrajectoryFlagPenalizesOnce(t *testing.T) {
	now := time.Now()
	// Every pair is too fast; the penalty must still apply a single time.
	v := ValidateTrajectory(walk(now, 5, 200*time.Millisecond), now, DefaultPolicy())

	assert.Equal(t, 80, v.Confidence)
}

func TestLastSample(t *testing.T) {
	now := time.Now()
	samples := walk(now, 3, 2*time.Second)
	shuffled := []Sample{samples[2], samples[0], samples[1]}

	assert.Equal(t, samples[2], LastSample(shuffled))
}
