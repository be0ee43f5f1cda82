package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func freshSample(now time.Time) Sample {
	return Sample{
		Latitude:       36.4273,
		Longitude:      -5.1483,
		AccuracyMeters: 10,
		CapturedAtMs:   now.Add(-2 * time.Second).UnixMilli(),
	}
}

func TestValidateSampleClean(t *testing.T) {
	now := time.Now()
	v := ValidateSample(freshSample(now), now, DefaultPolicy())

	require.False(t, v.Fatal)
	assert.True(t, v.Valid)
	assert.Equal(t, 100, v.Confidence)
	assert.Empty(t, v.Flags)
}

func TestValidateSampleOutOfRangeLatitude(t *testing.T) {
	now := time.Now()
	s := freshSample(now)
	s.Latitude = 91

	v := ValidateSample(s, now, DefaultPolicy())
	require.True(t, v.Fatal)
	assert.Equal(t, ReasonOutOfRange, v.Reason)
	assert.Zero(t, v.Confidence)
}

func TestValidateSampleOutOfRangeLongitude(t *testing.T) {
	now := time.Now()
	s := freshSample(now)
	s.Longitude = -181

	v := ValidateSample(s, now, DefaultPolicy())
	require.True(t, v.Fatal)
	assert.Equal(t, ReasonOutOfRange, v.Reason)
}

func TestValidateSampleFutureTimestamp(t *testing.T) {
	now := time.Now()
	s := freshSample(now)
	s.CapturedAtMs = now.Add(10 * time.Second).UnixMilli()

	v := ValidateSample(s, now, DefaultPolicy())
	require.True(t, v.Fatal)
	assert.Equal(t, ReasonFutureTimestamp, v.Reason)
	assert.Contains(t, v.Flags, ReasonFutureTimestamp)
}

func TestValidateSampleNegativeSpeed(t *testing.T) {
	now := time.Now()
	s := freshSample(now)
	s.SpeedMps = ptr(-1.0)

	v := ValidateSample(s, now, DefaultPolicy())
	require.True(t, v.Fatal)
	assert.Equal(t, ReasonNegativeSpeed, v.Reason)
}

func TestValidateSampleLowAccuracy(t *testing.T) {
	now := time.Now()
	s := freshSample(now)
	s.AccuracyMeters = 80

	v := ValidateSample(s, now, DefaultPolicy())
	require.False(t, v.Fatal)
	assert.Equal(t, 70, v.Confidence)
	assert.Contains(t, v.Flags, FlagLowAccuracy)
	assert.True(t, v.Valid)
}

func TestValidateSampleStale(t *testing.T) {
	now := time.Now()
	s := freshSample(now)
	s.CapturedAtMs = now.Add(-45 * time.Second).UnixMilli()

	v := ValidateSample(s, now, DefaultPolicy())
	assert.Equal(t, 80, v.Confidence)
	assert.Contains(t, v.Flags, FlagStale)
}

func TestValidateSampleExcessiveSpeed(t *testing.T) {
	now := time.Now()
	s := freshSample(now)
	s.SpeedMps = ptr(12.0)

	v := ValidateSample(s, now, DefaultPolicy())
	assert.Equal(t, 60, v.Confidence)
	assert.Contains(t, v.Flags, FlagExcessiveSpeed)
}

func TestValidateSampleSuspiciousAltitude(t *testing.T) {
	now := time.Now()
	s := freshSample(now)
	s.AltitudeMeters = ptr(9000.0)

	v := ValidateSample(s, now, DefaultPolicy())
	assert.Equal(t, 85, v.Confidence)
	assert.Contains(t, v.Flags, FlagSuspiciousAltitude)
}

func TestValidateSampleAccumulatedPenaltiesInvalid(t *testing.T) {
	now := time.Now()
	s := freshSample(now)
	s.AccuracyMeters = 120
	s.SpeedMps = ptr(15.0)

	v := ValidateSample(s, now, DefaultPolicy())
	require.False(t, v.Fatal)
	assert.Equal(t, 30, v.Confidence)
	assert.False(t, v.Valid)
}
