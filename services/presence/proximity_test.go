package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateProximityInside(t *testing.T) {
	last := Sample{Latitude: 36.4273, Longitude: -5.1483}

	v := ValidateProximity(last, 36.4273, -5.1483, 50)
	require.False(t, v.Fatal)
	assert.True(t, v.Valid)
	assert.Equal(t, 100, v.Confidence)
	assert.InDelta(t, 0, v.DistanceMeters, 0.001)
}

func TestValidateProximityTooFar(t *testing.T) {
	last := Sample{Latitude: 36.4273, Longitude: -5.1483}

	// ~0.01 deg latitude is roughly 1.1km away.
	v := ValidateProximity(last, 36.4373, -5.1483, 50)
	require.True(t, v.Fatal)
	assert.Equal(t, ReasonTooFar, v.Reason)
	assert.Greater(t, v.DistanceMeters, 1000.0)
}

func TestValidateProximityNearBoundary(t *testing.T) {
	last := Sample{Latitude: 36.4273, Longitude: -5.1483}

	// ~0.0004 deg latitude is roughly 44m, inside a 50m radius but past 80%.
	v := ValidateProximity(last, 36.4277, -5.1483, 50)
	require.False(t, v.Fatal)
	assert.True(t, v.Valid)
	assert.Contains(t, v.Flags, FlagNearBoundary)
	assert.Equal(t, 95, v.Confidence)
}
