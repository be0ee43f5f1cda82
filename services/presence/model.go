package presence

import "time"

// AcceptThreshold is the minimum aggregate confidence for a claim to pass.
const AcceptThreshold = 50

// Soft flags. Each reduces confidence but never rejects on its own.
const (
	FlagLowAccuracy        = "LOW_ACCURACY"
	FlagStale              = "STALE"
	FlagExcessiveSpeed     = "EXCESSIVE_SPEED"
	FlagSuspiciousAltitude = "SUSPICIOUS_ALTITUDE"
	FlagSamplesTooFast     = "SAMPLES_TOO_FAST"
	FlagSamplesTooSlow     = "SAMPLES_TOO_SLOW"
	FlagImpossibleMovement = "IMPOSSIBLE_MOVEMENT"
	FlagHighVariance       = "HIGH_LOCATION_VARIANCE"
	FlagNearBoundary       = "NEAR_BOUNDARY"
	FlagNewDevice          = "NEW_DEVICE"
	FlagDeviceMismatch     = "DEVICE_MISMATCH"
	FlagLowFingerprint     = "LOW_FINGERPRINT_CONFIDENCE"
)

// Fatal reasons. Any of these rejects the claim outright.
const (
	ReasonOutOfRange          = "OUT_OF_RANGE_COORDINATES"
	ReasonFutureTimestamp     = "FUTURE_TIMESTAMP"
	ReasonNegativeSpeed       = "NEGATIVE_SPEED"
	ReasonInsufficientSamples = "INSUFFICIENT_SAMPLES"
	ReasonTooFar              = "TOO_FAR_FROM_POI"
)

// Sample is one client-reported GPS reading. Client-supplied and never
// trusted alone; every field is validated at the boundary.
type Sample struct {
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	AccuracyMeters float64  `json:"accuracy_meters"`
	AltitudeMeters *float64 `json:"altitude_meters,omitempty"`
	SpeedMps       *float64 `json:"speed_mps,omitempty"`
	HeadingDeg     *float64 `json:"heading_deg,omitempty"`
	CapturedAtMs   int64    `json:"captured_at_ms"`
}

// CapturedAt converts the epoch-millisecond timestamp to time.Time.
func (s Sample) CapturedAt() time.Time {
	return time.UnixMilli(s.CapturedAtMs)
}

// Verdict is the outcome of one validator. Fatal verdicts short-circuit; soft
// flags only lower the confidence score.
type Verdict struct {
	Valid          bool
	Fatal          bool
	Reason         string
	Confidence     int
	Flags          []string
	DistanceMeters float64
}

func fatalVerdict(reason string, flags ...string) Verdict {
	return Verdict{
		Fatal:      true,
		Reason:     reason,
		Confidence: 0,
		Flags:      append([]string{}, flags...),
	}
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

func mergeFlags(dst []string, src []string) []string {
	for _, f := range src {
		if !containsFlag(dst, f) {
			dst = append(dst, f)
		}
	}
	return dst
}

func containsFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}
