package presence

import "time"

// Penalty weights for single-sample soft flags.
const (
	penaltyLowAccuracy        = 30
	penaltyStale              = 20
	penaltyExcessiveSpeed     = 40
	penaltySuspiciousAltitude = 15
)

// ValidateSample checks one GPS reading for physical plausibility. Fatal
// preconditions (spoofed sensor values, clock manipulation) short-circuit;
// everything else accumulates into the confidence score.
func ValidateSample(s Sample, now time.Time, p Policy) Verdict {
	if s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180 {
		return fatalVerdict(ReasonOutOfRange)
	}

	if s.CapturedAt().After(now) {
		return fatalVerdict(ReasonFutureTimestamp, ReasonFutureTimestamp)
	}

	if s.SpeedMps != nil && *s.SpeedMps < 0 {
		return fatalVerdict(ReasonNegativeSpeed)
	}

	confidence := 100
	var flags []string

	if s.AccuracyMeters > p.MaxAccuracyMeters {
		confidence -= penaltyLowAccuracy
		flags = append(flags, FlagLowAccuracy)
	}

	if now.Sub(s.CapturedAt()) > p.MaxSampleAge {
		confidence -= penaltyStale
		flags = append(flags, FlagStale)
	}

	if s.SpeedMps != nil && *s.SpeedMps > p.MaxFootSpeedMps {
		confidence -= penaltyExcessiveSpeed
		flags = append(flags, FlagExcessiveSpeed)
	}

	if s.AltitudeMeters != nil && (*s.AltitudeMeters < p.MinAltitudeMeters || *s.AltitudeMeters > p.MaxAltitudeMeters) {
		confidence -= penaltySuspiciousAltitude
		flags = append(flags, FlagSuspiciousAltitude)
	}

	confidence = clampConfidence(confidence)

	return Verdict{
		Valid:      confidence >= AcceptThreshold,
		Confidence: confidence,
		Flags:      flags,
	}
}
