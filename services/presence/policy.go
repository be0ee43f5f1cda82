package presence

import "time"

// Policy carries the physical-plausibility thresholds for sample, trajectory
// and proximity validation. Values come from configuration; DefaultPolicy is
// the deployment baseline.
type Policy struct {
	MaxAccuracyMeters    float64
	MaxSampleAge         time.Duration
	MaxFootSpeedMps      float64
	MaxImpliedSpeedMps   float64
	MinAltitudeMeters    float64
	MaxAltitudeMeters    float64
	MinSamples           int
	MinSampleInterval    time.Duration
	MaxSampleInterval    time.Duration
	MaxCentroidDeviation float64
	DefaultRadiusMeters  float64
	ScanRadiusMeters     float64
	SimilarityThreshold  float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAccuracyMeters:    50,
		MaxSampleAge:         30 * time.Second,
		MaxFootSpeedMps:      8.33,
		MaxImpliedSpeedMps:   10,
		MinAltitudeMeters:    -100,
		MaxAltitudeMeters:    3000,
		MinSamples:           3,
		MinSampleInterval:    time.Second,
		MaxSampleInterval:    15 * time.Second,
		MaxCentroidDeviation: 100,
		DefaultRadiusMeters:  50,
		ScanRadiusMeters:     100,
		SimilarityThreshold:  0.7,
	}
}

// RadiusFor returns the allowed radius for a claim flow, honoring an explicit
// per-target override when present.
func (p Policy) RadiusFor(flow string, targetRadius float64) float64 {
	if targetRadius > 0 {
		return targetRadius
	}
	if flow == "scan" {
		return p.ScanRadiusMeters
	}
	return p.DefaultRadiusMeters
}
