package presence

import (
	"sort"
	"time"

	"presencegate/internal/geo"
)

// Penalty weights for trajectory-level soft flags.
const (
	penaltySamplesTooFast     = 20
	penaltySamplesTooSlow     = 10
	penaltyImpossibleMovement = 40
	penaltyHighVariance       = 25
)

// ValidateTrajectory validates an ordered sequence of GPS readings. Samples
// are sorted by capture time first, so submission order never changes the
// outcome. The per-sample confidence floor combines with trajectory-level
// penalties; each flag penalizes once regardless of how many pairs trip it.
func ValidateTrajectory(samples []Sample, now time.Time, p Policy) Verdict {
	if len(samples) < p.MinSamples {
		return fatalVerdict(ReasonInsufficientSamples)
	}

	ordered := make([]Sample, len(samples))
	copy(ordered, samples)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].CapturedAtMs < ordered[j].CapturedAtMs
	})

	minConfidence := 100
	var flags []string

	for _, s := range ordered {
		v := ValidateSample(s, now, p)
		if v.Fatal {
			return v
		}
		if v.Confidence < minConfidence {
			minConfidence = v.Confidence
		}
		flags = mergeFlags(flags, v.Flags)
	}

	penalty := 0
	addFlag := func(flag string, weight int) {
		if !containsFlag(flags, flag) {
			flags = append(flags, flag)
			penalty += weight
		}
	}

	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		elapsed := time.Duration(cur.CapturedAtMs-prev.CapturedAtMs) * time.Millisecond

		if elapsed < p.MinSampleInterval {
			addFlag(FlagSamplesTooFast, penaltySamplesTooFast)
		} else if elapsed > p.MaxSampleInterval {
			addFlag(FlagSamplesTooSlow, penaltySamplesTooSlow)
		}

		if elapsed > 0 {
			dist := geo.Distance(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
			if dist/elapsed.Seconds() > p.MaxImpliedSpeedMps {
				addFlag(FlagImpossibleMovement, penaltyImpossibleMovement)
			}
		}
	}

	lats := make([]float64, len(ordered))
	lons := make([]float64, len(ordered))
	for i, s := range ordered {
		lats[i] = s.Latitude
		lons[i] = s.Longitude
	}
	cLat, cLon := geo.Centroid(lats, lons)
	for _, s := range ordered {
		if geo.Distance(s.Latitude, s.Longitude, cLat, cLon) > p.MaxCentroidDeviation {
			addFlag(FlagHighVariance, penaltyHighVariance)
			break
		}
	}

	confidence := clampConfidence(minConfidence - penalty)

	return Verdict{
		Valid:      confidence >= AcceptThreshold,
		Confidence: confidence,
		Flags:      flags,
	}
}

// LastSample returns the chronologically latest reading of a trajectory.
func LastSample(samples []Sample) Sample {
	last := samples[0]
	for _, s := range samples[1:] {
		if s.CapturedAtMs > last.CapturedAtMs {
			last = s
		}
	}
	return last
}
