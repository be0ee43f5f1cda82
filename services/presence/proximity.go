package presence

import "presencegate/internal/geo"

const penaltyNearBoundary = 5

// ValidateProximity decides whether the latest reading sits inside the
// allowed radius of the target. The measured distance is always reported so
// rejections can tell the user how far off they were.
func ValidateProximity(last Sample, targetLat, targetLon, radiusMeters float64) Verdict {
	dist := geo.Distance(last.Latitude, last.Longitude, targetLat, targetLon)

	if dist > radiusMeters {
		v := fatalVerdict(ReasonTooFar)
		v.DistanceMeters = dist
		return v
	}

	confidence := 100
	var flags []string
	if dist >= 0.8*radiusMeters {
		confidence -= penaltyNearBoundary
		flags = append(flags, FlagNearBoundary)
	}

	return Verdict{
		Valid:          true,
		Confidence:     confidence,
		Flags:          flags,
		DistanceMeters: dist,
	}
}
