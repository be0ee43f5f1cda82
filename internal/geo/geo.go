package geo

import "math"

const earthRadiusMeters = 6371000.0

// Distance returns the haversine great-circle distance in meters between two
// WGS84 coordinates expressed in degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Centroid returns the arithmetic mean of the given coordinates. Adequate for
// the short distances a single trajectory covers.
func Centroid(lats, lons []float64) (float64, float64) {
	if len(lats) == 0 {
		return 0, 0
	}
	var sumLat, sumLon float64
	for i := range lats {
		sumLat += lats[i]
		sumLon += lons[i]
	}
	n := float64(len(lats))
	return sumLat / n, sumLon / n
}
