package domain

import "math"

const earthRadiusMeters = 6371000

// Proximity gates in meters. Live OSM matching requires candidates within
// ProximityGateLive of the stored row; the offline homogenization job uses
// its own, wider default (both configurable per run).
const (
	ProximityGateLive       = 200.0
	ProximityGateHomogenize = 500.0
)

// coordPrecision is the decimal precision coordinates are rounded to before
// storage or comparison, so floating-point drift never causes spurious diffs.
const coordPrecision = 1e8

// HaversineMeters returns the great-circle distance between two WGS-84
// points in meters.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// RoundCoord rounds a coordinate to 8 decimal places.
func RoundCoord(v float64) float64 {
	return math.Round(v*coordPrecision) / coordPrecision
}
