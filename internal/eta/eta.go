package eta

import "math"

const (
	// PrepMinutes models the time a driver needs before leaving.
	PrepMinutes = 5
	// AvgSpeedKmh is the assumed average road speed.
	AvgSpeedKmh = 40.0
	// MinMinutes is the floor applied regardless of proximity.
	MinMinutes = 10
)

// EstimatedArrivalMinutes is a naive heuristic: prep time plus straight-line
// travel at AvgSpeedKmh, never below MinMinutes.
func EstimatedArrivalMinutes(distanceKm float64) int {
	if math.IsNaN(distanceKm) || distanceKm < 0 {
		distanceKm = 0
	}
	total := PrepMinutes + distanceKm/AvgSpeedKmh*60
	return int(math.Floor(math.Max(MinMinutes, total)))
}
