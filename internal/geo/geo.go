package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"

	"github.com/example/roadside-dispatch/internal/models"
)

const earthRadiusM = 6371000.0

// cellPrecision 7 is roughly a 150m x 150m cell, fine enough for map clustering.
const cellPrecision = 7

// DistanceKm is the great-circle distance rounded to one decimal place.
func DistanceKm(a, b models.Coord) float64 {
	km := Haversine(a.Lat, a.Lon, b.Lat, b.Lon) / 1000
	return math.Round(km*10) / 10
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// ValidCoord rejects non-finite and out-of-range values, and the 0,0 point
// which the roster uses for "no position reported".
func ValidCoord(c models.Coord) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return false
	}
	if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return false
	}
	return c.Lat != 0 || c.Lon != 0
}

// Cell returns the geohash cell containing c.
func Cell(c models.Coord) string {
	return geohash.EncodeWithPrecision(c.Lat, c.Lon, cellPrecision)
}
