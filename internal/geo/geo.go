package geo

import (
	"math"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
)

// EarthRadiusMiles is the mean Earth radius in statute miles.
const EarthRadiusMiles = 3959.0

// DistanceMiles returns the great-circle distance between a and b.
// Inputs must already be valid coordinates (see ValidCoord).
func DistanceMiles(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Haversine distance in miles
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push a a hair past 1 for antipodal points
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMiles * c
}

// ValidCoord reports whether c is a finite latitude/longitude pair.
func ValidCoord(c models.Coord) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}
