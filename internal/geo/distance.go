package geo

import (
	"fmt"
	"math"

	"github.com/edgecheck/edgecheck/pkg/types"
)

// EarthRadiusMeters is the mean spherical radius used for distances.
const EarthRadiusMeters = 6371000.0

// Distance returns the great-circle surface distance between a and b in meters.
func Distance(a, b types.Coordinates) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Clamp rounding noise for antipodal points.
	h = math.Min(1, h)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// FormatDistance renders whole meters below 1 km, two decimals below 10 km
// and one decimal beyond.
func FormatDistance(meters float64) string {
	if math.IsNaN(meters) || math.IsInf(meters, 0) {
		return ""
	}
	if meters < 1000 {
		return fmt.Sprintf("%d m", int64(math.Round(meters)))
	}
	km := meters / 1000
	if km < 10 {
		return fmt.Sprintf("%.2f km", km)
	}
	return fmt.Sprintf("%.1f km", km)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
