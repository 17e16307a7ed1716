package geospatial

import "math"

const earthRadiusKm = 6371.0

// Point is a WGS 84 coordinate in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// IsValidCoordinate reports whether lat/lon are finite and inside the WGS 84 range.
func IsValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Haversine calculates the great-circle distance in meters between two points.
// Returns NaN when either point is not a valid coordinate.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	if !IsValidCoordinate(lat1, lon1) || !IsValidCoordinate(lat2, lon2) {
		return math.NaN()
	}

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * 1000 // meters
}

// Distance is Haversine over Points.
func Distance(a, b Point) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Bearing returns the initial compass bearing from a to b in degrees [0, 360).
// Returns NaN for invalid input.
func Bearing(a, b Point) float64 {
	if !IsValidCoordinate(a.Lat, a.Lon) || !IsValidCoordinate(b.Lat, b.Lon) {
		return math.NaN()
	}

	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)
	dLon := toRad(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// WithinGeofence reports whether p lies inside the polygon (vertices in order,
// implicitly closed). Points on an edge or vertex count as inside.
// Polygons with fewer than three vertices contain nothing.
func WithinGeofence(p Point, polygon []Point) bool {
	n := len(polygon)
	if n < 3 || !IsValidCoordinate(p.Lat, p.Lon) {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := polygon[i], polygon[j]
		if onSegment(p, a, b) {
			return true
		}
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if p.Lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

// onSegment treats lon as x and lat as y, with a small tolerance for float noise.
func onSegment(p, a, b Point) bool {
	const eps = 1e-12
	cross := (b.Lon-a.Lon)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lon-a.Lon)
	if math.Abs(cross) > eps {
		return false
	}
	return p.Lon >= math.Min(a.Lon, b.Lon)-eps && p.Lon <= math.Max(a.Lon, b.Lon)+eps &&
		p.Lat >= math.Min(a.Lat, b.Lat)-eps && p.Lat <= math.Max(a.Lat, b.Lat)+eps
}

// Box is a lat/lon rectangle. MinLon > MaxLon means it crosses the antimeridian.
type Box struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// BoundingBox returns the smallest box holding every point within radiusMeters
// of (lat, lon), on the same sphere Haversine measures on.
func BoundingBox(lat, lon, radiusMeters float64) Box {
	ang := radiusMeters / (earthRadiusKm * 1000) // radians
	latDelta := ang * 180 / math.Pi

	b := Box{MinLat: lat - latDelta, MaxLat: lat + latDelta, MinLon: -180, MaxLon: 180}
	if b.MinLat <= -90 || b.MaxLat >= 90 {
		b.MinLat, b.MaxLat = math.Max(b.MinLat, -90), math.Min(b.MaxLat, 90)
		return b
	}

	lonDelta := math.Asin(math.Sin(ang)/math.Cos(toRad(lat))) * 180 / math.Pi
	if math.IsNaN(lonDelta) || lonDelta >= 180 {
		return b
	}
	b.MinLon, b.MaxLon = wrapLon(lon-lonDelta), wrapLon(lon+lonDelta)
	return b
}

// Contains reports whether p lies in the box, edges included.
func (b Box) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.MinLon <= b.MaxLon {
		return p.Lon >= b.MinLon && p.Lon <= b.MaxLon
	}
	return p.Lon >= b.MinLon || p.Lon <= b.MaxLon
}

func wrapLon(lon float64) float64 {
	switch {
	case lon < -180:
		return lon + 360
	case lon > 180:
		return lon - 360
	}
	return lon
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
