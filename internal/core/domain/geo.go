package domain

import "github.com/samirrijal/livetrack/internal/pkg/geospatial"

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the point is a finite, in-range coordinate.
func (p GeoPoint) Valid() bool {
	return geospatial.IsValidCoordinate(p.Lat, p.Lon)
}

// Point converts to the geospatial package type.
func (p GeoPoint) Point() geospatial.Point {
	return geospatial.Point{Lat: p.Lat, Lon: p.Lon}
}

// DistanceTo returns the great-circle distance to q in meters.
func (p GeoPoint) DistanceTo(q GeoPoint) float64 {
	return geospatial.Distance(p.Point(), q.Point())
}

// Geofence is a named polygon. Vertices are in order and implicitly closed.
type Geofence struct {
	ID      string     `json:"id" yaml:"id"`
	Name    string     `json:"name" yaml:"name"`
	Polygon []GeoPoint `json:"polygon" yaml:"polygon"`
}

// Contains reports whether p is inside the fence, edges included.
func (g Geofence) Contains(p GeoPoint) bool {
	poly := make([]geospatial.Point, len(g.Polygon))
	for i, v := range g.Polygon {
		poly[i] = v.Point()
	}
	return geospatial.WithinGeofence(p.Point(), poly)
}
