package main

import (
	"math"
	"time"

	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/pkg/geospatial"
)

// leg is a straight run between two points at constant speed. Interpolation
// is linear in degrees, which is close enough over city distances.
type leg struct {
	from, to domain.GeoPoint
	length   float64 // meters
	speed    float64 // meters per second
	heading  float64
}

func newLeg(from, to domain.GeoPoint, speed float64) leg {
	return leg{
		from:    from,
		to:      to,
		length:  from.DistanceTo(to),
		speed:   speed,
		heading: geospatial.Bearing(from.Point(), to.Point()),
	}
}

// at returns the position after elapsed, the heading, and whether the leg is done.
func (l leg) at(elapsed time.Duration) (domain.GeoPoint, float64, bool) {
	heading := l.heading
	if math.IsNaN(heading) {
		heading = 0
	}
	if l.length <= 0 || l.speed <= 0 {
		return l.to, heading, true
	}

	frac := l.speed * elapsed.Seconds() / l.length
	if frac >= 1 {
		return l.to, heading, true
	}
	return domain.GeoPoint{
		Lat: l.from.Lat + (l.to.Lat-l.from.Lat)*frac,
		Lon: l.from.Lon + (l.to.Lon-l.from.Lon)*frac,
	}, heading, false
}
