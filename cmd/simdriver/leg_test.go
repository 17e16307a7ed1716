package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/samirrijal/livetrack/internal/core/domain"
)

func TestLeg_Progress(t *testing.T) {
	from := domain.GeoPoint{Lat: 43.2630, Lon: -2.9350}
	to := domain.GeoPoint{Lat: 43.2630, Lon: -2.9250}
	l := newLeg(from, to, 10)

	start, heading, done := l.at(0)
	assert.False(t, done)
	assert.Equal(t, from, start)
	assert.InDelta(t, 90, heading, 1, "due east")

	half := time.Duration(l.length/2/10*float64(time.Second))
	mid, _, done := l.at(half)
	assert.False(t, done)
	assert.InDelta(t, l.length/2, from.DistanceTo(mid), 5)

	end, _, done := l.at(time.Hour)
	assert.True(t, done)
	assert.Equal(t, to, end)
}

func TestLeg_Degenerate(t *testing.T) {
	p := domain.GeoPoint{Lat: 43.26, Lon: -2.93}

	got, _, done := newLeg(p, p, 10).at(time.Second)
	assert.True(t, done)
	assert.Equal(t, p, got)

	_, _, done = newLeg(p, domain.GeoPoint{Lat: 43.27, Lon: -2.93}, 0).at(time.Second)
	assert.True(t, done)
}
