package usecases_test

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/core/usecases"
)

var t0 = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock { return &fakeClock{now: at} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func report(driver string, lat, lon float64, recorded time.Time) domain.DriverPosition {
	return domain.DriverPosition{
		DriverID:   driver,
		Location:   domain.GeoPoint{Lat: lat, Lon: lon},
		RecordedAt: recorded,
	}
}

func newStore(clock *fakeClock, ring int) *usecases.PositionStore {
	cfg := usecases.DefaultPositionStoreConfig()
	cfg.RingSize = ring
	cfg.StalenessWindow = time.Minute
	cfg.Retention = time.Hour
	return usecases.NewPositionStore(cfg, usecases.WithStoreClock(clock.Now))
}

func TestPositionStore_FirstReportChanged(t *testing.T) {
	s := newStore(newFakeClock(t0), 10)

	out := s.Record(report("D1", 37.0, -122.0, t0))
	assert.Equal(t, usecases.RecordChanged, out.Result)
	assert.Equal(t, t0, out.Position.ReceivedAt, "received_at is stamped from the clock")

	got, ok := s.Latest("D1")
	require.True(t, ok)
	assert.Equal(t, 37.0, got.Location.Lat)
	assert.Equal(t, 1, s.Len())
}

func TestPositionStore_MovementThreshold(t *testing.T) {
	clock := newFakeClock(t0)
	s := newStore(clock, 10)

	s.Record(report("D1", 37.0, -122.0, t0))

	// ~11 m north
	out := s.Record(report("D1", 37.0001, -122.0, t0.Add(time.Second)))
	assert.Equal(t, usecases.RecordChanged, out.Result)

	// ~1 m further: accepted as latest, not announced
	out = s.Record(report("D1", 37.00011, -122.0, t0.Add(2*time.Second)))
	assert.Equal(t, usecases.RecordUnchanged, out.Result)

	latest, _ := s.Latest("D1")
	assert.Equal(t, 37.00011, latest.Location.Lat)
	assert.Len(t, s.RecentRoute("D1", 10), 2)
}

func TestPositionStore_SlowDriftMeasuredFromAnnounced(t *testing.T) {
	s := newStore(newFakeClock(t0), 10)
	s.Record(report("D1", 37.0, -122.0, t0))

	// 3 m steps: each below threshold against the previous report but the
	// second crosses it against the last announced position.
	step := 0.000027
	out := s.Record(report("D1", 37.0+step, -122.0, t0.Add(time.Second)))
	assert.Equal(t, usecases.RecordUnchanged, out.Result)
	out = s.Record(report("D1", 37.0+2*step, -122.0, t0.Add(2*time.Second)))
	assert.Equal(t, usecases.RecordChanged, out.Result)
}

func TestPositionStore_OutOfOrderRejected(t *testing.T) {
	s := newStore(newFakeClock(t0), 10)

	t1 := t0.Add(5 * time.Second)
	require.Equal(t, usecases.RecordChanged, s.Record(report("D1", 37.0, -122.0, t1)).Result)

	out := s.Record(report("D1", 38.0, -121.0, t0))
	assert.Equal(t, usecases.RecordRejected, out.Result)
	assert.Equal(t, usecases.RejectOutOfOrder, out.Reason)

	latest, ok := s.Latest("D1")
	require.True(t, ok)
	assert.True(t, latest.RecordedAt.Equal(t1))
	assert.Equal(t, 37.0, latest.Location.Lat)
	assert.Len(t, s.RecentRoute("D1", 10), 1)
}

func TestPositionStore_TieBrokenByReceivedAt(t *testing.T) {
	clock := newFakeClock(t0)
	s := newStore(clock, 10)

	s.Record(report("D1", 37.0, -122.0, t0))

	// Same recorded_at and same received_at: not newer.
	out := s.Record(report("D1", 37.1, -122.0, t0))
	assert.Equal(t, usecases.RecordRejected, out.Result)

	// Same recorded_at, later receipt: wins and replaces the announced head.
	clock.Advance(time.Second)
	out = s.Record(report("D1", 37.1, -122.0, t0))
	assert.Equal(t, usecases.RecordChanged, out.Result)

	route := s.RecentRoute("D1", 10)
	require.Len(t, route, 1)
	assert.Equal(t, 37.1, route[0].Location.Lat)
}

func TestPositionStore_InvalidReportsDoNotMutate(t *testing.T) {
	s := newStore(newFakeClock(t0), 10)
	s.Record(report("D1", 37.0, -122.0, t0))

	bad := 400.0
	neg := -1.0
	cases := map[string]struct {
		pos    domain.DriverPosition
		reason string
	}{
		"lat too high":   {report("D1", 91, 0, t0.Add(time.Second)), usecases.RejectInvalidCoordinates},
		"lon too low":    {report("D1", 0, -181, t0.Add(time.Second)), usecases.RejectInvalidCoordinates},
		"nan":            {report("D1", math.NaN(), 0, t0.Add(time.Second)), usecases.RejectInvalidCoordinates},
		"missing driver": {report("", 1, 1, t0.Add(time.Second)), usecases.RejectMissingDriver},
		"missing time":   {report("D1", 1, 1, time.Time{}), usecases.RejectMissingTimestamp},
		"bad heading": {func() domain.DriverPosition {
			p := report("D1", 1, 1, t0.Add(time.Second))
			p.Heading = &bad
			return p
		}(), usecases.RejectInvalidHeading},
		"negative speed": {func() domain.DriverPosition {
			p := report("D1", 1, 1, t0.Add(time.Second))
			p.Speed = &neg
			return p
		}(), usecases.RejectInvalidSpeed},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			out := s.Record(tc.pos)
			assert.Equal(t, usecases.RecordRejected, out.Result)
			assert.Equal(t, tc.reason, out.Reason)

			latest, ok := s.Latest("D1")
			require.True(t, ok)
			assert.Equal(t, 37.0, latest.Location.Lat)
		})
	}
	assert.Equal(t, 1, s.Len())
}

func TestPositionStore_RecentRouteBoundedAndOrdered(t *testing.T) {
	s := newStore(newFakeClock(t0), 3)

	for i := 0; i < 5; i++ {
		out := s.Record(report("D1", 37.0+float64(i)*0.001, -122.0, t0.Add(time.Duration(i)*time.Second)))
		require.Equal(t, usecases.RecordChanged, out.Result)
	}

	route := s.RecentRoute("D1", 10)
	require.Len(t, route, 3, "ring keeps the newest three")
	for i := 1; i < len(route); i++ {
		assert.True(t, route[i-1].RecordedAt.After(route[i].RecordedAt), "most recent first")
	}
	assert.True(t, route[0].RecordedAt.Equal(t0.Add(4*time.Second)))

	assert.Len(t, s.RecentRoute("D1", 2), 2)
	assert.Empty(t, s.RecentRoute("D1", 0))
	assert.Empty(t, s.RecentRoute("D1", -1))
	assert.Empty(t, s.RecentRoute("nobody", 5))
}

func TestPositionStore_ReturnedValuesAreCopies(t *testing.T) {
	s := newStore(newFakeClock(t0), 10)
	h := 90.0
	p := report("D1", 37.0, -122.0, t0)
	p.Heading = &h
	s.Record(p)

	h = 180 // caller mutates its own value
	got, _ := s.Latest("D1")
	require.NotNil(t, got.Heading)
	assert.Equal(t, 90.0, *got.Heading)

	*got.Heading = 270
	again, _ := s.Latest("D1")
	assert.Equal(t, 90.0, *again.Heading)
}

func TestPositionStore_FreshnessAndDisconnect(t *testing.T) {
	clock := newFakeClock(t0)
	s := newStore(clock, 10)
	s.Record(report("D1", 37.0, -122.0, t0))

	f, ok := s.Freshness("D1")
	require.True(t, ok)
	assert.False(t, f.Stale)
	assert.False(t, f.Disconnected)

	assert.True(t, s.MarkDisconnected("D1"))
	assert.False(t, s.MarkDisconnected("ghost"))

	clock.Advance(2 * time.Minute)
	f, ok = s.Freshness("D1")
	require.True(t, ok, "disconnect keeps the position")
	assert.True(t, f.Stale)
	assert.True(t, f.Disconnected)

	// A fresh report clears the flag.
	s.Record(report("D1", 37.01, -122.0, t0.Add(2*time.Minute)))
	f, _ = s.Freshness("D1")
	assert.False(t, f.Disconnected)
	assert.False(t, f.Stale)
}

func TestPositionStore_EvictStale(t *testing.T) {
	clock := newFakeClock(t0)
	s := newStore(clock, 10)

	s.Record(report("D1", 37.0, -122.0, t0))
	clock.Advance(30 * time.Minute)
	s.Record(report("D2", 37.0, -122.0, t0.Add(30*time.Minute)))

	clock.Advance(45 * time.Minute) // D1 silent 75m, D2 45m; retention 1h
	_, ok := s.Latest("D1")
	assert.False(t, ok, "expired entries are not served before the sweep")

	assert.Equal(t, 1, s.EvictStale())
	assert.Equal(t, 1, s.Len())
	_, ok = s.Latest("D2")
	assert.True(t, ok)

	// Reporting after eviction starts a fresh entry.
	out := s.Record(report("D1", 37.0, -122.0, t0.Add(75*time.Minute)))
	assert.Equal(t, usecases.RecordChanged, out.Result)
}

func TestPositionStore_RunSweeperStopsOnCancel(t *testing.T) {
	s := newStore(newFakeClock(t0), 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestPositionStore_ConcurrentReportsKeepNewest(t *testing.T) {
	s := newStore(newFakeClock(t0), 100)

	var wg sync.WaitGroup
	for d := 0; d < 8; d++ {
		driver := fmt.Sprintf("D%d", d)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s.Record(report(driver, 37.0+float64(i)*0.001, -122.0, t0.Add(time.Duration(i)*time.Second)))
			}(i)
		}
	}
	wg.Wait()

	for d := 0; d < 8; d++ {
		latest, ok := s.Latest(fmt.Sprintf("D%d", d))
		require.True(t, ok)
		assert.True(t, latest.RecordedAt.Equal(t0.Add(49*time.Second)), "newest report wins regardless of arrival order")
	}
	assert.Equal(t, 8, s.Len())
}
