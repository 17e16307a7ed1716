package usecases

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/pkg/metrics"
)

// PositionStoreConfig tunes freshness, retention and change detection.
type PositionStoreConfig struct {
	StalenessWindow   time.Duration // "is this live" window
	Retention         time.Duration // drivers silent longer than this are dropped
	RingSize          int           // recent positions kept per driver
	MinMovementMeters float64       // below this a report is Unchanged
	Shards            int
}

// DefaultPositionStoreConfig mirrors the service defaults.
func DefaultPositionStoreConfig() PositionStoreConfig {
	return PositionStoreConfig{
		StalenessWindow:   10 * time.Minute,
		Retention:         24 * time.Hour,
		RingSize:          100,
		MinMovementMeters: 5,
		Shards:            64,
	}
}

// RecordResult is the outcome class of PositionStore.Record.
type RecordResult int

const (
	RecordRejected RecordResult = iota
	RecordUnchanged
	RecordChanged
)

func (r RecordResult) String() string {
	switch r {
	case RecordChanged:
		return "changed"
	case RecordUnchanged:
		return "unchanged"
	default:
		return "rejected"
	}
}

// Rejection reasons.
const (
	RejectMissingDriver      = "missing_driver_id"
	RejectInvalidCoordinates = "invalid_coordinates"
	RejectInvalidHeading     = "invalid_heading"
	RejectInvalidSpeed       = "invalid_speed"
	RejectMissingTimestamp   = "missing_recorded_at"
	RejectOutOfOrder         = "out_of_order"
)

// RecordOutcome is returned by Record. Position is the stored value for
// Changed/Unchanged results.
type RecordOutcome struct {
	Result   RecordResult
	Reason   string
	Position domain.DriverPosition
}

type driverEntry struct {
	mu           sync.Mutex
	latest       domain.DriverPosition
	ring         []domain.DriverPosition
	next         int // ring write index
	count        int
	disconnected bool
	removed      bool // detached from the shard map by eviction
}

type storeShard struct {
	mu      sync.RWMutex
	entries map[string]*driverEntry
}

// PositionStore holds the latest position and a bounded recent route per
// driver. Entries are sharded by driver id and locked individually, so
// unrelated drivers never contend.
type PositionStore struct {
	cfg    PositionStoreConfig
	shards []*storeShard
	now    func() time.Time
	log    *slog.Logger
}

// PositionStoreOption customises a PositionStore.
type PositionStoreOption func(*PositionStore)

// WithStoreClock overrides time.Now, for tests.
func WithStoreClock(now func() time.Time) PositionStoreOption {
	return func(s *PositionStore) { s.now = now }
}

// WithStoreLogger sets the logger used by the sweeper.
func WithStoreLogger(l *slog.Logger) PositionStoreOption {
	return func(s *PositionStore) { s.log = l }
}

// NewPositionStore creates an empty store. Zero config fields take defaults.
func NewPositionStore(cfg PositionStoreConfig, opts ...PositionStoreOption) *PositionStore {
	def := DefaultPositionStoreConfig()
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = def.StalenessWindow
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = def.RingSize
	}
	if cfg.MinMovementMeters < 0 {
		cfg.MinMovementMeters = 0
	}
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}

	s := &PositionStore{
		cfg:    cfg,
		shards: make([]*storeShard, cfg.Shards),
		now:    time.Now,
		log:    slog.Default(),
	}
	for i := range s.shards {
		s.shards[i] = &storeShard{entries: make(map[string]*driverEntry)}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *PositionStore) Config() PositionStoreConfig { return s.cfg }

func (s *PositionStore) shardFor(driverID string) *storeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(driverID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *PositionStore) lookup(driverID string) *driverEntry {
	sh := s.shardFor(driverID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.entries[driverID]
}

func (s *PositionStore) getOrCreate(driverID string) *driverEntry {
	if e := s.lookup(driverID); e != nil {
		return e
	}

	sh := s.shardFor(driverID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[driverID]; ok {
		return e
	}
	e := &driverEntry{ring: make([]domain.DriverPosition, s.cfg.RingSize)}
	sh.entries[driverID] = e
	metrics.StoreDrivers.Inc()
	return e
}

// Record applies a position report. Malformed reports and reports older than
// the stored one are Rejected without touching the store.
func (s *PositionStore) Record(pos domain.DriverPosition) RecordOutcome {
	if reason := validatePosition(pos); reason != "" {
		metrics.PositionReports.WithLabelValues(RecordRejected.String()).Inc()
		return RecordOutcome{Result: RecordRejected, Reason: reason}
	}
	if pos.ReceivedAt.IsZero() {
		pos.ReceivedAt = s.now()
	}
	pos = clonePosition(pos)

	for {
		e := s.getOrCreate(pos.DriverID)
		e.mu.Lock()
		if e.removed {
			// evicted between lookup and lock
			e.mu.Unlock()
			continue
		}
		out := e.apply(pos, s.cfg.MinMovementMeters)
		e.mu.Unlock()

		metrics.PositionReports.WithLabelValues(out.Result.String()).Inc()
		return out
	}
}

func (e *driverEntry) apply(pos domain.DriverPosition, minMove float64) RecordOutcome {
	if e.count == 0 {
		e.latest = pos
		e.disconnected = false
		e.push(pos)
		return RecordOutcome{Result: RecordChanged, Position: clonePosition(pos)}
	}

	if !pos.Newer(e.latest) {
		return RecordOutcome{Result: RecordRejected, Reason: RejectOutOfOrder}
	}

	e.latest = pos
	e.disconnected = false

	// Movement is measured from the last announced position so slow drift
	// eventually crosses the threshold.
	anchor := e.head()
	if pos.Location.DistanceTo(anchor.Location) < minMove {
		return RecordOutcome{Result: RecordUnchanged, Position: clonePosition(pos)}
	}

	if pos.RecordedAt.Equal(anchor.RecordedAt) {
		e.ring[e.headIndex()] = pos
	} else {
		e.push(pos)
	}
	return RecordOutcome{Result: RecordChanged, Position: clonePosition(pos)}
}

func (e *driverEntry) push(pos domain.DriverPosition) {
	e.ring[e.next] = pos
	e.next = (e.next + 1) % len(e.ring)
	if e.count < len(e.ring) {
		e.count++
	}
}

func (e *driverEntry) headIndex() int {
	return (e.next - 1 + len(e.ring)) % len(e.ring)
}

func (e *driverEntry) head() domain.DriverPosition {
	return e.ring[e.headIndex()]
}

// live reports whether the entry holds data inside the retention ceiling.
func (s *PositionStore) live(e *driverEntry) bool {
	return !e.removed && e.count > 0 && s.now().Sub(e.latest.ReceivedAt) <= s.cfg.Retention
}

// Latest returns the current position of a driver.
func (s *PositionStore) Latest(driverID string) (domain.DriverPosition, bool) {
	f, ok := s.Freshness(driverID)
	return f.Position, ok
}

// Freshness returns the current position with its staleness flags.
func (s *PositionStore) Freshness(driverID string) (domain.PositionFreshness, bool) {
	e := s.lookup(driverID)
	if e == nil {
		return domain.PositionFreshness{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !s.live(e) {
		return domain.PositionFreshness{}, false
	}
	return domain.PositionFreshness{
		Position:     clonePosition(e.latest),
		Stale:        e.latest.IsStale(s.now(), s.cfg.StalenessWindow),
		Disconnected: e.disconnected,
	}, true
}

// RecentRoute returns up to limit announced positions, most recent first.
func (s *PositionStore) RecentRoute(driverID string, limit int) []domain.DriverPosition {
	if limit <= 0 {
		return nil
	}
	e := s.lookup(driverID)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !s.live(e) {
		return nil
	}

	n := min(limit, e.count)
	size := len(e.ring)
	out := make([]domain.DriverPosition, 0, n)
	for i := 0; i < n; i++ {
		idx := ((e.next-1-i)%size + size) % size
		out = append(out, clonePosition(e.ring[idx]))
	}
	return out
}

// MarkDisconnected flags a driver's position as potentially stale. The
// position is kept so a reconnect resumes seamlessly.
func (s *PositionStore) MarkDisconnected(driverID string) bool {
	e := s.lookup(driverID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.count == 0 {
		return false
	}
	e.disconnected = true
	return true
}

// EvictStale drops drivers not heard from within the retention ceiling and
// returns how many were removed.
func (s *PositionStore) EvictStale() int {
	cutoff := s.now().Add(-s.cfg.Retention)
	evicted := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			e.mu.Lock()
			if e.count == 0 || e.latest.ReceivedAt.Before(cutoff) {
				e.removed = true
				delete(sh.entries, id)
				evicted++
			}
			e.mu.Unlock()
		}
		sh.mu.Unlock()
	}

	metrics.StoreEvictions.Add(float64(evicted))
	metrics.StoreDrivers.Sub(float64(evicted))
	return evicted
}

// Len returns the number of tracked drivers.
func (s *PositionStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// RunSweeper evicts on a fixed interval until ctx is done.
func (s *PositionStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			n := s.EvictStale()
			if n > 0 {
				s.log.Info("evicted silent drivers", "count", n, "took", time.Since(start).String())
			}
		}
	}
}

func validatePosition(p domain.DriverPosition) string {
	switch {
	case p.DriverID == "":
		return RejectMissingDriver
	case !p.Location.Valid():
		return RejectInvalidCoordinates
	case p.Heading != nil && !(*p.Heading >= 0 && *p.Heading <= 360):
		return RejectInvalidHeading
	case p.Speed != nil && (!(*p.Speed >= 0) || math.IsInf(*p.Speed, 1)):
		return RejectInvalidSpeed
	case p.RecordedAt.IsZero():
		return RejectMissingTimestamp
	}
	return ""
}

func clonePosition(p domain.DriverPosition) domain.DriverPosition {
	if p.Heading != nil {
		h := *p.Heading
		p.Heading = &h
	}
	if p.Speed != nil {
		v := *p.Speed
		p.Speed = &v
	}
	return p
}
