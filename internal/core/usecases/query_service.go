package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/core/ports"
	"github.com/samirrijal/livetrack/internal/pkg/metrics"
)

// DefaultRouteLimit is used when a caller does not ask for a route length.
const DefaultRouteLimit = 20

// PositionCacheKey is the shared-cache key of a driver's latest position.
func PositionCacheKey(driverID string) string {
	return "position:latest:" + driverID
}

// QueryService answers read-side position queries. The in-memory store is
// authoritative; the shared cache covers drivers connected to another
// gateway replica.
type QueryService struct {
	store *PositionStore
	cache ports.CacheService
	now   func() time.Time
}

// QueryOption customises a QueryService.
type QueryOption func(*QueryService)

// WithQueryClock overrides the time source used to judge cached positions.
func WithQueryClock(now func() time.Time) QueryOption {
	return func(s *QueryService) { s.now = now }
}

// NewQueryService builds a query service. cache may be nil.
func NewQueryService(store *PositionStore, cache ports.CacheService, opts ...QueryOption) *QueryService {
	s := &QueryService{store: store, cache: cache, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LatestPosition returns the latest known position of a driver with its
// freshness flags, or a NOT_FOUND error.
func (s *QueryService) LatestPosition(ctx context.Context, driverID string) (domain.PositionFreshness, error) {
	if driverID == "" {
		return domain.PositionFreshness{}, domain.ValidationError("driver id is required")
	}
	if f, ok := s.store.Freshness(driverID); ok {
		return f, nil
	}

	if s.cache != nil {
		data, err := s.cache.Get(ctx, PositionCacheKey(driverID))
		switch {
		case err == nil:
			var pos domain.DriverPosition
			if jerr := json.Unmarshal(data, &pos); jerr == nil {
				metrics.CacheHits.WithLabelValues("latest_position").Inc()
				cfg := s.store.Config()
				return domain.PositionFreshness{
					Position: pos,
					Stale:    pos.IsStale(s.now(), cfg.StalenessWindow),
				}, nil
			}
			slog.Warn("corrupt cached position", "driver_id", driverID)
		case errors.Is(err, ports.ErrCacheMiss):
			metrics.CacheMisses.WithLabelValues("latest_position").Inc()
		default:
			slog.Warn("position cache lookup failed", "driver_id", driverID, "error", err)
		}
	}

	return domain.PositionFreshness{}, domain.NotFoundError("no position for driver " + driverID)
}

// RecentRoute returns up to limit announced positions, most recent first.
// A non-positive limit returns an empty route.
func (s *QueryService) RecentRoute(_ context.Context, driverID string, limit int) ([]domain.DriverPosition, error) {
	if driverID == "" {
		return nil, domain.ValidationError("driver id is required")
	}
	route := s.store.RecentRoute(driverID, limit)
	if route == nil {
		route = []domain.DriverPosition{}
	}
	return route, nil
}
