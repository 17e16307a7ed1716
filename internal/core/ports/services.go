package ports

import (
	"context"
	"errors"

	"github.com/samirrijal/livetrack/internal/core/domain"
)

// ErrCacheMiss is returned by CacheService.Get for absent keys.
var ErrCacheMiss = errors.New("cache miss")

// AuthVerifier validates the credential a connection presents.
type AuthVerifier interface {
	VerifyConnection(ctx context.Context, token string) (domain.Identity, error)
}

// PositionPublisher broadcasts changed positions to other services.
type PositionPublisher interface {
	PublishPosition(ctx context.Context, pos *domain.DriverPosition) error
}

// PositionSubscriber delivers changed positions published by gateways.
type PositionSubscriber interface {
	SubscribePositions(ctx context.Context, handler func(ctx context.Context, pos *domain.DriverPosition) error) error
}

// SignalPublisher broadcasts proximity signals.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, sig *domain.ProximitySignal) error
}

// ArrivalNotifier kicks off downstream handling of an arrival.
type ArrivalNotifier interface {
	NotifyArrival(ctx context.Context, sig *domain.ProximitySignal) error
}

// CacheService provides TTL-bound shared caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
