package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/livetrack/internal/core/domain"
)

// SignalRepo implements ports.SignalRepository.
type SignalRepo struct {
	db *DB
}

func NewSignalRepo(db *DB) *SignalRepo {
	return &SignalRepo{db: db}
}

// Insert is idempotent on the signal id, so workflow retries are safe.
func (r *SignalRepo) Insert(ctx context.Context, sig *domain.ProximitySignal) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO proximity_signals (id, kind, driver_id, delivery_id, zone_id, distance_m, lat, lon, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, sig.ID, string(sig.Kind), sig.DriverID, nilIfEmpty(sig.DeliveryID), nilIfEmpty(sig.ZoneID),
		sig.DistanceMeters, sig.Location.Lat, sig.Location.Lon, sig.At)
	if err != nil {
		return fmt.Errorf("insert signal %s: %w", sig.ID, err)
	}
	return nil
}

func (r *SignalRepo) ListByDelivery(ctx context.Context, deliveryID string, limit int) ([]domain.ProximitySignal, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, kind, driver_id, delivery_id, zone_id, distance_m, lat, lon, at
		FROM proximity_signals
		WHERE delivery_id = $1
		ORDER BY at DESC
		LIMIT $2
	`, deliveryID, limit)
	if err != nil {
		return nil, fmt.Errorf("list signals %s: %w", deliveryID, err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ProximitySignal, error) {
		var s domain.ProximitySignal
		var kind string
		var delivery, zone sql.NullString
		err := row.Scan(&s.ID, &kind, &s.DriverID, &delivery, &zone,
			&s.DistanceMeters, &s.Location.Lat, &s.Location.Lon, &s.At)
		s.Kind = domain.SignalKind(kind)
		s.DeliveryID = delivery.String
		s.ZoneID = zone.String
		return s, err
	})
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
