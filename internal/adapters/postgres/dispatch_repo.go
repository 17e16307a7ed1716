package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/livetrack/internal/core/domain"
)

var activeStatuses = []string{string(domain.DeliveryAssigned), string(domain.DeliveryInTransit)}

// DispatchRepo implements ports.DispatchDirectory, ports.DeliveryLocator and
// ports.DeliverySessions over the deliveries tables.
type DispatchRepo struct {
	db *DB
}

func NewDispatchRepo(db *DB) *DispatchRepo {
	return &DispatchRepo{db: db}
}

func (r *DispatchRepo) GetAssignedDriver(ctx context.Context, deliveryID string) (string, bool, error) {
	var driverID sql.NullString
	err := r.db.Pool.QueryRow(ctx, `
		SELECT driver_id
		FROM deliveries
		WHERE id = $1 AND status = ANY($2)
	`, deliveryID, activeStatuses).Scan(&driverID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("assigned driver %s: %w", deliveryID, err)
	}
	return driverID.String, driverID.Valid && driverID.String != "", nil
}

func (r *DispatchRepo) GetActiveDeliveries(ctx context.Context, driverID string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id
		FROM deliveries
		WHERE driver_id = $1 AND status = ANY($2)
		ORDER BY id
	`, driverID, activeStatuses)
	if err != nil {
		return nil, fmt.Errorf("active deliveries %s: %w", driverID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("active deliveries %s: %w", driverID, err)
	}
	return ids, nil
}

func (r *DispatchRepo) IsCustomerOf(ctx context.Context, who domain.Identity, deliveryID string) (bool, error) {
	if who.Role != domain.RoleCustomer {
		return false, nil
	}
	var ok bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM deliveries WHERE id = $1 AND customer_id = $2)
	`, deliveryID, who.ID).Scan(&ok)
	return ok, err
}

func (r *DispatchRepo) IsOperatorFor(ctx context.Context, who domain.Identity, deliveryID string) (bool, error) {
	if who.Role != domain.RoleOperator {
		return false, nil
	}
	var ok bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM delivery_operators
			WHERE delivery_id = $1 AND operator_id = $2
		)
	`, deliveryID, who.ID).Scan(&ok)
	return ok, err
}

func (r *DispatchRepo) GetDropoff(ctx context.Context, deliveryID string) (*domain.GeoPoint, error) {
	var p domain.GeoPoint
	err := r.db.Pool.QueryRow(ctx, `
		SELECT dropoff_lat, dropoff_lon FROM deliveries WHERE id = $1
	`, deliveryID).Scan(&p.Lat, &p.Lon)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dropoff %s: %w", deliveryID, err)
	}
	return &p, nil
}

func (r *DispatchRepo) GetSession(ctx context.Context, deliveryID string) (*domain.DeliverySession, error) {
	var s domain.DeliverySession
	var driverID sql.NullString
	var status string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, driver_id, customer_id, status, dropoff_lat, dropoff_lon, updated_at
		FROM deliveries
		WHERE id = $1
	`, deliveryID).Scan(&s.DeliveryID, &driverID, &s.CustomerID, &status,
		&s.Dropoff.Lat, &s.Dropoff.Lon, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFoundError("delivery " + deliveryID + " not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery %s: %w", deliveryID, err)
	}
	s.DriverID = driverID.String
	s.Status = domain.DeliveryStatus(status)
	return &s, nil
}

// AdvanceStatus locks the row so concurrent advances see each other.
func (r *DispatchRepo) AdvanceStatus(ctx context.Context, deliveryID string, next domain.DeliveryStatus) (bool, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM deliveries WHERE id = $1 FOR UPDATE`, deliveryID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, domain.NotFoundError("delivery " + deliveryID + " not found")
	}
	if err != nil {
		return false, fmt.Errorf("lock delivery %s: %w", deliveryID, err)
	}
	if !domain.DeliveryStatus(current).CanTransitionTo(next) {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE deliveries SET status = $2, updated_at = now() WHERE id = $1
	`, deliveryID, string(next)); err != nil {
		return false, fmt.Errorf("advance delivery %s: %w", deliveryID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}
