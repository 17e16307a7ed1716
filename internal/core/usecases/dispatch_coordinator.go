package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/core/ports"
	"github.com/samirrijal/livetrack/internal/pkg/geospatial"
	"github.com/samirrijal/livetrack/internal/pkg/metrics"
	"github.com/samirrijal/livetrack/internal/pkg/telemetry"
)

// CoordinatorConfig sets the proximity radii.
type CoordinatorConfig struct {
	ApproachRadiusMeters float64
	ArrivalRadiusMeters  float64
}

// DefaultCoordinatorConfig mirrors the service defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{ApproachRadiusMeters: 500, ArrivalRadiusMeters: 50}
}

type signalKey struct {
	target string // delivery or zone id
	kind   domain.SignalKind
}

// DispatchCoordinator turns changed driver positions into proximity signals:
// APPROACHING and ARRIVED against each active delivery's drop-off, and
// ZONE_ENTERED against the configured geofences. Each (driver, target, kind)
// fires once; delivery keys are forgotten when the delivery leaves the
// driver's active set and zone keys when the driver leaves the zone.
type DispatchCoordinator struct {
	cfg       CoordinatorConfig
	dispatch  ports.DispatchDirectory
	locator   ports.DeliveryLocator
	zones     []domain.Geofence
	signals   ports.SignalRepository
	publisher ports.SignalPublisher
	arrivals  ports.ArrivalNotifier
	log       *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer

	mu      sync.Mutex
	emitted map[string]map[signalKey]struct{} // driver id -> fired keys
}

// CoordinatorOption customises a DispatchCoordinator.
type CoordinatorOption func(*DispatchCoordinator)

// WithZones sets the geofences checked for ZONE_ENTERED.
func WithZones(zones []domain.Geofence) CoordinatorOption {
	return func(c *DispatchCoordinator) { c.zones = zones }
}

// WithSignalPublisher broadcasts emitted signals.
func WithSignalPublisher(p ports.SignalPublisher) CoordinatorOption {
	return func(c *DispatchCoordinator) { c.publisher = p }
}

// WithArrivalNotifier hands ARRIVED signals to a durable workflow, which then
// owns recording and broadcasting them.
func WithArrivalNotifier(n ports.ArrivalNotifier) CoordinatorOption {
	return func(c *DispatchCoordinator) { c.arrivals = n }
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *DispatchCoordinator) { c.log = l }
}

// WithCoordinatorClock overrides time.Now, for tests.
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *DispatchCoordinator) { c.now = now }
}

// NewDispatchCoordinator wires a coordinator.
func NewDispatchCoordinator(
	cfg CoordinatorConfig,
	dispatch ports.DispatchDirectory,
	locator ports.DeliveryLocator,
	signals ports.SignalRepository,
	opts ...CoordinatorOption,
) *DispatchCoordinator {
	def := DefaultCoordinatorConfig()
	if cfg.ArrivalRadiusMeters <= 0 {
		cfg.ArrivalRadiusMeters = def.ArrivalRadiusMeters
	}
	if cfg.ApproachRadiusMeters <= cfg.ArrivalRadiusMeters {
		cfg.ApproachRadiusMeters = max(def.ApproachRadiusMeters, cfg.ArrivalRadiusMeters*10)
	}

	c := &DispatchCoordinator{
		cfg:      cfg,
		dispatch: dispatch,
		locator:  locator,
		signals:  signals,
		log:      slog.Default(),
		now:      time.Now,
		tracer:   telemetry.Tracer(telemetry.TracerCoordinator),
		emitted:  make(map[string]map[signalKey]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Handle adapts Evaluate to ports.PositionSubscriber.
func (c *DispatchCoordinator) Handle(ctx context.Context, pos *domain.DriverPosition) error {
	_, err := c.Evaluate(ctx, pos)
	return err
}

// Evaluate checks one position and emits the signals it triggers. Signals
// that could not be stored are released so a later position retries them.
func (c *DispatchCoordinator) Evaluate(ctx context.Context, pos *domain.DriverPosition) ([]domain.ProximitySignal, error) {
	if pos == nil || pos.DriverID == "" || !pos.Location.Valid() {
		return nil, domain.ValidationError("position is not evaluable")
	}

	ctx, span := c.tracer.Start(ctx, "dispatch.evaluate",
		trace.WithAttributes(attribute.String("driver.id", pos.DriverID)))
	defer span.End()

	deliveries, err := c.dispatch.GetActiveDeliveries(ctx, pos.DriverID)
	if err != nil {
		return nil, fmt.Errorf("active deliveries for %s: %w", pos.DriverID, err)
	}

	candidates := make([]domain.ProximitySignal, 0, 2)
	active := make(map[string]struct{}, len(deliveries)+len(c.zones))

	near := geospatial.BoundingBox(pos.Location.Lat, pos.Location.Lon, c.cfg.ApproachRadiusMeters)
	for _, d := range deliveries {
		active[d] = struct{}{}
		drop, err := c.locator.GetDropoff(ctx, d)
		if err != nil {
			c.log.Warn("drop-off lookup failed", "delivery_id", d, "error", err)
			continue
		}
		if drop == nil || !near.Contains(drop.Point()) {
			continue
		}
		dist := pos.Location.DistanceTo(*drop)
		if dist <= c.cfg.ApproachRadiusMeters {
			candidates = append(candidates, c.newSignal(domain.SignalApproaching, pos, d, "", dist))
		}
		if dist <= c.cfg.ArrivalRadiusMeters {
			candidates = append(candidates, c.newSignal(domain.SignalArrived, pos, d, "", dist))
		}
	}

	for _, z := range c.zones {
		if z.Contains(pos.Location) {
			active[z.ID] = struct{}{}
			candidates = append(candidates, c.newSignal(domain.SignalZoneEntered, pos, "", z.ID, 0))
		}
	}

	fresh := c.claim(pos.DriverID, active, candidates)
	span.SetAttributes(attribute.Int("signals.fresh", len(fresh)))

	var errs []error
	emitted := make([]domain.ProximitySignal, 0, len(fresh))
	for i := range fresh {
		sig := fresh[i]
		if err := c.emit(ctx, &sig); err != nil {
			c.release(sig)
			errs = append(errs, err)
			continue
		}
		emitted = append(emitted, sig)
	}
	return emitted, errors.Join(errs...)
}

func (c *DispatchCoordinator) newSignal(kind domain.SignalKind, pos *domain.DriverPosition, deliveryID, zoneID string, dist float64) domain.ProximitySignal {
	return domain.ProximitySignal{
		ID:             uuid.NewString(),
		Kind:           kind,
		DriverID:       pos.DriverID,
		DeliveryID:     deliveryID,
		ZoneID:         zoneID,
		DistanceMeters: dist,
		Location:       pos.Location,
		At:             c.now(),
	}
}

// claim prunes keys whose target is no longer active for the driver and
// returns the candidates not fired before, marking them fired.
func (c *DispatchCoordinator) claim(driverID string, active map[string]struct{}, candidates []domain.ProximitySignal) []domain.ProximitySignal {
	c.mu.Lock()
	defer c.mu.Unlock()

	fired := c.emitted[driverID]
	for k := range fired {
		if _, ok := active[k.target]; !ok {
			delete(fired, k)
		}
	}

	var fresh []domain.ProximitySignal
	for _, s := range candidates {
		k := keyOf(s)
		if _, ok := fired[k]; ok {
			continue
		}
		if fired == nil {
			fired = make(map[signalKey]struct{})
			c.emitted[driverID] = fired
		}
		fired[k] = struct{}{}
		fresh = append(fresh, s)
	}
	if len(fired) == 0 {
		delete(c.emitted, driverID)
	}
	return fresh
}

func (c *DispatchCoordinator) release(s domain.ProximitySignal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.emitted[s.DriverID], keyOf(s))
}

func keyOf(s domain.ProximitySignal) signalKey {
	if s.Kind == domain.SignalZoneEntered {
		return signalKey{target: s.ZoneID, kind: s.Kind}
	}
	return signalKey{target: s.DeliveryID, kind: s.Kind}
}

func (c *DispatchCoordinator) emit(ctx context.Context, sig *domain.ProximitySignal) error {
	if sig.Kind == domain.SignalArrived && c.arrivals != nil {
		if err := c.arrivals.NotifyArrival(ctx, sig); err != nil {
			return fmt.Errorf("notify arrival %s: %w", sig.DeliveryID, err)
		}
		metrics.ProximitySignals.WithLabelValues(string(sig.Kind)).Inc()
		c.log.Info("arrival handed off", "driver_id", sig.DriverID, "delivery_id", sig.DeliveryID)
		return nil
	}

	if err := c.signals.Insert(ctx, sig); err != nil {
		return fmt.Errorf("store %s signal: %w", sig.Kind, err)
	}
	metrics.ProximitySignals.WithLabelValues(string(sig.Kind)).Inc()
	c.log.Info("proximity signal",
		"kind", sig.Kind, "driver_id", sig.DriverID,
		"delivery_id", sig.DeliveryID, "zone_id", sig.ZoneID,
		"distance_m", sig.DistanceMeters)

	if c.publisher != nil {
		if err := c.publisher.PublishSignal(ctx, sig); err != nil {
			c.log.Warn("publish signal failed", "signal_id", sig.ID, "error", err)
		}
	}
	return nil
}
