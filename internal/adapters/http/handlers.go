package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/core/usecases"
)

const (
	defaultSignalLimit = 50
	maxSignalLimit     = 200
)

// DriverPositionHandler returns a driver's latest position with its
// freshness flags.
func DriverPositionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "driver id is required")
		}
		ctx := c.UserContext()
		if err := deps.authorize(ctx, domain.DriverTopic(id)); err != nil {
			return errDomain(c, err)
		}

		f, err := deps.Queries.LatestPosition(ctx, id)
		if err != nil {
			return errDomain(c, err)
		}
		return c.JSON(f)
	}
}

// DriverRouteHandler returns a driver's recent announced positions, most
// recent first.
func DriverRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "driver id is required")
		}
		limit := c.QueryInt("limit", usecases.DefaultRouteLimit)
		if limit < 0 {
			return errBadRequest(c, "limit must not be negative")
		}
		ctx := c.UserContext()
		if err := deps.authorize(ctx, domain.DriverTopic(id)); err != nil {
			return errDomain(c, err)
		}

		route, err := deps.Queries.RecentRoute(ctx, id, limit)
		if err != nil {
			return errDomain(c, err)
		}
		return c.JSON(fiber.Map{
			"driver_id": id,
			"positions": route,
		})
	}
}

// DeliveryView is a delivery with its driver's current position, if any.
type DeliveryView struct {
	*domain.DeliverySession
	DriverPosition *domain.PositionFreshness `json:"driver_position,omitempty"`
}

// DeliveryHandler returns a delivery session. Active deliveries carry the
// assigned driver's latest position.
func DeliveryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Sessions == nil {
			return errInternal(c, "deliveries not available")
		}
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "delivery id is required")
		}
		ctx := c.UserContext()
		if err := deps.authorize(ctx, domain.DeliveryTopic(id)); err != nil {
			return errDomain(c, err)
		}

		view, err := deliveryView(ctx, deps, id)
		if err != nil {
			return errDomain(c, err)
		}
		return c.JSON(view)
	}
}

func deliveryView(ctx context.Context, deps *Dependencies, id string) (*DeliveryView, error) {
	sess, err := deps.Sessions.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &DeliveryView{DeliverySession: sess}
	if sess.DriverID == "" || !sess.Status.IsActive() {
		return view, nil
	}

	f, err := deps.Queries.LatestPosition(ctx, sess.DriverID)
	switch {
	case err == nil:
		view.DriverPosition = &f
	case isNotFound(err):
	default:
		return nil, err
	}
	return view, nil
}

// DeliverySignalsHandler lists the proximity signals recorded for a delivery,
// newest first.
func DeliverySignalsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Signals == nil {
			return errInternal(c, "signals not available")
		}
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "delivery id is required")
		}
		limit := c.QueryInt("limit", defaultSignalLimit)
		if limit <= 0 || limit > maxSignalLimit {
			limit = defaultSignalLimit
		}
		ctx := c.UserContext()
		if err := deps.authorize(ctx, domain.DeliveryTopic(id)); err != nil {
			return errDomain(c, err)
		}

		signals, err := deps.Signals.ListByDelivery(ctx, id, limit)
		if err != nil {
			return errDomain(c, err)
		}
		if signals == nil {
			signals = []domain.ProximitySignal{}
		}
		return c.JSON(fiber.Map{
			"delivery_id": id,
			"signals":     signals,
		})
	}
}
