package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/core/usecases"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	positionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "DriverPosition",
		Fields: graphql.Fields{
			"driver_id":   &graphql.Field{Type: graphql.String},
			"location":    &graphql.Field{Type: geoPointType},
			"heading":     &graphql.Field{Type: graphql.Float},
			"speed":       &graphql.Field{Type: graphql.Float},
			"recorded_at": &graphql.Field{Type: graphql.DateTime},
			"received_at": &graphql.Field{Type: graphql.DateTime},
		},
	})

	freshnessType := graphql.NewObject(graphql.ObjectConfig{
		Name: "PositionFreshness",
		Fields: graphql.Fields{
			"position":     &graphql.Field{Type: positionType},
			"stale":        &graphql.Field{Type: graphql.Boolean},
			"disconnected": &graphql.Field{Type: graphql.Boolean},
		},
	})

	deliveryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Delivery",
		Fields: graphql.Fields{
			"delivery_id":     &graphql.Field{Type: graphql.String},
			"driver_id":       &graphql.Field{Type: graphql.String},
			"customer_id":     &graphql.Field{Type: graphql.String},
			"status":          &graphql.Field{Type: graphql.String},
			"dropoff":         &graphql.Field{Type: geoPointType},
			"updated_at":      &graphql.Field{Type: graphql.DateTime},
			"driver_position": &graphql.Field{Type: freshnessType},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"latestPosition": &graphql.Field{
				Type:        freshnessType,
				Description: "Latest known position of a driver; null when unknown",
				Args: graphql.FieldConfigArgument{
					"driverId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["driverId"].(string)
					if err := deps.authorize(p.Context, domain.DriverTopic(id)); err != nil {
						return nil, err
					}
					f, err := deps.Queries.LatestPosition(p.Context, id)
					if isNotFound(err) {
						return nil, nil
					}
					if err != nil {
						return nil, err
					}
					return f, nil
				},
			},
			"recentRoute": &graphql.Field{
				Type:        graphql.NewList(positionType),
				Description: "Recent announced positions of a driver, most recent first",
				Args: graphql.FieldConfigArgument{
					"driverId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"limit":    &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: usecases.DefaultRouteLimit},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["driverId"].(string)
					limit := p.Args["limit"].(int)
					if err := deps.authorize(p.Context, domain.DriverTopic(id)); err != nil {
						return nil, err
					}
					return deps.Queries.RecentRoute(p.Context, id, limit)
				},
			},
			"delivery": &graphql.Field{
				Type:        deliveryType,
				Description: "A delivery with its driver's current position",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if deps.Sessions == nil {
						return nil, errors.New("deliveries not available")
					}
					id := p.Args["id"].(string)
					if err := deps.authorize(p.Context, domain.DeliveryTopic(id)); err != nil {
						return nil, err
					}
					view, err := deliveryView(p.Context, deps, id)
					if isNotFound(err) {
						return nil, nil
					}
					if err != nil {
						return nil, err
					}
					return deliveryFields(view), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// deliveryFields flattens a view for the default resolver.
func deliveryFields(v *DeliveryView) map[string]interface{} {
	m := map[string]interface{}{
		"delivery_id": v.DeliveryID,
		"driver_id":   v.DriverID,
		"customer_id": v.CustomerID,
		"status":      string(v.Status),
		"dropoff":     v.Dropoff,
		"updated_at":  v.UpdatedAt,
	}
	if v.DriverPosition != nil {
		m["driver_position"] = *v.DriverPosition
	}
	return m
}

func isNotFound(err error) bool {
	return err != nil && domain.CodeOf(err) == domain.CodeNotFound
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.Query == "" {
			return errBadRequest(c, "query is required")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
