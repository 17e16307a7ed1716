package http

import (
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/livetrack/internal/adapters/postgres"
	"github.com/samirrijal/livetrack/internal/adapters/valkey"
	"github.com/samirrijal/livetrack/internal/core/ports"
	"github.com/samirrijal/livetrack/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Queries  *usecases.QueryService
	Gateway  *usecases.TrackingGateway
	Store    *usecases.PositionStore
	Registry *usecases.SubscriptionRegistry

	// Auth guards /v1 reads and /graphql. Nil leaves them open.
	Auth     ports.AuthVerifier
	Sessions ports.DeliverySessions
	Signals  ports.SignalRepository

	NATS  *nats.Conn
	DB    *postgres.DB
	Cache *valkey.Cache

	// DocsPath is the OpenAPI document served at /docs/openapi.yaml.
	DocsPath string
}
