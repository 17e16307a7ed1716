package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	handler "github.com/samirrijal/livetrack/internal/adapters/http"
	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/core/usecases"
)

// ---- Mock collaborators ----

// tokenAuth accepts bearer tokens of the form "<role>:<id>".
type tokenAuth struct{}

func (tokenAuth) VerifyConnection(_ context.Context, token string) (domain.Identity, error) {
	role, id, ok := strings.Cut(token, ":")
	if !ok || id == "" {
		return domain.Identity{}, domain.AuthenticationError("invalid token", nil)
	}
	return domain.Identity{ID: id, Role: domain.Role(role)}, nil
}

type mockDispatch struct {
	isCustomerFn func(ctx context.Context, who domain.Identity, deliveryID string) (bool, error)
}

func (m *mockDispatch) GetAssignedDriver(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (m *mockDispatch) GetActiveDeliveries(context.Context, string) ([]string, error) {
	return nil, nil
}
func (m *mockDispatch) IsOperatorFor(_ context.Context, who domain.Identity, _ string) (bool, error) {
	return who.Role == domain.RoleOperator, nil
}
func (m *mockDispatch) IsCustomerOf(ctx context.Context, who domain.Identity, deliveryID string) (bool, error) {
	if m.isCustomerFn != nil {
		return m.isCustomerFn(ctx, who, deliveryID)
	}
	return false, nil
}

type mockSessions struct {
	getFn func(ctx context.Context, id string) (*domain.DeliverySession, error)
}

func (m *mockSessions) GetSession(ctx context.Context, id string) (*domain.DeliverySession, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.NotFoundError("delivery " + id)
}

func (m *mockSessions) AdvanceStatus(context.Context, string, domain.DeliveryStatus) (bool, error) {
	return false, nil
}

type mockSignals struct {
	listFn func(ctx context.Context, deliveryID string, limit int) ([]domain.ProximitySignal, error)
}

func (m *mockSignals) Insert(context.Context, *domain.ProximitySignal) error { return nil }
func (m *mockSignals) ListByDelivery(ctx context.Context, deliveryID string, limit int) ([]domain.ProximitySignal, error) {
	if m.listFn != nil {
		return m.listFn(ctx, deliveryID, limit)
	}
	return nil, nil
}

// ---- Test helpers ----

type fixture struct {
	seeded int
	store  *usecases.PositionStore
	deps   *handler.Dependencies
	app    *fiber.App
}

func newFixture(opts ...func(*handler.Dependencies)) *fixture {
	store := usecases.NewPositionStore(usecases.DefaultPositionStoreConfig())
	registry := usecases.NewSubscriptionRegistry()
	dispatch := &mockDispatch{}
	gw := usecases.NewTrackingGateway(usecases.DefaultGatewayConfig(), store, registry, tokenAuth{}, dispatch)

	d := &handler.Dependencies{
		Queries:  usecases.NewQueryService(store, nil),
		Gateway:  gw,
		Store:    store,
		Registry: registry,
		Sessions: &mockSessions{},
		Signals:  &mockSignals{},
		DocsPath: "../../../api/openapi.yaml",
	}
	for _, o := range opts {
		o(d)
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, d)
	return &fixture{store: store, deps: d, app: app}
}

func withAuth(d *handler.Dependencies) { d.Auth = tokenAuth{} }

func (f *fixture) seed(t *testing.T, driverID string, lat, lon float64) {
	t.Helper()
	f.seeded++
	out := f.store.Record(domain.DriverPosition{
		DriverID:   driverID,
		Location:   domain.GeoPoint{Lat: lat, Lon: lon},
		RecordedAt: time.Now().Add(time.Duration(f.seeded) * time.Millisecond),
	})
	require.Equal(t, usecases.RecordChanged, out.Result)
}

func (f *fixture) get(t *testing.T, path, token string) *httpResult {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return &httpResult{status: resp.StatusCode, header: resp.Header.Get, body: body}
}

type httpResult struct {
	status int
	header func(string) string
	body   json.RawMessage
}

func (r *httpResult) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, v))
}

func (r *httpResult) errorCode(t *testing.T) string {
	t.Helper()
	var apiErr handler.APIError
	r.decode(t, &apiErr)
	return apiErr.Code
}

// ---- Driver endpoints ----

func TestDriverPosition_Success(t *testing.T) {
	f := newFixture()
	f.seed(t, "D1", 43.263, -2.935)

	res := f.get(t, "/v1/drivers/D1/position", "")
	require.Equal(t, 200, res.status)
	assert.Equal(t, "private, no-store", res.header("Cache-Control"))
	assert.Empty(t, res.header("ETag"), "no-store responses carry no validator")

	var got domain.PositionFreshness
	res.decode(t, &got)
	assert.Equal(t, "D1", got.Position.DriverID)
	assert.Equal(t, 43.263, got.Position.Location.Lat)
	assert.False(t, got.Stale)
	assert.False(t, got.Disconnected)
}

func TestDriverPosition_DisconnectedFlag(t *testing.T) {
	f := newFixture()
	f.seed(t, "D1", 43.263, -2.935)
	f.store.MarkDisconnected("D1")

	var got domain.PositionFreshness
	f.get(t, "/v1/drivers/D1/position", "").decode(t, &got)
	assert.True(t, got.Disconnected)
}

func TestDriverPosition_NotFound(t *testing.T) {
	f := newFixture()

	res := f.get(t, "/v1/drivers/ghost/position", "")
	require.Equal(t, 404, res.status)
	assert.Equal(t, "not_found", res.errorCode(t))
}

func TestDriverRoute(t *testing.T) {
	f := newFixture()
	f.seed(t, "D1", 43.260, -2.935)
	f.seed(t, "D1", 43.261, -2.935)
	f.seed(t, "D1", 43.262, -2.935)

	var route struct {
		DriverID  string                  `json:"driver_id"`
		Positions []domain.DriverPosition `json:"positions"`
	}
	res := f.get(t, "/v1/drivers/D1/route?limit=2", "")
	require.Equal(t, 200, res.status)
	res.decode(t, &route)
	require.Len(t, route.Positions, 2)
	assert.Equal(t, 43.262, route.Positions[0].Location.Lat, "most recent first")

	f.get(t, "/v1/drivers/D1/route", "").decode(t, &route)
	assert.Len(t, route.Positions, 3)

	f.get(t, "/v1/drivers/nobody/route", "").decode(t, &route)
	assert.NotNil(t, route.Positions)
	assert.Empty(t, route.Positions)

	res = f.get(t, "/v1/drivers/D1/route?limit=-1", "")
	assert.Equal(t, 400, res.status)
}

// ---- Authentication and authorization ----

func TestDriverPosition_RequiresBearerToken(t *testing.T) {
	f := newFixture(withAuth)
	f.seed(t, "D1", 43.263, -2.935)

	res := f.get(t, "/v1/drivers/D1/position", "")
	require.Equal(t, 401, res.status)
	assert.Equal(t, "unauthorized", res.errorCode(t))

	res = f.get(t, "/v1/drivers/D1/position", "garbage")
	assert.Equal(t, 401, res.status)
}

func TestDriverPosition_Authorization(t *testing.T) {
	f := newFixture(withAuth)
	f.seed(t, "D1", 43.263, -2.935)

	cases := map[string]struct {
		token  string
		status int
	}{
		"operator":          {"operator:op-1", 200},
		"the driver itself": {"driver:D1", 200},
		"another driver":    {"driver:D2", 403},
		"customer":          {"customer:c-1", 403},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := f.get(t, "/v1/drivers/D1/position", tc.token)
			assert.Equal(t, tc.status, res.status)
		})
	}
}

// ---- Delivery endpoints ----

func activeDelivery(id string) *domain.DeliverySession {
	return &domain.DeliverySession{
		DeliveryID: id,
		DriverID:   "D1",
		CustomerID: "c-1",
		Status:     domain.DeliveryInTransit,
		Dropoff:    domain.GeoPoint{Lat: 43.270, Lon: -2.940},
	}
}

func TestDelivery_WithDriverPosition(t *testing.T) {
	f := newFixture(func(d *handler.Dependencies) {
		d.Sessions = &mockSessions{getFn: func(_ context.Context, id string) (*domain.DeliverySession, error) {
			return activeDelivery(id), nil
		}}
	})
	f.seed(t, "D1", 43.263, -2.935)

	res := f.get(t, "/v1/deliveries/order-1", "")
	require.Equal(t, 200, res.status)

	var got struct {
		DeliveryID     string                    `json:"delivery_id"`
		Status         domain.DeliveryStatus     `json:"status"`
		DriverPosition *domain.PositionFreshness `json:"driver_position"`
	}
	res.decode(t, &got)
	assert.Equal(t, "order-1", got.DeliveryID)
	assert.Equal(t, domain.DeliveryInTransit, got.Status)
	require.NotNil(t, got.DriverPosition)
	assert.Equal(t, "D1", got.DriverPosition.Position.DriverID)
}

func TestDelivery_CompletedHasNoPosition(t *testing.T) {
	f := newFixture(func(d *handler.Dependencies) {
		d.Sessions = &mockSessions{getFn: func(_ context.Context, id string) (*domain.DeliverySession, error) {
			s := activeDelivery(id)
			s.Status = domain.DeliveryCompleted
			return s, nil
		}}
	})
	f.seed(t, "D1", 43.263, -2.935)

	var got map[string]any
	f.get(t, "/v1/deliveries/order-1", "").decode(t, &got)
	assert.NotContains(t, got, "driver_position")
}

func TestDelivery_NotFoundAndFailure(t *testing.T) {
	f := newFixture()
	assert.Equal(t, 404, f.get(t, "/v1/deliveries/missing", "").status)

	f = newFixture(func(d *handler.Dependencies) {
		d.Sessions = &mockSessions{getFn: func(context.Context, string) (*domain.DeliverySession, error) {
			return nil, errors.New("connection refused")
		}}
	})
	res := f.get(t, "/v1/deliveries/order-1", "")
	require.Equal(t, 500, res.status)
	var apiErr handler.APIError
	res.decode(t, &apiErr)
	assert.Equal(t, "internal error", apiErr.Message, "driver details are not leaked")
}

func TestDelivery_CustomerAccess(t *testing.T) {
	f := newFixture(withAuth, func(d *handler.Dependencies) {
		d.Sessions = &mockSessions{getFn: func(_ context.Context, id string) (*domain.DeliverySession, error) {
			return activeDelivery(id), nil
		}}
		gwDispatch := &mockDispatch{isCustomerFn: func(_ context.Context, who domain.Identity, id string) (bool, error) {
			return who.ID == "c-1" && id == "order-1", nil
		}}
		d.Gateway = usecases.NewTrackingGateway(usecases.DefaultGatewayConfig(), d.Store, d.Registry, tokenAuth{}, gwDispatch)
	})

	assert.Equal(t, 200, f.get(t, "/v1/deliveries/order-1", "customer:c-1").status)
	assert.Equal(t, 403, f.get(t, "/v1/deliveries/order-1", "customer:c-2").status)
	assert.Equal(t, 200, f.get(t, "/v1/deliveries/order-1", "operator:op").status)
}

func TestDeliverySignals(t *testing.T) {
	var gotLimit int
	f := newFixture(func(d *handler.Dependencies) {
		d.Signals = &mockSignals{listFn: func(_ context.Context, id string, limit int) ([]domain.ProximitySignal, error) {
			gotLimit = limit
			return []domain.ProximitySignal{
				{ID: "s2", Kind: domain.SignalArrived, DriverID: "D1", DeliveryID: id},
				{ID: "s1", Kind: domain.SignalApproaching, DriverID: "D1", DeliveryID: id},
			}, nil
		}}
	})

	res := f.get(t, "/v1/deliveries/order-1/signals?limit=500", "")
	require.Equal(t, 200, res.status)
	assert.Equal(t, 50, gotLimit, "out-of-range limit falls back to the default")

	var got struct {
		Signals []domain.ProximitySignal `json:"signals"`
	}
	res.decode(t, &got)
	require.Len(t, got.Signals, 2)
	assert.Equal(t, domain.SignalArrived, got.Signals[0].Kind)
}

func TestDeliverySignals_ETag(t *testing.T) {
	f := newFixture()

	first := f.get(t, "/v1/deliveries/order-1/signals", "")
	require.Equal(t, 200, first.status)
	etag := first.header("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest("GET", "/v1/deliveries/order-1/signals", nil)
	req.Header.Set("If-None-Match", etag)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 304, resp.StatusCode)
}

// ---- GraphQL ----

func postGraphQL(t *testing.T, app *fiber.App, query string) map[string]any {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"query": query})
	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestGraphQL_LatestPositionAndRoute(t *testing.T) {
	f := newFixture()
	f.seed(t, "D1", 43.263, -2.935)

	out := postGraphQL(t, f.app, `{
		latestPosition(driverId: "D1") { stale position { driver_id location { lat lon } } }
		recentRoute(driverId: "D1", limit: 5) { driver_id }
		missing: latestPosition(driverId: "ghost") { stale }
	}`)
	require.Nil(t, out["errors"])

	data := out["data"].(map[string]any)
	latest := data["latestPosition"].(map[string]any)
	assert.Equal(t, false, latest["stale"])
	pos := latest["position"].(map[string]any)
	assert.Equal(t, "D1", pos["driver_id"])
	assert.Equal(t, 43.263, pos["location"].(map[string]any)["lat"])
	assert.Len(t, data["recentRoute"], 1)
	assert.Nil(t, data["missing"])
}

func TestGraphQL_Delivery(t *testing.T) {
	f := newFixture(func(d *handler.Dependencies) {
		d.Sessions = &mockSessions{getFn: func(_ context.Context, id string) (*domain.DeliverySession, error) {
			return activeDelivery(id), nil
		}}
	})
	f.seed(t, "D1", 43.263, -2.935)

	out := postGraphQL(t, f.app, `{ delivery(id: "order-1") { status driver_id driver_position { position { driver_id } } } }`)
	require.Nil(t, out["errors"])

	del := out["data"].(map[string]any)["delivery"].(map[string]any)
	assert.Equal(t, "IN_TRANSIT", del["status"])
	assert.Equal(t, "D1", del["driver_id"])
	assert.NotNil(t, del["driver_position"])
}

func TestGraphQL_Unauthorized(t *testing.T) {
	f := newFixture(withAuth)
	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(`{"query":"{ latestPosition(driverId: \"D1\") { stale } }"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

// ---- Health, readiness, docs ----

func TestHealth(t *testing.T) {
	f := newFixture()
	f.seed(t, "D1", 43.263, -2.935)

	res := f.get(t, "/v1/health", "")
	require.Equal(t, 200, res.status)

	var got map[string]any
	res.decode(t, &got)
	assert.Equal(t, "healthy", got["status"])
	assert.EqualValues(t, 1, got["drivers"])
	assert.EqualValues(t, 0, got["connections"])
}

func TestReady_NoDatabase(t *testing.T) {
	f := newFixture()

	res := f.get(t, "/v1/ready", "")
	require.Equal(t, 503, res.status)

	var got struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	res.decode(t, &got)
	assert.Equal(t, "not ready", got.Status)
	assert.Equal(t, "not configured", got.Checks["database"])
	assert.Equal(t, "not configured", got.Checks["cache"])
}

func TestDocs(t *testing.T) {
	f := newFixture()

	req := httptest.NewRequest("GET", "/docs/openapi.yaml", nil)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	req = httptest.NewRequest("GET", "/ws", nil)
	resp, err = f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
