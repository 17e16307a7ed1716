package usecases_test

import (
	"context"
	"strings"
	"sync"

	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/core/ports"
)

// --- Mock AuthVerifier ---

// tokenAuth accepts tokens of the form "<role>:<id>".
type tokenAuth struct {
	verifyFn func(ctx context.Context, token string) (domain.Identity, error)
}

func (m *tokenAuth) VerifyConnection(ctx context.Context, token string) (domain.Identity, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, token)
	}
	role, id, ok := strings.Cut(token, ":")
	if !ok || id == "" {
		return domain.Identity{}, domain.AuthenticationError("bad token", nil)
	}
	return domain.Identity{ID: id, Role: domain.Role(role)}, nil
}

// --- Mock DispatchDirectory ---

type mockDispatch struct {
	assignedFn   func(ctx context.Context, deliveryID string) (string, bool, error)
	activeFn     func(ctx context.Context, driverID string) ([]string, error)
	isOperatorFn func(ctx context.Context, who domain.Identity, deliveryID string) (bool, error)
	isCustomerFn func(ctx context.Context, who domain.Identity, deliveryID string) (bool, error)
}

func (m *mockDispatch) GetAssignedDriver(ctx context.Context, deliveryID string) (string, bool, error) {
	if m.assignedFn != nil {
		return m.assignedFn(ctx, deliveryID)
	}
	return "", false, nil
}

func (m *mockDispatch) GetActiveDeliveries(ctx context.Context, driverID string) ([]string, error) {
	if m.activeFn != nil {
		return m.activeFn(ctx, driverID)
	}
	return nil, nil
}

func (m *mockDispatch) IsOperatorFor(ctx context.Context, who domain.Identity, deliveryID string) (bool, error) {
	if m.isOperatorFn != nil {
		return m.isOperatorFn(ctx, who, deliveryID)
	}
	return false, nil
}

func (m *mockDispatch) IsCustomerOf(ctx context.Context, who domain.Identity, deliveryID string) (bool, error) {
	if m.isCustomerFn != nil {
		return m.isCustomerFn(ctx, who, deliveryID)
	}
	return false, nil
}

// assignment is a static delivery -> driver table.
func assignment(deliveries map[string]string) *mockDispatch {
	return &mockDispatch{
		assignedFn: func(_ context.Context, deliveryID string) (string, bool, error) {
			d, ok := deliveries[deliveryID]
			return d, ok, nil
		},
		activeFn: func(_ context.Context, driverID string) ([]string, error) {
			var out []string
			for del, drv := range deliveries {
				if drv == driverID {
					out = append(out, del)
				}
			}
			return out, nil
		},
	}
}

// --- Mock DeliveryLocator ---

type mockLocator struct {
	dropoffs map[string]domain.GeoPoint
	err      error
}

func (m *mockLocator) GetDropoff(_ context.Context, deliveryID string) (*domain.GeoPoint, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.dropoffs[deliveryID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// --- Mock SignalRepository ---

type mockSignalRepo struct {
	mu       sync.Mutex
	inserted []domain.ProximitySignal
	insertFn func(ctx context.Context, sig *domain.ProximitySignal) error
}

func (m *mockSignalRepo) Insert(ctx context.Context, sig *domain.ProximitySignal) error {
	if m.insertFn != nil {
		if err := m.insertFn(ctx, sig); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, *sig)
	return nil
}

func (m *mockSignalRepo) ListByDelivery(_ context.Context, deliveryID string, limit int) ([]domain.ProximitySignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ProximitySignal
	for _, s := range m.inserted {
		if s.DeliveryID == deliveryID && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

// --- Mock publishers and notifier ---

type recordingPublisher struct {
	mu        sync.Mutex
	positions []domain.DriverPosition
	signals   []domain.ProximitySignal
}

func (p *recordingPublisher) PublishPosition(_ context.Context, pos *domain.DriverPosition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions = append(p.positions, *pos)
	return nil
}

func (p *recordingPublisher) PublishSignal(_ context.Context, sig *domain.ProximitySignal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, *sig)
	return nil
}

func (p *recordingPublisher) positionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.positions)
}

type mockArrivals struct {
	mu       sync.Mutex
	notified []domain.ProximitySignal
	err      error
}

func (m *mockArrivals) NotifyArrival(_ context.Context, sig *domain.ProximitySignal) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified = append(m.notified, *sig)
	return nil
}

// --- Mock CacheService ---

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, ports.ErrCacheMiss
	}
	return v, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

var (
	_ ports.AuthVerifier      = (*tokenAuth)(nil)
	_ ports.DispatchDirectory = (*mockDispatch)(nil)
	_ ports.DeliveryLocator   = (*mockLocator)(nil)
	_ ports.SignalRepository  = (*mockSignalRepo)(nil)
	_ ports.PositionPublisher = (*recordingPublisher)(nil)
	_ ports.SignalPublisher   = (*recordingPublisher)(nil)
	_ ports.ArrivalNotifier   = (*mockArrivals)(nil)
	_ ports.CacheService      = (*memCache)(nil)
)
