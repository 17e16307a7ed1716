package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/core/ports"
	"github.com/samirrijal/livetrack/internal/core/protocol"
	"github.com/samirrijal/livetrack/internal/pkg/metrics"
	"github.com/samirrijal/livetrack/internal/pkg/telemetry"
)

// ConnState is the lifecycle of a gateway connection.
type ConnState int

const (
	StateConnected ConnState = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateActive:
		return "ACTIVE"
	default:
		return "CLOSED"
	}
}

// GatewayConfig tunes connection handling and fan-out.
type GatewayConfig struct {
	AuthGracePeriod     time.Duration
	MaxMalformed        int
	OutboundBuffer      int
	FanoutWorkers       int
	FanoutQueue         int
	CollaboratorTimeout time.Duration
	MirrorTTL           time.Duration
	RetryInterval       time.Duration
}

// DefaultGatewayConfig mirrors the service defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AuthGracePeriod:     10 * time.Second,
		MaxMalformed:        5,
		OutboundBuffer:      64,
		FanoutWorkers:       8,
		FanoutQueue:         1024,
		CollaboratorTimeout: 2 * time.Second,
		MirrorTTL:           24 * time.Hour,
		RetryInterval:       time.Second,
	}
}

// Connection is one client session. The transport drains Outbound() in a
// dedicated writer loop; the channel is closed when the session ends.
type Connection struct {
	id string

	mu             sync.Mutex
	state          ConnState
	identity       domain.Identity
	reportedDriver string
	authenticated  bool
	malformed      int
	out            chan protocol.ServerMessage
	pending        map[string]protocol.PositionUpdate // driver id -> newest update not yet queued
	authTimer      *time.Timer
}

// ID returns the connection id.
func (c *Connection) ID() string { return c.id }

// Outbound yields messages queued for this client.
func (c *Connection) Outbound() <-chan protocol.ServerMessage { return c.out }

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns who the connection authenticated as.
func (c *Connection) Identity() (domain.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated && c.state != StateActive {
		return domain.Identity{}, false
	}
	return c.identity, true
}

// send queues m without blocking. It reports false when the queue is full
// or the connection is closed.
func (c *Connection) send(m protocol.ServerMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	select {
	case c.out <- m:
		return true
	default:
		return false
	}
}

// deliver queues u, or holds it as the driver's pending update when the
// queue is full. A newer update for the same driver supersedes the held one.
func (c *Connection) deliver(u protocol.PositionUpdate) (queued, open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false, false
	}
	delete(c.pending, u.DriverID)
	select {
	case c.out <- u:
		return true, true
	default:
		if c.pending == nil {
			c.pending = make(map[string]protocol.PositionUpdate)
		}
		c.pending[u.DriverID] = u
		return false, true
	}
}

// retryPending queues held updates while there is room and returns how many
// went out.
func (c *Connection) retryPending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return 0
	}
	n := 0
	for driverID, u := range c.pending {
		select {
		case c.out <- u:
			delete(c.pending, driverID)
			n++
		default:
			return n
		}
	}
	return n
}

// principal returns the identity the connection authenticated as, even if
// it has closed since.
func (c *Connection) principal() (domain.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity, c.authenticated
}

func (c *Connection) authenticate(id domain.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return false
	}
	c.state = StateAuthenticated
	c.identity = id
	c.authenticated = true
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	return true
}

func (c *Connection) noteMalformed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.malformed++
	return c.malformed
}

// expire closes a connection that is still unauthenticated, queueing msg
// first. It reports false if the connection authenticated or closed first.
func (c *Connection) expire(msg protocol.ServerMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return false
	}
	select {
	case c.out <- msg:
	default:
	}
	c.shutdown()
	return true
}

// close ends the session and returns the driver it reported for, if any.
// Safe to call on an already closed connection.
func (c *Connection) close() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		c.shutdown()
	}
	return c.reportedDriver
}

// shutdown requires c.mu.
func (c *Connection) shutdown() {
	c.state = StateClosed
	c.pending = nil
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	close(c.out)
}

// fanoutJob is one recorded position on its way out. Mirror-only jobs
// refresh the shared cache copy of an unchanged position and push nothing.
type fanoutJob struct {
	pos        domain.DriverPosition
	sender     string
	mirrorOnly bool
}

// merge folds a newer job for the same driver into j. The newest position
// wins; the result still pushes if either job did.
func (j fanoutJob) merge(newer fanoutJob) fanoutJob {
	newer.mirrorOnly = j.mirrorOnly && newer.mirrorOnly
	return newer
}

// fanoutShard is one worker's queue. When the channel is full, jobs wait in
// overflow, collapsed to the newest per driver, until the worker catches up.
type fanoutShard struct {
	jobs chan fanoutJob

	mu       sync.Mutex
	overflow map[string]fanoutJob
}

func newFanoutShard(size int) *fanoutShard {
	return &fanoutShard{jobs: make(chan fanoutJob, size), overflow: make(map[string]fanoutJob)}
}

// put reports false when the job was collapsed into an older overflow entry.
// Once a shard overflows, later jobs queue behind the overflow so a driver's
// positions still leave in the order recorded.
func (s *fanoutShard) put(job fanoutJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.overflow) == 0 {
		select {
		case s.jobs <- job:
			return true
		default:
		}
	}
	prev, collapsed := s.overflow[job.pos.DriverID]
	if collapsed {
		job = prev.merge(job)
	}
	s.overflow[job.pos.DriverID] = job
	return !collapsed
}

// takeOverflow hands over the overflow once the channel has drained.
func (s *fanoutShard) takeOverflow() []fanoutJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) > 0 || len(s.overflow) == 0 {
		return nil
	}
	out := make([]fanoutJob, 0, len(s.overflow))
	for id, job := range s.overflow {
		out = append(out, job)
		delete(s.overflow, id)
	}
	return out
}

// TrackingGateway is the transport-independent front door: it authenticates
// connections, records driver reports, manages subscriptions and pushes
// position updates. Store and registry are injected; the gateway never
// holds their locks across collaborator or network calls.
type TrackingGateway struct {
	cfg       GatewayConfig
	store     *PositionStore
	registry  *SubscriptionRegistry
	auth      ports.AuthVerifier
	dispatch  ports.DispatchDirectory
	publisher ports.PositionPublisher
	cache     ports.CacheService
	log       *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer

	mu      sync.RWMutex
	conns   map[string]*Connection
	drivers map[string]string // driver id -> connection currently reporting

	shards []*fanoutShard
}

// GatewayOption customises a TrackingGateway.
type GatewayOption func(*TrackingGateway)

// WithPositionPublisher forwards changed positions to a broker.
func WithPositionPublisher(p ports.PositionPublisher) GatewayOption {
	return func(g *TrackingGateway) { g.publisher = p }
}

// WithPositionCache mirrors changed positions into a shared cache.
func WithPositionCache(c ports.CacheService) GatewayOption {
	return func(g *TrackingGateway) { g.cache = c }
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *TrackingGateway) { g.log = l }
}

// WithGatewayClock overrides time.Now, for tests.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *TrackingGateway) { g.now = now }
}

// NewTrackingGateway wires a gateway. Call Run to start fan-out workers.
func NewTrackingGateway(
	cfg GatewayConfig,
	store *PositionStore,
	registry *SubscriptionRegistry,
	auth ports.AuthVerifier,
	dispatch ports.DispatchDirectory,
	opts ...GatewayOption,
) *TrackingGateway {
	def := DefaultGatewayConfig()
	if cfg.AuthGracePeriod <= 0 {
		cfg.AuthGracePeriod = def.AuthGracePeriod
	}
	if cfg.MaxMalformed <= 0 {
		cfg.MaxMalformed = def.MaxMalformed
	}
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = def.OutboundBuffer
	}
	if cfg.FanoutWorkers <= 0 {
		cfg.FanoutWorkers = def.FanoutWorkers
	}
	if cfg.FanoutQueue < cfg.FanoutWorkers {
		cfg.FanoutQueue = def.FanoutQueue
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = def.CollaboratorTimeout
	}
	if cfg.MirrorTTL <= 0 {
		cfg.MirrorTTL = def.MirrorTTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}

	g := &TrackingGateway{
		cfg:      cfg,
		store:    store,
		registry: registry,
		auth:     auth,
		dispatch: dispatch,
		log:      slog.Default(),
		now:      time.Now,
		tracer:   telemetry.Tracer(telemetry.TracerGateway),
		conns:    make(map[string]*Connection),
		drivers:  make(map[string]string),
		shards:   make([]*fanoutShard, cfg.FanoutWorkers),
	}
	for i := range g.shards {
		g.shards[i] = newFanoutShard(cfg.FanoutQueue / cfg.FanoutWorkers)
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Run drives the fan-out workers and the push retry cycle until ctx is
// cancelled. Each driver maps to one worker, so updates for a driver are
// pushed in the order recorded.
func (g *TrackingGateway) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sh := range g.shards {
		wg.Add(1)
		go func(sh *fanoutShard) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-sh.jobs:
					g.fanout(ctx, job)
				}
				for _, job := range sh.takeOverflow() {
					g.fanout(ctx, job)
				}
			}
		}(sh)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(g.cfg.RetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.retryPushes()
			}
		}
	}()
	wg.Wait()
}

// retryPushes re-offers every held-back update to its subscriber.
func (g *TrackingGateway) retryPushes() {
	g.mu.RLock()
	conns := make([]*Connection, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	for _, c := range conns {
		if n := c.retryPending(); n > 0 {
			metrics.PushRetries.Add(float64(n))
			metrics.PushesDelivered.Add(float64(n))
		}
	}
}

// Open registers a new connection and arms its authentication deadline.
// An empty id is replaced with a generated one.
func (g *TrackingGateway) Open(connID string) *Connection {
	if connID == "" {
		connID = uuid.NewString()
	}
	conn := &Connection{
		id:    connID,
		state: StateConnected,
		out:   make(chan protocol.ServerMessage, g.cfg.OutboundBuffer),
	}

	g.mu.Lock()
	g.conns[connID] = conn
	g.mu.Unlock()

	conn.mu.Lock()
	conn.authTimer = time.AfterFunc(g.cfg.AuthGracePeriod, func() { g.expireAuth(connID) })
	conn.mu.Unlock()

	metrics.ActiveWebSockets.Inc()
	return conn
}

func (g *TrackingGateway) expireAuth(connID string) {
	conn := g.connection(connID)
	if conn == nil || !conn.expire(protocol.NewError(domain.AuthenticationError("authentication timeout", nil))) {
		return
	}
	g.log.Info("closing unauthenticated connection", "conn_id", connID)
	g.Disconnect(connID)
}

func (g *TrackingGateway) connection(connID string) *Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conns[connID]
}

// Connection returns an open connection by id.
func (g *TrackingGateway) Connection(connID string) (*Connection, bool) {
	c := g.connection(connID)
	return c, c != nil
}

// HandleMessage processes one inbound frame. Rejections are queued to the
// originating connection as ERROR messages and also returned for logging.
func (g *TrackingGateway) HandleMessage(ctx context.Context, connID string, raw []byte) error {
	conn := g.connection(connID)
	if conn == nil {
		return domain.NotFoundError("unknown connection " + connID)
	}

	msg, err := protocol.Decode(raw)
	if err != nil {
		metrics.MalformedMessages.Inc()
		g.reject(conn, err)
		if n := conn.noteMalformed(); n >= g.cfg.MaxMalformed {
			g.log.Warn("too many malformed messages, closing", "conn_id", connID, "count", n)
			g.Disconnect(connID)
		}
		return err
	}

	switch m := msg.(type) {
	case protocol.Auth:
		err = g.handleAuth(ctx, conn, m)
	case protocol.ReportPosition:
		err = g.handleReport(ctx, conn, m)
	case protocol.Subscribe:
		err = g.handleSubscribe(ctx, conn, m)
	case protocol.Unsubscribe:
		err = g.handleUnsubscribe(conn, m)
	default:
		err = domain.ValidationError(fmt.Sprintf("unsupported message type %q", msg.Kind()))
	}
	if err != nil {
		g.reject(conn, err)
	}
	return err
}

func (g *TrackingGateway) reject(conn *Connection, err error) {
	metrics.GatewayErrors.WithLabelValues(string(domain.CodeOf(err))).Inc()
	conn.send(protocol.NewError(err))
}

func (g *TrackingGateway) handleAuth(ctx context.Context, conn *Connection, m protocol.Auth) error {
	if conn.State() != StateConnected {
		return domain.ValidationError("connection already authenticated")
	}

	actx, cancel := context.WithTimeout(ctx, g.cfg.CollaboratorTimeout)
	defer cancel()
	id, err := g.auth.VerifyConnection(actx, m.Token)
	if err != nil {
		if domain.CodeOf(err) != domain.CodeAuthentication {
			err = domain.AuthenticationError("invalid credential", err)
		}
		return err
	}

	if !conn.authenticate(id) {
		return nil
	}
	conn.send(protocol.Ack{Ref: protocol.KindAuth, UserID: id.ID, Role: string(id.Role)})
	return nil
}

// handleReport records a driver report. A report that raced with the
// connection closing is still recorded, but the closed connection does not
// become the driver's reporting connection.
func (g *TrackingGateway) handleReport(ctx context.Context, conn *Connection, m protocol.ReportPosition) error {
	who, ok := conn.principal()
	if !ok {
		return domain.AuthenticationError("authenticate before reporting positions", nil)
	}
	if who.Role != domain.RoleDriver || who.ID != m.DriverID {
		return domain.AuthorizationError("cannot report positions for driver " + m.DriverID)
	}

	_, span := g.tracer.Start(ctx, "tracking.report",
		trace.WithAttributes(attribute.String("driver.id", m.DriverID)))
	defer span.End()

	open := g.claimDriver(conn, m.DriverID)

	out := g.store.Record(m.Position(g.now()))
	span.SetAttributes(attribute.String("record.result", out.Result.String()))

	if !open || conn.State() == StateClosed {
		g.releaseDriver(m.DriverID)
	}

	switch out.Result {
	case RecordRejected:
		span.SetStatus(codes.Error, out.Reason)
		return domain.ValidationError("position rejected: " + out.Reason)
	case RecordChanged:
		g.enqueue(fanoutJob{pos: out.Position, sender: conn.id})
	case RecordUnchanged:
		if g.cache != nil {
			g.enqueue(fanoutJob{pos: out.Position, sender: conn.id, mirrorOnly: true})
		}
	}
	return nil
}

// claimDriver makes conn the reporting connection of driverID. The closed
// check and the mapping happen under the connection lock so Disconnect sees
// either both or neither.
func (g *TrackingGateway) claimDriver(conn *Connection, driverID string) bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.state == StateClosed {
		return false
	}
	if conn.state == StateAuthenticated {
		conn.state = StateActive
	}
	conn.reportedDriver = driverID

	g.mu.Lock()
	g.drivers[driverID] = conn.id
	g.mu.Unlock()
	return true
}

// releaseDriver flags the driver as disconnected unless another connection
// reports for it. Called after recording a report from a closed connection,
// since recording clears the flag.
func (g *TrackingGateway) releaseDriver(driverID string) {
	g.mu.RLock()
	_, taken := g.drivers[driverID]
	g.mu.RUnlock()
	if !taken {
		g.store.MarkDisconnected(driverID)
	}
}

func (g *TrackingGateway) handleSubscribe(ctx context.Context, conn *Connection, m protocol.Subscribe) error {
	who, ok := conn.Identity()
	if !ok {
		return domain.AuthenticationError("authenticate before subscribing", nil)
	}
	topic, err := m.Topic()
	if err != nil {
		return err
	}
	if err := g.Authorize(ctx, who, topic); err != nil {
		return err
	}

	// Holding the connection lock keeps a concurrent Disconnect from
	// running RemoveConnection between the closed check and the insert.
	conn.mu.Lock()
	if conn.state == StateClosed {
		conn.mu.Unlock()
		return nil
	}
	g.registry.Subscribe(conn.id, topic)
	if conn.state == StateAuthenticated {
		conn.state = StateActive
	}
	conn.mu.Unlock()

	conn.send(protocol.Ack{Ref: protocol.KindSubscribe, TopicType: string(topic.Kind), TopicID: topic.ID})
	return nil
}

func (g *TrackingGateway) handleUnsubscribe(conn *Connection, m protocol.Unsubscribe) error {
	if _, ok := conn.Identity(); !ok {
		return domain.AuthenticationError("authenticate before unsubscribing", nil)
	}
	topic, err := m.Topic()
	if err != nil {
		return err
	}
	g.registry.Unsubscribe(conn.id, topic)
	conn.send(protocol.Ack{Ref: protocol.KindUnsubscribe, TopicType: string(topic.Kind), TopicID: topic.ID})
	return nil
}

// Authorize reports whether who may follow topic. A driver topic is open to
// that driver and to operators; a delivery topic to its customer and to
// operators of that delivery. Query surfaces apply the same rules.
func (g *TrackingGateway) Authorize(ctx context.Context, who domain.Identity, topic domain.Topic) error {
	switch topic.Kind {
	case domain.TopicDriver:
		if who.Role == domain.RoleOperator || (who.Role == domain.RoleDriver && who.ID == topic.ID) {
			return nil
		}
		return domain.AuthorizationError("not allowed to follow driver " + topic.ID)

	case domain.TopicDelivery:
		if g.dispatch == nil {
			return domain.AuthorizationError("delivery access cannot be verified")
		}
		actx, cancel := context.WithTimeout(ctx, g.cfg.CollaboratorTimeout)
		defer cancel()

		ok, err := g.dispatch.IsCustomerOf(actx, who, topic.ID)
		if err == nil && !ok {
			ok, err = g.dispatch.IsOperatorFor(actx, who, topic.ID)
		}
		if err != nil {
			g.log.Warn("delivery access check failed", "delivery_id", topic.ID, "error", err)
			return &domain.Error{Code: domain.CodeAuthorization, Message: "delivery access cannot be verified", Err: err}
		}
		if !ok {
			return domain.AuthorizationError("not allowed to follow delivery " + topic.ID)
		}
		return nil
	}
	return domain.ValidationError("unknown topic type " + string(topic.Kind))
}

// Disconnect ends a connection: subscriptions are removed, the outbound
// queue is closed and, if it was the reporting connection of a driver, the
// driver's position is flagged as possibly stale. Safe to call repeatedly.
func (g *TrackingGateway) Disconnect(connID string) {
	g.mu.Lock()
	conn, ok := g.conns[connID]
	delete(g.conns, connID)
	g.mu.Unlock()
	if !ok {
		return
	}

	driverID := conn.close()
	g.registry.RemoveConnection(connID)
	metrics.ActiveWebSockets.Dec()

	if driverID == "" {
		return
	}
	g.mu.Lock()
	current := g.drivers[driverID] == connID
	if current {
		delete(g.drivers, driverID)
	}
	g.mu.Unlock()
	if current {
		g.store.MarkDisconnected(driverID)
	}
}

// Connections returns the number of open connections.
func (g *TrackingGateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Shutdown closes every open connection.
func (g *TrackingGateway) Shutdown() {
	g.mu.RLock()
	ids := make([]string, 0, len(g.conns))
	for id := range g.conns {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	for _, id := range ids {
		g.Disconnect(id)
	}
}

func (g *TrackingGateway) enqueue(job fanoutJob) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(job.pos.DriverID))
	sh := g.shards[h.Sum32()%uint32(len(g.shards))]

	if !sh.put(job) {
		metrics.FanoutCollapsed.Inc()
		g.log.Debug("fan-out queue full, collapsed into newer update", "driver_id", job.pos.DriverID)
	}
}

func (g *TrackingGateway) fanout(ctx context.Context, job fanoutJob) {
	if job.mirrorOnly {
		g.mirror(ctx, job.pos)
		return
	}

	ctx, span := g.tracer.Start(ctx, "tracking.fanout",
		trace.WithAttributes(attribute.String("driver.id", job.pos.DriverID)))
	defer span.End()

	topics := g.resolveTopics(ctx, job.pos.DriverID)
	msg := protocol.NewPositionUpdate(job.pos)

	seen := map[string]struct{}{job.sender: {}}
	pushed := 0
	for _, t := range topics {
		for _, id := range g.registry.SubscribersOf(t) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if g.push(id, msg) {
				pushed++
			}
		}
	}
	span.SetAttributes(attribute.Int("fanout.pushed", pushed))

	g.forward(ctx, job.pos)
}

// resolveTopics returns the driver topic plus every delivery the dispatch
// service currently assigns to the driver.
func (g *TrackingGateway) resolveTopics(ctx context.Context, driverID string) []domain.Topic {
	topics := []domain.Topic{domain.DriverTopic(driverID)}
	if g.dispatch == nil {
		return topics
	}

	actx, cancel := context.WithTimeout(ctx, g.cfg.CollaboratorTimeout)
	defer cancel()

	deliveries, err := g.dispatch.GetActiveDeliveries(actx, driverID)
	if err != nil {
		g.log.Warn("active deliveries lookup failed", "driver_id", driverID, "error", err)
		return topics
	}
	for _, d := range deliveries {
		assigned, ok, err := g.dispatch.GetAssignedDriver(actx, d)
		if err != nil {
			g.log.Warn("assigned driver lookup failed", "delivery_id", d, "error", err)
			continue
		}
		if ok && assigned == driverID {
			topics = append(topics, domain.DeliveryTopic(d))
		}
	}
	return topics
}

// push never blocks: a full subscriber queue holds the update back for the
// next retry cycle, so a slow subscriber never stalls the others.
func (g *TrackingGateway) push(connID string, msg protocol.PositionUpdate) bool {
	conn := g.connection(connID)
	if conn == nil {
		return false // disconnected since the snapshot
	}
	queued, open := conn.deliver(msg)
	if !queued {
		if open {
			metrics.PushFailures.Inc()
			g.log.Warn("push deferred", "error", domain.TransientPushError(connID, fmt.Errorf("outbound queue full")))
		}
		return false
	}
	metrics.PushesDelivered.Inc()
	return true
}

// forward mirrors and publishes a changed position. Both are best-effort.
func (g *TrackingGateway) forward(ctx context.Context, pos domain.DriverPosition) {
	g.mirror(ctx, pos)
	if g.publisher != nil {
		if err := g.publisher.PublishPosition(ctx, &pos); err != nil {
			g.log.Warn("publish position failed", "driver_id", pos.DriverID, "error", err)
		}
	}
}

// mirror writes the position to the shared cache so other replicas can
// answer queries for this driver.
func (g *TrackingGateway) mirror(ctx context.Context, pos domain.DriverPosition) {
	if g.cache == nil {
		return
	}
	data, err := json.Marshal(pos)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, PositionCacheKey(pos.DriverID), data, int(g.cfg.MirrorTTL.Seconds())); err != nil {
		g.log.Warn("mirror position failed", "driver_id", pos.DriverID, "error", err)
	}
}
