// Package hub owns the connection lifecycle and drives the
// connect -> receive -> disconnect protocol.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/authz"
	"github.com/hivemesh/relay/internal/codec"
	relayerrors "github.com/hivemesh/relay/internal/errors"
	"github.com/hivemesh/relay/internal/metrics"
	"github.com/hivemesh/relay/internal/model"
	"github.com/hivemesh/relay/internal/registry"
	"github.com/hivemesh/relay/internal/store"
)

// Config holds hub configuration
type Config struct {
	// Echo controls whether a sender receives its own broadcast.
	// Default is no self-echo.
	Echo bool
	// ConnectTimeout bounds tenant and principal resolution during connect.
	ConnectTimeout time.Duration
	// OutboundBuffer is the per-connection delivery queue size.
	OutboundBuffer int
}

// DefaultConfig returns default hub settings
func DefaultConfig() *Config {
	return &Config{
		Echo:           false,
		ConnectTimeout: 5 * time.Second,
		OutboundBuffer: 64,
	}
}

// TenantResolver confirms a tenant with the external provisioning
// collaborator. A nil resolver admits any non-empty tenant, matching the
// implicit-creation model.
type TenantResolver interface {
	ResolveTenant(ctx context.Context, tenantID string) error
}

// Hub orchestrates the tenant registry, the authorization engine, and the
// message log for every client connection it owns.
type Hub struct {
	cfg      *Config
	registry *registry.TenantRegistry
	engine   *authz.Engine
	log      store.MessageLog
	resolver TenantResolver
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.RWMutex
	conns  map[string]*connection
	closed map[string]struct{} // identifiers of closed connections, never reused

	tenantLocks sync.Map // tenantID -> *sync.Mutex, serializes append + fan-out per tenant
}

// NewHub creates a new connection hub
func NewHub(
	cfg *Config,
	reg *registry.TenantRegistry,
	engine *authz.Engine,
	log store.MessageLog,
	resolver TenantResolver,
	logger *zap.Logger,
) *Hub {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Hub{
		cfg:      cfg,
		registry: reg,
		engine:   engine,
		log:      log,
		resolver: resolver,
		metrics:  metrics.NewMetrics(),
		logger:   logger,
		conns:    make(map[string]*connection),
		closed:   make(map[string]struct{}),
	}
}

// Connect admits a new connection into its tenant's fan-out group. The
// connection reaches the active state only after tenant resolution and
// registry join both succeed within the connect timeout; any failure leaves
// it closed, never half-open.
func (h *Hub) Connect(ctx context.Context, tenantID string, principal model.Principal, sink Sink) (*model.Connection, error) {
	if tenantID == "" {
		h.metrics.RecordConnection("invalid_tenant")
		return nil, relayerrors.InvalidTenant(tenantID, "tenant ID is empty")
	}
	if principal.PrincipalID == "" {
		h.metrics.RecordConnection("unauthenticated")
		return nil, relayerrors.Unauthenticated("missing principal")
	}
	if principal.TenantID != tenantID {
		h.metrics.RecordConnection("unauthenticated")
		return nil, relayerrors.Unauthenticated("principal is not scoped to the requested tenant")
	}

	conn := &connection{
		id:            uuid.New().String(),
		tenantID:      tenantID,
		principal:     principal,
		establishedAt: time.Now(),
		state:         model.ConnectionStateConnecting,
		outbound:      make(chan *model.Message, h.cfg.OutboundBuffer),
		done:          make(chan struct{}),
		writerDone:    make(chan struct{}),
		sink:          sink,
	}

	resolveCtx, cancel := context.WithTimeout(ctx, h.cfg.ConnectTimeout)
	defer cancel()

	if h.resolver != nil {
		if err := h.resolver.ResolveTenant(resolveCtx, tenantID); err != nil {
			conn.state = model.ConnectionStateClosed
			h.metrics.RecordConnection("invalid_tenant")
			if resolveCtx.Err() != nil {
				return nil, relayerrors.ConnectTimeout(tenantID)
			}
			return nil, relayerrors.InvalidTenant(tenantID, "tenant resolution failed")
		}
	}

	if decision := h.engine.Check(resolveCtx, &principal, model.PermissionSubscribe, tenantID); !decision.Allowed {
		conn.state = model.ConnectionStateClosed
		h.metrics.RecordConnection("forbidden")
		return nil, relayerrors.Forbidden(principal.PrincipalID, string(model.PermissionSubscribe), tenantID)
	}

	conn.state = model.ConnectionStateActive

	h.mu.Lock()
	h.conns[conn.id] = conn
	h.mu.Unlock()

	go conn.writeLoop(h)

	// A member listed by the registry must already be deliverable, so the
	// join comes after the conn map insert and the writer start.
	if err := h.registry.Join(tenantID, conn.id); err != nil {
		h.mu.Lock()
		delete(h.conns, conn.id)
		h.closed[conn.id] = struct{}{}
		h.mu.Unlock()
		close(conn.done)
		<-conn.writerDone
		conn.mu.Lock()
		conn.state = model.ConnectionStateClosed
		conn.mu.Unlock()
		h.metrics.RecordConnection("join_failed")
		return nil, err
	}

	h.metrics.RecordConnection("accepted")
	h.metrics.ConnectionsActive.Inc()
	h.logger.Info("Connection established",
		zap.String("connection_id", conn.id),
		zap.String("tenant_id", tenantID),
		zap.String("principal_id", principal.PrincipalID))

	return conn.snapshot(), nil
}

// Receive handles one inbound raw frame from a connection: decode, authorize
// the publish, persist, and fan out to the tenant's current members. All
// failures here are per-message and recoverable; the connection stays active.
// Returns the persisted message so the caller can acknowledge the assigned
// sequence number to the sender.
func (h *Hub) Receive(ctx context.Context, connectionID string, raw []byte) (*model.Message, error) {
	conn, err := h.lookup(connectionID)
	if err != nil {
		return nil, err
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.state != model.ConnectionStateActive {
		return nil, relayerrors.ConnectionClosed(connectionID)
	}

	env, err := codec.Decode(raw)
	if err != nil {
		h.metrics.RecordRejection(conn.tenantID, "malformed")
		return nil, err
	}

	decision := h.engine.Check(ctx, &conn.principal, model.PermissionPublish, conn.tenantID)
	h.metrics.RecordDecision(string(model.PermissionPublish), string(decision.Reason))
	if !decision.Allowed {
		h.metrics.RecordRejection(conn.tenantID, "forbidden")
		return nil, relayerrors.Forbidden(conn.principal.PrincipalID, string(model.PermissionPublish), conn.tenantID)
	}

	// Sequence assignment and fan-out happen under the tenant's ordering
	// lock: members observe messages in exactly the order their sequence
	// numbers were assigned. The lock is per tenant, so tenants do not
	// contend with each other.
	lock := h.tenantLock(conn.tenantID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	msg, err := h.log.Append(ctx, conn.tenantID, conn.principal.PrincipalID, env.Body)
	if err != nil {
		h.metrics.RecordRejection(conn.tenantID, "storage_unavailable")
		return nil, relayerrors.StorageUnavailable("failed to persist message", err)
	}

	h.fanOut(conn, msg)
	h.metrics.RecordPublish(conn.tenantID, time.Since(start).Seconds())

	return msg, nil
}

// fanOut enqueues the persisted message to every current member of the
// tenant's group, excluding the sender unless echo is enabled. Called with
// the tenant's ordering lock held.
func (h *Hub) fanOut(sender *connection, msg *model.Message) {
	members := h.registry.MembersOf(sender.tenantID)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, memberID := range members {
		if memberID == sender.id && !h.cfg.Echo {
			continue
		}
		member, ok := h.conns[memberID]
		if !ok {
			continue
		}
		if !member.enqueue(msg) {
			h.metrics.RecordDroppedDelivery(sender.tenantID)
			h.logger.Warn("Delivery dropped, member queue full",
				zap.String("connection_id", memberID),
				zap.String("tenant_id", sender.tenantID),
				zap.Uint64("sequence_number", msg.SequenceNumber))
		}
	}
}

// Disconnect closes a connection, removes it from its tenant's group, and
// releases its resources. Idempotent; the identifier is never reused. An
// abrupt transport drop and a deliberate disconnect both land here.
func (h *Hub) Disconnect(connectionID string) error {
	h.mu.Lock()
	conn, ok := h.conns[connectionID]
	if !ok {
		_, wasClosed := h.closed[connectionID]
		h.mu.Unlock()
		if wasClosed {
			return nil
		}
		return relayerrors.NotFound("connection", connectionID)
	}
	delete(h.conns, connectionID)
	h.closed[connectionID] = struct{}{}
	h.mu.Unlock()

	conn.mu.Lock()
	conn.state = model.ConnectionStateClosing
	h.registry.Leave(connectionID)
	close(conn.done)
	conn.state = model.ConnectionStateClosed
	conn.mu.Unlock()

	// Do not return until the writer has exited: once Disconnect comes back
	// no Deliver call may still be touching the sink.
	<-conn.writerDone

	h.metrics.ConnectionsActive.Dec()
	h.logger.Info("Connection closed",
		zap.String("connection_id", connectionID),
		zap.String("tenant_id", conn.tenantID))

	return nil
}

// Connection returns a snapshot of a live connection
func (h *Hub) Connection(connectionID string) (*model.Connection, error) {
	conn, err := h.lookup(connectionID)
	if err != nil {
		return nil, err
	}
	return conn.snapshot(), nil
}

// Shutdown disconnects every live connection
func (h *Hub) Shutdown() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		if err := h.Disconnect(id); err != nil {
			h.logger.Warn("Failed to disconnect during shutdown",
				zap.String("connection_id", id),
				zap.Error(err))
		}
	}
}

func (h *Hub) lookup(connectionID string) (*connection, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conn, ok := h.conns[connectionID]
	if !ok {
		if _, wasClosed := h.closed[connectionID]; wasClosed {
			return nil, relayerrors.ConnectionClosed(connectionID)
		}
		return nil, relayerrors.NotFound("connection", connectionID)
	}
	return conn, nil
}

func (h *Hub) tenantLock(tenantID string) *sync.Mutex {
	actual, _ := h.tenantLocks.LoadOrStore(tenantID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}
