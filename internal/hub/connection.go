package hub

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/model"
)

// Sink receives fanned-out messages for a single connection. Deliver is
// called from the connection's writer goroutine only, one message at a time,
// in sequence order. A Deliver error marks the transport as lost and closes
// the connection.
type Sink interface {
	Deliver(msg *model.Message) error
}

// connection is the hub-owned state for one client connection. The mutex
// serializes receive and disconnect for this connection; operations across
// different connections run fully in parallel.
type connection struct {
	id            string
	tenantID      string
	principal     model.Principal
	establishedAt time.Time

	mu    sync.Mutex
	state model.ConnectionState

	outbound   chan *model.Message
	done       chan struct{}
	writerDone chan struct{}
	sink       Sink
}

// enqueue hands a message to the connection's writer. Non-blocking: a member
// whose outbound queue is full is treated as slow and this delivery is
// dropped (at-most-once delivery permits that). Returns false on drop or
// when the connection is already closing.
func (c *connection) enqueue(msg *model.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.outbound <- msg:
		return true
	default:
		return false
	}
}

// writeLoop drains the outbound queue into the sink. Runs until the
// connection is closed; a transport write failure triggers the same cleanup
// as an explicit disconnect. writerDone closes when the loop exits, so
// Disconnect can wait until no Deliver call is in flight.
func (c *connection) writeLoop(h *Hub) {
	defer close(c.writerDone)
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.outbound:
			if err := c.sink.Deliver(msg); err != nil {
				h.logger.Debug("Delivery failed, closing connection",
					zap.String("connection_id", c.id),
					zap.String("tenant_id", c.tenantID),
					zap.Error(err))
				go h.Disconnect(c.id)
				return
			}
			h.metrics.RecordDelivery(c.tenantID)
		}
	}
}

// snapshot returns the connection's public view
func (c *connection) snapshot() *model.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()

	return &model.Connection{
		ConnectionID:  c.id,
		TenantID:      c.tenantID,
		PrincipalID:   c.principal.PrincipalID,
		State:         c.state,
		EstablishedAt: c.establishedAt,
	}
}
