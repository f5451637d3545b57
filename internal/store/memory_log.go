package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/model"
)

// InMemoryMessageLog implements MessageLog with per-tenant in-memory
// segments. Sequence assignment is serialized per tenant, not globally, so
// tenants do not contend with each other.
type InMemoryMessageLog struct {
	mu      sync.RWMutex
	tenants map[string]*tenantSegment
	logger  *zap.Logger
}

type tenantSegment struct {
	mu       sync.Mutex
	lastSeq  uint64
	messages []*model.Message
}

// NewInMemoryMessageLog creates a new in-memory message log
func NewInMemoryMessageLog(logger *zap.Logger) *InMemoryMessageLog {
	return &InMemoryMessageLog{
		tenants: make(map[string]*tenantSegment),
		logger:  logger,
	}
}

func (l *InMemoryMessageLog) segment(tenantID string) *tenantSegment {
	l.mu.RLock()
	seg, ok := l.tenants[tenantID]
	l.mu.RUnlock()
	if ok {
		return seg
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if seg, ok = l.tenants[tenantID]; ok {
		return seg
	}
	seg = &tenantSegment{}
	l.tenants[tenantID] = seg
	return seg
}

// Append persists a message and assigns the next sequence number for its
// tenant. The number is assigned under the tenant's lock, so it is never
// duplicated and never has a gap visible to readers.
func (l *InMemoryMessageLog) Append(ctx context.Context, tenantID, senderID string, payload []byte) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seg := l.segment(tenantID)

	seg.mu.Lock()
	defer seg.mu.Unlock()

	seg.lastSeq++
	msg := &model.Message{
		TenantID:       tenantID,
		SenderID:       senderID,
		Payload:        payload,
		SequenceNumber: seg.lastSeq,
		ReceivedAt:     time.Now(),
	}
	seg.messages = append(seg.messages, msg)

	return msg, nil
}

// ReadSince returns messages with sequence numbers greater than sinceSeq
func (l *InMemoryMessageLog) ReadSince(ctx context.Context, tenantID string, sinceSeq uint64) ([]*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	seg, ok := l.tenants[tenantID]
	l.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	seg.mu.Lock()
	defer seg.mu.Unlock()

	// Messages are stored in sequence order; sinceSeq indexes directly.
	if sinceSeq >= seg.lastSeq {
		return nil, nil
	}
	tail := seg.messages[sinceSeq:]
	result := make([]*model.Message, len(tail))
	copy(result, tail)
	return result, nil
}

// Ping reports log availability; the in-memory log is always available
func (l *InMemoryMessageLog) Ping(ctx context.Context) error {
	return nil
}

// Close releases resources
func (l *InMemoryMessageLog) Close() {}
