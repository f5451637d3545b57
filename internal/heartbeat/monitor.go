// Package heartbeat tracks peer liveness from pushed heartbeats and a
// periodic sweep.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	relayerrors "github.com/hivemesh/relay/internal/errors"
	"github.com/hivemesh/relay/internal/model"
	"github.com/hivemesh/relay/internal/util/workerpool"
)

// Config holds liveness thresholds. Numeric values are policy; the only
// structural requirement is OfflineThreshold > DegradedThreshold > 0.
type Config struct {
	DegradedThreshold time.Duration
	OfflineThreshold  time.Duration
	SweepInterval     time.Duration
}

// Validate validates the monitor configuration
func (c *Config) Validate() error {
	if c.DegradedThreshold <= 0 {
		return relayerrors.InvalidArgument("degraded threshold must be positive", nil)
	}
	if c.OfflineThreshold <= c.DegradedThreshold {
		return relayerrors.InvalidArgument("offline threshold must be greater than degraded threshold", nil)
	}
	return nil
}

// DefaultConfig returns default monitor thresholds
func DefaultConfig() *Config {
	return &Config{
		DegradedThreshold: 30 * time.Second,
		OfflineThreshold:  90 * time.Second,
		SweepInterval:     15 * time.Second,
	}
}

// Subscriber consumes liveness transition events
type Subscriber func(model.StatusEvent)

// peerRecord is independently synchronized so the push path never waits on
// a sweep pass over the whole table.
type peerRecord struct {
	mu         sync.Mutex
	lastSeenAt time.Time
	status     model.PeerStatus
}

// Monitor drives the per-peer liveness state machine
type Monitor struct {
	cfg         *Config
	peers       sync.Map // peerID -> *peerRecord
	subsMu      sync.RWMutex
	subscribers []Subscriber
	dispatch    *workerpool.Pool
	logger      *zap.Logger
}

// NewMonitor creates a new heartbeat monitor
func NewMonitor(cfg *Config, logger *zap.Logger) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.DegradedThreshold / 2
	}

	return &Monitor{
		cfg: cfg,
		dispatch: workerpool.New(&workerpool.Config{
			Name:       "status-events",
			MaxWorkers: 2,
			QueueSize:  1024,
			Logger:     logger,
		}),
		logger: logger,
	}, nil
}

// Subscribe registers a consumer of status transition events. Events are
// dispatched off the sweep path; a slow subscriber cannot stall the monitor.
func (m *Monitor) Subscribe(sub Subscriber) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subscribers = append(m.subscribers, sub)
}

// RecordHeartbeat registers a liveness signal from a peer. The stored
// timestamp is monotonic per peer: an out-of-order heartbeat is reported as
// StaleHeartbeat and leaves the record untouched. A heartbeat from a
// degraded or offline peer transitions it back to online.
func (m *Monitor) RecordHeartbeat(peerID string, timestamp time.Time) error {
	if peerID == "" {
		return relayerrors.InvalidArgument("peer ID is empty", nil)
	}

	actual, loaded := m.peers.LoadOrStore(peerID, &peerRecord{
		lastSeenAt: timestamp,
		status:     model.PeerStatusOnline,
	})
	if !loaded {
		m.logger.Debug("Peer registered",
			zap.String("peer_id", peerID),
			zap.Time("last_seen_at", timestamp))
		return nil
	}

	rec := actual.(*peerRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if timestamp.Before(rec.lastSeenAt) {
		return relayerrors.StaleHeartbeat(peerID)
	}

	rec.lastSeenAt = timestamp
	if rec.status != model.PeerStatusOnline {
		rec.status = model.PeerStatusOnline
		m.emit(model.StatusEvent{
			Type:       model.StatusEventRecovered,
			PeerID:     peerID,
			LastSeenAt: timestamp,
			OccurredAt: time.Now(),
		})
	}

	return nil
}

// Sweep evaluates every record against the thresholds as of now. Each peer
// moves at most one step per sweep, so a long-silent peer still produces an
// observable degraded transition before it is reported lost. Sweep never
// fails the caller.
func (m *Monitor) Sweep(now time.Time) {
	m.peers.Range(func(key, value interface{}) bool {
		peerID := key.(string)
		rec := value.(*peerRecord)

		rec.mu.Lock()
		silence := now.Sub(rec.lastSeenAt)

		var event *model.StatusEvent
		switch {
		case rec.status == model.PeerStatusOnline && silence > m.cfg.DegradedThreshold:
			rec.status = model.PeerStatusDegraded
			event = &model.StatusEvent{
				Type:       model.StatusEventDegraded,
				PeerID:     peerID,
				LastSeenAt: rec.lastSeenAt,
				OccurredAt: now,
			}
		case rec.status == model.PeerStatusDegraded && silence > m.cfg.OfflineThreshold:
			rec.status = model.PeerStatusOffline
			event = &model.StatusEvent{
				Type:       model.StatusEventLost,
				PeerID:     peerID,
				LastSeenAt: rec.lastSeenAt,
				OccurredAt: now,
			}
		}
		rec.mu.Unlock()

		if event != nil {
			m.logger.Info("Peer status transition",
				zap.String("peer_id", peerID),
				zap.String("event", string(event.Type)),
				zap.Duration("silence", silence))
			m.emit(*event)
		}
		return true
	})
}

// Forget deregisters a peer. Used for deliberate decommissioning, not as a
// failure path.
func (m *Monitor) Forget(peerID string) {
	m.peers.Delete(peerID)
	m.logger.Info("Peer forgotten", zap.String("peer_id", peerID))
}

// Record returns a snapshot of a single peer's record
func (m *Monitor) Record(peerID string) (*model.HeartbeatRecord, bool) {
	value, ok := m.peers.Load(peerID)
	if !ok {
		return nil, false
	}

	rec := value.(*peerRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return &model.HeartbeatRecord{
		PeerID:     peerID,
		LastSeenAt: rec.lastSeenAt,
		Status:     rec.status,
	}, true
}

// Records returns a snapshot of all peer records
func (m *Monitor) Records() []*model.HeartbeatRecord {
	var records []*model.HeartbeatRecord
	m.peers.Range(func(key, value interface{}) bool {
		rec := value.(*peerRecord)
		rec.mu.Lock()
		records = append(records, &model.HeartbeatRecord{
			PeerID:     key.(string),
			LastSeenAt: rec.lastSeenAt,
			Status:     rec.status,
		})
		rec.mu.Unlock()
		return true
	})
	return records
}

// Run sweeps on a fixed interval until the context is canceled
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	m.logger.Info("Heartbeat monitor started",
		zap.Duration("degraded_threshold", m.cfg.DegradedThreshold),
		zap.Duration("offline_threshold", m.cfg.OfflineThreshold),
		zap.Duration("sweep_interval", m.cfg.SweepInterval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Stop drains the event dispatch pool
func (m *Monitor) Stop(timeout time.Duration) error {
	return m.dispatch.Stop(timeout)
}

func (m *Monitor) emit(event model.StatusEvent) {
	m.subsMu.RLock()
	subs := make([]Subscriber, len(m.subscribers))
	copy(subs, m.subscribers)
	m.subsMu.RUnlock()

	for _, sub := range subs {
		sub := sub
		ok := m.dispatch.TrySubmit(workerpool.Task{
			ID: string(event.Type) + ":" + event.PeerID,
			Fn: func(context.Context) error {
				sub(event)
				return nil
			},
		})
		if !ok {
			m.logger.Warn("Status event dropped, dispatch queue full",
				zap.String("peer_id", event.PeerID),
				zap.String("event", string(event.Type)))
		}
	}
}
