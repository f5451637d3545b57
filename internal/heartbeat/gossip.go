package heartbeat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// GossipConfig holds gossip feed configuration
type GossipConfig struct {
	Enabled        bool
	NodeID         string
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// GossipSource feeds cluster membership signals into the heartbeat monitor.
// Every join, update, and alive message from a peer node counts as a
// heartbeat; a deliberate leave deregisters the peer.
type GossipSource struct {
	config     *GossipConfig
	memberlist *memberlist.Memberlist
	monitor    *Monitor
	logger     *zap.Logger
}

type gossipMeta struct {
	NodeID    string `json:"node_id"`
	Timestamp int64  `json:"timestamp"`
}

// NewGossipSource creates a gossip source and joins the cluster
func NewGossipSource(cfg *GossipConfig, monitor *Monitor, logger *zap.Logger) (*GossipSource, error) {
	gs := &GossipSource{
		config:  cfg,
		monitor: monitor,
		logger:  logger,
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindPort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = gs
	mlConfig.Events = &gossipEventDelegate{source: gs}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	gs.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}

	return gs, nil
}

// NodeMeta implements memberlist.Delegate
func (s *GossipSource) NodeMeta(limit int) []byte {
	data, _ := json.Marshal(gossipMeta{
		NodeID:    s.config.NodeID,
		Timestamp: time.Now().Unix(),
	})
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipSource) NotifyMsg(data []byte) {
	var meta gossipMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		s.logger.Warn("Failed to unmarshal gossip message", zap.Error(err))
		return
	}
	s.heartbeatFrom(meta.NodeID)
}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipSource) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *GossipSource) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipSource) MergeRemoteState(buf []byte, join bool) {}

// Shutdown leaves the cluster and shuts down the transport
func (s *GossipSource) Shutdown() error {
	return s.memberlist.Shutdown()
}

func (s *GossipSource) heartbeatFrom(peerID string) {
	if peerID == "" || peerID == s.config.NodeID {
		return
	}
	if err := s.monitor.RecordHeartbeat(peerID, time.Now()); err != nil {
		// Stale gossip signals are expected under reordering; nothing to do.
		s.logger.Debug("Gossip heartbeat rejected",
			zap.String("peer_id", peerID),
			zap.Error(err))
	}
}

// gossipEventDelegate handles memberlist membership events
type gossipEventDelegate struct {
	source *GossipSource
}

// NotifyJoin is called when a node joins the cluster
func (d *gossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.source.logger.Info("Node joined",
		zap.String("peer_id", node.Name),
		zap.String("addr", node.Addr.String()))
	d.source.heartbeatFrom(node.Name)
}

// NotifyLeave is called when a node deliberately leaves
func (d *gossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.source.logger.Info("Node left", zap.String("peer_id", node.Name))
	if node.Name != d.source.config.NodeID {
		d.source.monitor.Forget(node.Name)
	}
}

// NotifyUpdate is called when a node's metadata changes
func (d *gossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.source.heartbeatFrom(node.Name)
}
