package model

import "time"

// PeerStatus defines the liveness status of a monitored peer
type PeerStatus string

const (
	PeerStatusOnline   PeerStatus = "online"
	PeerStatusDegraded PeerStatus = "degraded"
	PeerStatusOffline  PeerStatus = "offline"
)

// HeartbeatRecord tracks the last observed heartbeat for a single peer.
// Created on the first heartbeat, mutated on every subsequent heartbeat or
// sweep, removed only by an explicit forget.
type HeartbeatRecord struct {
	PeerID     string
	LastSeenAt time.Time
	Status     PeerStatus
}

// StatusEventType identifies a liveness transition
type StatusEventType string

const (
	StatusEventDegraded  StatusEventType = "degraded"
	StatusEventLost      StatusEventType = "lost"
	StatusEventRecovered StatusEventType = "recovered"
)

// StatusEvent is emitted by the heartbeat monitor on every liveness
// transition and consumed by external status publishers.
type StatusEvent struct {
	Type       StatusEventType
	PeerID     string
	LastSeenAt time.Time
	OccurredAt time.Time
}
