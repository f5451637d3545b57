package model

import "time"

// ConnectionState defines the lifecycle state of a client connection
type ConnectionState string

const (
	ConnectionStateConnecting ConnectionState = "connecting"
	ConnectionStateActive     ConnectionState = "active"
	ConnectionStateClosing    ConnectionState = "closing"
	ConnectionStateClosed     ConnectionState = "closed"
)

// Connection represents an ephemeral client connection. A connection belongs
// to exactly one tenant's fan-out group for its whole lifetime, and its
// identifier is never reused after it reaches the closed state.
type Connection struct {
	ConnectionID  string
	TenantID      string
	PrincipalID   string
	State         ConnectionState
	EstablishedAt time.Time
}
