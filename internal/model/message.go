package model

import "time"

// Message represents a single message persisted within a tenant's
// isolation boundary. Immutable once the sequence number is assigned.
type Message struct {
	TenantID       string
	SenderID       string
	Payload        []byte
	SequenceNumber uint64 // Monotonically increasing per tenant, assigned at persistence time
	ReceivedAt     time.Time
}

// Tenant represents a tenant boundary. Tenants are created implicitly on
// first reference; the router never deletes them.
type Tenant struct {
	TenantID  string
	CreatedAt time.Time
}
