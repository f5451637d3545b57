package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/model"
)

// PostgresMessageLog implements MessageLog backed by PostgreSQL
type PostgresMessageLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresPool creates a connection pool shared by the Postgres-backed
// stores
func NewPostgresPool(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// NewPostgresMessageLog creates a new PostgreSQL message log
func NewPostgresMessageLog(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresMessageLog, error) {
	pool, err := NewPostgresPool(host, port, database, user, password, maxConns, minConns)
	if err != nil {
		return nil, err
	}

	return &PostgresMessageLog{
		pool:   pool,
		logger: logger,
	}, nil
}

// Append persists a message and assigns the next per-tenant sequence number.
// A transaction-scoped advisory lock on the tenant serializes concurrent
// appends for the same tenant while leaving other tenants uncontended.
func (l *PostgresMessageLog) Append(ctx context.Context, tenantID, senderID string, payload []byte) (*model.Message, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenantID); err != nil {
		return nil, fmt.Errorf("failed to acquire tenant lock: %w", err)
	}

	query := `
		INSERT INTO messages (tenant_id, sequence_number, sender_id, payload, received_at)
		SELECT $1, COALESCE(MAX(sequence_number), 0) + 1, $2, $3, NOW()
		FROM messages WHERE tenant_id = $1
		RETURNING sequence_number, received_at
	`

	var msg model.Message
	msg.TenantID = tenantID
	msg.SenderID = senderID
	msg.Payload = payload

	err = tx.QueryRow(ctx, query, tenantID, senderID, payload).Scan(
		&msg.SequenceNumber,
		&msg.ReceivedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit append: %w", err)
	}

	return &msg, nil
}

// ReadSince returns messages with sequence numbers greater than sinceSeq,
// ordered by sequence number
func (l *PostgresMessageLog) ReadSince(ctx context.Context, tenantID string, sinceSeq uint64) ([]*model.Message, error) {
	query := `
		SELECT tenant_id, sequence_number, sender_id, payload, received_at
		FROM messages
		WHERE tenant_id = $1 AND sequence_number > $2
		ORDER BY sequence_number
	`

	rows, err := l.pool.Query(ctx, query, tenantID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(
			&msg.TenantID,
			&msg.SequenceNumber,
			&msg.SenderID,
			&msg.Payload,
			&msg.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

// Ping checks the database connection
func (l *PostgresMessageLog) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Close closes the connection pool
func (l *PostgresMessageLog) Close() {
	l.pool.Close()
}

// GetPool returns the underlying connection pool for shared use
func (l *PostgresMessageLog) GetPool() *pgxpool.Pool {
	return l.pool
}
