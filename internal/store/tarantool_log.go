package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tarantool/go-tarantool/v2"
	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/model"
)

// TarantoolMessageLog implements MessageLog on top of Tarantool server-side
// functions. Sequence assignment happens inside the append_message function,
// which makes it atomic per tenant without coordination in this process.
type TarantoolMessageLog struct {
	conn   *tarantool.Connection
	logger *zap.Logger
}

// TarantoolConfig holds Tarantool connection configuration
type TarantoolConfig struct {
	Address  string
	User     string
	Password string
	Timeout  time.Duration
}

// NewTarantoolMessageLog creates a new Tarantool message log
func NewTarantoolMessageLog(cfg *TarantoolConfig, logger *zap.Logger) (*TarantoolMessageLog, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	dialer := tarantool.NetDialer{
		Address:  cfg.Address,
		User:     cfg.User,
		Password: cfg.Password,
	}
	opts := tarantool.Opts{
		Timeout: cfg.Timeout,
	}

	conn, err := tarantool.Connect(context.Background(), dialer, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Tarantool: %w", err)
	}

	return &TarantoolMessageLog{
		conn:   conn,
		logger: logger,
	}, nil
}

// Append calls the server-side append_message function and returns the
// message with its assigned sequence number
func (l *TarantoolMessageLog) Append(ctx context.Context, tenantID, senderID string, payload []byte) (*model.Message, error) {
	req := tarantool.NewCall17Request("append_message").
		Args([]interface{}{tenantID, senderID, payload}).
		Context(ctx)

	resp, err := l.conn.Do(req).Get()
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("unexpected append_message response length: %d", len(resp))
	}

	return &model.Message{
		TenantID:       tenantID,
		SenderID:       senderID,
		Payload:        payload,
		SequenceNumber: toUint64(resp[0]),
		ReceivedAt:     time.Unix(int64(toUint64(resp[1])), 0),
	}, nil
}

// ReadSince calls the server-side read_since function
func (l *TarantoolMessageLog) ReadSince(ctx context.Context, tenantID string, sinceSeq uint64) ([]*model.Message, error) {
	req := tarantool.NewCall17Request("read_since").
		Args([]interface{}{tenantID, sinceSeq}).
		Context(ctx)

	resp, err := l.conn.Do(req).Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	var messages []*model.Message
	for _, item := range resp {
		tuple, ok := item.([]interface{})
		if !ok || len(tuple) < 4 {
			return nil, fmt.Errorf("unexpected read_since tuple: %v", item)
		}
		messages = append(messages, &model.Message{
			TenantID:       tenantID,
			SequenceNumber: toUint64(tuple[0]),
			SenderID:       toString(tuple[1]),
			Payload:        toBytes(tuple[2]),
			ReceivedAt:     time.Unix(int64(toUint64(tuple[3])), 0),
		})
	}

	return messages, nil
}

// Ping checks the Tarantool connection
func (l *TarantoolMessageLog) Ping(ctx context.Context) error {
	req := tarantool.NewPingRequest().Context(ctx)
	_, err := l.conn.Do(req).Get()
	return err
}

// Close closes the Tarantool connection
func (l *TarantoolMessageLog) Close() {
	if err := l.conn.Close(); err != nil {
		l.logger.Warn("Failed to close Tarantool connection", zap.Error(err))
	}
}

// Helper functions for Tarantool type conversion

func toUint64(val interface{}) uint64 {
	switch v := val.(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	case uint32:
		return uint64(v)
	case int32:
		return uint64(v)
	case int:
		return uint64(v)
	case uint:
		return uint64(v)
	case float64:
		return uint64(v)
	default:
		return 0
	}
}

func toString(val interface{}) string {
	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func toBytes(val interface{}) []byte {
	switch v := val.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}
