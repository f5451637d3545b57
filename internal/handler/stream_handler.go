package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/authz"
	relayerrors "github.com/hivemesh/relay/internal/errors"
	"github.com/hivemesh/relay/internal/hub"
	"github.com/hivemesh/relay/internal/model"
	"github.com/hivemesh/relay/internal/store"
)

// maxPublishBytes bounds a single inbound envelope
const maxPublishBytes = 1 << 20

// StreamHandler serves stream admission, publishing, and history replay
type StreamHandler struct {
	hub    *hub.Hub
	engine *authz.Engine
	log    store.MessageLog
	logger *zap.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(h *hub.Hub, engine *authz.Engine, log store.MessageLog, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		hub:    h,
		engine: engine,
		log:    log,
		logger: logger,
	}
}

// MessageView is the externally visible form of a persisted message
type MessageView struct {
	TenantID       string `json:"tenant_id"`
	SenderID       string `json:"sender_id"`
	Payload        []byte `json:"payload"`
	SequenceNumber uint64 `json:"sequence_number"`
	ReceivedAt     string `json:"received_at"`
}

func toMessageView(msg *model.Message) MessageView {
	return MessageView{
		TenantID:       msg.TenantID,
		SenderID:       msg.SenderID,
		Payload:        msg.Payload,
		SequenceNumber: msg.SequenceNumber,
		ReceivedAt:     msg.ReceivedAt.Format(time.RFC3339Nano),
	}
}

// sseSink delivers messages to one client over a server-sent event stream.
// Writes are serialized so the admission event and the write loop never
// interleave on the wire.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	done    <-chan struct{}
}

func (s *sseSink) Deliver(msg *model.Message) error {
	select {
	case <-s.done:
		return fmt.Errorf("stream closed")
	default:
	}

	body, err := json.Marshal(toMessageView(msg))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check under the lock: the request may have gone away while this
	// delivery waited its turn.
	select {
	case <-s.done:
		return fmt.Errorf("stream closed")
	default:
	}
	if _, err := fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", body); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) writeEvent(event string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func principalFromHeaders(r *http.Request) model.Principal {
	return model.Principal{
		PrincipalID: r.Header.Get("X-Principal-ID"),
		TenantID:    r.Header.Get("X-Principal-Tenant"),
		Role:        model.Role(r.Header.Get("X-Principal-Role")),
	}
}

// Stream handles GET /v1/tenants/{tenant_id}/stream. The connection is
// admitted into the tenant's fan-out group and held open until the client
// goes away; request cancellation counts as an abrupt drop.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]
	principal := principalFromHeaders(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, h.logger, relayerrors.InternalError("streaming unsupported", nil))
		return
	}

	sink := &sseSink{
		w:       w,
		flusher: flusher,
		done:    r.Context().Done(),
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	conn, err := h.hub.Connect(r.Context(), tenantID, principal, sink)
	if err != nil {
		// Headers are not yet flushed, so a normal error response still works
		writeError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if err := sink.writeEvent("connected", map[string]string{
		"connection_id": conn.ConnectionID,
		"tenant_id":     conn.TenantID,
	}); err != nil {
		h.hub.Disconnect(conn.ConnectionID)
		return
	}

	h.logger.Info("stream opened",
		zap.String("connection_id", conn.ConnectionID),
		zap.String("tenant_id", tenantID),
		zap.String("principal_id", principal.PrincipalID))

	<-r.Context().Done()

	h.hub.Disconnect(conn.ConnectionID)
	h.logger.Info("stream closed",
		zap.String("connection_id", conn.ConnectionID),
		zap.String("tenant_id", tenantID))
}

// Publish handles POST /v1/tenants/{tenant_id}/messages. The body is the
// raw message envelope; the sending connection is named by X-Connection-ID.
func (h *StreamHandler) Publish(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]
	connectionID := r.Header.Get("X-Connection-ID")

	if connectionID == "" {
		writeError(w, r, h.logger, relayerrors.InvalidArgument("X-Connection-ID header is required", nil))
		return
	}

	conn, err := h.hub.Connection(connectionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if conn.TenantID != tenantID {
		writeError(w, r, h.logger, relayerrors.InvalidTenant(tenantID, "connection belongs to a different tenant"))
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPublishBytes))
	if err != nil {
		writeError(w, r, h.logger, relayerrors.InvalidArgument("failed to read request body", err))
		return
	}

	msg, err := h.hub.Receive(r.Context(), connectionID, raw)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "persisted",
		"message": toMessageView(msg),
	})
}

// History handles GET /v1/tenants/{tenant_id}/messages?since=N
func (h *StreamHandler) History(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]
	principal := principalFromHeaders(r)

	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, h.logger, relayerrors.InvalidArgument("since must be a non-negative integer", err))
			return
		}
		since = parsed
	}

	decision := h.engine.Check(r.Context(), &principal, model.PermissionReadHistory, tenantID)
	if !decision.Allowed {
		if decision.Reason == authz.ReasonUnauthenticated {
			writeError(w, r, h.logger, relayerrors.Unauthenticated("principal identity is required"))
			return
		}
		writeError(w, r, h.logger, relayerrors.Forbidden(principal.PrincipalID, string(model.PermissionReadHistory), tenantID))
		return
	}

	messages, err := h.log.ReadSince(r.Context(), tenantID, since)
	if err != nil {
		writeError(w, r, h.logger, relayerrors.StorageUnavailable("failed to read message history", err))
		return
	}

	views := make([]MessageView, 0, len(messages))
	for _, msg := range messages {
		views = append(views, toMessageView(msg))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id": tenantID,
		"since":     since,
		"messages":  views,
	})
}

// Disconnect handles DELETE /v1/connections/{connection_id}
func (h *StreamHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	connectionID := mux.Vars(r)["connection_id"]

	if err := h.hub.Disconnect(connectionID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
