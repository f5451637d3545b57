package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	relayerrors "github.com/hivemesh/relay/internal/errors"
	"github.com/hivemesh/relay/internal/heartbeat"
	"github.com/hivemesh/relay/internal/metrics"
)

// HeartbeatHandler ingests peer heartbeats and exposes the liveness table
type HeartbeatHandler struct {
	monitor *heartbeat.Monitor
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHeartbeatHandler creates a new heartbeat handler
func NewHeartbeatHandler(monitor *heartbeat.Monitor, m *metrics.Metrics, logger *zap.Logger) *HeartbeatHandler {
	return &HeartbeatHandler{
		monitor: monitor,
		metrics: m,
		logger:  logger,
	}
}

// HeartbeatRequest is a single heartbeat report from a peer
type HeartbeatRequest struct {
	PeerID    string `json:"peer_id"`
	Timestamp string `json:"timestamp,omitempty"` // RFC3339, defaults to receive time
}

// PeerView is the externally visible liveness record of one peer
type PeerView struct {
	PeerID     string `json:"peer_id"`
	Status     string `json:"status"`
	LastSeenAt string `json:"last_seen_at"`
}

// Ingest handles POST /v1/heartbeats
func (h *HeartbeatHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.logger, relayerrors.InvalidArgument("invalid request body", err))
		return
	}

	if req.PeerID == "" {
		writeError(w, r, h.logger, relayerrors.InvalidArgument("peer_id is required", nil))
		return
	}

	timestamp := time.Now()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, r, h.logger, relayerrors.InvalidArgument("timestamp must be RFC3339", err))
			return
		}
		timestamp = parsed
	}

	if err := h.monitor.RecordHeartbeat(req.PeerID, timestamp); err != nil {
		h.metrics.RecordHeartbeat("rejected")
		writeError(w, r, h.logger, err)
		return
	}
	h.metrics.RecordHeartbeat("accepted")

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ListPeers handles GET /v1/peers
func (h *HeartbeatHandler) ListPeers(w http.ResponseWriter, r *http.Request) {
	records := h.monitor.Records()

	peers := make([]PeerView, 0, len(records))
	for _, rec := range records {
		peers = append(peers, PeerView{
			PeerID:     rec.PeerID,
			Status:     string(rec.Status),
			LastSeenAt: rec.LastSeenAt.Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"peers": peers})
}

// GetPeer handles GET /v1/peers/{peer_id}
func (h *HeartbeatHandler) GetPeer(w http.ResponseWriter, r *http.Request) {
	peerID := mux.Vars(r)["peer_id"]

	rec, ok := h.monitor.Record(peerID)
	if !ok {
		writeError(w, r, h.logger, relayerrors.NotFound("peer", peerID))
		return
	}

	writeJSON(w, http.StatusOK, PeerView{
		PeerID:     rec.PeerID,
		Status:     string(rec.Status),
		LastSeenAt: rec.LastSeenAt.Format(time.RFC3339Nano),
	})
}

// ForgetPeer handles DELETE /v1/peers/{peer_id}
func (h *HeartbeatHandler) ForgetPeer(w http.ResponseWriter, r *http.Request) {
	peerID := mux.Vars(r)["peer_id"]

	h.monitor.Forget(peerID)
	h.logger.Info("peer forgotten", zap.String("peer_id", peerID))

	w.WriteHeader(http.StatusNoContent)
}
