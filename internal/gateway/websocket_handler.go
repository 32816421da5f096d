package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles websocket upgrade requests for duel
// connections.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	stats             func() map[string]any
}

// NewWebSocketHandler creates an upgrade handler. stats supplies the
// numbers for the /ws/stats endpoint.
func NewWebSocketHandler(cm *ConnectionManager, stats func() map[string]any) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		stats:             stats,
	}
}

// HandleDuelConnection upgrades the request. Authentication happens
// on the socket itself via the authenticate event, not at upgrade
// time, so the engine can reject bad tokens over the same channel.
func (h *WebSocketHandler) HandleDuelConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.connectionManager.UpgradeConnection(w, r); err != nil {
		log.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("websocket upgrade failed")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// HandleConnectionStats returns live connection, match, and queue
// numbers.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.stats()); err != nil {
		log.Error().Err(err).Msg("encode stats failed")
	}
}

// RegisterRoutes registers websocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/duel", h.HandleDuelConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
