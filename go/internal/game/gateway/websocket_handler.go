package gateway

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for game connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleGameConnection handles /ws/game?session_id=&fid=
func (h *WebSocketHandler) HandleGameConnection(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sessionID, err := uuid.Parse(query.Get("session_id"))
	if err != nil {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	fid, err := strconv.ParseInt(query.Get("fid"), 10, 64)
	if err != nil || fid <= 0 {
		http.Error(w, "fid must be a positive integer", http.StatusBadRequest)
		return
	}

	// The upgrader has already written an HTTP error on failure.
	if err := h.connectionManager.UpgradeConnection(w, r, sessionID, fid); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sessionID.String()).
			Int64("fid", fid).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/game", h.HandleGameConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
