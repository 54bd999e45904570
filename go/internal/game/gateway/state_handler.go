package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/mcdev12/fingerbutton/go/internal/game/session"
	"github.com/mcdev12/fingerbutton/go/internal/models"
	"github.com/rs/zerolog/log"
)

// StateProvider defines what the gateway reads about games
type StateProvider interface {
	GetState(ctx context.Context, sessionID uuid.UUID) (*session.GameState, error)
	ListActiveGames(ctx context.Context, gameType models.GameType, includeScheduled bool) ([]*models.GameSession, error)
}

// StateHandler serves game state over plain HTTP
type StateHandler struct {
	stateProvider StateProvider
}

func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetGameState handles GET /api/games/{id}/state
func (h *StateHandler) HandleGetGameState(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid game ID format", http.StatusBadRequest)
		return
	}

	state, err := h.stateProvider.GetState(r.Context(), sessionID)
	if errors.Is(err, models.ErrSessionNotFound) {
		http.Error(w, "Game not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to get game state")
		http.Error(w, "Failed to get game state", http.StatusInternalServerError)
		return
	}

	writeJSON(w, state)
}

// HandleGetActiveGames handles GET /api/games/active?type=&include_scheduled=
func (h *StateHandler) HandleGetActiveGames(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	gameType := models.GameType(query.Get("type"))
	includeScheduled, _ := strconv.ParseBool(query.Get("include_scheduled"))

	games, err := h.stateProvider.ListActiveGames(r.Context(), gameType, includeScheduled)
	if errors.Is(err, session.ErrInvalidArgument) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to get active games")
		http.Error(w, "Failed to get active games", http.StatusInternalServerError)
		return
	}

	writeJSON(w, games)
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/games/active", h.HandleGetActiveGames)
	mux.HandleFunc("GET /api/games/{id}/state", h.HandleGetGameState)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
