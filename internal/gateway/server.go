package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/studydeck/gamecore/internal/game"
	"github.com/studydeck/gamecore/internal/models"
	"github.com/studydeck/gamecore/internal/sync"
)

// Server is the UI-facing HTTP surface: the websocket endpoint, a snapshot
// route for clients rebuilding state, and the session lifecycle REST calls.
type Server struct {
	coordinator *game.Coordinator
	fetcher     sync.Fetcher
	connections *ConnectionManager
	httpServer  *http.Server
}

// ServerConfig holds HTTP server tuning.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// NewServer builds the gateway HTTP server.
func NewServer(cfg ServerConfig, coordinator *game.Coordinator, fetcher sync.Fetcher, connections *ConnectionManager) *Server {
	s := &Server{
		coordinator: coordinator,
		fetcher:     fetcher,
		connections: connections,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.HandleFunc("GET /api/state/{sessionID}", s.handleState)
	mux.HandleFunc("POST /api/games", s.handleCreateGame)
	mux.HandleFunc("POST /api/games/{sessionID}/join", s.handleJoinGame)
	mux.HandleFunc("GET /api/rooms/{roomID}/active-game", s.handleActiveGame)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           c.Handler(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the context is cancelled, then drains for up to 10s.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("gateway server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.connections.ConnectionStats(),
	})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.URL.Query().Get("session_id"))
	if err != nil {
		http.Error(w, "invalid session_id", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}

	if _, err := s.fetcher.GetGameSession(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}

	if err := s.connections.UpgradeConnection(w, r, userID, sessionID); err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
	}
}

// questionView is a GameQuestion stripped of the correct answer before it
// leaves the server.
type questionView struct {
	ID               uuid.UUID           `json:"id"`
	QuestionIndex    int                 `json:"question_index"`
	Data             models.QuestionData `json:"question_data"`
	Category         string              `json:"category"`
	Difficulty       string              `json:"difficulty"`
	Points           int                 `json:"points"`
	TimeLimitSeconds int                 `json:"time_limit_seconds"`
	ColumnPosition   *int                `json:"column_position,omitempty"`
	IsDailyDouble    bool                `json:"is_daily_double"`
	IsFinalRound     bool                `json:"is_final_round"`
}

type stateResponse struct {
	Session     *models.GameSession `json:"session"`
	Question    *questionView       `json:"question,omitempty"`
	Leaderboard *models.Leaderboard `json:"leaderboard"`
}

// handleState returns a wholesale snapshot for clients rebuilding local state
// after a reconnect.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("sessionID"))
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	session, err := s.fetcher.GetGameSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := stateResponse{Session: session}

	if session.Status == models.GameStatusInProgress {
		question, err := s.fetcher.GetCurrentQuestion(r.Context(), sessionID)
		if err != nil && !errors.Is(err, game.ErrNotFound) {
			writeError(w, err)
			return
		}
		if question != nil {
			resp.Question = &questionView{
				ID:               question.ID,
				QuestionIndex:    question.QuestionIndex,
				Data:             question.Data,
				Category:         question.Category,
				Difficulty:       question.Difficulty,
				Points:           question.Points,
				TimeLimitSeconds: question.TimeLimitSeconds,
				ColumnPosition:   question.ColumnPosition,
				IsDailyDouble:    question.IsDailyDouble,
				IsFinalRound:     question.IsFinalRound,
			}
		}
	}

	board, err := s.fetcher.GetGameLeaderboard(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp.Leaderboard = board

	writeJSON(w, http.StatusOK, resp)
}

type createGameRequest struct {
	RoomID    uuid.UUID         `json:"room_id"`
	HostID    uuid.UUID         `json:"host_id"`
	GameType  models.GameType   `json:"game_type"`
	Config    models.GameConfig `json:"config"`
	SourceRef string            `json:"source_ref"`
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	session, err := s.coordinator.CreateGame(r.Context(), game.CreateGameRequest{
		RoomID:    req.RoomID,
		HostID:    req.HostID,
		GameType:  req.GameType,
		Config:    req.Config,
		SourceRef: req.SourceRef,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("sessionID"))
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	var req struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	session, err := s.coordinator.JoinGame(r.Context(), sessionID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleActiveGame(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(r.PathValue("roomID"))
	if err != nil {
		http.Error(w, "invalid room ID", http.StatusBadRequest)
		return
	}

	session, err := s.coordinator.GetActiveGame(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	if session == nil {
		http.Error(w, "no active game", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *game.ValidationError
		transitionErr *game.IllegalTransitionError
		wagerErr      *game.InvalidWagerError
	)

	switch {
	case errors.Is(err, game.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, game.ErrActiveSessionExists):
		http.Error(w, "room already has an active game", http.StatusConflict)
	case errors.Is(err, game.ErrAlreadyAnswered):
		http.Error(w, "already answered", http.StatusConflict)
	case errors.Is(err, game.ErrNotHost):
		http.Error(w, "host only", http.StatusForbidden)
	case errors.As(err, &validationErr), errors.As(err, &wagerErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &transitionErr):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Error().Err(err).Msg("internal error")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
