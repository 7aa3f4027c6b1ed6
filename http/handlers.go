package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"arcade/auth"
	"arcade/game"
	"arcade/store"
	"arcade/ws"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// newUpgrader accepts same-host origins plus the CORS allow-list.
func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host || allowed[origin]
		},
	}
}

type Handlers struct {
	authService *auth.Service
	games       *game.Service
	feed        *ws.Manager
	store       store.Store
	upgrader    *websocket.Upgrader
}

func NewHandlers(authService *auth.Service, games *game.Service, feed *ws.Manager, store store.Store, allowedOrigins []string) *Handlers {
	return &Handlers{
		authService: authService,
		games:       games,
		feed:        feed,
		store:       store,
		upgrader:    newUpgrader(allowedOrigins),
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, map[string]string{"error": message})
}

// writeInternal logs err and answers 500 without leaking it.
func writeInternal(w http.ResponseWriter, r *http.Request, err error, msg string) {
	zerolog.Ctx(r.Context()).Error().Err(err).Msg(msg)
	writeError(w, r, http.StatusInternalServerError, "internal server error")
}

// Auth handlers
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username *string `json:"username"`
		Email    *string `json:"email"`
		Password *string `json:"password"`
	}

	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case req.Username == nil:
		writeError(w, r, http.StatusBadRequest, missing("username").Error())
		return
	case req.Email == nil:
		writeError(w, r, http.StatusBadRequest, missing("email").Error())
		return
	case req.Password == nil:
		writeError(w, r, http.StatusBadRequest, missing("password").Error())
		return
	}

	if _, err := h.authService.Register(r.Context(), *req.Username, *req.Email, *req.Password); err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameTaken):
			writeError(w, r, http.StatusBadRequest, "Username already exists")
		case errors.Is(err, auth.ErrEmailTaken):
			writeError(w, r, http.StatusBadRequest, "Email already exists")
		case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrInvalidPassword):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			writeInternal(w, r, err, "register failed")
		}
		return
	}

	writeJSON(w, r, http.StatusCreated, map[string]string{"message": "User registered successfully"})
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username *string `json:"username"`
		Password *string `json:"password"`
	}

	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == nil {
		writeError(w, r, http.StatusBadRequest, missing("username").Error())
		return
	}
	if req.Password == nil {
		writeError(w, r, http.StatusBadRequest, missing("password").Error())
		return
	}

	account, sessionID, err := h.authService.Login(r.Context(), *req.Username, *req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "Invalid credentials")
		} else {
			writeInternal(w, r, err, "login failed")
		}
		return
	}

	sessions := h.authService.GetSessionManager()
	// A client logging in again drops its previous session.
	if previous := sessions.SessionFromRequest(r); previous != "" {
		h.authService.Logout(previous)
	}

	if err := sessions.SetSessionCookie(w, sessionID); err != nil {
		h.authService.Logout(sessionID)
		writeInternal(w, r, err, "failed to encode session cookie")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"message": "Login successful",
		"user_id": account.ID,
	})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	sessions := h.authService.GetSessionManager()
	if sessionID := sessions.SessionFromRequest(r); sessionID != "" {
		h.authService.Logout(sessionID)
	}
	sessions.ClearSessionCookie(w)

	writeJSON(w, r, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (h *Handlers) CheckAuth(w http.ResponseWriter, r *http.Request) {
	account, err := h.authService.CurrentAccount(r.Context(), r)
	if err != nil {
		writeInternal(w, r, err, "check-auth failed")
		return
	}
	if account == nil {
		writeJSON(w, r, http.StatusOK, map[string]interface{}{"authenticated": false})
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"user": map[string]interface{}{
			"id":       account.ID,
			"username": account.Username,
			"email":    account.Email,
		},
	})
}

// Game handlers
func (h *Handlers) SaveGame(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		GameType     *string `json:"game_type"`
		GameMode     *string `json:"game_mode"`
		Player1Score *int    `json:"player1_score"`
		Player2Score *int    `json:"player2_score"`
		Winner       *string `json:"winner"`
		Duration     *int    `json:"duration"`
	}

	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var verr *ValidationError
	switch {
	case req.GameType == nil || *req.GameType == "":
		verr = missing("game_type")
	case req.GameMode == nil || *req.GameMode == "":
		verr = missing("game_mode")
	case req.Player1Score == nil:
		verr = missing("player1_score")
	case req.Player2Score == nil:
		verr = missing("player2_score")
	}
	if verr != nil {
		writeError(w, r, http.StatusBadRequest, verr.Error())
		return
	}

	result := game.Result{
		GameType:     *req.GameType,
		GameMode:     *req.GameMode,
		Player1Score: *req.Player1Score,
		Player2Score: *req.Player2Score,
		Winner:       req.Winner,
	}
	if req.Duration != nil {
		result.Duration = *req.Duration
	}

	if _, err := h.games.SaveResult(r.Context(), accountID, result); err != nil {
		switch {
		case errors.Is(err, game.ErrMissingGameType), errors.Is(err, game.ErrMissingGameMode):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			writeInternal(w, r, err, "save-game failed")
		}
		return
	}

	if h.feed != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		h.feed.Publish(ctx, result.GameType)
		cancel()
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"message": "Game saved successfully"})
}

func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	gameType := mux.Vars(r)["game_type"]

	rows, err := h.games.Leaderboard(r.Context(), gameType)
	if err != nil {
		writeInternal(w, r, err, "leaderboard failed")
		return
	}

	writeJSON(w, r, http.StatusOK, rows)
}

func (h *Handlers) UserStats(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	stats, err := h.games.UserStats(r.Context(), accountID)
	if err != nil {
		writeInternal(w, r, err, "user-stats failed")
		return
	}

	writeJSON(w, r, http.StatusOK, stats)
}

func (h *Handlers) RecentGames(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	games, err := h.games.RecentGames(r.Context(), accountID)
	if err != nil {
		writeInternal(w, r, err, "recent-games failed")
		return
	}

	writeJSON(w, r, http.StatusOK, games)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// WebSocket handler
func (h *Handlers) LeaderboardFeed(w http.ResponseWriter, r *http.Request) {
	gameType := mux.Vars(r)["game_type"]

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.feed.HandleConnection(conn, gameType)
}
