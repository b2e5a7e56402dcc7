package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/coneflip-overlay/server/internal/domain"
	"github.com/coneflip-overlay/server/internal/leaderboard"
	"github.com/coneflip-overlay/server/internal/seventv"
	"github.com/coneflip-overlay/server/internal/service"
	"github.com/coneflip-overlay/server/internal/skins"
	"github.com/coneflip-overlay/server/internal/websocket"
)

// SkinStore is the repository subset the handler reads directly.
type SkinStore interface {
	GetAllUserSkins(ctx context.Context) ([]domain.UserSkinState, error)
}

// Handler provides the HTTP surface of the overlay backend. Several endpoints
// return plain text because chat bot integrations splice the body directly
// into a chat message.
type Handler struct {
	game    *service.GameService
	lb      *leaderboard.Engine
	skins   *skins.Engine
	store   SkinStore
	seventv *seventv.Client
	hub     *websocket.Hub
	logger  *slog.Logger

	publicDir string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	game *service.GameService,
	lb *leaderboard.Engine,
	skinEngine *skins.Engine,
	store SkinStore,
	sevenTV *seventv.Client,
	hub *websocket.Hub,
	publicDir string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		game:      game,
		lb:        lb,
		skins:     skinEngine,
		store:     store,
		seventv:   sevenTV,
		hub:       hub,
		publicDir: publicDir,
		logger:    logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint for overlay browser sources
	r.Get("/ws", h.HandleWebSocket)
	r.Get("/api/ws/stats", h.GetWebSocketStats)

	// Game API. Paths and response bodies are part of the deployed overlay
	// and chat bot contract.
	r.Get("/api/leaderboard", h.GetLeaderboard)
	r.Get("/api/skins/users", h.GetUserSkins)
	r.Get("/api/skins/available", h.GetAvailableSkins)
	r.Get("/api/skins/give", h.GiveSkin)
	r.Get("/api/cones/add", h.AddCone)
	r.Get("/api/cones/duel", h.AddDuel)
	r.Get("/api/7tv/paint", h.GetPaint)
	r.Get("/api/7tv/emote", h.GetEmote)
	r.Get("/debug", h.DebugUnbox)

	// Static overlay pages
	if h.publicDir != "" {
		r.Get("/", h.serveNoCache("index.html"))
		r.Get("/leaderboard", h.servePage("leaderboard.html"))
		r.Get("/gamba", h.servePage("unbox.html"))
		r.Handle("/*", http.FileServer(http.Dir(h.publicDir)))
	}

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeText writes a plain text response
func (h *Handler) writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(text))
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]interface{}{"total_connections": h.hub.GetTotalConnections()},
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"status": "healthy"}})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"status": "ready"}})
}

// GetLeaderboard serves three modes on one path: show=true flashes the
// leaderboard on every overlay, name=x returns that player's standing as
// text, and the bare path returns the sorted board as JSON.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	name := service.NormalizeName(r.URL.Query().Get("name"))
	show := r.URL.Query().Get("show") == "true"

	if show {
		h.game.ShowLeaderboard("")
		w.WriteHeader(http.StatusOK)
		return
	}

	if name != "" {
		standing, err := h.lb.GetPlayer(r.Context(), name)
		if err != nil {
			h.logger.Error("failed to get player standing", "name", name, "error", err)
			h.writeError(w, http.StatusInternalServerError, domain.ErrDataUnavailable)
			return
		}
		if !standing.HasPlayed {
			h.writeText(w, fmt.Sprintf("%s never tried coneflipping.", name))
			return
		}
		h.writeText(w, fmt.Sprintf("%s cone stats: %s (Ws: %d / Ls: %d / WR%%: %.2f)",
			name, standing.Rank, standing.Wins, standing.Fails, standing.Winrate))
		return
	}

	snapshot, err := h.lb.GetLeaderboard(r.Context())
	if err != nil {
		h.logger.Error("failed to get leaderboard", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrDataUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// GetUserSkins returns every player's persisted skin state.
func (h *Handler) GetUserSkins(w http.ResponseWriter, r *http.Request) {
	states, err := h.store.GetAllUserSkins(r.Context())
	if err != nil {
		h.logger.Error("failed to list user skins", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrDataUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, states)
}

// GetAvailableSkins returns the catalog as a name-to-asset-path map.
func (h *Handler) GetAvailableSkins(w http.ResponseWriter, r *http.Request) {
	available := make(map[string]string)
	for _, skin := range h.skins.Catalog().All() {
		available[skin.Name] = "/skins/" + skin.Visuals
	}
	h.writeJSON(w, http.StatusOK, available)
}

// GiveSkin grants and equips a skin, returning the result message as text.
func (h *Handler) GiveSkin(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	skin := r.URL.Query().Get("skin")
	if strings.TrimSpace(name) == "" || strings.TrimSpace(skin) == "" {
		h.writeText(w, "Name and skin cannot be blank or invalid.")
		return
	}

	msg, err := h.game.GiveSkin(r.Context(), name, skin)
	if err != nil {
		if domain.IsValidationError(err) {
			h.writeText(w, err.Error())
			return
		}
		h.logger.Error("failed to give skin", "name", name, "skin", skin, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrDataUnavailable)
		return
	}
	h.writeText(w, msg)
}

// AddCone queues a cone flip for the named player.
func (h *Handler) AddCone(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) == "" {
		h.writeText(w, "Name cannot be blank or invalid.")
		return
	}

	if err := h.game.QueueCone(r.Context(), name); err != nil {
		if errors.Is(err, domain.ErrTwitchIDNotFound) {
			h.writeText(w, "Twitch ID not found for the given name.")
			return
		}
		h.logger.Error("failed to queue cone", "name", name, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrDataUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// AddDuel queues a duel between two players.
func (h *Handler) AddDuel(w http.ResponseWriter, r *http.Request) {
	name := service.NormalizeName(r.URL.Query().Get("name"))
	target := service.NormalizeName(r.URL.Query().Get("target"))
	if name == "" || target == "" {
		h.writeText(w, "Name and target cannot be blank or invalid.")
		return
	}
	if name == target {
		h.writeText(w, "You cannot duel yourself.")
		return
	}

	if err := h.game.QueueDuel(r.Context(), name, target); err != nil {
		if errors.Is(err, domain.ErrTwitchIDNotFound) {
			h.writeText(w, "Twitch ID not found for the given name.")
			return
		}
		h.logger.Error("failed to queue duel", "name", name, "target", target, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrDataUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetPaint returns the player's active 7TV paint for the overlay nameplate.
func (h *Handler) GetPaint(w http.ResponseWriter, r *http.Request) {
	name := service.NormalizeName(r.URL.Query().Get("name"))
	if name == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	paint, err := h.seventv.UserPaint(r.Context(), name)
	if err != nil {
		h.logger.Warn("failed to fetch 7tv paint", "name", name, "error", err)
		h.writeError(w, http.StatusBadGateway, domain.ErrDataUnavailable)
		return
	}

	// A lookup that resolved to a different account means this login has no
	// 7TV presence of its own
	if paint.Username != "" && strings.ToLower(paint.Username) != name {
		h.writeJSON(w, http.StatusOK, map[string]string{
			"message":  "No active paint set.",
			"username": paint.Username,
		})
		return
	}
	h.writeJSON(w, http.StatusOK, paint)
}

// GetEmote reports whether a name is a known 7TV emote and its image URL.
func (h *Handler) GetEmote(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("name")))

	emotes, err := h.seventv.EmoteMap(r.Context())
	if err != nil {
		h.logger.Warn("failed to fetch 7tv emotes", "error", err)
		h.writeError(w, http.StatusBadGateway, domain.ErrDataUnavailable)
		return
	}

	url, isEmote := emotes[name]
	resp := map[string]interface{}{"isEmote": isEmote, "url": nil}
	if isEmote {
		resp["url"] = url
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// DebugUnbox triggers an unbox draw outside the reward flow.
func (h *Handler) DebugUnbox(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if _, err := h.game.Unbox(r.Context(), name); err != nil {
		h.logger.Error("debug unbox failed", "name", name, "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// serveNoCache serves a page with caching disabled, for the overlay entry
// point OBS keeps open for days.
func (h *Handler) serveNoCache(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		http.ServeFile(w, r, filepath.Join(h.publicDir, page))
	}
}

func (h *Handler) servePage(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(h.publicDir, page))
	}
}
