package http

import (
	"net/http"
	"path/filepath"
	"time"

	"arcade/auth"
	"arcade/game"
	"arcade/store"
	"arcade/ws"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type Options struct {
	StaticDir      string
	AllowedOrigins []string
}

type Server struct {
	router   *mux.Router
	handlers *Handlers
	opts     Options
}

func NewServer(opts Options, authService *auth.Service, games *game.Service, feed *ws.Manager, store store.Store, logger zerolog.Logger, metrics *Metrics) *Server {
	router := mux.NewRouter()
	handlers := NewHandlers(authService, games, feed, store, opts.AllowedOrigins)

	server := &Server{
		router:   router,
		handlers: handlers,
		opts:     opts,
	}

	server.setupRoutes(authService, logger, metrics)
	return server
}

func (s *Server) setupRoutes(authService *auth.Service, logger zerolog.Logger, metrics *Metrics) {
	// Apply global middleware
	s.router.Use(LoggingMiddleware(logger, metrics))
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(CORSMiddleware(s.opts.AllowedOrigins))

	// SameSite=Lax on the session cookie keeps cross-site POSTs from
	// carrying it, which covers CSRF for the state-changing endpoints.

	// Public API
	s.router.HandleFunc("/api/register", s.handlers.Register).Methods("POST")
	s.router.HandleFunc("/api/login", s.handlers.Login).Methods("POST")
	s.router.HandleFunc("/api/check-auth", s.handlers.CheckAuth).Methods("GET")
	s.router.HandleFunc("/api/leaderboard/{game_type}", s.handlers.Leaderboard).Methods("GET")

	// Protected routes
	protected := s.router.PathPrefix("/api").Subrouter()
	protected.Use(AuthMiddleware(authService))

	protected.HandleFunc("/logout", s.handlers.Logout).Methods("GET")
	protected.HandleFunc("/save-game", s.handlers.SaveGame).Methods("POST")
	protected.HandleFunc("/user-stats", s.handlers.UserStats).Methods("GET")
	protected.HandleFunc("/recent-games", s.handlers.RecentGames).Methods("GET")

	// Unmatched API routes get a JSON 404 instead of the client page
	s.router.PathPrefix("/api/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	s.router.HandleFunc("/ws/leaderboard/{game_type}", s.handlers.LeaderboardFeed)
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	// Static assets with cache-control (no-cache forces revalidation via If-Modified-Since)
	staticDir := s.opts.StaticDir
	s.router.PathPrefix("/static/").Handler(noCacheHandler(http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir)))))

	// Client page for / and any other non-API path
	s.router.PathPrefix("/").HandlerFunc(s.serveIndex)
}

func noCacheHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		h.ServeHTTP(w, r)
	})
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, filepath.Join(s.opts.StaticDir, "index.html"))
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) GetHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
