// Package server wires the HTTP surface: login, health and the WebSocket
// endpoint the streaming protocol runs over.
package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/helmboard/helmboard/internal/auth"
	"github.com/helmboard/helmboard/internal/config"
	"github.com/helmboard/helmboard/internal/hub"
	"github.com/helmboard/helmboard/internal/ops"
	"github.com/helmboard/helmboard/internal/providers"
	"github.com/helmboard/helmboard/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // clients authenticate per message, not per connection
	},
}

// Server is the main backend server.
type Server struct {
	cfg       *config.Config
	log       zerolog.Logger
	auth      *auth.Service
	hub       *hub.Hub
	scheduler *stream.Scheduler
	executor  *ops.Executor
	router    *chi.Mux
}

// New creates the server and wires the engines together.
func New(cfg *config.Config, db *sql.DB, log zerolog.Logger) (*Server, error) {
	authSvc, err := auth.NewService(cfg, db)
	if err != nil {
		return nil, err
	}

	h := hub.NewHub(log, authSvc)

	registry := stream.NewRegistry()
	cache := stream.NewCache(cfg.CacheTTL)
	topics := providers.Topics(log, cfg.DockerBin)
	scheduler := stream.NewScheduler(log, topics, registry, cache, h)

	logStore, err := ops.NewLogStore(cfg.DataDir + "/operation-logs")
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize operation log store, output will not be persisted")
		logStore = nil
	}
	executor := ops.NewExecutor(log, h, db, logStore, cfg.DockerBin, cfg.KillGrace)

	h.Attach(scheduler, executor)

	s := &Server{
		cfg:       cfg,
		log:       log.With().Str("component", "server").Logger(),
		auth:      authSvc,
		hub:       h,
		scheduler: scheduler,
		executor:  executor,
	}
	s.setupRouter()

	go h.Run()

	return s, nil
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.securityHeaders)

	r.Get("/health", s.handleHealth)
	r.Post("/login", s.handleLogin)
	r.Get("/ws", s.handleWebSocket)

	s.router = r
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("listening")
	return http.ListenAndServe(s.cfg.Addr, s.router)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     string `json:"totp,omitempty"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin verifies credentials and issues the session token WebSocket
// messages carry.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	session, err := s.auth.Login(req.Username, req.Password, req.TOTP, clientIP(r))
	if err != nil {
		s.log.Warn().Err(err).Str("username", req.Username).Msg("failed login attempt")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(loginResponse{
		Token:     session.Token,
		Role:      session.Role,
		ExpiresAt: session.ExpiresAt,
	})
}

// handleWebSocket upgrades the connection and hands it to the hub.
// Authentication happens per message: every request payload carries a token.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	s.hub.ServeConn(conn)
}

// clientIP normalizes RemoteAddr by stripping the port.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if colonIdx := strings.LastIndex(ip, ":"); colonIdx != -1 {
		if bracketIdx := strings.LastIndex(ip, "]"); bracketIdx == -1 || colonIdx > bracketIdx {
			ip = ip[:colonIdx]
		}
	}
	return ip
}
