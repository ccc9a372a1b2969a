// Package api provides the HTTP API server for mailpane.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mailpane/mailpane/internal/cache"
	"github.com/mailpane/mailpane/internal/config"
	"github.com/mailpane/mailpane/internal/mail"
	"github.com/mailpane/mailpane/internal/updates"
)

// Mailbox defines the mailbox operations the API serves.
type Mailbox interface {
	Fetch(ctx context.Context, category mail.Category, pageToken, userID string, force bool) (mail.ListPage, error)
	Search(ctx context.Context, query, pageToken, userID string) (mail.ListPage, error)
	SetStarred(ctx context.Context, msg mail.Message, starred bool, userID string) error
	MarkRead(ctx context.Context, messageID string) error
	Trash(ctx context.Context, messageID string, from mail.Category, userID string) error
	Untrash(ctx context.Context, messageID, userID string) error
	MarkSpam(ctx context.Context, messageID string, from mail.Category, userID string) error
	UnmarkSpam(ctx context.Context, messageID, userID string) error
	CacheStats() cache.Stats
}

// UpdateChannel defines the push-channel operations the API exposes.
type UpdateChannel interface {
	Notify(updates.Notification)
	State() updates.State
	EnsureWatch(ctx context.Context)
	StopWatch(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	mailbox     Mailbox
	updates     UpdateChannel
	hub         *Hub
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, mb Mailbox, uc UpdateChannel, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		mailbox: mb,
		updates: uc,
		hub:     NewHub(logger),
		logger:  logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)

	// CORS middleware (config-driven; disabled when no origins configured)
	corsConfig := CORSConfig{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: s.cfg.Server.CORSCredentials,
		MaxAge:           s.cfg.Server.CORSMaxAge,
	}
	if corsConfig.MaxAge == 0 && len(corsConfig.AllowedOrigins) > 0 {
		corsConfig.MaxAge = 86400
	}
	r.Use(CORSMiddleware(corsConfig))

	// Rate limiting (10 req/sec with burst of 20)
	s.rateLimiter = NewRateLimiter(10, 20)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	// Pub/Sub push delivery. Authenticated by topic obscurity plus the
	// payload format, not the API key: Pub/Sub cannot send our headers.
	r.Post("/webhook/gmail", s.handleWebhook)

	// API routes (auth required)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		// The update stream holds its connection open; everything else
		// gets the standard request timeout.
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(60 * time.Second))

			r.Get("/emails", s.handleListEmails)
			r.Get("/search", s.handleSearch)

			r.Post("/emails/{id}/star", s.handleStar)
			r.Post("/emails/{id}/read", s.handleMarkRead)
			r.Post("/emails/{id}/trash", s.handleTrash)
			r.Post("/emails/{id}/untrash", s.handleUntrash)
			r.Post("/emails/{id}/spam", s.handleMarkSpam)
			r.Post("/emails/{id}/unspam", s.handleUnmarkSpam)

			r.Get("/updates/status", s.handleUpdatesStatus)
			r.Post("/watch", s.handleStartWatch)
			r.Delete("/watch", s.handleStopWatch)

			r.Get("/stats/cache", s.handleCacheStats)
		})

		r.Get("/updates", s.hub.ServeHTTP)
	})

	return r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	bindAddr := s.cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.Server.APIPort))

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication — set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays unset: the update stream is a long-lived
		// response and would be cut off by it.
		IdleTimeout: 120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Events returns the update-stream hub so other components can publish.
func (s *Server) Events() *Hub {
	return s.hub
}

// userID returns the account the server operates on behalf of.
func (s *Server) userID() string {
	return s.cfg.Account
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key configured
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Check Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			// Also check X-API-Key header
			authHeader = r.Header.Get("X-API-Key")
		}

		// Strip "Bearer " prefix if present
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			authHeader = authHeader[7:]
		}

		if subtle.ConstantTimeCompare([]byte(authHeader), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
