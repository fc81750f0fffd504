package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jslitzker/forgeboard/internal/auth/handlers"
	authmw "github.com/jslitzker/forgeboard/internal/auth/middleware"
	"github.com/jslitzker/forgeboard/internal/config"
	"github.com/jslitzker/forgeboard/internal/middleware"
	"github.com/jslitzker/forgeboard/internal/shutdown"
	"github.com/jslitzker/forgeboard/pkg/trace"
)

// default configurations
const (
	ReadTimeout         = 15 * time.Second
	WriteTimeout        = 15 * time.Second
	IdleTimeout         = 60 * time.Second
	TLSMinVersion       = tls.VersionTLS12
	ShutdownGracePeriod = 30 * time.Second
)

// Server hosts the authentication API. It owns the HTTP listener, the
// middleware chain and route registration; the auth core itself is injected.
type Server struct {
	config          *config.Forgeboard
	mux             *http.ServeMux
	httpServer      *http.Server
	handler         *handlers.Handler
	gateway         *authmw.Gateway
	logger          *zap.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	errorChan       chan<- error
	shutdownManager *shutdown.Manager
}

// NewServer wires the route table and middleware chain for the control plane.
func NewServer(
	srvCtx context.Context,
	errChan chan<- error,
	cfg *config.Forgeboard,
	handler *handlers.Handler,
	gateway *authmw.Gateway,
	logger *zap.Logger,
) *Server {
	ctx, cancel := context.WithCancel(srvCtx)
	s := &Server{
		config:          cfg,
		mux:             http.NewServeMux(),
		handler:         handler,
		gateway:         gateway,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
		errorChan:       errChan,
		shutdownManager: shutdown.NewManager(),
	}
	s.registerRoutes()
	return s
}

// registerRoutes sets up the HTTP handlers for the authentication endpoints.
// Unauthenticated endpoints share the stricter login rate limit keyed by
// client IP; authenticated endpoints share the API limit keyed by user.
func (s *Server) registerRoutes() {
	rl := s.config.Auth.RateLimit
	loginLimit := s.gateway.RateLimit(rl.LoginLimit, rl.LoginWindow)
	apiLimit := s.gateway.RateLimit(rl.APILimit, rl.APIWindow)

	public := func(h http.HandlerFunc) http.Handler {
		return loginLimit(h)
	}
	protected := func(h http.HandlerFunc) http.Handler {
		return s.gateway.RequireAuth(apiLimit(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return s.gateway.RequireAdmin(apiLimit(h))
	}

	// Auth routes
	s.mux.Handle("POST /api/auth/login", public(s.handler.Login))
	s.mux.Handle("POST /api/auth/refresh", public(s.handler.Refresh))
	s.mux.Handle("POST /api/auth/register", public(s.handler.Register))
	s.mux.Handle("POST /api/auth/forgot-password", public(s.handler.ForgotPassword))
	s.mux.Handle("POST /api/auth/reset-password", public(s.handler.ResetPassword))
	s.mux.HandleFunc("GET /api/auth/password-requirements", s.handler.PasswordRequirements)

	// Protected routes
	s.mux.Handle("POST /api/auth/logout", protected(s.handler.Logout))
	s.mux.Handle("GET /api/auth/me", protected(s.handler.Me))
	s.mux.Handle("POST /api/auth/change-password", protected(s.handler.ChangePassword))
	s.mux.Handle("GET /api/auth/sessions", protected(s.handler.ListSessions))
	s.mux.Handle("DELETE /api/auth/sessions/{id}", protected(s.handler.RevokeSession))
	s.mux.Handle("POST /api/auth/sessions/revoke-others", protected(s.handler.RevokeOtherSessions))
	s.mux.Handle("GET /api/auth/api-keys", protected(s.handler.ListAPIKeys))
	s.mux.Handle("POST /api/auth/api-keys", protected(s.handler.CreateAPIKey))
	s.mux.Handle("PUT /api/auth/api-keys/{id}", protected(s.handler.UpdateAPIKey))
	s.mux.Handle("DELETE /api/auth/api-keys/{id}", protected(s.handler.RevokeAPIKey))

	// Admin-only routes
	s.mux.Handle("GET /api/users", admin(s.handler.ListUsers))
	s.mux.Handle("POST /api/users", admin(s.handler.CreateUser))
	s.mux.Handle("PUT /api/users/{id}", admin(s.handler.UpdateUser))
	s.mux.Handle("POST /api/users/{id}/unlock", admin(s.handler.UnlockUser))
	s.mux.Handle("GET /api/audit-logs", admin(s.handler.AuditLogs))
	s.mux.Handle("GET /api/stats", admin(s.handler.Stats))

	s.mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
}

// buildChain assembles the global middleware chain around the route table.
func (s *Server) buildChain() http.Handler {
	chain := middleware.NewMiddlewareChain(
		trace.WithRequestID(),
		middleware.NewLoggingMiddleware(
			s.logger,
			middleware.WithExcludePaths([]string{"/api/health"}),
		),
	)

	if len(s.config.Server.AllowedIPs) > 0 {
		chain.Use(middleware.NewIPRestrictionMiddleware(s.config.Server.AllowedIPs, s.logger))
	}

	chain.AddConfiguredMiddlewares(s.config, s.logger)

	return chain.Then(s.mux)
}

// Start runs the listener until the context is canceled or the listener
// fails. Listener errors are reported on the error channel.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.buildChain(),
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}

	s.shutdownManager.RegisterShutdown("http", s.httpServer.Shutdown)

	useTLS := s.config.Server.TLS != nil && s.config.Server.TLS.Enabled
	if useTLS {
		s.httpServer.TLSConfig = &tls.Config{MinVersion: TLSMinVersion}
	}

	go func() {
		s.logger.Info("Server listening",
			zap.String("addr", addr),
			zap.Bool("tls", useTLS))

		var err error
		if useTLS {
			err = s.httpServer.ListenAndServeTLS(s.config.Server.TLS.CertFile, s.config.Server.TLS.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errorChan <- err
		}
	}()

	<-s.ctx.Done()
	return s.Stop()
}

// Stop gracefully drains in-flight requests within the grace period.
func (s *Server) Stop() error {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownGracePeriod)
	defer cancel()

	if err := s.shutdownManager.Shutdown(ctx); err != nil {
		s.logger.Error("Graceful shutdown failed", zap.Error(err))
		return err
	}

	s.logger.Info("Server stopped")
	return nil
}

// Handler exposes the fully wrapped handler, used by tests to drive the
// server without a listener.
func (s *Server) Handler() http.Handler {
	return s.buildChain()
}
