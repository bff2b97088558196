// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"net/http"
	"time"

	"clusterplane/internal/controller/handlers"
	"clusterplane/internal/controller/middleware"
)

// Options carries the server dependencies beyond the store.
type Options struct {
	Manager        handlers.EntitlementManager
	Vault          handlers.CredentialVault
	Gateway        handlers.ModelGateway
	MetricsHandler http.Handler
	// Requests per second per user; 0 disables throttling.
	RateLimit      float64
	RateLimitBurst int
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(addr string, store handlers.StoreFactory, opts Options) *Server {
	h := handlers.New(store, opts.Manager, opts.Vault, opts.Gateway)
	authMW := middleware.AuthMiddleware(store)
	rateMW := middleware.RateLimitMiddleware(opts.RateLimit, opts.RateLimitBurst)

	protected := func(handler http.HandlerFunc) http.Handler {
		return authMW(rateMW(handler))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	// Bootstrap endpoint, unauthenticated by design: the returned key
	// is what later calls authenticate with.
	mux.HandleFunc("POST /users", h.CreateUser)

	// Catalog
	mux.Handle("POST /definitions", protected(h.CreateDefinition))
	mux.Handle("POST /definitions/{id}/versions", protected(h.ReleaseVersion))

	// Instances and entitlements
	mux.Handle("POST /instances", protected(h.Provision))
	mux.Handle("GET /instances/{id}", protected(h.GetInstance))
	mux.Handle("POST /instances/{id}/grants", protected(h.Grant))
	mux.Handle("POST /instances/{id}/suspend", protected(h.Lifecycle("suspend")))
	mux.Handle("POST /instances/{id}/resume", protected(h.Lifecycle("resume")))
	mux.Handle("POST /instances/{id}/terminate", protected(h.Lifecycle("terminate")))
	mux.Handle("GET /instances/{id}/events", protected(h.GetEvents))

	// Credentials
	mux.Handle("POST /credentials", protected(h.StoreCredential))
	mux.Handle("POST /credentials/{ref}/reveal", protected(h.RevealCredential))
	mux.Handle("DELETE /credentials/{ref}", protected(h.RevokeCredential))

	// Jobs
	mux.Handle("POST /jobs", protected(h.EnqueueJob))
	mux.Handle("GET /jobs/{id}", protected(h.GetJob))
	mux.Handle("POST /jobs/{id}/cancel", protected(h.CancelJob))

	// Model gateway
	mux.Handle("POST /instances/{id}/completions", protected(h.Complete))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      middleware.RequestID(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 70 * time.Second, // completions wait on upstream models
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
