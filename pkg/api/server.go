package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cbodonnell/harbor/pkg/api/handlers"
	"github.com/cbodonnell/harbor/pkg/api/middleware"
	"github.com/cbodonnell/harbor/pkg/log"
	"github.com/cbodonnell/harbor/pkg/repositories"
	"github.com/gorilla/mux"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
	logger *log.Logger
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	// Addr to listen on, host:port
	Addr   string
	TLS    *TLSConfig
	Status handlers.Status
	// Repository serves the chat archive; optional
	Repository repositories.Repository
	Logger     *log.Logger
}

// NewRouter builds the read-only status routes.
func NewRouter(status handlers.Status, repository repositories.Repository, logger *log.Logger) *mux.Router {
	if logger == nil {
		logger = log.Default()
	}

	r := mux.NewRouter()
	r.Use(middleware.NewRequestMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware())

	r.HandleFunc("/healthz", handlers.HandleHealth(status)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/identity", handlers.HandleIdentity(status)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/roster", handlers.HandleRoster(status)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/chat", handlers.HandleChat(status)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/chat/{channel}/archive", handlers.HandleArchive(repository)).Methods(http.MethodGet, http.MethodOptions)
	return r
}

// NewAPIServer creates a new http.Server for the status API
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	logger := opts.Logger.WithComponent("api")

	server := &http.Server{
		Addr:              opts.Addr,
		Handler:           NewRouter(opts.Status, opts.Repository, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
		logger: logger,
	}
}

// Start serves until Stop is called
func (s *APIServer) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %v", s.server.Addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener until Stop is called
func (s *APIServer) Serve(listener net.Listener) error {
	if s.tls != nil {
		s.logger.Info("API server listening on %s with TLS", listener.Addr())
		err := s.server.ServeTLS(listener, s.tls.CertFile, s.tls.KeyFile)
		return s.closed(err)
	}
	s.logger.Info("API server listening on %s", listener.Addr())
	return s.closed(s.server.Serve(listener))
}

func (s *APIServer) closed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		s.logger.Info("API server closed")
		return nil
	}
	return err
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
