package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/scardbridge/internal/bridges/rdpdr"
	"github.com/nerrad567/scardbridge/internal/infrastructure/config"
	"github.com/nerrad567/scardbridge/internal/infrastructure/logging"
	"github.com/nerrad567/scardbridge/internal/journal"
	"github.com/nerrad567/scardbridge/internal/smartcard"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Device is the dispatch engine surface the API exposes.
type Device interface {
	Stats() smartcard.Stats
	Outstanding() []smartcard.OutstandingRequest
	Contexts() *smartcard.Registry[smartcard.ContextHandle, smartcard.Canceller]
	Init() int
}

// ConnectionStatus reports transport connectivity.
type ConnectionStatus interface {
	IsConnected() bool
}

// BridgeMetricsProvider supplies bridge counters.
type BridgeMetricsProvider interface {
	GetMetrics() rdpdr.BridgeMetrics
}

// JournalReader reads recent completions.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	Stats() journal.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Device  Device
	MQTT    ConnectionStatus      // optional
	Bridge  BridgeMetricsProvider // optional
	Journal JournalReader         // optional
	Hub     *Hub                  // optional; created in Start when nil
	Version string
}

// Server is the HTTP status server.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	device    Device
	mqtt      ConnectionStatus
	bridge    BridgeMetricsProvider
	journal   JournalReader
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Device == nil {
		return nil, fmt.Errorf("device is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		device:    deps.Device,
		mqtt:      deps.MQTT,
		bridge:    deps.Bridge,
		journal:   deps.Journal,
		hub:       deps.Hub,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Hub returns the WebSocket hub. It is nil before Start unless one was
// injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start builds the router and launches the HTTP listener in the
// background. The server can be stopped with Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.logger)
	}
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
