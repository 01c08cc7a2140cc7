// Package server exposes the inventory engine over HTTP.
//
// Routes:
//
//	POST /inventory  run one request; the status code follows the run outcome
//	GET  /healthz    liveness probe
//
// Requests are limited in size and rate (per client address). The server
// stops gracefully on context cancellation, SIGINT or SIGTERM.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/canectors/cdp-inventory/internal/collector"
	"github.com/canectors/cdp-inventory/internal/config"
	"github.com/canectors/cdp-inventory/internal/errhandling"
	"github.com/canectors/cdp-inventory/internal/logger"
	"github.com/canectors/cdp-inventory/internal/runtime"
)

// Default configuration values
const (
	DefaultListenAddress   = "127.0.0.1:8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 5 * time.Minute
	defaultShutdownTimeout = 30 * time.Second
	defaultMaxBodyBytes    = config.MaxRequestBytes
)

// Error codes specific to the transport.
const (
	CodeRateLimited = "RATE_LIMITED"
	CodeBadRequest  = runtime.CodeValidationFailed
)

// ErrServerRunning is returned by Start on a server that is already running.
var ErrServerRunning = errors.New("inventory server already running")

// Aggregator runs inventory requests.
type Aggregator interface {
	Aggregate(ctx context.Context, conns []collector.Connection, opts collector.Options) *runtime.Report
}

// Config configures a Server.
type Config struct {
	// ListenAddress defaults to DefaultListenAddress. Port 0 picks a free port.
	ListenAddress string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64

	// RequestsPerSecond limits requests per client address. Zero disables it.
	RequestsPerSecond float64
	Burst             int

	Logger *slog.Logger
}

// Server serves the inventory API.
type Server struct {
	engine  Aggregator
	cfg     Config
	logger  *slog.Logger
	limiter *clientLimiter

	mu           sync.RWMutex
	running      bool
	server       *http.Server
	actualAddr   string
	shutdownOnce sync.Once
}

// New creates a server around engine.
func New(engine Aggregator, cfg Config) *Server {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	l := cfg.Logger
	if l == nil {
		l = logger.Logger
	}
	s := &Server{engine: engine, cfg: cfg, logger: l}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = newClientLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}
	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /inventory", s.handleInventory)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start listens and serves until ctx is cancelled, a termination signal is
// received or the server fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerRunning
	}
	s.running = true
	s.server = &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.mu.Unlock()

	listener, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.logger.Error("failed to start inventory server",
			slog.String("address", s.cfg.ListenAddress),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("starting listener: %w", err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()
	s.logger.Info("inventory server started", slog.String("address", s.actualAddr))

	serverErr := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case <-ctx.Done():
		s.logger.Info("inventory server shutdown requested")
		return s.Stop()
	case sig := <-signals:
		s.logger.Info("inventory server shutdown requested by signal", slog.String("signal", sig.String()))
		return s.Stop()
	case err := <-serverErr:
		shutdownErr := s.Stop()
		if err != nil {
			return fmt.Errorf("inventory server error: %w", err)
		}
		return shutdownErr
	}
}

// Stop waits for in-flight requests and stops the server. It is safe to
// call more than once.
func (s *Server) Stop() error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		s.running = false
		srv := s.server
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("inventory server shutdown error", slog.String("error", err.Error()))
			shutdownErr = fmt.Errorf("shutting down inventory server: %w", err)
			return
		}
		s.logger.Info("inventory server stopped")
	})
	return shutdownErr
}

// Address returns the bound address, or "" before Start.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actualAddr
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.allow(clientAddress(r)) {
		s.logger.Warn("inventory request rate limited", slog.String("client", clientAddress(r)))
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, runtime.ErrorBody{Error: runtime.ErrorDetail{
			Code:    CodeRateLimited,
			Message: "rate limit exceeded",
		}})
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	req, err := config.ReadRequest(body, requestFormat(r))
	if err != nil {
		var tooLarge *http.MaxBytesError
		status := http.StatusBadRequest
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		desc := errhandling.Describe(err)
		s.logger.Warn("inventory request refused",
			slog.Int("status_code", status),
			slog.String("error", desc.Message),
		)
		writeJSON(w, status, runtime.ErrorBody{Error: runtime.ErrorDetail{
			Code:    CodeBadRequest,
			Kind:    string(desc.Kind),
			Message: desc.Message,
		}})
		return
	}

	report := s.engine.Aggregate(r.Context(), req.Connections, req.Options)
	w.Header().Set("X-Run-ID", report.RunID)
	writeJSON(w, report.StatusCode(), report.Payload())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestFormat maps the Content-Type to a config format. JSON is the default.
func requestFormat(r *http.Request) string {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if strings.Contains(ct, "yaml") {
		return config.FormatYAML
	}
	return config.FormatJSON
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		logger.Logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}
