package application

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/buildd-settings/internal/api"
	"github.com/eugenenazirov/buildd-settings/internal/settings"
)

const (
	defaultListen         = "127.0.0.1:8080"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
)

// Options configures the diagnostics server.
type Options struct {
	Listen               string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int
	// AllowSet enables runtime overrides through PUT /api/overrides/{key}.
	AllowSet bool
}

// DefaultOptions returns the server defaults.
func DefaultOptions() Options {
	return Options{
		Listen:               defaultListen,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// Validate checks the options for values the server cannot run with.
func (o Options) Validate() error {
	if strings.TrimSpace(o.Listen) == "" {
		return errors.New("listen address cannot be empty")
	}
	if o.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit rps must be >= 0")
	}
	if o.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit burst must be >= 0")
	}
	return nil
}

// App encapsulates the settings instance and the diagnostics HTTP server.
type App struct {
	settings *settings.Settings
	router   http.Handler
	logger   *zap.Logger
	server   *http.Server
}

// New wires the diagnostics API around s.
func New(opts Options, s *settings.Settings, logger *zap.Logger) (*App, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server options: %w", err)
	}
	if s == nil {
		return nil, errors.New("settings are required")
	}

	handler := api.NewHandler(s, api.WithMutations(opts.AllowSet))
	router := api.NewRouter(handler, logger,
		api.WithLogging(opts.EnableRequestLogging),
		api.WithRateLimit(opts.RateLimitRPS, opts.RateLimitBurst),
	)

	return &App{
		settings: s,
		router:   router,
		logger:   logger,
		server:   NewServer(opts, router),
	}, nil
}

// NewServer creates and configures an HTTP server from the provided options.
func NewServer(opts Options, handler http.Handler) *http.Server {
	addr := opts.Listen
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening",
			zap.String("addr", a.server.Addr),
			zap.Uint64("settings_generation", a.settings.Current().Generation),
			zap.Int("overrides", len(a.settings.Overrides())),
		)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.router
}
