package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/auth"
	"github.com/vovakirdan/wirerelay-server/internal/bridge/natsmirror"
	"github.com/vovakirdan/wirerelay-server/internal/config"
	"github.com/vovakirdan/wirerelay-server/internal/core"
	"github.com/vovakirdan/wirerelay-server/internal/metrics"
	"github.com/vovakirdan/wirerelay-server/internal/store"
	"github.com/vovakirdan/wirerelay-server/internal/store/pebblestore"
	"github.com/vovakirdan/wirerelay-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirerelay-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	nats            *nats.Conn
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	fanout, err := core.ParseFanoutMode(cfg.PresenceFanout)
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.StoreDriver).Msg("store initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	opts := []core.Option{
		core.WithLogger(logger),
		core.WithMetrics(m),
		core.WithAuthenticator(authService, cfg.RequireAuth),
		core.WithFanout(fanout),
		core.WithStoreTimeout(cfg.StoreTimeout),
	}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = natsmirror.Connect(cfg.NATSURL, logger)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		opts = append(opts, core.WithPresenceObserver(natsmirror.New(nc, cfg.NATSSubject, logger)))
		logger.Info().Str("url", cfg.NATSURL).Str("subject", cfg.NATSSubject).Msg("presence mirror enabled")
	}

	hub := core.NewHub(st, opts...)
	server := transporthttp.NewServer(hub, authService, st, m, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		nats:            nc,
		log:             logger,
	}, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPebble:
		st, err := pebblestore.New(cfg.PebblePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreDriverSQLite, "":
		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(context.WithoutCancel(ctx))
	hubDone := make(chan struct{})
	go func() {
		a.hub.Run(hubCtx)
		close(hubDone)
	}()

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			runErr = err
		} else {
			runErr = <-serverErr
		}
	}

	// Sessions are closed before the store so last-seen writes still land.
	stopHub()
	<-hubDone
	a.cleanup()
	return runErr
}

// cleanup closes the NATS connection and the store.
func (a *App) cleanup() {
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			a.log.Warn().Err(err).Msg("failed to drain nats")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
