// Package app wires the skiff runtime: config, logging, the durable
// cache backend, the marketplace API clients, the booking messaging
// gate, and the diagnostics HTTP server.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"skiff/cmd/internal/booking"
	"skiff/cmd/internal/httpapi"
	"skiff/cmd/internal/kv"
	"skiff/cmd/internal/messaging"
)

// closer is a small app-level lifecycle abstraction for backend
// resources that need graceful shutdown.
type closer interface {
	Close(ctx context.Context) error
}

type nopCloser struct{}

func (nopCloser) Close(_ context.Context) error { return nil }

type poolCloser struct{ pool *pgxpool.Pool }

func (c poolCloser) Close(_ context.Context) error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}

type redisCloser struct{ r *kv.Redis }

func (c redisCloser) Close(_ context.Context) error { return c.r.Close() }

// App is the skiff runtime: one booking gate tailing one conversation,
// plus a diagnostics HTTP surface.
type App struct {
	cfg Config
	log Logger

	backend closer
	dbPool  *pgxpool.Pool
	durable bool

	gate *booking.Gate
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}
	if cfg.UserID == "" {
		return nil, errors.New("SKIFF_USER_ID is required; messaging is disabled without an identity")
	}

	backendCloser, backend, dbPool, durable, err := newCacheBackend(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	api, err := httpapi.NewClient(log, cfg.APIBaseURL, cfg.APIToken)
	if err != nil {
		_ = backendCloser.Close(context.Background())
		return nil, err
	}

	cache := messaging.NewConversationCache(log,
		messaging.WithCacheMaxAge(cfg.CacheMaxAge),
		messaging.WithCacheCapacity(cfg.CacheMaxEntries, cfg.CacheMaxBytes),
		messaging.WithCacheBackend(backend),
	)

	gate, err := booking.NewGate(log, booking.GateConfig{
		User: messaging.Identity{
			ID:          cfg.UserID,
			DisplayName: cfg.UserDisplayName,
			Email:       cfg.UserEmail,
		},
		Bookings:     httpapi.NewBookingClient(api),
		Messages:     httpapi.NewMessageClient(api),
		Cache:        cache,
		PollInterval: cfg.PollInterval,
		OnChange: func(s messaging.Snapshot) {
			log.Debug("conversation.update",
				"messages", len(s.Messages),
				"state", string(s.ConnectionState),
				"online", s.Online,
				"has_error", s.Err != nil,
			)
		},
		OnSignOut: func(err error) {
			log.Error("session.signed_out", "err", err)
		},
	})
	if err != nil {
		_ = backendCloser.Close(context.Background())
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		backend: backendCloser,
		dbPool:  dbPool,
		durable: durable,
		gate:    gate,
	}, nil
}

// Run starts the diagnostics server and the booking gate, then blocks
// until context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.durable)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
	}

	a.log.Info("app.start", "addr", a.cfg.HTTPAddr, "booking_id", a.cfg.BookingID, "durable_cache", a.durable)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if a.cfg.BookingID != "" {
		if err := a.gate.Initialize(ctx, a.cfg.BookingID); err != nil {
			// Gate failures are surfaced but not fatal: the booking may
			// transition to an allowed status later.
			a.log.Warn("gate.init.fail", "booking_id", a.cfg.BookingID, "err", err)
		}
		go a.probeOnline(ctx)
	} else {
		a.log.Warn("app.idle", "reason", "no booking configured")
	}

	select {
	case <-ctx.Done():
		a.log.Info("app.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("app.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.gate.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("app.shutdown.fail", "err", err)
		return err
	}

	if err := a.backend.Close(shutdownCtx); err != nil {
		a.log.Error("backend.close.fail", "err", err)
	}

	a.log.Info("app.stopped")
	return nil
}

// probeOnline feeds the host online/offline signal from a periodic
// reachability check against the API base URL.
func (a *App) probeOnline(ctx context.Context) {
	client := &http.Client{Timeout: 3 * time.Second}
	t := time.NewTicker(a.cfg.OnlineProbeInterval)
	defer t.Stop()

	online := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.cfg.APIBaseURL, nil)
			if err != nil {
				continue
			}
			resp, err := client.Do(req)
			reachable := err == nil
			if resp != nil {
				_ = resp.Body.Close()
			}

			if reachable != online {
				online = reachable
				a.log.Info("connectivity.change", "online", online)
				if sess := a.gate.Session(); sess != nil {
					sess.SetOnline(online)
				}
			}
		}
	}
}

// newCacheBackend picks the durable tier: Postgres when configured,
// else Redis, else process memory.
func newCacheBackend(ctx context.Context, cfg Config, log Logger) (closer, kv.Backend, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, nil, false, err
		}
		backend, err := kv.NewPostgres(pool)
		if err != nil {
			pool.Close()
			return nil, nil, nil, false, err
		}
		log.Info("cache.backend.postgres")
		return poolCloser{pool: pool}, backend, pool, true, nil
	}

	if cfg.RedisURL != "" {
		backend, err := kv.NewRedis(ctx, cfg.RedisURL, kv.WithRedisTTL(cfg.CacheMaxAge))
		if err != nil {
			return nil, nil, nil, false, err
		}
		log.Info("cache.backend.redis")
		return redisCloser{r: backend}, backend, nil, true, nil
	}

	log.Info("cache.backend.memory")
	return nopCloser{}, kv.NewMemory(), nil, false, nil
}
