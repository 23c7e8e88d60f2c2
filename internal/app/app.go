package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/opencrafts-io/interventoria/database"
	"github.com/opencrafts-io/interventoria/internal/audit"
	"github.com/opencrafts-io/interventoria/internal/backend"
	"github.com/opencrafts-io/interventoria/internal/cache"
	"github.com/opencrafts-io/interventoria/internal/config"
	"github.com/opencrafts-io/interventoria/internal/credential"
	"github.com/opencrafts-io/interventoria/internal/eventbus"
	"github.com/opencrafts-io/interventoria/internal/guard"
	"github.com/opencrafts-io/interventoria/internal/middleware"
	"github.com/opencrafts-io/interventoria/internal/permissions"
	"github.com/opencrafts-io/interventoria/internal/policy"
)

type App struct {
	config   *config.Config
	logger   *slog.Logger
	backend  *backend.Client
	sessions *credential.Sessions
	fetcher  *permissions.CachingFetcher
	registry *policy.Registry
	guard    *guard.Guard

	// Optional infrastructure, nil when not configured.
	pool        *pgxpool.Pool
	recorder    *audit.Recorder
	redis       *redis.Client
	memoryCache *cache.MemoryGrantCache
	events      *eventbus.AccessEventBus
}

// Returns a new instance of the application with every configured
// dependency connected.
func New(logger *slog.Logger, cfg *config.Config) (*App, error) {
	ctx := context.Background()
	a := &App{config: cfg, logger: logger}

	client, err := backend.NewClient(cfg.BackendConfig.BaseURL, cfg.BackendTimeout(), logger)
	if err != nil {
		return nil, err
	}
	a.backend = client

	a.sessions, err = credential.NewSessions(cfg, logger)
	if err != nil {
		return nil, err
	}

	var grantCache permissions.GrantCache
	if cfg.RedisConfig.Address != "" {
		a.redis, err = cache.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		grantCache = cache.NewRedisGrantCache(a.redis)
		logger.Info("Using redis grant cache", slog.String("address", cfg.RedisConfig.Address))
	} else {
		a.memoryCache = cache.NewMemoryGrantCache()
		grantCache = a.memoryCache
		logger.Info("Using in-memory grant cache")
	}

	a.fetcher = permissions.NewCachingFetcher(
		permissions.NewHTTPFetcher(client, logger),
		grantCache,
		cfg.CacheTTL(),
		logger,
	)

	opts, err := policyOptions(cfg)
	if err != nil {
		return nil, err
	}
	a.registry = policy.NewRegistry(a.fetcher, logger, opts...)

	var observers []guard.Observer

	if database.Enabled(cfg) {
		a.pool, err = database.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.recorder = audit.NewRecorder(a.pool, logger)
		observers = append(observers, a.recorder)
	} else {
		logger.Info("Database not configured, access audit log disabled")
	}

	if cfg.RabbitMQConfig.RabbitMQAddress != "" {
		a.events, err = eventbus.NewAccessEventBus(cfg, logger)
		if err != nil {
			return nil, err
		}
		observers = append(observers, a.events)
	} else {
		logger.Info("RabbitMQ not configured, access events disabled")
	}

	a.guard = guard.New(
		func(cred credential.Credential) guard.Policy { return a.registry.Engine(cred) },
		cfg.SessionConfig.SignInURL,
		logger,
		observers...,
	)

	return a, nil
}

func policyOptions(cfg *config.Config) ([]policy.Option, error) {
	opts := []policy.Option{policy.WithFetchTimeout(cfg.FetchTimeout())}
	if !cfg.PolicyConfig.StrictAccess {
		return opts, nil
	}

	public := make([]permissions.Resource, 0, len(cfg.PolicyConfig.PublicResources))
	for _, raw := range cfg.PolicyConfig.PublicResources {
		r, err := permissions.ParseResource(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid public resource: %w", err)
		}
		public = append(public, r)
	}
	return append(opts, policy.WithStrictAccess(public...)), nil
}

// onPermissionsChanged drops the cached grants of a subject and reloads
// every live session of that subject.
func (a *App) onPermissionsChanged(ctx context.Context, subject string) error {
	if err := a.fetcher.Invalidate(ctx, subject); err != nil {
		return fmt.Errorf("failed to invalidate grants of %s: %w", subject, err)
	}

	for _, engine := range a.registry.EnginesFor(subject) {
		go func() {
			if err := engine.Refresh(ctx); err != nil {
				a.logger.Warn("Failed to reload changed permissions",
					slog.String("subject", subject),
					slog.Any("error", err),
				)
			}
		}()
	}
	return nil
}

func (a *App) startMaintenance(ctx context.Context) {
	interval := a.config.SessionSweepInterval()
	a.registry.StartSweeper(ctx, interval)

	if a.memoryCache == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.memoryCache.Prune()
			}
		}
	}()
}

func (a *App) close() {
	if a.events != nil {
		a.events.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// Starts the application server
func (a *App) Start(ctx context.Context) error {
	defer a.close()

	if a.pool != nil {
		if err := database.RunGooseMigrations(a.logger, a.pool); err != nil {
			return err
		}
	}

	if a.events != nil {
		err := a.events.SubscribePermissionChanges(ctx,
			a.config.RabbitMQConfig.PermissionTopic,
			a.config.RabbitMQConfig.PermissionQueue,
			a.onPermissionsChanged,
		)
		if err != nil {
			return err
		}
	}

	a.startMaintenance(ctx)

	middlewares := middleware.CreateStack(
		middleware.Logging(a.logger),
		middleware.CORSMiddleware(a.config.AppConfig.AllowedOrigins),
	)
	router := a.loadRoutes()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.config.AppConfig.Address, a.config.AppConfig.Port),
		Handler:           middlewares(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}

		close(errCh)
	}()

	a.logger.Info("server running",
		slog.String("address", a.config.AppConfig.Address),
		slog.Int("port", a.config.AppConfig.Port),
		slog.String("backend", a.config.BackendConfig.BaseURL),
	)

	select {
	// Wait until we receive SIGINT (ctrl+c on cli)
	case <-ctx.Done():
		break
	case err := <-errCh:
		return err
	}

	sCtx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	defer cancel()

	return srv.Shutdown(sCtx)
}
