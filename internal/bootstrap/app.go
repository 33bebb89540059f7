package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	memcache "github.com/prn-tf/artshare/internal/cache/memory"
	rediscache "github.com/prn-tf/artshare/internal/cache/redis"
	"github.com/prn-tf/artshare/internal/config"
	"github.com/prn-tf/artshare/internal/gateway"
	"github.com/prn-tf/artshare/internal/handler"
	"github.com/prn-tf/artshare/internal/identity"
	"github.com/prn-tf/artshare/internal/lock"
	"github.com/prn-tf/artshare/internal/metrics"
	"github.com/prn-tf/artshare/internal/repository"
	"github.com/prn-tf/artshare/internal/service"
	"github.com/prn-tf/artshare/internal/storage"
	"github.com/prn-tf/artshare/internal/storage/filesystem"
	s3store "github.com/prn-tf/artshare/internal/storage/s3"
)

// App holds every long-lived component of a process.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Store     *Store
	Cache     repository.Cache
	Locker    lock.Locker
	Allocator *identity.Allocator
	Gateway   *gateway.Gateway
	Images    storage.ImageStore

	Users       *service.UserService
	Artworks    *service.ArtworkService
	Comments    *service.CommentService
	Messages    *service.MessageService
	Points      *service.PointsService
	Maintenance *service.MaintenanceService

	closers []func() error
}

// New connects every backend named by cfg, applies pending migrations, loads
// the id counters and reconciles them with the store. On error, whatever was
// already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (app *App, err error) {
	app = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	if cfg.Metrics.Enabled {
		app.Registry = prometheus.NewRegistry()
		app.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		app.Metrics = metrics.New(app.Registry)
	} else {
		app.Metrics = metrics.New(nil)
	}

	// Object store
	app.Store, err = OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return app, fmt.Errorf("failed to open object store: %w", err)
	}
	app.onClose(app.Store.Close)
	if err = app.Store.Migrate(ctx); err != nil {
		return app, fmt.Errorf("failed to migrate object store: %w", err)
	}

	// Redis is shared by the cache and the locker.
	var redisClient *goredis.Client
	if cfg.Redis.Enabled && (cfg.Cache.Backend == "redis" || cfg.Lock.Backend == "redis") {
		redisClient, err = rediscache.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			return app, err
		}
		app.onClose(redisClient.Close)
	}

	if err = app.openCache(redisClient); err != nil {
		return app, err
	}
	if err = app.openLocker(redisClient); err != nil {
		return app, err
	}

	// Identity and gateway
	app.Allocator = identity.NewAllocator(app.Cache, app.Metrics, logger)
	app.Allocator.Load(ctx)

	app.Gateway, err = gateway.New(gateway.Options{
		Store:     app.Store,
		Cache:     app.Cache,
		Allocator: app.Allocator,
		Metrics:   app.Metrics,
		Logger:    logger,
		ObjectTTL: cfg.Cache.ObjectTTL,
	})
	if err != nil {
		return app, err
	}
	app.onClose(app.Gateway.Close)

	raised, err := app.Gateway.Reconcile(ctx)
	if err != nil {
		return app, fmt.Errorf("failed to reconcile id counters: %w", err)
	}
	for typeName, n := range raised {
		logger.Info().Str("type", typeName).Int64("counter", n).Msg("raised id counter to highest stored id")
	}

	if err = app.openImages(ctx); err != nil {
		return app, err
	}

	return app, app.buildServices()
}

func (a *App) openCache(client *goredis.Client) error {
	switch a.Config.Cache.Backend {
	case "redis":
		if client == nil {
			return errors.New("redis cache requires redis.enabled")
		}
		a.Cache = rediscache.NewCache(client)
	case "memory", "":
		c := memcache.NewCache(a.Config.Cache.CleanupInterval)
		a.onClose(func() error { c.Stop(); return nil })
		a.Cache = c
	default:
		return fmt.Errorf("unsupported cache backend %q", a.Config.Cache.Backend)
	}
	return nil
}

func (a *App) openLocker(client *goredis.Client) error {
	switch a.Config.Lock.Backend {
	case "redis":
		if client == nil {
			return errors.New("redis locks require redis.enabled")
		}
		a.Locker = lock.NewRedisLocker(client)
	case "memory", "":
		l := lock.NewMemoryLocker()
		a.onClose(func() error { l.Stop(); return nil })
		a.Locker = l
	case "noop":
		a.Locker = lock.NewNoOpLocker()
	default:
		return fmt.Errorf("unsupported lock backend %q", a.Config.Lock.Backend)
	}
	return nil
}

func (a *App) openImages(ctx context.Context) error {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case "filesystem":
		images, err := filesystem.NewImageStore(cfg.DataDir, cfg.MaxImageSize, a.Logger)
		if err != nil {
			return err
		}
		a.Images = images
	case "s3":
		client, err := s3store.NewClient(ctx, cfg.S3)
		if err != nil {
			return fmt.Errorf("failed to create s3 client: %w", err)
		}
		a.Images = s3store.NewImageStore(client, cfg.S3.Bucket, cfg.S3.Prefix, cfg.MaxImageSize, a.Logger)
	default:
		return fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	return nil
}

func (a *App) buildServices() error {
	pointsConfig, err := service.NewPointsConfig(a.Config.Points)
	if err != nil {
		return err
	}

	deps := service.Deps{
		Gateway: a.Gateway,
		Locker:  a.Locker,
		LockOptions: lock.Options{
			TTL:        a.Config.Lock.TTL,
			MaxRetries: a.Config.Lock.MaxRetries,
			RetryDelay: a.Config.Lock.RetryDelay,
		},
		Metrics: a.Metrics,
		Logger:  a.Logger,
	}

	a.Users = service.NewUserService(deps, a.Images)
	a.Artworks = service.NewArtworkService(deps, a.Images)
	a.Comments = service.NewCommentService(deps)
	a.Messages = service.NewMessageService(deps)
	a.Points = service.NewPointsService(deps, a.Cache, pointsConfig)
	a.Maintenance = service.NewMaintenanceService(deps, service.MaintenanceConfig{
		Enabled:  a.Config.Maintenance.Enabled,
		Interval: a.Config.Maintenance.Interval,
		DryRun:   a.Config.Maintenance.DryRun,
	})
	return nil
}

// Handler returns the operational HTTP handler.
func (a *App) Handler() http.Handler {
	var gatherer prometheus.Gatherer
	if a.Registry != nil {
		gatherer = a.Registry
	}

	return handler.NewRouter(handler.RouterConfig{
		Readiness: a.Gateway,
		AdminHandler: handler.NewAdminHandler(handler.AdminConfig{
			MaintenanceService: a.Maintenance,
			UserService:        a.Users,
			PointsService:      a.Points,
			Logger:             a.Logger,
		}),
		Gatherer:    gatherer,
		MetricsPath: a.Config.Metrics.Path,
		Logger:      a.Logger,
	}).Handler()
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything New opened, in reverse order. The maintenance
// loop must be stopped by the caller first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
