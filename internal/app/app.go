package app

import (
	"context"
	"fmt"

	"personalization-sync/internal/auth"
	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/config"
	"personalization-sync/internal/crypto"
	"personalization-sync/internal/extraction"
	"personalization-sync/internal/jobs"
	"personalization-sync/internal/linkedin"
	"personalization-sync/internal/locks"
	"personalization-sync/internal/oauth2"
	"personalization-sync/internal/personalization"
	"personalization-sync/internal/ratelimit"
	"personalization-sync/internal/redis"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Storage     personalization.Store
	RedisClient *redis.Client
	Locks       locks.Manager
	Auth        *auth.Auth
	LinkedIn    *linkedin.Client
	Vault       *crypto.Vault
	Coordinator *oauth2.Coordinator
	Tokens      *oauth2.Manager
	Extractor   *extraction.Extractor
	Scheduler   *jobs.Scheduler
	Logger      logging.Logger

	CallbackLimiter *ratelimit.Limiter
}

// New creates a new application instance with all dependencies
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	if err := app.initializeStorage(ctx); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		// Redis is optional, just log the error
		app.Logger.Warn("Redis initialization failed, continuing without Redis",
			logging.Field{Key: "error", Value: err.Error()})
	}

	app.Auth = auth.New(cfg.JWTSecret)
	app.initializeCallbackLimiter()

	if err := app.initializeOAuth(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.initializeJobs()

	return app, nil
}

// initializeOAuth wires the vault, the provider client and the token components
func (app *App) initializeOAuth() error {
	vault, err := crypto.NewVault(app.Config.TokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize token vault: %w", err)
	}
	app.Vault = vault

	throttle, err := app.newThrottle()
	if err != nil {
		return fmt.Errorf("failed to initialize provider throttle: %w", err)
	}

	li := app.Config.LinkedIn
	client, err := linkedin.NewClient(linkedin.Config{
		ClientID:     li.ClientID,
		ClientSecret: li.ClientSecret,
		RedirectURI:  li.RedirectURI,
		Timeout:      li.HTTPTimeoutDuration(),
	}, linkedin.WithThrottle(throttle))
	if err != nil {
		return err
	}
	app.LinkedIn = client

	oauthConfig := oauth2.Config{LenientStateFallback: li.LenientStateFallback}
	if oauthConfig.LenientStateFallback {
		app.Logger.Warn("OAuth lenient state fallback is enabled; callbacks may create records")
	}

	app.Coordinator = oauth2.NewCoordinator(app.Storage, client, vault, oauthConfig)
	app.Tokens = oauth2.NewManager(app.Storage, client, vault, oauthConfig)
	app.Extractor = extraction.NewExtractor(app.Storage, app.Tokens, client)
	return nil
}

// initializeJobs builds the batch jobs and their scheduler. Job runs share
// the Redis lock manager when Redis is available.
func (app *App) initializeJobs() {
	tokenJob := jobs.NewTokenRefreshJob(app.Storage, app.Tokens)
	profileJob := jobs.NewProfileRefreshJob(app.Storage, app.Extractor)

	var opts []jobs.SchedulerOption
	if app.RedisClient != nil {
		opts = append(opts, jobs.WithRunStore(app.RedisClient))
	}
	app.Scheduler = jobs.NewScheduler(tokenJob, profileJob, app.Locks, opts...)
}

// Shutdown stops background work, waiting for a running job until ctx is done
func (app *App) Shutdown(ctx context.Context) error {
	if app.Scheduler != nil {
		app.Scheduler.Stop(ctx)
		app.Logger.Info("Scheduler stopped")
	}
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Locks != nil {
		app.Locks.Close()
	}
	if app.Storage != nil {
		app.Storage.Close()
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
