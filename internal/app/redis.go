package app

import (
	"strconv"
	"time"

	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/common/ratelimit"
	"personalization-sync/internal/locks"
	inbound "personalization-sync/internal/ratelimit"
	"personalization-sync/internal/redis"
)

func (app *App) initializeRedis() error {
	if app.Config.RedisAddress == "" {
		app.Logger.Info("Redis: Not configured (local throttle and job locks)")
		app.Locks = locks.NewLocalManager()
		return nil
	}

	redisDB, _ := strconv.Atoi(app.Config.RedisDB)
	redisPoolSize, _ := strconv.Atoi(app.Config.RedisPoolSize)

	redisClient, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       redisDB,
		PoolSize: redisPoolSize,
	})
	if err != nil {
		app.Locks = locks.NewLocalManager()
		return err
	}

	lockManager, err := locks.NewRedsyncManager(redisClient)
	if err != nil {
		redisClient.Close()
		app.Locks = locks.NewLocalManager()
		return err
	}

	app.RedisClient = redisClient
	app.Locks = lockManager
	app.Logger.Info("Redis: Connected", logging.Field{Key: "address", Value: app.Config.RedisAddress})
	app.Logger.Info("Distributed Locks: Enabled")
	return nil
}

// newThrottle spaces LinkedIn calls across all instances when Redis is
// available and within this process otherwise.
func (app *App) newThrottle() (ratelimit.Throttle, error) {
	spacing := app.Config.LinkedIn.RateLimitDelayDuration()
	if app.RedisClient == nil {
		return ratelimit.New(ratelimit.Config{Spacing: spacing, Type: ratelimit.BackendLocal})
	}
	app.Logger.Info("Provider throttle: Redis", logging.Field{Key: "spacing", Value: spacing.String()})
	return ratelimit.New(ratelimit.Config{Spacing: spacing, Type: ratelimit.BackendRedis}, app.RedisClient)
}

// initializeCallbackLimiter counts callback hits in Redis when available so
// every instance enforces the same window.
func (app *App) initializeCallbackLimiter() {
	config := &inbound.Config{Limit: app.Config.CallbackRateLimitValue(), Window: time.Minute}
	if app.RedisClient == nil {
		app.CallbackLimiter = inbound.NewLimiter(nil, config)
		return
	}
	app.CallbackLimiter = inbound.NewLimiter(app.RedisClient, config)
}
