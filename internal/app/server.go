package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"personalization-sync/internal/handlers"
	"personalization-sync/internal/jobs"
	"personalization-sync/internal/ratelimit"
	"personalization-sync/internal/server"
)

// Router builds the HTTP handler with all routes configured
func (app *App) Router() http.Handler {
	health := map[string]handlers.HealthCheck{}
	if app.RedisClient != nil {
		health["redis"] = app.RedisClient.Health
	}

	h := handlers.New(handlers.Dependencies{
		Store:     app.Storage,
		OAuth:     app.Coordinator,
		Revoker:   app.Tokens,
		Extractor: app.Extractor,
		Jobs:      app.Scheduler,
		Health:    health,
	})

	router := mux.NewRouter()
	handlers.SetupRoutes(router, h, app.Auth.RequireAuth, app.CallbackLimiter.HTTPMiddleware(ratelimit.IPBasedKey))
	return router
}

// RunServer creates the HTTP server and starts the job schedule if enabled
func (app *App) RunServer() (*server.Server, error) {
	if app.Config.SchedulerEnabled {
		if err := app.Scheduler.Start(jobs.Schedule{
			TokenRefresh:   app.Config.TokenRefreshSchedule,
			ProfileRefresh: app.Config.ProfileRefreshSchedule,
		}); err != nil {
			return nil, err
		}
	} else {
		app.Logger.Info("Scheduler disabled; jobs run only through the API")
	}

	return server.New(app.Router(), app.Config.Port), nil
}
