package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phrazzld/paygate/internal/api"
	apiMiddleware "github.com/phrazzld/paygate/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.Trace(app.logger))
	r.Use(apiMiddleware.Metrics)

	taskHandler := api.NewTaskHandler(app.taskQueue, app.canceller, app.logger)
	syncHandler := api.NewSyncHandler(app.triggers, app.logger)
	nbaHandler := api.NewNBAHandler(app.service, app.analysisLogs, app.conflicts, app.logger)
	healthHandler := api.NewHealthHandler(app.readinessChecks(), app.logger)

	// Payment-protected routes and their CORS preflights
	r.Group(func(r chi.Router) {
		if app.gate != nil {
			r.Use(app.gate.Handler)
		}
		r.Post("/tasks", taskHandler.CreateTask)
		r.Options("/tasks", noContent)
		r.Post("/nba/analysis", nbaHandler.Analyze)
		r.Options("/nba/analysis", noContent)
	})

	r.Get("/tasks/{id}", taskHandler.GetTask)
	r.Get("/tasks/{id}/events", taskHandler.StreamEvents)
	r.Post("/tasks/{id}/cancel", taskHandler.CancelTask)
	r.Post("/rpc", taskHandler.RPC)

	r.Post("/sync/{action}", syncHandler.Trigger)
	r.Get("/nba/conflicts", nbaHandler.ListConflicts)

	r.Get("/health", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	if app.registry != nil {
		r.Handle(app.config.Metrics.Path, promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	}

	return r
}

// readinessChecks probes Redis always and Postgres when configured.
func (app *application) readinessChecks() map[string]api.Check {
	checks := map[string]api.Check{
		"redis": func(ctx context.Context) error { return app.redis.Ping(ctx).Err() },
	}
	if app.db != nil {
		checks["postgres"] = app.db.PingContext
	}
	return checks
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
