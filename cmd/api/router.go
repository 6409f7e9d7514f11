package main

import (
	"context"
	"net/http"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/handlers"
	"github.com/crucial707/chaos-scheduler/internal/middleware"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func newRouter(a *app) http.Handler {
	targetH := &handlers.TargetHandler{Registry: a.registry, Executor: a.executor, Audit: a.stores.audit}
	experimentH := &handlers.ExperimentHandler{Experiments: a.experiments, Audit: a.stores.audit}
	logH := &handlers.LogHandler{Log: a.runlog}
	reportH := &handlers.ReportHandler{Registry: a.registry, Experiments: a.experiments, Log: a.runlog}
	auditH := &handlers.AuditHandler{Store: a.stores.audit}
	authH := &handlers.AuthHandler{
		Users:    a.stores.users,
		Secret:   []byte(a.cfg.JWTSecret),
		TokenTTL: time.Duration(a.cfg.JWTExpireHours) * time.Hour,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Prometheus)
	r.Use(middleware.SecurityHeaders(a.cfg.TLSCertFile != ""))
	r.Use(middleware.CORS(a.cfg.CORSAllowedOrigins))
	r.Use(middleware.MaxBytes(middleware.DefaultMaxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if a.db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := a.db.PingContext(ctx); err != nil {
				handlers.JSONError(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ready"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	authLimiter := middleware.AuthRateLimiter()
	r.Group(func(r chi.Router) {
		r.Use(authLimiter.Middleware)
		r.Post("/auth/register", authH.Register)
		r.Post("/auth/login", authH.Login)
	})

	actionLimiter := middleware.ActionRateLimiter(a.cfg.ActionRatePerMin)
	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTMiddleware([]byte(a.cfg.JWTSecret)))

		r.Get("/stats", reportH.Stats)
		r.Get("/reports/summary", reportH.Summary)
		r.Get("/reports/history", reportH.History)

		r.Get("/logs", logH.ListLogs)
		r.Get("/logs/stream", logH.Stream)

		r.Get("/targets", targetH.ListTargets)
		r.Get("/targets/{id}", targetH.GetTarget)

		r.Get("/experiments", experimentH.ListExperiments)
		r.Get("/experiments/upcoming", experimentH.Upcoming)
		r.Get("/experiments/{id}", experimentH.GetExperiment)

		r.Get("/audit", auditH.ListAudit)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleOperator))
			r.Post("/targets", targetH.CreateTarget)
			r.Post("/targets/discover", targetH.DiscoverTargets)
			r.Delete("/targets/{id}", targetH.DeleteTarget)
			r.Post("/targets/{id}/check", targetH.CheckTarget)
			r.With(actionLimiter.Middleware).Post("/targets/{id}/actions/{action}", targetH.RunAction)

			r.Post("/experiments", experimentH.CreateExperiment)
			r.Delete("/experiments/{id}", experimentH.DeleteExperiment)
		})
	})

	return r
}
