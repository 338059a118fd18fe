package routes

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/upb/rolegate/app"
	"github.com/upb/rolegate/handlers"
	"github.com/upb/rolegate/utils"
)

// SetupRoutes configures all application routes and middleware. Every
// protected route takes its requirement from the policy table; a protected
// route without one is a startup error.
func SetupRoutes(deps *app.Dependencies) (http.Handler, error) {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(deps.Config.Server.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "WWW-Authenticate"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(sqlDB(deps), deps.Keys, deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	demo := handlers.NewDemoHandler(deps.Logger)
	decisions := handlers.NewDecisionHandler(deps.Decisions, deps.Logger)

	protected := []struct {
		method  string
		pattern string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/api/v1/demo", demo.HandleUserGreeting},
		{http.MethodGet, "/api/v1/demo/hello", demo.HandleAdminGreeting},
		{http.MethodGet, "/api/v1/me", demo.HandleMe},
		{http.MethodGet, "/api/v1/audit/decisions", decisions.HandleList},
	}

	registered := make(map[string]bool, len(protected))
	for _, route := range protected {
		req, err := deps.Policies.Require(route.method, route.pattern)
		if err != nil {
			return nil, fmt.Errorf("route %s %s: %w", route.method, route.pattern, err)
		}
		r.With(deps.Gate.Require(req)).Method(route.method, route.pattern, route.handler)
		registered[route.method+" "+route.pattern] = true
	}

	for _, entry := range deps.Policies.Routes() {
		if !registered[entry.Method+" "+entry.Pattern] {
			deps.Logger.Warn("policy entry has no matching route",
				zap.String("method", entry.Method),
				zap.String("path", entry.Pattern))
		}
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r, nil
}

// sqlDB returns the audit pool for readiness checks, or nil.
func sqlDB(deps *app.Dependencies) *sql.DB {
	if deps.DB == nil {
		return nil
	}
	return deps.DB.DB
}
