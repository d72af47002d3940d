// internal/api/routes/routes.go
package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fawad-mazhar/genoflow/internal/api/handlers"
)

func SetupRouter(controller handlers.WorkflowController, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Initialize handlers
	workflowHandler := handlers.NewWorkflowHandler(controller)
	statusHandler := handlers.NewStatusHandler(controller)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				next.ServeHTTP(w, r)
			})
		})

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/workflow", func(r chi.Router) {
				r.Get("/", workflowHandler.GetWorkflow)
				r.Get("/tasks/{id}", workflowHandler.GetTask)
				r.Post("/abort", workflowHandler.AbortWorkflow)
			})

			// System Status endpoint
			r.Get("/system/status", statusHandler.GetSystemStatus)
		})

		// Health check endpoint
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
