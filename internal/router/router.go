package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/macleangm-debug/FieldForce/internal/auth"
	"github.com/macleangm-debug/FieldForce/internal/handler"
	mw "github.com/macleangm-debug/FieldForce/internal/middleware"
)

type Handlers struct {
	Submissions *handler.SubmissionHandler
	Media       *handler.MediaHandler
	Admin       *handler.AdminHandler
	Health      http.HandlerFunc
}

func New(jwtSecret string, h Handlers, log *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Recovery(log))
	r.Use(mw.Logger(log))

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(jwtSecret))

		// Submissions
		r.Post("/submissions", h.Submissions.Create)
		r.Post("/submissions/bulk", h.Submissions.Bulk)
		r.Get("/submissions", h.Submissions.List)
		r.Get("/submissions/{id}", h.Submissions.Get)
		r.Patch("/submissions/{id}/review", h.Submissions.Review)
		r.Delete("/submissions/{id}", h.Submissions.Delete)
		r.Get("/submissions/{id}/media/{field}/thumbnail", h.Media.Thumbnail)

		// Task tracking
		r.Get("/jobs/{id}", h.Admin.Job)

		// Analytics
		r.Get("/analytics/daily", h.Admin.Daily)

		// Operators
		r.Route("/admin", func(r chi.Router) {
			r.Get("/jobs", h.Admin.ListJobs)
			r.Post("/jobs/{id}/requeue", h.Admin.RequeueJob)
			r.Get("/submissions/pending", h.Admin.Pending)
			r.Post("/reports", h.Admin.Report)
		})
	})

	return r
}
