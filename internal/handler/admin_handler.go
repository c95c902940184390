package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/macleangm-debug/FieldForce/internal/auth"
	"github.com/macleangm-debug/FieldForce/internal/models"
	"github.com/macleangm-debug/FieldForce/internal/service"
)

// AdminHandler serves operator endpoints: dead-letter inspection, the
// pending-processing gauge, task tracking, reports and daily analytics.
type AdminHandler struct {
	svc *service.AdminService
	log *slog.Logger
}

func NewAdminHandler(svc *service.AdminService, log *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, log: log}
}

func (h *AdminHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.JobDead
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := h.svc.ListJobs(r.Context(), auth.Caller(r.Context()), status, limit)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "status": status})
}

func (h *AdminHandler) RequeueJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.RequeueJob(r.Context(), auth.Caller(r.Context()), id); err != nil {
		fail(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"requeued": id})
}

func (h *AdminHandler) Job(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *AdminHandler) Pending(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	n, err := h.svc.PendingCount(r.Context(), auth.Caller(r.Context()), orgID)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"org_id": orgID, "pending": n})
}

func (h *AdminHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req service.ReportRequest
	if !decode(w, r, &req) {
		return
	}
	rep, err := h.svc.GenerateReport(r.Context(), auth.Caller(r.Context()), req)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (h *AdminHandler) Daily(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stats, err := h.svc.Daily(r.Context(), auth.Caller(r.Context()), q.Get("org_id"), q.Get("from"), q.Get("to"))
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"org_id": q.Get("org_id"), "days": stats})
}
