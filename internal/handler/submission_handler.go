package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/macleangm-debug/FieldForce/internal/auth"
	"github.com/macleangm-debug/FieldForce/internal/models"
	"github.com/macleangm-debug/FieldForce/internal/service"
)

type SubmissionHandler struct {
	svc *service.SubmissionService
	log *slog.Logger
}

func NewSubmissionHandler(svc *service.SubmissionService, log *slog.Logger) *SubmissionHandler {
	return &SubmissionHandler{svc: svc, log: log}
}

func (h *SubmissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.SubmissionInput
	if !decode(w, r, &req) {
		return
	}
	sub, err := h.svc.Create(r.Context(), auth.Caller(r.Context()), req)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub.Out())
}

func (h *SubmissionHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	var req service.BulkRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Bulk(r.Context(), auth.Caller(r.Context()), req)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseDate accepts RFC 3339 timestamps or bare YYYY-MM-DD dates.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (h *SubmissionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lq := service.ListQuery{
		FormID: q.Get("form_id"),
		Status: models.Status(q.Get("status_filter")),
	}
	var err error
	if lq.From, err = parseDate(q.Get("start_date")); err != nil {
		writeError(w, http.StatusBadRequest, "start_date must be RFC 3339 or YYYY-MM-DD")
		return
	}
	if lq.To, err = parseDate(q.Get("end_date")); err != nil {
		writeError(w, http.StatusBadRequest, "end_date must be RFC 3339 or YYYY-MM-DD")
		return
	}
	if lq.Page, err = queryInt(r, "page"); err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	if lq.PageSize, err = queryInt(r, "page_size"); err != nil {
		writeError(w, http.StatusBadRequest, "page_size must be an integer")
		return
	}

	page, err := h.svc.List(r.Context(), auth.Caller(r.Context()), lq)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *SubmissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Get(r.Context(), auth.Caller(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sub.Out())
}

func (h *SubmissionHandler) Review(w http.ResponseWriter, r *http.Request) {
	var req service.ReviewInput
	if !decode(w, r, &req) {
		return
	}
	sub, err := h.svc.Review(r.Context(), auth.Caller(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Submission reviewed",
		"id":          sub.ID,
		"status":      sub.Status,
		"reviewer_id": sub.ReviewerID,
		"reviewed_at": sub.ReviewedAt,
	})
}

func (h *SubmissionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), auth.Caller(r.Context()), id); err != nil {
		fail(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}
