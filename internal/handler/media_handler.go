package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/macleangm-debug/FieldForce/internal/auth"
	"github.com/macleangm-debug/FieldForce/internal/repository"
	"github.com/macleangm-debug/FieldForce/internal/service"
)

type ThumbnailReader interface {
	Download(id string, w io.Writer) (int64, error)
}

// MediaHandler serves thumbnails generated by media validation. Access
// follows the owning submission.
type MediaHandler struct {
	subs   *service.SubmissionService
	thumbs ThumbnailReader
	log    *slog.Logger
}

func NewMediaHandler(subs *service.SubmissionService, thumbs ThumbnailReader, log *slog.Logger) *MediaHandler {
	return &MediaHandler{subs: subs, thumbs: thumbs, log: log}
}

func (h *MediaHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subs.Get(r.Context(), auth.Caller(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	field := chi.URLParam(r, "field")
	thumbID := ""
	for _, res := range sub.MediaResults {
		if res.Field == field {
			thumbID = res.ThumbnailID
			break
		}
	}
	if thumbID == "" {
		writeError(w, http.StatusNotFound, "no thumbnail for field "+field)
		return
	}

	var buf bytes.Buffer
	if _, err := h.thumbs.Download(thumbID, &buf); err != nil {
		fail(w, r, h.log, fmt.Errorf("thumbnail %s: %w", thumbID, asNotFound(err)))
		return
	}
	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s-%s.webp"`, sub.ID, field))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

func asNotFound(err error) error {
	if errors.Is(err, repository.ErrThumbnailNotFound) {
		return service.ErrNotFound
	}
	return err
}
