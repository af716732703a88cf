package handler

import (
	"net/http"

	"github.com/pavelanni/certifier/internal/exam"
	"github.com/pavelanni/certifier/internal/model"
)

func (h *Handler) handleListCertifications(w http.ResponseWriter, r *http.Request) {
	certs, err := h.exam.ListCertifications(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if certs == nil {
		certs = []model.Certification{}
	}
	respondJSON(w, http.StatusOK, certs)
}

func (h *Handler) handleGetCertification(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, errBadRequest)
		return
	}
	view, err := h.exam.GetCertificationView(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	certID, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, errBadRequest)
		return
	}
	user := model.UserFromContext(r.Context())
	attempt, err := h.exam.StartAttempt(r.Context(), user.ID, certID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, attempt)
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	certID, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, errBadRequest)
		return
	}
	user := model.UserFromContext(r.Context())
	attempts, err := h.exam.ListAttempts(r.Context(), user.ID, certID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	respondJSON(w, http.StatusOK, attempts)
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, errBadRequest)
		return
	}
	user := model.UserFromContext(r.Context())
	view, err := h.exam.GetAttempt(r.Context(), user.ID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) handleSaveProgress(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, errBadRequest)
		return
	}
	var upd exam.ProgressUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		h.fail(w, r, errBadRequest)
		return
	}
	user := model.UserFromContext(r.Context())
	attempt, err := h.exam.SaveProgress(r.Context(), user.ID, id, upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, attempt)
}

type submitRequest struct {
	Answers map[int64]model.AnswerEntry `json:"answers"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, errBadRequest)
		return
	}
	var req submitRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			h.fail(w, r, errBadRequest)
			return
		}
	}
	user := model.UserFromContext(r.Context())
	out, err := h.exam.SubmitAttempt(r.Context(), user.ID, id, req.Answers)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, errBadRequest)
		return
	}
	user := model.UserFromContext(r.Context())
	attempt, err := h.exam.AbandonAttempt(r.Context(), user.ID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, attempt)
}

func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, errBadRequest)
		return
	}
	user := model.UserFromContext(r.Context())
	out, err := h.exam.GetResult(r.Context(), user.ID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	views, err := h.exam.ListCertificates(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, views)
}

func (h *Handler) handleToggleVisibility(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, errBadRequest)
		return
	}
	user := model.UserFromContext(r.Context())
	c, err := h.exam.ToggleCertificateVisibility(r.Context(), user.ID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}
