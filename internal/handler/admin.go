package handler

import (
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/certifier/internal/model"
)

type importResponse struct {
	Certification model.Certification `json:"certification"`
	Created       bool                `json:"created"`
}

// handleImportCertification takes a raw definition document. The source
// query parameter names it for change detection across uploads.
func (h *Handler) handleImportCertification(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, errBadRequest)
		return
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "upload"
	}

	cert, created, err := h.exam.ImportDefinition(r.Context(), "api:"+source, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	slog.Info("imported certification via admin", "source", source, "code", cert.Code, "created", created)
	respondJSON(w, status, importResponse{Certification: cert, Created: created})
}

type createUserRequest struct {
	Username    string         `json:"username" validate:"required,min=3,max=64,alphanum"`
	DisplayName string         `json:"display_name" validate:"max=128"`
	Password    string         `json:"password" validate:"required,min=8,max=72"`
	Role        model.UserRole `json:"role" validate:"omitempty,oneof=candidate admin"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, errBadRequest)
		return
	}
	if err := model.ValidateStruct(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	u := model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	}
	u.ID, err = h.store.CreateUser(r.Context(), u)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if u.Role == "" {
		u.Role = model.UserRoleCandidate
	}
	respondJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	respondJSON(w, http.StatusOK, users)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, errBadRequest)
		return
	}
	u, err := h.store.ToggleUserActive(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if u == nil {
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "user_not_found"})
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := h.store.ExportResults(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, export)
}
