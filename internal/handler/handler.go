package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pavelanni/certifier/internal/exam"
	appI18n "github.com/pavelanni/certifier/internal/i18n"
	"github.com/pavelanni/certifier/internal/model"
	"github.com/pavelanni/certifier/internal/store"
)

// maxBodyBytes caps request bodies, including uploaded definitions.
const maxBodyBytes = 10 << 20

// Config holds the HTTP layer settings.
type Config struct {
	SecureCookies bool
	CORSOrigins   []string
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	exam   *exam.Service
	config Config
}

// New creates a new Handler.
func New(s *store.Store, svc *exam.Service, cfg Config) *Handler {
	return &Handler{store: s, exam: svc, config: cfg}
}

// Router returns the complete HTTP handler with middleware installed.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(h.config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type", csrfHeaderName},
			ExposedHeaders:   []string{"Content-Language"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware())
	h.Routes(r)
	return r
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/login", h.handleLogin)
	r.Get("/api/verify/{code}", h.handleVerifyJSON)
	r.Get("/verify/{code}", h.handleVerifyPage)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(h.csrfMiddleware)

		r.Post("/api/logout", h.handleLogout)
		r.Get("/api/certifications", h.handleListCertifications)
		r.Get("/api/certifications/{id}", h.handleGetCertification)
		r.Post("/api/certifications/{id}/attempts", h.handleStartAttempt)
		r.Get("/api/certifications/{id}/attempts", h.handleListAttempts)
		r.Get("/api/attempts/{id}", h.handleGetAttempt)
		r.Put("/api/attempts/{id}/progress", h.handleSaveProgress)
		r.Post("/api/attempts/{id}/submit", h.handleSubmit)
		r.Post("/api/attempts/{id}/abandon", h.handleAbandon)
		r.Get("/api/attempts/{id}/result", h.handleGetResult)
		r.Get("/api/certificates", h.handleListCertificates)
		r.Post("/api/certificates/{id}/visibility", h.handleToggleVisibility)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Post("/certifications", h.handleImportCertification)
			r.Get("/users", h.handleListUsers)
			r.Post("/users", h.handleCreateUser)
			r.Post("/users/{id}/active", h.handleToggleUserActive)
			r.Get("/export", h.handleExport)
		})
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			slog.Error("encode response", "error", err)
		}
	}
}

type errorResponse struct {
	Error   string             `json:"error"`
	Message string             `json:"message"`
	Fields  []model.FieldError `json:"fields,omitempty"`
}

// apiError describes how a failure is reported to clients.
type apiError struct {
	status int
	code   string
	msgID  string
}

var (
	errBadRequest         = apiError{http.StatusBadRequest, "invalid_request", "ErrInvalidRequest"}
	errUnauthorized       = apiError{http.StatusUnauthorized, "unauthorized", "ErrUnauthorized"}
	errForbidden          = apiError{http.StatusForbidden, "forbidden", "ErrForbidden"}
	errInvalidCredentials = apiError{http.StatusUnauthorized, "invalid_credentials", "ErrInvalidCredentials"}
	errCSRF               = apiError{http.StatusForbidden, "csrf", "ErrCSRF"}
	errInternal           = apiError{http.StatusInternalServerError, "internal", "ErrInternal"}
)

// classify maps a service error to its API representation. Order matters:
// the more specific sentinels also match ErrAttemptNotActive.
func classify(err error) (apiError, bool) {
	switch {
	case errors.Is(err, exam.ErrAlreadySubmitted):
		return apiError{http.StatusConflict, "already_submitted", "ErrAlreadySubmitted"}, true
	case errors.Is(err, exam.ErrAttemptExpired):
		return apiError{http.StatusConflict, "attempt_expired", "ErrAttemptExpired"}, true
	case errors.Is(err, exam.ErrAttemptNotActive):
		return apiError{http.StatusConflict, "attempt_not_active", "ErrAttemptNotActive"}, true
	case errors.Is(err, exam.ErrAttemptAlreadyActive):
		return apiError{http.StatusConflict, "attempt_already_active", "ErrAttemptAlreadyActive"}, true
	case errors.Is(err, exam.ErrAttemptLimitExceeded):
		return apiError{http.StatusForbidden, "attempt_limit_exceeded", "ErrAttemptLimitExceeded"}, true
	case errors.Is(err, exam.ErrAttemptNotFound):
		return apiError{http.StatusNotFound, "attempt_not_found", "ErrAttemptNotFound"}, true
	case errors.Is(err, exam.ErrResultNotFound):
		return apiError{http.StatusNotFound, "result_not_found", "ErrResultNotFound"}, true
	case errors.Is(err, exam.ErrCertificateNotFound):
		return apiError{http.StatusNotFound, "certificate_not_found", "ErrCertificateNotFound"}, true
	case errors.Is(err, exam.ErrCertificationNotFound):
		return apiError{http.StatusNotFound, "certification_not_found", "ErrCertificationNotFound"}, true
	case errors.Is(err, exam.ErrDuplicateCodeRetryExhausted):
		return apiError{http.StatusServiceUnavailable, "code_retry_exhausted", "ErrCodeRetryExhausted"}, true
	case errors.Is(err, exam.ErrMalformedDefinition):
		return errBadRequest, true
	case errors.Is(err, store.ErrUsernameTaken):
		return apiError{http.StatusConflict, "username_taken", "ErrUsernameTaken"}, true
	}
	return apiError{}, false
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, e apiError) {
	respondJSON(w, e.status, errorResponse{Error: e.code, Message: appI18n.T(r.Context(), e.msgID)})
}

// writeError reports err to the client. Unknown errors are logged and
// hidden behind a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   "validation_failed",
			Message: appI18n.T(r.Context(), "ErrValidation"),
			Fields:  verr.Fields,
		})
		return
	}
	if e, ok := classify(err); ok {
		slog.Debug("request rejected", "path", r.URL.Path, "error", err)
		h.fail(w, r, e)
		return
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()), "error", err)
	h.fail(w, r, errInternal)
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, chi.URLParam(r, name))
	}
	return id, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
