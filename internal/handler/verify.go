package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/certifier/internal/exam"
	appI18n "github.com/pavelanni/certifier/internal/i18n"
	"github.com/pavelanni/certifier/internal/model"
)

func (h *Handler) handleVerifyJSON(w http.ResponseWriter, r *http.Request) {
	v, err := h.exam.VerifyCertificate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (h *Handler) handleVerifyPage(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	v, err := h.exam.VerifyCertificate(r.Context(), code)

	var page templ.Component
	switch {
	case errors.Is(err, exam.ErrCertificateNotFound):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		page = verifyNotFoundPage(code)
	case err != nil:
		slog.Error("verify certificate", "error", err)
		http.Error(w, appI18n.T(r.Context(), "ErrInternal"), http.StatusInternalServerError)
		return
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		page = verifyPage(v)
	}
	if err := page.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><title>%s | %s</title></head><body><main>`,
			templ.EscapeString(title), templ.EscapeString(appI18n.T(ctx, "AppTitle"))); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</main></body></html>`)
		return err
	})
}

func statusLabel(ctx context.Context, s model.CertificateStatus) string {
	switch s {
	case model.CertificateExpiringSoon:
		return appI18n.T(ctx, "StatusExpiringSoon")
	case model.CertificateExpired:
		return appI18n.T(ctx, "StatusExpired")
	default:
		return appI18n.T(ctx, "StatusValid")
	}
}

func verifyPage(v model.Verification) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		holder := v.HolderName
		if holder == "" {
			holder = appI18n.T(ctx, "VerifyHolderHidden")
		}
		expires := appI18n.T(ctx, "VerifyNoExpiry")
		if v.ExpiresAt != nil {
			expires = v.ExpiresAt.Format("2006-01-02")
		}
		status := statusLabel(ctx, v.Status)
		if v.Status == model.CertificateExpiringSoon && v.DaysRemaining > 0 {
			status += " (" + appI18n.Tp(ctx, "ExpiresInDays", v.DaysRemaining) + ")"
		}

		rows := []struct{ label, value string }{
			{appI18n.T(ctx, "VerifyCertification"), v.CertificationName},
			{appI18n.T(ctx, "VerifyCertificateNumber"), v.CertificateNumber},
			{appI18n.T(ctx, "VerifyCode"), v.VerificationCode},
			{appI18n.T(ctx, "VerifyHolder"), holder},
			{appI18n.T(ctx, "VerifyIssued"), v.IssuedAt.Format("2006-01-02")},
			{appI18n.T(ctx, "VerifyExpires"), expires},
		}

		if _, err := fmt.Fprintf(w, `<h1>%s</h1><p class="status status-%s">%s</p><dl>`,
			templ.EscapeString(appI18n.T(ctx, "VerifyTitle")),
			templ.EscapeString(string(v.Status)),
			templ.EscapeString(status)); err != nil {
			return err
		}
		for _, row := range rows {
			if _, err := fmt.Fprintf(w, `<dt>%s</dt><dd>%s</dd>`,
				templ.EscapeString(row.label), templ.EscapeString(row.value)); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</dl>`)
		return err
	})
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return layout(appI18n.T(ctx, "VerifyTitle"), body).Render(ctx, w)
	})
}

func verifyNotFoundPage(code string) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<h1>%s</h1><p class="status status-not-found">%s</p>`,
			templ.EscapeString(appI18n.T(ctx, "VerifyTitle")),
			templ.EscapeString(appI18n.Td(ctx, "VerifyNotFound", map[string]any{"Code": code})))
		return err
	})
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return layout(appI18n.T(ctx, "VerifyTitle"), body).Render(ctx, w)
	})
}
