package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/certifier/internal/model"
)

// ExportResults builds an export of every certification and attempt.
// In-progress attempts are left out.
func (s *Store) ExportResults(ctx context.Context) (model.ResultsExport, error) {
	export := model.ResultsExport{GeneratedAt: time.Now().UTC()}

	certs, err := s.ListCertifications(ctx)
	if err != nil {
		return export, fmt.Errorf("list certifications: %w", err)
	}
	export.Certifications = certs

	attempts, err := s.ListAllAttempts(ctx)
	if err != nil {
		return export, fmt.Errorf("list attempts: %w", err)
	}

	// Attempt numbers count per user and certification.
	type key struct{ user, cert int64 }
	attemptNumber := make(map[key]int)
	users := make(map[int64]*model.User)

	for _, a := range attempts {
		k := key{a.UserID, a.CertificationID}
		attemptNumber[k]++
		if a.Status == model.StatusInProgress {
			continue
		}

		user, ok := users[a.UserID]
		if !ok {
			if user, err = s.GetUserByID(ctx, a.UserID); err != nil {
				return export, fmt.Errorf("get user %d: %w", a.UserID, err)
			}
			users[a.UserID] = user
		}

		rec := model.AttemptRecord{
			AttemptID:       a.ID,
			CertificationID: a.CertificationID,
			AttemptNumber:   attemptNumber[k],
			Status:          a.Status,
			StartedAt:       a.StartedAt,
			FinishedAt:      a.FinishedAt,
		}
		if user != nil {
			rec.Username = user.Username
			rec.DisplayName = user.DisplayName
		}

		result, err := s.GetResultByAttempt(ctx, a.ID)
		if err != nil {
			return export, fmt.Errorf("get result of attempt %d: %w", a.ID, err)
		}
		rec.Result = result
		if result != nil {
			cert, err := s.GetCertificateByResult(ctx, result.ID)
			if err != nil {
				return export, fmt.Errorf("get certificate of result %d: %w", result.ID, err)
			}
			if cert != nil {
				rec.CertificateNumber = cert.CertificateNumber
			}
		}
		export.Attempts = append(export.Attempts, rec)
	}

	return export, nil
}
