package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/certifier/internal/model"
	"github.com/pavelanni/certifier/internal/scoring"
	"github.com/pavelanni/certifier/internal/store"
)

// finalize moves an in-progress attempt to status, scores its answers and
// issues a certificate when it passed. It must run inside a transaction so
// that a failure anywhere leaves the attempt in progress without a result.
func (s *Service) finalize(ctx context.Context, tx *store.Store, a model.Attempt, status model.AttemptStatus, now time.Time) (model.Outcome, error) {
	cert, err := s.certification(ctx, tx, a.CertificationID)
	if err != nil {
		return model.Outcome{}, err
	}

	if status == model.StatusExpired {
		a.TimeRemainingSeconds = 0
	} else {
		a.TimeRemainingSeconds = max(0, min(a.TimeRemainingSeconds, a.RemainingAt(now)))
	}
	ok, err := tx.FinishAttempt(ctx, a, status, now)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("finish attempt: %w", err)
	}
	if !ok {
		return model.Outcome{}, alreadySubmitted(a.ID)
	}
	a.Status = status
	a.FinishedAt = &now
	a.Version++

	questions, err := tx.ListQuestions(ctx, cert.ID)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("list questions: %w", err)
	}
	score := scoring.Evaluate(cert, questions, a.Answers)

	used := min(now.Sub(a.StartedAt), cert.Duration())
	result := model.Result{
		AttemptID:           a.ID,
		TotalScore:          score.TotalScore,
		Sections:            score.Sections,
		Passed:              score.Passed,
		Grade:               score.Grade,
		DurationUsedSeconds: max(0, int(used/time.Second)),
		Forced:              status == model.StatusExpired,
		CreatedAt:           now,
	}
	result.ID, err = tx.InsertResult(ctx, result)
	if errors.Is(err, store.ErrDuplicate) {
		return model.Outcome{}, alreadySubmitted(a.ID)
	}
	if err != nil {
		return model.Outcome{}, fmt.Errorf("insert result: %w", err)
	}

	out := model.Outcome{Attempt: a, Result: result}
	if result.Passed {
		out.Certificate, err = s.issue(ctx, tx, cert, a.UserID, result.ID, now)
		if err != nil {
			return model.Outcome{}, err
		}
		if err := tx.LinkResultCertificate(ctx, result.ID, out.Certificate.ID); err != nil {
			return model.Outcome{}, fmt.Errorf("link certificate: %w", err)
		}
		out.Result.CertificateID = &out.Certificate.ID
	}
	return out, nil
}

// issue returns the user's live certificate for cert, or creates one.
// Identifiers are not checked up front: the insert is retried with a fresh
// serial and code when it hits a unique constraint.
func (s *Service) issue(ctx context.Context, tx *store.Store, cert model.Certification, userID, resultID int64, now time.Time) (*model.Certificate, error) {
	live, err := tx.FindLiveCertificate(ctx, userID, cert.ID, now)
	if err != nil {
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	if live != nil {
		return live, nil
	}

	serial, err := tx.NextSerial(ctx)
	if err != nil {
		return nil, fmt.Errorf("next serial: %w", err)
	}
	for i := range MaxCodeAttempts {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate verification code: %w", err)
		}
		c := model.Certificate{
			UserID:            userID,
			CertificationID:   cert.ID,
			ResultID:          resultID,
			Serial:            serial + int64(i),
			CertificateNumber: CertificateNumber(cert.Code, now.Year(), serial+int64(i)),
			VerificationCode:  code,
			IssuedAt:          now,
			ExpiresAt:         cert.ExpiresAt(now),
			IsPublic:          true,
		}
		c.ID, err = tx.InsertCertificate(ctx, c)
		if errors.Is(err, store.ErrDuplicate) {
			slog.Warn("certificate identifier collision", "certificate_number", c.CertificateNumber, "try", i+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert certificate: %w", err)
		}
		slog.Info("certificate issued", "certificate_number", c.CertificateNumber, "user_id", userID)
		return &c, nil
	}
	return nil, ErrDuplicateCodeRetryExhausted
}
