// Package exam runs certification attempts: it enforces the attempt
// lifecycle, scores finished attempts and issues certificates.
package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/certifier/internal/model"
	"github.com/pavelanni/certifier/internal/store"
)

// MaxCodeAttempts bounds how many identifier pairs are tried when a new
// certificate clashes with an existing one.
const MaxCodeAttempts = 5

// DefaultExpiryWarning is how long before expiry a certificate is
// reported as expiring_soon.
const DefaultExpiryWarning = 30 * 24 * time.Hour

type Service struct {
	store         *store.Store
	now           func() time.Time
	newCode       func() (string, error)
	expiryWarning time.Duration
}

type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeGenerator replaces the verification code generator.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.newCode = gen }
}

// WithExpiryWarning sets the expiring_soon window.
func WithExpiryWarning(d time.Duration) Option {
	return func(s *Service) { s.expiryWarning = d }
}

func New(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store:         st,
		now:           time.Now,
		newCode:       NewVerificationCode,
		expiryWarning: DefaultExpiryWarning,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// ProgressUpdate is one autosave from the client. Answers replace the saved
// entries question by question. TimeRemainingHint is the client's timer and
// can only lower the stored remaining time.
type ProgressUpdate struct {
	CurrentIndex      int                         `json:"current_question_index"`
	Answers           map[int64]model.AnswerEntry `json:"answers"`
	TimeRemainingHint *int                        `json:"time_remaining_seconds,omitempty"`
}

// AttemptView is an attempt as its owner sees it: live remaining time and
// the question bank without answer keys.
type AttemptView struct {
	Attempt       model.Attempt       `json:"attempt"`
	Certification model.Certification `json:"certification"`
	Questions     []model.Question    `json:"questions"`
}

func (s *Service) certification(ctx context.Context, st *store.Store, id int64) (model.Certification, error) {
	cert, err := st.GetCertification(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return cert, fmt.Errorf("certification %d: %w", id, ErrCertificationNotFound)
	}
	if err != nil {
		return cert, fmt.Errorf("get certification %d: %w", id, err)
	}
	return cert, nil
}

// ownedAttempt loads an attempt and hides attempts of other users.
func (s *Service) ownedAttempt(ctx context.Context, st *store.Store, userID, attemptID int64) (model.Attempt, error) {
	a, err := st.GetAttempt(ctx, attemptID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && a.UserID != userID) {
		return model.Attempt{}, fmt.Errorf("attempt %d: %w", attemptID, ErrAttemptNotFound)
	}
	if err != nil {
		return model.Attempt{}, fmt.Errorf("get attempt %d: %w", attemptID, err)
	}
	return a, nil
}

func notActive(a model.Attempt) error {
	if a.Status == model.StatusSubmitted {
		return alreadySubmitted(a.ID)
	}
	return fmt.Errorf("attempt %d is %s: %w", a.ID, a.Status, ErrAttemptNotActive)
}

// StartAttempt opens a new in-progress attempt for the user. An overdue
// in-progress attempt is expired first.
func (s *Service) StartAttempt(ctx context.Context, userID, certID int64) (model.Attempt, error) {
	if err := s.expireActiveIfOverdue(ctx, userID, certID); err != nil {
		return model.Attempt{}, err
	}

	var attempt model.Attempt
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		cert, err := s.certification(ctx, tx, certID)
		if err != nil {
			return err
		}
		active, err := tx.GetActiveAttempt(ctx, userID, certID)
		if err != nil {
			return fmt.Errorf("get active attempt: %w", err)
		}
		if active != nil {
			return fmt.Errorf("attempt %d: %w", active.ID, ErrAttemptAlreadyActive)
		}
		used, err := tx.CountAttempts(ctx, userID, certID)
		if err != nil {
			return fmt.Errorf("count attempts: %w", err)
		}
		if used >= cert.MaxAttempts {
			return fmt.Errorf("%d of %d attempts used: %w", used, cert.MaxAttempts, ErrAttemptLimitExceeded)
		}

		now := s.clock()
		attempt = model.Attempt{
			UserID:               userID,
			CertificationID:      certID,
			Status:               model.StatusInProgress,
			StartedAt:            now,
			Deadline:             now.Add(cert.Duration()),
			TimeRemainingSeconds: int(cert.Duration() / time.Second),
			Answers:              map[int64]model.AnswerEntry{},
			Version:              1,
		}
		attempt.ID, err = tx.CreateAttempt(ctx, attempt)
		if errors.Is(err, store.ErrDuplicate) {
			return ErrAttemptAlreadyActive
		}
		if err != nil {
			return fmt.Errorf("create attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Attempt{}, err
	}
	slog.Info("attempt started", "attempt_id", attempt.ID, "user_id", userID, "certification_id", certID)
	return attempt, nil
}

func (s *Service) expireActiveIfOverdue(ctx context.Context, userID, certID int64) error {
	return s.store.InTx(ctx, func(tx *store.Store) error {
		active, err := tx.GetActiveAttempt(ctx, userID, certID)
		if err != nil {
			return fmt.Errorf("get active attempt: %w", err)
		}
		now := s.clock()
		if active == nil || !active.Overdue(now) {
			return nil
		}
		_, err = s.finalize(ctx, tx, *active, model.StatusExpired, now)
		return err
	})
}

// SaveProgress merges an autosave into an in-progress attempt. After the
// deadline the attempt is finalized as expired with its last saved answers
// and ErrAttemptExpired is returned.
func (s *Service) SaveProgress(ctx context.Context, userID, attemptID int64, upd ProgressUpdate) (model.Attempt, error) {
	var (
		saved   model.Attempt
		expired bool
	)
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		a, err := s.ownedAttempt(ctx, tx, userID, attemptID)
		if err != nil {
			return err
		}
		if a.Status != model.StatusInProgress {
			return notActive(a)
		}
		now := s.clock()
		if a.Overdue(now) {
			expired = true
			_, err := s.finalize(ctx, tx, a, model.StatusExpired, now)
			return err
		}

		questions, err := tx.ListQuestions(ctx, a.CertificationID)
		if err != nil {
			return fmt.Errorf("list questions: %w", err)
		}
		known := make(map[int64]bool, len(questions))
		for _, q := range questions {
			known[q.ID] = true
		}
		for id, entry := range upd.Answers {
			if !known[id] {
				continue
			}
			a.Answers[id] = entry
		}

		a.CurrentQuestionIndex = max(0, min(upd.CurrentIndex, len(questions)-1))
		remaining := min(a.TimeRemainingSeconds, a.RemainingAt(now))
		if upd.TimeRemainingHint != nil {
			remaining = min(remaining, *upd.TimeRemainingHint)
		}
		a.TimeRemainingSeconds = max(0, remaining)

		ok, err := tx.SaveProgress(ctx, a)
		if err != nil {
			return fmt.Errorf("save progress: %w", err)
		}
		if !ok {
			return fmt.Errorf("attempt %d: %w", a.ID, ErrAttemptNotActive)
		}
		a.Version++
		saved = a
		return nil
	})
	if err != nil {
		return model.Attempt{}, err
	}
	if expired {
		slog.Info("attempt expired on save", "attempt_id", attemptID)
		return model.Attempt{}, fmt.Errorf("attempt %d: %w", attemptID, ErrAttemptExpired)
	}
	return saved, nil
}

// SubmitAttempt finalizes an in-progress attempt with the given answers,
// scores it and issues a certificate when it passed. A submission after the
// deadline ignores the answers, scores the last saved snapshot and reports
// the attempt as expired.
func (s *Service) SubmitAttempt(ctx context.Context, userID, attemptID int64, answers map[int64]model.AnswerEntry) (model.Outcome, error) {
	var out model.Outcome
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		a, err := s.ownedAttempt(ctx, tx, userID, attemptID)
		if err != nil {
			return err
		}
		if a.Status != model.StatusInProgress {
			return notActive(a)
		}

		now := s.clock()
		status := model.StatusSubmitted
		if a.Overdue(now) {
			status = model.StatusExpired
		} else {
			questions, err := tx.ListQuestions(ctx, a.CertificationID)
			if err != nil {
				return fmt.Errorf("list questions: %w", err)
			}
			for _, q := range questions {
				if entry, ok := answers[q.ID]; ok {
					a.Answers[q.ID] = entry
				}
			}
		}
		out, err = s.finalize(ctx, tx, a, status, now)
		return err
	})
	if err != nil {
		return model.Outcome{}, err
	}
	slog.Info("attempt finalized",
		"attempt_id", attemptID,
		"status", out.Attempt.Status,
		"score", out.Result.TotalScore,
		"passed", out.Result.Passed,
	)
	return out, nil
}

// AbandonAttempt gives up an in-progress attempt. It still counts toward
// the attempt limit and produces no result.
func (s *Service) AbandonAttempt(ctx context.Context, userID, attemptID int64) (model.Attempt, error) {
	var (
		a       model.Attempt
		expired bool
	)
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		a, err = s.ownedAttempt(ctx, tx, userID, attemptID)
		if err != nil {
			return err
		}
		if a.Status != model.StatusInProgress {
			return notActive(a)
		}
		now := s.clock()
		if a.Overdue(now) {
			expired = true
			_, err := s.finalize(ctx, tx, a, model.StatusExpired, now)
			return err
		}
		ok, err := tx.FinishAttempt(ctx, a, model.StatusAbandoned, now)
		if err != nil {
			return fmt.Errorf("abandon attempt: %w", err)
		}
		if !ok {
			return fmt.Errorf("attempt %d: %w", a.ID, ErrAttemptNotActive)
		}
		a.Status = model.StatusAbandoned
		a.FinishedAt = &now
		a.Version++
		return nil
	})
	if err != nil {
		return model.Attempt{}, err
	}
	if expired {
		return model.Attempt{}, fmt.Errorf("attempt %d: %w", attemptID, ErrAttemptExpired)
	}
	slog.Info("attempt abandoned", "attempt_id", attemptID, "user_id", userID)
	return a, nil
}

// GetAttempt returns the owner's view of an attempt.
func (s *Service) GetAttempt(ctx context.Context, userID, attemptID int64) (AttemptView, error) {
	a, err := s.ownedAttempt(ctx, s.store, userID, attemptID)
	if err != nil {
		return AttemptView{}, err
	}
	if a.Status == model.StatusInProgress {
		a.TimeRemainingSeconds = max(0, min(a.TimeRemainingSeconds, a.RemainingAt(s.clock())))
	}
	cert, err := s.certification(ctx, s.store, a.CertificationID)
	if err != nil {
		return AttemptView{}, err
	}
	questions, err := s.store.ListQuestions(ctx, a.CertificationID)
	if err != nil {
		return AttemptView{}, fmt.Errorf("list questions: %w", err)
	}
	for i := range questions {
		questions[i] = questions[i].Public()
	}
	return AttemptView{Attempt: a, Certification: cert, Questions: questions}, nil
}

// ListAttempts returns the user's attempts for a certification, oldest first.
func (s *Service) ListAttempts(ctx context.Context, userID, certID int64) ([]model.Attempt, error) {
	if _, err := s.certification(ctx, s.store, certID); err != nil {
		return nil, err
	}
	attempts, err := s.store.ListAttempts(ctx, userID, certID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

// GetResult returns the outcome of a finalized attempt.
func (s *Service) GetResult(ctx context.Context, userID, attemptID int64) (model.Outcome, error) {
	a, err := s.ownedAttempt(ctx, s.store, userID, attemptID)
	if err != nil {
		return model.Outcome{}, err
	}
	r, err := s.store.GetResultByAttempt(ctx, a.ID)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("get result: %w", err)
	}
	if r == nil {
		return model.Outcome{}, fmt.Errorf("attempt %d: %w", a.ID, ErrResultNotFound)
	}
	c, err := s.store.GetCertificateByResult(ctx, r.ID)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("get certificate: %w", err)
	}
	return model.Outcome{Attempt: a, Result: *r, Certificate: c}, nil
}

// SweepExpired finalizes every in-progress attempt whose deadline has
// passed and returns how many it expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	attempts, err := s.store.ListAttemptsByStatus(ctx, model.StatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("list in-progress attempts: %w", err)
	}
	var (
		swept int
		errs  []error
	)
	for _, candidate := range attempts {
		if !candidate.Overdue(s.clock()) {
			continue
		}
		var expired bool
		err := s.store.InTx(ctx, func(tx *store.Store) error {
			a, err := tx.GetAttempt(ctx, candidate.ID)
			if err != nil {
				return err
			}
			now := s.clock()
			if !a.Overdue(now) {
				return nil
			}
			if _, err := s.finalize(ctx, tx, a, model.StatusExpired, now); err != nil {
				return err
			}
			expired = true
			return nil
		})
		if err != nil {
			slog.Error("failed to expire attempt", "attempt_id", candidate.ID, "error", err)
			errs = append(errs, fmt.Errorf("attempt %d: %w", candidate.ID, err))
			continue
		}
		if expired {
			swept++
		}
	}
	if swept > 0 {
		slog.Info("expired overdue attempts", "count", swept)
	}
	return swept, errors.Join(errs...)
}
