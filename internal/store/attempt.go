package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/certifier/internal/model"
)

const attemptColumns = `id, user_id, certification_id, status, started_at, deadline, time_remaining,
	current_index, answers_json, version, finished_at`

func scanAttempt(row rowScanner) (model.Attempt, error) {
	var a model.Attempt
	var answers string
	err := row.Scan(&a.ID, &a.UserID, &a.CertificationID, &a.Status, &a.StartedAt, &a.Deadline,
		&a.TimeRemainingSeconds, &a.CurrentQuestionIndex, &answers, &a.Version, &a.FinishedAt)
	if err != nil {
		return a, err
	}
	a.Answers = map[int64]model.AnswerEntry{}
	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return a, fmt.Errorf("decode answers of attempt %d: %w", a.ID, err)
	}
	return a, nil
}

// CreateAttempt inserts an in-progress attempt. It returns ErrDuplicate when
// the user already has an in-progress attempt for the certification.
func (s *Store) CreateAttempt(ctx context.Context, a model.Attempt) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO attempts (user_id, certification_id, status, started_at, deadline, time_remaining, current_index,
		 answers_json, version)
		 VALUES (?, ?, 'in_progress', ?, ?, ?, 0, '{}', 1)`,
		a.UserID, a.CertificationID, a.StartedAt, a.Deadline, a.TimeRemainingSeconds,
	)
	if err != nil {
		return 0, duplicateErr(err)
	}
	return res.LastInsertId()
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, id int64) (model.Attempt, error) {
	return scanAttempt(s.q.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id))
}

// GetActiveAttempt returns the in-progress attempt of a user for a
// certification, or nil if there is none.
func (s *Store) GetActiveAttempt(ctx context.Context, userID, certID int64) (*model.Attempt, error) {
	a, err := scanAttempt(s.q.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts
		 WHERE user_id = ? AND certification_id = ? AND status = 'in_progress'`, userID, certID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// CountAttempts returns how many attempts a user has started for a certification.
func (s *Store) CountAttempts(ctx context.Context, userID, certID int64) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE user_id = ? AND certification_id = ?`, userID, certID,
	).Scan(&count)
	return count, err
}

// ListAttempts returns a user's attempts for a certification, oldest first.
func (s *Store) ListAttempts(ctx context.Context, userID, certID int64) ([]model.Attempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE user_id = ? AND certification_id = ? ORDER BY id`,
		userID, certID)
}

// ListAttemptsByStatus returns all attempts in the given status, oldest first.
func (s *Store) ListAttemptsByStatus(ctx context.Context, status model.AttemptStatus) ([]model.Attempt, error) {
	return s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE status = ? ORDER BY id`, status)
}

// ListAllAttempts returns every attempt, oldest first.
func (s *Store) ListAllAttempts(ctx context.Context) ([]model.Attempt, error) {
	return s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM attempts ORDER BY id`)
}

func (s *Store) queryAttempts(ctx context.Context, query string, args ...any) ([]model.Attempt, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// SaveProgress overwrites the answer snapshot, question index and remaining
// time of an in-progress attempt. It reports false when the attempt is no
// longer in progress.
func (s *Store) SaveProgress(ctx context.Context, a model.Attempt) (bool, error) {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return false, err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE attempts SET answers_json = ?, current_index = ?, time_remaining = ?, version = version + 1
		 WHERE id = ? AND status = 'in_progress'`,
		string(answers), a.CurrentQuestionIndex, a.TimeRemainingSeconds, a.ID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FinishAttempt moves an in-progress attempt to a terminal status with the
// final answer snapshot. It is a compare-and-swap on the status: exactly one
// caller can finish an attempt, every other caller gets false.
func (s *Store) FinishAttempt(ctx context.Context, a model.Attempt, status model.AttemptStatus, at time.Time) (bool, error) {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return false, err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE attempts SET status = ?, answers_json = ?, time_remaining = ?, finished_at = ?, version = version + 1
		 WHERE id = ? AND status = 'in_progress'`,
		status, string(answers), a.TimeRemainingSeconds, at, a.ID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
