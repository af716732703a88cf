package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pavelanni/certifier/internal/model"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// InsertResult stores the result of an attempt. A second result for the
// same attempt is rejected with ErrDuplicate.
func (s *Store) InsertResult(ctx context.Context, r model.Result) (int64, error) {
	sections, err := json.Marshal(r.Sections)
	if err != nil {
		return 0, err
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO results (attempt_id, total_score, sections_json, passed, grade, duration_used, forced, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.AttemptID, r.TotalScore, string(sections), r.Passed, r.Grade, r.DurationUsedSeconds, r.Forced, r.CreatedAt,
	)
	if err != nil {
		return 0, duplicateErr(err)
	}
	return res.LastInsertId()
}

// GetResultByAttempt returns the result of an attempt, or nil if the attempt
// has not been scored.
func (s *Store) GetResultByAttempt(ctx context.Context, attemptID int64) (*model.Result, error) {
	var r model.Result
	var sections string
	var certID sql.NullInt64
	err := s.q.QueryRowContext(ctx,
		`SELECT id, attempt_id, total_score, sections_json, passed, grade, duration_used, forced, certificate_id, created_at
		 FROM results WHERE attempt_id = ?`, attemptID,
	).Scan(&r.ID, &r.AttemptID, &r.TotalScore, &sections, &r.Passed, &r.Grade, &r.DurationUsedSeconds, &r.Forced, &certID, &r.CreatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sections), &r.Sections); err != nil {
		return nil, fmt.Errorf("decode sections of result %d: %w", r.ID, err)
	}
	if certID.Valid {
		r.CertificateID = &certID.Int64
	}
	return &r, nil
}

// LinkResultCertificate records which certificate a passed result holds.
// A reused certificate is linked to every result that earned it.
func (s *Store) LinkResultCertificate(ctx context.Context, resultID, certID int64) error {
	res, err := s.q.ExecContext(ctx, `UPDATE results SET certificate_id = ? WHERE id = ?`, certID, resultID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("result %d: %w", resultID, sql.ErrNoRows)
	}
	return nil
}

// ResultCount returns the number of stored results.
func (s *Store) ResultCount(ctx context.Context) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&count)
	return count, err
}
