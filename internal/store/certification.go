package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/certifier/internal/model"
)

const certificationColumns = `id, code, version, name, category, level, passing_score, max_attempts,
	duration_minutes, validity_months, sections_json, skills_json, created_at`

// InsertCertification stores a certification and its question bank as the
// next version of its code. It returns the stored certification.
func (s *Store) InsertCertification(ctx context.Context, def model.CertificationDefinition) (model.Certification, error) {
	cert := def.Certification
	err := s.InTx(ctx, func(tx *Store) error {
		var maxVersion int
		if err := tx.q.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM certifications WHERE code = ?`, cert.Code,
		).Scan(&maxVersion); err != nil {
			return err
		}
		cert.Version = maxVersion + 1
		cert.CreatedAt = time.Now().UTC()

		sections, err := json.Marshal(cert.Sections)
		if err != nil {
			return err
		}
		skills, err := json.Marshal(nonNil(cert.SkillsCovered))
		if err != nil {
			return err
		}
		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO certifications (code, version, name, category, level, passing_score, max_attempts,
			 duration_minutes, validity_months, sections_json, skills_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cert.Code, cert.Version, cert.Name, cert.Category, cert.Level, cert.PassingScore, cert.MaxAttempts,
			cert.DurationMinutes, cert.ValidityMonths, string(sections), string(skills), cert.CreatedAt,
		)
		if err != nil {
			return duplicateErr(err)
		}
		if cert.ID, err = res.LastInsertId(); err != nil {
			return err
		}

		for i, q := range def.Questions {
			if _, err := tx.insertQuestion(ctx, cert.ID, i, q); err != nil {
				return fmt.Errorf("insert question %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return model.Certification{}, err
	}
	return cert, nil
}

func (s *Store) insertQuestion(ctx context.Context, certID int64, position int, q model.Question) (int64, error) {
	options, err := json.Marshal(nonNil(q.Options))
	if err != nil {
		return 0, err
	}
	correct, err := json.Marshal(nonNil(q.CorrectAnswers))
	if err != nil {
		return 0, err
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO questions (certification_id, position, section, type, prompt, options_json, correct_json,
		 points, difficulty, explanation)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		certID, position, q.Section, q.Type, q.Prompt, string(options), string(correct),
		q.Points, q.Difficulty, q.Explanation,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertification(row rowScanner) (model.Certification, error) {
	var c model.Certification
	var sections, skills string
	err := row.Scan(&c.ID, &c.Code, &c.Version, &c.Name, &c.Category, &c.Level, &c.PassingScore, &c.MaxAttempts,
		&c.DurationMinutes, &c.ValidityMonths, &sections, &skills, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(sections), &c.Sections); err != nil {
		return c, fmt.Errorf("decode sections of certification %d: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(skills), &c.SkillsCovered); err != nil {
		return c, fmt.Errorf("decode skills of certification %d: %w", c.ID, err)
	}
	return c, nil
}

// GetCertification returns a certification by ID.
func (s *Store) GetCertification(ctx context.Context, id int64) (model.Certification, error) {
	return scanCertification(s.q.QueryRowContext(ctx,
		`SELECT `+certificationColumns+` FROM certifications WHERE id = ?`, id))
}

// ListCertifications returns the latest version of every certification code.
func (s *Store) ListCertifications(ctx context.Context) ([]model.Certification, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+certificationColumns+` FROM certifications c
		 WHERE version = (SELECT MAX(version) FROM certifications WHERE code = c.code)
		 ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var certs []model.Certification
	for rows.Next() {
		c, err := scanCertification(rows)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	return certs, rows.Err()
}

// ListQuestions returns the question bank of a certification in definition order.
func (s *Store) ListQuestions(ctx context.Context, certID int64) ([]model.Question, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, certification_id, section, type, prompt, options_json, correct_json, points, difficulty, explanation
		 FROM questions WHERE certification_id = ? ORDER BY position`, certID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var options, correct string
		if err := rows.Scan(&q.ID, &q.CertificationID, &q.Section, &q.Type, &q.Prompt, &options, &correct,
			&q.Points, &q.Difficulty, &q.Explanation); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of question %d: %w", q.ID, err)
		}
		if err := json.Unmarshal([]byte(correct), &q.CorrectAnswers); err != nil {
			return nil, fmt.Errorf("decode answers of question %d: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
