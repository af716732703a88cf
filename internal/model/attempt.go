package model

import (
	"encoding/json"
	"time"
)

// AttemptStatus represents the lifecycle state of an exam attempt.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusSubmitted  AttemptStatus = "submitted"
	StatusExpired    AttemptStatus = "expired"
	StatusAbandoned  AttemptStatus = "abandoned"
)

// Answer is a tagged union of the answer shapes. Value holds the text for
// single_choice, true_false and short_answer questions; Values holds the
// selection for multi_select questions.
type Answer struct {
	Type   QuestionType
	Value  string
	Values []string
}

// TextAnswer builds an answer for a text-valued question type.
func TextAnswer(t QuestionType, v string) Answer {
	return Answer{Type: t, Value: v}
}

// SelectAnswer builds a multi_select answer.
func SelectAnswer(values ...string) Answer {
	return Answer{Type: QuestionMultiSelect, Values: values}
}

type answerJSON struct {
	Type  QuestionType    `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the answer as {"type": ..., "value": ...}.
func (a Answer) MarshalJSON() ([]byte, error) {
	var v any = a.Value
	if a.Type == QuestionMultiSelect {
		vals := a.Values
		if vals == nil {
			vals = []string{}
		}
		v = vals
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(answerJSON{Type: a.Type, Value: raw})
}

// UnmarshalJSON decodes {"type": ..., "value": ...}. A value whose shape
// does not match the type is left empty rather than rejected, so a
// malformed answer is simply graded as incorrect.
func (a *Answer) UnmarshalJSON(data []byte) error {
	var raw answerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Answer{Type: raw.Type}
	if len(raw.Value) == 0 {
		return nil
	}
	if raw.Type == QuestionMultiSelect {
		var vals []string
		if json.Unmarshal(raw.Value, &vals) == nil {
			a.Values = vals
		}
		return nil
	}
	var s string
	if json.Unmarshal(raw.Value, &s) == nil {
		a.Value = s
	}
	return nil
}

// AnswerEntry is the saved state of one question within an attempt.
type AnswerEntry struct {
	Answer           Answer `json:"answer"`
	Flagged          bool   `json:"flagged"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
}

// Attempt is one timed exam session by a user against a certification.
type Attempt struct {
	ID                   int64                 `json:"id"`
	UserID               int64                 `json:"user_id"`
	CertificationID      int64                 `json:"certification_id"`
	Status               AttemptStatus         `json:"status"`
	StartedAt            time.Time             `json:"started_at"`
	Deadline             time.Time             `json:"deadline"`
	TimeRemainingSeconds int                   `json:"time_remaining_seconds"`
	CurrentQuestionIndex int                   `json:"current_question_index"`
	Answers              map[int64]AnswerEntry `json:"answers"`
	Version              int64                 `json:"version"`
	FinishedAt           *time.Time            `json:"finished_at,omitempty"`
}

// RemainingAt returns the server-computed whole seconds left at now.
func (a Attempt) RemainingAt(now time.Time) int {
	left := a.Deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

// Overdue reports whether the attempt is in progress past its deadline.
func (a Attempt) Overdue(now time.Time) bool {
	return a.Status == StatusInProgress && !now.Before(a.Deadline)
}

// SectionScore is the scored outcome of one section.
type SectionScore struct {
	Name           string  `json:"name"`
	Weight         float64 `json:"weight"`
	CorrectCount   int     `json:"correct_count"`
	TotalCount     int     `json:"total_count"`
	PointsEarned   float64 `json:"points_earned"`
	PointsPossible float64 `json:"points_possible"`
	Percentage     float64 `json:"percentage"`
}

// Result is the immutable scored outcome of a finished attempt.
type Result struct {
	ID                  int64          `json:"id"`
	AttemptID           int64          `json:"attempt_id"`
	TotalScore          float64        `json:"total_score"`
	Sections            []SectionScore `json:"sections"`
	Passed              bool           `json:"passed"`
	Grade               string         `json:"grade"`
	DurationUsedSeconds int            `json:"duration_used_seconds"`
	Forced              bool           `json:"forced"`
	CertificateID       *int64         `json:"certificate_id,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
}

// Certificate is issued for a passed result.
type Certificate struct {
	ID                int64      `json:"id"`
	UserID            int64      `json:"user_id"`
	CertificationID   int64      `json:"certification_id"`
	ResultID          int64      `json:"result_id"`
	Serial            int64      `json:"serial"`
	CertificateNumber string     `json:"certificate_number"`
	VerificationCode  string     `json:"verification_code"`
	IssuedAt          time.Time  `json:"issued_at"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	IsPublic          bool       `json:"is_public"`
}

// CertificateStatus is the derived validity of a certificate.
type CertificateStatus string

const (
	CertificateValid        CertificateStatus = "valid"
	CertificateExpiringSoon CertificateStatus = "expiring_soon"
	CertificateExpired      CertificateStatus = "expired"
)

// DaysRemainingAt returns the days left before expiry at now, counting a
// partial day as a whole one. It is 0 for expired and non-expiring
// certificates.
func (c Certificate) DaysRemainingAt(now time.Time) int {
	if c.ExpiresAt == nil || !now.Before(*c.ExpiresAt) {
		return 0
	}
	const day = 24 * time.Hour
	left := c.ExpiresAt.Sub(now)
	return int((left + day - 1) / day)
}

// StatusAt derives the certificate status at now given the warning window.
func (c Certificate) StatusAt(now time.Time, warning time.Duration) CertificateStatus {
	if c.ExpiresAt == nil {
		return CertificateValid
	}
	if !now.Before(*c.ExpiresAt) {
		return CertificateExpired
	}
	if c.ExpiresAt.Sub(now) <= warning {
		return CertificateExpiringSoon
	}
	return CertificateValid
}

// CertificateView pairs a certificate with its derived status.
type CertificateView struct {
	Certificate       Certificate       `json:"certificate"`
	CertificationName string            `json:"certification_name"`
	Status            CertificateStatus `json:"status"`
	DaysRemaining     int               `json:"days_remaining,omitempty"`
}

// Verification is the public answer to a certificate lookup. HolderName is
// only filled for public certificates.
type Verification struct {
	CertificateNumber string            `json:"certificate_number"`
	VerificationCode  string            `json:"verification_code"`
	CertificationName string            `json:"certification_name"`
	CertificationCode string            `json:"certification_code"`
	Level             string            `json:"level,omitempty"`
	HolderName        string            `json:"holder_name,omitempty"`
	IssuedAt          time.Time         `json:"issued_at"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
	Status            CertificateStatus `json:"status"`
}

// Outcome is what a finished attempt produced.
type Outcome struct {
	Attempt     Attempt      `json:"attempt"`
	Result      Result       `json:"result"`
	Certificate *Certificate `json:"certificate,omitempty"`
}
