package model

import "time"

// QuestionType identifies how a question is answered and graded.
type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionMultiSelect  QuestionType = "multi_select"
	QuestionTrueFalse    QuestionType = "true_false"
	QuestionShortAnswer  QuestionType = "short_answer"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionSingleChoice, QuestionMultiSelect, QuestionTrueFalse, QuestionShortAnswer:
		return true
	}
	return false
}

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Section is a weighted grouping of questions within a certification exam.
type Section struct {
	Name          string  `json:"name" validate:"required"`
	QuestionCount int     `json:"question_count" validate:"gte=1"`
	Weight        float64 `json:"weight" validate:"gt=0,lte=100"`
}

// Certification defines an exam. It is immutable once stored; a changed
// definition is stored as a new version with a new ID.
type Certification struct {
	ID              int64     `json:"id"`
	Code            string    `json:"code" validate:"required,max=16"`
	Version         int       `json:"version"`
	Name            string    `json:"name" validate:"required"`
	Category        string    `json:"category"`
	Level           string    `json:"level"`
	PassingScore    float64   `json:"passing_score" validate:"gte=0,lte=100"`
	MaxAttempts     int       `json:"max_attempts" validate:"gte=1"`
	DurationMinutes int       `json:"duration_minutes" validate:"gte=1"`
	ValidityMonths  int       `json:"validity_months" validate:"gte=0"`
	Sections        []Section `json:"sections" validate:"required,min=1,dive"`
	SkillsCovered   []string  `json:"skills_covered"`
	CreatedAt       time.Time `json:"created_at"`
}

// Duration returns the time allowed for one attempt.
func (c Certification) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

// ExpiresAt returns when a certificate issued at issuedAt expires, or nil
// when the certification does not expire.
func (c Certification) ExpiresAt(issuedAt time.Time) *time.Time {
	if c.ValidityMonths <= 0 {
		return nil
	}
	t := issuedAt.AddDate(0, c.ValidityMonths, 0)
	return &t
}

// Question is one item of a certification's question bank.
type Question struct {
	ID              int64        `json:"id"`
	CertificationID int64        `json:"certification_id"`
	Section         string       `json:"section" validate:"required"`
	Type            QuestionType `json:"type" validate:"required,oneof=single_choice multi_select true_false short_answer"`
	Prompt          string       `json:"prompt" validate:"required"`
	Options         []string     `json:"options,omitempty"`
	CorrectAnswers  []string     `json:"correct_answers,omitempty" validate:"required,min=1"`
	Points          float64      `json:"points" validate:"gt=0"`
	Difficulty      Difficulty   `json:"difficulty,omitempty" validate:"omitempty,oneof=easy medium hard"`
	Explanation     string       `json:"explanation,omitempty"`
}

// Public returns a copy of the question safe to show to an examinee.
func (q Question) Public() Question {
	q.CorrectAnswers = nil
	q.Explanation = ""
	return q
}

// CertificationDefinition is the import format for a certification and
// its question bank.
type CertificationDefinition struct {
	Certification
	Questions []Question `json:"questions" validate:"required,min=1,dive"`
}

// CertificationView combines a certification with its examinee-safe questions.
type CertificationView struct {
	Certification Certification `json:"certification"`
	Questions     []Question    `json:"questions"`
}
