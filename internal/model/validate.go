package model

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError is used to indicate an error with a specific field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError reports why an input was rejected, field by field.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Error: fmt.Sprintf(format, args...)})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Use JSON tag names for errors instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateStruct checks the validate tags of v.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	verr := &ValidationError{}
	for _, fe := range fieldErrs {
		verr.add(fe.Namespace(), "failed %q validation", fe.Tag())
	}
	return verr
}

// weightTolerance absorbs float noise in weights such as 33.33+33.33+33.34.
const weightTolerance = 1e-6

// Validate checks the structure of a definition and the exam invariants:
// section weights sum to 100, every question belongs to a declared section,
// each section holds exactly its declared number of questions and answer
// keys are consistent with the question type.
func (d *CertificationDefinition) Validate() error {
	if err := ValidateStruct(d); err != nil {
		return err
	}

	verr := &ValidationError{}
	var total float64
	counts := make(map[string]int, len(d.Sections))
	for i, s := range d.Sections {
		if _, dup := counts[s.Name]; dup {
			verr.add(fmt.Sprintf("sections[%d].name", i), "duplicate section %q", s.Name)
		}
		counts[s.Name] = 0
		total += s.Weight
	}
	if math.Abs(total-100) > weightTolerance {
		verr.add("sections", "weights sum to %g, want 100", total)
	}

	for i, q := range d.Questions {
		field := fmt.Sprintf("questions[%d]", i)
		n, ok := counts[q.Section]
		if !ok {
			verr.add(field+".section", "unknown section %q", q.Section)
			continue
		}
		counts[q.Section] = n + 1
		checkAnswerKey(verr, field, q)
	}

	for i, s := range d.Sections {
		if got := counts[s.Name]; got != s.QuestionCount {
			verr.add(fmt.Sprintf("sections[%d].question_count", i),
				"section %q declares %d questions, bank has %d", s.Name, s.QuestionCount, got)
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func checkAnswerKey(verr *ValidationError, field string, q Question) {
	switch q.Type {
	case QuestionTrueFalse:
		if len(q.CorrectAnswers) != 1 {
			verr.add(field+".correct_answers", "true_false needs exactly one answer")
			return
		}
		a := strings.ToLower(strings.TrimSpace(q.CorrectAnswers[0]))
		if a != "true" && a != "false" {
			verr.add(field+".correct_answers", "true_false answer must be true or false")
		}
	case QuestionSingleChoice:
		if len(q.CorrectAnswers) != 1 {
			verr.add(field+".correct_answers", "single_choice needs exactly one answer")
		}
		checkOptions(verr, field, q)
	case QuestionMultiSelect:
		checkOptions(verr, field, q)
	}
}

func checkOptions(verr *ValidationError, field string, q Question) {
	if len(q.Options) == 0 {
		verr.add(field+".options", "%s needs options", q.Type)
		return
	}
	opts := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		opts[strings.ToLower(strings.TrimSpace(o))] = true
	}
	for _, a := range q.CorrectAnswers {
		if !opts[strings.ToLower(strings.TrimSpace(a))] {
			verr.add(field+".correct_answers", "answer %q is not one of the options", a)
		}
	}
}
