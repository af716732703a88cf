// Package scoring grades attempt answers against a certification's question
// bank. Scoring is pure and deterministic: the same inputs always produce
// the same result, and malformed or missing answers score zero instead of
// failing.
package scoring

import (
	"math"
	"strings"

	"github.com/pavelanni/certifier/internal/model"
)

// Band maps a minimum total score to a performance grade.
type Band struct {
	Min   float64
	Grade string
}

// Bands is the fixed grade table, highest first.
var Bands = []Band{
	{95, "A+"},
	{90, "A"},
	{80, "B+"},
	{70, "B"},
	{60, "C"},
	{50, "D"},
}

// FailingGrade is assigned below the lowest band.
const FailingGrade = "F"

// Grade maps a total score to its performance grade.
func Grade(total float64) string {
	for _, b := range Bands {
		if total >= b.Min {
			return b.Grade
		}
	}
	return FailingGrade
}

// Score is the outcome of grading one answer set.
type Score struct {
	TotalScore float64
	Sections   []model.SectionScore
	Passed     bool
	Grade      string
}

// Evaluate grades answers for the certification. Sections are reported in
// definition order; a question whose section is not defined is ignored.
func Evaluate(cert model.Certification, questions []model.Question, answers map[int64]model.AnswerEntry) Score {
	bySection := make(map[string]*model.SectionScore, len(cert.Sections))
	sections := make([]model.SectionScore, len(cert.Sections))
	for i, s := range cert.Sections {
		sections[i] = model.SectionScore{Name: s.Name, Weight: s.Weight}
		bySection[s.Name] = &sections[i]
	}

	for _, q := range questions {
		sc, ok := bySection[q.Section]
		if !ok {
			continue
		}
		sc.TotalCount++
		sc.PointsPossible += q.Points
		entry, answered := answers[q.ID]
		if answered && IsCorrect(q, entry.Answer) {
			sc.CorrectCount++
			sc.PointsEarned += q.Points
		}
	}

	var weighted float64
	for i := range sections {
		sc := &sections[i]
		var pct float64
		if sc.PointsPossible > 0 {
			pct = sc.PointsEarned / sc.PointsPossible * 100
		}
		weighted += pct * sc.Weight
		sc.Percentage = round2(pct)
	}

	total := round2(weighted / 100)
	return Score{
		TotalScore: total,
		Sections:   sections,
		Passed:     total >= cert.PassingScore,
		Grade:      Grade(total),
	}
}

// IsCorrect reports whether a single answer earns the question's points.
// An answer tagged with a different type than the question is incorrect.
func IsCorrect(q model.Question, a model.Answer) bool {
	if a.Type != q.Type || len(q.CorrectAnswers) == 0 {
		return false
	}
	switch q.Type {
	case model.QuestionSingleChoice, model.QuestionTrueFalse:
		v := fold(a.Value)
		return v != "" && v == fold(q.CorrectAnswers[0])
	case model.QuestionMultiSelect:
		return sameSet(a.Values, q.CorrectAnswers)
	case model.QuestionShortAnswer:
		v := strings.TrimSpace(a.Value)
		if v == "" {
			return false
		}
		for _, allowed := range q.CorrectAnswers {
			if v == strings.TrimSpace(allowed) {
				return true
			}
		}
	}
	return false
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// sameSet compares selections case-insensitively, ignoring order and
// duplicates. A partial selection is not equal.
func sameSet(got, want []string) bool {
	g := toSet(got)
	w := toSet(want)
	if len(g) == 0 || len(g) != len(w) {
		return false
	}
	for k := range w {
		if _, ok := g[k]; !ok {
			return false
		}
	}
	return true
}

func toSet(vals []string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		if f := fold(v); f != "" {
			m[f] = struct{}{}
		}
	}
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
