// Package grading compares submitted answers against quiz definitions and
// produces deterministic, byte-for-byte reproducible scores.
package grading

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"quiz-attempt-service/internal/domain"
)

// Grade produces one AnswerRecord per defined question, in definition order,
// plus a zero-valued record for every submitted answer whose question id is not
// in the definition (stale references fail closed, never dropped). A question
// with no submitted answer counts as incorrect at full possible points, so
// MaxPoints always covers the whole quiz.
func Grade(submissions []domain.AnswerSubmission, questions []domain.QuestionDefinition) []domain.AnswerRecord {
	byQuestion := make(map[string]domain.AnswerSubmission, len(submissions))
	known := make(map[string]bool, len(questions))
	for _, sub := range submissions {
		if _, ok := byQuestion[sub.QuestionID]; !ok {
			byQuestion[sub.QuestionID] = sub
		}
	}

	records := make([]domain.AnswerRecord, 0, len(questions))
	for _, q := range questions {
		known[q.ID] = true
		points := q.Points
		if points == 0 {
			points = domain.DefaultQuestionPoints
		}
		record := domain.AnswerRecord{
			QuestionID:     q.ID,
			PointsPossible: points,
		}
		if sub, ok := byQuestion[q.ID]; ok {
			record.Answer = sub.Answer
			record.IsCorrect = isCorrect(q, sub.Answer)
		}
		if record.IsCorrect {
			record.PointsEarned = points
		}
		records = append(records, record)
	}

	for _, sub := range submissions {
		if known[sub.QuestionID] {
			continue
		}
		records = append(records, domain.AnswerRecord{
			QuestionID: sub.QuestionID,
			Answer:     sub.Answer,
		})
	}
	return records
}

// Totals sums a graded answer set and derives the rounded percentage score.
// Score is 0 when the quiz carries no points at all.
func Totals(records []domain.AnswerRecord) (totalPoints, maxPoints, score int) {
	for _, r := range records {
		totalPoints += r.PointsEarned
		maxPoints += r.PointsPossible
	}
	if maxPoints > 0 {
		score = int(math.Round(100 * float64(totalPoints) / float64(maxPoints)))
	}
	return totalPoints, maxPoints, score
}

func isCorrect(q domain.QuestionDefinition, answer any) bool {
	switch q.Type {
	case domain.QuestionTrueFalse:
		want, okWant := asBool(q.CorrectAnswer)
		got, okGot := asBool(answer)
		return okWant && okGot && want == got
	case domain.QuestionText:
		want, okWant := asString(q.CorrectAnswer)
		got, okGot := asString(answer)
		return okWant && okGot && normalizeText(want) == normalizeText(got)
	default:
		// Multiple choice: an array correct answer means multi-select.
		if want, ok := asStringSlice(q.CorrectAnswer); ok {
			got, okGot := asStringSlice(answer)
			return okGot && sameSelection(want, got)
		}
		want, okWant := asString(q.CorrectAnswer)
		got, okGot := asString(answer)
		return okWant && okGot && want == got
	}
}

// sameSelection compares two selections order-independently but
// duplicate-sensitively by comparing the serialized sorted forms.
func sameSelection(want, got []string) bool {
	a := append([]string(nil), want...)
	b := append([]string(nil), got...)
	sort.Strings(a)
	sort.Strings(b)
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(aj) == string(bj)
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func asStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
