package service

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// ScoreResult is the aggregate outcome of scoring one session.
type ScoreResult struct {
	Score          float64
	EarnedPoints   float64
	PossiblePoints float64
	TotalQuestions int
	Answered       int
	Correct        int
	Wrong          int
	PendingGrading int
	GradingStatus  model.GradingStatus
	// Answers holds the session's answers with grades applied, limited to
	// questions that belong to the exam.
	Answers []model.UserAnswer
}

// Score grades every answer and aggregates the session score. It is a pure
// function of its inputs, so scoring a finalized session again yields the
// same result.
//
// Answers that wait for a human grader count as answered but add to neither
// the earned nor the possible points until graded.
func Score(questions []model.Question, answers []model.UserAnswer) ScoreResult {
	byQuestion := make(map[uuid.UUID]model.UserAnswer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	res := ScoreResult{TotalQuestions: len(questions)}
	for i := range questions {
		q := &questions[i]
		points := float64(q.Points)
		res.PossiblePoints += points

		a, ok := byQuestion[q.ID]
		if !ok {
			continue
		}
		hasContent := a.HasContent()
		if hasContent {
			res.Answered++
		}

		switch correct, gradable := GradeObjective(q, &a); {
		case gradable:
			earned := 0.0
			if correct {
				earned = points
			}
			a.IsCorrect = &correct
			a.PointsEarned = &earned
		case !hasContent:
			// Nothing for a grader to look at.
			no, zero := false, 0.0
			a.IsCorrect = &no
			a.PointsEarned = &zero
		case !a.IsGraded():
			res.PendingGrading++
			res.PossiblePoints -= points
		}

		if a.IsGraded() {
			res.EarnedPoints += *a.PointsEarned
			if *a.IsCorrect {
				res.Correct++
			}
		}
		res.Answers = append(res.Answers, a)
	}

	res.Wrong = res.Answered - res.Correct
	if res.PossiblePoints > 0 {
		res.Score = roundScore(res.EarnedPoints / res.PossiblePoints * 100)
	}
	res.GradingStatus = model.GradingStatusFinal
	if res.PendingGrading > 0 {
		res.GradingStatus = model.GradingStatusPartial
	}
	return res
}

func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}

// GradeObjective grades an answer against the question's key. gradable is
// false when the type has no automated key and needs a human grader.
func GradeObjective(q *model.Question, a *model.UserAnswer) (correct, gradable bool) {
	switch q.QuestionType {
	case model.QuestionTypeSingleChoice, model.QuestionTypeTrueFalse:
		return len(a.SelectedChoiceIDs) == 1 && sameChoiceSet(q.CorrectChoices(), a.SelectedChoiceIDs), true
	case model.QuestionTypeMultiChoice:
		return sameChoiceSet(q.CorrectChoices(), a.SelectedChoiceIDs), true
	case model.QuestionTypeFillBlank:
		key := q.CorrectChoices()
		if len(key) == 0 {
			return false, false
		}
		return matchesFillBlank(key, a.TextAnswer), true
	case model.QuestionTypeMatching:
		key := matchingKey(q)
		if len(key) == 0 {
			return false, false
		}
		return matchesPairs(key, a.StructuredAnswer), true
	case model.QuestionTypeOrdering:
		if len(q.Choices) == 0 {
			return false, false
		}
		return matchesOrder(q.OrderedChoices(), a.StructuredAnswer), true
	}
	return false, false
}

func sameChoiceSet(key []model.Choice, selected []uuid.UUID) bool {
	want := make(map[uuid.UUID]struct{}, len(key))
	for _, c := range key {
		want[c.ID] = struct{}{}
	}
	got := make(map[uuid.UUID]struct{}, len(selected))
	for _, id := range selected {
		got[id] = struct{}{}
	}
	if len(want) != len(got) {
		return false
	}
	for id := range got {
		if _, ok := want[id]; !ok {
			return false
		}
	}
	return true
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func matchesFillBlank(key []model.Choice, text *string) bool {
	if text == nil {
		return false
	}
	got := normalizeText(*text)
	if got == "" {
		return false
	}
	for _, c := range key {
		if normalizeText(c.Text) == got {
			return true
		}
	}
	return false
}

// MatchingPairSeparator splits a matching key choice into its left and right sides.
const MatchingPairSeparator = "="

// matchingKey reads the correct choices of a matching question as
// left→right pairs. Malformed choices are ignored.
func matchingKey(q *model.Question) map[string]string {
	key := make(map[string]string)
	for _, c := range q.CorrectChoices() {
		left, right, ok := strings.Cut(c.Text, MatchingPairSeparator)
		if !ok {
			continue
		}
		key[normalizeText(left)] = normalizeText(right)
	}
	return key
}

// matchesPairs expects the answer as a JSON object mapping left to right.
func matchesPairs(key map[string]string, raw json.RawMessage) bool {
	var pairs map[string]string
	if len(raw) == 0 || json.Unmarshal(raw, &pairs) != nil {
		return false
	}
	if len(pairs) != len(key) {
		return false
	}
	for left, right := range pairs {
		want, ok := key[normalizeText(left)]
		if !ok || want != normalizeText(right) {
			return false
		}
	}
	return true
}

// matchesOrder expects the answer as a JSON array of choice ids.
func matchesOrder(ordered []model.Choice, raw json.RawMessage) bool {
	var got []uuid.UUID
	if len(raw) == 0 || json.Unmarshal(raw, &got) != nil {
		return false
	}
	if len(got) != len(ordered) {
		return false
	}
	for i, c := range ordered {
		if got[i] != c.ID {
			return false
		}
	}
	return true
}
