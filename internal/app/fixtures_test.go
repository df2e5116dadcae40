package app

import (
	"encoding/json"
	"fmt"
	"time"

	"daily-quiz-composer/internal/domain"
)

// FixtureQuestion builds an approved question whose choices and answer key
// match the answer shape of typ.
func FixtureQuestion(id string, typ domain.QuestionType, diff domain.Difficulty, themes []string, subjects []string) domain.Question {
	q := domain.Question{
		ID:         id,
		Type:       typ,
		Difficulty: diff,
		Themes:     themes,
		Subjects:   subjects,
		Prompt:     json.RawMessage(fmt.Sprintf(`{"text":"prompt for %s"}`, id)),
		Status:     domain.QuestionApproved,
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	shape, _ := typ.Shape()
	switch shape {
	case domain.ShapeSingle:
		q.Choices = choices(id, 4)
		q.Answer.ChoiceIDs = []string{id + "-c2"}
	case domain.ShapeMulti:
		q.Choices = choices(id, 4)
		q.Answer.ChoiceIDs = []string{id + "-c1", id + "-c3"}
	case domain.ShapeOrdering:
		q.Choices = choices(id, 4)
		q.Answer.ChoiceIDs = []string{id + "-c1", id + "-c2", id + "-c3", id + "-c4"}
	case domain.ShapeMatching:
		q.Choices = choices(id, 3)
		q.Targets = []domain.Choice{
			{ID: id + "-t1", Text: "Fearless"},
			{ID: id + "-t2", Text: "Red"},
			{ID: id + "-t3", Text: "1989"},
		}
		q.Answer.Pairs = map[string]string{id + "-c1": id + "-t1", id + "-c2": id + "-t2", id + "-c3": id + "-t3"}
	case domain.ShapeText:
		q.Answer.Accepted = []string{"secret answer " + id}
	}
	return q
}

func choices(id string, n int) []domain.Choice {
	out := make([]domain.Choice, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.Choice{ID: fmt.Sprintf("%s-c%d", id, i), Text: fmt.Sprintf("option %d", i)})
	}
	return out
}

var fixtureThemes = []string{"folklore", "evermore", "1989", "red", "lover", "midnights", "reputation", "speak-now", "fearless", "ttpd"}

// FixturePool returns n approved questions with a unique subject each,
// themes and types spread round robin and difficulties cycling
// easy, medium, hard.
func FixturePool(n int) []domain.Question {
	types := domain.QuestionTypes()
	pool := make([]domain.Question, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("q%03d", i)
		pool = append(pool, FixtureQuestion(
			id,
			types[i%len(types)],
			domain.Difficulties[i%len(domain.Difficulties)],
			[]string{fixtureThemes[i%len(fixtureThemes)]},
			[]string{"subject-" + id},
		))
	}
	return pool
}

// FixtureNow is the fixed clock used by composer tests.
var FixtureNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
