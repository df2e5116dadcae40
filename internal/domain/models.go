package domain

import (
	"encoding/json"
	"time"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Difficulties lists every difficulty from easiest to hardest.
var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

func (d Difficulty) Valid() bool {
	return d.Rank() >= 0
}

// Rank orders difficulties; -1 for unknown values.
func (d Difficulty) Rank() int {
	for i, known := range Difficulties {
		if d == known {
			return i
		}
	}
	return -1
}

type QuestionStatus string

const (
	QuestionDraft    QuestionStatus = "draft"
	QuestionApproved QuestionStatus = "approved"
	QuestionDisabled QuestionStatus = "disabled"
)

// Choice is one publishable option, ordering item or matching column entry.
// Correctness lives in AnswerKey, never here.
type Choice struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	MediaURL string `json:"mediaUrl,omitempty"`
}

type MediaRef struct {
	Kind string `json:"kind"` // image, audio
	URL  string `json:"url"`
}

// AnswerKey holds the correctness data of a question. Which field is used
// depends on the question type's answer shape.
type AnswerKey struct {
	ChoiceIDs []string          `json:"choiceIds,omitempty"`
	Pairs     map[string]string `json:"pairs,omitempty"`
	Accepted  []string          `json:"accepted,omitempty"`
}

// Question is an editorial question record. Immutable once approved.
type Question struct {
	ID         string          `json:"id"`
	Type       QuestionType    `json:"type"`
	Difficulty Difficulty      `json:"difficulty"`
	Themes     []string        `json:"themes"`
	Subjects   []string        `json:"subjects"`
	Prompt     json.RawMessage `json:"prompt"`
	Choices    []Choice        `json:"choices,omitempty"`
	Targets    []Choice        `json:"targets,omitempty"`
	Answer     AnswerKey       `json:"answer"`
	Media      []MediaRef      `json:"media,omitempty"`
	Status     QuestionStatus  `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// ExposureRecord tracks how often and how recently a question was scheduled.
// LastUsedAt is the drop time of the latest quiz that included the question.
type ExposureRecord struct {
	QuestionID string     `json:"questionId"`
	TimesUsed  int        `json:"timesUsed"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// PublicQuestion is the answer-free projection of a question that goes into
// a published template.
type PublicQuestion struct {
	ID           string          `json:"id"`
	Type         QuestionType    `json:"type"`
	Difficulty   Difficulty      `json:"difficulty"`
	Themes       []string        `json:"themes"`
	Prompt       json.RawMessage `json:"prompt"`
	Choices      []Choice        `json:"choices,omitempty"`
	Targets      []Choice        `json:"targets,omitempty"`
	Media        []MediaRef      `json:"media,omitempty"`
	ShuffleProof string          `json:"shuffleProof"`
}

// Validate checks that an imported question is well formed for its type.
func (q Question) Validate() error {
	if q.ID == "" {
		return Validationf("question id is required")
	}
	shape, ok := q.Type.Shape()
	if !ok {
		return Validationf("question %s: unknown type %q", q.ID, q.Type)
	}
	if !q.Difficulty.Valid() {
		return Validationf("question %s: unknown difficulty %q", q.ID, q.Difficulty)
	}
	switch q.Status {
	case QuestionDraft, QuestionApproved, QuestionDisabled:
	default:
		return Validationf("question %s: unknown status %q", q.ID, q.Status)
	}

	known := make(map[string]bool, len(q.Choices))
	for _, c := range q.Choices {
		known[c.ID] = true
	}
	switch shape {
	case ShapeSingle:
		if len(q.Answer.ChoiceIDs) != 1 {
			return Validationf("question %s: exactly one correct choice required", q.ID)
		}
	case ShapeMulti, ShapeOrdering:
		if len(q.Answer.ChoiceIDs) == 0 {
			return Validationf("question %s: answer choices required", q.ID)
		}
		if shape == ShapeOrdering && len(q.Answer.ChoiceIDs) != len(q.Choices) {
			return Validationf("question %s: ordering must rank every item", q.ID)
		}
	case ShapeMatching:
		targets := make(map[string]bool, len(q.Targets))
		for _, t := range q.Targets {
			targets[t.ID] = true
		}
		if len(q.Answer.Pairs) == 0 {
			return Validationf("question %s: matching pairs required", q.ID)
		}
		for left, right := range q.Answer.Pairs {
			if !known[left] || !targets[right] {
				return Validationf("question %s: pair %s -> %s references unknown entries", q.ID, left, right)
			}
		}
	case ShapeText:
		if len(q.Answer.Accepted) == 0 {
			return Validationf("question %s: accepted answers required", q.ID)
		}
	}
	for _, id := range q.Answer.ChoiceIDs {
		if !known[id] {
			return Validationf("question %s: answer references unknown choice %s", q.ID, id)
		}
	}
	return nil
}
