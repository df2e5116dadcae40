package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"daily-quiz-composer/internal/domain"
)

// TemplateAssembler turns a slate into the public, answer-free payload served
// to players.
type TemplateAssembler struct {
	baseURL string
	secret  []byte
	now     func() time.Time
}

func NewTemplateAssembler(baseURL, secret string) *TemplateAssembler {
	return NewTemplateAssemblerWithClock(baseURL, secret, time.Now)
}

// NewTemplateAssemblerWithClock is used by tests for deterministic timestamps.
func NewTemplateAssemblerWithClock(baseURL, secret string, now func() time.Time) *TemplateAssembler {
	return &TemplateAssembler{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		now:     now,
	}
}

type templatePayload struct {
	QuizID    string                  `json:"quizId"`
	Version   int                     `json:"templateVersion"`
	DropAtUTC string                  `json:"dropAtUtc"`
	Mode      domain.Mode             `json:"mode"`
	Questions []domain.PublicQuestion `json:"questions"`
}

// Assemble builds version of quiz's template from questions, which must be in
// slate order.
func (a *TemplateAssembler) Assemble(quiz domain.DailyQuiz, questions []domain.Question, version int) (domain.Template, error) {
	if version < 1 {
		return domain.Template{}, domain.Validationf("template version must be positive")
	}
	payload := templatePayload{
		QuizID:    quiz.ID,
		Version:   version,
		DropAtUTC: quiz.DropAt.UTC().Format(time.RFC3339),
		Mode:      quiz.Mode,
		Questions: make([]domain.PublicQuestion, 0, len(questions)),
	}
	digests := make(map[string]string, len(questions))
	for _, q := range questions {
		pub, err := publish(q, shuffleSource(quiz.ID, version, q.ID))
		if err != nil {
			return domain.Template{}, err
		}
		payload.Questions = append(payload.Questions, pub)
		digest, err := a.answerDigest(quiz.ID, version, q)
		if err != nil {
			return domain.Template{}, err
		}
		digests[q.ID] = digest
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Template{}, domain.Internal("encode template", err)
	}
	sum := sha256.Sum256(raw)
	return domain.Template{
		QuizID:        quiz.ID,
		Version:       version,
		URL:           a.URL(quiz.ID, version),
		Payload:       raw,
		ContentHash:   hex.EncodeToString(sum[:]),
		ContentSize:   len(raw),
		AnswerDigests: digests,
		CreatedAt:     a.now().UTC(),
	}, nil
}

// URL is where version of quizID's template is published.
func (a *TemplateAssembler) URL(quizID string, version int) string {
	return fmt.Sprintf("%s/daily/%s/v%d.json", a.baseURL, quizID, version)
}

// answerDigest lets scoring verify an answer key against the template it was
// served with, without the key ever leaving the server.
func (a *TemplateAssembler) answerDigest(quizID string, version int, q domain.Question) (string, error) {
	key, err := json.Marshal(q.Answer)
	if err != nil {
		return "", domain.Internal("encode answer key", err)
	}
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(quizID + "|" + strconv.Itoa(version) + "|" + q.ID + "|"))
	mac.Write(key)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

type publisher func(q domain.Question, rnd *rand.Rand) domain.PublicQuestion

var publishers = map[domain.AnswerShape]publisher{
	domain.ShapeSingle:   publishChoices,
	domain.ShapeMulti:    publishChoices,
	domain.ShapeOrdering: publishOrdering,
	domain.ShapeMatching: publishMatching,
	domain.ShapeText:     publishText,
}

func publish(q domain.Question, rnd *rand.Rand) (domain.PublicQuestion, error) {
	shape, ok := q.Type.Shape()
	if !ok {
		return domain.PublicQuestion{}, domain.Validationf("question %s has unknown type %q", q.ID, q.Type)
	}
	return publishers[shape](q, rnd), nil
}

func publicBase(q domain.Question) domain.PublicQuestion {
	return domain.PublicQuestion{
		ID:         q.ID,
		Type:       q.Type,
		Difficulty: q.Difficulty,
		Themes:     append([]string(nil), q.Themes...),
		Prompt:     q.Prompt,
		Media:      append([]domain.MediaRef(nil), q.Media...),
	}
}

func publishChoices(q domain.Question, rnd *rand.Rand) domain.PublicQuestion {
	pub := publicBase(q)
	pub.Choices = shuffled(q.Choices, rnd)
	pub.ShuffleProof = shuffleProof(q.ID, pub.Choices)
	return pub
}

// publishOrdering never publishes items in their answer order.
func publishOrdering(q domain.Question, rnd *rand.Rand) domain.PublicQuestion {
	pub := publicBase(q)
	items := shuffled(q.Choices, rnd)
	if len(items) > 1 && sameOrder(items, q.Answer.ChoiceIDs) {
		items = append(items[1:], items[0])
	}
	pub.Choices = items
	pub.ShuffleProof = shuffleProof(q.ID, pub.Choices)
	return pub
}

func publishMatching(q domain.Question, rnd *rand.Rand) domain.PublicQuestion {
	pub := publicBase(q)
	pub.Choices = shuffled(q.Choices, rnd)
	pub.Targets = shuffled(q.Targets, rnd)
	pub.ShuffleProof = shuffleProof(q.ID, append(append([]domain.Choice(nil), pub.Choices...), pub.Targets...))
	return pub
}

func publishText(q domain.Question, _ *rand.Rand) domain.PublicQuestion {
	pub := publicBase(q)
	pub.ShuffleProof = shuffleProof(q.ID, nil)
	return pub
}

// shuffleProof commits to the set of published item ids independent of their
// order, so a client can check that what it shuffled is what was published.
func shuffleProof(questionID string, items []domain.Choice) string {
	ids := make([]string, 0, len(items))
	for _, c := range items {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(questionID + "\n" + strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:])
}

func shuffleSource(quizID string, version int, questionID string) *rand.Rand {
	sum := sha256.Sum256([]byte(quizID + "|" + strconv.Itoa(version) + "|" + questionID))
	return rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))
}

func shuffled(in []domain.Choice, rnd *rand.Rand) []domain.Choice {
	if len(in) == 0 {
		return nil
	}
	out := append([]domain.Choice(nil), in...)
	rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func sameOrder(items []domain.Choice, ids []string) bool {
	if len(items) != len(ids) {
		return false
	}
	for i := range items {
		if items[i].ID != ids[i] {
			return false
		}
	}
	return true
}
