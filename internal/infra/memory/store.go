package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"daily-quiz-composer/internal/domain"
)

// Store is an in-memory implementation of app.Store. A single mutex makes
// every write atomic, which gives the same guarantees as the Postgres
// transactions.
type Store struct {
	mu        sync.RWMutex
	questions map[string]domain.Question
	exposures map[string]domain.ExposureRecord
	quizzes   map[string]domain.DailyQuiz
	byDropAt  map[int64]string
	templates map[string][]domain.Template
	logs      []domain.CompositionLog
}

func NewStore(questions ...domain.Question) *Store {
	s := &Store{
		questions: make(map[string]domain.Question),
		exposures: make(map[string]domain.ExposureRecord),
		quizzes:   make(map[string]domain.DailyQuiz),
		byDropAt:  make(map[int64]string),
		templates: make(map[string][]domain.Template),
	}
	for _, q := range questions {
		s.questions[q.ID] = q
	}
	return s
}

// UpsertQuestions adds or replaces questions in the pool.
func (s *Store) UpsertQuestions(_ context.Context, questions []domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range questions {
		s.questions[q.ID] = q
	}
	return nil
}

// SetExposure overwrites the exposure record of a question.
func (s *Store) SetExposure(record domain.ExposureRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exposures[record.QuestionID] = record
}

func (s *Store) ListQuestions(_ context.Context) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Question, 0, len(s.questions))
	for _, q := range s.questions {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetQuestions(_ context.Context, ids []string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		q, ok := s.questions[id]
		if !ok {
			return nil, domain.ErrQuestionNotFound
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *Store) Exposures(_ context.Context) (map[string]domain.ExposureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.ExposureRecord, len(s.exposures))
	for id, rec := range s.exposures {
		out[id] = rec
	}
	return out, nil
}

func (s *Store) QuestionsScheduledBetween(_ context.Context, from, to time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, quiz := range s.quizzes {
		if quiz.DropAt.Before(from) || !quiz.DropAt.Before(to) {
			continue
		}
		ids = append(ids, quiz.QuestionIDs...)
	}
	return ids, nil
}

func (s *Store) CreateComposition(_ context.Context, quiz domain.DailyQuiz, tmpl domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byDropAt[quiz.DropAt.Unix()]; taken {
		return domain.ErrDropTimeTaken
	}
	if _, exists := s.quizzes[quiz.ID]; exists {
		return &domain.Error{Kind: domain.KindConflict, Message: "daily quiz id already exists"}
	}
	for _, id := range quiz.QuestionIDs {
		if _, ok := s.questions[id]; !ok {
			return domain.ErrQuestionNotFound
		}
	}
	s.quizzes[quiz.ID] = cloneQuiz(quiz)
	s.byDropAt[quiz.DropAt.Unix()] = quiz.ID
	s.templates[quiz.ID] = []domain.Template{tmpl}
	s.exposeLocked(quiz.QuestionIDs, quiz.DropAt)
	return nil
}

func (s *Store) GetQuiz(_ context.Context, id string) (domain.DailyQuiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[id]
	if !ok {
		return domain.DailyQuiz{}, domain.ErrQuizNotFound
	}
	return cloneQuiz(quiz), nil
}

func (s *Store) GetQuizByDropTime(_ context.Context, dropAt time.Time) (domain.DailyQuiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byDropAt[dropAt.Unix()]
	if !ok {
		return domain.DailyQuiz{}, domain.ErrQuizNotFound
	}
	return cloneQuiz(s.quizzes[id]), nil
}

func (s *Store) UpdateQuiz(_ context.Context, id string, mutate func(*domain.DailyQuiz) (domain.QuizChange, error)) (domain.DailyQuiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.quizzes[id]
	if !ok {
		return domain.DailyQuiz{}, domain.ErrQuizNotFound
	}
	if current.Status == domain.QuizDropped {
		return domain.DailyQuiz{}, domain.ErrQuizDropped
	}

	next := cloneQuiz(current)
	change, err := mutate(&next)
	if err != nil {
		return domain.DailyQuiz{}, err
	}
	next.ID = current.ID

	if !next.DropAt.Equal(current.DropAt) {
		if owner, taken := s.byDropAt[next.DropAt.Unix()]; taken && owner != id {
			return domain.DailyQuiz{}, domain.ErrDropTimeTaken
		}
	}
	if change.Template != nil {
		history := s.templates[id]
		if len(history) > 0 && change.Template.Version != history[len(history)-1].Version+1 {
			return domain.DailyQuiz{}, &domain.Error{Kind: domain.KindConflict, Message: "template version is not the successor of the latest version"}
		}
	}

	if !next.DropAt.Equal(current.DropAt) {
		delete(s.byDropAt, current.DropAt.Unix())
		s.byDropAt[next.DropAt.Unix()] = id
	}
	if change.Template != nil {
		s.templates[id] = append(s.templates[id], *change.Template)
	}
	s.releaseLocked(change.Released)
	s.exposeLocked(change.Exposed, next.DropAt)
	s.quizzes[id] = next
	return cloneQuiz(next), nil
}

func (s *Store) DeleteQuiz(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, ok := s.quizzes[id]
	if !ok {
		return domain.ErrQuizNotFound
	}
	if quiz.Status == domain.QuizDropped {
		return domain.ErrQuizDropped
	}
	s.releaseLocked(quiz.QuestionIDs)
	delete(s.quizzes, id)
	delete(s.byDropAt, quiz.DropAt.Unix())
	delete(s.templates, id)
	return nil
}

func (s *Store) LatestTemplate(_ context.Context, quizID string) (domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.templates[quizID]
	if len(history) == 0 {
		return domain.Template{}, domain.ErrTemplateNotFound
	}
	return history[len(history)-1], nil
}

// Templates returns every stored version of a quiz's template, oldest first.
func (s *Store) Templates(quizID string) []domain.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Template(nil), s.templates[quizID]...)
}

func (s *Store) AppendLog(_ context.Context, entry domain.CompositionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *Store) RecentLogs(_ context.Context, limit, offset int) ([]domain.CompositionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CompositionLog, 0, limit)
	for i := len(s.logs) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.logs[i])
	}
	return out, nil
}

func (s *Store) exposeLocked(ids []string, at time.Time) {
	for _, id := range ids {
		rec := s.exposures[id]
		rec.QuestionID = id
		rec.TimesUsed++
		if rec.LastUsedAt == nil || at.After(*rec.LastUsedAt) {
			last := at
			rec.LastUsedAt = &last
		}
		s.exposures[id] = rec
	}
}

func (s *Store) releaseLocked(ids []string) {
	for _, id := range ids {
		rec, ok := s.exposures[id]
		if !ok || rec.TimesUsed == 0 {
			continue
		}
		rec.TimesUsed--
		s.exposures[id] = rec
	}
}

func cloneQuiz(q domain.DailyQuiz) domain.DailyQuiz {
	q.QuestionIDs = append([]string(nil), q.QuestionIDs...)
	return q
}
