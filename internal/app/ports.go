package app

import (
	"context"
	"time"

	"daily-quiz-composer/internal/domain"
)

// QuestionPool reads the editorial question pool and its exposure history.
type QuestionPool interface {
	ListQuestions(ctx context.Context) ([]domain.Question, error)
	// GetQuestions returns the questions in ids order, or ErrQuestionNotFound.
	GetQuestions(ctx context.Context, ids []string) ([]domain.Question, error)
	Exposures(ctx context.Context) (map[string]domain.ExposureRecord, error)
	// QuestionsScheduledBetween lists question ids used by quizzes dropping in [from, to).
	QuestionsScheduledBetween(ctx context.Context, from, to time.Time) ([]string, error)
}

// QuizStore persists daily quizzes and their templates.
type QuizStore interface {
	// CreateComposition stores quiz and its first template and increments the
	// exposure of every selected question, atomically. A quiz already owning
	// the drop time yields ErrDropTimeTaken.
	CreateComposition(ctx context.Context, quiz domain.DailyQuiz, tmpl domain.Template) error
	GetQuiz(ctx context.Context, id string) (domain.DailyQuiz, error)
	GetQuizByDropTime(ctx context.Context, dropAt time.Time) (domain.DailyQuiz, error)
	// UpdateQuiz locks the quiz, rejects dropped quizzes with ErrQuizDropped,
	// applies mutate and persists the result with the returned change.
	UpdateQuiz(ctx context.Context, id string, mutate func(*domain.DailyQuiz) (domain.QuizChange, error)) (domain.DailyQuiz, error)
	// DeleteQuiz removes a quiz that has not been dropped.
	DeleteQuiz(ctx context.Context, id string) error
	LatestTemplate(ctx context.Context, quizID string) (domain.Template, error)
}

// CompositionLogStore is the append-only composition trail.
type CompositionLogStore interface {
	AppendLog(ctx context.Context, entry domain.CompositionLog) error
	// RecentLogs returns entries newest first.
	RecentLogs(ctx context.Context, limit, offset int) ([]domain.CompositionLog, error)
}

// Store is the full persistence surface the composer needs.
type Store interface {
	QuestionPool
	QuizStore
	CompositionLogStore
}

// DropLocker serialises composers working on the same drop time.
type DropLocker interface {
	// Acquire returns ErrCompositionInProgress when the lock is held elsewhere.
	Acquire(ctx context.Context, dropAt time.Time) (release func(context.Context) error, err error)
}

// TemplateCache serves the latest published template of a quiz.
type TemplateCache interface {
	GetTemplate(ctx context.Context, quizID string) (domain.Template, error)
	Put(ctx context.Context, tmpl domain.Template) error
	Invalidate(ctx context.Context, quizID string) error
}

// Recorder receives composition metrics.
type Recorder interface {
	ObserveComposition(mode domain.Mode, outcome string, took time.Duration, relaxation int)
	SetEligiblePool(n int)
	ObserveTemplateSize(bytes int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveComposition(domain.Mode, string, time.Duration, int) {}
func (nopRecorder) SetEligiblePool(int)                                        {}
func (nopRecorder) ObserveTemplateSize(int)                                    {}
