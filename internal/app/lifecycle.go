package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"daily-quiz-composer/internal/domain"
)

func (s *ComposerService) GetDailyQuiz(ctx context.Context, id string) (domain.DailyQuiz, error) {
	quiz, err := s.store.GetQuiz(ctx, id)
	return quiz, tag(err)
}

func (s *ComposerService) GetDailyQuizByDropTime(ctx context.Context, rawDropAt string) (domain.DailyQuiz, error) {
	dropAt, err := domain.ParseDropTime(rawDropAt)
	if err != nil {
		return domain.DailyQuiz{}, err
	}
	quiz, err := s.store.GetQuizByDropTime(ctx, dropAt)
	return quiz, tag(err)
}

// GetTemplate returns the latest template of a quiz, served from the cache
// when one is configured.
func (s *ComposerService) GetTemplate(ctx context.Context, quizID string) (domain.Template, error) {
	if s.cache != nil {
		tmpl, err := s.cache.GetTemplate(ctx, quizID)
		return tmpl, tag(err)
	}
	tmpl, err := s.store.LatestTemplate(ctx, quizID)
	return tmpl, tag(err)
}

// RegenerateTemplate publishes a new template version for an undropped quiz.
// The slate is left unchanged.
func (s *ComposerService) RegenerateTemplate(ctx context.Context, quizID string) (domain.DailyQuiz, domain.Template, error) {
	quiz, questions, err := s.loadSlate(ctx, quizID)
	if err != nil {
		return domain.DailyQuiz{}, domain.Template{}, err
	}
	var tmpl domain.Template
	updated, err := s.store.UpdateQuiz(ctx, quizID, func(q *domain.DailyQuiz) (domain.QuizChange, error) {
		if !equalIDs(q.QuestionIDs, quiz.QuestionIDs) {
			return domain.QuizChange{}, concurrentEdit()
		}
		var err error
		tmpl, err = s.assembler.Assemble(*q, questions, q.TemplateVersion+1)
		if err != nil {
			return domain.QuizChange{}, err
		}
		applyTemplate(q, tmpl)
		q.UpdatedAt = s.now().UTC()
		return domain.QuizChange{Template: &tmpl}, nil
	})
	if err != nil {
		return domain.DailyQuiz{}, domain.Template{}, tag(err)
	}
	s.cacheTemplate(ctx, tmpl)
	s.logger.Info().Str("quiz_id", quizID).Int("version", tmpl.Version).Msg("template regenerated")
	return updated, tmpl, nil
}

// SwapQuestion replaces oldID in the slate. With an empty newID the engine
// picks the best eligible replacement under the usual caps.
func (s *ComposerService) SwapQuestion(ctx context.Context, quizID, oldID, newID string) (domain.DailyQuiz, domain.Template, error) {
	quiz, questions, err := s.loadSlate(ctx, quizID)
	if err != nil {
		return domain.DailyQuiz{}, domain.Template{}, err
	}
	if quiz.Status == domain.QuizDropped {
		return domain.DailyQuiz{}, domain.Template{}, domain.ErrQuizDropped
	}
	idx := indexOf(quiz.QuestionIDs, oldID)
	if idx < 0 {
		return domain.DailyQuiz{}, domain.Template{}, domain.Validationf("question %s is not in quiz %s", oldID, quizID)
	}

	var replacement domain.Question
	if newID != "" {
		replacement, err = s.explicitReplacement(ctx, quiz, newID)
	} else {
		replacement, err = s.pickReplacement(ctx, quiz, questions, idx)
	}
	if err != nil {
		return domain.DailyQuiz{}, domain.Template{}, tag(err)
	}

	slate := append([]domain.Question(nil), questions...)
	slate[idx] = replacement
	var tmpl domain.Template
	updated, err := s.store.UpdateQuiz(ctx, quizID, func(q *domain.DailyQuiz) (domain.QuizChange, error) {
		if !equalIDs(q.QuestionIDs, quiz.QuestionIDs) {
			return domain.QuizChange{}, concurrentEdit()
		}
		q.QuestionIDs = questionIDs(slate)
		var err error
		tmpl, err = s.assembler.Assemble(*q, slate, q.TemplateVersion+1)
		if err != nil {
			return domain.QuizChange{}, err
		}
		applyTemplate(q, tmpl)
		q.UpdatedAt = s.now().UTC()
		return domain.QuizChange{Template: &tmpl, Exposed: []string{replacement.ID}, Released: []string{oldID}}, nil
	})
	if err != nil {
		return domain.DailyQuiz{}, domain.Template{}, tag(err)
	}
	s.cacheTemplate(ctx, tmpl)
	s.logger.Info().Str("quiz_id", quizID).Str("old", oldID).Str("new", replacement.ID).Msg("question swapped")
	return updated, tmpl, nil
}

func (s *ComposerService) explicitReplacement(ctx context.Context, quiz domain.DailyQuiz, newID string) (domain.Question, error) {
	if indexOf(quiz.QuestionIDs, newID) >= 0 {
		return domain.Question{}, domain.Validationf("question %s is already in quiz %s", newID, quiz.ID)
	}
	found, err := s.store.GetQuestions(ctx, []string{newID})
	if err != nil {
		return domain.Question{}, err
	}
	if found[0].Status != domain.QuestionApproved {
		return domain.Question{}, domain.Validationf("question %s is not approved", newID)
	}
	taken, err := s.scheduledOn(ctx, quiz.DropAt, []string{newID})
	if err != nil {
		return domain.Question{}, err
	}
	if len(taken) > 0 {
		return domain.Question{}, domain.Validationf("question %s is already scheduled on %s", newID, quiz.DropAt.Format("2006-01-02"))
	}
	return found[0], nil
}

// scheduledOn returns the ids among candidates already used by a quiz
// dropping on the same UTC day as at.
func (s *ComposerService) scheduledOn(ctx context.Context, at time.Time, candidates []string) ([]string, error) {
	from, to := domain.DayBounds(at)
	scheduled, err := s.store.QuestionsScheduledBetween(ctx, from, to)
	if err != nil {
		return nil, tag(err)
	}
	used := toSet(scheduled)
	var taken []string
	for _, id := range candidates {
		if _, ok := used[id]; ok {
			taken = append(taken, id)
		}
	}
	return taken, nil
}

func (s *ComposerService) pickReplacement(ctx context.Context, quiz domain.DailyQuiz, slate []domain.Question, idx int) (domain.Question, error) {
	strategy, err := StrategyFor(quiz.Mode)
	if err != nil {
		return domain.Question{}, err
	}
	fixed := make([]domain.Question, 0, len(slate)-1)
	fixed = append(fixed, slate[:idx]...)
	fixed = append(fixed, slate[idx+1:]...)

	cfg := s.defaults.Merge(domain.ComposerOverrides{ExcludeQuestionIDs: []string{slate[idx].ID}})
	cfg.SlateSize = len(slate)
	if quiz.Mode == domain.ModeThemed {
		cfg.FocusTheme = dominantTheme(fixed)
	}
	if err := strategy.Configure(&cfg, domain.ComposerOverrides{}); err != nil {
		strategy = mixStrategy{}
	}

	snap, err := s.snapshot(ctx, quiz.DropAt)
	if err != nil {
		return domain.Question{}, err
	}
	sel, err := selectSlate(selectionRequest{
		DropAt:    quiz.DropAt,
		Strategy:  strategy,
		Config:    cfg,
		Pool:      snap.questions,
		Exposures: snap.exposures,
		Scheduled: snap.scheduled,
		Fixed:     fixed,
	})
	if err != nil {
		return domain.Question{}, err
	}
	for _, w := range sel.Warnings {
		s.logger.Warn().Str("quiz_id", quiz.ID).Msg(w)
	}
	return sel.Picked[0], nil
}

// UpdateDropTime moves an undropped quiz to a new drop time and republishes
// its template, which embeds the drop time.
func (s *ComposerService) UpdateDropTime(ctx context.Context, quizID, rawDropAt string) (domain.DailyQuiz, domain.Template, error) {
	dropAt, err := domain.ParseDropTime(rawDropAt)
	if err != nil {
		return domain.DailyQuiz{}, domain.Template{}, err
	}
	quiz, questions, err := s.loadSlate(ctx, quizID)
	if err != nil {
		return domain.DailyQuiz{}, domain.Template{}, err
	}
	if quiz.Status == domain.QuizDropped {
		return domain.DailyQuiz{}, domain.Template{}, domain.ErrQuizDropped
	}
	if quiz.DropAt.Equal(dropAt) {
		tmpl, err := s.store.LatestTemplate(ctx, quizID)
		return quiz, tmpl, tag(err)
	}

	release, err := s.locker.Acquire(ctx, dropAt)
	if err != nil {
		return domain.DailyQuiz{}, domain.Template{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Msg("release drop lock")
		}
	}()

	if day := dayStart(dropAt); !day.Equal(dayStart(quiz.DropAt)) {
		taken, err := s.scheduledOn(ctx, dropAt, quiz.QuestionIDs)
		if err != nil {
			return domain.DailyQuiz{}, domain.Template{}, err
		}
		if len(taken) > 0 {
			return domain.DailyQuiz{}, domain.Template{}, domain.Validationf("questions %s are already scheduled on %s", strings.Join(taken, ", "), day.Format("2006-01-02"))
		}
	}

	var tmpl domain.Template
	updated, err := s.store.UpdateQuiz(ctx, quizID, func(q *domain.DailyQuiz) (domain.QuizChange, error) {
		if !equalIDs(q.QuestionIDs, quiz.QuestionIDs) {
			return domain.QuizChange{}, concurrentEdit()
		}
		q.DropAt = dropAt
		var err error
		tmpl, err = s.assembler.Assemble(*q, questions, q.TemplateVersion+1)
		if err != nil {
			return domain.QuizChange{}, err
		}
		applyTemplate(q, tmpl)
		q.UpdatedAt = s.now().UTC()
		return domain.QuizChange{Template: &tmpl}, nil
	})
	if err != nil {
		return domain.DailyQuiz{}, domain.Template{}, tag(err)
	}
	s.cacheTemplate(ctx, tmpl)
	return updated, tmpl, nil
}

// MarkDropped freezes a quiz once it has been served to players.
func (s *ComposerService) MarkDropped(ctx context.Context, quizID string) (domain.DailyQuiz, error) {
	updated, err := s.store.UpdateQuiz(ctx, quizID, func(q *domain.DailyQuiz) (domain.QuizChange, error) {
		q.Status = domain.QuizDropped
		q.UpdatedAt = s.now().UTC()
		return domain.QuizChange{}, nil
	})
	return updated, tag(err)
}

// DeleteQuiz removes an undropped quiz and its templates.
func (s *ComposerService) DeleteQuiz(ctx context.Context, quizID string) error {
	if err := s.store.DeleteQuiz(ctx, quizID); err != nil {
		return tag(err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, quizID); err != nil {
			s.logger.Warn().Err(err).Str("quiz_id", quizID).Msg("invalidate template cache")
		}
	}
	return nil
}

func (s *ComposerService) loadSlate(ctx context.Context, quizID string) (domain.DailyQuiz, []domain.Question, error) {
	quiz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.DailyQuiz{}, nil, tag(err)
	}
	questions, err := s.store.GetQuestions(ctx, quiz.QuestionIDs)
	if err != nil {
		if errors.Is(err, domain.ErrQuestionNotFound) {
			return domain.DailyQuiz{}, nil, domain.Internal("quiz references a missing question", err)
		}
		return domain.DailyQuiz{}, nil, tag(err)
	}
	return quiz, questions, nil
}

func dayStart(t time.Time) time.Time {
	start, _ := domain.DayBounds(t)
	return start
}

func concurrentEdit() error {
	return &domain.Error{Kind: domain.KindConflict, Message: "quiz was modified concurrently, reload and retry"}
}

func dominantTheme(questions []domain.Question) string {
	counts := make(map[string]int)
	best := ""
	for _, q := range questions {
		for _, t := range uniqueStrings(q.Themes) {
			counts[t]++
			if counts[t] > counts[best] || (counts[t] == counts[best] && t < best) {
				best = t
			}
		}
	}
	return best
}

func indexOf(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
