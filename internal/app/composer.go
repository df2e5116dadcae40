package app

import (
	"context"
	"errors"
	"time"

	"daily-quiz-composer/internal/domain"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ComposeRequest is the input of compose and preview.
type ComposeRequest struct {
	DropAtUTC string
	Mode      string
	Config    domain.ComposerOverrides
}

// ComposerService composes daily quizzes and reports on composition health.
type ComposerService struct {
	store     Store
	assembler *TemplateAssembler
	locker    DropLocker
	cache     TemplateCache
	feed      *LogFeed
	recorder  Recorder
	defaults  domain.ComposerConfig
	health    HealthThresholds
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a ComposerService.
type Option func(*ComposerService)

func WithDropLocker(l DropLocker) Option { return func(s *ComposerService) { s.locker = l } }

func WithTemplateCache(c TemplateCache) Option { return func(s *ComposerService) { s.cache = c } }

func WithLogFeed(f *LogFeed) Option { return func(s *ComposerService) { s.feed = f } }

func WithRecorder(r Recorder) Option { return func(s *ComposerService) { s.recorder = r } }

func WithDefaults(cfg domain.ComposerConfig) Option { return func(s *ComposerService) { s.defaults = cfg } }

func WithHealthThresholds(h HealthThresholds) Option {
	return func(s *ComposerService) { s.health = h }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *ComposerService) { s.logger = l.With().Str("component", "composer").Logger() }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option { return func(s *ComposerService) { s.now = now } }

// WithIDGenerator is used by tests for predictable quiz and log ids.
func WithIDGenerator(newID func() string) Option { return func(s *ComposerService) { s.newID = newID } }

func NewComposerService(store Store, assembler *TemplateAssembler, opts ...Option) *ComposerService {
	s := &ComposerService{
		store:     store,
		assembler: assembler,
		locker:    noLock{},
		feed:      NewLogFeed(),
		recorder:  nopRecorder{},
		defaults:  domain.DefaultComposerConfig(),
		health:    DefaultHealthThresholds(),
		logger:    zerolog.Nop(),
		now:       time.Now,
		newID:     func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Feed exposes the live composition log feed.
func (s *ComposerService) Feed() *LogFeed { return s.feed }

type compositionPlan struct {
	dropAt    time.Time
	mode      domain.Mode
	strategy  Strategy
	config    domain.ComposerConfig
	overrides domain.ComposerOverrides
}

// plan validates the request before any store access.
func (s *ComposerService) plan(req ComposeRequest) (compositionPlan, error) {
	var p compositionPlan
	dropAt, err := domain.ParseDropTime(req.DropAtUTC)
	if err != nil {
		return p, err
	}
	p.dropAt = dropAt
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		return p, err
	}
	p.mode = mode
	strategy, err := StrategyFor(mode)
	if err != nil {
		return p, err
	}
	cfg := s.defaults.Merge(req.Config)
	if err := strategy.Configure(&cfg, req.Config); err != nil {
		return p, err
	}
	if err := cfg.Validate(); err != nil {
		return p, err
	}
	p.strategy, p.config, p.overrides = strategy, cfg, req.Config
	return p, nil
}

// ComposeDailyQuiz selects, assembles and stores the quiz for a drop time.
// Every attempt, successful or not, is appended to the composition log.
func (s *ComposerService) ComposeDailyQuiz(ctx context.Context, req ComposeRequest) (domain.ComposeResult, error) {
	start := s.now()
	p, err := s.plan(req)
	if err != nil {
		return domain.ComposeResult{}, s.fail(ctx, start, p, selection{}, err)
	}
	logger := s.logger.With().Time("drop_at", p.dropAt).Str("mode", string(p.mode)).Logger()

	release, err := s.locker.Acquire(ctx, p.dropAt)
	if err != nil {
		return domain.ComposeResult{}, s.fail(ctx, start, p, selection{}, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("release drop lock")
		}
	}()

	if _, err := s.store.GetQuizByDropTime(ctx, p.dropAt); err == nil {
		return domain.ComposeResult{}, s.fail(ctx, start, p, selection{}, domain.ErrDropTimeTaken)
	} else if !errors.Is(err, domain.ErrQuizNotFound) {
		return domain.ComposeResult{}, s.fail(ctx, start, p, selection{}, err)
	}

	result, sel, err := s.build(ctx, p, s.newID())
	if err != nil {
		return domain.ComposeResult{}, s.fail(ctx, start, p, sel, err)
	}
	if err := s.store.CreateComposition(ctx, result.DailyQuiz, result.Template); err != nil {
		return domain.ComposeResult{}, s.fail(ctx, start, p, sel, err)
	}
	s.cacheTemplate(ctx, result.Template)

	entry := s.logEntry(start, p, sel)
	entry.Success = true
	entry.QuizID = result.DailyQuiz.ID
	s.appendLog(ctx, entry)
	result.Log = entry

	s.recorder.ObserveComposition(p.mode, "success", s.now().Sub(start), sel.RelaxationLevel)
	s.recorder.SetEligiblePool(sel.EligiblePool)
	s.recorder.ObserveTemplateSize(result.Template.ContentSize)
	logger.Info().
		Str("quiz_id", result.DailyQuiz.ID).
		Int("relaxation_level", sel.RelaxationLevel).
		Int("warnings", len(sel.Warnings)).
		Msg("daily quiz composed")
	return result, nil
}

// PreviewComposition runs the same selection as ComposeDailyQuiz against the
// current pool without writing anything.
func (s *ComposerService) PreviewComposition(ctx context.Context, req ComposeRequest) (domain.ComposeResult, error) {
	start := s.now()
	p, err := s.plan(req)
	if err != nil {
		return domain.ComposeResult{}, err
	}
	result, sel, err := s.build(ctx, p, "preview-"+p.dropAt.Format("20060102T1504Z"))
	if err != nil {
		s.recorder.ObserveComposition(p.mode, "preview_"+string(domain.KindOf(err)), s.now().Sub(start), 0)
		return domain.ComposeResult{}, tag(err)
	}
	entry := s.logEntry(start, p, sel)
	entry.Success = true
	result.Log = entry
	s.recorder.ObserveComposition(p.mode, "preview", s.now().Sub(start), sel.RelaxationLevel)
	return result, nil
}

// build selects a slate and assembles its first template. Nothing is stored.
func (s *ComposerService) build(ctx context.Context, p compositionPlan, quizID string) (domain.ComposeResult, selection, error) {
	snap, err := s.snapshot(ctx, p.dropAt)
	if err != nil {
		return domain.ComposeResult{}, selection{}, err
	}
	sel, err := selectSlate(selectionRequest{
		DropAt:    p.dropAt,
		Strategy:  p.strategy,
		Config:    p.config,
		Pool:      snap.questions,
		Exposures: snap.exposures,
		Scheduled: snap.scheduled,
	})
	if err != nil {
		return domain.ComposeResult{}, sel, err
	}

	slate := p.strategy.Arrange(sel.Picked, slateSeed(p.dropAt, p.mode, questionIDs(sel.Picked)))
	now := s.now().UTC()
	quiz := domain.DailyQuiz{
		ID:          quizID,
		DropAt:      p.dropAt,
		Mode:        p.mode,
		QuestionIDs: questionIDs(slate),
		Status:      domain.QuizPendingTemplate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tmpl, err := s.assembler.Assemble(quiz, slate, 1)
	if err != nil {
		return domain.ComposeResult{}, sel, err
	}
	applyTemplate(&quiz, tmpl)
	return domain.ComposeResult{DailyQuiz: quiz, Questions: slate, Template: tmpl}, sel, nil
}

type poolSnapshot struct {
	questions []domain.Question
	exposures map[string]domain.ExposureRecord
	scheduled map[string]struct{}
}

// snapshot reads the pool, exposure history and same-day schedule for at.
func (s *ComposerService) snapshot(ctx context.Context, at time.Time) (poolSnapshot, error) {
	var snap poolSnapshot
	var scheduled []string
	from, to := domain.DayBounds(at)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.questions, err = s.store.ListQuestions(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.exposures, err = s.store.Exposures(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		scheduled, err = s.store.QuestionsScheduledBetween(gctx, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return snap, tag(err)
	}
	snap.scheduled = toSet(scheduled)
	return snap, nil
}

func (s *ComposerService) logEntry(start time.Time, p compositionPlan, sel selection) domain.CompositionLog {
	return domain.CompositionLog{
		ID:                s.newID(),
		DropAt:            p.dropAt,
		Mode:              p.mode,
		QuestionIDs:       questionIDs(sel.Picked),
		ThemeDistribution: nonNilCounts(sel.ThemeDistribution),
		DifficultyTarget:  nonNilCounts(sel.DifficultyTarget),
		DifficultyActual:  nonNilCounts(sel.DifficultyActual),
		RelaxationLevel:   sel.RelaxationLevel,
		Warnings:          append([]string{}, sel.Warnings...),
		EligiblePool:      sel.EligiblePool,
		AverageExposure:   sel.AverageExposure,
		DurationMs:        s.now().Sub(start).Milliseconds(),
		CreatedAt:         s.now().UTC(),
	}
}

// fail records a failed compose attempt and returns the tagged error.
func (s *ComposerService) fail(ctx context.Context, start time.Time, p compositionPlan, sel selection, err error) error {
	err = tag(err)
	kind := domain.KindOf(err)
	entry := s.logEntry(start, p, sel)
	entry.Success = false
	entry.ErrorKind = kind
	entry.ErrorMessage = publicMessage(err)
	s.appendLog(ctx, entry)
	s.recorder.ObserveComposition(p.mode, string(kind), s.now().Sub(start), sel.RelaxationLevel)

	event := s.logger.Warn()
	if kind == domain.KindInternal {
		event = s.logger.Error()
	}
	event.Err(err).Time("drop_at", p.dropAt).Str("mode", string(p.mode)).Msg("daily quiz composition failed")
	return err
}

func (s *ComposerService) appendLog(ctx context.Context, entry domain.CompositionLog) {
	if err := s.store.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error().Err(err).Str("log_id", entry.ID).Msg("append composition log")
	}
	s.feed.Publish(entry)
}

func (s *ComposerService) cacheTemplate(ctx context.Context, tmpl domain.Template) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, tmpl); err != nil {
		s.logger.Warn().Err(err).Str("quiz_id", tmpl.QuizID).Msg("cache template")
	}
}

func applyTemplate(quiz *domain.DailyQuiz, tmpl domain.Template) {
	quiz.TemplateURL = tmpl.URL
	quiz.TemplateVersion = tmpl.Version
	if quiz.Status == domain.QuizPendingTemplate {
		quiz.Status = domain.QuizReady
	}
}

// tag wraps untagged errors as internal.
func tag(err error) error {
	var de *domain.Error
	if err == nil || errors.As(err, &de) {
		return err
	}
	return domain.Internal("unexpected failure", err)
}

// publicMessage hides the details of internal errors.
func publicMessage(err error) string {
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == domain.KindInternal {
		return "internal error"
	}
	return de.Message
}

func questionIDs(questions []domain.Question) []string {
	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	return ids
}

func nonNilCounts[K comparable](in map[K]int) map[K]int {
	if in == nil {
		return map[K]int{}
	}
	return in
}

type noLock struct{}

func (noLock) Acquire(context.Context, time.Time) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
