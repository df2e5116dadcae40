package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"daily-quiz-composer/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultLogLimit = 20
	MaxLogLimit     = 100
)

// HealthThresholds decide when the composer reports itself unhealthy.
type HealthThresholds struct {
	// Window is how many recent compose attempts are considered.
	Window               int
	MaxFailureRate       float64
	MaxAverageRelaxation float64
	// PoolSafetyFactor multiplies the slate size to get the minimum eligible pool.
	PoolSafetyFactor float64
	// Lookahead is how far ahead the next drop time is assumed to be.
	Lookahead time.Duration
}

func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		Window:               20,
		MaxFailureRate:       0.25,
		MaxAverageRelaxation: 2,
		PoolSafetyFactor:     3,
		Lookahead:            24 * time.Hour,
	}
}

type logRollup struct {
	attempts          int
	successes         int
	failures          int
	// engineFailures excludes rejected requests, which say nothing about
	// the pool or the store.
	engineFailures    int
	averageRelaxation float64
	averageDurationMs float64
}

func rollupLogs(logs []domain.CompositionLog) logRollup {
	var r logRollup
	relaxation, duration := 0, int64(0)
	for _, entry := range logs {
		r.attempts++
		duration += entry.DurationMs
		if entry.Success {
			r.successes++
			relaxation += entry.RelaxationLevel
		} else {
			r.failures++
			if entry.ErrorKind == domain.KindPoolExhausted || entry.ErrorKind == domain.KindInternal {
				r.engineFailures++
			}
		}
	}
	if r.successes > 0 {
		r.averageRelaxation = float64(relaxation) / float64(r.successes)
	}
	if r.attempts > 0 {
		r.averageDurationMs = float64(duration) / float64(r.attempts)
	}
	return r
}

// GetSystemHealth checks recent composition outcomes and the eligible pool
// for the next drop time.
func (s *ComposerService) GetSystemHealth(ctx context.Context) (domain.HealthReport, error) {
	now := s.now().UTC()
	next := now.Add(s.health.Lookahead).Truncate(time.Minute)

	var logs []domain.CompositionLog
	var avail domain.Availability
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		logs, err = s.store.RecentLogs(gctx, s.health.Window, 0)
		return err
	})
	g.Go(func() error {
		var err error
		avail, err = s.availability(gctx, next, s.defaults)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.HealthReport{}, tag(err)
	}

	r := rollupLogs(logs)
	report := domain.HealthReport{
		Healthy:           true,
		Reasons:           []string{},
		CheckedAt:         now,
		RecentAttempts:    r.attempts,
		AverageRelaxation: r.averageRelaxation,
		NextDropAt:        next,
		EligiblePool:      avail.Eligible,
		SafetyMargin:      int(math.Ceil(float64(s.defaults.SlateSize) * s.health.PoolSafetyFactor)),
	}
	if r.attempts > 0 {
		report.FailureRate = float64(r.engineFailures) / float64(r.attempts)
	}
	if report.FailureRate > s.health.MaxFailureRate {
		report.Reasons = append(report.Reasons, fmt.Sprintf("failure rate %.2f exceeds %.2f", report.FailureRate, s.health.MaxFailureRate))
	}
	if report.AverageRelaxation > s.health.MaxAverageRelaxation {
		report.Reasons = append(report.Reasons, fmt.Sprintf("average relaxation level %.2f exceeds %.2f", report.AverageRelaxation, s.health.MaxAverageRelaxation))
	}
	if report.EligiblePool < report.SafetyMargin {
		report.Reasons = append(report.Reasons, fmt.Sprintf("eligible pool %d for %s is below safety margin %d", report.EligiblePool, next.Format(time.RFC3339), report.SafetyMargin))
	}
	report.Healthy = len(report.Reasons) == 0
	s.recorder.SetEligiblePool(avail.Eligible)
	return report, nil
}

// GetQuestionAvailability counts eligible questions per bucket for a drop
// time. An empty rawAt means now.
func (s *ComposerService) GetQuestionAvailability(ctx context.Context, rawAt string) (domain.Availability, error) {
	at := s.now().UTC().Truncate(time.Minute)
	if rawAt != "" {
		parsed, err := domain.ParseDropTime(rawAt)
		if err != nil {
			return domain.Availability{}, err
		}
		at = parsed
	}
	avail, err := s.availability(ctx, at, s.defaults)
	return avail, tag(err)
}

// GetCompositionStats combines current availability with the recent log window.
func (s *ComposerService) GetCompositionStats(ctx context.Context) (domain.CompositionStats, error) {
	at := s.now().UTC().Truncate(time.Minute)
	var logs []domain.CompositionLog
	var avail domain.Availability
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		logs, err = s.store.RecentLogs(gctx, s.health.Window, 0)
		return err
	})
	g.Go(func() error {
		var err error
		avail, err = s.availability(gctx, at, s.defaults)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.CompositionStats{}, tag(err)
	}
	r := rollupLogs(logs)
	return domain.CompositionStats{
		Availability:      avail,
		RecentAttempts:    r.attempts,
		RecentSuccesses:   r.successes,
		RecentFailures:    r.failures,
		AverageRelaxation: r.averageRelaxation,
		AverageDurationMs: r.averageDurationMs,
	}, nil
}

func (s *ComposerService) availability(ctx context.Context, at time.Time, cfg domain.ComposerConfig) (domain.Availability, error) {
	snap, err := s.snapshot(ctx, at)
	if err != nil {
		return domain.Availability{}, err
	}
	avail := domain.Availability{
		At:             at,
		TotalQuestions: len(snap.questions),
		ByDifficulty:   make(map[domain.Difficulty]int),
		ByTheme:        make(map[string]int),
		ByType:         make(map[domain.QuestionType]int),
	}
	rules := eligibilityRules{
		at:        at,
		cooldown:  cooldownOf(cfg),
		excluded:  toSet(cfg.ExcludeQuestionIDs),
		scheduled: snap.scheduled,
	}
	exposureTotal := 0
	for _, q := range snap.questions {
		switch q.Status {
		case domain.QuestionApproved:
			avail.Approved++
		case domain.QuestionDisabled:
			avail.Disabled++
		}
		exp := snap.exposures[q.ID]
		switch classify(q, exp, rules) {
		case coolingDown:
			avail.CoolingDown++
		case scheduledSameDay:
			avail.UsedSameDay++
		case eligible:
			avail.Eligible++
			exposureTotal += exp.TimesUsed
			avail.ByDifficulty[q.Difficulty]++
			avail.ByType[q.Type]++
			for _, t := range uniqueStrings(q.Themes) {
				avail.ByTheme[t]++
			}
		}
	}
	if avail.Eligible > 0 {
		avail.AverageExposure = float64(exposureTotal) / float64(avail.Eligible)
	}
	return avail, nil
}

// GetConfigurationOptions lists modes, difficulties, types, pool themes,
// relaxation levels and the active defaults.
func (s *ComposerService) GetConfigurationOptions(ctx context.Context) (domain.ConfigurationOptions, error) {
	questions, err := s.store.ListQuestions(ctx)
	if err != nil {
		return domain.ConfigurationOptions{}, tag(err)
	}
	seen := make(map[string]struct{})
	themes := make([]string, 0)
	for _, q := range questions {
		if q.Status != domain.QuestionApproved {
			continue
		}
		for _, t := range q.Themes {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			themes = append(themes, t)
		}
	}
	sort.Strings(themes)
	return domain.ConfigurationOptions{
		Modes:            append([]domain.Mode(nil), domain.Modes...),
		Difficulties:     append([]domain.Difficulty(nil), domain.Difficulties...),
		QuestionTypes:    domain.QuestionTypes(),
		Themes:           themes,
		RelaxationLevels: append([]domain.RelaxationStep(nil), domain.RelaxationSteps...),
		Defaults:         s.defaults,
	}, nil
}

// GetRecentCompositionLogs pages through the composition log, newest first.
// A zero limit means DefaultLogLimit.
func (s *ComposerService) GetRecentCompositionLogs(ctx context.Context, limit, offset int) ([]domain.CompositionLog, error) {
	if limit == 0 {
		limit = DefaultLogLimit
	}
	if limit < 0 || limit > MaxLogLimit {
		return nil, domain.Validationf("limit must be between 1 and %d", MaxLogLimit)
	}
	if offset < 0 {
		return nil, domain.Validationf("offset must not be negative")
	}
	logs, err := s.store.RecentLogs(ctx, limit, offset)
	return logs, tag(err)
}
