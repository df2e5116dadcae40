package app

import (
	"math/rand"
	"sort"

	"daily-quiz-composer/internal/domain"
)

// Strategy is one composition mode. Every mode runs the same filter, score and
// pick pipeline; a strategy only tunes targets, scoring bias and final order.
type Strategy interface {
	Mode() domain.Mode
	// Configure adjusts the resolved config. overrides is what the caller sent.
	Configure(cfg *domain.ComposerConfig, overrides domain.ComposerOverrides) error
	// Bias is added to a candidate's base score.
	Bias(q domain.Question, cfg domain.ComposerConfig) float64
	// ThemeCapExempt reports whether theme ignores MaxPerTheme.
	ThemeCapExempt(theme string, cfg domain.ComposerConfig) bool
	// Arrange orders the final slate.
	Arrange(slate []domain.Question, seed uint64) []domain.Question
}

// StrategyFor returns the strategy implementing mode.
func StrategyFor(mode domain.Mode) (Strategy, error) {
	switch mode {
	case domain.ModeMix:
		return mixStrategy{}, nil
	case domain.ModeThemed:
		return themedStrategy{}, nil
	case domain.ModeRamp:
		return rampStrategy{}, nil
	case domain.ModeChallenge:
		return challengeStrategy{}, nil
	}
	return nil, domain.Validationf("unknown composition mode %q", mode)
}

// mixStrategy blends themes and difficulties and shuffles the slate.
type mixStrategy struct{}

func (mixStrategy) Mode() domain.Mode { return domain.ModeMix }

func (mixStrategy) Configure(*domain.ComposerConfig, domain.ComposerOverrides) error { return nil }

func (mixStrategy) Bias(domain.Question, domain.ComposerConfig) float64 { return 0 }

func (mixStrategy) ThemeCapExempt(string, domain.ComposerConfig) bool { return false }

func (mixStrategy) Arrange(slate []domain.Question, seed uint64) []domain.Question {
	out := append([]domain.Question(nil), slate...)
	rnd := rand.New(rand.NewSource(int64(seed)))
	rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// themedStrategy builds the slate around cfg.FocusTheme.
type themedStrategy struct{ mixStrategy }

const focusThemeBias = 1.0

func (themedStrategy) Mode() domain.Mode { return domain.ModeThemed }

func (themedStrategy) Configure(cfg *domain.ComposerConfig, _ domain.ComposerOverrides) error {
	if cfg.FocusTheme == "" {
		return domain.Validationf("THEMED mode requires focusTheme")
	}
	return nil
}

func (themedStrategy) Bias(q domain.Question, cfg domain.ComposerConfig) float64 {
	if hasTheme(q, cfg.FocusTheme) {
		return focusThemeBias
	}
	return 0
}

func (themedStrategy) ThemeCapExempt(theme string, cfg domain.ComposerConfig) bool {
	return theme == cfg.FocusTheme
}

// rampStrategy uses the configured mix but orders the slate easy to hard.
type rampStrategy struct{ mixStrategy }

func (rampStrategy) Mode() domain.Mode { return domain.ModeRamp }

func (rampStrategy) Arrange(slate []domain.Question, _ uint64) []domain.Question {
	return orderByDifficulty(slate)
}

// challengeStrategy leans hard unless the caller chose targets explicitly.
type challengeStrategy struct{ mixStrategy }

const hardBias = 0.2

func (challengeStrategy) Mode() domain.Mode { return domain.ModeChallenge }

func (challengeStrategy) Configure(cfg *domain.ComposerConfig, overrides domain.ComposerOverrides) error {
	if overrides.DifficultyTargets == nil {
		cfg.DifficultyTargets = map[domain.Difficulty]float64{
			domain.DifficultyMedium: 0.4,
			domain.DifficultyHard:   0.6,
		}
	}
	return nil
}

func (challengeStrategy) Bias(q domain.Question, _ domain.ComposerConfig) float64 {
	if q.Difficulty == domain.DifficultyHard {
		return hardBias
	}
	return 0
}

func (challengeStrategy) Arrange(slate []domain.Question, _ uint64) []domain.Question {
	return orderByDifficulty(slate)
}

func orderByDifficulty(slate []domain.Question) []domain.Question {
	out := append([]domain.Question(nil), slate...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Difficulty.Rank() < out[j].Difficulty.Rank()
	})
	return out
}

func hasTheme(q domain.Question, theme string) bool {
	for _, t := range q.Themes {
		if t == theme {
			return true
		}
	}
	return false
}
