package app

import (
	"time"

	"daily-quiz-composer/internal/domain"
)

type eligibilityClass int

const (
	eligible eligibilityClass = iota
	notApproved
	excludedByConfig
	scheduledSameDay
	coolingDown
)

type eligibilityRules struct {
	at        time.Time
	cooldown  time.Duration
	excluded  map[string]struct{}
	scheduled map[string]struct{}
}

// classify applies the pool exclusion rules in order: status, explicit
// exclusion, same-day reuse, exposure cooldown.
func classify(q domain.Question, exp domain.ExposureRecord, rules eligibilityRules) eligibilityClass {
	if q.Status != domain.QuestionApproved {
		return notApproved
	}
	if _, ok := rules.excluded[q.ID]; ok {
		return excludedByConfig
	}
	if _, ok := rules.scheduled[q.ID]; ok {
		return scheduledSameDay
	}
	if rules.cooldown > 0 && exp.LastUsedAt != nil {
		gap := rules.at.Sub(*exp.LastUsedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap < rules.cooldown {
			return coolingDown
		}
	}
	return eligible
}

func cooldownOf(cfg domain.ComposerConfig) time.Duration {
	return time.Duration(cfg.CooldownDays) * 24 * time.Hour
}
