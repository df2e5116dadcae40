package app_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"daily-quiz-composer/internal/app"
	"daily-quiz-composer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentCompositionLogsPaging(t *testing.T) {
	ctx := context.Background()
	svc, _ := newComposer(t, app.FixturePool(80))
	first := compose(t, svc, "2025-03-02T17:00:00Z")
	second := compose(t, svc, "2025-03-03T17:00:00Z")
	third := compose(t, svc, "2025-03-04T17:00:00Z")

	logs, err := svc.GetRecentCompositionLogs(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, third.DailyQuiz.ID, logs[0].QuizID)
	assert.Equal(t, second.DailyQuiz.ID, logs[1].QuizID)

	logs, err = svc.GetRecentCompositionLogs(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, first.DailyQuiz.ID, logs[0].QuizID)

	logs, err = svc.GetRecentCompositionLogs(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = svc.GetRecentCompositionLogs(ctx, app.MaxLogLimit+1, 0)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	_, err = svc.GetRecentCompositionLogs(ctx, -1, 0)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	_, err = svc.GetRecentCompositionLogs(ctx, 5, -1)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestSystemHealth(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy with a large pool", func(t *testing.T) {
		svc, _ := newComposer(t, app.FixturePool(60))
		report, err := svc.GetSystemHealth(ctx)
		require.NoError(t, err)
		assert.True(t, report.Healthy, "reasons: %v", report.Reasons)
		assert.Empty(t, report.Reasons)
		assert.Equal(t, 60, report.EligiblePool)
		assert.Equal(t, 15, report.SafetyMargin)
		assert.Equal(t, app.FixtureNow.Add(app.DefaultHealthThresholds().Lookahead), report.NextDropAt)
	})

	t.Run("small pool is below safety margin", func(t *testing.T) {
		svc, _ := newComposer(t, app.FixturePool(8))
		report, err := svc.GetSystemHealth(ctx)
		require.NoError(t, err)
		assert.False(t, report.Healthy)
		require.Len(t, report.Reasons, 1)
		assert.Contains(t, report.Reasons[0], "below safety margin")
	})

	t.Run("rejected requests do not count as failures", func(t *testing.T) {
		svc, _ := newComposer(t, app.FixturePool(60))
		compose(t, svc, "2025-03-02T17:00:00Z")
		for i := 0; i < 3; i++ {
			_, err := svc.ComposeDailyQuiz(ctx, app.ComposeRequest{DropAtUTC: "2025-03-02T17:00:00Z"})
			require.Error(t, err)
		}
		report, err := svc.GetSystemHealth(ctx)
		require.NoError(t, err)
		assert.True(t, report.Healthy, "reasons: %v", report.Reasons)
		assert.Equal(t, 4, report.RecentAttempts)
		assert.Zero(t, report.FailureRate)

		stats, err := svc.GetCompositionStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.RecentFailures)
	})

	t.Run("exhausted pools raise the failure rate", func(t *testing.T) {
		svc, _ := newComposer(t, app.FixturePool(60))
		compose(t, svc, "2025-03-02T17:00:00Z")
		exhausting := app.ComposeRequest{
			DropAtUTC: "2025-03-03T17:00:00Z",
			Config:    domain.ComposerOverrides{ExcludeQuestionIDs: poolIDs(56)},
		}
		for i := 0; i < 3; i++ {
			_, err := svc.ComposeDailyQuiz(ctx, exhausting)
			require.Equal(t, domain.KindPoolExhausted, domain.KindOf(err), "err: %v", err)
		}
		report, err := svc.GetSystemHealth(ctx)
		require.NoError(t, err)
		assert.False(t, report.Healthy)
		assert.Equal(t, 4, report.RecentAttempts)
		assert.InDelta(t, 0.75, report.FailureRate, 1e-9)
		found := false
		for _, reason := range report.Reasons {
			if strings.HasPrefix(reason, "failure rate") {
				found = true
			}
		}
		assert.True(t, found, "reasons: %v", report.Reasons)
	})
}

// poolIDs returns the ids of the first n fixture questions.
func poolIDs(n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, fmt.Sprintf("q%03d", i))
	}
	return ids
}

func TestCompositionStatsAndAvailability(t *testing.T) {
	ctx := context.Background()
	svc, _ := newComposer(t, app.FixturePool(60))
	compose(t, svc, "2025-03-02T17:00:00Z")
	_, err := svc.ComposeDailyQuiz(ctx, app.ComposeRequest{DropAtUTC: "2025-03-02T17:00:00Z"})
	require.Error(t, err)

	stats, err := svc.GetCompositionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RecentAttempts)
	assert.Equal(t, 1, stats.RecentSuccesses)
	assert.Equal(t, 1, stats.RecentFailures)
	assert.Equal(t, 60, stats.Availability.TotalQuestions)
	assert.Equal(t, 60, stats.Availability.Approved)
	assert.Equal(t, 5, stats.Availability.CoolingDown)
	assert.Equal(t, 55, stats.Availability.Eligible)

	sameDay, err := svc.GetQuestionAvailability(ctx, "2025-03-02T09:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 5, sameDay.UsedSameDay)
	assert.Equal(t, 0, sameDay.CoolingDown)
	assert.Equal(t, 55, sameDay.Eligible)
	total := 0
	for _, n := range sameDay.ByDifficulty {
		total += n
	}
	assert.Equal(t, 55, total)

	_, err = svc.GetQuestionAvailability(ctx, "yesterday-ish")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestConfigurationOptions(t *testing.T) {
	pool := app.FixturePool(20)
	pool[0].Status = domain.QuestionDraft
	pool[0].Themes = []string{"unreleased"}
	svc, _ := newComposer(t, pool)

	opts, err := svc.GetConfigurationOptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Modes, opts.Modes)
	assert.Len(t, opts.QuestionTypes, 19)
	assert.Len(t, opts.RelaxationLevels, domain.MaxRelaxationLevel+1)
	assert.Equal(t, domain.DefaultComposerConfig(), opts.Defaults)
	assert.True(t, sort.StringsAreSorted(opts.Themes))
	assert.NotContains(t, opts.Themes, "unreleased")
	assert.Contains(t, opts.Themes, "folklore")
}
