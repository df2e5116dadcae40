package app

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"daily-quiz-composer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDropAt = time.Date(2025, 3, 2, 17, 0, 0, 0, time.UTC)

func mixRequest(pool []domain.Question) selectionRequest {
	return selectionRequest{
		DropAt:    testDropAt,
		Strategy:  mixStrategy{},
		Config:    domain.DefaultComposerConfig(),
		Pool:      pool,
		Exposures: map[string]domain.ExposureRecord{},
		Scheduled: map[string]struct{}{},
	}
}

func TestDifficultyQuotas(t *testing.T) {
	cases := []struct {
		name    string
		targets map[domain.Difficulty]float64
		n       int
		want    map[domain.Difficulty]int
	}{
		{
			name:    "defaults",
			targets: domain.DefaultComposerConfig().DifficultyTargets,
			n:       5,
			want:    map[domain.Difficulty]int{domain.DifficultyEasy: 2, domain.DifficultyMedium: 2, domain.DifficultyHard: 1},
		},
		{
			name:    "challenge",
			targets: map[domain.Difficulty]float64{domain.DifficultyMedium: 0.4, domain.DifficultyHard: 0.6},
			n:       5,
			want:    map[domain.Difficulty]int{domain.DifficultyEasy: 0, domain.DifficultyMedium: 2, domain.DifficultyHard: 3},
		},
		{
			name:    "even thirds favour easier",
			targets: map[domain.Difficulty]float64{domain.DifficultyEasy: 1.0 / 3, domain.DifficultyMedium: 1.0 / 3, domain.DifficultyHard: 1.0 / 3},
			n:       5,
			want:    map[domain.Difficulty]int{domain.DifficultyEasy: 2, domain.DifficultyMedium: 2, domain.DifficultyHard: 1},
		},
		{
			name:    "single slot",
			targets: domain.DefaultComposerConfig().DifficultyTargets,
			n:       1,
			want:    map[domain.Difficulty]int{domain.DifficultyEasy: 1, domain.DifficultyMedium: 0, domain.DifficultyHard: 0},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := difficultyQuotas(tc.targets, tc.n)
			assert.Equal(t, tc.want, got)
			sum := 0
			for _, v := range got {
				sum += v
			}
			assert.Equal(t, tc.n, sum)
		})
	}
}

func TestSelectSlateFromDiversePool(t *testing.T) {
	sel, err := selectSlate(mixRequest(FixturePool(60)))
	require.NoError(t, err)

	require.Len(t, sel.Picked, 5)
	assert.Equal(t, 0, sel.RelaxationLevel)
	assert.Empty(t, sel.Warnings)
	assert.Equal(t, 60, sel.EligiblePool)

	ids := map[string]struct{}{}
	subjects := map[string]int{}
	themes := map[string]int{}
	types := map[domain.QuestionType]int{}
	for _, q := range sel.Picked {
		ids[q.ID] = struct{}{}
		for _, s := range q.Subjects {
			subjects[s]++
		}
		for _, th := range q.Themes {
			themes[th]++
		}
		types[q.Type]++
	}
	assert.Len(t, ids, 5, "ids must be unique")
	for s, n := range subjects {
		assert.LessOrEqualf(t, n, 1, "subject %s over cap", s)
	}
	for th, n := range themes {
		assert.LessOrEqualf(t, n, 2, "theme %s over cap", th)
	}
	for typ, n := range types {
		assert.LessOrEqualf(t, n, 2, "type %s over cap", typ)
	}
	assert.Equal(t, map[domain.Difficulty]int{
		domain.DifficultyEasy:   2,
		domain.DifficultyMedium: 2,
		domain.DifficultyHard:   1,
	}, sel.DifficultyActual)
}

func TestSelectSlateHonoursSkewedTargets(t *testing.T) {
	types := domain.QuestionTypes()
	var pool []domain.Question
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("easy-%02d", i)
		pool = append(pool, FixtureQuestion(id, types[i%len(types)], domain.DifficultyEasy, []string{fixtureThemes[i%len(fixtureThemes)]}, []string{id}))
	}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("hard-%02d", i)
		pool = append(pool, FixtureQuestion(id, types[(i+7)%len(types)], domain.DifficultyHard, []string{fixtureThemes[(i+5)%len(fixtureThemes)]}, []string{id}))
	}
	req := mixRequest(pool)
	req.Config.DifficultyTargets = map[domain.Difficulty]float64{domain.DifficultyEasy: 0.6, domain.DifficultyHard: 0.4}

	sel, err := selectSlate(req)
	require.NoError(t, err)
	assert.Equal(t, 2, sel.DifficultyActual[domain.DifficultyHard])
	assert.Equal(t, 3, sel.DifficultyActual[domain.DifficultyEasy])
	assert.Equal(t, 0, sel.RelaxationLevel)
}

func TestSelectSlateExhaustsSmallPool(t *testing.T) {
	_, err := selectSlate(mixRequest(FixturePool(4)))
	require.Error(t, err)
	assert.Equal(t, domain.KindPoolExhausted, domain.KindOf(err))
}

func TestSelectSlateRelaxesSubjectCap(t *testing.T) {
	pool := FixturePool(30)
	for i := range pool {
		pool[i].Subjects = []string{"taylor"}
	}

	sel, err := selectSlate(mixRequest(pool))
	require.NoError(t, err)
	assert.Equal(t, 5, sel.RelaxationLevel)
	require.Len(t, sel.Warnings, 5)
	assert.Contains(t, sel.Warnings[0], "difficulty_mix")
	assert.Contains(t, sel.Warnings[4], "subject_cap")
}

func TestSelectSlateRespectsMaxRelaxationLevel(t *testing.T) {
	pool := FixturePool(30)
	for i := range pool {
		pool[i].Subjects = []string{"taylor"}
	}
	req := mixRequest(pool)
	req.Config.MaxRelaxationLevel = 4

	_, err := selectSlate(req)
	assert.Equal(t, domain.KindPoolExhausted, domain.KindOf(err))
}

func TestSelectSlateCooldownLadder(t *testing.T) {
	cases := []struct {
		name      string
		lastUsed  time.Time
		wantLevel int
	}{
		{name: "used ten days ago clears halved cooldown", lastUsed: testDropAt.AddDate(0, 0, -10), wantLevel: 4},
		{name: "used three days ago needs cooldown ignored", lastUsed: testDropAt.AddDate(0, 0, -3), wantLevel: 6},
		{name: "scheduled two days later also cools down", lastUsed: testDropAt.AddDate(0, 0, 2), wantLevel: 6},
		{name: "used long ago is eligible", lastUsed: testDropAt.AddDate(0, 0, -30), wantLevel: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := mixRequest(FixturePool(5))
			last := tc.lastUsed
			req.Exposures["q001"] = domain.ExposureRecord{QuestionID: "q001", TimesUsed: 1, LastUsedAt: &last}

			sel, err := selectSlate(req)
			require.NoError(t, err)
			assert.Equal(t, tc.wantLevel, sel.RelaxationLevel)
			assert.Len(t, sel.Picked, 5)
		})
	}
}

func TestSelectSlateNeverReusesSameDayQuestions(t *testing.T) {
	req := mixRequest(FixturePool(5))
	req.Scheduled = map[string]struct{}{"q000": {}}

	_, err := selectSlate(req)
	assert.Equal(t, domain.KindPoolExhausted, domain.KindOf(err))
}

func TestSelectSlateSkipsUnapprovedAndExcluded(t *testing.T) {
	pool := FixturePool(40)
	pool[0].Status = domain.QuestionDisabled
	pool[1].Status = domain.QuestionDraft
	req := mixRequest(pool)
	req.Config.ExcludeQuestionIDs = []string{"q002"}

	sel, err := selectSlate(req)
	require.NoError(t, err)
	assert.Equal(t, 37, sel.EligiblePool)
	for _, q := range sel.Picked {
		assert.NotContains(t, []string{"q000", "q001", "q002"}, q.ID)
	}
}

func TestSelectSlateIsDeterministic(t *testing.T) {
	pool := FixturePool(80)
	first, err := selectSlate(mixRequest(pool))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := selectSlate(mixRequest(pool))
		require.NoError(t, err)
		assert.Equal(t, questionIDs(first.Picked), questionIDs(again.Picked))
	}
}

func TestSelectSlatePrefersFreshQuestions(t *testing.T) {
	pool := FixturePool(6)
	req := mixRequest(pool)
	// q002 and q005 compete for the single hard slot; q005 has been used often.
	old := testDropAt.AddDate(0, -6, 0)
	req.Exposures["q005"] = domain.ExposureRecord{QuestionID: "q005", TimesUsed: 9, LastUsedAt: &old}

	sel, err := selectSlate(req)
	require.NoError(t, err)
	ids := questionIDs(sel.Picked)
	assert.Contains(t, ids, "q002")
	assert.NotContains(t, ids, "q005")
}

func TestThemedSelectionFillsFocusTheme(t *testing.T) {
	types := domain.QuestionTypes()
	pool := FixturePool(40)
	for i, d := range []domain.Difficulty{"easy", "easy", "medium", "medium", "hard", "hard"} {
		id := fmt.Sprintf("folk-%d", i)
		pool = append(pool, FixtureQuestion(id, types[i+2], d, []string{"folklore"}, []string{id}))
	}
	req := mixRequest(pool)
	req.Strategy = themedStrategy{}
	req.Config.FocusTheme = "folklore"

	sel, err := selectSlate(req)
	require.NoError(t, err)
	for _, q := range sel.Picked {
		assert.Containsf(t, q.Themes, "folklore", "question %s is off theme", q.ID)
	}
	assert.Equal(t, 5, sel.ThemeDistribution["folklore"])
	assert.Equal(t, 0, sel.RelaxationLevel)
}

func TestThemedSelectionWarnsWhenFocusThemeMissing(t *testing.T) {
	req := mixRequest(FixturePool(40))
	req.Strategy = themedStrategy{}
	req.Config.FocusTheme = "debut"

	sel, err := selectSlate(req)
	require.NoError(t, err)
	require.Len(t, sel.Picked, 5)
	found := false
	for _, w := range sel.Warnings {
		if strings.Contains(w, `focus theme "debut"`) {
			found = true
		}
	}
	assert.True(t, found, "expected focus theme warning, got %v", sel.Warnings)
}

func TestSelectSlateWithFixedQuestions(t *testing.T) {
	pool := FixturePool(40)
	req := mixRequest(pool)
	req.Fixed = pool[:4]

	sel, err := selectSlate(req)
	require.NoError(t, err)
	require.Len(t, sel.Picked, 1)
	assert.NotContains(t, questionIDs(pool[:4]), sel.Picked[0].ID)
	// q000..q003 hold easy, medium, hard, easy; the open slot is medium.
	assert.Equal(t, domain.DifficultyMedium, sel.Picked[0].Difficulty)
}

func TestStrategies(t *testing.T) {
	_, err := StrategyFor("CHAOS")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	cfg := domain.DefaultComposerConfig()
	require.NoError(t, challengeStrategy{}.Configure(&cfg, domain.ComposerOverrides{}))
	assert.Equal(t, map[domain.Difficulty]float64{domain.DifficultyMedium: 0.4, domain.DifficultyHard: 0.6}, cfg.DifficultyTargets)

	custom := domain.DefaultComposerConfig()
	overrides := domain.ComposerOverrides{DifficultyTargets: custom.DifficultyTargets}
	require.NoError(t, challengeStrategy{}.Configure(&custom, overrides))
	assert.Equal(t, 0.4, custom.DifficultyTargets[domain.DifficultyEasy])

	themed := domain.DefaultComposerConfig()
	assert.Equal(t, domain.KindValidation, domain.KindOf(themedStrategy{}.Configure(&themed, domain.ComposerOverrides{})))

	pool := FixturePool(6)
	ramped := rampStrategy{}.Arrange([]domain.Question{pool[2], pool[1], pool[0]}, 42)
	assert.Equal(t, []string{"q000", "q001", "q002"}, questionIDs(ramped))

	mixed := mixStrategy{}.Arrange(pool, 42)
	assert.ElementsMatch(t, questionIDs(pool), questionIDs(mixed))
	assert.Equal(t, questionIDs(mixed), questionIDs(mixStrategy{}.Arrange(pool, 42)))
}
