package app

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"time"

	"daily-quiz-composer/internal/domain"
)

const (
	exposureWeight     = 0.6
	recencyWeight      = 0.4
	quotaFitWeight     = 0.5
	themeNoveltyWeight = 0.1
)

// selectionRequest is everything the engine needs to pick a slate. It holds a
// snapshot of the pool, so the selection itself never touches a store.
type selectionRequest struct {
	DropAt    time.Time
	Strategy  Strategy
	Config    domain.ComposerConfig
	Pool      []domain.Question
	Exposures map[string]domain.ExposureRecord
	// Scheduled holds ids used by other quizzes dropping the same UTC day.
	Scheduled map[string]struct{}
	// Fixed questions are already in the slate; they count against caps and quotas.
	Fixed []domain.Question
}

type selection struct {
	// Picked excludes the fixed questions.
	Picked            []domain.Question
	RelaxationLevel   int
	Warnings          []string
	DifficultyTarget  map[domain.Difficulty]int
	DifficultyActual  map[domain.Difficulty]int
	ThemeDistribution map[string]int
	EligiblePool      int
	AverageExposure   float64
}

type relaxation struct {
	level            int
	ignoreDifficulty bool
	liftThemeCap     bool
	liftTypeCap      bool
	liftSubjectCap   bool
	cooldownFactor   float64
}

// relaxationAt returns the cumulative relaxation of level.
func relaxationAt(level int) relaxation {
	r := relaxation{level: level, cooldownFactor: 1}
	r.ignoreDifficulty = level >= 1
	r.liftThemeCap = level >= 2
	r.liftTypeCap = level >= 3
	if level >= 4 {
		r.cooldownFactor = 0.5
	}
	r.liftSubjectCap = level >= 5
	if level >= 6 {
		r.cooldownFactor = 0
	}
	return r
}

type candidate struct {
	q     domain.Question
	score float64
	tie   uint64
}

// selectSlate runs the filter, score, greedy pick and relaxation pipeline.
// It returns a pool exhaustion error when no level up to the configured
// maximum yields a full slate.
func selectSlate(req selectionRequest) (selection, error) {
	cfg := req.Config
	need := cfg.SlateSize - len(req.Fixed)
	if need <= 0 {
		return selection{}, domain.Validationf("slate already holds %d questions", len(req.Fixed))
	}
	quotas := difficultyQuotas(cfg.DifficultyTargets, cfg.SlateSize)
	excluded := toSet(cfg.ExcludeQuestionIDs)
	for _, q := range req.Fixed {
		excluded[q.ID] = struct{}{}
	}

	best := 0
	var eligibleStrict int
	for level := 0; level <= cfg.MaxRelaxationLevel; level++ {
		relax := relaxationAt(level)
		rules := eligibilityRules{
			at:        req.DropAt,
			cooldown:  time.Duration(float64(cfg.CooldownDays) * relax.cooldownFactor * float64(24*time.Hour)),
			excluded:  excluded,
			scheduled: req.Scheduled,
		}
		ranked := rankCandidates(req, rules)
		if level == 0 {
			eligibleStrict = len(ranked)
		}

		state := newSlateState(cfg, req.Strategy, relax, quotas)
		for _, q := range req.Fixed {
			state.add(q)
		}
		state.fill(ranked, cfg.SlateSize, true)
		if relax.ignoreDifficulty {
			state.fill(ranked, cfg.SlateSize, false)
		}
		if got := len(state.picked) - len(req.Fixed); got > best {
			best = got
		}
		if len(state.picked) < cfg.SlateSize {
			continue
		}

		sel := selection{
			Picked:            append([]domain.Question(nil), state.picked[len(req.Fixed):]...),
			RelaxationLevel:   level,
			DifficultyTarget:  quotas,
			DifficultyActual:  copyCounts(state.byDifficulty),
			ThemeDistribution: copyCounts(state.byTheme),
			EligiblePool:      eligibleStrict,
			AverageExposure:   averageExposure(state.picked, req.Exposures),
		}
		sel.Warnings = relaxationWarnings(level)
		sel.Warnings = append(sel.Warnings, shortfallWarnings(quotas, state.byDifficulty, cfg.DifficultyTolerance)...)
		if req.Strategy.Mode() == domain.ModeThemed && state.byTheme[cfg.FocusTheme] == 0 {
			sel.Warnings = append(sel.Warnings, fmt.Sprintf("focus theme %q is not represented in the slate", cfg.FocusTheme))
		}
		return sel, nil
	}

	return selection{EligiblePool: eligibleStrict}, domain.PoolExhaustedf(
		"only %d of %d questions could be selected for %s at relaxation level %d",
		best, need, req.DropAt.Format(time.RFC3339), cfg.MaxRelaxationLevel)
}

func rankCandidates(req selectionRequest, rules eligibilityRules) []candidate {
	ranked := make([]candidate, 0, len(req.Pool))
	for _, q := range req.Pool {
		exp := req.Exposures[q.ID]
		if classify(q, exp, rules) != eligible {
			continue
		}
		ranked = append(ranked, candidate{
			q:     q,
			score: baseScore(exp, req.DropAt, req.Config.CooldownDays) + req.Strategy.Bias(q, req.Config),
			tie:   tieBreaker(q.ID, req.DropAt, req.Strategy.Mode()),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].tie != ranked[j].tie {
			return ranked[i].tie < ranked[j].tie
		}
		return ranked[i].q.ID < ranked[j].q.ID
	})
	return ranked
}

// baseScore favours rarely used questions and those used long ago.
func baseScore(exp domain.ExposureRecord, at time.Time, cooldownDays int) float64 {
	exposure := 1 / float64(1+exp.TimesUsed)
	recency := 1.0
	if exp.LastUsedAt != nil {
		horizon := float64(2 * max(cooldownDays, 1))
		days := math.Abs(at.Sub(*exp.LastUsedAt).Hours()) / 24
		recency = math.Min(days/horizon, 1)
	}
	return exposureWeight*exposure + recencyWeight*recency
}

// tieBreaker varies the order of equally scored questions between days while
// keeping a given day reproducible.
func tieBreaker(questionID string, dropAt time.Time, mode domain.Mode) uint64 {
	h := fnv.New64a()
	h.Write([]byte(questionID))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(dropAt.Unix(), 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(mode))
	return h.Sum64()
}

func slateSeed(dropAt time.Time, mode domain.Mode, ids []string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(dropAt.Unix(), 10)))
	h.Write([]byte(mode))
	for _, id := range ids {
		h.Write([]byte{'|'})
		h.Write([]byte(id))
	}
	return h.Sum64()
}

// difficultyQuotas converts shares into counts summing to n using largest
// remainders; ties go to the easier difficulty.
func difficultyQuotas(targets map[domain.Difficulty]float64, n int) map[domain.Difficulty]int {
	quotas := make(map[domain.Difficulty]int, len(domain.Difficulties))
	type rem struct {
		d    domain.Difficulty
		frac float64
	}
	rems := make([]rem, 0, len(domain.Difficulties))
	assigned := 0
	for _, d := range domain.Difficulties {
		raw := targets[d] * float64(n)
		whole := int(math.Floor(raw + 1e-9))
		quotas[d] = whole
		assigned += whole
		if targets[d] > 0 {
			rems = append(rems, rem{d: d, frac: raw - float64(whole)})
		}
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < n && len(rems) > 0; i++ {
		quotas[rems[i%len(rems)].d]++
		assigned++
	}
	return quotas
}

type slateState struct {
	cfg      domain.ComposerConfig
	strategy Strategy
	relax    relaxation
	quotas   map[domain.Difficulty]int

	picked       []domain.Question
	ids          map[string]struct{}
	byDifficulty map[domain.Difficulty]int
	byTheme      map[string]int
	bySubject    map[string]int
	byType       map[domain.QuestionType]int
}

func newSlateState(cfg domain.ComposerConfig, strategy Strategy, relax relaxation, quotas map[domain.Difficulty]int) *slateState {
	return &slateState{
		cfg:          cfg,
		strategy:     strategy,
		relax:        relax,
		quotas:       quotas,
		ids:          make(map[string]struct{}),
		byDifficulty: make(map[domain.Difficulty]int),
		byTheme:      make(map[string]int),
		bySubject:    make(map[string]int),
		byType:       make(map[domain.QuestionType]int),
	}
}

func (s *slateState) add(q domain.Question) {
	s.picked = append(s.picked, q)
	s.ids[q.ID] = struct{}{}
	s.byDifficulty[q.Difficulty]++
	for _, t := range uniqueStrings(q.Themes) {
		s.byTheme[t]++
	}
	for _, subj := range uniqueStrings(q.Subjects) {
		s.bySubject[subj]++
	}
	s.byType[q.Type]++
}

func (s *slateState) fits(q domain.Question, enforceQuota bool) bool {
	if _, dup := s.ids[q.ID]; dup {
		return false
	}
	if enforceQuota && s.byDifficulty[q.Difficulty] >= s.quotas[q.Difficulty]+s.cfg.DifficultyTolerance {
		return false
	}
	if !s.relax.liftThemeCap {
		for _, t := range uniqueStrings(q.Themes) {
			if s.strategy.ThemeCapExempt(t, s.cfg) {
				continue
			}
			if s.byTheme[t] >= s.cfg.MaxPerTheme {
				return false
			}
		}
	}
	if !s.relax.liftSubjectCap {
		for _, subj := range uniqueStrings(q.Subjects) {
			if s.bySubject[subj] >= s.cfg.MaxPerSubject {
				return false
			}
		}
	}
	if !s.relax.liftTypeCap && s.byType[q.Type] >= s.cfg.MaxPerType {
		return false
	}
	return true
}

// fitBonus rewards candidates that fill an open difficulty quota or bring a
// theme the slate does not have yet.
func (s *slateState) fitBonus(q domain.Question) float64 {
	bonus := 0.0
	if s.byDifficulty[q.Difficulty] < s.quotas[q.Difficulty] {
		bonus += quotaFitWeight
	}
	novel := 0
	for _, t := range uniqueStrings(q.Themes) {
		if s.byTheme[t] == 0 {
			novel++
		}
	}
	return bonus + themeNoveltyWeight*float64(min(novel, 2))
}

// fill greedily adds the best fitting candidate until the slate holds n
// questions or nothing fits.
func (s *slateState) fill(ranked []candidate, n int, enforceQuota bool) {
	for len(s.picked) < n {
		best := -1
		bestScore := 0.0
		for i := range ranked {
			c := &ranked[i]
			if !s.fits(c.q, enforceQuota) {
				continue
			}
			score := c.score + s.fitBonus(c.q)
			if best < 0 || score > bestScore || (score == bestScore && c.tie < ranked[best].tie) {
				best = i
				bestScore = score
			}
		}
		if best < 0 {
			return
		}
		s.add(ranked[best].q)
	}
}

func relaxationWarnings(level int) []string {
	warnings := make([]string, 0, level)
	for _, step := range domain.RelaxationSteps[1 : level+1] {
		warnings = append(warnings, fmt.Sprintf("relaxation level %d (%s) applied: %s", step.Level, step.Name, step.Description))
	}
	return warnings
}

func shortfallWarnings(target, actual map[domain.Difficulty]int, tolerance int) []string {
	var warnings []string
	for _, d := range domain.Difficulties {
		diff := actual[d] - target[d]
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			warnings = append(warnings, fmt.Sprintf("difficulty %s: target %d, selected %d", d, target[d], actual[d]))
		}
	}
	return warnings
}

func averageExposure(questions []domain.Question, exposures map[string]domain.ExposureRecord) float64 {
	if len(questions) == 0 {
		return 0
	}
	total := 0
	for _, q := range questions {
		total += exposures[q.ID].TimesUsed
	}
	return float64(total) / float64(len(questions))
}

func copyCounts[K comparable](in map[K]int) map[K]int {
	out := make(map[K]int, len(in))
	for k, v := range in {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func uniqueStrings(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
