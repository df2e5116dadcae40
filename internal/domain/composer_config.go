package domain

import (
	"math"
	"strings"
)

// Mode selects the composition strategy.
type Mode string

const (
	ModeMix       Mode = "MIX"
	ModeThemed    Mode = "THEMED"
	ModeRamp      Mode = "RAMP"
	ModeChallenge Mode = "CHALLENGE"
)

// Modes lists every supported composition mode.
var Modes = []Mode{ModeMix, ModeThemed, ModeRamp, ModeChallenge}

// ParseMode accepts a mode name in any case; empty means MIX.
func ParseMode(raw string) (Mode, error) {
	if strings.TrimSpace(raw) == "" {
		return ModeMix, nil
	}
	m := Mode(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", Validationf("unknown composition mode %q", raw)
}

const (
	MaxSlateSize    = 20
	MaxCooldownDays = 365
)

// ComposerConfig is the fully resolved set of selection constraints.
type ComposerConfig struct {
	SlateSize           int                    `json:"slateSize"`
	DifficultyTargets   map[Difficulty]float64 `json:"difficultyTargets"`
	DifficultyTolerance int                    `json:"difficultyTolerance"`
	MaxPerTheme         int                    `json:"maxPerTheme"`
	MaxPerSubject       int                    `json:"maxPerSubject"`
	MaxPerType          int                    `json:"maxPerType"`
	CooldownDays        int                    `json:"cooldownDays"`
	MaxRelaxationLevel  int                    `json:"maxRelaxationLevel"`
	FocusTheme          string                 `json:"focusTheme,omitempty"`
	ExcludeQuestionIDs  []string               `json:"excludeQuestionIds,omitempty"`
}

// ComposerOverrides is the partial config a caller may send. Nil fields keep
// the default.
type ComposerOverrides struct {
	SlateSize           *int                   `json:"slateSize,omitempty"`
	DifficultyTargets   map[Difficulty]float64 `json:"difficultyTargets,omitempty"`
	DifficultyTolerance *int                   `json:"difficultyTolerance,omitempty"`
	MaxPerTheme         *int                   `json:"maxPerTheme,omitempty"`
	MaxPerSubject       *int                   `json:"maxPerSubject,omitempty"`
	MaxPerType          *int                   `json:"maxPerType,omitempty"`
	CooldownDays        *int                   `json:"cooldownDays,omitempty"`
	MaxRelaxationLevel  *int                   `json:"maxRelaxationLevel,omitempty"`
	FocusTheme          *string                `json:"focusTheme,omitempty"`
	ExcludeQuestionIDs  []string               `json:"excludeQuestionIds,omitempty"`
}

// DefaultComposerConfig returns the built-in defaults.
func DefaultComposerConfig() ComposerConfig {
	return ComposerConfig{
		SlateSize: 5,
		DifficultyTargets: map[Difficulty]float64{
			DifficultyEasy:   0.4,
			DifficultyMedium: 0.4,
			DifficultyHard:   0.2,
		},
		DifficultyTolerance: 0,
		MaxPerTheme:         2,
		MaxPerSubject:       1,
		MaxPerType:          2,
		CooldownDays:        14,
		MaxRelaxationLevel:  MaxRelaxationLevel,
	}
}

// Merge overlays o on c. A non-nil DifficultyTargets replaces the whole map.
func (c ComposerConfig) Merge(o ComposerOverrides) ComposerConfig {
	out := c.clone()
	if o.SlateSize != nil {
		out.SlateSize = *o.SlateSize
	}
	if o.DifficultyTargets != nil {
		out.DifficultyTargets = make(map[Difficulty]float64, len(o.DifficultyTargets))
		for k, v := range o.DifficultyTargets {
			out.DifficultyTargets[k] = v
		}
	}
	if o.DifficultyTolerance != nil {
		out.DifficultyTolerance = *o.DifficultyTolerance
	}
	if o.MaxPerTheme != nil {
		out.MaxPerTheme = *o.MaxPerTheme
	}
	if o.MaxPerSubject != nil {
		out.MaxPerSubject = *o.MaxPerSubject
	}
	if o.MaxPerType != nil {
		out.MaxPerType = *o.MaxPerType
	}
	if o.CooldownDays != nil {
		out.CooldownDays = *o.CooldownDays
	}
	if o.MaxRelaxationLevel != nil {
		out.MaxRelaxationLevel = *o.MaxRelaxationLevel
	}
	if o.FocusTheme != nil {
		out.FocusTheme = strings.TrimSpace(*o.FocusTheme)
	}
	if len(o.ExcludeQuestionIDs) > 0 {
		out.ExcludeQuestionIDs = append(append([]string(nil), out.ExcludeQuestionIDs...), o.ExcludeQuestionIDs...)
	}
	return out
}

func (c ComposerConfig) clone() ComposerConfig {
	out := c
	out.DifficultyTargets = make(map[Difficulty]float64, len(c.DifficultyTargets))
	for k, v := range c.DifficultyTargets {
		out.DifficultyTargets[k] = v
	}
	out.ExcludeQuestionIDs = append([]string(nil), c.ExcludeQuestionIDs...)
	return out
}

// Validate rejects configurations the engine cannot honour.
func (c ComposerConfig) Validate() error {
	if c.SlateSize < 1 || c.SlateSize > MaxSlateSize {
		return Validationf("slateSize must be between 1 and %d", MaxSlateSize)
	}
	if len(c.DifficultyTargets) == 0 {
		return Validationf("difficultyTargets must not be empty")
	}
	sum := 0.0
	for d, share := range c.DifficultyTargets {
		if !d.Valid() {
			return Validationf("unknown difficulty %q in difficultyTargets", d)
		}
		if share < 0 || share > 1 {
			return Validationf("difficulty share for %s must be within [0,1]", d)
		}
		sum += share
	}
	if math.Abs(sum-1) > 0.01 {
		return Validationf("difficultyTargets must sum to 1, got %.2f", sum)
	}
	if c.DifficultyTolerance < 0 {
		return Validationf("difficultyTolerance must not be negative")
	}
	if c.MaxPerTheme < 1 || c.MaxPerSubject < 1 || c.MaxPerType < 1 {
		return Validationf("per-theme, per-subject and per-type caps must be at least 1")
	}
	if c.CooldownDays < 0 || c.CooldownDays > MaxCooldownDays {
		return Validationf("cooldownDays must be between 0 and %d", MaxCooldownDays)
	}
	if c.MaxRelaxationLevel < 0 || c.MaxRelaxationLevel > MaxRelaxationLevel {
		return Validationf("maxRelaxationLevel must be between 0 and %d", MaxRelaxationLevel)
	}
	return nil
}

// RelaxationStep names one rung of the relaxation ladder.
type RelaxationStep struct {
	Level       int    `json:"level"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// MaxRelaxationLevel is the highest rung of RelaxationSteps.
const MaxRelaxationLevel = 6

// RelaxationSteps is the ordered ladder. Each level keeps the relaxations of
// the levels below it.
var RelaxationSteps = []RelaxationStep{
	{Level: 0, Name: "strict", Description: "all constraints enforced"},
	{Level: 1, Name: "difficulty_mix", Description: "remaining slots filled from any difficulty"},
	{Level: 2, Name: "theme_cap", Description: "per-theme cap lifted"},
	{Level: 3, Name: "type_cap", Description: "per-question-type cap lifted"},
	{Level: 4, Name: "cooldown_halved", Description: "exposure cooldown halved"},
	{Level: 5, Name: "subject_cap", Description: "per-subject cap lifted"},
	{Level: 6, Name: "cooldown_ignored", Description: "exposure cooldown ignored"},
}
