package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryQuestionTypeHasAShape(t *testing.T) {
	types := QuestionTypes()
	require.Len(t, types, 19)
	for _, typ := range types {
		shape, ok := typ.Shape()
		assert.True(t, ok, "type %s", typ)
		assert.NotEmpty(t, shape, "type %s", typ)
	}
	_, ok := QuestionType("karaoke").Shape()
	assert.False(t, ok)
}

func TestParseDropTime(t *testing.T) {
	want := time.Date(2025, 3, 2, 17, 0, 0, 0, time.UTC)
	for _, raw := range []string{
		"2025-03-02T17:00:00Z",
		"2025-03-02T17:00:42.5Z",
		"2025-03-02T18:00:00+01:00",
		"2025-03-02T17:00",
		" 2025-03-02T17:00:00 ",
	} {
		got, err := ParseDropTime(raw)
		require.NoError(t, err, raw)
		assert.True(t, want.Equal(got), "%s parsed as %v", raw, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	for _, raw := range []string{"", "next friday", "2025-13-02T17:00:00Z"} {
		_, err := ParseDropTime(raw)
		assert.Equal(t, KindValidation, KindOf(err), raw)
	}
}

func TestDayBounds(t *testing.T) {
	start, end := DayBounds(time.Date(2025, 3, 2, 23, 59, 0, 0, time.FixedZone("X", -3600)))
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeMix, mode)

	mode, err = ParseMode(" ramp ")
	require.NoError(t, err)
	assert.Equal(t, ModeRamp, mode)

	_, err = ParseMode("SHUFFLE")
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestErrorKinds(t *testing.T) {
	wrapped := fmt.Errorf("store: %w", ErrDropTimeTaken)
	assert.True(t, errors.Is(wrapped, ErrDropTimeTaken))
	assert.Equal(t, KindConflict, KindOf(wrapped))

	recreated := &Error{Kind: KindNotFound, Message: "daily quiz not found"}
	assert.True(t, errors.Is(recreated, ErrQuizNotFound))
	assert.False(t, errors.Is(recreated, ErrTemplateNotFound))

	cause := errors.New("connection reset")
	internal := Internal("load pool", cause)
	assert.Equal(t, KindInternal, KindOf(internal))
	assert.True(t, errors.Is(internal, cause))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestComposerConfigMerge(t *testing.T) {
	base := DefaultComposerConfig()
	size := 7
	focus := "  folklore "
	merged := base.Merge(ComposerOverrides{
		SlateSize:          &size,
		DifficultyTargets:  map[Difficulty]float64{DifficultyHard: 1},
		FocusTheme:         &focus,
		ExcludeQuestionIDs: []string{"q1"},
	})

	assert.Equal(t, 7, merged.SlateSize)
	assert.Equal(t, map[Difficulty]float64{DifficultyHard: 1}, merged.DifficultyTargets)
	assert.Equal(t, "folklore", merged.FocusTheme)
	assert.Equal(t, []string{"q1"}, merged.ExcludeQuestionIDs)
	assert.Equal(t, base.MaxPerTheme, merged.MaxPerTheme)

	// The base must not be touched by the overlay.
	assert.Equal(t, 5, base.SlateSize)
	assert.Len(t, base.DifficultyTargets, 3)
	assert.Empty(t, base.ExcludeQuestionIDs)
}

func TestComposerConfigValidate(t *testing.T) {
	require.NoError(t, DefaultComposerConfig().Validate())

	zero := 0
	tooLong := MaxCooldownDays + 1
	tooHigh := MaxRelaxationLevel + 1
	cases := map[string]ComposerOverrides{
		"empty slate":        {SlateSize: &zero},
		"targets off by far": {DifficultyTargets: map[Difficulty]float64{DifficultyEasy: 0.5}},
		"unknown difficulty": {DifficultyTargets: map[Difficulty]float64{"brutal": 1}},
		"zero theme cap":     {MaxPerTheme: &zero},
		"cooldown too long":  {CooldownDays: &tooLong},
		"ladder too high":    {MaxRelaxationLevel: &tooHigh},
	}
	for name, o := range cases {
		err := DefaultComposerConfig().Merge(o).Validate()
		assert.Equal(t, KindValidation, KindOf(err), name)
	}
}

func TestQuestionValidate(t *testing.T) {
	valid := Question{
		ID:         "q1",
		Type:       TypeSongAlbumMatch,
		Difficulty: DifficultyEasy,
		Status:     QuestionApproved,
		Choices:    []Choice{{ID: "a"}, {ID: "b"}},
		Targets:    []Choice{{ID: "x"}, {ID: "y"}},
		Answer:     AnswerKey{Pairs: map[string]string{"a": "x", "b": "y"}},
	}
	require.NoError(t, valid.Validate())

	broken := valid
	broken.Answer = AnswerKey{Pairs: map[string]string{"a": "z"}}
	assert.Equal(t, KindValidation, KindOf(broken.Validate()))

	ordering := Question{
		ID: "q2", Type: TypeTimelineOrder, Difficulty: DifficultyHard, Status: QuestionApproved,
		Choices: []Choice{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Answer:  AnswerKey{ChoiceIDs: []string{"c", "a"}},
	}
	assert.Error(t, ordering.Validate())

	text := Question{ID: "q3", Type: TypeShortAnswer, Difficulty: DifficultyMedium, Status: QuestionDraft}
	assert.Error(t, text.Validate())
	text.Answer.Accepted = []string{"Betty"}
	assert.NoError(t, text.Validate())
}
