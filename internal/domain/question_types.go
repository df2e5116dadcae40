package domain

// QuestionType is the closed set of question variants the editorial tools produce.
type QuestionType string

const (
	TypeMultipleChoice     QuestionType = "multiple_choice"
	TypeTrueFalse          QuestionType = "true_false"
	TypeFillBlank          QuestionType = "fill_blank"
	TypeLyricCompletion    QuestionType = "lyric_completion"
	TypeGuessSongFromLyric QuestionType = "guess_song_from_lyric"
	TypeAlbumCover         QuestionType = "album_cover"
	TypeAudioClip          QuestionType = "audio_clip"
	TypeImageIdentify      QuestionType = "image_identify"
	TypeMultiSelect        QuestionType = "multi_select"
	TypeSpeedTap           QuestionType = "speed_tap"
	TypeSongAlbumMatch     QuestionType = "song_album_match"
	TypeLyricSongMatch     QuestionType = "lyric_song_match"
	TypeEraOutfitMatch     QuestionType = "era_outfit_match"
	TypeTimelineOrder      QuestionType = "timeline_order"
	TypeTracklistOrder     QuestionType = "tracklist_order"
	TypeReleaseDateOrder   QuestionType = "release_date_order"
	TypeOddOneOut          QuestionType = "odd_one_out"
	TypeWhoSaidIt          QuestionType = "who_said_it"
	TypeShortAnswer        QuestionType = "short_answer"
)

// AnswerShape groups question types by how their answers are structured.
type AnswerShape string

const (
	ShapeSingle   AnswerShape = "single"
	ShapeMulti    AnswerShape = "multi"
	ShapeOrdering AnswerShape = "ordering"
	ShapeMatching AnswerShape = "matching"
	ShapeText     AnswerShape = "text"
)

var questionShapes = map[QuestionType]AnswerShape{
	TypeMultipleChoice:     ShapeSingle,
	TypeTrueFalse:          ShapeSingle,
	TypeFillBlank:          ShapeText,
	TypeLyricCompletion:    ShapeText,
	TypeGuessSongFromLyric: ShapeSingle,
	TypeAlbumCover:         ShapeSingle,
	TypeAudioClip:          ShapeSingle,
	TypeImageIdentify:      ShapeSingle,
	TypeMultiSelect:        ShapeMulti,
	TypeSpeedTap:           ShapeMulti,
	TypeSongAlbumMatch:     ShapeMatching,
	TypeLyricSongMatch:     ShapeMatching,
	TypeEraOutfitMatch:     ShapeMatching,
	TypeTimelineOrder:      ShapeOrdering,
	TypeTracklistOrder:     ShapeOrdering,
	TypeReleaseDateOrder:   ShapeOrdering,
	TypeOddOneOut:          ShapeSingle,
	TypeWhoSaidIt:          ShapeSingle,
	TypeShortAnswer:        ShapeText,
}

// QuestionTypes returns every known type in declaration order.
func QuestionTypes() []QuestionType {
	return []QuestionType{
		TypeMultipleChoice, TypeTrueFalse, TypeFillBlank, TypeLyricCompletion,
		TypeGuessSongFromLyric, TypeAlbumCover, TypeAudioClip, TypeImageIdentify,
		TypeMultiSelect, TypeSpeedTap, TypeSongAlbumMatch, TypeLyricSongMatch,
		TypeEraOutfitMatch, TypeTimelineOrder, TypeTracklistOrder, TypeReleaseDateOrder,
		TypeOddOneOut, TypeWhoSaidIt, TypeShortAnswer,
	}
}

func (t QuestionType) Valid() bool {
	_, ok := questionShapes[t]
	return ok
}

// Shape returns the answer shape of t.
func (t QuestionType) Shape() (AnswerShape, bool) {
	shape, ok := questionShapes[t]
	return shape, ok
}
