package domain

import "time"

type QuizStatus string

const (
	QuizPendingTemplate QuizStatus = "pending_template"
	QuizReady           QuizStatus = "ready"
	QuizDropped         QuizStatus = "dropped"
)

// DailyQuiz is one scheduled slate. Immutable once dropped.
type DailyQuiz struct {
	ID              string     `json:"id"`
	DropAt          time.Time  `json:"dropAtUtc"`
	Mode            Mode       `json:"mode"`
	QuestionIDs     []string   `json:"questionIds"`
	TemplateURL     string     `json:"templateCdnUrl"`
	TemplateVersion int        `json:"templateVersion"`
	Status          QuizStatus `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Template is one published version of a quiz's public payload.
type Template struct {
	QuizID        string            `json:"quizId"`
	Version       int               `json:"version"`
	URL           string            `json:"url"`
	Payload       []byte            `json:"payload"`
	ContentHash   string            `json:"contentHash"`
	ContentSize   int               `json:"contentSize"`
	AnswerDigests map[string]string `json:"answerDigests"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// QuizChange is what a quiz mutation asks the store to persist alongside the
// updated quiz row, in the same transaction.
type QuizChange struct {
	Template *Template
	// Exposed lists questions whose exposure counters must be incremented.
	Exposed []string
	// Released lists questions leaving the slate; their counters are decremented.
	Released []string
}

// CompositionLog is the append-only trail of one compose attempt.
type CompositionLog struct {
	ID                string             `json:"id"`
	DropAt            time.Time          `json:"dropAtUtc"`
	Mode              Mode               `json:"mode"`
	Success           bool               `json:"success"`
	ErrorKind         ErrorKind          `json:"errorKind,omitempty"`
	ErrorMessage      string             `json:"errorMessage,omitempty"`
	QuizID            string             `json:"quizId,omitempty"`
	QuestionIDs       []string           `json:"questionIds"`
	ThemeDistribution map[string]int     `json:"themeDistribution"`
	DifficultyTarget  map[Difficulty]int `json:"difficultyTarget"`
	DifficultyActual  map[Difficulty]int `json:"difficultyActual"`
	RelaxationLevel   int                `json:"relaxationLevel"`
	Warnings          []string           `json:"warnings"`
	EligiblePool      int                `json:"eligiblePool"`
	AverageExposure   float64            `json:"averageExposure"`
	DurationMs        int64              `json:"durationMs"`
	CreatedAt         time.Time          `json:"createdAt"`
}

// ComposeResult is returned by compose and preview.
type ComposeResult struct {
	DailyQuiz DailyQuiz      `json:"dailyQuiz"`
	Questions []Question     `json:"questions"`
	Template  Template       `json:"template"`
	Log       CompositionLog `json:"compositionLog"`
}

// Availability counts eligible questions per bucket at a point in time.
type Availability struct {
	At              time.Time            `json:"at"`
	TotalQuestions  int                  `json:"totalQuestions"`
	Approved        int                  `json:"approved"`
	Disabled        int                  `json:"disabled"`
	CoolingDown     int                  `json:"coolingDown"`
	UsedSameDay     int                  `json:"usedSameDay"`
	Eligible        int                  `json:"eligible"`
	ByDifficulty    map[Difficulty]int   `json:"byDifficulty"`
	ByTheme         map[string]int       `json:"byTheme"`
	ByType          map[QuestionType]int `json:"byType"`
	AverageExposure float64              `json:"averageExposure"`
}

// CompositionStats combines current availability with recent outcomes.
type CompositionStats struct {
	Availability      Availability `json:"availability"`
	RecentAttempts    int          `json:"recentAttempts"`
	RecentSuccesses   int          `json:"recentSuccesses"`
	RecentFailures    int          `json:"recentFailures"`
	AverageRelaxation float64      `json:"averageRelaxation"`
	AverageDurationMs float64      `json:"averageDurationMs"`
}

// HealthReport is the rollup returned by the health check.
type HealthReport struct {
	Healthy           bool      `json:"healthy"`
	Reasons           []string  `json:"reasons"`
	CheckedAt         time.Time `json:"checkedAt"`
	RecentAttempts    int       `json:"recentAttempts"`
	FailureRate       float64   `json:"failureRate"`
	AverageRelaxation float64   `json:"averageRelaxation"`
	NextDropAt        time.Time `json:"nextDropAtUtc"`
	EligiblePool      int       `json:"eligiblePool"`
	SafetyMargin      int       `json:"safetyMargin"`
}

// ConfigurationOptions enumerates the values an admin may choose from.
type ConfigurationOptions struct {
	Modes            []Mode           `json:"modes"`
	Difficulties     []Difficulty     `json:"difficulties"`
	QuestionTypes    []QuestionType   `json:"questionTypes"`
	Themes           []string         `json:"themes"`
	RelaxationLevels []RelaxationStep `json:"relaxationLevels"`
	Defaults         ComposerConfig   `json:"defaults"`
}
