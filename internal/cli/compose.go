package cli

import (
	"encoding/json"
	"os"

	"daily-quiz-composer/internal/app"
	"daily-quiz-composer/internal/domain"
	"github.com/spf13/cobra"
)

type composeFlags struct {
	dropAt     string
	mode       string
	focusTheme string
	slateSize  int
	exclude    []string
}

func (f *composeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dropAt, "drop-at", "", "drop time as an ISO-8601 UTC instant")
	cmd.Flags().StringVar(&f.mode, "mode", "", "composition mode: MIX, THEMED, RAMP or CHALLENGE")
	cmd.Flags().StringVar(&f.focusTheme, "focus-theme", "", "focus theme for THEMED quizzes")
	cmd.Flags().IntVar(&f.slateSize, "slate-size", 0, "override the number of questions")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "question ids to leave out")
	_ = cmd.MarkFlagRequired("drop-at")
}

func (f *composeFlags) request() app.ComposeRequest {
	req := app.ComposeRequest{DropAtUTC: f.dropAt, Mode: f.mode}
	if f.focusTheme != "" {
		req.Config.FocusTheme = &f.focusTheme
	}
	if f.slateSize > 0 {
		req.Config.SlateSize = &f.slateSize
	}
	req.Config.ExcludeQuestionIDs = f.exclude
	return req
}

// NewComposeCmd composes and stores the quiz for one drop time.
func NewComposeCmd(configPath *string) *cobra.Command {
	var flags composeFlags
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Compose and publish the daily quiz for a drop time",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			result, err := rt.service.ComposeDailyQuiz(cmd.Context(), flags.request())
			if err != nil {
				return err
			}
			return printResult(result)
		},
	}
	flags.bind(cmd)
	return cmd
}

// NewPreviewCmd runs the selection without storing anything.
func NewPreviewCmd(configPath *string) *cobra.Command {
	var flags composeFlags
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview the slate a compose would pick",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			result, err := rt.service.PreviewComposition(cmd.Context(), flags.request())
			if err != nil {
				return err
			}
			return printResult(result)
		},
	}
	flags.bind(cmd)
	return cmd
}

// printResult writes the quiz, its log entry and the public template
// payload. Answer digests stay out of the output.
func printResult(result domain.ComposeResult) error {
	out := struct {
		DailyQuiz domain.DailyQuiz      `json:"dailyQuiz"`
		Log       domain.CompositionLog `json:"compositionLog"`
		Template  json.RawMessage       `json:"template"`
	}{result.DailyQuiz, result.Log, json.RawMessage(result.Template.Payload)}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
