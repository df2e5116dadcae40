package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"daily-quiz-composer/internal/app"
	"daily-quiz-composer/internal/config"
	"github.com/rs/zerolog"
)

func TestLoadSeedSample(t *testing.T) {
	questions, err := loadSeed(filepath.Join("..", "..", "config", "questions.sample.json"))
	if err != nil {
		t.Fatalf("load sample seed: %v", err)
	}
	if len(questions) < 30 {
		t.Fatalf("expected the sample pool to hold at least 30 questions, got %d", len(questions))
	}
}

func TestLoadSeedRejectsInvalidQuestion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	body := `[{"id":"bad","type":"interpretive_dance","difficulty":"easy","status":"approved"}]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := loadSeed(path); err == nil {
		t.Fatalf("expected unknown type to be rejected")
	}
	if questions, err := loadSeed(""); err != nil || questions != nil {
		t.Fatalf("expected empty pool for empty path, got %v (%v)", questions, err)
	}
}

func TestBuildRuntimeInMemory(t *testing.T) {
	var cfg config.Config
	cfg.Pool.SeedFile = filepath.Join("..", "..", "config", "questions.sample.json")
	cfg.Templates.Secret = "test"
	cfg.Health.Window = 5

	rt, err := buildRuntime(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	defer rt.Close()

	result, err := rt.service.ComposeDailyQuiz(context.Background(), app.ComposeRequest{DropAtUTC: "2030-01-01T17:00:00Z"})
	if err != nil {
		t.Fatalf("compose on sample pool: %v", err)
	}
	if len(result.DailyQuiz.QuestionIDs) != 5 {
		t.Fatalf("expected 5 questions, got %d", len(result.DailyQuiz.QuestionIDs))
	}

	families, err := rt.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "daily_quiz_compositions_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("composition counter not registered")
	}
}

func TestHealthThresholdsFromConfig(t *testing.T) {
	var cfg config.Config
	cfg.Health.Window = 50
	cfg.Health.Lookahead = "6h"

	h := healthThresholds(cfg)
	if h.Window != 50 || h.Lookahead != 6*time.Hour {
		t.Fatalf("unexpected thresholds %+v", h)
	}
	if h.MaxFailureRate != app.DefaultHealthThresholds().MaxFailureRate {
		t.Fatalf("unset values must keep defaults, got %+v", h)
	}
}
