package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestProductionLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "daily-quiz-composer", "production", "debug")
	logger.Debug().Str("quiz_id", "q-1").Msg("composed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["app"] != "daily-quiz-composer" || entry["env"] != "production" || entry["quiz_id"] != "q-1" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "app", "production", "chatty")
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %v", logger.GetLevel())
	}
	logger.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug must be filtered, got %q", buf.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	if FromContext(context.Background()).GetLevel() != zerolog.Disabled {
		t.Fatalf("expected a no-op logger without one in context")
	}
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "app", "production", "info")
	ctx := IntoContext(context.Background(), logger)
	l := FromContext(ctx)
	l.Info().Msg("hello")
	if buf.Len() == 0 {
		t.Fatalf("expected the stored logger to write")
	}
}
