package metrics

import (
	"testing"
	"time"

	"daily-quiz-composer/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveComposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveComposition(domain.ModeMix, "success", 40*time.Millisecond, 2)
	m.ObserveComposition(domain.ModeMix, "conflict", 5*time.Millisecond, 0)
	m.ObserveComposition(domain.ModeRamp, "success", 10*time.Millisecond, 0)

	if got := testutil.ToFloat64(m.compositions.WithLabelValues("MIX", "success")); got != 1 {
		t.Fatalf("expected 1 mix success, got %v", got)
	}
	if got := testutil.ToFloat64(m.compositions.WithLabelValues("MIX", "conflict")); got != 1 {
		t.Fatalf("expected 1 mix conflict, got %v", got)
	}
	if got := testutil.CollectAndCount(m.compositions); got != 3 {
		t.Fatalf("expected 3 outcome series, got %d", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 2 {
		t.Fatalf("expected 2 duration series, got %d", got)
	}
}

func TestGaugeAndTemplateSize(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetEligiblePool(120)
	m.SetEligiblePool(87)
	if got := testutil.ToFloat64(m.eligiblePool); got != 87 {
		t.Fatalf("expected gauge 87, got %v", got)
	}

	m.ObserveTemplateSize(4096)
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "daily_quiz_template_bytes" {
			continue
		}
		if count := family.GetMetric()[0].GetHistogram().GetSampleCount(); count != 1 {
			t.Fatalf("expected one template sample, got %d", count)
		}
		return
	}
	t.Fatalf("template size histogram not registered")
}
