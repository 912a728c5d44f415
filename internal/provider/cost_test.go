package provider

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCostTracker_Summary_Empty(t *testing.T) {
	t.Parallel()
	ct := NewCostTracker(nil)
	s := ct.Summary()
	if s.TotalRequests != 0 || s.TotalTokens != 0 || s.TotalCostUSD != 0 {
		t.Errorf("Summary() on empty tracker = %+v, want zero values", s)
	}
}

func TestCostTracker_Summary_Aggregates(t *testing.T) {
	t.Parallel()
	ct := NewCostTracker(nil)
	ct.LogUsage(UsageEntry{Agent: "writer", Provider: "hosted", InputTokens: 100, OutputTokens: 50, CostUSD: 0.01})
	ct.LogUsage(UsageEntry{Agent: "writer", Provider: "hosted", InputTokens: 200, OutputTokens: 100, CostUSD: 0.02})
	ct.LogUsage(UsageEntry{Agent: "checker", Provider: "local", InputTokens: 50, OutputTokens: 10, Unpriced: true})

	s := ct.Summary()
	if s.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", s.TotalRequests)
	}
	if s.TotalTokens != 510 {
		t.Errorf("TotalTokens = %d, want 510", s.TotalTokens)
	}
	if got := s.ByAgent["writer"].Requests; got != 2 {
		t.Errorf("ByAgent[writer].Requests = %d, want 2", got)
	}
	if got := s.ByProvider["local"].Tokens; got != 60 {
		t.Errorf("ByProvider[local].Tokens = %d, want 60", got)
	}
}

func TestCostTracker_LogUsage_ExportsPrometheusMetricsWhenRegistered(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	ct := NewCostTracker(reg)
	ct.LogUsage(UsageEntry{Agent: "writer", Provider: "hosted", InputTokens: 10, OutputTokens: 5, CostUSD: 0.001})

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(metrics) == 0 {
		t.Fatal("expected at least one registered metric family after LogUsage")
	}
}

func TestCostTracker_NilRegistererSkipsMetrics(t *testing.T) {
	t.Parallel()
	ct := NewCostTracker(nil)
	// Must not panic when no registerer was supplied.
	ct.LogUsage(UsageEntry{Agent: "writer", Provider: "local", InputTokens: 1, OutputTokens: 1})
}
