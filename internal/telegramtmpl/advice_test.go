package telegramtmpl

import (
	"strings"
	"testing"
)

func TestBuildHighlightsWarnings(t *testing.T) {
	results := []ExpertResult{
		{ExpertID: "scholar", Score: 0.81, RiskLevel: "safe"},
		{ExpertID: "gambler", Score: 0.22, RiskLevel: "danger"},
		{ExpertID: "contrarian", Score: 0.5, RiskLevel: "critical"},
	}
	highlights, warnings := BuildHighlightsWarnings(results, 2)

	if len(highlights) != 2 || !strings.Contains(highlights[0], "scholar") || !strings.Contains(highlights[1], "gambler") {
		t.Fatalf("unexpected highlights %v", highlights)
	}
	if len(warnings) != 2 {
		t.Fatalf("expected two warnings, got %v", warnings)
	}
	if !strings.Contains(warnings[0], "gambler,contrarian") {
		t.Fatalf("expected danger list, got %q", warnings[0])
	}
}

func TestBuildHighlightsSingleExpert(t *testing.T) {
	highlights, warnings := BuildHighlightsWarnings([]ExpertResult{{ExpertID: "solo", Score: 0.6}}, 0)
	if len(highlights) != 1 {
		t.Fatalf("expected one highlight, got %v", highlights)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}
