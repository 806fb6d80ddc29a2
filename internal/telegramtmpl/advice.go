package telegramtmpl

import (
	"fmt"
	"strings"
)

// ExpertResult is one expert's outcome for a game as seen by the summary.
type ExpertResult struct {
	ExpertID  string
	Score     float64
	RiskLevel string
}

// BuildHighlightsWarnings picks the best and worst graded experts and flags
// accounts that drifted into the danger bands.
func BuildHighlightsWarnings(results []ExpertResult, failures int) (highlights []string, warnings []string) {
	highlights = make([]string, 0, 2)
	warnings = make([]string, 0, 3)
	if len(results) > 0 {
		best, worst := results[0], results[0]
		for _, r := range results[1:] {
			if r.Score > best.Score || (r.Score == best.Score && r.ExpertID < best.ExpertID) {
				best = r
			}
			if r.Score < worst.Score || (r.Score == worst.Score && r.ExpertID < worst.ExpertID) {
				worst = r
			}
		}
		highlights = append(highlights, fmt.Sprintf("Top expert: %s (score %.2f).", best.ExpertID, best.Score))
		if worst.ExpertID != best.ExpertID {
			highlights = append(highlights, fmt.Sprintf("Lowest expert: %s (score %.2f).", worst.ExpertID, worst.Score))
		}
	}
	var danger []string
	for _, r := range results {
		switch strings.ToLower(r.RiskLevel) {
		case "danger", "critical":
			danger = append(danger, r.ExpertID)
		}
	}
	if len(danger) > 0 {
		warnings = append(warnings, "Bankroll in danger: "+strings.Join(danger, ","))
	}
	if failures > 0 {
		warnings = append(warnings, fmt.Sprintf("%d items were skipped, check the report.", failures))
	}
	return highlights, warnings
}
