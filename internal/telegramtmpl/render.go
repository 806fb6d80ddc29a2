package telegramtmpl

import (
	"fmt"
	"html"
	"strings"
)

// GameSummaryData describes the data required to render a post-game summary.
type GameSummaryData struct {
	GameID     string
	Experts    int
	Graded     int
	Settled    int
	Won        int
	Lost       int
	Pushed     int
	Learning   int
	Failures   int
	Violations int
	Eliminated []string
	Highlights []string
	Warnings   []string
}

// BuildGameSummaryData normalizes summary inputs into a renderable payload.
func BuildGameSummaryData(
	gameID string,
	experts, graded int,
	won, lost, pushed int,
	learning, failures, violations int,
	eliminated []string,
	highlights, warnings []string,
) GameSummaryData {
	if len(highlights) > 3 {
		highlights = highlights[:3]
	}
	return GameSummaryData{
		GameID:     strings.TrimSpace(gameID),
		Experts:    experts,
		Graded:     graded,
		Settled:    won + lost + pushed,
		Won:        won,
		Lost:       lost,
		Pushed:     pushed,
		Learning:   learning,
		Failures:   failures,
		Violations: violations,
		Eliminated: eliminated,
		Highlights: highlights,
		Warnings:   warnings,
	}
}

// RenderGameSummaryHTML renders a post-game summary in HTML parse mode.
func RenderGameSummaryHTML(d GameSummaryData) string {
	var b strings.Builder
	b.WriteString("<b>Game Settled</b>\n")
	b.WriteString(fmt.Sprintf("Game: <code>%s</code>\nExperts: %d\nGraded: %d\n", html.EscapeString(d.GameID), d.Experts, d.Graded))
	b.WriteString(fmt.Sprintf("Bets: %d (won %d, lost %d, push %d)\n", d.Settled, d.Won, d.Lost, d.Pushed))
	b.WriteString(fmt.Sprintf("Learning Updates: %d\n", d.Learning))
	if d.Failures > 0 {
		b.WriteString(fmt.Sprintf("Skipped Items: %d\n", d.Failures))
	}
	if d.Violations > 0 {
		b.WriteString(fmt.Sprintf("<b>Invariant Violations: %d</b>\n", d.Violations))
	}
	if len(d.Eliminated) > 0 {
		b.WriteString("\n<b>Eliminated</b>\n")
		for _, e := range d.Eliminated {
			b.WriteString("- " + html.EscapeString(e) + "\n")
		}
	}
	if len(d.Highlights) > 0 {
		b.WriteString("\n<b>Highlights</b>\n")
		for _, h := range d.Highlights {
			b.WriteString("- " + html.EscapeString(h) + "\n")
		}
	}
	if len(d.Warnings) > 0 {
		b.WriteString("\n<b>Warnings</b>\n")
		for _, w := range d.Warnings {
			b.WriteString("- " + html.EscapeString(w) + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}
