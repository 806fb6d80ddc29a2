package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/bankroll"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/coherence"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/pipeline"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/sizing"
)

// gameFile is the input of the game command.
type gameFile struct {
	GameID      string                      `json:"game_id"`
	Season      string                      `json:"season,omitempty"`
	Outcome     model.ActualOutcome         `json:"outcome"`
	Predictions []model.PredictionAssertion `json:"predictions"`
	Bets        []gameBet                   `json:"bets,omitempty"`
	Slate       *coherence.Slate            `json:"slate,omitempty"`
	Context     coherence.GameContext       `json:"context,omitempty"`
}

// gameBet is a bet to place before settlement. A zero stake is sized from
// confidence with the expert's personality multiplier. Bets without an ID get
// one derived from the game, expert, category and pick.
type gameBet struct {
	BetID      string          `json:"bet_id,omitempty"`
	ExpertID   string          `json:"expert_id"`
	Category   string          `json:"category"`
	Selection  string          `json:"selection,omitempty"`
	Line       *float64        `json:"line,omitempty"`
	Side       string          `json:"side,omitempty"`
	Stake      decimal.Decimal `json:"stake_amount"`
	Odds       string          `json:"odds"`
	Confidence float64         `json:"confidence,omitempty"`
}

type placement struct {
	ExpertID string           `json:"expert_id"`
	Category string           `json:"category"`
	BetID    string           `json:"bet_id,omitempty"`
	Existing bool             `json:"existing,omitempty"`
	Decision *sizing.Decision `json:"sizing,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type gameOutput struct {
	Placements []placement                 `json:"placements,omitempty"`
	Projection *coherence.ProjectionResult `json:"projection,omitempty"`
	Report     pipeline.GameReport         `json:"report"`
	Accounts   []model.BankrollAccount     `json:"accounts"`
}

func gameCmd(g *globalFlags) *cobra.Command {
	var input, storePath string
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Place bets, then grade, settle and learn from one finished game",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(g)
			if err != nil {
				return err
			}
			var in gameFile
			if err := readJSON(input, &in); err != nil {
				return fmt.Errorf("read %s: %w", input, err)
			}
			if storePath == "" {
				storePath = cfg.Store.Path
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Pipeline.Timeout)
			defer cancel()

			rt, err := newApp(ctx, cfg, log, storePath)
			if err != nil {
				return err
			}
			defer rt.Close()

			out, err := runGame(ctx, rt, in)
			if werr := writeJSON(cmd.OutOrStdout(), out); werr != nil {
				return werr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&input, "input", "game.json", "game file, - for stdin")
	cmd.Flags().StringVar(&storePath, "store", "", "sqlite path, defaults to store.path")
	return cmd
}

func runGame(ctx context.Context, rt *app, in gameFile) (gameOutput, error) {
	var out gameOutput
	if in.GameID == "" {
		in.GameID = in.Outcome.GameID
	}
	season := in.Season
	if season == "" {
		season = rt.cfg.Season
	}

	experts := map[string]struct{}{}
	for _, p := range in.Predictions {
		experts[p.ExpertID] = struct{}{}
	}
	for _, b := range in.Bets {
		experts[b.ExpertID] = struct{}{}
	}
	ids := make([]string, 0, len(experts))
	for id := range experts {
		if id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := rt.ledger.Open(ctx, id, season, rt.startingBalance()); err != nil {
			return out, fmt.Errorf("open account %s: %w", id, err)
		}
	}

	for _, b := range in.Bets {
		out.Placements = append(out.Placements, placeBet(ctx, rt, in.GameID, season, b))
	}

	if in.Slate != nil {
		if in.Slate.GameID == "" {
			in.Slate.GameID = in.GameID
		}
		res, err := rt.processor.ProjectSlate(ctx, *in.Slate, in.Context)
		if err != nil {
			rt.log.Warn().Err(err).Msg("slate projection skipped")
		} else {
			out.Projection = &res
		}
	}

	report, err := rt.processor.ProcessGame(ctx, pipeline.GameInput{
		GameID:      in.GameID,
		Outcome:     in.Outcome,
		Predictions: in.Predictions,
	})
	out.Report = report
	out.Accounts = rt.ledger.Accounts()
	return out, err
}

// betID names a bet that came without one, so that rerunning the same game
// file finds it instead of placing it again.
func betID(gameID string, b gameBet) string {
	parts := []string{gameID, b.ExpertID, b.Category}
	switch {
	case b.Line != nil:
		parts = append(parts, strings.ToLower(b.Side), strconv.FormatFloat(*b.Line, 'f', -1, 64))
	case b.Selection != "":
		parts = append(parts, strings.ToLower(b.Selection))
	}
	return strings.Join(parts, "/")
}

func placeBet(ctx context.Context, rt *app, gameID, season string, b gameBet) placement {
	pl := placement{ExpertID: b.ExpertID, Category: b.Category}
	if b.BetID == "" {
		b.BetID = betID(gameID, b)
	}
	if existing, ok := rt.ledger.Bet(b.BetID); ok {
		pl.BetID = existing.BetID
		pl.Existing = true
		return pl
	}
	if b.Stake.IsZero() {
		decision, bet, err := rt.processor.SizeAndPlace(ctx, pipeline.BetIntent{
			BetID: b.BetID, ExpertID: b.ExpertID, Season: season, GameID: gameID, Category: b.Category,
			Selection: b.Selection, Line: b.Line, Side: b.Side,
			Confidence: b.Confidence, Odds: b.Odds,
		})
		if err != nil {
			pl.Error = err.Error()
			return pl
		}
		pl.Decision = &decision
		if bet != nil {
			pl.BetID = bet.BetID
		}
		return pl
	}
	bet, err := rt.ledger.Place(ctx, bankroll.BetRequest{
		BetID: b.BetID, ExpertID: b.ExpertID, Season: season, GameID: gameID,
		Category: b.Category, Selection: b.Selection, Line: b.Line, Side: b.Side,
		Stake: b.Stake, Odds: b.Odds,
	})
	if err != nil {
		pl.Error = err.Error()
		return pl
	}
	pl.BetID = bet.BetID
	return pl
}
