package main

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/odds"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/sizing"
)

func sizeCmd(g *globalFlags) *cobra.Command {
	var (
		confidence float64
		price      string
		bankroll   string
		multiplier float64
		expert     string
	)
	cmd := &cobra.Command{
		Use:   "size",
		Short: "Compute a Kelly bet size without placing it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(g)
			if err != nil {
				return err
			}
			o, err := odds.Parse(price)
			if err != nil {
				return err
			}
			balance, err := decimal.NewFromString(bankroll)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("multiplier") && expert != "" {
				multiplier, _ = cfg.Personality(expert)
			}
			decision, err := sizing.New(cfg.Sizing).Size(confidence, o, balance, multiplier)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), struct {
				Odds        string          `json:"odds"`
				DecimalOdds float64         `json:"decimal_odds"`
				ImpliedProb float64         `json:"implied_probability"`
				Multiplier  float64         `json:"multiplier"`
				Decision    sizing.Decision `json:"decision"`
			}{o.String(), o.Decimal(), o.ImpliedProbability(), multiplier, decision})
		},
	}
	cmd.Flags().Float64Var(&confidence, "confidence", 0.5, "win probability in [0,1]")
	cmd.Flags().StringVar(&price, "odds", "-110", "American, EVEN or decimal odds")
	cmd.Flags().StringVar(&bankroll, "bankroll", "10000", "available bankroll")
	cmd.Flags().Float64Var(&multiplier, "multiplier", 1, "personality multiplier")
	cmd.Flags().StringVar(&expert, "expert", "", "take the multiplier from this expert's personality")
	return cmd
}
