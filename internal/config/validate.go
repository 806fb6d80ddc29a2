package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Validate checks high-impact runtime configuration constraints.
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel))); err != nil {
		return fmt.Errorf("log_level %q is not a valid level", c.LogLevel)
	}
	if strings.TrimSpace(c.Season) == "" {
		return fmt.Errorf("season must be set")
	}

	if c.Grading.DefaultSigma <= 0 {
		return fmt.Errorf("grading.default_sigma must be > 0, got %f", c.Grading.DefaultSigma)
	}
	for cat, s := range c.Grading.Sigma {
		if s <= 0 {
			return fmt.Errorf("grading.sigma.%s must be > 0, got %f", cat, s)
		}
	}

	if c.Sizing.MinEdge < 0 {
		return fmt.Errorf("sizing.min_edge must be >= 0, got %f", c.Sizing.MinEdge)
	}
	if c.Sizing.MaxBetPercentage <= 0 || c.Sizing.MaxBetPercentage > 1 {
		return fmt.Errorf("sizing.max_bet_percentage must be within (0,1], got %f", c.Sizing.MaxBetPercentage)
	}
	if c.Sizing.MinBetAmount < 0 {
		return fmt.Errorf("sizing.min_bet_amount must be >= 0, got %f", c.Sizing.MinBetAmount)
	}

	if c.Bankroll.StartingBalance <= 0 {
		return fmt.Errorf("bankroll.starting_balance must be > 0, got %f", c.Bankroll.StartingBalance)
	}
	b := c.Bankroll.RiskBands
	if !(0 < b.Danger && b.Danger <= b.AtRisk && b.AtRisk <= b.Safe && b.Safe <= 1) {
		return fmt.Errorf("bankroll.risk_bands must satisfy 0 < danger <= at_risk <= safe <= 1, got %+v", b)
	}

	cal := c.Calibration
	if cal.LearningRate <= 0 {
		return fmt.Errorf("calibration.learning_rate must be > 0, got %f", cal.LearningRate)
	}
	if cal.EMAAlpha <= 0 || cal.EMAAlpha > 1 {
		return fmt.Errorf("calibration.ema_alpha must be within (0,1], got %f", cal.EMAAlpha)
	}
	if cal.AdjustmentRate < 0 {
		return fmt.Errorf("calibration.adjustment_rate must be >= 0, got %f", cal.AdjustmentRate)
	}
	if cal.MaxChange < 0 || cal.MaxChange >= 1 {
		return fmt.Errorf("calibration.max_change must be within [0,1), got %f", cal.MaxChange)
	}
	if cal.MinObservations < 0 {
		return fmt.Errorf("calibration.min_observations must be >= 0, got %d", cal.MinObservations)
	}
	if cal.PriorAlpha <= 0 || cal.PriorBeta <= 0 {
		return fmt.Errorf("calibration priors must be > 0, got alpha=%f beta=%f", cal.PriorAlpha, cal.PriorBeta)
	}
	if cal.DefaultSigma <= 0 {
		return fmt.Errorf("calibration.default_sigma must be > 0, got %f", cal.DefaultSigma)
	}

	if c.Coherence.MaxIterations <= 0 {
		return fmt.Errorf("coherence.max_iterations must be > 0, got %d", c.Coherence.MaxIterations)
	}
	if c.Coherence.Tolerance <= 0 {
		return fmt.Errorf("coherence.tolerance must be > 0, got %g", c.Coherence.Tolerance)
	}
	for _, con := range c.Coherence.Constraints {
		if err := con.Validate(); err != nil {
			return fmt.Errorf("coherence.constraints: %w", err)
		}
	}

	for id, p := range c.Personalities {
		if p.Multiplier != nil && *p.Multiplier < 0 {
			return fmt.Errorf("personalities.%s.personality_multiplier must be >= 0, got %f", id, *p.Multiplier)
		}
		if p.LearningRate < 0 || p.EMAAlpha < 0 || p.EMAAlpha > 1 || p.AdjustmentRate < 0 {
			return fmt.Errorf("personalities.%s has a negative or out of range learning override", id)
		}
		if p.MaxChange < 0 || p.MaxChange >= 1 {
			return fmt.Errorf("personalities.%s.max_change must be within [0,1), got %f", id, p.MaxChange)
		}
	}

	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0, got %d", c.Pipeline.Workers)
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.enabled requires bot_token and chat_id")
	}
	if c.Telegram.RatePerMinute < 0 {
		return fmt.Errorf("telegram.rate_per_minute must be >= 0, got %f", c.Telegram.RatePerMinute)
	}

	return nil
}
