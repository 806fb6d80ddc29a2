package config

import (
	"fmt"
	"strings"
)

// ApplyProfile applies a staking preset to the config.
// Supported profiles:
// - conservative: small stakes, higher edge bar, slower factor drift
// - standard:     configured values
// - aggressive:   lower edge bar, full max_bet_percentage cap
func ApplyProfile(cfg *Config, profile string) error {
	p := strings.ToLower(strings.TrimSpace(profile))
	if p == "" {
		return nil
	}

	switch p {
	case "conservative", "safe":
		clampMaxFloat(&cfg.Sizing.MaxBetPercentage, 0.10)
		clampMinFloat(&cfg.Sizing.MinEdge, 0.05)
		clampMaxFloat(&cfg.Calibration.MaxChange, 0.10)
		for id, pc := range cfg.Personalities {
			if pc.Multiplier != nil && *pc.Multiplier > 1 {
				one := 1.0
				pc.Multiplier = &one
			}
			// zero means the global value, which is already clamped
			if pc.MaxChange > cfg.Calibration.MaxChange {
				pc.MaxChange = cfg.Calibration.MaxChange
			}
			cfg.Personalities[id] = pc
		}
	case "standard", "default":
	case "aggressive":
		if cfg.Sizing.MaxBetPercentage < 0.30 {
			cfg.Sizing.MaxBetPercentage = 0.30
		}
		clampMaxFloat(&cfg.Sizing.MinEdge, 0.01)
	default:
		return fmt.Errorf("unknown profile %q (supported: conservative|standard|aggressive)", profile)
	}

	return nil
}

func clampMaxFloat(v *float64, max float64) {
	if max <= 0 {
		return
	}
	if *v <= 0 || *v > max {
		*v = max
	}
}

func clampMinFloat(v *float64, min float64) {
	if *v < min {
		*v = min
	}
}
