package config

import "testing"

func TestApplyProfileConservativeClamps(t *testing.T) {
	cfg := Default()
	bold := 1.8
	cfg.Personalities["bold"] = PersonalityConfig{Multiplier: &bold, LearningRate: 0.2, MaxChange: 0.4}
	cfg.Personalities["steady"] = PersonalityConfig{MaxChange: 0.05}
	cfg.Personalities["plain"] = PersonalityConfig{EMAAlpha: 0.3}
	cfg.Sizing.MaxBetPercentage = 0.25
	cfg.Sizing.MinEdge = 0.01

	if err := ApplyProfile(&cfg, "conservative"); err != nil {
		t.Fatalf("ApplyProfile: %v", err)
	}
	if cfg.Sizing.MaxBetPercentage != 0.10 {
		t.Fatalf("expected max_bet_percentage clamped to 0.10, got %f", cfg.Sizing.MaxBetPercentage)
	}
	if cfg.Sizing.MinEdge != 0.05 {
		t.Fatalf("expected min_edge raised to 0.05, got %f", cfg.Sizing.MinEdge)
	}
	if cfg.Calibration.MaxChange != 0.10 {
		t.Fatalf("expected calibration.max_change clamped to 0.10, got %f", cfg.Calibration.MaxChange)
	}
	m, p := cfg.Personality("bold")
	if m != 1 {
		t.Fatalf("expected multiplier capped at 1, got %f", m)
	}
	if p.LearningRate != 0.2 {
		t.Fatalf("expected learning rate override kept, got %f", p.LearningRate)
	}
	if p.MaxChange != 0.10 {
		t.Fatalf("expected personality max_change clamped to 0.10, got %f", p.MaxChange)
	}
	if _, p := cfg.Personality("steady"); p.MaxChange != 0.05 {
		t.Fatalf("expected tighter max_change kept, got %f", p.MaxChange)
	}
	if _, p := cfg.Personality("plain"); p.MaxChange != 0 {
		t.Fatalf("expected unset max_change to stay on the global value, got %f", p.MaxChange)
	}
}

func TestApplyProfileStandardKeepsValues(t *testing.T) {
	cfg := Default()
	want := cfg.Sizing
	if err := ApplyProfile(&cfg, "standard"); err != nil {
		t.Fatalf("ApplyProfile: %v", err)
	}
	if cfg.Sizing != want {
		t.Fatalf("expected sizing unchanged, got %+v", cfg.Sizing)
	}
}

func TestApplyProfileAggressive(t *testing.T) {
	cfg := Default()
	cfg.Sizing.MaxBetPercentage = 0.05
	if err := ApplyProfile(&cfg, "Aggressive"); err != nil {
		t.Fatalf("ApplyProfile: %v", err)
	}
	if cfg.Sizing.MaxBetPercentage != 0.30 {
		t.Fatalf("expected max_bet_percentage 0.30, got %f", cfg.Sizing.MaxBetPercentage)
	}
	if cfg.Sizing.MinEdge != 0.01 {
		t.Fatalf("expected min_edge 0.01, got %f", cfg.Sizing.MinEdge)
	}
}

func TestApplyProfileEmptyIsNoop(t *testing.T) {
	cfg := Default()
	if err := ApplyProfile(&cfg, "  "); err != nil {
		t.Fatalf("ApplyProfile: %v", err)
	}
}

func TestApplyProfileUnknown(t *testing.T) {
	cfg := Default()
	if err := ApplyProfile(&cfg, "yolo"); err == nil {
		t.Fatal("expected unknown profile error")
	}
}
