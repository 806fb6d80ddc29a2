package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/bankroll"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/calibration"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/coherence"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/grading"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/sizing"
)

type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
	Season    string `yaml:"season"`

	Grading       grading.Config               `yaml:"grading"`
	Sizing        sizing.Config                `yaml:"sizing"`
	Bankroll      bankroll.Config              `yaml:"bankroll"`
	Calibration   calibration.Config           `yaml:"calibration"`
	Coherence     coherence.Config             `yaml:"coherence"`
	Personalities map[string]PersonalityConfig `yaml:"personalities"`
	Pipeline      PipelineConfig               `yaml:"pipeline"`
	Store         StoreConfig                  `yaml:"store"`
	API           APIConfig                    `yaml:"api"`
	Telegram      TelegramConfig               `yaml:"telegram"`
}

// PersonalityConfig tunes one expert. Zero fields fall back to the global
// sizing and calibration settings; a missing multiplier means 1.
type PersonalityConfig struct {
	Multiplier     *float64 `yaml:"personality_multiplier"`
	LearningRate   float64  `yaml:"learning_rate"`
	EMAAlpha       float64  `yaml:"ema_alpha"`
	AdjustmentRate float64  `yaml:"adjustment_rate"`
	MaxChange      float64  `yaml:"max_change"`
}

type PipelineConfig struct {
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
}

type StoreConfig struct {
	Path         string        `yaml:"path"`
	RetryTimeout time.Duration `yaml:"retry_timeout"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TelegramConfig struct {
	Enabled       bool    `yaml:"enabled"`
	BotToken      string  `yaml:"bot_token"`
	ChatID        string  `yaml:"chat_id"`
	RatePerMinute float64 `yaml:"rate_per_minute"`
	Burst         int     `yaml:"burst"`
	NotifySummary bool    `yaml:"notify_summary"`
}

func Default() Config {
	return Config{
		LogLevel:      "info",
		Season:        "2025",
		Grading:       grading.DefaultConfig(),
		Sizing:        sizing.DefaultConfig(),
		Bankroll:      bankroll.DefaultConfig(),
		Calibration:   calibration.DefaultConfig(),
		Coherence:     coherence.DefaultConfig(),
		Personalities: map[string]PersonalityConfig{},
		Pipeline: PipelineConfig{
			Workers: 8,
			Timeout: 2 * time.Minute,
		},
		Store: StoreConfig{
			Path:         "settle.db",
			RetryTimeout: 5 * time.Second,
		},
		API: APIConfig{
			Addr: ":8080",
		},
		Telegram: TelegramConfig{
			RatePerMinute: 20,
			Burst:         5,
			NotifySummary: true,
		},
	}
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing files
// are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("SETTLE_LOG_LEVEL")); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("SETTLE_LOG_PRETTY"); v != "" {
		c.LogPretty = strings.EqualFold(v, "true") || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("SETTLE_SEASON")); v != "" {
		c.Season = v
	}
	if v := os.Getenv("SETTLE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("SETTLE_API_ADDR"); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv("SETTLE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("SETTLE_STARTING_BALANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Bankroll.StartingBalance = f
		}
	}
	if v := os.Getenv("SETTLE_TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("SETTLE_TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("SETTLE_TELEGRAM_ENABLED"); v != "" {
		c.Telegram.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
}

// Personality returns the expert's sizing multiplier and learning overrides.
func (c Config) Personality(expertID string) (multiplier float64, learning calibration.Personality) {
	p, ok := c.Personalities[expertID]
	if !ok {
		return 1, calibration.Personality{}
	}
	multiplier = 1
	if p.Multiplier != nil {
		multiplier = *p.Multiplier
	}
	return multiplier, calibration.Personality{
		LearningRate:   p.LearningRate,
		EMAAlpha:       p.EMAAlpha,
		AdjustmentRate: p.AdjustmentRate,
		MaxChange:      p.MaxChange,
	}
}

// LearningPersonalities returns the learning overrides of every configured expert.
func (c Config) LearningPersonalities() map[string]calibration.Personality {
	out := make(map[string]calibration.Personality, len(c.Personalities))
	for id := range c.Personalities {
		_, out[id] = c.Personality(id)
	}
	return out
}

// Multipliers returns the sizing multiplier of every configured expert.
func (c Config) Multipliers() map[string]float64 {
	out := make(map[string]float64, len(c.Personalities))
	for id := range c.Personalities {
		out[id], _ = c.Personality(id)
	}
	return out
}
