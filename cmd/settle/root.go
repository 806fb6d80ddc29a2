package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/bankroll"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/calibration"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/coherence"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/config"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/grading"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/logging"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/metrics"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/notify"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/pipeline"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/sizing"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/store"
)

type globalFlags struct {
	configPath string
	profile    string
	logLevel   string
	pretty     bool
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "settle",
		Short:         "Grade, settle and calibrate expert game predictions",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "settle.yaml", "path to config file")
	root.PersistentFlags().StringVar(&g.profile, "profile", "", "staking preset: conservative|standard|aggressive")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override log level")
	root.PersistentFlags().BoolVar(&g.pretty, "pretty", false, "human readable logs")

	root.AddCommand(gameCmd(&g))
	root.AddCommand(projectCmd(&g))
	root.AddCommand(sizeCmd(&g))
	root.AddCommand(serveCmd(&g))
	return root
}

// loadConfig resolves configuration from file, .env, environment, flags and
// profile, in that order, and validates the result.
func loadConfig(g *globalFlags) (config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadFile(g.configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return cfg, zerolog.Nop(), fmt.Errorf("config file: %w", err)
		}
		cfg = config.Default()
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		return cfg, zerolog.Nop(), fmt.Errorf("load .env: %w", err)
	}
	cfg.ApplyEnv()
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.pretty {
		cfg.LogPretty = true
	}
	if err := config.ApplyProfile(&cfg, g.profile); err != nil {
		return cfg, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	return cfg, log, nil
}

// app wires every service against the sqlite store.
type app struct {
	cfg       config.Config
	log       zerolog.Logger
	store     *store.Store
	registry  *prometheus.Registry
	ledger    *bankroll.Ledger
	learner   *calibration.Learner
	processor *pipeline.Processor
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger, storePath string) (*app, error) {
	st, err := store.Open(ctx, storePath, store.WithLogger(log), store.WithRetryTimeout(cfg.Store.RetryTimeout))
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", storePath, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ledger := bankroll.New(cfg.Bankroll, bankroll.WithLogger(log), bankroll.WithRecorder(st))
	learner := calibration.New(cfg.Calibration,
		calibration.WithLogger(log),
		calibration.WithAuditLog(st),
		calibration.WithPersonalities(cfg.LearningPersonalities()),
	)

	accounts, err := st.Accounts(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	bets, err := st.Bets(ctx, "")
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load bets: %w", err)
	}
	ledger.Load(accounts, bets)
	states, err := st.CalibrationStates(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load calibration: %w", err)
	}
	weights, err := st.FactorWeights(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load factor weights: %w", err)
	}
	learner.Load(states, weights)
	for _, a := range accounts {
		balance, _ := a.CurrentBalance.Float64()
		m.SetBalance(a.ExpertID, a.Season, balance)
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithMultipliers(cfg.Multipliers()),
	}
	if cfg.Telegram.Enabled {
		n := notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			notify.WithRateLimit(cfg.Telegram.RatePerMinute, cfg.Telegram.Burst),
			notify.WithLogger(log),
		)
		opts = append(opts, pipeline.WithNotifier(n, cfg.Telegram.NotifySummary))
	}
	proc := pipeline.New(pipeline.Services{
		Grader:    grading.New(cfg.Grading),
		Ledger:    ledger,
		Learner:   learner,
		Projector: coherence.New(cfg.Coherence, coherence.WithLogger(log)),
		Sizer:     sizing.New(cfg.Sizing),
	}, opts...)

	log.Info().Str("store", storePath).Int("accounts", len(accounts)).Int("bets", len(bets)).
		Int("calibration_states", len(states)).Msg("state loaded")

	return &app{
		cfg:       cfg,
		log:       log,
		store:     st,
		registry:  reg,
		ledger:    ledger,
		learner:   learner,
		processor: proc,
	}, nil
}

func (a *app) Close() error { return a.store.Close() }

func (a *app) startingBalance() decimal.Decimal {
	return decimal.NewFromFloat(a.cfg.Bankroll.StartingBalance)
}

func readJSON(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
