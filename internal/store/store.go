package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/bankroll"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/calibration"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
)

var (
	_ bankroll.Recorder    = (*Store)(nil)
	_ calibration.AuditLog = (*Store)(nil)
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store persists bankroll and calibration state in sqlite. Rows keep the full
// record as JSON next to the columns used for lookups.
type Store struct {
	db           *sql.DB
	retryTimeout time.Duration
	log          zerolog.Logger
}

type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l.With().Str("component", "store").Logger() }
}

// WithRetryTimeout bounds how long a write keeps retrying on a busy database.
func WithRetryTimeout(d time.Duration) Option {
	return func(s *Store) { s.retryTimeout = d }
}

// Open opens the database at path in WAL mode and runs migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := path
	if path != MemoryPath {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		dsn = abs
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == MemoryPath {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, retryTimeout: 5 * time.Second, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	pragmas := []string{"PRAGMA busy_timeout=2000", "PRAGMA foreign_keys=ON"}
	if path != MemoryPath {
		pragmas = append([]string{"PRAGMA journal_mode=WAL"}, pragmas...)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		expert_id TEXT NOT NULL,
		season TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		current_balance TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (expert_id, season)
	)`,
	`CREATE TABLE IF NOT EXISTS bets (
		bet_id TEXT PRIMARY KEY,
		expert_id TEXT NOT NULL,
		game_id TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		placed_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS calibration_states (
		expert_id TEXT NOT NULL,
		category TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (expert_id, category)
	)`,
	`CREATE TABLE IF NOT EXISTS factor_weights (
		expert_id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS learning_updates (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		expert_id TEXT NOT NULL,
		game_id TEXT NOT NULL,
		category TEXT NOT NULL,
		kind TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bets_game ON bets(game_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bets_expert ON bets(expert_id)`,
	`CREATE INDEX IF NOT EXISTS idx_learning_expert ON learning_updates(expert_id, seq)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_learning_assertion
		ON learning_updates(expert_id, game_id, category) WHERE game_id <> ''`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// retry runs op with exponential backoff while sqlite reports the database as
// busy. Any other error stops immediately.
func (s *Store) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxElapsedTime = s.retryTimeout
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return backoff.Permanent(err)
		}
		s.log.Debug().Err(err).Int("attempt", attempt).Msg("database busy, retrying")
		return err
	}, backoff.WithContext(b, ctx))
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func scanJSON[T any](rows *sql.Rows) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool { return errors.Is(err, sql.ErrNoRows) }

// SaveAccount upserts a bankroll account.
func (s *Store) SaveAccount(ctx context.Context, a model.BankrollAccount) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO accounts (expert_id, season, risk_level, current_balance, data, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(expert_id, season) DO UPDATE SET
				risk_level = excluded.risk_level,
				current_balance = excluded.current_balance,
				data = excluded.data,
				updated_at = excluded.updated_at`,
			a.ExpertID, a.Season, string(a.RiskLevel), a.CurrentBalance.StringFixed(2), string(data), stamp(a.UpdatedAt))
		return err
	})
}

// SaveBet upserts a bet.
func (s *Store) SaveBet(ctx context.Context, b model.Bet) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO bets (bet_id, expert_id, game_id, status, data, placed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(bet_id) DO UPDATE SET
				status = excluded.status,
				data = excluded.data`,
			b.BetID, b.ExpertID, b.GameID, string(b.Status), string(data), stamp(b.PlacedAt))
		return err
	})
}

// Accounts returns every account ordered by expert and season.
func (s *Store) Accounts(ctx context.Context) ([]model.BankrollAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM accounts ORDER BY expert_id, season`)
	if err != nil {
		return nil, err
	}
	return scanJSON[model.BankrollAccount](rows)
}

// ExpertAccounts returns the accounts of one expert across seasons.
func (s *Store) ExpertAccounts(ctx context.Context, expertID string) ([]model.BankrollAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM accounts WHERE expert_id = ? ORDER BY season`, expertID)
	if err != nil {
		return nil, err
	}
	return scanJSON[model.BankrollAccount](rows)
}

// Bets returns the bets of a game, or every bet when gameID is empty.
func (s *Store) Bets(ctx context.Context, gameID string) ([]model.Bet, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if gameID == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT data FROM bets ORDER BY bet_id`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT data FROM bets WHERE game_id = ? ORDER BY bet_id`, gameID)
	}
	if err != nil {
		return nil, err
	}
	return scanJSON[model.Bet](rows)
}

// ExpertBets returns an expert's most recently placed bets first.
func (s *Store) ExpertBets(ctx context.Context, expertID string, limit int) ([]model.Bet, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM bets WHERE expert_id = ? ORDER BY placed_at DESC, bet_id DESC LIMIT ?`, expertID, limit)
	if err != nil {
		return nil, err
	}
	return scanJSON[model.Bet](rows)
}
