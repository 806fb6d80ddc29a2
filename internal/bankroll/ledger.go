package bankroll

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/grading"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/keylock"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/odds"
)

// RiskBands are advisory thresholds on balance/starting. Only a zero balance
// eliminates an account.
type RiskBands struct {
	Safe   float64 `yaml:"safe"`
	AtRisk float64 `yaml:"at_risk"`
	Danger float64 `yaml:"danger"`
}

type Config struct {
	StartingBalance float64   `yaml:"starting_balance"`
	RiskBands       RiskBands `yaml:"risk_bands"`
}

func DefaultConfig() Config {
	return Config{
		StartingBalance: 10000,
		RiskBands:       RiskBands{Safe: 0.8, AtRisk: 0.5, Danger: 0.25},
	}
}

// Recorder persists ledger state after each mutation. Failures are logged and
// never undo the in-memory change.
type Recorder interface {
	SaveAccount(ctx context.Context, a model.BankrollAccount) error
	SaveBet(ctx context.Context, b model.Bet) error
}

// BetRequest describes a bet to place. BetID is generated when empty.
type BetRequest struct {
	BetID     string
	ExpertID  string
	Season    string
	GameID    string
	Category  string
	Selection string
	Line      *float64
	Side      string
	Stake     decimal.Decimal
	Odds      string
	PlacedAt  time.Time
}

type accountKey struct {
	expertID string
	season   string
}

// Ledger owns bankroll accounts and bets. Mutations for one expert are
// serialised by a per-expert lock; different experts proceed in parallel.
type Ledger struct {
	cfg   Config
	locks *keylock.Map
	log   zerolog.Logger
	rec   Recorder
	now   func() time.Time

	mu       sync.RWMutex
	accounts map[accountKey]model.BankrollAccount
	bets     map[string]model.Bet
}

type Option func(*Ledger)

func WithLogger(l zerolog.Logger) Option {
	return func(led *Ledger) { led.log = l.With().Str("component", "bankroll").Logger() }
}

func WithRecorder(r Recorder) Option {
	return func(led *Ledger) { led.rec = r }
}

func WithClock(now func() time.Time) Option {
	return func(led *Ledger) { led.now = now }
}

func New(cfg Config, opts ...Option) *Ledger {
	l := &Ledger{
		cfg:      cfg,
		locks:    keylock.New(),
		log:      zerolog.Nop(),
		now:      time.Now,
		accounts: make(map[accountKey]model.BankrollAccount),
		bets:     make(map[string]model.Bet),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load seeds the ledger with previously persisted state. Existing entries with
// the same keys are replaced.
func (l *Ledger) Load(accounts []model.BankrollAccount, bets []model.Bet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range accounts {
		l.accounts[accountKey{a.ExpertID, a.Season}] = a.Clone()
	}
	for _, b := range bets {
		l.bets[b.BetID] = b.Clone()
	}
}

// Open creates the account for (expertID, season) if it does not exist and
// returns it. An existing account is returned unchanged.
func (l *Ledger) Open(ctx context.Context, expertID, season string, starting decimal.Decimal) (model.BankrollAccount, error) {
	if expertID == "" || season == "" {
		return model.BankrollAccount{}, fmt.Errorf("expert_id and season are required: %w", model.ErrValidation)
	}
	if !starting.IsPositive() {
		return model.BankrollAccount{}, fmt.Errorf("starting balance %s must be > 0: %w", starting, model.ErrValidation)
	}
	unlock := l.locks.Lock(expertID)
	defer unlock()

	key := accountKey{expertID, season}
	l.mu.RLock()
	existing, ok := l.accounts[key]
	l.mu.RUnlock()
	if ok {
		return existing.Clone(), nil
	}

	acct := model.BankrollAccount{
		ExpertID:        expertID,
		Season:          season,
		CurrentBalance:  starting,
		StartingBalance: starting,
		PeakBalance:     starting,
		PendingExposure: decimal.Zero,
		TotalStaked:     decimal.Zero,
		RiskLevel:       model.RiskSafe,
		UpdatedAt:       l.now().UTC(),
	}
	l.mu.Lock()
	l.accounts[key] = acct
	l.mu.Unlock()

	l.record(ctx, &acct, nil)
	return acct.Clone(), nil
}

// Place validates and records a pending bet. The stake must fit inside the
// balance not already committed to pending bets.
func (l *Ledger) Place(ctx context.Context, req BetRequest) (model.Bet, error) {
	if err := validateRequest(req); err != nil {
		return model.Bet{}, err
	}
	if _, err := odds.Parse(req.Odds); err != nil {
		return model.Bet{}, fmt.Errorf("bet odds: %w", err)
	}

	unlock := l.locks.Lock(req.ExpertID)
	defer unlock()

	key := accountKey{req.ExpertID, req.Season}
	l.mu.RLock()
	acct, ok := l.accounts[key]
	_, dup := l.bets[req.BetID]
	l.mu.RUnlock()
	if !ok {
		return model.Bet{}, fmt.Errorf("no bankroll for %s/%s: %w", req.ExpertID, req.Season, model.ErrValidation)
	}
	if dup {
		return model.Bet{}, fmt.Errorf("bet %s already exists: %w", req.BetID, model.ErrValidation)
	}
	if acct.Eliminated() {
		return model.Bet{}, fmt.Errorf("expert %s eliminated for %s: %w", req.ExpertID, req.Season, model.ErrValidation)
	}
	if req.Stake.GreaterThan(acct.Available()) {
		return model.Bet{}, fmt.Errorf("insufficient funds: stake %s exceeds available %s: %w",
			req.Stake.StringFixed(2), acct.Available().StringFixed(2), model.ErrValidation)
	}

	now := l.now().UTC()
	placedAt := req.PlacedAt
	if placedAt.IsZero() {
		placedAt = now
	}
	bet := model.Bet{
		BetID:          req.BetID,
		ExpertID:       req.ExpertID,
		Season:         req.Season,
		GameID:         req.GameID,
		Category:       req.Category,
		Selection:      req.Selection,
		Line:           req.Line,
		Side:           strings.ToLower(req.Side),
		Stake:          req.Stake,
		Odds:           req.Odds,
		Status:         model.BetPending,
		BankrollBefore: acct.CurrentBalance,
		BankrollAfter:  acct.CurrentBalance,
		PlacedAt:       placedAt,
	}
	if bet.BetID == "" {
		bet.BetID = uuid.NewString()
	}
	bet = bet.Clone()
	acct.PendingExposure = acct.PendingExposure.Add(req.Stake)
	acct.UpdatedAt = now

	l.mu.Lock()
	l.accounts[key] = acct
	l.bets[bet.BetID] = bet
	l.mu.Unlock()

	l.log.Debug().Str("bet_id", bet.BetID).Str("expert_id", bet.ExpertID).
		Str("stake", bet.Stake.StringFixed(2)).Str("odds", bet.Odds).Msg("bet placed")
	l.record(ctx, &acct, &bet)
	return bet.Clone(), nil
}

func validateRequest(req BetRequest) error {
	switch {
	case req.ExpertID == "" || req.Season == "":
		return fmt.Errorf("bet needs expert_id and season: %w", model.ErrValidation)
	case req.GameID == "" || req.Category == "":
		return fmt.Errorf("bet needs game_id and category: %w", model.ErrValidation)
	case !req.Stake.IsPositive():
		return fmt.Errorf("stake %s must be > 0: %w", req.Stake, model.ErrValidation)
	}
	if req.Line != nil {
		side := strings.ToLower(req.Side)
		if side != model.SideOver && side != model.SideUnder {
			return fmt.Errorf("line bet side %q must be over or under: %w", req.Side, model.ErrValidation)
		}
	}
	return nil
}

// Settle resolves a pending bet against the graded assertion for its category
// and applies the result to the account. Settling a bet that is already
// terminal is a no-op that returns the current account.
func (l *Ledger) Settle(ctx context.Context, betID string, graded model.GradedAssertion) (model.BankrollAccount, error) {
	l.mu.RLock()
	bet, ok := l.bets[betID]
	l.mu.RUnlock()
	if !ok {
		return model.BankrollAccount{}, fmt.Errorf("unknown bet %s: %w", betID, model.ErrValidation)
	}

	unlock := l.locks.Lock(bet.ExpertID)
	defer unlock()

	key := accountKey{bet.ExpertID, bet.Season}
	l.mu.RLock()
	bet = l.bets[betID]
	acct, ok := l.accounts[key]
	l.mu.RUnlock()
	if !ok {
		return model.BankrollAccount{}, fmt.Errorf("no bankroll for %s/%s: %w", bet.ExpertID, bet.Season, model.ErrValidation)
	}
	if bet.Status.IsTerminal() {
		return acct.Clone(), nil
	}
	if graded.GameID != bet.GameID || graded.Category != bet.Category {
		return model.BankrollAccount{}, fmt.Errorf("bet %s is on %s/%s, graded assertion is %s/%s: %w",
			betID, bet.GameID, bet.Category, graded.GameID, graded.Category, model.ErrValidation)
	}

	status, err := Resolve(bet, graded)
	if err != nil {
		return model.BankrollAccount{}, fmt.Errorf("bet %s: %w", betID, err)
	}
	price, err := odds.Parse(bet.Odds)
	if err != nil {
		return model.BankrollAccount{}, fmt.Errorf("bet %s odds: %w", betID, err)
	}

	before := acct.CurrentBalance
	var after, payout decimal.Decimal
	switch status {
	case model.BetWon:
		payout = price.Profit(bet.Stake).Round(2)
		after = before.Add(payout)
	case model.BetLost:
		payout = decimal.Zero
		after = before.Sub(bet.Stake)
	default:
		payout = bet.Stake
		after = before
	}
	if after.IsNegative() {
		l.log.Error().Str("bet_id", betID).Str("expert_id", bet.ExpertID).
			Str("balance", before.StringFixed(2)).Str("stake", bet.Stake.StringFixed(2)).
			Msg("settlement would drive bankroll negative")
		return model.BankrollAccount{}, fmt.Errorf("bet %s: balance %s - stake %s < 0: %w",
			betID, before.StringFixed(2), bet.Stake.StringFixed(2), model.ErrInvariantViolation)
	}

	now := l.now().UTC()
	bet.Status = status
	bet.Payout = &payout
	bet.BankrollBefore = before
	bet.BankrollAfter = after
	bet.SettledAt = &now

	acct = acct.Clone()
	acct.CurrentBalance = after
	acct.PendingExposure = acct.PendingExposure.Sub(bet.Stake)
	if acct.PendingExposure.IsNegative() {
		acct.PendingExposure = decimal.Zero
	}
	if status != model.BetPush {
		acct.TotalStaked = acct.TotalStaked.Add(bet.Stake)
	}
	if after.GreaterThan(acct.PeakBalance) {
		acct.PeakBalance = after
	}
	ret := 0.0
	if before.IsPositive() {
		ret, _ = after.Sub(before).Div(before).Float64()
	}
	acct.Returns = append(acct.Returns, ret)
	updateMetrics(&acct, status)
	acct.RiskLevel = classify(acct, l.cfg.RiskBands)
	acct.UpdatedAt = now

	l.mu.Lock()
	l.bets[betID] = bet
	l.accounts[key] = acct
	l.mu.Unlock()

	ev := l.log.Info()
	if acct.Eliminated() {
		ev = l.log.Warn()
	}
	ev.Str("bet_id", betID).Str("expert_id", bet.ExpertID).Str("status", string(status)).
		Str("balance", after.StringFixed(2)).Str("risk_level", string(acct.RiskLevel)).Msg("bet settled")

	l.record(ctx, &acct, &bet)
	return acct.Clone(), nil
}

// Resolve decides the outcome of a bet from its graded category. Line bets
// compare the actual value to the line and push on a tie. Label bets push
// when the actual value is "push", otherwise they follow the selection, or the
// graded exact match when no selection was recorded.
func Resolve(bet model.Bet, graded model.GradedAssertion) (model.BetStatus, error) {
	if bet.Line != nil {
		actual, err := grading.Number(graded.ActualValue)
		if err != nil {
			return "", err
		}
		diff := actual - *bet.Line
		switch {
		case diff > -lineTolerance && diff < lineTolerance:
			return model.BetPush, nil
		case (diff > 0) == (bet.Side == model.SideOver):
			return model.BetWon, nil
		default:
			return model.BetLost, nil
		}
	}

	actual, err := grading.Label(graded.ActualValue)
	if err != nil {
		return "", err
	}
	if actual == "push" {
		return model.BetPush, nil
	}
	won := graded.ExactMatch
	if bet.Selection != "" {
		sel, err := grading.Label(bet.Selection)
		if err != nil {
			return "", err
		}
		won = sel == actual
	}
	if won {
		return model.BetWon, nil
	}
	return model.BetLost, nil
}

// Account returns a snapshot of one account.
func (l *Ledger) Account(expertID, season string) (model.BankrollAccount, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[accountKey{expertID, season}]
	return a.Clone(), ok
}

// Accounts returns snapshots of every account ordered by expert and season.
func (l *Ledger) Accounts() []model.BankrollAccount {
	l.mu.RLock()
	out := make([]model.BankrollAccount, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, a.Clone())
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpertID != out[j].ExpertID {
			return out[i].ExpertID < out[j].ExpertID
		}
		return out[i].Season < out[j].Season
	})
	return out
}

func (l *Ledger) Bet(betID string) (model.Bet, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bets[betID]
	return b.Clone(), ok
}

// PendingBets returns the unsettled bets on a game ordered by bet id.
func (l *Ledger) PendingBets(gameID string) []model.Bet {
	l.mu.RLock()
	var out []model.Bet
	for _, b := range l.bets {
		if b.GameID == gameID && b.Status == model.BetPending {
			out = append(out, b.Clone())
		}
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BetID < out[j].BetID })
	return out
}

func (l *Ledger) record(ctx context.Context, a *model.BankrollAccount, b *model.Bet) {
	if l.rec == nil {
		return
	}
	if b != nil {
		if err := l.rec.SaveBet(ctx, *b); err != nil {
			l.log.Warn().Err(err).Str("bet_id", b.BetID).Msg("persist bet")
		}
	}
	if err := l.rec.SaveAccount(ctx, *a); err != nil {
		l.log.Warn().Err(err).Str("expert_id", a.ExpertID).Msg("persist account")
	}
}
