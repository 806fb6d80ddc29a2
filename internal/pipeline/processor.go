package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/bankroll"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/calibration"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/coherence"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/grading"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/metrics"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/odds"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/sizing"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/telegramtmpl"
)

// Stage names used in item errors and metrics.
const (
	StageGrade  = "grade"
	StageSettle = "settle"
	StageLearn  = "learn"
	StageExpert = "expert"
)

// Notifier defines alert methods used by the processor.
type Notifier interface {
	NotifyElimination(ctx context.Context, a model.BankrollAccount) error
	NotifyInvariantViolation(ctx context.Context, expertID, gameID, betID string, cause error) error
	NotifyGameSummary(ctx context.Context, textHTML string) error
}

// Services are the stateful and stateless services one processor drives.
type Services struct {
	Grader    *grading.Grader
	Ledger    *bankroll.Ledger
	Learner   *calibration.Learner
	Projector *coherence.Projector
	Sizer     *sizing.Sizer
}

// GameInput is everything needed to settle one finished game.
type GameInput struct {
	GameID      string                      `json:"game_id"`
	Outcome     model.ActualOutcome         `json:"outcome"`
	Predictions []model.PredictionAssertion `json:"predictions"`
}

// Settlement is the outcome of one settled bet.
type Settlement struct {
	BetID        string           `json:"bet_id"`
	ExpertID     string           `json:"expert_id"`
	Category     string           `json:"category"`
	Status       model.BetStatus  `json:"status"`
	Stake        decimal.Decimal  `json:"stake_amount"`
	Payout       *decimal.Decimal `json:"payout_amount,omitempty"`
	BalanceAfter decimal.Decimal  `json:"balance_after"`
	RiskLevel    model.RiskLevel  `json:"risk_level"`
}

// GameReport summarises one processed game.
type GameReport struct {
	GameID     string                       `json:"game_id"`
	Grades     map[string]model.ExpertGrade `json:"grades"`
	Graded     []model.GradedAssertion      `json:"graded"`
	Settled    []Settlement                 `json:"settled"`
	Learning   []model.LearningUpdateRecord `json:"learning"`
	// AlreadyLearned counts graded assertions a previous run already learned.
	AlreadyLearned int               `json:"already_learned,omitempty"`
	Failures       []model.ItemError `json:"failures,omitempty"`
	Violations     []model.ItemError `json:"violations,omitempty"`
	Eliminated     []string          `json:"eliminated,omitempty"`
	Duration       time.Duration     `json:"duration"`
}

// Processor runs the grade, settle and learn stages for finished games.
type Processor struct {
	svc           Services
	notifier      Notifier
	metrics       *metrics.Metrics
	log           zerolog.Logger
	workers       int
	multipliers   map[string]float64
	notifySummary bool
	notifyTimeout time.Duration
}

type Option func(*Processor)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.log = l.With().Str("component", "pipeline").Logger() }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithNotifier sends alerts through n. summary controls the per-game summary;
// eliminations and invariant violations are always sent.
func WithNotifier(n Notifier, summary bool) Option {
	return func(p *Processor) {
		p.notifier = n
		p.notifySummary = summary
	}
}

// WithWorkers bounds how many experts are processed at once.
func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithMultipliers sets the per-expert personality multipliers used by sizing.
func WithMultipliers(m map[string]float64) Option {
	return func(p *Processor) {
		p.multipliers = make(map[string]float64, len(m))
		for k, v := range m {
			p.multipliers[k] = v
		}
	}
}

func New(svc Services, opts ...Option) *Processor {
	p := &Processor{
		svc:           svc,
		log:           zerolog.Nop(),
		workers:       8,
		multipliers:   map[string]float64{},
		notifyTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type expertResult struct {
	grade          model.ExpertGrade
	graded         []model.GradedAssertion
	settled        []Settlement
	learning       []model.LearningUpdateRecord
	alreadyLearned int
	failures       []model.ItemError
	violations     []model.ItemError
	eliminated     bool
}

// ProcessGame grades every prediction of the game, settles the game's pending
// bets and feeds the grades to calibration learning. Experts are processed in
// parallel; one expert's failure never stops another. Per-item failures are
// listed in the report. The returned error joins the invariant violations
// only.
func (p *Processor) ProcessGame(ctx context.Context, in GameInput) (GameReport, error) {
	start := time.Now()
	if in.GameID == "" {
		in.GameID = in.Outcome.GameID
	}
	if in.GameID == "" {
		return GameReport{}, fmt.Errorf("game_id is required: %w", model.ErrValidation)
	}
	if in.Outcome.GameID == "" {
		in.Outcome.GameID = in.GameID
	}
	if in.Outcome.GameID != in.GameID {
		return GameReport{}, fmt.Errorf("outcome is for game %s, batch is %s: %w", in.Outcome.GameID, in.GameID, model.ErrValidation)
	}
	log := p.log.With().Str("game_id", in.GameID).Logger()

	report := GameReport{GameID: in.GameID, Grades: make(map[string]model.ExpertGrade)}

	byExpert := make(map[string][]model.PredictionAssertion)
	seen := make(map[[2]string]bool, len(in.Predictions))
	for _, pred := range in.Predictions {
		if pred.GameID == "" {
			pred.GameID = in.GameID
		}
		if pred.GameID != in.GameID || pred.ExpertID == "" {
			err := fmt.Errorf("%s does not belong to game %s: %w", pred.Key(), in.GameID, model.ErrValidation)
			report.Failures = append(report.Failures, p.itemError(StageGrade, err, pred.ExpertID, pred.GameID, pred.Category, ""))
			continue
		}
		key := [2]string{pred.ExpertID, pred.Category}
		if seen[key] {
			err := fmt.Errorf("%s predicted more than once: %w", pred.Key(), model.ErrValidation)
			report.Failures = append(report.Failures, p.itemError(StageGrade, err, pred.ExpertID, pred.GameID, pred.Category, ""))
			continue
		}
		seen[key] = true
		byExpert[pred.ExpertID] = append(byExpert[pred.ExpertID], pred)
	}
	betsByExpert := make(map[string][]model.Bet)
	for _, b := range p.svc.Ledger.PendingBets(in.GameID) {
		betsByExpert[b.ExpertID] = append(betsByExpert[b.ExpertID], b)
	}

	experts := make([]string, 0, len(byExpert)+len(betsByExpert))
	for e := range byExpert {
		experts = append(experts, e)
	}
	for e := range betsByExpert {
		if _, ok := byExpert[e]; !ok {
			experts = append(experts, e)
		}
	}
	sort.Strings(experts)

	results := make([]expertResult, len(experts))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, expert := range experts {
		i, expert := i, expert
		g.Go(func() error {
			results[i] = p.processExpert(ctx, in.Outcome, expert, byExpert[expert], betsByExpert[expert])
			return nil
		})
	}
	_ = g.Wait()

	var violations []error
	for i, r := range results {
		report.Grades[experts[i]] = r.grade
		report.Graded = append(report.Graded, r.graded...)
		report.Settled = append(report.Settled, r.settled...)
		report.Learning = append(report.Learning, r.learning...)
		report.AlreadyLearned += r.alreadyLearned
		report.Failures = append(report.Failures, r.failures...)
		report.Violations = append(report.Violations, r.violations...)
		if r.eliminated {
			report.Eliminated = append(report.Eliminated, experts[i])
		}
		for _, v := range r.violations {
			violations = append(violations, v)
		}
	}
	report.Duration = time.Since(start)
	p.metrics.ObserveGame(report.Duration)

	log.Info().
		Int("experts", len(experts)).
		Int("graded", len(report.Graded)).
		Int("settled", len(report.Settled)).
		Int("learning", len(report.Learning)).
		Int("failures", len(report.Failures)).
		Int("violations", len(report.Violations)).
		Dur("elapsed", report.Duration).
		Msg("game processed")

	p.sendSummary(ctx, report)
	return report, errors.Join(violations...)
}

func (p *Processor) processExpert(ctx context.Context, outcome model.ActualOutcome, expertID string, preds []model.PredictionAssertion, bets []model.Bet) expertResult {
	var res expertResult
	if err := ctx.Err(); err != nil {
		res.failures = append(res.failures, p.itemError(StageExpert, err, expertID, outcome.GameID, "", ""))
		res.grade = grading.Aggregate(expertID, outcome.GameID, nil, len(preds))
		return res
	}

	graded, failures := p.svc.Grader.GradeAll(preds, outcome)
	for _, f := range failures {
		p.metrics.ObserveItemError(f.Stage, f.Kind)
	}
	for _, ga := range graded {
		p.metrics.ObserveGraded(ga.GradingMethod)
	}
	res.graded = graded
	res.failures = append(res.failures, failures...)
	res.grade = grading.Aggregate(expertID, outcome.GameID, graded, len(failures))

	byCategory := make(map[string]model.GradedAssertion, len(graded))
	for _, ga := range graded {
		byCategory[ga.Category] = ga
	}
	for _, bet := range bets {
		p.settleBet(ctx, &res, outcome, bet, byCategory)
	}

	for _, ga := range graded {
		rec, err := p.svc.Learner.Learn(ctx, ga)
		if errors.Is(err, calibration.ErrAlreadyLearned) {
			res.alreadyLearned++
			p.log.Debug().Str("expert_id", expertID).Str("category", ga.Category).Msg("already learned, skipped")
			continue
		}
		if err != nil {
			res.failures = append(res.failures, p.itemError(StageLearn, err, expertID, ga.GameID, ga.Category, ""))
			continue
		}
		p.metrics.ObserveLearning(rec.Kind)
		res.learning = append(res.learning, rec)
	}
	return res
}

func (p *Processor) settleBet(ctx context.Context, res *expertResult, outcome model.ActualOutcome, bet model.Bet, byCategory map[string]model.GradedAssertion) {
	ga, ok := byCategory[bet.Category]
	if !ok {
		// Bets without a graded prediction settle from the outcome alone when
		// the bet carries its own selection or line.
		actual, err := outcome.Lookup(bet.Category)
		if err == nil && bet.Selection == "" && bet.Line == nil {
			err = fmt.Errorf("bet %s has no selection and no graded prediction: %w", bet.BetID, model.ErrInsufficientData)
		}
		if err != nil {
			res.failures = append(res.failures, p.itemError(StageSettle, err, bet.ExpertID, bet.GameID, bet.Category, bet.BetID))
			return
		}
		ga = model.GradedAssertion{
			PredictionAssertion: model.PredictionAssertion{ExpertID: bet.ExpertID, GameID: bet.GameID, Category: bet.Category},
			ActualValue:         actual,
		}
	}

	before, _ := p.svc.Ledger.Account(bet.ExpertID, bet.Season)
	acct, err := p.svc.Ledger.Settle(ctx, bet.BetID, ga)
	if err != nil {
		ie := p.itemError(StageSettle, err, bet.ExpertID, bet.GameID, bet.Category, bet.BetID)
		if errors.Is(err, model.ErrInvariantViolation) {
			p.metrics.ObserveInvariantViolation()
			p.log.Error().Err(err).Str("expert_id", bet.ExpertID).Str("bet_id", bet.BetID).Msg("settlement invariant violated")
			p.alert(ctx, func(nctx context.Context) error {
				return p.notifier.NotifyInvariantViolation(nctx, bet.ExpertID, bet.GameID, bet.BetID, err)
			})
			res.violations = append(res.violations, ie)
			return
		}
		res.failures = append(res.failures, ie)
		return
	}

	settled, _ := p.svc.Ledger.Bet(bet.BetID)
	p.metrics.ObserveSettled(string(settled.Status))
	balance, _ := acct.CurrentBalance.Float64()
	p.metrics.SetBalance(acct.ExpertID, acct.Season, balance)
	res.settled = append(res.settled, Settlement{
		BetID:        settled.BetID,
		ExpertID:     settled.ExpertID,
		Category:     settled.Category,
		Status:       settled.Status,
		Stake:        settled.Stake,
		Payout:       settled.Payout,
		BalanceAfter: acct.CurrentBalance,
		RiskLevel:    acct.RiskLevel,
	})

	if acct.Eliminated() && !before.Eliminated() {
		res.eliminated = true
		p.metrics.ObserveElimination()
		p.log.Warn().Str("expert_id", acct.ExpertID).Str("season", acct.Season).Msg("expert eliminated")
		p.alert(ctx, func(nctx context.Context) error {
			return p.notifier.NotifyElimination(nctx, acct)
		})
	}
}

func (p *Processor) itemError(stage string, err error, expertID, gameID, category, betID string) model.ItemError {
	ie := model.NewItemError(stage, err)
	ie.ExpertID, ie.GameID, ie.Category, ie.BetID = expertID, gameID, category, betID
	p.metrics.ObserveItemError(stage, ie.Kind)
	p.log.Warn().Err(err).Str("stage", stage).Str("expert_id", expertID).Str("category", category).Str("bet_id", betID).Msg("item skipped")
	return ie
}

// alert runs send against the notifier, logging failures. Alerts never fail the batch.
func (p *Processor) alert(ctx context.Context, send func(context.Context) error) {
	if p.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.notifyTimeout)
	defer cancel()
	if err := send(nctx); err != nil {
		p.log.Warn().Err(err).Msg("notify failed")
	}
}

func (p *Processor) sendSummary(ctx context.Context, r GameReport) {
	if p.notifier == nil || !p.notifySummary {
		return
	}
	var won, lost, pushed int
	for _, s := range r.Settled {
		switch s.Status {
		case model.BetWon:
			won++
		case model.BetLost:
			lost++
		case model.BetPush:
			pushed++
		}
	}
	results := make([]telegramtmpl.ExpertResult, 0, len(r.Grades))
	for id, g := range r.Grades {
		res := telegramtmpl.ExpertResult{ExpertID: id, Score: g.OverallScore}
		for _, s := range r.Settled {
			if s.ExpertID == id {
				res.RiskLevel = string(s.RiskLevel)
			}
		}
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ExpertID < results[j].ExpertID })
	highlights, warnings := telegramtmpl.BuildHighlightsWarnings(results, len(r.Failures))
	data := telegramtmpl.BuildGameSummaryData(
		r.GameID,
		len(r.Grades), len(r.Graded),
		won, lost, pushed,
		len(r.Learning), len(r.Failures), len(r.Violations),
		r.Eliminated,
		highlights, warnings,
	)
	msg := telegramtmpl.RenderGameSummaryHTML(data)
	p.alert(ctx, func(nctx context.Context) error {
		return p.notifier.NotifyGameSummary(nctx, msg)
	})
}

// ProjectSlate runs coherence projection on a game's published slate using
// the configured constraint set.
func (p *Processor) ProjectSlate(_ context.Context, slate coherence.Slate, gctx coherence.GameContext) (coherence.ProjectionResult, error) {
	res, err := p.svc.Projector.Project(slate, nil, gctx)
	if err != nil {
		p.metrics.ObserveItemError("project", model.Kind(err))
		return res, err
	}
	p.metrics.ObserveProjection(res.Success, res.ProcessingTime)
	ev := p.log.Info()
	if !res.Success {
		ev = p.log.Warn()
	}
	ev.Str("game_id", res.GameID).
		Bool("success", res.Success).
		Int("violations", len(res.Violations)).
		Int("remaining", len(res.RemainingViolations)).
		Float64("satisfaction", res.SatisfactionScore).
		Int("iterations", res.Iterations).
		Msg("slate projected")
	return res, nil
}

// BetIntent is a prospective bet before sizing.
type BetIntent struct {
	// BetID is generated when empty.
	BetID      string   `json:"bet_id,omitempty"`
	ExpertID   string   `json:"expert_id"`
	Season     string   `json:"season"`
	GameID     string   `json:"game_id"`
	Category   string   `json:"category"`
	Selection  string   `json:"selection,omitempty"`
	Line       *float64 `json:"line,omitempty"`
	Side       string   `json:"side,omitempty"`
	Confidence float64  `json:"confidence"`
	Odds       string   `json:"odds"`
}

// Multiplier returns the expert's personality multiplier, 1 when unset.
func (p *Processor) Multiplier(expertID string) float64 {
	if m, ok := p.multipliers[expertID]; ok {
		return m
	}
	return 1
}

// SizeAndPlace sizes a bet against the expert's available balance and places
// it when sizing recommends one. The returned bet is nil when no bet is made.
func (p *Processor) SizeAndPlace(ctx context.Context, in BetIntent) (sizing.Decision, *model.Bet, error) {
	acct, ok := p.svc.Ledger.Account(in.ExpertID, in.Season)
	if !ok {
		return sizing.Decision{}, nil, fmt.Errorf("no bankroll for %s/%s: %w", in.ExpertID, in.Season, model.ErrValidation)
	}
	if acct.Eliminated() {
		return sizing.Decision{Reason: sizing.ReasonInsufficientFunds, BetAmount: decimal.Zero}, nil, nil
	}
	price, err := odds.Parse(in.Odds)
	if err != nil {
		return sizing.Decision{}, nil, err
	}
	decision, err := p.svc.Sizer.Size(in.Confidence, price, acct.Available(), p.Multiplier(in.ExpertID))
	if err != nil {
		return sizing.Decision{}, nil, err
	}
	if !decision.ShouldBet {
		p.log.Debug().Str("expert_id", in.ExpertID).Str("category", in.Category).Str("reason", decision.Reason).Msg("no bet")
		return decision, nil, nil
	}
	bet, err := p.svc.Ledger.Place(ctx, bankroll.BetRequest{
		BetID:     in.BetID,
		ExpertID:  in.ExpertID,
		Season:    in.Season,
		GameID:    in.GameID,
		Category:  in.Category,
		Selection: in.Selection,
		Line:      in.Line,
		Side:      in.Side,
		Stake:     decision.BetAmount,
		Odds:      in.Odds,
	})
	if err != nil {
		return decision, nil, err
	}
	p.log.Info().Str("expert_id", bet.ExpertID).Str("bet_id", bet.BetID).Str("stake", bet.Stake.StringFixed(2)).
		Float64("edge", decision.Edge).Msg("bet placed")
	return decision, &bet, nil
}
