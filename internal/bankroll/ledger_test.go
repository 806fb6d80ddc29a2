package bankroll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
)

var fixedNow = time.Date(2025, 9, 7, 20, 0, 0, 0, time.UTC)

func newLedger(opts ...Option) *Ledger {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(DefaultConfig(), opts...)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func floatPtr(v float64) *float64 { return &v }

func graded(category string, actual any, exact bool) model.GradedAssertion {
	return model.GradedAssertion{
		PredictionAssertion: model.PredictionAssertion{ExpertID: "e1", GameID: "g1", Category: category},
		ActualValue:         actual,
		ExactMatch:          exact,
	}
}

func winnerBet(id, stake, price string) BetRequest {
	return BetRequest{
		BetID: id, ExpertID: "e1", Season: "2025", GameID: "g1",
		Category: "winner", Selection: "home", Stake: dec(stake), Odds: price,
	}
}

func TestWinPaysAmericanOdds(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	_, err := l.Open(ctx, "e1", "2025", dec("1000"))
	require.NoError(t, err)
	_, err = l.Place(ctx, winnerBet("b1", "100", "+150"))
	require.NoError(t, err)

	acct, err := l.Settle(ctx, "b1", graded("winner", "home", true))
	require.NoError(t, err)
	assert.True(t, acct.CurrentBalance.Equal(dec("1150")), "balance %s", acct.CurrentBalance)
	assert.True(t, acct.PendingExposure.IsZero())
	assert.Equal(t, 1, acct.RiskMetrics.Wins)
	assert.Equal(t, 1, acct.RiskMetrics.CurrentStreak)

	bet, ok := l.Bet("b1")
	require.True(t, ok)
	assert.Equal(t, model.BetWon, bet.Status)
	assert.True(t, bet.Payout.Equal(dec("150")))
	assert.True(t, bet.BankrollBefore.Equal(dec("1000")))
	assert.True(t, bet.BankrollAfter.Equal(dec("1150")))
	require.NotNil(t, bet.SettledAt)
}

func TestLossAtMinus110(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	_, _ = l.Open(ctx, "e1", "2025", dec("1000"))
	_, err := l.Place(ctx, winnerBet("b1", "110", "-110"))
	require.NoError(t, err)

	acct, err := l.Settle(ctx, "b1", graded("winner", "away", false))
	require.NoError(t, err)
	assert.True(t, acct.CurrentBalance.Equal(dec("890")))
	assert.Equal(t, -1, acct.RiskMetrics.CurrentStreak)
	assert.InDelta(t, 0.11, acct.RiskMetrics.MaxDrawdown, 1e-12)
	assert.InDelta(t, -1.0, acct.RiskMetrics.ROI, 1e-12)
}

func TestSettleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	_, _ = l.Open(ctx, "e1", "2025", dec("500"))
	_, _ = l.Place(ctx, winnerBet("b1", "50", "EVEN"))

	first, err := l.Settle(ctx, "b1", graded("winner", "home", true))
	require.NoError(t, err)
	second, err := l.Settle(ctx, "b1", graded("winner", "away", false))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, second.CurrentBalance.Equal(dec("550")))
}

func TestOversizedStakeRejectedAtPlacement(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	_, _ = l.Open(ctx, "e1", "2025", dec("90"))

	_, err := l.Place(ctx, winnerBet("b1", "100", "-110"))
	require.ErrorIs(t, err, model.ErrValidation)
	_, ok := l.Bet("b1")
	assert.False(t, ok)

	acct, _ := l.Account("e1", "2025")
	assert.True(t, acct.CurrentBalance.Equal(dec("90")))
	assert.True(t, acct.PendingExposure.IsZero())
}

func TestPendingExposureLimitsPlacement(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	_, _ = l.Open(ctx, "e1", "2025", dec("100"))
	_, err := l.Place(ctx, winnerBet("b1", "60", "+100"))
	require.NoError(t, err)
	_, err = l.Place(ctx, winnerBet("b2", "50", "+100"))
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = l.Place(ctx, winnerBet("b3", "40", "+100"))
	assert.NoError(t, err)
}

func TestNegativeSettlementIsInvariantViolation(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	// State that placement would never produce: a pending stake larger than the balance.
	l.Load(
		[]model.BankrollAccount{{
			ExpertID: "e1", Season: "2025",
			CurrentBalance: dec("90"), StartingBalance: dec("1000"), PeakBalance: dec("1000"),
			PendingExposure: dec("100"), RiskLevel: model.RiskCritical,
		}},
		[]model.Bet{{
			BetID: "b1", ExpertID: "e1", Season: "2025", GameID: "g1", Category: "winner",
			Selection: "home", Stake: dec("100"), Odds: "-110", Status: model.BetPending,
		}},
	)

	_, err := l.Settle(ctx, "b1", graded("winner", "away", false))
	require.ErrorIs(t, err, model.ErrInvariantViolation)

	acct, _ := l.Account("e1", "2025")
	assert.True(t, acct.CurrentBalance.Equal(dec("90")), "nothing may be applied")
	bet, _ := l.Bet("b1")
	assert.Equal(t, model.BetPending, bet.Status)
}

func TestEliminationBlocksFurtherBets(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	_, _ = l.Open(ctx, "e1", "2025", dec("100"))
	_, err := l.Place(ctx, winnerBet("b1", "100", "+100"))
	require.NoError(t, err)

	acct, err := l.Settle(ctx, "b1", graded("winner", "away", false))
	require.NoError(t, err)
	assert.True(t, acct.CurrentBalance.IsZero())
	assert.Equal(t, model.RiskEliminated, acct.RiskLevel)

	_, err = l.Place(ctx, winnerBet("b2", "10", "+100"))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestLineBets(t *testing.T) {
	tests := []struct {
		name   string
		line   float64
		side   string
		actual any
		want   model.BetStatus
	}{
		{"over wins", 44.5, "over", 45, model.BetWon},
		{"over loses", 45.5, "OVER", 45.0, model.BetLost},
		{"under wins", 45.5, "under", "45", model.BetWon},
		{"tie pushes", 45, "under", 45, model.BetPush},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			l := newLedger()
			_, _ = l.Open(ctx, "e1", "2025", dec("1000"))
			_, err := l.Place(ctx, BetRequest{
				BetID: "b1", ExpertID: "e1", Season: "2025", GameID: "g1", Category: "total_points",
				Line: floatPtr(tt.line), Side: tt.side, Stake: dec("100"), Odds: "-110",
			})
			require.NoError(t, err)

			acct, err := l.Settle(ctx, "b1", graded("total_points", tt.actual, false))
			require.NoError(t, err)
			bet, _ := l.Bet("b1")
			assert.Equal(t, tt.want, bet.Status)
			if tt.want == model.BetPush {
				assert.True(t, acct.CurrentBalance.Equal(dec("1000")))
				assert.True(t, bet.Payout.Equal(dec("100")))
				assert.Equal(t, 1, acct.RiskMetrics.Pushes)
			}
		})
	}
}

func TestLabelPush(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	_, _ = l.Open(ctx, "e1", "2025", dec("1000"))
	_, _ = l.Place(ctx, BetRequest{
		BetID: "b1", ExpertID: "e1", Season: "2025", GameID: "g1", Category: "spread_winner",
		Selection: "home", Stake: dec("100"), Odds: "-110",
	})
	acct, err := l.Settle(ctx, "b1", graded("spread_winner", "Push", false))
	require.NoError(t, err)
	assert.True(t, acct.CurrentBalance.Equal(dec("1000")))
	assert.True(t, acct.PendingExposure.IsZero())
}

func TestSettleRejectsMismatchedGrade(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	_, _ = l.Open(ctx, "e1", "2025", dec("1000"))
	_, _ = l.Place(ctx, winnerBet("b1", "100", "+100"))

	_, err := l.Settle(ctx, "b1", graded("home_score", 21, false))
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = l.Settle(ctx, "missing", graded("winner", "home", true))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestBalanceNeverNegativeOverSequence(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	_, _ = l.Open(ctx, "e1", "2025", dec("1000"))

	results := []bool{false, true, false, false, true, false, false, false, false, false, false, false}
	for i, won := range results {
		acct, _ := l.Account("e1", "2025")
		if acct.Eliminated() {
			break
		}
		stake := acct.Available().Mul(dec("0.3")).RoundFloor(2)
		if stake.LessThan(dec("10")) {
			stake = acct.Available()
		}
		id := fmt.Sprintf("b%d", i)
		_, err := l.Place(ctx, winnerBet(id, stake.String(), "-110"))
		require.NoError(t, err)
		actual := "away"
		if won {
			actual = "home"
		}
		acct, err = l.Settle(ctx, id, graded("winner", actual, won))
		require.NoError(t, err)
		assert.False(t, acct.CurrentBalance.IsNegative(), "balance went negative after %s", id)
	}
	acct, _ := l.Account("e1", "2025")
	assert.Greater(t, acct.RiskMetrics.Volatility, 0.0)
	assert.NotEqual(t, model.RiskSafe, acct.RiskLevel)
}

func TestClassifyBands(t *testing.T) {
	bands := DefaultConfig().RiskBands
	start := dec("1000")
	tests := []struct {
		balance string
		want    model.RiskLevel
	}{
		{"1200", model.RiskSafe},
		{"800", model.RiskSafe},
		{"799.99", model.RiskAtRisk},
		{"500", model.RiskAtRisk},
		{"250", model.RiskDanger},
		{"100", model.RiskCritical},
		{"0.01", model.RiskCritical},
		{"0", model.RiskEliminated},
	}
	for _, tt := range tests {
		got := classify(model.BankrollAccount{CurrentBalance: dec(tt.balance), StartingBalance: start}, bands)
		assert.Equal(t, tt.want, got, tt.balance)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	a, err := l.Open(ctx, "e1", "2025", dec("1000"))
	require.NoError(t, err)
	b, err := l.Open(ctx, "e1", "2025", dec("5"))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = l.Open(ctx, "e2", "2025", decimal.Zero)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestSnapshotsAreCopies(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	_, _ = l.Open(ctx, "e1", "2025", dec("1000"))
	_, _ = l.Place(ctx, winnerBet("b1", "100", "+100"))
	_, _ = l.Settle(ctx, "b1", graded("winner", "home", true))

	acct, _ := l.Account("e1", "2025")
	acct.Returns[0] = 99
	again, _ := l.Account("e1", "2025")
	assert.NotEqual(t, 99.0, again.Returns[0])
}

func TestConcurrentPlacementRespectsBalance(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	for _, e := range []string{"e1", "e2", "e3"} {
		_, _ = l.Open(ctx, e, "2025", dec("100"))
	}
	var ok atomic.Int64
	var wg sync.WaitGroup
	for _, e := range []string{"e1", "e2", "e3"} {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(expert string) {
				defer wg.Done()
				req := winnerBet("", "10", "+100")
				req.ExpertID = expert
				if _, err := l.Place(ctx, req); err == nil {
					ok.Add(1)
				}
			}(e)
		}
	}
	wg.Wait()
	assert.Equal(t, int64(30), ok.Load())
	for _, a := range l.Accounts() {
		assert.True(t, a.PendingExposure.Equal(dec("100")), "%s exposure %s", a.ExpertID, a.PendingExposure)
	}
	assert.Len(t, l.PendingBets("g1"), 30)
}

type fakeRecorder struct {
	mu       sync.Mutex
	accounts int
	bets     int
	fail     bool
}

func (r *fakeRecorder) SaveAccount(context.Context, model.BankrollAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts++
	if r.fail {
		return errors.New("disk full")
	}
	return nil
}

func (r *fakeRecorder) SaveBet(context.Context, model.Bet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bets++
	if r.fail {
		return errors.New("disk full")
	}
	return nil
}

func TestRecorderCalledAndFailuresTolerated(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{fail: true}
	l := newLedger(WithRecorder(rec))
	_, err := l.Open(ctx, "e1", "2025", dec("1000"))
	require.NoError(t, err)
	_, err = l.Place(ctx, winnerBet("b1", "100", "+100"))
	require.NoError(t, err)
	_, err = l.Settle(ctx, "b1", graded("winner", "home", true))
	require.NoError(t, err)

	assert.Equal(t, 3, rec.accounts)
	assert.Equal(t, 2, rec.bets)
}
