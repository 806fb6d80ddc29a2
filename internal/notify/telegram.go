package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
)

// Notifier sends settlement alerts to a Telegram chat via the Bot API.
type Notifier struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	enabled    bool
	baseURL    string // overridable for testing; defaults to Telegram API
	limiter    *rate.Limiter
	log        zerolog.Logger
}

type Option func(*Notifier)

// WithRateLimit caps outgoing messages per minute with the given burst.
func WithRateLimit(perMinute float64, burst int) Option {
	return func(n *Notifier) {
		if perMinute <= 0 {
			n.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(perMinute/60), burst)
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(n *Notifier) { n.log = l.With().Str("component", "notify").Logger() }
}

// NewNotifier creates a Notifier. Notifications are enabled only when both
// botToken and chatID are non-empty.
func NewNotifier(botToken, chatID string, opts ...Option) *Notifier {
	n := &Notifier{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		enabled:    botToken != "" && chatID != "",
		limiter:    rate.NewLimiter(rate.Limit(20.0/60), 5),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Enabled reports whether the notifier is active.
func (n *Notifier) Enabled() bool { return n != nil && n.enabled }

// Send posts a message to the configured Telegram chat, waiting for the rate
// limiter until ctx is done.
func (n *Notifier) Send(ctx context.Context, msg string) error {
	if !n.Enabled() {
		return nil
	}
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("notify: throttled: %w", err)
		}
	}

	endpoint := n.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	}
	vals := url.Values{
		"chat_id":    {n.chatID},
		"text":       {msg},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.URL.RawQuery = vals.Encode()

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		n.log.Warn().Int("status", resp.StatusCode).Str("description", body.Description).Msg("telegram rejected message")
		return fmt.Errorf("notify: telegram %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}

// NotifyElimination alerts that an expert's bankroll reached zero.
func (n *Notifier) NotifyElimination(ctx context.Context, a model.BankrollAccount) error {
	msg := fmt.Sprintf(
		"<b>Expert Eliminated</b>\nExpert: <code>%s</code>\nSeason: %s\nStarting: %s\nPeak: %s\nBets: %d won, %d lost",
		html.EscapeString(a.ExpertID),
		html.EscapeString(a.Season),
		a.StartingBalance.StringFixed(2),
		a.PeakBalance.StringFixed(2),
		a.RiskMetrics.Wins,
		a.RiskMetrics.Losses,
	)
	return n.Send(ctx, msg)
}

// NotifyInvariantViolation alerts that a settlement was refused because it
// would have driven a balance negative.
func (n *Notifier) NotifyInvariantViolation(ctx context.Context, expertID, gameID, betID string, cause error) error {
	msg := fmt.Sprintf(
		"<b>INVARIANT VIOLATION</b>\nExpert: <code>%s</code>\nGame: <code>%s</code>\nBet: <code>%s</code>\n%s",
		html.EscapeString(expertID),
		html.EscapeString(gameID),
		html.EscapeString(betID),
		html.EscapeString(cause.Error()),
	)
	return n.Send(ctx, msg)
}

// NotifyGameSummary sends a pre-rendered post-game summary.
func (n *Notifier) NotifyGameSummary(ctx context.Context, textHTML string) error {
	return n.Send(ctx, textHTML)
}
