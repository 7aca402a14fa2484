package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Mode is the risk governor's operating mode, per spec.md §4.5.
type Mode string

const (
	ModeNormal  Mode = "NORMAL"
	ModeHot     Mode = "HOT"
	ModeCaution Mode = "CAUTION"
	ModeSevere  Mode = "SEVERE"
)

// Thresholds configures the mode-selection table from spec.md §4.5. All
// fields default to the values shown there.
type Thresholds struct {
	DrawdownSeverePct   float64
	DrawdownCautionPct  float64
	DailyLossSeverePct  float64
	DailyLossCautionPct float64
	LossStreakSevere    int
	LossStreakCaution   int
	HotWinRate          float64
	HotMinTrades        int
	HotMinAvgPnL        float64

	SevereCooldown  time.Duration
	CautionCooldown time.Duration

	SevereRiskBias  float64
	CautionRiskBias float64
	HotRiskBias     float64

	LookbackTrades int
	MaxRecords     int
}

// DefaultThresholds returns the spec-mandated defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DrawdownSeverePct:   6.5,
		DrawdownCautionPct:  4.0,
		DailyLossSeverePct:  3.5,
		DailyLossCautionPct: 2.0,
		LossStreakSevere:    5,
		LossStreakCaution:   3,
		HotWinRate:          0.68,
		HotMinTrades:        6,
		HotMinAvgPnL:        12,
		SevereCooldown:      900 * time.Second,
		CautionCooldown:     300 * time.Second,
		SevereRiskBias:      0.45,
		CautionRiskBias:     0.70,
		HotRiskBias:         1.12,
		LookbackTrades:      12,
		MaxRecords:          100,
	}
}

// TradeRecord is one executed trade's outcome, per spec.md §3.
type TradeRecord struct {
	TradeID    string    `json:"trade_id"`
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Decision   string    `json:"decision"` // BUY or SELL
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price,omitempty"`
	PnL        float64   `json:"pnl"`
	PnLPct     float64   `json:"pnl_pct"`
	Success    bool      `json:"success"`
	Size       float64   `json:"size"`
}

// Status is the risk governor's current assessment, per spec.md §3. The
// invariants SEVERE=>block_trading, HOT=>risk_bias>1, CAUTION=>risk_bias<1
// (and not blocked), NORMAL=>risk_bias==1 are enforced by evaluate().
type Status struct {
	Mode             Mode                   `json:"mode"`
	RiskBias         float64                `json:"risk_bias"`
	BlockTrading     bool                   `json:"block_trading"`
	Reason           string                 `json:"reason"`
	CooldownSeconds  int                    `json:"cooldown_seconds,omitempty"`
	ExpiresAt        *time.Time             `json:"expires_at,omitempty"`
	MetricsSnapshot  map[string]interface{} `json:"metrics_snapshot"`
}

// AlertSink receives notifications on risk-mode transitions (C8, Alert Notifier).
type AlertSink interface {
	Enqueue(ctx context.Context, mode, reason string, riskBias float64, metrics map[string]interface{})
}

// StatePool is the subset of a pgx pool the Governor needs for state
// persistence, mirroring the factoring in internal/memory/reasoning.go.
type StatePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Governor computes RiskStatus from a rolling window of trades and the
// current balance, per spec.md §4.5. One logical owner per process (the
// Trading Engine); exposes read-only Summary() for external observers.
type Governor struct {
	mu sync.Mutex

	thresholds Thresholds

	trades []TradeRecord

	currentBalance  float64
	peakBalance     float64
	dailyStartBal   float64
	dailyPnL        float64
	lastTradingDay  string // YYYY-MM-DD UTC

	cooldownMode      Mode
	cooldownExpiresAt time.Time
	cachedStatus      Status

	pool  StatePool
	alert AlertSink

	calc *Calculator
}

// WithCalculator attaches the database-backed risk calculator, enabling
// RiskReport. A nil calculator (never called) leaves RiskReport unusable,
// matching the Governor's other optional-collaborator fields.
func (g *Governor) WithCalculator(calc *Calculator) *Governor {
	g.calc = calc
	return g
}

// RiskReport is a point-in-time risk assessment for a symbol/session,
// supplementing the mode-machine Status with the Sharpe ratio, VaR,
// drawdown, and market-regime inputs spec.md's risk-agent role would
// otherwise need, computed from the session's stored equity curve and
// price history rather than the in-memory trade window Evaluate uses.
type RiskReport struct {
	SharpeRatio   float64           `json:"sharpe_ratio"`
	VaR95         float64           `json:"var_95"`
	CVaR95        float64           `json:"cvar_95"`
	CurrentDD     float64           `json:"current_drawdown_pct"`
	MaxDD         float64           `json:"max_drawdown_pct"`
	MarketRegime  *MarketRegimeData `json:"market_regime,omitempty"`
	WinRate       *WinRateData      `json:"win_rate,omitempty"`
}

// RiskReport computes a RiskReport for the given symbol over the trailing
// window. Requires WithCalculator to have been called; returns an error
// otherwise.
func (g *Governor) RiskReport(ctx context.Context, symbol string, sessionID *string, days int) (*RiskReport, error) {
	if g.calc == nil {
		return nil, fmt.Errorf("risk report: calculator not configured")
	}

	sharpe, err := g.calc.CalculateSharpeFromEquity(ctx, sessionID, days, 0)
	if err != nil {
		return nil, fmt.Errorf("risk report: sharpe: %w", err)
	}
	varVal, cvar, err := g.calc.CalculateVaRFromEquity(ctx, sessionID, days, 0.95)
	if err != nil {
		return nil, fmt.Errorf("risk report: var: %w", err)
	}
	currentDD, maxDD, _, err := g.calc.CalculateDrawdownFromDB(ctx, sessionID, days)
	if err != nil {
		return nil, fmt.Errorf("risk report: drawdown: %w", err)
	}
	regime, err := g.calc.DetectMarketRegime(ctx, symbol, days)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("risk report: market regime unavailable")
		regime = nil
	}
	winRate, err := g.calc.CalculateWinRate(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("risk report: win rate unavailable")
		winRate = nil
	}

	return &RiskReport{
		SharpeRatio:  sharpe,
		VaR95:        varVal,
		CVaR95:       cvar,
		CurrentDD:    currentDD,
		MaxDD:        maxDD,
		MarketRegime: regime,
		WinRate:      winRate,
	}, nil
}

// NewGovernor constructs a Governor. pool and alert may be nil (persistence
// and alerting become no-ops), which is useful in tests.
func NewGovernor(thresholds Thresholds, pool StatePool, alert AlertSink) *Governor {
	return &Governor{
		thresholds: thresholds,
		pool:       pool,
		alert:      alert,
		cachedStatus: Status{
			Mode:     ModeNormal,
			RiskBias: 1.0,
		},
	}
}

// UpdateBalance resets daily counters on a calendar-day (UTC) change and
// tracks the peak balance monotonically within the current run.
func (g *Governor) UpdateBalance(balance float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	if g.lastTradingDay == "" {
		g.lastTradingDay = today
		g.dailyStartBal = balance
		g.dailyPnL = 0
	} else if today != g.lastTradingDay {
		g.lastTradingDay = today
		g.dailyStartBal = balance
		g.dailyPnL = 0
	}

	g.currentBalance = balance
	if balance > g.peakBalance {
		g.peakBalance = balance
	}
}

// RecordTrade appends a trade to the rolling window (capped at MaxRecords),
// updates daily P&L and balance, then re-evaluates. Persists state
// afterward via Save (best-effort; persistence failures are logged, not
// propagated — spec.md §7 treats this as a transient/internal concern, not
// a reason to fail the caller's trade).
func (g *Governor) RecordTrade(ctx context.Context, t TradeRecord) Status {
	g.mu.Lock()
	g.trades = append(g.trades, t)
	if len(g.trades) > g.thresholds.MaxRecords {
		g.trades = g.trades[len(g.trades)-g.thresholds.MaxRecords:]
	}
	g.dailyPnL += t.PnL
	g.currentBalance += t.PnL
	if g.currentBalance > g.peakBalance {
		g.peakBalance = g.currentBalance
	}
	status := g.recomputeLocked(ctx, time.Now().UTC())
	g.mu.Unlock()

	if err := g.Save(ctx); err != nil {
		log.Warn().Err(err).Msg("risk governor state persist failed")
	}
	return status
}

type evalMetrics struct {
	winRate        float64
	lossStreak     int
	avgPnL         float64
	avgWinPnL      float64
	dailyLossPct   float64
	drawdownPct    float64
	tradesInWindow int
}

func (g *Governor) computeMetrics() evalMetrics {
	window := g.trades
	if len(window) > g.thresholds.LookbackTrades {
		window = window[len(window)-g.thresholds.LookbackTrades:]
	}

	var wins int
	var pnlSum, winPnLSum float64
	lossStreak := 0
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Success {
			break
		}
		lossStreak++
	}
	for _, tr := range window {
		if tr.Success {
			wins++
			winPnLSum += tr.PnL
		}
		pnlSum += tr.PnL
	}

	m := evalMetrics{tradesInWindow: len(window)}
	if len(window) > 0 {
		m.winRate = float64(wins) / float64(len(window))
		m.avgPnL = pnlSum / float64(len(window))
	}
	if wins > 0 {
		m.avgWinPnL = winPnLSum / float64(wins)
	}
	m.lossStreak = lossStreak

	if g.dailyStartBal > 0 {
		m.dailyLossPct = -g.dailyPnL / g.dailyStartBal * 100
	}
	if g.peakBalance > 0 {
		m.drawdownPct = (g.peakBalance - g.currentBalance) / g.peakBalance * 100
	}
	return m
}

// Evaluate recomputes RiskStatus (idempotent absent cooldown state
// changes). While a cooldown is active, returns the cached status
// unchanged; once elapsed, re-evaluates freshly using proper time.Time
// arithmetic (the source's cooldown check naively added raw seconds to
// `datetime.now().second`, which wraps past 59 — fixed here). This gate
// only applies to passive callers (CheckTradeAllowed, dashboards polling
// Summary via a fresh Evaluate); RecordTrade always recomputes against
// the cooldown so that fresh trade outcomes can escalate mode immediately
// rather than sit frozen behind a CAUTION lock set moments earlier.
func (g *Governor) Evaluate(ctx context.Context) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UTC()
	if !g.cooldownExpiresAt.IsZero() && now.Before(g.cooldownExpiresAt) {
		return g.cachedStatus
	}
	return g.recomputeLocked(ctx, now)
}

// recomputeLocked performs the actual mode-table evaluation. Caller must
// hold g.mu.
func (g *Governor) recomputeLocked(ctx context.Context, now time.Time) Status {
	if !g.cooldownExpiresAt.IsZero() && !now.Before(g.cooldownExpiresAt) {
		g.cooldownExpiresAt = time.Time{}
		g.cooldownMode = ""
	}

	m := g.computeMetrics()
	t := g.thresholds

	snapshot := map[string]interface{}{
		"win_rate":       m.winRate,
		"loss_streak":    m.lossStreak,
		"avg_pnl":        m.avgPnL,
		"avg_win_pnl":    m.avgWinPnL,
		"daily_loss_pct": m.dailyLossPct,
		"drawdown_pct":   m.drawdownPct,
		"trades":         m.tradesInWindow,
	}

	var status Status
	switch {
	case m.drawdownPct >= t.DrawdownSeverePct:
		status = g.severeStatus("drawdown severe", snapshot, now)
	case m.dailyLossPct >= t.DailyLossSeverePct:
		status = g.severeStatus("daily loss severe", snapshot, now)
	case m.lossStreak >= t.LossStreakSevere:
		status = g.severeStatus("loss streak halt", snapshot, now)
	case m.drawdownPct >= t.DrawdownCautionPct:
		status = g.cautionStatus("drawdown caution", snapshot, now)
	case m.dailyLossPct >= t.DailyLossCautionPct:
		status = g.cautionStatus("daily loss caution", snapshot, now)
	case m.lossStreak >= t.LossStreakCaution:
		status = g.cautionStatus("loss streak caution", snapshot, now)
	case m.winRate >= t.HotWinRate && m.tradesInWindow >= t.HotMinTrades && m.avgWinPnL >= t.HotMinAvgPnL:
		status = Status{Mode: ModeHot, RiskBias: t.HotRiskBias, BlockTrading: false, Reason: "hot streak", MetricsSnapshot: snapshot}
	default:
		status = Status{Mode: ModeNormal, RiskBias: 1.0, BlockTrading: false, Reason: "default", MetricsSnapshot: snapshot}
	}

	transitioned := status.Mode != g.cachedStatus.Mode
	g.cachedStatus = status
	if transitioned && (status.Mode == ModeCaution || status.Mode == ModeSevere) && g.alert != nil {
		g.alert.Enqueue(ctx, string(status.Mode), status.Reason, status.RiskBias, snapshot)
	}
	return status
}

func (g *Governor) severeStatus(reason string, snapshot map[string]interface{}, now time.Time) Status {
	expires := now.Add(g.thresholds.SevereCooldown)
	g.cooldownMode = ModeSevere
	g.cooldownExpiresAt = expires
	return Status{
		Mode: ModeSevere, RiskBias: g.thresholds.SevereRiskBias, BlockTrading: true, Reason: reason,
		CooldownSeconds: int(g.thresholds.SevereCooldown.Seconds()), ExpiresAt: &expires, MetricsSnapshot: snapshot,
	}
}

func (g *Governor) cautionStatus(reason string, snapshot map[string]interface{}, now time.Time) Status {
	expires := now.Add(g.thresholds.CautionCooldown)
	g.cooldownMode = ModeCaution
	g.cooldownExpiresAt = expires
	return Status{
		Mode: ModeCaution, RiskBias: g.thresholds.CautionRiskBias, BlockTrading: false, Reason: reason,
		CooldownSeconds: int(g.thresholds.CautionCooldown.Seconds()), ExpiresAt: &expires, MetricsSnapshot: snapshot,
	}
}

// CheckTradeAllowed returns (false, status) when the current status blocks
// trading, else (true, status).
func (g *Governor) CheckTradeAllowed(ctx context.Context, symbol string, size float64) (bool, Status) {
	status := g.Evaluate(ctx)
	if status.BlockTrading {
		return false, status
	}
	return true, status
}

// AdjustedSize scales a base position size by the current risk_bias.
func (g *Governor) AdjustedSize(baseSize float64) float64 {
	g.mu.Lock()
	bias := g.cachedStatus.RiskBias
	g.mu.Unlock()
	return baseSize * bias
}

// Summary returns a read-only snapshot for external observers (dashboard).
func (g *Governor) Summary() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cachedStatus
}

// Save persists current daily_pnl, peak_balance, current_balance, mode and
// risk_bias as one state row, per spec.md §4.5/§6 (risk governor state log).
func (g *Governor) Save(ctx context.Context) error {
	if g.pool == nil {
		return nil
	}
	g.mu.Lock()
	day := g.lastTradingDay
	dailyPnL := g.dailyPnL
	peak := g.peakBalance
	current := g.currentBalance
	mode := g.cachedStatus.Mode
	bias := g.cachedStatus.RiskBias
	g.mu.Unlock()

	_, err := g.pool.Exec(ctx, `
		INSERT INTO risk_state_log (recorded_at, trading_day, daily_pnl, peak_balance, current_balance, current_mode, risk_bias)
		VALUES (now(), $1, $2, $3, $4, $5, $6)
	`, day, dailyPnL, peak, current, string(mode), bias)
	if err != nil {
		return fmt.Errorf("save risk state: %w", err)
	}
	return nil
}

// Restore loads the most recent persisted state row to restore daily_pnl,
// peak_balance, and last_trading_day on startup.
func (g *Governor) Restore(ctx context.Context) error {
	if g.pool == nil {
		return nil
	}
	row := g.pool.QueryRow(ctx, `
		SELECT trading_day, daily_pnl, peak_balance, current_balance FROM risk_state_log
		ORDER BY recorded_at DESC LIMIT 1
	`)
	var day string
	var dailyPnL, peak, current float64
	if err := row.Scan(&day, &dailyPnL, &peak, &current); err != nil {
		if err == pgx.ErrNoRows {
			return nil
		}
		return fmt.Errorf("restore risk state: %w", err)
	}
	g.mu.Lock()
	g.lastTradingDay = day
	g.dailyPnL = dailyPnL
	g.peakBalance = peak
	g.currentBalance = current
	g.mu.Unlock()
	return nil
}
