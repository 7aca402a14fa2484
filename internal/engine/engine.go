// Package engine owns the event loop that couples the Market Data Stream,
// Indicator Buffer, Agent Orchestration Graph, Risk Governor, Order
// Executor and Reasoning Store into one analysis cycle per closed kline.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coldvault/fenixcore/internal/audit"
	"github.com/coldvault/fenixcore/internal/exchange"
	"github.com/coldvault/fenixcore/internal/indicators"
	"github.com/coldvault/fenixcore/internal/market"
	"github.com/coldvault/fenixcore/internal/memory"
	"github.com/coldvault/fenixcore/internal/orchestrator"
	"github.com/coldvault/fenixcore/internal/risk"
)

// BalanceProvider supplies the current USDT balance the engine sizes
// positions against. A live deployment backs this with an exchange
// account query; paper mode can back it with a running ledger.
type BalanceProvider interface {
	GetBalanceUSDT(ctx context.Context) (float64, error)
}

// SentimentFetcher is an optional, best-effort collaborator: failures are
// logged and treated as an empty snapshot, never as a cycle-aborting error.
type SentimentFetcher interface {
	FetchSentiment(ctx context.Context, symbol string) (map[string]interface{}, error)
}

// ChartRenderer is an optional collaborator producing a textual chart
// description (or artifact reference) passed to the visual agent node.
type ChartRenderer interface {
	RenderChart(ctx context.Context, symbol, timeframe string, indicators map[string]interface{}) (string, error)
}

// Config tunes one engine's analysis cycle, per spec.md §4.7.
type Config struct {
	Symbol           string
	Timeframe        string
	MinKlinesToStart int
	BaseRiskPerTrade float64
	MinNotional      float64
	PaperOnly        bool
	StopLossPct      float64 // 0 disables the protective stop-loss leg
	TakeProfitPct    float64 // 0 disables the protective take-profit leg
}

// DefaultConfig matches spec.md §4.7's defaults.
func DefaultConfig(symbol, timeframe string) Config {
	return Config{
		Symbol:           symbol,
		Timeframe:        timeframe,
		MinKlinesToStart: 20,
		BaseRiskPerTrade: 0.01,
		MinNotional:      10,
	}
}

// Engine wires C1-C6 and C8 behind a stream-driven event loop. One Engine
// instance owns exactly one symbol/timeframe pair, matching the Indicator
// Buffer and Risk Governor it is constructed with (both are single-series
// collaborators in this port).
type Engine struct {
	cfg Config

	stream    market.Stream
	buffer    *indicators.Buffer
	graph     *orchestrator.Graph
	governor  *risk.Governor
	executor  *exchange.Executor
	reasoning *memory.ReasoningStore
	balance   BalanceProvider

	sentiment SentimentFetcher
	chart     ChartRenderer
	positions *exchange.PositionManager
	audit     *audit.Logger
	onEvent   func(eventType string, payload map[string]interface{})

	// symbolLocks grants at most one in-flight cycle per symbol; a closed
	// kline arriving mid-cycle is dropped for this cycle rather than
	// queued (spec.md §5's ordering guarantee, "drop the newer kline"
	// branch of the two permitted choices).
	symbolLocks sync.Map // map[string]*sync.Mutex

	mu               sync.Mutex
	klinesObserved   int64
	cycleCounter     int64
	consecutiveHolds int
	running          bool
	paused           bool
	stopFn           context.CancelFunc
}

// New constructs an Engine. sentiment, chart, onEvent may all be nil.
func New(cfg Config, stream market.Stream, buffer *indicators.Buffer, graph *orchestrator.Graph, governor *risk.Governor, executor *exchange.Executor, reasoning *memory.ReasoningStore, balance BalanceProvider) *Engine {
	return &Engine{
		cfg:       cfg,
		stream:    stream,
		buffer:    buffer,
		graph:     graph,
		governor:  governor,
		executor:  executor,
		reasoning: reasoning,
		balance:   balance,
	}
}

// WithSentimentFetcher attaches the optional sentiment/news collaborator.
func (e *Engine) WithSentimentFetcher(s SentimentFetcher) *Engine {
	e.sentiment = s
	return e
}

// WithChartRenderer attaches the optional chart-rendering collaborator.
func (e *Engine) WithChartRenderer(c ChartRenderer) *Engine {
	e.chart = c
	return e
}

// WithObserver attaches the optional event hook. It is never called if nil,
// and its invocation never blocks the engine (run in its own goroutine).
func (e *Engine) WithObserver(fn func(eventType string, payload map[string]interface{})) *Engine {
	e.onEvent = fn
	return e
}

// WithPositionManager attaches position-lifecycle tracking: every filled
// order is fed to it so open positions and realized P&L stay accurate
// beyond the provisional (PnL=0) record the Risk Governor sees at fill time.
func (e *Engine) WithPositionManager(pm *exchange.PositionManager) *Engine {
	e.positions = pm
	return e
}

// WithAuditLogger attaches structured, persisted signal/order audit
// logging. Without it the engine still logs via zerolog; the audit log
// adds a queryable, durable record of the same events.
func (e *Engine) WithAuditLogger(l *audit.Logger) *Engine {
	e.audit = l
	return e
}

// Governor exposes the Risk Governor's read-only snapshot surface (used by
// the dashboard API; spec.md §4.5's Summary()).
func (e *Engine) Governor() *risk.Governor {
	return e.governor
}

// Pause halts analysis-cycle execution until Resume is called. Klines keep
// being appended to the indicator buffer so the warm-up state doesn't regress.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	log.Info().Str("symbol", e.cfg.Symbol).Msg("trading engine paused")
}

// Resume lifts a prior Pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	log.Info().Str("symbol", e.cfg.Symbol).Msg("trading engine resumed")
}

// IsPaused reports whether analysis cycles are currently suppressed.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) emit(eventType string, payload map[string]interface{}) {
	if e.onEvent == nil {
		return
	}
	go e.onEvent(eventType, payload)
}

// Start registers the kline callback and transitions the engine to running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.stopFn = cancel
	e.running = true
	e.mu.Unlock()

	if e.positions != nil {
		sessionID := uuid.New()
		e.positions.SetSession(&sessionID)
	}

	e.stream.RegisterKlineCallback(func(k market.Kline) {
		e.onKline(runCtx, k)
	})

	if err := e.stream.Start(runCtx); err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return fmt.Errorf("start market stream: %w", err)
	}

	log.Info().Str("symbol", e.cfg.Symbol).Str("timeframe", e.cfg.Timeframe).Msg("trading engine started")
	return nil
}

// Stop stops the stream and cancels in-flight tasks. Persisted state
// (Reasoning Store writes, Risk Governor state) is flushed by the
// collaborators themselves as each cycle completes; Stop does not wait
// for a cycle already in flight to finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	stop := e.stopFn
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
	if err := e.stream.Stop(); err != nil {
		return fmt.Errorf("stop market stream: %w", err)
	}
	if err := e.governor.Save(ctx); err != nil {
		log.Warn().Err(err).Msg("risk governor state save failed on shutdown")
	}
	log.Info().Str("symbol", e.cfg.Symbol).Msg("trading engine stopped")
	return nil
}

func (e *Engine) onKline(ctx context.Context, k market.Kline) {
	if !k.IsClosed {
		return
	}
	if ok := e.buffer.Append(k.Close, k.High, k.Low, k.Volume, nil, nil); !ok {
		log.Warn().Str("symbol", k.Symbol).Msg("closed kline rejected by indicator buffer, skipping")
		return
	}

	e.mu.Lock()
	e.klinesObserved++
	observed := e.klinesObserved
	e.mu.Unlock()

	if int(observed) < e.cfg.MinKlinesToStart {
		log.Debug().Int64("observed", observed).Int("min", e.cfg.MinKlinesToStart).Msg("warming up, skipping analysis cycle")
		return
	}

	if e.IsPaused() {
		log.Debug().Str("symbol", e.cfg.Symbol).Msg("trading paused, skipping analysis cycle")
		return
	}

	lockIface, _ := e.symbolLocks.LoadOrStore(e.cfg.Symbol, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	if !lock.TryLock() {
		log.Debug().Str("symbol", e.cfg.Symbol).Msg("cycle already in flight, dropping this kline")
		return
	}
	defer lock.Unlock()

	e.runCycle(ctx, k)
}

func (e *Engine) runCycle(ctx context.Context, k market.Kline) {
	e.mu.Lock()
	e.cycleCounter++
	cycle := e.cycleCounter
	e.mu.Unlock()

	indicatorSnapshot := e.buffer.CurrentIndicators()
	if len(indicatorSnapshot) == 0 {
		log.Warn().Str("symbol", e.cfg.Symbol).Msg("empty indicator snapshot, aborting cycle")
		return
	}

	micro := e.stream.MicrostructureMetrics()
	price := e.stream.CurrentPrice()
	volume := e.stream.CurrentVolume()

	if e.sentiment != nil {
		snap, err := e.sentiment.FetchSentiment(ctx, e.cfg.Symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", e.cfg.Symbol).Msg("sentiment fetch failed, defaulting to empty")
		} else if snap != nil {
			indicatorSnapshot["sentiment_context"] = snap
		}
	}

	if e.chart != nil {
		if artifact, err := e.chart.RenderChart(ctx, e.cfg.Symbol, e.cfg.Timeframe, indicatorSnapshot); err != nil {
			log.Warn().Err(err).Str("symbol", e.cfg.Symbol).Msg("chart render failed, proceeding without it")
		} else {
			indicatorSnapshot["chart_artifact"] = artifact
		}
	}

	state := orchestrator.NewCycleState(e.cfg.Symbol, e.cfg.Timeframe, cycle, indicatorSnapshot, price, volume, micro)
	state = e.graph.RunCycle(ctx, state)

	e.emitAgentEvents(state)

	log.Info().
		Str("thread_id", state.ThreadID).
		Str("decision", state.FinalTradeDecision).
		Msg("analysis cycle complete")

	if state.FinalTradeDecision != "BUY" && state.FinalTradeDecision != "SELL" {
		e.mu.Lock()
		e.consecutiveHolds++
		e.mu.Unlock()
		return
	}
	if e.cfg.PaperOnly {
		log.Info().Str("thread_id", state.ThreadID).Msg("paper-only mode, not executing order")
		return
	}

	e.mu.Lock()
	e.consecutiveHolds = 0
	e.mu.Unlock()

	e.executeDecision(ctx, state, price)
}

func (e *Engine) emitAgentEvents(state *orchestrator.CycleState) {
	reports := map[string]interface{}{
		"technical": state.TechnicalReport,
		"qabba":     state.QabbaReport,
		"sentiment": state.SentimentReport,
		"visual":    state.VisualReport,
		"decision":  state.DecisionReport,
		"risk":      state.RiskAssessment,
	}
	for agent, report := range reports {
		if report == nil {
			continue
		}
		e.emit("agent_output", map[string]interface{}{
			"thread_id": state.ThreadID,
			"agent":     agent,
			"report":    report,
		})
	}
}

func (e *Engine) executeDecision(ctx context.Context, state *orchestrator.CycleState, entryPrice float64) {
	balance, err := e.balance.GetBalanceUSDT(ctx)
	if err != nil {
		log.Error().Err(err).Str("thread_id", state.ThreadID).Msg("balance lookup failed, aborting trade")
		return
	}
	e.governor.UpdateBalance(balance)

	baseSize := balance * e.cfg.BaseRiskPerTrade
	allowed, status := e.governor.CheckTradeAllowed(ctx, e.cfg.Symbol, baseSize)
	if !allowed {
		e.emit("risk:blocked", map[string]interface{}{
			"thread_id": state.ThreadID,
			"symbol":    e.cfg.Symbol,
			"mode":      status.Mode,
			"reason":    status.Reason,
		})
		log.Warn().Str("thread_id", state.ThreadID).Str("mode", string(status.Mode)).Str("reason", status.Reason).Msg("trade blocked by risk governor")
		return
	}

	positionSize := e.governor.AdjustedSize(baseSize)
	if entryPrice <= 0 {
		log.Error().Str("thread_id", state.ThreadID).Msg("non-positive entry price, aborting trade")
		return
	}
	quantity := positionSize / entryPrice
	if quantity*entryPrice < e.cfg.MinNotional {
		log.Warn().Str("thread_id", state.ThreadID).Float64("notional", quantity*entryPrice).Msg("order notional below minimum, skipping")
		return
	}

	side := exchange.OrderSideBuy
	if state.FinalTradeDecision == "SELL" {
		side = exchange.OrderSideSell
	}

	var stopLoss, takeProfit *float64
	if e.cfg.StopLossPct > 0 {
		sl := slPrice(side, entryPrice, e.cfg.StopLossPct)
		stopLoss = &sl
	}
	if e.cfg.TakeProfitPct > 0 {
		tp := tpPrice(side, entryPrice, e.cfg.TakeProfitPct)
		takeProfit = &tp
	}

	tradeID := uuid.NewString()
	result, err := e.executor.ExecuteMarketOrder(ctx, e.cfg.Symbol, side, quantity, stopLoss, takeProfit)
	success := err == nil

	record := risk.TradeRecord{
		TradeID:    tradeID,
		Timestamp:  time.Now().UTC(),
		Symbol:     e.cfg.Symbol,
		Decision:   state.FinalTradeDecision,
		EntryPrice: entryPrice,
		PnL:        0,
		PnLPct:     0,
		Success:    success,
		Size:       positionSize,
	}
	e.governor.RecordTrade(ctx, record)

	if err != nil {
		log.Error().Err(err).Str("thread_id", state.ThreadID).Msg("order execution failed")
		if e.audit != nil {
			if aerr := e.audit.LogOrderAction(ctx, audit.EventTypeOrderPlaced, "engine", "", tradeID,
				map[string]interface{}{"symbol": e.cfg.Symbol, "decision": state.FinalTradeDecision}, false, err.Error()); aerr != nil {
				log.Warn().Err(aerr).Str("thread_id", state.ThreadID).Msg("audit log write failed")
			}
		}
		return
	}

	log.Info().
		Str("thread_id", state.ThreadID).
		Str("order_id", result.Entry.ID).
		Float64("filled_qty", result.Entry.FilledQty).
		Msg("order executed")

	if e.positions != nil {
		fill := exchange.Fill{Price: result.Entry.AvgFillPrice, Quantity: result.Entry.FilledQty}
		if perr := e.positions.OnOrderFilled(ctx, result.Entry, []exchange.Fill{fill}); perr != nil {
			log.Warn().Err(perr).Str("thread_id", state.ThreadID).Msg("position manager update failed")
		}
	}

	if e.audit != nil {
		if aerr := e.audit.LogOrderAction(ctx, audit.EventTypeOrderFilled, "engine", "", result.Entry.ID,
			map[string]interface{}{"symbol": e.cfg.Symbol, "side": string(side), "quantity": quantity, "decision": state.FinalTradeDecision},
			true, ""); aerr != nil {
			log.Warn().Err(aerr).Str("thread_id", state.ThreadID).Msg("audit log write failed")
		}
	}

	if e.reasoning != nil && state.DecisionReport != nil && state.DecisionReport.ReasoningDigest != "" {
		if _, err := e.reasoning.UpdateOutcome(ctx, "decision", state.DecisionReport.ReasoningDigest, true, 0, tradeID, "trade_placed", false, ""); err != nil {
			log.Warn().Err(err).Str("thread_id", state.ThreadID).Msg("reasoning outcome update failed")
		}
	}
}

func slPrice(side exchange.OrderSide, entry, pct float64) float64 {
	if side == exchange.OrderSideBuy {
		return entry * (1 - pct)
	}
	return entry * (1 + pct)
}

func tpPrice(side exchange.OrderSide, entry, pct float64) float64 {
	if side == exchange.OrderSideBuy {
		return entry * (1 + pct)
	}
	return entry * (1 - pct)
}

// ConsecutiveHolds returns the number of analysis cycles since the last
// executed trade that resolved to HOLD.
func (e *Engine) ConsecutiveHolds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutiveHolds
}

// StaticBalanceProvider is a fixed-balance BalanceProvider for paper
// trading and tests; Credit/Debit let callers keep it roughly in sync
// with provisional trade PnL.
type StaticBalanceProvider struct {
	mu      sync.Mutex
	balance float64
}

func NewStaticBalanceProvider(initial float64) *StaticBalanceProvider {
	return &StaticBalanceProvider{balance: initial}
}

func (p *StaticBalanceProvider) GetBalanceUSDT(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

func (p *StaticBalanceProvider) Adjust(delta float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance += delta
}
