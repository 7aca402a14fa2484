package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// ExecutorConfig tunes the Order Executor's quantity precision, fill
// polling, and circuit breaker behavior.
type ExecutorConfig struct {
	QuantityPrecision  int32
	PollInterval       time.Duration
	PollAttempts       int
	BreakerMaxFailures uint32
	BreakerResetTimeout time.Duration
	PollRetry          RetryConfig
}

// DefaultExecutorConfig matches spec.md §4.6: poll for fill up to 10 times
// at 0.5s intervals, trip the breaker after 5 consecutive failures, reopen
// half-open after 60s. PollRetry absorbs transient GetOrder failures
// (connection reset, rate limit) within a single poll attempt, distinct
// from the outer not-yet-FILLED polling loop.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		QuantityPrecision:   6,
		PollInterval:        500 * time.Millisecond,
		PollAttempts:        10,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 60 * time.Second,
		PollRetry: RetryConfig{
			MaxRetries:     2,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     500 * time.Millisecond,
			BackoffFactor:  2.0,
		},
	}
}

var (
	executorMetricsOnce sync.Once
	executorBreakerGauge *prometheus.GaugeVec
)

func initExecutorMetrics() {
	executorMetricsOnce.Do(func() {
		executorBreakerGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cryptofunk_order_executor_circuit_breaker_state",
				Help: "Order executor circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"symbol"},
		)
	})
}

// Executor wraps an Exchange with a circuit breaker and fill-polling
// contract, per spec.md §4.6. It is the only component in the decision
// path that talks to a live exchange connection.
type Executor struct {
	exchange Exchange
	breaker  *gobreaker.CircuitBreaker
	cfg      ExecutorConfig
	alerts   *AlertManager
}

// WithAlertManager attaches operational alerting for order-placement
// failures. Alerts raised here are distinct from the Risk Governor's
// mode-transition alerts (internal/alerts): these are infrastructure/
// execution failures, not risk-posture changes.
func (e *Executor) WithAlertManager(am *AlertManager) *Executor {
	e.alerts = am
	return e
}

// NewExecutor builds an Order Executor over the given Exchange (mock or
// live Binance, both satisfy the Exchange interface).
func NewExecutor(exchange Exchange, cfg ExecutorConfig) *Executor {
	initExecutorMetrics()

	settings := gobreaker.Settings{
		Name:        "order_executor",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.BreakerResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("order executor circuit breaker state change")
			var v float64
			switch to {
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			executorBreakerGauge.WithLabelValues(name).Set(v)
		},
	}

	return &Executor{
		exchange: exchange,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		cfg:      cfg,
	}
}

// formatQuantity rounds qty to the configured precision using decimal
// arithmetic (exchange APIs are string-quantity and float formatting can
// introduce trailing-digit noise that exchanges reject).
func formatQuantity(qty float64, precision int32) (string, error) {
	d := decimal.NewFromFloat(qty).Round(precision)
	if d.LessThanOrEqual(decimal.Zero) {
		return "", ErrInvalidQuantity
	}
	return d.String(), nil
}

// ExecuteMarketOrder implements the four-step contract of spec.md §4.6:
// format the quantity, place a MARKET order (through the circuit
// breaker), poll until FILLED (or the poll budget is exhausted), then
// place reduce-only stop-loss/take-profit orders if requested. SL/TP
// placement failures are attached to the result but do not fail the
// call — the entry is already filled and must not be reported as failed
// because a protective order could not be placed.
func (e *Executor) ExecuteMarketOrder(ctx context.Context, symbol string, side OrderSide, quantity float64, stopLoss, takeProfit *float64) (*BracketResult, error) {
	qtyStr, err := formatQuantity(quantity, e.cfg.QuantityPrecision)
	if err != nil {
		return nil, err
	}
	qty, _ := decimal.NewFromString(qtyStr)
	qtyFloat, _ := qty.Float64()

	req := PlaceOrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     OrderTypeMarket,
		Quantity: qtyFloat,
	}

	resp, err := e.breakerExecute(ctx, func() (*PlaceOrderResponse, error) {
		return e.exchange.PlaceOrder(ctx, req)
	})
	if err != nil {
		e.alertOrderFailure(ctx, err, symbol, side, qtyFloat, OrderTypeMarket)
		return nil, fmt.Errorf("place market order: %w", err)
	}
	if resp.Status == OrderStatusRejected {
		rejErr := fmt.Errorf("%w: %s", ErrOrderRejected, resp.Message)
		e.alertOrderFailure(ctx, rejErr, symbol, side, qtyFloat, OrderTypeMarket)
		return nil, rejErr
	}
	if resp.OrderID == "" {
		e.alertOrderFailure(ctx, ErrNoOrderID, symbol, side, qtyFloat, OrderTypeMarket)
		return nil, ErrNoOrderID
	}

	order, err := e.pollUntilFilled(ctx, resp.OrderID)
	if err != nil {
		e.alertOrderFailure(ctx, err, symbol, side, qtyFloat, OrderTypeMarket)
		return nil, err
	}

	result := &BracketResult{Entry: order}

	exitSide := OrderSideSell
	if side == OrderSideSell {
		exitSide = OrderSideBuy
	}

	if stopLoss != nil {
		slOrder, slErr := e.placeProtectiveOrder(ctx, symbol, exitSide, OrderTypeStopLoss, order.FilledQty, *stopLoss)
		result.SLError = slErr
		if slErr != nil {
			log.Warn().Err(slErr).Str("symbol", symbol).Msg("stop-loss placement failed; entry remains open without protection")
		} else {
			result.StopLossID = slOrder.OrderID
		}
	}
	if takeProfit != nil {
		tpOrder, tpErr := e.placeProtectiveOrder(ctx, symbol, exitSide, OrderTypeTakeProfit, order.FilledQty, *takeProfit)
		result.TPError = tpErr
		if tpErr != nil {
			log.Warn().Err(tpErr).Str("symbol", symbol).Msg("take-profit placement failed; entry remains open without protection")
		} else {
			result.TakeProfitID = tpOrder.OrderID
		}
	}

	return result, nil
}

func (e *Executor) placeProtectiveOrder(ctx context.Context, symbol string, side OrderSide, orderType OrderType, quantity, stopPrice float64) (*PlaceOrderResponse, error) {
	req := PlaceOrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       orderType,
		Quantity:   quantity,
		StopPrice:  stopPrice,
		ReduceOnly: true,
	}
	resp, err := e.breakerExecute(ctx, func() (*PlaceOrderResponse, error) {
		return e.exchange.PlaceOrder(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if resp.Status == OrderStatusRejected {
		return resp, fmt.Errorf("%w: %s", ErrOrderRejected, resp.Message)
	}
	return resp, nil
}

func (e *Executor) alertOrderFailure(ctx context.Context, err error, symbol string, side OrderSide, quantity float64, orderType OrderType) {
	if e.alerts == nil {
		return
	}
	e.alerts.SendAlert(ctx, AlertOrderPlacementFailed(err, symbol, side, quantity, orderType))
}

func (e *Executor) breakerExecute(ctx context.Context, op func() (*PlaceOrderResponse, error)) (*PlaceOrderResponse, error) {
	result, err := e.breaker.Execute(func() (interface{}, error) {
		return op()
	})
	if err != nil {
		return nil, err
	}
	return result.(*PlaceOrderResponse), nil
}

// pollUntilFilled polls GetOrder up to PollAttempts times at PollInterval,
// returning as soon as the order reaches FILLED.
func (e *Executor) pollUntilFilled(ctx context.Context, orderID string) (*Order, error) {
	var last *Order
	for attempt := 0; attempt < e.cfg.PollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.cfg.PollInterval):
			}
		}

		var order *Order
		err := WithRetry(ctx, e.cfg.PollRetry, func() error {
			o, getErr := e.exchange.GetOrder(ctx, orderID)
			if getErr != nil {
				return getErr
			}
			order = o
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("poll order status: %w", err)
		}
		last = order
		if order.Status == OrderStatusFilled {
			return order, nil
		}
		if order.Status == OrderStatusRejected || order.Status == OrderStatusCancelled {
			return nil, fmt.Errorf("%w: order %s", ErrOrderRejected, order.Status)
		}
	}
	if last != nil {
		return nil, fmt.Errorf("%w: last status %s", ErrOrderNotFilled, last.Status)
	}
	return nil, ErrOrderNotFilled
}
