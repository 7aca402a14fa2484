package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) (*Executor, *MockExchange) {
	t.Helper()
	ex := NewMockExchange(nil)
	ex.SetMarketPrice("BTCUSDT", 50000.0)
	return NewExecutor(ex, DefaultExecutorConfig()), ex
}

func TestFormatQuantity_RoundsAndRejectsZero(t *testing.T) {
	s, err := formatQuantity(0.123456789, 6)
	require.NoError(t, err)
	assert.Equal(t, "0.123457", s)

	_, err = formatQuantity(0, 6)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = formatQuantity(0.0000001, 6)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestExecuteMarketOrder_FillsAgainstMockExchange(t *testing.T) {
	executor, _ := newTestExecutor(t)
	result, err := executor.ExecuteMarketOrder(context.Background(), "BTCUSDT", OrderSideBuy, 0.1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, result.Entry.Status)
	assert.Empty(t, result.StopLossID)
	assert.Empty(t, result.TakeProfitID)
}

func TestExecuteMarketOrder_PlacesProtectiveOrders(t *testing.T) {
	executor, _ := newTestExecutor(t)
	sl := 48000.0
	tp := 53000.0
	result, err := executor.ExecuteMarketOrder(context.Background(), "BTCUSDT", OrderSideBuy, 0.1, &sl, &tp)
	require.NoError(t, err)
	assert.NoError(t, result.SLError)
	assert.NoError(t, result.TPError)
	assert.NotEmpty(t, result.StopLossID)
	assert.NotEmpty(t, result.TakeProfitID)
}

func TestExecuteMarketOrder_RejectsInvalidQuantity(t *testing.T) {
	executor, _ := newTestExecutor(t)
	_, err := executor.ExecuteMarketOrder(context.Background(), "BTCUSDT", OrderSideBuy, 0, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestExecuteMarketOrder_ProtectiveOrderFailureIsNonFatal(t *testing.T) {
	executor, _ := newTestExecutor(t)
	badStop := -1.0 // rejected by the exchange's stop-price validation
	result, err := executor.ExecuteMarketOrder(context.Background(), "BTCUSDT", OrderSideBuy, 0.1, &badStop, nil)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, result.Entry.Status)
	assert.Error(t, result.SLError)
	assert.Empty(t, result.StopLossID)
}
