package market

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog/log"
)

// Kline is one candle as delivered by a Stream. IsClosed=false marks an
// in-progress candle; callers that only care about closed candles filter
// on it.
type Kline struct {
	Symbol   string
	Interval string
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	IsClosed bool
}

// MicrostructureMetrics is a point-in-time snapshot of order-book/tape
// derived signals, read by the engine at the start of each analysis cycle.
type MicrostructureMetrics struct {
	OBI       float64 // order-book imbalance
	CVD       float64 // cumulative volume delta
	Spread    float64
	BidDepth  float64
	AskDepth  float64
}

// KlineCallback receives every kline the stream observes, closed or not.
type KlineCallback func(Kline)

// Stream is the Market Data Stream contract (C2) the engine depends on.
type Stream interface {
	RegisterKlineCallback(cb KlineCallback)
	CurrentPrice() float64
	CurrentVolume() float64
	MicrostructureMetrics() MicrostructureMetrics
	Start(ctx context.Context) error
	Stop() error
}

// ReconnectBackoff tunes a Stream's reconnection behavior. Unlike
// exchange.RetryConfig (bounded attempts for a single call), a stream
// reconnects indefinitely until Stop is called — only the inter-attempt
// delay is bounded.
type ReconnectBackoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// DefaultReconnectBackoff doubles from 1s up to a 30s ceiling between
// reconnection attempts.
func DefaultReconnectBackoff() ReconnectBackoff {
	return ReconnectBackoff{Initial: time.Second, Max: 30 * time.Second, Factor: 2.0}
}

func (b ReconnectBackoff) next(cur time.Duration) time.Duration {
	if cur <= 0 {
		return b.Initial
	}
	next := time.Duration(float64(cur) * b.Factor)
	if next > b.Max {
		return b.Max
	}
	return next
}

// BinanceStream streams closed/in-progress klines for one symbol/interval
// over a Binance websocket connection, reconnecting with backoff on
// transport errors.
type BinanceStream struct {
	symbol   string
	interval string
	backoff  ReconnectBackoff

	mu       sync.RWMutex
	cb       KlineCallback
	price    float64
	volume   float64
	micro    MicrostructureMetrics
	started  bool
	stopChan chan struct{}
	doneWG   sync.WaitGroup

	priceCache *RedisPriceCache
}

// WithPriceCache attaches an optional Redis write-through cache: every
// price update is cached in the background so other processes (the
// dashboard API, a second engine instance sharing a symbol) can read the
// latest price without opening their own websocket. A nil cache (Redis
// unconfigured) makes this a no-op, matching RedisPriceCache's own nil
// receiver tolerance.
func (s *BinanceStream) WithPriceCache(cache *RedisPriceCache) *BinanceStream {
	s.priceCache = cache
	return s
}

// NewBinanceStream builds a stream for symbol at the given kline interval
// (e.g. "1m", "5m").
func NewBinanceStream(symbol, interval string, backoff ReconnectBackoff) *BinanceStream {
	return &BinanceStream{
		symbol:   symbol,
		interval: interval,
		backoff:  backoff,
	}
}

// RegisterKlineCallback sets the callback invoked for every kline
// (closed or not); it must be called before Start to avoid missing
// early events, though it is safe to change concurrently.
func (s *BinanceStream) RegisterKlineCallback(cb KlineCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
}

// CurrentPrice returns the last observed close price.
func (s *BinanceStream) CurrentPrice() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price
}

// CurrentVolume returns the last observed candle volume.
func (s *BinanceStream) CurrentVolume() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volume
}

// MicrostructureMetrics returns the latest microstructure snapshot.
// BinanceStream does not maintain a live order book here; it reports a
// zero-value snapshot unless SetMicrostructureMetrics is called by a
// collaborator that does (e.g. a depth-stream consumer outside this
// type's scope).
func (s *BinanceStream) MicrostructureMetrics() MicrostructureMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.micro
}

// SetMicrostructureMetrics updates the microstructure snapshot returned by
// MicrostructureMetrics.
func (s *BinanceStream) SetMicrostructureMetrics(m MicrostructureMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.micro = m
}

// Start connects the websocket and begins delivering klines. Idempotent:
// calling Start while already started is a no-op.
func (s *BinanceStream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.doneWG.Add(1)
	go s.run(ctx)
	return nil
}

// Stop halts the websocket connection. Idempotent.
func (s *BinanceStream) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.stopChan)
	s.mu.Unlock()

	s.doneWG.Wait()
	return nil
}

func (s *BinanceStream) run(ctx context.Context) {
	defer s.doneWG.Done()

	delay := time.Duration(0)
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		connected := make(chan struct{})
		doneC, stopC, err := binance.WsKlineServe(s.symbol, s.interval, s.handleEvent(connected), s.handleErr)
		if err != nil {
			log.Error().Err(err).Str("symbol", s.symbol).Msg("market stream connection failed")
			delay = s.backoff.next(delay)
			if !s.sleepOrStop(ctx, delay) {
				return
			}
			continue
		}
		close(connected)
		delay = 0

		select {
		case <-s.stopChan:
			stopC <- struct{}{}
			return
		case <-ctx.Done():
			stopC <- struct{}{}
			return
		case <-doneC:
			log.Warn().Str("symbol", s.symbol).Msg("market stream disconnected, reconnecting")
			delay = s.backoff.next(delay)
			if !s.sleepOrStop(ctx, delay) {
				return
			}
		}
	}
}

func (s *BinanceStream) sleepOrStop(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.stopChan:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *BinanceStream) handleEvent(connected <-chan struct{}) binance.WsKlineHandler {
	return func(event *binance.WsKlineEvent) {
		open, err1 := strconv.ParseFloat(event.Kline.Open, 64)
		high, err2 := strconv.ParseFloat(event.Kline.High, 64)
		low, err3 := strconv.ParseFloat(event.Kline.Low, 64)
		closeP, err4 := strconv.ParseFloat(event.Kline.Close, 64)
		vol, err5 := strconv.ParseFloat(event.Kline.Volume, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			log.Warn().Str("symbol", s.symbol).Msg("market stream received non-numeric kline field, dropping")
			return
		}

		k := Kline{
			Symbol:   event.Symbol,
			Interval: event.Kline.Interval,
			OpenTime: event.Kline.StartTime,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closeP,
			Volume:   vol,
			IsClosed: event.Kline.IsFinal,
		}

		s.mu.Lock()
		s.price = closeP
		s.volume = vol
		cb := s.cb
		cache := s.priceCache
		s.mu.Unlock()

		if cache != nil {
			go func() {
				if err := cache.Set(context.Background(), s.symbol, "USDT", closeP); err != nil {
					log.Debug().Err(err).Str("symbol", s.symbol).Msg("price cache write failed")
				}
			}()
		}

		if cb != nil {
			cb(k)
		}
	}
}

func (s *BinanceStream) handleErr(err error) {
	log.Error().Err(err).Str("symbol", s.symbol).Msg("market stream websocket error")
}

// MockStream is an in-memory Stream for tests and paper trading: klines are
// pushed in by calling Push, never over a real connection.
type MockStream struct {
	mu      sync.RWMutex
	cb      KlineCallback
	price   float64
	volume  float64
	micro   MicrostructureMetrics
	started bool
}

// NewMockStream creates a stopped MockStream.
func NewMockStream() *MockStream {
	return &MockStream{}
}

func (m *MockStream) RegisterKlineCallback(cb KlineCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb = cb
}

func (m *MockStream) CurrentPrice() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.price
}

func (m *MockStream) CurrentVolume() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.volume
}

func (m *MockStream) MicrostructureMetrics() MicrostructureMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.micro
}

func (m *MockStream) SetMicrostructureMetrics(metrics MicrostructureMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.micro = metrics
}

// Start marks the stream running; it does not spawn any goroutine.
func (m *MockStream) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

// Stop marks the stream stopped.
func (m *MockStream) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	return nil
}

// Push delivers a kline to the registered callback, as if it had arrived
// over the wire. Returns an error if the stream hasn't been Started.
func (m *MockStream) Push(k Kline) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return fmt.Errorf("market: mock stream not started")
	}
	m.price = k.Close
	m.volume = k.Volume
	cb := m.cb
	m.mu.Unlock()

	if cb != nil {
		cb(k)
	}
	return nil
}
