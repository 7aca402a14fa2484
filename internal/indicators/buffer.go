package indicators

import (
	"math"
	"sync"
	"time"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/rs/zerolog/log"
)

// BandPosition classifies price relative to the Bollinger bands.
type BandPosition string

const (
	BandBelowLower BandPosition = "BELOW_LOWER"
	BandLower      BandPosition = "LOWER"
	BandMiddle     BandPosition = "MIDDLE"
	BandUpper      BandPosition = "UPPER"
	BandAboveUpper BandPosition = "ABOVE_UPPER"
)

const (
	// DefaultMaxLen is the default ring buffer capacity (MAXLEN).
	DefaultMaxLen = 300
	// DefaultMinCandlesForCalc gates any indicator snapshot recompute.
	DefaultMinCandlesForCalc = 30
	// DefaultMinCandlesForReliableCalc gates the full indicator map in CurrentIndicators.
	DefaultMinCandlesForReliableCalc = 30
	// defaultWarnRateLimit is how often a per-indicator precondition warning repeats.
	defaultWarnRateLimit = 300 * time.Second
)

// ringBuffer is a fixed-capacity FIFO of float64 samples.
type ringBuffer struct {
	data []float64
	cap  int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{data: make([]float64, 0, capacity), cap: capacity}
}

func (r *ringBuffer) push(v float64) {
	r.data = append(r.data, v)
	if len(r.data) > r.cap {
		r.data = r.data[len(r.data)-r.cap:]
	}
}

func (r *ringBuffer) slice() []float64 {
	out := make([]float64, len(r.data))
	copy(out, r.data)
	return out
}

func (r *ringBuffer) last() (float64, bool) {
	if len(r.data) == 0 {
		return 0, false
	}
	return r.data[len(r.data)-1], true
}

func (r *ringBuffer) clear() {
	r.data = r.data[:0]
}

// Buffer maintains bounded OHLCV sequences and the derived indicator cache
// for a single symbol/timeframe pair, per spec §4.1. All mutating and
// reading operations are serialized under a single reentrant-equivalent
// mutex (Go mutexes aren't reentrant; Buffer's own methods never call each
// other while holding the lock).
type Buffer struct {
	mu sync.Mutex

	maxLen                    int
	minCandlesForCalc         int
	minCandlesForReliableCalc int

	opens      *ringBuffer
	highs      *ringBuffer
	lows       *ringBuffer
	closes     *ringBuffer
	volumes    *ringBuffer
	openTimes  *ringBuffer
	bandwidths *ringBuffer
	snapshot   map[string]interface{}
	sequences  map[string]*ringBuffer
	lastWarned map[string]time.Time
}

// Option configures a Buffer at construction time.
type Option func(*Buffer)

// WithMaxLen overrides DefaultMaxLen.
func WithMaxLen(n int) Option { return func(b *Buffer) { b.maxLen = n } }

// WithMinCandlesForCalc overrides DefaultMinCandlesForCalc.
func WithMinCandlesForCalc(n int) Option { return func(b *Buffer) { b.minCandlesForCalc = n } }

// WithMinCandlesForReliableCalc overrides DefaultMinCandlesForReliableCalc.
func WithMinCandlesForReliableCalc(n int) Option {
	return func(b *Buffer) { b.minCandlesForReliableCalc = n }
}

// NewBuffer constructs a Buffer with the given options applied over defaults.
func NewBuffer(opts ...Option) *Buffer {
	b := &Buffer{
		maxLen:                    DefaultMaxLen,
		minCandlesForCalc:         DefaultMinCandlesForCalc,
		minCandlesForReliableCalc: DefaultMinCandlesForReliableCalc,
		lastWarned:                make(map[string]time.Time),
	}
	for _, o := range opts {
		o(b)
	}
	b.opens = newRingBuffer(b.maxLen)
	b.highs = newRingBuffer(b.maxLen)
	b.lows = newRingBuffer(b.maxLen)
	b.closes = newRingBuffer(b.maxLen)
	b.volumes = newRingBuffer(b.maxLen)
	b.openTimes = newRingBuffer(b.maxLen)
	b.bandwidths = newRingBuffer(20)
	b.sequences = map[string]*ringBuffer{
		"rsi":  newRingBuffer(b.maxLen),
		"macd": newRingBuffer(b.maxLen),
		"adx":  newRingBuffer(b.maxLen),
		"atr":  newRingBuffer(b.maxLen),
	}
	return b
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Append validates and ingests one OHLCV observation. It returns false
// without mutating any buffer when the candle is invalid.
func (b *Buffer) Append(closeP, high, low, volume float64, open, openTime *float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !finite(closeP) || !finite(high) || !finite(low) || !finite(volume) {
		return false
	}
	if closeP <= 0 || high <= 0 || low <= 0 || volume < 0 {
		return false
	}

	openVal := closeP
	if open != nil {
		if !finite(*open) || *open <= 0 {
			return false
		}
		openVal = *open
	} else if last, ok := b.closes.last(); ok {
		openVal = last
	}

	if !(low <= openVal && openVal <= high) || !(low <= closeP && closeP <= high) {
		return false
	}

	ot := float64(time.Now().UnixMilli())
	if openTime != nil {
		ot = *openTime
	}

	b.opens.push(openVal)
	b.highs.push(high)
	b.lows.push(low)
	b.closes.push(closeP)
	b.volumes.push(volume)
	b.openTimes.push(ot)

	if b.closes.cap == 0 || len(b.closes.data) >= b.minCandlesForCalc {
		b.recompute()
	} else {
		b.snapshot = nil
	}
	return true
}

// recompute rebuilds the full indicator snapshot cache. Must be called
// with mu held.
func (b *Buffer) recompute() {
	closes := b.closes.slice()
	highs := b.highs.slice()
	lows := b.lows.slice()
	volumes := b.volumes.slice()

	snap := make(map[string]interface{})

	n := len(closes)
	snap["last_price"] = closes[n-1]
	snap["curr_vol"] = volumes[n-1]
	if n >= 20 {
		sum := 0.0
		for _, v := range volumes[n-20:] {
			sum += v
		}
		snap["avg_vol_20"] = sum / 20
	}

	if rsi, ok := computeRSI(closes, 14); ok {
		snap["rsi"] = rsi
		b.sequences["rsi"].push(rsi)
	} else {
		b.warnOnce("rsi", "insufficient data for RSI-14")
	}

	if macdLine, signal, ok := computeMACD(closes, 12, 26, 9); ok {
		snap["macd_line"] = macdLine
		snap["macd_signal"] = signal
		b.sequences["macd"].push(macdLine)
	} else {
		b.warnOnce("macd", "insufficient data for MACD(12,26,9)")
	}

	if adx, ok := computeADX(highs, lows, closes, 14); ok {
		snap["adx"] = adx
		b.sequences["adx"].push(adx)
	} else {
		b.warnOnce("adx", "insufficient data for ADX-14 (needs 27 points)")
	}

	if atr, ok := computeATR(highs, lows, closes, 14); ok {
		snap["atr"] = atr
		b.sequences["atr"].push(atr)
	} else {
		b.warnOnce("atr", "insufficient data for ATR-14")
	}

	for _, p := range []int{9, 20, 21} {
		if ema, ok := computeEMA(closes, p); ok {
			snap[emaKey(p)] = ema
		}
	}

	if upper, middle, lower, ok := computeBollinger(closes, 20); ok {
		snap["bb_upper"] = upper
		snap["bb_middle"] = middle
		snap["bb_lower"] = lower
		width := (upper - lower) / middle
		snap["bandwidth"] = width
		price := closes[n-1]
		percentB := 0.5
		if upper-lower != 0 {
			percentB = (price - lower) / (upper - lower)
			snap["percent_b"] = percentB
		}
		b.bandwidths.push(width)
		snap["band_position"] = string(classifyBandPosition(percentB))
		if squeeze, ok := b.isSqueeze(width); ok {
			snap["squeeze_status"] = squeeze
		}
	} else {
		b.warnOnce("bbands", "insufficient data for BBANDS-20")
	}

	for k, v := range snap {
		if f, isFloat := v.(float64); isFloat && !finite(f) {
			delete(snap, k)
		}
	}

	b.snapshot = snap
}

// isSqueeze reports whether the current bandwidth sits below the 20th
// percentile of the last 20 recorded bandwidths (needs the full window).
func (b *Buffer) isSqueeze(current float64) (bool, bool) {
	data := b.bandwidths.slice()
	if len(data) < 20 {
		return false, false
	}
	sorted := append([]float64(nil), data...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	idx := int(0.2 * float64(len(sorted)))
	threshold := sorted[idx]
	return current <= threshold, true
}

func emaKey(period int) string {
	switch period {
	case 9:
		return "ema_9"
	case 20:
		return "ema_20"
	case 21:
		return "ema_21"
	default:
		return "ema"
	}
}

// warnOnce logs an indicator-precondition-failure warning at most once per
// defaultWarnRateLimit window per indicator name. Must be called with mu held.
func (b *Buffer) warnOnce(indicator, msg string) {
	now := time.Now()
	if last, ok := b.lastWarned[indicator]; ok && now.Sub(last) < defaultWarnRateLimit {
		return
	}
	b.lastWarned[indicator] = now
	log.Warn().Str("indicator", indicator).Msg(msg)
}

// CurrentIndicators returns last_price/curr_vol/avg_vol_20 whenever at
// least one candle exists, and the full indicator snapshot once the
// minimum-reliable-calc threshold is reached.
func (b *Buffer) CurrentIndicators() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.closes.data) == 0 {
		return map[string]interface{}{}
	}

	out := make(map[string]interface{})
	closes := b.closes.slice()
	volumes := b.volumes.slice()
	n := len(closes)
	out["last_price"] = closes[n-1]
	out["curr_vol"] = volumes[n-1]
	if n >= 20 {
		sum := 0.0
		for _, v := range volumes[n-20:] {
			sum += v
		}
		out["avg_vol_20"] = sum / 20
	}

	if n < b.minCandlesForReliableCalc || b.snapshot == nil {
		return out
	}
	for k, v := range b.snapshot {
		out[k] = v
	}
	return out
}

// Sequences returns, for each tracked indicator sequence, the trailing n
// values — only when the sequence has exactly n finite values available.
func (b *Buffer) Sequences(n int) map[string][]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string][]float64)
	for name, rb := range b.sequences {
		data := rb.slice()
		if len(data) < n {
			continue
		}
		tail := data[len(data)-n:]
		allFinite := true
		for _, v := range tail {
			if !finite(v) {
				allFinite = false
				break
			}
		}
		if allFinite {
			cp := make([]float64, n)
			copy(cp, tail)
			out[name] = cp
		}
	}
	return out
}

// Clear drops all buffered data and the indicator cache.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens.clear()
	b.highs.clear()
	b.lows.clear()
	b.closes.clear()
	b.volumes.clear()
	b.openTimes.clear()
	for _, rb := range b.sequences {
		rb.clear()
	}
	b.snapshot = nil
}

// Len reports how many candles are currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.closes.data)
}

// --- indicator math, grounded on the cinar/indicator/v2-backed wrappers in
// this package's service.go family, adapted to operate on []float64 tails
// directly instead of map[string]interface{} MCP args. ---

func toChan(vals []float64) chan float64 {
	ch := make(chan float64, len(vals))
	for _, v := range vals {
		ch <- v
	}
	close(ch)
	return ch
}

func computeRSI(closes []float64, period int) (float64, bool) {
	if period < 1 || len(closes) < period+1 {
		return 0, false
	}
	ind := momentum.NewRsiWithPeriod[float64](period)
	ch := ind.Compute(toChan(closes))
	var last float64
	found := false
	for v := range ch {
		last = v
		found = true
	}
	if !found || !finite(last) {
		return 0, false
	}
	return last, true
}

func computeMACD(closes []float64, fast, slow, signal int) (macd, sig float64, ok bool) {
	if fast >= slow || len(closes) < slow+signal {
		return 0, 0, false
	}
	ind := trend.NewMacdWithPeriod[float64](fast, slow, signal)
	macdCh, sigCh := ind.Compute(toChan(closes))
	var lastMacd, lastSig float64
	found := false
	for {
		m, mok := <-macdCh
		s, sok := <-sigCh
		if !mok || !sok {
			break
		}
		lastMacd, lastSig = m, s
		found = true
	}
	if !found || !finite(lastMacd) || !finite(lastSig) {
		return 0, 0, false
	}
	return lastMacd, lastSig, true
}

func computeEMA(closes []float64, period int) (float64, bool) {
	if len(closes) < period {
		return 0, false
	}
	ind := trend.NewEmaWithPeriod[float64](period)
	ch := ind.Compute(toChan(closes))
	var last float64
	found := false
	for v := range ch {
		last = v
		found = true
	}
	if !found || !finite(last) {
		return 0, false
	}
	return last, true
}

func computeBollinger(closes []float64, period int) (upper, middle, lower float64, ok bool) {
	if period < 2 || len(closes) < period {
		return 0, 0, 0, false
	}
	ind := volatility.NewBollingerBandsWithPeriod[float64](period)
	lowerCh, middleCh, upperCh := ind.Compute(toChan(closes))
	var lu, lm, ll float64
	found := false
	for {
		l, lok := <-lowerCh
		m, mok := <-middleCh
		u, uok := <-upperCh
		if !lok || !mok || !uok {
			break
		}
		ll, lm, lu = l, m, u
		found = true
	}
	if !found || !finite(lu) || !finite(lm) || !finite(ll) {
		return 0, 0, 0, false
	}
	return lu, lm, ll, true
}

func computeATR(highs, lows, closes []float64, period int) (float64, bool) {
	if len(highs) < period+1 || len(lows) < period+1 || len(closes) < period+1 {
		return 0, false
	}
	n := len(closes)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
	}
	smoothed := smoothWilder(tr, period)
	last := smoothed[n-1]
	if last == 0 || !finite(last) {
		return 0, false
	}
	return last, true
}

// needs ADX-14 precondition of 27 points (period*2 - 1) per spec §4.1.
func computeADX(highs, lows, closes []float64, period int) (float64, bool) {
	if len(closes) < period*2-1 {
		return 0, false
	}
	val := calculateADXManual(highs, lows, closes, period)
	if val == 0 || !finite(val) {
		return 0, false
	}
	return val, true
}

// classifyBandPosition derives the band_position flag from percent_b,
// matching technical_tools.py's thresholds: <=0 BELOW_LOWER, <0.2 LOWER,
// <=0.8 MIDDLE, <1 UPPER, >=1 ABOVE_UPPER.
func classifyBandPosition(percentB float64) BandPosition {
	switch {
	case percentB <= 0:
		return BandBelowLower
	case percentB >= 1:
		return BandAboveUpper
	case percentB < 0.2:
		return BandLower
	case percentB > 0.8:
		return BandUpper
	default:
		return BandMiddle
	}
}
