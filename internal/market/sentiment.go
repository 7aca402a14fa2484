package market

import (
	"context"
	"fmt"
	"strings"
)

// coinGeckoIDs maps the Binance base-asset ticker to the CoinGecko coin id
// for the handful of symbols the engine trades. CoinGecko has no reverse
// lookup by ticker that is both free and unambiguous (many tickers collide
// across chains), so this stays a small explicit table rather than a
// dynamic symbol-search call on every cycle.
var coinGeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"BNB":  "binancecoin",
	"SOL":  "solana",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"MATIC": "matic-network",
	"DOT":  "polkadot",
	"LTC":  "litecoin",
}

// quoteAssets lists the trading-pair suffixes stripped to recover the base
// asset from a Binance symbol (e.g. "BTCUSDT" -> "BTC").
var quoteAssets = []string{"USDT", "BUSD", "USDC", "USD"}

func baseAsset(symbol string) string {
	upper := strings.ToUpper(symbol)
	for _, q := range quoteAssets {
		if strings.HasSuffix(upper, q) && len(upper) > len(q) {
			return strings.TrimSuffix(upper, q)
		}
	}
	return upper
}

// CoinGeckoSentiment adapts a CoinGeckoClient into the engine's
// SentimentFetcher contract: community sentiment and short-term price
// momentum, surfaced to the decision agent as extra indicator context.
type CoinGeckoSentiment struct {
	client *CoinGeckoClient
}

// NewCoinGeckoSentiment wraps client as a SentimentFetcher.
func NewCoinGeckoSentiment(client *CoinGeckoClient) *CoinGeckoSentiment {
	return &CoinGeckoSentiment{client: client}
}

// FetchSentiment looks up the CoinGecko coin id for symbol's base asset and
// returns its community sentiment split and 24h/7d price change, the same
// shape the decision agent already expects under "sentiment_context". An
// untracked symbol (no entry in coinGeckoIDs) is not an error — it simply
// has no sentiment to report.
func (s *CoinGeckoSentiment) FetchSentiment(ctx context.Context, symbol string) (map[string]interface{}, error) {
	coinID, ok := coinGeckoIDs[baseAsset(symbol)]
	if !ok {
		return nil, nil
	}

	info, err := s.client.GetCoinInfo(ctx, coinID)
	if err != nil {
		return nil, fmt.Errorf("fetch coin info for %s: %w", coinID, err)
	}

	out := map[string]interface{}{
		"coin_id": info.ID,
		"name":    info.Name,
	}
	for _, key := range []string{
		"sentiment_votes_up_percentage",
		"sentiment_votes_down_percentage",
		"price_change_percentage_24h",
		"price_change_percentage_7d",
		"market_cap_rank",
	} {
		if v, ok := info.MarketData[key]; ok {
			out[key] = v
		}
	}

	return out, nil
}
