// Trading Engine entrypoint.
//
// Wires the Market Data Stream, Indicator Buffer, Agent Orchestration
// Graph, Risk Governor, Order Executor, Reasoning Store, and Alert
// Notifier into a running Engine, then starts the dashboard API
// alongside it so external callers get a read-only snapshot without
// talking to the engine process directly.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coldvault/fenixcore/internal/alerts"
	"github.com/coldvault/fenixcore/internal/api"
	"github.com/coldvault/fenixcore/internal/audit"
	"github.com/coldvault/fenixcore/internal/config"
	"github.com/coldvault/fenixcore/internal/db"
	"github.com/coldvault/fenixcore/internal/engine"
	"github.com/coldvault/fenixcore/internal/exchange"
	"github.com/coldvault/fenixcore/internal/indicators"
	"github.com/coldvault/fenixcore/internal/llm"
	"github.com/coldvault/fenixcore/internal/market"
	"github.com/coldvault/fenixcore/internal/memory"
	"github.com/coldvault/fenixcore/internal/notifications"
	"github.com/coldvault/fenixcore/internal/orchestrator"
	"github.com/coldvault/fenixcore/internal/risk"
	"github.com/coldvault/fenixcore/internal/vault"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ./configs/config.yaml)")
	symbol := flag.String("symbol", "", "Override trading.symbols[0] for this process")
	timeframe := flag.String("timeframe", "5m", "Kline interval the engine analyzes")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *symbol != "" {
		cfg.Trading.Symbols = []string{*symbol}
	}
	if len(cfg.Trading.Symbols) == 0 {
		log.Fatal().Msg("no trading symbol configured")
	}
	tradingSymbol := cfg.Trading.Symbols[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer database.Close()

	exchangeAPIKey, exchangeSecret, coinGeckoKey := loadExchangeCredentials(ctx, cfg)

	var ex exchange.Exchange
	if cfg.Trading.Mode == "live" {
		binanceEx, err := exchange.NewBinanceExchange(exchange.BinanceConfig{
			APIKey:    exchangeAPIKey,
			SecretKey: exchangeSecret,
			Testnet:   cfg.Exchanges["binance"].Testnet,
		}, database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize binance exchange")
		}
		ex = binanceEx
	} else {
		ex = exchange.NewMockExchangeWithFees(database, cfg.Exchanges["binance"].Fees)
	}

	alertManager := exchange.NewAlertManager()
	executor := exchange.NewExecutor(ex, exchange.DefaultExecutorConfig()).WithAlertManager(alertManager)

	positions := exchange.NewPositionManager(database)

	buffer := indicators.NewBuffer()

	redisClient := newRedisClient(cfg)

	backoff := market.DefaultReconnectBackoff()
	stream := market.NewBinanceStream(tradingSymbol, *timeframe, backoff)
	if redisClient != nil {
		stream.WithPriceCache(market.NewRedisPriceCache(redisClient, 30*time.Second))
	}

	var syncService *market.SyncService
	if sqlDB := newSQLDB(); sqlDB != nil && redisClient != nil {
		if coinGeckoKey != "" {
			cgClient, err := market.NewCoinGeckoClient(coinGeckoKey)
			if err != nil {
				log.Warn().Err(err).Msg("coingecko client unavailable, market data sync disabled")
			} else {
				cachedClient := market.NewCachedCoinGeckoClient(cgClient, redisClient, 5*time.Minute)
				syncService = market.NewSyncService(cachedClient, sqlDB, cfg.Trading.Symbols, time.Hour)
				go func() {
					if err := syncService.Start(ctx); err != nil && err != context.Canceled {
						log.Error().Err(err).Msg("market data sync service stopped")
					}
				}()
			}
		}
	}

	fallbackClient := llm.NewFallbackClient(llm.FallbackConfig{
		PrimaryConfig: llm.ClientConfig{
			Endpoint:    cfg.LLM.Endpoint,
			Model:       cfg.LLM.PrimaryModel,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     time.Duration(cfg.LLM.Timeout) * time.Millisecond,
		},
		PrimaryName: cfg.LLM.PrimaryModel,
		FallbackConfigs: []llm.ClientConfig{{
			Endpoint:    cfg.LLM.Endpoint,
			Model:       cfg.LLM.FallbackModel,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     time.Duration(cfg.LLM.Timeout) * time.Millisecond,
		}},
		FallbackNames:        []string{cfg.LLM.FallbackModel},
		CircuitBreakerConfig: llm.DefaultCircuitBreakerConfig(),
	})

	reasoning := memory.NewReasoningStoreWithPool(database.Pool(), 500).
		WithProceduralMemory(memory.NewProceduralMemory(database.Pool())).
		WithSemanticMemory(memory.NewSemanticMemory(database.Pool()))
	graph := orchestrator.NewGraph(fallbackClient, reasoning, cfg.LLM.PrimaryModel, orchestrator.DefaultGraphConfig())

	notifier := buildNotifier(cfg, database)
	governor := risk.NewGovernor(risk.DefaultThresholds(), database.Pool(), notifier).
		WithCalculator(risk.NewCalculatorWithPool(database.Pool()))

	auditLogger := audit.NewLogger(database.Pool(), true)

	engCfg := engine.DefaultConfig(tradingSymbol, *timeframe)
	engCfg.PaperOnly = cfg.Trading.Mode != "live"

	eng := engine.New(engCfg, stream, buffer, graph, governor, executor, reasoning, engine.NewStaticBalanceProvider(cfg.Trading.InitialCapital)).
		WithPositionManager(positions).
		WithAuditLogger(auditLogger)

	if coinGeckoKey != "" || cfg.Trading.Mode != "live" {
		if cgClient, err := market.NewCoinGeckoClient(coinGeckoKey); err == nil {
			eng = eng.WithSentimentFetcher(market.NewCoinGeckoSentiment(cgClient))
		}
	}

	if bus, err := orchestrator.NewMessageBus(orchestrator.MessageBusConfig{
		NATSURL: cfg.NATS.URL,
		Prefix:  "engine.",
	}); err != nil {
		log.Warn().Err(err).Msg("message bus unavailable, engine events will not be broadcast")
	} else {
		publisher := orchestrator.NewEventPublisher(bus, fmt.Sprintf("engine-%s", tradingSymbol))
		eng = eng.WithObserver(publisher.Publish)
		defer bus.Close()
	}

	apiServer := api.NewServer(api.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		DB:   database,
	})
	apiServer.SetEngine(eng)

	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start trading engine")
	}

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			errChan <- fmt.Errorf("dashboard api error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errChan:
		log.Error().Err(err).Msg("dashboard api error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if syncService != nil {
		syncService.Stop()
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error stopping trading engine")
	}
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error stopping dashboard api")
	}

	log.Info().Msg("engine shutdown complete")
}

// loadExchangeCredentials prefers Vault when reachable, falling back to
// the config file's plaintext exchange section — matching
// internal/vault's own documented dev/prod split.
func loadExchangeCredentials(ctx context.Context, cfg *config.Config) (apiKey, secret, coinGecko string) {
	vc, err := vault.NewClientFromEnv()
	if err == nil {
		if creds, err := vc.GetExchangeConfig(ctx); err == nil {
			return creds.BinanceAPIKey, creds.BinanceAPISecret, creds.CoinGeckoAPIKey
		}
		log.Warn().Err(err).Msg("vault exchange secret unavailable, falling back to config file")
	}

	binanceCfg := cfg.Exchanges["binance"]
	return binanceCfg.APIKey, binanceCfg.SecretKey, ""
}

func newRedisClient(cfg *config.Config) *redis.Client {
	if cfg.Redis.GetRedisAddr() == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// newSQLDB opens the database/sql connection the market data sync service
// needs (it predates the pgxpool migration and still speaks lib/pq).
func newSQLDB() *sql.DB {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil
	}
	sqlDB, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to open sql.DB for market data sync, sync disabled")
		return nil
	}
	return sqlDB
}

// buildNotifier wires the Risk Governor's alert sink: Telegram and push
// channels when configured, always including a log-based fallback so a
// mode transition is never silently lost.
func buildNotifier(cfg *config.Config, database *db.DB) *alerts.Notifier {
	channels := map[string]alerts.Alerter{
		"log": alerts.NewLogAlerter(),
	}

	if botToken := os.Getenv("TELEGRAM_BOT_TOKEN"); botToken != "" {
		if tgAlerter, err := alerts.NewTelegramAlerter(botToken, nil); err != nil {
			log.Warn().Err(err).Msg("telegram alerter unavailable")
		} else {
			channels["telegram"] = tgAlerter
		}
	}

	if userID := os.Getenv("NOTIFICATIONS_DEFAULT_USER_ID"); userID != "" {
		notifSvc := notifications.NewService(database.Pool(), nil)
		channels["push"] = alerts.NewPushAlerter(notifSvc, userID)
	}

	notifierCfg := alerts.DefaultNotifierConfig()
	notifier := alerts.NewNotifier(notifierCfg, channels)
	notifier.Start(context.Background())
	return notifier
}
