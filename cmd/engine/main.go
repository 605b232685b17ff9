// Trading engine entry point: wires the market stream, agent graph,
// risk governor, executor, and status API together and runs until
// interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tradewind-ai/tradewind/internal/agents"
	"github.com/tradewind-ai/tradewind/internal/alerts"
	"github.com/tradewind-ai/tradewind/internal/api"
	"github.com/tradewind-ai/tradewind/internal/config"
	"github.com/tradewind-ai/tradewind/internal/db"
	"github.com/tradewind-ai/tradewind/internal/engine"
	"github.com/tradewind-ai/tradewind/internal/exchange"
	"github.com/tradewind-ai/tradewind/internal/indicators"
	"github.com/tradewind-ai/tradewind/internal/llm"
	"github.com/tradewind-ai/tradewind/internal/market"
	"github.com/tradewind-ai/tradewind/internal/memory"
	"github.com/tradewind-ai/tradewind/internal/metrics"
	"github.com/tradewind-ai/tradewind/internal/risk"
	"github.com/tradewind-ai/tradewind/internal/sentiment"
)

const signalLogPath = "data/signals.jsonl"

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().
		Str("version", config.Version).
		Str("environment", cfg.App.Environment).
		Str("mode", cfg.Trading.Mode).
		Str("symbol", cfg.Trading.Symbol).
		Str("timeframe", cfg.Trading.Timeframe).
		Msg("Starting Tradewind engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics server
	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, log.Logger)
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start metrics server")
		}
	}

	// Reasoning store. The engine runs without persistence when the
	// database is unreachable, so a dead Postgres never blocks trading.
	var (
		database *db.DB
		store    *memory.Store
	)
	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	database, err = db.New(dbCtx, cfg.Database.GetDSN())
	dbCancel()
	if err != nil {
		log.Warn().Err(err).Msg("Database unavailable, running without reasoning store")
	} else {
		defer database.Close()
		store = memory.NewStore(database.Pool(), memory.StoreConfig{
			MaxEntriesPerAgent: cfg.Database.MaxEntriesPerAgent,
		})
	}

	// LLM gateway with model fallback. The key is optional for local
	// gateways.
	llmKey, err := config.ResolveSecret(ctx, "TRADEWIND_LLM_API_KEY")
	if err != nil {
		log.Debug().Err(err).Msg("No LLM API key configured")
	}
	chain := llm.NewFallbackChain(llm.FallbackConfig{
		Endpoint:       cfg.LLM.Endpoint,
		APIKey:         llmKey,
		PrimaryModel:   cfg.LLM.PrimaryModel,
		FallbackModels: cfg.LLM.FallbackModels,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		RequestsPerMin: cfg.LLM.RequestsPerMin,
		Headers:        cfg.LLM.Headers,
	})

	var reasoning agents.ReasoningStore
	if store != nil {
		reasoning = store
	}
	runner := agents.NewRunner(chain, reasoning, agents.RunnerConfig{
		MaxAttempts: cfg.Agents.MaxRetries,
		BackoffBase: time.Duration(cfg.Agents.RetryBackoffSec * float64(time.Second)),
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	if cfg.Agents.PromptsPath != "" {
		if err := agents.LoadPromptOverrides(cfg.Agents.PromptsPath); err != nil {
			log.Fatal().Err(err).Str("path", cfg.Agents.PromptsPath).Msg("Failed to load prompt overrides")
		}
	}
	graph := agents.NewGraph(runner, agents.GraphConfig{
		SentimentEnabled: cfg.Agents.EnableSentiment,
		VisualEnabled:    cfg.Agents.EnableVisual,
	})

	// Risk governor
	governor, err := risk.NewGovernor(cfg.Risk)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create risk governor")
	}
	defer governor.Close()

	// Alert notifier
	notifier := buildNotifier(ctx, cfg)
	notifier.Start(ctx)
	defer notifier.Stop()

	// Engine event publisher
	var (
		publisher *engine.NATSPublisher
		observer  engine.Observer
	)
	if cfg.NATS.Enabled {
		publisher, err = engine.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.EventPrefix)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, engine events disabled")
		} else {
			defer publisher.Close()
			observer = publisher.Observe
		}
	}

	governor.SetModeChangeHook(func(from, to risk.Mode, status risk.Status) {
		notifier.Publish(alerts.RiskAlert(string(to), status.Reason, status.RiskBias, map[string]interface{}{
			"win_rate":       status.WinRate,
			"loss_streak":    status.LossStreak,
			"drawdown_pct":   status.DrawdownPct,
			"daily_loss_pct": status.DailyLossPct,
		}))
		if observer != nil {
			observer(engine.EventModeChanged, map[string]any{
				"from":   string(from),
				"to":     string(to),
				"reason": status.Reason,
			})
		}
	})

	// Exchange and executor
	var (
		ex    exchange.Exchange
		paper *exchange.Paper
	)
	if cfg.Trading.Mode == "live" {
		creds, err := config.ResolveExchangeCredentials(ctx, cfg.Trading.Mode)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to resolve exchange credentials")
		}
		ex = exchange.NewBinance(exchange.BinanceConfig{
			APIKey:    creds.APIKey,
			SecretKey: creds.SecretKey,
			Testnet:   cfg.Exchange.Testnet,
		})
	} else {
		paper = exchange.NewPaper(10000)
		ex = paper
	}
	executor := exchange.NewExecutor(ex, exchange.ExecutorConfig{
		QuantityDecimals: cfg.Trading.QuantityDecimals,
	})

	// Market data
	collector := market.NewCollector(cfg.Trading.Symbol, cfg.Exchange.Testnet)
	var stream market.Stream = market.NewKlineStream(cfg.Trading.Symbol, cfg.Trading.Timeframe, collector)
	if paper != nil {
		// Paper fills need a mark price; tee closed klines into it
		stream = &markPriceTee{Stream: stream, paper: paper, symbol: cfg.Trading.Symbol}
	}

	// External context (optional)
	var contextProvider engine.ContextProvider
	var provider *sentiment.Provider
	if cfg.Context.Enabled {
		var cache *market.ContextCache
		if cfg.Redis.Enabled {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.GetRedisAddr(),
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			cache = market.NewContextCache(client, time.Duration(cfg.Redis.TTLSec)*time.Second)
		}
		provider = sentiment.NewProvider(cfg.Trading.Symbol, cache, time.Duration(cfg.Context.TimeoutSec)*time.Second)
		if err := provider.ConnectSSE(ctx, cfg.Context.MCPURL); err != nil {
			log.Warn().Err(err).Msg("Context MCP server unavailable, cycles run without external context")
		}
		defer provider.Close()
		contextProvider = provider.Snapshot
	}

	// Signal log
	signals, err := engine.NewSignalLog(signalLogPath)
	if err != nil {
		log.Warn().Err(err).Str("path", signalLogPath).Msg("Signal log file unavailable, keeping signals in memory only")
		signals, _ = engine.NewSignalLog("")
	}

	deps := engine.Deps{
		Stream:   stream,
		Buffer:   indicators.NewBuffer(),
		Graph:    graph,
		Governor: governor,
		Executor: executor,
		Balance:  ex,
		Signals:  signals,
		Observer: observer,
		Context:  contextProvider,
	}
	if store != nil {
		deps.Outcomes = store
	}

	eng, err := engine.New(engine.Config{
		Symbol:           cfg.Trading.Symbol,
		Timeframe:        cfg.Trading.Timeframe,
		MinKlinesToStart: cfg.Trading.MinKlinesToStart,
		BaseRiskPerTrade: cfg.Trading.BaseRiskPerTrade,
		MinNotional:      cfg.Trading.MinNotional,
	}, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}

	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
	}

	// Status API
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiCfg := api.Config{
			Host:    cfg.API.Host,
			Port:    cfg.API.Port,
			Engine:  eng,
			Risk:    governor,
			Signals: signals,
		}
		if store != nil {
			apiCfg.Memory = store
		}
		apiServer = api.NewServer(apiCfg)
		go func() {
			if err := apiServer.Start(); err != nil {
				log.Error().Err(err).Msg("Status API error")
			}
		}()
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	eng.Stop()
	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping status API")
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	log.Info().Msg("Engine shutdown complete")
}

// buildNotifier assembles the alert channels the config enables. The
// log channel is always present.
func buildNotifier(ctx context.Context, cfg *config.Config) *alerts.Notifier {
	channels := []alerts.Channel{alerts.LogChannel{}}

	if len(cfg.Alerts.TelegramChatIDs) > 0 {
		token, err := config.ResolveSecret(ctx, "TRADEWIND_TELEGRAM_BOT_TOKEN")
		if err != nil {
			log.Warn().Err(err).Msg("Telegram chat IDs configured but no bot token available")
		} else if tg, err := alerts.NewTelegramChannel(token, cfg.Alerts.TelegramChatIDs); err != nil {
			log.Warn().Err(err).Msg("Telegram channel unavailable")
		} else {
			channels = append(channels, tg)
		}
	}

	if cfg.Alerts.WebhookURL != "" {
		wh, err := alerts.NewWebhookChannel(cfg.Alerts.WebhookURL)
		if err != nil {
			log.Warn().Err(err).Msg("Webhook channel unavailable")
		} else {
			channels = append(channels, wh)
		}
	}

	if len(cfg.Alerts.FCMDeviceTokens) > 0 {
		fcm, err := alerts.NewFCMChannel(ctx, cfg.Alerts.FCMCredentials, cfg.Alerts.FCMDeviceTokens)
		if err != nil {
			log.Warn().Err(err).Msg("FCM channel unavailable")
		} else {
			channels = append(channels, fcm)
		}
	}

	return alerts.NewNotifier(alerts.NotifierConfig{
		MinLevel:  alerts.Level(cfg.Alerts.MinLevel),
		Cooldown:  time.Duration(cfg.Alerts.CooldownSec) * time.Second,
		QueueSize: cfg.Alerts.QueueSize,
	}, channels...)
}

// markPriceTee feeds closed klines into the paper exchange before the
// engine sees them, so simulated fills track the live close.
type markPriceTee struct {
	market.Stream
	paper  *exchange.Paper
	symbol string
}

func (t *markPriceTee) OnKline(h market.KlineHandler) {
	t.Stream.OnKline(func(k market.Kline) {
		t.paper.SetMarkPrice(t.symbol, k.Close)
		h(k)
	})
}
