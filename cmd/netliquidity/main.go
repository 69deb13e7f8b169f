package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rewired-gh/netliquidity/internal/api"
	"github.com/rewired-gh/netliquidity/internal/cache"
	"github.com/rewired-gh/netliquidity/internal/config"
	"github.com/rewired-gh/netliquidity/internal/export"
	"github.com/rewired-gh/netliquidity/internal/fetch"
	"github.com/rewired-gh/netliquidity/internal/llm"
	"github.com/rewired-gh/netliquidity/internal/logger"
	"github.com/rewired-gh/netliquidity/internal/metrics"
	"github.com/rewired-gh/netliquidity/internal/models"
	"github.com/rewired-gh/netliquidity/internal/monitor"
	"github.com/rewired-gh/netliquidity/internal/narrative"
	"github.com/rewired-gh/netliquidity/internal/storage"
	"github.com/rewired-gh/netliquidity/internal/telegram"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	exportOnly = flag.Bool("export", false, "Export stored history and exit")
	once       = flag.Bool("once", false, "Run a single cycle and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxSnapshots, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	if *exportOnly {
		if err := runExport(store, cfg); err != nil {
			logger.Fatal("Export failed: %v", err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	responseCache, err := newCache(ctx, cfg.Cache)
	if err != nil {
		logger.Fatal("Failed to initialize cache: %v", err)
	}
	defer closeCache(responseCache)

	client := fetch.NewClient(fetch.ClientConfig{
		BaseURL:             cfg.Upstream.BaseURL,
		Timeout:             cfg.Upstream.Timeout,
		MaxRetries:          cfg.Upstream.MaxRetries,
		RetryDelayBase:      cfg.Upstream.RetryDelayBase,
		Concurrency:         cfg.Upstream.Concurrency,
		MaxIdleConns:        cfg.Upstream.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Upstream.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Upstream.IdleConnTimeout,
		Cache:               responseCache,
		CacheTTL:            cfg.Cache.TTL,
	})

	var generator llm.Generator
	if cfg.LLM.Enabled {
		generator = llm.NewClient(llm.ClientConfig{
			BaseURL:        cfg.LLM.BaseURL,
			APIKey:         cfg.LLM.APIKey,
			Model:          cfg.LLM.Model,
			MaxTokens:      cfg.LLM.MaxTokens,
			Timeout:        cfg.LLM.Timeout,
			MaxRetries:     cfg.Upstream.MaxRetries,
			RetryDelayBase: cfg.Upstream.RetryDelayBase,
		})
		logger.Info("Commentary generation enabled (model: %s)", cfg.LLM.Model)
	} else {
		logger.Debug("Commentary generation disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(registry)

	monitorConfig := monitor.DefaultConfig()
	monitorConfig.Engine.TrendThreshold = cfg.Engine.TrendThreshold
	monitorConfig.Engine.SecondaryNoise = cfg.Engine.SecondaryNoise
	monitorConfig.Engine.MaxDateSkew = cfg.Engine.MaxDateSkew
	monitorConfig.Engine.AuctionBand = cfg.Engine.AuctionBand
	monitorConfig.Narrative.Expansionary = cfg.Narrative.Expansionary
	monitorConfig.Narrative.Contractionary = cfg.Narrative.Contractionary
	monitorConfig.FallbackLastKnown = cfg.Monitor.FallbackLastKnown
	monitorConfig.Interval = cfg.Monitor.Interval
	if cfg.Monitor.HistoryLimit > 0 {
		monitorConfig.HistoryLimit = cfg.Monitor.HistoryLimit
	}
	if cfg.Monitor.CooldownMultiplier > 0 {
		monitorConfig.CooldownMultiplier = cfg.Monitor.CooldownMultiplier
	}
	if err := monitorConfig.Validate(); err != nil {
		logger.Fatal("%v", err)
	}
	mon := monitor.New(store, client, sources(cfg), generator, recorder, monitorConfig)

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	if *once {
		snap, err := mon.RunCycle(ctx)
		if err != nil {
			logger.Fatal("Cycle failed: %v", err)
		}
		fmt.Println(narrative.BuildPrompt(*snap))
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.API.Listen, mon, store, registry)
		server.Start()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if err := server.Stop(shutdownCtx); err != nil {
				logger.Warn("Failed to stop HTTP server: %v", err)
			}
		}()
	}

	if cfg.Telegram.Enabled && telegramClient != nil {
		telegramClient.ListenForCommands(ctx, mon.Latest)
	}

	logger.Info("Starting liquidity monitor (interval: %v, sources: %d, fallback_last_known: %v)",
		cfg.Monitor.Interval,
		len(cfg.Upstream.Sources),
		cfg.Monitor.FallbackLastKnown,
	)

	ticker := time.NewTicker(cfg.Monitor.Interval)
	defer ticker.Stop()

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Monitoring cycle failed: %v", err)
			if consecutiveFailures == 1 && cfg.Telegram.Enabled && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && cfg.Telegram.Enabled && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	logger.Debug("Running initial monitoring cycle")
	handleCycleResult(runMonitoringCycle(ctx, mon, telegramClient))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled monitoring cycle")
			handleCycleResult(runMonitoringCycle(ctx, mon, telegramClient))
			if err := store.RotateSnapshots(); err != nil {
				logger.Warn("Failed to rotate snapshots: %v", err)
			}
		}
	}
}

func runMonitoringCycle(ctx context.Context, mon *monitor.Monitor, telegramClient *telegram.Client) error {
	startTime := time.Now()
	logger.Info("Starting monitoring cycle")

	snap, err := mon.RunCycle(ctx)
	if err != nil {
		return err
	}

	if len(snap.Failures) > 0 {
		logger.Info("Cycle completed with %d unavailable optional sources", len(snap.Failures))
	}

	if telegramClient != nil {
		if mon.ShouldNotify(snap) {
			logger.Debug("Sending liquidity digest to Telegram")
			if err := telegramClient.Send(snap); err != nil {
				logger.Error("Failed to send Telegram notification: %v", err)
			} else {
				logger.Info("Sent Telegram digest (condition: %s)", snap.Narrative.Condition)
				mon.RecordNotified(snap)
			}
		} else {
			logger.Debug("Condition unchanged within cooldown, skipping notification")
		}
	}

	logger.Info("Monitoring cycle completed in %v", time.Since(startTime))
	return nil
}

// sources lists enabled upstream sources in driver priority order.
func sources(cfg *config.Config) []fetch.Source {
	var out []fetch.Source
	for _, role := range models.RolePriority {
		src, ok := cfg.Upstream.Sources[string(role)]
		if !ok || !src.Enabled {
			continue
		}
		out = append(out, fetch.Source{Role: role, Path: src.Path, Fields: src.Fields})
	}
	return out
}

func newCache(ctx context.Context, cfg config.CacheConfig) (cache.BytesCache, error) {
	switch cfg.Backend {
	case "memory":
		return cache.NewTTLCache(), nil
	case "redis":
		return cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, nil
	}
}

// closeCache releases backends that hold connections, such as Redis.
func closeCache(c cache.BytesCache) {
	closer, ok := c.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("Failed to close cache: %v", err)
	}
}

func runExport(store *storage.Storage, cfg *config.Config) error {
	saver := export.NewSaver(cfg.Export.Format)
	if saver == nil {
		return fmt.Errorf("unsupported export format %q", cfg.Export.Format)
	}
	points, err := store.History(cfg.Storage.MaxSnapshots)
	if err != nil {
		return err
	}
	path, err := export.Write(points, cfg.Export.Dir, saver, time.Now())
	if err != nil {
		return err
	}
	logger.Info("Exported %d readings to %s", len(points), path)
	return nil
}
