package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"arbflow/config"
	"arbflow/internal/cache"
	"arbflow/internal/dashboard"
	"arbflow/internal/gateway"
	"arbflow/internal/health"
	"arbflow/internal/netx"
	"arbflow/internal/stream"
	"arbflow/internal/venue"
	"arbflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.Arbflow.Name,
		"version":     cfg.Arbflow.Version,
		"environment": env,
	}).Info("starting arbflow gateway")

	if config.IsProductionLike(env) && !cfg.Metrics.CloudWatch {
		log.WithComponent("main").Warn("running a production-like environment without metrics publishing")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" || cfg.Metrics.CloudWatch {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	budgets := netx.NewBudgetSet(log)
	for _, v := range cfg.Venues {
		budgets.Register(v.ID, v.RateLimit)
	}

	pool, err := netx.NewTransportPool(cfg.Gateway.Proxies, 10*time.Second)
	if err != nil {
		log.WithError(err).Error("failed to build transport pool")
		os.Exit(1)
	}
	client := netx.NewClient(log, budgets, pool, netx.NewFingerprintRotator(cfg.Gateway.UserAgents), cfg.Gateway.Retry, 10*time.Second)

	registry, err := venue.NewRegistry(cfg, client, log)
	if err != nil {
		log.WithError(err).Error("failed to build venue registry")
		os.Exit(1)
	}

	tracker := health.NewTracker(cfg.Gateway.Breaker, log)
	store := cache.New(log, cfg.Gateway.CacheTTL, cfg.Gateway.CacheSweep)
	gw := gateway.New(cfg.Gateway, registry, tracker, store, budgets, log)

	var wg sync.WaitGroup

	var streamReader *stream.Reader
	if cfg.Stream.Enabled {
		streamReader = stream.NewReader(cfg.Stream, cfg.Symbols, store, log)
		if err := streamReader.Start(ctx); err != nil {
			log.WithError(err).Warn("stream reader failed to start")
			streamReader = nil
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				drainUpdates(ctx, streamReader, log)
			}()
		}
	}

	apiServer := dashboard.NewServer(cfg.Dashboard, gw, log)
	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Run(ctx); err != nil {
				log.WithError(err).Error("control api server exited")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pollSnapshots(ctx, gw, cfg, log)
	}()

	log.WithComponent("main").WithFields(logger.Fields{
		"venues":  len(cfg.Venues),
		"symbols": cfg.Symbols,
	}).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if streamReader != nil {
		log.Info("stopping stream reader")
		streamReader.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("arbflow gateway stopped")
}

// pollSnapshots drives the aggregation loop: one snapshot per configured
// symbol every poll interval. Incomplete snapshots are logged and retried on
// the next tick; the loop itself never stops on venue trouble.
func pollSnapshots(ctx context.Context, gw *gateway.Gateway, cfg *config.Config, log *logger.Log) {
	interval := cfg.Gateway.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, symbol := range cfg.Symbols {
			snap, err := gw.GetSnapshot(ctx, symbol)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.WithComponent("poller").WithError(err).WithFields(logger.Fields{
					"symbol": symbol,
				}).Warn("snapshot failed")
				continue
			}

			entry := log.WithComponent("poller").WithFields(logger.Fields{
				"symbol":        snap.Symbol,
				"spot":          snap.SpotPrice,
				"futures":       snap.FuturesPrice,
				"basis_percent": snap.BasisPercent,
				"funding_rate":  snap.FundingRate,
				"served_by":     snap.ServedBy,
			})
			if snap.BasisPercent >= cfg.Thresholds.BasisPercentMin && cfg.Thresholds.BasisPercentMin > 0 {
				entry.Info("basis above threshold")
			} else {
				entry.Debug("snapshot collected")
			}
		}
	}
}

// drainUpdates consumes the websocket feed so the reader never has to drop on
// a full channel, and surfaces its liveness in the periodic report.
func drainUpdates(ctx context.Context, r *stream.Reader, log *logger.Log) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-r.Updates():
			if !ok {
				return
			}
			log.WithComponent("stream").WithFields(logger.Fields{
				"symbol": u.Symbol,
				"mark":   u.MarkPrice,
			}).Debug("mark price update")
		}
	}
}
